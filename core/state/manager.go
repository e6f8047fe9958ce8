package state

import (
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"pynthchain/storage"
)

// Manager persists ledger state into a key-value database. Keys are hashed with
// Keccak256 so arbitrary namespaces share one flat keyspace; values are RLP
// encoded unless noted otherwise.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager backed by the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	paramPrefix    = "params/"
	snapshotPrefix = "snapshots/"
)

// ParamStoreKey returns the unhashed key used for a governance parameter.
func ParamStoreKey(name string) []byte {
	return []byte(paramPrefix + strings.TrimSpace(name))
}

// SnapshotKey returns the unhashed key used for a module snapshot.
func SnapshotKey(module string) []byte {
	return []byte(snapshotPrefix + strings.TrimSpace(module))
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) withDB() (storage.Database, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: manager unavailable")
	}
	return m.db, nil
}

func (m *Manager) getRaw(key []byte) ([]byte, bool, error) {
	db, err := m.withDB()
	if err != nil {
		return nil, false, err
	}
	data, err := db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, len(data) > 0, nil
}

// KVPut RLP-encodes value and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	db, err := m.withDB()
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return db.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.getRaw(key)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	return db.Delete(kvKey(key))
}

// ParamStoreSet stores a raw governance parameter payload.
func (m *Manager) ParamStoreSet(name string, value []byte) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("params: name must not be empty")
	}
	db, err := m.withDB()
	if err != nil {
		return err
	}
	return db.Put(kvKey(ParamStoreKey(name)), append([]byte(nil), value...))
}

// ParamStoreGet loads a raw governance parameter payload.
func (m *Manager) ParamStoreGet(name string) ([]byte, bool, error) {
	if strings.TrimSpace(name) == "" {
		return nil, false, fmt.Errorf("params: name must not be empty")
	}
	return m.getRaw(ParamStoreKey(name))
}

// PutSnapshot stores an already encoded module snapshot.
func (m *Manager) PutSnapshot(module string, blob []byte) error {
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("snapshot: module must not be empty")
	}
	db, err := m.withDB()
	if err != nil {
		return err
	}
	return db.Put(kvKey(SnapshotKey(module)), append([]byte(nil), blob...))
}

// Snapshot loads the encoded snapshot of a module.
func (m *Manager) Snapshot(module string) ([]byte, bool, error) {
	if strings.TrimSpace(module) == "" {
		return nil, false, fmt.Errorf("snapshot: module must not be empty")
	}
	return m.getRaw(SnapshotKey(module))
}
