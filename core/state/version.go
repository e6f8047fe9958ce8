package state

import (
	"errors"
	"fmt"
	"math"
)

// StateVersion identifies the expected on-disk schema layout of the ledger
// snapshots. Increment it whenever a snapshot encoding changes.
const StateVersion uint32 = 1

var (
	stateVersionKey = []byte("state/version")
	// ErrStateVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

// SetStateVersion records the provided schema version in state.
func (m *Manager) SetStateVersion(version uint32) error {
	if m == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	return m.KVPut(stateVersionKey, uint64(version))
}

// StateVersion returns the stored schema version and a boolean indicating
// whether the value was present.
func (m *Manager) StateVersion() (uint32, bool, error) {
	if m == nil {
		return 0, false, fmt.Errorf("state: manager unavailable")
	}
	var stored uint64
	ok, err := m.KVGet(stateVersionKey, &stored)
	if err != nil || !ok {
		return 0, ok, err
	}
	if stored > math.MaxUint32 {
		return 0, true, fmt.Errorf("state: stored version %d overflows", stored)
	}
	return uint32(stored), true, nil
}

// EnsureStateVersion writes the current version into an empty database and
// rejects databases written by an incompatible binary.
func (m *Manager) EnsureStateVersion() error {
	version, ok, err := m.StateVersion()
	if err != nil {
		return err
	}
	if !ok {
		return m.SetStateVersion(StateVersion)
	}
	if version != StateVersion {
		return fmt.Errorf("%w: stored %d, expected %d", ErrStateVersionMismatch, version, StateVersion)
	}
	return nil
}
