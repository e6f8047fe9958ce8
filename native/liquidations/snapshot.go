package liquidations

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"pynthchain/crypto"
)

type flagRecord struct {
	Account  crypto.Address
	Deadline uint64
}

// ExportState encodes the flags with RLP. Deadlines are stored as unix nanos.
func (m *Manager) ExportState() ([]byte, error) {
	m.mu.RLock()
	records := make([]flagRecord, 0, len(m.flags))
	for account, deadline := range m.flags {
		records = append(records, flagRecord{Account: account, Deadline: uint64(deadline.UnixNano())})
	}
	m.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool { return bytes.Compare(records[i].Account[:], records[j].Account[:]) < 0 })
	return rlp.EncodeToBytes(records)
}

func (m *Manager) ImportState(blob []byte) error {
	var records []flagRecord
	if err := rlp.DecodeBytes(blob, &records); err != nil {
		return fmt.Errorf("liquidations: decode snapshot: %w", err)
	}
	flags := make(map[crypto.Address]time.Time, len(records))
	for _, rec := range records {
		flags[rec.Account] = time.Unix(0, int64(rec.Deadline)).UTC()
	}
	m.mu.Lock()
	m.flags = flags
	m.mu.Unlock()
	return nil
}
