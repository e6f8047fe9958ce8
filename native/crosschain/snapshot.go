package crosschain

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	nativecommon "pynthchain/native/common"
)

type networkRecord struct {
	NetworkID  uint64
	IssuedDebt *big.Int
	ActiveDebt *big.Int
	Version    uint64
	ReportID   string
	UpdatedAt  uint64
}

type appliedRecord struct {
	ID     string
	Digest [32]byte
}

type managerSnapshot struct {
	SelfIssued *big.Int
	Networks   []networkRecord
	Applied    []appliedRecord
}

// ExportState encodes the manager with RLP.
func (m *Manager) ExportState() ([]byte, error) {
	m.mu.RLock()
	snap := managerSnapshot{SelfIssued: nativecommon.Copy(m.selfIssued)}
	for _, n := range m.networks {
		snap.Networks = append(snap.Networks, networkRecord{
			NetworkID:  n.NetworkID,
			IssuedDebt: nativecommon.Copy(n.IssuedDebt),
			ActiveDebt: nativecommon.Copy(n.ActiveDebt),
			Version:    n.Version,
			ReportID:   n.ReportID,
			UpdatedAt:  uint64(n.UpdatedAt.Unix()),
		})
	}
	for _, id := range m.appliedOrder {
		snap.Applied = append(snap.Applied, appliedRecord{ID: id, Digest: m.applied[id]})
	}
	m.mu.RUnlock()
	sort.Slice(snap.Networks, func(i, j int) bool { return snap.Networks[i].NetworkID < snap.Networks[j].NetworkID })
	return rlp.EncodeToBytes(&snap)
}

// ImportState replaces the manager state with a snapshot from ExportState.
func (m *Manager) ImportState(blob []byte) error {
	var snap managerSnapshot
	if err := rlp.DecodeBytes(blob, &snap); err != nil {
		return fmt.Errorf("crosschain: decode snapshot: %w", err)
	}
	networks := make(map[uint64]*NetworkDebt, len(snap.Networks))
	for _, rec := range snap.Networks {
		networks[rec.NetworkID] = &NetworkDebt{
			NetworkID:  rec.NetworkID,
			IssuedDebt: nativecommon.Copy(rec.IssuedDebt),
			ActiveDebt: nativecommon.Copy(rec.ActiveDebt),
			Version:    rec.Version,
			ReportID:   rec.ReportID,
			UpdatedAt:  time.Unix(int64(rec.UpdatedAt), 0).UTC(),
		}
	}
	applied := make(map[string][32]byte, len(snap.Applied))
	order := make([]string, 0, len(snap.Applied))
	for _, rec := range snap.Applied {
		applied[rec.ID] = rec.Digest
		order = append(order, rec.ID)
	}
	m.mu.Lock()
	m.selfIssued = nativecommon.Copy(snap.SelfIssued)
	m.networks = networks
	m.applied = applied
	m.appliedOrder = order
	m.mu.Unlock()
	return nil
}
