package debtledger

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

type issuanceRecord struct {
	Account   crypto.Address
	Ownership *big.Int
	Index     uint64
}

type ledgerSnapshot struct {
	Entries     []*big.Int
	Restarts    []uint64
	Issuance    []issuanceRecord
	IssuerCount uint64
}

// ExportState encodes the ledger with RLP. Accounts are sorted so equal
// ledgers encode identically.
func (l *Ledger) ExportState() ([]byte, error) {
	l.mu.RLock()
	snap := ledgerSnapshot{
		Entries:     make([]*big.Int, len(l.entries)),
		Restarts:    append([]uint64(nil), l.restarts...),
		Issuance:    make([]issuanceRecord, 0, len(l.issuance)),
		IssuerCount: l.issuerCount,
	}
	for i, entry := range l.entries {
		snap.Entries[i] = nativecommon.Copy(entry)
	}
	for account, data := range l.issuance {
		snap.Issuance = append(snap.Issuance, issuanceRecord{
			Account:   account,
			Ownership: nativecommon.Copy(data.InitialDebtOwnership),
			Index:     data.DebtEntryIndex,
		})
	}
	l.mu.RUnlock()
	sort.Slice(snap.Issuance, func(i, j int) bool {
		return bytes.Compare(snap.Issuance[i].Account[:], snap.Issuance[j].Account[:]) < 0
	})
	return rlp.EncodeToBytes(&snap)
}

// ImportState replaces the ledger with a snapshot produced by ExportState.
func (l *Ledger) ImportState(blob []byte) error {
	var snap ledgerSnapshot
	if err := rlp.DecodeBytes(blob, &snap); err != nil {
		return fmt.Errorf("debt ledger: decode snapshot: %w", err)
	}
	issuance := make(map[crypto.Address]IssuanceData, len(snap.Issuance))
	for _, rec := range snap.Issuance {
		if rec.Index > uint64(len(snap.Entries)) {
			return fmt.Errorf("debt ledger: snapshot index %d beyond %d entries", rec.Index, len(snap.Entries))
		}
		issuance[rec.Account] = IssuanceData{InitialDebtOwnership: nativecommon.Copy(rec.Ownership), DebtEntryIndex: rec.Index}
	}
	entries := make([]*big.Int, len(snap.Entries))
	for i, entry := range snap.Entries {
		entries[i] = nativecommon.Copy(entry)
	}
	l.mu.Lock()
	l.entries = entries
	l.restarts = snap.Restarts
	l.issuance = issuance
	l.issuerCount = snap.IssuerCount
	l.mu.Unlock()
	return nil
}
