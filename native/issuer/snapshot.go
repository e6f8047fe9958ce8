package issuer

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"pynthchain/crypto"
)

type issueRecord struct {
	Account []byte
	At      uint64
}

type issuerSnapshot struct {
	Pynths    []string
	LastIssue []issueRecord
}

// ExportState encodes the pynth registry and last issuance times.
func (i *Issuer) ExportState() ([]byte, error) {
	i.mu.RLock()
	snap := issuerSnapshot{Pynths: append([]string(nil), i.pynths...)}
	for account, at := range i.lastIssue {
		snap.LastIssue = append(snap.LastIssue, issueRecord{Account: account.Bytes(), At: uint64(at.UnixNano())})
	}
	i.mu.RUnlock()
	sort.Slice(snap.LastIssue, func(a, b int) bool {
		return bytes.Compare(snap.LastIssue[a].Account, snap.LastIssue[b].Account) < 0
	})
	return rlp.EncodeToBytes(&snap)
}

// ImportState restores state produced by ExportState.
func (i *Issuer) ImportState(blob []byte) error {
	var snap issuerSnapshot
	if err := rlp.DecodeBytes(blob, &snap); err != nil {
		return fmt.Errorf("issuer: decode snapshot: %w", err)
	}
	last := make(map[crypto.Address]time.Time, len(snap.LastIssue))
	for _, rec := range snap.LastIssue {
		last[crypto.BytesToAddress(rec.Account)] = time.Unix(0, int64(rec.At)).UTC()
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(snap.Pynths) > 0 {
		i.pynths = snap.Pynths
	}
	i.lastIssue = last
	return nil
}
