package staking

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

type positionRecord struct {
	Account crypto.Address
	Token   string
	Amount  *big.Int
}

type stakeSnapshot struct {
	Positions []positionRecord
}

// ExportState encodes every staked position. Token definitions come from
// configuration and are not part of the snapshot.
func (m *Manager) ExportState() ([]byte, error) {
	m.mu.RLock()
	var snap stakeSnapshot
	for account, positions := range m.positions {
		for key, amount := range positions {
			snap.Positions = append(snap.Positions, positionRecord{Account: account, Token: key, Amount: nativecommon.Copy(amount)})
		}
	}
	m.mu.RUnlock()
	sort.Slice(snap.Positions, func(i, j int) bool {
		if c := bytes.Compare(snap.Positions[i].Account[:], snap.Positions[j].Account[:]); c != 0 {
			return c < 0
		}
		return snap.Positions[i].Token < snap.Positions[j].Token
	})
	return rlp.EncodeToBytes(&snap)
}

// ImportState replaces the positions with a snapshot and recomputes totals.
func (m *Manager) ImportState(blob []byte) error {
	var snap stakeSnapshot
	if err := rlp.DecodeBytes(blob, &snap); err != nil {
		return fmt.Errorf("staking: decode snapshot: %w", err)
	}
	positions := make(map[crypto.Address]map[string]*big.Int)
	totals := make(map[string]*big.Int)
	for _, rec := range snap.Positions {
		if !nativecommon.IsPositive(rec.Amount) {
			continue
		}
		if positions[rec.Account] == nil {
			positions[rec.Account] = make(map[string]*big.Int)
		}
		positions[rec.Account][rec.Token] = nativecommon.Copy(rec.Amount)
		totals[rec.Token] = nativecommon.Add(totals[rec.Token], rec.Amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.tokens {
		if _, ok := totals[key]; !ok {
			totals[key] = new(big.Int)
		}
	}
	m.positions = positions
	m.totals = totals
	return nil
}
