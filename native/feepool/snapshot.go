package feepool

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"pynthchain/crypto"
)

type periodRecord struct {
	ID                  uint64
	StartingDebtIndex   uint64
	StartTime           uint64
	FeesToDistribute    *big.Int
	FeesClaimed         *big.Int
	RewardsToDistribute *big.Int
	RewardsClaimed      *big.Int
	FeesBurned          *big.Int
	NetworkDebtShare    *big.Int
	FeesCarried         *big.Int `rlp:"optional"`
}

type issuanceRecord struct {
	Ownership *big.Int
	DebtIndex uint64
}

type accountRecord struct {
	Account        []byte
	History        []issuanceRecord
	LastWithdrawal uint64
}

type poolSnapshot struct {
	Periods      []periodRecord
	NextPeriodID uint64
	Accounts     []accountRecord
	Recorders    [][]byte
}

func encodeTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func decodeTime(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}

// ExportState encodes the period ring, issuance histories and recorders.
func (p *Pool) ExportState() ([]byte, error) {
	p.mu.RLock()
	snap := poolSnapshot{NextPeriodID: p.nextPeriodID}
	for _, period := range p.periods {
		c := period.Clone()
		snap.Periods = append(snap.Periods, periodRecord{
			ID:                  c.ID,
			StartingDebtIndex:   c.StartingDebtIndex,
			StartTime:           encodeTime(c.StartTime),
			FeesToDistribute:    c.FeesToDistribute,
			FeesClaimed:         c.FeesClaimed,
			RewardsToDistribute: c.RewardsToDistribute,
			RewardsClaimed:      c.RewardsClaimed,
			FeesBurned:          c.FeesBurned,
			NetworkDebtShare:    c.NetworkDebtShare,
			FeesCarried:         c.FeesCarried,
		})
	}
	seen := make(map[crypto.Address]struct{})
	for account := range p.records {
		seen[account] = struct{}{}
	}
	for account := range p.lastWithdrawal {
		seen[account] = struct{}{}
	}
	for account := range seen {
		rec := accountRecord{Account: account.Bytes(), LastWithdrawal: p.lastWithdrawal[account]}
		for _, h := range p.records[account] {
			ownership := new(big.Int)
			if h.Ownership != nil {
				ownership.Set(h.Ownership)
			}
			rec.History = append(rec.History, issuanceRecord{Ownership: ownership, DebtIndex: h.DebtIndex})
		}
		snap.Accounts = append(snap.Accounts, rec)
	}
	for recorder := range p.recorders {
		snap.Recorders = append(snap.Recorders, recorder.Bytes())
	}
	p.mu.RUnlock()

	sort.Slice(snap.Accounts, func(a, b int) bool {
		return bytes.Compare(snap.Accounts[a].Account, snap.Accounts[b].Account) < 0
	})
	sort.Slice(snap.Recorders, func(a, b int) bool {
		return bytes.Compare(snap.Recorders[a], snap.Recorders[b]) < 0
	})
	return rlp.EncodeToBytes(&snap)
}

// ImportState restores state produced by ExportState. The ring length must
// match the pool's.
func (p *Pool) ImportState(blob []byte) error {
	var snap poolSnapshot
	if err := rlp.DecodeBytes(blob, &snap); err != nil {
		return fmt.Errorf("feepool: decode snapshot: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(snap.Periods) != len(p.periods) {
		return fmt.Errorf("%w: snapshot has %d periods, pool has %d", ErrInvalidPeriodLength, len(snap.Periods), len(p.periods))
	}
	periods := make([]FeePeriod, len(snap.Periods))
	for i, rec := range snap.Periods {
		periods[i] = FeePeriod{
			ID:                  rec.ID,
			StartingDebtIndex:   rec.StartingDebtIndex,
			StartTime:           decodeTime(rec.StartTime),
			FeesToDistribute:    rec.FeesToDistribute,
			FeesClaimed:         rec.FeesClaimed,
			RewardsToDistribute: rec.RewardsToDistribute,
			RewardsClaimed:      rec.RewardsClaimed,
			FeesBurned:          rec.FeesBurned,
			NetworkDebtShare:    rec.NetworkDebtShare,
			FeesCarried:         rec.FeesCarried,
		}.Clone()
	}
	records := make(map[crypto.Address][]IssuanceRecord)
	withdrawals := make(map[crypto.Address]uint64)
	for _, rec := range snap.Accounts {
		account := crypto.BytesToAddress(rec.Account)
		if rec.LastWithdrawal > 0 {
			withdrawals[account] = rec.LastWithdrawal
		}
		if len(rec.History) == 0 {
			continue
		}
		history := make([]IssuanceRecord, len(rec.History))
		for i, h := range rec.History {
			history[i] = IssuanceRecord{Ownership: h.Ownership, DebtIndex: h.DebtIndex}
		}
		records[account] = history
	}
	recorders := map[crypto.Address]struct{}{p.deps.Issuer: {}}
	for _, raw := range snap.Recorders {
		recorders[crypto.BytesToAddress(raw)] = struct{}{}
	}
	p.periods = periods
	p.nextPeriodID = snap.NextPeriodID
	p.records = records
	p.lastWithdrawal = withdrawals
	p.recorders = recorders
	return nil
}
