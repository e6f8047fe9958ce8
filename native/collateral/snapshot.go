package collateral

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

type engineRecord struct {
	Address []byte
	Name    string
}

type amountRecord struct {
	Key    string
	Amount *big.Int
}

type indexRecord struct {
	Key        string
	Cumulative *big.Int
	Updated    uint64
}

type managerSnapshot struct {
	Collaterals   []engineRecord
	Pynths        []string
	Shortable     []string
	Longs         []amountRecord
	Shorts        []amountRecord
	BorrowIndex   *big.Int
	BorrowUpdated uint64
	ShortIndexes  []indexRecord
	NextLoanID    uint64
}

func sortedAmounts(book map[string]*big.Int) []amountRecord {
	out := make([]amountRecord, 0, len(book))
	for key, amount := range book {
		out = append(out, amountRecord{Key: key, Amount: nativecommon.Copy(amount)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func fromUnixNano(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}

// ExportState encodes the manager with RLP.
func (m *Manager) ExportState() ([]byte, error) {
	m.mu.RLock()
	snap := managerSnapshot{
		Pynths:        sortedKeys(m.pynths),
		Shortable:     sortedKeys(m.shortable),
		Longs:         sortedAmounts(m.longs),
		Shorts:        sortedAmounts(m.shorts),
		BorrowIndex:   nativecommon.Copy(m.borrowIndex),
		BorrowUpdated: unixNano(m.borrowUpdated),
		NextLoanID:    m.nextLoanID,
	}
	for addr, name := range m.collaterals {
		snap.Collaterals = append(snap.Collaterals, engineRecord{Address: addr.Bytes(), Name: name})
	}
	for key, idx := range m.shortIndexes {
		snap.ShortIndexes = append(snap.ShortIndexes, indexRecord{Key: key, Cumulative: nativecommon.Copy(idx.cumulative), Updated: unixNano(idx.updated)})
	}
	m.mu.RUnlock()
	sort.Slice(snap.Collaterals, func(i, j int) bool { return snap.Collaterals[i].Name < snap.Collaterals[j].Name })
	sort.Slice(snap.ShortIndexes, func(i, j int) bool { return snap.ShortIndexes[i].Key < snap.ShortIndexes[j].Key })
	return rlp.EncodeToBytes(&snap)
}

// ImportState replaces the manager state. Rate parameters and the debt source
// are configuration and stay untouched.
func (m *Manager) ImportState(blob []byte) error {
	var snap managerSnapshot
	if err := rlp.DecodeBytes(blob, &snap); err != nil {
		return fmt.Errorf("collateral manager: decode snapshot: %w", err)
	}
	collaterals := make(map[crypto.Address]string, len(snap.Collaterals))
	for _, rec := range snap.Collaterals {
		collaterals[crypto.BytesToAddress(rec.Address)] = rec.Name
	}
	toSet := func(keys []string) map[string]struct{} {
		out := make(map[string]struct{}, len(keys))
		for _, key := range keys {
			out[key] = struct{}{}
		}
		return out
	}
	toBook := func(records []amountRecord) map[string]*big.Int {
		out := make(map[string]*big.Int, len(records))
		for _, rec := range records {
			out[rec.Key] = nativecommon.Copy(rec.Amount)
		}
		return out
	}
	indexes := make(map[string]*shortIndex, len(snap.ShortIndexes))
	for _, rec := range snap.ShortIndexes {
		indexes[rec.Key] = &shortIndex{cumulative: nativecommon.Copy(rec.Cumulative), updated: fromUnixNano(rec.Updated)}
	}
	next := snap.NextLoanID
	if next == 0 {
		next = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collaterals = collaterals
	m.pynths = toSet(snap.Pynths)
	m.shortable = toSet(snap.Shortable)
	m.longs = toBook(snap.Longs)
	m.shorts = toBook(snap.Shorts)
	m.borrowIndex = nativecommon.Copy(snap.BorrowIndex)
	m.borrowUpdated = fromUnixNano(snap.BorrowUpdated)
	if m.borrowUpdated.IsZero() {
		m.borrowUpdated = m.nowFn()
	}
	m.shortIndexes = indexes
	m.nextLoanID = next
	return nil
}

type loanRecord struct {
	ID              uint64
	Account         []byte
	Collateral      *big.Int
	Currency        string
	Amount          *big.Int
	Short           bool
	AccruedInterest *big.Int
	InterestIndex   *big.Int
	LastInteraction uint64
	Closed          bool
}

type engineSnapshot struct {
	Loans []loanRecord
}

// ExportState encodes every loan of the engine, ordered by id.
func (e *Engine) ExportState() ([]byte, error) {
	e.mu.RLock()
	snap := engineSnapshot{Loans: make([]loanRecord, 0, len(e.loans))}
	for _, loan := range e.loans {
		snap.Loans = append(snap.Loans, loanRecord{
			ID:              loan.ID,
			Account:         loan.Account.Bytes(),
			Collateral:      nativecommon.Copy(loan.Collateral),
			Currency:        loan.Currency,
			Amount:          nativecommon.Copy(loan.Amount),
			Short:           loan.Short,
			AccruedInterest: nativecommon.Copy(loan.AccruedInterest),
			InterestIndex:   nativecommon.Copy(loan.InterestIndex),
			LastInteraction: unixNano(loan.LastInteraction),
			Closed:          loan.Closed,
		})
	}
	e.mu.RUnlock()
	sort.Slice(snap.Loans, func(i, j int) bool { return snap.Loans[i].ID < snap.Loans[j].ID })
	return rlp.EncodeToBytes(&snap)
}

// ImportState replaces the engine's loan book.
func (e *Engine) ImportState(blob []byte) error {
	var snap engineSnapshot
	if err := rlp.DecodeBytes(blob, &snap); err != nil {
		return fmt.Errorf("collateral: decode snapshot: %w", err)
	}
	loans := make(map[uint64]*Loan, len(snap.Loans))
	accounts := make(map[crypto.Address][]uint64)
	for _, rec := range snap.Loans {
		account := crypto.BytesToAddress(rec.Account)
		loans[rec.ID] = &Loan{
			ID:              rec.ID,
			Account:         account,
			Collateral:      nativecommon.Copy(rec.Collateral),
			Currency:        rec.Currency,
			Amount:          nativecommon.Copy(rec.Amount),
			Short:           rec.Short,
			AccruedInterest: nativecommon.Copy(rec.AccruedInterest),
			InterestIndex:   nativecommon.Copy(rec.InterestIndex),
			LastInteraction: fromUnixNano(rec.LastInteraction),
			Closed:          rec.Closed,
		}
		accounts[account] = append(accounts[account], rec.ID)
	}
	e.mu.Lock()
	e.loans = loans
	e.accounts = accounts
	e.mu.Unlock()
	return nil
}
