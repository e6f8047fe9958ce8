package debtledger

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"pynthchain/core/events"
	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

var (
	ErrInvalidAmount    = errors.New("debt ledger: amount must be positive")
	ErrEntryOutOfRange  = errors.New("debt ledger: entry index out of range")
	ErrNoDebt           = errors.New("debt ledger: account has no debt")
	ErrBurnExceedsDebt  = errors.New("debt ledger: burn exceeds existing debt")
	ErrTotalBelowAmount = errors.New("debt ledger: burn exceeds total debt")
	ErrInvalidDelta     = errors.New("debt ledger: delta must be positive")
)

// IssuanceData is an account's debt snapshot: its share of the pool at the
// time of its last issuance or burn and the ledger index at that time.
type IssuanceData struct {
	InitialDebtOwnership *big.Int
	DebtEntryIndex       uint64
}

func (d IssuanceData) Clone() IssuanceData {
	return IssuanceData{InitialDebtOwnership: nativecommon.Copy(d.InitialDebtOwnership), DebtEntryIndex: d.DebtEntryIndex}
}

// Ledger is the append-only log of cumulative debt factors plus the per
// account snapshots. Every factor is a precise (1e27) fraction equal to the
// product of old/new total debt ratios since the last restart.
type Ledger struct {
	mu           sync.RWMutex
	orchestrator crypto.Address
	entries      []*big.Int
	restarts     []uint64
	issuance     map[crypto.Address]IssuanceData
	issuerCount  uint64
	emitter      events.Emitter
}

// New constructs an empty ledger whose mutations are restricted to the
// orchestrator address.
func New(orchestrator crypto.Address) *Ledger {
	return &Ledger{
		orchestrator: orchestrator,
		issuance:     make(map[crypto.Address]IssuanceData),
		emitter:      events.NoopEmitter{},
	}
}

// SetEmitter configures the event sink for appended entries.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) Orchestrator() crypto.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.orchestrator
}

// Length returns the number of ledger entries.
func (l *Ledger) Length() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.entries))
}

// Entry returns the cumulative factor stored at index.
func (l *Ledger) Entry(index uint64) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index >= uint64(len(l.entries)) {
		return nil, ErrEntryOutOfRange
	}
	return nativecommon.Copy(l.entries[index]), nil
}

// LastEntry returns the latest factor or zero for an empty ledger.
func (l *Ledger) LastEntry() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastLocked()
}

func (l *Ledger) lastLocked() *big.Int {
	if len(l.entries) == 0 {
		return new(big.Int)
	}
	return nativecommon.Copy(l.entries[len(l.entries)-1])
}

func (l *Ledger) IssuanceData(account crypto.Address) IssuanceData {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.issuance[account].Clone()
}

// HasIssued reports whether the account currently owns a share of the pool.
func (l *Ledger) HasIssued(account crypto.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentOwnershipLocked(account).Sign() > 0
}

func (l *Ledger) TotalIssuerCount() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.issuerCount
}

// AppendDelta appends last*delta as the next cumulative factor. The first entry
// of an empty ledger is the precise unit regardless of delta.
func (l *Ledger) AppendDelta(caller crypto.Address, delta *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, l.orchestrator); err != nil {
		return err
	}
	if !nativecommon.IsPositive(delta) {
		return ErrInvalidDelta
	}
	l.appendLocked(delta)
	return nil
}

func (l *Ledger) appendLocked(delta *big.Int) {
	var next *big.Int
	if len(l.entries) == 0 {
		next = nativecommon.Copy(nativecommon.PreciseUnit)
	} else {
		next = nativecommon.MulPreciseRound(l.lastLocked(), delta)
	}
	l.entries = append(l.entries, next)
	l.emitter.Emit(events.DebtEntryAppended{Index: uint64(len(l.entries) - 1), Factor: nativecommon.Copy(next)})
}

// restartLocked starts a new epoch of the ledger: the next factor is the
// precise unit and snapshots taken before it no longer own any debt.
func (l *Ledger) restartLocked() {
	index := uint64(len(l.entries))
	l.entries = append(l.entries, nativecommon.Copy(nativecommon.PreciseUnit))
	l.restarts = append(l.restarts, index)
	l.issuerCount = 0
	l.emitter.Emit(events.DebtEntryAppended{Index: index, Factor: nativecommon.Copy(nativecommon.PreciseUnit)})
}

// Snapshot records ownership at the current ledger length for account.
func (l *Ledger) Snapshot(caller crypto.Address, account crypto.Address, ownership *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, l.orchestrator); err != nil {
		return err
	}
	l.snapshotLocked(account, ownership)
	return nil
}

func (l *Ledger) snapshotLocked(account crypto.Address, ownership *big.Int) {
	l.issuance[account] = IssuanceData{
		InitialDebtOwnership: nativecommon.Copy(ownership),
		DebtEntryIndex:       uint64(len(l.entries)),
	}
}

// RestartedBetween reports whether the ledger restarted after from and at or
// before to. Ownership recorded at from is void at to when it did.
func (l *Ledger) RestartedBetween(from, to uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.restartedBetweenLocked(from, to)
}

func (l *Ledger) restartedBetweenLocked(from, to uint64) bool {
	idx := sort.Search(len(l.restarts), func(i int) bool { return l.restarts[i] > from })
	return idx < len(l.restarts) && l.restarts[idx] <= to
}

// EffectiveOwnership scales an ownership snapshot taken at entryIndex to the
// factor at atIndex. The result is precise.
func (l *Ledger) EffectiveOwnership(ownership *big.Int, entryIndex, atIndex uint64) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.effectiveOwnershipLocked(ownership, entryIndex, atIndex)
}

func (l *Ledger) effectiveOwnershipLocked(ownership *big.Int, entryIndex, atIndex uint64) (*big.Int, error) {
	if !nativecommon.IsPositive(ownership) {
		return new(big.Int), nil
	}
	n := uint64(len(l.entries))
	if entryIndex >= n || atIndex >= n {
		return nil, ErrEntryOutOfRange
	}
	if atIndex < entryIndex || l.restartedBetweenLocked(entryIndex, atIndex) {
		return new(big.Int), nil
	}
	scale := nativecommon.DivPreciseRound(l.entries[atIndex], l.entries[entryIndex])
	return nativecommon.MulPreciseRound(scale, ownership), nil
}

// CurrentDebtOwnership returns the account's present share of the pool as a
// precise fraction.
func (l *Ledger) CurrentDebtOwnership(account crypto.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentOwnershipLocked(account)
}

func (l *Ledger) currentOwnershipLocked(account crypto.Address) *big.Int {
	data := l.issuance[account]
	if len(l.entries) == 0 {
		return new(big.Int)
	}
	ownership, err := l.effectiveOwnershipLocked(data.InitialDebtOwnership, data.DebtEntryIndex, uint64(len(l.entries)-1))
	if err != nil {
		return new(big.Int)
	}
	return ownership
}

// DebtBalance returns the account's debt given the pool's total debt, rounded
// half up to unit scale.
func (l *Ledger) DebtBalance(account crypto.Address, totalDebt *big.Int) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.debtBalanceLocked(account, totalDebt)
}

func (l *Ledger) debtBalanceLocked(account crypto.Address, totalDebt *big.Int) *big.Int {
	ownership := l.currentOwnershipLocked(account)
	if ownership.Sign() == 0 || !nativecommon.IsPositive(totalDebt) {
		return new(big.Int)
	}
	precise := nativecommon.MulPreciseRound(nativecommon.DecimalToPrecise(totalDebt), ownership)
	return nativecommon.PreciseToDecimal(precise)
}

// Register adds amount of new debt for account. existingDebt is the account's
// debt and totalDebt the pool total, both measured before the issuance.
func (l *Ledger) Register(caller, account crypto.Address, amount, existingDebt, totalDebt *big.Int) (IssuanceData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, l.orchestrator); err != nil {
		return IssuanceData{}, err
	}
	if !nativecommon.IsPositive(amount) {
		return IssuanceData{}, ErrInvalidAmount
	}
	hadDebt := l.currentOwnershipLocked(account).Sign() > 0 && nativecommon.IsPositive(existingDebt)
	if !nativecommon.IsPositive(totalDebt) {
		// The pool is empty: restart so stale snapshots lose their share and the
		// issuer owns the whole pool.
		l.snapshotLocked(account, nativecommon.PreciseUnit)
		l.restartLocked()
		l.issuerCount = 1
		return l.issuance[account].Clone(), nil
	}

	newTotal := nativecommon.Add(totalDebt, amount)
	debtPercentage := nativecommon.DivPreciseRound(amount, newTotal)
	delta := nativecommon.Sub(nativecommon.PreciseUnit, debtPercentage)
	if hadDebt {
		debtPercentage = nativecommon.DivPreciseRound(nativecommon.Add(amount, existingDebt), newTotal)
	} else {
		l.issuerCount++
	}
	l.snapshotLocked(account, debtPercentage)
	l.appendLocked(delta)
	return l.issuance[account].Clone(), nil
}

// Deregister removes amount of debt from account. existingDebt and totalDebt
// are measured before the burn.
func (l *Ledger) Deregister(caller, account crypto.Address, amount, existingDebt, totalDebt *big.Int) (IssuanceData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, l.orchestrator); err != nil {
		return IssuanceData{}, err
	}
	if !nativecommon.IsPositive(amount) {
		return IssuanceData{}, ErrInvalidAmount
	}
	if !nativecommon.IsPositive(existingDebt) {
		return IssuanceData{}, ErrNoDebt
	}
	if amount.Cmp(existingDebt) > 0 {
		return IssuanceData{}, ErrBurnExceedsDebt
	}
	if amount.Cmp(nativecommon.Copy(totalDebt)) > 0 {
		return IssuanceData{}, ErrTotalBelowAmount
	}

	newTotal := nativecommon.Sub(totalDebt, amount)
	if newTotal.Sign() == 0 {
		l.clearLocked(account)
		l.restartLocked()
		return l.issuance[account].Clone(), nil
	}
	delta := nativecommon.Add(nativecommon.PreciseUnit, nativecommon.DivPreciseRound(amount, newTotal))
	if amount.Cmp(existingDebt) == 0 {
		l.clearLocked(account)
	} else {
		remaining := nativecommon.Sub(existingDebt, amount)
		l.snapshotLocked(account, nativecommon.DivPreciseRound(remaining, newTotal))
	}
	l.appendLocked(delta)
	return l.issuance[account].Clone(), nil
}

func (l *Ledger) clearLocked(account crypto.Address) {
	if l.currentOwnershipLocked(account).Sign() > 0 && l.issuerCount > 0 {
		l.issuerCount--
	}
	l.snapshotLocked(account, new(big.Int))
}
