package liquidations

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"pynthchain/core/events"
	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

var (
	ErrAlreadyFlagged    = errors.New("liquidations: account already flagged for liquidation")
	ErrNotLiquidatable   = errors.New("liquidations: account collateral ratio below liquidation ratio")
	ErrAccountViewNotSet = errors.New("liquidations: account view not configured")
)

// Settings exposes the governance parameters the module reads.
type Settings interface {
	LiquidationRatio() *big.Int
	LiquidationPenalty() *big.Int
	LiquidationDelay() time.Duration
}

// AccountView is implemented by the issuer. Ratios are debt/collateral.
type AccountView interface {
	CollateralisationRatioAndAnyRatesInvalid(account crypto.Address) (*big.Int, bool)
	TargetRatio(account crypto.Address) (*big.Int, bool)
	CollateralValue(account crypto.Address) (*big.Int, bool)
}

// Manager tracks accounts flagged for liquidation and their deadlines.
type Manager struct {
	mu           sync.RWMutex
	orchestrator crypto.Address
	settings     Settings
	status       nativecommon.StatusView
	accounts     AccountView
	flags        map[crypto.Address]time.Time
	emitter      events.Emitter
	nowFn        func() time.Time
}

// New constructs the liquidation registry. orchestrator is the issuer.
func New(orchestrator crypto.Address, settings Settings, status nativecommon.StatusView) *Manager {
	return &Manager{
		orchestrator: orchestrator,
		settings:     settings,
		status:       status,
		flags:        make(map[crypto.Address]time.Time),
		emitter:      events.NoopEmitter{},
		nowFn:        time.Now,
	}
}

func (m *Manager) SetAccountView(view AccountView) {
	m.mu.Lock()
	m.accounts = view
	m.mu.Unlock()
}

func (m *Manager) SetEmitter(emitter events.Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

func (m *Manager) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	m.mu.Lock()
	m.nowFn = now
	m.mu.Unlock()
}

// FlagAccountForLiquidation opens the liquidation delay for an account whose
// ratio reached the liquidation ratio. Anyone may call it.
func (m *Manager) FlagAccountForLiquidation(account crypto.Address) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.Guard(m.status); err != nil {
		return time.Time{}, err
	}
	if m.accounts == nil {
		return time.Time{}, ErrAccountViewNotSet
	}
	if _, ok := m.flags[account]; ok {
		return time.Time{}, ErrAlreadyFlagged
	}
	ratio, invalid := m.accounts.CollateralisationRatioAndAnyRatesInvalid(account)
	if invalid {
		return time.Time{}, nativecommon.ErrRateInvalid
	}
	if ratio.Cmp(m.settings.LiquidationRatio()) < 0 {
		return time.Time{}, ErrNotLiquidatable
	}
	deadline := m.nowFn().Add(m.settings.LiquidationDelay()).UTC()
	m.flags[account] = deadline
	m.emitter.Emit(events.AccountFlagged{Account: account, Deadline: deadline})
	return deadline, nil
}

// IsFlagged reports whether the account carries a liquidation flag.
func (m *Manager) IsFlagged(account crypto.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.flags[account]
	return ok
}

// LiquidationDeadlineForAccount returns the flag deadline, if any.
func (m *Manager) LiquidationDeadlineForAccount(account crypto.Address) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deadline, ok := m.flags[account]
	return deadline, ok
}

// IsOpenForLiquidation is true once the deadline has passed and the ratio is
// still at or above the liquidation ratio.
func (m *Manager) IsOpenForLiquidation(account crypto.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deadline, ok := m.flags[account]
	if !ok || m.accounts == nil {
		return false
	}
	if !m.nowFn().After(deadline) {
		return false
	}
	ratio, _ := m.accounts.CollateralisationRatioAndAnyRatesInvalid(account)
	return ratio.Cmp(m.settings.LiquidationRatio()) >= 0
}

// CalculateAmountToFixCollateral returns the debt that must be burned, with
// the penalty paid out of collateral, for debt/collateral to fall to target:
// (debt - collateral*target) / (1 - (1+penalty)*target).
func (m *Manager) CalculateAmountToFixCollateral(debt, collateral, target *big.Int) *big.Int {
	return AmountToFixCollateral(debt, collateral, target, m.settings.LiquidationPenalty())
}

// AmountToFixCollateral is the closed form behind CalculateAmountToFixCollateral.
func AmountToFixCollateral(debt, collateral, target, penalty *big.Int) *big.Int {
	numerator := nativecommon.Sub(debt, nativecommon.MulDecimal(collateral, target))
	if numerator.Sign() <= 0 {
		return new(big.Int)
	}
	scaled := nativecommon.MulDecimal(nativecommon.Add(nativecommon.Unit, penalty), target)
	denominator := nativecommon.Sub(nativecommon.Unit, scaled)
	if denominator.Sign() <= 0 {
		return nativecommon.Copy(debt)
	}
	return nativecommon.DivDecimal(numerator, denominator)
}

// CheckAndRemoveAccountInLiquidation clears the flag when the account is back
// at or below its target ratio or has no collateral left. It does nothing
// for accounts without a flag, still undercollateralised, or whose ratio
// rests on invalid rates.
func (m *Manager) CheckAndRemoveAccountInLiquidation(account crypto.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flags[account]; !ok {
		return false, nil
	}
	if m.accounts == nil {
		return false, ErrAccountViewNotSet
	}
	ratio, invalid := m.accounts.CollateralisationRatioAndAnyRatesInvalid(account)
	if invalid {
		return false, nil
	}
	collateral, _ := m.accounts.CollateralValue(account)
	if collateral.Sign() == 0 {
		m.removeLocked(account, events.LiquidationRemovedEmpty)
		return true, nil
	}
	target, _ := m.accounts.TargetRatio(account)
	if ratio.Cmp(target) <= 0 {
		m.removeLocked(account, events.LiquidationRemovedFixed)
		return true, nil
	}
	return false, nil
}

// RemoveAccountInLiquidation clears a flag on behalf of the issuer. Removing a
// missing flag is a no-op.
func (m *Manager) RemoveAccountInLiquidation(caller, account crypto.Address, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.orchestrator); err != nil {
		return err
	}
	if _, ok := m.flags[account]; ok {
		m.removeLocked(account, reason)
	}
	return nil
}

func (m *Manager) removeLocked(account crypto.Address, reason string) {
	delete(m.flags, account)
	m.emitter.Emit(events.AccountUnflagged{Account: account, Reason: reason})
}

// Flagged returns the number of accounts currently flagged.
func (m *Manager) Flagged() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.flags)
}
