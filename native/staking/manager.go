package staking

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"pynthchain/core/events"
	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

var (
	ErrUnknownToken           = errors.New("staking: token not registered")
	ErrTokenExists            = errors.New("staking: token already registered")
	ErrInvalidToken           = errors.New("staking: invalid token definition")
	ErrInvalidAmount          = errors.New("staking: amount must be positive")
	ErrExceedsIssuingAmount   = errors.New("staking: staking amount exceeds issuing amount")
	ErrExceedsQuota           = errors.New("staking: staking amount exceeds quota limit")
	ErrInsufficientBalance    = errors.New("staking: insufficient token balance")
	ErrExceedsStaked          = errors.New("staking: amount exceeds staked balance")
	ErrInsufficientCollateral = errors.New("staking: remaining collateral cannot back the debt")
)

// Token is an external collateral accepted by the stake pool.
type Token struct {
	Key           string
	Decimals      uint8
	IssuanceRatio *big.Int
}

func (t Token) Clone() Token {
	t.IssuanceRatio = nativecommon.Copy(t.IssuanceRatio)
	return t
}

// Validate checks the token definition.
func (t Token) Validate() error {
	if strings.TrimSpace(t.Key) == "" {
		return fmt.Errorf("%w: key required", ErrInvalidToken)
	}
	if t.Key == nativecommon.PUSD || t.Key == nativecommon.PERI {
		return fmt.Errorf("%w: %s cannot be staked as external collateral", ErrInvalidToken, t.Key)
	}
	if t.Decimals > 36 {
		return fmt.Errorf("%w: decimals out of range", ErrInvalidToken)
	}
	if !nativecommon.IsPositive(t.IssuanceRatio) || t.IssuanceRatio.Cmp(nativecommon.Unit) > 0 {
		return fmt.Errorf("%w: issuance ratio must be within (0, 1]", ErrInvalidToken)
	}
	return nil
}

// Valuation is an account's staked external collateral at current rates.
// Value and IssuingValue are pUSD at unit scale.
type Valuation struct {
	Value        *big.Int
	IssuingValue *big.Int
	Invalid      bool
}

// Manager holds external tokens staked as collateral. Tokens sit at the pool
// address of the balance ledger while staked.
type Manager struct {
	mu           sync.RWMutex
	orchestrator crypto.Address
	pool         crypto.Address
	balances     nativecommon.Balances
	rates        nativecommon.RateView
	tokens       map[string]Token
	order        []string
	positions    map[crypto.Address]map[string]*big.Int
	totals       map[string]*big.Int
	emitter      events.Emitter
}

// New constructs a stake manager. Mutations are restricted to orchestrator.
func New(orchestrator, pool crypto.Address, balances nativecommon.Balances, rates nativecommon.RateView) *Manager {
	return &Manager{
		orchestrator: orchestrator,
		pool:         pool,
		balances:     balances,
		rates:        rates,
		tokens:       make(map[string]Token),
		positions:    make(map[crypto.Address]map[string]*big.Int),
		totals:       make(map[string]*big.Int),
		emitter:      events.NoopEmitter{},
	}
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

func (m *Manager) PoolAddress() crypto.Address { return m.pool }

// AddToken registers an external collateral.
func (m *Manager) AddToken(token Token) error {
	if err := token.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token.Key]; ok {
		return ErrTokenExists
	}
	m.tokens[token.Key] = token.Clone()
	m.order = append(m.order, token.Key)
	if _, ok := m.totals[token.Key]; !ok {
		m.totals[token.Key] = new(big.Int)
	}
	return nil
}

// Tokens returns the registered tokens in registration order.
func (m *Manager) Tokens() []Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Token, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.tokens[key].Clone())
	}
	return out
}

func (m *Manager) Token(key string) (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[key]
	if !ok {
		return Token{}, false
	}
	return t.Clone(), true
}

// StakedAmountOf returns the staked amount in the token's native decimals.
func (m *Manager) StakedAmountOf(account crypto.Address, key string) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stakedLocked(account, key)
}

func (m *Manager) stakedLocked(account crypto.Address, key string) *big.Int {
	return nativecommon.Copy(m.positions[account][key])
}

func (m *Manager) TotalStaked(key string) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return nativecommon.Copy(m.totals[key])
}

// HasStake reports whether the account has any token staked.
func (m *Manager) HasStake(account crypto.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, amount := range m.positions[account] {
		if amount.Sign() > 0 {
			return true
		}
	}
	return false
}

// tokenValue converts a native token amount into pUSD.
func tokenValue(token Token, amount, rate *big.Int) *big.Int {
	return nativecommon.MulDecimal(nativecommon.ToUnitScale(amount, token.Decimals), rate)
}

// Valuation values every staked token of the account.
func (m *Manager) Valuation(account crypto.Address) Valuation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.valuationLocked(account, "", nil)
}

// valuationLocked values the account's stake as if override replaced the
// staked amount of overrideKey.
func (m *Manager) valuationLocked(account crypto.Address, overrideKey string, override *big.Int) Valuation {
	out := Valuation{Value: new(big.Int), IssuingValue: new(big.Int)}
	for _, key := range m.order {
		amount := m.stakedLocked(account, key)
		if key == overrideKey && override != nil {
			amount = nativecommon.Copy(override)
		}
		if amount.Sign() == 0 {
			continue
		}
		rate, invalid := m.rates.RateAndInvalid(key)
		if invalid || !nativecommon.IsPositive(rate) {
			out.Invalid = true
			continue
		}
		token := m.tokens[key]
		value := tokenValue(token, amount, rate)
		out.Value.Add(out.Value, value)
		out.IssuingValue.Add(out.IssuingValue, nativecommon.MulDecimal(value, token.IssuanceRatio))
	}
	return out
}

// ProjectedValuation values the stake as if extra more of key were staked.
func (m *Manager) ProjectedValuation(account crypto.Address, key string, extra *big.Int) Valuation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.tokens[key]; !ok || !nativecommon.IsPositive(extra) {
		return m.valuationLocked(account, "", nil)
	}
	return m.valuationLocked(account, key, nativecommon.Add(m.stakedLocked(account, key), extra))
}

// TargetRatio blends the primary issuance ratio with the staked tokens'
// ratios: rp + (rE - rp) * min(E / (P + E), quota).
func (m *Manager) TargetRatio(account crypto.Address, primaryValue, primaryRatio, quota *big.Int) (*big.Int, bool) {
	v := m.Valuation(account)
	return BlendedRatio(v, primaryValue, primaryRatio, quota), v.Invalid
}

// BlendedRatio evaluates the target ratio for a valuation.
func BlendedRatio(v Valuation, primaryValue, primaryRatio, quota *big.Int) *big.Int {
	if !nativecommon.IsPositive(v.Value) {
		return nativecommon.Copy(primaryRatio)
	}
	externalRatio := nativecommon.DivDecimal(v.IssuingValue, v.Value)
	share := nativecommon.DivDecimal(v.Value, nativecommon.Add(primaryValue, v.Value))
	share = nativecommon.Min(share, quota)
	spread := nativecommon.Sub(externalRatio, primaryRatio)
	return nativecommon.Add(primaryRatio, nativecommon.MulDecimal(spread, share))
}

// Stake moves amount of key from account into the pool. debt is the account's
// debt after any accompanying issuance.
func (m *Manager) Stake(caller, account crypto.Address, key string, amount, debt, quota *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.orchestrator); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	if _, ok := m.tokens[key]; !ok {
		return ErrUnknownToken
	}
	next := nativecommon.Add(m.stakedLocked(account, key), amount)
	v := m.valuationLocked(account, key, next)
	if v.Invalid {
		return nativecommon.ErrRateInvalid
	}
	if err := CheckQuota(v.IssuingValue, debt, quota); err != nil {
		return err
	}
	if m.balances.BalanceOf(key, account).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return m.stakeLocked(account, key, amount)
}

// CheckQuota rejects an issuing value above the debt or above quota of it.
func CheckQuota(issuingValue, debt, quota *big.Int) error {
	if !nativecommon.IsPositive(debt) || issuingValue.Cmp(debt) > 0 {
		return ErrExceedsIssuingAmount
	}
	if nativecommon.DivDecimal(issuingValue, debt).Cmp(nativecommon.Copy(quota)) > 0 {
		return ErrExceedsQuota
	}
	return nil
}

func (m *Manager) stakeLocked(account crypto.Address, key string, amount *big.Int) error {
	if err := m.balances.Transfer(key, account, m.pool, amount); err != nil {
		return fmt.Errorf("staking: custody transfer: %w", err)
	}
	positions := m.positions[account]
	if positions == nil {
		positions = make(map[string]*big.Int)
		m.positions[account] = positions
	}
	positions[key] = nativecommon.Add(positions[key], amount)
	m.totals[key] = nativecommon.Add(m.totals[key], amount)
	m.emitter.Emit(events.TokenStaked{Account: account, Token: key, Amount: nativecommon.Copy(amount), Total: nativecommon.Copy(positions[key])})
	return nil
}

// StakeToMaxQuota stakes as much of key as the quota allows given debt, capped
// at the account's balance. It returns the staked native amount.
func (m *Manager) StakeToMaxQuota(caller, account crypto.Address, key string, debt, quota *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.orchestrator); err != nil {
		return nil, err
	}
	token, ok := m.tokens[key]
	if !ok {
		return nil, ErrUnknownToken
	}
	if !nativecommon.IsPositive(debt) {
		return nil, ErrExceedsIssuingAmount
	}
	v := m.valuationLocked(account, "", nil)
	rate, invalid := m.rates.RateAndInvalid(key)
	if v.Invalid || invalid || !nativecommon.IsPositive(rate) {
		return nil, nativecommon.ErrRateInvalid
	}
	room := nativecommon.Sub(nativecommon.MulDecimal(quota, debt), v.IssuingValue)
	if room.Sign() <= 0 {
		return nil, ErrExceedsQuota
	}
	value := nativecommon.DivDecimal(room, token.IssuanceRatio)
	amount := nativecommon.FromUnitScale(nativecommon.DivDecimal(value, rate), token.Decimals)
	amount = nativecommon.Min(amount, m.balances.BalanceOf(key, account))
	if amount.Sign() <= 0 {
		return nil, ErrInsufficientBalance
	}
	if err := m.stakeLocked(account, key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// Unstake returns amount of key to the account provided the remaining
// collateral still backs debt: primaryRatio*primaryValue + D_E' >= debt.
func (m *Manager) Unstake(caller, account crypto.Address, key string, amount, debt, primaryValue, primaryRatio *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.orchestrator); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	if _, ok := m.tokens[key]; !ok {
		return ErrUnknownToken
	}
	if err := m.checkUnstakeLocked(account, key, amount, debt, primaryValue, primaryRatio); err != nil {
		return err
	}
	return m.releaseLocked(account, account, key, amount)
}

// CheckUnstake runs the Unstake validation without moving tokens.
func (m *Manager) CheckUnstake(account crypto.Address, key string, amount, debt, primaryValue, primaryRatio *big.Int) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	if _, ok := m.tokens[key]; !ok {
		return ErrUnknownToken
	}
	return m.checkUnstakeLocked(account, key, amount, debt, primaryValue, primaryRatio)
}

func (m *Manager) checkUnstakeLocked(account crypto.Address, key string, amount, debt, primaryValue, primaryRatio *big.Int) error {
	staked := m.stakedLocked(account, key)
	if amount.Cmp(staked) > 0 {
		return ErrExceedsStaked
	}
	if !nativecommon.IsPositive(debt) {
		return nil
	}
	v := m.valuationLocked(account, key, nativecommon.Sub(staked, amount))
	if v.Invalid {
		return nativecommon.ErrRateInvalid
	}
	backing := nativecommon.Add(nativecommon.MulDecimal(primaryRatio, primaryValue), v.IssuingValue)
	if backing.Cmp(debt) < 0 {
		return ErrInsufficientCollateral
	}
	return nil
}

func (m *Manager) releaseLocked(account, recipient crypto.Address, key string, amount *big.Int) error {
	if err := m.balances.Transfer(key, m.pool, recipient, amount); err != nil {
		return fmt.Errorf("staking: release transfer: %w", err)
	}
	positions := m.positions[account]
	remaining := nativecommon.Sub(positions[key], amount)
	if remaining.Sign() == 0 {
		delete(positions, key)
		if len(positions) == 0 {
			delete(m.positions, account)
		}
	} else {
		positions[key] = remaining
	}
	m.totals[key] = nativecommon.Sub(m.totals[key], amount)
	m.emitter.Emit(events.TokenUnstaked{Account: account, Recipient: recipient, Token: key, Amount: nativecommon.Copy(amount), Remaining: remaining})
	return nil
}

// Redeem transfers up to usdValue worth of the account's staked tokens to
// recipient, walking tokens in registration order. It returns the value
// actually transferred.
func (m *Manager) Redeem(caller, account crypto.Address, usdValue *big.Int, recipient crypto.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.orchestrator); err != nil {
		return nil, err
	}
	if !nativecommon.IsPositive(usdValue) {
		return new(big.Int), nil
	}
	if m.valuationLocked(account, "", nil).Invalid {
		return nil, nativecommon.ErrRateInvalid
	}
	remaining := nativecommon.Copy(usdValue)
	redeemed := new(big.Int)
	for _, key := range append([]string(nil), m.order...) {
		if remaining.Sign() == 0 {
			break
		}
		staked := m.stakedLocked(account, key)
		if staked.Sign() == 0 {
			continue
		}
		token := m.tokens[key]
		rate, _ := m.rates.RateAndInvalid(key)
		value := tokenValue(token, staked, rate)
		amount := staked
		if value.Cmp(remaining) > 0 {
			amount = nativecommon.FromUnitScale(nativecommon.DivDecimal(remaining, rate), token.Decimals)
			amount = nativecommon.Min(amount, staked)
			// Native decimals truncate, value what actually moves.
			value = tokenValue(token, amount, rate)
		}
		if amount.Sign() == 0 {
			continue
		}
		if err := m.releaseLocked(account, recipient, key, amount); err != nil {
			return nil, err
		}
		redeemed.Add(redeemed, value)
		remaining = nativecommon.SubFloor(remaining, value)
	}
	return redeemed, nil
}
