package collateral

import (
	"errors"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

var (
	ErrUnknownCollateral = errors.New("collateral manager: caller is not a registered collateral")
	ErrPynthNotEnabled   = errors.New("collateral manager: pynth not enabled for loans")
	ErrNotShortable      = errors.New("collateral manager: pynth not shortable")
	ErrDebtLimit         = errors.New("collateral manager: debt limit reached")
	ErrInvalidRateParam  = errors.New("collateral manager: rate parameters must be non-negative")
)

const secondsPerYear = 31_536_000

// DebtSource reports the pUSD value of every pynth in circulation.
type DebtSource interface {
	TotalPynthSupplyValue() (*big.Int, bool)
}

// RateParams configures the interest curves. Rates are annual at unit scale.
type RateParams struct {
	BaseBorrowRate        *big.Int
	BaseShortRate         *big.Int
	UtilisationMultiplier *big.Int
	MaxSkewRate           *big.Int
}

func (p RateParams) Clone() RateParams {
	return RateParams{
		BaseBorrowRate:        nativecommon.Copy(p.BaseBorrowRate),
		BaseShortRate:         nativecommon.Copy(p.BaseShortRate),
		UtilisationMultiplier: nativecommon.Copy(p.UtilisationMultiplier),
		MaxSkewRate:           nativecommon.Copy(p.MaxSkewRate),
	}
}

func (p RateParams) validate() error {
	for _, v := range []*big.Int{p.BaseBorrowRate, p.BaseShortRate, p.UtilisationMultiplier, p.MaxSkewRate} {
		if v != nil && v.Sign() < 0 {
			return ErrInvalidRateParam
		}
	}
	return nil
}

type shortIndex struct {
	cumulative *big.Int
	updated    time.Time
}

// Manager is the registry shared by every collateral engine: enabled and
// shortable pynths, aggregate long and short exposure, the global debt cap,
// the cumulative interest indexes and the loan id sequence.
type Manager struct {
	mu          sync.RWMutex
	authority   crypto.Address
	balances    nativecommon.Balances
	rates       nativecommon.RateView
	debt        DebtSource
	collaterals map[crypto.Address]string
	pynths      map[string]struct{}
	shortable   map[string]struct{}
	longs       map[string]*big.Int
	shorts      map[string]*big.Int
	maxDebt     *big.Int
	params      RateParams

	borrowIndex   *big.Int
	borrowUpdated time.Time
	shortIndexes  map[string]*shortIndex
	nextLoanID    uint64
	nowFn         func() time.Time
}

// NewManager constructs a manager. maxDebt caps the pUSD value of all loans;
// nil or zero disables the cap.
func NewManager(authority crypto.Address, balances nativecommon.Balances, rates nativecommon.RateView, maxDebt *big.Int, params RateParams) (*Manager, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		authority:    authority,
		balances:     balances,
		rates:        rates,
		collaterals:  make(map[crypto.Address]string),
		pynths:       make(map[string]struct{}),
		shortable:    make(map[string]struct{}),
		longs:        make(map[string]*big.Int),
		shorts:       make(map[string]*big.Int),
		maxDebt:      nativecommon.Copy(maxDebt),
		params:       params.Clone(),
		borrowIndex:  new(big.Int),
		shortIndexes: make(map[string]*shortIndex),
		nextLoanID:   1,
		nowFn:        time.Now,
	}
	m.borrowUpdated = m.nowFn()
	return m, nil
}

func (m *Manager) SetDebtSource(src DebtSource) {
	m.mu.Lock()
	m.debt = src
	m.mu.Unlock()
}

// SetClock overrides the time source and restarts the index clocks.
func (m *Manager) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFn = now
	m.borrowUpdated = now()
	for _, idx := range m.shortIndexes {
		idx.updated = now()
	}
}

// AddCollaterals registers engine addresses allowed to move aggregates.
func (m *Manager) AddCollaterals(caller crypto.Address, engines map[crypto.Address]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.authority); err != nil {
		return err
	}
	for addr, name := range engines {
		m.collaterals[addr] = name
	}
	return nil
}

func (m *Manager) IsCollateral(addr crypto.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collaterals[addr]
	return ok
}

// AddPynths enables pynths for long loans.
func (m *Manager) AddPynths(caller crypto.Address, keys ...string) error {
	return m.toggle(caller, false, keys, true)
}

func (m *Manager) RemovePynths(caller crypto.Address, keys ...string) error {
	return m.toggle(caller, false, keys, false)
}

// AddShortablePynths enables pynths for short loans.
func (m *Manager) AddShortablePynths(caller crypto.Address, keys ...string) error {
	return m.toggle(caller, true, keys, true)
}

func (m *Manager) RemoveShortablePynths(caller crypto.Address, keys ...string) error {
	return m.toggle(caller, true, keys, false)
}

func (m *Manager) toggle(caller crypto.Address, short bool, keys []string, enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, m.authority); err != nil {
		return err
	}
	set := m.pynths
	if short {
		set = m.shortable
	}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if enable {
			set[key] = struct{}{}
		} else {
			delete(set, key)
		}
	}
	return nil
}

func (m *Manager) IsPynthEnabled(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pynths[key]
	return ok
}

func (m *Manager) IsShortable(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.shortable[key]
	return ok
}

// Pynths returns the enabled pynths, sorted.
func (m *Manager) Pynths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.pynths)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// NextLoanID hands out loan ids shared across engines. Ids start at 1.
func (m *Manager) NextLoanID(caller crypto.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireCollateralLocked(caller); err != nil {
		return 0, err
	}
	id := m.nextLoanID
	m.nextLoanID++
	return id, nil
}

func (m *Manager) requireCollateralLocked(caller crypto.Address) error {
	if _, ok := m.collaterals[caller]; !ok || caller.IsZero() {
		return ErrUnknownCollateral
	}
	return nil
}

func (m *Manager) Long(key string) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return nativecommon.Copy(m.longs[key])
}

func (m *Manager) Short(key string) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return nativecommon.Copy(m.shorts[key])
}

func (m *Manager) IncrementLongs(caller crypto.Address, key string, amount *big.Int) error {
	return m.adjust(caller, false, key, amount, true)
}

func (m *Manager) DecrementLongs(caller crypto.Address, key string, amount *big.Int) error {
	return m.adjust(caller, false, key, amount, false)
}

func (m *Manager) IncrementShorts(caller crypto.Address, key string, amount *big.Int) error {
	return m.adjust(caller, true, key, amount, true)
}

func (m *Manager) DecrementShorts(caller crypto.Address, key string, amount *big.Int) error {
	return m.adjust(caller, true, key, amount, false)
}

func (m *Manager) adjust(caller crypto.Address, short bool, key string, amount *big.Int, increase bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireCollateralLocked(caller); err != nil {
		return err
	}
	book := m.longs
	if short {
		book = m.shorts
	}
	if nativecommon.IsZero(amount) {
		return nil
	}
	if increase {
		book[key] = nativecommon.Add(book[key], amount)
		return nil
	}
	book[key] = nativecommon.SubFloor(book[key], amount)
	return nil
}

// TotalLongAndShort values every open loan in pUSD.
func (m *Manager) TotalLongAndShort() (*big.Int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalLongAndShortLocked()
}

func (m *Manager) totalLongAndShortLocked() (*big.Int, bool) {
	total := new(big.Int)
	anyInvalid := false
	for _, book := range []map[string]*big.Int{m.longs, m.shorts} {
		for key, amount := range book {
			if amount.Sign() == 0 {
				continue
			}
			value, invalid := nativecommon.EffectiveValue(m.rates, key, amount, nativecommon.PUSD)
			total.Add(total, value)
			anyInvalid = anyInvalid || invalid
		}
	}
	return total, anyInvalid
}

// ExceedsDebtLimit reports whether opening amount of currency would push the
// loan book over the global cap.
func (m *Manager) ExceedsDebtLimit(amount *big.Int, currency string) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total, invalid := m.totalLongAndShortLocked()
	value, invalidNew := nativecommon.EffectiveValue(m.rates, currency, amount, nativecommon.PUSD)
	if !nativecommon.IsPositive(m.maxDebt) {
		return false, invalid || invalidNew
	}
	return total.Add(total, value).Cmp(m.maxDebt) > 0, invalid || invalidNew
}

// Utilisation is loan backed debt over all pynth debt, capped at one.
func (m *Manager) Utilisation() (*big.Int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.utilisationLocked()
}

func (m *Manager) utilisationLocked() (*big.Int, bool) {
	loans, invalid := m.totalLongAndShortLocked()
	if m.debt == nil || loans.Sign() == 0 {
		return new(big.Int), invalid
	}
	total, invalidTotal := m.debt.TotalPynthSupplyValue()
	if !nativecommon.IsPositive(total) {
		return new(big.Int), invalid || invalidTotal
	}
	return nativecommon.Min(nativecommon.DivDecimal(loans, total), nativecommon.Unit), invalid || invalidTotal
}

// BorrowRate returns the annual borrow rate: base + utilisation * multiplier.
func (m *Manager) BorrowRate() (*big.Int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.borrowRateLocked()
}

func (m *Manager) borrowRateLocked() (*big.Int, bool) {
	util, invalid := m.utilisationLocked()
	return nativecommon.Add(m.params.BaseBorrowRate, nativecommon.MulDecimal(util, m.params.UtilisationMultiplier)), invalid
}

// ShortRate returns the annual short rate for key: base + skew * maxSkewRate
// where skew = (short - long) / (short + long), zero while longs dominate.
func (m *Manager) ShortRate(key string) (*big.Int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shortRateLocked(key)
}

func (m *Manager) shortRateLocked(key string) (*big.Int, bool) {
	_, invalid := m.rates.RateAndInvalid(key)
	base := nativecommon.Copy(m.params.BaseShortRate)
	long := m.balances.TotalSupply(key)
	short := nativecommon.Copy(m.shorts[key])
	if long.Cmp(short) >= 0 {
		return base, invalid
	}
	skew := nativecommon.DivDecimal(nativecommon.Sub(short, long), nativecommon.Add(short, long))
	return base.Add(base, nativecommon.MulDecimal(skew, m.params.MaxSkewRate)), invalid
}

func perSecond(annual *big.Int) *big.Int {
	return new(big.Int).Quo(annual, big.NewInt(secondsPerYear))
}

func elapsedSeconds(from, to time.Time) int64 {
	if !to.After(from) {
		return 0
	}
	return int64(to.Sub(from) / time.Second)
}

// AccrueBorrowIndex advances the cumulative borrow index to now and returns it.
func (m *Manager) AccrueBorrowIndex() (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	if secs := elapsedSeconds(m.borrowUpdated, now); secs > 0 {
		rate, invalid := m.borrowRateLocked()
		if invalid {
			return nil, nativecommon.ErrRateInvalid
		}
		step := new(big.Int).Mul(perSecond(rate), big.NewInt(secs))
		m.borrowIndex = nativecommon.Add(m.borrowIndex, step)
		m.borrowUpdated = m.borrowUpdated.Add(time.Duration(secs) * time.Second)
	}
	return nativecommon.Copy(m.borrowIndex), nil
}

// AccrueShortIndex advances the cumulative short index of key to now.
func (m *Manager) AccrueShortIndex(key string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	idx, ok := m.shortIndexes[key]
	if !ok {
		idx = &shortIndex{cumulative: new(big.Int), updated: now}
		m.shortIndexes[key] = idx
	}
	if secs := elapsedSeconds(idx.updated, now); secs > 0 {
		rate, invalid := m.shortRateLocked(key)
		if invalid {
			return nil, nativecommon.ErrRateInvalid
		}
		step := new(big.Int).Mul(perSecond(rate), big.NewInt(secs))
		idx.cumulative = nativecommon.Add(idx.cumulative, step)
		idx.updated = idx.updated.Add(time.Duration(secs) * time.Second)
	}
	return nativecommon.Copy(idx.cumulative), nil
}
