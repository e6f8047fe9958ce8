package collateral

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"pynthchain/core/events"
	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

var (
	ErrInvalidConfig          = errors.New("collateral: invalid configuration")
	ErrInvalidAmount          = errors.New("collateral: amount must be positive")
	ErrCannotOpenLoans        = errors.New("collateral: opening loans is disabled")
	ErrLoanTypeMismatch       = errors.New("collateral: loan type not supported by this collateral")
	ErrCurrencyNotSupported   = errors.New("collateral: currency not supported")
	ErrCollateralBelowMinimum = errors.New("collateral: collateral below minimum")
	ErrExceedsMaxLoan         = errors.New("collateral: exceeds max borrowing power")
	ErrCollateralDebtLimit    = errors.New("collateral: collateral type debt limit reached")
	ErrLoanNotFound           = errors.New("collateral: loan not found")
	ErrLoanClosed             = errors.New("collateral: loan is closed")
	ErrRecentlyInteracted     = errors.New("collateral: loan recently interacted with")
	ErrBelowMinCratio         = errors.New("collateral: collateral ratio below minimum")
	ErrPaymentExceedsDebt     = errors.New("collateral: payment exceeds loan debt")
	ErrInsufficientCollateral = errors.New("collateral: insufficient collateral")
	ErrInsufficientBalance    = errors.New("collateral: insufficient balance")
	ErrNotLiquidatable        = errors.New("collateral: loan collateral ratio above minimum")
	ErrCollateralNotPynth     = errors.New("collateral: collateral is not pUSD")
)

// FeeRecorder receives the pUSD fees paid by loans.
type FeeRecorder interface {
	RecordFeePaid(caller crypto.Address, amount *big.Int) error
}

// ExchangeFees exposes the fee charged on collateral exchanges.
type ExchangeFees interface {
	ExchangeFeeRate() *big.Int
}

// Deps wires an engine to its collaborators.
type Deps struct {
	Manager    *Manager
	Balances   nativecommon.Balances
	Rates      nativecommon.RateView
	Status     nativecommon.StatusView
	Fees       FeeRecorder
	FeeAddress crypto.Address
	Settings   ExchangeFees
}

// Engine runs the loan state machine of one collateral type. Collateral is
// custodied at the engine address of the balance ledger.
type Engine struct {
	mu       sync.RWMutex
	cfg      Config
	address  crypto.Address
	deps     Deps
	loans    map[uint64]*Loan
	accounts map[crypto.Address][]uint64
	emitter  events.Emitter
	nowFn    func() time.Time
}

// NewEngine validates the configuration and constructs an engine.
func NewEngine(cfg Config, address crypto.Address, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Manager == nil || deps.Balances == nil || deps.Rates == nil {
		return nil, fmt.Errorf("%w: manager, balances and rates are required", ErrInvalidConfig)
	}
	return &Engine{
		cfg:      cfg.Clone(),
		address:  address,
		deps:     deps,
		loans:    make(map[uint64]*Loan),
		accounts: make(map[crypto.Address][]uint64),
		emitter:  events.NoopEmitter{},
		nowFn:    time.Now,
	}, nil
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	e.mu.Lock()
	e.nowFn = now
	e.mu.Unlock()
}

func (e *Engine) Config() Config          { return e.cfg.Clone() }
func (e *Engine) Name() string            { return e.cfg.Name }
func (e *Engine) Address() crypto.Address { return e.address }

// Loan returns a copy of the loan.
func (e *Engine) Loan(id uint64) (Loan, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	loan, ok := e.loans[id]
	if !ok {
		return Loan{}, false
	}
	return loan.Clone(), true
}

// LoansOf returns the account's loans ordered by id, closed ones included.
func (e *Engine) LoansOf(account crypto.Address) []Loan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := append([]uint64(nil), e.accounts[account]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Loan, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.loans[id].Clone())
	}
	return out
}

// CollateralRatio values the loan at current rates.
func (e *Engine) CollateralRatio(id uint64) (*big.Int, bool, error) {
	loan, ok := e.Loan(id)
	if !ok {
		return nil, false, ErrLoanNotFound
	}
	ratio, invalid := CollateralRatio(e.deps.Rates, e.cfg, loan)
	return ratio, invalid, nil
}

// MaxLoan is the borrowing power of collateral for currency.
func (e *Engine) MaxLoan(collateral *big.Int, currency string) (*big.Int, bool) {
	return MaxLoan(e.deps.Rates, e.cfg, collateral, currency)
}

// TotalDebtValue values the principal of every open loan in pUSD.
func (e *Engine) TotalDebtValue() (*big.Int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalDebtValueLocked()
}

func (e *Engine) totalDebtValueLocked() (*big.Int, bool) {
	total := new(big.Int)
	anyInvalid := false
	for _, loan := range e.loans {
		if loan.Closed || loan.Amount.Sign() == 0 {
			continue
		}
		value, invalid := valueOf(e.deps.Rates, loan.Currency, loan.Amount, nativecommon.PUSD)
		total.Add(total, value)
		anyInvalid = anyInvalid || invalid
	}
	return total, anyInvalid
}

func (e *Engine) guard(sections ...string) error {
	return nativecommon.Guard(e.deps.Status, append([]string{nativecommon.SectionCollateral}, sections...)...)
}

func (e *Engine) requireRates(keys ...string) error {
	if _, invalid := nativecommon.RatesAndAnyInvalid(e.deps.Rates, keys...); invalid {
		return nativecommon.ErrRateInvalid
	}
	return nil
}

// Open takes custody of collateral (native decimals) and lends amount of
// currency. Long loans receive the pynth net of the issue fee; short loans
// receive the pUSD value of the shorted amount net of the fee.
func (e *Engine) Open(borrower crypto.Address, collateral, amount *big.Int, currency string, short bool) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(nativecommon.SectionIssuance); err != nil {
		return 0, err
	}
	if !e.cfg.CanOpenLoans {
		return 0, ErrCannotOpenLoans
	}
	if short != e.cfg.Short {
		return 0, ErrLoanTypeMismatch
	}
	if !nativecommon.IsPositive(amount) || !nativecommon.IsPositive(collateral) {
		return 0, ErrInvalidAmount
	}
	if !e.cfg.supports(currency) {
		return 0, ErrCurrencyNotSupported
	}
	if short && !e.deps.Manager.IsShortable(currency) {
		return 0, ErrNotShortable
	}
	if !short && !e.deps.Manager.IsPynthEnabled(currency) {
		return 0, ErrPynthNotEnabled
	}
	if collateral.Cmp(nativecommon.Copy(e.cfg.MinCollateral)) < 0 {
		return 0, ErrCollateralBelowMinimum
	}
	if err := e.requireRates(e.cfg.Key, currency); err != nil {
		return 0, err
	}
	maxLoan, _ := MaxLoan(e.deps.Rates, e.cfg, collateral, currency)
	if amount.Cmp(maxLoan) > 0 {
		return 0, ErrExceedsMaxLoan
	}
	if exceeds, _ := e.deps.Manager.ExceedsDebtLimit(amount, currency); exceeds {
		return 0, ErrDebtLimit
	}
	if nativecommon.IsPositive(e.cfg.MaxDebt) {
		current, _ := e.totalDebtValueLocked()
		value, _ := valueOf(e.deps.Rates, currency, amount, nativecommon.PUSD)
		if current.Add(current, value).Cmp(e.cfg.MaxDebt) > 0 {
			return 0, ErrCollateralDebtLimit
		}
	}
	if e.deps.Balances.BalanceOf(e.cfg.Key, borrower).Cmp(collateral) < 0 {
		return 0, ErrInsufficientCollateral
	}

	index, err := e.accrueIndex(currency, short)
	if err != nil {
		return 0, err
	}
	id, err := e.deps.Manager.NextLoanID(e.address)
	if err != nil {
		return 0, err
	}
	if err := e.deps.Balances.Transfer(e.cfg.Key, borrower, e.address, collateral); err != nil {
		return 0, err
	}
	fee := nativecommon.MulDecimal(amount, e.cfg.IssueFeeRate)
	net := nativecommon.Sub(amount, fee)
	if short {
		if err := e.deps.Manager.IncrementShorts(e.address, currency, amount); err != nil {
			return 0, err
		}
		proceeds, _ := valueOf(e.deps.Rates, currency, net, nativecommon.PUSD)
		if err := e.issue(nativecommon.PUSD, borrower, proceeds); err != nil {
			return 0, err
		}
	} else {
		if err := e.deps.Manager.IncrementLongs(e.address, currency, amount); err != nil {
			return 0, err
		}
		if err := e.issue(currency, borrower, net); err != nil {
			return 0, err
		}
	}
	if err := e.payFees(fee, currency); err != nil {
		return 0, err
	}
	loan := &Loan{
		ID:              id,
		Account:         borrower,
		Collateral:      nativecommon.Copy(collateral),
		Currency:        currency,
		Amount:          nativecommon.Copy(amount),
		Short:           short,
		AccruedInterest: new(big.Int),
		InterestIndex:   index,
		LastInteraction: e.nowFn(),
	}
	e.loans[id] = loan
	e.accounts[borrower] = append(e.accounts[borrower], id)
	e.emitLoan(events.TypeLoanCreated, loan, crypto.Address{}, amount, fee)
	return id, nil
}

func (e *Engine) issue(key string, to crypto.Address, amount *big.Int) error {
	if !nativecommon.IsPositive(amount) {
		return nil
	}
	return e.deps.Balances.Issue(key, to, amount)
}

// payFees converts amount of currency into pUSD issued to the fee address and
// records it with the fee pool.
func (e *Engine) payFees(amount *big.Int, currency string) error {
	if !nativecommon.IsPositive(amount) {
		return nil
	}
	usd, _ := valueOf(e.deps.Rates, currency, amount, nativecommon.PUSD)
	if usd.Sign() == 0 {
		return nil
	}
	if err := e.deps.Balances.Issue(nativecommon.PUSD, e.deps.FeeAddress, usd); err != nil {
		return err
	}
	if e.deps.Fees != nil {
		return e.deps.Fees.RecordFeePaid(e.address, usd)
	}
	return nil
}

func (e *Engine) accrueIndex(currency string, short bool) (*big.Int, error) {
	if short {
		return e.deps.Manager.AccrueShortIndex(currency)
	}
	return e.deps.Manager.AccrueBorrowIndex()
}

// accrueLocked adds interest since the loan's last index snapshot.
func (e *Engine) accrueLocked(loan *Loan) error {
	index, err := e.accrueIndex(loan.Currency, loan.Short)
	if err != nil {
		return err
	}
	delta := nativecommon.Sub(index, loan.InterestIndex)
	if delta.Sign() > 0 && loan.Amount.Sign() > 0 {
		loan.AccruedInterest = nativecommon.Add(loan.AccruedInterest, nativecommon.MulDecimal(loan.Amount, delta))
	}
	loan.InterestIndex = index
	return nil
}

// openLoanLocked fetches the borrower's open loan and enforces the
// interaction delay.
func (e *Engine) openLoanLocked(borrower crypto.Address, id uint64, checkDelay bool) (*Loan, error) {
	loan, ok := e.loans[id]
	if !ok || loan.Account != borrower {
		return nil, ErrLoanNotFound
	}
	if loan.Closed {
		return nil, ErrLoanClosed
	}
	if checkDelay && e.cfg.InteractionDelay > 0 && e.nowFn().Before(loan.LastInteraction.Add(e.cfg.InteractionDelay)) {
		return nil, ErrRecentlyInteracted
	}
	return loan, nil
}

// Deposit adds collateral to a loan. Anyone may top up a loan.
func (e *Engine) Deposit(caller, borrower crypto.Address, id uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	loan, err := e.openLoanLocked(borrower, id, true)
	if err != nil {
		return err
	}
	if e.deps.Balances.BalanceOf(e.cfg.Key, caller).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.accrueLocked(loan); err != nil {
		return err
	}
	if err := e.deps.Balances.Transfer(e.cfg.Key, caller, e.address, amount); err != nil {
		return err
	}
	loan.Collateral = nativecommon.Add(loan.Collateral, amount)
	loan.LastInteraction = e.nowFn()
	e.emitLoan(events.TypeLoanCollateralAdded, loan, caller, amount, nil)
	return nil
}

// Withdraw releases collateral provided the loan stays above the minimum ratio.
func (e *Engine) Withdraw(borrower crypto.Address, id uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	loan, err := e.openLoanLocked(borrower, id, true)
	if err != nil {
		return err
	}
	if amount.Cmp(loan.Collateral) > 0 {
		return ErrInsufficientCollateral
	}
	if err := e.requireRates(e.cfg.Key, loan.Currency); err != nil {
		return err
	}
	if err := e.accrueLocked(loan); err != nil {
		return err
	}
	candidate := loan.Clone()
	candidate.Collateral = nativecommon.Sub(loan.Collateral, amount)
	if err := e.checkRatio(candidate); err != nil {
		return err
	}
	if err := e.deps.Balances.Transfer(e.cfg.Key, e.address, borrower, amount); err != nil {
		return err
	}
	loan.Collateral = candidate.Collateral
	loan.LastInteraction = e.nowFn()
	e.emitLoan(events.TypeLoanCollateralTaken, loan, crypto.Address{}, amount, nil)
	return nil
}

func (e *Engine) checkRatio(loan Loan) error {
	if loan.Debt().Sign() == 0 {
		return nil
	}
	ratio, _ := CollateralRatio(e.deps.Rates, e.cfg, loan)
	if ratio.Cmp(e.cfg.MinCratio) < 0 {
		return ErrBelowMinCratio
	}
	return nil
}

// Draw borrows more against the loan's collateral.
func (e *Engine) Draw(borrower crypto.Address, id uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(nativecommon.SectionIssuance); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	loan, err := e.openLoanLocked(borrower, id, true)
	if err != nil {
		return err
	}
	if err := e.requireRates(e.cfg.Key, loan.Currency); err != nil {
		return err
	}
	if exceeds, _ := e.deps.Manager.ExceedsDebtLimit(amount, loan.Currency); exceeds {
		return ErrDebtLimit
	}
	if err := e.accrueLocked(loan); err != nil {
		return err
	}
	candidate := loan.Clone()
	candidate.Amount = nativecommon.Add(loan.Amount, amount)
	if err := e.checkRatio(candidate); err != nil {
		return err
	}
	fee := nativecommon.MulDecimal(amount, e.cfg.IssueFeeRate)
	net := nativecommon.Sub(amount, fee)
	if loan.Short {
		if err := e.deps.Manager.IncrementShorts(e.address, loan.Currency, amount); err != nil {
			return err
		}
		proceeds, _ := valueOf(e.deps.Rates, loan.Currency, net, nativecommon.PUSD)
		if err := e.issue(nativecommon.PUSD, borrower, proceeds); err != nil {
			return err
		}
	} else {
		if err := e.deps.Manager.IncrementLongs(e.address, loan.Currency, amount); err != nil {
			return err
		}
		if err := e.issue(loan.Currency, borrower, net); err != nil {
			return err
		}
	}
	if err := e.payFees(fee, loan.Currency); err != nil {
		return err
	}
	loan.Amount = candidate.Amount
	loan.LastInteraction = e.nowFn()
	e.emitLoan(events.TypeLoanDrawn, loan, crypto.Address{}, amount, fee)
	return nil
}

// Repay burns amount of the loan currency from repayer, interest first.
func (e *Engine) Repay(repayer, borrower crypto.Address, id uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	loan, err := e.openLoanLocked(borrower, id, true)
	if err != nil {
		return err
	}
	if err := e.requireRates(loan.Currency); err != nil {
		return err
	}
	if err := e.accrueLocked(loan); err != nil {
		return err
	}
	if amount.Cmp(loan.Debt()) > 0 {
		return ErrPaymentExceedsDebt
	}
	if e.deps.Balances.BalanceOf(loan.Currency, repayer).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.deps.Balances.Burn(loan.Currency, repayer, amount); err != nil {
		return err
	}
	interest, err := e.processPaymentLocked(loan, amount)
	if err != nil {
		return err
	}
	loan.LastInteraction = e.nowFn()
	e.emitLoanWithInterest(events.TypeLoanRepaid, loan, repayer, amount, interest)
	return nil
}

// processPaymentLocked applies payment to interest first and then principal.
// Interest is paid to the fee pool. It returns the interest portion.
func (e *Engine) processPaymentLocked(loan *Loan, payment *big.Int) (*big.Int, error) {
	if payment.Cmp(loan.AccruedInterest) < 0 {
		loan.AccruedInterest = nativecommon.Sub(loan.AccruedInterest, payment)
		return nativecommon.Copy(payment), e.payFees(payment, loan.Currency)
	}
	interest := nativecommon.Copy(loan.AccruedInterest)
	principal := nativecommon.Sub(payment, interest)
	if err := e.payFees(interest, loan.Currency); err != nil {
		return nil, err
	}
	loan.AccruedInterest = new(big.Int)
	loan.Amount = nativecommon.SubFloor(loan.Amount, principal)
	if principal.Sign() > 0 {
		var err error
		if loan.Short {
			err = e.deps.Manager.DecrementShorts(e.address, loan.Currency, principal)
		} else {
			err = e.deps.Manager.DecrementLongs(e.address, loan.Currency, principal)
		}
		if err != nil {
			return nil, err
		}
	}
	return interest, nil
}

// RepayWithCollateral repays with pUSD collateral held by the loan. The
// exchange fee is charged on top out of collateral.
func (e *Engine) RepayWithCollateral(borrower crypto.Address, id uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	loan, err := e.openLoanLocked(borrower, id, true)
	if err != nil {
		return err
	}
	interest, err := e.repayWithCollateralLocked(loan, amount)
	if err != nil {
		return err
	}
	loan.LastInteraction = e.nowFn()
	e.emitLoanWithInterest(events.TypeLoanRepaid, loan, borrower, amount, interest)
	return nil
}

func (e *Engine) repayWithCollateralLocked(loan *Loan, amount *big.Int) (*big.Int, error) {
	if e.cfg.Key != nativecommon.PUSD {
		return nil, ErrCollateralNotPynth
	}
	if err := e.requireRates(loan.Currency); err != nil {
		return nil, err
	}
	if err := e.accrueLocked(loan); err != nil {
		return nil, err
	}
	if amount.Cmp(loan.Debt()) > 0 {
		return nil, ErrPaymentExceedsDebt
	}
	value, _ := valueOf(e.deps.Rates, loan.Currency, amount, nativecommon.PUSD)
	fee := nativecommon.MulDecimal(value, e.exchangeFeeRate())
	needed := nativecommon.FromUnitScaleUp(nativecommon.Add(value, fee), e.cfg.Decimals)
	if needed.Cmp(loan.Collateral) > 0 {
		return nil, ErrInsufficientCollateral
	}
	if err := e.deps.Balances.Burn(nativecommon.PUSD, e.address, needed); err != nil {
		return nil, err
	}
	loan.Collateral = nativecommon.Sub(loan.Collateral, needed)
	interest, err := e.processPaymentLocked(loan, amount)
	if err != nil {
		return nil, err
	}
	if err := e.payFees(fee, nativecommon.PUSD); err != nil {
		return nil, err
	}
	return interest, nil
}

func (e *Engine) exchangeFeeRate() *big.Int {
	if e.deps.Settings == nil {
		return new(big.Int)
	}
	return nativecommon.Copy(e.deps.Settings.ExchangeFeeRate())
}

// Close repays the whole debt from the borrower and returns the collateral.
func (e *Engine) Close(borrower crypto.Address, id uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	loan, err := e.openLoanLocked(borrower, id, true)
	if err != nil {
		return nil, err
	}
	if err := e.requireRates(loan.Currency); err != nil {
		return nil, err
	}
	if err := e.accrueLocked(loan); err != nil {
		return nil, err
	}
	debt := loan.Debt()
	interest := new(big.Int)
	if debt.Sign() > 0 {
		if e.deps.Balances.BalanceOf(loan.Currency, borrower).Cmp(debt) < 0 {
			return nil, ErrInsufficientBalance
		}
		if err := e.deps.Balances.Burn(loan.Currency, borrower, debt); err != nil {
			return nil, err
		}
		if interest, err = e.processPaymentLocked(loan, debt); err != nil {
			return nil, err
		}
	}
	returned, err := e.closeLocked(loan)
	if err != nil {
		return nil, err
	}
	e.emitLoanWithInterest(events.TypeLoanClosed, loan, crypto.Address{}, debt, interest)
	return returned, nil
}

// CloseWithCollateral repays the whole debt out of pUSD collateral and
// returns what is left.
func (e *Engine) CloseWithCollateral(borrower crypto.Address, id uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	loan, err := e.openLoanLocked(borrower, id, true)
	if err != nil {
		return nil, err
	}
	if err := e.requireRates(loan.Currency); err != nil {
		return nil, err
	}
	if err := e.accrueLocked(loan); err != nil {
		return nil, err
	}
	debt := loan.Debt()
	interest := new(big.Int)
	if debt.Sign() > 0 {
		if interest, err = e.repayWithCollateralLocked(loan, debt); err != nil {
			return nil, err
		}
	}
	returned, err := e.closeLocked(loan)
	if err != nil {
		return nil, err
	}
	e.emitLoanWithInterest(events.TypeLoanClosed, loan, crypto.Address{}, debt, interest)
	return returned, nil
}

// closeLocked returns the remaining collateral and zeroes the loan.
func (e *Engine) closeLocked(loan *Loan) (*big.Int, error) {
	returned := nativecommon.Copy(loan.Collateral)
	if returned.Sign() > 0 {
		if err := e.deps.Balances.Transfer(e.cfg.Key, e.address, loan.Account, returned); err != nil {
			return nil, err
		}
	}
	if loan.Amount.Sign() > 0 {
		var err error
		if loan.Short {
			err = e.deps.Manager.DecrementShorts(e.address, loan.Currency, loan.Amount)
		} else {
			err = e.deps.Manager.DecrementLongs(e.address, loan.Currency, loan.Amount)
		}
		if err != nil {
			return nil, err
		}
	}
	loan.Collateral = new(big.Int)
	loan.Amount = new(big.Int)
	loan.AccruedInterest = new(big.Int)
	loan.Closed = true
	loan.LastInteraction = e.nowFn()
	return returned, nil
}

// Liquidate repays up to amount of an undercollateralised loan on behalf of
// the borrower. The liquidator receives collateral worth the repaid value
// plus the penalty. It returns the collateral paid out.
func (e *Engine) Liquidate(liquidator, borrower crypto.Address, id uint64, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !nativecommon.IsPositive(amount) {
		return nil, ErrInvalidAmount
	}
	loan, err := e.openLoanLocked(borrower, id, false)
	if err != nil {
		return nil, err
	}
	if err := e.requireRates(e.cfg.Key, loan.Currency); err != nil {
		return nil, err
	}
	if err := e.accrueLocked(loan); err != nil {
		return nil, err
	}
	ratio, _ := CollateralRatio(e.deps.Rates, e.cfg, *loan)
	if loan.Debt().Sign() == 0 || ratio.Cmp(e.cfg.MinCratio) >= 0 {
		return nil, ErrNotLiquidatable
	}
	maxAmount, _ := LiquidationAmount(e.deps.Rates, e.cfg, *loan)
	if maxAmount.Sign() == 0 {
		return nil, ErrNotLiquidatable
	}
	amount = nativecommon.Min(amount, maxAmount)
	if e.deps.Balances.BalanceOf(loan.Currency, liquidator).Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	if err := e.deps.Balances.Burn(loan.Currency, liquidator, amount); err != nil {
		return nil, err
	}
	interest, err := e.processPaymentLocked(loan, amount)
	if err != nil {
		return nil, err
	}
	redeemed, _ := CollateralRedeemed(e.deps.Rates, e.cfg, loan.Currency, amount)
	redeemed = nativecommon.Min(redeemed, loan.Collateral)
	if redeemed.Sign() > 0 {
		if err := e.deps.Balances.Transfer(e.cfg.Key, e.address, liquidator, redeemed); err != nil {
			return nil, err
		}
		loan.Collateral = nativecommon.Sub(loan.Collateral, redeemed)
	}
	e.emitLoan(events.TypeLoanLiquidated, loan, liquidator, amount, nil)
	if loan.Debt().Sign() == 0 {
		if _, err := e.closeLocked(loan); err != nil {
			return nil, err
		}
		e.emitLoanWithInterest(events.TypeLoanClosed, loan, liquidator, amount, interest)
	}
	return redeemed, nil
}

func (e *Engine) emitLoan(kind string, loan *Loan, counter crypto.Address, amount, fee *big.Int) {
	e.emitter.Emit(events.LoanEvent{
		Kind:           kind,
		CollateralType: e.cfg.Name,
		LoanID:         loan.ID,
		Account:        loan.Account,
		Counter:        counter,
		Currency:       loan.Currency,
		Short:          loan.Short,
		Amount:         nativecommon.Copy(amount),
		Collateral:     nativecommon.Copy(loan.Collateral),
		Principal:      nativecommon.Copy(loan.Amount),
		Fee:            fee,
	})
}

func (e *Engine) emitLoanWithInterest(kind string, loan *Loan, counter crypto.Address, amount, interest *big.Int) {
	e.emitter.Emit(events.LoanEvent{
		Kind:           kind,
		CollateralType: e.cfg.Name,
		LoanID:         loan.ID,
		Account:        loan.Account,
		Counter:        counter,
		Currency:       loan.Currency,
		Short:          loan.Short,
		Amount:         nativecommon.Copy(amount),
		Collateral:     nativecommon.Copy(loan.Collateral),
		Principal:      nativecommon.Copy(loan.Amount),
		Interest:       interest,
	})
}
