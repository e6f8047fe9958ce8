package issuer

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"pynthchain/core/events"
	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
	"pynthchain/native/crosschain"
	"pynthchain/native/debtledger"
	"pynthchain/native/liquidations"
	"pynthchain/native/staking"
)

var (
	ErrInvalidAmount         = errors.New("issuer: amount must be positive")
	ErrAmountTooLarge        = errors.New("issuer: amount too large")
	ErrNothingToIssue        = errors.New("issuer: no remaining issuable pynths")
	ErrNothingToBurn         = errors.New("issuer: debt already at or below target")
	ErrNoDebt                = errors.New("issuer: account has no debt")
	ErrMinStakeTime          = errors.New("issuer: minimum stake time not reached")
	ErrInsufficientBalance   = errors.New("issuer: insufficient pUSD balance")
	ErrNotOpenForLiquidation = errors.New("issuer: account not open for liquidation")
	ErrSelfLiquidation       = errors.New("issuer: cannot liquidate self")
	ErrUnknownPynth          = errors.New("issuer: pynth not registered")
	ErrPynthExists           = errors.New("issuer: pynth already registered")
	ErrPynthHasSupply        = errors.New("issuer: pynth has outstanding supply")
	ErrMissingDependency     = errors.New("issuer: missing dependency")
)

// Settings is the subset of governance parameters read by the issuer.
type Settings interface {
	IssuanceRatio() *big.Int
	LiquidationPenalty() *big.Int
	ExternalTokenQuota() *big.Int
	MinimumStakeTime() time.Duration
}

// LoanBook values pynths issued by collateral loans; they are excluded from
// the staker debt pool.
type LoanBook interface {
	TotalLongAndShort() (*big.Int, bool)
}

// IssuanceRecorder keeps the fee pool's per-account issuance history.
type IssuanceRecorder interface {
	AppendAccountIssuanceRecord(caller, account crypto.Address, ownership *big.Int, debtIndex uint64) error
}

// Deps wires the issuer to the modules it orchestrates.
type Deps struct {
	Address      crypto.Address
	Authority    crypto.Address
	Balances     nativecommon.Balances
	Rates        nativecommon.RateView
	Status       nativecommon.StatusView
	Settings     Settings
	Ledger       *debtledger.Ledger
	Staking      *staking.Manager
	Liquidations *liquidations.Manager
	CrossChain   *crosschain.Manager
}

// Issuer is the only writer of the debt ledger. It mints and burns pUSD
// against PERI and staked external tokens and executes staker liquidations.
type Issuer struct {
	mu        sync.RWMutex
	deps      Deps
	loans     LoanBook
	fees      IssuanceRecorder
	pynths    []string
	lastIssue map[crypto.Address]time.Time
	emitter   events.Emitter
	logger    *slog.Logger
	nowFn     func() time.Time
}

// New constructs the issuer and registers it as the liquidation account view.
// pUSD is always a registered pynth.
func New(deps Deps) (*Issuer, error) {
	switch {
	case deps.Balances == nil:
		return nil, fmt.Errorf("%w: balances", ErrMissingDependency)
	case deps.Rates == nil:
		return nil, fmt.Errorf("%w: rates", ErrMissingDependency)
	case deps.Settings == nil:
		return nil, fmt.Errorf("%w: settings", ErrMissingDependency)
	case deps.Ledger == nil:
		return nil, fmt.Errorf("%w: debt ledger", ErrMissingDependency)
	case deps.Staking == nil:
		return nil, fmt.Errorf("%w: staking", ErrMissingDependency)
	case deps.Liquidations == nil:
		return nil, fmt.Errorf("%w: liquidations", ErrMissingDependency)
	}
	i := &Issuer{
		deps:      deps,
		pynths:    []string{nativecommon.PUSD},
		lastIssue: make(map[crypto.Address]time.Time),
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		nowFn:     time.Now,
	}
	deps.Liquidations.SetAccountView(i)
	return i, nil
}

func (i *Issuer) SetEmitter(emitter events.Emitter) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if emitter == nil {
		i.emitter = events.NoopEmitter{}
		return
	}
	i.emitter = emitter
}

func (i *Issuer) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	i.mu.Lock()
	i.logger = logger.With(slog.String("component", "issuer"))
	i.mu.Unlock()
}

func (i *Issuer) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	i.mu.Lock()
	i.nowFn = now
	i.mu.Unlock()
}

// SetLoanBook wires the collateral manager.
func (i *Issuer) SetLoanBook(book LoanBook) {
	i.mu.Lock()
	i.loans = book
	i.mu.Unlock()
}

// SetFeePool wires the issuance history recorder.
func (i *Issuer) SetFeePool(fees IssuanceRecorder) {
	i.mu.Lock()
	i.fees = fees
	i.mu.Unlock()
}

func (i *Issuer) Address() crypto.Address { return i.deps.Address }

func (i *Issuer) now() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.nowFn()
}

func (i *Issuer) emit(ev events.Event) {
	i.mu.RLock()
	emitter := i.emitter
	i.mu.RUnlock()
	emitter.Emit(ev)
}

func (i *Issuer) log() *slog.Logger {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.logger
}

// AddPynth registers a pynth whose supply counts towards the debt pool.
func (i *Issuer) AddPynth(caller crypto.Address, key string) error {
	if err := nativecommon.RequireCaller(caller, i.deps.Authority); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" || key == nativecommon.PERI {
		return fmt.Errorf("%w: invalid key %q", ErrUnknownPynth, key)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, existing := range i.pynths {
		if existing == key {
			return ErrPynthExists
		}
	}
	i.pynths = append(i.pynths, key)
	return nil
}

// RemovePynth unregisters a pynth without outstanding supply.
func (i *Issuer) RemovePynth(caller crypto.Address, key string) error {
	if err := nativecommon.RequireCaller(caller, i.deps.Authority); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	idx := -1
	for n, existing := range i.pynths {
		if existing == key {
			idx = n
			break
		}
	}
	if idx < 0 {
		return ErrUnknownPynth
	}
	if i.deps.Balances.TotalSupply(key).Sign() > 0 {
		return ErrPynthHasSupply
	}
	i.pynths = append(i.pynths[:idx], i.pynths[idx+1:]...)
	return nil
}

// Pynths returns the registered pynths in registration order.
func (i *Issuer) Pynths() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]string(nil), i.pynths...)
}

// TotalPynthSupplyValue is the pUSD value of every registered pynth in
// circulation, loan issued supply included.
func (i *Issuer) TotalPynthSupplyValue() (*big.Int, bool) {
	total := new(big.Int)
	anyInvalid := false
	for _, key := range i.Pynths() {
		supply := i.deps.Balances.TotalSupply(key)
		if supply.Sign() == 0 {
			continue
		}
		value, invalid := nativecommon.EffectiveValue(i.deps.Rates, key, supply, nativecommon.PUSD)
		total.Add(total, value)
		anyInvalid = anyInvalid || invalid
	}
	return total, anyInvalid
}

// LocalActiveDebt is the staker debt of this network: pynth supply minus
// loan issued pynths.
func (i *Issuer) LocalActiveDebt() (*big.Int, bool) {
	total, invalid := i.TotalPynthSupplyValue()
	i.mu.RLock()
	loans := i.loans
	i.mu.RUnlock()
	if loans != nil {
		loanValue, loansInvalid := loans.TotalLongAndShort()
		total = nativecommon.SubFloor(total, loanValue)
		invalid = invalid || loansInvalid
	}
	return total, invalid
}

// TotalIssuedPynths is the debt pool shared by stakers, adapted to this
// network's share of the cross-network debt.
func (i *Issuer) TotalIssuedPynths() (*big.Int, bool) {
	local, invalid := i.LocalActiveDebt()
	if i.deps.CrossChain != nil {
		return i.deps.CrossChain.AdaptedTotalDebt(local), invalid
	}
	return local, invalid
}

// position values an account's collateral.
type position struct {
	peri        *big.Int
	periRate    *big.Int
	primary     *big.Int
	valuation   staking.Valuation
	invalid     bool
	issuance    *big.Int
	quota       *big.Int
	targetRatio *big.Int
}

func (p position) total() *big.Int {
	return nativecommon.Add(p.primary, p.valuation.Value)
}

func (p position) maxIssuable() *big.Int {
	return nativecommon.MulDecimal(p.targetRatio, p.total())
}

func (i *Issuer) positionOf(account crypto.Address, projected *staking.Valuation) position {
	peri := i.deps.Balances.BalanceOf(nativecommon.PERI, account)
	rate, periInvalid := i.deps.Rates.RateAndInvalid(nativecommon.PERI)
	periInvalid = periInvalid || !nativecommon.IsPositive(rate)
	v := i.deps.Staking.Valuation(account)
	if projected != nil {
		v = *projected
	}
	p := position{
		peri:      peri,
		periRate:  nativecommon.Copy(rate),
		primary:   nativecommon.MulDecimal(peri, rate),
		valuation: v,
		invalid:   periInvalid || v.Invalid,
		issuance:  nativecommon.Copy(i.deps.Settings.IssuanceRatio()),
		quota:     nativecommon.Copy(i.deps.Settings.ExternalTokenQuota()),
	}
	p.targetRatio = staking.BlendedRatio(v, p.primary, p.issuance, p.quota)
	return p
}

// DebtBalanceOf returns the account's share of the debt pool in pUSD.
func (i *Issuer) DebtBalanceOf(account crypto.Address) (*big.Int, bool) {
	total, invalid := i.TotalIssuedPynths()
	return i.deps.Ledger.DebtBalance(account, total), invalid
}

// CollateralValue is the pUSD value of PERI held plus staked tokens.
func (i *Issuer) CollateralValue(account crypto.Address) (*big.Int, bool) {
	p := i.positionOf(account, nil)
	return p.total(), p.invalid
}

// TargetRatio is the account's blended issuance ratio.
func (i *Issuer) TargetRatio(account crypto.Address) (*big.Int, bool) {
	p := i.positionOf(account, nil)
	return p.targetRatio, p.invalid
}

// CollateralisationRatio is debt over collateral value; zero without
// collateral.
func (i *Issuer) CollateralisationRatio(account crypto.Address) *big.Int {
	ratio, _ := i.CollateralisationRatioAndAnyRatesInvalid(account)
	return ratio
}

func (i *Issuer) CollateralisationRatioAndAnyRatesInvalid(account crypto.Address) (*big.Int, bool) {
	debt, debtInvalid := i.DebtBalanceOf(account)
	p := i.positionOf(account, nil)
	total := p.total()
	if total.Sign() == 0 {
		return new(big.Int), debtInvalid || p.invalid
	}
	return nativecommon.DivDecimal(debt, total), debtInvalid || p.invalid
}

// MaxIssuablePynths is target ratio times collateral value.
func (i *Issuer) MaxIssuablePynths(account crypto.Address) (*big.Int, bool) {
	p := i.positionOf(account, nil)
	return p.maxIssuable(), p.invalid
}

// RemainingIssuablePynths returns what the account may still issue along
// with its current debt.
func (i *Issuer) RemainingIssuablePynths(account crypto.Address) (remaining, debt *big.Int, invalid bool) {
	debt, debtInvalid := i.DebtBalanceOf(account)
	p := i.positionOf(account, nil)
	return nativecommon.SubFloor(p.maxIssuable(), debt), debt, debtInvalid || p.invalid
}

// TransferableCollateral is the PERI balance not locked by debt. Debt backed
// by staked tokens' issuing value does not lock PERI.
func (i *Issuer) TransferableCollateral(account crypto.Address) (*big.Int, bool) {
	debt, debtInvalid := i.DebtBalanceOf(account)
	p := i.positionOf(account, nil)
	invalid := debtInvalid || p.invalid
	primaryDebt := nativecommon.SubFloor(debt, p.valuation.IssuingValue)
	if primaryDebt.Sign() == 0 {
		return p.peri, invalid
	}
	if !nativecommon.IsPositive(p.issuance) || !nativecommon.IsPositive(p.periRate) {
		return new(big.Int), true
	}
	lockedValue := nativecommon.DivDecimal(primaryDebt, p.issuance)
	locked := nativecommon.DivDecimalUp(lockedValue, p.periRate)
	return nativecommon.SubFloor(p.peri, locked), invalid
}

// LastIssueEvent returns when the account last issued.
func (i *Issuer) LastIssueEvent(account crypto.Address) (time.Time, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ts, ok := i.lastIssue[account]
	return ts, ok
}

// CanBurn reports whether the minimum stake time since the last issuance has
// passed.
func (i *Issuer) CanBurn(account crypto.Address) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	last, ok := i.lastIssue[account]
	if !ok {
		return true
	}
	return !i.nowFn().Before(last.Add(i.deps.Settings.MinimumStakeTime()))
}

func (i *Issuer) recordIssuance(account crypto.Address, data debtledger.IssuanceData) error {
	i.mu.RLock()
	fees := i.fees
	i.mu.RUnlock()
	if fees == nil {
		return nil
	}
	return fees.AppendAccountIssuanceRecord(i.deps.Address, account, data.InitialDebtOwnership, data.DebtEntryIndex)
}

// issuePlan holds the measurements an issuance was validated against.
type issuePlan struct {
	existing *big.Int
	total    *big.Int
}

func (i *Issuer) planIssue(account crypto.Address, amount *big.Int, projected *staking.Valuation) (issuePlan, error) {
	total, invalid := i.TotalIssuedPynths()
	p := i.positionOf(account, projected)
	if invalid || p.invalid {
		return issuePlan{}, nativecommon.ErrRateInvalid
	}
	existing := i.deps.Ledger.DebtBalance(account, total)
	remaining := nativecommon.SubFloor(p.maxIssuable(), existing)
	if amount.Cmp(remaining) > 0 {
		return issuePlan{}, fmt.Errorf("%w: requested %s, remaining %s", ErrAmountTooLarge,
			nativecommon.FormatUnits(amount), nativecommon.FormatUnits(remaining))
	}
	return issuePlan{existing: existing, total: total}, nil
}

func (i *Issuer) commitIssue(account crypto.Address, amount *big.Int, plan issuePlan) error {
	data, err := i.deps.Ledger.Register(i.deps.Address, account, amount, plan.existing, plan.total)
	if err != nil {
		return err
	}
	if err := i.deps.Balances.Issue(nativecommon.PUSD, account, amount); err != nil {
		return err
	}
	if i.deps.CrossChain != nil {
		if err := i.deps.CrossChain.AddIssuedDebt(i.deps.Address, amount); err != nil {
			return err
		}
	}
	if err := i.recordIssuance(account, data); err != nil {
		return err
	}
	i.mu.Lock()
	i.lastIssue[account] = i.nowFn()
	i.mu.Unlock()
	newTotal := nativecommon.Add(plan.total, amount)
	i.emit(events.PynthsIssued{
		Account:        account,
		Amount:         nativecommon.Copy(amount),
		DebtOwnership:  nativecommon.Copy(data.InitialDebtOwnership),
		DebtEntryIndex: data.DebtEntryIndex,
		TotalDebt:      newTotal,
	})
	i.log().Info("pynths issued",
		slog.String("account", account.String()),
		slog.String("amount", nativecommon.FormatUnits(amount)),
		slog.String("totalDebt", nativecommon.FormatUnits(newTotal)))
	return nil
}

// Issue mints amount pUSD against the account's collateral.
func (i *Issuer) Issue(account crypto.Address, amount *big.Int) error {
	if err := nativecommon.Guard(i.deps.Status, nativecommon.SectionIssuance); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	plan, err := i.planIssue(account, amount, nil)
	if err != nil {
		i.log().Debug("issue rejected", slog.String("account", account.String()), slog.Any("error", err))
		return err
	}
	return i.commitIssue(account, amount, plan)
}

// IssueMax mints every remaining issuable pynth and returns the amount.
func (i *Issuer) IssueMax(account crypto.Address) (*big.Int, error) {
	if err := nativecommon.Guard(i.deps.Status, nativecommon.SectionIssuance); err != nil {
		return nil, err
	}
	remaining, _, invalid := i.RemainingIssuablePynths(account)
	if invalid {
		return nil, nativecommon.ErrRateInvalid
	}
	if remaining.Sign() == 0 {
		return nil, ErrNothingToIssue
	}
	plan, err := i.planIssue(account, remaining, nil)
	if err != nil {
		return nil, err
	}
	if err := i.commitIssue(account, remaining, plan); err != nil {
		return nil, err
	}
	return remaining, nil
}

// IssueWithToken stakes stakeAmount of an external token and issues
// issueAmount pUSD in one step. The quota is checked against the debt after
// issuance.
func (i *Issuer) IssueWithToken(account crypto.Address, key string, stakeAmount, issueAmount *big.Int) error {
	if err := nativecommon.Guard(i.deps.Status, nativecommon.SectionIssuance); err != nil {
		return err
	}
	if !nativecommon.IsPositive(stakeAmount) || !nativecommon.IsPositive(issueAmount) {
		return ErrInvalidAmount
	}
	if _, ok := i.deps.Staking.Token(key); !ok {
		return staking.ErrUnknownToken
	}
	if i.deps.Balances.BalanceOf(key, account).Cmp(stakeAmount) < 0 {
		return staking.ErrInsufficientBalance
	}
	projected := i.deps.Staking.ProjectedValuation(account, key, stakeAmount)
	plan, err := i.planIssue(account, issueAmount, &projected)
	if err != nil {
		return err
	}
	debtAfter := nativecommon.Add(plan.existing, issueAmount)
	quota := i.deps.Settings.ExternalTokenQuota()
	if err := staking.CheckQuota(projected.IssuingValue, debtAfter, quota); err != nil {
		return err
	}
	if err := i.commitIssue(account, issueAmount, plan); err != nil {
		return err
	}
	return i.deps.Staking.Stake(i.deps.Address, account, key, stakeAmount, debtAfter, quota)
}

// Stake locks amount of an external token against existing debt.
func (i *Issuer) Stake(account crypto.Address, key string, amount *big.Int) error {
	if err := nativecommon.Guard(i.deps.Status); err != nil {
		return err
	}
	debt, invalid := i.DebtBalanceOf(account)
	if invalid {
		return nativecommon.ErrRateInvalid
	}
	if err := i.deps.Staking.Stake(i.deps.Address, account, key, amount, debt, i.deps.Settings.ExternalTokenQuota()); err != nil {
		return err
	}
	_, err := i.deps.Liquidations.CheckAndRemoveAccountInLiquidation(account)
	return err
}

// StakeToMaxQuota stakes as much of key as the quota allows.
func (i *Issuer) StakeToMaxQuota(account crypto.Address, key string) (*big.Int, error) {
	if err := nativecommon.Guard(i.deps.Status); err != nil {
		return nil, err
	}
	debt, invalid := i.DebtBalanceOf(account)
	if invalid {
		return nil, nativecommon.ErrRateInvalid
	}
	amount, err := i.deps.Staking.StakeToMaxQuota(i.deps.Address, account, key, debt, i.deps.Settings.ExternalTokenQuota())
	if err != nil {
		return nil, err
	}
	if _, err := i.deps.Liquidations.CheckAndRemoveAccountInLiquidation(account); err != nil {
		return nil, err
	}
	return amount, nil
}

// Unstake returns staked tokens provided PERI still backs the debt.
func (i *Issuer) Unstake(account crypto.Address, key string, amount *big.Int) error {
	if err := nativecommon.Guard(i.deps.Status); err != nil {
		return err
	}
	if !i.CanBurn(account) {
		return ErrMinStakeTime
	}
	debt, invalid := i.DebtBalanceOf(account)
	p := i.positionOf(account, nil)
	if invalid || p.invalid {
		return nativecommon.ErrRateInvalid
	}
	return i.deps.Staking.Unstake(i.deps.Address, account, key, amount, debt, p.primary, p.issuance)
}

type burnPlan struct {
	amount   *big.Int
	existing *big.Int
	total    *big.Int
}

func (i *Issuer) planBurn(account, payer crypto.Address, amount *big.Int, toTarget bool) (burnPlan, error) {
	if !nativecommon.IsPositive(amount) {
		return burnPlan{}, ErrInvalidAmount
	}
	total, invalid := i.TotalIssuedPynths()
	if invalid {
		return burnPlan{}, nativecommon.ErrRateInvalid
	}
	existing := i.deps.Ledger.DebtBalance(account, total)
	if existing.Sign() == 0 {
		return burnPlan{}, ErrNoDebt
	}
	if !toTarget && !i.CanBurn(account) {
		return burnPlan{}, ErrMinStakeTime
	}
	burn := nativecommon.Min(amount, existing)
	if i.deps.Balances.BalanceOf(nativecommon.PUSD, payer).Cmp(burn) < 0 {
		return burnPlan{}, ErrInsufficientBalance
	}
	return burnPlan{amount: burn, existing: existing, total: total}, nil
}

func (i *Issuer) commitBurn(account, payer crypto.Address, plan burnPlan, liquidator crypto.Address) error {
	data, err := i.deps.Ledger.Deregister(i.deps.Address, account, plan.amount, plan.existing, plan.total)
	if err != nil {
		return err
	}
	if err := i.deps.Balances.Burn(nativecommon.PUSD, payer, plan.amount); err != nil {
		return err
	}
	if i.deps.CrossChain != nil {
		if err := i.deps.CrossChain.SubtractIssuedDebt(i.deps.Address, plan.amount); err != nil {
			return err
		}
	}
	if err := i.recordIssuance(account, data); err != nil {
		return err
	}
	i.emit(events.PynthsBurned{
		Account:        account,
		Amount:         nativecommon.Copy(plan.amount),
		DebtOwnership:  nativecommon.Copy(data.InitialDebtOwnership),
		DebtEntryIndex: data.DebtEntryIndex,
		Liquidator:     liquidator,
	})
	i.log().Info("pynths burned",
		slog.String("account", account.String()),
		slog.String("amount", nativecommon.FormatUnits(plan.amount)))
	return nil
}

// Burn repays up to amount of the account's debt with its pUSD. A flag for
// liquidation is cleared when the burn restores the target ratio.
func (i *Issuer) Burn(account crypto.Address, amount *big.Int) (*big.Int, error) {
	return i.burn(account, amount, false)
}

func (i *Issuer) burn(account crypto.Address, amount *big.Int, toTarget bool) (*big.Int, error) {
	if err := nativecommon.Guard(i.deps.Status, nativecommon.SectionIssuance); err != nil {
		return nil, err
	}
	plan, err := i.planBurn(account, account, amount, toTarget)
	if err != nil {
		i.log().Debug("burn rejected", slog.String("account", account.String()), slog.Any("error", err))
		return nil, err
	}
	if err := i.commitBurn(account, account, plan, crypto.Address{}); err != nil {
		return nil, err
	}
	if _, err := i.deps.Liquidations.CheckAndRemoveAccountInLiquidation(account); err != nil {
		return nil, err
	}
	return plan.amount, nil
}

// BurnToTarget burns the debt above the account's maximum issuable amount.
// It is exempt from the minimum stake time.
func (i *Issuer) BurnToTarget(account crypto.Address) (*big.Int, error) {
	debt, debtInvalid := i.DebtBalanceOf(account)
	maxIssuable, invalid := i.MaxIssuablePynths(account)
	if debtInvalid || invalid {
		return nil, nativecommon.ErrRateInvalid
	}
	excess := nativecommon.SubFloor(debt, maxIssuable)
	if excess.Sign() == 0 {
		return nil, ErrNothingToBurn
	}
	return i.burn(account, excess, true)
}

// BurnAndUnstake burns pUSD and then releases staked tokens against the
// reduced debt.
func (i *Issuer) BurnAndUnstake(account crypto.Address, burnAmount *big.Int, key string, unstakeAmount *big.Int) error {
	if err := nativecommon.Guard(i.deps.Status, nativecommon.SectionIssuance); err != nil {
		return err
	}
	plan, err := i.planBurn(account, account, burnAmount, false)
	if err != nil {
		return err
	}
	p := i.positionOf(account, nil)
	if p.invalid {
		return nativecommon.ErrRateInvalid
	}
	remaining := nativecommon.Sub(plan.existing, plan.amount)
	if err := i.deps.Staking.CheckUnstake(account, key, unstakeAmount, remaining, p.primary, p.issuance); err != nil {
		return err
	}
	if err := i.commitBurn(account, account, plan, crypto.Address{}); err != nil {
		return err
	}
	if err := i.deps.Staking.Unstake(i.deps.Address, account, key, unstakeAmount, remaining, p.primary, p.issuance); err != nil {
		return err
	}
	_, err = i.deps.Liquidations.CheckAndRemoveAccountInLiquidation(account)
	return err
}

// LiquidationResult summarises a staker liquidation.
type LiquidationResult struct {
	AmountBurned    *big.Int
	ValueRedeemed   *big.Int
	PrimaryRedeemed *big.Int
	FlagRemoved     bool
}

// LiquidateDelinquentAccount burns up to amount of the liquidator's pUSD
// against a flagged account whose deadline passed. The liquidator receives
// collateral worth the burned amount plus the penalty, PERI first and staked
// tokens after. The burn is capped at the amount that restores the target
// ratio.
func (i *Issuer) LiquidateDelinquentAccount(liquidator, account crypto.Address, amount *big.Int) (LiquidationResult, error) {
	if err := nativecommon.Guard(i.deps.Status, nativecommon.SectionIssuance); err != nil {
		return LiquidationResult{}, err
	}
	if liquidator == account {
		return LiquidationResult{}, ErrSelfLiquidation
	}
	if !nativecommon.IsPositive(amount) {
		return LiquidationResult{}, ErrInvalidAmount
	}
	if !i.deps.Liquidations.IsOpenForLiquidation(account) {
		return LiquidationResult{}, ErrNotOpenForLiquidation
	}
	total, invalid := i.TotalIssuedPynths()
	p := i.positionOf(account, nil)
	if invalid || p.invalid {
		return LiquidationResult{}, nativecommon.ErrRateInvalid
	}
	existing := i.deps.Ledger.DebtBalance(account, total)
	collateral := p.total()
	fix := i.deps.Liquidations.CalculateAmountToFixCollateral(existing, collateral, p.targetRatio)

	burn := nativecommon.Min(nativecommon.Min(amount, fix), existing)
	factor := nativecommon.Add(nativecommon.Unit, i.deps.Settings.LiquidationPenalty())
	redeemValue := nativecommon.MulDecimal(burn, factor)
	if redeemValue.Cmp(collateral) > 0 {
		redeemValue = nativecommon.Copy(collateral)
		burn = nativecommon.DivDecimal(collateral, factor)
	}
	if burn.Sign() == 0 {
		return LiquidationResult{}, ErrNotOpenForLiquidation
	}
	if i.deps.Balances.BalanceOf(nativecommon.PUSD, liquidator).Cmp(burn) < 0 {
		return LiquidationResult{}, ErrInsufficientBalance
	}

	plan := burnPlan{amount: burn, existing: existing, total: total}
	if err := i.commitBurn(account, liquidator, plan, liquidator); err != nil {
		return LiquidationResult{}, err
	}

	periAmount := nativecommon.Min(nativecommon.DivDecimal(redeemValue, p.periRate), p.peri)
	if periAmount.Sign() > 0 {
		if err := i.deps.Balances.Transfer(nativecommon.PERI, account, liquidator, periAmount); err != nil {
			return LiquidationResult{}, err
		}
	}
	primaryValue := nativecommon.MulDecimal(periAmount, p.periRate)
	redeemed := nativecommon.Copy(primaryValue)
	if rest := nativecommon.SubFloor(redeemValue, primaryValue); rest.Sign() > 0 && i.deps.Staking.HasStake(account) {
		fromStake, err := i.deps.Staking.Redeem(i.deps.Address, account, rest, liquidator)
		if err != nil {
			return LiquidationResult{}, err
		}
		redeemed.Add(redeemed, fromStake)
	}

	result := LiquidationResult{AmountBurned: burn, ValueRedeemed: redeemed, PrimaryRedeemed: periAmount}
	remaining, _ := i.CollateralValue(account)
	switch {
	case burn.Cmp(fix) == 0:
		result.FlagRemoved = true
		if err := i.deps.Liquidations.RemoveAccountInLiquidation(i.deps.Address, account, events.LiquidationRemovedFixed); err != nil {
			return LiquidationResult{}, err
		}
	case remaining.Sign() == 0:
		result.FlagRemoved = true
		if err := i.deps.Liquidations.RemoveAccountInLiquidation(i.deps.Address, account, events.LiquidationRemovedEmpty); err != nil {
			return LiquidationResult{}, err
		}
	}
	i.emit(events.AccountLiquidated{
		Account:         account,
		Liquidator:      liquidator,
		AmountBurned:    nativecommon.Copy(burn),
		ValueRedeemed:   nativecommon.Copy(redeemed),
		PrimaryRedeemed: nativecommon.Copy(periAmount),
		FlagRemoved:     result.FlagRemoved,
	})
	i.log().Info("account liquidated",
		slog.String("account", account.String()),
		slog.String("liquidator", liquidator.String()),
		slog.String("burned", nativecommon.FormatUnits(burn)),
		slog.Bool("flagRemoved", result.FlagRemoved))
	return result, nil
}

// Issuers lists accounts with a recorded issuance, sorted.
func (i *Issuer) Issuers() []crypto.Address {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]crypto.Address, 0, len(i.lastIssue))
	for account := range i.lastIssue {
		out = append(out, account)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].String() < out[b].String() })
	return out
}
