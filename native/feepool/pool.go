package feepool

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"pynthchain/core/events"
	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
	"pynthchain/native/crosschain"
	"pynthchain/native/debtledger"
)

const (
	MinPeriodLength     = 2
	MaxPeriodLength     = 6
	DefaultPeriodLength = 2
)

var (
	ErrInvalidPeriodLength = errors.New("feepool: period length must be between 2 and 6")
	ErrPeriodNotElapsed    = errors.New("feepool: fee period duration has not elapsed")
	ErrFeesNotClaimable    = errors.New("feepool: collateral ratio below target, fees not claimable")
	ErrNothingToClaim      = errors.New("feepool: no fees or rewards available")
	ErrInvalidAmount       = errors.New("feepool: amount must be positive")
	ErrPeriodOutOfRange    = errors.New("feepool: period index out of range")
	ErrMissingDependency   = errors.New("feepool: missing dependency")
)

// Settings exposes the governance parameters read by the pool.
type Settings interface {
	FeePeriodDuration() time.Duration
	TargetThreshold() *big.Int
}

// AccountView is implemented by the issuer.
type AccountView interface {
	CollateralisationRatioAndAnyRatesInvalid(account crypto.Address) (*big.Int, bool)
	TargetRatio(account crypto.Address) (*big.Int, bool)
	LocalActiveDebt() (*big.Int, bool)
}

// FeePeriod is one slot of the period ring. Period ids start at 1.
type FeePeriod struct {
	ID                  uint64
	StartingDebtIndex   uint64
	StartTime           time.Time
	FeesToDistribute    *big.Int
	FeesClaimed         *big.Int
	RewardsToDistribute *big.Int
	RewardsClaimed      *big.Int
	FeesBurned          *big.Int
	NetworkDebtShare    *big.Int
	// FeesCarried is the part of FeesToDistribute rolled over from the
	// period that fell off the ring. It was scaled when first closed.
	FeesCarried         *big.Int
}

func newPeriod(id, startIndex uint64, start time.Time) FeePeriod {
	return FeePeriod{
		ID:                  id,
		StartingDebtIndex:   startIndex,
		StartTime:           start,
		FeesToDistribute:    new(big.Int),
		FeesClaimed:         new(big.Int),
		RewardsToDistribute: new(big.Int),
		RewardsClaimed:      new(big.Int),
		FeesBurned:          new(big.Int),
		NetworkDebtShare:    new(big.Int),
		FeesCarried:         new(big.Int),
	}
}

func (p FeePeriod) Clone() FeePeriod {
	out := p
	out.FeesToDistribute = nativecommon.Copy(p.FeesToDistribute)
	out.FeesClaimed = nativecommon.Copy(p.FeesClaimed)
	out.RewardsToDistribute = nativecommon.Copy(p.RewardsToDistribute)
	out.RewardsClaimed = nativecommon.Copy(p.RewardsClaimed)
	out.FeesBurned = nativecommon.Copy(p.FeesBurned)
	out.NetworkDebtShare = nativecommon.Copy(p.NetworkDebtShare)
	out.FeesCarried = nativecommon.Copy(p.FeesCarried)
	return out
}

// UnclaimedFees is what remains to be claimed from the period.
func (p FeePeriod) UnclaimedFees() *big.Int {
	return nativecommon.SubFloor(p.FeesToDistribute, p.FeesClaimed)
}

func (p FeePeriod) UnclaimedRewards() *big.Int {
	return nativecommon.SubFloor(p.RewardsToDistribute, p.RewardsClaimed)
}

// IssuanceRecord is an account's debt ownership as of a ledger index.
type IssuanceRecord struct {
	Ownership *big.Int
	DebtIndex uint64
}

// Deps wires the pool.
type Deps struct {
	Authority      crypto.Address
	Issuer         crypto.Address
	FeeAddress     crypto.Address
	RewardsAddress crypto.Address
	Balances       nativecommon.Balances
	Status         nativecommon.StatusView
	Settings       Settings
	Ledger         *debtledger.Ledger
	Accounts       AccountView
	CrossChain     *crosschain.Manager
	PeriodLength   int
}

// Pool distributes fees and rewards pro rata to debt ownership over a ring
// of fee periods. Index 0 is the open period.
type Pool struct {
	mu             sync.RWMutex
	deps           Deps
	periods        []FeePeriod
	nextPeriodID   uint64
	records        map[crypto.Address][]IssuanceRecord
	lastWithdrawal map[crypto.Address]uint64
	recorders      map[crypto.Address]struct{}
	emitter        events.Emitter
	logger         *slog.Logger
	nowFn          func() time.Time
}

// New constructs a pool whose first period starts now.
func New(deps Deps) (*Pool, error) {
	if deps.PeriodLength == 0 {
		deps.PeriodLength = DefaultPeriodLength
	}
	if deps.PeriodLength < MinPeriodLength || deps.PeriodLength > MaxPeriodLength {
		return nil, ErrInvalidPeriodLength
	}
	switch {
	case deps.Balances == nil:
		return nil, fmt.Errorf("%w: balances", ErrMissingDependency)
	case deps.Settings == nil:
		return nil, fmt.Errorf("%w: settings", ErrMissingDependency)
	case deps.Ledger == nil:
		return nil, fmt.Errorf("%w: debt ledger", ErrMissingDependency)
	}
	p := &Pool{
		deps:           deps,
		records:        make(map[crypto.Address][]IssuanceRecord),
		lastWithdrawal: make(map[crypto.Address]uint64),
		recorders:      map[crypto.Address]struct{}{deps.Issuer: {}},
		emitter:        events.NoopEmitter{},
		logger:         slog.Default(),
		nowFn:          time.Now,
	}
	p.periods = make([]FeePeriod, deps.PeriodLength)
	p.periods[0] = newPeriod(1, deps.Ledger.Length(), p.nowFn())
	for i := 1; i < len(p.periods); i++ {
		p.periods[i] = newPeriod(0, 0, time.Time{})
	}
	p.nextPeriodID = 2
	return p, nil
}

// SetAccountView wires the issuer once it exists.
func (p *Pool) SetAccountView(view AccountView) {
	p.mu.Lock()
	p.deps.Accounts = view
	p.mu.Unlock()
}

func (p *Pool) SetEmitter(emitter events.Emitter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

func (p *Pool) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	p.mu.Lock()
	p.logger = logger.With(slog.String("component", "feepool"))
	p.mu.Unlock()
}

// SetClock overrides the time source and restarts the open period at the new
// clock when no fees were recorded yet.
func (p *Pool) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nowFn = now
	if p.periods[0].ID == 1 && p.periods[0].FeesToDistribute.Sign() == 0 {
		p.periods[0].StartTime = now()
	}
}

func (p *Pool) FeeAddress() crypto.Address { return p.deps.FeeAddress }

func (p *Pool) PeriodLength() int { return len(p.periods) }

// AddFeeRecorder authorises a collateral engine to record fees.
func (p *Pool) AddFeeRecorder(caller, recorder crypto.Address) error {
	if err := nativecommon.RequireCaller(caller, p.deps.Authority); err != nil {
		return err
	}
	p.mu.Lock()
	p.recorders[recorder] = struct{}{}
	p.mu.Unlock()
	return nil
}

func (p *Pool) requireRecorderLocked(caller crypto.Address) error {
	if caller.IsZero() {
		return nativecommon.ErrUnauthorized
	}
	if _, ok := p.recorders[caller]; !ok {
		return nativecommon.ErrUnauthorized
	}
	return nil
}

// RecordFeePaid credits amount of pUSD already held at the fee address to the
// open period.
func (p *Pool) RecordFeePaid(caller crypto.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireRecorderLocked(caller); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	open := &p.periods[0]
	open.FeesToDistribute = nativecommon.Add(open.FeesToDistribute, amount)
	p.emitter.Emit(events.FeesRecorded{Source: caller.String(), Amount: nativecommon.Copy(amount), PeriodID: open.ID})
	return nil
}

// SetRewardsToDistribute adds PERI rewards, held at the rewards address, to
// the open period.
func (p *Pool) SetRewardsToDistribute(caller crypto.Address, amount *big.Int) error {
	if err := nativecommon.RequireCaller(caller, p.deps.Authority); err != nil {
		return err
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	open := &p.periods[0]
	open.RewardsToDistribute = nativecommon.Add(open.RewardsToDistribute, amount)
	return nil
}

// AppendAccountIssuanceRecord stores the account's ownership after an
// issuance or burn. The history shifts when a new period started since the
// previous record.
func (p *Pool) AppendAccountIssuanceRecord(caller, account crypto.Address, ownership *big.Int, debtIndex uint64) error {
	if err := nativecommon.RequireCaller(caller, p.deps.Issuer); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	history := p.records[account]
	if history == nil {
		history = make([]IssuanceRecord, len(p.periods))
		for i := range history {
			history[i] = IssuanceRecord{Ownership: new(big.Int)}
		}
	}
	if history[0].DebtIndex < p.periods[0].StartingDebtIndex {
		copy(history[1:], history[:len(history)-1])
	}
	history[0] = IssuanceRecord{Ownership: nativecommon.Copy(ownership), DebtIndex: debtIndex}
	p.records[account] = history
	return nil
}

// IssuanceRecords returns the account's history, latest first.
func (p *Pool) IssuanceRecords(account crypto.Address) []IssuanceRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]IssuanceRecord, 0, len(p.records[account]))
	for _, rec := range p.records[account] {
		out = append(out, IssuanceRecord{Ownership: nativecommon.Copy(rec.Ownership), DebtIndex: rec.DebtIndex})
	}
	return out
}

// RecentFeePeriod returns period i of the ring, 0 being the open one.
func (p *Pool) RecentFeePeriod(i int) (FeePeriod, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.periods) {
		return FeePeriod{}, ErrPeriodOutOfRange
	}
	return p.periods[i].Clone(), nil
}

// Periods returns the whole ring, open period first.
func (p *Pool) Periods() []FeePeriod {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]FeePeriod, len(p.periods))
	for i, period := range p.periods {
		out[i] = period.Clone()
	}
	return out
}

func (p *Pool) LastFeeWithdrawal(account crypto.Address) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastWithdrawal[account]
}

// networkDebtShare is this network's share of the cross-network debt.
func (p *Pool) networkDebtShare() (*big.Int, error) {
	if p.deps.CrossChain == nil {
		return nativecommon.Copy(nativecommon.Unit), nil
	}
	if p.deps.Accounts == nil {
		return nil, fmt.Errorf("%w: account view", ErrMissingDependency)
	}
	local, invalid := p.deps.Accounts.LocalActiveDebt()
	if invalid {
		return nil, nativecommon.ErrRateInvalid
	}
	return p.deps.CrossChain.CurrentNetworkDebtPercentage(local), nil
}

// CloseCurrentFeePeriod closes the open period once its duration elapsed.
// Fees recorded during the period beyond this network's debt share are burned
// from the fee address. The oldest period's unclaimed remainder seeds the new
// open period and is not scaled again when that period closes.
func (p *Pool) CloseCurrentFeePeriod(caller crypto.Address, injectedRewards *big.Int) (FeePeriod, error) {
	if err := nativecommon.Guard(p.deps.Status, nativecommon.SectionIssuance); err != nil {
		return FeePeriod{}, err
	}
	if nativecommon.IsPositive(injectedRewards) {
		if err := nativecommon.RequireCaller(caller, p.deps.Authority); err != nil {
			return FeePeriod{}, err
		}
	}
	p.mu.RLock()
	open := p.periods[0]
	now := p.nowFn()
	p.mu.RUnlock()
	if now.Before(open.StartTime.Add(p.deps.Settings.FeePeriodDuration())) {
		return FeePeriod{}, ErrPeriodNotElapsed
	}
	share, err := p.networkDebtShare()
	if err != nil {
		return FeePeriod{}, err
	}
	startIndex := p.deps.Ledger.Length()

	p.mu.Lock()
	defer p.mu.Unlock()
	closing := &p.periods[0]
	carried := nativecommon.Min(closing.FeesCarried, closing.FeesToDistribute)
	recorded := nativecommon.SubFloor(closing.FeesToDistribute, carried)
	scaled := nativecommon.MulDecimal(recorded, share)
	burned := nativecommon.SubFloor(recorded, scaled)
	distributable := nativecommon.Add(scaled, carried)
	if burned.Sign() > 0 {
		burned = nativecommon.Min(burned, p.deps.Balances.BalanceOf(nativecommon.PUSD, p.deps.FeeAddress))
		if burned.Sign() > 0 {
			if err := p.deps.Balances.Burn(nativecommon.PUSD, p.deps.FeeAddress, burned); err != nil {
				return FeePeriod{}, err
			}
		}
	}
	closing.FeesToDistribute = distributable
	closing.FeesBurned = burned
	closing.NetworkDebtShare = share
	if nativecommon.IsPositive(injectedRewards) {
		closing.RewardsToDistribute = nativecommon.Add(closing.RewardsToDistribute, injectedRewards)
	}

	oldest := p.periods[len(p.periods)-1]
	next := newPeriod(p.nextPeriodID, startIndex, now)
	next.FeesToDistribute = oldest.UnclaimedFees()
	next.FeesCarried = nativecommon.Copy(next.FeesToDistribute)
	next.RewardsToDistribute = oldest.UnclaimedRewards()
	copy(p.periods[1:], p.periods[:len(p.periods)-1])
	p.periods[0] = next
	p.nextPeriodID++

	closed := p.periods[1].Clone()
	p.emitter.Emit(events.FeePeriodClosed{
		PeriodID:         closed.ID,
		FeesToDistribute: nativecommon.Copy(closed.FeesToDistribute),
		FeesBurned:       nativecommon.Copy(closed.FeesBurned),
		Rewards:          nativecommon.Copy(closed.RewardsToDistribute),
		NetworkDebtShare: nativecommon.Copy(closed.NetworkDebtShare),
		NextPeriodID:     next.ID,
		NextStartIndex:   startIndex,
		ClosedAt:         now,
	})
	p.logger.Info("fee period closed",
		slog.Uint64("periodId", closed.ID),
		slog.String("fees", nativecommon.FormatUnits(closed.FeesToDistribute)),
		slog.String("burned", nativecommon.FormatUnits(closed.FeesBurned)))
	return closed, nil
}

// applicableRecordLocked returns the latest record taken at or before
// closingIndex.
func (p *Pool) applicableRecordLocked(account crypto.Address, closingIndex uint64) (IssuanceRecord, bool) {
	for _, rec := range p.records[account] {
		if rec.DebtIndex <= closingIndex && rec.Ownership != nil {
			return rec, true
		}
	}
	return IssuanceRecord{}, false
}

// effectiveRatioLocked is the account's precise ownership of the debt pool at
// the close of ring slot period.
func (p *Pool) effectiveRatioLocked(account crypto.Address, period int) (*big.Int, bool) {
	next := p.periods[period-1]
	if p.periods[period].ID == 0 || next.StartingDebtIndex == 0 {
		return new(big.Int), false
	}
	closingIndex := next.StartingDebtIndex - 1
	rec, ok := p.applicableRecordLocked(account, closingIndex)
	if !ok || !nativecommon.IsPositive(rec.Ownership) {
		return new(big.Int), false
	}
	ratio, err := p.deps.Ledger.EffectiveOwnership(rec.Ownership, rec.DebtIndex, closingIndex)
	if err != nil {
		return new(big.Int), false
	}
	return ratio, true
}

// EffectiveDebtRatioForPeriod returns the account's ownership (unit scale)
// at the close of ring slot period, 1 being the most recently closed.
func (p *Pool) EffectiveDebtRatioForPeriod(account crypto.Address, period int) (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if period < 1 || period >= len(p.periods) {
		return nil, ErrPeriodOutOfRange
	}
	ratio, _ := p.effectiveRatioLocked(account, period)
	return nativecommon.PreciseToDecimalFloor(ratio), nil
}

type periodShare struct {
	fees    *big.Int
	rewards *big.Int
}

// feesByPeriodLocked computes the account's share of each closed period not
// yet withdrawn.
func (p *Pool) feesByPeriodLocked(account crypto.Address) []periodShare {
	out := make([]periodShare, len(p.periods))
	last := p.lastWithdrawal[account]
	for i := range out {
		out[i] = periodShare{fees: new(big.Int), rewards: new(big.Int)}
	}
	for i := len(p.periods) - 1; i > 0; i-- {
		period := p.periods[i]
		if period.ID == 0 || last >= period.ID {
			continue
		}
		ratio, ok := p.effectiveRatioLocked(account, i)
		if !ok {
			continue
		}
		share := nativecommon.PreciseToDecimalFloor(ratio)
		out[i].fees = nativecommon.MulDecimal(period.FeesToDistribute, share)
		out[i].rewards = nativecommon.MulDecimal(period.RewardsToDistribute, share)
	}
	return out
}

// FeesAvailable sums the account's unclaimed fees and rewards.
func (p *Pool) FeesAvailable(account crypto.Address) (*big.Int, *big.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fees, rewards := new(big.Int), new(big.Int)
	for _, share := range p.feesByPeriodLocked(account) {
		fees.Add(fees, share.fees)
		rewards.Add(rewards, share.rewards)
	}
	return fees, rewards
}

// TotalFeesAvailable is the unclaimed fees of every closed period.
func (p *Pool) TotalFeesAvailable() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := new(big.Int)
	for _, period := range p.periods[1:] {
		total.Add(total, period.UnclaimedFees())
	}
	return total
}

func (p *Pool) TotalRewardsAvailable() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := new(big.Int)
	for _, period := range p.periods[1:] {
		total.Add(total, period.UnclaimedRewards())
	}
	return total
}

// IsFeesClaimable is true while the account's ratio is within the target
// threshold. An invalid rate makes it unclaimable.
func (p *Pool) IsFeesClaimable(account crypto.Address) (bool, error) {
	p.mu.RLock()
	view := p.deps.Accounts
	p.mu.RUnlock()
	if view == nil {
		return false, fmt.Errorf("%w: account view", ErrMissingDependency)
	}
	ratio, invalid := view.CollateralisationRatioAndAnyRatesInvalid(account)
	target, targetInvalid := view.TargetRatio(account)
	if invalid || targetInvalid {
		return false, nativecommon.ErrRateInvalid
	}
	limit := nativecommon.MulDecimal(target, nativecommon.Add(nativecommon.Unit, p.deps.Settings.TargetThreshold()))
	return ratio.Cmp(limit) <= 0, nil
}

// recordPaymentLocked books amount against closed periods oldest first. It
// returns what could be booked.
func (p *Pool) recordPaymentLocked(amount *big.Int, rewards bool) *big.Int {
	remaining := nativecommon.Copy(amount)
	paid := new(big.Int)
	for i := len(p.periods) - 1; i > 0 && remaining.Sign() > 0; i-- {
		period := &p.periods[i]
		available := period.UnclaimedFees()
		if rewards {
			available = period.UnclaimedRewards()
		}
		if available.Sign() == 0 {
			continue
		}
		take := nativecommon.Min(available, remaining)
		if rewards {
			period.RewardsClaimed = nativecommon.Add(period.RewardsClaimed, take)
		} else {
			period.FeesClaimed = nativecommon.Add(period.FeesClaimed, take)
		}
		remaining.Sub(remaining, take)
		paid.Add(paid, take)
	}
	return paid
}

// ClaimFees pays the account its share of closed periods: pUSD from the fee
// address and PERI rewards from the rewards address.
func (p *Pool) ClaimFees(account crypto.Address) (*big.Int, *big.Int, error) {
	if err := nativecommon.Guard(p.deps.Status, nativecommon.SectionIssuance); err != nil {
		return nil, nil, err
	}
	claimable, err := p.IsFeesClaimable(account)
	if err != nil {
		return nil, nil, err
	}
	if !claimable {
		return nil, nil, ErrFeesNotClaimable
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fees, rewards := new(big.Int), new(big.Int)
	for _, share := range p.feesByPeriodLocked(account) {
		fees.Add(fees, share.fees)
		rewards.Add(rewards, share.rewards)
	}
	if fees.Sign() == 0 && rewards.Sign() == 0 {
		return nil, nil, ErrNothingToClaim
	}
	if rewards.Sign() > 0 && p.deps.Balances.BalanceOf(nativecommon.PERI, p.deps.RewardsAddress).Cmp(rewards) < 0 {
		return nil, nil, fmt.Errorf("%w: rewards address underfunded", ErrNothingToClaim)
	}
	fees = p.recordPaymentLocked(fees, false)
	rewards = p.recordPaymentLocked(rewards, true)
	if fees.Sign() > 0 {
		if err := p.deps.Balances.Transfer(nativecommon.PUSD, p.deps.FeeAddress, account, fees); err != nil {
			return nil, nil, err
		}
	}
	if rewards.Sign() > 0 {
		if err := p.deps.Balances.Transfer(nativecommon.PERI, p.deps.RewardsAddress, account, rewards); err != nil {
			return nil, nil, err
		}
	}
	lastID := p.periods[1].ID
	p.lastWithdrawal[account] = lastID
	p.emitter.Emit(events.FeesClaimed{Account: account, Fees: nativecommon.Copy(fees), Rewards: nativecommon.Copy(rewards), LastPeriodID: lastID})
	p.logger.Info("fees claimed",
		slog.String("account", account.String()),
		slog.String("fees", nativecommon.FormatUnits(fees)),
		slog.String("rewards", nativecommon.FormatUnits(rewards)))
	return fees, rewards, nil
}

// Accounts lists accounts with an issuance history, sorted.
func (p *Pool) Accounts() []crypto.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]crypto.Address, 0, len(p.records))
	for account := range p.records {
		out = append(out, account)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].String() < out[b].String() })
	return out
}
