package core

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"pynthchain/core/events"
	ledgerstate "pynthchain/core/state"
	"pynthchain/crypto"
	"pynthchain/native/bank"
	"pynthchain/native/collateral"
	nativecommon "pynthchain/native/common"
	"pynthchain/native/crosschain"
	"pynthchain/native/debtledger"
	"pynthchain/native/feepool"
	"pynthchain/native/issuer"
	"pynthchain/native/liquidations"
	"pynthchain/native/params"
	"pynthchain/native/rates"
	"pynthchain/native/staking"
	"pynthchain/observability/metrics"
	"pynthchain/storage"
)

var (
	ErrUnknownCollateralType = errors.New("node: unknown collateral type")
	ErrTransferExceedsFree   = errors.New("node: transfer exceeds transferable collateral")
	ErrPynthNotFundable      = errors.New("node: pynths can only be issued by the ledger")
	ErrInvalidOptions        = errors.New("node: invalid options")
)

const (
	moduleParams     = "params"
	moduleBank       = "bank"
	moduleDebtLedger = "debtledger"
	moduleCrossChain = "crosschain"
	moduleStaking    = "staking"
	moduleLiquidate  = "liquidations"
	moduleIssuer     = "issuer"
	moduleFeePool    = "feepool"
	moduleLoans      = "collateral/manager"
)

// Options configures a node. Module addresses are derived from fixed names.
type Options struct {
	NetworkID       uint64
	Authority       crypto.Address
	Oracle          crypto.Address
	Reporter        crypto.Address
	FeeAddress      crypto.Address
	RewardsAddress  crypto.Address
	Settings        params.Settings
	FeePeriodLength int
	LoanPynths      []string
	ShortablePynths []string
	LoanDebtLimit   *big.Int
	LoanRates       collateral.RateParams
	Collaterals     []collateral.Config
	StakingTokens   []staking.Token
	Logger          *slog.Logger
	Clock           func() time.Time
}

func (o Options) validate() error {
	if o.Authority.IsZero() {
		return fmt.Errorf("%w: authority required", ErrInvalidOptions)
	}
	if o.FeeAddress.IsZero() || o.RewardsAddress.IsZero() {
		return fmt.Errorf("%w: fee and rewards addresses required", ErrInvalidOptions)
	}
	if o.NetworkID == 0 {
		return fmt.Errorf("%w: network id required", ErrInvalidOptions)
	}
	return nil
}

// IssuerAddress is the orchestrator address of the issuer module.
func IssuerAddress() crypto.Address { return crypto.ModuleAddress("issuer") }

// StakePoolAddress holds external tokens while staked.
func StakePoolAddress() crypto.Address { return crypto.ModuleAddress("stake-pool") }

// CollateralAddress custodies the collateral of the named loan type.
func CollateralAddress(name string) crypto.Address {
	return crypto.ModuleAddress("collateral-" + name)
}

type snapshotter interface {
	ExportState() ([]byte, error)
	ImportState([]byte) error
}

type module struct {
	name  string
	state snapshotter
}

// Node is the serialising facade over the ledger modules. Every entry point
// runs under stateMu; mutations are checkpointed, rolled back on error and
// persisted on success.
type Node struct {
	db      storage.Database
	state   *ledgerstate.Manager
	stateMu sync.Mutex
	opts    Options
	logger  *slog.Logger

	bank     *bank.Ledger
	feed     *rates.Feed
	status   *nativecommon.SystemStatus
	params   *params.Store
	ledger   *debtledger.Ledger
	cross    *crosschain.Manager
	staking  *staking.Manager
	liq      *liquidations.Manager
	issuer   *issuer.Issuer
	pool     *feepool.Pool
	loans    *collateral.Manager
	engines  map[string]*collateral.Engine
	modules  []module
	buffer   *events.Buffer
	emitters events.Fanout
}

// NewNode wires every module, restores persisted snapshots from db and
// applies the configured registrations on top.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	manager := ledgerstate.NewManager(db)
	if err := manager.EnsureStateVersion(); err != nil {
		return nil, err
	}
	store, err := params.NewStore(opts.Authority, opts.Settings)
	if err != nil {
		return nil, err
	}
	store.SetState(manager)
	if _, err := store.Load(); err != nil {
		return nil, err
	}

	n := &Node{
		db:      db,
		state:   manager,
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", "node")),
		bank:    bank.NewLedger(),
		feed:    rates.NewFeed(store.RateStalePeriod()),
		status:  nativecommon.NewSystemStatus(),
		params:  store,
		engines: make(map[string]*collateral.Engine),
		buffer:  &events.Buffer{},
	}
	issuerAddr := IssuerAddress()
	n.ledger = debtledger.New(issuerAddr)
	n.cross = crosschain.New(opts.NetworkID, issuerAddr, opts.Reporter)
	n.staking = staking.New(issuerAddr, StakePoolAddress(), n.bank, n.feed)
	for _, token := range opts.StakingTokens {
		if err := n.staking.AddToken(token); err != nil {
			return nil, fmt.Errorf("staking token %s: %w", token.Key, err)
		}
	}
	n.liq = liquidations.New(issuerAddr, store, n.status)
	n.issuer, err = issuer.New(issuer.Deps{
		Address:      issuerAddr,
		Authority:    opts.Authority,
		Balances:     n.bank,
		Rates:        n.feed,
		Status:       n.status,
		Settings:     store,
		Ledger:       n.ledger,
		Staking:      n.staking,
		Liquidations: n.liq,
		CrossChain:   n.cross,
	})
	if err != nil {
		return nil, err
	}
	n.pool, err = feepool.New(feepool.Deps{
		Authority:      opts.Authority,
		Issuer:         issuerAddr,
		FeeAddress:     opts.FeeAddress,
		RewardsAddress: opts.RewardsAddress,
		Balances:       n.bank,
		Status:         n.status,
		Settings:       store,
		Ledger:         n.ledger,
		Accounts:       n.issuer,
		CrossChain:     n.cross,
		PeriodLength:   opts.FeePeriodLength,
	})
	if err != nil {
		return nil, err
	}
	n.issuer.SetFeePool(n.pool)
	n.loans, err = collateral.NewManager(opts.Authority, n.bank, n.feed, opts.LoanDebtLimit, opts.LoanRates)
	if err != nil {
		return nil, err
	}
	n.loans.SetDebtSource(n.issuer)
	n.issuer.SetLoanBook(n.loans)
	for _, cfg := range opts.Collaterals {
		engine, err := collateral.NewEngine(cfg, CollateralAddress(cfg.Name), collateral.Deps{
			Manager:    n.loans,
			Balances:   n.bank,
			Rates:      n.feed,
			Status:     n.status,
			Fees:       n.pool,
			FeeAddress: opts.FeeAddress,
			Settings:   store,
		})
		if err != nil {
			return nil, fmt.Errorf("collateral %s: %w", cfg.Name, err)
		}
		if _, dup := n.engines[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate collateral %s", ErrInvalidOptions, cfg.Name)
		}
		n.engines[cfg.Name] = engine
	}

	n.modules = []module{
		{moduleParams, store},
		{moduleBank, n.bank},
		{moduleDebtLedger, n.ledger},
		{moduleCrossChain, n.cross},
		{moduleStaking, n.staking},
		{moduleLiquidate, n.liq},
		{moduleIssuer, n.issuer},
		{moduleFeePool, n.pool},
		{moduleLoans, n.loans},
	}
	for _, name := range n.EngineNames() {
		n.modules = append(n.modules, module{"collateral/" + name, n.engines[name]})
	}
	if err := n.restore(); err != nil {
		return nil, err
	}
	if err := n.register(); err != nil {
		return nil, err
	}

	n.wireEmitters()
	n.issuer.SetLogger(opts.Logger)
	n.pool.SetLogger(opts.Logger)
	if opts.Clock != nil {
		n.setClock(opts.Clock)
	}
	n.emitters = events.Fanout{metrics.Ledger()}
	metrics.Ledger().SetFlagged(n.liq.Flagged())
	return n, nil
}

func (n *Node) restore() error {
	for _, m := range n.modules {
		if m.name == moduleParams {
			continue
		}
		blob, ok, err := n.state.Snapshot(m.name)
		if err != nil {
			return fmt.Errorf("load %s snapshot: %w", m.name, err)
		}
		if !ok {
			continue
		}
		if err := m.state.ImportState(blob); err != nil {
			return err
		}
		n.logger.Debug("restored snapshot", slog.String("module", m.name), slog.Int("bytes", len(blob)))
	}
	return nil
}

// register applies configured registrations. Every call is idempotent so it
// can run on top of restored snapshots.
func (n *Node) register() error {
	authority := n.opts.Authority
	for _, key := range n.opts.LoanPynths {
		if key == nativecommon.PUSD {
			continue
		}
		if err := n.issuer.AddPynth(authority, key); err != nil && !errors.Is(err, issuer.ErrPynthExists) {
			return err
		}
	}
	if len(n.opts.LoanPynths) > 0 {
		if err := n.loans.AddPynths(authority, n.opts.LoanPynths...); err != nil {
			return err
		}
	}
	if len(n.opts.ShortablePynths) > 0 {
		if err := n.loans.AddShortablePynths(authority, n.opts.ShortablePynths...); err != nil {
			return err
		}
	}
	registry := make(map[crypto.Address]string, len(n.engines))
	for name, engine := range n.engines {
		registry[engine.Address()] = name
		if err := n.pool.AddFeeRecorder(authority, engine.Address()); err != nil {
			return err
		}
	}
	if len(registry) > 0 {
		if err := n.loans.AddCollaterals(authority, registry); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) wireEmitters() {
	n.ledger.SetEmitter(n.buffer)
	n.cross.SetEmitter(n.buffer)
	n.staking.SetEmitter(n.buffer)
	n.liq.SetEmitter(n.buffer)
	n.issuer.SetEmitter(n.buffer)
	n.pool.SetEmitter(n.buffer)
	for _, engine := range n.engines {
		engine.SetEmitter(n.buffer)
	}
}

func (n *Node) setClock(now func() time.Time) {
	n.feed.SetClock(now)
	n.cross.SetClock(now)
	n.liq.SetClock(now)
	n.issuer.SetClock(now)
	n.pool.SetClock(now)
	n.loans.SetClock(now)
	for _, engine := range n.engines {
		engine.SetClock(now)
	}
}

// SetEmitter adds a downstream subscriber for committed events.
func (n *Node) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		return
	}
	n.stateMu.Lock()
	n.emitters = append(n.emitters, emitter)
	n.stateMu.Unlock()
}

// Close releases the underlying database.
func (n *Node) Close() error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if n.db == nil {
		return nil
	}
	return n.db.Close()
}

type checkpoint map[string][]byte

func (n *Node) checkpointLocked() (checkpoint, error) {
	cp := make(checkpoint, len(n.modules))
	for _, m := range n.modules {
		blob, err := m.state.ExportState()
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", m.name, err)
		}
		cp[m.name] = blob
	}
	return cp, nil
}

func (n *Node) rollbackLocked(cp checkpoint) error {
	var errs []error
	for _, m := range n.modules {
		if err := m.state.ImportState(cp[m.name]); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", m.name, err))
		}
	}
	return errors.Join(errs...)
}

// persistLocked writes the snapshots that changed since cp.
func (n *Node) persistLocked(cp checkpoint) error {
	for _, m := range n.modules {
		blob, err := m.state.ExportState()
		if err != nil {
			return err
		}
		if bytes.Equal(blob, cp[m.name]) {
			continue
		}
		if m.name == moduleParams {
			err = n.params.Persist()
		} else {
			err = n.state.PutSnapshot(m.name, blob)
		}
		if err != nil {
			return fmt.Errorf("persist %s: %w", m.name, err)
		}
	}
	return nil
}

// apply runs fn all-or-nothing. Events buffered by fn reach subscribers only
// once the new state is persisted.
func (n *Node) apply(op string, fn func() error) (err error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	defer func() { metrics.Ledger().ObserveOperation(op, err) }()

	cp, err := n.checkpointLocked()
	if err != nil {
		return err
	}
	n.buffer.Discard()
	if err = fn(); err == nil {
		err = n.persistLocked(cp)
	}
	if err != nil {
		n.buffer.Discard()
		if rerr := n.rollbackLocked(cp); rerr != nil {
			n.logger.Error("rollback failed", slog.String("operation", op), slog.Any("error", rerr))
			return errors.Join(err, rerr)
		}
		n.logger.Debug("operation rejected", slog.String("operation", op), slog.Any("error", err))
		return err
	}
	for _, ev := range n.buffer.Drain() {
		n.emitters.Emit(ev)
	}
	metrics.Ledger().SetFlagged(n.liq.Flagged())
	return nil
}

// view runs a read under the facade lock.
func (n *Node) view(fn func()) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	fn()
}

func (n *Node) engine(name string) (*collateral.Engine, error) {
	engine, ok := n.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollateralType, name)
	}
	return engine, nil
}

// EngineNames lists the configured collateral types, sorted.
func (n *Node) EngineNames() []string {
	names := make([]string, 0, len(n.engines))
	for name := range n.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --- Administration ---

// Fund credits a non-pynth balance, e.g. PERI or loan collateral.
func (n *Node) Fund(caller crypto.Address, key string, to crypto.Address, amount *big.Int) error {
	return n.apply("fund", func() error {
		if err := nativecommon.RequireCaller(caller, n.opts.Authority); err != nil {
			return err
		}
		for _, pynth := range n.issuer.Pynths() {
			if pynth == key {
				return fmt.Errorf("%w: %s", ErrPynthNotFundable, key)
			}
		}
		return n.bank.Issue(key, to, amount)
	})
}

// UpdateRate records an oracle price. A zero timestamp means now.
func (n *Node) UpdateRate(caller crypto.Address, key string, rate *big.Int, ts time.Time, source string) error {
	return n.apply("updateRate", func() error {
		if err := nativecommon.RequireCaller(caller, n.opts.Oracle, n.opts.Authority); err != nil {
			return err
		}
		return n.feed.Update(key, rate, ts, source)
	})
}

func (n *Node) Suspend(caller crypto.Address, section, reason string) error {
	return n.apply("suspend", func() error {
		if err := nativecommon.RequireCaller(caller, n.opts.Authority); err != nil {
			return err
		}
		n.status.Suspend(section, reason)
		n.logger.Warn("section suspended", slog.String("section", section), slog.String("reason", reason))
		return nil
	})
}

func (n *Node) Resume(caller crypto.Address, section string) error {
	return n.apply("resume", func() error {
		if err := nativecommon.RequireCaller(caller, n.opts.Authority); err != nil {
			return err
		}
		n.status.Resume(section)
		return nil
	})
}

// ApplySettings replaces the governance settings.
func (n *Node) ApplySettings(caller crypto.Address, next params.Settings) error {
	return n.apply("applySettings", func() error {
		if err := n.params.Apply(caller, next); err != nil {
			return err
		}
		n.feed.SetStalePeriod(n.params.RateStalePeriod())
		return nil
	})
}

// Transfer moves a balance. PERI transfers are limited to collateral not
// locked by debt.
func (n *Node) Transfer(from, to crypto.Address, key string, amount *big.Int) error {
	return n.apply("transfer", func() error {
		if err := nativecommon.Guard(n.status, nativecommon.SectionSystem); err != nil {
			return err
		}
		if key == nativecommon.PERI {
			free, invalid := n.issuer.TransferableCollateral(from)
			if invalid {
				return nativecommon.ErrRateInvalid
			}
			if nativecommon.Copy(amount).Cmp(free) > 0 {
				return ErrTransferExceedsFree
			}
		}
		return n.bank.Transfer(key, from, to, amount)
	})
}

// --- Issuance ---

func (n *Node) IssuePynths(account crypto.Address, amount *big.Int) error {
	return n.apply("issue", func() error { return n.issuer.Issue(account, amount) })
}

func (n *Node) IssueMaxPynths(account crypto.Address) (issued *big.Int, err error) {
	err = n.apply("issueMax", func() error {
		issued, err = n.issuer.IssueMax(account)
		return err
	})
	return issued, err
}

func (n *Node) IssuePynthsWithToken(account crypto.Address, key string, stakeAmount, issueAmount *big.Int) error {
	return n.apply("issueWithToken", func() error {
		return n.issuer.IssueWithToken(account, key, stakeAmount, issueAmount)
	})
}

func (n *Node) BurnPynths(account crypto.Address, amount *big.Int) (burned *big.Int, err error) {
	err = n.apply("burn", func() error {
		burned, err = n.issuer.Burn(account, amount)
		return err
	})
	return burned, err
}

func (n *Node) BurnPynthsToTarget(account crypto.Address) (burned *big.Int, err error) {
	err = n.apply("burnToTarget", func() error {
		burned, err = n.issuer.BurnToTarget(account)
		return err
	})
	return burned, err
}

func (n *Node) BurnPynthsAndUnstake(account crypto.Address, burnAmount *big.Int, key string, unstakeAmount *big.Int) error {
	return n.apply("burnAndUnstake", func() error {
		return n.issuer.BurnAndUnstake(account, burnAmount, key, unstakeAmount)
	})
}

func (n *Node) Stake(account crypto.Address, key string, amount *big.Int) error {
	return n.apply("stake", func() error { return n.issuer.Stake(account, key, amount) })
}

func (n *Node) StakeToMaxQuota(account crypto.Address, key string) (staked *big.Int, err error) {
	err = n.apply("stakeToMaxQuota", func() error {
		staked, err = n.issuer.StakeToMaxQuota(account, key)
		return err
	})
	return staked, err
}

func (n *Node) Unstake(account crypto.Address, key string, amount *big.Int) error {
	return n.apply("unstake", func() error { return n.issuer.Unstake(account, key, amount) })
}

func (n *Node) AddPynth(caller crypto.Address, key string) error {
	return n.apply("addPynth", func() error { return n.issuer.AddPynth(caller, key) })
}

func (n *Node) RemovePynth(caller crypto.Address, key string) error {
	return n.apply("removePynth", func() error { return n.issuer.RemovePynth(caller, key) })
}

// --- Liquidations ---

func (n *Node) FlagAccountForLiquidation(account crypto.Address) (deadline time.Time, err error) {
	err = n.apply("flagAccount", func() error {
		deadline, err = n.liq.FlagAccountForLiquidation(account)
		return err
	})
	return deadline, err
}

func (n *Node) CheckAndRemoveAccountInLiquidation(account crypto.Address) (removed bool, err error) {
	err = n.apply("checkAndRemove", func() error {
		removed, err = n.liq.CheckAndRemoveAccountInLiquidation(account)
		return err
	})
	return removed, err
}

func (n *Node) LiquidateDelinquentAccount(liquidator, account crypto.Address, amount *big.Int) (result issuer.LiquidationResult, err error) {
	err = n.apply("liquidateAccount", func() error {
		result, err = n.issuer.LiquidateDelinquentAccount(liquidator, account, amount)
		return err
	})
	return result, err
}

// --- Fee pool ---

func (n *Node) CloseCurrentFeePeriod(caller crypto.Address, injectedRewards *big.Int) (closed feepool.FeePeriod, err error) {
	err = n.apply("closeFeePeriod", func() error {
		closed, err = n.pool.CloseCurrentFeePeriod(caller, injectedRewards)
		return err
	})
	return closed, err
}

func (n *Node) ClaimFees(account crypto.Address) (fees, rewards *big.Int, err error) {
	err = n.apply("claimFees", func() error {
		fees, rewards, err = n.pool.ClaimFees(account)
		return err
	})
	return fees, rewards, err
}

func (n *Node) SetRewardsToDistribute(caller crypto.Address, amount *big.Int) error {
	return n.apply("setRewards", func() error { return n.pool.SetRewardsToDistribute(caller, amount) })
}

// --- Cross-network debt ---

func (n *Node) ApplyDebtReport(caller crypto.Address, report crosschain.Report) (result crosschain.ReportResult, err error) {
	err = n.apply("applyDebtReport", func() error {
		result, err = n.cross.ApplyReport(caller, report)
		return err
	})
	return result, err
}

func (n *Node) SetCrossNetworkDebt(caller crypto.Address, update crosschain.DebtUpdate) (applied bool, err error) {
	err = n.apply("setCrossNetworkDebt", func() error {
		applied, err = n.cross.SetCrossNetworkDebt(caller, update)
		return err
	})
	return applied, err
}

// --- Loans ---

func (n *Node) OpenLoan(kind string, borrower crypto.Address, collateralAmount, amount *big.Int, currency string, short bool) (id uint64, err error) {
	err = n.apply("openLoan", func() error {
		engine, err := n.engine(kind)
		if err != nil {
			return err
		}
		id, err = engine.Open(borrower, collateralAmount, amount, currency, short)
		return err
	})
	return id, err
}

func (n *Node) DepositCollateral(kind string, caller, borrower crypto.Address, id uint64, amount *big.Int) error {
	return n.apply("depositCollateral", func() error {
		engine, err := n.engine(kind)
		if err != nil {
			return err
		}
		return engine.Deposit(caller, borrower, id, amount)
	})
}

func (n *Node) WithdrawCollateral(kind string, borrower crypto.Address, id uint64, amount *big.Int) error {
	return n.apply("withdrawCollateral", func() error {
		engine, err := n.engine(kind)
		if err != nil {
			return err
		}
		return engine.Withdraw(borrower, id, amount)
	})
}

func (n *Node) DrawLoan(kind string, borrower crypto.Address, id uint64, amount *big.Int) error {
	return n.apply("drawLoan", func() error {
		engine, err := n.engine(kind)
		if err != nil {
			return err
		}
		return engine.Draw(borrower, id, amount)
	})
}

func (n *Node) RepayLoan(kind string, repayer, borrower crypto.Address, id uint64, amount *big.Int) error {
	return n.apply("repayLoan", func() error {
		engine, err := n.engine(kind)
		if err != nil {
			return err
		}
		return engine.Repay(repayer, borrower, id, amount)
	})
}

func (n *Node) RepayLoanWithCollateral(kind string, borrower crypto.Address, id uint64, amount *big.Int) error {
	return n.apply("repayWithCollateral", func() error {
		engine, err := n.engine(kind)
		if err != nil {
			return err
		}
		return engine.RepayWithCollateral(borrower, id, amount)
	})
}

func (n *Node) CloseLoan(kind string, borrower crypto.Address, id uint64) (returned *big.Int, err error) {
	err = n.apply("closeLoan", func() error {
		engine, err := n.engine(kind)
		if err != nil {
			return err
		}
		returned, err = engine.Close(borrower, id)
		return err
	})
	return returned, err
}

func (n *Node) CloseLoanWithCollateral(kind string, borrower crypto.Address, id uint64) (returned *big.Int, err error) {
	err = n.apply("closeLoanWithCollateral", func() error {
		engine, err := n.engine(kind)
		if err != nil {
			return err
		}
		returned, err = engine.CloseWithCollateral(borrower, id)
		return err
	})
	return returned, err
}

func (n *Node) LiquidateLoan(kind string, liquidator, borrower crypto.Address, id uint64, amount *big.Int) (redeemed *big.Int, err error) {
	err = n.apply("liquidateLoan", func() error {
		engine, err := n.engine(kind)
		if err != nil {
			return err
		}
		redeemed, err = engine.Liquidate(liquidator, borrower, id, amount)
		return err
	})
	return redeemed, err
}
