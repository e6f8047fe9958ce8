package collateral

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pynthchain/crypto"
	"pynthchain/native/bank"
	nativecommon "pynthchain/native/common"
	"pynthchain/native/rates"
)

type feeSink struct {
	total *big.Int
}

func (f *feeSink) RecordFeePaid(_ crypto.Address, amount *big.Int) error {
	f.total = nativecommon.Add(f.total, amount)
	return nil
}

type fixedExchangeFee struct{ rate *big.Int }

func (f fixedExchangeFee) ExchangeFeeRate() *big.Int { return f.rate }

type env struct {
	bank      *bank.Ledger
	feed      *rates.Feed
	status    *nativecommon.SystemStatus
	manager   *Manager
	fees      *feeSink
	authority crypto.Address
	feeAddr   crypto.Address
	borrower  crypto.Address
	now       time.Time
}

func newEnv(t *testing.T, params RateParams) *env {
	t.Helper()
	e := &env{
		bank:      bank.NewLedger(),
		feed:      rates.NewFeed(0),
		status:    nativecommon.NewSystemStatus(),
		fees:      &feeSink{},
		authority: crypto.BytesToAddress([]byte{0xaa}),
		feeAddr:   crypto.ModuleAddress("fee-pool"),
		borrower:  crypto.BytesToAddress([]byte{0x01}),
		now:       time.Unix(1_700_000_000, 0).UTC(),
	}
	manager, err := NewManager(e.authority, e.bank, e.feed, nil, params)
	require.NoError(t, err)
	manager.SetClock(func() time.Time { return e.now })
	e.manager = manager
	require.NoError(t, e.feed.Update("ETH", nativecommon.Units(2000), time.Time{}, "test"))
	require.NoError(t, e.feed.Update("pETH", nativecommon.Units(2000), time.Time{}, "test"))
	return e
}

func (e *env) engine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	addr := crypto.ModuleAddress("collateral-" + cfg.Name)
	engine, err := NewEngine(cfg, addr, Deps{
		Manager:    e.manager,
		Balances:   e.bank,
		Rates:      e.feed,
		Status:     e.status,
		Fees:       e.fees,
		FeeAddress: e.feeAddr,
		Settings:   fixedExchangeFee{rate: nativecommon.MustParseUnits("0.003")},
	})
	require.NoError(t, err)
	engine.SetClock(func() time.Time { return e.now })
	require.NoError(t, e.manager.AddCollaterals(e.authority, map[crypto.Address]string{addr: cfg.Name}))
	return engine
}

func ethConfig() Config {
	return Config{
		Name:               "eth",
		Key:                "ETH",
		Decimals:           18,
		MinCratio:          nativecommon.Fraction(3, 2),
		MinCollateral:      nativecommon.Fraction(1, 10),
		IssueFeeRate:       nativecommon.Fraction(1, 100),
		LiquidationPenalty: nativecommon.Fraction(1, 10),
		CanOpenLoans:       true,
		Currencies:         []string{nativecommon.PUSD},
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := ethConfig()
	cfg.MinCratio = nativecommon.Fraction(11, 10)
	require.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = ethConfig()
	cfg.Currencies = nil
	require.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
	require.NoError(t, ethConfig().Validate())
}

func TestOpenRepayClose(t *testing.T) {
	e := newEnv(t, RateParams{})
	require.NoError(t, e.manager.AddPynths(e.authority, nativecommon.PUSD))
	engine := e.engine(t, ethConfig())
	require.NoError(t, e.bank.Issue("ETH", e.borrower, nativecommon.Units(10)))

	_, err := engine.Open(e.borrower, nativecommon.Units(1), nativecommon.Units(1400), nativecommon.PUSD, false)
	require.True(t, errors.Is(err, ErrExceedsMaxLoan))
	_, err = engine.Open(e.borrower, nativecommon.Units(1), nativecommon.Units(100), nativecommon.PUSD, true)
	require.True(t, errors.Is(err, ErrLoanTypeMismatch))
	_, err = engine.Open(e.borrower, nativecommon.Units(1), nativecommon.Units(100), "pBTC", false)
	require.True(t, errors.Is(err, ErrCurrencyNotSupported))
	_, err = engine.Open(e.borrower, nativecommon.Fraction(1, 100), nativecommon.Units(1), nativecommon.PUSD, false)
	require.True(t, errors.Is(err, ErrCollateralBelowMinimum))

	id, err := engine.Open(e.borrower, nativecommon.Units(1), nativecommon.Units(1000), nativecommon.PUSD, false)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.Equal(t, nativecommon.Units(990).String(), e.bank.BalanceOf(nativecommon.PUSD, e.borrower).String())
	require.Equal(t, nativecommon.Units(10).String(), e.bank.BalanceOf(nativecommon.PUSD, e.feeAddr).String())
	require.Equal(t, nativecommon.Units(10).String(), e.fees.total.String())
	require.Equal(t, nativecommon.Units(1000).String(), e.manager.Long(nativecommon.PUSD).String())

	ratio, invalid, err := engine.CollateralRatio(id)
	require.NoError(t, err)
	require.False(t, invalid)
	require.Equal(t, nativecommon.Units(2).String(), ratio.String())

	err = engine.Withdraw(e.borrower, id, nativecommon.Fraction(1, 2))
	require.True(t, errors.Is(err, ErrBelowMinCratio))
	require.NoError(t, engine.Withdraw(e.borrower, id, nativecommon.Fraction(1, 5)))

	require.NoError(t, engine.Repay(e.borrower, e.borrower, id, nativecommon.Units(500)))
	require.Equal(t, nativecommon.Units(500).String(), e.manager.Long(nativecommon.PUSD).String())
	err = engine.Repay(e.borrower, e.borrower, id, nativecommon.Units(501))
	require.True(t, errors.Is(err, ErrPaymentExceedsDebt))

	_, err = engine.Close(e.borrower, id)
	require.True(t, errors.Is(err, ErrInsufficientBalance))
	require.NoError(t, e.bank.Issue(nativecommon.PUSD, e.borrower, nativecommon.Units(10)))
	returned, err := engine.Close(e.borrower, id)
	require.NoError(t, err)
	require.Equal(t, nativecommon.Fraction(4, 5).String(), returned.String())
	require.Equal(t, "0", e.manager.Long(nativecommon.PUSD).String())

	loan, ok := engine.Loan(id)
	require.True(t, ok)
	require.True(t, loan.Closed)
	err = engine.Repay(e.borrower, e.borrower, id, nativecommon.Units(1))
	require.True(t, errors.Is(err, ErrLoanClosed))
	require.Len(t, engine.LoansOf(e.borrower), 1)
}

func TestLiquidateRestoresMinimumRatio(t *testing.T) {
	e := newEnv(t, RateParams{})
	require.NoError(t, e.manager.AddPynths(e.authority, nativecommon.PUSD))
	engine := e.engine(t, ethConfig())
	liquidator := crypto.BytesToAddress([]byte{0x02})
	require.NoError(t, e.bank.Issue("ETH", e.borrower, nativecommon.Units(1)))
	require.NoError(t, e.bank.Issue(nativecommon.PUSD, liquidator, nativecommon.Units(2000)))

	id, err := engine.Open(e.borrower, nativecommon.Units(1), nativecommon.Units(1300), nativecommon.PUSD, false)
	require.NoError(t, err)
	_, err = engine.Liquidate(liquidator, e.borrower, id, nativecommon.Units(100))
	require.True(t, errors.Is(err, ErrNotLiquidatable))

	require.NoError(t, e.feed.Update("ETH", nativecommon.Units(1500), time.Time{}, "test"))
	redeemed, err := engine.Liquidate(liquidator, e.borrower, id, nativecommon.Units(5000))
	require.NoError(t, err)
	require.True(t, redeemed.Cmp(nativecommon.Fraction(82, 100)) > 0)
	require.True(t, redeemed.Cmp(nativecommon.Fraction(83, 100)) < 0)
	require.Equal(t, redeemed.String(), e.bank.BalanceOf("ETH", liquidator).String())

	loan, _ := engine.Loan(id)
	require.False(t, loan.Closed)
	ratio, _, err := engine.CollateralRatio(id)
	require.NoError(t, err)
	require.True(t, ratio.Cmp(nativecommon.Fraction(149, 100)) > 0)
	require.True(t, ratio.Cmp(nativecommon.Fraction(151, 100)) < 0)
}

func TestInterestAccruesAndIsPaidFirst(t *testing.T) {
	e := newEnv(t, RateParams{BaseBorrowRate: nativecommon.Fraction(1, 10)})
	require.NoError(t, e.manager.AddPynths(e.authority, nativecommon.PUSD))
	cfg := ethConfig()
	cfg.InteractionDelay = time.Minute
	engine := e.engine(t, cfg)
	require.NoError(t, e.bank.Issue("ETH", e.borrower, nativecommon.Units(2)))

	id, err := engine.Open(e.borrower, nativecommon.Units(1), nativecommon.Units(1000), nativecommon.PUSD, false)
	require.NoError(t, err)
	err = engine.Deposit(e.borrower, e.borrower, id, nativecommon.Units(1))
	require.True(t, errors.Is(err, ErrRecentlyInteracted))

	e.now = e.now.Add(secondsPerYear * time.Second)
	require.NoError(t, engine.Repay(e.borrower, e.borrower, id, nativecommon.Units(50)))

	loan, _ := engine.Loan(id)
	require.Equal(t, nativecommon.Units(1000).String(), loan.Amount.String())
	require.True(t, loan.AccruedInterest.Sign() > 0)
	require.True(t, loan.AccruedInterest.Cmp(nativecommon.Units(50)) < 0)
	require.Equal(t, nativecommon.Units(60).String(), e.fees.total.String())
	require.Equal(t, nativecommon.Units(1000).String(), e.manager.Long(nativecommon.PUSD).String())
}

func TestShortCloseWithCollateral(t *testing.T) {
	e := newEnv(t, RateParams{})
	require.NoError(t, e.manager.AddShortablePynths(e.authority, "pETH"))
	engine := e.engine(t, Config{
		Name:               "short",
		Key:                nativecommon.PUSD,
		Decimals:           18,
		MinCratio:          nativecommon.Fraction(6, 5),
		LiquidationPenalty: nativecommon.Fraction(1, 10),
		IssueFeeRate:       nativecommon.Fraction(1, 100),
		CanOpenLoans:       true,
		Short:              true,
		Currencies:         []string{"pETH"},
	})
	require.NoError(t, e.bank.Issue(nativecommon.PUSD, e.borrower, nativecommon.Units(3000)))

	id, err := engine.Open(e.borrower, nativecommon.Units(3000), nativecommon.Units(1), "pETH", true)
	require.NoError(t, err)
	require.Equal(t, nativecommon.Units(1980).String(), e.bank.BalanceOf(nativecommon.PUSD, e.borrower).String())
	require.Equal(t, nativecommon.Units(1).String(), e.manager.Short("pETH").String())

	debt, coll, err := engine.ShortAndCollateral(e.borrower, id)
	require.NoError(t, err)
	require.Equal(t, nativecommon.Units(1).String(), debt.String())
	require.Equal(t, nativecommon.Units(3000).String(), coll.String())

	returned, err := engine.CloseWithCollateral(e.borrower, id)
	require.NoError(t, err)
	require.Equal(t, nativecommon.Units(994).String(), returned.String())
	require.Equal(t, nativecommon.Units(2974).String(), e.bank.BalanceOf(nativecommon.PUSD, e.borrower).String())
	require.Equal(t, nativecommon.Units(26).String(), e.bank.BalanceOf(nativecommon.PUSD, e.feeAddr).String())
	require.Equal(t, "0", e.manager.Short("pETH").String())
}

func TestSuspendedCollateralSection(t *testing.T) {
	e := newEnv(t, RateParams{})
	require.NoError(t, e.manager.AddPynths(e.authority, nativecommon.PUSD))
	engine := e.engine(t, ethConfig())
	require.NoError(t, e.bank.Issue("ETH", e.borrower, nativecommon.Units(1)))
	e.status.Suspend(nativecommon.SectionCollateral, "audit")
	_, err := engine.Open(e.borrower, nativecommon.Units(1), nativecommon.Units(100), nativecommon.PUSD, false)
	require.True(t, errors.Is(err, nativecommon.ErrSectionSuspended))
}

func TestEngineSnapshotRoundTrip(t *testing.T) {
	e := newEnv(t, RateParams{})
	require.NoError(t, e.manager.AddPynths(e.authority, nativecommon.PUSD))
	engine := e.engine(t, ethConfig())
	require.NoError(t, e.bank.Issue("ETH", e.borrower, nativecommon.Units(1)))
	id, err := engine.Open(e.borrower, nativecommon.Units(1), nativecommon.Units(500), nativecommon.PUSD, false)
	require.NoError(t, err)

	managerBlob, err := e.manager.ExportState()
	require.NoError(t, err)
	engineBlob, err := engine.ExportState()
	require.NoError(t, err)

	other := newEnv(t, RateParams{})
	restoredEngine := other.engine(t, ethConfig())
	require.NoError(t, other.manager.ImportState(managerBlob))
	require.NoError(t, restoredEngine.ImportState(engineBlob))

	loan, ok := restoredEngine.Loan(id)
	require.True(t, ok)
	require.Equal(t, nativecommon.Units(500).String(), loan.Amount.String())
	require.Equal(t, e.borrower, loan.Account)
	require.True(t, other.manager.IsPynthEnabled(nativecommon.PUSD))
	require.Equal(t, nativecommon.Units(500).String(), other.manager.Long(nativecommon.PUSD).String())
	next, err := other.manager.NextLoanID(restoredEngine.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(2), next)
}
