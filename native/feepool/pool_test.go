package feepool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pynthchain/crypto"
	"pynthchain/native/bank"
	nativecommon "pynthchain/native/common"
	"pynthchain/native/crosschain"
	"pynthchain/native/debtledger"
	"pynthchain/native/issuer"
	"pynthchain/native/liquidations"
	"pynthchain/native/params"
	"pynthchain/native/rates"
	"pynthchain/native/staking"
)

var (
	alice = crypto.BytesToAddress([]byte{0x01})
	bob   = crypto.BytesToAddress([]byte{0x02})
)

type harness struct {
	pool      *Pool
	issuer    *issuer.Issuer
	bank      *bank.Ledger
	feed      *rates.Feed
	cross     *crosschain.Manager
	authority crypto.Address
	reporter  crypto.Address
	engine    crypto.Address
	feeAddr   crypto.Address
	rewards   crypto.Address
	now       time.Time
}

func newHarness(t *testing.T, length int) *harness {
	t.Helper()
	h := &harness{
		bank:      bank.NewLedger(),
		feed:      rates.NewFeed(0),
		authority: crypto.BytesToAddress([]byte{0xaa}),
		reporter:  crypto.ModuleAddress("reporter"),
		engine:    crypto.ModuleAddress("collateral-eth"),
		feeAddr:   crypto.ModuleAddress("fee-pool"),
		rewards:   crypto.ModuleAddress("rewards"),
		now:       time.Unix(1_700_000_000, 0).UTC(),
	}
	status := nativecommon.NewSystemStatus()
	store, err := params.NewStore(h.authority, params.DefaultSettings())
	require.NoError(t, err)
	issuerAddr := crypto.ModuleAddress("issuer")
	ledger := debtledger.New(issuerAddr)
	h.cross = crosschain.New(1, issuerAddr, h.reporter)
	liq := liquidations.New(issuerAddr, store, status)
	iss, err := issuer.New(issuer.Deps{
		Address:      issuerAddr,
		Authority:    h.authority,
		Balances:     h.bank,
		Rates:        h.feed,
		Status:       status,
		Settings:     store,
		Ledger:       ledger,
		Staking:      staking.New(issuerAddr, crypto.ModuleAddress("stake-pool"), h.bank, h.feed),
		Liquidations: liq,
		CrossChain:   h.cross,
	})
	require.NoError(t, err)
	iss.SetClock(func() time.Time { return h.now })
	pool, err := New(Deps{
		Authority:      h.authority,
		Issuer:         issuerAddr,
		FeeAddress:     h.feeAddr,
		RewardsAddress: h.rewards,
		Balances:       h.bank,
		Status:         status,
		Settings:       store,
		Ledger:         ledger,
		Accounts:       iss,
		CrossChain:     h.cross,
		PeriodLength:   length,
	})
	require.NoError(t, err)
	pool.SetClock(func() time.Time { return h.now })
	iss.SetFeePool(pool)
	require.NoError(t, pool.AddFeeRecorder(h.authority, h.engine))
	h.pool = pool
	h.issuer = iss

	require.NoError(t, h.feed.Update(nativecommon.PERI, nativecommon.Units(4), time.Time{}, "test"))
	for _, account := range []crypto.Address{alice, bob} {
		require.NoError(t, h.bank.Issue(nativecommon.PERI, account, nativecommon.Units(1000)))
	}
	require.NoError(t, iss.Issue(alice, nativecommon.Units(100)))
	require.NoError(t, iss.Issue(bob, nativecommon.Units(300)))
	return h
}

// payFees mimics a collateral engine: pUSD lands at the fee address and is
// recorded against the open period.
func (h *harness) payFees(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, h.bank.Issue(nativecommon.PUSD, h.feeAddr, nativecommon.Units(amount)))
	require.NoError(t, h.pool.RecordFeePaid(h.engine, nativecommon.Units(amount)))
}

func (h *harness) closePeriod(t *testing.T) FeePeriod {
	t.Helper()
	h.now = h.now.Add(7 * 24 * time.Hour)
	closed, err := h.pool.CloseCurrentFeePeriod(h.authority, nil)
	require.NoError(t, err)
	return closed
}

func TestNewRejectsInvalidLength(t *testing.T) {
	_, err := New(Deps{PeriodLength: 7})
	require.ErrorIs(t, err, ErrInvalidPeriodLength)
	_, err = New(Deps{PeriodLength: 1})
	require.ErrorIs(t, err, ErrInvalidPeriodLength)
}

func TestFeesDistributedByDebtOwnership(t *testing.T) {
	h := newHarness(t, 0)
	h.payFees(t, 40)

	_, err := h.pool.CloseCurrentFeePeriod(h.authority, nil)
	require.ErrorIs(t, err, ErrPeriodNotElapsed)

	closed := h.closePeriod(t)
	require.Equal(t, uint64(1), closed.ID)
	require.Equal(t, nativecommon.Units(40).String(), closed.FeesToDistribute.String())
	require.Zero(t, closed.FeesBurned.Sign())

	open, err := h.pool.RecentFeePeriod(0)
	require.NoError(t, err)
	require.Equal(t, uint64(2), open.ID)
	require.Equal(t, uint64(2), open.StartingDebtIndex)

	ratio, err := h.pool.EffectiveDebtRatioForPeriod(alice, 1)
	require.NoError(t, err)
	require.Equal(t, nativecommon.Fraction(1, 4).String(), ratio.String())

	fees, rewards := h.pool.FeesAvailable(alice)
	require.Equal(t, nativecommon.Units(10).String(), fees.String())
	require.Zero(t, rewards.Sign())
	fees, _ = h.pool.FeesAvailable(bob)
	require.Equal(t, nativecommon.Units(30).String(), fees.String())

	paid, _, err := h.pool.ClaimFees(alice)
	require.NoError(t, err)
	require.Equal(t, nativecommon.Units(10).String(), paid.String())
	require.Equal(t, nativecommon.Units(110).String(), h.bank.BalanceOf(nativecommon.PUSD, alice).String())
	require.Equal(t, uint64(1), h.pool.LastFeeWithdrawal(alice))
	require.Equal(t, nativecommon.Units(30).String(), h.pool.TotalFeesAvailable().String())

	_, _, err = h.pool.ClaimFees(alice)
	require.ErrorIs(t, err, ErrNothingToClaim)

	_, _, err = h.pool.ClaimFees(bob)
	require.NoError(t, err)
	require.Zero(t, h.bank.BalanceOf(nativecommon.PUSD, h.feeAddr).Sign())
	require.Zero(t, h.pool.TotalFeesAvailable().Sign())
}

func TestCloseScalesFeesByNetworkDebtShare(t *testing.T) {
	h := newHarness(t, 0)
	h.payFees(t, 40)
	_, err := h.cross.SetCrossNetworkDebt(h.reporter, crosschain.DebtUpdate{
		NetworkID:  2,
		IssuedDebt: nativecommon.Units(400),
		ActiveDebt: nativecommon.Units(440),
		Version:    1,
	})
	require.NoError(t, err)

	closed := h.closePeriod(t)
	require.Equal(t, nativecommon.Fraction(1, 2).String(), closed.NetworkDebtShare.String())
	require.Equal(t, nativecommon.Units(20).String(), closed.FeesToDistribute.String())
	require.Equal(t, nativecommon.Units(20).String(), closed.FeesBurned.String())
	require.Equal(t, nativecommon.Units(20).String(), h.bank.BalanceOf(nativecommon.PUSD, h.feeAddr).String())
}

func TestUnclaimedFeesRollIntoOpenPeriod(t *testing.T) {
	h := newHarness(t, 2)
	h.payFees(t, 40)
	h.closePeriod(t)

	h.now = h.now.Add(7 * 24 * time.Hour)
	_, err := h.pool.CloseCurrentFeePeriod(alice, nativecommon.Units(5))
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)
	_, err = h.pool.CloseCurrentFeePeriod(alice, nil)
	require.NoError(t, err)

	open, err := h.pool.RecentFeePeriod(0)
	require.NoError(t, err)
	require.Equal(t, uint64(3), open.ID)
	require.Equal(t, nativecommon.Units(40).String(), open.FeesToDistribute.String())
	require.Zero(t, h.pool.TotalFeesAvailable().Sign())

	fees, _ := h.pool.FeesAvailable(alice)
	require.Zero(t, fees.Sign())
	require.Equal(t, nativecommon.Units(40).String(), h.bank.BalanceOf(nativecommon.PUSD, h.feeAddr).String())
}

func TestRolledOverFeesAreNotBurnedTwice(t *testing.T) {
	h := newHarness(t, 2)
	_, err := h.cross.SetCrossNetworkDebt(h.reporter, crosschain.DebtUpdate{
		NetworkID:  2,
		IssuedDebt: nativecommon.Units(400),
		ActiveDebt: nativecommon.Units(440),
		Version:    1,
	})
	require.NoError(t, err)

	h.payFees(t, 40)
	first := h.closePeriod(t)
	require.Equal(t, nativecommon.Units(20).String(), first.FeesBurned.String())
	second := h.closePeriod(t)
	require.Zero(t, second.FeesBurned.Sign())

	open, err := h.pool.RecentFeePeriod(0)
	require.NoError(t, err)
	require.Equal(t, uint64(3), open.ID)
	require.Equal(t, nativecommon.Units(20).String(), open.FeesCarried.String())

	// Local pUSD supply is now 430, keep the share at one half.
	h.payFees(t, 10)
	_, err = h.cross.SetCrossNetworkDebt(h.reporter, crosschain.DebtUpdate{
		NetworkID:  2,
		IssuedDebt: nativecommon.Units(400),
		ActiveDebt: nativecommon.Units(430),
		Version:    2,
	})
	require.NoError(t, err)
	third := h.closePeriod(t)
	require.Equal(t, nativecommon.Units(5).String(), third.FeesBurned.String())
	require.Equal(t, nativecommon.Units(25).String(), third.FeesToDistribute.String())
	require.Equal(t, nativecommon.Units(25).String(), h.bank.BalanceOf(nativecommon.PUSD, h.feeAddr).String())

	blob, err := h.pool.ExportState()
	require.NoError(t, err)
	other := newHarness(t, 2)
	require.NoError(t, other.pool.ImportState(blob))
	restored, err := other.pool.RecentFeePeriod(1)
	require.NoError(t, err)
	require.Equal(t, nativecommon.Units(20).String(), restored.FeesCarried.String())
}

func TestRewardsAndClaimThreshold(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.bank.Issue(nativecommon.PERI, h.rewards, nativecommon.Units(100)))
	require.ErrorIs(t, h.pool.SetRewardsToDistribute(alice, nativecommon.Units(60)), nativecommon.ErrUnauthorized)
	require.NoError(t, h.pool.SetRewardsToDistribute(h.authority, nativecommon.Units(60)))

	h.now = h.now.Add(7 * 24 * time.Hour)
	closed, err := h.pool.CloseCurrentFeePeriod(h.authority, nativecommon.Units(40))
	require.NoError(t, err)
	require.Equal(t, nativecommon.Units(100).String(), closed.RewardsToDistribute.String())

	_, rewards := h.pool.FeesAvailable(bob)
	require.Equal(t, nativecommon.Units(75).String(), rewards.String())

	require.NoError(t, h.feed.Update(nativecommon.PERI, nativecommon.Fraction(1, 10), time.Time{}, "test"))
	claimable, err := h.pool.IsFeesClaimable(bob)
	require.NoError(t, err)
	require.False(t, claimable)
	_, _, err = h.pool.ClaimFees(bob)
	require.ErrorIs(t, err, ErrFeesNotClaimable)

	require.NoError(t, h.feed.Update(nativecommon.PERI, nativecommon.Units(4), time.Time{}, "test"))
	fees, paid, err := h.pool.ClaimFees(bob)
	require.NoError(t, err)
	require.Zero(t, fees.Sign())
	require.Equal(t, nativecommon.Units(75).String(), paid.String())
	require.Equal(t, nativecommon.Units(1075).String(), h.bank.BalanceOf(nativecommon.PERI, bob).String())
	require.Equal(t, nativecommon.Units(25).String(), h.pool.TotalRewardsAvailable().String())
}

func TestRecordFeePaidRequiresRecorder(t *testing.T) {
	h := newHarness(t, 0)
	err := h.pool.RecordFeePaid(alice, nativecommon.Units(1))
	require.True(t, errors.Is(err, nativecommon.ErrUnauthorized))
	require.ErrorIs(t, h.pool.RecordFeePaid(h.engine, nil), ErrInvalidAmount)
	require.ErrorIs(t, h.pool.AppendAccountIssuanceRecord(alice, alice, nativecommon.Unit, 0), nativecommon.ErrUnauthorized)
}

func TestIssuanceHistoryShiftsPerPeriod(t *testing.T) {
	h := newHarness(t, 3)
	require.Len(t, h.pool.IssuanceRecords(alice), 3)
	h.payFees(t, 40)
	h.closePeriod(t)
	h.now = h.now.Add(24 * time.Hour)
	require.NoError(t, h.issuer.Issue(alice, nativecommon.Units(10)))

	history := h.pool.IssuanceRecords(alice)
	require.Equal(t, uint64(2), history[0].DebtIndex)
	require.Equal(t, uint64(0), history[1].DebtIndex)
	require.Equal(t, nativecommon.PreciseUnit.String(), history[1].Ownership.String())

	fees, _ := h.pool.FeesAvailable(alice)
	require.Equal(t, nativecommon.Units(10).String(), fees.String())
}

func TestPoolSnapshotRoundTrip(t *testing.T) {
	h := newHarness(t, 0)
	h.payFees(t, 40)
	h.closePeriod(t)
	_, _, err := h.pool.ClaimFees(alice)
	require.NoError(t, err)
	blob, err := h.pool.ExportState()
	require.NoError(t, err)

	other := newHarness(t, 0)
	require.NoError(t, other.pool.ImportState(blob))
	require.Equal(t, uint64(1), other.pool.LastFeeWithdrawal(alice))
	closed, err := other.pool.RecentFeePeriod(1)
	require.NoError(t, err)
	require.Equal(t, nativecommon.Units(10).String(), closed.FeesClaimed.String())
	want, got := h.pool.IssuanceRecords(bob), other.pool.IssuanceRecords(bob)
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].DebtIndex, got[i].DebtIndex)
		require.Equal(t, want[i].Ownership.String(), got[i].Ownership.String())
	}
	require.NoError(t, other.pool.RecordFeePaid(h.engine, nativecommon.Units(1)))

	short := newHarness(t, 3)
	require.ErrorIs(t, short.pool.ImportState(blob), ErrInvalidPeriodLength)
}
