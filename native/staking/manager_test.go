package staking

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

var quota = nativecommon.Fraction(1, 5)

func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

type fixture struct {
	manager  *Manager
	bank     *bank.Ledger
	feed     *rates.Feed
	issuer   crypto.Address
	pool     crypto.Address
	account  crypto.Address
	receiver crypto.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bank:     bank.NewLedger(),
		feed:     rates.NewFeed(0),
		issuer:   crypto.ModuleAddress("issuer"),
		pool:     crypto.ModuleAddress("stake-pool"),
		account:  crypto.BytesToAddress([]byte{0x10}),
		receiver: crypto.BytesToAddress([]byte{0x20}),
	}
	f.manager = New(f.issuer, f.pool, f.bank, f.feed)
	require.NoError(t, f.manager.AddToken(Token{Key: "USDC", Decimals: 6, IssuanceRatio: nativecommon.Fraction(4, 5)}))
	require.NoError(t, f.feed.Update("USDC", nativecommon.Unit, time.Time{}, "test"))
	require.NoError(t, f.bank.Issue("USDC", f.account, usdc(1000)))
	return f
}

func TestStakeQuotaLimits(t *testing.T) {
	f := newFixture(t)

	err := f.manager.Stake(f.issuer, f.account, "USDC", usdc(25), nativecommon.Units(10), quota)
	require.True(t, errors.Is(err, ErrExceedsIssuingAmount))

	require.NoError(t, f.manager.Stake(f.issuer, f.account, "USDC", usdc(25), nativecommon.Units(100), quota))
	require.Equal(t, usdc(25).String(), f.manager.StakedAmountOf(f.account, "USDC").String())
	require.Equal(t, usdc(25).String(), f.bank.BalanceOf("USDC", f.pool).String())

	err = f.manager.Stake(f.issuer, f.account, "USDC", usdc(1), nativecommon.Units(100), quota)
	require.True(t, errors.Is(err, ErrExceedsQuota))

	err = f.manager.Stake(f.issuer, f.account, "DAI", usdc(1), nativecommon.Units(100), quota)
	require.True(t, errors.Is(err, ErrUnknownToken))

	err = f.manager.Stake(f.account, f.account, "USDC", usdc(1), nativecommon.Units(100), quota)
	require.True(t, errors.Is(err, nativecommon.ErrUnauthorized))
}

func TestStakeRejectsInvalidRate(t *testing.T) {
	f := newFixture(t)
	f.feed.Remove("USDC")
	err := f.manager.Stake(f.issuer, f.account, "USDC", usdc(1), nativecommon.Units(100), quota)
	require.True(t, errors.Is(err, nativecommon.ErrRateInvalid))
}

func TestStakeToMaxQuotaAndTargetRatio(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Stake(f.issuer, f.account, "USDC", usdc(25), nativecommon.Units(100), quota))

	staked, err := f.manager.StakeToMaxQuota(f.issuer, f.account, "USDC", nativecommon.Units(200), quota)
	require.NoError(t, err)
	require.Equal(t, usdc(25).String(), staked.String())
	require.Equal(t, usdc(50).String(), f.manager.TotalStaked("USDC").String())

	_, err = f.manager.StakeToMaxQuota(f.issuer, f.account, "USDC", nativecommon.Units(200), quota)
	require.True(t, errors.Is(err, ErrExceedsQuota))

	v := f.manager.Valuation(f.account)
	require.Equal(t, nativecommon.Units(50).String(), v.Value.String())
	require.Equal(t, nativecommon.Units(40).String(), v.IssuingValue.String())

	// Max issuable from the blended ratio equals rp*P + D_E.
	target, invalid := f.manager.TargetRatio(f.account, nativecommon.Units(400), nativecommon.Fraction(1, 4), quota)
	require.False(t, invalid)
	maxIssuable := nativecommon.MulDecimal(target, nativecommon.Units(450))
	diff := new(big.Int).Sub(nativecommon.Units(140), maxIssuable)
	require.True(t, diff.Sign() >= 0 && diff.Cmp(big.NewInt(1000)) < 0, "max issuable %s", maxIssuable)
}

func TestTargetRatioWithoutStake(t *testing.T) {
	f := newFixture(t)
	target, invalid := f.manager.TargetRatio(f.account, nativecommon.Units(400), nativecommon.Fraction(1, 4), quota)
	require.False(t, invalid)
	require.Equal(t, nativecommon.Fraction(1, 4).String(), target.String())
}

func TestUnstakeRequiresPrimaryBacking(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Stake(f.issuer, f.account, "USDC", usdc(25), nativecommon.Units(100), quota))
	primaryRatio := nativecommon.Fraction(1, 4)

	err := f.manager.Unstake(f.issuer, f.account, "USDC", usdc(26), nativecommon.Units(100), nativecommon.Units(400), primaryRatio)
	require.True(t, errors.Is(err, ErrExceedsStaked))

	err = f.manager.Unstake(f.issuer, f.account, "USDC", usdc(25), nativecommon.Units(110), nativecommon.Units(400), primaryRatio)
	require.True(t, errors.Is(err, ErrInsufficientCollateral))

	require.NoError(t, f.manager.Unstake(f.issuer, f.account, "USDC", usdc(10), nativecommon.Units(110), nativecommon.Units(400), primaryRatio))
	require.Equal(t, usdc(15).String(), f.manager.StakedAmountOf(f.account, "USDC").String())
	require.Equal(t, usdc(985).String(), f.bank.BalanceOf("USDC", f.account).String())
	require.True(t, f.manager.HasStake(f.account))
}

func TestRedeemMovesStakeToRecipient(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Stake(f.issuer, f.account, "USDC", usdc(25), nativecommon.Units(100), quota))

	redeemed, err := f.manager.Redeem(f.issuer, f.account, nativecommon.Units(10), f.receiver)
	require.NoError(t, err)
	require.Equal(t, nativecommon.Units(10).String(), redeemed.String())
	require.Equal(t, usdc(10).String(), f.bank.BalanceOf("USDC", f.receiver).String())
	require.Equal(t, usdc(15).String(), f.manager.StakedAmountOf(f.account, "USDC").String())

	// Asking for more than remains drains the position.
	redeemed, err = f.manager.Redeem(f.issuer, f.account, nativecommon.Units(100), f.receiver)
	require.NoError(t, err)
	require.Equal(t, nativecommon.Units(15).String(), redeemed.String())
	require.False(t, f.manager.HasStake(f.account))
	require.Equal(t, "0", f.manager.TotalStaked("USDC").String())
}

func TestRedeemValuesTruncatedAmount(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Stake(f.issuer, f.account, "USDC", usdc(25), nativecommon.Units(100), quota))

	// 10.0000005 pUSD is finer than USDC's six decimals.
	ask := nativecommon.Add(nativecommon.Units(10), big.NewInt(500_000_000_000))
	redeemed, err := f.manager.Redeem(f.issuer, f.account, ask, f.receiver)
	require.NoError(t, err)
	require.Equal(t, usdc(10).String(), f.bank.BalanceOf("USDC", f.receiver).String())
	require.Equal(t, nativecommon.Units(10).String(), redeemed.String())
	require.Equal(t, usdc(15).String(), f.manager.StakedAmountOf(f.account, "USDC").String())
}

func TestSnapshotRestoresTotals(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.Stake(f.issuer, f.account, "USDC", usdc(20), nativecommon.Units(100), quota))
	blob, err := f.manager.ExportState()
	require.NoError(t, err)

	restored := New(f.issuer, f.pool, f.bank, f.feed)
	require.NoError(t, restored.AddToken(Token{Key: "USDC", Decimals: 6, IssuanceRatio: nativecommon.Fraction(4, 5)}))
	require.NoError(t, restored.ImportState(blob))
	require.Equal(t, usdc(20).String(), restored.TotalStaked("USDC").String())
	require.Equal(t, usdc(20).String(), restored.StakedAmountOf(f.account, "USDC").String())
}
