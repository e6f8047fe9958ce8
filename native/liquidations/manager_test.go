package liquidations

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
	"pynthchain/native/params"
)

type stubView struct {
	ratio      *big.Int
	target     *big.Int
	collateral *big.Int
	invalid    bool
}

func (s *stubView) CollateralisationRatioAndAnyRatesInvalid(crypto.Address) (*big.Int, bool) {
	return nativecommon.Copy(s.ratio), s.invalid
}

func (s *stubView) TargetRatio(crypto.Address) (*big.Int, bool) {
	return nativecommon.Copy(s.target), false
}

func (s *stubView) CollateralValue(crypto.Address) (*big.Int, bool) {
	return nativecommon.Copy(s.collateral), false
}

type harness struct {
	manager *Manager
	view    *stubView
	status  *nativecommon.SystemStatus
	issuer  crypto.Address
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	authority := crypto.BytesToAddress([]byte{0xaa})
	store, err := params.NewStore(authority, params.DefaultSettings())
	require.NoError(t, err)
	h := &harness{
		view:   &stubView{ratio: nativecommon.Fraction(3, 4), target: nativecommon.Fraction(1, 4), collateral: nativecommon.Units(800)},
		status: nativecommon.NewSystemStatus(),
		issuer: crypto.ModuleAddress("issuer"),
		now:    time.Unix(1_700_000_000, 0).UTC(),
	}
	h.manager = New(h.issuer, store, h.status)
	h.manager.SetAccountView(h.view)
	h.manager.SetClock(func() time.Time { return h.now })
	return h
}

func TestFlagLifecycle(t *testing.T) {
	h := newHarness(t)
	account := crypto.BytesToAddress([]byte{0x01})

	deadline, err := h.manager.FlagAccountForLiquidation(account)
	require.NoError(t, err)
	require.True(t, h.now.Add(72*time.Hour).Equal(deadline))

	_, err = h.manager.FlagAccountForLiquidation(account)
	require.True(t, errors.Is(err, ErrAlreadyFlagged))
	require.False(t, h.manager.IsOpenForLiquidation(account))

	h.now = h.now.Add(72*time.Hour + time.Second)
	require.True(t, h.manager.IsOpenForLiquidation(account))

	// Ratio recovers below the liquidation ratio: no longer open, flag stays.
	h.view.ratio = nativecommon.Fraction(2, 5)
	require.False(t, h.manager.IsOpenForLiquidation(account))
	removed, err := h.manager.CheckAndRemoveAccountInLiquidation(account)
	require.NoError(t, err)
	require.False(t, removed)
	require.True(t, h.manager.IsFlagged(account))

	h.view.ratio = nativecommon.Fraction(1, 5)
	removed, err = h.manager.CheckAndRemoveAccountInLiquidation(account)
	require.NoError(t, err)
	require.True(t, removed)
	_, ok := h.manager.LiquidationDeadlineForAccount(account)
	require.False(t, ok)

	// Second check is a no-op.
	removed, err = h.manager.CheckAndRemoveAccountInLiquidation(account)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestFlagRejections(t *testing.T) {
	h := newHarness(t)
	account := crypto.BytesToAddress([]byte{0x02})

	h.view.ratio = nativecommon.Fraction(1, 4)
	_, err := h.manager.FlagAccountForLiquidation(account)
	require.True(t, errors.Is(err, ErrNotLiquidatable))

	h.view.ratio = nativecommon.Fraction(3, 4)
	h.view.invalid = true
	_, err = h.manager.FlagAccountForLiquidation(account)
	require.True(t, errors.Is(err, nativecommon.ErrRateInvalid))

	h.view.invalid = false
	h.status.Suspend(nativecommon.SectionSystem, "upgrade")
	_, err = h.manager.FlagAccountForLiquidation(account)
	require.True(t, errors.Is(err, nativecommon.ErrSystemSuspended))
	require.Equal(t, 0, h.manager.Flagged())
}

func TestCheckAndRemoveKeepsFlagOnInvalidRates(t *testing.T) {
	h := newHarness(t)
	account := crypto.BytesToAddress([]byte{0x05})
	_, err := h.manager.FlagAccountForLiquidation(account)
	require.NoError(t, err)

	h.view.ratio = nativecommon.Fraction(1, 5)
	h.view.invalid = true
	removed, err := h.manager.CheckAndRemoveAccountInLiquidation(account)
	require.NoError(t, err)
	require.False(t, removed)
	require.True(t, h.manager.IsFlagged(account))

	h.view.invalid = false
	removed, err = h.manager.CheckAndRemoveAccountInLiquidation(account)
	require.NoError(t, err)
	require.True(t, removed)
}

func TestCollateralExhaustedRemovesFlag(t *testing.T) {
	h := newHarness(t)
	account := crypto.BytesToAddress([]byte{0x03})
	_, err := h.manager.FlagAccountForLiquidation(account)
	require.NoError(t, err)
	h.view.collateral = nativecommon.Zero()
	removed, err := h.manager.CheckAndRemoveAccountInLiquidation(account)
	require.NoError(t, err)
	require.True(t, removed)
}

func TestRemoveRequiresIssuer(t *testing.T) {
	h := newHarness(t)
	account := crypto.BytesToAddress([]byte{0x04})
	_, err := h.manager.FlagAccountForLiquidation(account)
	require.NoError(t, err)
	err = h.manager.RemoveAccountInLiquidation(account, account, "")
	require.True(t, errors.Is(err, nativecommon.ErrUnauthorized))
	require.NoError(t, h.manager.RemoveAccountInLiquidation(h.issuer, account, "restored"))
	require.False(t, h.manager.IsFlagged(account))
}

func TestAmountToFixCollateral(t *testing.T) {
	h := newHarness(t)
	fix := h.manager.CalculateAmountToFixCollateral(nativecommon.Units(600), nativecommon.Units(800), nativecommon.Fraction(1, 4))
	// 400 / 0.725
	require.Equal(t, "551724137931034482758", fix.String())

	require.Equal(t, "0", h.manager.CalculateAmountToFixCollateral(nativecommon.Units(100), nativecommon.Units(800), nativecommon.Fraction(1, 4)).String())
}

func TestSnapshotRoundTrip(t *testing.T) {
	h := newHarness(t)
	account := crypto.BytesToAddress([]byte{0x05})
	deadline, err := h.manager.FlagAccountForLiquidation(account)
	require.NoError(t, err)
	blob, err := h.manager.ExportState()
	require.NoError(t, err)

	other := newHarness(t)
	require.NoError(t, other.manager.ImportState(blob))
	restored, ok := other.manager.LiquidationDeadlineForAccount(account)
	require.True(t, ok)
	require.True(t, deadline.Equal(restored))
}
