package crosschain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

func newTestManager(t *testing.T) (*Manager, crypto.Address, crypto.Address) {
	t.Helper()
	issuer := crypto.BytesToAddress([]byte{0x01})
	reporter := crypto.BytesToAddress([]byte{0x02})
	m := New(1, issuer, reporter)
	now := time.Unix(1_700_000_000, 0)
	m.SetClock(func() time.Time { return now })
	return m, issuer, reporter
}

func TestPercentageWithoutRemoteNetworks(t *testing.T) {
	m, issuer, _ := newTestManager(t)
	require.Equal(t, nativecommon.Unit.String(), m.CurrentNetworkDebtPercentage(nativecommon.Zero()).String())
	require.NoError(t, m.AddIssuedDebt(issuer, nativecommon.Units(100)))
	require.Equal(t, nativecommon.Units(120).String(), m.AdaptedTotalDebt(nativecommon.Units(120)).String())
	require.Equal(t, nativecommon.Unit.String(), m.CurrentNetworkDebtPercentage(nativecommon.Units(120)).String())
}

func TestSetCrossNetworkDebtVersioning(t *testing.T) {
	m, issuer, reporter := newTestManager(t)
	require.NoError(t, m.AddIssuedDebt(issuer, nativecommon.Units(100)))

	applied, err := m.SetCrossNetworkDebt(reporter, DebtUpdate{NetworkID: 2, IssuedDebt: nativecommon.Units(300), ActiveDebt: nativecommon.Units(300), Version: 2})
	require.NoError(t, err)
	require.True(t, applied)

	// Older version arriving late is ignored.
	applied, err = m.SetCrossNetworkDebt(reporter, DebtUpdate{NetworkID: 2, IssuedDebt: nativecommon.Units(1), ActiveDebt: nativecommon.Units(1), Version: 1})
	require.NoError(t, err)
	require.False(t, applied)

	pct := m.CurrentNetworkDebtPercentage(nativecommon.Units(100))
	require.Equal(t, nativecommon.Fraction(1, 4).String(), pct.String())

	// Local active debt grew to 200 while the remote stayed at 300: the pool is
	// 500 and the local network issued a quarter of it.
	adapted := m.AdaptedTotalDebt(nativecommon.Units(200))
	require.Equal(t, nativecommon.Units(125).String(), adapted.String())

	_, err = m.SetCrossNetworkDebt(reporter, DebtUpdate{NetworkID: 1, IssuedDebt: nativecommon.Units(1), ActiveDebt: nativecommon.Units(1), Version: 9})
	require.True(t, errors.Is(err, ErrSelfNetwork))
	_, err = m.SetCrossNetworkDebt(issuer, DebtUpdate{NetworkID: 3, IssuedDebt: nativecommon.Units(1), ActiveDebt: nativecommon.Units(1), Version: 1})
	require.True(t, errors.Is(err, nativecommon.ErrUnauthorized))
}

func TestApplyReportIdempotent(t *testing.T) {
	m, _, reporter := newTestManager(t)
	report := NewReport(
		DebtUpdate{NetworkID: 2, IssuedDebt: nativecommon.Units(10), ActiveDebt: nativecommon.Units(11), Version: 1},
		DebtUpdate{NetworkID: 3, IssuedDebt: nativecommon.Units(20), ActiveDebt: nativecommon.Units(22), Version: 1},
	)
	first, err := m.ApplyReport(reporter, report)
	require.NoError(t, err)
	require.Equal(t, 2, first.Applied)
	require.False(t, first.Duplicate)

	again, err := m.ApplyReport(reporter, report)
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, 0, again.Applied)
	require.Equal(t, first.Digest, again.Digest)

	tampered := report
	tampered.Updates = []DebtUpdate{{NetworkID: 2, IssuedDebt: nativecommon.Units(99), ActiveDebt: nativecommon.Units(99), Version: 5}}
	_, err = m.ApplyReport(reporter, tampered)
	require.True(t, errors.Is(err, ErrReportConflict))

	// A newer report with one stale entry applies only the fresh one.
	next := NewReport(
		DebtUpdate{NetworkID: 2, IssuedDebt: nativecommon.Units(12), ActiveDebt: nativecommon.Units(13), Version: 2},
		DebtUpdate{NetworkID: 3, IssuedDebt: nativecommon.Units(0), ActiveDebt: nativecommon.Units(0), Version: 1},
	)
	res, err := m.ApplyReport(reporter, next)
	require.NoError(t, err)
	require.Equal(t, 1, res.Applied)
	require.Equal(t, 1, res.Skipped)

	n3, ok := m.Network(3)
	require.True(t, ok)
	require.Equal(t, nativecommon.Units(22).String(), n3.ActiveDebt.String())
	require.Equal(t, report.ID, n3.ReportID)
	require.Len(t, m.Networks(), 2)
}

func TestApplyReportRejectsMalformed(t *testing.T) {
	m, _, reporter := newTestManager(t)
	_, err := m.ApplyReport(reporter, Report{ID: "not-a-uuid", Updates: []DebtUpdate{{NetworkID: 2, IssuedDebt: nativecommon.Zero(), ActiveDebt: nativecommon.Zero(), Version: 1}}})
	require.True(t, errors.Is(err, ErrInvalidReport))

	dup := NewReport(
		DebtUpdate{NetworkID: 2, IssuedDebt: nativecommon.Zero(), ActiveDebt: nativecommon.Zero(), Version: 1},
		DebtUpdate{NetworkID: 2, IssuedDebt: nativecommon.Zero(), ActiveDebt: nativecommon.Zero(), Version: 2},
	)
	_, err = m.ApplyReport(reporter, dup)
	require.True(t, errors.Is(err, ErrInvalidReport))
	require.Empty(t, m.Networks())
}

func TestSnapshotRoundTrip(t *testing.T) {
	m, issuer, reporter := newTestManager(t)
	require.NoError(t, m.AddIssuedDebt(issuer, nativecommon.Units(5)))
	report := NewReport(DebtUpdate{NetworkID: 4, IssuedDebt: nativecommon.Units(7), ActiveDebt: nativecommon.Units(8), Version: 3})
	_, err := m.ApplyReport(reporter, report)
	require.NoError(t, err)

	blob, err := m.ExportState()
	require.NoError(t, err)
	restored, _, _ := newTestManager(t)
	require.NoError(t, restored.ImportState(blob))
	require.Equal(t, nativecommon.Units(5).String(), restored.SelfIssuedDebt().String())
	again, err := restored.ApplyReport(reporter, report)
	require.NoError(t, err)
	require.True(t, again.Duplicate)
}
