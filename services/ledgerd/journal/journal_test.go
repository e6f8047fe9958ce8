package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pynthchain/core/events"
	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

func newTestJournal(t *testing.T, path string) *Journal {
	t.Helper()
	db, err := Open("sqlite", path)
	require.NoError(t, err)
	j, err := New(db, nil)
	require.NoError(t, err)
	j.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return j
}

func TestJournalAppendsAndFilters(t *testing.T) {
	j := newTestJournal(t, filepath.Join(t.TempDir(), "journal.db"))
	alice := crypto.BytesToAddress([]byte{0x01})
	bob := crypto.BytesToAddress([]byte{0x02})

	j.Emit(events.PynthsIssued{Account: alice, Amount: nativecommon.Units(100), DebtOwnership: nativecommon.Unit, TotalDebt: nativecommon.Units(100)})
	j.Emit(events.AccountFlagged{Account: bob, Deadline: time.Unix(1_700_259_200, 0)})
	j.Emit(events.PynthsBurned{Account: alice, Amount: nativecommon.Units(40)})
	require.Equal(t, uint64(3), j.Last())

	all, err := j.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, events.TypePynthsIssued, all[0].Type)
	require.Equal(t, nativecommon.Units(100).String(), all[0].Decoded()["amount"])

	mine, err := j.List(context.Background(), Filter{Account: alice.String()})
	require.NoError(t, err)
	require.Len(t, mine, 2)

	flagged, err := j.List(context.Background(), Filter{Type: events.TypeAccountFlagged})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	require.Equal(t, bob.String(), flagged[0].Account)

	page, err := j.List(context.Background(), Filter{AfterSequence: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].Sequence)
}

func TestJournalResumesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j := newTestJournal(t, path)
	_, err := j.Append(context.Background(), events.FeePeriodClosed{PeriodID: 1, NextPeriodID: 2})
	require.NoError(t, err)

	reopened := newTestJournal(t, path)
	require.Equal(t, uint64(1), reopened.Last())
	entry, err := reopened.Append(context.Background(), events.FeePeriodClosed{PeriodID: 2, NextPeriodID: 3})
	require.NoError(t, err)
	require.Equal(t, uint64(2), entry.Sequence)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}
