package rates

import (
	"errors"
	"testing"
	"time"

	nativecommon "pynthchain/native/common"
)

func TestFeedStaleness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	feed := NewFeed(time.Hour)
	feed.SetClock(func() time.Time { return now })

	if err := feed.Update("PERI", nativecommon.Units(2), now, "test"); err != nil {
		t.Fatalf("update: %v", err)
	}
	rate, invalid := feed.RateAndInvalid("PERI")
	if invalid || rate.Cmp(nativecommon.Units(2)) != 0 {
		t.Fatalf("expected fresh rate, got %s invalid=%v", rate, invalid)
	}

	now = now.Add(2 * time.Hour)
	if _, invalid := feed.RateAndInvalid("PERI"); !invalid {
		t.Fatalf("expected stale rate after window")
	}
	if rate, invalid := feed.RateAndInvalid(nativecommon.PUSD); invalid || rate.Cmp(nativecommon.Unit) != 0 {
		t.Fatalf("pUSD must be pinned at one unit")
	}
	if _, invalid := feed.RateAndInvalid("pBTC"); !invalid {
		t.Fatalf("unknown key must be invalid")
	}
}

func TestFeedRejectsBadInput(t *testing.T) {
	feed := NewFeed(0)
	if err := feed.Update("", nativecommon.Unit, time.Time{}, ""); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected key error, got %v", err)
	}
	if err := feed.Update("PERI", nativecommon.Zero(), time.Time{}, ""); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected rate error, got %v", err)
	}
	if err := feed.Update("PERI", nativecommon.Unit, time.Time{}, "oracle"); err != nil {
		t.Fatalf("update: %v", err)
	}
	quote, ok := feed.Quote("PERI")
	if !ok || quote.Timestamp.IsZero() || quote.Source != "oracle" {
		t.Fatalf("unexpected quote %+v", quote)
	}
	feed.Remove("PERI")
	if len(feed.Quotes()) != 0 {
		t.Fatalf("expected quote removal")
	}
}
