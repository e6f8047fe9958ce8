package params

import (
	"errors"
	"testing"
	"time"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

type memState map[string][]byte

func (m memState) ParamStoreSet(name string, value []byte) error {
	m[name] = append([]byte(nil), value...)
	return nil
}

func (m memState) ParamStoreGet(name string) ([]byte, bool, error) {
	v, ok := m[name]
	return v, ok, nil
}

func newTestStore(t *testing.T) (*Store, crypto.Address) {
	t.Helper()
	authority := crypto.BytesToAddress([]byte{0x0a})
	store, err := NewStore(authority, DefaultSettings())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, authority
}

func TestDefaultSettingsValid(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestSettersRequireAuthority(t *testing.T) {
	store, _ := newTestStore(t)
	stranger := crypto.BytesToAddress([]byte{0x0b})
	if err := store.SetIssuanceRatio(stranger, nativecommon.Fraction(1, 5)); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestLiquidationBounds(t *testing.T) {
	store, authority := newTestStore(t)

	// Below twice the 0.25 issuance ratio.
	if err := store.SetLiquidationRatio(authority, nativecommon.Fraction(2, 5)); !errors.Is(err, ErrLiquidationRatioTooLow) {
		t.Fatalf("expected too low, got %v", err)
	}
	// Above 1/(1+0.1).
	if err := store.SetLiquidationRatio(authority, nativecommon.Fraction(95, 100)); !errors.Is(err, ErrLiquidationRatioTooHigh) {
		t.Fatalf("expected too high, got %v", err)
	}
	if err := store.SetLiquidationRatio(authority, nativecommon.Fraction(3, 5)); err != nil {
		t.Fatalf("set liquidation ratio: %v", err)
	}
	if err := store.SetLiquidationPenalty(authority, nativecommon.Fraction(3, 10)); !errors.Is(err, ErrLiquidationPenaltyTooHigh) {
		t.Fatalf("expected penalty bound, got %v", err)
	}
	if err := store.SetLiquidationDelay(authority, time.Hour); !errors.Is(err, ErrLiquidationDelayBounds) {
		t.Fatalf("expected delay bound, got %v", err)
	}
	if err := store.SetFeePeriodDuration(authority, 90*24*time.Hour); !errors.Is(err, ErrFeePeriodDurationBounds) {
		t.Fatalf("expected duration bound, got %v", err)
	}
	if got := store.LiquidationRatio(); got.Cmp(nativecommon.Fraction(3, 5)) != 0 {
		t.Fatalf("rejected setters must not mutate state, got %s", got)
	}
}

func TestPersistAndLoad(t *testing.T) {
	store, authority := newTestStore(t)
	state := memState{}
	store.SetState(state)
	if err := store.SetTargetThreshold(authority, nativecommon.Fraction(1, 20)); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	if err := store.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	restored, _ := newTestStore(t)
	restored.SetState(state)
	ok, err := restored.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if restored.TargetThreshold().Cmp(nativecommon.Fraction(1, 20)) != 0 {
		t.Fatalf("unexpected threshold %s", restored.TargetThreshold())
	}
	if restored.FeePeriodDuration() != 7*24*time.Hour {
		t.Fatalf("unexpected fee period %s", restored.FeePeriodDuration())
	}
}
