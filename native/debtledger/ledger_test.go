package debtledger

import (
	"errors"
	"math/big"
	"testing"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

func makeAddress(b byte) crypto.Address {
	return crypto.BytesToAddress([]byte{0x99, b})
}

type harness struct {
	t       *testing.T
	ledger  *Ledger
	issuer  crypto.Address
	total   *big.Int
	holders []crypto.Address
}

func newHarness(t *testing.T) *harness {
	issuer := makeAddress(0)
	return &harness{t: t, ledger: New(issuer), issuer: issuer, total: new(big.Int)}
}

func (h *harness) issue(account crypto.Address, amount *big.Int) {
	h.t.Helper()
	existing := h.ledger.DebtBalance(account, h.total)
	if _, err := h.ledger.Register(h.issuer, account, amount, existing, h.total); err != nil {
		h.t.Fatalf("register: %v", err)
	}
	h.total = nativecommon.Add(h.total, amount)
	h.track(account)
}

func (h *harness) burn(account crypto.Address, amount *big.Int) {
	h.t.Helper()
	existing := h.ledger.DebtBalance(account, h.total)
	if _, err := h.ledger.Deregister(h.issuer, account, amount, existing, h.total); err != nil {
		h.t.Fatalf("deregister: %v", err)
	}
	h.total = nativecommon.Sub(h.total, amount)
}

func (h *harness) track(account crypto.Address) {
	for _, existing := range h.holders {
		if existing == account {
			return
		}
	}
	h.holders = append(h.holders, account)
}

func (h *harness) assertConserved(tolerance int64) {
	h.t.Helper()
	sum := new(big.Int)
	for _, account := range h.holders {
		sum.Add(sum, h.ledger.DebtBalance(account, h.total))
	}
	diff := new(big.Int).Sub(sum, h.total)
	if diff.CmpAbs(big.NewInt(tolerance)) > 0 {
		h.t.Fatalf("debt not conserved: sum=%s total=%s", sum, h.total)
	}
}

func TestFirstIssuanceOwnsPool(t *testing.T) {
	h := newHarness(t)
	alice := makeAddress(1)
	h.issue(alice, nativecommon.Units(100))

	if h.ledger.Length() != 1 {
		t.Fatalf("expected one ledger entry, got %d", h.ledger.Length())
	}
	entry, _ := h.ledger.Entry(0)
	if entry.Cmp(nativecommon.PreciseUnit) != 0 {
		t.Fatalf("first entry must be the precise unit, got %s", entry)
	}
	if got := h.ledger.CurrentDebtOwnership(alice); got.Cmp(nativecommon.PreciseUnit) != 0 {
		t.Fatalf("expected full ownership, got %s", got)
	}
	if got := h.ledger.DebtBalance(alice, h.total); got.Cmp(nativecommon.Units(100)) != 0 {
		t.Fatalf("expected debt 100, got %s", got)
	}
	if h.ledger.TotalIssuerCount() != 1 {
		t.Fatalf("expected one issuer")
	}
}

func TestDebtConservationAcrossIssueAndBurn(t *testing.T) {
	h := newHarness(t)
	alice, bob, carol := makeAddress(1), makeAddress(2), makeAddress(3)

	h.issue(alice, nativecommon.Units(100))
	h.assertConserved(10)
	h.issue(bob, nativecommon.Units(50))
	h.assertConserved(10)
	h.issue(carol, nativecommon.Units(25))
	h.assertConserved(10)
	h.burn(alice, nativecommon.Units(30))
	h.assertConserved(10)
	h.issue(bob, nativecommon.Fraction(7, 3))
	h.assertConserved(10)

	// Pynth prices double: every balance scales with the pool.
	before := h.ledger.DebtBalance(carol, h.total)
	h.total = new(big.Int).Mul(h.total, big.NewInt(2))
	h.assertConserved(10)
	after := h.ledger.DebtBalance(carol, h.total)
	if diff := new(big.Int).Sub(after, new(big.Int).Mul(before, big.NewInt(2))); diff.CmpAbs(big.NewInt(2)) > 0 {
		t.Fatalf("expected carol's debt to double: before=%s after=%s", before, after)
	}

	bobDebt := h.ledger.DebtBalance(bob, h.total)
	h.burn(bob, bobDebt)
	h.assertConserved(10)
	if h.ledger.HasIssued(bob) {
		t.Fatalf("bob should hold no share after burning everything")
	}
	if h.ledger.TotalIssuerCount() != 2 {
		t.Fatalf("expected two issuers, got %d", h.ledger.TotalIssuerCount())
	}
}

func TestFullDrainRestartsLedger(t *testing.T) {
	h := newHarness(t)
	alice, bob := makeAddress(1), makeAddress(2)
	h.issue(alice, nativecommon.Units(10))
	h.burn(alice, nativecommon.Units(10))
	if h.total.Sign() != 0 {
		t.Fatalf("expected empty pool")
	}
	if h.ledger.TotalIssuerCount() != 0 {
		t.Fatalf("expected zero issuers")
	}
	last := h.ledger.LastEntry()
	if last.Cmp(nativecommon.PreciseUnit) != 0 {
		t.Fatalf("drain must restart at the precise unit, got %s", last)
	}

	h.issue(bob, nativecommon.Units(40))
	if got := h.ledger.DebtBalance(alice, h.total); got.Sign() != 0 {
		t.Fatalf("alice must not inherit debt after restart, got %s", got)
	}
	if got := h.ledger.DebtBalance(bob, h.total); got.Cmp(nativecommon.Units(40)) != 0 {
		t.Fatalf("expected bob to own the pool, got %s", got)
	}
}

func TestMutationsRequireOrchestrator(t *testing.T) {
	h := newHarness(t)
	stranger := makeAddress(7)
	if _, err := h.ledger.Register(stranger, stranger, nativecommon.Units(1), nil, nil); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized register, got %v", err)
	}
	if err := h.ledger.AppendDelta(stranger, nativecommon.PreciseUnit); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized append, got %v", err)
	}
	if err := h.ledger.Snapshot(stranger, stranger, nativecommon.PreciseUnit); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized snapshot, got %v", err)
	}
}

func TestDeregisterRejections(t *testing.T) {
	h := newHarness(t)
	alice := makeAddress(1)
	if _, err := h.ledger.Deregister(h.issuer, alice, nativecommon.Units(1), nil, nil); !errors.Is(err, ErrNoDebt) {
		t.Fatalf("expected no debt, got %v", err)
	}
	h.issue(alice, nativecommon.Units(5))
	if _, err := h.ledger.Deregister(h.issuer, alice, nativecommon.Units(6), nativecommon.Units(5), h.total); !errors.Is(err, ErrBurnExceedsDebt) {
		t.Fatalf("expected burn exceeds debt, got %v", err)
	}
	if _, err := h.ledger.Register(h.issuer, alice, nativecommon.Zero(), nil, h.total); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestAppendDeltaAndEffectiveOwnership(t *testing.T) {
	h := newHarness(t)
	if err := h.ledger.AppendDelta(h.issuer, nativecommon.Zero()); !errors.Is(err, ErrInvalidDelta) {
		t.Fatalf("expected invalid delta, got %v", err)
	}
	half := new(big.Int).Rsh(nativecommon.PreciseUnit, 1)
	if err := h.ledger.AppendDelta(h.issuer, half); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.ledger.AppendDelta(h.issuer, half); err != nil {
		t.Fatalf("append: %v", err)
	}
	last := h.ledger.LastEntry()
	if last.Cmp(half) != 0 {
		t.Fatalf("expected second factor to halve the first, got %s", last)
	}
	owned, err := h.ledger.EffectiveOwnership(nativecommon.PreciseUnit, 0, 1)
	if err != nil {
		t.Fatalf("effective ownership: %v", err)
	}
	if owned.Cmp(half) != 0 {
		t.Fatalf("expected half ownership, got %s", owned)
	}
	if _, err := h.ledger.EffectiveOwnership(nativecommon.PreciseUnit, 0, 5); !errors.Is(err, ErrEntryOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	h := newHarness(t)
	alice, bob := makeAddress(1), makeAddress(2)
	h.issue(alice, nativecommon.Units(100))
	h.issue(bob, nativecommon.Units(300))

	blob, err := h.ledger.ExportState()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	restored := New(h.issuer)
	if err := restored.ImportState(blob); err != nil {
		t.Fatalf("import: %v", err)
	}
	if restored.Length() != h.ledger.Length() || restored.TotalIssuerCount() != 2 {
		t.Fatalf("restored ledger differs")
	}
	if restored.DebtBalance(bob, h.total).Cmp(h.ledger.DebtBalance(bob, h.total)) != 0 {
		t.Fatalf("restored debt differs")
	}
}
