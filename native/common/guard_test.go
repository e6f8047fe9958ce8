package common

import (
	"errors"
	"testing"

	"pynthchain/crypto"
)

func TestGuardSections(t *testing.T) {
	status := NewSystemStatus()
	if err := Guard(status, SectionIssuance); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status.Suspend(SectionIssuance, "upgrade")
	if err := Guard(status, SectionIssuance); !errors.Is(err, ErrIssuanceSuspended) {
		t.Fatalf("expected issuance suspended, got %v", err)
	}
	if err := Guard(status, SectionExchange); err != nil {
		t.Fatalf("exchange should stay active: %v", err)
	}
	status.Suspend(SectionSystem, "incident")
	if err := Guard(status, SectionExchange); !errors.Is(err, ErrSystemSuspended) {
		t.Fatalf("expected system suspended, got %v", err)
	}
	status.Resume(SectionSystem)
	status.Resume(SectionIssuance)
	if got := status.Suspended(); len(got) != 0 {
		t.Fatalf("expected no suspended sections, got %v", got)
	}
	if err := Guard(nil, SectionIssuance); err != nil {
		t.Fatalf("nil status must not block: %v", err)
	}
}

func TestRequireCaller(t *testing.T) {
	owner := crypto.BytesToAddress([]byte{1})
	other := crypto.BytesToAddress([]byte{2})
	if err := RequireCaller(owner, crypto.Address{}, owner); err != nil {
		t.Fatalf("owner should be authorized: %v", err)
	}
	if err := RequireCaller(other, owner); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := RequireCaller(crypto.Address{}, crypto.Address{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("zero caller must be rejected")
	}
}
