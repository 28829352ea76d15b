package identity

import (
	"errors"
	"testing"

	"vchain/core/state"
	"vchain/crypto"
	"vchain/storage"
)

func TestNormalizeAlias(t *testing.T) {
	got, err := NormalizeAlias("  Alice.Pay ")
	if err != nil || got != "alice.pay" {
		t.Fatalf("unexpected normalization %q err=%v", got, err)
	}
	for _, bad := range []string{"ab", "has space", "semi;colon", "abcdefghijklmnopqrstuvwxyz0123456789"} {
		if _, err := NormalizeAlias(bad); !errors.Is(err, ErrInvalidAlias) {
			t.Fatalf("expected %q to be rejected, got %v", bad, err)
		}
	}
}

func TestRegisterResolveAndRebind(t *testing.T) {
	reg := NewRegistry(state.NewManager(storage.NewMemDB()))
	alice, bob := crypto.Address{1}, crypto.Address{2}

	if _, err := reg.Register("alice", alice, 10); err != nil {
		t.Fatalf("register: %v", err)
	}
	addr, err := reg.Resolve("ALICE")
	if err != nil || addr != alice {
		t.Fatalf("resolve: addr=%x err=%v", addr, err)
	}
	if _, err := reg.Register("alice", bob, 11); !errors.Is(err, ErrAliasTaken) {
		t.Fatalf("expected alias taken, got %v", err)
	}
	record, err := reg.Register("alice", alice, 12)
	if err != nil || record.CreatedAt != 10 || record.UpdatedAt != 12 {
		t.Fatalf("refresh failed: %+v err=%v", record, err)
	}

	if _, err := reg.Register("alice2", alice, 13); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if _, err := reg.Resolve("alice"); !errors.Is(err, ErrAliasNotFound) {
		t.Fatalf("old alias should be released, got %v", err)
	}
	alias, ok, err := reg.AliasOf(alice)
	if err != nil || !ok || alias != "alice2" {
		t.Fatalf("reverse lookup: %q ok=%v err=%v", alias, ok, err)
	}
}
