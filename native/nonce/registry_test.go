package nonce

import (
	"errors"
	"testing"

	coreerrors "vchain/core/errors"
	"vchain/core/state"
	"vchain/crypto"
	"vchain/storage"
)

func newRegistry() *Registry {
	return NewRegistry(state.NewManager(storage.NewMemDB()))
}

func TestSyncNonceMustMatchCounter(t *testing.T) {
	r := newRegistry()
	alice := crypto.Address{1}

	if err := r.ConsumeSync(alice, 1); !errors.Is(err, coreerrors.ErrReplay) {
		t.Fatalf("expected replay error for skipped nonce, got %v", err)
	}
	for i := uint64(0); i < 3; i++ {
		if err := r.ConsumeSync(alice, i); err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
	}
	if err := r.ConsumeSync(alice, 1); !errors.Is(err, coreerrors.ErrReplay) {
		t.Fatalf("expected replay error for stale nonce, got %v", err)
	}
	n, err := r.SyncNonce(alice)
	if err != nil || n != 3 {
		t.Fatalf("expected counter 3, got %d err=%v", n, err)
	}
	other, _ := r.SyncNonce(crypto.Address{2})
	if other != 0 {
		t.Fatalf("counters must be per account")
	}
}

func TestAsyncNonceSingleUseAnyOrder(t *testing.T) {
	r := newRegistry()
	alice := crypto.Address{1}
	for _, n := range []uint64{9, 2, 100} {
		if err := r.ConsumeAsync(alice, n); err != nil {
			t.Fatalf("consume async %d: %v", n, err)
		}
	}
	if err := r.ConsumeAsync(alice, 2); !errors.Is(err, coreerrors.ErrReplay) {
		t.Fatalf("expected replay error, got %v", err)
	}
	used, _ := r.IsAsyncUsed(alice, 9)
	if !used {
		t.Fatalf("expected 9 marked used")
	}
	used, _ = r.IsAsyncUsed(crypto.Address{2}, 9)
	if used {
		t.Fatalf("async sets must be per account")
	}
	n, _ := r.SyncNonce(alice)
	if n != 0 {
		t.Fatalf("async consumption must not move the sync counter")
	}
}

func TestUnconfiguredRegistry(t *testing.T) {
	var r *Registry
	if _, err := r.SyncNonce(crypto.Address{}); err == nil {
		t.Fatalf("expected error from nil registry")
	}
}
