package fhe

import (
	"context"
	"math/big"
	"sync"

	"vchain/crypto"
)

type pendingGrant struct {
	handle    Handle
	principal crypto.Address
}

// Deferred wraps a Coprocessor and holds Grant calls until Flush. A chain
// operation that fails calls Discard instead, so no ACL entry outlives a
// rolled-back state change. Every other call passes straight through.
type Deferred struct {
	mu      sync.Mutex
	inner   Coprocessor
	pending []pendingGrant
}

// NewDeferred wraps inner.
func NewDeferred(inner Coprocessor) *Deferred {
	return &Deferred{inner: inner}
}

// Swap replaces the inner coprocessor. Queued grants are kept and will be
// flushed to the new target.
func (d *Deferred) Swap(inner Coprocessor) {
	d.mu.Lock()
	d.inner = inner
	d.mu.Unlock()
}

// Inner returns the wrapped coprocessor.
func (d *Deferred) Inner() Coprocessor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner
}

func (d *Deferred) VerifyAndImport(ctx context.Context, in ExternalInput, caller crypto.Address) (Handle, error) {
	return d.Inner().VerifyAndImport(ctx, in, caller)
}

func (d *Deferred) Op(ctx context.Context, op OpCode, operands ...Handle) (Handle, error) {
	return d.Inner().Op(ctx, op, operands...)
}

func (d *Deferred) OpScalar(ctx context.Context, op OpCode, h Handle, scalar uint64) (Handle, error) {
	return d.Inner().OpScalar(ctx, op, h, scalar)
}

func (d *Deferred) Constant(ctx context.Context, t Type, value *big.Int) (Handle, error) {
	return d.Inner().Constant(ctx, t, value)
}

// Grant queues the grant.
func (d *Deferred) Grant(_ context.Context, h Handle, principal crypto.Address) error {
	d.mu.Lock()
	d.pending = append(d.pending, pendingGrant{handle: h, principal: principal})
	d.mu.Unlock()
	return nil
}

func (d *Deferred) RequestDecryption(ctx context.Context, h Handle, requester crypto.Address) (RequestID, error) {
	return d.Inner().RequestDecryption(ctx, h, requester)
}

func (d *Deferred) PollDecryption(ctx context.Context, id RequestID) (*big.Int, bool, error) {
	return d.Inner().PollDecryption(ctx, id)
}

// Pending reports the number of queued grants.
func (d *Deferred) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush forwards queued grants to the inner coprocessor in order. Duplicate
// (handle, principal) pairs are sent once.
func (d *Deferred) Flush(ctx context.Context) error {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	inner := d.inner
	d.mu.Unlock()

	seen := make(map[pendingGrant]struct{}, len(pending))
	for _, g := range pending {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		if err := inner.Grant(ctx, g.handle, g.principal); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops queued grants.
func (d *Deferred) Discard() {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}
