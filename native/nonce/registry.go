// Package nonce tracks per-account replay protection for payments: a strictly
// increasing synchronous counter and a set of consumed asynchronous ids.
package nonce

import (
	"errors"
	"strconv"

	coreerrors "vchain/core/errors"
	"vchain/crypto"
)

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var errStateNotConfigured = errors.New("nonce: state not configured")

var (
	syncPrefix  = []byte("nonce/sync/")
	asyncPrefix = []byte("nonce/async/")
)

func syncKey(addr crypto.Address) []byte {
	buf := make([]byte, 0, len(syncPrefix)+len(addr))
	buf = append(buf, syncPrefix...)
	return append(buf, addr[:]...)
}

func asyncKey(addr crypto.Address, n uint64) []byte {
	buf := make([]byte, 0, len(asyncPrefix)+len(addr)+21)
	buf = append(buf, asyncPrefix...)
	buf = append(buf, addr[:]...)
	buf = append(buf, '/')
	return strconv.AppendUint(buf, n, 10)
}

// Registry reads and consumes nonces.
type Registry struct {
	state registryState
}

// NewRegistry returns a registry bound to state.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

// SyncNonce returns the next expected synchronous nonce for addr.
func (r *Registry) SyncNonce(addr crypto.Address) (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errStateNotConfigured
	}
	var n uint64
	if _, err := r.state.KVGet(syncKey(addr), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// IsAsyncUsed reports whether the asynchronous id n has been consumed by addr.
func (r *Registry) IsAsyncUsed(addr crypto.Address, n uint64) (bool, error) {
	if r == nil || r.state == nil {
		return false, errStateNotConfigured
	}
	var used bool
	ok, err := r.state.KVGet(asyncKey(addr, n), &used)
	if err != nil {
		return false, err
	}
	return ok && used, nil
}

// ConsumeSync accepts n only when it equals the current counter, then advances
// the counter by one.
func (r *Registry) ConsumeSync(addr crypto.Address, n uint64) error {
	current, err := r.SyncNonce(addr)
	if err != nil {
		return err
	}
	if n != current {
		return coreerrors.Replay("nonce: expected sync nonce %d, got %d", current, n)
	}
	return r.state.KVPut(syncKey(addr), current+1)
}

// ConsumeAsync marks n as used for addr. Reuse is rejected; ids may be
// consumed in any order.
func (r *Registry) ConsumeAsync(addr crypto.Address, n uint64) error {
	used, err := r.IsAsyncUsed(addr, n)
	if err != nil {
		return err
	}
	if used {
		return coreerrors.Replay("nonce: async nonce %d already used", n)
	}
	return r.state.KVPut(asyncKey(addr, n), true)
}
