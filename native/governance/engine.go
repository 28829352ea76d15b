// Package governance holds the time-delayed admin and implementation gates
// and forwards unknown chain methods to the accepted implementation.
package governance

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	coreerrors "vchain/core/errors"
	"vchain/core/events"
	"vchain/core/types"
	"vchain/crypto"
)

type gateState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var errStateNotConfigured = errors.New("governance: state not configured")

var versionKey = []byte("governance/implementation/version")

func currentKey(kind GateKind) []byte { return []byte("governance/" + string(kind) + "/current") }
func pendingKey(kind GateKind) []byte { return []byte("governance/" + string(kind) + "/pending") }

// Engine drives both gates and owns the implementation table.
type Engine struct {
	state     gateState
	emitter   events.Emitter
	nowFn     func() time.Time
	namespace func(prefix string) Store

	mu       sync.RWMutex
	impls    map[crypto.Address]Implementation
	reserved map[string]struct{}
}

// NewEngine constructs a governance engine with default no-op dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
		impls:    make(map[crypto.Address]Implementation),
		reserved: make(map[string]struct{}),
	}
}

// SetState wires the engine to the state backend providing persistence helpers.
func (e *Engine) SetState(state gateState) { e.state = state }

// SetNamespaceFunc configures how implementation stores are scoped.
func (e *Engine) SetNamespaceFunc(fn func(prefix string) Store) { e.namespace = fn }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the host clock. Nil restores the default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.Wrap(event))
}

// Reserve marks method names the host serves itself. Dispatch never
// forwards them and Register refuses implementations that declare them.
func (e *Engine) Reserve(methods ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range methods {
		e.reserved[normalizeMethod(m)] = struct{}{}
	}
}

func normalizeMethod(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}

func (e *Engine) isReserved(method string) bool {
	_, ok := e.reserved[normalizeMethod(method)]
	return ok
}

// Register adds impl to the implementation table under addr. Registration
// happens at boot; an address can be registered once.
func (e *Engine) Register(addr crypto.Address, impl Implementation) error {
	if addr.IsZero() || impl == nil {
		return coreerrors.Configuration("governance: invalid implementation registration")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.impls[addr]; dup {
		return coreerrors.Configuration("governance: implementation %s already registered", addr.Hex())
	}
	if declared, ok := impl.(MethodSet); ok {
		for _, m := range declared.Methods() {
			if e.isReserved(m) {
				return coreerrors.Configuration("governance: implementation %s shadows chain method %q", addr.Hex(), m)
			}
		}
	}
	e.impls[addr] = impl
	return nil
}

// Registered lists the registered implementation addresses.
func (e *Engine) Registered() []crypto.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]crypto.Address, 0, len(e.impls))
	for addr := range e.impls {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

func (e *Engine) lookup(addr crypto.Address) (Implementation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	impl, ok := e.impls[addr]
	return impl, ok
}

func (e *Engine) current(kind GateKind) (crypto.Address, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, errStateNotConfigured
	}
	var addr crypto.Address
	_, err := e.state.KVGet(currentKey(kind), &addr)
	return addr, err
}

// Admin returns the current admin, zero before Bootstrap.
func (e *Engine) Admin() (crypto.Address, error) { return e.current(GateAdmin) }

// Implementation returns the accepted implementation address, zero when none.
func (e *Engine) Implementation() (crypto.Address, error) {
	return e.current(GateImplementation)
}

// Version counts accepted implementation upgrades.
func (e *Engine) Version() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errStateNotConfigured
	}
	var v uint64
	_, err := e.state.KVGet(versionKey, &v)
	return v, err
}

// Pending returns the live proposal on gate kind, if any.
func (e *Engine) Pending(kind GateKind) (Proposal, error) {
	if e == nil || e.state == nil {
		return Proposal{}, errStateNotConfigured
	}
	var p Proposal
	_, err := e.state.KVGet(pendingKey(kind), &p)
	return p, err
}

// Bootstrap installs the first admin. It may run once.
func (e *Engine) Bootstrap(admin crypto.Address) error {
	current, err := e.Admin()
	if err != nil {
		return err
	}
	if !current.IsZero() {
		return coreerrors.State("governance: admin already set")
	}
	if admin.IsZero() {
		return coreerrors.Configuration("governance: zero admin")
	}
	return e.state.KVPut(currentKey(GateAdmin), admin)
}

// RequireAdmin fails with an authorization error unless caller is the admin.
func (e *Engine) RequireAdmin(caller crypto.Address) error {
	admin, err := e.Admin()
	if err != nil {
		return err
	}
	if admin.IsZero() || caller != admin {
		return coreerrors.Authorization("governance: %s is not the admin", caller.Hex())
	}
	return nil
}

func (e *Engine) propose(kind GateKind, delay time.Duration, target crypto.Address) error {
	if target.IsZero() {
		return coreerrors.Configuration("governance: zero %s target", kind)
	}
	now := e.nowFn()
	p := Proposal{Target: target, ProposedAt: uint64(now.Unix()), ReadyAt: uint64(now.Add(delay).Unix())}
	if err := e.state.KVPut(pendingKey(kind), p); err != nil {
		return err
	}
	e.emit(newProposedEvent(kind, p))
	return nil
}

func (e *Engine) livePending(kind GateKind) (Proposal, error) {
	p, err := e.Pending(kind)
	if err != nil {
		return Proposal{}, err
	}
	if !p.Pending() {
		return Proposal{}, coreerrors.State("governance: no pending %s proposal", kind)
	}
	return p, nil
}

func (e *Engine) accept(kind GateKind, p Proposal) error {
	if now := uint64(e.nowFn().Unix()); now < p.ReadyAt {
		return coreerrors.Timing("governance: %s proposal ready at %d, now %d", kind, p.ReadyAt, now)
	}
	if err := e.state.KVPut(currentKey(kind), p.Target); err != nil {
		return err
	}
	if err := e.state.KVDelete(pendingKey(kind)); err != nil {
		return err
	}
	e.emit(newAcceptedEvent(kind, p.Target))
	return nil
}

func (e *Engine) reject(kind GateKind, p Proposal, by crypto.Address) error {
	if err := e.state.KVDelete(pendingKey(kind)); err != nil {
		return err
	}
	e.emit(newRejectedEvent(kind, p.Target, by))
	return nil
}

// ProposeAdmin nominates target as the next admin, replacing any pending
// nomination.
func (e *Engine) ProposeAdmin(caller, target crypto.Address) error {
	if err := e.RequireAdmin(caller); err != nil {
		return err
	}
	return e.propose(GateAdmin, AdminDelay, target)
}

// AcceptAdmin completes an admin transfer. Only the nominee may accept.
func (e *Engine) AcceptAdmin(caller crypto.Address) error {
	p, err := e.livePending(GateAdmin)
	if err != nil {
		return err
	}
	if caller != p.Target {
		return coreerrors.Authorization("governance: %s is not the proposed admin", caller.Hex())
	}
	return e.accept(GateAdmin, p)
}

// RejectAdmin cancels a pending admin transfer. The admin or the nominee may
// reject.
func (e *Engine) RejectAdmin(caller crypto.Address) error {
	p, err := e.livePending(GateAdmin)
	if err != nil {
		return err
	}
	admin, err := e.Admin()
	if err != nil {
		return err
	}
	if caller != admin && caller != p.Target {
		return coreerrors.Authorization("governance: %s may not reject the admin proposal", caller.Hex())
	}
	return e.reject(GateAdmin, p, caller)
}

// ProposeImplementation nominates a registered implementation.
func (e *Engine) ProposeImplementation(caller, target crypto.Address) error {
	if err := e.RequireAdmin(caller); err != nil {
		return err
	}
	if _, ok := e.lookup(target); !ok {
		return coreerrors.Configuration("governance: implementation %s not registered", target.Hex())
	}
	return e.propose(GateImplementation, ImplementationDelay, target)
}

// AcceptImplementation activates the pending implementation.
func (e *Engine) AcceptImplementation(caller crypto.Address) error {
	if err := e.RequireAdmin(caller); err != nil {
		return err
	}
	p, err := e.livePending(GateImplementation)
	if err != nil {
		return err
	}
	if err := e.accept(GateImplementation, p); err != nil {
		return err
	}
	v, err := e.Version()
	if err != nil {
		return err
	}
	return e.state.KVPut(versionKey, v+1)
}

// RejectImplementation drops the pending implementation.
func (e *Engine) RejectImplementation(caller crypto.Address) error {
	if err := e.RequireAdmin(caller); err != nil {
		return err
	}
	p, err := e.livePending(GateImplementation)
	if err != nil {
		return err
	}
	return e.reject(GateImplementation, p, caller)
}

// Dispatch forwards method to the accepted implementation with a store
// scoped to that implementation.
func (e *Engine) Dispatch(ctx context.Context, caller crypto.Address, method string, payload []byte) ([]byte, error) {
	addr, err := e.Implementation()
	if err != nil {
		return nil, err
	}
	if addr.IsZero() {
		return nil, coreerrors.Configuration("governance: no implementation accepted for %q", method)
	}
	e.mu.RLock()
	reserved := e.isReserved(method)
	e.mu.RUnlock()
	if reserved {
		return nil, coreerrors.Configuration("governance: method %q is served by the chain", method)
	}
	impl, ok := e.lookup(addr)
	if !ok {
		return nil, coreerrors.Configuration("governance: implementation %s not registered", addr.Hex())
	}
	if e.namespace == nil {
		return nil, coreerrors.Configuration("governance: namespace not configured")
	}
	out, err := impl.Handle(ctx, Call{
		Caller:  caller,
		Method:  method,
		Payload: append([]byte(nil), payload...),
		Store:   e.namespace("impl/" + addr.Hex()),
		Now:     e.nowFn(),
	})
	if err != nil {
		return nil, err
	}
	e.emit(newDispatchedEvent(addr, caller, method))
	return out, nil
}
