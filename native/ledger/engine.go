// Package ledger keeps encrypted balances and settles payments. Every amount
// is a coprocessor handle; the engine sequences homomorphic operations but
// never learns a plaintext value.
package ledger

import (
	"context"
	"errors"
	"time"

	coreerrors "vchain/core/errors"
	"vchain/core/events"
	"vchain/core/identity"
	"vchain/core/types"
	"vchain/crypto"
	"vchain/fhe"
	"vchain/native/nonce"
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var errStateNotConfigured = errors.New("ledger: state not configured")

var (
	settingsKey   = []byte("ledger/settings")
	supplyKey     = []byte("ledger/supply")
	balancePrefix = []byte("ledger/balance/")
	allowPrefix   = []byte("ledger/allow/")
	stakerPrefix  = []byte("ledger/staker/")
)

func balanceKey(token, account crypto.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+41)
	buf = append(buf, balancePrefix...)
	buf = append(buf, token[:]...)
	buf = append(buf, '/')
	return append(buf, account[:]...)
}

func allowKey(token crypto.Address) []byte {
	return append(append([]byte(nil), allowPrefix...), token[:]...)
}

func stakerKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), stakerPrefix...), addr[:]...)
}

// Engine owns balances, the supply schedule and payment settlement.
type Engine struct {
	state      ledgerState
	cop        fhe.Coprocessor
	nonces     *nonce.Registry
	identities *identity.Registry
	stakers    StakerSet
	bonus      BonusSource
	emitter    events.Emitter
	nowFn      func() time.Time
	heightFn   func() uint64
	self       crypto.Address
}

// NewEngine constructs a ledger engine owned by self. Self is granted decrypt
// capability on every balance and supply handle.
func NewEngine(self crypto.Address) *Engine {
	return &Engine{
		self:     self,
		bonus:    BeaconBonus{Max: 1},
		emitter:  events.NoopEmitter{},
		nowFn:    func() time.Time { return time.Now().UTC() },
		heightFn: func() uint64 { return 0 },
	}
}

// SetState wires the engine to the state backend providing persistence helpers.
func (e *Engine) SetState(state ledgerState) {
	e.state = state
	e.nonces = nonce.NewRegistry(state)
	e.identities = identity.NewRegistry(state)
}

// SetCoprocessor configures the coprocessor client.
func (e *Engine) SetCoprocessor(cop fhe.Coprocessor) { e.cop = cop }

// SetStakerSet installs an additional source of staker eligibility. The
// administrative staker flags are always consulted as well.
func (e *Engine) SetStakerSet(set StakerSet) { e.stakers = set }

// SetBonusSource overrides the relay bonus multiplier. Nil restores the
// default of one reward unit per relay.
func (e *Engine) SetBonusSource(src BonusSource) {
	if src == nil {
		e.bonus = BeaconBonus{Max: 1}
		return
	}
	e.bonus = src
}

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

// SetHeightFunc overrides the host block height source.
func (e *Engine) SetHeightFunc(height func() uint64) {
	if height == nil {
		e.heightFn = func() uint64 { return 0 }
		return
	}
	e.heightFn = height
}

// Address returns the ledger owner address.
func (e *Engine) Address() crypto.Address { return e.self }

// Nonces exposes the nonce registry.
func (e *Engine) Nonces() *nonce.Registry { return e.nonces }

// Identities exposes the identity registry.
func (e *Engine) Identities() *identity.Registry { return e.identities }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.Wrap(event))
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if e.cop == nil {
		return coreerrors.Configuration("ledger: coprocessor not configured")
	}
	return nil
}

// Settings returns the persisted configuration.
func (e *Engine) Settings() (Settings, error) {
	var s Settings
	if e == nil || e.state == nil {
		return s, errStateNotConfigured
	}
	_, err := e.state.KVGet(settingsKey, &s)
	return s, err
}

// PutSettings replaces the persisted configuration.
func (e *Engine) PutSettings(s Settings) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	return e.state.KVPut(settingsKey, s)
}

// UpdateSettings applies fn to the persisted configuration.
func (e *Engine) UpdateSettings(fn func(*Settings) error) error {
	s, err := e.Settings()
	if err != nil {
		return err
	}
	if err := fn(&s); err != nil {
		return err
	}
	return e.PutSettings(s)
}

// Supply returns the encrypted supply schedule.
func (e *Engine) Supply() (Supply, error) {
	var s Supply
	if e == nil || e.state == nil {
		return s, errStateNotConfigured
	}
	_, err := e.state.KVGet(supplyKey, &s)
	return s, err
}

// InitializeSupply declares the supply, era threshold and per-relay reward as
// constants. It can run once.
func (e *Engine) InitializeSupply(ctx context.Context, totalSupply, eraThreshold, rewardPerTx uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	current, err := e.Supply()
	if err != nil {
		return err
	}
	if current.Initialized() {
		return coreerrors.State("ledger: supply already initialized")
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	var s Supply
	if s.TotalSupply, err = ev.Const(totalSupply); err != nil {
		return err
	}
	if s.EraThreshold, err = ev.Const(eraThreshold); err != nil {
		return err
	}
	if s.RewardPerTx, err = ev.Const(rewardPerTx); err != nil {
		return err
	}
	return e.putSupply(ev, s)
}

func (e *Engine) putSupply(ev *fhe.Evaluator, s Supply) error {
	for _, h := range []fhe.Handle{s.TotalSupply, s.EraThreshold, s.RewardPerTx} {
		if err := ev.Grant(h, e.self); err != nil {
			return err
		}
	}
	return e.state.KVPut(supplyKey, s)
}

// AllowToken adds or removes token from the allow-list.
func (e *Engine) AllowToken(token crypto.Address, allowed bool) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if !allowed {
		return e.state.KVDelete(allowKey(token))
	}
	return e.state.KVPut(allowKey(token), true)
}

// IsTokenAllowed reports whether token is on the allow-list.
func (e *Engine) IsTokenAllowed(token crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errStateNotConfigured
	}
	var ok bool
	found, err := e.state.KVGet(allowKey(token), &ok)
	return found && ok, err
}

// SetStaker sets the administrative staker flag for addr.
func (e *Engine) SetStaker(addr crypto.Address, staker bool) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if addr.IsZero() {
		return coreerrors.Configuration("ledger: zero staker address")
	}
	if !staker {
		return e.state.KVDelete(stakerKey(addr))
	}
	return e.state.KVPut(stakerKey(addr), true)
}

// IsStaker reports whether addr earns relay rewards: either flagged by the
// administrator or reported by the installed StakerSet.
func (e *Engine) IsStaker(addr crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errStateNotConfigured
	}
	var flagged bool
	found, err := e.state.KVGet(stakerKey(addr), &flagged)
	if err != nil {
		return false, err
	}
	if found && flagged {
		return true, nil
	}
	if e.stakers == nil {
		return false, nil
	}
	return e.stakers.IsStaker(addr)
}

// Balance returns the balance handle of account in token. The zero handle
// means the account has never been credited.
func (e *Engine) Balance(account, token crypto.Address) (fhe.Handle, error) {
	if e == nil || e.state == nil {
		return fhe.Handle{}, errStateNotConfigured
	}
	var h fhe.Handle
	if _, err := e.state.KVGet(balanceKey(token, account), &h); err != nil {
		return fhe.Handle{}, err
	}
	return h, nil
}

func (e *Engine) adjust(ev *fhe.Evaluator, account, token crypto.Address, amount fhe.Handle, debit bool) error {
	current, err := e.Balance(account, token)
	if err != nil {
		return err
	}
	if current.IsZero() {
		if current, err = ev.Zero(); err != nil {
			return err
		}
	}
	var next fhe.Handle
	if debit {
		next, err = ev.Sub(current, amount)
	} else {
		next, err = ev.Add(current, amount)
	}
	if err != nil {
		return err
	}
	if err := ev.Grant(next, e.self, account); err != nil {
		return err
	}
	return e.state.KVPut(balanceKey(token, account), next)
}

func (e *Engine) transfer(ev *fhe.Evaluator, from, to, token crypto.Address, amount fhe.Handle) error {
	if err := e.adjust(ev, from, token, amount, true); err != nil {
		return err
	}
	return e.adjust(ev, to, token, amount, false)
}

// mint credits amount of the principal token to to and grows the supply.
func (e *Engine) mint(ev *fhe.Evaluator, to crypto.Address, amount fhe.Handle) error {
	settings, err := e.Settings()
	if err != nil {
		return err
	}
	supply, err := e.Supply()
	if err != nil {
		return err
	}
	if !supply.Initialized() {
		return coreerrors.Configuration("ledger: supply not initialized")
	}
	if err := e.adjust(ev, to, settings.PrincipalToken, amount, false); err != nil {
		return err
	}
	if supply.TotalSupply, err = ev.Add(supply.TotalSupply, amount); err != nil {
		return err
	}
	return e.putSupply(ev, supply)
}

func (e *Engine) privileged(caller crypto.Address) error {
	settings, err := e.Settings()
	if err != nil {
		return err
	}
	if caller.IsZero() || (caller != settings.Treasury && caller != settings.Staking) {
		return coreerrors.Authorization("ledger: %s is not a privileged caller", caller.Hex())
	}
	return nil
}

// PrivilegedTransfer moves amount between two ledger accounts. Only the
// configured treasury and staking addresses may call it.
func (e *Engine) PrivilegedTransfer(ctx context.Context, caller, from, to, token crypto.Address, amount fhe.Handle) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.privileged(caller); err != nil {
		return err
	}
	if from.IsZero() || to.IsZero() {
		return coreerrors.Configuration("ledger: zero address in privileged transfer")
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	if err := e.transfer(ev, from, to, token, amount); err != nil {
		return err
	}
	e.emit(newPrivilegedEvent(EventTypePrivilegedMove, caller, from, to, token))
	return nil
}

// PrivilegedCredit credits amount of token to to without a matching debit.
func (e *Engine) PrivilegedCredit(ctx context.Context, caller, to, token crypto.Address, amount fhe.Handle) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.privileged(caller); err != nil {
		return err
	}
	if to.IsZero() {
		return coreerrors.Configuration("ledger: zero recipient")
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	if err := e.adjust(ev, to, token, amount, false); err != nil {
		return err
	}
	e.emit(newPrivilegedEvent(EventTypePrivilegedMint, caller, crypto.Address{}, to, token))
	return nil
}

// PrivilegedMint mints amount of the principal token to to and adds it to the
// encrypted total supply.
func (e *Engine) PrivilegedMint(ctx context.Context, caller, to crypto.Address, amount fhe.Handle) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.privileged(caller); err != nil {
		return err
	}
	if to.IsZero() {
		return coreerrors.Configuration("ledger: zero recipient")
	}
	settings, err := e.Settings()
	if err != nil {
		return err
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	if err := e.mint(ev, to, amount); err != nil {
		return err
	}
	e.emit(newPrivilegedEvent(EventTypePrivilegedMint, caller, crypto.Address{}, to, settings.PrincipalToken))
	return nil
}

// MoveBalance transfers the whole token balance of from to to and clears
// from. The chain host uses it when a privileged engine account changes.
func (e *Engine) MoveBalance(ctx context.Context, from, to, token crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if from.IsZero() || to.IsZero() {
		return coreerrors.Configuration("ledger: zero address in balance move")
	}
	if from == to {
		return nil
	}
	h, err := e.Balance(from, token)
	if err != nil {
		return err
	}
	if h.IsZero() {
		return nil
	}
	if err := e.adjust(fhe.NewEvaluator(ctx, e.cop), to, token, h, false); err != nil {
		return err
	}
	if err := e.state.KVDelete(balanceKey(token, from)); err != nil {
		return err
	}
	e.emit(newAccountMovedEvent(from, to, token))
	return nil
}

// GrantBalance lets caller share decrypt capability on their own balance
// with viewer.
func (e *Engine) GrantBalance(ctx context.Context, caller, token, viewer crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if viewer.IsZero() {
		return coreerrors.Configuration("ledger: zero viewer")
	}
	h, err := e.Balance(caller, token)
	if err != nil {
		return err
	}
	if h.IsZero() {
		return coreerrors.State("ledger: %s has no balance in %s", caller.Hex(), token.Hex())
	}
	if err := e.cop.Grant(ctx, h, viewer); err != nil {
		return err
	}
	e.emit(newSharedEvent(caller, token, viewer))
	return nil
}

// RegisterIdentity binds a payment identity to addr.
func (e *Engine) RegisterIdentity(alias string, addr crypto.Address) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if addr.IsZero() {
		return coreerrors.Configuration("ledger: zero identity address")
	}
	if _, err := e.identities.Register(alias, addr, uint64(e.nowFn().Unix())); err != nil {
		return coreerrors.Configuration("ledger: %v", err)
	}
	return nil
}

// ResolveIdentity returns the address bound to alias.
func (e *Engine) ResolveIdentity(alias string) (crypto.Address, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, errStateNotConfigured
	}
	addr, err := e.identities.Resolve(alias)
	if errors.Is(err, identity.ErrAliasNotFound) {
		return crypto.Address{}, coreerrors.State("ledger: unknown identity %q", alias)
	}
	if err != nil {
		return crypto.Address{}, coreerrors.Configuration("ledger: %v", err)
	}
	return addr, nil
}
