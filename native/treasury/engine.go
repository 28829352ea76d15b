// Package treasury implements the encrypted multi-token vault: deposits,
// time-delayed governor withdrawals and purpose allocations.
package treasury

import (
	"context"
	"errors"
	"math/big"
	"time"

	coreerrors "vchain/core/errors"
	"vchain/core/events"
	"vchain/core/types"
	"vchain/crypto"
	"vchain/fhe"
)

// DefaultWithdrawalDelay separates a withdrawal request from its earliest
// execution.
const DefaultWithdrawalDelay = 48 * time.Hour

type vaultState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var errStateNotConfigured = errors.New("treasury: state not configured")

var (
	ownerKey           = []byte("treasury/owner")
	withdrawalCountKey = []byte("treasury/withdrawals/count")
	ledgerTokensKey    = []byte("treasury/ledger-tokens")
)

func balancesKey(token crypto.Address) []byte {
	return append([]byte("treasury/balances/"), token.Bytes()...)
}

func governorKey(addr crypto.Address) []byte {
	return append([]byte("treasury/governor/"), addr.Bytes()...)
}

func allocationKey(token crypto.Address, purpose string) []byte {
	key := append([]byte("treasury/alloc/"), token.Bytes()...)
	key = append(key, '/')
	return append(key, purpose...)
}

func withdrawalKey(id uint64) []byte {
	return append([]byte("treasury/withdrawal/"), events.UintAttr(id)...)
}

// Engine is the treasury vault. self is the vault's default account on the
// ledger.
type Engine struct {
	self    crypto.Address
	state   vaultState
	cop     fhe.Coprocessor
	ledger  LedgerMover
	delay   time.Duration
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewEngine constructs a vault whose ledger account is self.
func NewEngine(self crypto.Address) *Engine {
	return &Engine{
		self:    self,
		delay:   DefaultWithdrawalDelay,
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Address returns the vault's default ledger account.
func (e *Engine) Address() crypto.Address { return e.self }

// account is the address the vault acts as on the ledger: the treasury
// named in the ledger settings, or the default account.
func (e *Engine) account() (crypto.Address, error) {
	if e.ledger == nil {
		return e.self, nil
	}
	settings, err := e.ledger.Settings()
	if err != nil {
		return crypto.Address{}, err
	}
	if settings.Treasury.IsZero() {
		return e.self, nil
	}
	return settings.Treasury, nil
}

// SetState wires the engine to the state backend providing persistence helpers.
func (e *Engine) SetState(state vaultState) { e.state = state }

// SetCoprocessor configures the coprocessor client.
func (e *Engine) SetCoprocessor(cop fhe.Coprocessor) { e.cop = cop }

// SetLedger configures the ledger used for ledger-native deposits and payouts.
func (e *Engine) SetLedger(ledger LedgerMover) { e.ledger = ledger }

// SetWithdrawalDelay overrides the withdrawal delay. Non-positive values
// restore the default.
func (e *Engine) SetWithdrawalDelay(d time.Duration) {
	if d <= 0 {
		d = DefaultWithdrawalDelay
	}
	e.delay = d
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
		return coreerrors.Configuration("treasury: coprocessor not configured")
	}
	return nil
}

// Owner returns the vault owner, zero before Bootstrap.
func (e *Engine) Owner() (crypto.Address, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, errStateNotConfigured
	}
	var owner crypto.Address
	_, err := e.state.KVGet(ownerKey, &owner)
	return owner, err
}

// Bootstrap installs owner as the vault owner and first governor. It may run
// once.
func (e *Engine) Bootstrap(owner crypto.Address) error {
	current, err := e.Owner()
	if err != nil {
		return err
	}
	if !current.IsZero() {
		return coreerrors.State("treasury: already bootstrapped")
	}
	if owner.IsZero() {
		return coreerrors.Configuration("treasury: zero owner")
	}
	if err := e.state.KVPut(ownerKey, owner); err != nil {
		return err
	}
	return e.state.KVPut(governorKey(owner), true)
}

func (e *Engine) requireOwner(caller crypto.Address) error {
	owner, err := e.Owner()
	if err != nil {
		return err
	}
	if owner.IsZero() || caller != owner {
		return coreerrors.Authorization("treasury: %s is not the owner", caller.Hex())
	}
	return nil
}

// IsGovernor reports whether addr may move vault funds.
func (e *Engine) IsGovernor(addr crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errStateNotConfigured
	}
	var ok bool
	if _, err := e.state.KVGet(governorKey(addr), &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (e *Engine) requireGovernor(caller crypto.Address) error {
	ok, err := e.IsGovernor(caller)
	if err != nil {
		return err
	}
	if !ok {
		return coreerrors.Authorization("treasury: %s is not a governor", caller.Hex())
	}
	return nil
}

// AddGovernor grants governor rights to addr. Owner only.
func (e *Engine) AddGovernor(caller, addr crypto.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if addr.IsZero() {
		return coreerrors.Configuration("treasury: zero governor")
	}
	if err := e.state.KVPut(governorKey(addr), true); err != nil {
		return err
	}
	e.emit(newRoleEvent(EventTypeGovernorAdded, addr))
	return nil
}

// RemoveGovernor revokes governor rights from addr. Owner only.
func (e *Engine) RemoveGovernor(caller, addr crypto.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	ok, err := e.IsGovernor(addr)
	if err != nil {
		return err
	}
	if !ok {
		return coreerrors.State("treasury: %s is not a governor", addr.Hex())
	}
	if err := e.state.KVDelete(governorKey(addr)); err != nil {
		return err
	}
	e.emit(newRoleEvent(EventTypeGovernorRemoved, addr))
	return nil
}

// TransferOwnership hands the vault to next, who also becomes a governor.
func (e *Engine) TransferOwnership(caller, next crypto.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if next.IsZero() {
		return coreerrors.Configuration("treasury: zero owner")
	}
	if err := e.state.KVPut(ownerKey, next); err != nil {
		return err
	}
	if err := e.state.KVPut(governorKey(next), true); err != nil {
		return err
	}
	e.emit(newRoleEvent(EventTypeOwnershipTransfer, next))
	return nil
}

// Balances returns the vault figures for token. Zero handles mean the token
// has never been deposited.
func (e *Engine) Balances(token crypto.Address) (Balances, error) {
	if e == nil || e.state == nil {
		return Balances{}, errStateNotConfigured
	}
	var b Balances
	_, err := e.state.KVGet(balancesKey(token), &b)
	return b, err
}

func (e *Engine) loadBalances(ev *fhe.Evaluator, token crypto.Address) (Balances, error) {
	b, err := e.Balances(token)
	if err != nil {
		return Balances{}, err
	}
	for _, h := range []*fhe.Handle{&b.Total, &b.Available, &b.Reserved} {
		if h.IsZero() {
			if *h, err = ev.Zero(); err != nil {
				return Balances{}, err
			}
		}
	}
	return b, nil
}

func (e *Engine) storeBalances(ev *fhe.Evaluator, token crypto.Address, b Balances) error {
	self, err := e.account()
	if err != nil {
		return err
	}
	for _, h := range []fhe.Handle{b.Total, b.Available, b.Reserved} {
		if err := ev.Grant(h, self); err != nil {
			return err
		}
	}
	return e.state.KVPut(balancesKey(token), b)
}

func (e *Engine) credit(ev *fhe.Evaluator, token crypto.Address, amount fhe.Handle) error {
	b, err := e.loadBalances(ev, token)
	if err != nil {
		return err
	}
	if b.Total, err = ev.Add(b.Total, amount); err != nil {
		return err
	}
	if b.Available, err = ev.Add(b.Available, amount); err != nil {
		return err
	}
	return e.storeBalances(ev, token, b)
}

// DepositETH records a native-currency deposit. value is the plaintext
// attached value and must be positive.
func (e *Engine) DepositETH(ctx context.Context, caller crypto.Address, value *big.Int, amount fhe.ExternalInput) error {
	if err := e.ready(); err != nil {
		return err
	}
	if value == nil || value.Sign() <= 0 {
		return coreerrors.Configuration("treasury: deposit requires a positive value")
	}
	return e.deposit(ctx, caller, NativeToken, amount, "native")
}

// DepositToken records a token deposit that was transferred to the vault out
// of band. The encrypted amount is trusted as given.
func (e *Engine) DepositToken(ctx context.Context, caller, token crypto.Address, amount fhe.ExternalInput) error {
	if err := e.ready(); err != nil {
		return err
	}
	if token.IsZero() {
		return coreerrors.Configuration("treasury: zero token; use DepositETH")
	}
	return e.deposit(ctx, caller, token, amount, "token")
}

func (e *Engine) deposit(ctx context.Context, caller, token crypto.Address, amount fhe.ExternalInput, kind string) error {
	ev := fhe.NewEvaluator(ctx, e.cop)
	x, err := ev.Import(amount, caller)
	if err != nil {
		return coreerrors.ProofCause(err, "treasury: import deposit")
	}
	if err := e.credit(ev, token, x); err != nil {
		return err
	}
	e.emit(newDepositEvent(token, caller, kind))
	return nil
}

// DepositLedger moves amount of token from the caller's ledger balance to
// the vault account and credits the vault figures. Withdrawals of token are
// paid back on the ledger from then on.
func (e *Engine) DepositLedger(ctx context.Context, caller, token crypto.Address, amount fhe.ExternalInput) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.ledger == nil {
		return coreerrors.Configuration("treasury: ledger not configured")
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	x, err := ev.Import(amount, caller)
	if err != nil {
		return coreerrors.ProofCause(err, "treasury: import deposit")
	}
	self, err := e.account()
	if err != nil {
		return err
	}
	if err := e.ledger.PrivilegedTransfer(ctx, self, caller, self, token, x); err != nil {
		return err
	}
	if err := e.credit(ev, token, x); err != nil {
		return err
	}
	if err := e.state.KVAppend(ledgerTokensKey, token.Bytes()); err != nil {
		return err
	}
	e.emit(newDepositEvent(token, caller, "ledger"))
	return nil
}

// LedgerTokens lists the tokens the vault holds on the ledger, in first
// deposit order.
func (e *Engine) LedgerTokens() ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	var raw [][]byte
	if err := e.state.KVGetList(ledgerTokensKey, &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		out = append(out, crypto.BytesToAddress(b))
	}
	return out, nil
}

func (e *Engine) isLedgerToken(token crypto.Address) (bool, error) {
	tokens, err := e.LedgerTokens()
	if err != nil {
		return false, err
	}
	for _, t := range tokens {
		if t == token {
			return true, nil
		}
	}
	return false, nil
}

// Withdrawal returns a copy of withdrawal id.
func (e *Engine) Withdrawal(id uint64) (*Withdrawal, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	w := new(Withdrawal)
	ok, err := e.state.KVGet(withdrawalKey(id), w)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.State("treasury: unknown withdrawal %d", id)
	}
	return w, nil
}

// RequestWithdrawal reserves amount of token for recipient. The request is
// approved immediately and executable once the withdrawal delay passes.
func (e *Engine) RequestWithdrawal(ctx context.Context, caller, token crypto.Address, amount fhe.ExternalInput, recipient crypto.Address) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := e.requireGovernor(caller); err != nil {
		return 0, err
	}
	if recipient.IsZero() {
		return 0, coreerrors.Configuration("treasury: zero recipient")
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	x, err := ev.Import(amount, caller)
	if err != nil {
		return 0, coreerrors.ProofCause(err, "treasury: import withdrawal")
	}
	b, err := e.loadBalances(ev, token)
	if err != nil {
		return 0, err
	}
	if b.Available, err = ev.Sub(b.Available, x); err != nil {
		return 0, err
	}
	if b.Reserved, err = ev.Add(b.Reserved, x); err != nil {
		return 0, err
	}
	if err := e.storeBalances(ev, token, b); err != nil {
		return 0, err
	}
	kind := WithdrawalExternal
	if ledgerToken, err := e.isLedgerToken(token); err != nil {
		return 0, err
	} else if ledgerToken {
		kind = WithdrawalLedger
	}
	var count uint64
	if _, err := e.state.KVGet(withdrawalCountKey, &count); err != nil {
		return 0, err
	}
	now := e.nowFn()
	w := &Withdrawal{
		ID:        count + 1,
		Token:     token,
		EncAmount: x,
		Recipient: recipient,
		Requester: caller,
		CreatedAt: uint64(now.Unix()),
		ExecuteAt: uint64(now.Add(e.delay).Unix()),
		Approved:  true,
		Kind:      kind,
	}
	self, err := e.account()
	if err != nil {
		return 0, err
	}
	if err := ev.Grant(x, self, caller); err != nil {
		return 0, err
	}
	if err := e.state.KVPut(withdrawalKey(w.ID), w); err != nil {
		return 0, err
	}
	if err := e.state.KVPut(withdrawalCountKey, w.ID); err != nil {
		return 0, err
	}
	e.emit(NewWithdrawalRequestedEvent(w))
	return w.ID, nil
}

// ExecuteWithdrawal pays out withdrawal id. Anyone may trigger it once the
// delay has passed; each withdrawal executes at most once.
func (e *Engine) ExecuteWithdrawal(ctx context.Context, caller crypto.Address, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	w, err := e.Withdrawal(id)
	if err != nil {
		return err
	}
	if w.Executed {
		return coreerrors.State("treasury: withdrawal %d already executed", id)
	}
	if !w.Approved {
		return coreerrors.State("treasury: withdrawal %d not approved", id)
	}
	if now := uint64(e.nowFn().Unix()); now < w.ExecuteAt {
		return coreerrors.Timing("treasury: withdrawal %d executable at %d, now %d", id, w.ExecuteAt, now)
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	b, err := e.loadBalances(ev, w.Token)
	if err != nil {
		return err
	}
	if b.Reserved, err = ev.Sub(b.Reserved, w.EncAmount); err != nil {
		return err
	}
	if b.Total, err = ev.Sub(b.Total, w.EncAmount); err != nil {
		return err
	}
	if err := e.storeBalances(ev, w.Token, b); err != nil {
		return err
	}
	if w.Kind == WithdrawalLedger {
		if e.ledger == nil {
			return coreerrors.Configuration("treasury: ledger not configured")
		}
		self, err := e.account()
		if err != nil {
			return err
		}
		if err := e.ledger.PrivilegedTransfer(ctx, self, self, w.Recipient, w.Token, w.EncAmount); err != nil {
			return err
		}
	}
	if err := ev.Grant(w.EncAmount, w.Recipient); err != nil {
		return err
	}
	w.Executed = true
	if err := e.state.KVPut(withdrawalKey(id), w); err != nil {
		return err
	}
	e.emit(NewWithdrawalExecutedEvent(w, caller))
	return nil
}

// Allocation returns the bucket handle for (token, purpose), zero when the
// bucket was never funded.
func (e *Engine) Allocation(token crypto.Address, purpose string) (fhe.Handle, error) {
	if e == nil || e.state == nil {
		return fhe.Handle{}, errStateNotConfigured
	}
	var h fhe.Handle
	_, err := e.state.KVGet(allocationKey(token, purpose), &h)
	return h, err
}

// Allocate earmarks amount of available token funds for purpose.
func (e *Engine) Allocate(ctx context.Context, caller, token crypto.Address, purpose string, amount fhe.ExternalInput) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireGovernor(caller); err != nil {
		return err
	}
	if purpose == "" {
		return coreerrors.Configuration("treasury: empty allocation purpose")
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	x, err := ev.Import(amount, caller)
	if err != nil {
		return coreerrors.ProofCause(err, "treasury: import allocation")
	}
	b, err := e.loadBalances(ev, token)
	if err != nil {
		return err
	}
	if b.Available, err = ev.Sub(b.Available, x); err != nil {
		return err
	}
	if err := e.storeBalances(ev, token, b); err != nil {
		return err
	}
	bucket, err := e.Allocation(token, purpose)
	if err != nil {
		return err
	}
	if bucket.IsZero() {
		bucket = x
	} else if bucket, err = ev.Add(bucket, x); err != nil {
		return err
	}
	self, err := e.account()
	if err != nil {
		return err
	}
	if err := ev.Grant(bucket, self, caller); err != nil {
		return err
	}
	if err := e.state.KVPut(allocationKey(token, purpose), bucket); err != nil {
		return err
	}
	e.emit(newAllocatedEvent(token, purpose, caller))
	return nil
}

// GrantBalances gives viewer decrypt capability on the token figures.
func (e *Engine) GrantBalances(ctx context.Context, caller, token, viewer crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireGovernor(caller); err != nil {
		return err
	}
	b, err := e.Balances(token)
	if err != nil {
		return err
	}
	if b.Total.IsZero() {
		return coreerrors.State("treasury: no balances for %s", token.Hex())
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	for _, h := range []fhe.Handle{b.Total, b.Available, b.Reserved} {
		if err := ev.Grant(h, viewer); err != nil {
			return err
		}
	}
	return nil
}
