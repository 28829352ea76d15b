// Package staking implements the encrypted staking pool. Positions are
// locked for a minimum period and accrue rewards through a lazily updated
// reward-per-share accumulator.
package staking

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/holiman/uint256"

	coreerrors "vchain/core/errors"
	"vchain/core/events"
	"vchain/core/types"
	"vchain/crypto"
	"vchain/fhe"
)

type poolState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var errStateNotConfigured = errors.New("staking: state not configured")

var (
	poolKey       = []byte("staking/pool")
	stakeCountKey = []byte("staking/count")
)

func stakeKey(id uint64) []byte {
	return append([]byte("staking/stake/"), events.UintAttr(id)...)
}

func ownerIndexKey(owner crypto.Address) []byte {
	return append([]byte("staking/owner/"), owner.Bytes()...)
}

func activeCountKey(owner crypto.Address) []byte {
	return append([]byte("staking/active/"), owner.Bytes()...)
}

// Engine is the staking pool. self is the pool's default account on the
// ledger.
type Engine struct {
	self     crypto.Address
	state    poolState
	cop      fhe.Coprocessor
	ledger   Ledger
	emitter  events.Emitter
	nowFn    func() time.Time
	heightFn func() uint64
}

// NewEngine constructs a staking pool whose ledger account is self.
func NewEngine(self crypto.Address) *Engine {
	return &Engine{
		self:     self,
		emitter:  events.NoopEmitter{},
		nowFn:    func() time.Time { return time.Now().UTC() },
		heightFn: func() uint64 { return 0 },
	}
}

// Address returns the pool's default ledger account.
func (e *Engine) Address() crypto.Address { return e.self }

// account is the address the pool acts as on the ledger: the staking account
// named in the ledger settings, or the default account.
func (e *Engine) account() (crypto.Address, error) {
	if e.ledger == nil {
		return e.self, nil
	}
	settings, err := e.ledger.Settings()
	if err != nil {
		return crypto.Address{}, err
	}
	if settings.Staking.IsZero() {
		return e.self, nil
	}
	return settings.Staking, nil
}

// SetState wires the engine to the state backend providing persistence helpers.
func (e *Engine) SetState(state poolState) { e.state = state }

// SetCoprocessor configures the coprocessor client.
func (e *Engine) SetCoprocessor(cop fhe.Coprocessor) { e.cop = cop }

// SetLedger configures the ledger holding staked principal and rewards.
func (e *Engine) SetLedger(l Ledger) { e.ledger = l }

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

// SetHeightFunc configures the host block height source.
func (e *Engine) SetHeightFunc(height func() uint64) {
	if height == nil {
		height = func() uint64 { return 0 }
	}
	e.heightFn = height
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
		return coreerrors.Configuration("staking: coprocessor not configured")
	}
	if e.ledger == nil {
		return coreerrors.Configuration("staking: ledger not configured")
	}
	return nil
}

// Pool returns the persisted pool, or the default parameters before the
// first write.
func (e *Engine) Pool() (Pool, error) {
	if e == nil || e.state == nil {
		return Pool{}, errStateNotConfigured
	}
	p := Pool{
		APR:           DefaultAPR,
		BlocksPerYear: DefaultBlocksPerYear,
		MinLockPeriod: uint64(DefaultMinLockPeriod / time.Second),
	}
	if _, err := e.state.KVGet(poolKey, &p); err != nil {
		return Pool{}, err
	}
	return p, nil
}

// update brings the accumulator forward to the current height:
// rewardPerShare += totalStaked * (APR * blocks / BlocksPerYear).
func (e *Engine) update(ev *fhe.Evaluator) (Pool, error) {
	p, err := e.Pool()
	if err != nil {
		return Pool{}, err
	}
	height := e.heightFn()
	if !p.Initialized() {
		if p.EncTotalStaked, err = ev.Zero(); err != nil {
			return Pool{}, err
		}
		if p.EncRewardPerShare, err = ev.Zero(); err != nil {
			return Pool{}, err
		}
		p.LastUpdateBlock = height
		return p, nil
	}
	if height <= p.LastUpdateBlock {
		return p, nil
	}
	if p.BlocksPerYear == 0 {
		return Pool{}, coreerrors.Configuration("staking: blocks per year is zero")
	}
	inc := new(uint256.Int).Mul(uint256.NewInt(p.APR), uint256.NewInt(height-p.LastUpdateBlock))
	inc.Div(inc, uint256.NewInt(p.BlocksPerYear))
	if !inc.IsUint64() {
		return Pool{}, coreerrors.Configuration("staking: reward rate %s exceeds handle width", inc.Dec())
	}
	if !inc.IsZero() {
		delta, err := ev.MulScalar(p.EncTotalStaked, inc.Uint64())
		if err != nil {
			return Pool{}, err
		}
		if p.EncRewardPerShare, err = ev.Add(p.EncRewardPerShare, delta); err != nil {
			return Pool{}, err
		}
	}
	p.LastUpdateBlock = height
	return p, nil
}

func (e *Engine) putPool(ev *fhe.Evaluator, p Pool) error {
	self, err := e.account()
	if err != nil {
		return err
	}
	if err := ev.Grant(p.EncTotalStaked, self); err != nil {
		return err
	}
	if err := ev.Grant(p.EncRewardPerShare, self); err != nil {
		return err
	}
	return e.state.KVPut(poolKey, p)
}

// Position returns a copy of position id.
func (e *Engine) Position(id uint64) (*Stake, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	s := new(Stake)
	ok, err := e.state.KVGet(stakeKey(id), s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.State("staking: unknown stake %d", id)
	}
	return s, nil
}

// StakesOf returns the position ids opened by owner.
func (e *Engine) StakesOf(owner crypto.Address) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	var ids []uint64
	if _, err := e.state.KVGet(ownerIndexKey(owner), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// HasActiveStake reports whether addr holds at least one open position.
func (e *Engine) HasActiveStake(addr crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errStateNotConfigured
	}
	var n uint64
	if _, err := e.state.KVGet(activeCountKey(addr), &n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (e *Engine) adjustActive(owner crypto.Address, delta int) error {
	var n uint64
	if _, err := e.state.KVGet(activeCountKey(owner), &n); err != nil {
		return err
	}
	if delta < 0 {
		if n == 0 {
			return coreerrors.State("staking: active count underflow for %s", owner.Hex())
		}
		n--
	} else {
		n++
	}
	return e.state.KVPut(activeCountKey(owner), n)
}

func (e *Engine) principalToken() (crypto.Address, error) {
	settings, err := e.ledger.Settings()
	if err != nil {
		return crypto.Address{}, err
	}
	return settings.PrincipalToken, nil
}

// Stake locks amount of the principal token for lockPeriod and returns the
// new position id.
func (e *Engine) Stake(ctx context.Context, caller crypto.Address, amount fhe.ExternalInput, lockPeriod time.Duration) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if caller.IsZero() {
		return 0, coreerrors.Configuration("staking: zero staker")
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	p, err := e.update(ev)
	if err != nil {
		return 0, err
	}
	lockSeconds := uint64(lockPeriod / time.Second)
	if lockPeriod < 0 || lockSeconds < p.MinLockPeriod {
		return 0, coreerrors.Configuration("staking: lock period %s below minimum %ds", lockPeriod, p.MinLockPeriod)
	}
	x, err := ev.Import(amount, caller)
	if err != nil {
		return 0, coreerrors.ProofCause(err, "staking: import amount")
	}
	debt, err := ev.Mul(x, p.EncRewardPerShare)
	if err != nil {
		return 0, err
	}
	token, err := e.principalToken()
	if err != nil {
		return 0, err
	}
	self, err := e.account()
	if err != nil {
		return 0, err
	}
	if err := e.ledger.PrivilegedTransfer(ctx, self, caller, self, token, x); err != nil {
		return 0, err
	}
	if p.EncTotalStaked, err = ev.Add(p.EncTotalStaked, x); err != nil {
		return 0, err
	}
	for _, h := range []fhe.Handle{x, debt} {
		if err := ev.Grant(h, self, caller); err != nil {
			return 0, err
		}
	}
	var count uint64
	if _, err := e.state.KVGet(stakeCountKey, &count); err != nil {
		return 0, err
	}
	now := uint64(e.nowFn().Unix())
	s := &Stake{
		ID:            count + 1,
		Owner:         caller,
		EncAmount:     x,
		EncRewardDebt: debt,
		CreatedAt:     now,
		LockExpiry:    now + lockSeconds,
		Active:        true,
	}
	ids, err := e.StakesOf(caller)
	if err != nil {
		return 0, err
	}
	if err := e.state.KVPut(ownerIndexKey(caller), append(ids, s.ID)); err != nil {
		return 0, err
	}
	if err := e.adjustActive(caller, 1); err != nil {
		return 0, err
	}
	if err := e.state.KVPut(stakeKey(s.ID), s); err != nil {
		return 0, err
	}
	if err := e.state.KVPut(stakeCountKey, s.ID); err != nil {
		return 0, err
	}
	if err := e.putPool(ev, p); err != nil {
		return 0, err
	}
	e.emit(NewStakedEvent(s))
	return s.ID, nil
}

// owned loads position id and checks that caller's index lists it.
func (e *Engine) owned(caller crypto.Address, id uint64) (*Stake, error) {
	s, err := e.Position(id)
	if err != nil {
		return nil, err
	}
	ids, err := e.StakesOf(caller)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(ids, id) {
		return nil, coreerrors.Authorization("staking: stake %d not owned by %s", id, caller.Hex())
	}
	if !s.Active {
		return nil, coreerrors.State("staking: stake %d is closed", id)
	}
	return s, nil
}

// Unstake closes position id once its lock has expired and returns the
// principal to the caller's ledger balance.
func (e *Engine) Unstake(ctx context.Context, caller crypto.Address, id uint64) (fhe.Handle, error) {
	if err := e.ready(); err != nil {
		return fhe.Handle{}, err
	}
	s, err := e.owned(caller, id)
	if err != nil {
		return fhe.Handle{}, err
	}
	if now := uint64(e.nowFn().Unix()); now < s.LockExpiry {
		return fhe.Handle{}, coreerrors.Timing("staking: stake %d locked until %d, now %d", id, s.LockExpiry, now)
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	p, err := e.update(ev)
	if err != nil {
		return fhe.Handle{}, err
	}
	if p.EncTotalStaked, err = ev.Sub(p.EncTotalStaked, s.EncAmount); err != nil {
		return fhe.Handle{}, err
	}
	token, err := e.principalToken()
	if err != nil {
		return fhe.Handle{}, err
	}
	self, err := e.account()
	if err != nil {
		return fhe.Handle{}, err
	}
	if err := e.ledger.PrivilegedTransfer(ctx, self, self, caller, token, s.EncAmount); err != nil {
		return fhe.Handle{}, err
	}
	s.Active = false
	if err := e.state.KVPut(stakeKey(id), s); err != nil {
		return fhe.Handle{}, err
	}
	if err := e.adjustActive(caller, -1); err != nil {
		return fhe.Handle{}, err
	}
	if err := e.putPool(ev, p); err != nil {
		return fhe.Handle{}, err
	}
	e.emit(NewUnstakedEvent(s))
	return s.EncAmount, nil
}

// ClaimRewards mints the rewards accrued by position id since its last
// claim to the caller and returns the paid amount.
func (e *Engine) ClaimRewards(ctx context.Context, caller crypto.Address, id uint64) (fhe.Handle, error) {
	if err := e.ready(); err != nil {
		return fhe.Handle{}, err
	}
	s, err := e.owned(caller, id)
	if err != nil {
		return fhe.Handle{}, err
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	p, err := e.update(ev)
	if err != nil {
		return fhe.Handle{}, err
	}
	accumulated, err := ev.Mul(s.EncAmount, p.EncRewardPerShare)
	if err != nil {
		return fhe.Handle{}, err
	}
	payable, err := ev.Sub(accumulated, s.EncRewardDebt)
	if err != nil {
		return fhe.Handle{}, err
	}
	self, err := e.account()
	if err != nil {
		return fhe.Handle{}, err
	}
	if err := e.ledger.PrivilegedMint(ctx, self, caller, payable); err != nil {
		return fhe.Handle{}, err
	}
	for _, h := range []fhe.Handle{accumulated, payable} {
		if err := ev.Grant(h, self, caller); err != nil {
			return fhe.Handle{}, err
		}
	}
	s.EncRewardDebt = accumulated
	if err := e.state.KVPut(stakeKey(id), s); err != nil {
		return fhe.Handle{}, err
	}
	if err := e.putPool(ev, p); err != nil {
		return fhe.Handle{}, err
	}
	e.emit(NewRewardsClaimedEvent(s, p.LastUpdateBlock))
	return payable, nil
}

func (e *Engine) setParams(ctx context.Context, fn func(*Pool) error) error {
	if err := e.ready(); err != nil {
		return err
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	p, err := e.update(ev)
	if err != nil {
		return err
	}
	if err := fn(&p); err != nil {
		return err
	}
	if err := e.putPool(ev, p); err != nil {
		return err
	}
	e.emit(newParamsEvent(p))
	return nil
}

// SetAPR changes the reward rate. Rewards up to the current height accrue
// at the previous rate.
func (e *Engine) SetAPR(ctx context.Context, apr uint64) error {
	return e.setParams(ctx, func(p *Pool) error {
		p.APR = apr
		return nil
	})
}

// SetBlocksPerYear changes the rate denominator.
func (e *Engine) SetBlocksPerYear(ctx context.Context, blocks uint64) error {
	if blocks == 0 {
		return coreerrors.Configuration("staking: blocks per year must be positive")
	}
	return e.setParams(ctx, func(p *Pool) error {
		p.BlocksPerYear = blocks
		return nil
	})
}

// SetMinLockPeriod changes the shortest accepted lock for new positions.
func (e *Engine) SetMinLockPeriod(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return coreerrors.Configuration("staking: negative lock period")
	}
	return e.setParams(ctx, func(p *Pool) error {
		p.MinLockPeriod = uint64(d / time.Second)
		return nil
	})
}
