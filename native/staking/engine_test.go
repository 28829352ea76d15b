package staking

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "vchain/core/errors"
	"vchain/core/events"
	"vchain/core/state"
	"vchain/crypto"
	"vchain/fhe"
	"vchain/fhe/local"
	"vchain/native/ledger"
	"vchain/storage"
)

var (
	principal = crypto.Address{0xAA}
	alice     = crypto.Address{0x01}
	bob       = crypto.Address{0x02}
)

type fixture struct {
	eng    *Engine
	ledger *ledger.Engine
	cop    *local.Coprocessor
	rec    *events.Recorder
	now    time.Time
	height uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := state.NewManager(storage.NewMemDB())
	cop := local.New(local.Config{Secret: []byte("staking-test")})
	f := &fixture{cop: cop, rec: &events.Recorder{}, now: time.Unix(1_700_000_000, 0)}

	self := crypto.DeriveAddress("vchain/staking")
	led := ledger.NewEngine(crypto.DeriveAddress("vchain/ledger"))
	led.SetState(st)
	led.SetCoprocessor(cop)
	require.NoError(t, led.PutSettings(ledger.Settings{ChainID: 1, PrincipalToken: principal, Staking: self}))
	require.NoError(t, led.InitializeSupply(ctx, 1_000_000, 1<<40, 1))

	eng := NewEngine(self)
	eng.SetState(st)
	eng.SetCoprocessor(cop)
	eng.SetLedger(led)
	eng.SetEmitter(f.rec)
	eng.SetNowFunc(func() time.Time { return f.now })
	eng.SetHeightFunc(func() uint64 { return f.height })
	require.NoError(t, eng.SetAPR(ctx, DefaultBlocksPerYear))
	f.eng, f.ledger = eng, led

	for _, acct := range []crypto.Address{alice, bob} {
		h, err := cop.Constant(ctx, fhe.EUint64, big.NewInt(100))
		require.NoError(t, err)
		require.NoError(t, led.PrivilegedCredit(ctx, self, acct, principal, h))
	}
	return f
}

func (f *fixture) reveal(t *testing.T, h fhe.Handle) uint64 {
	t.Helper()
	v, ok := f.cop.Reveal(h)
	require.True(t, ok)
	return v.Uint64()
}

func (f *fixture) balance(t *testing.T, acct crypto.Address) uint64 {
	t.Helper()
	h, err := f.ledger.Balance(acct, principal)
	require.NoError(t, err)
	return f.reveal(t, h)
}

func (f *fixture) stake(t *testing.T, who crypto.Address, amount uint64) uint64 {
	t.Helper()
	id, err := f.eng.Stake(context.Background(), who, f.cop.EncryptUint64(who, amount), DefaultMinLockPeriod)
	require.NoError(t, err)
	return id
}

func TestStakeMovesPrincipal(t *testing.T) {
	f := newFixture(t)
	id := f.stake(t, alice, 10)
	require.Equal(t, uint64(1), id)
	require.Equal(t, uint64(90), f.balance(t, alice))
	require.Equal(t, uint64(10), f.balance(t, f.eng.Address()))

	s, err := f.eng.Position(id)
	require.NoError(t, err)
	require.True(t, s.Active)
	require.Equal(t, uint64(f.now.Add(DefaultMinLockPeriod).Unix()), s.LockExpiry)
	require.True(t, f.cop.HasAccess(s.EncAmount, alice))
	require.True(t, f.cop.HasAccess(s.EncRewardDebt, alice))

	active, err := f.eng.HasActiveStake(alice)
	require.NoError(t, err)
	require.True(t, active)
	pool, err := f.eng.Pool()
	require.NoError(t, err)
	require.Equal(t, uint64(10), f.reveal(t, pool.EncTotalStaked))
}

func TestStakeRejectsShortLock(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Stake(context.Background(), alice, f.cop.EncryptUint64(alice, 10), time.Hour)
	require.ErrorIs(t, err, coreerrors.ErrConfiguration)
}

func TestRewardAccrualAndClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.stake(t, alice, 10)

	f.height = 5
	paid, err := f.eng.ClaimRewards(ctx, alice, id)
	require.NoError(t, err)
	// rewardPerShare = 10 * 5, accumulated = 10 * 50.
	require.Equal(t, uint64(500), f.reveal(t, paid))
	require.Equal(t, uint64(590), f.balance(t, alice))

	again, err := f.eng.ClaimRewards(ctx, alice, id)
	require.NoError(t, err)
	require.Equal(t, uint64(0), f.reveal(t, again))
	require.Equal(t, EventTypeRewardsClaimed, f.rec.Types()[len(f.rec.Types())-1])
}

func TestLateStakerStartsAtCurrentAccumulator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stake(t, alice, 10)
	f.height = 3
	id := f.stake(t, bob, 5)

	paid, err := f.eng.ClaimRewards(ctx, bob, id)
	require.NoError(t, err)
	require.Equal(t, uint64(0), f.reveal(t, paid))
}

func TestUnstakeGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.stake(t, alice, 10)

	_, err := f.eng.Unstake(ctx, bob, id)
	require.ErrorIs(t, err, coreerrors.ErrAuthorization)
	_, err = f.eng.Unstake(ctx, alice, id)
	require.ErrorIs(t, err, coreerrors.ErrTiming)
	_, err = f.eng.Unstake(ctx, alice, 99)
	require.ErrorIs(t, err, coreerrors.ErrState)

	f.now = f.now.Add(DefaultMinLockPeriod)
	amount, err := f.eng.Unstake(ctx, alice, id)
	require.NoError(t, err)
	require.Equal(t, uint64(10), f.reveal(t, amount))
	require.Equal(t, uint64(100), f.balance(t, alice))

	_, err = f.eng.Unstake(ctx, alice, id)
	require.ErrorIs(t, err, coreerrors.ErrState)
	_, err = f.eng.ClaimRewards(ctx, alice, id)
	require.ErrorIs(t, err, coreerrors.ErrState)

	active, err := f.eng.HasActiveStake(alice)
	require.NoError(t, err)
	require.False(t, active)
}

func TestRateOverflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stake(t, alice, 10)
	require.NoError(t, f.eng.SetAPR(ctx, ^uint64(0)))
	require.NoError(t, f.eng.SetBlocksPerYear(ctx, 1))
	f.height = 2
	_, err := f.eng.Stake(ctx, bob, f.cop.EncryptUint64(bob, 1), DefaultMinLockPeriod)
	require.ErrorIs(t, err, coreerrors.ErrConfiguration)
}

func TestSetParams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.eng.SetMinLockPeriod(ctx, time.Hour))
	_, err := f.eng.Stake(ctx, alice, f.cop.EncryptUint64(alice, 1), time.Hour)
	require.NoError(t, err)
	require.ErrorIs(t, f.eng.SetBlocksPerYear(ctx, 0), coreerrors.ErrConfiguration)
	pool, err := f.eng.Pool()
	require.NoError(t, err)
	require.Equal(t, uint64(3600), pool.MinLockPeriod)
}
