package treasury

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
	owner    = crypto.Address{0x0A}
	governor = crypto.Address{0x0B}
	alice    = crypto.Address{0x01}
	bob      = crypto.Address{0x02}
	usd      = crypto.Address{0xBB}
)

type fixture struct {
	eng    *Engine
	ledger *ledger.Engine
	cop    *local.Coprocessor
	rec    *events.Recorder
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	cop := local.New(local.Config{Secret: []byte("treasury-test")})
	f := &fixture{cop: cop, rec: &events.Recorder{}, now: time.Unix(1_700_000_000, 0)}
	clock := func() time.Time { return f.now }

	self := crypto.DeriveAddress("vchain/treasury")
	led := ledger.NewEngine(crypto.DeriveAddress("vchain/ledger"))
	led.SetState(st)
	led.SetCoprocessor(cop)
	led.SetNowFunc(clock)
	require.NoError(t, led.PutSettings(ledger.Settings{ChainID: 1, PrincipalToken: usd, Treasury: self}))

	eng := NewEngine(self)
	eng.SetState(st)
	eng.SetCoprocessor(cop)
	eng.SetLedger(led)
	eng.SetEmitter(f.rec)
	eng.SetNowFunc(clock)
	require.NoError(t, eng.Bootstrap(owner))
	require.NoError(t, eng.AddGovernor(owner, governor))
	f.eng, f.ledger = eng, led
	return f
}

func (f *fixture) reveal(t *testing.T, h fhe.Handle) uint64 {
	t.Helper()
	v, ok := f.cop.Reveal(h)
	require.True(t, ok)
	return v.Uint64()
}

func (f *fixture) figures(t *testing.T, token crypto.Address) (total, available, reserved uint64) {
	t.Helper()
	b, err := f.eng.Balances(token)
	require.NoError(t, err)
	return f.reveal(t, b.Total), f.reveal(t, b.Available), f.reveal(t, b.Reserved)
}

func TestBootstrapOnce(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.eng.Bootstrap(alice), coreerrors.ErrState)
	ok, err := f.eng.IsGovernor(owner)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGovernorManagement(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.eng.AddGovernor(governor, alice), coreerrors.ErrAuthorization)
	require.NoError(t, f.eng.RemoveGovernor(owner, governor))
	require.ErrorIs(t, f.eng.RemoveGovernor(owner, governor), coreerrors.ErrState)

	require.ErrorIs(t, f.eng.TransferOwnership(alice, alice), coreerrors.ErrAuthorization)
	require.NoError(t, f.eng.TransferOwnership(owner, alice))
	current, err := f.eng.Owner()
	require.NoError(t, err)
	require.Equal(t, alice, current)
	require.ErrorIs(t, f.eng.AddGovernor(owner, bob), coreerrors.ErrAuthorization)
	require.NoError(t, f.eng.AddGovernor(alice, bob))
}

func TestDepositETHRequiresValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.eng.DepositETH(ctx, alice, big.NewInt(0), f.cop.EncryptUint64(alice, 5))
	require.ErrorIs(t, err, coreerrors.ErrConfiguration)

	require.NoError(t, f.eng.DepositETH(ctx, alice, big.NewInt(5), f.cop.EncryptUint64(alice, 5)))
	total, available, reserved := f.figures(t, NativeToken)
	require.Equal(t, uint64(5), total)
	require.Equal(t, uint64(5), available)
	require.Equal(t, uint64(0), reserved)
}

func TestDepositRejectsForeignProof(t *testing.T) {
	f := newFixture(t)
	err := f.eng.DepositToken(context.Background(), alice, usd, f.cop.EncryptUint64(bob, 5))
	require.ErrorIs(t, err, coreerrors.ErrProofVerification)
	b, err := f.eng.Balances(usd)
	require.NoError(t, err)
	require.True(t, b.Total.IsZero())
}

func TestWithdrawalLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.eng.DepositToken(ctx, alice, usd, f.cop.EncryptUint64(alice, 100)))

	_, err := f.eng.RequestWithdrawal(ctx, alice, usd, f.cop.EncryptUint64(alice, 30), bob)
	require.ErrorIs(t, err, coreerrors.ErrAuthorization)

	id, err := f.eng.RequestWithdrawal(ctx, governor, usd, f.cop.EncryptUint64(governor, 30), bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	total, available, reserved := f.figures(t, usd)
	require.Equal(t, []uint64{100, 70, 30}, []uint64{total, available, reserved})

	w, err := f.eng.Withdrawal(id)
	require.NoError(t, err)
	require.True(t, w.Approved)
	require.Equal(t, WithdrawalExternal, w.Kind)
	require.Equal(t, uint64(f.now.Add(DefaultWithdrawalDelay).Unix()), w.ExecuteAt)

	require.ErrorIs(t, f.eng.ExecuteWithdrawal(ctx, alice, id), coreerrors.ErrTiming)
	f.now = f.now.Add(DefaultWithdrawalDelay)
	require.NoError(t, f.eng.ExecuteWithdrawal(ctx, alice, id))
	require.ErrorIs(t, f.eng.ExecuteWithdrawal(ctx, alice, id), coreerrors.ErrState)
	require.ErrorIs(t, f.eng.ExecuteWithdrawal(ctx, alice, 99), coreerrors.ErrState)

	total, available, reserved = f.figures(t, usd)
	require.Equal(t, []uint64{70, 70, 0}, []uint64{total, available, reserved})
	require.True(t, f.cop.HasAccess(w.EncAmount, bob))
	require.Equal(t, EventTypeWithdrawalExecuted, f.rec.Types()[len(f.rec.Types())-1])
}

func TestLedgerDepositAndPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed, err := f.cop.Constant(ctx, fhe.EUint64, big.NewInt(50))
	require.NoError(t, err)
	require.NoError(t, f.ledger.PrivilegedCredit(ctx, f.eng.Address(), alice, usd, seed))

	require.NoError(t, f.eng.DepositLedger(ctx, alice, usd, f.cop.EncryptUint64(alice, 40)))
	aliceBal, err := f.ledger.Balance(alice, usd)
	require.NoError(t, err)
	require.Equal(t, uint64(10), f.reveal(t, aliceBal))

	id, err := f.eng.RequestWithdrawal(ctx, governor, usd, f.cop.EncryptUint64(governor, 15), bob)
	require.NoError(t, err)
	w, err := f.eng.Withdrawal(id)
	require.NoError(t, err)
	require.Equal(t, WithdrawalLedger, w.Kind)

	f.now = f.now.Add(DefaultWithdrawalDelay + time.Second)
	require.NoError(t, f.eng.ExecuteWithdrawal(ctx, bob, id))
	bobBal, err := f.ledger.Balance(bob, usd)
	require.NoError(t, err)
	require.Equal(t, uint64(15), f.reveal(t, bobBal))
	vault, err := f.ledger.Balance(f.eng.Address(), usd)
	require.NoError(t, err)
	require.Equal(t, uint64(25), f.reveal(t, vault))
}

func TestAllocateAndGrantBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.eng.DepositToken(ctx, alice, usd, f.cop.EncryptUint64(alice, 100)))

	require.ErrorIs(t, f.eng.Allocate(ctx, alice, usd, "grants", f.cop.EncryptUint64(alice, 10)), coreerrors.ErrAuthorization)
	require.ErrorIs(t, f.eng.Allocate(ctx, governor, usd, "", f.cop.EncryptUint64(governor, 10)), coreerrors.ErrConfiguration)
	for i := 0; i < 2; i++ {
		require.NoError(t, f.eng.Allocate(ctx, governor, usd, "grants", f.cop.EncryptUint64(governor, 10)))
	}
	bucket, err := f.eng.Allocation(usd, "grants")
	require.NoError(t, err)
	require.Equal(t, uint64(20), f.reveal(t, bucket))
	total, available, _ := f.figures(t, usd)
	require.Equal(t, uint64(100), total)
	require.Equal(t, uint64(80), available)

	require.ErrorIs(t, f.eng.GrantBalances(ctx, alice, usd, bob), coreerrors.ErrAuthorization)
	require.ErrorIs(t, f.eng.GrantBalances(ctx, governor, crypto.Address{0xCC}, bob), coreerrors.ErrState)
	require.NoError(t, f.eng.GrantBalances(ctx, governor, usd, bob))
	b, err := f.eng.Balances(usd)
	require.NoError(t, err)
	require.True(t, f.cop.HasAccess(b.Total, bob))
	require.True(t, f.cop.HasAccess(b.Available, bob))
}
