package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "vchain/core/errors"
	"vchain/core/events"
	"vchain/core/state"
	"vchain/crypto"
	"vchain/storage"
)

var (
	admin    = crypto.Address{0x0A}
	nominee  = crypto.Address{0x0B}
	stranger = crypto.Address{0x0C}
	implV1   = crypto.Address{0x11}
	implV2   = crypto.Address{0x12}
)

type fixture struct {
	eng *Engine
	rec *events.Recorder
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	f := &fixture{rec: &events.Recorder{}, now: time.Unix(1_700_000_000, 0)}
	eng := NewEngine()
	eng.SetState(st)
	eng.SetEmitter(f.rec)
	eng.SetNowFunc(func() time.Time { return f.now })
	eng.SetNamespaceFunc(func(prefix string) Store { return state.NewNamespace(st, prefix) })
	require.NoError(t, eng.Bootstrap(admin))
	f.eng = eng
	return f
}

func counter(ctx context.Context, call Call) ([]byte, error) {
	var n uint64
	if _, err := call.Store.KVGet([]byte("calls"), &n); err != nil {
		return nil, err
	}
	n++
	if err := call.Store.KVPut([]byte("calls"), n); err != nil {
		return nil, err
	}
	return []byte(call.Method), nil
}

func TestBootstrapOnce(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.eng.Bootstrap(nominee), coreerrors.ErrState)
	require.NoError(t, f.eng.RequireAdmin(admin))
	require.ErrorIs(t, f.eng.RequireAdmin(stranger), coreerrors.ErrAuthorization)
}

func TestAdminTransfer(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.eng.ProposeAdmin(stranger, nominee), coreerrors.ErrAuthorization)
	require.ErrorIs(t, f.eng.AcceptAdmin(nominee), coreerrors.ErrState)

	require.NoError(t, f.eng.ProposeAdmin(admin, nominee))
	require.ErrorIs(t, f.eng.AcceptAdmin(stranger), coreerrors.ErrAuthorization)
	require.ErrorIs(t, f.eng.AcceptAdmin(nominee), coreerrors.ErrTiming)

	f.now = f.now.Add(AdminDelay)
	require.NoError(t, f.eng.AcceptAdmin(nominee))
	current, err := f.eng.Admin()
	require.NoError(t, err)
	require.Equal(t, nominee, current)
	p, err := f.eng.Pending(GateAdmin)
	require.NoError(t, err)
	require.False(t, p.Pending())
}

func TestProposalReplacedAndRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.ProposeAdmin(admin, stranger))
	require.NoError(t, f.eng.ProposeAdmin(admin, nominee))
	p, err := f.eng.Pending(GateAdmin)
	require.NoError(t, err)
	require.Equal(t, nominee, p.Target)

	require.ErrorIs(t, f.eng.RejectAdmin(stranger), coreerrors.ErrAuthorization)
	require.NoError(t, f.eng.RejectAdmin(nominee))
	require.ErrorIs(t, f.eng.RejectAdmin(admin), coreerrors.ErrState)

	f.now = f.now.Add(AdminDelay)
	require.ErrorIs(t, f.eng.AcceptAdmin(nominee), coreerrors.ErrState)
}

func TestImplementationUpgradeAndDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.eng.Register(implV1, ImplementationFunc(counter)))
	require.ErrorIs(t, f.eng.Register(implV1, ImplementationFunc(counter)), coreerrors.ErrConfiguration)

	_, err := f.eng.Dispatch(ctx, stranger, "ping", nil)
	require.ErrorIs(t, err, coreerrors.ErrConfiguration)

	require.ErrorIs(t, f.eng.ProposeImplementation(admin, implV2), coreerrors.ErrConfiguration)
	require.NoError(t, f.eng.ProposeImplementation(admin, implV1))
	require.ErrorIs(t, f.eng.AcceptImplementation(stranger), coreerrors.ErrAuthorization)
	f.now = f.now.Add(AdminDelay)
	require.ErrorIs(t, f.eng.AcceptImplementation(admin), coreerrors.ErrTiming)
	f.now = f.now.Add(ImplementationDelay)
	require.NoError(t, f.eng.AcceptImplementation(admin))

	v, err := f.eng.Version()
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)

	out, err := f.eng.Dispatch(ctx, stranger, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, "ping", string(out))
	_, err = f.eng.Dispatch(ctx, stranger, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, EventTypeDispatched, f.rec.Types()[len(f.rec.Types())-1])
}

func TestRejectImplementation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.Register(implV1, ImplementationFunc(counter)))
	require.NoError(t, f.eng.ProposeImplementation(admin, implV1))
	require.ErrorIs(t, f.eng.RejectImplementation(nominee), coreerrors.ErrAuthorization)
	require.NoError(t, f.eng.RejectImplementation(admin))
	current, err := f.eng.Implementation()
	require.NoError(t, err)
	require.True(t, current.IsZero())
}

type declared struct {
	ImplementationFunc
	methods []string
}

func (d declared) Methods() []string { return d.methods }

func TestReservedMethods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.eng.Reserve("pay", " Stake ")

	err := f.eng.Register(implV2, declared{ImplementationFunc: counter, methods: []string{"stake"}})
	require.ErrorIs(t, err, coreerrors.ErrConfiguration)
	require.Empty(t, f.eng.Registered())

	require.NoError(t, f.eng.Register(implV1, ImplementationFunc(counter)))
	require.Equal(t, []crypto.Address{implV1}, f.eng.Registered())
	require.NoError(t, f.eng.ProposeImplementation(admin, implV1))
	f.now = f.now.Add(ImplementationDelay)
	require.NoError(t, f.eng.AcceptImplementation(admin))

	_, err = f.eng.Dispatch(ctx, stranger, "PAY", nil)
	require.ErrorIs(t, err, coreerrors.ErrConfiguration)
	out, err := f.eng.Dispatch(ctx, stranger, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, "ping", string(out))
}
