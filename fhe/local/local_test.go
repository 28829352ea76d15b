package local

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vchain/crypto"
	"vchain/fhe"
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[19] = b
	return a
}

func reveal(t *testing.T, c *Coprocessor, h fhe.Handle) uint64 {
	t.Helper()
	v, ok := c.Reveal(h)
	require.True(t, ok, "handle %s unknown", h)
	return v.Uint64()
}

func TestImportRequiresOwnerBoundProof(t *testing.T) {
	c := New(Config{Secret: []byte("test")})
	ctx := context.Background()
	alice, bob := addr(1), addr(2)

	in := c.EncryptUint64(alice, 42)
	h, err := c.VerifyAndImport(ctx, in, alice)
	require.NoError(t, err)
	require.Equal(t, in.Handle, h)
	require.True(t, c.HasAccess(h, alice))

	_, err = c.VerifyAndImport(ctx, in, bob)
	require.ErrorIs(t, err, fhe.ErrInvalidProof)

	forged := fhe.ExternalInput{Handle: in.Handle, Proof: []byte("nope")}
	_, err = c.VerifyAndImport(ctx, forged, alice)
	require.ErrorIs(t, err, fhe.ErrInvalidProof)

	_, err = c.VerifyAndImport(ctx, fhe.ExternalInput{Handle: fhe.Handle{1}}, alice)
	require.ErrorIs(t, err, fhe.ErrInvalidProof)
}

func TestArithmeticWrapsAtSixtyFourBits(t *testing.T) {
	c := New(Config{})
	ev := fhe.NewEvaluator(context.Background(), c)

	five, err := ev.Const(5)
	require.NoError(t, err)
	seven, err := ev.Const(7)
	require.NoError(t, err)

	sum, err := ev.Add(five, seven)
	require.NoError(t, err)
	require.Equal(t, uint64(12), reveal(t, c, sum))

	diff, err := ev.Sub(five, seven)
	require.NoError(t, err)
	require.Equal(t, ^uint64(0)-1, reveal(t, c, diff))

	prod, err := ev.MulScalar(seven, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(21), reveal(t, c, prod))

	half, err := ev.ShrScalar(seven, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), reveal(t, c, half))

	ge, err := ev.Gte(seven, five)
	require.NoError(t, err)
	require.Equal(t, uint64(1), reveal(t, c, ge))

	sel, err := ev.Select(ge, five, seven)
	require.NoError(t, err)
	require.Equal(t, uint64(5), reveal(t, c, sel))

	eq, err := ev.Eq(five, seven)
	require.NoError(t, err)
	require.Equal(t, uint64(0), reveal(t, c, eq))

	yes, err := ev.Bool(true)
	require.NoError(t, err)
	both, err := ev.And(yes, eq)
	require.NoError(t, err)
	require.Equal(t, uint64(0), reveal(t, c, both))
}

func TestTypeChecks(t *testing.T) {
	c := New(Config{})
	ev := fhe.NewEvaluator(context.Background(), c)
	n, _ := ev.Const(1)
	b, _ := ev.Bool(true)
	a9 := addr(9)
	a, _ := c.Constant(context.Background(), fhe.EAddress, new(big.Int).SetBytes(a9[:]))

	_, err := ev.Add(n, b)
	require.ErrorIs(t, err, fhe.ErrTypeMismatch)
	_, err = ev.Select(n, n, n)
	require.ErrorIs(t, err, fhe.ErrTypeMismatch)
	_, err = ev.And(a, a)
	require.ErrorIs(t, err, fhe.ErrTypeMismatch)
	_, err = c.OpScalar(context.Background(), fhe.OpEq, n, 1)
	require.ErrorIs(t, err, fhe.ErrUnsupportedOp)
	_, err = ev.Add(n, fhe.Handle{7})
	require.ErrorIs(t, err, fhe.ErrUnknownHandle)
	_, err = c.Constant(context.Background(), fhe.EBool, big.NewInt(2))
	require.ErrorIs(t, err, fhe.ErrTypeMismatch)
	eqAddr, err := ev.Eq(a, a)
	require.NoError(t, err)
	require.Equal(t, uint64(1), reveal(t, c, eqAddr))
}

func TestDecryptionRequiresGrantAndWorkers(t *testing.T) {
	c := New(Config{Workers: 1})
	ctx := context.Background()
	owner := addr(1)
	in := c.EncryptUint64(owner, 99)
	h, err := c.VerifyAndImport(ctx, in, owner)
	require.NoError(t, err)

	_, err = c.RequestDecryption(ctx, h, addr(2))
	require.ErrorIs(t, err, fhe.ErrAccessDenied)

	id, err := c.RequestDecryption(ctx, h, owner)
	require.NoError(t, err)
	_, ready, err := c.PollDecryption(ctx, id)
	require.NoError(t, err)
	require.False(t, ready, "request served before workers started")

	c.Start()
	defer c.Stop()
	require.Eventually(t, func() bool {
		_, ready, _ := c.PollDecryption(ctx, id)
		return ready
	}, time.Second, 5*time.Millisecond)
	value, _, err := c.PollDecryption(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(99), value.Int64())

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := fhe.AwaitDecryption(waitCtx, c, h, owner, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(99), got.Int64())

	_, _, err = c.PollDecryption(ctx, "missing")
	require.ErrorIs(t, err, fhe.ErrRequestNotFound)
}

func TestDecryptionThrottle(t *testing.T) {
	c := New(Config{DecryptRate: 0.001, DecryptBurst: 1})
	ctx := context.Background()
	owner := addr(3)
	h, err := c.VerifyAndImport(ctx, c.EncryptUint64(owner, 1), owner)
	require.NoError(t, err)
	_, err = c.RequestDecryption(ctx, h, owner)
	require.NoError(t, err)
	_, err = c.RequestDecryption(ctx, h, owner)
	require.True(t, errors.Is(err, fhe.ErrThrottled), "got %v", err)
}

func TestDeferredGrantsFlushOnce(t *testing.T) {
	c := New(Config{})
	d := fhe.NewDeferred(c)
	ctx := context.Background()
	h, err := d.Constant(ctx, fhe.EUint64, big.NewInt(3))
	require.NoError(t, err)

	require.NoError(t, d.Grant(ctx, h, addr(4)))
	require.False(t, c.HasAccess(h, addr(4)))
	d.Discard()
	require.NoError(t, d.Flush(ctx))
	require.False(t, c.HasAccess(h, addr(4)))

	require.NoError(t, d.Grant(ctx, h, addr(4)))
	require.NoError(t, d.Grant(ctx, h, addr(4)))
	require.Equal(t, 2, d.Pending())
	require.NoError(t, d.Flush(ctx))
	require.True(t, c.HasAccess(h, addr(4)))
	require.Equal(t, 0, d.Pending())
}
