package vblock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "vchain/core/errors"
	"vchain/core/events"
	"vchain/core/state"
	"vchain/crypto"
	"vchain/fhe"
	"vchain/fhe/local"
	"vchain/native/validators"
	"vchain/native/verifier"
	"vchain/storage"
)

type fixture struct {
	eng  *Engine
	cop  *local.Coprocessor
	set  *validators.Set
	rec  *events.Recorder
	keys []*crypto.PrivateKey
	vals []crypto.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	set := validators.NewSet(st)
	f := &fixture{cop: local.New(local.Config{}), set: set, rec: &events.Recorder{}}
	for i := 0; i < 3; i++ {
		k, err := crypto.GeneratePrivateKey()
		require.NoError(t, err)
		f.keys = append(f.keys, k)
		f.vals = append(f.vals, k.PubKey().Address())
		require.NoError(t, set.Add(k.PubKey().Address()))
	}
	eng := NewEngine()
	eng.SetState(st)
	eng.SetCoprocessor(f.cop)
	eng.SetValidators(set)
	eng.SetVerifier(verifier.New(set.Members))
	eng.SetChainNameFunc(func() string { return "testnet" })
	eng.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	eng.SetEmitter(f.rec)
	f.eng = eng
	return f
}

func (f *fixture) create(t *testing.T, proposer crypto.Address, subset []crypto.Address) uint64 {
	t.Helper()
	seq, err := f.eng.CreateBlock(context.Background(), proposer, f.cop.EncryptUint64(proposer, 30_000_000), subset)
	require.NoError(t, err)
	return seq
}

func (f *fixture) reveal(t *testing.T, h fhe.Handle) uint64 {
	t.Helper()
	v, ok := f.cop.Reveal(h)
	require.True(t, ok)
	return v.Uint64()
}

func TestCreateBlockSequencingAndSnapshot(t *testing.T) {
	f := newFixture(t)
	v0 := f.vals[0]

	require.Equal(t, uint64(1), f.create(t, v0, nil))
	second := f.create(t, v0, []crypto.Address{f.vals[1], f.vals[1]})
	require.Equal(t, uint64(2), second)

	block, err := f.eng.Block(1)
	require.NoError(t, err)
	require.ElementsMatch(t, f.vals, block.Validators)
	require.Equal(t, ContentHash("testnet", 1, 1_700_000_000), block.ContentHash)
	require.Equal(t, uint64(1_700_000_000), f.reveal(t, block.EncTimestamp))
	require.Equal(t, uint64(30_000_000), f.reveal(t, block.EncGasLimit))
	require.Equal(t, uint64(0), f.reveal(t, block.EncFinalized))

	block, err = f.eng.Block(2)
	require.NoError(t, err)
	require.Equal(t, []crypto.Address{f.vals[1]}, block.Validators)

	height, _ := f.eng.Height()
	require.Equal(t, uint64(2), height)
}

func TestCreateBlockRequiresValidators(t *testing.T) {
	f := newFixture(t)
	outsider := crypto.Address{0x99}
	_, err := f.eng.CreateBlock(context.Background(), outsider, f.cop.EncryptUint64(outsider, 1), nil)
	require.ErrorIs(t, err, coreerrors.ErrAuthorization)

	_, err = f.eng.CreateBlock(context.Background(), f.vals[0], f.cop.EncryptUint64(f.vals[0], 1), []crypto.Address{outsider})
	require.ErrorIs(t, err, coreerrors.ErrConfiguration)
}

func TestFinalizeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.create(t, f.vals[0], nil)

	require.ErrorIs(t, f.eng.FinalizeBlock(ctx, crypto.Address{0x99}, seq), coreerrors.ErrAuthorization)
	require.NoError(t, f.eng.FinalizeBlock(ctx, f.vals[1], seq))
	require.ErrorIs(t, f.eng.FinalizeBlock(ctx, f.vals[1], seq), coreerrors.ErrState)
	require.ErrorIs(t, f.eng.FinalizeBlock(ctx, f.vals[1], 99), coreerrors.ErrState)

	block, err := f.eng.Block(seq)
	require.NoError(t, err)
	require.True(t, block.Finalized)
	require.Equal(t, uint64(1), f.reveal(t, block.EncFinalized))
}

func TestTransactionInclusionAndVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := crypto.Address{0x01}, crypto.Address{0x02}
	v0 := f.vals[0]

	txSeq, err := f.eng.SubmitTransaction(ctx, alice, bob, f.cop.EncryptUint64(alice, 77), []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), txSeq)
	tx, err := f.eng.Transaction(txSeq)
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256([]byte("hello")), tx.PayloadHash)
	require.True(t, f.cop.HasAccess(tx.EncValue, alice))
	require.True(t, f.cop.HasAccess(tx.EncValue, bob))

	b1 := f.create(t, v0, nil)
	b2 := f.create(t, v0, nil)

	pending, err := f.eng.VerifyTransaction(ctx, alice, txSeq, b1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), f.reveal(t, pending))

	require.ErrorIs(t, f.eng.IncludeTransaction(ctx, alice, txSeq, b1, f.cop.EncryptUint64(alice, 21_000)), coreerrors.ErrAuthorization)
	require.NoError(t, f.eng.IncludeTransaction(ctx, v0, txSeq, b1, f.cop.EncryptUint64(v0, 21_000)))
	err = f.eng.IncludeTransaction(ctx, v0, txSeq, b2, f.cop.EncryptUint64(v0, 21_000))
	require.ErrorIs(t, err, coreerrors.ErrState)

	inB1, err := f.eng.VerifyTransaction(ctx, bob, txSeq, b1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), f.reveal(t, inB1))
	require.True(t, f.cop.HasAccess(inB1, bob))
	inB2, err := f.eng.VerifyTransaction(ctx, bob, txSeq, b2)
	require.NoError(t, err)
	require.Equal(t, uint64(0), f.reveal(t, inB2))

	_, err = f.eng.VerifyTransaction(ctx, bob, 42, b1)
	require.ErrorIs(t, err, coreerrors.ErrState)
}

func TestIncludeIntoFinalizedBlockRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := crypto.Address{0x01}
	txSeq, err := f.eng.SubmitTransaction(ctx, alice, crypto.Address{0x02}, f.cop.EncryptUint64(alice, 1), nil)
	require.NoError(t, err)
	seq := f.create(t, f.vals[0], nil)
	require.NoError(t, f.eng.FinalizeBlock(ctx, f.vals[0], seq))
	err = f.eng.IncludeTransaction(ctx, f.vals[0], txSeq, seq, f.cop.EncryptUint64(f.vals[0], 1))
	require.ErrorIs(t, err, coreerrors.ErrState)
}

func TestFinalizeWithAttestation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := crypto.Address{0x01}
	v0 := f.vals[0]
	seq := f.create(t, v0, nil)
	for i := 0; i < 2; i++ {
		txSeq, err := f.eng.SubmitTransaction(ctx, alice, crypto.Address{0x02}, f.cop.EncryptUint64(alice, 1), []byte{byte(i)})
		require.NoError(t, err)
		require.NoError(t, f.eng.IncludeTransaction(ctx, v0, txSeq, seq, f.cop.EncryptUint64(v0, 1)))
	}
	root, err := f.eng.TransactionRoot(seq)
	require.NoError(t, err)

	sign := func(k *crypto.PrivateKey) []byte {
		sig, err := crypto.SignDigest(k, root[:])
		require.NoError(t, err)
		return sig
	}
	err = f.eng.FinalizeBlockWithAttestation(ctx, v0, seq, root, [][]byte{sign(f.keys[0])})
	require.ErrorIs(t, err, coreerrors.ErrProofVerification)

	err = f.eng.FinalizeBlockWithAttestation(ctx, v0, seq, root, [][]byte{sign(f.keys[0]), sign(f.keys[1])})
	require.NoError(t, err)
	block, err := f.eng.Block(seq)
	require.NoError(t, err)
	require.True(t, block.Finalized)
	require.Equal(t, root, block.ContentHash)
	require.ElementsMatch(t, []crypto.Address{f.vals[0], f.vals[1]}, block.AttestedBy)

	types := f.rec.Types()
	require.Equal(t, EventTypeBlockFinalized, types[len(types)-1])
}

func TestTransactionProof(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := crypto.Address{0x01}
	v0 := f.vals[0]
	seq := f.create(t, v0, nil)
	var txs []uint64
	for i := 0; i < 3; i++ {
		txSeq, err := f.eng.SubmitTransaction(ctx, alice, crypto.Address{0x02}, f.cop.EncryptUint64(alice, 1), []byte{byte(i), 0xFF})
		require.NoError(t, err)
		require.NoError(t, f.eng.IncludeTransaction(ctx, v0, txSeq, seq, f.cop.EncryptUint64(v0, 1)))
		txs = append(txs, txSeq)
	}
	count, err := f.eng.TransactionCount()
	require.NoError(t, err)
	require.Equal(t, txs[2], count)

	root, err := f.eng.TransactionRoot(seq)
	require.NoError(t, err)
	proof, err := f.eng.TransactionProof(txs[1], seq)
	require.NoError(t, err)
	require.Equal(t, uint64(1), proof.Index)
	tx, err := f.eng.Transaction(txs[1])
	require.NoError(t, err)
	require.Equal(t, tx.PayloadHash, proof.Leaf)

	ok, err := verifier.New(f.set.Members).VerifyMerkleProof(proof.Leaf, proof.Nodes, root, proof.Index)
	require.NoError(t, err)
	require.True(t, ok)

	other, err := f.eng.SubmitTransaction(ctx, alice, crypto.Address{0x02}, f.cop.EncryptUint64(alice, 1), nil)
	require.NoError(t, err)
	_, err = f.eng.TransactionProof(other, seq)
	require.ErrorIs(t, err, coreerrors.ErrState)
}
