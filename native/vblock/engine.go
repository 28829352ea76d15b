// Package vblock records the validator-gated virtual block and transaction
// pipeline. It keeps audit metadata only and never moves ledger value.
package vblock

import (
	"context"
	"encoding/binary"
	"errors"
	"strconv"
	"time"

	coreerrors "vchain/core/errors"
	"vchain/core/events"
	"vchain/core/types"
	"vchain/crypto"
	"vchain/fhe"
	"vchain/native/verifier"
)

type pipelineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var errStateNotConfigured = errors.New("vblock: state not configured")

var (
	heightKey  = []byte("vblock/height")
	txCountKey = []byte("vblock/txcount")
)

func blockKey(seq uint64) []byte {
	return strconv.AppendUint([]byte("vblock/block/"), seq, 10)
}

func txKey(seq uint64) []byte {
	return strconv.AppendUint([]byte("vblock/tx/"), seq, 10)
}

// ContentHash is keccak256(name || seq || createdAt) with both integers as
// 8-byte big-endian.
func ContentHash(name string, seq, createdAt uint64) [32]byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], seq)
	binary.BigEndian.PutUint64(buf[8:], createdAt)
	return crypto.Keccak256([]byte(name), buf[:])
}

// Engine drives block creation, finalisation and transaction inclusion.
type Engine struct {
	state      pipelineState
	cop        fhe.Coprocessor
	validators ValidatorSet
	verifier   verifier.Verifier
	chainName  func() string
	emitter    events.Emitter
	nowFn      func() time.Time
}

// NewEngine constructs a pipeline engine with default no-op dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		nowFn:     func() time.Time { return time.Now().UTC() },
		chainName: func() string { return "" },
	}
}

// SetState wires the engine to the state backend providing persistence helpers.
func (e *Engine) SetState(state pipelineState) { e.state = state }

// SetCoprocessor configures the coprocessor client.
func (e *Engine) SetCoprocessor(cop fhe.Coprocessor) { e.cop = cop }

// SetValidators configures the validator allow-list.
func (e *Engine) SetValidators(set ValidatorSet) { e.validators = set }

// SetVerifier installs the batch verifier used by attested finalisation.
func (e *Engine) SetVerifier(v verifier.Verifier) { e.verifier = v }

// SetChainNameFunc configures the chain name mixed into content hashes.
func (e *Engine) SetChainNameFunc(fn func() string) {
	if fn == nil {
		fn = func() string { return "" }
	}
	e.chainName = fn
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
		return coreerrors.Configuration("vblock: coprocessor not configured")
	}
	if e.validators == nil {
		return coreerrors.Configuration("vblock: validator set not configured")
	}
	return nil
}

func (e *Engine) requireValidator(caller crypto.Address) error {
	ok, err := e.validators.IsValidator(caller)
	if err != nil {
		return err
	}
	if !ok {
		return coreerrors.Authorization("vblock: %s is not a validator", caller.Hex())
	}
	return nil
}

func (e *Engine) counter(key []byte) (uint64, error) {
	var n uint64
	_, err := e.state.KVGet(key, &n)
	return n, err
}

// Height returns the sequence of the most recent block, zero before the first.
func (e *Engine) Height() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errStateNotConfigured
	}
	return e.counter(heightKey)
}

// TransactionCount returns the sequence of the most recent transaction.
func (e *Engine) TransactionCount() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errStateNotConfigured
	}
	return e.counter(txCountKey)
}

// Block returns a copy of the block with sequence seq.
func (e *Engine) Block(seq uint64) (*Block, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	b := new(Block)
	ok, err := e.state.KVGet(blockKey(seq), b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.State("vblock: unknown block %d", seq)
	}
	return b, nil
}

// Transaction returns a copy of the transaction with sequence seq.
func (e *Engine) Transaction(seq uint64) (*Transaction, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	tx := new(Transaction)
	ok, err := e.state.KVGet(txKey(seq), tx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.State("vblock: unknown transaction %d", seq)
	}
	return tx, nil
}

// CreateBlock opens block height+1. validators selects the subset recorded
// with the block; each entry must be a current validator and an empty list
// snapshots the whole set.
func (e *Engine) CreateBlock(ctx context.Context, caller crypto.Address, gasLimit fhe.ExternalInput, validators []crypto.Address) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := e.requireValidator(caller); err != nil {
		return 0, err
	}
	snapshot, err := e.snapshot(validators)
	if err != nil {
		return 0, err
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	gas, err := ev.Import(gasLimit, caller)
	if err != nil {
		return 0, coreerrors.ProofCause(err, "vblock: import gas limit")
	}
	now := uint64(e.nowFn().Unix())
	ts, err := ev.Const(now)
	if err != nil {
		return 0, err
	}
	finalized, err := ev.Bool(false)
	if err != nil {
		return 0, err
	}
	height, err := e.counter(heightKey)
	if err != nil {
		return 0, err
	}
	seq := height + 1
	block := &Block{
		Seq:          seq,
		EncTimestamp: ts,
		EncGasLimit:  gas,
		Validators:   snapshot,
		EncFinalized: finalized,
		ContentHash:  ContentHash(e.chainName(), seq, now),
		CreatedAt:    now,
		Proposer:     caller,
	}
	for _, h := range []fhe.Handle{ts, gas, finalized} {
		if err := ev.Grant(h, append([]crypto.Address{caller}, snapshot...)...); err != nil {
			return 0, err
		}
	}
	if err := e.state.KVPut(blockKey(seq), block); err != nil {
		return 0, err
	}
	if err := e.state.KVPut(heightKey, seq); err != nil {
		return 0, err
	}
	e.emit(NewBlockCreatedEvent(block))
	return seq, nil
}

func (e *Engine) snapshot(requested []crypto.Address) ([]crypto.Address, error) {
	if len(requested) == 0 {
		return e.validators.Members()
	}
	seen := make(map[crypto.Address]struct{}, len(requested))
	out := make([]crypto.Address, 0, len(requested))
	for _, v := range requested {
		if _, dup := seen[v]; dup {
			continue
		}
		ok, err := e.validators.IsValidator(v)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, coreerrors.Configuration("vblock: %s in block validator subset is not a validator", v.Hex())
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

func (e *Engine) openBlock(seq uint64) (*Block, error) {
	block, err := e.Block(seq)
	if err != nil {
		return nil, err
	}
	if block.Finalized {
		return nil, coreerrors.State("vblock: block %d already finalized", seq)
	}
	return block, nil
}

func (e *Engine) finalize(ctx context.Context, block *Block, attested bool) error {
	ev := fhe.NewEvaluator(ctx, e.cop)
	flag, err := ev.Bool(true)
	if err != nil {
		return err
	}
	if err := ev.Grant(flag, block.Validators...); err != nil {
		return err
	}
	block.Finalized = true
	block.EncFinalized = flag
	if err := e.state.KVPut(blockKey(block.Seq), block); err != nil {
		return err
	}
	e.emit(NewBlockFinalizedEvent(block, attested))
	return nil
}

// FinalizeBlock marks block seq final.
func (e *Engine) FinalizeBlock(ctx context.Context, caller crypto.Address, seq uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireValidator(caller); err != nil {
		return err
	}
	block, err := e.openBlock(seq)
	if err != nil {
		return err
	}
	return e.finalize(ctx, block, false)
}

// FinalizeBlockWithAttestation finalizes block seq with an externally computed
// content hash, provided the verifier accepts sigs over that hash.
func (e *Engine) FinalizeBlockWithAttestation(ctx context.Context, caller crypto.Address, seq uint64, contentHash [32]byte, sigs [][]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.verifier == nil {
		return coreerrors.Configuration("vblock: verifier not configured")
	}
	if err := e.requireValidator(caller); err != nil {
		return err
	}
	block, err := e.openBlock(seq)
	if err != nil {
		return err
	}
	ok, err := e.verifier.ValidateSignatures(sigs, contentHash)
	if err != nil {
		return err
	}
	if !ok {
		return coreerrors.ProofVerification("vblock: attestation for block %d rejected", seq)
	}
	block.ContentHash = contentHash
	block.AttestedBy = block.AttestedBy[:0]
	for _, sig := range sigs {
		if signer, err := crypto.RecoverDigest(contentHash[:], sig); err == nil {
			block.AttestedBy = append(block.AttestedBy, signer)
		}
	}
	return e.finalize(ctx, block, true)
}

// TransactionRoot returns the verifier block hash over the payload hashes of
// the transactions included in block seq, in inclusion order. Attestors sign
// this value.
func (e *Engine) TransactionRoot(seq uint64) ([32]byte, error) {
	if e.verifier == nil {
		return [32]byte{}, coreerrors.Configuration("vblock: verifier not configured")
	}
	hashes, _, err := e.payloadHashes(seq)
	if err != nil {
		return [32]byte{}, err
	}
	return e.verifier.ComputeBlockHash(hashes)
}

// TransactionProof returns the inclusion proof of transaction txSeq in block
// blockSeq together with its leaf index and payload hash. Checking it against
// TransactionRoot needs no access to the encrypted fields.
func (e *Engine) TransactionProof(txSeq, blockSeq uint64) (*Proof, error) {
	hashes, seqs, err := e.payloadHashes(blockSeq)
	if err != nil {
		return nil, err
	}
	for i, seq := range seqs {
		if seq != txSeq {
			continue
		}
		nodes, err := verifier.BuildProof(hashes, uint64(i))
		if err != nil {
			return nil, err
		}
		return &Proof{Leaf: hashes[i], Index: uint64(i), Nodes: nodes}, nil
	}
	return nil, coreerrors.State("vblock: transaction %d not recorded in block %d", txSeq, blockSeq)
}

func (e *Engine) payloadHashes(blockSeq uint64) ([][32]byte, []uint64, error) {
	block, err := e.Block(blockSeq)
	if err != nil {
		return nil, nil, err
	}
	hashes := make([][32]byte, 0, len(block.TxSeqs))
	for _, txSeq := range block.TxSeqs {
		tx, err := e.Transaction(txSeq)
		if err != nil {
			return nil, nil, err
		}
		hashes = append(hashes, tx.PayloadHash)
	}
	return hashes, block.TxSeqs, nil
}

// SubmitTransaction records a transaction from caller to to.
func (e *Engine) SubmitTransaction(ctx context.Context, caller, to crypto.Address, value fhe.ExternalInput, payload []byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if caller.IsZero() || to.IsZero() {
		return 0, coreerrors.Configuration("vblock: zero address in transaction")
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	encValue, err := ev.Import(value, caller)
	if err != nil {
		return 0, coreerrors.ProofCause(err, "vblock: import value")
	}
	included, err := ev.Bool(false)
	if err != nil {
		return 0, err
	}
	encBlock, err := ev.Zero()
	if err != nil {
		return 0, err
	}
	for _, h := range []fhe.Handle{encValue, included, encBlock} {
		if err := ev.Grant(h, caller, to); err != nil {
			return 0, err
		}
	}
	count, err := e.counter(txCountKey)
	if err != nil {
		return 0, err
	}
	tx := &Transaction{
		Seq:         count + 1,
		From:        caller,
		To:          to,
		EncValue:    encValue,
		Payload:     append([]byte(nil), payload...),
		PayloadHash: crypto.Keccak256(payload),
		EncBlock:    encBlock,
		EncIncluded: included,
		SubmittedAt: uint64(e.nowFn().Unix()),
	}
	if err := e.state.KVPut(txKey(tx.Seq), tx); err != nil {
		return 0, err
	}
	if err := e.state.KVPut(txCountKey, tx.Seq); err != nil {
		return 0, err
	}
	e.emit(NewTxSubmittedEvent(tx))
	return tx.Seq, nil
}

// IncludeTransaction places transaction txSeq into the open block blockSeq.
func (e *Engine) IncludeTransaction(ctx context.Context, caller crypto.Address, txSeq, blockSeq uint64, gasUsed fhe.ExternalInput) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireValidator(caller); err != nil {
		return err
	}
	tx, err := e.Transaction(txSeq)
	if err != nil {
		return err
	}
	block, err := e.openBlock(blockSeq)
	if err != nil {
		return err
	}
	if tx.Included {
		return coreerrors.State("vblock: transaction %d already included in block %d", txSeq, tx.IncludedInBlock)
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	gas, err := ev.Import(gasUsed, caller)
	if err != nil {
		return coreerrors.ProofCause(err, "vblock: import gas used")
	}
	encBlock, err := ev.Const(blockSeq)
	if err != nil {
		return err
	}
	included, err := ev.Bool(true)
	if err != nil {
		return err
	}
	for _, h := range []fhe.Handle{gas, encBlock, included} {
		if err := ev.Grant(h, caller, tx.From, tx.To); err != nil {
			return err
		}
	}
	tx.EncGasUsed = gas
	tx.EncBlock = encBlock
	tx.EncIncluded = included
	tx.Included = true
	tx.IncludedInBlock = blockSeq
	block.TxSeqs = append(block.TxSeqs, txSeq)
	if err := e.state.KVPut(txKey(txSeq), tx); err != nil {
		return err
	}
	if err := e.state.KVPut(blockKey(blockSeq), block); err != nil {
		return err
	}
	e.emit(NewTxIncludedEvent(tx))
	return nil
}

// VerifyTransaction returns an encrypted boolean that is true exactly when
// transaction txSeq was included in block blockSeq. Caller is granted
// decrypt capability on the result.
func (e *Engine) VerifyTransaction(ctx context.Context, caller crypto.Address, txSeq, blockSeq uint64) (fhe.Handle, error) {
	if err := e.ready(); err != nil {
		return fhe.Handle{}, err
	}
	tx, err := e.Transaction(txSeq)
	if err != nil {
		return fhe.Handle{}, err
	}
	ev := fhe.NewEvaluator(ctx, e.cop)
	want, err := ev.Const(blockSeq)
	if err != nil {
		return fhe.Handle{}, err
	}
	sameBlock, err := ev.Eq(tx.EncBlock, want)
	if err != nil {
		return fhe.Handle{}, err
	}
	result, err := ev.And(sameBlock, tx.EncIncluded)
	if err != nil {
		return fhe.Handle{}, err
	}
	if err := ev.Grant(result, caller); err != nil {
		return fhe.Handle{}, err
	}
	return result, nil
}
