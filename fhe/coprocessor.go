package fhe

import (
	"context"
	"math/big"

	"vchain/crypto"
)

// Coprocessor is the contract the chain consumes. Implementations talk to
// an external service; every call may block and is bounded by ctx.
type Coprocessor interface {
	// VerifyAndImport checks that in.Proof binds in.Handle to caller and
	// returns the handle now usable on-chain.
	VerifyAndImport(ctx context.Context, in ExternalInput, caller crypto.Address) (Handle, error)
	// Op applies op to encrypted operands.
	Op(ctx context.Context, op OpCode, operands ...Handle) (Handle, error)
	// OpScalar applies op to an encrypted operand and a plaintext scalar.
	OpScalar(ctx context.Context, op OpCode, h Handle, scalar uint64) (Handle, error)
	// Constant produces a trivially encrypted declared constant.
	Constant(ctx context.Context, t Type, value *big.Int) (Handle, error)
	// Grant extends decrypt capability on h to principal.
	Grant(ctx context.Context, h Handle, principal crypto.Address) error
	// RequestDecryption queues an asynchronous decryption. The requester
	// must already hold a grant on h.
	RequestDecryption(ctx context.Context, h Handle, requester crypto.Address) (RequestID, error)
	// PollDecryption reports the plaintext once available.
	PollDecryption(ctx context.Context, id RequestID) (*big.Int, bool, error)
}
