package fhe

import (
	"context"
	"math/big"

	"vchain/crypto"
)

// Evaluator binds a Coprocessor to a context so engine code reads as a
// sequence of encrypted operations.
type Evaluator struct {
	ctx context.Context
	cop Coprocessor
}

// NewEvaluator returns an evaluator using ctx for every call.
func NewEvaluator(ctx context.Context, cop Coprocessor) *Evaluator {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Evaluator{ctx: ctx, cop: cop}
}

func (e *Evaluator) Import(in ExternalInput, caller crypto.Address) (Handle, error) {
	return e.cop.VerifyAndImport(e.ctx, in, caller)
}

func (e *Evaluator) Add(a, b Handle) (Handle, error) { return e.cop.Op(e.ctx, OpAdd, a, b) }
func (e *Evaluator) Sub(a, b Handle) (Handle, error) { return e.cop.Op(e.ctx, OpSub, a, b) }
func (e *Evaluator) Mul(a, b Handle) (Handle, error) { return e.cop.Op(e.ctx, OpMul, a, b) }
func (e *Evaluator) Eq(a, b Handle) (Handle, error)  { return e.cop.Op(e.ctx, OpEq, a, b) }
func (e *Evaluator) And(a, b Handle) (Handle, error) { return e.cop.Op(e.ctx, OpAnd, a, b) }
func (e *Evaluator) Gte(a, b Handle) (Handle, error) { return e.cop.Op(e.ctx, OpGte, a, b) }

// Select returns ifTrue where cond holds, ifFalse otherwise.
func (e *Evaluator) Select(cond, ifTrue, ifFalse Handle) (Handle, error) {
	return e.cop.Op(e.ctx, OpSelect, cond, ifTrue, ifFalse)
}

func (e *Evaluator) MulScalar(a Handle, s uint64) (Handle, error) {
	return e.cop.OpScalar(e.ctx, OpMul, a, s)
}

func (e *Evaluator) ShrScalar(a Handle, s uint64) (Handle, error) {
	return e.cop.OpScalar(e.ctx, OpShr, a, s)
}

// Const declares a 64-bit constant.
func (e *Evaluator) Const(v uint64) (Handle, error) {
	return e.cop.Constant(e.ctx, EUint64, new(big.Int).SetUint64(v))
}

// Zero declares the 64-bit constant zero.
func (e *Evaluator) Zero() (Handle, error) { return e.Const(0) }

// Bool declares a boolean constant.
func (e *Evaluator) Bool(v bool) (Handle, error) {
	value := big.NewInt(0)
	if v {
		value.SetInt64(1)
	}
	return e.cop.Constant(e.ctx, EBool, value)
}

// Grant gives every non-zero principal decrypt capability on h.
func (e *Evaluator) Grant(h Handle, principals ...crypto.Address) error {
	for _, p := range principals {
		if p.IsZero() {
			continue
		}
		if err := e.cop.Grant(e.ctx, h, p); err != nil {
			return err
		}
	}
	return nil
}
