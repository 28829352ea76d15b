// Package fhe is the client side of the external homomorphic-encryption
// coprocessor. The chain only ever holds opaque Handles; every arithmetic or
// comparison on encrypted values is delegated to a Coprocessor.
package fhe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Handle is an opaque reference to a ciphertext held by the coprocessor. The
// zero handle means "no value".
type Handle [32]byte

// IsZero reports whether h is the empty handle.
func (h Handle) IsZero() bool { return h == Handle{} }

// Hex renders the handle as 0x-prefixed hex.
func (h Handle) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Handle) String() string { return h.Hex() }

// ParseHandle decodes the 0x-prefixed hex form produced by Hex.
func ParseHandle(s string) (Handle, error) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return Handle{}, fmt.Errorf("fhe: handle %q missing 0x prefix", s)
	}
	raw, err := hex.DecodeString(trimmed[2:])
	if err != nil {
		return Handle{}, fmt.Errorf("fhe: invalid handle: %w", err)
	}
	if len(raw) != len(Handle{}) {
		return Handle{}, fmt.Errorf("fhe: handle length %d, want %d", len(raw), len(Handle{}))
	}
	var h Handle
	copy(h[:], raw)
	return h, nil
}

// Type is the plaintext type a handle encrypts.
type Type uint8

const (
	// EBool is an encrypted boolean.
	EBool Type = iota + 1
	// EUint64 is an encrypted 64-bit unsigned integer.
	EUint64
	// EAddress is an encrypted 20-byte address.
	EAddress
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case EBool:
		return "ebool"
	case EUint64:
		return "euint64"
	case EAddress:
		return "eaddress"
	default:
		return "unknown"
	}
}

// BitSize returns the width of the plaintext domain.
func (t Type) BitSize() uint {
	switch t {
	case EBool:
		return 1
	case EUint64:
		return 64
	case EAddress:
		return 160
	default:
		return 0
	}
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool { return t.BitSize() != 0 }

// OpCode names a homomorphic operation.
type OpCode uint8

const (
	OpAdd OpCode = iota + 1
	OpSub
	OpMul
	OpEq
	OpAnd
	OpSelect
	OpGte
	OpShr
)

// String returns the operation name.
func (op OpCode) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpEq:
		return "eq"
	case OpAnd:
		return "and"
	case OpSelect:
		return "select"
	case OpGte:
		return "gte"
	case OpShr:
		return "shr"
	default:
		return "unknown"
	}
}

// Arity is the number of handle operands op expects.
func (op OpCode) Arity() int {
	switch op {
	case OpSelect:
		return 3
	case OpAdd, OpSub, OpMul, OpEq, OpAnd, OpGte, OpShr:
		return 2
	default:
		return 0
	}
}

// ScalarCapable reports whether op has a plaintext-scalar form.
func (op OpCode) ScalarCapable() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpShr:
		return true
	default:
		return false
	}
}

// ExternalInput is a ciphertext produced off-chain together with the proof
// that binds it to its submitter.
type ExternalInput struct {
	Handle Handle
	Proof  []byte
}

// RequestID identifies an asynchronous decryption request.
type RequestID string

var (
	ErrInvalidProof    = errors.New("fhe: input proof rejected")
	ErrUnknownHandle   = errors.New("fhe: unknown handle")
	ErrAccessDenied    = errors.New("fhe: principal lacks access to handle")
	ErrTypeMismatch    = errors.New("fhe: operand type mismatch")
	ErrUnsupportedOp   = errors.New("fhe: unsupported operation")
	ErrRequestNotFound = errors.New("fhe: decryption request not found")
	ErrThrottled       = errors.New("fhe: decryption rate exceeded")
)
