package governance

import (
	"context"
	"time"

	"vchain/crypto"
)

const (
	// AdminDelay separates an admin transfer proposal from its acceptance.
	AdminDelay = 24 * time.Hour
	// ImplementationDelay separates an upgrade proposal from its acceptance.
	ImplementationDelay = 30 * 24 * time.Hour
)

// GateKind names one of the two proposal gates.
type GateKind string

const (
	GateAdmin          GateKind = "admin"
	GateImplementation GateKind = "implementation"
)

// Proposal is a pending gate transition. A zero Target means no proposal is
// pending.
type Proposal struct {
	Target     crypto.Address
	ProposedAt uint64
	ReadyAt    uint64
}

// Pending reports whether the proposal is live.
func (p Proposal) Pending() bool { return !p.Target.IsZero() }

// Store is the key-value view handed to an implementation. Keys are scoped
// to the implementation address.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Call is a method invocation forwarded to the accepted implementation.
type Call struct {
	Caller  crypto.Address
	Method  string
	Payload []byte
	Store   Store
	Now     time.Time
}

// Implementation serves methods the chain itself does not expose.
type Implementation interface {
	Handle(ctx context.Context, call Call) ([]byte, error)
}

// MethodSet is implemented by implementations that declare the methods they
// serve, so registration can check them up front.
type MethodSet interface {
	Methods() []string
}

// ImplementationFunc adapts a function to Implementation.
type ImplementationFunc func(ctx context.Context, call Call) ([]byte, error)

// Handle calls fn.
func (fn ImplementationFunc) Handle(ctx context.Context, call Call) ([]byte, error) {
	return fn(ctx, call)
}
