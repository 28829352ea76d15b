package treasury

import (
	"context"

	"vchain/crypto"
	"vchain/fhe"
	"vchain/native/ledger"
)

// NativeToken is the token key used for native-currency deposits.
var NativeToken = crypto.Address{}

// Balances are the encrypted per-token vault figures. Total equals
// Available plus Reserved plus everything allocated to buckets.
type Balances struct {
	Total     fhe.Handle
	Available fhe.Handle
	Reserved  fhe.Handle
}

// WithdrawalKind says where an executed withdrawal is paid out.
type WithdrawalKind uint8

const (
	// WithdrawalExternal is settled out-of-band by the operator.
	WithdrawalExternal WithdrawalKind = iota + 1
	// WithdrawalLedger credits the recipient on the encrypted ledger.
	WithdrawalLedger
)

// String returns the kind label.
func (k WithdrawalKind) String() string {
	switch k {
	case WithdrawalExternal:
		return "external"
	case WithdrawalLedger:
		return "ledger"
	default:
		return "unknown"
	}
}

// Withdrawal is a two-phase withdrawal. It may execute once, at or after
// ExecuteAt.
type Withdrawal struct {
	ID        uint64
	Token     crypto.Address
	EncAmount fhe.Handle
	Recipient crypto.Address
	Requester crypto.Address
	CreatedAt uint64
	ExecuteAt uint64
	Approved  bool
	Executed  bool
	Kind      WithdrawalKind
}

// LedgerMover is the privileged ledger surface the vault uses.
type LedgerMover interface {
	Settings() (ledger.Settings, error)
	PrivilegedTransfer(ctx context.Context, caller, from, to, token crypto.Address, amount fhe.Handle) error
}
