package staking

import (
	"context"
	"time"

	"vchain/crypto"
	"vchain/fhe"
	"vchain/native/ledger"
)

const (
	// DefaultAPR is the yearly reward rate numerator applied per staked
	// unit across BlocksPerYear blocks.
	DefaultAPR uint64 = 500
	// DefaultBlocksPerYear assumes twelve second host blocks.
	DefaultBlocksPerYear uint64 = 2_628_000
	// DefaultMinLockPeriod is the shortest accepted lock.
	DefaultMinLockPeriod = 7 * 24 * time.Hour
)

// Pool is the shared reward accumulator.
type Pool struct {
	EncTotalStaked    fhe.Handle
	EncRewardPerShare fhe.Handle
	LastUpdateBlock   uint64
	APR               uint64
	MinLockPeriod     uint64
	BlocksPerYear     uint64
}

// Initialized reports whether the encrypted accumulators exist.
func (p Pool) Initialized() bool {
	return !p.EncTotalStaked.IsZero() && !p.EncRewardPerShare.IsZero()
}

// Stake is a single locked position. Ownership is decided by the per-owner
// index, Owner is informational.
type Stake struct {
	ID            uint64
	Owner         crypto.Address
	EncAmount     fhe.Handle
	EncRewardDebt fhe.Handle
	CreatedAt     uint64
	LockExpiry    uint64
	Active        bool
}

// Ledger is the privileged ledger surface the staking pool uses.
type Ledger interface {
	Settings() (ledger.Settings, error)
	PrivilegedTransfer(ctx context.Context, caller, from, to, token crypto.Address, amount fhe.Handle) error
	PrivilegedMint(ctx context.Context, caller, to crypto.Address, amount fhe.Handle) error
}
