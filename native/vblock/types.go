package vblock

import (
	"vchain/crypto"
	"vchain/fhe"
)

// Block is a virtual block. Blocks move from created to finalized and never
// back.
type Block struct {
	Seq          uint64
	EncTimestamp fhe.Handle
	EncGasLimit  fhe.Handle
	Validators   []crypto.Address
	Finalized    bool
	EncFinalized fhe.Handle
	ContentHash  [32]byte
	CreatedAt    uint64
	Proposer     crypto.Address
	AttestedBy   []crypto.Address
	TxSeqs       []uint64
}

// Transaction is a virtual transaction. It carries audit metadata only; no
// value moves when it is submitted or included.
type Transaction struct {
	Seq             uint64
	From            crypto.Address
	To              crypto.Address
	EncValue        fhe.Handle
	EncGasUsed      fhe.Handle
	Payload         []byte
	PayloadHash     [32]byte
	IncludedInBlock uint64
	EncBlock        fhe.Handle
	EncIncluded     fhe.Handle
	Included        bool
	SubmittedAt     uint64
}

// ValidatorSet is the view of the validator allow-list the pipeline needs.
type ValidatorSet interface {
	IsValidator(addr crypto.Address) (bool, error)
	Members() ([]crypto.Address, error)
}

// Proof shows a transaction's payload hash under a block's transaction root.
type Proof struct {
	Leaf  [32]byte
	Index uint64
	Nodes [][]byte
}
