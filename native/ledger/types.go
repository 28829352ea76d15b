package ledger

import (
	"math/big"
	"time"

	"vchain/crypto"
	"vchain/fhe"
)

// Settings is the persisted ledger configuration.
type Settings struct {
	ChainID           uint64
	PrincipalToken    crypto.Address
	AllowListEnabled  bool
	SignaturesEnabled bool
	Treasury          crypto.Address
	Staking           crypto.Address
}

// Supply holds the encrypted principal-token supply and the reward-era
// schedule.
type Supply struct {
	TotalSupply  fhe.Handle
	EraThreshold fhe.Handle
	RewardPerTx  fhe.Handle
}

// Initialized reports whether every supply handle has been declared.
func (s Supply) Initialized() bool {
	return !s.TotalSupply.IsZero() && !s.EraThreshold.IsZero() && !s.RewardPerTx.IsZero()
}

// PayRequest carries every argument of a payment.
type PayRequest struct {
	From crypto.Address
	To   crypto.Address
	// ToIdentity, when set, names the recipient through the identity
	// registry and replaces To.
	ToIdentity string
	Token      crypto.Address
	Amount     fhe.ExternalInput
	Fee        fhe.ExternalInput
	Nonce      uint64
	// Priority selects the asynchronous nonce discipline.
	Priority bool
	// Executor, when non-zero, is the only caller allowed to submit.
	Executor  crypto.Address
	Signature []byte
	// PlainAmount and PlainFee are required when signature verification is
	// enabled; they reveal the amounts to the verifier.
	PlainAmount *big.Int
	PlainFee    *big.Int
}

// Receipt summarises an accepted payment.
type Receipt struct {
	From     crypto.Address
	To       crypto.Address
	Token    crypto.Address
	Relayer  crypto.Address
	Nonce    uint64
	Priority bool
	Rewarded bool
}

// StakerSet reports whether an address is eligible for relay rewards.
type StakerSet interface {
	IsStaker(addr crypto.Address) (bool, error)
}

// StakerSetFunc adapts a function to StakerSet.
type StakerSetFunc func(addr crypto.Address) (bool, error)

// IsStaker implements StakerSet.
func (f StakerSetFunc) IsStaker(addr crypto.Address) (bool, error) { return f(addr) }

// BonusSource supplies the relay reward multiplier.
type BonusSource interface {
	Bonus(now time.Time, height uint64) (uint64, error)
}
