package ledger

import (
	"encoding/binary"
	"math/big"
	"time"

	"vchain/crypto"
)

// BeaconBonus derives the relay bonus multiplier from host time and height:
// 1 + keccak256(unix || height) mod Max.
//
// This is a placeholder. Host time and height are visible to, and partly
// chosen by, whoever produces the host block, so the multiplier can be
// predicted and biased. It must be replaced with a verifiable random
// function before rewards carry real value.
type BeaconBonus struct {
	Max uint64
}

// Bonus implements BonusSource.
func (b BeaconBonus) Bonus(now time.Time, height uint64) (uint64, error) {
	if b.Max <= 1 {
		return 1, nil
	}
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(now.Unix()))
	binary.BigEndian.PutUint64(buf[8:], height)
	digest := crypto.Keccak256(buf[:])
	roll := new(big.Int).SetBytes(digest[:])
	roll.Mod(roll, new(big.Int).SetUint64(b.Max))
	return roll.Uint64() + 1, nil
}

// FixedBonus always returns the same multiplier. Tests use it for
// deterministic rewards.
type FixedBonus uint64

// Bonus implements BonusSource.
func (f FixedBonus) Bonus(time.Time, uint64) (uint64, error) {
	if f == 0 {
		return 1, nil
	}
	return uint64(f), nil
}
