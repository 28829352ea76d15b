package fhe

import (
	"context"
	"math/big"
	"time"

	"vchain/crypto"
)

// AwaitDecryption requests decryption of h on behalf of requester and polls
// until the plaintext is ready or ctx ends.
func AwaitDecryption(ctx context.Context, cop Coprocessor, h Handle, requester crypto.Address, interval time.Duration) (*big.Int, error) {
	id, err := cop.RequestDecryption(ctx, h, requester)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		value, ready, err := cop.PollDecryption(ctx, id)
		if err != nil {
			return nil, err
		}
		if ready {
			return value, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
