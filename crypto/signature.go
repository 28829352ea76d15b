package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature
// (R || S || V).
const SignatureLength = 65

var errSignatureLength = errors.New("crypto: signature must be 65 bytes")

// SignText signs the EIP-191 personal-message digest of msg.
func SignText(key *PrivateKey, msg []byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), key.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverText returns the address that produced sig over the EIP-191 digest of
// msg. Both the 0/1 and 27/28 recovery id conventions are accepted.
func RecoverText(msg, sig []byte) (Address, error) {
	return RecoverDigest(accounts.TextHash(msg), sig)
}

// SignDigest signs a precomputed 32-byte digest.
func SignDigest(key *PrivateKey, digest []byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return crypto.Sign(digest, key.PrivateKey)
}

// RecoverDigest recovers the signer of a precomputed 32-byte digest.
func RecoverDigest(digest, sig []byte) (Address, error) {
	if len(sig) != SignatureLength {
		return Address{}, errSignatureLength
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return Address{}, fmt.Errorf("crypto: invalid recovery id %d", sig[64])
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return Address{}, err
	}
	return Address(crypto.PubkeyToAddress(*pub)), nil
}

// Keccak256 is re-exported so engines hash through one package.
func Keccak256(data ...[]byte) [32]byte {
	return [32]byte(crypto.Keccak256Hash(data...))
}
