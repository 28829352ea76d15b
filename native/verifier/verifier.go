// Package verifier provides the batch verification collaborator used to
// finalize virtual blocks with an externally computed content hash.
package verifier

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	"vchain/crypto"
)

// Verifier is the pluggable high-throughput verification interface.
type Verifier interface {
	ComputeBlockHash(txHashes [][32]byte) ([32]byte, error)
	ValidateSignatures(sigs [][]byte, hash [32]byte) (bool, error)
	VerifyMerkleProof(leaf [32]byte, proof [][]byte, root [32]byte, index uint64) (bool, error)
}

// SignerSet returns the addresses whose signatures count toward quorum.
type SignerSet func() ([]crypto.Address, error)

var errNoSigners = errors.New("verifier: signer set not configured")

// TrieVerifier commits transaction hashes into a Merkle-Patricia trie keyed
// by RLP-encoded index, the same construction Ethereum uses for transaction
// roots, and checks quorum signatures against a signer set.
type TrieVerifier struct {
	signers SignerSet
}

// New returns a verifier that checks signatures against signers.
func New(signers SignerSet) *TrieVerifier {
	return &TrieVerifier{signers: signers}
}

func buildTrie(leaves [][32]byte) (*gethtrie.Trie, error) {
	backend := memorydb.New()
	db := rawdb.NewDatabase(backend)
	trieDB := triedb.NewDatabase(db, triedb.HashDefaults)
	tr, err := gethtrie.New(gethtrie.TrieID(gethtypes.EmptyRootHash), trieDB)
	if err != nil {
		return nil, err
	}
	for i, leaf := range leaves {
		if err := tr.Update(indexKey(uint64(i)), append([]byte(nil), leaf[:]...)); err != nil {
			return nil, err
		}
	}
	return tr, nil
}

func indexKey(i uint64) []byte {
	return rlp.AppendUint64(nil, i)
}

// ComputeBlockHash returns the trie root over txHashes. An empty list yields
// the canonical empty-trie root.
func (v *TrieVerifier) ComputeBlockHash(txHashes [][32]byte) ([32]byte, error) {
	tr, err := buildTrie(txHashes)
	if err != nil {
		return [32]byte{}, err
	}
	return tr.Hash(), nil
}

// proofList collects the encoded trie nodes emitted by Prove.
type proofList [][]byte

func (p *proofList) Put(_ []byte, value []byte) error {
	*p = append(*p, append([]byte(nil), value...))
	return nil
}

func (p *proofList) Delete([]byte) error { return nil }

// BuildProof returns the Merkle proof for the leaf at index.
func BuildProof(txHashes [][32]byte, index uint64) ([][]byte, error) {
	if index >= uint64(len(txHashes)) {
		return nil, errors.New("verifier: proof index out of range")
	}
	tr, err := buildTrie(txHashes)
	if err != nil {
		return nil, err
	}
	var proof proofList
	if err := tr.Prove(indexKey(index), &proof); err != nil {
		return nil, err
	}
	return proof, nil
}

// VerifyMerkleProof reports whether proof shows leaf at index under root. A
// malformed proof is reported as false, not as an error.
func (v *TrieVerifier) VerifyMerkleProof(leaf [32]byte, proof [][]byte, root [32]byte, index uint64) (bool, error) {
	db := memorydb.New()
	for _, node := range proof {
		if err := db.Put(ethcrypto.Keccak256(node), node); err != nil {
			return false, err
		}
	}
	value, err := gethtrie.VerifyProof(common.Hash(root), indexKey(index), db)
	if err != nil || value == nil {
		return false, nil
	}
	return common.BytesToHash(value) == common.Hash(leaf) && len(value) == len(leaf), nil
}

// ValidateSignatures reports whether sigs over hash come from at least two
// thirds of the signer set. Every signature must recover to a distinct member;
// a single foreign or malformed signature fails the batch.
func (v *TrieVerifier) ValidateSignatures(sigs [][]byte, hash [32]byte) (bool, error) {
	if v == nil || v.signers == nil {
		return false, errNoSigners
	}
	members, err := v.signers()
	if err != nil {
		return false, err
	}
	if len(members) == 0 {
		return false, nil
	}
	set := make(map[crypto.Address]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	seen := make(map[crypto.Address]struct{}, len(sigs))
	for _, sig := range sigs {
		signer, err := crypto.RecoverDigest(hash[:], sig)
		if err != nil {
			return false, nil
		}
		if _, ok := set[signer]; !ok {
			return false, nil
		}
		if _, dup := seen[signer]; dup {
			return false, nil
		}
		seen[signer] = struct{}{}
	}
	return 3*len(seen) >= 2*len(members), nil
}

var _ Verifier = (*TrieVerifier)(nil)
