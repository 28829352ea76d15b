package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"vchain/crypto"
)

// AliasRecord captures the metadata for a registered alias.
type AliasRecord struct {
	Alias     string
	Address   [20]byte
	CreatedAt uint64
	UpdatedAt uint64
}

const (
	aliasMinLength = 3
	aliasMaxLength = 32
)

var (
	aliasPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)
	// ErrInvalidAlias is returned when the supplied alias does not satisfy
	// the naming constraints.
	ErrInvalidAlias = errors.New("identity: invalid alias")
	// ErrAliasTaken is returned when the alias is already owned by another
	// address.
	ErrAliasTaken = errors.New("identity: alias already registered")
	// ErrAliasNotFound is returned when resolving an unknown alias.
	ErrAliasNotFound = errors.New("identity: alias not found")

	errStateNotConfigured = errors.New("identity: state not configured")
)

// NormalizeAlias lowercases and validates the supplied alias.
func NormalizeAlias(alias string) (string, error) {
	trimmed := strings.TrimSpace(alias)
	lower := strings.ToLower(trimmed)
	length := len(lower)
	if length < aliasMinLength || length > aliasMaxLength {
		return "", fmt.Errorf("%w: must be between %d and %d characters", ErrInvalidAlias, aliasMinLength, aliasMaxLength)
	}
	if !aliasPattern.MatchString(lower) {
		return "", fmt.Errorf("%w: allowed characters are [a-z0-9._-]", ErrInvalidAlias)
	}
	return lower, nil
}

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var (
	aliasPrefix   = []byte("identity/alias/")
	reversePrefix = []byte("identity/addr/")
)

func aliasKey(alias string) []byte {
	return append(append([]byte(nil), aliasPrefix...), alias...)
}

func reverseKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), reversePrefix...), addr[:]...)
}

// Registry maps human-readable identities to addresses. Payments may name a
// recipient by identity instead of by address.
type Registry struct {
	state registryState
}

// NewRegistry binds a registry to state.
func NewRegistry(state registryState) *Registry { return &Registry{state: state} }

// Register binds alias to addr. Rebinding an alias to its current owner only
// refreshes UpdatedAt; binding an address to a new alias drops its previous
// alias.
func (r *Registry) Register(alias string, addr crypto.Address, now uint64) (*AliasRecord, error) {
	if r == nil || r.state == nil {
		return nil, errStateNotConfigured
	}
	normalized, err := NormalizeAlias(alias)
	if err != nil {
		return nil, err
	}
	existing, err := r.lookup(normalized)
	if err != nil {
		return nil, err
	}
	if existing != nil && crypto.Address(existing.Address) != addr {
		return nil, ErrAliasTaken
	}
	record := &AliasRecord{Alias: normalized, Address: addr, CreatedAt: now, UpdatedAt: now}
	if existing != nil {
		record.CreatedAt = existing.CreatedAt
	}
	var previous string
	if ok, err := r.state.KVGet(reverseKey(addr), &previous); err != nil {
		return nil, err
	} else if ok && previous != normalized {
		if err := r.state.KVDelete(aliasKey(previous)); err != nil {
			return nil, err
		}
	}
	if err := r.state.KVPut(aliasKey(normalized), record); err != nil {
		return nil, err
	}
	if err := r.state.KVPut(reverseKey(addr), normalized); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *Registry) lookup(normalized string) (*AliasRecord, error) {
	record := new(AliasRecord)
	ok, err := r.state.KVGet(aliasKey(normalized), record)
	if err != nil || !ok {
		return nil, err
	}
	return record, nil
}

// Resolve returns the address bound to alias.
func (r *Registry) Resolve(alias string) (crypto.Address, error) {
	if r == nil || r.state == nil {
		return crypto.Address{}, errStateNotConfigured
	}
	normalized, err := NormalizeAlias(alias)
	if err != nil {
		return crypto.Address{}, err
	}
	record, err := r.lookup(normalized)
	if err != nil {
		return crypto.Address{}, err
	}
	if record == nil {
		return crypto.Address{}, ErrAliasNotFound
	}
	return crypto.Address(record.Address), nil
}

// AliasOf returns the alias currently bound to addr, if any.
func (r *Registry) AliasOf(addr crypto.Address) (string, bool, error) {
	if r == nil || r.state == nil {
		return "", false, errStateNotConfigured
	}
	var alias string
	ok, err := r.state.KVGet(reverseKey(addr), &alias)
	return alias, ok, err
}
