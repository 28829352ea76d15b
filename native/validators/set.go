// Package validators maintains the permissioned validator allow-list.
package validators

import (
	"bytes"
	"errors"
	"sort"

	coreerrors "vchain/core/errors"
	"vchain/crypto"
)

type setState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVRemove(key []byte, value []byte) (bool, error)
}

var errStateNotConfigured = errors.New("validators: state not configured")

var (
	memberPrefix = []byte("validators/member/")
	listKey      = []byte("validators/list")
)

func memberKey(addr crypto.Address) []byte {
	buf := make([]byte, 0, len(memberPrefix)+len(addr))
	buf = append(buf, memberPrefix...)
	return append(buf, addr[:]...)
}

// Set is a hash-set of validator addresses with a sorted member list for
// enumeration.
type Set struct {
	state setState
}

// NewSet binds a validator set to state.
func NewSet(state setState) *Set { return &Set{state: state} }

// IsValidator reports whether addr is currently a validator.
func (s *Set) IsValidator(addr crypto.Address) (bool, error) {
	if s == nil || s.state == nil {
		return false, errStateNotConfigured
	}
	var member bool
	ok, err := s.state.KVGet(memberKey(addr), &member)
	if err != nil {
		return false, err
	}
	return ok && member, nil
}

// Members returns the validators sorted by address bytes.
func (s *Set) Members() ([]crypto.Address, error) {
	if s == nil || s.state == nil {
		return nil, errStateNotConfigured
	}
	var raw [][]byte
	if _, err := s.state.KVGet(listKey, &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		out = append(out, crypto.BytesToAddress(b))
	}
	return out, nil
}

// Add inserts addr. The zero address is rejected and duplicates are a state
// error.
func (s *Set) Add(addr crypto.Address) error {
	if addr.IsZero() {
		return coreerrors.Configuration("validators: zero address")
	}
	member, err := s.IsValidator(addr)
	if err != nil {
		return err
	}
	if member {
		return coreerrors.State("validators: %s already present", addr.Hex())
	}
	members, err := s.Members()
	if err != nil {
		return err
	}
	members = append(members, addr)
	sort.Slice(members, func(i, j int) bool { return bytes.Compare(members[i][:], members[j][:]) < 0 })
	if err := s.writeList(members); err != nil {
		return err
	}
	return s.state.KVPut(memberKey(addr), true)
}

// Remove deletes addr. Removing a non-member is a state error.
func (s *Set) Remove(addr crypto.Address) error {
	member, err := s.IsValidator(addr)
	if err != nil {
		return err
	}
	if !member {
		return coreerrors.State("validators: %s not present", addr.Hex())
	}
	if _, err := s.state.KVRemove(listKey, addr.Bytes()); err != nil {
		return err
	}
	return s.state.KVDelete(memberKey(addr))
}

func (s *Set) writeList(members []crypto.Address) error {
	raw := make([][]byte, len(members))
	for i, m := range members {
		raw[i] = m.Bytes()
	}
	return s.state.KVPut(listKey, raw)
}
