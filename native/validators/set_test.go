package validators

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "vchain/core/errors"
	"vchain/core/state"
	"vchain/crypto"
	"vchain/storage"
)

func TestAddRemoveMembership(t *testing.T) {
	s := NewSet(state.NewManager(storage.NewMemDB()))
	a, b, c := crypto.Address{3}, crypto.Address{1}, crypto.Address{2}

	for _, v := range []crypto.Address{a, b, c} {
		require.NoError(t, s.Add(v))
	}
	members, err := s.Members()
	require.NoError(t, err)
	require.ElementsMatch(t, []crypto.Address{a, b, c}, members)
	require.Equal(t, []crypto.Address{b, c, a}, members, "members are kept sorted")

	err = s.Add(a)
	require.True(t, errors.Is(err, coreerrors.ErrState))
	err = s.Add(crypto.Address{})
	require.True(t, errors.Is(err, coreerrors.ErrConfiguration))

	require.NoError(t, s.Remove(c))
	ok, err := s.IsValidator(c)
	require.NoError(t, err)
	require.False(t, ok)
	err = s.Remove(c)
	require.True(t, errors.Is(err, coreerrors.ErrState))

	members, err = s.Members()
	require.NoError(t, err)
	require.Len(t, members, 2)
}
