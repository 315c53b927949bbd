package trie

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestTrieCommitAndReload(t *testing.T) {
	tr, err := NewTrie()
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("key"))
	value := []byte("value")

	require.NoError(t, tr.Update(key.Bytes(), value))
	root, err := tr.Commit(EmptyRoot, 1)
	require.NoError(t, err)
	require.NotEqual(t, EmptyRoot, root)
	require.Equal(t, root, tr.Root())

	got, err := tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestTrieCopyIsolatesMutations(t *testing.T) {
	tr, err := NewTrie()
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("shared"))
	require.NoError(t, tr.Update(key.Bytes(), []byte("base")))
	root, err := tr.Commit(EmptyRoot, 1)
	require.NoError(t, err)

	speculative, err := tr.Copy()
	require.NoError(t, err)
	require.NoError(t, speculative.Update(key.Bytes(), []byte("changed")))

	got, err := tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("base"), got)

	got, err = speculative.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("changed"), got)

	newRoot, err := speculative.Commit(root, 2)
	require.NoError(t, err)
	require.NotEqual(t, root, newRoot)

	// The canonical trie can fast-forward to the committed root because the
	// node database is shared.
	require.NoError(t, tr.Reset(newRoot))
	got, err = tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("changed"), got)
}

func TestTrieResetRollsBack(t *testing.T) {
	tr, err := NewTrie()
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("rollback"))
	require.NoError(t, tr.Update(key.Bytes(), []byte("pending")))
	require.NotEqual(t, EmptyRoot, tr.Hash())

	require.NoError(t, tr.Reset(EmptyRoot))
	got, err := tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, EmptyRoot, tr.Root())
}

func TestTrieCommitNoChangesKeepsRoot(t *testing.T) {
	tr, err := NewTrie()
	require.NoError(t, err)

	root, err := tr.Commit(common.Hash{}, 0)
	require.NoError(t, err)
	require.Equal(t, EmptyRoot, root)
}
