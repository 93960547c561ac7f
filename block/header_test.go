package block_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vrrb-network/consensus-core/block"
)

func TestMerkleRootEmpty(t *testing.T) {
	require.Equal(t, [32]byte{}, block.MerkleRoot(nil))
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaves := [][]byte{[]byte("only-leaf")}
	root := block.MerkleRoot(leaves)
	require.NotEqual(t, [32]byte{}, root)
	// Deterministic for the same input.
	require.Equal(t, root, block.MerkleRoot(leaves))
}

func TestMerkleRootDuplicatesLastOnOddCount(t *testing.T) {
	three := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	four := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("c")}
	require.Equal(t, block.MerkleRoot(three), block.MerkleRoot(four))
}

func TestHashIsDeterministicAndFieldSensitive(t *testing.T) {
	h1 := block.Header{BlockHeight: 5, BlockSeed: 10}
	h2 := h1
	h2.BlockHeight = 6

	a := block.Hash(&h1, nil, nil)
	b := block.Hash(&h2, nil, nil)
	require.NotEqual(t, a, b)
	require.Equal(t, a, block.Hash(&h1, nil, nil))
}

func TestGenesisStateHashIsFixed(t *testing.T) {
	require.NotEqual(t, [32]byte{}, block.GenesisStateHash)
	require.NotEqual(t, block.GenesisLastHash, block.GenesisStateHash)
}
