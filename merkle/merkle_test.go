package merkle

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"

	"github.com/zkfedlearn/zkfl/fieldhash"
)

func leafSet(h *fieldhash.Hasher, labels []int64) []fr.Element {
	leaves := make([]fr.Element, len(labels))
	for i, lab := range labels {
		leaves[i] = h.RecordLeaf([]int64{int64(i) * 100}, lab)
	}
	return leaves
}

func TestBuildDeterministic(t *testing.T) {
	h := fieldhash.New()
	labels := []int64{0, 1, 1, 0, 1, 1, 1, 0}
	zero := h.ZeroLeaf(1)

	t1, err := Build(h, leafSet(h, labels), zero)
	require.NoError(t, err)
	t2, err := Build(h, leafSet(h, labels), zero)
	require.NoError(t, err)

	r1, r2 := t1.Root(), t2.Root()
	require.True(t, r1.Equal(&r2), "identical leaves must give identical roots")
	require.Equal(t, 3, t1.Depth())
	require.Equal(t, 8, t1.Len())
}

func TestPaddingAffectsDepthNotDeterminism(t *testing.T) {
	h := fieldhash.New()
	zero := h.ZeroLeaf(1)

	t5, err := Build(h, leafSet(h, []int64{0, 1, 1, 0, 1}), zero)
	require.NoError(t, err)
	require.Equal(t, 3, t5.Depth(), "5 leaves pad to 8")

	// A proof for a real leaf still verifies against the padded tree.
	proof, err := t5.Prove(4)
	require.NoError(t, err)
	require.True(t, Verify(h, proof, h.RecordLeaf([]int64{400}, 1)))
}

func TestProofVerifies(t *testing.T) {
	h := fieldhash.New()
	labels := []int64{0, 1, 1, 0, 1, 1, 1, 0}
	leaves := leafSet(h, labels)
	tree, err := Build(h, leaves, h.ZeroLeaf(1))
	require.NoError(t, err)

	indices := []int{0, 3, 7}
	proofs, err := tree.ProveBatch(indices)
	require.NoError(t, err)
	for i, p := range proofs {
		require.Equal(t, indices[i], p.LeafIndex)
		require.True(t, Verify(h, p, leaves[indices[i]]))
	}
}

func TestCorruptionFailsDeterministically(t *testing.T) {
	h := fieldhash.New()
	leaves := leafSet(h, []int64{0, 1, 1, 0, 1, 1, 1, 0})
	tree, err := Build(h, leaves, h.ZeroLeaf(1))
	require.NoError(t, err)

	proof, err := tree.Prove(5)
	require.NoError(t, err)
	require.True(t, Verify(h, proof, leaves[5]))

	// Flip one sibling.
	corrupted := proof
	corrupted.Siblings = append([]fr.Element(nil), proof.Siblings...)
	var one fr.Element
	one.SetOne()
	corrupted.Siblings[1].Add(&corrupted.Siblings[1], &one)
	require.False(t, Verify(h, corrupted, leaves[5]))

	// Flip one path direction.
	corrupted = proof
	corrupted.PathBits = append([]bool(nil), proof.PathBits...)
	corrupted.PathBits[0] = !corrupted.PathBits[0]
	require.False(t, Verify(h, corrupted, leaves[5]))

	// Wrong leaf.
	require.False(t, Verify(h, proof, leaves[4]))
}

func TestProveOutOfRange(t *testing.T) {
	h := fieldhash.New()
	tree, err := Build(h, leafSet(h, []int64{0, 1, 1}), h.ZeroLeaf(1))
	require.NoError(t, err)

	_, err = tree.Prove(3)
	require.Error(t, err, "padding leaves are not provable members")
	_, err = tree.Prove(-1)
	require.Error(t, err)
}

func TestBuildEmpty(t *testing.T) {
	h := fieldhash.New()
	_, err := Build(h, nil, h.ZeroLeaf(1))
	require.Error(t, err)
}
