// Package merkle implements the dataset accumulator: a binary hash tree over
// per-record leaf hashes with batched membership proofs. Trees are immutable
// once built; the root is determined solely by leaf order and padding, so two
// builds from identical leaves always agree.
package merkle

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkfedlearn/zkfl/fieldhash"
)

// Tree stores its levels as a flat arena indexed by (level, position):
// levels[0] holds the padded leaves, levels[depth][0] is the root.
type Tree struct {
	levels [][]fr.Element
	depth  int
	n      int
}

// Proof authenticates a single leaf against the root. PathBits[i] is true when
// the node at level i is a right child.
type Proof struct {
	LeafIndex int
	Siblings  []fr.Element
	PathBits  []bool
	Root      fr.Element
}

// Build constructs the tree over the given leaf hashes, padding to the next
// power of two with zeroLeaf and hashing levels bottom-up pairwise.
func Build(h *fieldhash.Hasher, leaves []fr.Element, zeroLeaf fr.Element) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("merkle: cannot build a tree over zero leaves")
	}

	depth := 0
	size := 1
	for size < len(leaves) {
		size *= 2
		depth++
	}

	padded := make([]fr.Element, size)
	copy(padded, leaves)
	for i := len(leaves); i < size; i++ {
		padded[i] = zeroLeaf
	}

	levels := make([][]fr.Element, depth+1)
	levels[0] = padded
	for lvl := 1; lvl <= depth; lvl++ {
		below := levels[lvl-1]
		level := make([]fr.Element, len(below)/2)
		for i := range level {
			level[i] = h.HashPair(below[2*i], below[2*i+1])
		}
		levels[lvl] = level
	}

	return &Tree{levels: levels, depth: depth, n: len(leaves)}, nil
}

func (t *Tree) Root() fr.Element {
	return t.levels[t.depth][0]
}

func (t *Tree) Depth() int {
	return t.depth
}

// Len returns the number of unpadded leaves.
func (t *Tree) Len() int {
	return t.n
}

// Prove returns the membership proof for the leaf at index.
func (t *Tree) Prove(index int) (Proof, error) {
	if index < 0 || index >= t.n {
		return Proof{}, fmt.Errorf("merkle: index %d out of range (n=%d)", index, t.n)
	}

	siblings := make([]fr.Element, t.depth)
	bits := make([]bool, t.depth)
	pos := index
	for lvl := 0; lvl < t.depth; lvl++ {
		siblings[lvl] = t.levels[lvl][pos^1]
		bits[lvl] = pos%2 == 1
		pos /= 2
	}

	return Proof{
		LeafIndex: index,
		Siblings:  siblings,
		PathBits:  bits,
		Root:      t.Root(),
	}, nil
}

// ProveBatch returns one independent proof per index.
func (t *Tree) ProveBatch(indices []int) ([]Proof, error) {
	proofs := make([]Proof, len(indices))
	for i, idx := range indices {
		p, err := t.Prove(idx)
		if err != nil {
			return nil, err
		}
		proofs[i] = p
	}
	return proofs, nil
}

// Verify replays the hashing up the path and compares against the proof root.
// Any single flipped sibling or path bit makes it return false.
func Verify(h *fieldhash.Hasher, proof Proof, leaf fr.Element) bool {
	cur := leaf
	for i, sibling := range proof.Siblings {
		if proof.PathBits[i] {
			cur = h.HashPair(sibling, cur)
		} else {
			cur = h.HashPair(cur, sibling)
		}
	}
	return cur.Equal(&proof.Root)
}
