// Package fieldhash provides the collision-resistant, field-native hash used by
// every commitment in the protocol: MiMC over the BN254 scalar field. The same
// permutation backs the in-circuit hashing, so host-side commitments and
// circuit-recomputed commitments agree bit for bit.
package fieldhash

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Chunk bounds the arity of a single hash invocation. VectorHash splits longer
// inputs into Chunk-sized pieces and hashes the chunk digests together, so any
// backend with a fixed maximum arity can absorb arbitrary-length vectors.
const Chunk = 16

// Hasher is an explicit hash context. It is created once and passed to every
// component; there is no package-level singleton.
type Hasher struct{}

func New() *Hasher {
	return &Hasher{}
}

// Hash absorbs the elements in order and returns the digest. Identical inputs
// in identical order always produce identical digests.
func (h *Hasher) Hash(elems ...fr.Element) fr.Element {
	m := mimc.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		m.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(m.Sum(nil))
	return out
}

// HashPair is the two-input variant used for Merkle tree nodes.
func (h *Hasher) HashPair(left, right fr.Element) fr.Element {
	return h.Hash(left, right)
}

// VectorHash hashes a vector of any length: inputs of at most Chunk elements
// are hashed directly, longer inputs are split into Chunk-sized pieces whose
// digests are then vector-hashed in turn.
func (h *Hasher) VectorHash(v []fr.Element) fr.Element {
	if len(v) <= Chunk {
		return h.Hash(v...)
	}
	digests := make([]fr.Element, 0, (len(v)+Chunk-1)/Chunk)
	for i := 0; i < len(v); i += Chunk {
		end := i + Chunk
		if end > len(v) {
			end = len(v)
		}
		digests = append(digests, h.Hash(v[i:end]...))
	}
	return h.VectorHash(digests)
}

// PRF derives the pairwise mask element r_{ij}[k] from a shared key. Callers
// pass the canonically ordered pair (lo < hi) so both endpoints derive the
// identical value.
func (h *Hasher) PRF(key fr.Element, round, lo, hi uint64, k int) fr.Element {
	var r, l, g, idx fr.Element
	r.SetUint64(round)
	l.SetUint64(lo)
	g.SetUint64(hi)
	idx.SetUint64(uint64(k))
	return h.Hash(key, r, l, g, idx)
}

// RecordLeaf hashes one dataset record: VectorHash(features || label).
func (h *Hasher) RecordLeaf(features []int64, label int64) fr.Element {
	v := make([]fr.Element, len(features)+1)
	for i, f := range features {
		v[i].SetInt64(f)
	}
	v[len(features)].SetInt64(label)
	return h.VectorHash(v)
}

// ZeroLeaf is the padding leaf: the hash of an all-zero record of the given
// feature dimension.
func (h *Hasher) ZeroLeaf(dim int) fr.Element {
	return h.RecordLeaf(make([]int64, dim), 0)
}

// FromInt64 maps a signed fixed-point value into the field, negatives as p+v.
func FromInt64(v int64) fr.Element {
	var e fr.Element
	e.SetInt64(v)
	return e
}

// FromUint64 maps an unsigned value into the field.
func FromUint64(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}
