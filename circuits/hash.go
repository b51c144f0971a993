// Package circuits defines the three proof predicates (balance, training,
// secure aggregation) as gnark circuits, together with in-circuit mirrors of
// the host-side hashing so commitments recomputed inside a proof match the
// commitments built outside it.
package circuits

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// chunk must match fieldhash.Chunk: both sides split vectors identically or
// every vector commitment silently stops binding.
const chunk = 16

func hashMany(h *mimc.MiMC, elems ...frontend.Variable) frontend.Variable {
	h.Reset()
	h.Write(elems...)
	return h.Sum()
}

// vectorHash mirrors fieldhash.(*Hasher).VectorHash.
func vectorHash(h *mimc.MiMC, v []frontend.Variable) frontend.Variable {
	if len(v) <= chunk {
		return hashMany(h, v...)
	}
	digests := make([]frontend.Variable, 0, (len(v)+chunk-1)/chunk)
	for i := 0; i < len(v); i += chunk {
		end := i + chunk
		if end > len(v) {
			end = len(v)
		}
		digests = append(digests, hashMany(h, v[i:end]...))
	}
	return vectorHash(h, digests)
}

// recordLeaf mirrors fieldhash.(*Hasher).RecordLeaf.
func recordLeaf(h *mimc.MiMC, features []frontend.Variable, label frontend.Variable) frontend.Variable {
	v := make([]frontend.Variable, 0, len(features)+1)
	v = append(v, features...)
	v = append(v, label)
	return vectorHash(h, v)
}

// merkleRoot replays a membership path bottom-up. PathBits[i] selects the hash
// order at level i: 0 means the running node is the left child.
func merkleRoot(api frontend.API, h *mimc.MiMC, leaf frontend.Variable, siblings, pathBits []frontend.Variable) frontend.Variable {
	cur := leaf
	for i := range siblings {
		api.AssertIsBoolean(pathBits[i])
		left := api.Select(pathBits[i], siblings[i], cur)
		right := api.Select(pathBits[i], cur, siblings[i])
		cur = hashMany(h, left, right)
	}
	return cur
}

// prfMask mirrors fieldhash.(*Hasher).PRF. The caller supplies the canonically
// ordered id pair (lo, hi).
func prfMask(h *mimc.MiMC, key, round, lo, hi, k frontend.Variable) frontend.Variable {
	return hashMany(h, key, round, lo, hi, k)
}

// gradientCommitment mirrors training.GradientCommitment:
// Hash(VectorHash(gradient), Hash(clientID, round)).
func gradientCommitment(h *mimc.MiMC, gradient []frontend.Variable, clientID, round frontend.Variable) frontend.Variable {
	vg := vectorHash(h, gradient)
	idh := hashMany(h, clientID, round)
	return hashMany(h, vg, idh)
}
