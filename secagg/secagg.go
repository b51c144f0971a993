// Package secagg implements the dropout-tolerant secure aggregation stage:
// pairwise pseudorandom masks derived from canonically ordered shared keys,
// applied with signed cancellation so that the sum of masked updates over any
// complete set of pairs equals the sum of the raw gradients mod p.
package secagg

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkfedlearn/zkfl/circuits"
	"github.com/zkfedlearn/zkfl/fieldhash"
	"github.com/zkfedlearn/zkfl/training"
)

// pairKey canonicalizes an unordered client pair: K_{ij} = K_{ji}.
func pairKey(i, j uint64) [2]uint64 {
	if i < j {
		return [2]uint64{i, j}
	}
	return [2]uint64{j, i}
}

// PairwiseKeys holds the symmetric secrets of every client pair. In
// deployment these are established out of band; here they are sampled once
// and handed to both endpoints.
type PairwiseKeys struct {
	keys map[[2]uint64]fr.Element
}

// NewPairwiseKeys samples one random shared key per unordered pair of ids.
func NewPairwiseKeys(ids []uint64) (*PairwiseKeys, error) {
	pk := &PairwiseKeys{keys: make(map[[2]uint64]fr.Element)}
	for a := 0; a < len(ids); a++ {
		for b := a + 1; b < len(ids); b++ {
			var k fr.Element
			if _, err := k.SetRandom(); err != nil {
				return nil, fmt.Errorf("secagg: sampling pair key: %w", err)
			}
			pk.keys[pairKey(ids[a], ids[b])] = k
		}
	}
	return pk, nil
}

// Shared returns the symmetric key of the pair (i, j), in either order.
func (p *PairwiseKeys) Shared(i, j uint64) (fr.Element, error) {
	k, ok := p.keys[pairKey(i, j)]
	if !ok {
		return fr.Element{}, fmt.Errorf("secagg: no shared key for pair (%d,%d)", i, j)
	}
	return k, nil
}

// KeyMaterial is one client's view of the round keys: its master key and the
// shared key per peer, peers sorted ascending so root_K is order-independent
// of how the keys arrived.
type KeyMaterial struct {
	ClientID  uint64
	MasterKey fr.Element
	PeerIDs   []uint64
	PeerKeys  []fr.Element
}

// NewKeyMaterial collects a client's shared keys for the given peer set.
func NewKeyMaterial(clientID uint64, peers []uint64, pk *PairwiseKeys) (*KeyMaterial, error) {
	sorted := make([]uint64, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })

	km := &KeyMaterial{
		ClientID: clientID,
		PeerIDs:  sorted,
		PeerKeys: make([]fr.Element, len(sorted)),
	}
	if _, err := km.MasterKey.SetRandom(); err != nil {
		return nil, fmt.Errorf("secagg: sampling master key: %w", err)
	}
	for i, peer := range sorted {
		if peer == clientID {
			return nil, fmt.Errorf("secagg: client %d listed as its own peer", clientID)
		}
		k, err := pk.Shared(clientID, peer)
		if err != nil {
			return nil, err
		}
		km.PeerKeys[i] = k
	}
	return km, nil
}

// Commitment is root_K = Hash(masterKey, peerSharedKeys...), binding which key
// material produced the masks.
func (km *KeyMaterial) Commitment(h *fieldhash.Hasher) fr.Element {
	v := make([]fr.Element, 0, len(km.PeerKeys)+1)
	v = append(v, km.MasterKey)
	v = append(v, km.PeerKeys...)
	return h.VectorHash(v)
}

// Mask derives the deterministic mask vector r_{ij} for a pair: anyone holding
// K_{ij} recomputes the identical vector regardless of argument order.
func Mask(h *fieldhash.Hasher, key fr.Element, round, i, j uint64, dim int) []fr.Element {
	p := pairKey(i, j)
	r := make([]fr.Element, dim)
	for k := 0; k < dim; k++ {
		r[k] = h.PRF(key, round, p[0], p[1], k)
	}
	return r
}

// MaskedUpdate computes u' = gradient + sum_j sigma_{ij} * r_{ij} (mod p),
// with sigma = +1 iff our id is numerically smaller than the peer's.
func MaskedUpdate(h *fieldhash.Hasher, grad []int64, round uint64, km *KeyMaterial) []fr.Element {
	u := make([]fr.Element, len(grad))
	for k, g := range grad {
		u[k].SetInt64(g)
	}
	for p, peer := range km.PeerIDs {
		r := Mask(h, km.PeerKeys[p], round, km.ClientID, peer, len(grad))
		for k := range u {
			if km.ClientID < peer {
				u[k].Add(&u[k], &r[k])
			} else {
				u[k].Sub(&u[k], &r[k])
			}
		}
	}
	return u
}

// Statement is the public half of a secagg proof. Signal order:
// client_id, round, root_D, root_G, root_W, root_K, tauSquared,
// masked_update[0..dim-1], peer_ids[...].
type Statement struct {
	ClientID     uint64
	Round        uint64
	RootD        fr.Element
	RootG        fr.Element
	RootW        fr.Element
	RootK        fr.Element
	TauSquared   uint64
	MaskedUpdate []fr.Element
	PeerIDs      []uint64
}

func (s Statement) PublicSignals() []*big.Int {
	signals := []*big.Int{
		new(big.Int).SetUint64(s.ClientID),
		new(big.Int).SetUint64(s.Round),
		s.RootD.BigInt(new(big.Int)),
		s.RootG.BigInt(new(big.Int)),
		s.RootW.BigInt(new(big.Int)),
		s.RootK.BigInt(new(big.Int)),
		new(big.Int).SetUint64(s.TauSquared),
	}
	for k := range s.MaskedUpdate {
		signals = append(signals, s.MaskedUpdate[k].BigInt(new(big.Int)))
	}
	for _, peer := range s.PeerIDs {
		signals = append(signals, new(big.Int).SetUint64(peer))
	}
	return signals
}

// Assignment builds the full witness for the secagg predicate.
func Assignment(s Statement, d training.Decomposition, weights []int64, km *KeyMaterial) (*circuits.SecAggCircuit, error) {
	if len(s.PeerIDs) != len(km.PeerIDs) {
		return nil, fmt.Errorf("secagg: statement has %d peers, key material %d", len(s.PeerIDs), len(km.PeerIDs))
	}
	dim := len(d.Pos)
	if len(s.MaskedUpdate) != dim || len(weights) != dim {
		return nil, fmt.Errorf("secagg: dimension mismatch")
	}

	c := circuits.NewSecAggCircuit(dim, len(km.PeerIDs))
	c.ClientID = s.ClientID
	c.Round = s.Round
	c.RootD = s.RootD
	c.RootG = s.RootG
	c.RootW = s.RootW
	c.RootK = s.RootK
	c.TauSquared = s.TauSquared
	c.MasterKey = km.MasterKey

	for k := 0; k < dim; k++ {
		c.MaskedUpdate[k] = s.MaskedUpdate[k]
		c.GradPos[k] = d.Pos[k]
		c.GradNeg[k] = d.Neg[k]
		c.Weights[k] = weights[k]
	}
	for p := range km.PeerIDs {
		if s.PeerIDs[p] != km.PeerIDs[p] {
			return nil, fmt.Errorf("secagg: statement peer %d is %d, key material has %d", p, s.PeerIDs[p], km.PeerIDs[p])
		}
		c.PeerIDs[p] = km.PeerIDs[p]
		c.PeerKeys[p] = km.PeerKeys[p]
	}
	return c, nil
}

// SumUpdates reduces masked updates mod p. The reduction is commutative and
// associative, so shards may be merged in any order; masks cancel exactly when
// both endpoints of every pair are present in the sum.
func SumUpdates(updates [][]fr.Element) []fr.Element {
	if len(updates) == 0 {
		return nil
	}
	sum := make([]fr.Element, len(updates[0]))
	for _, u := range updates {
		for k := range sum {
			sum[k].Add(&sum[k], &u[k])
		}
	}
	return sum
}
