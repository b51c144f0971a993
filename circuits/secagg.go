package circuits

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/rangecheck"
)

// SecAggCircuit proves that a masked update is well-formed for pairwise
// cancelling aggregation: masks are re-derived in-circuit from the shared keys
// via the canonical-ordering PRF, applied with the sign fixed by numeric id
// comparison, and added to the same gradient that RootG commits to. The norm
// bound is re-verified as defense in depth, and RootK binds exactly which key
// material produced the masks.
type SecAggCircuit struct {
	ClientID frontend.Variable `gnark:",public"`
	Round    frontend.Variable `gnark:",public"`
	// RootD is carried as a public signal for the aggregator's cross-stage
	// binding check; no in-circuit constraint references it.
	RootD      frontend.Variable `gnark:",public"`
	RootG      frontend.Variable `gnark:",public"`
	RootW      frontend.Variable `gnark:",public"`
	RootK      frontend.Variable `gnark:",public"`
	TauSquared frontend.Variable `gnark:",public"`

	MaskedUpdate []frontend.Variable `gnark:",public"`
	PeerIDs      []frontend.Variable `gnark:",public"`

	GradPos   []frontend.Variable
	GradNeg   []frontend.Variable
	Weights   []frontend.Variable
	MasterKey frontend.Variable
	PeerKeys  []frontend.Variable
}

// NewSecAggCircuit allocates a circuit shell for a dim-dimensional update
// masked against the given number of peers.
func NewSecAggCircuit(dim, peers int) *SecAggCircuit {
	return &SecAggCircuit{
		MaskedUpdate: make([]frontend.Variable, dim),
		PeerIDs:      make([]frontend.Variable, peers),
		GradPos:      make([]frontend.Variable, dim),
		GradNeg:      make([]frontend.Variable, dim),
		Weights:      make([]frontend.Variable, dim),
		PeerKeys:     make([]frontend.Variable, peers),
	}
}

func (c *SecAggCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	rc := rangecheck.New(api)
	rc.Check(c.ClientID, 64)
	rc.Check(c.Round, 64)

	dim := len(c.GradPos)

	// Same decomposition and norm constraints as the training predicate.
	gradient := make([]frontend.Variable, dim)
	normSquared := frontend.Variable(0)
	for j := 0; j < dim; j++ {
		api.AssertIsEqual(api.Mul(c.GradPos[j], c.GradNeg[j]), 0)
		rc.Check(c.GradPos[j], magBits)
		rc.Check(c.GradNeg[j], magBits)
		gradient[j] = api.Sub(c.GradPos[j], c.GradNeg[j])
		normSquared = api.Add(normSquared,
			api.Mul(c.GradPos[j], c.GradPos[j]),
			api.Mul(c.GradNeg[j], c.GradNeg[j]))
	}
	api.AssertIsLessOrEqual(normSquared, c.TauSquared)

	// The masked gradient is the committed gradient, not an arbitrary vector.
	api.AssertIsEqual(gradientCommitment(&h, gradient, c.ClientID, c.Round), c.RootG)
	api.AssertIsEqual(vectorHash(&h, c.Weights), c.RootW)

	// Key material commitment: Hash(masterKey, peerSharedKeys...).
	keys := make([]frontend.Variable, 0, len(c.PeerKeys)+1)
	keys = append(keys, c.MasterKey)
	keys = append(keys, c.PeerKeys...)
	api.AssertIsEqual(vectorHash(&h, keys), c.RootK)

	// Pairwise masks with signed cancellation: sigma = +1 iff our id is the
	// smaller of the pair, and the PRF input is always (min, max) so both
	// endpoints derive the identical mask.
	masked := make([]frontend.Variable, dim)
	copy(masked, gradient)
	for p := range c.PeerIDs {
		rc.Check(c.PeerIDs[p], 64)
		cmp := api.Cmp(c.ClientID, c.PeerIDs[p])
		isLess := api.IsZero(api.Add(cmp, 1)) // 1 iff clientID < peerID
		lo := api.Select(isLess, c.ClientID, c.PeerIDs[p])
		hi := api.Select(isLess, c.PeerIDs[p], c.ClientID)

		for k := 0; k < dim; k++ {
			r := prfMask(&h, c.PeerKeys[p], c.Round, lo, hi, k)
			signed := api.Select(isLess, r, api.Neg(r))
			masked[k] = api.Add(masked[k], signed)
		}
	}

	for k := 0; k < dim; k++ {
		api.AssertIsEqual(masked[k], c.MaskedUpdate[k])
	}
	return nil
}
