package circuits

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/rangecheck"

	"github.com/zkfedlearn/zkfl/utils"
)

// magBits bounds the magnitude of every gradient component so that squares and
// their sum cannot wrap the ~2^254 field.
const magBits = 64

// TrainingCircuit proves that a gradient was computed from a batch drawn from
// the committed dataset and clipped to the public bound. Nothing derived is
// trusted: the batch is tied to RootD by membership paths, the gradient is
// recomputed from weights and features via an exact floor-division check, and
// the squared norm is recomputed from the sign-magnitude decomposition.
type TrainingCircuit struct {
	ClientID   frontend.Variable `gnark:",public"`
	Round      frontend.Variable `gnark:",public"`
	RootD      frontend.Variable `gnark:",public"`
	RootG      frontend.Variable `gnark:",public"`
	RootW      frontend.Variable `gnark:",public"`
	TauSquared frontend.Variable `gnark:",public"`

	Weights  []frontend.Variable
	Features [][]frontend.Variable
	Labels   []frontend.Variable
	Siblings [][]frontend.Variable
	PathBits [][]frontend.Variable

	// Sign-magnitude decomposition of the claimed gradient, plus the
	// remainders of the floor division by batchSize*Precision.
	GradPos   []frontend.Variable
	GradNeg   []frontend.Variable
	Remainder []frontend.Variable
}

// NewTrainingCircuit allocates a circuit shell for a batch of the given size
// over a dim-dimensional model committed in a depth-deep dataset tree.
func NewTrainingCircuit(batch, depth, dim int) *TrainingCircuit {
	c := &TrainingCircuit{
		Weights:   make([]frontend.Variable, dim),
		Features:  make([][]frontend.Variable, batch),
		Labels:    make([]frontend.Variable, batch),
		Siblings:  make([][]frontend.Variable, batch),
		PathBits:  make([][]frontend.Variable, batch),
		GradPos:   make([]frontend.Variable, dim),
		GradNeg:   make([]frontend.Variable, dim),
		Remainder: make([]frontend.Variable, dim),
	}
	for i := 0; i < batch; i++ {
		c.Features[i] = make([]frontend.Variable, dim)
		c.Siblings[i] = make([]frontend.Variable, depth)
		c.PathBits[i] = make([]frontend.Variable, depth)
	}
	return c
}

func (c *TrainingCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	rc := rangecheck.New(api)
	rc.Check(c.ClientID, 64)
	rc.Check(c.Round, 64)

	batch := len(c.Features)
	dim := len(c.Weights)

	// Batch membership: every (features, label) row is a leaf of RootD.
	for i := 0; i < batch; i++ {
		leaf := recordLeaf(&h, c.Features[i], c.Labels[i])
		root := merkleRoot(api, &h, leaf, c.Siblings[i], c.PathBits[i])
		api.AssertIsEqual(root, c.RootD)
	}

	// Gradient correctness: recompute the per-sample error and the summed
	// gradient from first principles.
	errs := make([]frontend.Variable, batch)
	for i := 0; i < batch; i++ {
		pred := frontend.Variable(0)
		for j := 0; j < dim; j++ {
			pred = api.Add(pred, api.Mul(c.Weights[j], c.Features[i][j]))
		}
		errs[i] = api.Sub(pred, api.Mul(c.Labels[i], utils.Precision))
	}

	divisor := batch * utils.Precision
	gradient := make([]frontend.Variable, dim)
	normSquared := frontend.Variable(0)

	for j := 0; j < dim; j++ {
		summed := frontend.Variable(0)
		for i := 0; i < batch; i++ {
			summed = api.Add(summed, api.Mul(errs[i], c.Features[i][j]))
		}

		// Mutually exclusive sign-magnitude pair, bounded so squares stay
		// far below the field modulus.
		api.AssertIsEqual(api.Mul(c.GradPos[j], c.GradNeg[j]), 0)
		rc.Check(c.GradPos[j], magBits)
		rc.Check(c.GradNeg[j], magBits)
		gradient[j] = api.Sub(c.GradPos[j], c.GradNeg[j])

		// Exact floor division: summed = gradient*divisor + remainder with
		// 0 <= remainder < divisor. The claimed gradient cannot drift from
		// the recomputed sum.
		api.AssertIsEqual(api.Add(api.Mul(gradient[j], divisor), c.Remainder[j]), summed)
		api.AssertIsLessOrEqual(c.Remainder[j], divisor-1)

		normSquared = api.Add(normSquared,
			api.Mul(c.GradPos[j], c.GradPos[j]),
			api.Mul(c.GradNeg[j], c.GradNeg[j]))
	}

	// Clipping soundness: the squared norm is recomputed above, never
	// accepted as an input.
	api.AssertIsLessOrEqual(normSquared, c.TauSquared)

	// Commitments: gradient bound to identity and round, weights bound to RootW.
	api.AssertIsEqual(gradientCommitment(&h, gradient, c.ClientID, c.Round), c.RootG)
	api.AssertIsEqual(vectorHash(&h, c.Weights), c.RootW)

	return nil
}
