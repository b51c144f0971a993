package circuits

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/rangecheck"
)

// BalanceCircuit proves that a dataset committed to RootD has exactly C1
// one-labels and C0 zero-labels, without revealing features or labels. Every
// record is tied to RootD through its own membership path, every label is
// constrained boolean, and the counts are recomputed in-circuit rather than
// trusted.
//
// The circuit is compiled for a fixed (N, depth, dim); a dataset of a different
// declared size must use a differently-parameterized instance.
type BalanceCircuit struct {
	ClientID frontend.Variable `gnark:",public"`
	RootD    frontend.Variable `gnark:",public"`
	N        frontend.Variable `gnark:",public"`
	C0       frontend.Variable `gnark:",public"`
	C1       frontend.Variable `gnark:",public"`

	Features [][]frontend.Variable
	Labels   []frontend.Variable
	Siblings [][]frontend.Variable
	PathBits [][]frontend.Variable
}

// NewBalanceCircuit allocates a circuit shell for n records of dimension dim
// in a depth-deep tree, for both compilation and witness assignment.
func NewBalanceCircuit(n, depth, dim int) *BalanceCircuit {
	c := &BalanceCircuit{
		Features: make([][]frontend.Variable, n),
		Labels:   make([]frontend.Variable, n),
		Siblings: make([][]frontend.Variable, n),
		PathBits: make([][]frontend.Variable, n),
	}
	for i := 0; i < n; i++ {
		c.Features[i] = make([]frontend.Variable, dim)
		c.Siblings[i] = make([]frontend.Variable, depth)
		c.PathBits[i] = make([]frontend.Variable, depth)
	}
	return c
}

func (c *BalanceCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	rc := rangecheck.New(api)
	rc.Check(c.ClientID, 64)

	ones := frontend.Variable(0)
	for i := range c.Labels {
		api.AssertIsBoolean(c.Labels[i])

		leaf := recordLeaf(&h, c.Features[i], c.Labels[i])
		root := merkleRoot(api, &h, leaf, c.Siblings[i], c.PathBits[i])
		api.AssertIsEqual(root, c.RootD)

		ones = api.Add(ones, c.Labels[i])
	}

	// N is fixed at compile time: the public claim must cover exactly the
	// records proved above, or C0 becomes a free input.
	api.AssertIsEqual(c.N, len(c.Labels))
	api.AssertIsEqual(ones, c.C1)
	api.AssertIsEqual(api.Add(c.C0, c.C1), c.N)
	return nil
}
