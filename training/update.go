package training

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkfedlearn/zkfl/circuits"
	"github.com/zkfedlearn/zkfl/fieldhash"
	"github.com/zkfedlearn/zkfl/merkle"
	"github.com/zkfedlearn/zkfl/utils"
)

// Statement is the public half of a training proof. Its signal order is
// client_id, round, root_D, root_G, root_W, tauSquared.
type Statement struct {
	ClientID   uint64
	Round      uint64
	RootD      fr.Element
	RootG      fr.Element
	RootW      fr.Element
	TauSquared uint64
}

func (s Statement) PublicSignals() []*big.Int {
	return []*big.Int{
		new(big.Int).SetUint64(s.ClientID),
		new(big.Int).SetUint64(s.Round),
		s.RootD.BigInt(new(big.Int)),
		s.RootG.BigInt(new(big.Int)),
		s.RootW.BigInt(new(big.Int)),
		new(big.Int).SetUint64(s.TauSquared),
	}
}

// Update carries everything the client derives for one training step: the
// recomputed gradient, its decomposition, the division witnesses and the two
// commitments.
type Update struct {
	Grad       []int64
	Decomp     Decomposition
	Remainders []*big.Int
	RootG      fr.Element
	RootW      fr.Element
}

// NewUpdate runs the full client-side training stage: gradient recomputation,
// decomposition, plaintext clipping pre-check and commitment derivation. A
// gradient over the bound fails here, before any proving work is spent.
func NewUpdate(h *fieldhash.Hasher, clientID, round uint64, weights []int64, batch []utils.Record, tauSquared uint64) (*Update, error) {
	grad, remainders, err := GradientStep(weights, batch)
	if err != nil {
		return nil, err
	}

	d := Decompose(grad)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := d.CheckNorm(tauSquared); err != nil {
		return nil, err
	}

	return &Update{
		Grad:       grad,
		Decomp:     d,
		Remainders: remainders,
		RootG:      GradientCommitment(h, grad, clientID, round),
		RootW:      WeightsCommitment(h, weights),
	}, nil
}

// Assignment builds the full witness for the training predicate.
func Assignment(u *Update, s Statement, weights []int64, batch []utils.Record, proofs []merkle.Proof) (*circuits.TrainingCircuit, error) {
	if len(proofs) != len(batch) {
		return nil, fmt.Errorf("training: %d membership proofs for a batch of %d", len(proofs), len(batch))
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("training: empty batch")
	}

	dim := len(weights)
	depth := len(proofs[0].Siblings)
	c := circuits.NewTrainingCircuit(len(batch), depth, dim)

	c.ClientID = s.ClientID
	c.Round = s.Round
	c.RootD = s.RootD
	c.RootG = s.RootG
	c.RootW = s.RootW
	c.TauSquared = s.TauSquared

	for j := 0; j < dim; j++ {
		c.Weights[j] = weights[j]
		c.GradPos[j] = u.Decomp.Pos[j]
		c.GradNeg[j] = u.Decomp.Neg[j]
		c.Remainder[j] = u.Remainders[j]
	}
	for i, rec := range batch {
		for j, f := range rec.Features {
			c.Features[i][j] = f
		}
		c.Labels[i] = rec.Label
		for lvl := 0; lvl < depth; lvl++ {
			c.Siblings[i][lvl] = proofs[i].Siblings[lvl]
			if proofs[i].PathBits[lvl] {
				c.PathBits[i][lvl] = 1
			} else {
				c.PathBits[i][lvl] = 0
			}
		}
	}
	return c, nil
}
