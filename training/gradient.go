// Package training implements the gradient-clipping stage: recomputing the
// batch gradient from first principles, decomposing it into the tagged
// sign-magnitude form, checking the clipping bound in plaintext before any
// proof is attempted, and committing gradient and weights.
package training

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkfedlearn/zkfl/fieldhash"
	"github.com/zkfedlearn/zkfl/utils"
)

var (
	ErrMalformedDecomposition = errors.New("training: sign-magnitude pair violates mutual exclusivity")
	ErrNormExceeded           = errors.New("training: squared gradient norm exceeds the clipping bound")
)

// Decomposition is the only accepted gradient representation: mutually
// exclusive positive and negative magnitudes with gradient = Pos - Neg.
type Decomposition struct {
	Pos []uint64
	Neg []uint64
}

// Decompose splits a signed gradient into its sign-magnitude form.
func Decompose(grad []int64) Decomposition {
	d := Decomposition{
		Pos: make([]uint64, len(grad)),
		Neg: make([]uint64, len(grad)),
	}
	for j, g := range grad {
		s := utils.NewSigned(g)
		if s.Neg {
			d.Neg[j] = s.Mag
		} else {
			d.Pos[j] = s.Mag
		}
	}
	return d
}

// NewDecomposition accepts an externally supplied pair, rejecting any index
// where both components are nonzero.
func NewDecomposition(pos, neg []uint64) (Decomposition, error) {
	if len(pos) != len(neg) {
		return Decomposition{}, fmt.Errorf("training: decomposition length mismatch %d vs %d", len(pos), len(neg))
	}
	d := Decomposition{Pos: pos, Neg: neg}
	if err := d.Validate(); err != nil {
		return Decomposition{}, err
	}
	return d, nil
}

// Validate checks mutual exclusivity at every index.
func (d Decomposition) Validate() error {
	for j := range d.Pos {
		if d.Pos[j] != 0 && d.Neg[j] != 0 {
			return fmt.Errorf("%w: index %d has pos=%d neg=%d", ErrMalformedDecomposition, j, d.Pos[j], d.Neg[j])
		}
	}
	return nil
}

// Gradient reassembles the signed vector.
func (d Decomposition) Gradient() []int64 {
	grad := make([]int64, len(d.Pos))
	for j := range grad {
		grad[j] = int64(d.Pos[j]) - int64(d.Neg[j])
	}
	return grad
}

// NormSquared recomputes the squared L2 norm from the decomposition. This is
// the value the circuit re-derives; it is never taken on trust.
func (d Decomposition) NormSquared() *big.Int {
	sum := new(big.Int)
	tmp := new(big.Int)
	for j := range d.Pos {
		tmp.SetUint64(d.Pos[j])
		sum.Add(sum, tmp.Mul(tmp, tmp))
		tmp.SetUint64(d.Neg[j])
		sum.Add(sum, tmp.Mul(tmp, tmp))
	}
	return sum
}

// CheckNorm is the plaintext pre-check for the clipping bound, run before
// proof generation so an unsatisfiable witness fails cheaply.
func (d Decomposition) CheckNorm(tauSquared uint64) error {
	norm := d.NormSquared()
	if norm.Cmp(new(big.Int).SetUint64(tauSquared)) > 0 {
		return fmt.Errorf("%w: norm^2=%s tau^2=%d", ErrNormExceeded, norm, tauSquared)
	}
	return nil
}

// GradientStep recomputes the summed gradient over the batch and its exact
// floor division by batchSize*Precision:
//
//	prediction_i = weights . features_i
//	error_i      = prediction_i - label_i*Precision
//	summed_j     = sum_i error_i * features_i[j]
//	summed_j     = grad_j*divisor + remainder_j,  0 <= remainder_j < divisor
//
// The returned remainders are the division witnesses the circuit checks.
func GradientStep(weights []int64, batch []utils.Record) (grad []int64, remainders []*big.Int, err error) {
	if len(batch) == 0 {
		return nil, nil, fmt.Errorf("training: empty batch")
	}
	dim := len(weights)
	for i, rec := range batch {
		if len(rec.Features) != dim {
			return nil, nil, fmt.Errorf("training: batch record %d has %d features, want %d", i, len(rec.Features), dim)
		}
	}

	errors := make([]*big.Int, len(batch))
	for i, rec := range batch {
		pred := new(big.Int)
		tmp := new(big.Int)
		for j := 0; j < dim; j++ {
			tmp.SetInt64(weights[j])
			tmp.Mul(tmp, big.NewInt(rec.Features[j]))
			pred.Add(pred, tmp)
		}
		pred.Sub(pred, big.NewInt(rec.Label*utils.Precision))
		errors[i] = pred
	}

	divisor := big.NewInt(int64(len(batch)) * utils.Precision)
	grad = make([]int64, dim)
	remainders = make([]*big.Int, dim)
	for j := 0; j < dim; j++ {
		summed := new(big.Int)
		tmp := new(big.Int)
		for i, rec := range batch {
			tmp.SetInt64(rec.Features[j])
			tmp.Mul(tmp, errors[i])
			summed.Add(summed, tmp)
		}

		// Euclidean DivMod gives 0 <= r < divisor, i.e. floor division for
		// a positive divisor, including negative summed values.
		q, r := new(big.Int).DivMod(summed, divisor, new(big.Int))
		if !q.IsInt64() {
			return nil, nil, fmt.Errorf("training: gradient component %d overflows int64", j)
		}
		grad[j] = q.Int64()
		remainders[j] = r
	}
	return grad, remainders, nil
}

// GradientCommitment binds a gradient to the client and the round:
// Hash(VectorHash(gradient), Hash(clientID, round)). Cross-round replay of the
// same gradient produces a different root.
func GradientCommitment(h *fieldhash.Hasher, grad []int64, clientID, round uint64) fr.Element {
	v := make([]fr.Element, len(grad))
	for j, g := range grad {
		v[j].SetInt64(g)
	}
	vg := h.VectorHash(v)
	idh := h.Hash(fieldhash.FromUint64(clientID), fieldhash.FromUint64(round))
	return h.Hash(vg, idh)
}

// WeightsCommitment is VectorHash over the private weight vector.
func WeightsCommitment(h *fieldhash.Hasher, weights []int64) fr.Element {
	v := make([]fr.Element, len(weights))
	for j, w := range weights {
		v[j].SetInt64(w)
	}
	return h.VectorHash(v)
}

// ApplyStep performs the post-round weight update w' = w - alpha*g/Precision,
// with alpha in fixed point. Host-side bookkeeping only; nothing here is
// proved.
func ApplyStep(weights, grad []int64, alpha int64) []int64 {
	next := make([]int64, len(weights))
	for j := range weights {
		next[j] = weights[j] - (alpha*grad[j])/utils.Precision
	}
	return next
}
