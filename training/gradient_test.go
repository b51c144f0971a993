package training

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zkfedlearn/zkfl/fieldhash"
	"github.com/zkfedlearn/zkfl/utils"
)

func TestDecomposeExample(t *testing.T) {
	grad := []int64{12, -7, 0, 5}
	d := Decompose(grad)

	require.Equal(t, []uint64{12, 0, 0, 5}, d.Pos)
	require.Equal(t, []uint64{0, 7, 0, 0}, d.Neg)
	require.NoError(t, d.Validate())
	require.Equal(t, grad, d.Gradient())

	// 144 + 49 + 0 + 25
	require.Equal(t, int64(218), d.NormSquared().Int64())
	require.NoError(t, d.CheckNorm(300))
	require.ErrorIs(t, d.CheckNorm(200), ErrNormExceeded)
}

func TestDecomposeRoundTripExhaustive(t *testing.T) {
	for v := int64(-50); v <= 50; v++ {
		d := Decompose([]int64{v})
		require.NoError(t, d.Validate())
		require.Equal(t, []int64{v}, d.Gradient())
	}
}

func TestMalformedDecompositionRejected(t *testing.T) {
	_, err := NewDecomposition([]uint64{3, 0}, []uint64{1, 0})
	require.ErrorIs(t, err, ErrMalformedDecomposition)

	_, err = NewDecomposition([]uint64{3}, []uint64{0, 0})
	require.Error(t, err)

	d, err := NewDecomposition([]uint64{3, 0}, []uint64{0, 4})
	require.NoError(t, err)
	require.Equal(t, []int64{3, -4}, d.Gradient())
}

func TestNormNeverTrusted(t *testing.T) {
	// The recomputed norm from the decomposition must equal the direct
	// sum of squares of the gradient, for any signed vector.
	grads := [][]int64{
		{0, 0, 0},
		{1, -1, 1},
		{-1000, 999, -5},
		{12, -7, 0, 5},
	}
	for _, grad := range grads {
		d := Decompose(grad)
		direct := new(big.Int)
		for _, g := range grad {
			sq := new(big.Int).SetInt64(g)
			direct.Add(direct, sq.Mul(sq, sq))
		}
		require.Zero(t, d.NormSquared().Cmp(direct))
	}
}

func TestGradientStepFloorDivision(t *testing.T) {
	// One-record batch, divisor = 1*Precision = 1000.
	// weights=[1000], features=[1000], label=1:
	// pred = 10^6, error = 10^6 - 1000 = 999000,
	// summed = 999000*1000 = 999*10^6 -> grad = 999000, remainder = 0.
	grad, rem, err := GradientStep([]int64{1000}, []utils.Record{{Features: []int64{1000}, Label: 1}})
	require.NoError(t, err)
	require.Equal(t, []int64{999000}, grad)
	require.Zero(t, rem[0].Sign(), "exact division leaves remainder 0")

	// Negative summed gradient: weights=[1], features=[1], label=1:
	// pred = 1, error = -999, summed = -999.
	// floor(-999/1000) = -1, remainder = 1: -1*1000 + 1 = -999.
	grad, rem, err = GradientStep([]int64{1}, []utils.Record{{Features: []int64{1}, Label: 1}})
	require.NoError(t, err)
	require.Equal(t, []int64{-1}, grad)
	require.Equal(t, int64(1), rem[0].Int64())
}

func TestGradientStepIdentity(t *testing.T) {
	weights := []int64{120, -340, 55}
	batch := []utils.Record{
		{Features: []int64{1000, -250, 90}, Label: 1},
		{Features: []int64{-400, 800, 130}, Label: 0},
		{Features: []int64{77, 3, -1000}, Label: 1},
	}
	grad, rem, err := GradientStep(weights, batch)
	require.NoError(t, err)

	divisor := big.NewInt(int64(len(batch)) * utils.Precision)
	for j := range weights {
		// Recompute summed_j from first principles.
		summed := new(big.Int)
		for _, rec := range batch {
			pred := new(big.Int)
			for k, w := range weights {
				pred.Add(pred, new(big.Int).Mul(big.NewInt(w), big.NewInt(rec.Features[k])))
			}
			pred.Sub(pred, big.NewInt(rec.Label*utils.Precision))
			summed.Add(summed, pred.Mul(pred, big.NewInt(rec.Features[j])))
		}

		// summed = grad*divisor + remainder with 0 <= remainder < divisor.
		recomposed := new(big.Int).Mul(big.NewInt(grad[j]), divisor)
		recomposed.Add(recomposed, rem[j])
		require.Zero(t, recomposed.Cmp(summed), "component %d", j)
		require.GreaterOrEqual(t, rem[j].Sign(), 0)
		require.Negative(t, rem[j].Cmp(divisor))
	}
}

func TestGradientCommitmentBindsIdentityAndRound(t *testing.T) {
	h := fieldhash.New()
	grad := []int64{12, -7, 0, 5}

	a := GradientCommitment(h, grad, 1, 1)
	b := GradientCommitment(h, grad, 1, 1)
	require.True(t, a.Equal(&b))

	otherClient := GradientCommitment(h, grad, 2, 1)
	require.False(t, a.Equal(&otherClient))
	otherRound := GradientCommitment(h, grad, 1, 2)
	require.False(t, a.Equal(&otherRound), "cross-round replay must change root_G")
}

func TestNewUpdatePrechecks(t *testing.T) {
	h := fieldhash.New()
	weights := []int64{500, -500}
	batch := []utils.Record{
		{Features: []int64{1000, 0}, Label: 0},
		{Features: []int64{0, 1000}, Label: 1},
	}

	upd, err := NewUpdate(h, 1, 1, weights, batch, 1<<60)
	require.NoError(t, err)
	require.NoError(t, upd.Decomp.Validate())
	require.Equal(t, upd.Decomp.Gradient(), upd.Grad)

	// A tiny bound trips the plaintext pre-check before any proving work.
	_, err = NewUpdate(h, 1, 1, weights, batch, 1)
	require.ErrorIs(t, err, ErrNormExceeded)
}

func TestApplyStep(t *testing.T) {
	weights := []int64{1000, -2000}
	grad := []int64{500, -500}
	// alpha = 0.1 in fixed point.
	next := ApplyStep(weights, grad, 100)
	require.Equal(t, []int64{950, -1950}, next)
}
