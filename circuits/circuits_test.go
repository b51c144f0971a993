package circuits_test

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"

	"github.com/zkfedlearn/zkfl/circuits"
	"github.com/zkfedlearn/zkfl/commitment"
	"github.com/zkfedlearn/zkfl/fieldhash"
	"github.com/zkfedlearn/zkfl/merkle"
	"github.com/zkfedlearn/zkfl/secagg"
	"github.com/zkfedlearn/zkfl/training"
	"github.com/zkfedlearn/zkfl/utils"
)

const (
	testN     = 4
	testDepth = 2
	testDim   = 2
	testBatch = 2
)

func testDataset() []utils.Record {
	return []utils.Record{
		{Features: []int64{1000, -250}, Label: 1},
		{Features: []int64{-400, 800}, Label: 0},
		{Features: []int64{77, 3}, Label: 1},
		{Features: []int64{-90, -90}, Label: 0},
	}
}

func commitTestDataset(t *testing.T, h *fieldhash.Hasher) (*commitment.DatasetCommitment, *merkle.Tree, []utils.Record) {
	t.Helper()
	records := testDataset()
	dc, tree, err := commitment.Commit(h, records)
	require.NoError(t, err)
	require.Equal(t, testDepth, dc.Depth)
	return dc, tree, records
}

func TestBalanceCircuitSolved(t *testing.T) {
	h := fieldhash.New()
	dc, tree, records := commitTestDataset(t, h)

	stmt, err := commitment.NewStatement(1, dc, dc.C0, dc.C1)
	require.NoError(t, err)
	assign, err := commitment.Assignment(records, tree, stmt)
	require.NoError(t, err)

	err = test.IsSolved(circuits.NewBalanceCircuit(testN, testDepth, testDim), assign, ecc.BN254.ScalarField())
	require.NoError(t, err)
}

func TestBalanceCircuitRejectsWrongCounts(t *testing.T) {
	h := fieldhash.New()
	dc, tree, records := commitTestDataset(t, h)

	stmt, err := commitment.NewStatement(1, dc, dc.C0, dc.C1)
	require.NoError(t, err)
	assign, err := commitment.Assignment(records, tree, stmt)
	require.NoError(t, err)

	// Claim one extra 1-label while keeping c0+c1 = N.
	assign.C1 = dc.C1 + 1
	assign.C0 = dc.C0 - 1
	err = test.IsSolved(circuits.NewBalanceCircuit(testN, testDepth, testDim), assign, ecc.BN254.ScalarField())
	require.Error(t, err)
}

func TestBalanceCircuitRejectsInflatedSize(t *testing.T) {
	h := fieldhash.New()
	dc, tree, records := commitTestDataset(t, h)

	stmt, err := commitment.NewStatement(1, dc, dc.C0, dc.C1)
	require.NoError(t, err)
	assign, err := commitment.Assignment(records, tree, stmt)
	require.NoError(t, err)

	// c0+c1 = N still holds, but N no longer equals the number of records
	// actually proved. C0 must not be a free public input.
	assign.N = 100
	assign.C0 = 98
	err = test.IsSolved(circuits.NewBalanceCircuit(testN, testDepth, testDim), assign, ecc.BN254.ScalarField())
	require.Error(t, err)
}

func buildTrainingAssignment(t *testing.T, h *fieldhash.Hasher) (*circuits.TrainingCircuit, *training.Update, training.Statement) {
	t.Helper()
	dc, tree, records := commitTestDataset(t, h)

	weights := []int64{300, -200}
	batch := records[:testBatch]

	upd, err := training.NewUpdate(h, 1, 1, weights, batch, 1<<60)
	require.NoError(t, err)

	proofs, err := tree.ProveBatch([]int{0, 1})
	require.NoError(t, err)

	stmt := training.Statement{
		ClientID:   1,
		Round:      1,
		RootD:      dc.RootD,
		RootG:      upd.RootG,
		RootW:      upd.RootW,
		TauSquared: 1 << 60,
	}
	assign, err := training.Assignment(upd, stmt, weights, batch, proofs)
	require.NoError(t, err)
	return assign, upd, stmt
}

func TestTrainingCircuitSolved(t *testing.T) {
	h := fieldhash.New()
	assign, _, _ := buildTrainingAssignment(t, h)

	err := test.IsSolved(circuits.NewTrainingCircuit(testBatch, testDepth, testDim), assign, ecc.BN254.ScalarField())
	require.NoError(t, err)
}

func TestTrainingCircuitRejectsForeignRoot(t *testing.T) {
	h := fieldhash.New()
	assign, _, _ := buildTrainingAssignment(t, h)

	// A root the membership paths do not hash to.
	assign.RootD = 12345
	err := test.IsSolved(circuits.NewTrainingCircuit(testBatch, testDepth, testDim), assign, ecc.BN254.ScalarField())
	require.Error(t, err)
}

func TestTrainingCircuitRejectsMalformedDecomposition(t *testing.T) {
	h := fieldhash.New()
	assign, upd, _ := buildTrainingAssignment(t, h)

	// Force both components nonzero at an index: the mutual-exclusivity
	// constraint must make the witness unsatisfiable.
	j := 0
	for k, p := range upd.Decomp.Pos {
		if p != 0 {
			j = k
			break
		}
	}
	assign.GradNeg[j] = 1
	err := test.IsSolved(circuits.NewTrainingCircuit(testBatch, testDepth, testDim), assign, ecc.BN254.ScalarField())
	require.Error(t, err)
}

func TestTrainingCircuitRejectsNormOverBound(t *testing.T) {
	h := fieldhash.New()
	assign, upd, _ := buildTrainingAssignment(t, h)

	// Public bound below the recomputed norm: the prover cannot supply a
	// smaller norm because the circuit re-derives it from the decomposition.
	norm := upd.Decomp.NormSquared()
	require.True(t, norm.Sign() > 0)
	assign.TauSquared = 0
	err := test.IsSolved(circuits.NewTrainingCircuit(testBatch, testDepth, testDim), assign, ecc.BN254.ScalarField())
	require.Error(t, err)
}

func buildSecAggAssignment(t *testing.T, h *fieldhash.Hasher) (*circuits.SecAggCircuit, secagg.Statement) {
	t.Helper()
	dc, _, records := commitTestDataset(t, h)

	weights := []int64{300, -200}
	batch := records[:testBatch]
	upd, err := training.NewUpdate(h, 1, 1, weights, batch, 1<<60)
	require.NoError(t, err)

	pk, err := secagg.NewPairwiseKeys([]uint64{1, 2, 3})
	require.NoError(t, err)
	km, err := secagg.NewKeyMaterial(1, []uint64{2, 3}, pk)
	require.NoError(t, err)

	stmt := secagg.Statement{
		ClientID:     1,
		Round:        1,
		RootD:        dc.RootD,
		RootG:        upd.RootG,
		RootW:        upd.RootW,
		RootK:        km.Commitment(h),
		TauSquared:   1 << 60,
		MaskedUpdate: secagg.MaskedUpdate(h, upd.Grad, 1, km),
		PeerIDs:      km.PeerIDs,
	}
	assign, err := secagg.Assignment(stmt, upd.Decomp, weights, km)
	require.NoError(t, err)
	return assign, stmt
}

func TestSecAggCircuitSolved(t *testing.T) {
	h := fieldhash.New()
	assign, _ := buildSecAggAssignment(t, h)

	err := test.IsSolved(circuits.NewSecAggCircuit(testDim, 2), assign, ecc.BN254.ScalarField())
	require.NoError(t, err)
}

func TestSecAggCircuitRejectsTamperedUpdate(t *testing.T) {
	h := fieldhash.New()
	assign, _ := buildSecAggAssignment(t, h)

	// Shift one component of the claimed masked update.
	assign.MaskedUpdate[0] = 999
	err := test.IsSolved(circuits.NewSecAggCircuit(testDim, 2), assign, ecc.BN254.ScalarField())
	require.Error(t, err)
}

func TestSecAggCircuitRejectsForeignKeyCommitment(t *testing.T) {
	h := fieldhash.New()
	assign, _ := buildSecAggAssignment(t, h)

	assign.RootK = 5555
	err := test.IsSolved(circuits.NewSecAggCircuit(testDim, 2), assign, ecc.BN254.ScalarField())
	require.Error(t, err)
}
