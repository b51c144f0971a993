// Package simulation wires the full protocol together: per-client pipelines
// (dataset commitment, training proof, masked update) running in parallel, and
// a coordinator that verifies, binds and aggregates.
package simulation

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zkfedlearn/zkfl/aggregator"
	"github.com/zkfedlearn/zkfl/circuits"
	"github.com/zkfedlearn/zkfl/commitment"
	"github.com/zkfedlearn/zkfl/fieldhash"
	"github.com/zkfedlearn/zkfl/proofsys"
	"github.com/zkfedlearn/zkfl/secagg"
	"github.com/zkfedlearn/zkfl/training"
	"github.com/zkfedlearn/zkfl/utils"
)

// Params fixes one round's shape. Predicate instances are compiled for exactly
// these sizes.
type Params struct {
	Round       uint64
	NumClients  int
	DatasetSize int
	Dim         int
	BatchSize   int
	TauSquared  uint64
	CacheDir    string
}

// Scenario injects the failure cases the protocol must survive: a client that
// drops before the secagg stage, and a client whose training stage commits a
// different dataset than its balance stage.
type Scenario struct {
	DropClient          uint64
	TamperBindingClient uint64
}

// Network runs rounds against one proof system instance.
type Network struct {
	log    zerolog.Logger
	params Params
	hasher *fieldhash.Hasher
	sys    *proofsys.Plonk

	balanceID  proofsys.PredicateID
	trainingID proofsys.PredicateID
	secaggID   proofsys.PredicateID
	depth      int
}

func NewNetwork(log zerolog.Logger, params Params) *Network {
	return &Network{
		log:    log.With().Str("component", "simulation").Logger(),
		params: params,
		hasher: fieldhash.New(),
		sys:    proofsys.NewPlonk(log, params.CacheDir),
	}
}

// treeDepth is the depth of a tree padded to the next power of two.
func treeDepth(n int) int {
	depth := 0
	size := 1
	for size < n {
		size *= 2
		depth++
	}
	return depth
}

// Setup compiles (or loads from cache) the three predicates for the configured
// sizes. This is the long-running, once-per-parameterization step.
func (n *Network) Setup() error {
	p := n.params
	n.depth = treeDepth(p.DatasetSize)
	n.balanceID = proofsys.BalancePredicateID(p.DatasetSize, n.depth, p.Dim)
	n.trainingID = proofsys.TrainingPredicateID(p.BatchSize, n.depth, p.Dim)
	n.secaggID = proofsys.SecAggPredicateID(p.Dim, p.NumClients-1)

	if err := n.sys.Register(n.balanceID, circuits.NewBalanceCircuit(p.DatasetSize, n.depth, p.Dim)); err != nil {
		return err
	}
	if err := n.sys.Register(n.trainingID, circuits.NewTrainingCircuit(p.BatchSize, n.depth, p.Dim)); err != nil {
		return err
	}
	return n.sys.Register(n.secaggID, circuits.NewSecAggCircuit(p.Dim, p.NumClients-1))
}

// clientRun is everything one client produces in a round, plus the raw
// gradient so the simulation can check mask cancellation against ground truth.
type clientRun struct {
	balance  aggregator.BalanceSubmission
	training aggregator.TrainingSubmission
	secagg   aggregator.SecAggSubmission
	grad     []int64
}

// runClient executes the sequential per-client pipeline:
// dataset -> balance proof -> gradient -> training proof -> mask -> secagg proof.
func (n *Network) runClient(clientID uint64, peers []uint64, keys *secagg.PairwiseKeys, tamperBinding bool) (*clientRun, error) {
	p := n.params
	h := n.hasher

	records := utils.SyntheticDataset(p.DatasetSize, p.Dim, int64(clientID))
	weights := clientWeights(clientID, p.Dim)

	// Stage A: balance.
	dc, tree, err := commitment.Commit(h, records)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", clientID, err)
	}
	balStmt, err := commitment.NewStatement(clientID, dc, dc.C0, dc.C1)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", clientID, err)
	}
	balAssign, err := commitment.Assignment(records, tree, balStmt)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", clientID, err)
	}
	balPkg, err := n.sys.Prove(n.balanceID, balAssign)
	if err != nil {
		return nil, fmt.Errorf("client %d: balance proof: %w", clientID, err)
	}

	// Stage B: training. A tampered client trains against a dataset that
	// differs in one record, so its training root_D diverges from the
	// balance root_D while its membership paths stay internally valid.
	trainRecords, trainTree, trainRootD := records, tree, dc.RootD
	if tamperBinding {
		mod := make([]utils.Record, len(records))
		for i := range records {
			features := make([]int64, len(records[i].Features))
			copy(features, records[i].Features)
			mod[i] = utils.Record{Features: features, Label: records[i].Label}
		}
		mod[0].Features[0]++
		dc2, tree2, err := commitment.Commit(h, mod)
		if err != nil {
			return nil, fmt.Errorf("client %d: %w", clientID, err)
		}
		trainRecords, trainTree, trainRootD = mod, tree2, dc2.RootD
	}

	batch := trainRecords[:p.BatchSize]
	batchIndices := make([]int, p.BatchSize)
	for i := range batchIndices {
		batchIndices[i] = i
	}
	upd, err := training.NewUpdate(h, clientID, p.Round, weights, batch, p.TauSquared)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", clientID, err)
	}
	memberProofs, err := trainTree.ProveBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", clientID, err)
	}
	trainStmt := training.Statement{
		ClientID:   clientID,
		Round:      p.Round,
		RootD:      trainRootD,
		RootG:      upd.RootG,
		RootW:      upd.RootW,
		TauSquared: p.TauSquared,
	}
	trainAssign, err := training.Assignment(upd, trainStmt, weights, batch, memberProofs)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", clientID, err)
	}
	trainPkg, err := n.sys.Prove(n.trainingID, trainAssign)
	if err != nil {
		return nil, fmt.Errorf("client %d: training proof: %w", clientID, err)
	}

	// Stage C: secure aggregation.
	km, err := secagg.NewKeyMaterial(clientID, peers, keys)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", clientID, err)
	}
	masked := secagg.MaskedUpdate(h, upd.Grad, p.Round, km)
	saStmt := secagg.Statement{
		ClientID:     clientID,
		Round:        p.Round,
		RootD:        trainRootD,
		RootG:        upd.RootG,
		RootW:        upd.RootW,
		RootK:        km.Commitment(h),
		TauSquared:   p.TauSquared,
		MaskedUpdate: masked,
		PeerIDs:      km.PeerIDs,
	}
	saAssign, err := secagg.Assignment(saStmt, upd.Decomp, weights, km)
	if err != nil {
		return nil, fmt.Errorf("client %d: %w", clientID, err)
	}
	saPkg, err := n.sys.Prove(n.secaggID, saAssign)
	if err != nil {
		return nil, fmt.Errorf("client %d: secagg proof: %w", clientID, err)
	}

	return &clientRun{
		balance:  aggregator.BalanceSubmission{Statement: balStmt, Proof: balPkg},
		training: aggregator.TrainingSubmission{Statement: trainStmt, Proof: trainPkg},
		secagg:   aggregator.SecAggSubmission{Statement: saStmt, Proof: saPkg},
		grad:     upd.Grad,
	}, nil
}

// RunRound executes one full round: parallel client pipelines, then the
// single-writer aggregator consuming their submissions. Per-client failures
// are local; the round always completes with whatever verified subset exists.
func (n *Network) RunRound(scenario Scenario) ([]fr.Element, []uint64, error) {
	p := n.params

	ids := make([]uint64, p.NumClients)
	for i := range ids {
		ids[i] = uint64(i + 1)
	}
	keys, err := secagg.NewPairwiseKeys(ids)
	if err != nil {
		return nil, nil, err
	}

	// Per-client pipeline failures are local: a client that cannot produce
	// its proofs is simply absent from the round, like a dropout.
	runs := make([]*clientRun, p.NumClients)
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			peers := make([]uint64, 0, len(ids)-1)
			for _, other := range ids {
				if other != id {
					peers = append(peers, other)
				}
			}
			run, err := n.runClient(id, peers, keys, id == scenario.TamperBindingClient)
			if err != nil {
				n.log.Warn().Uint64("client", id).Err(err).Msg("client pipeline failed")
				return nil
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	round := aggregator.NewRound(n.log, n.sys, aggregator.Config{
		Round:       p.Round,
		TauSquared:  p.TauSquared,
		Dim:         p.Dim,
		DatasetSize: p.DatasetSize,
		BalanceID:   n.balanceID,
		TrainingID:  n.trainingID,
		SecAggID:    n.secaggID,
	})
	for _, id := range ids {
		if err := round.Register(id); err != nil {
			return nil, nil, err
		}
	}

	for i, id := range ids {
		run := runs[i]
		if run == nil {
			continue
		}
		if err := round.SubmitBalance(run.balance); err != nil {
			n.log.Warn().Uint64("client", id).Err(err).Msg("balance rejected")
			continue
		}
		if err := round.SubmitTraining(run.training); err != nil {
			n.log.Warn().Uint64("client", id).Err(err).Msg("training rejected")
			continue
		}
		if id == scenario.DropClient {
			n.log.Info().Uint64("client", id).Msg("client dropped before secagg")
			continue
		}
		if err := round.SubmitSecAgg(run.secagg); err != nil {
			n.log.Warn().Uint64("client", id).Err(err).Msg("secagg rejected")
		}
	}

	sum, included := round.Aggregate()

	// With the full client set verified, pairwise masks cancel exactly and
	// the aggregate equals the raw gradient sum.
	if len(included) == p.NumClients {
		expected := make([][]fr.Element, len(runs))
		for i, run := range runs {
			v := make([]fr.Element, len(run.grad))
			for k, gval := range run.grad {
				v[k].SetInt64(gval)
			}
			expected[i] = v
		}
		want := secagg.SumUpdates(expected)
		match := true
		for k := range sum {
			if !sum[k].Equal(&want[k]) {
				match = false
				break
			}
		}
		n.log.Info().Bool("masksCancelled", match).Msg("aggregate checked against raw gradient sum")
	}

	return sum, included, nil
}

// clientWeights derives a deterministic small weight vector per client.
func clientWeights(clientID uint64, dim int) []int64 {
	weights := make([]int64, dim)
	for j := range weights {
		weights[j] = int64((clientID*31+uint64(j)*17)%97) - 48
	}
	return weights
}
