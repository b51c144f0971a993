// Package proofsys wraps the external proof system behind the
// prove/verify contract the protocol relies on. The backend is PLONK over
// BN254; completeness, soundness and zero-knowledge are assumed properties of
// that backend. Compiled predicates are cached on disk so repeated runs skip
// compilation and setup.
package proofsys

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/backend/witness"
	cs "github.com/consensys/gnark/constraint/bn254"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/test/unsafekzg"
	"github.com/rs/zerolog"
)

// PredicateID names one compiled predicate instance. Size parameters are part
// of the id: a dataset of a different declared size selects a different
// predicate, never silent truncation or padding.
type PredicateID string

func BalancePredicateID(n, depth, dim int) PredicateID {
	return PredicateID(fmt.Sprintf("balance-n%d-depth%d-dim%d", n, depth, dim))
}

func TrainingPredicateID(batch, depth, dim int) PredicateID {
	return PredicateID(fmt.Sprintf("training-b%d-depth%d-dim%d", batch, depth, dim))
}

func SecAggPredicateID(dim, peers int) PredicateID {
	return PredicateID(fmt.Sprintf("secagg-dim%d-peers%d", dim, peers))
}

// ProofPackage is the opaque (proof, publicSignals) pair a client submits. The
// signals are extracted from the proved public witness, so they cannot drift
// from what the proof actually attests to.
type ProofPackage struct {
	Proof         plonk.Proof
	PublicWitness witness.Witness
	PublicSignals []*big.Int
}

// System is the external proof system contract: synchronous, possibly
// long-running calls, no ordering requirement between clients.
type System interface {
	Prove(id PredicateID, assignment frontend.Circuit) (*ProofPackage, error)
	Verify(id PredicateID, pkg *ProofPackage) error
}

type predicate struct {
	ccs *cs.SparseR1CS
	pk  plonk.ProvingKey
	vk  plonk.VerifyingKey
}

// Plonk is the PLONK/BN254 implementation of System.
type Plonk struct {
	log      zerolog.Logger
	cacheDir string

	mu         sync.RWMutex
	predicates map[PredicateID]*predicate
}

// NewPlonk creates a proof system. If cacheDir is non-empty, compiled
// predicates are persisted there and reloaded on the next run.
func NewPlonk(log zerolog.Logger, cacheDir string) *Plonk {
	return &Plonk{
		log:        log.With().Str("component", "proofsys").Logger(),
		cacheDir:   cacheDir,
		predicates: make(map[PredicateID]*predicate),
	}
}

// Register compiles and sets up a predicate (or loads it from cache). It must
// be called once per predicate id before Prove or Verify.
func (p *Plonk) Register(id PredicateID, circuit frontend.Circuit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.predicates[id]; ok {
		return nil
	}

	if p.cacheDir != "" {
		if pred, err := p.loadPredicate(id); err == nil {
			p.log.Info().Str("predicate", string(id)).Msg("loaded predicate from cache")
			p.predicates[id] = pred
			return nil
		}
	}

	p.log.Info().Str("predicate", string(id)).Msg("compiling predicate")
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, circuit)
	if err != nil {
		return fmt.Errorf("proofsys: compiling %s: %w", id, err)
	}
	sparse := ccs.(*cs.SparseR1CS)

	srs, srsLagrange, err := unsafekzg.NewSRS(sparse)
	if err != nil {
		return fmt.Errorf("proofsys: building SRS for %s: %w", id, err)
	}
	pk, vk, err := plonk.Setup(ccs, srs, srsLagrange)
	if err != nil {
		return fmt.Errorf("proofsys: setup for %s: %w", id, err)
	}

	pred := &predicate{ccs: sparse, pk: pk, vk: vk}
	p.predicates[id] = pred
	p.log.Info().Str("predicate", string(id)).Int("constraints", sparse.GetNbConstraints()).Msg("predicate ready")

	if p.cacheDir != "" {
		if err := p.savePredicate(id, pred); err != nil {
			p.log.Warn().Err(err).Str("predicate", string(id)).Msg("failed to cache predicate")
		}
	}
	return nil
}

func (p *Plonk) get(id PredicateID) (*predicate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pred, ok := p.predicates[id]
	if !ok {
		return nil, fmt.Errorf("proofsys: predicate %s not registered", id)
	}
	return pred, nil
}

// Prove generates a proof for the assignment and extracts the ordered public
// signals from the public witness.
func (p *Plonk) Prove(id PredicateID, assignment frontend.Circuit) (*ProofPackage, error) {
	pred, err := p.get(id)
	if err != nil {
		return nil, err
	}

	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("proofsys: witness for %s: %w", id, err)
	}
	pub, err := full.Public()
	if err != nil {
		return nil, fmt.Errorf("proofsys: public witness for %s: %w", id, err)
	}

	proof, err := plonk.Prove(pred.ccs, pred.pk, full)
	if err != nil {
		return nil, fmt.Errorf("proofsys: proving %s: %w", id, err)
	}

	return &ProofPackage{
		Proof:         proof,
		PublicWitness: pub,
		PublicSignals: extractSignals(pub),
	}, nil
}

// Verify checks the proof against its public witness and that the advertised
// signals match the witness the proof was made for.
func (p *Plonk) Verify(id PredicateID, pkg *ProofPackage) error {
	pred, err := p.get(id)
	if err != nil {
		return err
	}

	advertised := extractSignals(pkg.PublicWitness)
	if len(advertised) != len(pkg.PublicSignals) {
		return fmt.Errorf("proofsys: %s: %d advertised signals, witness has %d", id, len(pkg.PublicSignals), len(advertised))
	}
	for i := range advertised {
		if advertised[i].Cmp(pkg.PublicSignals[i]) != 0 {
			return fmt.Errorf("proofsys: %s: public signal %d disagrees with the proved witness", id, i)
		}
	}

	if err := plonk.Verify(pkg.Proof, pred.vk, pkg.PublicWitness); err != nil {
		return fmt.Errorf("proofsys: verifying %s: %w", id, err)
	}
	return nil
}

func extractSignals(pub witness.Witness) []*big.Int {
	vec := pub.Vector().(fr.Vector)
	signals := make([]*big.Int, len(vec))
	for i := range vec {
		signals[i] = vec[i].BigInt(new(big.Int))
	}
	return signals
}

func (p *Plonk) cachePath(id PredicateID) string {
	return filepath.Join(p.cacheDir, string(id)+".cache")
}

// savePredicate persists CCS, proving key and verifying key in one file.
func (p *Plonk) savePredicate(id PredicateID, pred *predicate) error {
	file, err := os.Create(p.cachePath(id))
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := pred.ccs.WriteTo(file); err != nil {
		return err
	}
	if _, err := pred.pk.WriteTo(file); err != nil {
		return err
	}
	if _, err := pred.vk.WriteTo(file); err != nil {
		return err
	}
	return nil
}

func (p *Plonk) loadPredicate(id PredicateID) (*predicate, error) {
	file, err := os.Open(p.cachePath(id))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	ccs := &cs.SparseR1CS{}
	if _, err := ccs.ReadFrom(file); err != nil {
		return nil, err
	}
	pk := plonk.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(file); err != nil {
		return nil, err
	}
	vk := plonk.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(file); err != nil {
		return nil, err
	}
	return &predicate{ccs: ccs, pk: pk, vk: vk}, nil
}
