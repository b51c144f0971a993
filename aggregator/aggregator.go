// Package aggregator verifies each client's proof chain, enforces the
// cross-stage binding the circuits cannot express (circuits never reference
// each other), and reduces the verified masked updates to the round aggregate.
//
// The Round is single-writer: one goroutine submits and aggregates. Per-client
// verification work can be farmed out by the caller; the final reduction is
// commutative and associative, so partial sums merge in any order.
package aggregator

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/rs/zerolog"

	"github.com/zkfedlearn/zkfl/commitment"
	"github.com/zkfedlearn/zkfl/proofsys"
	"github.com/zkfedlearn/zkfl/secagg"
	"github.com/zkfedlearn/zkfl/training"
)

var (
	// ErrProofInvalid: the external verifier returned false. The client is
	// rejected; the round continues.
	ErrProofInvalid = errors.New("aggregator: proof verification failed")
	// ErrBindingViolation: a root differs across stages for the same
	// client and round.
	ErrBindingViolation = errors.New("aggregator: cross-stage binding violation")
	// ErrPublicSignalMismatch: a claimed public value disagrees with what
	// the aggregator independently expects.
	ErrPublicSignalMismatch = errors.New("aggregator: public signal mismatch")

	ErrUnknownClient = errors.New("aggregator: client not registered")
	ErrClientState   = errors.New("aggregator: submission out of order for client state")
)

// State is the per-client position in the round lifecycle. Rejected is
// terminal and never affects other clients.
type State int

const (
	Registered State = iota
	BalanceVerified
	TrainingVerified
	SecAggVerified
	Aggregated
	Rejected
)

func (s State) String() string {
	switch s {
	case Registered:
		return "Registered"
	case BalanceVerified:
		return "BalanceVerified"
	case TrainingVerified:
		return "TrainingVerified"
	case SecAggVerified:
		return "SecAggVerified"
	case Aggregated:
		return "Aggregated"
	case Rejected:
		return "Rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Flags is the per-round verification map entry for one client.
type Flags struct {
	BalanceOk  bool
	BindingOk  bool
	TrainingOk bool
	SecAggOk   bool
}

// Config fixes the values the aggregator expects every client to prove
// against. A client proving against a different threshold or round is
// rejected at submission, whatever its proof says.
type Config struct {
	Round       uint64
	TauSquared  uint64
	Dim         int
	DatasetSize int

	BalanceID  proofsys.PredicateID
	TrainingID proofsys.PredicateID
	SecAggID   proofsys.PredicateID
}

// BalanceSubmission and friends are the structured messages a client sends:
// the stage statement plus the opaque proof package.
type BalanceSubmission struct {
	commitment.Statement
	Proof *proofsys.ProofPackage
}

type TrainingSubmission struct {
	training.Statement
	Proof *proofsys.ProofPackage
}

type SecAggSubmission struct {
	secagg.Statement
	Proof *proofsys.ProofPackage
}

type clientRecord struct {
	state  State
	flags  Flags
	rootD  fr.Element
	rootG  fr.Element
	rootW  fr.Element
	masked []fr.Element
}

// Round holds the verification map and running aggregate for one round. It is
// created empty per round and dropped once the aggregate is finalized.
type Round struct {
	log     zerolog.Logger
	sys     proofsys.System
	cfg     Config
	clients map[uint64]*clientRecord
}

func NewRound(log zerolog.Logger, sys proofsys.System, cfg Config) *Round {
	return &Round{
		log:     log.With().Str("component", "aggregator").Uint64("round", cfg.Round).Logger(),
		sys:     sys,
		cfg:     cfg,
		clients: make(map[uint64]*clientRecord),
	}
}

// Register admits a client into the round.
func (r *Round) Register(clientID uint64) error {
	if _, ok := r.clients[clientID]; ok {
		return fmt.Errorf("aggregator: client %d already registered", clientID)
	}
	r.clients[clientID] = &clientRecord{state: Registered}
	return nil
}

func (r *Round) State(clientID uint64) State {
	if rec, ok := r.clients[clientID]; ok {
		return rec.state
	}
	return Rejected
}

func (r *Round) Flags(clientID uint64) Flags {
	if rec, ok := r.clients[clientID]; ok {
		return rec.flags
	}
	return Flags{}
}

// peersOf is the registered participant set minus the client, sorted ascending
// to match the order key material publishes. Masks were derived against the
// full round roster, so later rejections do not shrink the expected set.
func (r *Round) peersOf(clientID uint64) []uint64 {
	peers := make([]uint64, 0, len(r.clients)-1)
	for id := range r.clients {
		if id != clientID {
			peers = append(peers, id)
		}
	}
	sort.Slice(peers, func(a, b int) bool { return peers[a] < peers[b] })
	return peers
}

// reject is terminal for the client and fatal for nothing else.
func (r *Round) reject(clientID uint64, rec *clientRecord, err error) error {
	rec.state = Rejected
	r.log.Warn().Uint64("client", clientID).Err(err).Msg("client rejected")
	return err
}

// SubmitBalance verifies a client's balance proof and records root_D.
func (r *Round) SubmitBalance(sub BalanceSubmission) error {
	rec, ok := r.clients[sub.ClientID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownClient, sub.ClientID)
	}
	if rec.state != Registered {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: balance submitted in state %s", ErrClientState, rec.state))
	}

	if sub.N != r.cfg.DatasetSize {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: N=%d, expected %d", ErrPublicSignalMismatch, sub.N, r.cfg.DatasetSize))
	}
	if sub.C0+sub.C1 != sub.N {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: c0+c1=%d, N=%d", ErrPublicSignalMismatch, sub.C0+sub.C1, sub.N))
	}
	if err := signalsEqual(sub.Proof, sub.Statement.PublicSignals()); err != nil {
		return r.reject(sub.ClientID, rec, err)
	}
	if err := r.sys.Verify(r.cfg.BalanceID, sub.Proof); err != nil {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: %v", ErrProofInvalid, err))
	}

	rec.rootD = sub.RootD
	rec.flags.BalanceOk = true
	rec.state = BalanceVerified
	r.log.Info().Uint64("client", sub.ClientID).Msg("balance verified")
	return nil
}

// SubmitTraining verifies a client's training proof, checks that its root_D is
// the one the balance stage committed to, and records root_G and root_W.
func (r *Round) SubmitTraining(sub TrainingSubmission) error {
	rec, ok := r.clients[sub.ClientID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownClient, sub.ClientID)
	}
	if rec.state != BalanceVerified {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: training submitted in state %s", ErrClientState, rec.state))
	}

	if sub.Round != r.cfg.Round {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: round %d, expected %d", ErrPublicSignalMismatch, sub.Round, r.cfg.Round))
	}
	if sub.TauSquared != r.cfg.TauSquared {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: tauSquared %d, expected %d", ErrPublicSignalMismatch, sub.TauSquared, r.cfg.TauSquared))
	}
	if !sub.RootD.Equal(&rec.rootD) {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: training root_D differs from balance root_D", ErrBindingViolation))
	}
	rec.flags.BindingOk = true

	if err := signalsEqual(sub.Proof, sub.Statement.PublicSignals()); err != nil {
		return r.reject(sub.ClientID, rec, err)
	}
	if err := r.sys.Verify(r.cfg.TrainingID, sub.Proof); err != nil {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: %v", ErrProofInvalid, err))
	}

	rec.rootG = sub.RootG
	rec.rootW = sub.RootW
	rec.flags.TrainingOk = true
	rec.state = TrainingVerified
	r.log.Info().Uint64("client", sub.ClientID).Msg("training verified, binding checked")
	return nil
}

// SubmitSecAgg verifies a client's masking proof, checks root_G/root_W/root_D
// against the earlier stages, and stores the masked update.
func (r *Round) SubmitSecAgg(sub SecAggSubmission) error {
	rec, ok := r.clients[sub.ClientID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownClient, sub.ClientID)
	}
	if rec.state != TrainingVerified {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: secagg submitted in state %s", ErrClientState, rec.state))
	}

	if sub.Round != r.cfg.Round {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: round %d, expected %d", ErrPublicSignalMismatch, sub.Round, r.cfg.Round))
	}
	if sub.TauSquared != r.cfg.TauSquared {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: tauSquared %d, expected %d", ErrPublicSignalMismatch, sub.TauSquared, r.cfg.TauSquared))
	}
	if len(sub.MaskedUpdate) != r.cfg.Dim {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: masked update has dim %d, expected %d", ErrPublicSignalMismatch, len(sub.MaskedUpdate), r.cfg.Dim))
	}
	expectedPeers := r.peersOf(sub.ClientID)
	if len(sub.PeerIDs) != len(expectedPeers) {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: %d peers, round has %d", ErrPublicSignalMismatch, len(sub.PeerIDs), len(expectedPeers)))
	}
	for i := range expectedPeers {
		if sub.PeerIDs[i] != expectedPeers[i] {
			return r.reject(sub.ClientID, rec, fmt.Errorf("%w: peer %d is %d, round expects %d", ErrPublicSignalMismatch, i, sub.PeerIDs[i], expectedPeers[i]))
		}
	}
	if !sub.RootD.Equal(&rec.rootD) {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: secagg root_D differs from balance root_D", ErrBindingViolation))
	}
	if !sub.RootG.Equal(&rec.rootG) {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: secagg root_G differs from training root_G", ErrBindingViolation))
	}
	if !sub.RootW.Equal(&rec.rootW) {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: secagg root_W differs from training root_W", ErrBindingViolation))
	}

	if err := signalsEqual(sub.Proof, sub.Statement.PublicSignals()); err != nil {
		return r.reject(sub.ClientID, rec, err)
	}
	if err := r.sys.Verify(r.cfg.SecAggID, sub.Proof); err != nil {
		return r.reject(sub.ClientID, rec, fmt.Errorf("%w: %v", ErrProofInvalid, err))
	}

	rec.masked = sub.MaskedUpdate
	rec.flags.SecAggOk = true
	rec.state = SecAggVerified
	r.log.Info().Uint64("client", sub.ClientID).Msg("secagg verified")
	return nil
}

// Aggregate sums the masked updates of every fully verified client and returns
// the aggregate with the included client ids. Clients that never completed are
// simply absent (drop-if-missing): masks cancel only for pairs whose two
// endpoints are both included, so callers must treat an incomplete peer set as
// a partially masked sum. An empty verified set yields a nil aggregate.
func (r *Round) Aggregate() ([]fr.Element, []uint64) {
	var included []uint64
	var updates [][]fr.Element
	for id, rec := range r.clients {
		if rec.state != SecAggVerified {
			continue
		}
		included = append(included, id)
		updates = append(updates, rec.masked)
	}
	sort.Slice(included, func(a, b int) bool { return included[a] < included[b] })

	if len(included) == 0 {
		r.log.Info().Msg("no verified clients, aggregation is a no-op")
		return nil, nil
	}

	// Re-fetch in id order so shard merges are reproducible.
	updates = updates[:0]
	for _, id := range included {
		updates = append(updates, r.clients[id].masked)
		r.clients[id].state = Aggregated
	}

	sum := secagg.SumUpdates(updates)
	r.log.Info().Int("clients", len(included)).Msg("round aggregated")
	return sum, included
}

// signalsEqual checks the proof package's advertised signal list against the
// ordered values derived from the statement fields. Order matters: the binding
// checks read roots by position.
func signalsEqual(pkg *proofsys.ProofPackage, expected []*big.Int) error {
	if len(pkg.PublicSignals) != len(expected) {
		return fmt.Errorf("%w: %d signals, expected %d", ErrPublicSignalMismatch, len(pkg.PublicSignals), len(expected))
	}
	for i := range expected {
		if pkg.PublicSignals[i].Cmp(expected[i]) != 0 {
			return fmt.Errorf("%w: signal %d", ErrPublicSignalMismatch, i)
		}
	}
	return nil
}
