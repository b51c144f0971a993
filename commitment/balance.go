// Package commitment implements the dataset balance stage: binding a private
// dataset to a Merkle root and a public group-count pair, and assembling the
// statement and witness for the balance predicate.
package commitment

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zkfedlearn/zkfl/circuits"
	"github.com/zkfedlearn/zkfl/fieldhash"
	"github.com/zkfedlearn/zkfl/merkle"
	"github.com/zkfedlearn/zkfl/utils"
)

var (
	ErrLabelNotBoolean = errors.New("commitment: dataset label is not boolean")
	ErrCountMismatch   = errors.New("commitment: claimed group counts do not match the dataset")
)

// DatasetCommitment is the public output of the balance stage: the dataset
// root, its size and depth, and the group-count pair with c0+c1 = N.
type DatasetCommitment struct {
	RootD fr.Element
	N     int
	Depth int
	C0    int
	C1    int
}

// Commit hashes every record into a leaf, builds the dataset tree and counts
// the label groups. The count invariant is enforced here, not assumed: any
// non-boolean label is rejected.
func Commit(h *fieldhash.Hasher, records []utils.Record) (*DatasetCommitment, *merkle.Tree, error) {
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("commitment: empty dataset")
	}
	dim := len(records[0].Features)

	leaves := make([]fr.Element, len(records))
	c1 := 0
	for i, rec := range records {
		if rec.Label != 0 && rec.Label != 1 {
			return nil, nil, fmt.Errorf("%w: record %d has label %d", ErrLabelNotBoolean, i, rec.Label)
		}
		if len(rec.Features) != dim {
			return nil, nil, fmt.Errorf("commitment: record %d has %d features, want %d", i, len(rec.Features), dim)
		}
		if rec.Label == 1 {
			c1++
		}
		leaves[i] = h.RecordLeaf(rec.Features, rec.Label)
	}

	tree, err := merkle.Build(h, leaves, h.ZeroLeaf(dim))
	if err != nil {
		return nil, nil, err
	}

	return &DatasetCommitment{
		RootD: tree.Root(),
		N:     len(records),
		Depth: tree.Depth(),
		C0:    len(records) - c1,
		C1:    c1,
	}, tree, nil
}

// Statement is the public half of a balance proof.
type Statement struct {
	ClientID uint64
	RootD    fr.Element
	N        int
	C0       int
	C1       int
}

// NewStatement binds a client's claimed counts to its commitment. Claimed
// counts that disagree with the committed dataset are rejected up front so no
// doomed proof is attempted.
func NewStatement(clientID uint64, dc *DatasetCommitment, claimedC0, claimedC1 int) (Statement, error) {
	if claimedC0 != dc.C0 || claimedC1 != dc.C1 {
		return Statement{}, fmt.Errorf("%w: claimed (%d,%d), committed (%d,%d)",
			ErrCountMismatch, claimedC0, claimedC1, dc.C0, dc.C1)
	}
	return Statement{
		ClientID: clientID,
		RootD:    dc.RootD,
		N:        dc.N,
		C0:       dc.C0,
		C1:       dc.C1,
	}, nil
}

// PublicSignals returns the ordered public inputs of the balance predicate:
// client_id, root_D, N, c0, c1.
func (s Statement) PublicSignals() []*big.Int {
	return []*big.Int{
		new(big.Int).SetUint64(s.ClientID),
		s.RootD.BigInt(new(big.Int)),
		big.NewInt(int64(s.N)),
		big.NewInt(int64(s.C0)),
		big.NewInt(int64(s.C1)),
	}
}

// Assignment builds the full witness for the balance predicate: the statement
// plus every record and its membership proof.
func Assignment(records []utils.Record, tree *merkle.Tree, s Statement) (*circuits.BalanceCircuit, error) {
	if len(records) != tree.Len() {
		return nil, fmt.Errorf("commitment: %d records for a tree of %d leaves", len(records), tree.Len())
	}

	indices := make([]int, len(records))
	for i := range indices {
		indices[i] = i
	}
	proofs, err := tree.ProveBatch(indices)
	if err != nil {
		return nil, err
	}

	dim := len(records[0].Features)
	c := circuits.NewBalanceCircuit(len(records), tree.Depth(), dim)
	c.ClientID = s.ClientID
	c.RootD = s.RootD
	c.N = s.N
	c.C0 = s.C0
	c.C1 = s.C1

	for i, rec := range records {
		for j, f := range rec.Features {
			c.Features[i][j] = f
		}
		c.Labels[i] = rec.Label
		for lvl := 0; lvl < tree.Depth(); lvl++ {
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
