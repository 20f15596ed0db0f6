// Package testutil builds real census trees, identities and Groth16 proofs
// for tests. The circuit keys are generated once per test binary.
package testutil

import (
	"math/big"
	"sync"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/circuits/membership"
	"github.com/vocdoni/anonvote-node/types"
)

// TreeDepth is the membership tree depth used by tests. It keeps the
// circuit small enough to setup and prove in a few seconds.
const TreeDepth = 10

// CircuitKeys holds the compiled membership circuit and its keys.
type CircuitKeys struct {
	CCS constraint.ConstraintSystem
	PK  groth16.ProvingKey
	VK  *groth16_bn254.VerifyingKey
}

var (
	keysOnce sync.Once
	keys     *CircuitKeys
	keysErr  error
)

// Keys returns the circuit keys for TreeDepth, compiling the circuit and
// running the setup the first time it is called.
func Keys(tb testing.TB) *CircuitKeys {
	tb.Helper()
	keysOnce.Do(func() {
		ccs, err := membership.Compile(TreeDepth)
		if err != nil {
			keysErr = err
			return
		}
		pk, vk, err := membership.Setup(ccs)
		if err != nil {
			keysErr = err
			return
		}
		keys = &CircuitKeys{CCS: ccs, PK: pk, VK: vk.(*groth16_bn254.VerifyingKey)}
	})
	if keysErr != nil {
		tb.Fatalf("could not generate circuit keys: %v", keysErr)
	}
	return keys
}

// Census is a membership tree together with the identities of its members.
type Census struct {
	Tree       *census.Tree
	Identities []*census.Identity
}

// NewCensus creates a tree of TreeDepth with n random members.
func NewCensus(tb testing.TB, n int) *Census {
	tb.Helper()
	tree, err := census.New(TreeDepth)
	if err != nil {
		tb.Fatal(err)
	}
	c := &Census{Tree: tree}
	for range n {
		c.AddMember(tb)
	}
	return c
}

// AddMember registers a new random identity and returns its index.
func (c *Census) AddMember(tb testing.TB) int {
	tb.Helper()
	id, err := census.NewIdentity()
	if err != nil {
		tb.Fatal(err)
	}
	commitment, err := id.Commitment()
	if err != nil {
		tb.Fatal(err)
	}
	if _, err := c.Tree.Add(commitment); err != nil {
		tb.Fatal(err)
	}
	c.Identities = append(c.Identities, id)
	return len(c.Identities) - 1
}

// Commitments returns the commitments of all members in insertion order.
func (c *Census) Commitments(tb testing.TB) []*big.Int {
	tb.Helper()
	out := make([]*big.Int, len(c.Identities))
	for i, id := range c.Identities {
		commitment, err := id.Commitment()
		if err != nil {
			tb.Fatal(err)
		}
		out[i] = commitment
	}
	return out
}

// Proof is a packed membership proof with its public signals.
type Proof struct {
	Proof             types.Proof
	Root              *types.BigInt
	NullifierHash     *types.BigInt
	SignalHash        *types.BigInt
	ExternalNullifier *types.BigInt
}

// Prove generates a proof that member idx signals signalHash for
// externalNullifier, against the current root of the tree.
func (c *Census) Prove(tb testing.TB, idx int, externalNullifier, signalHash *big.Int) *Proof {
	tb.Helper()
	k := Keys(tb)
	mproof, err := c.Tree.Proof(uint64(idx))
	if err != nil {
		tb.Fatal(err)
	}
	assignment, err := membership.NewAssignment(c.Identities[idx], mproof, externalNullifier, signalHash)
	if err != nil {
		tb.Fatal(err)
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		tb.Fatal(err)
	}
	proof, err := groth16.Prove(k.CCS, k.PK, w)
	if err != nil {
		tb.Fatalf("could not prove: %v", err)
	}
	packed, err := membership.PackProof(proof)
	if err != nil {
		tb.Fatal(err)
	}
	return &Proof{
		Proof:             packed,
		Root:              new(types.BigInt).SetBigInt(mproof.Root),
		NullifierHash:     new(types.BigInt).SetBigInt(assignment.NullifierHash.(*big.Int)),
		SignalHash:        new(types.BigInt).SetBigInt(signalHash),
		ExternalNullifier: new(types.BigInt).SetBigInt(externalNullifier),
	}
}
