// Package membership defines the Groth16 circuit that proves membership of
// an identity commitment in the census tree, bound to an external nullifier
// and a signal, without revealing the leaf.
package membership

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/gnark-crypto-primitives/hash/bn254/poseidon"
)

// NumPublicInputs is the number of public inputs of the circuit, which is
// the number of IC points of its verifying key minus one.
const NumPublicInputs = 4

// Circuit is the membership circuit. The public inputs are, in order, Root,
// NullifierHash, SignalHash and ExternalNullifier. PathIndices and Siblings
// must have the length of the tree depth; use NewCircuit to build the
// placeholder.
type Circuit struct {
	Root              frontend.Variable `gnark:",public"`
	NullifierHash     frontend.Variable `gnark:",public"`
	SignalHash        frontend.Variable `gnark:",public"`
	ExternalNullifier frontend.Variable `gnark:",public"`

	IdentityNullifier frontend.Variable
	IdentityTrapdoor  frontend.Variable
	PathIndices       []frontend.Variable
	Siblings          []frontend.Variable
}

// NewCircuit returns an empty circuit for a tree of the given depth.
func NewCircuit(depth int) *Circuit {
	return &Circuit{
		PathIndices: make([]frontend.Variable, depth),
		Siblings:    make([]frontend.Variable, depth),
	}
}

func (c *Circuit) Define(api frontend.API) error {
	if len(c.PathIndices) != len(c.Siblings) {
		return fmt.Errorf("path indices and siblings length mismatch: %d != %d",
			len(c.PathIndices), len(c.Siblings))
	}
	commitment, err := poseidon.MultiHash(api, c.IdentityNullifier, c.IdentityTrapdoor)
	if err != nil {
		return fmt.Errorf("commitment: %w", err)
	}
	node := commitment
	for i, sibling := range c.Siblings {
		api.AssertIsBoolean(c.PathIndices[i])
		left := api.Select(c.PathIndices[i], sibling, node)
		right := api.Select(c.PathIndices[i], node, sibling)
		if node, err = poseidon.MultiHash(api, left, right); err != nil {
			return fmt.Errorf("level %d: %w", i, err)
		}
	}
	api.AssertIsEqual(node, c.Root)

	nullifierHash, err := poseidon.MultiHash(api, c.ExternalNullifier, c.IdentityNullifier)
	if err != nil {
		return fmt.Errorf("nullifier hash: %w", err)
	}
	api.AssertIsEqual(nullifierHash, c.NullifierHash)

	// squaring adds a constraint on the signal so that the proof cannot be
	// replayed with another one
	api.Mul(c.SignalHash, c.SignalHash)
	return nil
}
