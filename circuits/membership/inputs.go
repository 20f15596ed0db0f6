package membership

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/types"
)

// NewAssignment builds the full witness of a vote: id proves membership
// through proof and binds signalHash to externalNullifier.
func NewAssignment(id *census.Identity, proof *census.MerkleProof,
	externalNullifier, signalHash *big.Int,
) (*Circuit, error) {
	if len(proof.Siblings) != len(proof.PathIndices) {
		return nil, fmt.Errorf("malformed merkle proof")
	}
	nullifierHash, err := id.NullifierHash(externalNullifier)
	if err != nil {
		return nil, err
	}
	c := NewCircuit(len(proof.Siblings))
	c.Root = proof.Root
	c.NullifierHash = nullifierHash
	c.SignalHash = signalHash
	c.ExternalNullifier = externalNullifier
	c.IdentityNullifier = id.Nullifier
	c.IdentityTrapdoor = id.Trapdoor
	for i := range proof.Siblings {
		c.PathIndices[i] = proof.PathIndices[i]
		c.Siblings[i] = proof.Siblings[i]
	}
	return c, nil
}

// PublicInputs returns the public inputs of an assignment in verifying key
// order.
func (c *Circuit) PublicInputs() []frontend.Variable {
	return []frontend.Variable{c.Root, c.NullifierHash, c.SignalHash, c.ExternalNullifier}
}

// PackProof converts a BN254 Groth16 proof into the packed eight element
// layout, with the imaginary part of each G2 coordinate first.
func PackProof(proof groth16.Proof) (types.Proof, error) {
	var packed types.Proof
	p, ok := proof.(*groth16_bn254.Proof)
	if !ok {
		return packed, fmt.Errorf("unexpected proof type %T", proof)
	}
	if len(p.Commitments) > 0 {
		return packed, fmt.Errorf("proofs with commitments are not supported")
	}
	elems := []*big.Int{
		p.Ar.X.BigInt(new(big.Int)), p.Ar.Y.BigInt(new(big.Int)),
		p.Bs.X.A1.BigInt(new(big.Int)), p.Bs.X.A0.BigInt(new(big.Int)),
		p.Bs.Y.A1.BigInt(new(big.Int)), p.Bs.Y.A0.BigInt(new(big.Int)),
		p.Krs.X.BigInt(new(big.Int)), p.Krs.Y.BigInt(new(big.Int)),
	}
	for i, e := range elems {
		packed[i] = new(types.BigInt).SetBigInt(e)
	}
	return packed, nil
}
