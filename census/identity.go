package census

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/anonvote-node/util"
)

// Identity is the secret of a member. Only its commitment is registered;
// the nullifier part derives the per proposal nullifier hash.
type Identity struct {
	Nullifier *big.Int
	Trapdoor  *big.Int
}

// NewIdentity generates a random identity.
func NewIdentity() (*Identity, error) {
	modulus := fr.Modulus()
	return &Identity{
		Nullifier: util.RandomFieldElement(modulus),
		Trapdoor:  util.RandomFieldElement(modulus),
	}, nil
}

// Commitment returns Poseidon(nullifier, trapdoor), the leaf registered in
// the membership tree.
func (id *Identity) Commitment() (*big.Int, error) {
	c, err := poseidon.Hash([]*big.Int{id.Nullifier, id.Trapdoor})
	if err != nil {
		return nil, fmt.Errorf("could not compute commitment: %w", err)
	}
	return c, nil
}

// NullifierHash returns Poseidon(externalNullifier, nullifier). The same
// identity always gets the same value for a given external nullifier.
func (id *Identity) NullifierHash(externalNullifier *big.Int) (*big.Int, error) {
	h, err := poseidon.Hash([]*big.Int{externalNullifier, id.Nullifier})
	if err != nil {
		return nil, fmt.Errorf("could not compute nullifier hash: %w", err)
	}
	return h, nil
}
