package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MaxOptions bounds the options of a proposal so that an option index fits
// in the uint8 encoded into the vote signal.
const MaxOptions = 256

// ProofSize is the number of field elements of a packed Groth16 proof.
const ProofSize = 8

// Proof is a Groth16 proof packed as eight base field elements in the order
// used by EVM verifiers: A.x, A.y, B.x.imag, B.x.real, B.y.imag, B.y.real,
// C.x, C.y.
type Proof [ProofSize]*BigInt

// UnmarshalJSON accepts either the packed array of eight numbers or a snarkjs
// proof object with pi_a, pi_b and pi_c.
func (p *Proof) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var cp CircomProof
		if err := json.Unmarshal(data, &cp); err != nil {
			return err
		}
		packed, err := cp.Pack()
		if err != nil {
			return err
		}
		*p = packed
		return nil
	}
	var elems []*BigInt
	if err := json.Unmarshal(data, &elems); err != nil {
		return err
	}
	if len(elems) != ProofSize {
		return fmt.Errorf("proof must have %d elements, got %d", ProofSize, len(elems))
	}
	for i, e := range elems {
		if e == nil {
			return fmt.Errorf("proof element %d is null", i)
		}
		p[i] = e
	}
	return nil
}

// Vote is an anonymous vote submission. The external nullifier of the proof
// is the proposal id and is not transmitted separately.
type Vote struct {
	ProposalID    uint64  `json:"proposalId"`
	OptionIndex   uint64  `json:"optionIndex"`
	SignalHash    *BigInt `json:"signalHash"`
	NullifierHash *BigInt `json:"nullifierHash"`
	MerkleRoot    *BigInt `json:"merkleRoot"`
	Proof         Proof   `json:"proof"`
}
