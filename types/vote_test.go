package types

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"
)

const circomProofJSON = `{
  "pi_a": ["1", "2", "1"],
  "pi_b": [["3", "4"], ["5", "6"], ["1", "0"]],
  "pi_c": ["7", "8", "1"],
  "protocol": "groth16",
  "curve": "bn128"
}`

func TestProofJSON(t *testing.T) {
	c := qt.New(t)

	c.Run("packed", func(c *qt.C) {
		var p Proof
		c.Assert(json.Unmarshal([]byte(`["1","2","4","3","6","5","7","0x08"]`), &p), qt.IsNil)
		for i, want := range []uint64{1, 2, 4, 3, 6, 5, 7, 8} {
			c.Assert(p[i].Equal(NewInt(want)), qt.IsTrue, qt.Commentf("element %d", i))
		}
	})

	c.Run("snarkjs object", func(c *qt.C) {
		var p Proof
		c.Assert(json.Unmarshal([]byte(circomProofJSON), &p), qt.IsNil)
		for i, want := range []uint64{1, 2, 4, 3, 6, 5, 7, 8} {
			c.Assert(p[i].Equal(NewInt(want)), qt.IsTrue, qt.Commentf("element %d", i))
		}

		unpacked := p.Unpack()
		c.Assert(unpacked.PiB[0], qt.DeepEquals, []string{"3", "4"})
		c.Assert(unpacked.PiB[1], qt.DeepEquals, []string{"5", "6"})
	})

	c.Run("wrong size", func(c *qt.C) {
		var p Proof
		c.Assert(json.Unmarshal([]byte(`["1","2","3"]`), &p), qt.ErrorMatches, `proof must have 8 elements, got 3`)
	})

	c.Run("projective point", func(c *qt.C) {
		var p Proof
		err := json.Unmarshal([]byte(`{"pi_a":["1","2","5"],"pi_b":[["3","4"],["5","6"],["1","0"]],"pi_c":["7","8","1"]}`), &p)
		c.Assert(err, qt.ErrorMatches, `pi_a: expected normalized point.*`)
	})
}

func TestVoteJSON(t *testing.T) {
	c := qt.New(t)
	var v Vote
	c.Assert(json.Unmarshal([]byte(`{
		"proposalId": 1,
		"optionIndex": 0,
		"signalHash": "11",
		"nullifierHash": "0x22",
		"merkleRoot": 33,
		"proof": ["1","2","3","4","5","6","7","8"]
	}`), &v), qt.IsNil)
	c.Assert(v.ProposalID, qt.Equals, uint64(1))
	c.Assert(v.NullifierHash.Equal(NewInt(0x22)), qt.IsTrue)
	c.Assert(v.MerkleRoot.Equal(NewInt(33)), qt.IsTrue)
	c.Assert(v.Proof[7].Equal(NewInt(8)), qt.IsTrue)
}
