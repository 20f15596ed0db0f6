package types

import (
	"fmt"
)

// CircomProof is the proof object produced by snarkjs. Points are given in
// projective form with decimal coordinates; only normalized points (z = 1)
// are accepted.
type CircomProof struct {
	PiA      []string   `json:"pi_a"`
	PiB      [][]string `json:"pi_b"`
	PiC      []string   `json:"pi_c"`
	Protocol string     `json:"protocol,omitempty"`
	Curve    string     `json:"curve,omitempty"`
}

// CircomVerificationKey is the verification_key.json produced by snarkjs.
type CircomVerificationKey struct {
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`
	NPublic  int        `json:"nPublic"`
	VkAlpha1 []string   `json:"vk_alpha_1"`
	VkBeta2  [][]string `json:"vk_beta_2"`
	VkGamma2 [][]string `json:"vk_gamma_2"`
	VkDelta2 [][]string `json:"vk_delta_2"`
	IC       [][]string `json:"IC"`
}

// ParseG2 reads a snarkjs G2 point [[x.real, x.imag], [y.real, y.imag],
// [1, 0]] and returns its four coordinates in the same order.
func ParseG2(name string, coords [][]string) ([4]*BigInt, error) {
	var out [4]*BigInt
	if len(coords) != 3 || len(coords[2]) != 2 || coords[2][0] != "1" || coords[2][1] != "0" {
		return out, fmt.Errorf("%s: expected normalized point [[x0, x1], [y0, y1], [1, 0]]", name)
	}
	for i := range 2 {
		if len(coords[i]) != 2 {
			return out, fmt.Errorf("%s: coordinate %d must have two elements", name, i)
		}
		for j := range 2 {
			v, err := BigIntFromString(coords[i][j])
			if err != nil {
				return out, fmt.Errorf("%s[%d][%d]: %w", name, i, j, err)
			}
			out[i*2+j] = v
		}
	}
	return out, nil
}

// ParseG1 reads a snarkjs G1 point [x, y, 1].
func ParseG1(name string, coords []string) ([2]*BigInt, error) {
	var out [2]*BigInt
	if len(coords) != 3 || coords[2] != "1" {
		return out, fmt.Errorf("%s: expected normalized point [x, y, 1]", name)
	}
	for i := range 2 {
		v, err := BigIntFromString(coords[i])
		if err != nil {
			return out, fmt.Errorf("%s[%d]: %w", name, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Pack converts the snarkjs proof to the packed EVM layout, which swaps the
// real and imaginary parts of the G2 coordinates.
func (cp *CircomProof) Pack() (Proof, error) {
	var p Proof
	a, err := ParseG1("pi_a", cp.PiA)
	if err != nil {
		return p, err
	}
	b, err := ParseG2("pi_b", cp.PiB)
	if err != nil {
		return p, err
	}
	c, err := ParseG1("pi_c", cp.PiC)
	if err != nil {
		return p, err
	}
	p[0], p[1] = a[0], a[1]
	p[2], p[3] = b[1], b[0]
	p[4], p[5] = b[3], b[2]
	p[6], p[7] = c[0], c[1]
	return p, nil
}

// Unpack converts a packed proof back to the snarkjs layout.
func (p Proof) Unpack() CircomProof {
	return CircomProof{
		PiA: []string{p[0].String(), p[1].String(), "1"},
		PiB: [][]string{
			{p[3].String(), p[2].String()},
			{p[5].String(), p[4].String()},
			{"1", "0"},
		},
		PiC:      []string{p[6].String(), p[7].String(), "1"},
		Protocol: "groth16",
		Curve:    "bn128",
	}
}
