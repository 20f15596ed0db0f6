package verifier

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	curve "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/vocdoni/anonvote-node/types"
)

// HashVerifyingKey returns the hex sha256 of the gnark binary encoding of
// vk, the same hash used to name the artifact file.
func HashVerifyingKey(vk *groth16_bn254.VerifyingKey) (string, error) {
	h := sha256.New()
	if _, err := vk.WriteTo(h); err != nil {
		return "", fmt.Errorf("could not hash verifying key: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseVerifyingKey decodes a verifying key either in gnark binary form or
// as a snarkjs verification_key.json document.
func ParseVerifyingKey(data []byte) (*groth16_bn254.VerifyingKey, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var cvk types.CircomVerificationKey
		if err := json.Unmarshal(trimmed, &cvk); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidVerifyingKey, err)
		}
		return FromCircom(&cvk)
	}
	vk := new(groth16_bn254.VerifyingKey)
	if _, err := vk.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifyingKey, err)
	}
	if err := vk.Precompute(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifyingKey, err)
	}
	return vk, nil
}

// FromCircom converts a snarkjs verifying key to gnark.
func FromCircom(cvk *types.CircomVerificationKey) (*groth16_bn254.VerifyingKey, error) {
	if cvk.Protocol != "" && cvk.Protocol != "groth16" {
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrInvalidVerifyingKey, cvk.Protocol)
	}
	if cvk.Curve != "" && cvk.Curve != "bn128" && cvk.Curve != "bn254" {
		return nil, fmt.Errorf("%w: unsupported curve %q", ErrInvalidVerifyingKey, cvk.Curve)
	}
	vk := &groth16_bn254.VerifyingKey{}
	var err error
	if err = circomG1("vk_alpha_1", cvk.VkAlpha1, &vk.G1.Alpha); err != nil {
		return nil, err
	}
	if err = circomG2("vk_beta_2", cvk.VkBeta2, &vk.G2.Beta); err != nil {
		return nil, err
	}
	if err = circomG2("vk_gamma_2", cvk.VkGamma2, &vk.G2.Gamma); err != nil {
		return nil, err
	}
	if err = circomG2("vk_delta_2", cvk.VkDelta2, &vk.G2.Delta); err != nil {
		return nil, err
	}
	vk.G1.K = make([]curve.G1Affine, len(cvk.IC))
	for i, ic := range cvk.IC {
		if err = circomG1(fmt.Sprintf("IC[%d]", i), ic, &vk.G1.K[i]); err != nil {
			return nil, err
		}
	}
	// e(alpha, beta) and the negated gamma and delta
	if err := vk.Precompute(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifyingKey, err)
	}
	return vk, nil
}

// ToCircom converts a gnark verifying key to the snarkjs layout.
func ToCircom(vk *groth16_bn254.VerifyingKey) *types.CircomVerificationKey {
	cvk := &types.CircomVerificationKey{
		Protocol: "groth16",
		Curve:    "bn128",
		NPublic:  len(vk.G1.K) - 1,
		VkAlpha1: g1ToCircom(&vk.G1.Alpha),
		VkBeta2:  g2ToCircom(&vk.G2.Beta),
		VkGamma2: g2ToCircom(&vk.G2.Gamma),
		VkDelta2: g2ToCircom(&vk.G2.Delta),
	}
	for i := range vk.G1.K {
		cvk.IC = append(cvk.IC, g1ToCircom(&vk.G1.K[i]))
	}
	return cvk
}

func circomG1(name string, coords []string, p *curve.G1Affine) error {
	xy, err := types.ParseG1(name, coords)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVerifyingKey, err)
	}
	for _, c := range xy {
		if !c.IsInField(fp.Modulus()) {
			return fmt.Errorf("%w: %s coordinate out of range", ErrInvalidVerifyingKey, name)
		}
	}
	setG1(p, xy[0], xy[1])
	if err := checkG1(name, p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVerifyingKey, err)
	}
	return nil
}

func circomG2(name string, coords [][]string, p *curve.G2Affine) error {
	c, err := types.ParseG2(name, coords)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVerifyingKey, err)
	}
	for _, e := range c {
		if !e.IsInField(fp.Modulus()) {
			return fmt.Errorf("%w: %s coordinate out of range", ErrInvalidVerifyingKey, name)
		}
	}
	p.X.A0.SetBigInt(c[0].MathBigInt())
	p.X.A1.SetBigInt(c[1].MathBigInt())
	p.Y.A0.SetBigInt(c[2].MathBigInt())
	p.Y.A1.SetBigInt(c[3].MathBigInt())
	if err := checkG2(name, p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVerifyingKey, err)
	}
	return nil
}

func g1ToCircom(p *curve.G1Affine) []string {
	return []string{p.X.String(), p.Y.String(), "1"}
}

func g2ToCircom(p *curve.G2Affine) [][]string {
	return [][]string{
		{p.X.A0.String(), p.X.A1.String()},
		{p.Y.A0.String(), p.Y.A1.String()},
		{"1", "0"},
	}
}
