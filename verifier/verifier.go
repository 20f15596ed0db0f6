// Package verifier checks Groth16 membership proofs over BN254.
//
// Proofs arrive packed as eight base field elements and public signals as
// four scalar field elements. Every element is range checked before any
// curve arithmetic: out of range values are reported as
// ErrInvalidFieldElement, while points that are off the curve, outside the
// prime order subgroup or at infinity simply make the proof invalid.
package verifier

import (
	"crypto/sha256"
	"errors"
	"fmt"

	curve "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vocdoni/anonvote-node/circuits/membership"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/types"
)

// DefaultCacheSize is the number of verification results kept by default.
const DefaultCacheSize = 1024

var (
	// ErrInvalidFieldElement is returned when a public signal is not lower
	// than the scalar field modulus or a proof coordinate is not lower than
	// the base field modulus.
	ErrInvalidFieldElement = errors.New("invalid field element")
	// ErrInvalidVerifyingKey is returned for keys that do not match the
	// membership circuit.
	ErrInvalidVerifyingKey = errors.New("invalid verifying key")
)

// PublicSignals are the public inputs of a membership proof.
type PublicSignals struct {
	Root              *types.BigInt
	NullifierHash     *types.BigInt
	SignalHash        *types.BigInt
	ExternalNullifier *types.BigInt
}

// Ordered returns the signals in the order expected by the verifying key.
func (ps PublicSignals) Ordered() [membership.NumPublicInputs]*types.BigInt {
	return [membership.NumPublicInputs]*types.BigInt{ps.Root, ps.NullifierHash, ps.SignalHash, ps.ExternalNullifier}
}

// Verifier verifies membership proofs against a fixed verifying key. It is
// safe for concurrent use.
type Verifier struct {
	vk    *groth16_bn254.VerifyingKey
	hash  string
	cache *lru.Cache[[32]byte, bool]
}

// New returns a verifier for vk. A cacheSize of zero disables the result
// cache.
func New(vk *groth16_bn254.VerifyingKey, cacheSize int) (*Verifier, error) {
	if vk == nil {
		return nil, fmt.Errorf("%w: nil key", ErrInvalidVerifyingKey)
	}
	if len(vk.G1.K) != membership.NumPublicInputs+1 {
		return nil, fmt.Errorf("%w: expected %d IC points, got %d",
			ErrInvalidVerifyingKey, membership.NumPublicInputs+1, len(vk.G1.K))
	}
	if len(vk.CommitmentKeys) > 0 {
		return nil, fmt.Errorf("%w: commitments are not supported", ErrInvalidVerifyingKey)
	}
	hash, err := HashVerifyingKey(vk)
	if err != nil {
		return nil, err
	}
	v := &Verifier{vk: vk, hash: hash}
	if cacheSize > 0 {
		if v.cache, err = lru.New[[32]byte, bool](cacheSize); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// VerifyingKeyHash returns the hex sha256 of the binary verifying key.
func (v *Verifier) VerifyingKeyHash() string {
	return v.hash
}

// Verify reports whether proof is a valid membership proof for signals.
// It returns ErrInvalidFieldElement, wrapped, if any element is out of
// range; every other failure is a false result.
func (v *Verifier) Verify(proof types.Proof, signals PublicSignals) (bool, error) {
	if err := CheckFieldElements(proof, signals); err != nil {
		return false, err
	}
	key := cacheKey(proof, signals)
	if v.cache != nil {
		if valid, ok := v.cache.Get(key); ok {
			return valid, nil
		}
	}
	valid := v.verify(proof, signals)
	if v.cache != nil {
		v.cache.Add(key, valid)
	}
	return valid, nil
}

func (v *Verifier) verify(proof types.Proof, signals PublicSignals) bool {
	gproof, err := UnpackProof(proof)
	if err != nil {
		log.Debugw("proof rejected", "reason", err.Error())
		return false
	}
	ordered := signals.Ordered()
	inputs := make(fr.Vector, len(ordered))
	for i, s := range ordered {
		inputs[i].SetBigInt(s.MathBigInt())
	}
	if err := groth16_bn254.Verify(gproof, v.vk, inputs); err != nil {
		log.Debugw("proof rejected", "reason", err.Error())
		return false
	}
	return true
}

// CheckFieldElements checks that all signals are in the scalar field and
// all proof coordinates in the base field.
func CheckFieldElements(proof types.Proof, signals PublicSignals) error {
	r, p := fr.Modulus(), fp.Modulus()
	for i, s := range signals.Ordered() {
		if !s.IsInField(r) {
			return fmt.Errorf("%w: public signal %d", ErrInvalidFieldElement, i)
		}
	}
	for i, e := range proof {
		if !e.IsInField(p) {
			return fmt.Errorf("%w: proof element %d", ErrInvalidFieldElement, i)
		}
	}
	return nil
}

// UnpackProof builds a gnark proof from the packed elements, which must be
// range checked already. It fails if a point is off the curve, outside the
// subgroup or at infinity.
func UnpackProof(proof types.Proof) (*groth16_bn254.Proof, error) {
	var gp groth16_bn254.Proof
	setG1(&gp.Ar, proof[0], proof[1])
	gp.Bs.X.A1.SetBigInt(proof[2].MathBigInt())
	gp.Bs.X.A0.SetBigInt(proof[3].MathBigInt())
	gp.Bs.Y.A1.SetBigInt(proof[4].MathBigInt())
	gp.Bs.Y.A0.SetBigInt(proof[5].MathBigInt())
	setG1(&gp.Krs, proof[6], proof[7])

	if err := checkG1("A", &gp.Ar); err != nil {
		return nil, err
	}
	if err := checkG2("B", &gp.Bs); err != nil {
		return nil, err
	}
	if err := checkG1("C", &gp.Krs); err != nil {
		return nil, err
	}
	return &gp, nil
}

func setG1(p *curve.G1Affine, x, y *types.BigInt) {
	p.X.SetBigInt(x.MathBigInt())
	p.Y.SetBigInt(y.MathBigInt())
}

func checkG1(name string, p *curve.G1Affine) error {
	switch {
	case p.IsInfinity():
		return fmt.Errorf("%s is the point at infinity", name)
	case !p.IsOnCurve():
		return fmt.Errorf("%s is not on the curve", name)
	case !p.IsInSubGroup():
		return fmt.Errorf("%s is not in the subgroup", name)
	}
	return nil
}

func checkG2(name string, p *curve.G2Affine) error {
	switch {
	case p.IsInfinity():
		return fmt.Errorf("%s is the point at infinity", name)
	case !p.IsOnCurve():
		return fmt.Errorf("%s is not on the curve", name)
	case !p.IsInSubGroup():
		return fmt.Errorf("%s is not in the subgroup", name)
	}
	return nil
}

func cacheKey(proof types.Proof, signals PublicSignals) [32]byte {
	h := sha256.New()
	for _, e := range proof {
		b := e.Bytes32()
		h.Write(b[:])
	}
	for _, s := range signals.Ordered() {
		b := s.Bytes32()
		h.Write(b[:])
	}
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}
