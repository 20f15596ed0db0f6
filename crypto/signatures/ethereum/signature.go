// Package ethereum provides Ethereum ECDSA signatures over prefixed messages.
// They authorize administrative actions of the node, such as rotating the
// membership root or creating a proposal.
package ethereum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/anonvote-node/types"
)

const (
	// SignatureLength is the size of an ECDSA signature in bytes
	SignatureLength = ethcrypto.SignatureLength
	// SignatureMinLength is the size of a signature without recovery byte
	SignatureMinLength = SignatureLength - 1
	// SigningPrefix is the prefix added when hashing Ethereum messages
	SigningPrefix = "\u0019Ethereum Signed Message:\n"
	// HashLength is the size of a keccak256 hash
	HashLength = 32
)

// ECDSASignature represents an Ethereum ECDSA signature with R and S
// components and the recovery id, stored in the 0-3 range.
type ECDSASignature struct {
	R        *big.Int `json:"r"`
	S        *big.Int `json:"s"`
	recovery byte
}

// BytesToSignature creates a new ECDSASignature from the raw r||s||v payload.
// Both 0-3 and 27-30 recovery values are accepted.
func BytesToSignature(signature []byte) (*ECDSASignature, error) {
	if len(signature) < SignatureMinLength {
		return nil, fmt.Errorf("signature length is less than %d", SignatureMinLength)
	}
	sig := new(ECDSASignature).SetBytes(signature)
	if sig == nil {
		return nil, fmt.Errorf("wrong signature bytes")
	}
	return sig, nil
}

// HexToSignature decodes a hex string, with or without 0x, into an
// ECDSASignature.
func HexToSignature(hexSignature string) (*ECDSASignature, error) {
	bSignature, err := types.HexStringToHexBytes(hexSignature)
	if err != nil {
		return nil, err
	}
	return BytesToSignature(bSignature)
}

// Valid reports whether both R and S are set.
func (sig *ECDSASignature) Valid() bool {
	return sig != nil && sig.R != nil && sig.S != nil
}

// Bytes returns the 65 byte r||s||v encoding, with v in the 0-3 range as
// expected by ethcrypto.SigToPub.
func (sig *ECDSASignature) Bytes() []byte {
	out := make([]byte, SignatureLength)
	sig.R.FillBytes(out[:32])
	sig.S.FillBytes(out[32:64])
	out[64] = sig.recovery
	return out
}

// SetBytes sets the signature from r||s or r||s||v. It returns nil if the
// recovery byte is out of range.
func (sig *ECDSASignature) SetBytes(signature []byte) *ECDSASignature {
	if len(signature) < SignatureMinLength {
		return nil
	}
	sig.R = new(big.Int).SetBytes(signature[:32])
	sig.S = new(big.Int).SetBytes(signature[32:64])
	sig.recovery = 0
	if len(signature) == SignatureLength {
		v := signature[64]
		if v >= 27 {
			v -= 27
		}
		if v > 3 {
			return nil
		}
		sig.recovery = v
	}
	return sig
}

// Verify checks that sig signs signedInput and was produced by
// expectedAddress. It returns the recovered public key.
func (sig *ECDSASignature) Verify(signedInput []byte, expectedAddress common.Address) (bool, []byte) {
	if !sig.Valid() {
		return false, nil
	}
	pubKey, err := ethcrypto.SigToPub(HashMessage(signedInput), sig.Bytes())
	if err != nil {
		return false, nil
	}
	return bytes.Equal(ethcrypto.PubkeyToAddress(*pubKey).Bytes(), expectedAddress.Bytes()), ethcrypto.FromECDSAPub(pubKey)
}

func (sig *ECDSASignature) String() string {
	return fmt.Sprintf("R: %s, S: %s, Recovery: %d", sig.R.String(), sig.S.String(), sig.recovery)
}

// MarshalJSON encodes the signature as a 0x prefixed hex string.
func (sig *ECDSASignature) MarshalJSON() ([]byte, error) {
	if !sig.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(types.HexBytes(sig.Bytes()))
}

// UnmarshalJSON decodes a hex encoded 64 or 65 byte signature.
func (sig *ECDSASignature) UnmarshalJSON(data []byte) error {
	var hb types.HexBytes
	if err := json.Unmarshal(data, &hb); err != nil {
		return err
	}
	if sig.SetBytes(hb) == nil {
		return fmt.Errorf("invalid signature of %d bytes", len(hb))
	}
	return nil
}

// AddrFromSignature recovers the Ethereum address that signed message.
func AddrFromSignature(message []byte, signature *ECDSASignature) (common.Address, error) {
	if !signature.Valid() {
		return common.Address{}, fmt.Errorf("signature is nil")
	}
	pubKey, err := ethcrypto.SigToPub(HashMessage(message), signature.Bytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("sigToPub %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pubKey), nil
}
