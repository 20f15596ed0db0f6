package voting

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/vocdoni/anonvote-node/types"
)

var signalArguments = func() abi.Arguments {
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	uint8Type, err := abi.NewType("uint8", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: uint256Type}, {Type: uint8Type}}
}()

// Signal returns keccak256(abi.encode(uint256 proposalID, uint8 option)),
// the signal a voter commits to.
func Signal(proposalID, optionIndex uint64) ([32]byte, error) {
	if optionIndex >= types.MaxOptions {
		return [32]byte{}, fmt.Errorf("%w: %d", ErrOptionIndexOutOfRange, optionIndex)
	}
	data, err := signalArguments.Pack(new(big.Int).SetUint64(proposalID), uint8(optionIndex))
	if err != nil {
		return [32]byte{}, fmt.Errorf("could not encode signal: %w", err)
	}
	return ethcrypto.Keccak256Hash(data), nil
}

// SignalHash returns the value bound by the membership proof for a vote on
// optionIndex: keccak256(signal) shifted right by 8 bits, so it fits in the
// BN254 scalar field.
func SignalHash(proposalID, optionIndex uint64) (*types.BigInt, error) {
	signal, err := Signal(proposalID, optionIndex)
	if err != nil {
		return nil, err
	}
	h := new(big.Int).SetBytes(ethcrypto.Keccak256(signal[:]))
	return new(types.BigInt).SetBigInt(h.Rsh(h, 8)), nil
}
