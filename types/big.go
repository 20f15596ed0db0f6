package types

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// BigInt is a big.Int wrapper that marshals to a decimal string in JSON and
// CBOR. Unmarshaling accepts decimal strings, 0x prefixed hex strings and
// bare JSON numbers. A nil value marshals as "0".
type BigInt big.Int

// NewInt returns a BigInt holding x.
func NewInt(x uint64) *BigInt {
	return new(BigInt).SetUint64(x)
}

// BigIntFromString parses a decimal or 0x prefixed hexadecimal string.
func BigIntFromString(s string) (*BigInt, error) {
	b := new(BigInt)
	if err := b.UnmarshalText([]byte(s)); err != nil {
		return nil, err
	}
	return b, nil
}

func (i *BigInt) MarshalText() ([]byte, error) {
	if i == nil {
		return []byte("0"), nil
	}
	return (*big.Int)(i).MarshalText()
}

func (i *BigInt) UnmarshalText(data []byte) error {
	if i == nil {
		return fmt.Errorf("cannot unmarshal into nil BigInt")
	}
	s, base := string(data), 10
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s, base = s[2:], 16
	}
	if _, ok := (*big.Int)(i).SetString(s, base); !ok {
		return fmt.Errorf("invalid integer %q", data)
	}
	return nil
}

// UnmarshalJSON supports both quoted and numeric JSON values.
func (i *BigInt) UnmarshalJSON(data []byte) error {
	if i == nil {
		return fmt.Errorf("cannot unmarshal into nil BigInt")
	}
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		return i.UnmarshalText(data[1 : len(data)-1])
	}
	return i.UnmarshalText(data)
}

// MarshalCBOR encodes the number as a CBOR text string.
func (i *BigInt) MarshalCBOR() ([]byte, error) {
	txt, err := i.MarshalText()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(string(txt))
}

func (i *BigInt) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	return i.UnmarshalText([]byte(s))
}

func (i *BigInt) String() string {
	if i == nil {
		return "0"
	}
	return (*big.Int)(i).String()
}

// SetBytes interprets buf as a big-endian unsigned integer.
func (i *BigInt) SetBytes(buf []byte) *BigInt {
	return (*BigInt)(i.MathBigInt().SetBytes(buf))
}

func (i *BigInt) Bytes() []byte {
	return (*big.Int)(i).Bytes()
}

// Bytes32 returns the value as a 32 byte big-endian array. The value must be
// non-negative and fit in 256 bits.
func (i *BigInt) Bytes32() [32]byte {
	var out [32]byte
	if i == nil {
		return out
	}
	(*big.Int)(i).FillBytes(out[:])
	return out
}

// MathBigInt converts i to a math/big *Int sharing the same storage.
func (i *BigInt) MathBigInt() *big.Int {
	return (*big.Int)(i)
}

func (i *BigInt) SetUint64(x uint64) *BigInt {
	return (*BigInt)(i.MathBigInt().SetUint64(x))
}

func (i *BigInt) SetBigInt(x *big.Int) *BigInt {
	return (*BigInt)(i.MathBigInt().Set(x))
}

// Equal reports whether both values are equal. Two nil values are equal.
func (i *BigInt) Equal(j *BigInt) bool {
	if i == nil || j == nil {
		return (i == nil) == (j == nil)
	}
	return i.MathBigInt().Cmp(j.MathBigInt()) == 0
}

// IsInField reports whether 0 <= i < modulus.
func (i *BigInt) IsInField(modulus *big.Int) bool {
	if i == nil {
		return false
	}
	v := i.MathBigInt()
	return v.Sign() >= 0 && v.Cmp(modulus) < 0
}
