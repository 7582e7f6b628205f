package dydx

import (
	"fmt"
	"math/big"
)

// DecodeSignedInt decodes the chain's serializable-int byte layout into a
// signed arbitrary-precision integer. The first byte carries a version in its
// upper bits and the sign in its lowest bit; the remaining bytes are the
// big-endian magnitude. An empty slice is zero.
func DecodeSignedInt(b []byte) (*big.Int, error) {
	if len(b) == 0 {
		return big.NewInt(0), nil
	}

	prefix := b[0]
	if prefix>>1 != 1 {
		return nil, fmt.Errorf("unsupported signed-int version byte 0x%02x", prefix)
	}
	negative := prefix&1 == 1

	v := new(big.Int).SetBytes(b[1:])
	if negative {
		v.Neg(v)
	}
	return v, nil
}

// EncodeSignedInt is the inverse of DecodeSignedInt; the scanner tests use it
// to build known-good inputs.
func EncodeSignedInt(v *big.Int) []byte {
	prefix := byte(1 << 1)
	if v.Sign() < 0 {
		prefix |= 1
	}
	mag := new(big.Int).Abs(v).Bytes()
	out := make([]byte, 0, 1+len(mag))
	out = append(out, prefix)
	out = append(out, mag...)
	return out
}
