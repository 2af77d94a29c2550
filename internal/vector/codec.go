package vector

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// ErrNonCanonicalKey is returned when bytes decode to a vector but are not the
// exact encoding Key would produce for it.
var ErrNonCanonicalKey = errors.New("vector key is not in canonical form")

// MarshalMsg appends the MessagePack encoding of v to o. Elements are always
// written as 64-bit floats so the output is canonical.
func (v Vector) MarshalMsg(o []byte) ([]byte, error) {
	o = msgp.AppendArrayHeader(o, uint32(len(v)))
	for _, f := range v {
		o = msgp.AppendFloat64(o, f)
	}
	return o, nil
}

// UnmarshalMsg decodes a vector from the front of bts and returns the rest.
func (v *Vector) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return bts, fmt.Errorf("read vector header: %w", err)
	}
	if int(n) > len(bts)/msgp.Float64Size {
		return bts, fmt.Errorf("read vector: %d elements declared, %d bytes left: %w", n, len(bts), msgp.ErrShortBytes)
	}
	out := make(Vector, n)
	for i := range out {
		out[i], bts, err = msgp.ReadFloat64Bytes(bts)
		if err != nil {
			return bts, fmt.Errorf("read vector element %d: %w", i, err)
		}
	}
	*v = out
	return bts, nil
}

// Msgsize returns the exact encoded size of v.
func (v Vector) Msgsize() int {
	return msgp.ArrayHeaderSize + len(v)*msgp.Float64Size
}

// Key returns the canonical storage key for v.
func Key(v Vector) []byte {
	out, _ := v.MarshalMsg(make([]byte, 0, v.Msgsize()))
	return out
}

// FromKey decodes a key produced by Key. Trailing bytes and non-canonical
// encodings (for example float32 elements) are rejected so that decoding and
// re-encoding a stored key always yields the same bytes.
func FromKey(key []byte) (Vector, error) {
	var v Vector
	rest, err := v.UnmarshalMsg(key)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrNonCanonicalKey, len(rest))
	}
	if !bytes.Equal(Key(v), key) {
		return nil, ErrNonCanonicalKey
	}
	return v, nil
}
