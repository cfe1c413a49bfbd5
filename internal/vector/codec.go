// Package vector provides the embedding codec, similarity helpers and the
// in-memory chunk index that queries scan.
package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrDegenerateVector is returned by Normalize when the norm is zero or not finite.
// Callers treat it as "no usable embedding" and skip the chunk.
var ErrDegenerateVector = errors.New("degenerate vector")

const float32Size = 4

// Encode packs v as little-endian IEEE-754 float32 values with no length prefix.
func Encode(v []float32) []byte {
	out := make([]byte, len(v)*float32Size)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*float32Size:], math.Float32bits(x))
	}
	return out
}

// Decode unpacks a blob written by Encode. The length is implicit from len(b)/4.
func Decode(b []byte) ([]float32, error) {
	if len(b)%float32Size != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of %d", len(b), float32Size)
	}
	out := make([]float32, len(b)/float32Size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*float32Size:]))
	}
	return out, nil
}

// Normalize returns a copy of v scaled to unit L2 norm.
func Normalize(v []float32) ([]float32, error) {
	norm := L2Norm(v)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("%w: norm=%v dims=%d", ErrDegenerateVector, norm, len(v))
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}
