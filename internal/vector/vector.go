// Package vector defines the float64 vectors that key the response table,
// the Euclidean metric used to compare them and their canonical byte form.
package vector

import "math"

// Vector is a fixed-length embedding in float64 precision.
type Vector []float64

// Clone returns a copy of v that shares no memory with it.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Equal reports whether a and b hold bit-identical elements.
func Equal(a, b Vector) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			return false
		}
	}
	return true
}

// Euclidean returns sqrt(Σ(aᵢ-bᵢ)²). Extra elements of the longer vector are ignored.
func Euclidean(a, b Vector) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Distance is a Euclidean distance collapsed to its IEEE-754 bit pattern.
// Distances are never negative, so ordering the bit patterns as unsigned
// integers gives the same order as the floats and is total.
type Distance uint64

// Float returns the distance as a float64.
func (d Distance) Float() float64 {
	return math.Float64frombits(uint64(d))
}

// EuclideanBits is Euclidean expressed as a Distance.
func EuclideanBits(a, b Vector) Distance {
	return Distance(math.Float64bits(Euclidean(a, b)))
}
