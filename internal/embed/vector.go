package embed

import (
	"errors"
	"math"
)

// ErrEmptyCentroid reports a centroid computed over no vectors.
var ErrEmptyCentroid = errors.New("embed: cannot compute centroid of zero vectors")

// L2Normalize scales v to unit length in place and returns it.
// A zero vector is returned unchanged.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Cosine returns the dot product of two vectors. For L2-normalized inputs
// this is the cosine similarity in [-1, 1]; no clamping is applied.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Centroid returns the L2-normalized arithmetic mean of the given vectors.
// All vectors must share the first vector's dimension.
func Centroid(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyCentroid
	}
	dim := len(vectors[0])
	mean := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, errors.New("embed: centroid dimension mismatch")
		}
		for i, x := range v {
			mean[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	for i := range mean {
		out[i] = float32(mean[i] / float64(len(vectors)))
	}
	return L2Normalize(out), nil
}

// IsFinite reports whether f is neither NaN nor infinite.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
