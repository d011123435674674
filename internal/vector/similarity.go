// Package vector provides similarity math and ranking for embedding vectors.
package vector

import (
	"fmt"
	"math"
)

// DimensionMismatchError reports a comparison between vectors of different lengths,
// which happens when the corpus was embedded with a different model than the query.
type DimensionMismatchError struct {
	Expected int
	Got      int
	// ID identifies the offending stored vector, when known.
	ID string
}

func (e *DimensionMismatchError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("vector dimension mismatch for %s: got %d, expected %d", e.ID, e.Got, e.Expected)
	}
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Got, e.Expected)
}

// CosineSimilarity returns dot(a,b) / (|a| * |b|), in [-1, 1].
// A zero-magnitude vector on either side yields 0 rather than NaN.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Expected: len(a), Got: len(b)}
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0, nil
	}
	// rounding can push identical vectors a hair past 1
	return math.Max(-1, math.Min(1, sim)), nil
}

// Normalize scales v in place to unit length. A zero vector is left unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
