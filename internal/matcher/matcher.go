// Package matcher turns two face embeddings into a distance-based match
// decision.
package matcher

import (
	"fmt"
	"math"

	"github.com/example/face-verify/internal/facerec"
)

// Result is the outcome of comparing two embeddings.
//
// Confidence is max(0, 1-distance): a linear heuristic, not a calibrated
// probability. Downstream callers depend on its exact shape, so it is kept
// as-is. Matched uses strict inequality: a distance exactly equal to the
// tolerance is a non-match.
type Result struct {
	Matched    bool
	Confidence float64
	Distance   float64
}

// DimensionError reports embeddings that cannot be compared. It indicates a
// programming error (mixed model versions or an empty vector), not bad user
// input.
type DimensionError struct {
	LenA, LenB int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimensions do not match: %d vs %d", e.LenA, e.LenB)
}

// Compare computes the Euclidean distance between two embeddings and derives
// the match decision against tolerance. The embedding model is trained
// against Euclidean distance, not cosine similarity.
func Compare(a, b facerec.Embedding, tolerance float64) (Result, error) {
	if len(a) == 0 || len(a) != len(b) {
		return Result{}, &DimensionError{LenA: len(a), LenB: len(b)}
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	distance := math.Sqrt(sum)

	return Result{
		Matched:    distance < tolerance,
		Confidence: math.Max(0, 1-distance),
		Distance:   distance,
	}, nil
}
