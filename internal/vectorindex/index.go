// Package vectorindex reaches the approximate nearest-neighbour index over
// article embeddings.
package vectorindex

import (
	"context"
	"errors"

	"github.com/agenthands/wikigraph/internal/core/model"
)

// ErrNotFound is returned by Reconstruct for ids the index does not hold.
var ErrNotFound = errors.New("vector not found")

// ErrReconstructUnsupported is returned by Reconstruct when the index cannot
// hand stored vectors back.
var ErrReconstructUnsupported = errors.New("index cannot reconstruct vectors")

type Index interface {
	// Search returns up to k hits ordered by similarity descending.
	Search(ctx context.Context, vec []float32, k int) ([]model.Candidate, error)
	Reconstruct(ctx context.Context, id int64) ([]float32, error)
	// CanReconstruct is fixed for the lifetime of the index.
	CanReconstruct() bool
}
