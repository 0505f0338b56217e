package rag

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy for the retrieval pipeline. Collaborator failures are
// wrapped with one of these sentinels so callers can branch with errors.Is.
var (
	// ErrChunkConfig indicates an invalid chunk size/overlap combination.
	// Fatal at setup, never retried.
	ErrChunkConfig = errors.New("invalid chunker configuration")

	// ErrEmbedding indicates the embedding collaborator was unreachable or
	// returned an unusable vector.
	ErrEmbedding = errors.New("embedding failed")

	// ErrEmbeddingTimeout indicates the embedding call exceeded its deadline.
	ErrEmbeddingTimeout = errors.New("embedding timed out")

	// ErrDimensionMismatch indicates an embedding whose dimensionality does
	// not match the dimension established by the index's first insert. It is
	// a kind of embedding failure, so errors.Is(err, ErrEmbedding) also
	// holds.
	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrEmbedding)

	// ErrGeneration indicates the generation collaborator failed.
	ErrGeneration = errors.New("generation failed")

	// ErrGenerationTimeout indicates the generation call exceeded its deadline.
	ErrGenerationTimeout = errors.New("generation timed out")
)

func WrapEmbedErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrEmbeddingTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrEmbedding, err)
}

func WrapGenerateErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrGenerationTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrGeneration, err)
}
