package store

import (
	"context"
	"fmt"
	"time"

	"github.com/perigee-labs/medrag/internal/ai"
	"github.com/perigee-labs/medrag/internal/rag"
	"github.com/perigee-labs/medrag/pkg/models"
)

// PgIndex is the persistent variant of rag.Index: chunks live in Postgres
// and survive restarts, so there is nothing to reload at startup. Ids come
// from a BIGSERIAL and stay monotonic; the vector column's dimensionality
// is fixed by Migrate, so a mismatched embedding fails the insert.
type PgIndex struct {
	store        Storer
	client       ai.Client
	dim          int
	embedTimeout time.Duration
}

func NewPgIndex(store Storer, client ai.Client, embedTimeout time.Duration) *PgIndex {
	return &PgIndex{
		store:        store,
		client:       client,
		dim:          client.Dim(),
		embedTimeout: embedTimeout,
	}
}

func (ix *PgIndex) Insert(ctx context.Context, docID string, span rag.Span) (models.Chunk, error) {
	ectx := ctx
	if ix.embedTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, ix.embedTimeout)
		defer cancel()
	}

	vec, err := ix.client.Embed(ectx, span.Text)
	if err != nil {
		return models.Chunk{}, rag.WrapEmbedErr(err)
	}
	if ix.dim > 0 && len(vec) != ix.dim {
		return models.Chunk{}, fmt.Errorf("%w: got %d, index dimension is %d", rag.ErrDimensionMismatch, len(vec), ix.dim)
	}

	return ix.store.AppendChunk(ctx, models.Chunk{
		DocID:     docID,
		Content:   span.Text,
		CharStart: span.Start,
		CharEnd:   span.End,
		Embedding: vec,
	})
}

func (ix *PgIndex) Search(ctx context.Context, query []float32, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		return []models.SearchResult{}, nil
	}
	return ix.store.SearchChunks(ctx, query, k)
}

func (ix *PgIndex) Count(ctx context.Context) (int, error) {
	return ix.store.CountChunks(ctx)
}
