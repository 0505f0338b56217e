package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/perigee-labs/medrag/internal/ai"
	"github.com/perigee-labs/medrag/pkg/models"
)

// Index is the corpus of embedded chunks. Implementations must keep chunk
// ids unique and monotonically increasing, and must never surface a
// partially written chunk to a concurrent Search.
type Index interface {
	Insert(ctx context.Context, docID string, span Span) (models.Chunk, error)
	Search(ctx context.Context, query []float32, k int) ([]models.SearchResult, error)
	Count(ctx context.Context) (int, error)
}

// MemoryIndex is the in-process Index: an append-only slice guarded by a
// reader/writer lock. The first insert establishes the embedding
// dimensionality for the life of the index.
type MemoryIndex struct {
	client       ai.Client
	embedTimeout time.Duration

	mu     sync.RWMutex
	chunks []models.Chunk
	nextID int64
	dim    int
}

func NewMemoryIndex(client ai.Client, embedTimeout time.Duration) *MemoryIndex {
	return &MemoryIndex{client: client, embedTimeout: embedTimeout}
}

// Insert embeds the span and appends it as a new chunk. The embedding call
// runs outside the lock; the write lock covers only dimension check, id
// assignment and the append, so concurrent readers block briefly per chunk
// rather than per document.
func (ix *MemoryIndex) Insert(ctx context.Context, docID string, span Span) (models.Chunk, error) {
	ectx := ctx
	if ix.embedTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, ix.embedTimeout)
		defer cancel()
	}

	vec, err := ix.client.Embed(ectx, span.Text)
	if err != nil {
		return models.Chunk{}, WrapEmbedErr(err)
	}
	if len(vec) == 0 {
		return models.Chunk{}, fmt.Errorf("%w: collaborator returned an empty vector", ErrEmbedding)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dim == 0 {
		ix.dim = len(vec)
	} else if len(vec) != ix.dim {
		return models.Chunk{}, fmt.Errorf("%w: got %d, index dimension is %d", ErrDimensionMismatch, len(vec), ix.dim)
	}

	ix.nextID++
	c := models.Chunk{
		ID:        ix.nextID,
		DocID:     docID,
		Content:   span.Text,
		CharStart: span.Start,
		CharEnd:   span.End,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}
	ix.chunks = append(ix.chunks, c)
	return c, nil
}

// Search scores every chunk by cosine similarity against query and returns
// the top k, descending by score with earlier chunk ids winning ties. An
// empty index or k <= 0 returns an empty result, never an error.
func (ix *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]models.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []models.SearchResult{}, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	results := make([]models.SearchResult, 0, len(ix.chunks))
	for i := range ix.chunks {
		results = append(results, models.SearchResult{
			Chunk: ix.chunks[i],
			Score: CosineSimilarity(query, ix.chunks[i].Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of chunks ingested so far.
func (ix *MemoryIndex) Count(ctx context.Context) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks), nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
