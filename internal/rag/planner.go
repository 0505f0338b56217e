package rag

import (
	"context"
	"strings"
	"time"

	"github.com/perigee-labs/medrag/internal/ai"
	"github.com/perigee-labs/medrag/pkg/models"
)

// Bounds for the number of chunks a single retrieval may return. Requested
// values outside the range are clamped, not rejected.
const (
	TopKMin     = 1
	TopKMax     = 20
	TopKDefault = 5
)

// ResolveTopK turns an optional requested top-k into a concrete value: nil
// means "use def", anything else is clamped into [TopKMin, TopKMax]. Every
// retrieval path resolves top-k through this one function.
func ResolveTopK(requested *int, def int) int {
	k := def
	if requested != nil {
		k = *requested
	}
	if k < TopKMin {
		return TopKMin
	}
	if k > TopKMax {
		return TopKMax
	}
	return k
}

// Planner resolves a free-text query into a ranked set of chunks: it embeds
// the query with the same collaborator used at ingestion and delegates the
// similarity search to the index.
type Planner struct {
	client       ai.Client
	index        Index
	defaultTopK  int
	embedTimeout time.Duration
}

func NewPlanner(client ai.Client, index Index, defaultTopK int, embedTimeout time.Duration) *Planner {
	if defaultTopK <= 0 {
		defaultTopK = TopKDefault
	}
	return &Planner{client: client, index: index, defaultTopK: defaultTopK, embedTimeout: embedTimeout}
}

func (p *Planner) Plan(ctx context.Context, query string, topK *int) ([]models.SearchResult, error) {
	k := ResolveTopK(topK, p.defaultTopK)

	ectx := ctx
	if p.embedTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, p.embedTimeout)
		defer cancel()
	}

	vec, err := p.client.Embed(ectx, strings.TrimSpace(query))
	if err != nil {
		return nil, WrapEmbedErr(err)
	}

	return p.index.Search(ctx, vec, k)
}
