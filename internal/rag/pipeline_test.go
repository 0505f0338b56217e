package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/perigee-labs/medrag/internal/ai"
)

func testSettings() Settings {
	return Settings{
		ChunkSize:      500,
		ChunkOverlap:   50,
		DefaultTopK:    5,
		MaxPromptChars: 12000,
	}
}

func newTestPipeline(t *testing.T, client ai.Client) *Pipeline {
	t.Helper()
	p, err := New(client, NewMemoryIndex(client, 0), testSettings(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewRejectsBadSettings(t *testing.T) {
	client := ai.NewStubClient(8)
	s := testSettings()
	s.ChunkOverlap = s.ChunkSize
	if _, err := New(client, NewMemoryIndex(client, 0), s, zerolog.Nop()); !errors.Is(err, ErrChunkConfig) {
		t.Fatalf("expected ErrChunkConfig, got %v", err)
	}
}

func TestPipelineIngest(t *testing.T) {
	p := newTestPipeline(t, ai.NewStubClient(8))
	ctx := context.Background()

	text := strings.Repeat("a", 5000)
	count, err := p.Ingest(ctx, "report-1", text)
	if err != nil {
		t.Fatal(err)
	}
	if count != 11 {
		t.Errorf("Ingest = %d chunks, want 11", count)
	}
	if n, _ := p.Index().Count(ctx); n != 11 {
		t.Errorf("index holds %d chunks, want 11", n)
	}
}

func TestPipelineReingestAppends(t *testing.T) {
	p := newTestPipeline(t, ai.NewStubClient(8))
	ctx := context.Background()
	text := strings.Repeat("a", 1000)

	first, err := p.Ingest(ctx, "report-1", text)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Ingest(ctx, "report-1", text)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("re-ingest produced %d chunks, first pass produced %d", second, first)
	}
	// Nothing is deduplicated; both passes are in the index.
	if n, _ := p.Index().Count(ctx); n != first+second {
		t.Errorf("index holds %d chunks, want %d", n, first+second)
	}
}

func TestPipelinePartialIngest(t *testing.T) {
	// Embedding fails on the fourth chunk; the first three must survive
	// and the count must say how many made it.
	calls := 0
	client := &mockClient{
		embedFunc: func(ctx context.Context, text string) ([]float32, error) {
			calls++
			if calls > 3 {
				return nil, errors.New("collaborator down")
			}
			return []float32{1, 0}, nil
		},
	}
	p := newTestPipeline(t, client)
	ctx := context.Background()

	count, err := p.Ingest(ctx, "report-1", strings.Repeat("a", 3000))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrEmbedding) {
		t.Errorf("expected ErrEmbedding, got %v", err)
	}
	if count != 3 {
		t.Errorf("partial count = %d, want 3", count)
	}
	if n, _ := p.Index().Count(ctx); n != 3 {
		t.Errorf("index holds %d chunks, want 3", n)
	}
}

func TestPipelineSummarizeEmptyIndex(t *testing.T) {
	// Retrieval over an empty index is not an error: generation runs on
	// the bare instruction and the result reports zero chunks.
	p := newTestPipeline(t, ai.NewStubClient(8))

	out, err := p.Summarize(context.Background(), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Summary == "" {
		t.Error("expected a summary even with an empty index")
	}
	if out.ChunkCount != 0 || len(out.ChunksUsed) != 0 {
		t.Errorf("empty index reported %d chunks used", out.ChunkCount)
	}
	if out.ChunksUsed == nil {
		t.Error("chunks_used must be non-nil")
	}
}

func TestPipelineSummarizeUsesContext(t *testing.T) {
	p := newTestPipeline(t, ai.NewStubClient(8))
	ctx := context.Background()

	if _, err := p.Ingest(ctx, "report-1", strings.Repeat("The patient is stable. ", 100)); err != nil {
		t.Fatal(err)
	}

	out, err := p.Summarize(ctx, "patient condition", intPtr(3))
	if err != nil {
		t.Fatal(err)
	}
	if out.ChunkCount != 3 || len(out.ChunksUsed) != 3 {
		t.Errorf("ChunkCount = %d with %d chunks, want 3", out.ChunkCount, len(out.ChunksUsed))
	}
	if out.Summary == "" {
		t.Error("empty summary")
	}
}

func TestPipelineAnswer(t *testing.T) {
	var seenPrompt string
	client := &mockClient{
		embedFunc: fixedEmbed([]float32{1, 0}),
		generateFunc: func(ctx context.Context, prompt string, p ai.GenerateParams) (string, error) {
			seenPrompt = prompt
			return "The dosage is 5mg.", nil
		},
	}
	p := newTestPipeline(t, client)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, "report-1", strings.Repeat("Dosage details. ", 50)); err != nil {
		t.Fatal(err)
	}

	out, err := p.Answer(ctx, "What is the dosage?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Answer != "The dosage is 5mg." {
		t.Errorf("Answer = %q", out.Answer)
	}
	if out.Question != "What is the dosage?" {
		t.Errorf("Question not echoed: %q", out.Question)
	}
	if out.ChunkCount == 0 {
		t.Error("no chunks were used")
	}
	if !strings.Contains(seenPrompt, "Question: What is the dosage?") {
		t.Error("prompt does not carry the question")
	}
	if !strings.HasSuffix(seenPrompt, "Answer:") {
		t.Error("prompt does not end with the answer cue")
	}
}

func TestPipelineGenerationFailureKeepsChunks(t *testing.T) {
	client := &mockClient{
		embedFunc: fixedEmbed([]float32{1, 0}),
		generateFunc: func(context.Context, string, ai.GenerateParams) (string, error) {
			return "", errors.New("model overloaded")
		},
	}
	p := newTestPipeline(t, client)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, "report-1", strings.Repeat("a", 1200)); err != nil {
		t.Fatal(err)
	}

	out, err := p.Summarize(ctx, "anything", nil)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	// The caller can still see what retrieval selected.
	if out.ChunkCount == 0 || len(out.ChunksUsed) == 0 {
		t.Error("failed generation dropped the retrieved chunks")
	}
	if out.Summary != "" {
		t.Errorf("summary should be empty on failure, got %q", out.Summary)
	}
}

func TestPipelineGenerationTimeout(t *testing.T) {
	client := &mockClient{
		embedFunc: fixedEmbed([]float32{1, 0}),
		generateFunc: func(ctx context.Context, _ string, _ ai.GenerateParams) (string, error) {
			return "", context.DeadlineExceeded
		},
	}
	p := newTestPipeline(t, client)

	_, err := p.Answer(context.Background(), "anything", nil)
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("expected ErrGenerationTimeout, got %v", err)
	}
}
