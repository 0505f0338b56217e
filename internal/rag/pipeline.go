package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/perigee-labs/medrag/internal/ai"
	"github.com/perigee-labs/medrag/pkg/models"
)

const (
	summaryInstruction = "Produce a comprehensive summary of the medical report using only the provided context."
	answerInstruction  = "Answer the question using only the provided context."

	// defaultSummaryQuery drives retrieval when a summary request carries
	// no query of its own.
	defaultSummaryQuery = "Provide a comprehensive summary of the medical report"
)

// Settings are the pipeline tunables, normally taken from config.
type Settings struct {
	ChunkSize       int
	ChunkOverlap    int
	DefaultTopK     int
	MaxPromptChars  int
	MaxPromptTokens int
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	MaxAnswerTokens int
	Temperature     float32
}

// Pipeline is the public entry point to retrieval-augmented generation. It
// owns no global state; construct one per index and pass it by reference.
type Pipeline struct {
	chunker         *Chunker
	index           Index
	planner         *Planner
	assembler       *Assembler
	client          ai.Client
	generateTimeout time.Duration
	params          ai.GenerateParams
	log             zerolog.Logger
}

// New wires a pipeline over the given collaborator and index. Invalid
// chunking or budget settings fail here, before any request is served.
func New(client ai.Client, index Index, s Settings, log zerolog.Logger) (*Pipeline, error) {
	chunker, err := NewChunker(s.ChunkSize, s.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	assembler, err := NewAssembler(s.MaxPromptChars, s.MaxPromptTokens)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		chunker:         chunker,
		index:           index,
		planner:         NewPlanner(client, index, s.DefaultTopK, s.EmbedTimeout),
		assembler:       assembler,
		client:          client,
		generateTimeout: s.GenerateTimeout,
		params: ai.GenerateParams{
			MaxTokens:   s.MaxAnswerTokens,
			Temperature: s.Temperature,
		},
		log: log,
	}, nil
}

// Index exposes the underlying corpus, mainly for health reporting.
func (p *Pipeline) Index() Index {
	return p.index
}

// Ingest chunks the document and inserts each chunk. Ingestion is not
// transactional: on failure the chunks inserted so far stay in the index
// and the returned count says how many made it. Re-ingesting the same text
// appends a fresh set of chunks; nothing is deduplicated.
func (p *Pipeline) Ingest(ctx context.Context, docID, text string) (int, error) {
	count := 0
	for span := range p.chunker.Spans(text) {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if _, err := p.index.Insert(ctx, docID, span); err != nil {
			return count, fmt.Errorf("ingest %s after %d chunks: %w", docID, count, err)
		}
		count++
	}
	p.log.Info().Str("doc_id", docID).Int("chunks", count).Int("text_len", len(text)).Msg("document ingested")
	return count, nil
}

// Summarize retrieves context for the query (or a default query when blank)
// and asks the generation collaborator for a summary grounded in it. An
// empty index is not an error: generation still runs on the bare
// instruction and the result reports zero chunks. On generation failure the
// returned result still carries the chunks that were selected.
func (p *Pipeline) Summarize(ctx context.Context, query string, topK *int) (models.RAGSummary, error) {
	if strings.TrimSpace(query) == "" {
		query = defaultSummaryQuery
	}

	results, err := p.planner.Plan(ctx, query, topK)
	if err != nil {
		return models.RAGSummary{}, err
	}

	prompt, used := p.assembler.Assemble(summaryInstruction, results)
	out := models.RAGSummary{ChunksUsed: used, ChunkCount: len(used)}

	text, err := p.generate(ctx, prompt)
	if err != nil {
		return out, err
	}
	out.Summary = text

	p.log.Info().Int("chunks_used", len(used)).Int("summary_len", len(text)).Msg("summary generated")
	return out, nil
}

// Answer is Summarize's question-answering sibling: same retrieval and
// budgeting, with the question appended to the grounded prompt.
func (p *Pipeline) Answer(ctx context.Context, question string, topK *int) (models.RAGAnswer, error) {
	results, err := p.planner.Plan(ctx, question, topK)
	if err != nil {
		return models.RAGAnswer{}, err
	}

	// The question rides inside the assembler's budget so the final prompt
	// never overshoots it.
	tail := "\n\nQuestion: " + question + "\nAnswer:"
	prompt, used := p.assembler.AssembleWithTail(answerInstruction, tail, results)
	out := models.RAGAnswer{Question: question, ChunksUsed: used, ChunkCount: len(used)}

	text, err := p.generate(ctx, prompt)
	if err != nil {
		return out, err
	}
	out.Answer = text

	p.log.Info().Int("chunks_used", len(used)).Str("question", question).Msg("answer generated")
	return out, nil
}

func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	return p.generateWith(ctx, prompt, p.params)
}

func (p *Pipeline) generateWith(ctx context.Context, prompt string, params ai.GenerateParams) (string, error) {
	gctx := ctx
	if p.generateTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, p.generateTimeout)
		defer cancel()
	}

	text, err := p.client.Generate(gctx, prompt, params)
	if err != nil {
		return "", WrapGenerateErr(err)
	}
	return text, nil
}
