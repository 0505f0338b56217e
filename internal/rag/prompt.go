package rag

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/perigee-labs/medrag/pkg/models"
)

// Assembler renders a bounded prompt from an instruction and a ranked chunk
// set. Chunks are concatenated in descending-score order, each tagged with
// its provenance, and dropped from the low-scoring end when the budget is
// exceeded. The top chunk is never dropped, even if it alone overshoots the
// budget.
type Assembler struct {
	maxChars  int
	maxTokens int
	enc       *tiktoken.Tiktoken
}

// NewAssembler builds an Assembler. maxChars must be positive; maxTokens is
// an optional second budget measured with the cl100k_base encoding (0
// disables token counting and avoids loading the encoder).
func NewAssembler(maxChars, maxTokens int) (*Assembler, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("%w: max prompt chars must be positive, got %d", ErrChunkConfig, maxChars)
	}
	a := &Assembler{maxChars: maxChars, maxTokens: maxTokens}
	if maxTokens > 0 {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("load token encoder: %w", err)
		}
		a.enc = enc
	}
	return a, nil
}

// Assemble returns the prompt text and the chunks actually included, which
// may be a strict subset of results after truncation. The returned subset
// is what callers must report as "chunks used". Empty results produce the
// bare instruction and an empty (non-nil) chunk list.
func (a *Assembler) Assemble(instruction string, results []models.SearchResult) (string, []models.Chunk) {
	return a.AssembleWithTail(instruction, "", results)
}

// AssembleWithTail appends tail after the context block and counts it
// against the budget, so a prompt with a trailing question still fits.
func (a *Assembler) AssembleWithTail(instruction, tail string, results []models.SearchResult) (string, []models.Chunk) {
	if len(results) == 0 {
		return instruction + tail, []models.Chunk{}
	}

	// Shrink from the tail until both budgets are met, but keep at least
	// the single top chunk.
	n := len(results)
	prompt := a.render(instruction, results[:n]) + tail
	for n > 1 && a.overBudget(prompt) {
		n--
		prompt = a.render(instruction, results[:n]) + tail
	}

	used := make([]models.Chunk, 0, n)
	for _, r := range results[:n] {
		used = append(used, r.Chunk)
	}
	return prompt, used
}

func (a *Assembler) overBudget(prompt string) bool {
	if len(prompt) > a.maxChars {
		return true
	}
	if a.enc != nil && len(a.enc.Encode(prompt, nil, nil)) > a.maxTokens {
		return true
	}
	return false
}

func (a *Assembler) render(instruction string, results []models.SearchResult) string {
	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\nContext:\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "[source %s chars %d-%d]\n%s\n\n", r.Chunk.DocID, r.Chunk.CharStart, r.Chunk.CharEnd, r.Chunk.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}
