package ai

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
)

// GenerateParams tunes a single generation call. Zero values mean
// provider defaults.
type GenerateParams struct {
	MaxTokens   int
	Temperature float32
}

// Client provides both embedding and text-generation capabilities.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Generate(ctx context.Context, prompt string, p GenerateParams) (string, error)
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	GenModel   string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
	BaseURL    string // OpenAI-compatible endpoint override, mainly for tests
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a deterministic offline implementation of Client for tests
// and local development. Embeddings are unit vectors derived from token
// hashes, so identical text always maps to the identical vector.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 64
	}
	return &StubClient{dim: dim}
}

// Embed hashes the text into a normalized vector of the configured dimension.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, s.dim)
	h := fnv.New32a()
	for i := 0; i < len(text); i++ {
		_, _ = h.Write([]byte{text[i]})
		v := h.Sum32()
		vec[v%uint32(s.dim)] += float32(v%251)/251.0 - 0.5
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

// Generate returns a canned completion that echoes the head of the prompt.
func (s *StubClient) Generate(ctx context.Context, prompt string, p GenerateParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	head := prompt
	if len(head) > 120 {
		head = head[:120]
	}
	return fmt.Sprintf("[stub completion] %s", head), nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
