package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/perigee-labs/medrag/internal/ai"
	"github.com/perigee-labs/medrag/internal/config"
	"github.com/perigee-labs/medrag/internal/extract"
	"github.com/perigee-labs/medrag/internal/rag"
	"github.com/perigee-labs/medrag/internal/store"
)

// The ingest command walks a directory of report files, extracts their text
// and indexes every supported file into Postgres. Files the extractor cannot
// handle are skipped with a warning, not treated as failures.
func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("medrag-ingest", pflag.ExitOnError)
	dir := fs.String("dir", "./data/reports", "Directory to ingest")
	workers := fs.Int("workers", runtime.NumCPU(), "Number of concurrent ingest workers")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Batch ingestion always persists; a memory index would vanish with
	// the process.
	index := store.NewPgIndex(st, client, cfg.EmbedTimeout)

	pipeline, err := rag.New(client, index, rag.Settings{
		ChunkSize:       cfg.ChunkSize,
		ChunkOverlap:    cfg.ChunkOverlap,
		DefaultTopK:     cfg.DefaultTopK,
		MaxPromptChars:  cfg.MaxPromptChars,
		MaxPromptTokens: cfg.MaxPromptTokens,
		EmbedTimeout:    cfg.EmbedTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
		MaxAnswerTokens: cfg.MaxAnswerTokens,
		Temperature:     cfg.Temperature,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	n := *workers
	if n < 1 {
		n = 1
	}

	paths := make(chan string, n*2)
	var wg sync.WaitGroup
	var files, chunks, failures atomic.Int64

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				text, err := extract.Text(path)
				if err != nil {
					logger.Error().Err(err).Str("path", path).Msg("extraction failed")
					failures.Add(1)
					continue
				}
				count, err := pipeline.Ingest(ctx, path, text)
				chunks.Add(int64(count))
				if err != nil {
					logger.Error().Err(err).Str("path", path).Int("chunks", count).Msg("ingest failed")
					failures.Add(1)
					continue
				}
				files.Add(1)
			}
		}()
	}

	err = godirwalk.Walk(*dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if !extract.Supported(path) {
				logger.Debug().Str("path", path).Msg("skipping unsupported file")
				return nil
			}
			paths <- path
			return nil
		},
		Unsorted: true,
	})
	close(paths)
	wg.Wait()

	if err != nil {
		log.Fatalf("Walk failed: %v", err)
	}
	logger.Info().Int64("files", files.Load()).Int64("chunks", chunks.Load()).Int64("failures", failures.Load()).Msg("ingest complete")
	if failures.Load() > 0 {
		os.Exit(1)
	}
}

func clientConfigFor(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "vertexai", "google":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}, nil
	case "stub":
		return &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
