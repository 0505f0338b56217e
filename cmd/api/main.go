package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/perigee-labs/medrag/internal/ai"
	"github.com/perigee-labs/medrag/internal/auth"
	"github.com/perigee-labs/medrag/internal/config"
	"github.com/perigee-labs/medrag/internal/rag"
	"github.com/perigee-labs/medrag/internal/store"
)

func main() {
	// .env is optional; real deployments configure through the environment
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("medrag-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Bool("persist_index", cfg.PersistIndex).Msg("starting medrag api")

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	// The vector column's dimensionality follows the client.
	dim := client.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	var index rag.Index
	if cfg.PersistIndex {
		index = store.NewPgIndex(st, client, cfg.EmbedTimeout)
	} else {
		index = rag.NewMemoryIndex(client, cfg.EmbedTimeout)
	}

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

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("Failed to create upload dir: %v", err)
	}

	authSvc := auth.NewService(cfg.Auth.JwtSecret, cfg.Auth.Enabled)
	if authSvc.Enabled() {
		logger.Info().Msg("authentication is enabled")
	} else {
		logger.Info().Msg("authentication is disabled - running in open mode")
	}

	srv := &server{
		pipeline:  pipeline,
		store:     st,
		auth:      authSvc,
		uploadDir: cfg.UploadDir,
		log:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("POST /login", srv.handleLogin)

	protected := func(h http.HandlerFunc) http.HandlerFunc { return authSvc.Middleware(h) }
	mux.HandleFunc("POST /ingest", protected(srv.handleIngest))
	mux.HandleFunc("POST /upload/document", protected(srv.handleUploadDocument))
	mux.HandleFunc("POST /rag/summarize", protected(srv.handleSummarize))
	mux.HandleFunc("POST /rag/answer", protected(srv.handleAnswer))

	mux.HandleFunc("POST /summarize", protected(srv.handleSummarizeText))
	mux.HandleFunc("POST /analyze", protected(srv.handleAnalyzeReport))
	mux.HandleFunc("POST /extract/lab", protected(srv.handleExtractLab))
	mux.HandleFunc("POST /analyze/ehr", protected(srv.handleAnalyzeEHR))

	mux.HandleFunc("GET /patients", protected(srv.handleListPatients))
	mux.HandleFunc("POST /patients", protected(srv.handleCreatePatient))
	mux.HandleFunc("GET /patients/{id}/prescriptions", protected(srv.handleListPrescriptions))
	mux.HandleFunc("POST /prescriptions", protected(srv.handleCreatePrescription))
	mux.HandleFunc("GET /patients/{id}/reports", protected(srv.handleListReports))
	mux.HandleFunc("POST /reports", protected(srv.handleUploadReport))
	mux.HandleFunc("GET /files/{filename}", protected(srv.handleServeFile))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
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
