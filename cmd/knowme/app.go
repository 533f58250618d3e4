package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowme/internal/chat"
	"github.com/fyrsmithlabs/knowme/internal/chunker"
	"github.com/fyrsmithlabs/knowme/internal/config"
	"github.com/fyrsmithlabs/knowme/internal/documents"
	"github.com/fyrsmithlabs/knowme/internal/embeddings"
	httpserver "github.com/fyrsmithlabs/knowme/internal/http"
	"github.com/fyrsmithlabs/knowme/internal/llm"
	"github.com/fyrsmithlabs/knowme/internal/logging"
	"github.com/fyrsmithlabs/knowme/internal/parser"
	"github.com/fyrsmithlabs/knowme/internal/profile"
	"github.com/fyrsmithlabs/knowme/internal/reranker"
	"github.com/fyrsmithlabs/knowme/internal/retrieval"
	"github.com/fyrsmithlabs/knowme/internal/telemetry"
	"github.com/fyrsmithlabs/knowme/internal/vectorstore"
)

// app holds the wired components of one process.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	store    vectorstore.Store
	embedder embeddings.Provider
	reranker reranker.Reranker
	memory   *llm.Memory

	documents *documents.Service
	profiles  *profile.Store
	chat      *chat.Service

	closers []func() error
}

// features selects the optional parts of an app.
type features struct {
	// chat wires retrieval, the reranker and the language model.
	chat bool
}

// newApp builds the components cfg describes. Close releases them.
func newApp(ctx context.Context, cfg *config.Config, f features) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.initObservability(ctx); err != nil {
		return nil, err
	}
	z := a.logger.Underlying()

	a.store, err = vectorstore.New(storeConfig(cfg), z)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	a.embedder, err = embeddings.NewProvider(embeddingConfig(cfg), z)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	a.closers = append(a.closers, a.embedder.Close)
	if dim := a.embedder.Dimension(); dim != cfg.VectorStore.VectorSize {
		return nil, fmt.Errorf("embedding dimension %d does not match vectorstore.vector_size %d", dim, cfg.VectorStore.VectorSize)
	}

	a.documents, err = documents.NewService(documentsConfig(cfg), a.store, a.embedder,
		newParsers(cfg, z), chunker.New(chunkerConfig(cfg), z), z)
	if err != nil {
		return nil, err
	}
	a.profiles, err = profile.NewStore(&profile.Config{
		Collection: cfg.VectorStore.ProfileCollection,
		VectorSize: cfg.VectorStore.VectorSize,
	}, a.store, a.embedder, z)
	if err != nil {
		return nil, err
	}
	if err := a.documents.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("preparing chunk collection: %w", err)
	}
	if err := a.profiles.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("preparing profile collection: %w", err)
	}

	if f.chat {
		if err := a.initChat(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// initObservability sets up telemetry and the logger. Logs reach the OTEL
// bridge only once telemetry is up, so the logger is built twice when the
// bridge is enabled.
func (a *app) initObservability(ctx context.Context) error {
	logCfg, err := logging.FromSettings(a.cfg.Logging.Level, a.cfg.Logging.Format, false)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	a.logger, err = logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(a.cfg.Telemetry, version), a.logger.Underlying())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.telemetry.Shutdown(ctx)
	})

	if a.cfg.Logging.OTEL && a.telemetry.Enabled() {
		logCfg.Output.OTEL = true
		a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider())
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	a.closers = append(a.closers, func() error {
		_ = a.logger.Sync()
		return nil
	})
	return nil
}

func (a *app) initChat() error {
	z := a.logger.Underlying()

	var err error
	a.reranker, err = reranker.New(rerankerConfig(a.cfg), z)
	if err != nil {
		return fmt.Errorf("creating reranker: %w", err)
	}
	a.closers = append(a.closers, a.reranker.Close)

	pipeline, err := retrieval.NewPipeline(retrievalConfig(a.cfg), a.store, a.embedder, a.reranker, a.profiles, z)
	if err != nil {
		return err
	}

	model, err := llm.NewModel(llm.ClientConfig{
		BaseURL: a.cfg.LLM.BaseURL,
		Model:   a.cfg.LLM.Model,
		APIKey:  a.cfg.LLM.APIKey.Value(),
	})
	if err != nil {
		return fmt.Errorf("creating language model client: %w", err)
	}

	a.memory = llm.NewMemory(llm.MemoryConfig{
		MaxMessages:   a.cfg.Memory.MaxMessages,
		IdleTTL:       a.cfg.Memory.IdleTTL.Duration(),
		SweepInterval: a.cfg.Memory.SweepInterval.Duration(),
	}, z)
	a.closers = append(a.closers, a.memory.Close)

	invoker, err := llm.NewInvoker(model, a.memory, invokerConfig(a.cfg), z)
	if err != nil {
		return err
	}

	a.chat, err = chat.NewService(pipeline, invoker, a.memory, z)
	return err
}

// health reports whether the vector store answers.
func (a *app) health(ctx context.Context) error {
	_, err := a.store.Scroll(ctx, a.cfg.VectorStore.ChunkCollection, nil, 1)
	return err
}

// server builds the HTTP server. The app must have been built with chat.
func (a *app) server() (*httpserver.Server, error) {
	if a.chat == nil {
		return nil, errors.New("http server requires the chat service")
	}
	return httpserver.NewServer(httpserver.Dependencies{
		Documents: a.documents,
		Chat:      a.chat,
		Profiles:  a.profiles,
		Health:    a.health,
	}, a.logger, &httpserver.Config{
		Host:            a.cfg.Server.Host,
		Port:            a.cfg.Server.Port,
		BodyLimit:       a.cfg.Server.BodyLimit,
		MaxUploadBytes:  a.cfg.Parser.MaxUploadBytes,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Duration(),
	})
}

// Close releases components in reverse creation order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func storeConfig(cfg *config.Config) vectorstore.Config {
	return vectorstore.Config{
		Provider: cfg.VectorStore.Provider,
		Qdrant: vectorstore.QdrantConfig{
			Host:          cfg.Qdrant.Host,
			Port:          cfg.Qdrant.Port,
			APIKey:        cfg.Qdrant.APIKey.Value(),
			UseTLS:        cfg.Qdrant.UseTLS,
			Timeout:       cfg.Qdrant.Timeout.Duration(),
			IndexedFields: []string{documents.FieldUserID, documents.FieldSource},
		},
		Chromem: vectorstore.ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		},
	}
}

func embeddingConfig(cfg *config.Config) embeddings.ProviderConfig {
	return embeddings.ProviderConfig{
		Provider:       cfg.Embeddings.Provider,
		Model:          cfg.Embeddings.Model,
		BaseURL:        cfg.Embeddings.BaseURL,
		APIKey:         cfg.Embeddings.APIKey.Value(),
		Dimension:      cfg.VectorStore.VectorSize,
		BatchSize:      cfg.Embeddings.BatchSize,
		QueryPrefix:    cfg.Embeddings.QueryPrefix,
		DocumentPrefix: cfg.Embeddings.DocumentPrefix,
		CacheDir:       cfg.Embeddings.CacheDir,
	}
}

func rerankerConfig(cfg *config.Config) reranker.Config {
	return reranker.Config{
		Provider: cfg.Reranker.Provider,
		BaseURL:  cfg.Reranker.BaseURL,
		Model:    cfg.Reranker.Model,
		APIKey:   cfg.Reranker.APIKey.Value(),
		Timeout:  cfg.Reranker.Timeout.Duration(),
	}
}

func documentsConfig(cfg *config.Config) *documents.Config {
	dc := documents.DefaultConfig()
	dc.Collection = cfg.VectorStore.ChunkCollection
	dc.VectorSize = cfg.VectorStore.VectorSize
	return dc
}

func chunkerConfig(cfg *config.Config) chunker.Config {
	return chunker.Config{
		TextLimit:  cfg.Parser.TextLimit,
		FlexLimit:  cfg.Parser.FlexLimit,
		TableLimit: cfg.Parser.TableLimit,
	}
}

func retrievalConfig(cfg *config.Config) *retrieval.Config {
	return &retrieval.Config{
		Collection:  cfg.VectorStore.ChunkCollection,
		RecallLimit: cfg.Retrieval.RecallLimit,
		TopK:        cfg.Retrieval.TopK,
		Threshold:   float32(cfg.Retrieval.Threshold),
	}
}

func invokerConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		SystemPrompt: cfg.LLM.SystemPrompt,
		Temperature:  cfg.LLM.Temperature,
		MaxAttempts:  cfg.LLM.MaxAttempts,
		Backoff:      cfg.LLM.Backoff.Duration(),
		RateLimit:    cfg.LLM.RateLimit,
		Burst:        cfg.LLM.Burst,
	}
}

// newParsers registers the plain text parser and, when a parsing service
// is configured, the PDF parser.
func newParsers(cfg *config.Config, logger *zap.Logger) *parser.Registry {
	reg := parser.NewRegistry()
	reg.Register(parser.TextParser{MaxBytes: cfg.Parser.MaxUploadBytes}, ".txt", ".md")
	if cfg.Parser.BaseURL == "" {
		logger.Warn("parser.base_url not set, PDF documents cannot be parsed")
		return reg
	}
	p, err := parser.NewHTTPParser(parser.HTTPConfig{
		BaseURL: cfg.Parser.BaseURL,
		Timeout: cfg.Parser.Timeout.Duration(),
	}, logger)
	if err != nil {
		logger.Warn("pdf parser disabled", zap.Error(err))
		return reg
	}
	reg.Register(p, ".pdf")
	return reg
}
