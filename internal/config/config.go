// Package config provides configuration loading for knowme.
//
// Configuration is read from an optional YAML file and overridden by
// KNOWME_-prefixed environment variables. Every section has defaults, so an
// empty file (or none at all) yields a working local setup apart from the
// language model API key.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Supported provider names.
var (
	vectorStoreProviders = []string{"qdrant", "chromem"}
	embeddingProviders   = []string{"tei", "openai", "fastembed"}
	rerankerProviders    = []string{"tei", "cohere", "simple"}
)

// Config holds the complete knowme configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Chromem     ChromemConfig     `koanf:"chromem"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Reranker    RerankerConfig    `koanf:"reranker"`
	Parser      ParserConfig      `koanf:"parser"`
	LLM         LLMConfig         `koanf:"llm"`
	Memory      MemoryConfig      `koanf:"memory"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// BodyLimit caps request bodies, in echo's size notation ("32M").
	BodyLimit string `koanf:"body_limit"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// VectorStoreConfig selects the store backend and names the collections.
type VectorStoreConfig struct {
	Provider          string `koanf:"provider"`
	ChunkCollection   string `koanf:"chunk_collection"`
	ProfileCollection string `koanf:"profile_collection"`
	VectorSize        int    `koanf:"vector_size"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host    string   `koanf:"host"`
	Port    int      `koanf:"port"`
	APIKey  Secret   `koanf:"api_key"`
	UseTLS  bool     `koanf:"use_tls"`
	Timeout Duration `koanf:"timeout"`
}

// ChromemConfig holds embedded store settings.
type ChromemConfig struct {
	// Path is the persistence directory; empty keeps data in memory.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider       string `koanf:"provider"`
	BaseURL        string `koanf:"base_url"`
	Model          string `koanf:"model"`
	APIKey         Secret `koanf:"api_key"`
	BatchSize      int    `koanf:"batch_size"`
	QueryPrefix    string `koanf:"query_prefix"`
	DocumentPrefix string `koanf:"document_prefix"`
	CacheDir       string `koanf:"cache_dir"`
}

// RerankerConfig configures the cross-encoder.
type RerankerConfig struct {
	Provider string   `koanf:"provider"`
	BaseURL  string   `koanf:"base_url"`
	Model    string   `koanf:"model"`
	APIKey   Secret   `koanf:"api_key"`
	Timeout  Duration `koanf:"timeout"`
}

// ParserConfig configures document parsing and chunking.
type ParserConfig struct {
	// BaseURL of the layout parsing service. Empty disables PDF parsing.
	BaseURL string   `koanf:"base_url"`
	Timeout Duration `koanf:"timeout"`
	// MaxUploadBytes caps a single uploaded document.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`
	TextLimit      int   `koanf:"text_limit"`
	FlexLimit      int   `koanf:"flex_limit"`
	TableLimit     int   `koanf:"table_limit"`
}

// LLMConfig configures the chat model and its invocation policy.
type LLMConfig struct {
	BaseURL      string   `koanf:"base_url"`
	Model        string   `koanf:"model"`
	APIKey       Secret   `koanf:"api_key"`
	SystemPrompt string   `koanf:"system_prompt"`
	Temperature  float64  `koanf:"temperature"`
	MaxAttempts  int      `koanf:"max_attempts"`
	Backoff      Duration `koanf:"backoff"`
	// RateLimit caps model calls per second; zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// MemoryConfig bounds per-user conversation memory.
type MemoryConfig struct {
	MaxMessages   int      `koanf:"max_messages"`
	IdleTTL       Duration `koanf:"idle_ttl"`
	SweepInterval Duration `koanf:"sweep_interval"`
}

// RetrievalConfig tunes the two-stage retrieval.
type RetrievalConfig struct {
	RecallLimit int     `koanf:"recall_limit"`
	TopK        int     `koanf:"top_k"`
	Threshold   float64 `koanf:"threshold"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// OTEL also ships logs through the OpenTelemetry bridge.
	OTEL bool `koanf:"otel"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults sets default values for missing configuration fields.
func (c *Config) ApplyDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = "32M"
	}

	// Vector store defaults
	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = "qdrant"
	}
	if c.VectorStore.ChunkCollection == "" {
		c.VectorStore.ChunkCollection = "knowme_chunks"
	}
	if c.VectorStore.ProfileCollection == "" {
		c.VectorStore.ProfileCollection = "knowme_profiles"
	}
	if c.VectorStore.VectorSize == 0 {
		c.VectorStore.VectorSize = 768 // intfloat/e5-base-v2
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.Timeout == 0 {
		c.Qdrant.Timeout = Duration(5 * time.Second)
	}

	// Embeddings defaults
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "tei"
	}
	if c.Embeddings.BaseURL == "" && c.Embeddings.Provider == "tei" {
		c.Embeddings.BaseURL = "http://localhost:8080"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "intfloat/e5-base-v2"
	}

	// Reranker defaults
	if c.Reranker.Provider == "" {
		c.Reranker.Provider = "tei"
	}
	if c.Reranker.BaseURL == "" && c.Reranker.Provider == "tei" {
		c.Reranker.BaseURL = "http://localhost:8081"
	}
	if c.Reranker.Timeout == 0 {
		c.Reranker.Timeout = Duration(30 * time.Second)
	}

	// Parser defaults
	if c.Parser.Timeout == 0 {
		c.Parser.Timeout = Duration(2 * time.Minute)
	}
	if c.Parser.MaxUploadBytes == 0 {
		c.Parser.MaxUploadBytes = 32 << 20
	}
	if c.Parser.TextLimit == 0 {
		c.Parser.TextLimit = 1500
	}
	if c.Parser.FlexLimit == 0 {
		c.Parser.FlexLimit = 1600
	}
	if c.Parser.TableLimit == 0 {
		c.Parser.TableLimit = 10000
	}

	// LLM defaults
	if c.LLM.Model == "" {
		c.LLM.Model = "gemini-2.5-flash"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.5
	}
	if c.LLM.MaxAttempts == 0 {
		c.LLM.MaxAttempts = 3
	}
	if c.LLM.Backoff == 0 {
		c.LLM.Backoff = Duration(10 * time.Second)
	}
	if c.LLM.Burst == 0 {
		c.LLM.Burst = 1
	}

	// Memory defaults
	if c.Memory.MaxMessages == 0 {
		c.Memory.MaxMessages = 50
	}
	if c.Memory.IdleTTL == 0 {
		c.Memory.IdleTTL = Duration(time.Hour)
	}

	// Retrieval defaults
	if c.Retrieval.RecallLimit == 0 {
		c.Retrieval.RecallLimit = 20
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.Threshold == 0 {
		c.Retrieval.Threshold = 0.3
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Telemetry defaults
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4317"
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = "grpc"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
}

// Validate validates the configuration.
// The LLM API key is not required here; commands that talk to the model
// check it when they build the client.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	if !slices.Contains(vectorStoreProviders, c.VectorStore.Provider) {
		errs = append(errs, fmt.Errorf("vectorstore.provider must be one of %v, got %q", vectorStoreProviders, c.VectorStore.Provider))
	}
	if c.VectorStore.VectorSize <= 0 {
		errs = append(errs, fmt.Errorf("vectorstore.vector_size must be positive, got %d", c.VectorStore.VectorSize))
	}
	if c.VectorStore.ChunkCollection == c.VectorStore.ProfileCollection {
		errs = append(errs, errors.New("vectorstore chunk and profile collections must differ"))
	}
	if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
		errs = append(errs, fmt.Errorf("qdrant.port must be 1-65535, got %d", c.Qdrant.Port))
	}

	if !slices.Contains(embeddingProviders, c.Embeddings.Provider) {
		errs = append(errs, fmt.Errorf("embeddings.provider must be one of %v, got %q", embeddingProviders, c.Embeddings.Provider))
	}
	if !slices.Contains(rerankerProviders, c.Reranker.Provider) {
		errs = append(errs, fmt.Errorf("reranker.provider must be one of %v, got %q", rerankerProviders, c.Reranker.Provider))
	}
	if c.Reranker.Provider == "cohere" && !c.Reranker.APIKey.IsSet() {
		errs = append(errs, errors.New("reranker.api_key is required for the cohere provider"))
	}

	if c.Parser.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("parser.max_upload_bytes must be positive"))
	}
	if c.Parser.FlexLimit < c.Parser.TextLimit {
		errs = append(errs, fmt.Errorf("parser.flex_limit (%d) must not be below parser.text_limit (%d)", c.Parser.FlexLimit, c.Parser.TextLimit))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature))
	}
	if c.LLM.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("llm.max_attempts must be at least 1, got %d", c.LLM.MaxAttempts))
	}
	if c.LLM.RateLimit < 0 {
		errs = append(errs, errors.New("llm.rate_limit must not be negative"))
	}

	if c.Memory.MaxMessages < 2 {
		errs = append(errs, fmt.Errorf("memory.max_messages must be at least 2, got %d", c.Memory.MaxMessages))
	}

	if c.Retrieval.TopK <= 0 || c.Retrieval.RecallLimit < c.Retrieval.TopK {
		errs = append(errs, fmt.Errorf("retrieval.top_k (%d) must be positive and at most retrieval.recall_limit (%d)", c.Retrieval.TopK, c.Retrieval.RecallLimit))
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.threshold must be between 0 and 1, got %g", c.Retrieval.Threshold))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %g", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}
