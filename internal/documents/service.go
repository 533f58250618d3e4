// Package documents stores user documents as embedded chunks.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowme/internal/chunker"
	"github.com/fyrsmithlabs/knowme/internal/embeddings"
	"github.com/fyrsmithlabs/knowme/internal/parser"
	"github.com/fyrsmithlabs/knowme/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/knowme/internal/documents"

// ErrNotFound is returned when a scoped lookup matches no chunks.
var ErrNotFound = errors.New("not found")

// Payload keys of chunk records.
const (
	FieldText   = "text"
	FieldPage   = "page"
	FieldSource = "source"
	FieldType   = "type"
	FieldUserID = "user_id"
)

const (
	defaultSource = "unknown"
	defaultPage   = 1
)

// Record is a persisted chunk.
type Record struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Page   int    `json:"page"`
	Source string `json:"source"`
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// UploadResult describes a processed upload.
type UploadResult struct {
	Filename string          `json:"filename"`
	Chunks   []chunker.Chunk `json:"chunks"`
	Stored   []Record        `json:"-"`
}

// Config configures the document service.
type Config struct {
	// Collection holds chunk records. Default: knowme_chunks
	Collection string
	// VectorSize is the embedding dimension. Default: 768
	VectorSize int
	// ListLimit caps records scanned by ListSources. Default: 1000
	ListLimit int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Collection: "knowme_chunks",
		VectorSize: 768,
		ListLimit:  1000,
	}
}

// Service ingests, lists and deletes user documents.
type Service struct {
	config   *Config
	store    vectorstore.Store
	embedder embeddings.Embedder
	parser   parser.Parser
	chunker  *chunker.Chunker
	logger   *zap.Logger

	tracer        trace.Tracer
	storedCounter metric.Int64Counter
}

// NewService creates a document service. Parser and chunker are only
// needed by Upload.
func NewService(cfg *Config, store vectorstore.Store, embedder embeddings.Embedder, p parser.Parser, ch *chunker.Chunker, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, errors.New("vector store is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ch == nil {
		ch = chunker.New(chunker.Config{}, logger)
	}

	s := &Service{
		config:   cfg,
		store:    store,
		embedder: embedder,
		parser:   p,
		chunker:  ch,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}

	var err error
	s.storedCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"knowme.documents.chunks_stored_total",
		metric.WithDescription("Total number of chunk records stored"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		logger.Warn("failed to create chunks counter", zap.Error(err))
	}
	return s, nil
}

// EnsureCollection creates the chunk collection if it does not exist.
func (s *Service) EnsureCollection(ctx context.Context) error {
	return s.store.EnsureCollection(ctx, s.config.Collection, s.config.VectorSize, vectorstore.DistanceCosine)
}

// Ingest embeds chunks in one batch and stores those with non-blank content
// under userID. Every stored record gets a fresh ID, so re-ingesting the same
// chunks stores duplicates.
func (s *Service) Ingest(ctx context.Context, userID string, chunks []chunker.Chunk) (_ []Record, err error) {
	ctx, span := s.tracer.Start(ctx, "documents.ingest")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int("chunks.input", len(chunks)))

	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", vectorstore.ErrInvalidRequest)
	}
	if len(chunks) == 0 {
		return []Record{}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	records := make([]Record, 0, len(chunks))
	points := make([]vectorstore.Record, 0, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		rec := newRecord(userID, c)
		records = append(records, rec)
		points = append(points, vectorstore.Record{
			ID:      rec.ID,
			Vector:  vectors[i],
			Payload: rec.payload(),
		})
	}

	if len(points) > 0 {
		if err := s.store.Upsert(ctx, s.config.Collection, points); err != nil {
			return nil, fmt.Errorf("storing chunks: %w", err)
		}
	}

	span.SetAttributes(attribute.Int("chunks.stored", len(records)))
	if s.storedCounter != nil {
		s.storedCounter.Add(ctx, int64(len(records)))
	}
	s.logger.Info("ingested chunks",
		zap.String("user_id", userID),
		zap.Int("input", len(chunks)),
		zap.Int("stored", len(records)))
	return records, nil
}

// Upload parses and chunks a document, then ingests the chunks.
func (s *Service) Upload(ctx context.Context, userID, filename string, r io.Reader) (*UploadResult, error) {
	if s.parser == nil {
		return nil, errors.New("no document parser configured")
	}
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "." || name == "/" || name == "" {
		return nil, fmt.Errorf("%w: filename required", vectorstore.ErrInvalidRequest)
	}

	pages, err := s.parser.Parse(ctx, name, r)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}

	chunks := s.chunker.Chunk(name, pages)
	stored, err := s.Ingest(ctx, userID, chunks)
	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []chunker.Chunk{}
	}
	return &UploadResult{Filename: name, Chunks: chunks, Stored: stored}, nil
}

// ListSources returns the distinct document names stored for userID, sorted.
func (s *Service) ListSources(ctx context.Context, userID string) (_ []string, err error) {
	ctx, span := s.tracer.Start(ctx, "documents.list_sources")
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", vectorstore.ErrInvalidRequest)
	}

	records, err := s.store.Scroll(ctx, s.config.Collection, vectorstore.Filter{FieldUserID: userID}, s.config.ListLimit)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}

	seen := make(map[string]struct{})
	sources := []string{}
	for _, r := range records {
		src := r.String(FieldSource)
		if src == "" {
			continue
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources, nil
}

// DeleteSource removes every chunk of the named document stored for userID
// and returns the normalized name. It fails with ErrNotFound when no chunk matches.
func (s *Service) DeleteSource(ctx context.Context, userID, name string) (_ string, err error) {
	ctx, span := s.tracer.Start(ctx, "documents.delete_source")
	defer func() { endSpan(span, err) }()

	source := filepath.Base(strings.TrimSpace(name))
	if source == "." || source == "/" || source == "" {
		return "", fmt.Errorf("%w: document name required", vectorstore.ErrInvalidRequest)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: user id required", vectorstore.ErrInvalidRequest)
	}
	span.SetAttributes(attribute.String("source", source))

	filter := vectorstore.Filter{FieldUserID: userID, FieldSource: source}
	existing, err := s.store.Scroll(ctx, s.config.Collection, filter, 1)
	if err != nil {
		return "", fmt.Errorf("checking %s: %w", source, err)
	}
	if len(existing) == 0 {
		return "", fmt.Errorf("%w: no chunks for document %q", ErrNotFound, source)
	}

	if err := s.store.Delete(ctx, s.config.Collection, filter); err != nil {
		return "", fmt.Errorf("deleting %s: %w", source, err)
	}
	s.logger.Info("deleted document", zap.String("user_id", userID), zap.String("source", source))
	return source, nil
}

func newRecord(userID string, c chunker.Chunk) Record {
	rec := Record{
		ID:     uuid.New().String(),
		Text:   c.Content,
		Page:   c.Page,
		Source: filepath.Base(c.Source),
		Type:   c.Type,
		UserID: userID,
	}
	if rec.Page <= 0 {
		rec.Page = defaultPage
	}
	if c.Source == "" {
		rec.Source = defaultSource
	}
	if rec.Type == "" {
		rec.Type = chunker.TypeText
	}
	return rec
}

func (r Record) payload() map[string]any {
	return map[string]any{
		FieldText:   r.Text,
		FieldPage:   r.Page,
		FieldSource: r.Source,
		FieldType:   r.Type,
		FieldUserID: r.UserID,
	}
}

// RecordFromStore converts a stored chunk payload back into a Record.
func RecordFromStore(r vectorstore.Record) Record {
	src := r.String(FieldSource)
	if src == "" {
		src = defaultSource
	}
	return Record{
		ID:     r.ID,
		Text:   r.String(FieldText),
		Page:   r.Int(FieldPage, defaultPage),
		Source: src,
		Type:   r.String(FieldType),
		UserID: r.String(FieldUserID),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
