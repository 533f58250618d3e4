// Package retrieval assembles grounding text for a chat turn.
//
// A turn runs coarse recall over the user's chunks by embedding
// similarity, reranks the candidates with a pairwise relevance model,
// keeps the best few above a relevance threshold and formats them, with
// the user's profile, into the text handed to the language model.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowme/internal/documents"
	"github.com/fyrsmithlabs/knowme/internal/embeddings"
	"github.com/fyrsmithlabs/knowme/internal/reranker"
	"github.com/fyrsmithlabs/knowme/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/knowme/internal/retrieval"

const (
	// BlockSeparator joins context blocks.
	BlockSeparator = "\n---\n"

	DefaultRecallLimit = 20
	DefaultTopK        = 5
	DefaultThreshold   = 0.3
)

// ProfileSource loads a user's profile text; "" means no profile.
type ProfileSource interface {
	Get(ctx context.Context, userID string) (string, error)
}

// Config tunes the pipeline.
type Config struct {
	// Collection holds chunk records. Default: knowme_chunks
	Collection string
	// RecallLimit is the number of coarse candidates. Default: 20
	RecallLimit int
	// TopK caps the number of context blocks. Default: 5
	TopK int
	// Threshold is the minimum relevance score kept. Default: 0.3
	Threshold float32
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Collection:  "knowme_chunks",
		RecallLimit: DefaultRecallLimit,
		TopK:        DefaultTopK,
		Threshold:   DefaultThreshold,
	}
}

// Candidate is a chunk that survived reranking.
type Candidate struct {
	Chunk      documents.Record `json:"chunk"`
	Similarity float32          `json:"similarity"`
	Relevance  float32          `json:"relevance"`
	RecallRank int              `json:"recall_rank"`
}

// Grounding is the retrieval result for one query.
type Grounding struct {
	// Text is the full grounding text.
	Text string
	// Context is the joined context blocks, "" when nothing survived.
	Context string
	// Profile is the user's profile text, possibly "".
	Profile string
	// Citations has one "{source} (Page {page})" entry per context block.
	Citations []string
	// Candidates are the surviving chunks in context order.
	Candidates []Candidate
}

// Pipeline runs retrieval. It is safe for concurrent use.
type Pipeline struct {
	config   *Config
	store    vectorstore.Store
	embedder embeddings.Embedder
	reranker reranker.Reranker
	profiles ProfileSource
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewPipeline creates a retrieval pipeline. profiles may be nil.
func NewPipeline(cfg *Config, store vectorstore.Store, embedder embeddings.Embedder, rr reranker.Reranker, profiles ProfileSource, logger *zap.Logger) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	switch {
	case store == nil:
		return nil, errors.New("vector store is required")
	case embedder == nil:
		return nil, errors.New("embedder is required")
	case rr == nil:
		return nil, errors.New("reranker is required")
	case cfg.RecallLimit <= 0 || cfg.TopK <= 0:
		return nil, errors.New("recall limit and top k must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:   cfg,
		store:    store,
		embedder: embedder,
		reranker: rr,
		profiles: profiles,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

// Retrieve builds the grounding for query, scoped to userID's documents.
// Finding nothing relevant is not an error.
func (p *Pipeline) Retrieve(ctx context.Context, userID, query string) (_ *Grounding, err error) {
	ctx, span := p.tracer.Start(ctx, "retrieval.retrieve")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", vectorstore.ErrInvalidRequest)
	}

	var profileText string
	if p.profiles != nil {
		profileText, err = p.profiles.Get(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("loading profile: %w", err)
		}
	}

	vector, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	recalled, err := p.store.Search(ctx, p.config.Collection, vector, p.config.RecallLimit,
		vectorstore.Filter{documents.FieldUserID: userID})
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	candidates, err := p.rerank(ctx, query, recalled)
	if err != nil {
		return nil, err
	}

	g := Build(profileText, candidates)
	span.SetAttributes(
		attribute.Int("retrieval.recalled", len(recalled)),
		attribute.Int("retrieval.kept", len(candidates)),
		attribute.Bool("retrieval.has_profile", profileText != ""),
	)
	p.logger.Debug("retrieved context",
		zap.String("user_id", userID),
		zap.Int("recalled", len(recalled)),
		zap.Int("kept", len(candidates)))
	return g, nil
}

// rerank orders recalled chunks by relevance, keeps the top K and drops
// those under the threshold. Equal relevance keeps recall order.
func (p *Pipeline) rerank(ctx context.Context, query string, recalled []vectorstore.ScoredRecord) ([]Candidate, error) {
	if len(recalled) == 0 {
		return nil, nil
	}

	docs := make([]reranker.Document, len(recalled))
	for i, r := range recalled {
		docs[i] = reranker.Document{ID: r.ID, Content: r.String(documents.FieldText), Score: r.Score}
	}

	ranked, err := p.reranker.Rerank(ctx, query, docs, p.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("reranking: %w", err)
	}
	if len(ranked) > p.config.TopK {
		ranked = ranked[:p.config.TopK]
	}

	out := make([]Candidate, 0, len(ranked))
	for _, r := range ranked {
		if r.RerankerScore < p.config.Threshold {
			continue
		}
		rec := recalled[r.OriginalRank]
		out = append(out, Candidate{
			Chunk:      documents.RecordFromStore(rec.Record),
			Similarity: rec.Score,
			Relevance:  r.RerankerScore,
			RecallRank: r.OriginalRank,
		})
	}
	return out, nil
}

// Build formats candidates and profile into a Grounding.
func Build(profileText string, candidates []Candidate) *Grounding {
	blocks := make([]string, len(candidates))
	citations := make([]string, len(candidates))
	for i, c := range candidates {
		blocks[i] = FormatBlock(c.Chunk)
		citations[i] = Citation(c.Chunk)
	}
	joined := strings.Join(blocks, BlockSeparator)

	return &Grounding{
		Text:       GroundingText(profileText, joined),
		Context:    joined,
		Profile:    profileText,
		Citations:  citations,
		Candidates: candidates,
	}
}

// FormatBlock renders a chunk as a context block.
func FormatBlock(r documents.Record) string {
	return fmt.Sprintf("%s\n(Source: %s, Page: %d)", r.Text, r.Source, r.Page)
}

// Citation renders the citation of a chunk.
func Citation(r documents.Record) string {
	return fmt.Sprintf("%s (Page %d)", r.Source, r.Page)
}

// GroundingText prefixes context with the profile when there is one.
func GroundingText(profileText, retrieved string) string {
	if profileText == "" {
		return retrieved
	}
	return "User Profile:\n" + profileText + "\n\nRetrieved Context:\n" + retrieved
}
