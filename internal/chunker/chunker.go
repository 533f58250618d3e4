// Package chunker splits parsed pages into retrieval-sized chunks.
//
// Text is split into paragraphs on blank lines. Paragraphs that fit the
// flex limit become one chunk; longer ones are split on sentence ends and
// regrouped under the text limit. Tables are rendered as markdown, merged
// across consecutive pages that repeat the same header. Duplicate content
// within one document is emitted once.
package chunker

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowme/internal/parser"
)

// Section types.
const (
	TypeText         = "text"
	TypeTable        = "table"
	TypeIllustration = "illustration"
	TypeExhibit      = "exhibit"
	TypeQuestion     = "question"
)

// Chunk is one unit of embedding and retrieval.
type Chunk struct {
	Content string `json:"page_content"`
	Page    int    `json:"page_number"`
	Source  string `json:"source"`
	Type    string `json:"type"`
}

// Config holds chunk size limits, counted in characters.
type Config struct {
	// TextLimit caps sentence-grouped chunks. Default: 1500
	TextLimit int
	// FlexLimit is the largest paragraph kept whole. Default: 1600
	FlexLimit int
	// TableLimit is the rendered size above which a table is halved. Default: 10000
	TableLimit int
}

// ApplyDefaults fills zero limits.
func (c *Config) ApplyDefaults() {
	if c.TextLimit <= 0 {
		c.TextLimit = 1500
	}
	if c.FlexLimit <= 0 {
		c.FlexLimit = 1600
	}
	if c.TableLimit <= 0 {
		c.TableLimit = 10000
	}
}

// Chunker is safe for concurrent use.
type Chunker struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Chunker.
func New(cfg Config, logger *zap.Logger) *Chunker {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{cfg: cfg, logger: logger}
}

// run holds per-document state.
type run struct {
	*Chunker
	source  string
	seen    map[string]struct{}
	chunks  []Chunk
	pending *pendingTable
}

type pendingTable struct {
	header []string
	rows   [][]string
	pages  []int
}

// Chunk splits the pages of one document.
func (c *Chunker) Chunk(source string, pages []parser.Page) []Chunk {
	r := &run{Chunker: c, source: source, seen: make(map[string]struct{})}

	for _, page := range pages {
		for _, table := range page.Tables {
			r.addTable(page.Number, table)
		}
		r.addText(page.Number, page.Text)
	}
	r.flushTable()

	c.logger.Debug("chunked document",
		zap.String("source", source),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(r.chunks)))
	return r.chunks
}

func (r *run) addText(page int, text string) {
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		kind := sectionType(para)

		if utf8.RuneCountInString(para) <= r.cfg.FlexLimit {
			r.emit(Chunk{Content: para, Page: page, Type: kind})
			continue
		}
		for _, group := range groupSentences(splitSentences(para), r.cfg.TextLimit) {
			r.emit(Chunk{Content: group, Page: page, Type: kind})
		}
	}
}

func (r *run) emit(c Chunk) {
	c.Source = r.source
	key := contentHash(c.Content)
	if _, dup := r.seen[key]; dup {
		r.logger.Warn("skipped duplicate chunk",
			zap.String("source", r.source),
			zap.Int("page", c.Page),
			zap.String("preview", preview(c.Content)))
		return
	}
	r.seen[key] = struct{}{}
	r.chunks = append(r.chunks, c)
}

func sectionType(para string) string {
	lower := strings.ToLower(para)
	switch {
	case strings.Contains(lower, "illustration"):
		return TypeIllustration
	case strings.Contains(lower, "exhibit"):
		return TypeExhibit
	case strings.Contains(lower, "question"):
		return TypeQuestion
	default:
		return TypeText
	}
}

// splitSentences cuts after '.', '!' or '?' when followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) || i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		out = append(out, string(runes[start:i+1]))
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// groupSentences packs sentences into chunks of at most limit characters.
// A sentence longer than limit becomes a chunk by itself.
func groupSentences(sentences []string, limit int) []string {
	var (
		out     []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			out = append(out, s)
		}
		current.Reset()
		size = 0
	}

	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if size > 0 && size+n > limit {
			flush()
		}
		current.WriteString(s)
		current.WriteByte(' ')
		size += n + 1
	}
	flush()
	return out
}

// contentHash identifies content regardless of case and whitespace.
func contentHash(s string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func preview(s string) string {
	const n = 50
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
