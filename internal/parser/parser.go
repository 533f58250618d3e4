// Package parser extracts page text and tables from uploaded documents.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for files no registered parser handles.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrParseFailed indicates the document could not be parsed.
	ErrParseFailed = errors.New("document parsing failed")
)

// Page is the content of one document page.
type Page struct {
	// Number is 1-based.
	Number int
	Text   string
	// Tables holds each table on the page as rows of cells; the first row is the header.
	Tables [][][]string
}

// Parser turns a document into pages.
type Parser interface {
	Parse(ctx context.Context, filename string, r io.Reader) ([]Page, error)
}

// Registry dispatches to a parser by file extension.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register binds p to the given extensions (with or without the leading dot).
func (r *Registry) Register(p Parser, exts ...string) {
	for _, ext := range exts {
		r.parsers[normalizeExt(ext)] = p
	}
}

// Supports reports whether filename has a registered extension.
func (r *Registry) Supports(filename string) bool {
	_, ok := r.parsers[normalizeExt(filepath.Ext(filename))]
	return ok
}

// Parse parses r with the parser registered for filename's extension.
func (r *Registry) Parse(ctx context.Context, filename string, rd io.Reader) ([]Page, error) {
	ext := normalizeExt(filepath.Ext(filename))
	p, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Base(filename))
	}
	return p.Parse(ctx, filename, rd)
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

var _ Parser = (*Registry)(nil)
