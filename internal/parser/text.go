package parser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// TextParser reads plain text. Form feeds separate pages.
type TextParser struct {
	// MaxBytes bounds the input size. Zero means 32 MiB.
	MaxBytes int64
}

// Parse splits the input on form feeds into numbered pages, skipping blank ones.
func (p TextParser) Parse(ctx context.Context, filename string, r io.Reader) ([]Page, error) {
	limit := p.MaxBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrParseFailed, filename, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrParseFailed, filename, limit)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupportedFormat, filename)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	var pages []Page
	for i, raw := range strings.Split(text, "\f") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: raw})
	}
	return pages, nil
}

var _ Parser = TextParser{}
