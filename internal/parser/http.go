package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// lowTextThreshold flags pages that probably need OCR.
const lowTextThreshold = 50

// HTTPConfig configures a remote parsing service.
type HTTPConfig struct {
	// BaseURL of the service; documents are posted to {BaseURL}/parse.
	BaseURL string
	// Timeout bounds a parse request. Default: 2m
	Timeout time.Duration
}

// HTTPParser delegates layout extraction to a parsing service.
//
// The service receives the document as multipart field "file" and answers
//
//	{"pages": [{"page_number": 1, "text": "...", "tables": [[["h1","h2"],["a","b"]]]}]}
//
// Null table cells decode as empty strings.
type HTTPParser struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPParser creates a parser backed by the service at cfg.BaseURL.
func NewHTTPParser(cfg HTTPConfig, logger *zap.Logger) (*HTTPParser, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("parser: base URL required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPParser{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/parse",
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}, nil
}

type parseResponse struct {
	Pages []struct {
		PageNumber int           `json:"page_number"`
		Text       string        `json:"text"`
		Tables     [][][]*string `json:"tables"`
	} `json:"pages"`
}

// Parse streams r to the service and returns its pages.
func (p *HTTPParser) Parse(ctx context.Context, filename string, r io.Reader) ([]Page, error) {
	body, contentType := multipartBody(filepath.Base(filename), r)
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnsupportedMediaType:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(filename))
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrParseFailed, resp.StatusCode, string(msg))
	}

	var decoded parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrParseFailed, err)
	}

	pages := make([]Page, 0, len(decoded.Pages))
	for i, dp := range decoded.Pages {
		number := dp.PageNumber
		if number <= 0 {
			number = i + 1
		}
		if n := len(strings.TrimSpace(dp.Text)); n < lowTextThreshold {
			p.logger.Warn("page has little extractable text",
				zap.String("file", filepath.Base(filename)),
				zap.Int("page", number),
				zap.Int("chars", n))
		}
		pages = append(pages, Page{Number: number, Text: dp.Text, Tables: convertTables(dp.Tables)})
	}

	p.logger.Info("parsed document",
		zap.String("file", filepath.Base(filename)),
		zap.Int("pages", len(pages)))
	return pages, nil
}

// multipartBody streams r as a multipart form without buffering it.
func multipartBody(filename string, r io.Reader) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func convertTables(in [][][]*string) [][][]string {
	if len(in) == 0 {
		return nil
	}
	out := make([][][]string, len(in))
	for t, table := range in {
		out[t] = make([][]string, len(table))
		for r, row := range table {
			out[t][r] = make([]string, len(row))
			for c, cell := range row {
				if cell != nil {
					out[t][r][c] = *cell
				}
			}
		}
	}
	return out
}

var _ Parser = (*HTTPParser)(nil)
