package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowme/internal/documents"
	"github.com/fyrsmithlabs/knowme/internal/llm"
	"github.com/fyrsmithlabs/knowme/internal/parser"
	"github.com/fyrsmithlabs/knowme/internal/vectorstore"
)

// Error kinds reported in error bodies.
const (
	KindInvalidRequest   = "invalid_request"
	KindNotFound         = "not_found"
	KindStoreUnavailable = "store_unavailable"
	KindGenerationFailed = "generation_failed"
	KindInternal         = "internal"
)

// classify maps an error to its HTTP status and kind.
func classify(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.Is(err, vectorstore.ErrInvalidRequest), errors.Is(err, parser.ErrUnsupportedFormat):
		return http.StatusBadRequest, KindInvalidRequest
	case errors.Is(err, documents.ErrNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, vectorstore.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, KindStoreUnavailable
	case errors.Is(err, llm.ErrGenerationFailed):
		return http.StatusBadGateway, KindGenerationFailed
	case errors.As(err, &he):
		switch {
		case he.Code == http.StatusNotFound:
			return he.Code, KindNotFound
		case he.Code >= 400 && he.Code < 500:
			return he.Code, KindInvalidRequest
		}
		return he.Code, KindInternal
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// handleError writes err as {"detail", "kind"}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, kind := classify(err)
	detail := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
	}

	ctx := c.Request().Context()
	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed",
			zap.String("path", c.Path()),
			zap.String("kind", kind),
			zap.Error(err))
	} else {
		s.logger.Debug(ctx, "request rejected",
			zap.String("path", c.Path()),
			zap.String("kind", kind),
			zap.Error(err))
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, ErrorResponse{Detail: detail, Kind: kind})
	}
	if writeErr != nil {
		s.logger.Warn(ctx, "failed to write error response", zap.Error(writeErr))
	}
}
