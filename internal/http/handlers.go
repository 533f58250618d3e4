package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowme/internal/parser"
	"github.com/fyrsmithlabs/knowme/internal/vectorstore"
)

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, welcomeMessage)
}

// handleHealth reports ok, or degraded with 503 when the health check fails.
func (s *Server) handleHealth(c echo.Context) error {
	if s.deps.Health != nil {
		if err := s.deps.Health(c.Request().Context()); err != nil {
			s.logger.Warn(c.Request().Context(), "health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
		}
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: multipart field \"file\" is required", vectorstore.ErrInvalidRequest)
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
		return fmt.Errorf("%w: only PDF files are supported", parser.ErrUnsupportedFormat)
	}
	if s.config.MaxUploadBytes > 0 && fh.Size > s.config.MaxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d bytes", s.config.MaxUploadBytes))
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	// A client that disconnects must not leave half a document stored.
	ctx := context.WithoutCancel(c.Request().Context())
	result, err := s.deps.Documents.Upload(ctx, userID(c), fh.Filename, f)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, UploadResponse{
		Filename:     result.Filename,
		ChunksStored: len(result.Stored),
		Chunks:       result.Chunks,
		Message:      "Successfully uploaded and processed " + result.Filename,
	})
}

// handleChat takes user_msg from the query string, falling back to a JSON body.
func (s *Server) handleChat(c echo.Context) error {
	msg := c.QueryParam("user_msg")
	if msg == "" && c.Request().ContentLength != 0 {
		var req ChatRequest
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return fmt.Errorf("%w: invalid request body", vectorstore.ErrInvalidRequest)
		}
		msg = req.UserMsg
	}
	if strings.TrimSpace(msg) == "" {
		return fmt.Errorf("%w: user message cannot be empty", vectorstore.ErrInvalidRequest)
	}

	// Generation updates conversation memory; finish it even if the client leaves.
	ctx := context.WithoutCancel(c.Request().Context())
	answer, err := s.deps.Chat.Chat(ctx, userID(c), msg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ChatResponse{Response: answer.Response, Source: answer.Sources})
}

func (s *Server) handleResetMemory(c echo.Context) error {
	uid := userID(c)
	if err := s.deps.Chat.Reset(c.Request().Context(), uid); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Conversation memory cleared for " + uid})
}

func (s *Server) handleListDocuments(c echo.Context) error {
	sources, err := s.deps.Documents.ListSources(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	if sources == nil {
		sources = []string{}
	}
	return c.JSON(http.StatusOK, DocumentsResponse{PDFs: sources})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	name := c.Param("filename")
	source, err := s.deps.Documents.DeleteSource(c.Request().Context(), userID(c), name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Successfully deleted all chunks for %q.", source),
	})
}

// handleSaveProfile accepts a flat JSON object. Non-string values are stored
// in their JSON form.
func (s *Server) handleSaveProfile(c echo.Context) error {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(c.Request().Body).Decode(&raw); err != nil {
		return fmt.Errorf("%w: profile must be a JSON object", vectorstore.ErrInvalidRequest)
	}

	data := make(map[string]string, len(raw))
	for k, v := range raw {
		var str string
		if err := json.Unmarshal(v, &str); err == nil {
			data[k] = str
			continue
		}
		data[k] = string(v)
	}

	uid := userID(c)
	if _, err := s.deps.Profiles.Save(c.Request().Context(), uid, data); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Profile saved for " + uid})
}

func (s *Server) handleGetProfile(c echo.Context) error {
	uid := userID(c)
	text, err := s.deps.Profiles.Get(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ProfileResponse{UserID: uid, Profile: text})
}
