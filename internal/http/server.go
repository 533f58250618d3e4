// Package http exposes KnowMe over an echo HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowme/internal/chat"
	"github.com/fyrsmithlabs/knowme/internal/documents"
	"github.com/fyrsmithlabs/knowme/internal/logging"
)

const (
	// HeaderUserID carries the caller identity.
	HeaderUserID = "X-User-ID"

	// AnonymousUser is the identity of callers that send no X-User-ID.
	AnonymousUser = "anonymous"

	welcomeMessage = "Welcome to KnowMe, your personalised AI advisor."
)

// Documents stores, lists and deletes a user's documents.
type Documents interface {
	Upload(ctx context.Context, userID, filename string, r io.Reader) (*documents.UploadResult, error)
	ListSources(ctx context.Context, userID string) ([]string, error)
	DeleteSource(ctx context.Context, userID, name string) (string, error)
}

// Chat answers messages and forgets conversations.
type Chat interface {
	Chat(ctx context.Context, userID, message string) (*chat.Answer, error)
	Reset(ctx context.Context, userID string) error
}

// Profiles saves and loads user profiles.
type Profiles interface {
	Save(ctx context.Context, userID string, data map[string]string) (string, error)
	Get(ctx context.Context, userID string) (string, error)
}

// HealthFunc reports whether a backing service is reachable.
type HealthFunc func(ctx context.Context) error

// Dependencies are the services behind the routes.
type Dependencies struct {
	Documents Documents
	Chat      Chat
	Profiles  Profiles
	// Health is optional. Nil always reports ok.
	Health HealthFunc
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// BodyLimit caps request bodies in echo notation. Default: 32M
	BodyLimit string
	// MaxUploadBytes caps one uploaded document. Zero disables the check.
	MaxUploadBytes int64
	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.BodyLimit == "" {
		c.BodyLimit = "32M"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server provides the KnowMe HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	deps    Dependencies
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(deps Dependencies, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Documents == nil || deps.Chat == nil || deps.Profiles == nil {
		return nil, errors.New("documents, chat and profile services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger.Underlying()),
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
		RequestIDHandler: func(c echo.Context, id string) {
			if !logging.ValidRequestID(id) {
				id = uuid.NewString()
				c.Response().Header().Set(echo.HeaderXRequestID, id)
			}
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(s.identify)
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.logRequests)

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.POST("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/upload_pdf/", s.handleUpload)
	s.echo.POST("/chat/", s.handleChat)
	s.echo.DELETE("/chat/memory", s.handleResetMemory)
	s.echo.GET("/pdfs/", s.handleListDocuments)
	s.echo.DELETE("/pdfs/:filename", s.handleDeleteDocument)
	s.echo.PUT("/profile/", s.handleSaveProfile)
	s.echo.GET("/profile/", s.handleGetProfile)
}

// identify stores the caller identity in the request context.
func (s *Server) identify(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := logging.WithUserID(c.Request().Context(), userID(c))
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			// Write the error now so the logged status is the one sent.
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// userID returns the caller identity, AnonymousUser when absent.
func userID(c echo.Context) string {
	if id := c.Request().Header.Get(HeaderUserID); id != "" {
		return id
	}
	return AnonymousUser
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.Addr()))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
