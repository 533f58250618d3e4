package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Run the KnowMe HTTP API until interrupted.

Examples:
  # Serve with the default config
  knowme serve

  # Serve on another port
  KNOWME_SERVER_PORT=9000 knowme serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := loadApp(ctx, features{chat: true})
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := a.server()
	if err != nil {
		return err
	}

	a.logger.Info(ctx, "starting knowme",
		zap.String("version", version),
		zap.String("addr", srv.Addr()),
		zap.String("vectorstore", a.cfg.VectorStore.Provider),
		zap.String("embeddings", a.cfg.Embeddings.Provider),
		zap.String("reranker", a.cfg.Reranker.Provider),
		zap.Bool("telemetry", a.telemetry.Enabled()))

	if err := srv.Run(ctx); err != nil {
		return err
	}
	a.logger.Info(context.Background(), "server shutdown complete")
	return nil
}
