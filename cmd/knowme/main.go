// Knowme is a personal advisor that answers questions grounded in the
// documents and profile of each user.
//
// The same binary runs the HTTP API and offers local commands against the
// configured stores:
//
//	# Start the API server
//	knowme serve
//
//	# Ingest documents for a user
//	knowme ingest --user alice "reports/**/*.pdf"
//
//	# Ask a question, or start an interactive session without arguments
//	knowme ask --user alice "What did the Q3 report conclude?"
//
// Configuration is read from ~/.config/knowme/config.yaml (or --config) and
// KNOWME_ environment variables. A .env file in the working directory is
// loaded first.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/knowme/internal/config"
	httpserver "github.com/fyrsmithlabs/knowme/internal/http"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const shutdownGrace = 5 * time.Second

var (
	configPath string
	userID     string
)

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "knowme",
		Short: "Personal advisor grounded in your documents",
		Long: `knowme answers questions with a language model grounded in the documents
and profile stored for each user.

Run "knowme serve" for the HTTP API, or use the local commands to ingest
documents, ask questions and manage profiles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/knowme/config.yaml)")
	root.PersistentFlags().StringVar(&userID, "user", httpserver.AnonymousUser, "user the command acts for")

	root.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newAskCmd(),
		newDocsCmd(),
		newProfileCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "knowme by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// loadApp loads configuration and wires the requested components.
func loadApp(ctx context.Context, f features) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, f)
}
