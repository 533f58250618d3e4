package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// uploader is the part of the document service ingest needs.
type uploader interface {
	Upload(ctx context.Context, userID, filename string, r io.Reader) (*ingestResult, error)
}

// ingestResult is what ingest reports per file.
type ingestResult struct {
	Filename string
	Stored   int
}

func newIngestCmd() *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "ingest <file|glob>...",
		Short: "Store documents for a user",
		Long: `Parse, chunk, embed and store documents for the --user.

Arguments are file paths or doublestar globs. Files are processed in
parallel; a failing file does not stop the others.

Examples:
  knowme ingest --user alice report.pdf
  knowme ingest --user alice "notes/**/*.md" --parallel 8`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandPatterns(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no files match %v", args)
			}

			a, err := loadApp(cmd.Context(), features{})
			if err != nil {
				return err
			}
			defer a.Close()

			return ingestFiles(cmd.Context(), serviceUploader{a}, userID, files, parallel, cmd.OutOrStdout(), cmd.ErrOrStderr(), a.logger.Underlying())
		},
	}
	cmd.Flags().IntVar(&parallel, "parallel", 4, "files processed concurrently")
	return cmd
}

type serviceUploader struct{ a *app }

func (u serviceUploader) Upload(ctx context.Context, userID, filename string, r io.Reader) (*ingestResult, error) {
	res, err := u.a.documents.Upload(ctx, userID, filename, r)
	if err != nil {
		return nil, err
	}
	return &ingestResult{Filename: res.Filename, Stored: len(res.Stored)}, nil
}

// expandPatterns resolves globs and plain paths to a sorted, duplicate-free
// file list.
func expandPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}

	for _, pattern := range patterns {
		if info, err := os.Stat(pattern); err == nil {
			if info.IsDir() {
				return nil, fmt.Errorf("%s is a directory, use a glob such as %q", pattern, pattern+"/**/*.pdf")
			}
			add(pattern)
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			add(m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// ingestFiles uploads files with at most parallel uploads in flight and
// reports a line per file. It fails when any file failed.
func ingestFiles(ctx context.Context, up uploader, user string, files []string, parallel int, out, progress io.Writer, logger *zap.Logger) error {
	if parallel <= 0 {
		parallel = 1
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("Ingesting"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(progress)
		}),
	)

	var (
		mu     sync.Mutex
		lines  = make(map[string]string, len(files))
		failed atomic.Int32
		chunks atomic.Int64
		g      errgroup.Group
	)
	g.SetLimit(parallel)

	for _, path := range files {
		g.Go(func() error {
			defer func() { _ = bar.Add(1) }()

			var line string
			res, err := ingestFile(ctx, up, user, path)
			if err != nil {
				failed.Add(1)
				logger.Warn("ingest failed", zap.String("file", path), zap.Error(err))
				line = fmt.Sprintf("FAIL %s: %v", path, err)
			} else {
				chunks.Add(int64(res.Stored))
				line = fmt.Sprintf("OK   %s: %d chunks", path, res.Stored)
			}
			mu.Lock()
			lines[path] = line
			mu.Unlock()
			// Failures are reported per file.
			return nil
		})
	}
	_ = g.Wait()
	_ = bar.Finish()

	for _, path := range files {
		fmt.Fprintln(out, lines[path])
	}
	fmt.Fprintf(out, "%d of %d files stored, %d chunks\n", len(files)-int(failed.Load()), len(files), chunks.Load())

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d files failed", n)
	}
	return ctx.Err()
}

func ingestFile(ctx context.Context, up uploader, user, path string) (*ingestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return up.Upload(ctx, user, path, f)
}
