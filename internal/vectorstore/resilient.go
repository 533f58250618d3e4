package vectorstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const quarantineDir = ".quarantine"

// chromem names collection directories after a hash prefix of the name.
var collectionDirPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// openPersistentDB opens a chromem database. When loading fails because a
// collection directory lost its metadata file, the broken directories are
// moved aside into .quarantine and the load is attempted once more.
func openPersistentDB(path string, compress bool, logger *zap.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	broken, scanErr := brokenCollectionDirs(path, logger)
	if scanErr != nil || len(broken) == 0 {
		return nil, err
	}

	target := filepath.Join(path, quarantineDir)
	if mkErr := os.MkdirAll(target, 0o700); mkErr != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", mkErr)
	}
	for _, dir := range broken {
		logger.Warn("quarantining chromem collection without metadata",
			zap.String("dir", dir),
			zap.String("to", target))
		if mvErr := os.Rename(filepath.Join(path, dir), filepath.Join(target, dir)); mvErr != nil {
			logger.Error("quarantine failed", zap.String("dir", dir), zap.Error(mvErr))
		}
	}

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, err
	}
	logger.Info("chromem database recovered", zap.Int("quarantined", len(broken)))
	return db, nil
}

// brokenCollectionDirs lists collection directories that hold documents
// but no metadata file.
func brokenCollectionDirs(path string, logger *zap.Logger) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var broken []string
	for _, entry := range entries {
		if !entry.IsDir() || !collectionDirPattern.MatchString(entry.Name()) {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		if hasMetadata(dir) {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("reading collection directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.Contains(f.Name(), ".gob") {
				broken = append(broken, entry.Name())
				break
			}
		}
	}
	return broken, nil
}

func hasMetadata(dir string) bool {
	for _, name := range []string{"00000000.gob", "00000000.gob.gz"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
