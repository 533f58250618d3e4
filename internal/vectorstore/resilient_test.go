package vectorstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBrokenCollectionDirs(t *testing.T) {
	root := t.TempDir()

	healthy := filepath.Join(root, "0a1b2c3d")
	require.NoError(t, os.MkdirAll(healthy, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(healthy, "00000000.gob"), []byte("meta"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(healthy, "deadbeef.gob"), []byte("doc"), 0o600))

	broken := filepath.Join(root, "ffff0000")
	require.NoError(t, os.MkdirAll(broken, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "deadbeef.gob.gz"), []byte("doc"), 0o600))

	empty := filepath.Join(root, "12345678")
	require.NoError(t, os.MkdirAll(empty, 0o700))

	notCollection := filepath.Join(root, "..hidden")
	require.NoError(t, os.MkdirAll(notCollection, 0o700))

	dirs, err := brokenCollectionDirs(root, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"ffff0000"}, dirs)
}

func TestOpenPersistentDB_Fresh(t *testing.T) {
	db, err := openPersistentDB(t.TempDir(), false, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, db)
}
