package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishKeyWritesRestrictedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "guapow")

	key, err := GenerateKey()
	require.NoError(t, err)

	path, err := PublishKey(dir, key, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "opt.key"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, key[:], got)
}

func TestDefaultKeyDirUsesXDGRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/guapow", DefaultKeyDir())
}

func TestDefaultKeyDirFallsBackToTempDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Equal(t, filepath.Join(os.TempDir(), "guapow"), DefaultKeyDir())
}
