package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".profile"), []byte(body), 0o644))
}

func TestProfileStoreResolveUserTakesPrecedenceOverSystem(t *testing.T) {
	userDir, sysDir := t.TempDir(), t.TempDir()

	writeProfile(t, userDir, "game", "proc.nice=-10")
	writeProfile(t, sysDir, "game", "proc.nice=5")

	store := newProfileStore(userDir, sysDir, false, nil)

	opts, err := store.resolve("game")
	require.NoError(t, err)
	require.NotNil(t, opts.ProcNice)
	assert.Equal(t, -10, *opts.ProcNice)
}

func TestProfileStoreResolveFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "default", "cpu.performance")

	store := newProfileStore(dir, "", false, nil)

	opts, err := store.resolve("does-not-exist")
	require.NoError(t, err)
	assert.True(t, opts.CPUPerformance)
}

func TestProfileStoreResolveMissingEverythingIsNoopPlan(t *testing.T) {
	store := newProfileStore(t.TempDir(), "", false, nil)

	opts, err := store.resolve("nothing")
	require.NoError(t, err)
	assert.Nil(t, opts.ProcNice)
	assert.False(t, opts.CPUPerformance)
}

func TestProfileStoreCacheBypassesDiskOnSecondResolve(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "game", "proc.nice=-5")

	store := newProfileStore(dir, "", true, nil)

	first, err := store.resolve("game")
	require.NoError(t, err)

	// Mutate the file on disk; a cached resolve must not observe it.
	writeProfile(t, dir, "game", "proc.nice=9")

	second, err := store.resolve("game")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, -5, *second.ProcNice)
}

func TestProfileStorePreCachingLoadsEveryProfileUpfront(t *testing.T) {
	userDir, sysDir := t.TempDir(), t.TempDir()

	writeProfile(t, userDir, "a", "proc.nice=1")
	writeProfile(t, sysDir, "b", "proc.nice=2")
	// "a" exists in both; the user copy must win during pre-caching too.
	writeProfile(t, sysDir, "a", "proc.nice=99")

	store := newProfileStore(userDir, sysDir, true, nil)
	store.preCache()

	a, ok := store.fromCache("a")
	require.True(t, ok)
	assert.Equal(t, 1, *a.ProcNice)

	b, ok := store.fromCache("b")
	require.True(t, ok)
	assert.Equal(t, 2, *b.ProcNice)
}

func TestProfileStorePreCachingNoopWhenCacheDisabled(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a", "proc.nice=1")

	store := newProfileStore(dir, "", false, nil)
	store.preCache()

	_, ok := store.fromCache("a")
	assert.False(t, ok)
}
