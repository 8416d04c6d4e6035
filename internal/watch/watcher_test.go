package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNoise(t *testing.T) {
	root := "/work/app"

	assert.True(t, IsNoise(root, "/work/app/.git/index"))
	assert.True(t, IsNoise(root, "/work/app/.git/objects/ab/cdef"))
	assert.True(t, IsNoise(root, "/work/app/src/.main.go.swp"))
	assert.True(t, IsNoise(root, "/work/app/src/main.go~"))
	assert.True(t, IsNoise(root, "/work/app/.savesync/settings.lock"))
	assert.True(t, IsNoise(root, "/elsewhere/file.txt"))

	assert.False(t, IsNoise(root, "/work/app/src/main.go"))
	assert.False(t, IsNoise(root, "/work/app/.gitignore"))
	assert.False(t, IsNoise(root, "/work/app/.savesync/settings.json"))
}

func TestWatcher_DeliversWrites(t *testing.T) {
	// tmpdir may be behind a symlink on macos
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	w := NewWatcher(root)
	require.NoError(t, w.Start(t.Context()))
	defer w.Stop()

	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0o644))

	target := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(target, []byte("package main"), 0o644))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			assert.NotContains(t, ev.Path, string(filepath.Separator)+".git"+string(filepath.Separator))
			if ev.Path == target {
				return
			}
		case <-deadline:
			require.FailNow(t, "timeout waiting for file event")
		}
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	w := NewWatcher(t.TempDir())
	require.NoError(t, w.Start(t.Context()))
	w.Stop()
	w.Stop()

	_, open := <-w.Events()
	assert.False(t, open)
}
