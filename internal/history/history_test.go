package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/savesync/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()

	j := NewJournal(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, j.Open())
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := openJournal(t)
	ctx := t.Context()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ok := NewEntry("/work/app", "save", false, transfer.SyncResult{Success: true, FilesTransferred: 4, BytesTransferred: 1024, Duration: 250 * time.Millisecond})
	ok.FinishedAt = base
	bad := NewEntry("/work/app", "manual", false, transfer.SyncResult{Err: errors.New("exit 23")})
	bad.FinishedAt = base.Add(time.Minute)
	other := NewEntry("/work/other", "initial", true, transfer.SyncResult{Success: true})
	other.FinishedAt = base.Add(2 * time.Minute)

	for _, e := range []Entry{ok, bad, other} {
		require.NoError(t, j.Record(ctx, e))
	}

	entries, err := j.Recent(ctx, "/work/app", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, bad.ID, entries[0].ID, "newest first")
	assert.Equal(t, "exit 23", entries[0].Error)
	assert.False(t, entries[0].Success)
	assert.Equal(t, ok.ID, entries[1].ID)
	assert.Equal(t, int64(4), entries[1].Files)
	assert.Equal(t, int64(1024), entries[1].Bytes)
	assert.Equal(t, 250*time.Millisecond, entries[1].Duration)
	assert.True(t, entries[1].FinishedAt.Equal(base))

	all, err := j.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, other.ID, all[0].ID)
	assert.True(t, all[0].DryRun)
}

func TestJournal_LastSuccess(t *testing.T) {
	j := openJournal(t)
	ctx := t.Context()

	_, found, err := j.LastSuccess(ctx, "/work/app")
	require.NoError(t, err)
	assert.False(t, found)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := NewEntry("/work/app", "save", false, transfer.SyncResult{Success: true})
	first.FinishedAt = base
	dry := NewEntry("/work/app", "manual", true, transfer.SyncResult{Success: true})
	dry.FinishedAt = base.Add(time.Hour)
	failed := NewEntry("/work/app", "save", false, transfer.SyncResult{Err: errors.New("x")})
	failed.FinishedAt = base.Add(2 * time.Hour)
	for _, e := range []Entry{first, dry, failed} {
		require.NoError(t, j.Record(ctx, e))
	}

	last, found, err := j.LastSuccess(ctx, "/work/app")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, last.Equal(base), "dry runs and failures are not successes")
}

func TestJournal_NotOpen(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "h.db"))

	assert.ErrorIs(t, j.Record(t.Context(), Entry{}), ErrNotOpen)
	_, err := j.Recent(t.Context(), "", 1)
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.NoError(t, j.Close())

	require.NoError(t, j.Open())
	assert.Error(t, j.Open(), "double open")
	assert.NoError(t, j.Close())
}
