package main

import (
	"testing"
	"time"

	"github.com/openmined/savesync/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRow(t *testing.T) {
	row := historyRow(history.Entry{
		Workspace:  "/home/dev/project",
		Trigger:    "save",
		DryRun:     true,
		Error:      "rsync exited with code 255: boom",
		Files:      3,
		Bytes:      2048,
		Duration:   1500 * time.Millisecond,
		FinishedAt: time.Now().Add(-time.Minute),
	})

	require.Len(t, row, 7)
	assert.Equal(t, "project", row[1])
	assert.Equal(t, "save (dry run)", row[2])
	assert.Contains(t, row[3], "failed: rsync exited with code 255: boom")
	assert.Equal(t, "3", row[4])
	assert.Equal(t, "2.0 kB", row[5])
	assert.Equal(t, "1.5s", row[6])
}
