package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/savesync/internal/orchestrator"
	"github.com/openmined/savesync/internal/report"
	"github.com/openmined/savesync/internal/settings"
	"github.com/openmined/savesync/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   int
	results []transfer.SyncResult
}

func (f *fakeExecutor) Execute(ctx context.Context, dryRun bool) transfer.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := f.results[min(f.calls, len(f.results)-1)]
	f.calls++
	return res
}

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu      sync.Mutex
	infos   []string
	warns   []string
	asked   int
	answers []report.Action
}

func (n *fakeNotifier) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *fakeNotifier) Warn(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warns = append(n.warns, msg)
}

func (n *fakeNotifier) Ask(msg string, choices []report.Action) report.Action {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.asked++
	if len(n.answers) == 0 {
		return report.ActionIgnore
	}
	a := n.answers[0]
	n.answers = n.answers[1:]
	return a
}

var (
	resultOK     = transfer.SyncResult{Success: true, FilesTransferred: 2, BytesTransferred: 2048}
	resultFailed = transfer.SyncResult{Err: errors.New("rsync exited with code 255: connection refused")}
)

func writeSettings(t *testing.T, root string, values map[string]any) {
	t.Helper()

	data, err := json.Marshal(values)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, settings.Dir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, settings.Dir, settings.FileName), data, 0o644))
}

func configuredWorkspace(t *testing.T, extra map[string]any) string {
	t.Helper()

	root := t.TempDir()
	values := map[string]any{
		settings.KeyHost:       "devbox",
		settings.KeyRemotePath: "/srv/app",
		settings.KeyEnabled:    true,
		settings.KeyRetryCount: 0,
	}
	for k, v := range extra {
		values[k] = v
	}
	writeSettings(t, root, values)
	return root
}

// gatedExecutor blocks every transfer until release is closed.
type gatedExecutor struct {
	started chan struct{}
	release chan struct{}
}

func newGatedExecutor() *gatedExecutor {
	return &gatedExecutor{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (g *gatedExecutor) Execute(ctx context.Context, dryRun bool) transfer.SyncResult {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return resultOK
	case <-ctx.Done():
		return transfer.SyncResult{Err: ctx.Err()}
	}
}

func newClient(t *testing.T, exec orchestrator.Executor, notifier report.Notifier, watch bool) *Client {
	t.Helper()

	c, err := New(Options{
		Executors: func(string, settings.ConnectionConfig, settings.SyncConfig) orchestrator.Executor { return exec },
		Backoff:   []time.Duration{time.Millisecond},
		Notifier:  notifier,
		HistoryDB: filepath.Join(t.TempDir(), "history.db"),
		Watch:     watch,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func TestClient_AddWorkspace(t *testing.T) {
	root := configuredWorkspace(t, nil)
	c := newClient(t, &fakeExecutor{results: []transfer.SyncResult{resultOK}}, &fakeNotifier{}, false)

	require.NoError(t, c.AddWorkspace(root))
	require.NoError(t, c.AddWorkspace(root), "adding twice is a no-op")
	assert.Equal(t, []string{root}, c.Workspaces())

	status := c.Status()
	require.Len(t, status, 1)
	assert.True(t, status[0].Enabled)
	assert.Equal(t, "devbox:/srv/app", status[0].Destination)
	assert.True(t, status[0].LastSync.IsZero())

	err := c.AddWorkspace(filepath.Join(root, "missing"))
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestClient_SyncNow(t *testing.T) {
	root := configuredWorkspace(t, nil)
	exec := &fakeExecutor{results: []transfer.SyncResult{resultOK}}
	notifier := &fakeNotifier{}
	c := newClient(t, exec, notifier, false)
	require.NoError(t, c.AddWorkspace(root))

	res, err := c.SyncNow(t.Context(), root, orchestrator.TriggerManual, false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, exec.Calls())
	assert.Len(t, notifier.infos, 1)

	entries, err := c.History(t.Context(), root, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "manual", entries[0].Trigger)
	assert.Equal(t, int64(2), entries[0].Files)

	assert.False(t, c.Status()[0].LastSync.IsZero())
}

func TestClient_SyncNow_Errors(t *testing.T) {
	root := t.TempDir()
	c := newClient(t, &fakeExecutor{results: []transfer.SyncResult{resultOK}}, &fakeNotifier{}, false)

	_, err := c.SyncNow(t.Context(), root, orchestrator.TriggerManual, false)
	assert.ErrorIs(t, err, ErrUnknownWorkspace)

	require.NoError(t, c.AddWorkspace(root))
	_, err = c.SyncNow(t.Context(), root, orchestrator.TriggerManual, false)
	assert.ErrorIs(t, err, orchestrator.ErrNoConnection)
}

func TestClient_RetryAction(t *testing.T) {
	root := configuredWorkspace(t, nil)
	exec := &fakeExecutor{results: []transfer.SyncResult{resultFailed, resultOK}}
	notifier := &fakeNotifier{answers: []report.Action{report.ActionRetry}}
	c := newClient(t, exec, notifier, false)
	require.NoError(t, c.AddWorkspace(root))

	res, err := c.SyncNow(t.Context(), root, orchestrator.TriggerSave, false)
	require.NoError(t, err)
	assert.True(t, res.Success, "the retried sync result is returned")
	assert.Equal(t, 2, exec.Calls())
	assert.Equal(t, 1, notifier.asked)

	entries, err := c.History(t.Context(), root, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "manual", entries[0].Trigger)
	assert.Equal(t, "save", entries[1].Trigger)
}

func TestClient_DisableAction(t *testing.T) {
	root := configuredWorkspace(t, nil)
	exec := &fakeExecutor{results: []transfer.SyncResult{resultFailed}}
	notifier := &fakeNotifier{answers: []report.Action{report.ActionDisable}}
	c := newClient(t, exec, notifier, false)
	require.NoError(t, c.AddWorkspace(root))

	res, err := c.SyncNow(t.Context(), root, orchestrator.TriggerManual, false)
	require.NoError(t, err)
	assert.False(t, res.Success)

	s, err := c.Settings(root)
	require.NoError(t, err)
	assert.False(t, s.Connection.Enabled)

	persisted, err := settings.NewStore(root).Load()
	require.NoError(t, err)
	assert.False(t, persisted.Connection.Enabled)
	assert.Equal(t, "devbox", persisted.Connection.Host)

	_, err = c.SyncNow(t.Context(), root, orchestrator.TriggerManual, false)
	assert.ErrorIs(t, err, orchestrator.ErrNoConnection)
}

func TestClient_ConnectionLostEscalation(t *testing.T) {
	root := configuredWorkspace(t, nil)
	notifier := &fakeNotifier{}
	c := newClient(t, &fakeExecutor{results: []transfer.SyncResult{resultFailed}}, notifier, false)
	require.NoError(t, c.AddWorkspace(root))

	for range 4 {
		_, err := c.SyncNow(t.Context(), root, orchestrator.TriggerSave, false)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, notifier.asked, "prompts stop at the threshold")
	assert.Len(t, notifier.warns, 1)

	status := c.Status()[0]
	assert.Equal(t, 4, status.FailureCount)
	assert.True(t, status.ConnectionLost)
}

func TestClient_Configure(t *testing.T) {
	root := t.TempDir()
	exec := &fakeExecutor{results: []transfer.SyncResult{resultOK}}
	c := newClient(t, exec, &fakeNotifier{}, false)
	require.NoError(t, c.AddWorkspace(root))

	_, err := c.Configure(t.Context(), root, settings.ConnectionConfig{Host: "devbox", RemotePath: "srv"})
	assert.ErrorIs(t, err, settings.ErrInvalidRemotePath)
	assert.Equal(t, 0, exec.Calls())

	res, err := c.Configure(t.Context(), root, settings.ConnectionConfig{Host: "devbox", RemotePath: "~/app"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, exec.Calls())

	persisted, err := settings.NewStore(root).Load()
	require.NoError(t, err)
	assert.Equal(t, settings.ConnectionConfig{Host: "devbox", RemotePath: "~/app", Enabled: true}, persisted.Connection)

	entries, err := c.History(t.Context(), root, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "initial", entries[0].Trigger)
}

func TestClient_Configure_PersistFailureKeepsConnection(t *testing.T) {
	root := t.TempDir()
	exec := &fakeExecutor{results: []transfer.SyncResult{resultOK}}
	c := newClient(t, exec, &fakeNotifier{}, false)
	require.NoError(t, c.AddWorkspace(root))

	// the settings directory cannot be created
	require.NoError(t, os.WriteFile(filepath.Join(root, settings.Dir), []byte("x"), 0o644))

	res, err := c.Configure(t.Context(), root, settings.ConnectionConfig{Host: "devbox", RemotePath: "/srv/app"})
	assert.ErrorIs(t, err, settings.ErrPersistence)
	assert.True(t, res.Success, "the initial sync still runs")

	s, err := c.Settings(root)
	require.NoError(t, err)
	assert.True(t, s.Configured())
}

func TestClient_WatchTriggersSync(t *testing.T) {
	root, err := filepath.EvalSymlinks(configuredWorkspace(t, map[string]any{settings.KeyDebounceMs: 50}))
	require.NoError(t, err)

	exec := &fakeExecutor{results: []transfer.SyncResult{resultOK}}
	c := newClient(t, exec, &fakeNotifier{}, true)
	require.NoError(t, c.AddWorkspace(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))
	assert.Eventually(t, func() bool { return exec.Calls() == 1 }, 3*time.Second, 10*time.Millisecond)

	// excluded by the default trigger excludes
	require.NoError(t, os.WriteFile(filepath.Join(root, "debug.log"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, exec.Calls())
}

func TestClient_SyncLockedByAnotherClient(t *testing.T) {
	root := configuredWorkspace(t, nil)

	gate := newGatedExecutor()
	first := newClient(t, gate, &fakeNotifier{}, false)
	require.NoError(t, first.AddWorkspace(root))

	exec := &fakeExecutor{results: []transfer.SyncResult{resultOK}}
	second := newClient(t, exec, &fakeNotifier{}, false)
	require.NoError(t, second.AddWorkspace(root))

	done := make(chan error, 1)
	go func() {
		_, err := first.SyncNow(context.Background(), root, orchestrator.TriggerManual, false)
		done <- err
	}()
	<-gate.started

	_, err := second.SyncNow(t.Context(), root, orchestrator.TriggerManual, false)
	assert.ErrorIs(t, err, orchestrator.ErrSyncInProgress)
	assert.Equal(t, 0, exec.Calls())

	close(gate.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "first sync did not finish")
	}

	res, err := second.SyncNow(t.Context(), root, orchestrator.TriggerManual, false)
	require.NoError(t, err)
	assert.True(t, res.Success, "the lock is free again")
	assert.Equal(t, 1, exec.Calls())
}

func TestClient_StartStop(t *testing.T) {
	c := newClient(t, &fakeExecutor{results: []transfer.SyncResult{resultOK}}, &fakeNotifier{}, true)
	require.NoError(t, c.AddWorkspace(t.TempDir()))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "client did not stop")
	}

	assert.NoError(t, c.Stop(), "stop is idempotent")
	assert.ErrorIs(t, c.AddWorkspace(t.TempDir()), ErrClientStopped)
}
