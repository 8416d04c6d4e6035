package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/openmined/savesync/internal/client/config"
	"github.com/openmined/savesync/internal/orchestrator"
	"github.com/openmined/savesync/internal/settings"
	"github.com/openmined/savesync/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type testEnv struct {
	dir       string
	cfgPath   string
	logFile   string
	sshConfig string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	dir := t.TempDir()
	env := testEnv{
		dir:       dir,
		cfgPath:   filepath.Join(dir, "config.json"),
		logFile:   filepath.Join(dir, "logs", "savesync.log"),
		sshConfig: filepath.Join(dir, "ssh_config"),
	}

	data, err := json.Marshal(map[string]any{
		"log_file":   env.logFile,
		"history_db": filepath.Join(dir, "history.db"),
		"ssh_config": env.sshConfig,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.cfgPath, data, 0o644))
	return env
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	_ = closeLog()
	prev := slog.Default()
	t.Cleanup(func() {
		_ = closeLog()
		closeLog = func() error { return nil }
		appConfig = config.Default()
		slog.SetDefault(prev)
	})

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"-c", e.cfgPath}, args...))

	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func configuredWorkspace(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	store := settings.NewStore(root)
	require.NoError(t, store.SaveConnection(settings.ConnectionConfig{Host: "devbox", RemotePath: "/srv/app", Enabled: true}))
	return root
}

func TestVersionCommand(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.WithApp(version.Detailed()), strings.TrimSpace(out))
}

func TestStatusCommand(t *testing.T) {
	env := newTestEnv(t)
	root := configuredWorkspace(t)

	out, err := env.run(t, "-w", root, "status")
	require.NoError(t, err)

	var reports []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, root, reports[0]["workspace"])
	assert.Equal(t, "devbox:/srv/app", reports[0]["destination"])
	assert.Equal(t, true, reports[0]["enabled"])
	assert.NotContains(t, reports[0], "lastSync")

	s, ok := reports[0]["settings"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, s["sync"].(map[string]any)["retryCount"])
}

func TestHostsCommand(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.sshConfig, []byte(`
Host devbox
  HostName 10.0.0.5
  User alice
  Port 2222

Host github.com
  User git

Host *
  ServerAliveInterval 30
`), 0o644))

	out, err := env.run(t, "hosts")
	require.NoError(t, err)
	assert.Contains(t, out, "devbox")
	assert.Contains(t, out, "alice@10.0.0.5:2222")
	assert.NotContains(t, out, "github")
}

func TestLogCommand(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, os.MkdirAll(filepath.Dir(env.logFile), 0o755))
	require.NoError(t, os.WriteFile(env.logFile, []byte("one\ntwo\nthree\nfour\n"), 0o644))

	out, err := env.run(t, "log", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, "three\nfour\n", out)
}

func TestTail(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, tail(&out, strings.NewReader("a\nb\nc"), 5))
	assert.Equal(t, "a\nb\nc\n", out.String())

	out.Reset()
	require.NoError(t, tail(&out, strings.NewReader("a\nb\nc\n"), 0))
	assert.Empty(t, out.String())
}

func TestConfigureCommand_Errors(t *testing.T) {
	env := newTestEnv(t)
	root := t.TempDir()

	_, err := env.run(t, "-w", root, "configure")
	assert.ErrorContains(t, err, "--host and --remote-path are required")

	_, err = env.run(t, "-w", root, "configure", "--host", "devbox", "--remote-path", "srv/app")
	assert.ErrorIs(t, err, settings.ErrInvalidRemotePath)

	_, err = env.run(t, "-w", root, "-w", t.TempDir(), "configure", "--host", "devbox", "--remote-path", "/srv")
	assert.ErrorContains(t, err, "one workspace")
}

func TestSyncCommand_NoConnection(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "-w", t.TempDir(), "sync")
	assert.ErrorIs(t, err, orchestrator.ErrNoConnection)

	_, err = env.run(t, "-w", t.TempDir(), "dry-run")
	assert.ErrorIs(t, err, orchestrator.ErrNoConnection)
}

func TestSyncCommand_FailureSummary(t *testing.T) {
	env := newTestEnv(t)
	root := configuredWorkspace(t)
	require.NoError(t, settings.NewStore(root).Update(map[string]any{settings.KeyRetryCount: 0}))

	rsync := filepath.Join(env.dir, "rsync")
	require.NoError(t, os.WriteFile(rsync, []byte("#!/bin/sh\necho 'connection refused' >&2\nexit 12\n"), 0o755))

	out, err := env.run(t, "--rsync", rsync, "-w", root, "-w", root, "sync")
	require.Error(t, err)
	assert.EqualError(t, err, "1 of 1 syncs failed", "the same workspace given twice is synced once")
	assert.Contains(t, out, "connection refused")
}

func TestDisableCommand(t *testing.T) {
	env := newTestEnv(t)
	root := configuredWorkspace(t)

	out, err := env.run(t, "-w", root, "disable")
	require.NoError(t, err)
	assert.Contains(t, out, "sync disabled for "+root)

	s, err := settings.NewStore(root).Load()
	require.NoError(t, err)
	assert.False(t, s.Connection.Enabled)
	assert.Equal(t, "devbox", s.Connection.Host)
}

func TestHistoryCommand_Empty(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "-w", t.TempDir(), "history")
	require.NoError(t, err)
	assert.Contains(t, out, "no syncs recorded")
}
