package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/openmined/savesync/internal/utils"
)

const (
	Dir       = ".savesync"
	FileName  = "settings.json"
	lockName  = "settings.lock"
	SyncLock  = "sync.lock"
	Namespace = "savesync"

	changeBufferSize = 8
)

// Namespaced setting keys as they appear in settings.json.
const (
	KeyHost               = Namespace + ".connection.host"
	KeyRemotePath         = Namespace + ".connection.remotePath"
	KeyEnabled            = Namespace + ".connection.enabled"
	KeyDeleteExtraneous   = Namespace + ".sync.deleteExtraneous"
	KeyUseGitignore       = Namespace + ".sync.useGitignore"
	KeyAdditionalExcludes = Namespace + ".sync.additionalExcludes"
	KeyRetryCount         = Namespace + ".sync.retryCount"
	KeyPatterns           = Namespace + ".triggers.patterns"
	KeyExcludePatterns    = Namespace + ".triggers.excludePatterns"
	KeyShowNotifications  = Namespace + ".ui.showNotifications"
	KeyNotificationLevel  = Namespace + ".ui.notificationLevel"
	KeyDebounceMs         = Namespace + ".advanced.debounceMs"
)

var (
	ErrPersistence = errors.New("persist settings")
	ErrSyncLocked  = errors.New("sync lock held by another process")
)

// ChangeEvent is emitted after settings for a workspace were written.
type ChangeEvent struct {
	Workspace string
	Keys      []string
}

// Store reads and writes the per-workspace settings file.
type Store struct {
	workspace string
	path      string
	lock      *flock.Flock

	subs  []chan ChangeEvent
	subMu sync.Mutex
}

func NewStore(workspace string) *Store {
	dir := filepath.Join(workspace, Dir)
	return &Store{
		workspace: workspace,
		path:      filepath.Join(dir, FileName),
		lock:      flock.New(filepath.Join(dir, lockName)),
	}
}

// Path of the settings file
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Workspace() string {
	return s.workspace
}

// Load returns the settings of the workspace with defaults applied for missing keys.
func (s *Store) Load() (Settings, error) {
	raw, err := s.readRaw()
	if err != nil {
		return Settings{}, err
	}
	return decode(raw)
}

// Update merges values into the settings file. Keys not in values are preserved as-is.
func (s *Store) Update(values map[string]any) error {
	if len(values) == 0 {
		return nil
	}

	if err := utils.EnsureParent(s.path); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("%w: lock: %w", ErrPersistence, err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("settings unlock", "path", s.path, "error", err)
		}
	}()

	raw, err := s.readRaw()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for key, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		raw[key] = data
		keys = append(keys, key)
	}
	sort.Strings(keys)

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := writeFileAtomic(s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	slog.Debug("settings updated", "path", s.path, "keys", keys)
	s.broadcast(ChangeEvent{Workspace: s.workspace, Keys: keys})
	return nil
}

// TryLockSync takes the workspace sync lock without waiting. It fails with
// ErrSyncLocked while another holder, in this or another process, has it.
func (s *Store) TryLockSync() (unlock func(), err error) {
	path := filepath.Join(s.workspace, Dir, SyncLock)
	if err := utils.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("sync lock: %w", err)
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("sync lock: %w", err)
	}
	if !ok {
		return nil, ErrSyncLocked
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("sync unlock", "path", path, "error", err)
		}
	}, nil
}

// SaveConnection validates and persists the connection keys.
func (s *Store) SaveConnection(conn ConnectionConfig) error {
	if conn.Enabled {
		if err := conn.Validate(); err != nil {
			return err
		}
	}
	return s.Update(map[string]any{
		KeyHost:       conn.Host,
		KeyRemotePath: conn.RemotePath,
		KeyEnabled:    conn.Enabled,
	})
}

// Subscribe returns a channel receiving an event after every successful Update.
func (s *Store) Subscribe() <-chan ChangeEvent {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ch := make(chan ChangeEvent, changeBufferSize)
	s.subs = append(s.subs, ch)
	return ch
}

// Close closes all subscriber channels.
func (s *Store) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

func (s *Store) broadcast(ev ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("settings change dropped", "reason", "subscriber full", "workspace", s.workspace)
		}
	}
}

func (s *Store) readRaw() (map[string]json.RawMessage, error) {
	raw := make(map[string]json.RawMessage)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return raw, nil
	} else if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if len(data) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	return raw, nil
}

func decode(raw map[string]json.RawMessage) (Settings, error) {
	cfg := Defaults()

	fields := []struct {
		key    string
		target any
	}{
		{KeyHost, &cfg.Connection.Host},
		{KeyRemotePath, &cfg.Connection.RemotePath},
		{KeyEnabled, &cfg.Connection.Enabled},
		{KeyDeleteExtraneous, &cfg.Sync.DeleteExtraneous},
		{KeyUseGitignore, &cfg.Sync.UseGitignore},
		{KeyAdditionalExcludes, &cfg.Sync.AdditionalExcludes},
		{KeyRetryCount, &cfg.Sync.RetryCount},
		{KeyPatterns, &cfg.Triggers.Patterns},
		{KeyExcludePatterns, &cfg.Triggers.ExcludePatterns},
		{KeyShowNotifications, &cfg.UI.ShowNotifications},
		{KeyNotificationLevel, &cfg.UI.NotificationLevel},
		{KeyDebounceMs, &cfg.Advanced.DebounceMs},
	}

	for _, f := range fields {
		data, ok := raw[f.key]
		if !ok || string(data) == "null" {
			continue
		}
		if err := json.Unmarshal(data, f.target); err != nil {
			return Settings{}, fmt.Errorf("setting %s: %w", f.key, err)
		}
	}

	if cfg.Sync.RetryCount < 0 {
		cfg.Sync.RetryCount = 0
	}
	if cfg.Advanced.DebounceMs < 0 {
		cfg.Advanced.DebounceMs = 0
	}
	if cfg.UI.NotificationLevel != NotificationLevelErrors {
		cfg.UI.NotificationLevel = NotificationLevelAll
	}
	return cfg, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
