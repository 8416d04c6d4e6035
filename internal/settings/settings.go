package settings

import (
	"errors"
	"fmt"
	"strings"
)

const (
	NotificationLevelAll    = "all"
	NotificationLevelErrors = "errors"
)

var (
	ErrInvalidRemotePath = errors.New("remote path must be absolute")
	ErrMissingHost       = errors.New("host is required")
)

// ConnectionConfig identifies the single remote target of a workspace.
type ConnectionConfig struct {
	Host       string `json:"host" yaml:"host"`
	RemotePath string `json:"remotePath" yaml:"remotePath"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
}

// Destination returns the rsync destination in host:path form.
func (c ConnectionConfig) Destination() string {
	return c.Host + ":" + c.RemotePath
}

func (c ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrMissingHost
	}
	if !isAbsRemotePath(c.RemotePath) {
		return fmt.Errorf("%w: %q", ErrInvalidRemotePath, c.RemotePath)
	}
	return nil
}

// remote paths are posix, ~ is expanded by the remote shell
func isAbsRemotePath(p string) bool {
	return strings.HasPrefix(p, "/") || p == "~" || strings.HasPrefix(p, "~/")
}

type SyncConfig struct {
	DeleteExtraneous   bool     `json:"deleteExtraneous" yaml:"deleteExtraneous"`
	UseGitignore       bool     `json:"useGitignore" yaml:"useGitignore"`
	AdditionalExcludes []string `json:"additionalExcludes" yaml:"additionalExcludes"`
	RetryCount         int      `json:"retryCount" yaml:"retryCount"`
}

type TriggerConfig struct {
	Patterns        []string `json:"patterns" yaml:"patterns"`
	ExcludePatterns []string `json:"excludePatterns" yaml:"excludePatterns"`
}

type UIConfig struct {
	ShowNotifications bool   `json:"showNotifications" yaml:"showNotifications"`
	NotificationLevel string `json:"notificationLevel" yaml:"notificationLevel"`
}

// ErrorsOnly reports whether success notices should be suppressed.
func (u UIConfig) ErrorsOnly() bool {
	return u.NotificationLevel == NotificationLevelErrors
}

type AdvancedConfig struct {
	DebounceMs int `json:"debounceMs" yaml:"debounceMs"`
}

// Settings is everything savesync knows about one workspace.
type Settings struct {
	Connection ConnectionConfig `yaml:"connection"`
	Sync       SyncConfig       `yaml:"sync"`
	Triggers   TriggerConfig    `yaml:"triggers"`
	UI         UIConfig         `yaml:"ui"`
	Advanced   AdvancedConfig   `yaml:"advanced"`
}

func Defaults() Settings {
	return Settings{
		Connection: ConnectionConfig{Enabled: false},
		Sync: SyncConfig{
			DeleteExtraneous:   true,
			UseGitignore:       true,
			AdditionalExcludes: []string{"node_modules", "__pycache__", ".DS_Store"},
			RetryCount:         3,
		},
		Triggers: TriggerConfig{
			Patterns:        []string{"*"},
			ExcludePatterns: []string{"*.log", "*.tmp"},
		},
		UI: UIConfig{
			ShowNotifications: true,
			NotificationLevel: NotificationLevelAll,
		},
		Advanced: AdvancedConfig{DebounceMs: 500},
	}
}

// Configured reports whether a usable, enabled connection is present.
func (s Settings) Configured() bool {
	return s.Connection.Enabled && s.Connection.Validate() == nil
}
