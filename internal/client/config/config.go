// Package config holds the daemon-wide configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"
	"github.com/openmined/savesync/internal/sshhosts"
	"github.com/openmined/savesync/internal/transfer"
	"github.com/openmined/savesync/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".savesync")
	DefaultConfigPath  = filepath.Join(DefaultConfigDir, "config.json")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "savesync.log")
	DefaultHistoryPath = filepath.Join(DefaultConfigDir, "history.db")
)

type Config struct {
	Workspaces []string `json:"workspaces" mapstructure:"workspaces"`
	RsyncPath  string   `json:"rsync_path" mapstructure:"rsync_path"`
	SSHConfig  string   `json:"ssh_config" mapstructure:"ssh_config"`
	LogFile    string   `json:"log_file" mapstructure:"log_file"`
	HistoryDB  string   `json:"history_db" mapstructure:"history_db"`
	LogLevel   string   `json:"log_level,omitempty" mapstructure:"log_level"`
	Path       string   `json:"-" mapstructure:"-"`
}

func Default() *Config {
	return &Config{
		RsyncPath: transfer.DefaultBinary,
		SSHConfig: sshhosts.DefaultConfigPath(),
		LogFile:   DefaultLogFilePath,
		HistoryDB: DefaultHistoryPath,
		Path:      DefaultConfigPath,
	}
}

// Validate fills defaults, resolves every path and drops duplicate workspaces.
func (c *Config) Validate() error {
	def := Default()
	if c.RsyncPath == "" {
		c.RsyncPath = def.RsyncPath
	}
	if c.SSHConfig == "" {
		c.SSHConfig = def.SSHConfig
	}
	if c.LogFile == "" {
		c.LogFile = def.LogFile
	}
	if c.HistoryDB == "" {
		c.HistoryDB = def.HistoryDB
	}
	if c.Path == "" {
		c.Path = def.Path
	}

	var err error
	for _, p := range []*string{&c.SSHConfig, &c.LogFile, &c.HistoryDB, &c.Path} {
		if *p, err = utils.ResolvePath(*p); err != nil {
			return fmt.Errorf("resolve %q: %w", *p, err)
		}
	}

	workspaces := make([]string, 0, len(c.Workspaces))
	for _, ws := range c.Workspaces {
		abs, err := utils.ResolvePath(ws)
		if err != nil {
			return fmt.Errorf("resolve workspace %q: %w", ws, err)
		}
		if !slices.Contains(workspaces, abs) {
			workspaces = append(workspaces, abs)
		}
	}
	c.Workspaces = workspaces
	return nil
}

// AddWorkspace reports whether root was not already listed.
func (c *Config) AddWorkspace(root string) (bool, error) {
	abs, err := utils.ResolvePath(root)
	if err != nil {
		return false, err
	}
	if slices.Contains(c.Workspaces, abs) {
		return false, nil
	}
	c.Workspaces = append(c.Workspaces, abs)
	return true, nil
}

func (c *Config) Save() error {
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.Path, data, 0o644)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
