package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/openmined/savesync/internal/client/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SAVESYNC"

// loadConfig merges the config file, SAVESYNC_* env vars and flags, in rising priority.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	v.BindPFlag("rsync_path", cmd.Flags().Lookup("rsync"))
	v.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfg := &config.Config{
		Workspaces: v.GetStringSlice("workspaces"),
		RsyncPath:  v.GetString("rsync_path"),
		SSHConfig:  v.GetString("ssh_config"),
		LogFile:    v.GetString("log_file"),
		HistoryDB:  v.GetString("history_db"),
		LogLevel:   v.GetString("log_level"),
		Path:       path,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// targetWorkspaces returns the -w flags, or the current directory.
func targetWorkspaces(cmd *cobra.Command) ([]string, error) {
	roots, _ := cmd.Flags().GetStringSlice("workspace")
	if len(roots) > 0 {
		return roots, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return []string{cwd}, nil
}
