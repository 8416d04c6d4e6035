package main

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/fsnotify/fsnotify"
	"github.com/openmined/savesync/internal/client"
	"github.com/openmined/savesync/internal/report"
	"github.com/openmined/savesync/internal/utils"
	"github.com/openmined/savesync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Watch workspaces and sync them on save",
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	slog.Info("savesync", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)
	slog.Info("daemon using config", "path", appConfig.Path)

	roots, err := daemonWorkspaces(cmd)
	if err != nil {
		return err
	}

	c, err := newClient(report.LogNotifier{}, true)
	if err != nil {
		return err
	}
	for _, root := range roots {
		if err := c.AddWorkspace(root); err != nil {
			_ = c.Stop()
			return err
		}
	}

	followConfig(c)

	defer slog.Info("Bye!")
	if err := c.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon start", "error", err)
		return err
	}
	return nil
}

// followConfig adds workspaces listed in the config file when it changes.
// Workspaces dropped from the file keep syncing until the daemon restarts.
func followConfig(c *client.Client) {
	if !utils.FileExists(appConfig.Path) {
		return
	}

	v := viper.New()
	v.SetConfigFile(appConfig.Path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("config watch disabled", "path", appConfig.Path, "error", err)
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("config changed", "path", e.Name, "op", e.Op.String())
		for _, root := range v.GetStringSlice("workspaces") {
			if err := c.AddWorkspace(root); err != nil {
				slog.Warn("config workspace", "workspace", root, "error", err)
			}
		}
	})
	v.WatchConfig()
}

// daemonWorkspaces is the configured workspaces plus -w flags, or the current directory.
func daemonWorkspaces(cmd *cobra.Command) ([]string, error) {
	roots := slices.Clone(appConfig.Workspaces)
	if cmd.Flags().Changed("workspace") || len(roots) == 0 {
		extra, err := targetWorkspaces(cmd)
		if err != nil {
			return nil, err
		}
		roots = append(roots, extra...)
	}
	return roots, nil
}

func newClient(notifier report.Notifier, watch bool) (*client.Client, error) {
	return client.New(client.Options{
		RsyncPath: appConfig.RsyncPath,
		Notifier:  notifier,
		HistoryDB: appConfig.HistoryDB,
		Watch:     watch,
	})
}

// consoleNotifier prompts on the command's terminal, if it has one.
func consoleNotifier(cmd *cobra.Command) *report.ConsoleNotifier {
	return report.NewConsoleNotifierIO(cmd.OutOrStdout(), cmd.InOrStdin(), interactive(cmd.InOrStdin()))
}

// openWorkspaces creates a non-watching client with roots added.
func openWorkspaces(cmd *cobra.Command, roots []string) (*client.Client, error) {
	c, err := newClient(consoleNotifier(cmd), false)
	if err != nil {
		return nil, err
	}
	for _, root := range roots {
		if err := c.AddWorkspace(root); err != nil {
			_ = c.Stop()
			return nil, err
		}
	}
	return c, nil
}
