package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/savesync/internal/client/config"
	"github.com/openmined/savesync/internal/logging"
	"github.com/openmined/savesync/internal/version"
	"github.com/spf13/cobra"
)

var (
	// set by the root pre-run
	appConfig = config.Default()
	closeLog  = func() error { return nil }
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "savesync",
		Short:   "Sync workspaces to a remote host with rsync whenever a file is saved",
		Version: version.Detailed(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			appConfig = cfg

			closeFn, err := logging.Setup(logging.Options{
				Console: os.Stderr,
				File:    cfg.LogFile,
				Level:   logging.ParseLevel(cfg.LogLevel),
			})
			if err != nil {
				return err
			}
			closeLog = closeFn
			return nil
		},
		RunE: runDaemon,
	}

	addGlobalFlags(rootCmd)
	rootCmd.AddCommand(
		newDaemonCmd(),
		newConfigureCmd(),
		newSyncCmd(),
		newDryRunCmd(),
		newDisableCmd(),
		newLogCmd(),
		newHostsCmd(),
		newHistoryCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func addGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "savesync config file")
	flags.StringSliceP("workspace", "w", nil, "Workspace directory, repeatable (default current directory)")
	flags.String("rsync", "", "rsync binary (default rsync from PATH)")
	flags.String("log-level", "info", "Console log level: debug, info, warn or error")
}

func main() {
	// replaced once the config is loaded
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
}
