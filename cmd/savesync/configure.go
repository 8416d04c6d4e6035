package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/savesync/internal/settings"
	"github.com/openmined/savesync/internal/sshhosts"
	"github.com/spf13/cobra"
)

func newConfigureCmd() *cobra.Command {
	var host, remotePath string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Set the remote host and path of a workspace and run the first sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			roots, err := targetWorkspaces(cmd)
			if err != nil {
				return err
			}
			if len(roots) != 1 {
				return errors.New("configure one workspace at a time")
			}
			root := roots[0]

			conn := settings.ConnectionConfig{Host: host, RemotePath: remotePath, Enabled: true}
			if host == "" || remotePath == "" {
				if !interactive(cmd.InOrStdin()) {
					return errors.New("--host and --remote-path are required without a terminal")
				}
				hosts, err := sshhosts.Discover(appConfig.SSHConfig)
				if err != nil {
					slog.Warn("ssh hosts", "error", err)
				}
				conn, err = runConfigureTUI(&ConfigureTUIOpts{
					Workspace:  root,
					Hosts:      hosts,
					Host:       host,
					RemotePath: remotePath,
				}, cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
			}
			if err := conn.Validate(); err != nil {
				return err
			}

			c, err := openWorkspaces(cmd, roots)
			if err != nil {
				return err
			}
			defer c.Stop()

			if added, err := appConfig.AddWorkspace(root); err != nil {
				return err
			} else if added {
				if err := appConfig.Save(); err != nil {
					slog.Warn("workspace not registered", "config", appConfig.Path, "error", err)
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), cyan.Render(fmt.Sprintf("Syncing %s to %s", root, conn.Destination())))
			res, err := c.Configure(cmd.Context(), root, conn)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("initial sync failed: %s", res.ErrorMessage())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "SSH host (alias from ~/.ssh/config or user@hostname)")
	cmd.Flags().StringVar(&remotePath, "remote-path", "", "Absolute remote directory, or ~/...")
	return cmd
}
