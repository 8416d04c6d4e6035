package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Stop syncing workspaces; the connection settings are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			roots, err := targetWorkspaces(cmd)
			if err != nil {
				return err
			}
			c, err := openWorkspaces(cmd, roots)
			if err != nil {
				return err
			}
			defer c.Stop()

			for _, root := range c.Workspaces() {
				if err := c.Disable(root); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sync disabled for", root)
			}
			return nil
		},
	}
}
