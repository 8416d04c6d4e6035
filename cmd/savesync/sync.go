package main

import (
	"fmt"

	"github.com/openmined/savesync/internal/orchestrator"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync workspaces now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, dryRun)
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would be transferred without changing the remote")
	return cmd
}

func newDryRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dry-run",
		Short: "Show what a sync would transfer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, true)
		},
	}
}

func runSync(cmd *cobra.Command, dryRun bool) error {
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

	workspaces := c.Workspaces()
	failed := 0
	for _, root := range workspaces {
		res, err := c.SyncNow(cmd.Context(), root, orchestrator.TriggerManual, dryRun)
		if err != nil {
			return err
		}
		if !res.Success {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d syncs failed", failed, len(workspaces))
	}
	return nil
}
