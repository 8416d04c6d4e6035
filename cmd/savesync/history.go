package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/savesync/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var all bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent syncs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			var roots []string
			if !all {
				var err error
				if roots, err = targetWorkspaces(cmd); err != nil {
					return err
				}
			}

			c, err := openWorkspaces(cmd, roots)
			if err != nil {
				return err
			}
			defer c.Stop()

			scopes := c.Workspaces()
			if all {
				scopes = []string{""}
			}

			var entries []history.Entry
			for _, scope := range scopes {
				found, err := c.History(cmd.Context(), scope, limit)
				if err != nil {
					return err
				}
				entries = append(entries, found...)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, gray.Render("no syncs recorded"))
				return nil
			}

			table := newTable(out, "Finished", "Workspace", "Trigger", "Result", "Files", "Size", "Duration")
			for _, e := range entries {
				table.Append(historyRow(e))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of syncs to show")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Show syncs of every workspace")
	return cmd
}

func historyRow(e history.Entry) []string {
	cause := e.Trigger
	if e.DryRun {
		cause += " (dry run)"
	}

	result := green.Render("ok")
	if !e.Success {
		result = red.Render("failed: " + e.Error)
	}

	return []string{
		e.FinishedAt.Local().Format(time.DateTime) + " " + gray.Render("("+humanize.Time(e.FinishedAt)+")"),
		filepath.Base(e.Workspace),
		cause,
		result,
		strconv.FormatInt(e.Files, 10),
		humanize.Bytes(uint64(e.Bytes)),
		e.Duration.Round(time.Millisecond).String(),
	}
}
