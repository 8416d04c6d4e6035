package main

import (
	"github.com/openmined/savesync/internal/client"
	"github.com/openmined/savesync/internal/settings"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type workspaceReport struct {
	client.WorkspaceStatus `yaml:",inline"`
	Settings               settings.Settings `yaml:"settings"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the settings and last sync of the daemon workspaces as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			roots, err := daemonWorkspaces(cmd)
			if err != nil {
				return err
			}

			c, err := openWorkspaces(cmd, roots)
			if err != nil {
				return err
			}
			defer c.Stop()

			statuses := c.Status()
			reports := make([]workspaceReport, 0, len(statuses))
			for _, st := range statuses {
				s, err := c.Settings(st.Workspace)
				if err != nil {
					return err
				}
				reports = append(reports, workspaceReport{WorkspaceStatus: st, Settings: s})
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(reports); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
