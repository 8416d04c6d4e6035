package main

import (
	"fmt"

	"github.com/openmined/savesync/internal/sshhosts"
	"github.com/spf13/cobra"
)

func newHostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List SSH hosts usable as sync targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			hosts, err := sshhosts.Discover(appConfig.SSHConfig)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, gray.Render("no hosts in "+appConfig.SSHConfig))
				return nil
			}

			table := newTable(out, "Host", "Target")
			for _, h := range hosts {
				table.Append([]string{h.Name, describeHost(h)})
			}
			table.Render()
			return nil
		},
	}
}
