package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newLogCmd() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the end of the savesync log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			f, err := os.Open(appConfig.LogFile)
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(cmd.OutOrStdout(), "no log file at", appConfig.LogFile)
				return nil
			} else if err != nil {
				return err
			}
			defer f.Close()

			return tail(cmd.OutOrStdout(), f, lines)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to print")
	return cmd
}

// tail copies the last n lines of r to w.
func tail(w io.Writer, r io.Reader, n int) error {
	if n <= 0 {
		return nil
	}

	ring := make([]string, n)
	count := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring[count%n] = scanner.Text()
		count++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	start := max(count-n, 0)
	for i := start; i < count; i++ {
		if _, err := fmt.Fprintln(w, ring[i%n]); err != nil {
			return err
		}
	}
	return nil
}
