package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/downloadnotifier/downloadnotifier/internal/config"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "downloadnotifier %s\n", config.Version)
			if config.Commit != "" {
				fmt.Fprintf(out, "commit: %s\n", config.Commit)
			}
			if config.BuildDate != "" {
				fmt.Fprintf(out, "built: %s\n", config.BuildDate)
			}
			fmt.Fprintf(out, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
