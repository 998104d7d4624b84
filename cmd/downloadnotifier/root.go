package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag, logLevelFlag, pathsFlag string

	ctx := newCommandContext(&configFlag, &logLevelFlag, &pathsFlag)

	watchCmd := newWatchCommand(ctx)

	rootCmd := &cobra.Command{
		Use:           "downloadnotifier [dir...]",
		Short:         "Notify when downloads finish",
		Long:          "Watches download directories and reports each file once it has finished writing.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE:          watchCmd.RunE,
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&pathsFlag, "paths", "", "Comma-separated directories to watch")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(newClassifyCommand())
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newTestNotifyCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
