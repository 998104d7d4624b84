package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification to the configured webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			hook := newWebhookNotifier(cfg, zerolog.Nop())
			if hook == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No webhook configured")
				return nil
			}
			if err := hook.Test(cmd.Context()); err != nil {
				return fmt.Errorf("test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}
