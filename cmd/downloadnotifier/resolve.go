package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/downloadnotifier/downloadnotifier/internal/notification"
	"github.com/downloadnotifier/downloadnotifier/internal/resolver"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var urlFlag string

	cmd := &cobra.Command{
		Use:   "resolve <path...>",
		Short: "Estimate the final size of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			res := buildResolver(cfg, afero.NewOsFs(), notification.Discard, zerolog.Nop(), nil)

			rows := make([][]string, 0, len(args))
			for _, path := range args {
				abs, err := filepath.Abs(path)
				if err != nil {
					abs = filepath.Clean(path)
				}

				result, ok := res.Resolve(cmd.Context(), resolver.Request{Path: abs, SourceURL: urlFlag})
				if !ok {
					rows = append(rows, []string{abs, "unknown", "-"})
					continue
				}
				rows = append(rows, []string{
					abs,
					fmt.Sprintf("%s (%s bytes)", humanize.Bytes(uint64(result.Size)), humanize.Comma(result.Size)),
					result.Strategy,
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Path", "Expected size", "Source"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&urlFlag, "url", "", "Source URL to probe with an HTTP HEAD request")
	return cmd
}
