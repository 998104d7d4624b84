package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/downloadnotifier/downloadnotifier/internal/classifier"
)

func newClassifyCommand() *cobra.Command {
	var extraSuffixes []string

	cmd := &cobra.Command{
		Use:   "classify <path...>",
		Short: "Show how paths are classified",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := classifier.New(extraSuffixes...)

			rows := make([][]string, 0, len(args))
			for _, path := range args {
				rows = append(rows, []string{
					filepath.Clean(path),
					yesNo(c.IsTemporary(path)),
					yesNo(classifier.LooksLikeChatClientFile(path)),
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Path", "Temporary", "Chat client"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&extraSuffixes, "temp-suffix", nil, "Additional temporary suffixes")
	return cmd
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
