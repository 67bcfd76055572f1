package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every PDF in the output directory",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, app App) error {
			n, err := app.Cleanup(cmd.Context())
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d file(s)\n", n)
			return err
		}),
	}
}
