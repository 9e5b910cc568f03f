package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the price store via the external backup tool",
	RunE: func(cmd *cobra.Command, args []string) error {
		archive, err := getApp().Backup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", archive.Path)
		return nil
	},
}
