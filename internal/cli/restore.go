package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restoreArchive string

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the price store from a backup archive (destructive)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if restoreArchive == "" {
			return fmt.Errorf("--archive must be provided")
		}
		if err := getApp().Restore(cmd.Context(), restoreArchive); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "restore completed")
		return nil
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreArchive, "archive", "", "Path to the backup archive")
}
