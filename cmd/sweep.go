package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepOrg string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired and flagged captures",
	Long:  "Removes raw captures past their retention window or flagged for deletion, in bounded batches. Extracted signals are permanent and untouched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sweep"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		removed, err := st.SweepExpired(ctx, sweepOrg)
		if err != nil {
			return err
		}

		zap.L().Info("sweep complete",
			zap.String("org_id", sweepOrg),
			zap.Int("removed", removed),
		)
		fmt.Printf("removed %d captures\n", removed)
		return nil
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepOrg, "org", "", "limit the sweep to one organization (default all)")
	rootCmd.AddCommand(sweepCmd)
}
