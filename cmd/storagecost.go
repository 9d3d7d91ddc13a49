package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/leadore/distill/internal/model"
)

var storageCostOrg string

var storageCostCmd = &cobra.Command{
	Use:   "storage-cost",
	Short: "Estimate monthly raw-content storage cost",
	Long:  "Sums live capture bytes for one or all configured organizations and prices them, including projected savings from the retention window.",
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

		orgs := cfg.Monitoring.Organizations
		if storageCostOrg != "" {
			orgs = []string{storageCostOrg}
		}

		costs := make([]*model.StorageCost, 0, len(orgs))
		for _, org := range orgs {
			cost, err := st.EstimateStorageCost(ctx, org)
			if err != nil {
				return err
			}
			costs = append(costs, cost)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(costs)
	},
}

func init() {
	storageCostCmd.Flags().StringVar(&storageCostOrg, "org", "", "organization ID (default: all configured under monitoring.organizations)")
	rootCmd.AddCommand(storageCostCmd)
}
