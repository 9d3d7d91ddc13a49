package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadore/distill/internal/discovery"
	"github.com/leadore/distill/internal/model"
)

var (
	discoverOrg      string
	discoverPlatform string
	discoverScore    bool
	discoverFailFast bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover <url>",
	Short: "Discover and distill one target URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("discover"); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initDiscovery(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		target := model.Target{
			OrganizationID: discoverOrg,
			URL:            args[0],
			Platform:       model.Platform(discoverPlatform),
		}

		rec, err := env.Service.Discover(ctx, target, discovery.Options{
			ComputeScore: discoverScore,
			ScoringRules: env.ScoringRules,
			FailFast:     discoverFailFast,
		})
		if err != nil {
			zap.L().Error("discover failed",
				zap.String("url", target.URL),
				zap.Error(err),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(rec); encErr != nil {
			return eris.Wrap(encErr, "encode result")
		}
		return err
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverOrg, "org", "", "organization (tenant) ID")
	discoverCmd.Flags().StringVar(&discoverPlatform, "platform", string(model.PlatformSite), "target platform (site, professional-network, code-host, news, funding-db, business-directory)")
	discoverCmd.Flags().BoolVar(&discoverScore, "score", false, "compute a lead score from the extracted signals")
	discoverCmd.Flags().BoolVar(&discoverFailFast, "fail-fast", false, "fail immediately when rate limited instead of waiting")
	discoverCmd.MarkFlagRequired("org") //nolint:errcheck
	rootCmd.AddCommand(discoverCmd)
}
