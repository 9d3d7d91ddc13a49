package main

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadore/distill/internal/discovery"
	"github.com/leadore/distill/internal/model"
)

var batchScore bool

var batchCmd = &cobra.Command{
	Use:   "batch <targets.csv>",
	Short: "Discover many targets from a CSV file",
	Long:  "Reads org_id,url,platform rows (header optional) and runs discovery with bounded parallelism. One target failing never aborts the batch.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("discover"); err != nil {
			return err
		}

		targets, err := readTargets(args[0])
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return eris.New("no targets in file")
		}

		ctx := cmd.Context()
		env, err := initDiscovery(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		records := env.Service.DiscoverBatch(ctx, targets, discovery.Options{
			ComputeScore: batchScore,
			ScoringRules: env.ScoringRules,
		})

		failed := 0
		for _, rec := range records {
			if rec != nil && rec.Err != "" {
				failed++
			}
		}
		zap.L().Info("batch complete",
			zap.Int("targets", len(targets)),
			zap.Int("failed", failed),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

// readTargets parses org_id,url,platform rows. A first row whose url column
// does not look like a URL is treated as a header and skipped.
func readTargets(path string) ([]model.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open targets file %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var targets []model.Target
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read targets file")
		}
		if len(row) < 2 {
			continue
		}
		if len(targets) == 0 && row[1] == "url" {
			continue
		}
		platform := model.PlatformSite
		if len(row) > 2 && row[2] != "" {
			platform = model.Platform(row[2])
		}
		targets = append(targets, model.Target{
			OrganizationID: row[0],
			URL:            row[1],
			Platform:       platform,
		})
	}
	return targets, nil
}

func init() {
	batchCmd.Flags().BoolVar(&batchScore, "score", false, "compute lead scores")
	rootCmd.AddCommand(batchCmd)
}
