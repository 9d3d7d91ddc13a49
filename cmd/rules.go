package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/leadore/distill/internal/extract"
	"github.com/leadore/distill/internal/leadscore"
)

var rulesScoringFile string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage detection and scoring rule files",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a detection rule file",
	Long:  "Parses the rule file and reports every malformed rule or fluff pattern. Bad entries are listed, not fatal, matching runtime behavior.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Extract.RuleFile
		if len(args) > 0 {
			path = args[0]
		}

		rf, dropped, err := extract.LoadRuleFile(path)
		if err != nil {
			return err
		}

		fmt.Printf("%s: %d rules, %d fluff patterns", path, len(rf.Rules), len(rf.FluffPatterns))
		if rf.Industry != "" {
			fmt.Printf(" (industry: %s)", rf.Industry)
		}
		fmt.Println()

		for _, d := range dropped {
			fmt.Printf("  invalid %s: %v\n", d.Entry, d.Err)
		}

		if rulesScoringFile != "" {
			sf, droppedRules, err := leadscore.LoadScoringFile(rulesScoringFile)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d scoring rules\n", rulesScoringFile, len(sf.Rules))
			for _, d := range droppedRules {
				fmt.Printf("  invalid %s: %v\n", d.Entry, d.Err)
				dropped = append(dropped, d)
			}
		}

		if len(dropped) > 0 {
			return eris.Errorf("%d invalid entries", len(dropped))
		}
		fmt.Println("all entries valid")
		return nil
	},
}

func init() {
	rulesValidateCmd.Flags().StringVar(&rulesScoringFile, "scoring", "", "also validate a scoring rule file")
	rulesCmd.AddCommand(rulesValidateCmd)
	rootCmd.AddCommand(rulesCmd)
}
