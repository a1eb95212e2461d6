package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/scoring"
)

var rescoreWeights string

var rescoreCmd = &cobra.Command{
	Use:   "rescore [address...]",
	Short: "Re-score stored properties under a what-if weight set",
	Long:  "Scores properties against an alternate weights file without touching pipeline state, and reports the movement against each property's last archived score. Useful for tuning weights before committing them to config.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline()
		if err != nil {
			return err
		}
		defer env.Close()

		weights, err := scoring.LoadWeightsFile(rescoreWeights)
		if err != nil {
			return err
		}
		scorer, err := scoring.New(weights)
		if err != nil {
			return err
		}

		records := env.Properties.All()
		if len(args) > 0 {
			records = nil
			for _, addr := range args {
				rec := env.Properties.Get(addr)
				if rec == nil {
					return eris.Errorf("rescore: no stored property for %q", addr)
				}
				records = append(records, rec)
			}
		}
		if len(records) == 0 {
			fmt.Println("no stored properties to rescore")
			return nil
		}

		ctx := cmd.Context()
		for _, rec := range records {
			breakdown := scorer.Score(rec)
			tier := scoring.Classify(breakdown.Total, cfg.Tiers)
			line := fmt.Sprintf("%-40s %6.2f  %-10s", rec.FullAddress, breakdown.Total, tier)

			if prev, err := env.Archive.Latest(ctx, rec.Normalized); err == nil && prev != nil && prev.Score != nil {
				line += fmt.Sprintf("  (was %.2f %s, %+.2f)",
					prev.Score.Total, orDash(string(prev.Tier)), breakdown.Total-prev.Score.Total)
			}
			fmt.Println(line)
			printLowConfidence(breakdown)
		}
		return nil
	},
}

func init() {
	rescoreCmd.Flags().StringVar(&rescoreWeights, "weights", "", "alternate weights file (required)")
	_ = rescoreCmd.MarkFlagRequired("weights")
	rootCmd.AddCommand(rescoreCmd)
}

func printLowConfidence(b model.ScoreBreakdown) {
	for _, d := range b.Detail {
		if d.LowConfidence {
			fmt.Printf("  low confidence: %s (raw %.1f)\n", d.Name, d.Raw)
		}
	}
}
