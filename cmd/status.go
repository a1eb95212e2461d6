package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/store"
)

var statusDeltas bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session progress and evaluation outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline()
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := env.Sessions.Peek()
		if err != nil {
			return err
		}
		if s == nil {
			fmt.Println("no session found")
			return nil
		}
		s.Recount()

		fmt.Printf("session %s (%s), started %s\n",
			s.SessionID, s.Mode, s.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("%d total: %d completed, %d failed, %d skipped, %d pending\n\n",
			s.Summary.Total, s.Summary.Completed, s.Summary.Failed,
			s.Summary.Skipped, s.Summary.Pending)

		ctx := cmd.Context()
		for _, w := range s.WorkItems {
			fmt.Printf("%-40s %s\n", w.Address, phaseLine(w))
			if statusDeltas {
				printDelta(ctx, env.Archive, w.Normalized)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusDeltas, "deltas", false, "show changes against the previous evaluation")
	rootCmd.AddCommand(statusCmd)
}

func phaseLine(w *model.WorkItem) string {
	out := ""
	for i, name := range model.PhaseNames {
		if i > 0 {
			out += " "
		}
		ps := w.Phase(name)
		mark := "?"
		switch ps.Status {
		case model.PhasePending:
			mark = "."
		case model.PhaseInProgress:
			mark = ">"
		case model.PhaseCompleted:
			mark = "+"
			if ps.Partial {
				mark = "~"
			}
		case model.PhaseFailed:
			mark = "x"
		case model.PhaseSkipped:
			mark = "-"
		}
		out += fmt.Sprintf("%s%s", mark, name)
	}
	return out
}

// printDelta compares the two most recent archived evaluations for a
// property and reports verdict, tier, and score movement.
func printDelta(ctx context.Context, archive *store.Archive, normalized string) {
	history, err := archive.History(ctx, normalized, 2)
	if err != nil || len(history) == 0 {
		return
	}
	cur := history[0]
	if len(history) == 1 {
		fmt.Printf("  first evaluation: %s", cur.Eligibility.Verdict)
		if cur.Score != nil {
			fmt.Printf(" %.2f %s", cur.Score.Total, cur.Tier)
		}
		fmt.Println()
		return
	}
	prev := history[1]

	if cur.Eligibility.Verdict != prev.Eligibility.Verdict {
		fmt.Printf("  verdict: %s -> %s\n", prev.Eligibility.Verdict, cur.Eligibility.Verdict)
	}
	if cur.Tier != prev.Tier {
		fmt.Printf("  tier: %s -> %s\n", orDash(string(prev.Tier)), orDash(string(cur.Tier)))
	}
	if cur.Score != nil && prev.Score != nil && cur.Score.Total != prev.Score.Total {
		fmt.Printf("  score: %.2f -> %.2f (%+.2f)\n",
			prev.Score.Total, cur.Score.Total, cur.Score.Total-prev.Score.Total)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
