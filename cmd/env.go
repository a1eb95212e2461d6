package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/collect"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/eligibility"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/pipeline"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/resilience"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/scoring"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/session"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/store"
)

// pipelineEnv bundles the wired collaborators a command needs.
type pipelineEnv struct {
	Properties *store.PropertyStore
	Sessions   *session.Manager
	Archive    *store.Archive
	Pipeline   *pipeline.Pipeline
	Coord      *collect.Coordinator
	Scorer     *scoring.Scorer
}

// initPipeline builds the full environment from config. Configuration
// problems (bad criteria file, weights that do not sum, corrupt state files)
// block startup here rather than surfacing mid-batch.
func initPipeline() (*pipelineEnv, error) {
	props, err := store.OpenProperties(cfg.Store.PropertyFile)
	if err != nil {
		var ie *resilience.IntegrityError
		if errors.As(err, &ie) {
			return nil, eris.Wrapf(err, "property state file unusable; restore a backup of %s or remove it to start over", ie.Path)
		}
		return nil, err
	}

	criteria, err := cfg.LoadCriteria()
	if err != nil {
		return nil, err
	}
	weights, err := cfg.LoadWeights()
	if err != nil {
		return nil, err
	}
	scorer, err := scoring.New(weights)
	if err != nil {
		return nil, err
	}

	archive, err := store.OpenArchive(cfg.Store.ArchiveDSN)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(
		store.NewSessionStore(cfg.Store.SessionFile),
		time.Duration(cfg.Pipeline.StaleTimeoutMins)*time.Minute,
	)

	coord := collect.NewCoordinator(
		resilience.FromConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs, cfg.Retry.JitterFraction),
		resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutSecs) * time.Second,
		},
		cfg.Pipeline.RatePerSec,
		time.Duration(cfg.Pipeline.PairTimeoutMins)*time.Minute,
	)

	env := &pipelineEnv{
		Properties: props,
		Sessions:   sessions,
		Archive:    archive,
		Coord:      coord,
		Scorer:     scorer,
	}
	env.Pipeline = pipeline.New(pipeline.Deps{
		Properties: props,
		Sessions:   sessions,
		Archive:    archive,
		Coord:      coord,
		County:     collect.NewFileSource(cfg.Pipeline.InboxDir, model.SourceCountyAssessor),
		Listing:    collect.NewFileSource(cfg.Pipeline.InboxDir, model.SourceMLSListing),
		Evaluator:  eligibility.NewEvaluator(criteria),
		Scorer:     scorer,
		Tiers:      cfg.Tiers,
	})

	zap.L().Debug("pipeline environment ready",
		zap.String("property_file", cfg.Store.PropertyFile),
		zap.String("session_file", cfg.Store.SessionFile),
	)
	return env, nil
}

// Close releases held resources.
func (e *pipelineEnv) Close() {
	if e.Archive != nil {
		if err := e.Archive.Close(); err != nil {
			zap.L().Warn("close archive", zap.Error(err))
		}
	}
}

// printResult writes the per-property outcomes and batch summary.
func printResult(res *pipeline.BatchResult) {
	for _, snap := range res.Snapshots {
		line := fmt.Sprintf("%-40s %s", snap.Record.FullAddress, verdictOf(snap))
		if snap.Score != nil {
			line += fmt.Sprintf("  %6.2f  %s", snap.Score.Total, snap.Tier)
		}
		fmt.Println(line)
	}
	for _, f := range res.Failures {
		fmt.Printf("%-40s FAILED at %s: %s\n", f.Address, f.Phase, f.Error)
		if f.Remedy != "" {
			fmt.Printf("  remedy: %s\n", f.Remedy)
		}
	}
	fmt.Printf("\n%d total: %d completed, %d failed, %d skipped, %d pending\n",
		res.Summary.Total, res.Summary.Completed, res.Summary.Failed,
		res.Summary.Skipped, res.Summary.Pending)
}

func verdictOf(snap model.Snapshot) string {
	if snap.Eligibility == nil {
		return "-"
	}
	v := string(snap.Eligibility.Verdict)
	if snap.Eligibility.Verdict == model.VerdictFail {
		if names := snap.Eligibility.HardFailureNames(); len(names) > 0 {
			v += " (" + names[0]
			if len(names) > 1 {
				v += fmt.Sprintf(" +%d", len(names)-1)
			}
			v += ")"
		}
	}
	return v
}
