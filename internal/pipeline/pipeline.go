// Package pipeline orchestrates the per-property evaluation flow: the
// acquisition pair, precedence merge, eligibility filter, and scoring, with
// every phase transition checkpointed through the session manager.
package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/collect"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/eligibility"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/merge"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/resilience"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/scoring"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/session"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/store"
)

// Failure is one per-property, per-phase failure surfaced in the batch
// result. Category and Remedy come from error classification so the operator
// report can say what to do, not just what broke.
type Failure struct {
	Address  string              `json:"address"`
	Phase    string              `json:"phase"`
	Category resilience.Category `json:"category"`
	Remedy   string              `json:"remedy,omitempty"`
	Error    string              `json:"error"`
}

// BatchResult aggregates a batch run: snapshots for properties that reached
// a verdict, failures for those that did not, and the session summary.
type BatchResult struct {
	Snapshots []model.Snapshot    `json:"snapshots"`
	Failures  []Failure           `json:"failures,omitempty"`
	Summary   model.SummaryCounts `json:"summary"`
}

// Deps wires the pipeline's collaborators.
type Deps struct {
	Properties *store.PropertyStore
	Sessions   *session.Manager
	Archive    *store.Archive // optional; nil disables evaluation archiving
	Coord      *collect.Coordinator
	County     collect.Source
	Listing    collect.Source
	Evaluator  *eligibility.Evaluator
	Scorer     *scoring.Scorer
	Tiers      scoring.TierThresholds
}

// Pipeline is the batch controller. Properties are processed sequentially;
// only the acquisition pair within one property runs in parallel, so the
// state files have exactly one writer.
type Pipeline struct {
	deps Deps
}

// New creates a pipeline over the given collaborators.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// Run processes every work item in the live session, in order. Per-property
// failures are recorded and the batch moves on; only state-persistence errors
// abort the run. Cancellation is advisory: the current property finishes its
// in-flight phase and a final checkpoint is always written.
func (p *Pipeline) Run(ctx context.Context) (*BatchResult, error) {
	s := p.deps.Sessions.Session()
	result := &BatchResult{}

	for _, w := range s.WorkItems {
		if ctx.Err() != nil {
			zap.L().Warn("pipeline: cancellation requested, stopping before next property",
				zap.String("address", w.Normalized))
			break
		}
		if w.Done() {
			// Resume: completed work is never re-executed.
			if snap := p.snapshot(w); snap != nil {
				result.Snapshots = append(result.Snapshots, *snap)
			}
			continue
		}

		snap, failures, err := p.runProperty(ctx, w)
		if err != nil {
			return result, err
		}
		result.Failures = append(result.Failures, failures...)
		if snap != nil {
			result.Snapshots = append(result.Snapshots, *snap)
		}
	}

	if err := p.deps.Sessions.Checkpoint(); err != nil {
		return result, err
	}
	s.Recount()
	result.Summary = s.Summary

	zap.L().Info("pipeline: batch finished",
		zap.String("session_id", s.SessionID),
		zap.Int("completed", s.Summary.Completed),
		zap.Int("failed", s.Summary.Failed),
		zap.Int("pending", s.Summary.Pending),
	)
	return result, nil
}

// runProperty drives one property through its pending phases. Which phases
// run is read from the work item, so a resumed property continues exactly
// where it stopped.
func (p *Pipeline) runProperty(ctx context.Context, w *model.WorkItem) (*model.Snapshot, []Failure, error) {
	var failures []Failure

	rec := p.deps.Properties.Get(w.Address)
	if rec == nil {
		rec = model.NewPropertyRecord(w.Address)
	}

	acqFailures, err := p.acquire(ctx, w, rec)
	if err != nil {
		return nil, failures, err
	}
	failures = append(failures, acqFailures...)

	if w.Phase(model.PhaseMerge).Status == model.PhasePending {
		if err := p.mergePhase(w, rec); err != nil {
			return nil, failures, err
		}
	}

	var elig *model.EligibilityResult
	if w.Phase(model.PhaseEligibility).Status == model.PhasePending {
		elig, err = p.eligibilityPhase(w, rec)
		if err != nil {
			return nil, failures, err
		}
	}

	var breakdown *model.ScoreBreakdown
	var tier model.Tier
	if w.Phase(model.PhaseScoring).Status == model.PhasePending {
		breakdown, tier, err = p.scoringPhase(w, rec)
		if err != nil {
			return nil, failures, err
		}
	}

	if elig != nil {
		p.archive(ctx, w, elig, breakdown, tier)
	}

	// A property that reached a verdict gets a snapshot even when a source
	// failure was recorded along the way; only a property with no verdict at
	// all is reported purely through its failures.
	if !w.Done() || (len(failures) > 0 && elig == nil) {
		return nil, failures, nil
	}
	return &model.Snapshot{Record: rec, Eligibility: elig, Score: breakdown, Tier: tier}, failures, nil
}

// acquire runs the pending acquisition phases. Both pending means the
// independent pair runs in parallel; a resumed property with one side done
// fetches only the other.
func (p *Pipeline) acquire(ctx context.Context, w *model.WorkItem, rec *model.PropertyRecord) ([]Failure, error) {
	bySource := map[string]collect.Source{
		model.PhaseCounty:  p.deps.County,
		model.PhaseListing: p.deps.Listing,
	}

	var pending []string
	var sources []collect.Source
	for _, phase := range []string{model.PhaseCounty, model.PhaseListing} {
		if w.Phase(phase).Status == model.PhasePending {
			pending = append(pending, phase)
			sources = append(sources, bySource[phase])
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	for _, phase := range pending {
		if err := p.deps.Sessions.Begin(w.Address, phase); err != nil {
			return nil, err
		}
	}

	var outcome collect.PairOutcome
	if len(sources) == 1 {
		frag, err := p.deps.Coord.FetchOne(ctx, sources[0], w.Address)
		outcome = collect.PairOutcome{Results: map[string]collect.SourceResult{
			sources[0].Name(): {Fragment: frag, Err: err},
		}}
	} else {
		outcome = p.deps.Coord.FetchPair(ctx, w.Address, sources)
	}

	// Whether any usable data exists for this property: a fragment from this
	// run, staged fragments from an interrupted run, or previously merged
	// fields. When the bounded pair wait expires with data in hand, the
	// property proceeds instead of dying.
	dataAvailable := len(rec.Staged) > 0 || len(rec.Fields) > 0
	for _, src := range sources {
		if res, ok := outcome.Results[src.Name()]; ok && res.Err == nil && !res.Fragment.NotFound {
			dataAvailable = true
		}
	}

	var failures []Failure
	staged := false
	for i, phase := range pending {
		src := sources[i]
		res := outcome.Results[src.Name()]
		if res.Err != nil {
			failures = append(failures, p.failure(w.Address, phase, res.Err))
			if outcome.Partial && dataAvailable {
				// Bounded wait expired with usable data from the other
				// source: proceed partially complete, flagged accordingly.
				if err := p.deps.Sessions.CompletePartial(w.Address, phase, res.Err.Error()); err != nil {
					return failures, err
				}
				continue
			}
			if err := p.deps.Sessions.Fail(w.Address, phase, res.Err.Error()); err != nil {
				return failures, err
			}
			if err := p.skipDownstream(w, "acquisition failed"); err != nil {
				return failures, err
			}
			continue
		}

		if !res.Fragment.NotFound {
			rec.Stage(src.Name(), res.Fragment.Fields)
			merge.ApplyExtra(rec, res.Fragment.Extra)
			staged = true
		}
		// Persist acquired data before the completion checkpoint so the
		// status and the data it refers to never diverge.
		p.deps.Properties.Upsert(rec)
		if err := p.deps.Properties.Save(); err != nil {
			return failures, eris.Wrap(err, "pipeline: persist acquisition")
		}
		partial := outcome.Partial || res.Fragment.NotFound
		if err := p.deps.Sessions.Complete(w.Address, phase, partial); err != nil {
			return failures, err
		}
	}

	if staged {
		zap.L().Debug("pipeline: fragments staged",
			zap.String("address", w.Normalized),
			zap.Int("sources", len(rec.Staged)),
		)
	}
	return failures, nil
}

// mergePhase folds staged fragments into the canonical record under
// precedence rules, then clears the staging area.
func (p *Pipeline) mergePhase(w *model.WorkItem, rec *model.PropertyRecord) error {
	if err := p.deps.Sessions.Begin(w.Address, model.PhaseMerge); err != nil {
		if eris.Is(err, session.ErrPrereqNotMet) {
			return nil // acquisition did not finish; downstream already skipped
		}
		return err
	}

	// Ascending precedence so the highest-ranked source applies last and its
	// lineage entries sit newest in history.
	srcs := make([]string, 0, len(rec.Staged))
	for source := range rec.Staged {
		srcs = append(srcs, source)
	}
	sort.Slice(srcs, func(i, j int) bool {
		pi, pj := model.SourcePrecedence(srcs[i]), model.SourcePrecedence(srcs[j])
		if pi != pj {
			return pi < pj
		}
		return srcs[i] < srcs[j]
	})

	accepted, blocked := 0, 0
	for _, source := range srcs {
		report := merge.Apply(rec, rec.Staged[source], merge.Policy{})
		accepted += len(report.Accepted)
		blocked += len(report.Blocked)
	}
	rec.Staged = nil

	p.deps.Properties.Upsert(rec)
	if err := p.deps.Properties.Save(); err != nil {
		return eris.Wrap(err, "pipeline: persist merge")
	}

	partial := w.Phase(model.PhaseCounty).Partial || w.Phase(model.PhaseListing).Partial
	if err := p.deps.Sessions.Complete(w.Address, model.PhaseMerge, partial); err != nil {
		return err
	}

	zap.L().Info("pipeline: merged",
		zap.String("address", w.Normalized),
		zap.Int("accepted", accepted),
		zap.Int("blocked", blocked),
	)
	return nil
}

func (p *Pipeline) eligibilityPhase(w *model.WorkItem, rec *model.PropertyRecord) (*model.EligibilityResult, error) {
	if err := p.deps.Sessions.Begin(w.Address, model.PhaseEligibility); err != nil {
		if eris.Is(err, session.ErrPrereqNotMet) {
			return nil, nil
		}
		return nil, err
	}

	result := p.deps.Evaluator.Evaluate(rec)
	if err := p.deps.Sessions.Complete(w.Address, model.PhaseEligibility, false); err != nil {
		return nil, err
	}

	if result.Verdict == model.VerdictFail {
		reason := "eligibility FAIL"
		if names := result.HardFailureNames(); len(names) > 0 {
			reason = "hard criteria failed: " + strings.Join(names, ", ")
		}
		if err := p.deps.Sessions.Skip(w.Address, model.PhaseScoring, reason); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func (p *Pipeline) scoringPhase(w *model.WorkItem, rec *model.PropertyRecord) (*model.ScoreBreakdown, model.Tier, error) {
	if err := p.deps.Sessions.Begin(w.Address, model.PhaseScoring); err != nil {
		if eris.Is(err, session.ErrPrereqNotMet) {
			return nil, "", nil
		}
		return nil, "", err
	}

	breakdown := p.deps.Scorer.Score(rec)
	tier := scoring.Classify(breakdown.Total, p.deps.Tiers)
	if err := p.deps.Sessions.Complete(w.Address, model.PhaseScoring, false); err != nil {
		return nil, "", err
	}

	zap.L().Info("pipeline: scored",
		zap.String("address", w.Normalized),
		zap.Float64("total", breakdown.Total),
		zap.String("tier", string(tier)),
	)
	return &breakdown, tier, nil
}

// archive appends the evaluation outcome to the history archive. Archive
// trouble never fails the property; the flat files remain authoritative.
func (p *Pipeline) archive(ctx context.Context, w *model.WorkItem, elig *model.EligibilityResult, breakdown *model.ScoreBreakdown, tier model.Tier) {
	if p.deps.Archive == nil {
		return
	}
	ev := store.Evaluation{
		SessionID:   p.deps.Sessions.Session().SessionID,
		Normalized:  w.Normalized,
		Eligibility: elig,
		Score:       breakdown,
		Tier:        tier,
		EvaluatedAt: time.Now().UTC(),
	}
	if err := p.deps.Archive.Append(ctx, ev); err != nil {
		zap.L().Warn("pipeline: archive append failed",
			zap.String("address", w.Normalized),
			zap.Error(err),
		)
	}
}

// skipDownstream marks every still-pending phase of the property skipped
// after an upstream failure, so the item reaches a terminal state and the
// batch summary counts it as failed rather than stuck.
func (p *Pipeline) skipDownstream(w *model.WorkItem, reason string) error {
	for _, phase := range model.PhaseNames {
		if w.Phase(phase).Status != model.PhasePending {
			continue
		}
		if err := p.deps.Sessions.Skip(w.Address, phase, reason); err != nil {
			return err
		}
	}
	return nil
}

// snapshot rebuilds the read-only view for an already-completed property
// from the property store and the archive.
func (p *Pipeline) snapshot(w *model.WorkItem) *model.Snapshot {
	rec := p.deps.Properties.Get(w.Address)
	if rec == nil {
		return nil
	}
	snap := &model.Snapshot{Record: rec}
	if p.deps.Archive != nil {
		if ev, err := p.deps.Archive.Latest(context.Background(), w.Normalized); err == nil && ev != nil {
			snap.Eligibility = ev.Eligibility
			snap.Score = ev.Score
			snap.Tier = ev.Tier
		}
	}
	return snap
}

func (p *Pipeline) failure(address, phase string, err error) Failure {
	return Failure{
		Address:  address,
		Phase:    phase,
		Category: resilience.Classify(err),
		Remedy:   resilience.Remedy(err),
		Error:    err.Error(),
	}
}
