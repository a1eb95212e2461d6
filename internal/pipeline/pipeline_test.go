package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/collect"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/eligibility"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/resilience"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/scoring"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/session"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/store"
)

// scriptedSource serves canned fragments per normalized address and counts
// fetches so tests can assert completed work is never re-executed.
type scriptedSource struct {
	name      string
	fragments map[string]map[string]model.FieldValue
	errs      map[string]error
	calls     atomic.Int64
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Fetch(ctx context.Context, address string) (collect.Fragment, error) {
	s.calls.Add(1)
	key := model.NormalizeAddress(address)
	if err, ok := s.errs[key]; ok {
		return collect.Fragment{}, err
	}
	fields, ok := s.fragments[key]
	if !ok {
		return collect.Fragment{Source: s.name, NotFound: true}, nil
	}
	out := make(map[string]model.FieldValue, len(fields))
	for k, v := range fields {
		v.Source = s.name
		out[k] = v
	}
	return collect.Fragment{Source: s.name, Fields: out}, nil
}

// slowSource blocks until the context is cancelled, standing in for a source
// that cannot answer within the bounded pair wait.
type slowSource struct {
	name string
}

func (s *slowSource) Name() string { return s.name }

func (s *slowSource) Fetch(ctx context.Context, address string) (collect.Fragment, error) {
	<-ctx.Done()
	return collect.Fragment{}, ctx.Err()
}

type testEnv struct {
	properties *store.PropertyStore
	sessions   *session.Manager
	archive    *store.Archive
	county     *scriptedSource
	listing    *scriptedSource
	pipeline   *Pipeline
	dir        string
}

func fields(kv map[string]any) map[string]model.FieldValue {
	out := make(map[string]model.FieldValue, len(kv))
	for k, v := range kv {
		out[k] = model.FieldValue{Value: v, Confidence: 0.9}
	}
	return out
}

// qualifyingCounty satisfies every default hard criterion and carries enough
// data to score well.
func qualifyingCounty() map[string]model.FieldValue {
	return fields(map[string]any{
		"beds": 4.0, "baths": 3.0, "hoa_monthly": 0.0, "sewer_type": "city",
		"lot_sqft": 9000.0, "garage_spaces": 2.0, "roof_age_years": 4.0,
	})
}

func newTestEnv(t *testing.T, dir string) *testEnv {
	t.Helper()

	props, err := store.OpenProperties(filepath.Join(dir, "properties.json"))
	require.NoError(t, err)
	archive, err := store.OpenArchive(filepath.Join(dir, "evaluations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	sessions := session.NewManager(store.NewSessionStore(filepath.Join(dir, "session.json")), 0)

	county := &scriptedSource{
		name:      model.SourceCountyAssessor,
		fragments: map[string]map[string]model.FieldValue{},
		errs:      map[string]error{},
	}
	listing := &scriptedSource{
		name:      model.SourceMLSListing,
		fragments: map[string]map[string]model.FieldValue{},
		errs:      map[string]error{},
	}

	scorer, err := scoring.New(scoring.DefaultWeights())
	require.NoError(t, err)

	coord := collect.NewCoordinator(
		resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		resilience.CircuitBreakerConfig{FailureThreshold: 50, ResetTimeout: time.Minute},
		0, time.Minute,
	)

	env := &testEnv{
		properties: props,
		sessions:   sessions,
		archive:    archive,
		county:     county,
		listing:    listing,
		dir:        dir,
	}
	env.pipeline = New(Deps{
		Properties: props,
		Sessions:   sessions,
		Archive:    archive,
		Coord:      coord,
		County:     county,
		Listing:    listing,
		Evaluator:  eligibility.NewEvaluator(eligibility.Default()),
		Scorer:     scorer,
		Tiers:      scoring.DefaultTiers(),
	})
	return env
}

func TestRunFullFlow(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	env.county.fragments["123 main st"] = qualifyingCounty()
	env.listing.fragments["123 main st"] = fields(map[string]any{
		"price": 540000.0, "interior_visual": 8.0, "kitchen_visual": 9.0,
	})

	_, err := env.sessions.Start([]string{"123 Main St"})
	require.NoError(t, err)

	res, err := env.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.Len(t, res.Snapshots, 1)

	snap := res.Snapshots[0]
	require.NotNil(t, snap.Eligibility)
	assert.Equal(t, model.VerdictPass, snap.Eligibility.Verdict)
	require.NotNil(t, snap.Score)
	assert.Greater(t, snap.Score.Total, 0.0)
	assert.NotEmpty(t, snap.Tier)

	// Record persisted with merged fields and cleared staging.
	rec := env.properties.Get("123 Main St")
	require.NotNil(t, rec)
	assert.Equal(t, 4.0, rec.Fields["beds"].Value)
	assert.Equal(t, model.SourceCountyAssessor, rec.Fields["beds"].Source)
	assert.Equal(t, 540000.0, rec.Fields["price"].Value)
	assert.Empty(t, rec.Staged)

	// Evaluation archived.
	ev, err := env.archive.Latest(context.Background(), "123 main st")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, model.VerdictPass, ev.Eligibility.Verdict)

	assert.Equal(t, 1, res.Summary.Completed)
}

func TestRunEligibilityFailSkipsScoring(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	county := qualifyingCounty()
	county["beds"] = model.FieldValue{Value: 3.0, Confidence: 0.9}
	env.county.fragments["123 main st"] = county
	env.listing.fragments["123 main st"] = fields(map[string]any{"price": 540000.0})

	_, err := env.sessions.Start([]string{"123 Main St"})
	require.NoError(t, err)

	res, err := env.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Snapshots, 1)

	snap := res.Snapshots[0]
	assert.Equal(t, model.VerdictFail, snap.Eligibility.Verdict)
	assert.Equal(t, []string{"beds"}, snap.Eligibility.HardFailureNames())
	assert.Nil(t, snap.Score, "a disqualified property is never scored")

	w := env.sessions.Session().Item("123 Main St")
	assert.Equal(t, model.PhaseSkipped, w.Phase(model.PhaseScoring).Status)

	// The FAIL evaluation is still archived for delta reporting.
	ev, err := env.archive.Latest(context.Background(), "123 main st")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, model.VerdictFail, ev.Eligibility.Verdict)
	assert.Nil(t, ev.Score)
}

func TestRunSourceFailureRecordedBatchContinues(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	env.county.errs["1 broken way"] = resilience.NewPermanentError(errors.New("assessor lookup failed"), "check the parcel number")
	env.listing.fragments["1 broken way"] = fields(map[string]any{"price": 500000.0})

	env.county.fragments["2 good st"] = qualifyingCounty()
	env.listing.fragments["2 good st"] = fields(map[string]any{"price": 540000.0})

	_, err := env.sessions.Start([]string{"1 Broken Way", "2 Good St"})
	require.NoError(t, err)

	res, err := env.pipeline.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "1 Broken Way", res.Failures[0].Address)
	assert.Equal(t, model.PhaseCounty, res.Failures[0].Phase)
	assert.Equal(t, resilience.CategoryPermanent, res.Failures[0].Category)
	assert.Equal(t, "check the parcel number", res.Failures[0].Remedy)

	// The good property still ran to completion.
	require.Len(t, res.Snapshots, 1)
	assert.Equal(t, "2 Good St", res.Snapshots[0].Record.FullAddress)

	assert.Equal(t, 1, res.Summary.Failed)
	assert.Equal(t, 1, res.Summary.Completed)
}

func TestRunPairTimeoutProceedsWithAvailableData(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	county := qualifyingCounty()
	county["price"] = model.FieldValue{Value: 540000.0, Confidence: 0.9}
	env.county.fragments["123 main st"] = county

	coord := collect.NewCoordinator(
		resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
		resilience.CircuitBreakerConfig{FailureThreshold: 50, ResetTimeout: time.Minute},
		0, 20*time.Millisecond,
	)
	scorer, err := scoring.New(scoring.DefaultWeights())
	require.NoError(t, err)
	env.pipeline = New(Deps{
		Properties: env.properties,
		Sessions:   env.sessions,
		Archive:    env.archive,
		Coord:      coord,
		County:     env.county,
		Listing:    &slowSource{name: model.SourceMLSListing},
		Evaluator:  eligibility.NewEvaluator(eligibility.Default()),
		Scorer:     scorer,
		Tiers:      scoring.DefaultTiers(),
	})

	_, err = env.sessions.Start([]string{"123 Main St"})
	require.NoError(t, err)

	res, err := env.pipeline.Run(context.Background())
	require.NoError(t, err)

	// The listing failure is recorded, but the property proceeds on the
	// county data instead of dying.
	require.Len(t, res.Failures, 1)
	assert.Equal(t, model.PhaseListing, res.Failures[0].Phase)

	require.Len(t, res.Snapshots, 1)
	snap := res.Snapshots[0]
	require.NotNil(t, snap.Eligibility)
	assert.Equal(t, model.VerdictPass, snap.Eligibility.Verdict)
	require.NotNil(t, snap.Score)

	w := env.sessions.Session().Item("123 Main St")
	listing := w.Phase(model.PhaseListing)
	assert.Equal(t, model.PhaseCompleted, listing.Status)
	assert.True(t, listing.Partial)
	assert.NotEmpty(t, listing.Error)
	assert.True(t, w.Phase(model.PhaseMerge).Partial, "partial flag follows the data downstream")
	assert.Equal(t, model.PhaseCompleted, w.Phase(model.PhaseScoring).Status)

	assert.Equal(t, 1, res.Summary.Completed)
	assert.Zero(t, res.Summary.Failed)
}

func TestRunResumeDoesNotRepeatCompletedWork(t *testing.T) {
	dir := t.TempDir()

	env := newTestEnv(t, dir)
	env.county.fragments["123 main st"] = qualifyingCounty()
	env.listing.fragments["123 main st"] = fields(map[string]any{"price": 540000.0})
	env.county.fragments["456 oak ave"] = qualifyingCounty()
	env.listing.fragments["456 oak ave"] = fields(map[string]any{"price": 520000.0})

	_, err := env.sessions.Start([]string{"123 Main St", "456 Oak Ave"})
	require.NoError(t, err)
	_, err = env.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), env.county.calls.Load())

	// Fresh process over the same state directory.
	env2 := newTestEnv(t, dir)
	env2.county.fragments = env.county.fragments
	env2.listing.fragments = env.listing.fragments

	s, err := env2.sessions.Resume()
	require.NoError(t, err)
	require.Len(t, s.WorkItems, 2, "resume must not duplicate work items")

	res, err := env2.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, env2.county.calls.Load(), "completed acquisition is never re-fetched")
	assert.Zero(t, env2.listing.calls.Load())
	assert.Equal(t, 2, res.Summary.Completed)
	assert.Len(t, res.Snapshots, 2, "snapshots rebuilt from persisted state")

	// The property collection still has exactly one entry per address.
	assert.Equal(t, 2, env2.properties.Len())
}

func TestRunResumeMidProperty(t *testing.T) {
	dir := t.TempDir()

	env := newTestEnv(t, dir)
	env.county.fragments["123 main st"] = qualifyingCounty()
	env.listing.fragments["123 main st"] = fields(map[string]any{"price": 540000.0})

	_, err := env.sessions.Start([]string{"123 Main St"})
	require.NoError(t, err)

	// Simulate an interruption after acquisition: run both acquisition
	// phases by hand, persisting staged fragments the way the pipeline does.
	rec := model.NewPropertyRecord("123 Main St")
	for _, phase := range []string{model.PhaseCounty, model.PhaseListing} {
		require.NoError(t, env.sessions.Begin("123 Main St", phase))
	}
	countyFrag, err := env.county.Fetch(context.Background(), "123 Main St")
	require.NoError(t, err)
	listingFrag, err := env.listing.Fetch(context.Background(), "123 Main St")
	require.NoError(t, err)
	rec.Stage(env.county.name, countyFrag.Fields)
	rec.Stage(env.listing.name, listingFrag.Fields)
	env.properties.Upsert(rec)
	require.NoError(t, env.properties.Save())
	require.NoError(t, env.sessions.Complete("123 Main St", model.PhaseCounty, false))
	require.NoError(t, env.sessions.Complete("123 Main St", model.PhaseListing, false))

	// New process resumes and finishes merge, eligibility, scoring.
	env2 := newTestEnv(t, dir)
	_, err = env2.sessions.Resume()
	require.NoError(t, err)

	res, err := env2.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, env2.county.calls.Load())
	require.Len(t, res.Snapshots, 1)
	assert.Equal(t, model.VerdictPass, res.Snapshots[0].Eligibility.Verdict)

	stored := env2.properties.Get("123 Main St")
	assert.Equal(t, 4.0, stored.Fields["beds"].Value)
	assert.Empty(t, stored.Staged)
}

func TestRunCancellationCheckpointsAndStops(t *testing.T) {
	env := newTestEnv(t, t.TempDir())
	env.county.fragments["123 main st"] = qualifyingCounty()
	env.listing.fragments["123 main st"] = fields(map[string]any{"price": 540000.0})

	_, err := env.sessions.Start([]string{"123 Main St", "456 Oak Ave"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := env.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Snapshots)
	assert.Equal(t, 2, res.Summary.Pending, "nothing ran after cancellation")

	// The checkpoint still happened.
	s, err := env.sessions.Peek()
	require.NoError(t, err)
	require.NotNil(t, s)
}
