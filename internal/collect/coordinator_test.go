package collect

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/resilience"
)

// fakeSource scripts per-call outcomes for one source.
type fakeSource struct {
	name  string
	calls atomic.Int64
	fetch func(call int64) (Fragment, error)
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, address string) (Fragment, error) {
	return f.fetch(f.calls.Add(1))
}

func okFragment(source string) Fragment {
	return Fragment{
		Source: source,
		Fields: map[string]model.FieldValue{
			"beds": {Value: 4.0, Source: source},
		},
	}
}

func fastCoordinator() *Coordinator {
	retry := resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2.0,
	}
	return NewCoordinator(retry, resilience.CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute}, 0, time.Minute)
}

func TestFetchPairBothSucceed(t *testing.T) {
	county := &fakeSource{name: model.SourceCountyAssessor, fetch: func(int64) (Fragment, error) {
		return okFragment(model.SourceCountyAssessor), nil
	}}
	listing := &fakeSource{name: model.SourceMLSListing, fetch: func(int64) (Fragment, error) {
		return okFragment(model.SourceMLSListing), nil
	}}

	outcome := fastCoordinator().FetchPair(context.Background(), "123 Main St", []Source{county, listing})

	assert.False(t, outcome.Partial)
	require.Len(t, outcome.Results, 2)
	assert.NoError(t, outcome.Results[model.SourceCountyAssessor].Err)
	assert.NoError(t, outcome.Results[model.SourceMLSListing].Err)
}

func TestFetchPairOneFailureDoesNotAbortTheOther(t *testing.T) {
	county := &fakeSource{name: model.SourceCountyAssessor, fetch: func(int64) (Fragment, error) {
		return Fragment{}, resilience.NewPermanentError(errors.New("parcel not in assessor rolls"), "")
	}}
	listing := &fakeSource{name: model.SourceMLSListing, fetch: func(int64) (Fragment, error) {
		return okFragment(model.SourceMLSListing), nil
	}}

	outcome := fastCoordinator().FetchPair(context.Background(), "123 Main St", []Source{county, listing})

	require.Len(t, outcome.Results, 2)
	assert.Error(t, outcome.Results[model.SourceCountyAssessor].Err)
	assert.NoError(t, outcome.Results[model.SourceMLSListing].Err)
	assert.Equal(t, 4.0, outcome.Results[model.SourceMLSListing].Fragment.Fields["beds"].Value)
}

func TestFetchOneRetriesTransient(t *testing.T) {
	src := &fakeSource{name: model.SourceCountyAssessor, fetch: func(call int64) (Fragment, error) {
		if call < 3 {
			return Fragment{}, resilience.NewTransientError(errors.New("503"), 503)
		}
		return okFragment(model.SourceCountyAssessor), nil
	}}

	frag, err := fastCoordinator().FetchOne(context.Background(), src, "123 Main St")
	require.NoError(t, err)
	assert.Equal(t, int64(3), src.calls.Load())
	assert.Equal(t, 4.0, frag.Fields["beds"].Value)
}

func TestFetchOneDoesNotRetryPermanent(t *testing.T) {
	src := &fakeSource{name: model.SourceCountyAssessor, fetch: func(int64) (Fragment, error) {
		return Fragment{}, resilience.NewPermanentError(errors.New("bad address"), "fix the address")
	}}

	_, err := fastCoordinator().FetchOne(context.Background(), src, "123 Main St")
	require.Error(t, err)
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestCircuitOpensPerSource(t *testing.T) {
	c := NewCoordinator(
		resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
		resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute},
		0, time.Minute,
	)
	failing := &fakeSource{name: model.SourceCountyAssessor, fetch: func(int64) (Fragment, error) {
		return Fragment{}, resilience.NewPermanentError(errors.New("down"), "")
	}}

	for i := 0; i < 2; i++ {
		_, _ = c.FetchOne(context.Background(), failing, "123 Main St")
	}
	assert.Equal(t, resilience.CircuitOpen, c.BreakerStates()[model.SourceCountyAssessor])

	// Further calls are rejected without reaching the source.
	before := failing.calls.Load()
	_, err := c.FetchOne(context.Background(), failing, "123 Main St")
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, before, failing.calls.Load())
}

func TestFetchPairMarksPartialOnDeadline(t *testing.T) {
	slow := &fakeSource{name: model.SourceMLSListing, fetch: func(int64) (Fragment, error) {
		time.Sleep(50 * time.Millisecond)
		return Fragment{}, context.DeadlineExceeded
	}}
	fast := &fakeSource{name: model.SourceCountyAssessor, fetch: func(int64) (Fragment, error) {
		return okFragment(model.SourceCountyAssessor), nil
	}}

	c := NewCoordinator(
		resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
		resilience.CircuitBreakerConfig{FailureThreshold: 10, ResetTimeout: time.Minute},
		0, 10*time.Millisecond,
	)

	outcome := c.FetchPair(context.Background(), "123 Main St", []Source{fast, slow})
	assert.True(t, outcome.Partial)
	assert.NoError(t, outcome.Results[model.SourceCountyAssessor].Err)
	assert.Error(t, outcome.Results[model.SourceMLSListing].Err)
}
