package collect

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/resilience"
)

// DefaultPairTimeout bounds how long the coordinator waits for a property's
// acquisition pair before proceeding with whatever data arrived.
const DefaultPairTimeout = 10 * time.Minute

// SourceResult is the outcome of one source's acquisition for one property.
type SourceResult struct {
	Fragment Fragment
	Err      error
}

// PairOutcome aggregates the acquisition pair for one property. Partial is
// true when the bounded wait expired before every source finished; the
// property proceeds with available data, flagged accordingly.
type PairOutcome struct {
	Results map[string]SourceResult
	Partial bool
}

// Coordinator runs acquisition sources with per-source rate limiting, retry,
// and circuit breaking. Sub-tasks hand results back to the controller; they
// never touch the state files themselves.
type Coordinator struct {
	retry       resilience.RetryConfig
	breakers    *resilience.SourceBreakers
	pairTimeout time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
}

// NewCoordinator creates a coordinator. ratePerSec <= 0 disables rate
// limiting; pairTimeout <= 0 uses the default.
func NewCoordinator(retry resilience.RetryConfig, breaker resilience.CircuitBreakerConfig, ratePerSec float64, pairTimeout time.Duration) *Coordinator {
	if pairTimeout <= 0 {
		pairTimeout = DefaultPairTimeout
	}
	perSec := rate.Inf
	burst := 1
	if ratePerSec > 0 {
		perSec = rate.Limit(ratePerSec)
	}
	return &Coordinator{
		retry:       retry,
		breakers:    resilience.NewSourceBreakers(breaker),
		pairTimeout: pairTimeout,
		limiters:    make(map[string]*rate.Limiter),
		perSec:      perSec,
		burst:       burst,
	}
}

func (c *Coordinator) limiter(source string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[source]
	if !ok {
		l = rate.NewLimiter(c.perSec, c.burst)
		c.limiters[source] = l
	}
	return l
}

// FetchPair runs the given independent sources for one property in parallel
// and waits until both complete (successfully or with a recorded failure) or
// the bounded wait expires.
func (c *Coordinator) FetchPair(ctx context.Context, address string, sources []Source) PairOutcome {
	outcome := PairOutcome{Results: make(map[string]SourceResult, len(sources))}

	pairCtx, cancel := context.WithTimeout(ctx, c.pairTimeout)
	defer cancel()

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(pairCtx)

	for _, src := range sources {
		g.Go(func() error {
			frag, err := c.fetchOne(gCtx, src, address)
			mu.Lock()
			outcome.Results[src.Name()] = SourceResult{Fragment: frag, Err: err}
			mu.Unlock()
			return nil // per-source failures are recorded, never abort the pair
		})
	}
	_ = g.Wait()

	// A source missing from the results, or one that died on the pair
	// deadline, marks the property partially complete.
	for _, src := range sources {
		res, ok := outcome.Results[src.Name()]
		if !ok || (res.Err != nil && pairCtx.Err() != nil) {
			outcome.Partial = true
			zap.L().Warn("collect: acquisition pair incomplete",
				zap.String("address", address),
				zap.String("source", src.Name()),
			)
		}
	}
	return outcome
}

// FetchOne runs a single source through the limiter, breaker, and retry stack.
func (c *Coordinator) FetchOne(ctx context.Context, src Source, address string) (Fragment, error) {
	return c.fetchOne(ctx, src, address)
}

func (c *Coordinator) fetchOne(ctx context.Context, src Source, address string) (Fragment, error) {
	name := src.Name()
	if err := c.limiter(name).Wait(ctx); err != nil {
		return Fragment{}, eris.Wrapf(err, "collect: rate wait for %s", name)
	}

	cb := c.breakers.Get(name)
	retryCfg := c.retry
	retryCfg.OnRetry = resilience.RetryLogger(name, "fetch")

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (Fragment, error) {
		var frag Fragment
		err := cb.Execute(ctx, func(ctx context.Context) error {
			var fetchErr error
			frag, fetchErr = src.Fetch(ctx, address)
			return fetchErr
		})
		if err != nil {
			return Fragment{}, err
		}
		return frag, nil
	})
}

// BreakerStates exposes per-source circuit state for the status surface.
func (c *Coordinator) BreakerStates() map[string]resilience.CircuitState {
	return c.breakers.States()
}
