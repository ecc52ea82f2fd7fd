package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmori/mevengine/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeBuilder struct {
	builds atomic.Int64
	err    error
}

func (b *fakeBuilder) Build(ctx context.Context, opp *domain.Opportunity, priority domain.Priority, gasMultiplier float64) (*domain.SignedBundle, error) {
	b.builds.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	return &domain.SignedBundle{
		OpportunityID: opp.ID,
		ChainID:       1,
		Payload:       []byte{0x01},
		GasMultiplier: gasMultiplier,
		ExpiresAt:     opp.ExpiresAt,
	}, nil
}

type fakeBroadcaster struct {
	casts   atomic.Int64
	succeed bool
}

func (b *fakeBroadcaster) Broadcast(ctx context.Context, bundle *domain.SignedBundle, priority domain.Priority) domain.BroadcastResult {
	b.casts.Add(1)
	if b.succeed {
		return domain.BroadcastResult{
			Success: true,
			Winner:  "flashbots",
			Status:  domain.InclusionAccepted,
			Channels: []domain.ChannelResult{
				{Channel: "flashbots", Status: domain.InclusionAccepted},
			},
		}
	}
	return domain.BroadcastResult{
		Channels: []domain.ChannelResult{
			{Channel: "flashbots", Status: domain.InclusionRejected, Err: "bundle reverted"},
		},
	}
}

type recordedResult struct {
	outcome domain.AttemptOutcome
	profit  float64
}

type fakeChecker struct {
	approveErr error

	mu       sync.Mutex
	approved int
	released int
	results  []recordedResult
}

func (c *fakeChecker) Approve(opp *domain.Opportunity) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.approveErr != nil {
		return nil, c.approveErr
	}
	c.approved++
	return func() {
		c.mu.Lock()
		c.released++
		c.mu.Unlock()
	}, nil
}

func (c *fakeChecker) RecordResult(opp *domain.Opportunity, outcome domain.AttemptOutcome, realizedProfit float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, recordedResult{outcome: outcome, profit: realizedProfit})
}

type fakeAttemptStore struct {
	mu       sync.Mutex
	appended []domain.ExecutionAttempt
	finished []recordedResult
}

func (s *fakeAttemptStore) Append(ctx context.Context, attempt domain.ExecutionAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, attempt)
	return nil
}

func (s *fakeAttemptStore) Finish(ctx context.Context, attemptID string, outcome domain.AttemptOutcome, actualProfit, gasUsed float64, errDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, recordedResult{outcome: outcome, profit: actualProfit})
	return nil
}

func (s *fakeAttemptStore) ListByOpportunity(ctx context.Context, opportunityID string) ([]domain.ExecutionAttempt, error) {
	return nil, nil
}

func (s *fakeAttemptStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ExecutionAttempt, error) {
	return nil, nil
}

func (s *fakeAttemptStore) Totals(ctx context.Context, since time.Time) (float64, float64, error) {
	return 0, 0, nil
}

var oppSeq atomic.Int64

func queuedOpp(t *testing.T, profit float64) *domain.Opportunity {
	t.Helper()
	// A unique venue per call keeps the deterministic IDs distinct.
	venue := "uniswap_v3_" + strconv.FormatInt(oppSeq.Add(1), 10)
	opp := domain.NewOpportunity(domain.KindArbitrage, []domain.RouteStep{
		{Op: domain.OpSwap,
			From:  domain.NewInstrument("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 1),
			To:    domain.NewInstrument("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 1),
			Venue: venue,
		},
	}, time.Now().UTC(), time.Hour, time.Minute)
	opp.ExpectedProfit = profit
	opp.Confidence = 0.8
	opp.GasEstimate = 3
	require.NoError(t, opp.Transition(domain.StatusScored))
	require.NoError(t, opp.Transition(domain.StatusQueued))
	return opp
}

func newTestCoordinator(builder Builder, caster Broadcaster, checker *fakeChecker, attempts domain.AttemptStore) *Coordinator {
	return NewCoordinator(Config{
		MaxAttempts: 2,
		RetryDelay:  time.Millisecond,
	}, builder, caster, checker, attempts, nil, nil, nil, testLogger)
}

func TestSubmitConfirmedPath(t *testing.T) {
	builder := &fakeBuilder{}
	caster := &fakeBroadcaster{succeed: true}
	checker := &fakeChecker{}
	store := &fakeAttemptStore{}
	c := newTestCoordinator(builder, caster, checker, store)

	opp := queuedOpp(t, 50)
	require.NoError(t, c.Submit(context.Background(), opp))

	assert.Equal(t, domain.StatusConfirmed, opp.Status())
	assert.EqualValues(t, 1, builder.builds.Load())
	assert.EqualValues(t, 1, caster.casts.Load())
	assert.Equal(t, 1, checker.released)
	require.Len(t, checker.results, 1)
	assert.Equal(t, domain.OutcomeConfirmed, checker.results[0].outcome)
	assert.Equal(t, 50.0, checker.results[0].profit)

	require.Len(t, store.appended, 1)
	assert.Equal(t, opp.ID, store.appended[0].OpportunityID)
	require.Len(t, store.finished, 1)
	assert.Equal(t, domain.OutcomeConfirmed, store.finished[0].outcome)
}

func TestSubmitAtMostOnce(t *testing.T) {
	builder := &fakeBuilder{}
	caster := &fakeBroadcaster{succeed: true}
	checker := &fakeChecker{}
	c := newTestCoordinator(builder, caster, checker, nil)

	opp := queuedOpp(t, 50)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Submit(context.Background(), opp)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, inflight int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInFlight):
			inflight++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactly one concurrent submit proceeds")
	assert.Equal(t, n-1, inflight)
	assert.EqualValues(t, 1, caster.casts.Load())
}

func TestSubmitReplayAfterConfirmRejected(t *testing.T) {
	builder := &fakeBuilder{}
	caster := &fakeBroadcaster{succeed: true}
	c := newTestCoordinator(builder, caster, &fakeChecker{}, nil)

	opp := queuedOpp(t, 50)
	require.NoError(t, c.Submit(context.Background(), opp))

	err := c.Submit(context.Background(), opp)
	require.ErrorIs(t, err, domain.ErrInFlight, "a finished ID stays claimed for its dedup window")
	assert.EqualValues(t, 1, caster.casts.Load())
}

func TestSubmitExpiredBeforeDispatch(t *testing.T) {
	builder := &fakeBuilder{}
	caster := &fakeBroadcaster{succeed: true}
	c := newTestCoordinator(builder, caster, &fakeChecker{}, nil)

	opp := queuedOpp(t, 50)
	opp.ExpiresAt = time.Now().UTC().Add(-time.Second)

	err := c.Submit(context.Background(), opp)
	require.ErrorIs(t, err, domain.ErrExpired)
	assert.Equal(t, domain.StatusExpired, opp.Status())
	assert.EqualValues(t, 0, builder.builds.Load(), "expired work never reaches the builder")
}

func TestSubmitRiskRejectedReleasesClaim(t *testing.T) {
	builder := &fakeBuilder{}
	caster := &fakeBroadcaster{succeed: true}
	checker := &fakeChecker{approveErr: domain.ErrRiskRejected}
	c := newTestCoordinator(builder, caster, checker, nil)

	opp := queuedOpp(t, 50)
	err := c.Submit(context.Background(), opp)
	require.ErrorIs(t, err, domain.ErrRiskRejected)
	assert.EqualValues(t, 0, builder.builds.Load())

	// The claim is released, so a later pass may retry once risk clears.
	checker.approveErr = nil
	require.NoError(t, c.Submit(context.Background(), opp))
}

func TestSubmitFailedPathBurnsGas(t *testing.T) {
	builder := &fakeBuilder{}
	caster := &fakeBroadcaster{succeed: false}
	checker := &fakeChecker{}
	store := &fakeAttemptStore{}
	c := newTestCoordinator(builder, caster, checker, store)

	opp := queuedOpp(t, 50)
	err := c.Submit(context.Background(), opp)
	require.Error(t, err)

	assert.Equal(t, domain.StatusFailed, opp.Status())
	assert.EqualValues(t, 2, caster.casts.Load(), "every retry round is exhausted")
	require.Len(t, checker.results, 1)
	assert.Equal(t, domain.OutcomeFailed, checker.results[0].outcome)
	assert.Equal(t, -3.0, checker.results[0].profit, "a failed dispatch costs the gas estimate")
	assert.Len(t, store.appended, 2)
	assert.Equal(t, 1, checker.released)
}

func TestSubmitBuildFailureIsTerminal(t *testing.T) {
	builder := &fakeBuilder{err: errors.New("builder offline")}
	caster := &fakeBroadcaster{succeed: true}
	c := newTestCoordinator(builder, caster, &fakeChecker{}, nil)

	opp := queuedOpp(t, 50)
	err := c.Submit(context.Background(), opp)
	require.ErrorIs(t, err, domain.ErrBuildFailed)
	assert.EqualValues(t, 1, builder.builds.Load(), "an unbuildable route is never rebuilt")
	assert.EqualValues(t, 0, caster.casts.Load())
	assert.Equal(t, domain.StatusFailed, opp.Status())
}

func TestPriorityTiers(t *testing.T) {
	c := NewCoordinator(Config{
		HighPriorityProfit:  100,
		UltraPriorityProfit: 1000,
	}, &fakeBuilder{}, &fakeBroadcaster{}, &fakeChecker{}, nil, nil, nil, nil, testLogger)

	assert.Equal(t, domain.PriorityNormal, c.priorityFor(queuedOpp(t, 50)))
	assert.Equal(t, domain.PriorityHigh, c.priorityFor(queuedOpp(t, 500)))
	assert.Equal(t, domain.PriorityUltra, c.priorityFor(queuedOpp(t, 1500)))
}

type fakeObserver struct {
	mu   sync.Mutex
	keys []string
}

func (o *fakeObserver) Observe(key string, t time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.keys = append(o.keys, key)
}

func TestSubmitFeedsCompetitionObserver(t *testing.T) {
	obs := &fakeObserver{}
	c := NewCoordinator(Config{}, &fakeBuilder{}, &fakeBroadcaster{succeed: true}, &fakeChecker{}, nil, nil, obs, nil, testLogger)

	opp := queuedOpp(t, 50)
	require.NoError(t, c.Submit(context.Background(), opp))
	require.Len(t, obs.keys, 1)
	assert.Equal(t, opp.RouteKey(), obs.keys[0])
}

func TestRunDrainsRankedChannel(t *testing.T) {
	caster := &fakeBroadcaster{succeed: true}
	c := NewCoordinator(Config{Workers: 2}, &fakeBuilder{}, caster, &fakeChecker{}, nil, nil, nil, nil, testLogger)

	ranked := make(chan *domain.Opportunity, 4)
	opps := []*domain.Opportunity{queuedOpp(t, 10), queuedOpp(t, 20)}
	for _, opp := range opps {
		ranked <- opp
	}
	close(ranked)

	require.NoError(t, c.Run(context.Background(), ranked))
	for _, opp := range opps {
		assert.Equal(t, domain.StatusConfirmed, opp.Status())
	}
}
