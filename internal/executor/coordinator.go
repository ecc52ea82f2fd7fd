package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/risk"
)

// Builder produces a signed bundle for an opportunity. The engine treats the
// payload as opaque; building and signing live behind this boundary.
type Builder interface {
	Build(ctx context.Context, opp *domain.Opportunity, priority domain.Priority, gasMultiplier float64) (*domain.SignedBundle, error)
}

// Broadcaster is the consumer-side view of the broadcast fan-out.
type Broadcaster interface {
	Broadcast(ctx context.Context, bundle *domain.SignedBundle, priority domain.Priority) domain.BroadcastResult
}

// RouteObserver receives dispatch observations for the competition model.
type RouteObserver interface {
	Observe(key string, t time.Time)
}

// Config holds the execution tunables.
type Config struct {
	// Workers is the number of concurrent dispatch workers.
	Workers int
	// DispatchTimeout bounds one broadcast fan-out, on top of the bundle's
	// own expiry deadline.
	DispatchTimeout time.Duration
	// MaxAttempts is the number of build-and-broadcast rounds per
	// opportunity before it is marked failed.
	MaxAttempts int
	// RetryDelay separates rounds; it doubles each round.
	RetryDelay time.Duration
	// LockTTL is the distributed lock lifetime when a LockManager is set.
	LockTTL time.Duration
	// HighPriorityProfit and UltraPriorityProfit set the profit thresholds
	// for the aggressive routing tiers.
	HighPriorityProfit  float64
	UltraPriorityProfit float64
}

// gasMultipliers maps a priority tier to the fee bump the builder applies.
var gasMultipliers = map[domain.Priority]float64{
	domain.PriorityNormal: 1.0,
	domain.PriorityHigh:   1.25,
	domain.PriorityUltra:  1.5,
}

// Coordinator owns the dispatch path: at-most-once per opportunity, risk
// approval under the in-flight lock, bundle build, broadcast with retries,
// and the audit trail of execution attempts.
type Coordinator struct {
	cfg         Config
	inflight    *InflightTable
	builder     Builder
	broadcaster Broadcaster
	checker     risk.Checker
	attempts    domain.AttemptStore
	locks       domain.LockManager // nil for single-replica deployments
	observer    RouteObserver      // nil when competition feedback is off
	sink        domain.EventSink
	logger      *slog.Logger
	now         func() time.Time
}

// NewCoordinator wires the dispatch path. locks, observer, attempts and sink
// may each be nil.
func NewCoordinator(cfg Config, builder Builder, broadcaster Broadcaster, checker risk.Checker, attempts domain.AttemptStore, locks domain.LockManager, observer RouteObserver, sink domain.EventSink, logger *slog.Logger) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Coordinator{
		cfg:         cfg,
		inflight:    NewInflightTable(),
		builder:     builder,
		broadcaster: broadcaster,
		checker:     checker,
		attempts:    attempts,
		locks:       locks,
		observer:    observer,
		sink:        sink,
		logger:      logger.With(slog.String("component", "executor")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes the ranked channel with a worker pool until it closes or ctx
// is cancelled.
func (c *Coordinator) Run(ctx context.Context, ranked <-chan *domain.Opportunity) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case opp, ok := <-ranked:
					if !ok {
						return nil
					}
					if err := c.Submit(ctx, opp); err != nil && !expectedSubmitErr(err) {
						c.logger.Error("submit failed",
							slog.String("id", opp.ID),
							slog.String("error", err.Error()),
						)
					}
				}
			}
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// expectedSubmitErr filters outcomes that are normal operation, not faults.
func expectedSubmitErr(err error) bool {
	return errors.Is(err, domain.ErrInFlight) ||
		errors.Is(err, domain.ErrExpired) ||
		errors.Is(err, domain.ErrRiskRejected) ||
		errors.Is(err, domain.ErrBreakerOpen) ||
		errors.Is(err, domain.ErrLockHeld)
}

// Submit executes one opportunity end to end. Exactly one concurrent call
// per opportunity ID proceeds; the rest fail fast with ErrInFlight. Expiry
// and risk are revalidated under the in-flight claim, since queue time can be
// long enough for either to change.
func (c *Coordinator) Submit(ctx context.Context, opp *domain.Opportunity) error {
	if !c.inflight.TryAcquire(opp.ID) {
		return fmt.Errorf("executor: %s: %w", opp.ID, domain.ErrInFlight)
	}
	finished := false
	defer func() {
		if !finished {
			c.inflight.Release(opp.ID)
		}
	}()

	if c.locks != nil {
		unlock, err := c.locks.Acquire(ctx, "dispatch:"+opp.ID, c.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("executor: distributed lock %s: %w", opp.ID, err)
		}
		defer unlock()
	}

	now := c.now()
	if opp.Expired(now) {
		c.expire(ctx, opp)
		c.inflight.Finish(opp.ID)
		finished = true
		return fmt.Errorf("executor: %s: %w", opp.ID, domain.ErrExpired)
	}

	release, err := c.checker.Approve(opp)
	if err != nil {
		c.emit(ctx, domain.EventOpportunityDropped, opp, map[string]any{"reason": "risk", "error": err.Error()})
		return fmt.Errorf("executor: approve %s: %w", opp.ID, err)
	}
	defer release()

	if err := opp.Transition(domain.StatusDispatched); err != nil {
		return fmt.Errorf("executor: dispatch %s: %w", opp.ID, err)
	}
	c.emit(ctx, domain.EventOpportunityDispatched, opp, nil)
	if c.observer != nil {
		c.observer.Observe(opp.RouteKey(), now)
	}

	outcome, lastErr := c.dispatch(ctx, opp)
	c.inflight.Finish(opp.ID)
	finished = true

	switch outcome {
	case domain.OutcomeConfirmed:
		if err := opp.Transition(domain.StatusConfirmed); err != nil {
			c.logger.Warn("confirm transition", slog.String("id", opp.ID), slog.String("error", err.Error()))
		}
		c.checker.RecordResult(opp, domain.OutcomeConfirmed, opp.ExpectedProfit)
		c.emit(ctx, domain.EventOpportunityConfirmed, opp, map[string]any{"expected_profit": opp.ExpectedProfit})
		return nil
	case domain.OutcomeExpired:
		opp.Expire()
		c.checker.RecordResult(opp, domain.OutcomeExpired, 0)
		c.emit(ctx, domain.EventOpportunityExpired, opp, map[string]any{"reason": "expired_mid_dispatch"})
		return fmt.Errorf("executor: %s: %w", opp.ID, domain.ErrExpired)
	default:
		if err := opp.Transition(domain.StatusFailed); err != nil {
			c.logger.Warn("fail transition", slog.String("id", opp.ID), slog.String("error", err.Error()))
		}
		// A failed dispatch burns the gas without capturing the edge.
		c.checker.RecordResult(opp, domain.OutcomeFailed, -opp.GasEstimate)
		detail := map[string]any{"gas_lost": opp.GasEstimate}
		if lastErr != nil {
			detail["error"] = lastErr.Error()
		}
		c.emit(ctx, domain.EventOpportunityFailed, opp, detail)
		if lastErr != nil {
			return fmt.Errorf("executor: %s: %w", opp.ID, lastErr)
		}
		return fmt.Errorf("executor: %s: all broadcast attempts failed", opp.ID)
	}
}

// dispatch runs up to MaxAttempts broadcast rounds, backing off between
// rounds, until acceptance, expiry, or the rounds run out. A build failure
// ends the dispatch at once.
func (c *Coordinator) dispatch(ctx context.Context, opp *domain.Opportunity) (domain.AttemptOutcome, error) {
	priority := c.priorityFor(opp)
	delay := c.cfg.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if opp.Expired(c.now()) {
			return domain.OutcomeExpired, nil
		}

		bundle, err := c.builder.Build(ctx, opp, priority, gasMultipliers[priority])
		if err != nil {
			// A builder that cannot produce a valid bundle for this route will
			// not produce one on a retry either; only broadcast failures retry.
			c.logger.Warn("bundle build failed",
				slog.String("id", opp.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return domain.OutcomeFailed, fmt.Errorf("%w: %v", domain.ErrBuildFailed, err)
		}

		result, attemptErr := c.broadcastOnce(ctx, opp, bundle, priority, attempt)
		if attemptErr != nil {
			lastErr = attemptErr
		}
		if result.Success {
			return domain.OutcomeConfirmed, nil
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return domain.OutcomeFailed, ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return domain.OutcomeFailed, lastErr
}

// broadcastOnce records one attempt in the audit store around a single
// fan-out.
func (c *Coordinator) broadcastOnce(ctx context.Context, opp *domain.Opportunity, bundle *domain.SignedBundle, priority domain.Priority, attemptNumber int) (domain.BroadcastResult, error) {
	attempt := domain.ExecutionAttempt{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		AttemptNumber: attemptNumber,
		DispatchedAt:  c.now(),
		GasMultiplier: bundle.GasMultiplier,
		Outcome:       domain.OutcomePending,
	}
	if c.attempts != nil {
		if err := c.attempts.Append(ctx, attempt); err != nil {
			c.logger.Error("append attempt", slog.String("id", opp.ID), slog.String("error", err.Error()))
		}
	}

	bctx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
	result := c.broadcaster.Broadcast(bctx, bundle, priority)
	cancel()

	var channelErr error
	channels := make([]string, 0, len(result.Channels))
	for _, ch := range result.Channels {
		channels = append(channels, ch.Channel)
		if ch.Err != "" && channelErr == nil {
			channelErr = errors.New(ch.Err)
		}
	}
	attempt.Channels = channels

	if c.attempts != nil {
		outcome := domain.OutcomeFailed
		profit := 0.0
		gas := opp.GasEstimate
		errDetail := ""
		if result.Success {
			outcome = domain.OutcomeConfirmed
			profit = opp.ExpectedProfit
		} else if channelErr != nil {
			errDetail = channelErr.Error()
		}
		if err := c.attempts.Finish(ctx, attempt.ID, outcome, profit, gas, errDetail); err != nil {
			c.logger.Error("finish attempt", slog.String("id", opp.ID), slog.String("error", err.Error()))
		}
	}
	if result.Success {
		return result, nil
	}
	return result, channelErr
}

// priorityFor maps expected profit onto the routing tier.
func (c *Coordinator) priorityFor(opp *domain.Opportunity) domain.Priority {
	switch {
	case c.cfg.UltraPriorityProfit > 0 && opp.ExpectedProfit >= c.cfg.UltraPriorityProfit:
		return domain.PriorityUltra
	case c.cfg.HighPriorityProfit > 0 && opp.ExpectedProfit >= c.cfg.HighPriorityProfit:
		return domain.PriorityHigh
	default:
		return domain.PriorityNormal
	}
}

func (c *Coordinator) expire(ctx context.Context, opp *domain.Opportunity) {
	if opp.Expire() {
		c.emit(ctx, domain.EventOpportunityExpired, opp, map[string]any{"reason": "expired_before_dispatch"})
	}
}

func (c *Coordinator) emit(ctx context.Context, name string, opp *domain.Opportunity, detail map[string]any) {
	if c.sink == nil {
		return
	}
	c.sink.Emit(ctx, domain.Event{
		Name:          name,
		OpportunityID: opp.ID,
		Stage:         string(opp.Status()),
		Detail:        detail,
		At:            c.now(),
	})
}
