package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calebmori/mevengine/internal/domain"
)

// Endpoint is one concrete submission target: a private relay or a public
// mempool gateway. Submit must be safe for concurrent use.
type Endpoint interface {
	Name() string
	// Private endpoints do not leak the bundle to competitors on failure;
	// ultra-priority bundles only go to private endpoints.
	Private() bool
	Submit(ctx context.Context, bundle *domain.SignedBundle) (domain.InclusionStatus, error)
}

// Channel wraps an Endpoint with the retry policy and a consecutive-failure
// circuit breaker. An open breaker makes the channel report unhealthy and
// fail submissions immediately until the cooldown passes.
type Channel struct {
	endpoint Endpoint
	policy   RetryPolicy
	sink     domain.EventSink
	logger   *slog.Logger
	now      func() time.Time

	mu               sync.Mutex
	consecutiveFails int
	openUntil        time.Time
}

// NewChannel wraps the endpoint. The sink may be nil.
func NewChannel(endpoint Endpoint, policy RetryPolicy, sink domain.EventSink, logger *slog.Logger) *Channel {
	return &Channel{
		endpoint: endpoint,
		policy:   policy.withDefaults(),
		sink:     sink,
		logger: logger.With(
			slog.String("component", "broadcast_channel"),
			slog.String("channel", endpoint.Name()),
		),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the underlying endpoint name.
func (c *Channel) Name() string { return c.endpoint.Name() }

// Private reports whether the underlying endpoint is private.
func (c *Channel) Private() bool { return c.endpoint.Private() }

// Healthy reports whether the breaker currently admits submissions.
func (c *Channel) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now().Before(c.openUntil)
}

// Submit pushes the bundle through the endpoint with retries. It returns the
// per-channel result; Err is set when every attempt failed. An unhealthy
// channel fails fast with ErrChannelUnhealthy so the fan-out can lean on the
// remaining channels.
func (c *Channel) Submit(ctx context.Context, bundle *domain.SignedBundle) domain.ChannelResult {
	start := c.now()
	res := domain.ChannelResult{Channel: c.Name()}

	if !c.Healthy() {
		res.Err = domain.ErrChannelUnhealthy.Error()
		res.Latency = c.now().Sub(start)
		return res
	}

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		res.Attempts = attempt
		status, err := c.endpoint.Submit(ctx, bundle)
		if err == nil && status != domain.InclusionRejected {
			c.recordSuccess()
			res.Status = status
			res.Latency = c.now().Sub(start)
			return res
		}
		if err == nil {
			err = fmt.Errorf("broadcast: %s rejected bundle %s", c.Name(), bundle.Hash.Hex())
		}
		lastErr = err
		c.logger.Debug("submission attempt failed",
			slog.String("bundle", bundle.Hash.Hex()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == c.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			res.Err = ctx.Err().Error()
			res.Latency = c.now().Sub(start)
			return res
		case <-time.After(c.policy.delay(attempt)):
		}
	}

	c.recordFailure(ctx)
	res.Status = domain.InclusionRejected
	res.Err = lastErr.Error()
	res.Latency = c.now().Sub(start)
	return res
}

func (c *Channel) recordSuccess() {
	c.mu.Lock()
	c.consecutiveFails = 0
	c.mu.Unlock()
}

// recordFailure bumps the failure streak and opens the breaker at the
// threshold.
func (c *Channel) recordFailure(ctx context.Context) {
	c.mu.Lock()
	c.consecutiveFails++
	fails := c.consecutiveFails
	tripped := false
	if fails >= c.policy.BreakerThreshold && !c.now().Before(c.openUntil) {
		c.openUntil = c.now().Add(c.policy.BreakerCooldown)
		tripped = true
	}
	openUntil := c.openUntil
	c.mu.Unlock()

	if tripped {
		c.logger.Warn("channel breaker opened",
			slog.Int("consecutive_failures", fails),
			slog.Time("open_until", openUntil),
		)
		if c.sink != nil {
			c.sink.Emit(ctx, domain.Event{
				Name: domain.EventChannelUnhealthy,
				Detail: map[string]any{
					"channel":              c.Name(),
					"consecutive_failures": fails,
					"open_until":           openUntil,
				},
				At: c.now(),
			})
		}
	}
}
