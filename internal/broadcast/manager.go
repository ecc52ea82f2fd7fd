package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/calebmori/mevengine/internal/domain"
)

// Manager fans a signed bundle out to every eligible channel concurrently.
// The first successful submission wins; the rest are cancelled. A bundle's
// ExpiresAt is a hard deadline for the whole fan-out.
type Manager struct {
	channels []*Channel
	logger   *slog.Logger
}

// NewManager creates the fan-out over the given channels.
func NewManager(channels []*Channel, logger *slog.Logger) *Manager {
	return &Manager{
		channels: channels,
		logger:   logger.With(slog.String("component", "broadcast_manager")),
	}
}

// Broadcast submits the bundle on every channel the priority tier admits and
// returns as soon as one channel reports acceptance, cancelling the rest.
// When every channel fails the result carries per-channel detail for the
// audit trail.
func (m *Manager) Broadcast(ctx context.Context, bundle *domain.SignedBundle, priority domain.Priority) domain.BroadcastResult {
	channels := m.eligible(priority)
	if len(channels) == 0 {
		m.logger.Error("no eligible channels",
			slog.String("bundle", bundle.Hash.Hex()),
			slog.String("priority", priority.String()),
		)
		return domain.BroadcastResult{}
	}

	if !bundle.ExpiresAt.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, bundle.ExpiresAt)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan domain.ChannelResult, len(channels))
	var wg sync.WaitGroup
	start := time.Now()
	for _, ch := range channels {
		wg.Add(1)
		go func(ch *Channel) {
			defer wg.Done()
			results <- ch.Submit(ctx, bundle)
		}(ch)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var out domain.BroadcastResult
	for res := range results {
		out.Channels = append(out.Channels, res)
		if !out.Success && res.Err == "" {
			out.Success = true
			out.Winner = res.Channel
			out.Status = res.Status
			cancel() // losers see context cancellation and stop retrying
			m.logger.Info("bundle accepted",
				slog.String("bundle", bundle.Hash.Hex()),
				slog.String("channel", res.Channel),
				slog.Duration("latency", time.Since(start)),
			)
		}
	}
	if !out.Success {
		m.logger.Warn("all channels failed",
			slog.String("bundle", bundle.Hash.Hex()),
			slog.Int("channels", len(out.Channels)),
		)
	}
	return out
}

// eligible selects the channel subset for a priority tier: ultra bundles only
// touch private channels (a public mempool failure leaks the route), everyone
// else gets every healthy channel. Unhealthy channels are skipped up front but
// a fully unhealthy set still tries everything rather than nothing.
func (m *Manager) eligible(priority domain.Priority) []*Channel {
	var out []*Channel
	for _, ch := range m.channels {
		if priority == domain.PriorityUltra && !ch.Private() {
			continue
		}
		if ch.Healthy() {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		for _, ch := range m.channels {
			if priority == domain.PriorityUltra && !ch.Private() {
				continue
			}
			out = append(out, ch)
		}
	}
	return out
}

// Channels returns the managed channels, for health reporting.
func (m *Manager) Channels() []*Channel { return m.channels }
