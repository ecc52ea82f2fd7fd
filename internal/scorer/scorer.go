package scorer

import (
	"context"
	"log/slog"
	"time"

	"github.com/calebmori/mevengine/internal/domain"
)

// Config holds the scoring tunables.
type Config struct {
	// MinProfit and MinConfidence are hard drops; opportunities below either
	// never enter the queue.
	MinProfit     float64
	MinConfidence float64
	// QueueCapacity bounds the ready queue.
	QueueCapacity int
	// HotnessHalfLife controls how fast route competition pressure decays.
	HotnessHalfLife time.Duration
	// DispatchInterval paces how often the queue head is offered downstream.
	DispatchInterval time.Duration
	// OutBuffer sizes the channel to the executor.
	OutBuffer int
}

// Gate pre-screens opportunities before they may enter the ready queue. It is
// the read-only face of the risk manager; the reserving approval still runs
// at dispatch time.
type Gate interface {
	Precheck(opp *domain.Opportunity) error
}

// Scorer converts detected opportunities into a priority-ordered stream for
// the executor. Priority is expected profit weighted by confidence and
// execution probability per second of remaining lifetime, discounted by how
// contested the route currently is.
type Scorer struct {
	cfg     Config
	hotness *HotnessTracker
	queue   *Queue
	gate    Gate
	sink    domain.EventSink
	logger  *slog.Logger

	in  <-chan *domain.Opportunity
	out chan *domain.Opportunity

	now func() time.Time
}

// New wires a scorer over the detection engine's output channel. The gate and
// the sink may be nil.
func New(cfg Config, in <-chan *domain.Opportunity, gate Gate, sink domain.EventSink, logger *slog.Logger) *Scorer {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.1
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 10 * time.Millisecond
	}
	if cfg.OutBuffer <= 0 {
		cfg.OutBuffer = 64
	}
	return &Scorer{
		cfg:     cfg,
		hotness: NewHotnessTracker(cfg.HotnessHalfLife),
		queue:   NewQueue(cfg.QueueCapacity),
		gate:    gate,
		sink:    sink,
		logger:  logger.With(slog.String("component", "scorer")),
		in:      in,
		out:     make(chan *domain.Opportunity, cfg.OutBuffer),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ranked returns the priority-ordered opportunity stream.
func (s *Scorer) Ranked() <-chan *domain.Opportunity { return s.out }

// Hotness exposes the route tracker so the executor can feed dispatch
// observations back into the competition model.
func (s *Scorer) Hotness() *HotnessTracker { return s.hotness }

// Run scores until the input channel closes or ctx is cancelled. The output
// channel is closed on return.
func (s *Scorer) Run(ctx context.Context) error {
	defer close(s.out)
	ticker := time.NewTicker(s.cfg.DispatchInterval)
	defer ticker.Stop()
	prune := time.NewTicker(time.Minute)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-s.in:
			if !ok {
				return nil
			}
			s.admit(ctx, opp)
		case <-ticker.C:
			s.dispatch(ctx)
		case now := <-prune.C:
			s.hotness.Prune(now)
		}
	}
}

// admit scores one opportunity and inserts it into the queue, dropping it on
// the hard profit and confidence floors first.
func (s *Scorer) admit(ctx context.Context, opp *domain.Opportunity) {
	now := s.now()
	if opp.Expired(now) {
		s.expire(ctx, opp, "expired_before_scoring")
		return
	}
	if opp.ExpectedProfit < s.cfg.MinProfit || opp.Confidence < s.cfg.MinConfidence {
		s.drop(ctx, opp, "below_floor")
		return
	}

	s.hotness.Observe(opp.RouteKey(), now)
	priority := s.Priority(opp, now)

	if err := opp.Transition(domain.StatusScored); err != nil {
		s.logger.Warn("cannot score", slog.String("id", opp.ID), slog.String("error", err.Error()))
		return
	}
	s.emit(ctx, domain.EventOpportunityScored, opp, map[string]any{"priority": priority})

	if s.gate != nil {
		if err := s.gate.Precheck(opp); err != nil {
			s.drop(ctx, opp, "risk_rejected")
			return
		}
	}

	if evicted := s.queue.Push(Scored{Opp: opp, Priority: priority}); evicted != nil {
		s.drop(ctx, evicted.Opp, "queue_full")
		if evicted.Opp.ID == opp.ID {
			return
		}
	}
	if err := opp.Transition(domain.StatusQueued); err != nil {
		s.logger.Warn("cannot queue", slog.String("id", opp.ID), slog.String("error", err.Error()))
		return
	}
	s.emit(ctx, domain.EventOpportunityQueued, opp, nil)
}

// dispatch pops queue heads onto the output channel until the channel is full
// or the queue empties. Expired heads are discarded as they surface.
func (s *Scorer) dispatch(ctx context.Context) {
	for {
		item, ok := s.queue.Pop()
		if !ok {
			return
		}
		if item.Opp.Expired(s.now()) {
			s.expire(ctx, item.Opp, "expired_in_queue")
			continue
		}
		select {
		case s.out <- item.Opp:
		default:
			// Executor is saturated; put the head back and retry next tick.
			s.queue.Push(item)
			return
		}
	}
}

// Priority computes the ranking score at t. The shape is expected value per
// second of remaining life, discounted by route competition:
//
//	profit * confidence * execProbability / max(tte, 50ms) * competition
//
// The floor on time-to-expiry keeps nearly dead opportunities from ranking
// arbitrarily high.
func (s *Scorer) Priority(opp *domain.Opportunity, t time.Time) float64 {
	tte := opp.TimeToExpiry(t).Seconds()
	const floor = 0.05
	if tte < floor {
		tte = floor
	}
	ev := opp.ExpectedProfit * opp.Confidence * execProbability(opp)
	return ev / tte * s.hotness.CompetitionFactor(opp.RouteKey(), t)
}

// execProbability estimates the chance a dispatched bundle lands, from the
// detector's risk classification. Heuristic tunables.
func execProbability(opp *domain.Opportunity) float64 {
	switch opp.Risk {
	case domain.RiskLow:
		return 0.9
	case domain.RiskMedium:
		return 0.7
	default:
		return 0.4
	}
}

// drop emits the drop event and retires the opportunity so it never rests in
// a non-terminal state; the route can then be re-detected cleanly.
func (s *Scorer) drop(ctx context.Context, opp *domain.Opportunity, reason string) {
	s.emit(ctx, domain.EventOpportunityDropped, opp, map[string]any{"reason": reason})
	opp.Expire()
}

func (s *Scorer) expire(ctx context.Context, opp *domain.Opportunity, reason string) {
	if opp.Expire() {
		s.emit(ctx, domain.EventOpportunityExpired, opp, map[string]any{"reason": reason})
	}
}

func (s *Scorer) emit(ctx context.Context, name string, opp *domain.Opportunity, detail map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(ctx, domain.Event{
		Name:          name,
		OpportunityID: opp.ID,
		Stage:         string(opp.Status()),
		Detail:        detail,
		At:            s.now(),
	})
}
