// Package audit publishes engine events to the durable event bus without
// ever blocking the pipeline that produced them.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/calebmori/mevengine/internal/domain"
)

const (
	// LiveChannel is the Pub/Sub channel live consumers subscribe to.
	LiveChannel = "mev:events"
	// Stream is the durable event log, replayable by ID.
	Stream = "mev:events:log"
)

// Sink implements domain.EventSink over an EventBus. Emit enqueues onto a
// bounded buffer drained by a background worker; when the buffer is full the
// event is dropped and counted, since stalling the hot path costs more than a
// gap in the audit log.
type Sink struct {
	bus    domain.EventBus
	logger *slog.Logger
	buf    chan domain.Event
}

var _ domain.EventSink = (*Sink)(nil)

// NewSink creates the sink with the given buffer size (default 1024).
func NewSink(bus domain.EventBus, buffer int, logger *slog.Logger) *Sink {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Sink{
		bus:    bus,
		logger: logger.With(slog.String("component", "audit_sink")),
		buf:    make(chan domain.Event, buffer),
	}
}

// Emit implements domain.EventSink. It never blocks.
func (s *Sink) Emit(ctx context.Context, ev domain.Event) {
	select {
	case s.buf <- ev:
	default:
		s.logger.Warn("audit buffer full, dropping event", slog.String("event", ev.Name))
	}
}

// Run drains the buffer until ctx is cancelled, publishing each event to the
// live channel and the durable stream.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.buf:
			s.flush(ctx, ev)
		}
	}
}

func (s *Sink) flush(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal event", slog.String("event", ev.Name), slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, LiveChannel, payload); err != nil {
		s.logger.Warn("publish event", slog.String("event", ev.Name), slog.String("error", err.Error()))
	}
	if err := s.bus.StreamAppend(ctx, Stream, payload); err != nil {
		s.logger.Warn("append event", slog.String("event", ev.Name), slog.String("error", err.Error()))
	}
}
