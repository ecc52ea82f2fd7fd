package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmori/mevengine/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeBus struct {
	mu        sync.Mutex
	published [][]byte
	appended  [][]byte
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended = append(b.appended, payload)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published), len(b.appended)
}

func TestSinkPublishesToChannelAndStream(t *testing.T) {
	bus := &fakeBus{}
	sink := NewSink(bus, 8, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sink.Run(ctx) }()

	sink.Emit(ctx, domain.Event{
		Name:          domain.EventOpportunityDetected,
		OpportunityID: "opp-1",
		Stage:         "detected",
		At:            time.Now().UTC(),
	})

	require.Eventually(t, func() bool {
		p, a := bus.counts()
		return p == 1 && a == 1
	}, 2*time.Second, 5*time.Millisecond)

	var got domain.Event
	require.NoError(t, json.Unmarshal(bus.published[0], &got))
	assert.Equal(t, domain.EventOpportunityDetected, got.Name)
	assert.Equal(t, "opp-1", got.OpportunityID)
}

func TestSinkDropsWhenBufferFull(t *testing.T) {
	bus := &fakeBus{}
	sink := NewSink(bus, 2, testLogger)

	// No Run worker draining: the third emit must drop, not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			sink.Emit(context.Background(), domain.Event{Name: "ev"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full buffer")
	}
}

func TestSinkStopsOnCancel(t *testing.T) {
	sink := NewSink(&fakeBus{}, 8, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sink.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
