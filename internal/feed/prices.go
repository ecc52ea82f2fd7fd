package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/market"
)

// poolUpdate is one pool state message from the price aggregator.
type poolUpdate struct {
	Type      string  `json:"type"`
	ChainID   uint64  `json:"chain_id"`
	TokenIn   string  `json:"token_in"`
	TokenOut  string  `json:"token_out"`
	Venue     string  `json:"venue"`
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
	FeeRate   float64 `json:"fee_rate"`
	Timestamp int64   `json:"ts"` // unix ms
}

// PriceFeed consumes pool updates from the aggregator WebSocket and applies
// them to the market graph. It reconnects with exponential backoff.
type PriceFeed struct {
	url    string
	venues []string // empty subscribes to everything
	graph  *market.Graph
	logger *slog.Logger
}

// NewPriceFeed creates the feed over the given graph.
func NewPriceFeed(url string, venues []string, graph *market.Graph, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		url:    url,
		venues: venues,
		graph:  graph,
		logger: logger.With(slog.String("component", "price_feed")),
	}
}

// Run consumes until ctx is cancelled, reconnecting on disconnect.
func (f *PriceFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("price feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = nextDelay(delay)
	}
}

func (f *PriceFeed) runConnection(ctx context.Context) error {
	conn, err := dial(ctx, f.url)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	defer func() {
		close(done)
		conn.Close()
	}()
	go pingLoop(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("price feed subscribed", slog.Int("venues", len(f.venues)))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", domain.ErrFeedClosed)
		}
		f.handleMessage(raw)
	}
}

func (f *PriceFeed) subscribe(conn *websocket.Conn) error {
	cmd := struct {
		Type   string   `json:"type"`
		Venues []string `json:"venues,omitempty"`
	}{Type: "subscribe", Venues: f.venues}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

// handleMessage applies one pool update to the graph. Unparseable messages
// are dropped silently; the aggregator interleaves heartbeats and ack frames
// the feed does not care about.
func (f *PriceFeed) handleMessage(raw []byte) {
	var msg poolUpdate
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "pool_update" {
		return
	}
	edge := market.Edge{
		From:      domain.NewInstrument(msg.TokenIn, msg.ChainID),
		To:        domain.NewInstrument(msg.TokenOut, msg.ChainID),
		Venue:     msg.Venue,
		Price:     msg.Price,
		Liquidity: msg.Liquidity,
		FeeRate:   msg.FeeRate,
		UpdatedAt: time.UnixMilli(msg.Timestamp).UTC(),
	}
	if msg.Timestamp == 0 {
		edge.UpdatedAt = time.Now().UTC()
	}
	f.graph.UpsertEdge(edge)
}
