// Package market maintains the weighted directed graph of tradable
// instruments and venue edges that the detectors traverse. The graph is
// updated by a single ingestion path and read through immutable versioned
// snapshots, so detectors never hold a lock during traversal.
package market

import (
	"log/slog"
	"sync"
	"time"

	"github.com/calebmori/mevengine/internal/domain"
)

// Edge is one directed exchange pair on a venue with its current price and
// available liquidity. An exchange pair contributes two edges (A->B and B->A)
// with reciprocal prices. Edges are owned exclusively by the Graph.
type Edge struct {
	From      domain.Instrument
	To        domain.Instrument
	Venue     string
	Price     float64 // units of To per unit of From
	Liquidity float64 // available depth in From units
	FeeRate   float64 // taker fee fraction, e.g. 0.003
	UpdatedAt time.Time
}

// Valid reports whether the edge carries usable market data.
func (e Edge) Valid() bool {
	return !e.From.IsZero() && !e.To.IsZero() && e.Price > 0 && e.Liquidity > 0 &&
		e.FeeRate >= 0 && e.FeeRate < 1
}

// Key identifies the slot an edge occupies: one per (from, to, venue).
type Key struct {
	From  domain.Instrument
	To    domain.Instrument
	Venue string
}

// evictProbes is how many map entries each upsert opportunistically examines
// for eviction of long-dead edges.
const evictProbes = 8

// Graph holds the live edge set. UpsertEdge is O(1) amortized; Snapshot
// rebuilds an immutable view only when the graph changed since the last call.
type Graph struct {
	mu        sync.Mutex
	edges     map[Key]Edge
	hot       map[domain.Instrument]time.Time
	version   uint64
	staleness time.Duration
	hotWindow time.Duration
	logger    *slog.Logger

	snapMu   sync.Mutex
	lastSnap *Snapshot
}

// NewGraph creates an empty Graph. Edges older than staleness are excluded
// from snapshots; instruments touched within hotWindow form the hot set that
// bounds incremental detection.
func NewGraph(staleness, hotWindow time.Duration, logger *slog.Logger) *Graph {
	if staleness <= 0 {
		staleness = 5 * time.Second
	}
	if hotWindow <= 0 {
		hotWindow = 30 * time.Second
	}
	return &Graph{
		edges:     make(map[Key]Edge),
		hot:       make(map[domain.Instrument]time.Time),
		staleness: staleness,
		hotWindow: hotWindow,
		logger:    logger.With(slog.String("component", "market_graph")),
	}
}

// UpsertEdge replaces any edge with the same (from, to, venue). Malformed
// edges (non-positive price or liquidity) are rejected and logged, never
// inserted. Applying the same update twice is a no-op beyond the version
// bump, so at-least-once feed delivery is safe.
func (g *Graph) UpsertEdge(e Edge) {
	if !e.Valid() {
		g.logger.Warn("rejecting malformed edge",
			slog.String("from", e.From.String()),
			slog.String("to", e.To.String()),
			slog.String("venue", e.Venue),
			slog.Float64("price", e.Price),
			slog.Float64("liquidity", e.Liquidity),
		)
		return
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := Key{From: e.From, To: e.To, Venue: e.Venue}
	prev, existed := g.edges[key]
	if existed && prev == e {
		return
	}
	g.edges[key] = e
	g.hot[e.From] = e.UpdatedAt
	g.hot[e.To] = e.UpdatedAt
	g.version++

	g.evictLocked(e.UpdatedAt)
}

// evictLocked probes a handful of entries and deletes edges that have been
// stale for many multiples of the staleness window. Bounded work per upsert
// keeps the amortized cost O(1).
func (g *Graph) evictLocked(now time.Time) {
	deadline := now.Add(-10 * g.staleness)
	probed := 0
	for key, e := range g.edges {
		if probed >= evictProbes {
			break
		}
		probed++
		if e.UpdatedAt.Before(deadline) {
			delete(g.edges, key)
		}
	}
	for ins, seen := range g.hot {
		if probed >= 2*evictProbes {
			break
		}
		probed++
		if seen.Before(now.Add(-g.hotWindow)) {
			delete(g.hot, ins)
		}
	}
}

// Len returns the number of edges currently held, including stale ones that
// have not yet been evicted.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.edges)
}

// Snapshot returns an immutable view of the fresh edge set. The view is
// cached: repeated calls without intervening upserts return the same
// snapshot, so readers cost nothing when the market is quiet.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.Lock()
	version := g.version
	g.mu.Unlock()

	g.snapMu.Lock()
	defer g.snapMu.Unlock()
	if g.lastSnap != nil && g.lastSnap.Version == version {
		return g.lastSnap
	}

	now := time.Now().UTC()
	cutoff := now.Add(-g.staleness)

	g.mu.Lock()
	version = g.version
	edges := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		if e.UpdatedAt.Before(cutoff) {
			continue // stale: excluded from detection, kept until superseded
		}
		edges = append(edges, e)
	}
	hot := make(map[domain.Instrument]bool, len(g.hot))
	hotCutoff := now.Add(-g.hotWindow)
	for ins, seen := range g.hot {
		if !seen.Before(hotCutoff) {
			hot[ins] = true
		}
	}
	g.mu.Unlock()

	snap := newSnapshot(version, now, edges, hot)
	g.lastSnap = snap
	return snap
}
