package detect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/market"
)

// EngineConfig holds the detection pool tunables.
type EngineConfig struct {
	// ScanInterval is how often the graph is checked for a new snapshot
	// version. Scans only run when the version changed.
	ScanInterval time.Duration
	// MinNetProfit gates emission: opportunities whose expected profit (which
	// detectors already report net of gas) falls below it are dropped.
	MinNetProfit float64
	// PendingBuffer and HealthBuffer size the ingest channels; full channels
	// drop rather than stall the feeds.
	PendingBuffer int
	HealthBuffer  int
	// OutBuffer sizes the emitted opportunity channel.
	OutBuffer int
	// DedupTTL is how long an emitted opportunity ID suppresses re-emission.
	DedupTTL time.Duration
}

// Engine drives the registered detectors: it scans on every graph change,
// fans decoded pending transactions out to mempool detectors and account
// health updates to health detectors, gates the results on net profit, and
// dedupes by opportunity ID before emitting.
type Engine struct {
	cfg      EngineConfig
	graph    *market.Graph
	registry *Registry
	sink     domain.EventSink
	logger   *slog.Logger

	pending chan domain.PendingTx
	health  chan domain.AccountHealth
	out     chan *domain.Opportunity

	mu   sync.Mutex
	seen map[string]time.Time // opportunity ID -> emitted at
}

// NewEngine wires the detection pool. The sink may be nil when auditing is
// disabled.
func NewEngine(cfg EngineConfig, graph *market.Graph, registry *Registry, sink domain.EventSink, logger *slog.Logger) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 200 * time.Millisecond
	}
	if cfg.PendingBuffer <= 0 {
		cfg.PendingBuffer = 1024
	}
	if cfg.HealthBuffer <= 0 {
		cfg.HealthBuffer = 256
	}
	if cfg.OutBuffer <= 0 {
		cfg.OutBuffer = 256
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Minute
	}
	return &Engine{
		cfg:      cfg,
		graph:    graph,
		registry: registry,
		sink:     sink,
		logger:   logger.With(slog.String("component", "detect_engine")),
		pending:  make(chan domain.PendingTx, cfg.PendingBuffer),
		health:   make(chan domain.AccountHealth, cfg.HealthBuffer),
		out:      make(chan *domain.Opportunity, cfg.OutBuffer),
		seen:     make(map[string]time.Time),
	}
}

// Opportunities returns the channel of gated, deduplicated detections.
func (e *Engine) Opportunities() <-chan *domain.Opportunity { return e.out }

// OfferPendingTx hands a decoded pending transaction to the mempool
// detectors. It never blocks; when the buffer is full the transaction is
// dropped, since a stale mempool observation is worthless anyway.
func (e *Engine) OfferPendingTx(tx domain.PendingTx) {
	select {
	case e.pending <- tx:
	default:
		e.logger.Warn("pending tx buffer full, dropping", slog.String("tx", tx.Hash.Hex()))
	}
}

// OfferAccountHealth hands a lending-account health update to the health
// detectors. Non-blocking; drops on a full buffer.
func (e *Engine) OfferAccountHealth(h domain.AccountHealth) {
	select {
	case e.health <- h:
	default:
		e.logger.Warn("account health buffer full, dropping",
			slog.String("protocol", h.Protocol),
			slog.String("account", h.Account.Hex()),
		)
	}
}

// Run operates the pool until ctx is cancelled. The output channel is closed
// on return.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.out)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.scanLoop(ctx) })
	g.Go(func() error { return e.pendingLoop(ctx) })
	g.Go(func() error { return e.healthLoop(ctx) })
	g.Go(func() error { return e.cleanupLoop(ctx) })

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// scanLoop re-runs every detector's Scan whenever the graph version moves.
func (e *Engine) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	var lastVersion uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		snap := e.graph.Snapshot()
		if snap.Version == lastVersion {
			continue
		}
		lastVersion = snap.Version

		for _, d := range e.registry.List() {
			opps, err := d.Scan(ctx, snap)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Error("detector scan failed",
					slog.String("detector", d.Name()),
					slog.String("error", err.Error()),
				)
				continue
			}
			e.emitAll(ctx, d.Name(), opps)
		}
	}
}

// pendingLoop fans decoded pending transactions out to mempool detectors.
func (e *Engine) pendingLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tx := <-e.pending:
			snap := e.graph.Snapshot()
			for _, d := range e.registry.List() {
				md, ok := d.(MempoolDetector)
				if !ok {
					continue
				}
				opps, err := md.OnPendingTx(ctx, tx, snap)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					e.logger.Error("mempool detector failed",
						slog.String("detector", d.Name()),
						slog.String("tx", tx.Hash.Hex()),
						slog.String("error", err.Error()),
					)
					continue
				}
				e.emitAll(ctx, d.Name(), opps)
			}
		}
	}
}

// healthLoop routes account health updates to health detectors; detection
// itself happens on the next scan.
func (e *Engine) healthLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h := <-e.health:
			for _, d := range e.registry.List() {
				if hd, ok := d.(HealthDetector); ok {
					hd.OnAccountHealth(h)
				}
			}
		}
	}
}

// cleanupLoop evicts expired entries from the dedup set.
func (e *Engine) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.DedupTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			e.mu.Lock()
			for id, at := range e.seen {
				if now.Sub(at) > e.cfg.DedupTTL {
					delete(e.seen, id)
				}
			}
			e.mu.Unlock()
		}
	}
}

func (e *Engine) emitAll(ctx context.Context, detector string, opps []*domain.Opportunity) {
	for _, opp := range opps {
		e.emit(ctx, detector, opp)
	}
}

// emit applies the profit gate and the dedup window, then hands the
// opportunity downstream. A full output channel drops the opportunity with an
// audit event; the scorer being behind means it is already saturated with
// better-ranked work.
func (e *Engine) emit(ctx context.Context, detector string, opp *domain.Opportunity) {
	if opp.ExpectedProfit < e.cfg.MinNetProfit {
		return
	}

	e.mu.Lock()
	if _, dup := e.seen[opp.ID]; dup {
		e.mu.Unlock()
		return
	}
	e.seen[opp.ID] = time.Now()
	e.mu.Unlock()

	select {
	case e.out <- opp:
		if e.sink != nil {
			e.sink.Emit(ctx, domain.Event{
				Name:          domain.EventOpportunityDetected,
				OpportunityID: opp.ID,
				Stage:         string(domain.StatusDetected),
				Detail: map[string]any{
					"detector":        detector,
					"kind":            string(opp.Kind),
					"expected_profit": opp.ExpectedProfit,
					"confidence":      opp.Confidence,
				},
				At: opp.DiscoveredAt,
			})
		}
	default:
		e.logger.Warn("opportunity channel full, dropping",
			slog.String("id", opp.ID),
			slog.String("detector", detector),
			slog.Float64("expected_profit", opp.ExpectedProfit),
		)
		if e.sink != nil {
			e.sink.Emit(ctx, domain.Event{
				Name:          domain.EventOpportunityDropped,
				OpportunityID: opp.ID,
				Detail:        map[string]any{"reason": "backpressure", "detector": detector},
				At:            time.Now().UTC(),
			})
		}
	}
}
