package detect

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/market"
)

// ArbitrageConfig holds the tunables for negative-cycle detection.
type ArbitrageConfig struct {
	// MaxHops caps route length; beyond 5 hops gas cost and slippage
	// assumptions stop holding.
	MaxHops int
	// MinHops is the shortest cycle worth trading (2 = cross-venue pair).
	MinHops int
	// TradeSize is the assumed notional, in start-instrument units, used to
	// replay routes against real prices.
	TradeSize float64
	// GasCostPerHop is the estimated gas cost per route hop in quote units.
	GasCostPerHop float64
	// RelaxationBudget bounds total edge relaxations across one Scan. When
	// the budget is exhausted the run is abandoned for this snapshot.
	RelaxationBudget int
	// TTL and Epoch control opportunity expiry and the dedup window for the
	// deterministic opportunity ID.
	TTL   time.Duration
	Epoch time.Duration
}

// ArbitrageDetector finds profitable trade cycles as negative-weight cycles
// in the log-transformed market graph. Each edge weight is
// -ln(price * (1 - fee)); a cycle whose weights sum below zero returns more
// value than it consumes.
type ArbitrageDetector struct {
	cfg    ArbitrageConfig
	logger *slog.Logger
}

// NewArbitrageDetector creates the detector with the given tunables. Zero
// values fall back to conservative defaults.
func NewArbitrageDetector(cfg ArbitrageConfig, logger *slog.Logger) *ArbitrageDetector {
	if cfg.MaxHops <= 0 || cfg.MaxHops > 5 {
		cfg.MaxHops = 4
	}
	if cfg.MinHops < 2 {
		cfg.MinHops = 2
	}
	if cfg.TradeSize <= 0 {
		cfg.TradeSize = 1
	}
	if cfg.RelaxationBudget <= 0 {
		cfg.RelaxationBudget = 2_000_000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3 * time.Second
	}
	if cfg.Epoch <= 0 {
		cfg.Epoch = time.Minute
	}
	return &ArbitrageDetector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "arbitrage_detector")),
	}
}

// Name implements Detector.
func (d *ArbitrageDetector) Name() string { return "arbitrage" }

// Kind implements Detector.
func (d *ArbitrageDetector) Kind() domain.StrategyKind { return domain.KindArbitrage }

// Scan runs Bellman-Ford from each hot instrument and reconstructs any
// negative cycle that survives the extra relaxation pass. When the snapshot
// has no hot set yet (cold start) every instrument is a candidate start.
// If the relaxation budget runs out the scan is abandoned for this snapshot
// and no opportunities are emitted; the next snapshot gets a fresh attempt.
func (d *ArbitrageDetector) Scan(ctx context.Context, snap *market.Snapshot) ([]*domain.Opportunity, error) {
	edges := snap.Edges()
	if len(edges) == 0 {
		return nil, nil
	}
	starts := snap.HotInstruments()
	if len(starts) == 0 {
		starts = snap.Instruments()
	}

	budget := d.cfg.RelaxationBudget
	// bestBySet keeps only the highest-net-profit cycle per instrument set.
	bestBySet := make(map[string]*domain.Opportunity)

	for _, start := range starts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cycle, ok := d.findCycle(snap, start, &budget)
		if budget <= 0 {
			d.logger.Warn("relaxation budget exhausted, abandoning scan",
				slog.Uint64("snapshot_version", snap.Version),
				slog.Int("edges", len(edges)),
			)
			return nil, nil
		}
		if !ok {
			continue
		}
		opp := d.buildOpportunity(cycle, snap.TakenAt)
		if opp == nil {
			continue
		}
		key := instrumentSetKey(opp)
		if prev, exists := bestBySet[key]; !exists || opp.ExpectedProfit > prev.ExpectedProfit {
			bestBySet[key] = opp
		}
	}

	out := make([]*domain.Opportunity, 0, len(bestBySet))
	for _, opp := range bestBySet {
		out = append(out, opp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpectedProfit > out[j].ExpectedProfit })
	return out, nil
}

// weight returns the transformed edge weight: -ln(price * (1 - fee)).
func weight(e market.Edge) float64 {
	return -math.Log(e.Price * (1 - e.FeeRate))
}

// findCycle runs |V|-1 relaxation rounds from start, then one more pass over
// all edges; an edge that still relaxes lies on (or reaches) a negative
// cycle, which is recovered by walking predecessors with a visited set.
func (d *ArbitrageDetector) findCycle(snap *market.Snapshot, start domain.Instrument, budget *int) ([]market.Edge, bool) {
	edges := snap.Edges()
	instruments := snap.Instruments()

	dist := make(map[domain.Instrument]float64, len(instruments))
	pred := make(map[domain.Instrument]market.Edge, len(instruments))
	for _, ins := range instruments {
		dist[ins] = math.Inf(1)
	}
	dist[start] = 0

	for i := 0; i < len(instruments)-1; i++ {
		relaxed := false
		for _, e := range edges {
			*budget--
			if *budget <= 0 {
				return nil, false
			}
			if du := dist[e.From]; !math.IsInf(du, 1) && du+weight(e) < dist[e.To] {
				dist[e.To] = du + weight(e)
				pred[e.To] = e
				relaxed = true
			}
		}
		if !relaxed {
			break
		}
	}

	for _, e := range edges {
		*budget--
		if *budget <= 0 {
			return nil, false
		}
		if du := dist[e.From]; !math.IsInf(du, 1) && du+weight(e) < dist[e.To] {
			if cycle, ok := d.traceCycle(pred, e); ok {
				return cycle, true
			}
		}
	}
	return nil, false
}

// traceCycle walks predecessors from a still-relaxing edge until an
// instrument repeats, then extracts the loop. Cycles outside the configured
// hop bounds are discarded.
func (d *ArbitrageDetector) traceCycle(pred map[domain.Instrument]market.Edge, e market.Edge) ([]market.Edge, bool) {
	// Step back |pred| times to guarantee we are inside the cycle, not on a
	// tail leading into it.
	node := e.From
	for i := 0; i <= len(pred); i++ {
		p, ok := pred[node]
		if !ok {
			return nil, false
		}
		node = p.From
	}

	visited := make(map[domain.Instrument]bool)
	var loop []market.Edge
	for cur := node; !visited[cur]; {
		visited[cur] = true
		p, ok := pred[cur]
		if !ok {
			return nil, false
		}
		loop = append(loop, p)
		cur = p.From
		if len(loop) > d.cfg.MaxHops {
			return nil, false
		}
		if cur == node {
			break
		}
	}
	if len(loop) < d.cfg.MinHops || len(loop) > d.cfg.MaxHops {
		return nil, false
	}
	// loop was collected destination-first; reverse into trade order.
	for i, j := 0, len(loop)-1; i < j; i, j = i+1, j-1 {
		loop[i], loop[j] = loop[j], loop[i]
	}
	return loop, true
}

// buildOpportunity replays the cycle's real (non-logarithmic) prices against
// the assumed trade size, with liquidity-aware price impact at each hop, and
// discards routes whose profit net of gas is non-positive.
func (d *ArbitrageDetector) buildOpportunity(cycle []market.Edge, now time.Time) *domain.Opportunity {
	final, factors := ReplayRoute(cycle, d.cfg.TradeSize)
	gas := float64(len(cycle)) * d.cfg.GasCostPerHop
	net := final - d.cfg.TradeSize - gas
	if net <= 0 {
		return nil
	}

	route := make([]domain.RouteStep, 0, len(cycle))
	for _, e := range cycle {
		route = append(route, domain.RouteStep{
			Op:        domain.OpSwap,
			From:      e.From,
			To:        e.To,
			Venue:     e.Venue,
			Price:     e.Price,
			Liquidity: e.Liquidity,
			FeeRate:   e.FeeRate,
		})
	}
	opp := domain.NewOpportunity(domain.KindArbitrage, route, now, d.cfg.TTL, d.cfg.Epoch)
	opp.ExpectedProfit = net
	opp.RequiredCapital = d.cfg.TradeSize
	opp.GasEstimate = gas
	opp.Confidence = Confidence(net/d.cfg.TradeSize, factors)
	opp.RiskFactors = factors
	opp.Risk = riskFromFactors(factors)
	return opp
}

// ReplayRoute pushes size units through the route hop by hop, applying fees
// and a depth-proportional price impact at each hop. It returns the final
// amount and the risk factors observed along the way.
func ReplayRoute(route []market.Edge, size float64) (float64, []string) {
	amount := size
	var factors []string
	for _, e := range route {
		impact := amount / (amount + e.Liquidity)
		if impact > 0.05 && !contains(factors, "low_liquidity") {
			factors = append(factors, "low_liquidity")
		}
		amount = amount * e.Price * (1 - e.FeeRate) * (1 - impact)
	}
	if len(route) >= 4 && !contains(factors, "long_route") {
		factors = append(factors, "long_route")
	}
	return amount, factors
}

// Confidence derives a [0.1, 0.95] confidence score from the profit ratio
// (net profit over trade size) dampened by accumulated risk factors. The
// weights are heuristic tunables, not a fixed law.
func Confidence(profitRatio float64, riskFactors []string) float64 {
	c := 0.5 + profitRatio*10 - 0.15*float64(len(riskFactors))
	return math.Min(0.95, math.Max(0.1, c))
}

func riskFromFactors(factors []string) domain.RiskLevel {
	switch {
	case len(factors) >= 2:
		return domain.RiskHigh
	case len(factors) == 1:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// instrumentSetKey builds an order-independent key over the opportunity's
// instrument set, used to keep only the best cycle per set.
func instrumentSetKey(opp *domain.Opportunity) string {
	ins := opp.Instruments()
	keys := make([]string, 0, len(ins))
	for _, i := range ins {
		keys = append(keys, i.String())
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}
