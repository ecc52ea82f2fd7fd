package detect

import (
	"context"
	"log/slog"
	"time"

	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/market"
)

// CrossChainConfig holds the tunables for cross-chain divergence detection.
type CrossChainConfig struct {
	// MinDivergence is the minimum relative price gap between the same pair
	// on two chains before bridging is worth considering.
	MinDivergence float64
	// BridgeFeeRate is the bridge's fee on the transferred amount.
	BridgeFeeRate float64
	// BridgeLatency is how long the bridge transfer takes; the divergence
	// must be expected to outlive it, so it also drives the TTL.
	BridgeLatency time.Duration
	// TradeSize is the assumed base-token amount moved across the bridge.
	TradeSize float64
	// GasCost covers both chains' transactions plus the bridge call.
	GasCost float64
	Epoch   time.Duration
}

// CrossChainDetector looks for the same token pair priced differently on two
// chains. The route buys the base token on the cheap chain, bridges it, and
// sells it on the expensive one, ending in the quote asset it started with.
// Bridge latency makes these the slowest and riskiest routes the engine
// emits.
type CrossChainDetector struct {
	cfg    CrossChainConfig
	logger *slog.Logger
}

// NewCrossChainDetector creates the detector with the given tunables.
func NewCrossChainDetector(cfg CrossChainConfig, logger *slog.Logger) *CrossChainDetector {
	if cfg.MinDivergence <= 0 {
		cfg.MinDivergence = 0.005
	}
	if cfg.BridgeLatency <= 0 {
		cfg.BridgeLatency = 2 * time.Minute
	}
	if cfg.TradeSize <= 0 {
		cfg.TradeSize = 1
	}
	if cfg.Epoch <= 0 {
		cfg.Epoch = 5 * time.Minute
	}
	return &CrossChainDetector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "cross_chain_detector")),
	}
}

// Name implements Detector.
func (d *CrossChainDetector) Name() string { return "cross_chain" }

// Kind implements Detector.
func (d *CrossChainDetector) Kind() domain.StrategyKind { return domain.KindCrossChain }

// Scan pairs up edges that trade the same tokens on different chains and
// emits a buy/bridge/sell route for each divergence that clears the fee and
// gas hurdle. Token identity across chains is by address; bridged tokens
// with distinct addresses need a mapping layer upstream of the graph.
func (d *CrossChainDetector) Scan(ctx context.Context, snap *market.Snapshot) ([]*domain.Opportunity, error) {
	type pairKey struct {
		from, to string // token addresses, chain-agnostic
	}
	byPair := make(map[pairKey][]market.Edge)
	for _, e := range snap.Edges() {
		k := pairKey{from: e.From.Token.Hex(), to: e.To.Token.Hex()}
		byPair[k] = append(byPair[k], e)
	}

	var out []*domain.Opportunity
	for _, edges := range byPair {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if len(edges) < 2 {
			continue
		}
		cheap, dear := edges[0], edges[0]
		for _, e := range edges[1:] {
			if e.Price < cheap.Price {
				cheap = e
			}
			if e.Price > dear.Price {
				dear = e
			}
		}
		if cheap.From.ChainID == dear.From.ChainID {
			continue
		}
		divergence := (dear.Price - cheap.Price) / cheap.Price
		if divergence < d.cfg.MinDivergence {
			continue
		}
		if opp := d.buildOpportunity(cheap, dear, divergence, snap.TakenAt); opp != nil {
			out = append(out, opp)
		}
	}
	return out, nil
}

func (d *CrossChainDetector) buildOpportunity(cheap, dear market.Edge, divergence float64, now time.Time) *domain.Opportunity {
	size := d.cfg.TradeSize
	bought := size * cheap.Price * (1 - cheap.FeeRate)
	bridged := bought * (1 - d.cfg.BridgeFeeRate)
	// The captured edge is the divergence on the bridged notional, less the
	// sell-side fee.
	gross := bridged * divergence * (1 - dear.FeeRate)
	net := gross - d.cfg.GasCost
	if net <= 0 {
		return nil
	}

	factors := []string{"bridge_latency"}
	// Quote in on the cheap chain, base across the bridge, quote out on the
	// dear chain.
	route := []domain.RouteStep{
		{Op: domain.OpSwap, From: cheap.To, To: cheap.From, Venue: cheap.Venue, Price: cheap.Price, Liquidity: cheap.Liquidity, FeeRate: cheap.FeeRate},
		{Op: domain.OpBridge, From: cheap.From, To: dear.From, FeeRate: d.cfg.BridgeFeeRate},
		{Op: domain.OpSwap, From: dear.From, To: dear.To, Venue: dear.Venue, Price: dear.Price, Liquidity: dear.Liquidity, FeeRate: dear.FeeRate},
	}
	ttl := d.cfg.BridgeLatency * 2
	opp := domain.NewOpportunity(domain.KindCrossChain, route, now, ttl, d.cfg.Epoch)
	opp.ExpectedProfit = net
	opp.RequiredCapital = size * cheap.Price // quote spent acquiring the base
	opp.GasEstimate = d.cfg.GasCost
	opp.Confidence = Confidence(net/opp.RequiredCapital, factors) * 0.6 // divergence may close mid-bridge
	opp.RiskFactors = factors
	opp.Risk = domain.RiskHigh

	d.logger.Debug("cross-chain divergence",
		slog.Uint64("cheap_chain", cheap.From.ChainID),
		slog.Uint64("dear_chain", dear.From.ChainID),
		slog.Float64("divergence", divergence),
		slog.Float64("net", net),
	)
	return opp
}
