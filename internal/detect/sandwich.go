package detect

import (
	"context"
	"log/slog"
	"time"

	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/market"
)

// SandwichConfig holds the tunables for sandwich detection.
type SandwichConfig struct {
	// MoveThreshold is the minimum pool price move the victim must cause,
	// expressed liquidity-relative (victim amount over pool depth).
	MoveThreshold float64
	// MaxFrontSize caps the front-run trade, in victim token-in units.
	MaxFrontSize float64
	// TightSlippageBps: victims at or below this slippage tolerance would
	// likely revert the sandwich; confidence is cut accordingly.
	TightSlippageBps float64
	// GasCost is the estimated combined gas for the front and back trades.
	GasCost float64
	TTL     time.Duration
	Epoch   time.Duration
}

// SandwichDetector watches decoded pending transactions for swaps large
// enough to move a pool's price, and emits front-run / victim / back-run
// routes around them.
type SandwichDetector struct {
	cfg    SandwichConfig
	logger *slog.Logger
}

// NewSandwichDetector creates the detector with the given tunables.
func NewSandwichDetector(cfg SandwichConfig, logger *slog.Logger) *SandwichDetector {
	if cfg.MoveThreshold <= 0 {
		cfg.MoveThreshold = 0.01
	}
	if cfg.TightSlippageBps < 0 {
		cfg.TightSlippageBps = 0
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Second
	}
	if cfg.Epoch <= 0 {
		cfg.Epoch = time.Minute
	}
	return &SandwichDetector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sandwich_detector")),
	}
}

// Name implements Detector.
func (d *SandwichDetector) Name() string { return "sandwich" }

// Kind implements Detector.
func (d *SandwichDetector) Kind() domain.StrategyKind { return domain.KindSandwich }

// Scan implements Detector. Sandwich opportunities only exist around pending
// transactions, so the snapshot-driven scan emits nothing.
func (d *SandwichDetector) Scan(ctx context.Context, snap *market.Snapshot) ([]*domain.Opportunity, error) {
	return nil, nil
}

// OnPendingTx evaluates one decoded pending swap. A transaction whose size
// clears the liquidity-relative threshold yields a three-step route; a victim
// with tight slippage protection is still detected but with confidence cut
// below any sane execution threshold, since the inner trade would revert.
func (d *SandwichDetector) OnPendingTx(ctx context.Context, tx domain.PendingTx, snap *market.Snapshot) ([]*domain.Opportunity, error) {
	edge, ok := d.victimEdge(tx, snap)
	if !ok {
		return nil, nil
	}

	move := tx.AmountIn / (tx.AmountIn + edge.Liquidity)
	if move < d.cfg.MoveThreshold {
		return nil, nil
	}

	frontSize := tx.AmountIn
	if d.cfg.MaxFrontSize > 0 && frontSize > d.cfg.MaxFrontSize {
		frontSize = d.cfg.MaxFrontSize
	}

	// The back-run unwinds the front position into the price the victim
	// pushed up; captured edge is roughly the victim's move applied to our
	// front size, less two rounds of fees.
	gross := frontSize * move * (1 - 2*edge.FeeRate)
	net := gross - d.cfg.GasCost
	if net <= 0 {
		return nil, nil
	}

	var factors []string
	confidence := Confidence(net/frontSize, factors)
	if tx.SlippageBps <= d.cfg.TightSlippageBps {
		factors = append(factors, "victim_slippage_protected")
		confidence = 0.05 // trade would almost certainly revert
	}

	route := []domain.RouteStep{
		{Op: domain.OpFrontRun, From: tx.TokenIn, To: tx.TokenOut, Venue: tx.Venue, Price: edge.Price, Liquidity: edge.Liquidity, FeeRate: edge.FeeRate},
		{Op: domain.OpVictim, From: tx.TokenIn, To: tx.TokenOut, Venue: tx.Venue, Price: edge.Price, Liquidity: edge.Liquidity, FeeRate: edge.FeeRate},
		{Op: domain.OpBackRun, From: tx.TokenOut, To: tx.TokenIn, Venue: tx.Venue, Price: 1 / edge.Price, Liquidity: edge.Liquidity, FeeRate: edge.FeeRate},
	}
	opp := domain.NewOpportunity(domain.KindSandwich, route, tx.FirstSeen, d.cfg.TTL, d.cfg.Epoch)
	opp.ExpectedProfit = net
	opp.RequiredCapital = frontSize
	opp.GasEstimate = d.cfg.GasCost
	opp.Confidence = confidence
	opp.RiskFactors = factors
	opp.Risk = domain.RiskHigh // sandwiches revert often; always high risk

	d.logger.Debug("sandwich candidate",
		slog.String("tx", tx.Hash.Hex()),
		slog.Float64("move", move),
		slog.Float64("net", net),
		slog.Float64("confidence", confidence),
	)
	return []*domain.Opportunity{opp}, nil
}

// victimEdge resolves the pool edge the victim trades through. The snapshot
// is authoritative for depth; if the pool is not on a fresh edge the victim's
// own numbers are used as a fallback.
func (d *SandwichDetector) victimEdge(tx domain.PendingTx, snap *market.Snapshot) (market.Edge, bool) {
	if snap != nil {
		for _, e := range snap.Outgoing(tx.TokenIn) {
			if e.To == tx.TokenOut && e.Venue == tx.Venue {
				return e, true
			}
		}
	}
	if tx.AmountIn <= 0 || tx.ValueMoved <= 0 {
		return market.Edge{}, false
	}
	// Fallback: infer price from the decoded notional.
	return market.Edge{
		From:      tx.TokenIn,
		To:        tx.TokenOut,
		Venue:     tx.Venue,
		Price:     tx.ValueMoved / tx.AmountIn,
		Liquidity: tx.AmountIn * 20, // assume the victim is ~5% of depth
		FeeRate:   0.003,
	}, true
}
