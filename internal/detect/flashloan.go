package detect

import (
	"context"
	"log/slog"
	"time"

	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/market"
)

// FlashLoanConfig holds the tunables for flash-loan route composition.
type FlashLoanConfig struct {
	// FeeRate is the flash-loan provider's fee on the borrowed amount.
	FeeRate float64
	// MinCapital is the smallest cycle capital worth wrapping; cycles below
	// it are cheap enough to fund directly.
	MinCapital float64
	// Provider names the lending pool used for the borrow/repay legs.
	Provider string
}

// FlashLoanDetector composes capital-free routes: it wraps the cycles an
// inner arbitrage detector finds in borrow -> act -> repay legs so the route
// needs no upfront capital. The flash-loan fee comes straight out of the
// expected profit.
type FlashLoanDetector struct {
	cfg    FlashLoanConfig
	inner  *ArbitrageDetector
	logger *slog.Logger
}

// NewFlashLoanDetector wraps the given arbitrage detector.
func NewFlashLoanDetector(cfg FlashLoanConfig, inner *ArbitrageDetector, logger *slog.Logger) *FlashLoanDetector {
	if cfg.Provider == "" {
		cfg.Provider = "aave_v3"
	}
	return &FlashLoanDetector{
		cfg:    cfg,
		inner:  inner,
		logger: logger.With(slog.String("component", "flash_loan_detector")),
	}
}

// Name implements Detector.
func (d *FlashLoanDetector) Name() string { return "flash_loan" }

// Kind implements Detector.
func (d *FlashLoanDetector) Kind() domain.StrategyKind { return domain.KindFlashLoan }

// Scan re-runs the inner cycle detection and wraps every cycle that needs
// meaningful capital into a flash-funded route. Routes whose profit does not
// survive the loan fee are discarded.
func (d *FlashLoanDetector) Scan(ctx context.Context, snap *market.Snapshot) ([]*domain.Opportunity, error) {
	cycles, err := d.inner.Scan(ctx, snap)
	if err != nil {
		return nil, err
	}

	var out []*domain.Opportunity
	for _, cycle := range cycles {
		if cycle.RequiredCapital < d.cfg.MinCapital {
			continue
		}
		fee := cycle.RequiredCapital * d.cfg.FeeRate
		net := cycle.ExpectedProfit - fee
		if net <= 0 {
			continue
		}

		start := cycle.Route[0].From
		route := make([]domain.RouteStep, 0, len(cycle.Route)+2)
		route = append(route, domain.RouteStep{
			Op: domain.OpBorrow, From: start, To: start, Venue: d.cfg.Provider, FeeRate: d.cfg.FeeRate,
		})
		route = append(route, cycle.Route...)
		route = append(route, domain.RouteStep{
			Op: domain.OpRepay, From: start, To: start, Venue: d.cfg.Provider,
		})

		opp := domain.NewOpportunity(domain.KindFlashLoan, route, cycle.DiscoveredAt, cycle.ExpiresAt.Sub(cycle.DiscoveredAt), d.inner.cfg.Epoch)
		opp.ExpectedProfit = net
		opp.RequiredCapital = 0 // the defining property of a flash route
		opp.GasEstimate = cycle.GasEstimate
		opp.Confidence = cycle.Confidence * 0.9 // extra legs, extra revert surface
		opp.RiskFactors = append(append([]string(nil), cycle.RiskFactors...), "flash_loan_legs")
		opp.Risk = riskFromFactors(opp.RiskFactors)
		out = append(out, opp)
	}

	if len(out) > 0 {
		d.logger.Debug("flash-funded cycles", slog.Int("count", len(out)))
	}
	return out, nil
}

// JITLiquidityConfig holds the tunables for just-in-time liquidity routes.
type JITLiquidityConfig struct {
	// MinSwapNotional is the smallest pending swap worth providing liquidity
	// around, quote-denominated.
	MinSwapNotional float64
	// CaptureShare approximates the share of the victim's fee the position
	// captures while in range.
	CaptureShare float64
	// GasCost covers the add- and remove-liquidity calls.
	GasCost float64
	TTL     time.Duration
	Epoch   time.Duration
}

// JITLiquidityDetector emits add-liquidity / capture-fee / remove-liquidity
// routes around large pending swaps.
type JITLiquidityDetector struct {
	cfg    JITLiquidityConfig
	logger *slog.Logger
}

// NewJITLiquidityDetector creates the detector with the given tunables.
func NewJITLiquidityDetector(cfg JITLiquidityConfig, logger *slog.Logger) *JITLiquidityDetector {
	if cfg.CaptureShare <= 0 || cfg.CaptureShare > 1 {
		cfg.CaptureShare = 0.7
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Second
	}
	if cfg.Epoch <= 0 {
		cfg.Epoch = time.Minute
	}
	return &JITLiquidityDetector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "jit_liquidity_detector")),
	}
}

// Name implements Detector.
func (d *JITLiquidityDetector) Name() string { return "jit_liquidity" }

// Kind implements Detector.
func (d *JITLiquidityDetector) Kind() domain.StrategyKind { return domain.KindJITLiquidity }

// Scan implements Detector; JIT routes only exist around pending swaps.
func (d *JITLiquidityDetector) Scan(ctx context.Context, snap *market.Snapshot) ([]*domain.Opportunity, error) {
	return nil, nil
}

// OnPendingTx evaluates a pending swap for a JIT liquidity position. The
// position earns the victim's pool fee on the captured share of the swap.
func (d *JITLiquidityDetector) OnPendingTx(ctx context.Context, tx domain.PendingTx, snap *market.Snapshot) ([]*domain.Opportunity, error) {
	if tx.ValueMoved < d.cfg.MinSwapNotional {
		return nil, nil
	}
	feeRate := 0.003
	if snap != nil {
		for _, e := range snap.Outgoing(tx.TokenIn) {
			if e.To == tx.TokenOut && e.Venue == tx.Venue {
				feeRate = e.FeeRate
				break
			}
		}
	}

	gross := tx.ValueMoved * feeRate * d.cfg.CaptureShare
	net := gross - d.cfg.GasCost
	if net <= 0 {
		return nil, nil
	}

	route := []domain.RouteStep{
		{Op: domain.OpAddLiquidity, From: tx.TokenIn, To: tx.TokenOut, Venue: tx.Venue, FeeRate: feeRate},
		{Op: domain.OpVictim, From: tx.TokenIn, To: tx.TokenOut, Venue: tx.Venue, FeeRate: feeRate},
		{Op: domain.OpRemoveLiquidity, From: tx.TokenOut, To: tx.TokenIn, Venue: tx.Venue, FeeRate: feeRate},
	}
	opp := domain.NewOpportunity(domain.KindJITLiquidity, route, tx.FirstSeen, d.cfg.TTL, d.cfg.Epoch)
	opp.ExpectedProfit = net
	opp.RequiredCapital = tx.ValueMoved // liquidity must match the swap's depth
	opp.GasEstimate = d.cfg.GasCost
	opp.Confidence = Confidence(net/tx.ValueMoved, nil)
	opp.Risk = domain.RiskMedium
	return []*domain.Opportunity{opp}, nil
}
