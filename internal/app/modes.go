package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/calebmori/mevengine/internal/broadcast"
	"github.com/calebmori/mevengine/internal/detect"
	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/executor"
	"github.com/calebmori/mevengine/internal/feed"
	"github.com/calebmori/mevengine/internal/market"
	"github.com/calebmori/mevengine/internal/notify"
	"github.com/calebmori/mevengine/internal/risk"
	"github.com/calebmori/mevengine/internal/scorer"
)

// pipeline is the detection half shared by both modes: feeds into the graph,
// the detection engine over it, and the scorer on its output.
type pipeline struct {
	graph   *market.Graph
	engine  *detect.Engine
	scorer  *scorer.Scorer
	prices  *feed.PriceFeed
	mempool *feed.MempoolFeed
}

// DetectMode runs feeds, detection, and scoring without ever dispatching.
// Ranked opportunities are drained and logged; useful for tuning thresholds
// against live market data with zero capital at risk.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode")

	g, ctx := errgroup.WithContext(ctx)
	p := a.buildPipeline(deps, nil)
	a.startCommon(ctx, g, deps, p)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case opp, ok := <-p.scorer.Ranked():
				if !ok {
					return nil
				}
				a.logger.InfoContext(ctx, "ranked opportunity (detect only)",
					slog.String("id", opp.ID),
					slog.String("kind", string(opp.Kind)),
					slog.Float64("expected_profit", opp.ExpectedProfit),
					slog.Float64("confidence", opp.Confidence),
				)
			}
		}
	})

	return g.Wait()
}

// FullMode runs the whole path: detection, scoring, risk, execution,
// broadcast, attempt persistence, and archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	riskMgr := risk.NewManager(risk.Config{
		MaxPositionSize:  a.cfg.Risk.MaxPositionSize,
		MaxTotalExposure: a.cfg.Risk.MaxTotalExposure,
		MaxOpenPositions: a.cfg.Risk.MaxOpenPositions,
		MaxDailyLoss:     a.cfg.Risk.MaxDailyLoss,
		BreakerThreshold: a.cfg.Risk.BreakerThreshold,
		BreakerCooldown:  a.cfg.Risk.BreakerCooldown.Duration,
		MaxRiskLevel:     domain.RiskLevel(a.cfg.Risk.MaxRiskLevel),
	}, deps.Sink, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	p := a.buildPipeline(deps, riskMgr)
	a.startCommon(ctx, g, deps, p)

	channels := make([]*broadcast.Channel, 0, len(a.cfg.Broadcast.Channels))
	policy := broadcast.RetryPolicy{
		MaxAttempts:      a.cfg.Broadcast.MaxAttempts,
		BaseDelay:        a.cfg.Broadcast.BaseDelay.Duration,
		MaxDelay:         a.cfg.Broadcast.MaxDelay.Duration,
		JitterFraction:   a.cfg.Broadcast.JitterFraction,
		BreakerThreshold: a.cfg.Broadcast.BreakerThreshold,
		BreakerCooldown:  a.cfg.Broadcast.BreakerCooldown.Duration,
	}
	for _, ch := range a.cfg.Broadcast.Channels {
		endpoint := broadcast.NewRelayEndpoint(ch.Name, ch.URL, ch.Private, deps.Signer, ch.Timeout.Duration, a.logger)
		channels = append(channels, broadcast.NewChannel(endpoint, policy, deps.Sink, a.logger))
	}
	manager := broadcast.NewManager(channels, a.logger)

	builder := executor.NewHTTPBuilder(a.cfg.Executor.BuilderURL, a.cfg.Executor.DispatchTimeout.Duration, a.logger)
	coordinator := executor.NewCoordinator(executor.Config{
		Workers:             a.cfg.Executor.Workers,
		DispatchTimeout:     a.cfg.Executor.DispatchTimeout.Duration,
		MaxAttempts:         a.cfg.Executor.MaxAttempts,
		RetryDelay:          a.cfg.Executor.RetryDelay.Duration,
		LockTTL:             a.cfg.Executor.LockTTL.Duration,
		HighPriorityProfit:  a.cfg.Executor.HighPriorityProfit,
		UltraPriorityProfit: a.cfg.Executor.UltraPriorityProfit,
	}, builder, manager, riskMgr, deps.AttemptStore, deps.LockManager, p.scorer.Hotness(), deps.Sink, a.logger)

	g.Go(func() error {
		return coordinator.Run(ctx, p.scorer.Ranked())
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}

	return g.Wait()
}

// buildPipeline assembles the graph, detectors, engine, scorer, and feeds.
// gate pre-screens opportunities before queueing and may be nil.
func (a *App) buildPipeline(deps *Dependencies, gate scorer.Gate) *pipeline {
	graph := market.NewGraph(a.cfg.Graph.Staleness.Duration, a.cfg.Graph.HotWindow.Duration, a.logger)
	registry := detect.NewRegistry()

	dc := a.cfg.Detect
	var arb *detect.ArbitrageDetector
	if dc.Arbitrage.Enabled {
		arb = detect.NewArbitrageDetector(detect.ArbitrageConfig{
			MaxHops:          dc.Arbitrage.MaxHops,
			MinHops:          dc.Arbitrage.MinHops,
			TradeSize:        dc.Arbitrage.TradeSize,
			GasCostPerHop:    dc.Arbitrage.GasCostPerHop,
			RelaxationBudget: dc.Arbitrage.RelaxationBudget,
			TTL:              dc.Arbitrage.TTL.Duration,
		}, a.logger)
		registry.Register(arb)
	}
	if dc.Sandwich.Enabled {
		registry.Register(detect.NewSandwichDetector(detect.SandwichConfig{
			MoveThreshold:    dc.Sandwich.MoveThreshold,
			MaxFrontSize:     dc.Sandwich.MaxFrontSize,
			TightSlippageBps: dc.Sandwich.TightSlippageBps,
			GasCost:          dc.Sandwich.GasCost,
			TTL:              dc.Sandwich.TTL.Duration,
		}, a.logger))
	}
	if dc.Liquidation.Enabled {
		registry.Register(detect.NewLiquidationDetector(detect.LiquidationConfig{
			CloseFactor:      dc.Liquidation.CloseFactor,
			FlashLoanFeeRate: dc.Liquidation.FlashLoanFeeRate,
			GasCost:          dc.Liquidation.GasCost,
			UseFlashLoan:     dc.Liquidation.UseFlashLoan,
			TTL:              dc.Liquidation.TTL.Duration,
		}, a.logger))
	}
	if dc.FlashLoan.Enabled && arb != nil {
		registry.Register(detect.NewFlashLoanDetector(detect.FlashLoanConfig{
			FeeRate:    dc.FlashLoan.FeeRate,
			MinCapital: dc.FlashLoan.MinCapital,
			Provider:   dc.FlashLoan.Provider,
		}, arb, a.logger))
	}
	if dc.JITLiquidity.Enabled {
		registry.Register(detect.NewJITLiquidityDetector(detect.JITLiquidityConfig{
			MinSwapNotional: dc.JITLiquidity.MinSwapNotional,
			CaptureShare:    dc.JITLiquidity.CaptureShare,
			GasCost:         dc.JITLiquidity.GasCost,
			TTL:             dc.JITLiquidity.TTL.Duration,
		}, a.logger))
	}
	if dc.CrossChain.Enabled {
		registry.Register(detect.NewCrossChainDetector(detect.CrossChainConfig{
			MinDivergence: dc.CrossChain.MinDivergence,
			BridgeFeeRate: dc.CrossChain.BridgeFeeRate,
			BridgeLatency: dc.CrossChain.BridgeLatency.Duration,
			TradeSize:     dc.CrossChain.TradeSize,
			GasCost:       dc.CrossChain.GasCost,
		}, a.logger))
	}

	engine := detect.NewEngine(detect.EngineConfig{
		ScanInterval:  dc.ScanInterval.Duration,
		MinNetProfit:  dc.MinNetProfit,
		PendingBuffer: dc.PendingBuffer,
		HealthBuffer:  dc.HealthBuffer,
		OutBuffer:     dc.OutBuffer,
		DedupTTL:      dc.DedupTTL.Duration,
	}, graph, registry, deps.Sink, a.logger)

	sc := scorer.New(scorer.Config{
		MinProfit:       a.cfg.Scorer.MinProfit,
		MinConfidence:   a.cfg.Scorer.MinConfidence,
		QueueCapacity:   a.cfg.Scorer.QueueCapacity,
		HotnessHalfLife: a.cfg.Scorer.HotnessHalfLife.Duration,
	}, engine.Opportunities(), gate, deps.Sink, a.logger)

	p := &pipeline{
		graph:  graph,
		engine: engine,
		scorer: sc,
		prices: feed.NewPriceFeed(a.cfg.Feeds.PriceWSURL, a.cfg.Feeds.Venues, graph, a.logger),
	}
	if a.cfg.Feeds.MempoolWSURL != "" {
		p.mempool = feed.NewMempoolFeed(a.cfg.Feeds.MempoolWSURL, engine.OfferPendingTx, engine.OfferAccountHealth, a.logger)
	}
	return p
}

// startCommon launches the goroutines both modes share: the audit sink, the
// feeds, the detection engine, the scorer, and the alerter.
func (a *App) startCommon(ctx context.Context, g *errgroup.Group, deps *Dependencies, p *pipeline) {
	g.Go(func() error {
		return deps.Sink.Run(ctx)
	})
	g.Go(func() error {
		return p.prices.Run(ctx)
	})
	if p.mempool != nil {
		g.Go(func() error {
			return p.mempool.Run(ctx)
		})
	}
	g.Go(func() error {
		return p.engine.Run(ctx)
	})
	g.Go(func() error {
		return p.scorer.Run(ctx)
	})

	if len(deps.Senders) > 0 {
		alerter := notify.NewAlerter(deps.Senders, deps.Bus, a.cfg.Notify.Events, a.logger)
		g.Go(func() error {
			return alerter.Run(ctx)
		})
	}
}
