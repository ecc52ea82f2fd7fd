package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/market"
)

// The same token addresses on mainnet and an L2.
var (
	wethL2 = domain.NewInstrument("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 42161)
	usdcL2 = domain.NewInstrument("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 42161)
)

func TestCrossChainDetectsDivergence(t *testing.T) {
	d := NewCrossChainDetector(CrossChainConfig{
		MinDivergence: 0.005,
		BridgeFeeRate: 0.0005,
		TradeSize:     10,
		GasCost:       25,
	}, testLogger)

	// 2% gap: 3000 on mainnet vs 3060 on the L2.
	snap := snapshotOf(t,
		market.Edge{From: weth, To: usdc, Venue: "uniswap_v3", Price: 3000, Liquidity: 1e6, FeeRate: 0.003},
		market.Edge{From: wethL2, To: usdcL2, Venue: "camelot", Price: 3060, Liquidity: 1e6, FeeRate: 0.003},
	)
	opps, err := d.Scan(context.Background(), snap)
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, domain.KindCrossChain, opp.Kind)
	require.Len(t, opp.Route, 3)
	assert.Equal(t, domain.OpSwap, opp.Route[0].Op)
	assert.Equal(t, domain.OpBridge, opp.Route[1].Op)
	assert.Equal(t, domain.OpSwap, opp.Route[2].Op)
	assert.Equal(t, "uniswap_v3", opp.Route[0].Venue, "buy leg is on the cheap chain")
	assert.Equal(t, "camelot", opp.Route[2].Venue)

	// Quote in cheap, base over the bridge, quote out dear: the cycle closes.
	assert.Equal(t, usdc, opp.Route[0].From)
	assert.Equal(t, weth, opp.Route[0].To)
	assert.Equal(t, weth, opp.Route[1].From)
	assert.Equal(t, wethL2, opp.Route[1].To)
	assert.Equal(t, wethL2, opp.Route[2].From)
	assert.Equal(t, usdcL2, opp.Route[2].To)

	assert.Greater(t, opp.ExpectedProfit, 0.0)
	assert.Equal(t, 10*3000.0, opp.RequiredCapital, "capital is the quote spent on the buy leg")
	assert.Equal(t, domain.RiskHigh, opp.Risk)
	assert.Contains(t, opp.RiskFactors, "bridge_latency")
}

func TestCrossChainIgnoresSmallDivergence(t *testing.T) {
	d := NewCrossChainDetector(CrossChainConfig{MinDivergence: 0.005, TradeSize: 10}, testLogger)

	// 0.1% gap, below the divergence floor.
	snap := snapshotOf(t,
		market.Edge{From: weth, To: usdc, Venue: "uniswap_v3", Price: 3000, Liquidity: 1e6, FeeRate: 0.003},
		market.Edge{From: wethL2, To: usdcL2, Venue: "camelot", Price: 3003, Liquidity: 1e6, FeeRate: 0.003},
	)
	opps, err := d.Scan(context.Background(), snap)
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestCrossChainIgnoresSameChainSpread(t *testing.T) {
	d := NewCrossChainDetector(CrossChainConfig{MinDivergence: 0.005, TradeSize: 10}, testLogger)

	// Both venues on mainnet: a job for the arbitrage detector, not bridging.
	snap := snapshotOf(t,
		market.Edge{From: weth, To: usdc, Venue: "uniswap_v3", Price: 3000, Liquidity: 1e6, FeeRate: 0.003},
		market.Edge{From: weth, To: usdc, Venue: "sushiswap", Price: 3060, Liquidity: 1e6, FeeRate: 0.003},
	)
	opps, err := d.Scan(context.Background(), snap)
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestCrossChainTTLCoversBridgeLatency(t *testing.T) {
	d := NewCrossChainDetector(CrossChainConfig{
		MinDivergence: 0.005,
		TradeSize:     10,
	}, testLogger)

	snap := snapshotOf(t,
		market.Edge{From: weth, To: usdc, Venue: "uniswap_v3", Price: 3000, Liquidity: 1e6, FeeRate: 0.003},
		market.Edge{From: wethL2, To: usdcL2, Venue: "camelot", Price: 3100, Liquidity: 1e6, FeeRate: 0.003},
	)
	opps, err := d.Scan(context.Background(), snap)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, 2*d.cfg.BridgeLatency, opps[0].ExpiresAt.Sub(opps[0].DiscoveredAt))
}
