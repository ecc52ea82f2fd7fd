package detect

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmori/mevengine/internal/domain"
)

func TestFlashLoanWrapsCapitalHeavyCycle(t *testing.T) {
	inner := NewArbitrageDetector(ArbitrageConfig{
		TradeSize:     1000,
		GasCostPerHop: 1,
	}, testLogger)
	d := NewFlashLoanDetector(FlashLoanConfig{
		FeeRate:    0.0009,
		MinCapital: 500,
	}, inner, testLogger)

	snap := snapshotOf(t, cycleEdges(1.05)...)
	opps, err := d.Scan(context.Background(), snap)
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, domain.KindFlashLoan, opp.Kind)
	assert.Equal(t, 0.0, opp.RequiredCapital)
	require.Len(t, opp.Route, 5, "borrow and repay legs wrap the cycle")
	assert.Equal(t, domain.OpBorrow, opp.Route[0].Op)
	assert.Equal(t, domain.OpRepay, opp.Route[4].Op)
	assert.Equal(t, "aave_v3", opp.Route[0].Venue)
	// Cycle net ~47 minus the 0.9 loan fee on 1000 capital.
	assert.InDelta(t, 46.1, opp.ExpectedProfit, 1.0)
	assert.Contains(t, opp.RiskFactors, "flash_loan_legs")
}

func TestFlashLoanSkipsCheapCycles(t *testing.T) {
	inner := NewArbitrageDetector(ArbitrageConfig{
		TradeSize:     1000,
		GasCostPerHop: 1,
	}, testLogger)
	d := NewFlashLoanDetector(FlashLoanConfig{
		FeeRate:    0.0009,
		MinCapital: 5_000, // cycle capital of 1000 is below the wrap threshold
	}, inner, testLogger)

	snap := snapshotOf(t, cycleEdges(1.05)...)
	opps, err := d.Scan(context.Background(), snap)
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestFlashLoanFeeEatsMarginalCycle(t *testing.T) {
	inner := NewArbitrageDetector(ArbitrageConfig{
		TradeSize:     1000,
		GasCostPerHop: 16, // leaves ~2 net on the 5% cycle
	}, testLogger)
	d := NewFlashLoanDetector(FlashLoanConfig{
		FeeRate:    0.01, // 10 fee on 1000 capital
		MinCapital: 500,
	}, inner, testLogger)

	snap := snapshotOf(t, cycleEdges(1.05)...)
	opps, err := d.Scan(context.Background(), snap)
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestJITLiquidityDetectsLargeSwap(t *testing.T) {
	d := NewJITLiquidityDetector(JITLiquidityConfig{
		MinSwapNotional: 50_000,
		GasCost:         35,
	}, testLogger)

	tx := domain.PendingTx{
		Hash:       common.HexToHash("0x02"),
		TokenIn:    weth,
		TokenOut:   usdc,
		Venue:      "uniswap_v3",
		AmountIn:   100,
		ValueMoved: 300_000,
		FirstSeen:  time.Now().UTC(),
	}
	snap := snapshotOf(t)
	opps, err := d.OnPendingTx(context.Background(), tx, snap)
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, domain.KindJITLiquidity, opp.Kind)
	// 300k * 0.003 fee * 0.7 share - 35 gas.
	assert.InDelta(t, 595.0, opp.ExpectedProfit, 0.01)
	assert.Equal(t, 300_000.0, opp.RequiredCapital)
	require.Len(t, opp.Route, 3)
	assert.Equal(t, domain.OpAddLiquidity, opp.Route[0].Op)
	assert.Equal(t, domain.OpRemoveLiquidity, opp.Route[2].Op)
}

func TestJITLiquidityIgnoresSmallSwap(t *testing.T) {
	d := NewJITLiquidityDetector(JITLiquidityConfig{
		MinSwapNotional: 50_000,
		GasCost:         35,
	}, testLogger)

	tx := domain.PendingTx{TokenIn: weth, TokenOut: usdc, Venue: "uniswap_v3", ValueMoved: 10_000}
	opps, err := d.OnPendingTx(context.Background(), tx, snapshotOf(t))
	require.NoError(t, err)
	assert.Empty(t, opps)
}
