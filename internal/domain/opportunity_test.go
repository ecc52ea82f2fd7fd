package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	weth = NewInstrument("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 1)
	usdc = NewInstrument("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 1)
	dai  = NewInstrument("0x6B175474E89094C44Da98b954EedeAC495271d0F", 1)
)

func testRoute() []RouteStep {
	return []RouteStep{
		{Op: OpSwap, From: weth, To: usdc, Venue: "uniswap_v3", Price: 3000, Liquidity: 1e6, FeeRate: 0.003},
		{Op: OpSwap, From: usdc, To: weth, Venue: "sushiswap", Price: 1.0 / 2990, Liquidity: 5e5, FeeRate: 0.003},
	}
}

func TestOpportunityIDDeterministic(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 10, 0, time.UTC)

	a := OpportunityID(KindArbitrage, testRoute(), at, time.Minute)
	b := OpportunityID(KindArbitrage, testRoute(), at.Add(20*time.Second), time.Minute)
	assert.Equal(t, a, b, "same route within one epoch must hash to the same ID")

	c := OpportunityID(KindArbitrage, testRoute(), at.Add(2*time.Minute), time.Minute)
	assert.NotEqual(t, a, c, "a later epoch must produce a new ID")

	d := OpportunityID(KindSandwich, testRoute(), at, time.Minute)
	assert.NotEqual(t, a, d, "the strategy kind is part of the ID")
}

func TestOpportunityLifecycle(t *testing.T) {
	opp := NewOpportunity(KindArbitrage, testRoute(), time.Now().UTC(), time.Second, time.Minute)
	require.Equal(t, StatusDetected, opp.Status())

	require.NoError(t, opp.Transition(StatusScored))
	require.NoError(t, opp.Transition(StatusQueued))
	require.NoError(t, opp.Transition(StatusDispatched))
	require.NoError(t, opp.Transition(StatusConfirmed))
	assert.True(t, opp.Status().Terminal())

	err := opp.Transition(StatusFailed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadTransition)
}

func TestOpportunityIllegalSkip(t *testing.T) {
	opp := NewOpportunity(KindArbitrage, testRoute(), time.Now().UTC(), time.Second, time.Minute)

	err := opp.Transition(StatusDispatched)
	require.Error(t, err, "detected cannot jump straight to dispatched")
	assert.ErrorIs(t, err, ErrBadTransition)
	assert.Equal(t, StatusDetected, opp.Status())
}

func TestOpportunityExpire(t *testing.T) {
	opp := NewOpportunity(KindArbitrage, testRoute(), time.Now().UTC(), time.Second, time.Minute)

	assert.True(t, opp.Expire())
	assert.Equal(t, StatusExpired, opp.Status())
	assert.False(t, opp.Expire(), "expiring a terminal opportunity is a no-op")
}

func TestOpportunityExpiredAndTTE(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	opp := NewOpportunity(KindArbitrage, testRoute(), at, 3*time.Second, time.Minute)

	assert.False(t, opp.Expired(at.Add(2*time.Second)))
	assert.True(t, opp.Expired(at.Add(4*time.Second)))
	assert.Equal(t, time.Second, opp.TimeToExpiry(at.Add(2*time.Second)))
	assert.Equal(t, time.Duration(0), opp.TimeToExpiry(at.Add(10*time.Second)))
}

func TestInstrumentsDistinctInOrder(t *testing.T) {
	route := []RouteStep{
		{Op: OpSwap, From: weth, To: usdc},
		{Op: OpSwap, From: usdc, To: dai},
		{Op: OpSwap, From: dai, To: weth},
	}
	opp := NewOpportunity(KindArbitrage, route, time.Now().UTC(), time.Second, time.Minute)

	ins := opp.Instruments()
	require.Len(t, ins, 3)
	assert.Equal(t, []Instrument{weth, usdc, dai}, ins)
}

func TestRouteKey(t *testing.T) {
	opp := NewOpportunity(KindArbitrage, testRoute(), time.Now().UTC(), time.Second, time.Minute)
	assert.Equal(t, weth.String()+">"+usdc.String(), opp.RouteKey())

	empty := NewOpportunity(KindSandwich, nil, time.Now().UTC(), time.Second, time.Minute)
	assert.Equal(t, string(KindSandwich), empty.RouteKey())
}
