package detect

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/market"
)

// stubDetector returns a fixed set of opportunities on every scan.
type stubDetector struct {
	opps  []*domain.Opportunity
	scans atomic.Int64
}

func (s *stubDetector) Name() string              { return "stub" }
func (s *stubDetector) Kind() domain.StrategyKind { return domain.KindArbitrage }
func (s *stubDetector) Scan(ctx context.Context, snap *market.Snapshot) ([]*domain.Opportunity, error) {
	s.scans.Add(1)
	return s.opps, nil
}

// stubMempoolDetector emits one opportunity per pending transaction.
type stubMempoolDetector struct {
	stubDetector
	perTx func(tx domain.PendingTx) *domain.Opportunity
}

func (s *stubMempoolDetector) OnPendingTx(ctx context.Context, tx domain.PendingTx, snap *market.Snapshot) ([]*domain.Opportunity, error) {
	if opp := s.perTx(tx); opp != nil {
		return []*domain.Opportunity{opp}, nil
	}
	return nil, nil
}

func stubOpp(profit float64) *domain.Opportunity {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	opp := domain.NewOpportunity(domain.KindArbitrage, []domain.RouteStep{
		{Op: domain.OpSwap, From: weth, To: usdc, Venue: "uniswap_v3"},
	}, at, time.Hour, time.Minute)
	opp.ExpectedProfit = profit
	opp.Confidence = 0.8
	return opp
}

func startEngine(t *testing.T, cfg EngineConfig, graph *market.Graph, reg *Registry) (*Engine, context.CancelFunc) {
	t.Helper()
	e := NewEngine(cfg, graph, reg, nil, testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e, cancel
}

func bump(g *market.Graph, price float64) {
	g.UpsertEdge(market.Edge{
		From: weth, To: usdc, Venue: "uniswap_v3",
		Price: price, Liquidity: 1e6, FeeRate: 0.003,
		UpdatedAt: time.Now().UTC(),
	})
}

func TestEngineEmitsAboveProfitGate(t *testing.T) {
	graph := market.NewGraph(time.Hour, time.Hour, testLogger)
	reg := NewRegistry()
	reg.Register(&stubDetector{opps: []*domain.Opportunity{stubOpp(50)}})

	e, _ := startEngine(t, EngineConfig{ScanInterval: 5 * time.Millisecond, MinNetProfit: 10}, graph, reg)
	bump(graph, 3000)

	select {
	case opp := <-e.Opportunities():
		assert.Equal(t, 50.0, opp.ExpectedProfit)
	case <-time.After(2 * time.Second):
		t.Fatal("no opportunity emitted")
	}
}

func TestEngineDropsBelowProfitGate(t *testing.T) {
	graph := market.NewGraph(time.Hour, time.Hour, testLogger)
	reg := NewRegistry()
	stub := &stubDetector{opps: []*domain.Opportunity{stubOpp(5)}}
	reg.Register(stub)

	e, _ := startEngine(t, EngineConfig{ScanInterval: 5 * time.Millisecond, MinNetProfit: 10}, graph, reg)
	bump(graph, 3000)

	require.Eventually(t, func() bool { return stub.scans.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	select {
	case opp := <-e.Opportunities():
		t.Fatalf("gated opportunity leaked: %s", opp.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngineDedupesRepeatDetections(t *testing.T) {
	graph := market.NewGraph(time.Hour, time.Hour, testLogger)
	reg := NewRegistry()
	// The same fixed route and timestamp hash to the same opportunity ID on
	// every scan.
	reg.Register(&stubDetector{opps: []*domain.Opportunity{stubOpp(50)}})

	e, _ := startEngine(t, EngineConfig{ScanInterval: 5 * time.Millisecond, MinNetProfit: 10, DedupTTL: time.Hour}, graph, reg)

	bump(graph, 3000)
	first := <-e.Opportunities()
	require.NotNil(t, first)

	// Force more scans; the duplicate must be suppressed.
	bump(graph, 3001)
	bump(graph, 3002)
	select {
	case opp := <-e.Opportunities():
		t.Fatalf("duplicate emitted: %s", opp.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineScansOnlyOnVersionChange(t *testing.T) {
	graph := market.NewGraph(time.Hour, time.Hour, testLogger)
	reg := NewRegistry()
	stub := &stubDetector{}
	reg.Register(stub)

	startEngine(t, EngineConfig{ScanInterval: 5 * time.Millisecond}, graph, reg)
	bump(graph, 3000)

	require.Eventually(t, func() bool { return stub.scans.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, stub.scans.Load(), "an unchanged graph must not be rescanned")
}

func TestEngineRoutesPendingTxToMempoolDetectors(t *testing.T) {
	graph := market.NewGraph(time.Hour, time.Hour, testLogger)
	reg := NewRegistry()
	md := &stubMempoolDetector{perTx: func(tx domain.PendingTx) *domain.Opportunity {
		opp := stubOpp(100)
		return opp
	}}
	reg.Register(md)

	e, _ := startEngine(t, EngineConfig{ScanInterval: time.Hour, MinNetProfit: 10}, graph, reg)
	e.OfferPendingTx(domain.PendingTx{TokenIn: weth, TokenOut: usdc, Venue: "uniswap_v3", AmountIn: 1})

	select {
	case opp := <-e.Opportunities():
		assert.Equal(t, 100.0, opp.ExpectedProfit)
	case <-time.After(2 * time.Second):
		t.Fatal("pending tx never reached the mempool detector")
	}
}
