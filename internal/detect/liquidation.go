package detect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/market"
)

// LiquidationConfig holds the tunables for liquidation detection.
type LiquidationConfig struct {
	// CloseFactor is the fraction of the debt a single liquidation may repay.
	CloseFactor float64
	// FlashLoanFeeRate funds the repayment when the route is flash-loan
	// financed, e.g. 0.0009 for Aave.
	FlashLoanFeeRate float64
	// GasCost is the estimated gas for the liquidation call.
	GasCost float64
	// UseFlashLoan toggles flash-loan funding; when true the route carries
	// zero required capital.
	UseFlashLoan bool
	TTL          time.Duration
	Epoch        time.Duration
}

// LiquidationDetector tracks lending-protocol account health and emits an
// opportunity for every account whose health factor drops below 1.0.
type LiquidationDetector struct {
	cfg    LiquidationConfig
	logger *slog.Logger

	mu       sync.Mutex
	accounts map[string]domain.AccountHealth // protocol:account -> latest
}

// NewLiquidationDetector creates the detector with the given tunables.
func NewLiquidationDetector(cfg LiquidationConfig, logger *slog.Logger) *LiquidationDetector {
	if cfg.CloseFactor <= 0 || cfg.CloseFactor > 1 {
		cfg.CloseFactor = 0.5
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Epoch <= 0 {
		cfg.Epoch = time.Minute
	}
	return &LiquidationDetector{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "liquidation_detector")),
		accounts: make(map[string]domain.AccountHealth),
	}
}

// Name implements Detector.
func (d *LiquidationDetector) Name() string { return "liquidation" }

// Kind implements Detector.
func (d *LiquidationDetector) Kind() domain.StrategyKind { return domain.KindLiquidation }

// OnAccountHealth records the latest health snapshot for an account.
func (d *LiquidationDetector) OnAccountHealth(health domain.AccountHealth) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[health.Protocol+":"+health.Account.Hex()] = health
}

// Scan emits an opportunity per liquidatable account (health factor below
// 1.0). Profit is the protocol's liquidation bonus on the repayable debt,
// minus gas and the flash-loan fee when the repayment is flash-funded.
func (d *LiquidationDetector) Scan(ctx context.Context, snap *market.Snapshot) ([]*domain.Opportunity, error) {
	d.mu.Lock()
	healths := make([]domain.AccountHealth, 0, len(d.accounts))
	for _, h := range d.accounts {
		healths = append(healths, h)
	}
	d.mu.Unlock()

	now := time.Now().UTC()
	if snap != nil {
		now = snap.TakenAt
	}

	var out []*domain.Opportunity
	for _, h := range healths {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if h.HealthFactor >= 1.0 || h.DebtValue <= 0 {
			continue
		}
		opp := d.buildOpportunity(h, now)
		if opp != nil {
			out = append(out, opp)
		}
	}
	return out, nil
}

func (d *LiquidationDetector) buildOpportunity(h domain.AccountHealth, now time.Time) *domain.Opportunity {
	repay := h.DebtValue * d.cfg.CloseFactor
	bonus := repay * h.LiquidationBonus
	flashFee := 0.0
	capital := repay
	if d.cfg.UseFlashLoan {
		flashFee = repay * d.cfg.FlashLoanFeeRate
		capital = 0
	}
	net := bonus - d.cfg.GasCost - flashFee
	if net <= 0 {
		return nil
	}

	var factors []string
	if h.HealthFactor > 0.98 {
		// Barely under water; a small price move re-collateralizes the
		// account and the call reverts.
		factors = append(factors, "marginal_health_factor")
	}

	route := []domain.RouteStep{
		{Op: domain.OpBorrow, From: h.Debt, To: h.Debt, Venue: h.Protocol},
		{Op: domain.OpLiquidate, From: h.Debt, To: h.Collateral, Venue: h.Protocol, Price: 1 + h.LiquidationBonus},
		{Op: domain.OpRepay, From: h.Collateral, To: h.Debt, Venue: h.Protocol},
	}
	opp := domain.NewOpportunity(domain.KindLiquidation, route, now, d.cfg.TTL, d.cfg.Epoch)
	opp.ExpectedProfit = net
	opp.RequiredCapital = capital
	opp.GasEstimate = d.cfg.GasCost
	opp.Confidence = Confidence(net/repay, factors)
	opp.RiskFactors = factors
	opp.Risk = riskFromFactors(factors)

	d.logger.Debug("liquidatable account",
		slog.String("protocol", h.Protocol),
		slog.String("account", h.Account.Hex()),
		slog.Float64("health_factor", h.HealthFactor),
		slog.Float64("net", net),
	)
	return opp
}

// Forget drops an account from tracking, e.g. after its liquidation confirms.
func (d *LiquidationDetector) Forget(protocol string, account common.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.accounts, protocol+":"+account.Hex())
}
