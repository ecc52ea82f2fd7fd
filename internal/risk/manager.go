// Package risk enforces the engine's capital guardrails: per-trade and
// aggregate position limits, a daily loss cap, and a global circuit breaker
// that halts dispatch after a losing streak.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calebmori/mevengine/internal/domain"
)

// Config holds the risk guardrails.
type Config struct {
	// MaxPositionSize caps the capital one opportunity may commit.
	MaxPositionSize float64
	// MaxTotalExposure caps capital committed across all in-flight routes.
	MaxTotalExposure float64
	// MaxOpenPositions caps the number of routes in flight at once.
	MaxOpenPositions int
	// MaxDailyLoss is the realized loss (positive number) that halts trading
	// until the next UTC day.
	MaxDailyLoss float64
	// BreakerThreshold trips the circuit breaker after this many consecutive
	// failed executions.
	BreakerThreshold int
	// BreakerCooldown is how long the breaker stays open before it resets.
	BreakerCooldown time.Duration
	// MaxRiskLevel rejects opportunities classified above it.
	MaxRiskLevel domain.RiskLevel
}

// Checker is the consumer-side view the executor needs.
type Checker interface {
	// Approve reserves capital for the opportunity, returning a release func.
	// The release must be called exactly once when the route leaves flight.
	Approve(opp *domain.Opportunity) (func(), error)
	// RecordResult feeds a terminal outcome back into the loss and breaker
	// accounting.
	RecordResult(opp *domain.Opportunity, outcome domain.AttemptOutcome, realizedProfit float64)
}

// Manager implements Checker with in-memory counters. State resets on
// restart; the daily loss window follows UTC days.
type Manager struct {
	cfg    Config
	sink   domain.EventSink
	logger *slog.Logger
	now    func() time.Time

	mu               sync.Mutex
	exposure         float64
	openPositions    int
	dailyLoss        float64
	lossDay          time.Time // UTC midnight of the day dailyLoss covers
	consecutiveFails int
	breakerOpenUntil time.Time
}

var _ Checker = (*Manager)(nil)

// NewManager creates the manager. The sink may be nil.
func NewManager(cfg Config, sink domain.EventSink, logger *slog.Logger) *Manager {
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 5 * time.Minute
	}
	return &Manager{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(slog.String("component", "risk_manager")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// checkLocked runs the guardrails that need no reservation: the breaker, the
// daily loss cap, the risk level, and the per-position size.
func (m *Manager) checkLocked(opp *domain.Opportunity, now time.Time) error {
	if now.Before(m.breakerOpenUntil) {
		return fmt.Errorf("risk: breaker open until %s: %w", m.breakerOpenUntil.Format(time.RFC3339), domain.ErrBreakerOpen)
	}
	if m.cfg.MaxDailyLoss > 0 && m.dailyLoss >= m.cfg.MaxDailyLoss {
		return fmt.Errorf("risk: daily loss cap %.2f reached: %w", m.cfg.MaxDailyLoss, domain.ErrRiskRejected)
	}
	if opp.Risk > m.cfg.MaxRiskLevel {
		return fmt.Errorf("risk: level %d exceeds max %d: %w", opp.Risk, m.cfg.MaxRiskLevel, domain.ErrRiskRejected)
	}
	if m.cfg.MaxPositionSize > 0 && opp.RequiredCapital > m.cfg.MaxPositionSize {
		return fmt.Errorf("risk: position %.2f exceeds limit %.2f: %w", opp.RequiredCapital, m.cfg.MaxPositionSize, domain.ErrRiskRejected)
	}
	return nil
}

// Precheck runs the read-only guardrails without reserving anything. The
// scorer consults it before an opportunity enters the ready queue; the
// authoritative reservation still happens in Approve under the in-flight
// claim.
func (m *Manager) Precheck(opp *domain.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.rollDayLocked(now)
	return m.checkLocked(opp, now)
}

// Approve runs every guardrail and, when all pass, reserves the opportunity's
// required capital. The returned release func gives the capital back.
func (m *Manager) Approve(opp *domain.Opportunity) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.rollDayLocked(now)

	if err := m.checkLocked(opp, now); err != nil {
		return nil, err
	}
	if m.cfg.MaxTotalExposure > 0 && m.exposure+opp.RequiredCapital > m.cfg.MaxTotalExposure {
		return nil, fmt.Errorf("risk: exposure %.2f+%.2f exceeds limit %.2f: %w", m.exposure, opp.RequiredCapital, m.cfg.MaxTotalExposure, domain.ErrRiskRejected)
	}
	if m.cfg.MaxOpenPositions > 0 && m.openPositions >= m.cfg.MaxOpenPositions {
		return nil, fmt.Errorf("risk: %d positions already open, limit %d: %w", m.openPositions, m.cfg.MaxOpenPositions, domain.ErrRiskRejected)
	}

	m.exposure += opp.RequiredCapital
	m.openPositions++
	reserved := opp.RequiredCapital
	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			m.exposure -= reserved
			m.openPositions--
			m.mu.Unlock()
		})
	}
	return release, nil
}

// RecordResult updates the loss ledger and the breaker streak from a terminal
// execution outcome.
func (m *Manager) RecordResult(opp *domain.Opportunity, outcome domain.AttemptOutcome, realizedProfit float64) {
	m.mu.Lock()
	now := m.now()
	m.rollDayLocked(now)

	if realizedProfit < 0 {
		m.dailyLoss += -realizedProfit
	}

	var tripped bool
	switch outcome {
	case domain.OutcomeConfirmed:
		if m.consecutiveFails > 0 {
			m.consecutiveFails = 0
		}
	case domain.OutcomeFailed:
		m.consecutiveFails++
		if m.consecutiveFails >= m.cfg.BreakerThreshold && !now.Before(m.breakerOpenUntil) {
			m.breakerOpenUntil = now.Add(m.cfg.BreakerCooldown)
			tripped = true
		}
	}
	openUntil := m.breakerOpenUntil
	fails := m.consecutiveFails
	m.mu.Unlock()

	if tripped {
		m.logger.Error("circuit breaker tripped",
			slog.Int("consecutive_failures", fails),
			slog.Time("open_until", openUntil),
		)
		if m.sink != nil {
			m.sink.Emit(context.Background(), domain.Event{
				Name: domain.EventBreakerTripped,
				Detail: map[string]any{
					"consecutive_failures": fails,
					"open_until":           openUntil,
					"last_opportunity":     opp.ID,
				},
				At: now,
			})
		}
	}
}

// Exposure returns the capital currently reserved across in-flight routes.
func (m *Manager) Exposure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exposure
}

// OpenPositions returns the number of routes currently in flight.
func (m *Manager) OpenPositions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openPositions
}

// DailyLoss returns today's realized loss.
func (m *Manager) DailyLoss() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(m.now())
	return m.dailyLoss
}

// BreakerOpen reports whether the breaker currently blocks dispatch.
func (m *Manager) BreakerOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Before(m.breakerOpenUntil)
}

// rollDayLocked resets the loss ledger when the UTC day changes. The breaker
// streak survives the rollover; a losing streak does not become safe at
// midnight.
func (m *Manager) rollDayLocked(now time.Time) {
	day := now.Truncate(24 * time.Hour)
	if !day.Equal(m.lossDay) {
		if m.dailyLoss > 0 {
			m.logger.Info("daily loss ledger reset", slog.Float64("previous_loss", m.dailyLoss))
		}
		m.lossDay = day
		m.dailyLoss = 0
	}
}
