package domain

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// StrategyKind enumerates the closed set of MEV strategies the engine runs.
type StrategyKind string

const (
	KindArbitrage    StrategyKind = "arbitrage"
	KindSandwich     StrategyKind = "sandwich"
	KindLiquidation  StrategyKind = "liquidation"
	KindFlashLoan    StrategyKind = "flash_loan"
	KindJITLiquidity StrategyKind = "jit_liquidity"
	KindCrossChain   StrategyKind = "cross_chain"
)

// RiskLevel is a coarse risk classification attached by detectors.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

// StepOp identifies what a route step does.
type StepOp string

const (
	OpSwap            StepOp = "swap"
	OpFrontRun        StepOp = "front_run"
	OpVictim          StepOp = "victim"
	OpBackRun         StepOp = "back_run"
	OpBorrow          StepOp = "borrow"
	OpRepay           StepOp = "repay"
	OpLiquidate       StepOp = "liquidate"
	OpAddLiquidity    StepOp = "add_liquidity"
	OpRemoveLiquidity StepOp = "remove_liquidity"
	OpBridge          StepOp = "bridge"
)

// RouteStep is one hop of an opportunity's route: a trade on a venue or a
// protocol call. Price and FeeRate are captured at detection time so the
// expected profit can be audited later against what was actually realized.
type RouteStep struct {
	Op        StepOp
	From      Instrument
	To        Instrument
	Venue     string
	Price     float64
	Liquidity float64
	FeeRate   float64
}

// OpportunityStatus is the lifecycle state of an Opportunity.
type OpportunityStatus string

const (
	StatusDetected   OpportunityStatus = "detected"
	StatusScored     OpportunityStatus = "scored"
	StatusQueued     OpportunityStatus = "queued"
	StatusDispatched OpportunityStatus = "dispatched"
	StatusConfirmed  OpportunityStatus = "confirmed"
	StatusFailed     OpportunityStatus = "failed"
	StatusExpired    OpportunityStatus = "expired"
)

// transitions maps each status to the set of statuses it may move to. Every
// non-terminal status may additionally move to Expired.
var transitions = map[OpportunityStatus][]OpportunityStatus{
	StatusDetected:   {StatusScored, StatusExpired},
	StatusScored:     {StatusQueued, StatusExpired},
	StatusQueued:     {StatusDispatched, StatusExpired},
	StatusDispatched: {StatusConfirmed, StatusFailed, StatusExpired},
}

// Terminal reports whether s admits no further transitions.
func (s OpportunityStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusExpired
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to OpportunityStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Opportunity is a candidate MEV extraction detected by one of the strategy
// detectors. All fields except status are read-only after creation; status is
// guarded by an internal mutex and only moves along the lifecycle state
// machine (Detected -> Scored -> Queued -> Dispatched -> terminal).
type Opportunity struct {
	ID              string
	Kind            StrategyKind
	Route           []RouteStep
	ExpectedProfit  float64 // net of gas and capital cost, in quote units
	Confidence      float64 // [0,1]
	RequiredCapital float64 // 0 for flash-loan funded routes
	Risk            RiskLevel
	RiskFactors     []string
	GasEstimate     float64
	DiscoveredAt    time.Time
	ExpiresAt       time.Time

	mu     sync.Mutex
	status OpportunityStatus
}

// NewOpportunity constructs an Opportunity in the Detected state with a
// deterministic ID derived from the strategy kind, the route's instruments,
// and the discovery epoch.
func NewOpportunity(kind StrategyKind, route []RouteStep, discoveredAt time.Time, ttl, epoch time.Duration) *Opportunity {
	return &Opportunity{
		ID:           OpportunityID(kind, route, discoveredAt, epoch),
		Kind:         kind,
		Route:        route,
		DiscoveredAt: discoveredAt,
		ExpiresAt:    discoveredAt.Add(ttl),
		status:       StatusDetected,
	}
}

// OpportunityID computes the deterministic identifier for a route: the
// keccak256 of the strategy kind, each instrument along the route in order,
// and the discovery epoch number. Re-detection of the same route within the
// same epoch therefore hashes to the same ID.
func OpportunityID(kind StrategyKind, route []RouteStep, discoveredAt time.Time, epoch time.Duration) string {
	if epoch <= 0 {
		epoch = time.Minute
	}
	buf := make([]byte, 0, 8+len(route)*(common.AddressLength+8)*2)
	buf = append(buf, []byte(kind)...)
	for _, step := range route {
		buf = append(buf, step.From.Token.Bytes()...)
		buf = binary.BigEndian.AppendUint64(buf, step.From.ChainID)
		buf = append(buf, step.To.Token.Bytes()...)
		buf = binary.BigEndian.AppendUint64(buf, step.To.ChainID)
		buf = append(buf, []byte(step.Venue)...)
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(discoveredAt.UnixNano()/int64(epoch)))
	return common.BytesToHash(crypto.Keccak256(buf)).Hex()
}

// Status returns the current lifecycle status.
func (o *Opportunity) Status() OpportunityStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Transition moves the opportunity to the given status, enforcing the
// lifecycle state machine. It returns ErrBadTransition when the move is not
// legal from the current status.
func (o *Opportunity) Transition(to OpportunityStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !CanTransition(o.status, to) {
		return fmt.Errorf("%w: %s -> %s (opportunity %s)", ErrBadTransition, o.status, to, o.ID)
	}
	o.status = to
	return nil
}

// Expire marks the opportunity Expired if it is not already terminal. It
// returns true when the status actually changed.
func (o *Opportunity) Expire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Terminal() {
		return false
	}
	o.status = StatusExpired
	return true
}

// Expired reports whether the opportunity's deadline has passed at t.
func (o *Opportunity) Expired(t time.Time) bool {
	return !o.ExpiresAt.IsZero() && t.After(o.ExpiresAt)
}

// TimeToExpiry returns the remaining lifetime at t, clamped at zero.
func (o *Opportunity) TimeToExpiry(t time.Time) time.Duration {
	d := o.ExpiresAt.Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// Instruments returns the distinct instruments touched by the route, in
// first-seen order.
func (o *Opportunity) Instruments() []Instrument {
	seen := make(map[Instrument]bool, len(o.Route)*2)
	out := make([]Instrument, 0, len(o.Route)*2)
	for _, step := range o.Route {
		for _, ins := range [2]Instrument{step.From, step.To} {
			if ins.IsZero() || seen[ins] {
				continue
			}
			seen[ins] = true
			out = append(out, ins)
		}
	}
	return out
}

// RouteKey is a venue-independent key for the instrument pair at the head of
// the route, used by the scorer's hotness tracker.
func (o *Opportunity) RouteKey() string {
	if len(o.Route) == 0 {
		return string(o.Kind)
	}
	first := o.Route[0]
	return first.From.String() + ">" + first.To.String()
}
