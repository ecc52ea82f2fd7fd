package domain

import "time"

// AttemptOutcome is the terminal (or pending) result of one execution attempt.
type AttemptOutcome string

const (
	OutcomePending   AttemptOutcome = "pending"
	OutcomeConfirmed AttemptOutcome = "confirmed"
	OutcomeFailed    AttemptOutcome = "failed"
	OutcomeExpired   AttemptOutcome = "expired"
)

// ExecutionAttempt is one dispatch of an opportunity to the broadcast layer.
// Attempts are append-only audit records: once the outcome is set the record
// is never mutated again.
type ExecutionAttempt struct {
	ID            string
	OpportunityID string
	AttemptNumber int
	DispatchedAt  time.Time
	Channels      []string // broadcast channels tried, in submission order
	GasMultiplier float64  // fee bump the builder applied for this attempt
	Outcome       AttemptOutcome
	ActualProfit  float64
	GasUsed       float64
	Error         string
}
