package domain

import "time"

// Event names emitted to the audit sink. Every opportunity state transition
// and every attempt outcome produces one event.
const (
	EventOpportunityDetected   = "opportunity_detected"
	EventOpportunityScored     = "opportunity_scored"
	EventOpportunityQueued     = "opportunity_queued"
	EventOpportunityDispatched = "opportunity_dispatched"
	EventOpportunityConfirmed  = "opportunity_confirmed"
	EventOpportunityFailed     = "opportunity_failed"
	EventOpportunityExpired    = "opportunity_expired"
	EventOpportunityDropped    = "opportunity_dropped"
	EventAttemptRecorded       = "attempt_recorded"
	EventBreakerTripped        = "breaker_tripped"
	EventBreakerReset          = "breaker_reset"
	EventChannelUnhealthy      = "channel_unhealthy"
	EventDailySummary          = "daily_summary"
)

// Event is one structured audit record. Detail keys are event-specific;
// OpportunityID may be empty for system-wide events like breaker trips.
type Event struct {
	Name          string         `json:"name"`
	OpportunityID string         `json:"opportunity_id,omitempty"`
	Stage         string         `json:"stage,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
	At            time.Time      `json:"at"`
}

// StreamMessage is a durable bus message read back from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}
