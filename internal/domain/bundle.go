package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Priority selects how aggressively a bundle is routed and fee-bumped.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityUltra // private channels only, maximum fee bump
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityUltra:
		return "ultra"
	default:
		return "normal"
	}
}

// SignedBundle is an opaque, signed, submittable transaction bundle produced
// by the external transaction builder. The engine never inspects the payload;
// it only routes it.
type SignedBundle struct {
	Hash          common.Hash
	OpportunityID string
	ChainID       uint64
	Payload       []byte
	GasMultiplier float64 // applied by the builder per priority tier
	ExpiresAt     time.Time
}

// InclusionStatus is what a relay/mempool endpoint reports for a submission.
type InclusionStatus string

const (
	InclusionAccepted InclusionStatus = "accepted"
	InclusionIncluded InclusionStatus = "included"
	InclusionRejected InclusionStatus = "rejected"
)

// ChannelResult records one channel's final word on a bundle.
type ChannelResult struct {
	Channel  string
	Status   InclusionStatus
	Attempts int
	Err      string
	Latency  time.Duration
}

// BroadcastResult is the fan-out outcome: the winning channel when any
// submission succeeded, and per-channel detail either way.
type BroadcastResult struct {
	Success  bool
	Winner   string
	Status   InclusionStatus
	Channels []ChannelResult
}
