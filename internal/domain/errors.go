package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInFlight         = errors.New("opportunity already in flight")
	ErrExpired          = errors.New("opportunity expired")
	ErrRiskRejected     = errors.New("rejected by risk manager")
	ErrBreakerOpen      = errors.New("circuit breaker open")
	ErrChannelUnhealthy = errors.New("broadcast channel unhealthy")
	ErrBuildFailed      = errors.New("bundle build failed")
	ErrBadTransition    = errors.New("invalid status transition")
	ErrLockHeld         = errors.New("lock already held")
	ErrFeedClosed       = errors.New("feed connection closed")
)
