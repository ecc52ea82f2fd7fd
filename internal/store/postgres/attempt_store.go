package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calebmori/mevengine/internal/domain"
)

// AttemptStore implements domain.AttemptStore using PostgreSQL. Attempts are
// append-only; Finish sets the terminal outcome exactly once.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates an AttemptStore backed by the given pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

var _ domain.AttemptStore = (*AttemptStore)(nil)

// Append inserts a new attempt record in the pending state.
func (s *AttemptStore) Append(ctx context.Context, attempt domain.ExecutionAttempt) error {
	const query = `
		INSERT INTO execution_attempts
			(id, opportunity_id, attempt_number, dispatched_at, channels, gas_multiplier, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		attempt.ID,
		attempt.OpportunityID,
		attempt.AttemptNumber,
		attempt.DispatchedAt,
		attempt.Channels,
		attempt.GasMultiplier,
		string(domain.OutcomePending),
	)
	if err != nil {
		return fmt.Errorf("postgres: append attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// Finish records the terminal outcome for a previously appended attempt. A
// second Finish on the same attempt is a no-op, preserving the first outcome.
func (s *AttemptStore) Finish(ctx context.Context, attemptID string, outcome domain.AttemptOutcome, actualProfit, gasUsed float64, errDetail string) error {
	const query = `
		UPDATE execution_attempts
		SET outcome = $2, actual_profit = $3, gas_used = $4, error = $5, finished_at = NOW()
		WHERE id = $1 AND outcome = 'pending'`
	tag, err := s.pool.Exec(ctx, query, attemptID, string(outcome), actualProfit, gasUsed, errDetail)
	if err != nil {
		return fmt.Errorf("postgres: finish attempt %s: %w", attemptID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM execution_attempts WHERE id = $1)", attemptID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check attempt %s: %w", attemptID, err)
		}
		if !exists {
			return fmt.Errorf("postgres: finish attempt %s: %w", attemptID, domain.ErrNotFound)
		}
	}
	return nil
}

// ListByOpportunity returns all attempts for an opportunity in dispatch order.
func (s *AttemptStore) ListByOpportunity(ctx context.Context, opportunityID string) ([]domain.ExecutionAttempt, error) {
	const query = `
		SELECT id, opportunity_id, attempt_number, dispatched_at, channels,
		       gas_multiplier, outcome, actual_profit, gas_used, error
		FROM execution_attempts
		WHERE opportunity_id = $1
		ORDER BY attempt_number ASC`
	rows, err := s.pool.Query(ctx, query, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts for %s: %w", opportunityID, err)
	}
	defer rows.Close()

	var attempts []domain.ExecutionAttempt
	for rows.Next() {
		var a domain.ExecutionAttempt
		var outcome string
		if err := rows.Scan(
			&a.ID, &a.OpportunityID, &a.AttemptNumber, &a.DispatchedAt,
			&a.Channels, &a.GasMultiplier, &outcome, &a.ActualProfit, &a.GasUsed, &a.Error,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		a.Outcome = domain.AttemptOutcome(outcome)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attempts rows: %w", err)
	}
	return attempts, nil
}

// ListBetween returns attempts dispatched in [from, to), oldest first.
func (s *AttemptStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ExecutionAttempt, error) {
	const query = `
		SELECT id, opportunity_id, attempt_number, dispatched_at, channels,
		       gas_multiplier, outcome, actual_profit, gas_used, error
		FROM execution_attempts
		WHERE dispatched_at >= $1 AND dispatched_at < $2
		ORDER BY dispatched_at ASC`
	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts between: %w", err)
	}
	defer rows.Close()

	var attempts []domain.ExecutionAttempt
	for rows.Next() {
		var a domain.ExecutionAttempt
		var outcome string
		if err := rows.Scan(
			&a.ID, &a.OpportunityID, &a.AttemptNumber, &a.DispatchedAt,
			&a.Channels, &a.GasMultiplier, &outcome, &a.ActualProfit, &a.GasUsed, &a.Error,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		a.Outcome = domain.AttemptOutcome(outcome)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attempts rows: %w", err)
	}
	return attempts, nil
}

// Totals returns aggregate realized profit and gas across attempts dispatched
// since the given time.
func (s *AttemptStore) Totals(ctx context.Context, since time.Time) (float64, float64, error) {
	const query = `
		SELECT COALESCE(SUM(actual_profit), 0), COALESCE(SUM(gas_used), 0)
		FROM execution_attempts
		WHERE dispatched_at >= $1 AND outcome <> 'pending'`
	var profit, gas float64
	if err := s.pool.QueryRow(ctx, query, since).Scan(&profit, &gas); err != nil {
		return 0, 0, fmt.Errorf("postgres: attempt totals: %w", err)
	}
	return profit, gas, nil
}
