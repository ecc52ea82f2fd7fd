package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmori/mevengine/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeWriter struct {
	key         string
	contentType string
	data        []byte
	puts        int
}

func (w *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	w.puts++
	w.key = path
	w.contentType = contentType
	var err error
	w.data, err = io.ReadAll(data)
	return err
}

type fakeAttempts struct {
	attempts []domain.ExecutionAttempt
}

func (s *fakeAttempts) Append(ctx context.Context, attempt domain.ExecutionAttempt) error { return nil }
func (s *fakeAttempts) Finish(ctx context.Context, attemptID string, outcome domain.AttemptOutcome, actualProfit, gasUsed float64, errDetail string) error {
	return nil
}
func (s *fakeAttempts) ListByOpportunity(ctx context.Context, opportunityID string) ([]domain.ExecutionAttempt, error) {
	return nil, nil
}
func (s *fakeAttempts) Totals(ctx context.Context, since time.Time) (float64, float64, error) {
	return 0, 0, nil
}

func (s *fakeAttempts) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ExecutionAttempt, error) {
	var out []domain.ExecutionAttempt
	for _, a := range s.attempts {
		if !a.DispatchedAt.Before(from) && a.DispatchedAt.Before(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func TestArchiveDayWritesJSONLWithSummary(t *testing.T) {
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	store := &fakeAttempts{attempts: []domain.ExecutionAttempt{
		{ID: "a-1", OpportunityID: "opp-1", DispatchedAt: day.Add(2 * time.Hour), Outcome: domain.OutcomeConfirmed, ActualProfit: 50, GasUsed: 3},
		{ID: "a-2", OpportunityID: "opp-2", DispatchedAt: day.Add(20 * time.Hour), Outcome: domain.OutcomeFailed, ActualProfit: 0, GasUsed: 4},
	}}
	writer := &fakeWriter{}
	a := NewArchiver(writer, store, nil, time.Hour, testLogger)

	require.NoError(t, a.ArchiveDay(context.Background(), day))

	assert.Equal(t, "attempts/2026/08/26.jsonl", writer.key)
	assert.Equal(t, "application/x-ndjson", writer.contentType)

	scanner := bufio.NewScanner(bytes.NewReader(writer.data))
	var lines [][]byte
	for scanner.Scan() {
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	require.Len(t, lines, 3, "two attempt records plus the summary line")

	var first domain.ExecutionAttempt
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "a-1", first.ID)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(lines[2], &summary))
	assert.Equal(t, "2026-08-26", summary["day"])
	assert.EqualValues(t, 2, summary["attempts"])
	assert.EqualValues(t, 50, summary["realized_profit"])
	assert.EqualValues(t, 7, summary["gas_spent"])
}

func TestArchiveDayExcludesNeighboringDays(t *testing.T) {
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	store := &fakeAttempts{attempts: []domain.ExecutionAttempt{
		{ID: "before", DispatchedAt: day.Add(-time.Minute)},
		{ID: "inside", DispatchedAt: day.Add(12 * time.Hour)},
		{ID: "after", DispatchedAt: day.Add(24 * time.Hour)},
	}}
	writer := &fakeWriter{}
	a := NewArchiver(writer, store, nil, time.Hour, testLogger)

	require.NoError(t, a.ArchiveDay(context.Background(), day))

	scanner := bufio.NewScanner(bytes.NewReader(writer.data))
	var ids []string
	for scanner.Scan() {
		var rec domain.ExecutionAttempt
		if json.Unmarshal(scanner.Bytes(), &rec) == nil && rec.ID != "" {
			ids = append(ids, rec.ID)
		}
	}
	assert.Equal(t, []string{"inside"}, ids)
}

type fakeSink struct {
	events []domain.Event
}

func (s *fakeSink) Emit(ctx context.Context, ev domain.Event) {
	s.events = append(s.events, ev)
}

func TestArchiveDayEmitsSummaryEvent(t *testing.T) {
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	store := &fakeAttempts{attempts: []domain.ExecutionAttempt{
		{ID: "a-1", DispatchedAt: day.Add(time.Hour), Outcome: domain.OutcomeConfirmed, ActualProfit: 50, GasUsed: 3},
	}}
	sink := &fakeSink{}
	a := NewArchiver(&fakeWriter{}, store, sink, time.Hour, testLogger)

	require.NoError(t, a.ArchiveDay(context.Background(), day))

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, domain.EventDailySummary, ev.Name)
	assert.Equal(t, "2026-08-26", ev.Detail["day"])
	assert.Equal(t, 50.0, ev.Detail["realized_profit"])
}

func TestArchiveDaySkipsEmptyDay(t *testing.T) {
	writer := &fakeWriter{}
	a := NewArchiver(writer, &fakeAttempts{}, nil, time.Hour, testLogger)

	require.NoError(t, a.ArchiveDay(context.Background(), time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)))
	assert.Zero(t, writer.puts, "a day with no attempts uploads nothing")
}
