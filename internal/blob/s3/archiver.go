package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/calebmori/mevengine/internal/domain"
)

// Writer implements domain.BlobWriter over the S3 client.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer uploading into the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

var _ domain.BlobWriter = (*Writer)(nil)

// Put uploads data as a single PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	}
	if _, err := w.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// Archiver periodically uploads the previous day's execution attempts as a
// JSONL object, keyed by UTC date.
type Archiver struct {
	writer   domain.BlobWriter
	attempts domain.AttemptStore
	sink     domain.EventSink
	interval time.Duration
	logger   *slog.Logger

	lastArchived time.Time // UTC midnight of the newest day already uploaded
}

// NewArchiver creates the archiver; interval defaults to one hour. The sink
// may be nil.
func NewArchiver(writer domain.BlobWriter, attempts domain.AttemptStore, sink domain.EventSink, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Archiver{
		writer:   writer,
		attempts: attempts,
		sink:     sink,
		interval: interval,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run archives until ctx is cancelled. Each tick checks whether a completed
// UTC day is waiting to be uploaded.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			day := now.UTC().Truncate(24 * time.Hour).Add(-24 * time.Hour)
			if !day.After(a.lastArchived) {
				continue
			}
			if err := a.ArchiveDay(ctx, day); err != nil {
				a.logger.Error("archive failed",
					slog.Time("day", day),
					slog.String("error", err.Error()),
				)
				continue
			}
			a.lastArchived = day
		}
	}
}

// ArchiveDay uploads one UTC day of attempts as JSONL under
// attempts/YYYY/MM/DD.jsonl, one record per line with a trailing summary
// line. A day with no attempts uploads nothing.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) error {
	day = day.UTC().Truncate(24 * time.Hour)
	attempts, err := a.attempts.ListBetween(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("s3blob: list attempts for %s: %w", day.Format("2006-01-02"), err)
	}
	if len(attempts) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	var profit, gas float64
	for _, attempt := range attempts {
		if err := enc.Encode(attempt); err != nil {
			return fmt.Errorf("s3blob: encode attempt %s: %w", attempt.ID, err)
		}
		profit += attempt.ActualProfit
		gas += attempt.GasUsed
	}
	summary := map[string]any{
		"day":             day.Format("2006-01-02"),
		"attempts":        len(attempts),
		"realized_profit": profit,
		"gas_spent":       gas,
		"archived_at":     time.Now().UTC(),
	}
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("s3blob: encode summary: %w", err)
	}

	key := fmt.Sprintf("attempts/%s.jsonl", day.Format("2006/01/02"))
	if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return err
	}
	a.logger.Info("archived day",
		slog.String("key", key),
		slog.Int("attempts", len(attempts)),
		slog.Float64("realized_profit", profit),
		slog.Float64("gas_spent", gas),
	)
	if a.sink != nil {
		a.sink.Emit(ctx, domain.Event{
			Name: domain.EventDailySummary,
			Detail: map[string]any{
				"day":             day.Format("2006-01-02"),
				"attempts":        len(attempts),
				"realized_profit": profit,
				"gas_spent":       gas,
			},
			At: time.Now().UTC(),
		})
	}
	return nil
}
