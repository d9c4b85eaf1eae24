package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

const (
	fieldEventsSent       = "events_sent"
	fieldEventsFailed     = "events_failed"
	fieldBytesSent        = "bytes_sent"
	fieldFlushes          = "flushes"
	fieldLatencyTotal     = "latency_ms_total"
	fieldLastEventAt      = "last_event_at"
	fieldLastErrorAt      = "last_error_at"
	fieldLastErrorMessage = "last_error_message"
	fieldCreatedAt        = "created_at"
)

// Delivery is the outcome of one flush or backfill chunk.
type Delivery struct {
	Sent    int
	Failed  int
	Bytes   int64
	Latency time.Duration
	At      time.Time
	// Error is recorded as the last error when non-empty.
	Error string
}

// RecordDelivery adds d to the stream's counters. Counters only grow.
func (s *Store) RecordDelivery(ctx context.Context, streamID string, d Delivery) error {
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	key := statsKey(streamID)
	at := d.At.UTC().Format(time.RFC3339Nano)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldCreatedAt, at)
		if d.Sent > 0 {
			pipe.HIncrBy(ctx, key, fieldEventsSent, int64(d.Sent))
			pipe.HIncrBy(ctx, key, fieldBytesSent, d.Bytes)
			pipe.HIncrBy(ctx, key, fieldFlushes, 1)
			pipe.HIncrByFloat(ctx, key, fieldLatencyTotal, float64(d.Latency)/float64(time.Millisecond))
			pipe.HSet(ctx, key, fieldLastEventAt, at)
		}
		if d.Failed > 0 {
			pipe.HIncrBy(ctx, key, fieldEventsFailed, int64(d.Failed))
		}
		if d.Error != "" {
			pipe.HSet(ctx, key, fieldLastErrorAt, at, fieldLastErrorMessage, d.Error)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to record stats")
	}
	return nil
}

// GetStats reads the stream's counters. A stream with no deliveries yet
// gets zeroed stats. The period runs from the first recorded delivery to
// now.
func (s *Store) GetStats(ctx context.Context, streamID string, now time.Time) (*models.StreamStats, error) {
	raw, err := s.client.HGetAll(ctx, statsKey(streamID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read stats")
	}

	now = now.UTC()
	stats := &models.StreamStats{
		StreamID:    streamID,
		PeriodStart: now,
		PeriodEnd:   now,
	}
	if len(raw) == 0 {
		return stats, nil
	}

	stats.EventsSent = parseInt(raw[fieldEventsSent])
	stats.EventsFailed = parseInt(raw[fieldEventsFailed])
	stats.BytesSent = parseInt(raw[fieldBytesSent])
	stats.LastErrorMessage = raw[fieldLastErrorMessage]
	stats.LastEventAt = parseTime(raw[fieldLastEventAt])
	stats.LastErrorAt = parseTime(raw[fieldLastErrorAt])
	if created := parseTime(raw[fieldCreatedAt]); created != nil {
		stats.PeriodStart = *created
	}

	if flushes := parseInt(raw[fieldFlushes]); flushes > 0 {
		total, _ := strconv.ParseFloat(raw[fieldLatencyTotal], 64)
		stats.AvgLatencyMs = total / float64(flushes)
	}
	return stats, nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
