package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/logger"
	"github.com/ajitpratap0/datastream/pkg/models"
)

// DefaultChunkSize is the chunk size used when SendBatch is given a
// non-positive size.
const DefaultChunkSize = 1000

// BatchResult counts the outcome of SendBatch.
type BatchResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// SendBatch sends events in chunks of chunkSize. A failed chunk counts all
// of its events as failed and does not stop later chunks. Sent+Failed
// always equals len(events).
func SendBatch(ctx context.Context, c Connector, events []*models.Event, chunkSize int) BatchResult {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var res BatchResult
	for start := 0; start < len(events); start += chunkSize {
		end := start + chunkSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]

		n, err := c.Send(ctx, chunk)
		if err != nil {
			logger.WithContext(ctx).Warn("chunk delivery failed",
				zap.String("destination", string(c.Type())),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err))
			res.Failed += len(chunk)
			continue
		}
		if n > len(chunk) {
			n = len(chunk)
		}
		if n < 0 {
			n = 0
		}
		res.Sent += n
		res.Failed += len(chunk) - n
	}
	return res
}

// Chunks returns the number of chunks SendBatch issues for n events.
func Chunks(n, chunkSize int) int {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return (n + chunkSize - 1) / chunkSize
}
