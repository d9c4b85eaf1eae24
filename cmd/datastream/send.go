package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/datastream/internal/pipeline"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/models"
)

func newSendCommand(configPath *string) *cobra.Command {
	var chunkSize int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send <stream.yaml> <events.ndjson>",
		Short: "Deliver a file of events straight to a stream's destination",
		Long: `Send reads newline-delimited JSON click events, applies the stream's filters
and writes them to the destination in chunks, without going through a queue.
Use - to read events from standard input.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sf, err := loadStreamFile(*configPath, args[0])
			if err != nil {
				return err
			}
			if err := sf.Validate(); err != nil {
				return err
			}

			events, err := readEventsFile(cmd, args[1])
			if err != nil {
				return err
			}
			matched := pipeline.FilterEvents(sf.Filters, events)
			if chunkSize <= 0 {
				chunkSize = sf.Delivery.EffectiveBatchSize()
			}

			conn, err := registry.Create(core.Config{
				StreamID:     "cli-" + uuid.NewString(),
				Destination:  sf.Destination,
				Schema:       sf.Schema,
				Partitioning: sf.Partitioning,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := conn.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = conn.Disconnect(context.Background()) }()

			res := core.SendBatch(ctx, conn, matched, chunkSize)
			if err := printJSON(cmd, map[string]interface{}{
				"read":     len(events),
				"filtered": len(events) - len(matched),
				"chunks":   core.Chunks(len(matched), chunkSize),
				"sent":     res.Sent,
				"failed":   res.Failed,
			}); err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d events were not delivered", res.Failed, len(matched))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Events per send (default: the stream's batch size)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Overall delivery timeout")
	return cmd
}

func readEventsFile(cmd *cobra.Command, path string) ([]*models.Event, error) {
	if path == "-" {
		return readEvents(cmd.InOrStdin())
	}
	f, err := os.Open(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readEvents(f)
}

// readEvents decodes one event per line. Events without an id get one so
// destinations keyed by event id stay deterministic within a run.
func readEvents(r io.Reader) ([]*models.Event, error) {
	var events []*models.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		e := &models.Event{}
		if err := json.Unmarshal(raw, e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if e.EventID == "" {
			e.EventID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
