package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/internal/backfill"
	"github.com/ajitpratap0/datastream/internal/history"
	"github.com/ajitpratap0/datastream/internal/store"
	"github.com/ajitpratap0/datastream/internal/stream"
	"github.com/ajitpratap0/datastream/pkg/config"
	"github.com/ajitpratap0/datastream/pkg/models"
)

// client is a stream service without processors, for commands that
// only read the registry or write to the shared queues.
type client struct {
	cfg     *config.Config
	store   *store.Store
	history *history.ClickHouseStore
	svc     *stream.Service
}

func openClient(ctx context.Context, configPath string, withHistory bool) (*client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := zap.NewNop()

	st, err := store.Connect(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}
	c := &client{cfg: cfg, store: st}

	var source history.Source
	if withHistory {
		if !cfg.ClickHouse.Enabled {
			_ = st.Close()
			return nil, fmt.Errorf("clickhouse is not enabled in the configuration")
		}
		c.history, err = history.Connect(ctx, cfg.ClickHouse, log)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		source = c.history
	}

	c.svc = stream.NewService(stream.Config{
		Store:    st,
		Backfill: backfill.NewEngine(backfill.Config{Store: st, Source: source, Logger: log}),
		Logger:   log,
	})
	return c, nil
}

func (c *client) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = c.svc.Shutdown(ctx)
	if c.history != nil {
		_ = c.history.Close()
	}
	_ = c.store.Close()
}

func newStreamsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "streams",
		Short: "Inspect registered data streams",
	}

	var teamID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the streams of a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer c.Close()

			streams, err := c.svc.ListStreams(cmd.Context(), teamID)
			if err != nil {
				return err
			}
			if streams == nil {
				streams = []*models.DataStream{}
			}
			return printJSON(cmd, streams)
		},
	}
	list.Flags().StringVar(&teamID, "team", "", "Team id (required)")
	_ = list.MarkFlagRequired("team")

	get := &cobra.Command{
		Use:   "get <stream-id>",
		Short: "Show one stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer c.Close()

			s, err := c.svc.GetStream(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}

	stats := &cobra.Command{
		Use:   "stats <stream-id>",
		Short: "Show delivery statistics of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer c.Close()

			s, err := c.svc.GetStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}

	publish := &cobra.Command{
		Use:   "publish <events.ndjson>",
		Short: "Route events to the queues of their team's active streams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := readEventsFile(cmd, args[0])
			if err != nil {
				return err
			}
			c, err := openClient(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer c.Close()

			routed, skipped := 0, 0
			for _, e := range events {
				n, err := c.svc.Publish(cmd.Context(), e)
				if err != nil {
					skipped++
					continue
				}
				routed += n
			}
			return printJSON(cmd, map[string]int{"read": len(events), "enqueued": routed, "skipped": skipped})
		},
	}

	cmd.AddCommand(list, get, stats, publish)
	return cmd
}

func newBackfillCommand(configPath *string) *cobra.Command {
	var start, end string
	var showProgress bool
	var poll time.Duration

	cmd := &cobra.Command{
		Use:   "backfill <stream-id>",
		Short: "Replay historical clicks from ClickHouse through a stream's destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := backfillRequest(start, end)
			if err != nil {
				return err
			}

			c, err := openClient(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}
			defer c.Close()

			job, err := c.svc.CreateBackfill(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			// The job runs in this process, so the command waits for it.
			for !job.Finished() {
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(poll):
				}
				if job, err = c.svc.GetBackfillJob(cmd.Context(), job.ID); err != nil {
					return err
				}
				if showProgress {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %.0f%% (%d/%d)\n",
						job.ID, job.Status, job.Progress, job.ProcessedEvents, job.TotalEvents)
				}
			}
			if err := printJSON(cmd, job); err != nil {
				return err
			}
			if job.Status == models.BackfillFailed {
				return fmt.Errorf("backfill %s failed: %s", job.ID, job.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Range start, RFC 3339 or YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&end, "end", "", "Range end, RFC 3339 or YYYY-MM-DD (required)")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Print progress while the job runs")
	cmd.Flags().DurationVar(&poll, "poll-interval", time.Second, "Progress poll interval")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func backfillRequest(start, end string) (models.BackfillRequest, error) {
	from, err := parseDate(start)
	if err != nil {
		return models.BackfillRequest{}, fmt.Errorf("invalid --start: %w", err)
	}
	to, err := parseDate(end)
	if err != nil {
		return models.BackfillRequest{}, fmt.Errorf("invalid --end: %w", err)
	}
	return models.BackfillRequest{StartDate: from, EndDate: to}, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}
