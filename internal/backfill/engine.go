// Package backfill replays archived events through a stream's connector.
//
// A job reads one closed time range from the historical store, applies
// the stream's filters (optionally overridden per job), and sends the
// matching events in chunks of the stream's batch_size. Progress is saved
// after every chunk. A failed job never touches the stream's live status.
package backfill

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/internal/history"
	"github.com/ajitpratap0/datastream/internal/pipeline"
	"github.com/ajitpratap0/datastream/internal/store"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/logger"
	"github.com/ajitpratap0/datastream/pkg/metrics"
	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/observability"
)

const saveTimeout = 5 * time.Second

// JobStore persists jobs and the stream stats a job contributes to.
type JobStore interface {
	SaveBackfillJob(ctx context.Context, job *models.BackfillJob) error
	GetBackfillJob(ctx context.Context, id string) (*models.BackfillJob, error)
	RecordDelivery(ctx context.Context, streamID string, d store.Delivery) error
}

// Config contains engine configuration
type Config struct {
	Store  JobStore
	Source history.Source
	// Factory builds the connector of a job. Defaults to registry.Create.
	Factory core.Factory
	Logger  *zap.Logger
}

// Engine runs backfill jobs, one goroutine per job.
type Engine struct {
	store   JobStore
	source  history.Source
	factory core.Factory
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine. A nil Source is allowed; Create then
// rejects every request.
func NewEngine(cfg Config) *Engine {
	if cfg.Factory == nil {
		cfg.Factory = registry.Create
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:   cfg.Store,
		source:  cfg.Source,
		factory: cfg.Factory,
		logger:  cfg.Logger.With(zap.String("component", "backfill")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Create saves a pending job for stream and starts it in the background.
// The returned job is the pending record.
func (e *Engine) Create(ctx context.Context, stream *models.DataStream, req models.BackfillRequest) (*models.BackfillJob, error) {
	if e.source == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "historical store is not configured")
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return nil, errors.New(errors.ErrorTypeValidation, "start_date and end_date are required")
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, errors.New(errors.ErrorTypeValidation, "end_date must not be before start_date")
	}
	if req.Filters != nil && len(req.Filters.TeamIDs) > 0 && !slices.Contains(req.Filters.TeamIDs, stream.TeamID) {
		return nil, errors.Newf(errors.ErrorTypeValidation, "filters.team_ids must include the stream's team %s", stream.TeamID)
	}

	job := &models.BackfillJob{
		ID:        uuid.NewString(),
		StreamID:  stream.ID,
		Status:    models.BackfillPending,
		StartDate: req.StartDate.UTC(),
		EndDate:   req.EndDate.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.SaveBackfillJob(ctx, job); err != nil {
		return nil, err
	}
	metrics.BackfillJobs.WithLabelValues(string(models.BackfillPending)).Inc()

	snapshot := *stream
	filters := pipeline.Override(stream.Filters, req.Filters)
	running := *job

	e.wg.Add(1)
	go e.run(&running, &snapshot, filters)

	e.logger.Info("backfill job created",
		zap.String("job_id", job.ID),
		zap.String("stream_id", stream.ID),
		zap.Time("start_date", job.StartDate),
		zap.Time("end_date", job.EndDate))
	return job, nil
}

// Get loads a job.
func (e *Engine) Get(ctx context.Context, id string) (*models.BackfillJob, error) {
	return e.store.GetBackfillJob(ctx, id)
}

// Shutdown cancels running jobs and waits for them to record their final
// state, or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(job *models.BackfillJob, stream *models.DataStream, filters models.Filters) {
	defer e.wg.Done()

	ctx := logger.ContextWithStream(e.ctx, stream.ID, stream.TeamID)
	ctx = context.WithValue(ctx, logger.JobIDKey, job.ID)
	log := e.logger.With(zap.String("job_id", job.ID), zap.String("stream_id", stream.ID))

	started := time.Now().UTC()
	job.StartedAt = &started

	if err := e.execute(ctx, job, stream, filters, log); err != nil {
		finished := time.Now().UTC()
		job.Status = models.BackfillFailed
		job.ErrorMessage = errors.Describe(err)
		job.CompletedAt = &finished
		e.save(job)
		metrics.BackfillJobs.WithLabelValues(string(models.BackfillFailed)).Inc()
		log.Error("backfill job failed",
			zap.Int64("processed_events", job.ProcessedEvents),
			zap.Int64("total_events", job.TotalEvents),
			zap.Error(err))
		return
	}

	finished := time.Now().UTC()
	job.Status = models.BackfillCompleted
	job.Progress = 100
	job.CompletedAt = &finished
	e.save(job)
	metrics.BackfillJobs.WithLabelValues(string(models.BackfillCompleted)).Inc()
	log.Info("backfill job completed",
		zap.Int64("total_events", job.TotalEvents),
		zap.Duration("duration", finished.Sub(started)))
}

// execute queries and filters the range while the job is still pending, so
// total_events is final in the first processing save.
func (e *Engine) execute(ctx context.Context, job *models.BackfillJob, stream *models.DataStream, filters models.Filters, log *zap.Logger) error {
	conn, err := e.factory(core.Config{
		StreamID:     stream.ID,
		Destination:  stream.Destination,
		Schema:       stream.Schema,
		Partitioning: stream.Partitioning,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackfill, "failed to create connector")
	}
	if err := conn.Connect(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackfill, "failed to connect to "+string(stream.Destination.Type))
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := conn.Disconnect(dctx); err != nil {
			log.Warn("disconnect failed", zap.Error(err))
		}
	}()

	events, err := e.source.QueryEvents(ctx, queryFor(job, stream, filters))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackfill, "historical query failed")
	}
	events = pipeline.FilterEvents(filters, events)

	job.TotalEvents = int64(len(events))
	job.Status = models.BackfillProcessing
	e.save(job)

	batchSize := stream.Delivery.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	log.Info("backfill started",
		zap.Int64("total_events", job.TotalEvents),
		zap.Int("chunks", core.Chunks(len(events), batchSize)))

	for start := 0; start < len(events); start += batchSize {
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}
		if err := e.sendChunk(ctx, conn, stream, events[start:end]); err != nil {
			return err
		}

		job.ProcessedEvents = int64(end)
		job.Progress = progress(job.ProcessedEvents, job.TotalEvents)
		e.save(job)
	}
	return nil
}

func (e *Engine) sendChunk(ctx context.Context, conn core.Connector, stream *models.DataStream, chunk []*models.Event) error {
	ctx, span := observability.StartSpan(ctx, "backfill.chunk",
		attribute.String("stream_id", stream.ID),
		attribute.String("destination", string(conn.Type())),
		attribute.Int("events", len(chunk)))

	start := time.Now()
	n, err := conn.Send(ctx, chunk)
	span.End(err)
	if err != nil {
		e.record(stream.ID, store.Delivery{Failed: len(chunk), Error: errors.Describe(err), At: time.Now().UTC()})
		return errors.Wrap(err, errors.ErrorTypeBackfill, "chunk delivery failed")
	}
	if n > len(chunk) {
		n = len(chunk)
	}
	if n < 0 {
		n = 0
	}

	e.record(stream.ID, store.Delivery{
		Sent:    n,
		Failed:  len(chunk) - n,
		Bytes:   pipeline.EncodedSize(chunk[:n]),
		Latency: time.Since(start),
		At:      time.Now().UTC(),
	})
	metrics.BackfillEvents.Add(float64(n))
	return nil
}

func (e *Engine) save(job *models.BackfillJob) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := e.store.SaveBackfillJob(ctx, job); err != nil {
		e.logger.Error("failed to save backfill job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (e *Engine) record(streamID string, d store.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := e.store.RecordDelivery(ctx, streamID, d); err != nil {
		e.logger.Warn("failed to record backfill stats", zap.String("stream_id", streamID), zap.Error(err))
	}
}

// queryFor always scopes the range to the stream's own team. A team_ids
// filter can only narrow that further, in process.
func queryFor(job *models.BackfillJob, stream *models.DataStream, filters models.Filters) history.Query {
	return history.Query{
		Start:   job.StartDate,
		End:     job.EndDate,
		TeamIDs: []string{stream.TeamID},
		LinkIDs: filters.LinkIDs,
	}
}

// progress stays below 100 until the job completes.
func progress(processed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := processed * 100 / total
	if p > 99 {
		p = 99
	}
	return float64(p)
}
