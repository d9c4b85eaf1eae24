// Package stream is the stream registry and event router. It owns the
// stream records, one batch processor per running stream, and the fan-out
// of published events onto per-stream queues.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/internal/backfill"
	"github.com/ajitpratap0/datastream/internal/pipeline"
	"github.com/ajitpratap0/datastream/internal/store"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/logger"
	"github.com/ajitpratap0/datastream/pkg/metrics"
	"github.com/ajitpratap0/datastream/pkg/models"
)

const (
	defaultStopTimeout   = 30 * time.Second
	defaultDepthInterval = 15 * time.Second
)

// Config contains service configuration
type Config struct {
	Store *store.Store
	Queue store.Queue
	// Backfill runs backfill jobs. Without it CreateBackfill fails with a
	// config error.
	Backfill *backfill.Engine
	// Factory builds connectors. Defaults to registry.Create.
	Factory core.Factory

	PopTimeout    time.Duration
	StopTimeout   time.Duration
	DepthInterval time.Duration

	Logger *zap.Logger
}

// Service manages streams and routes events to them.
type Service struct {
	store         *store.Store
	queue         store.Queue
	backfill      *backfill.Engine
	factory       core.Factory
	popTimeout    time.Duration
	stopTimeout   time.Duration
	depthInterval time.Duration
	logger        *zap.Logger

	// lifecycle serializes operations that start or stop processors.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	processors map[string]*pipeline.Processor

	sampler chan struct{}
	wg      sync.WaitGroup
}

// NewService creates a service. Call Start to restore processors of
// persisted streams.
func NewService(cfg Config) *Service {
	if cfg.Factory == nil {
		cfg.Factory = registry.Create
	}
	if cfg.Queue == nil {
		cfg.Queue = cfg.Store.Queue()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = defaultDepthInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}

	return &Service{
		store:         cfg.Store,
		queue:         cfg.Queue,
		backfill:      cfg.Backfill,
		factory:       cfg.Factory,
		popTimeout:    cfg.PopTimeout,
		stopTimeout:   cfg.StopTimeout,
		depthInterval: cfg.DepthInterval,
		logger:        cfg.Logger.With(zap.String("component", "stream_service")),
		processors:    make(map[string]*pipeline.Processor),
	}
}

// Start restores processors for persisted streams: active streams run,
// paused streams get a processor that waits for ResumeStream.
func (s *Service) Start(ctx context.Context) error {
	ids, err := s.store.AllStreamIDs(ctx)
	if err != nil {
		return err
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	restored := 0
	for _, id := range ids {
		stream, err := s.store.GetStream(ctx, id)
		if err != nil {
			s.logger.Warn("skipping unreadable stream", zap.String("stream_id", id), zap.Error(err))
			continue
		}

		switch stream.Status {
		case models.StreamStatusActive, models.StreamStatusPaused:
			paused := stream.Status == models.StreamStatusPaused
			if err := s.startProcessor(ctx, stream, paused); err != nil {
				s.markStartFailure(ctx, stream, err)
				continue
			}
			restored++
		}
	}

	s.sampler = make(chan struct{})
	s.wg.Add(1)
	go s.sampleQueueDepth(s.sampler)

	s.logger.Info("stream service started", zap.Int("streams", len(ids)), zap.Int("processors", restored))
	return nil
}

// Shutdown drains every processor and waits for running backfill jobs.
// Stream statuses are left as they are so Start restores them.
func (s *Service) Shutdown(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.sampler != nil {
		close(s.sampler)
		s.sampler = nil
	}
	s.wg.Wait()

	s.mu.Lock()
	processors := s.processors
	s.processors = make(map[string]*pipeline.Processor)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for id, p := range processors {
		wg.Add(1)
		go func(id string, p *pipeline.Processor) {
			defer wg.Done()
			if err := p.Stop(ctx); err != nil {
				s.logger.Warn("processor did not drain before shutdown deadline", zap.String("stream_id", id), zap.Error(err))
			}
		}(id, p)
	}
	wg.Wait()

	if s.backfill != nil {
		if err := s.backfill.Shutdown(ctx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "backfill jobs did not finish before shutdown deadline")
		}
	}
	s.logger.Info("stream service stopped", zap.Int("processors", len(processors)))
	return nil
}

// CreateStream validates def, persists an active stream and starts its
// processor. A connector that cannot connect leaves the stream in error
// status; the stream is still returned.
func (s *Service) CreateStream(ctx context.Context, teamID string, def models.StreamDefinition) (*models.DataStream, error) {
	if teamID == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "team_id is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stream := &models.DataStream{
		ID:           uuid.NewString(),
		TeamID:       teamID,
		Name:         def.Name,
		Description:  def.Description,
		Destination:  def.Destination,
		Schema:       def.Schema,
		Filters:      def.Filters,
		Partitioning: def.Partitioning,
		Delivery:     def.Delivery,
		Status:       models.StreamStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if err := s.store.SaveStream(ctx, stream); err != nil {
		return nil, err
	}
	if err := s.startProcessor(ctx, stream, false); err != nil {
		s.markStartFailure(ctx, stream, err)
	}

	s.logger.Info("stream created",
		zap.String("stream_id", stream.ID),
		zap.String("team_id", teamID),
		zap.String("destination", string(stream.Destination.Type)),
		zap.String("status", string(stream.Status)))
	return stream, nil
}

// GetStream loads a stream, including soft-deleted ones. LastSyncAt is
// the time of the last successful delivery.
func (s *Service) GetStream(ctx context.Context, id string) (*models.DataStream, error) {
	stream, err := s.store.GetStream(ctx, id)
	if err != nil {
		return nil, err
	}
	if stats, err := s.store.GetStats(ctx, id, time.Now().UTC()); err == nil && stats.LastEventAt != nil {
		stream.LastSyncAt = stats.LastEventAt
	}
	return stream, nil
}

// ListStreams returns the team's streams that are not deleted, oldest
// first.
func (s *Service) ListStreams(ctx context.Context, teamID string) ([]*models.DataStream, error) {
	return s.store.ListTeamStreams(ctx, teamID)
}

// UpdateStream applies u and persists the result. A running processor is
// drained and restarted with the new definition; a paused one is
// restarted paused.
func (s *Service) UpdateStream(ctx context.Context, id string, u models.StreamUpdate) (*models.DataStream, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	stream, err := s.store.GetStream(ctx, id)
	if err != nil {
		return nil, err
	}
	if stream.Status == models.StreamStatusDeleted {
		return nil, errors.Newf(errors.ErrorTypeConflict, "stream %s is deleted", id)
	}

	u.Apply(stream)
	def := stream.Definition()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	// The old processor is drained before the save so a failure it reports
	// cannot land on top of the restarted stream.
	restart := stream.Status == models.StreamStatusActive || stream.Status == models.StreamStatusPaused
	if restart {
		s.stopProcessor(id)
	}

	stream.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveStream(ctx, stream); err != nil {
		return nil, err
	}

	if restart {
		if err := s.startProcessor(ctx, stream, stream.Status == models.StreamStatusPaused); err != nil {
			s.markStartFailure(ctx, stream, err)
		}
	}

	s.logger.Info("stream updated", zap.String("stream_id", id), zap.String("status", string(stream.Status)))
	return stream, nil
}

// DeleteStream drains the stream's processor, discards its queue and
// marks it deleted. The record and its stats are kept.
func (s *Service) DeleteStream(ctx context.Context, id string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	stream, err := s.store.GetStream(ctx, id)
	if err != nil {
		return err
	}
	if stream.Status == models.StreamStatusDeleted {
		return nil
	}

	s.stopProcessor(id)

	stream.SetStatus(models.StreamStatusDeleted, "")
	stream.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveStream(ctx, stream); err != nil {
		return err
	}
	if err := s.queue.Purge(ctx, id); err != nil {
		s.logger.Warn("failed to purge queue of deleted stream", zap.String("stream_id", id), zap.Error(err))
	}
	metrics.QueueDepth.DeleteLabelValues(id)

	s.logger.Info("stream deleted", zap.String("stream_id", id))
	return nil
}

// PauseStream stops dequeuing for an active stream. Queued and buffered
// events are kept for ResumeStream.
func (s *Service) PauseStream(ctx context.Context, id string) (*models.DataStream, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	stream, err := s.store.GetStream(ctx, id)
	if err != nil {
		return nil, err
	}
	if stream.Status != models.StreamStatusActive {
		return nil, errors.Newf(errors.ErrorTypeConflict, "stream %s is %s; only active streams can be paused", id, stream.Status)
	}

	if p := s.processor(id); p != nil {
		p.Pause()
	}
	stream.SetStatus(models.StreamStatusPaused, "")
	stream.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveStream(ctx, stream); err != nil {
		return nil, err
	}

	s.logger.Info("stream paused", zap.String("stream_id", id))
	return stream, nil
}

// ResumeStream continues a paused stream, or restarts a stream in error
// status with a fresh processor. Resuming an active stream is a no-op.
func (s *Service) ResumeStream(ctx context.Context, id string) (*models.DataStream, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	stream, err := s.store.GetStream(ctx, id)
	if err != nil {
		return nil, err
	}

	switch stream.Status {
	case models.StreamStatusActive:
		return stream, nil
	case models.StreamStatusDeleted:
		return nil, errors.Newf(errors.ErrorTypeConflict, "stream %s is deleted", id)
	}

	previous := stream.Status
	stream.SetStatus(models.StreamStatusActive, "")
	stream.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveStream(ctx, stream); err != nil {
		return nil, err
	}

	p := s.processor(id)
	if previous == models.StreamStatusPaused && p != nil && p.State() == pipeline.StatePaused {
		p.Resume()
	} else {
		s.stopProcessor(id)
		if err := s.startProcessor(ctx, stream, false); err != nil {
			s.markStartFailure(ctx, stream, err)
		}
	}

	s.logger.Info("stream resumed",
		zap.String("stream_id", id),
		zap.String("from", string(previous)),
		zap.String("status", string(stream.Status)))
	return stream, nil
}

// TestConnection checks the stream's destination with a throwaway
// connector.
func (s *Service) TestConnection(ctx context.Context, id string) (*models.TestConnectionResult, error) {
	stream, err := s.store.GetStream(ctx, id)
	if err != nil {
		return nil, err
	}
	return TestDestination(ctx, s.factory, stream.ID, stream.Definition()), nil
}

// TestDestination builds a connector for def and checks it. Failures,
// including an unbuildable connector, are reported in the result.
func TestDestination(ctx context.Context, factory core.Factory, streamID string, def models.StreamDefinition) *models.TestConnectionResult {
	conn, err := factory(core.Config{
		StreamID:     streamID,
		Destination:  def.Destination,
		Schema:       def.Schema,
		Partitioning: def.Partitioning,
	})
	if err != nil {
		return &models.TestConnectionResult{Success: false, Message: errors.Describe(err)}
	}
	return conn.TestConnection(ctx)
}

// GetStats returns delivery counters for the stream.
func (s *Service) GetStats(ctx context.Context, id string) (*models.StreamStats, error) {
	if _, err := s.store.GetStream(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetStats(ctx, id, time.Now().UTC())
}

// CreateBackfill starts a historical replay through the stream's
// connector.
func (s *Service) CreateBackfill(ctx context.Context, id string, req models.BackfillRequest) (*models.BackfillJob, error) {
	if s.backfill == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "backfill is not configured")
	}
	stream, err := s.store.GetStream(ctx, id)
	if err != nil {
		return nil, err
	}
	if stream.Status == models.StreamStatusDeleted {
		return nil, errors.Newf(errors.ErrorTypeConflict, "stream %s is deleted", id)
	}
	return s.backfill.Create(ctx, stream, req)
}

// GetBackfillJob loads a backfill job.
func (s *Service) GetBackfillJob(ctx context.Context, jobID string) (*models.BackfillJob, error) {
	return s.store.GetBackfillJob(ctx, jobID)
}

// ValidateDestinationConfig checks dest without creating anything.
func (s *Service) ValidateDestinationConfig(dest models.Destination) models.ValidationResult {
	return models.ValidateDestination(dest)
}

// Publish enqueues e onto the queue of every active stream of its team and
// returns how many streams accepted it. It never waits on a processor; a
// full queue drops the event for that stream only.
func (s *Service) Publish(ctx context.Context, e *models.Event) (int, error) {
	if e == nil || e.TeamID == "" {
		metrics.EventsPublished.WithLabelValues("invalid").Inc()
		return 0, errors.New(errors.ErrorTypeValidation, "event team_id is required")
	}

	ids, err := s.store.TeamStreamIDs(ctx, e.TeamID)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, id := range ids {
		stream, err := s.store.GetStream(ctx, id)
		if err != nil {
			s.logger.Warn("router skipped unreadable stream", zap.String("stream_id", id), zap.Error(err))
			continue
		}
		if stream.Status != models.StreamStatusActive {
			continue
		}

		if err := s.queue.Push(ctx, id, e); err != nil {
			outcome := "error"
			if errors.Is(err, store.ErrQueueFull) {
				outcome = "dropped"
			}
			metrics.EventsPublished.WithLabelValues(outcome).Inc()
			s.logger.Warn("failed to enqueue event",
				zap.String("stream_id", id),
				zap.String("event_id", e.EventID),
				zap.Error(err))
			continue
		}
		metrics.EventsPublished.WithLabelValues("enqueued").Inc()
		enqueued++
	}
	return enqueued, nil
}

// RecordDelivery implements pipeline.Reporter.
func (s *Service) RecordDelivery(ctx context.Context, streamID string, d store.Delivery) error {
	return s.store.RecordDelivery(ctx, streamID, d)
}

// MarkError implements pipeline.Reporter. Only an active stream moves to
// error; a stream paused, deleted or restarted meanwhile keeps its status.
// The check and write are one optimistic transaction.
func (s *Service) MarkError(ctx context.Context, streamID, message string) error {
	saved, err := s.store.UpdateStream(ctx, streamID, func(stream *models.DataStream) bool {
		if stream.Status != models.StreamStatusActive {
			return false
		}
		stream.SetStatus(models.StreamStatusError, message)
		stream.UpdatedAt = time.Now().UTC()
		return true
	})
	if err != nil {
		return err
	}
	if saved {
		s.logger.Error("stream moved to error", zap.String("stream_id", streamID), zap.String("error", message))
	}
	return nil
}

// processorReporter ties error reports to the processor that made them. A
// processor that has been stopped or replaced no longer owns the stream's
// status.
type processorReporter struct {
	svc   *Service
	owner *pipeline.Processor
}

func (r *processorReporter) RecordDelivery(ctx context.Context, streamID string, d store.Delivery) error {
	return r.svc.RecordDelivery(ctx, streamID, d)
}

func (r *processorReporter) MarkError(ctx context.Context, streamID, message string) error {
	if r.svc.processor(streamID) != r.owner {
		r.svc.logger.Warn("ignoring failure of a replaced processor",
			zap.String("stream_id", streamID), zap.String("error", message))
		return nil
	}
	return r.svc.MarkError(ctx, streamID, message)
}

// State returns the processor state of a stream, or false when no
// processor is registered.
func (s *Service) State(id string) (pipeline.State, bool) {
	p := s.processor(id)
	if p == nil {
		return "", false
	}
	return p.State(), true
}

func (s *Service) processor(id string) *pipeline.Processor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processors[id]
}

// startProcessor runs a processor on a snapshot of stream. Callers hold
// the lifecycle lock.
func (s *Service) startProcessor(ctx context.Context, stream *models.DataStream, paused bool) error {
	conn, err := s.factory(core.Config{
		StreamID:     stream.ID,
		Destination:  stream.Destination,
		Schema:       stream.Schema,
		Partitioning: stream.Partitioning,
	})
	if err != nil {
		return err
	}

	snapshot := *stream
	reporter := &processorReporter{svc: s}
	p := pipeline.NewProcessor(pipeline.Config{
		Stream:     &snapshot,
		Connector:  conn,
		Queue:      s.queue,
		Reporter:   reporter,
		PopTimeout: s.popTimeout,
		Paused:     paused,
		Logger:     s.logger,
	})
	reporter.owner = p

	s.mu.Lock()
	s.processors[stream.ID] = p
	s.mu.Unlock()
	if err := p.Start(ctx); err != nil {
		s.mu.Lock()
		delete(s.processors, stream.ID)
		s.mu.Unlock()
		return err
	}
	return nil
}

// stopProcessor drains and forgets the stream's processor. Callers hold
// the lifecycle lock.
func (s *Service) stopProcessor(id string) {
	s.mu.Lock()
	p := s.processors[id]
	delete(s.processors, id)
	s.mu.Unlock()
	if p == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		s.logger.Warn("processor did not drain in time", zap.String("stream_id", id), zap.Error(err))
	}
}

func (s *Service) markStartFailure(ctx context.Context, stream *models.DataStream, err error) {
	msg := errors.Describe(err)
	s.logger.Error("failed to start stream processor", zap.String("stream_id", stream.ID), zap.Error(err))
	metrics.StreamErrors.WithLabelValues(string(stream.Destination.Type)).Inc()

	stream.SetStatus(models.StreamStatusError, msg)
	stream.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveStream(ctx, stream); err != nil {
		s.logger.Error("failed to save stream error status", zap.String("stream_id", stream.ID), zap.Error(err))
	}
}

func (s *Service) sampleQueueDepth(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.depthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.RLock()
			ids := make([]string, 0, len(s.processors))
			for id := range s.processors {
				ids = append(ids, id)
			}
			s.mu.RUnlock()

			for _, id := range ids {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				n, err := s.queue.Len(ctx, id)
				cancel()
				if err == nil {
					metrics.QueueDepth.WithLabelValues(id).Set(float64(n))
				}
			}
		}
	}
}
