// Package pipeline runs the live delivery path of a stream: a queue pump
// feeding a batch processor that filters, buffers and flushes events to
// the stream's connector.
//
// # Overview
//
// Each active stream owns one Processor. The processor:
//   - connects the stream's connector on Start
//   - waits on the next queued event or the batch interval, never polling
//   - drops events that fail the stream filters
//   - flushes when the buffer reaches batch_size or the interval elapses
//   - retries a failed flush with the stream's backoff policy
//   - moves the stream to error status once retries are exhausted
//
// Stop drains: it sends whatever is buffered exactly once, without retry,
// then disconnects. Pause stops dequeuing but keeps the buffer; Resume
// carries on from the same buffer.
//
// # Basic Usage
//
//	p := pipeline.NewProcessor(pipeline.Config{
//	    Stream:    stream,
//	    Connector: conn,
//	    Queue:     queue,
//	    Reporter:  reporter,
//	})
//	if err := p.Start(ctx); err != nil {
//	    return err
//	}
//	defer p.Stop(ctx)
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/internal/store"
	"github.com/ajitpratap0/datastream/pkg/connector/base"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/logger"
	"github.com/ajitpratap0/datastream/pkg/metrics"
	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/observability"
)

// State is the lifecycle state of a Processor.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

const (
	defaultPopTimeout        = time.Second
	defaultFinalFlushTimeout = 30 * time.Second
	bookkeepingTimeout       = 5 * time.Second
)

// Reporter receives a processor's delivery stats and its error
// transition.
type Reporter interface {
	RecordDelivery(ctx context.Context, streamID string, d store.Delivery) error
	MarkError(ctx context.Context, streamID, message string) error
}

// Config contains processor configuration
type Config struct {
	// Stream is the snapshot the processor runs with. Restart the processor
	// to pick up changes.
	Stream    *models.DataStream
	Connector core.Connector
	Queue     store.Queue
	Reporter  Reporter

	// PopTimeout bounds one blocking queue pop (default 1s).
	PopTimeout time.Duration
	// FinalFlushTimeout bounds the drain flush on Stop (default 30s).
	FinalFlushTimeout time.Duration
	// Paused starts the processor without dequeuing.
	Paused bool

	Logger *zap.Logger
}

// Processor is the batch processor of one stream.
type Processor struct {
	stream            *models.DataStream
	connector         core.Connector
	queue             store.Queue
	reporter          Reporter
	popTimeout        time.Duration
	finalFlushTimeout time.Duration
	logger            *zap.Logger
	dest              string

	mu      sync.Mutex
	state   State
	paused  bool
	lastErr string
	wake    chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	// buffer is owned by the run goroutine.
	buffer []*models.Event
}

// NewProcessor creates a processor. Call Start to connect and run it.
func NewProcessor(cfg Config) *Processor {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = defaultPopTimeout
	}
	if cfg.FinalFlushTimeout <= 0 {
		cfg.FinalFlushTimeout = defaultFinalFlushTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}

	ctx, cancel := context.WithCancel(logger.ContextWithStream(context.Background(), cfg.Stream.ID, cfg.Stream.TeamID))
	dest := string(cfg.Connector.Type())
	log := cfg.Logger.With(
		zap.String("component", "processor"),
		zap.String("stream_id", cfg.Stream.ID),
		zap.String("team_id", cfg.Stream.TeamID),
		zap.String("destination", dest))

	return &Processor{
		stream:            cfg.Stream,
		connector:         cfg.Connector,
		queue:             cfg.Queue,
		reporter:          cfg.Reporter,
		popTimeout:        cfg.PopTimeout,
		finalFlushTimeout: cfg.FinalFlushTimeout,
		logger:            log,
		dest:              dest,
		state:             StateStarting,
		paused:            cfg.Paused,
		wake:              make(chan struct{}, 1),
		ctx:               ctx,
		cancel:            cancel,
		stopCh:            make(chan struct{}),
		done:              make(chan struct{}),
		buffer:            make([]*models.Event, 0, cfg.Stream.Delivery.EffectiveBatchSize()),
	}
}

// Start connects the connector and launches the processor. A connect
// failure leaves the processor in StateError and is returned.
func (p *Processor) Start(ctx context.Context) error {
	if err := p.connector.Connect(ctx); err != nil {
		var typed *errors.Error
		if !errors.As(err, &typed) {
			err = errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to "+p.dest)
		}
		p.mu.Lock()
		p.state = StateError
		p.lastErr = errors.Describe(err)
		p.mu.Unlock()
		p.cancel()
		close(p.done)
		p.logger.Error("connector failed to connect", zap.Error(err))
		return err
	}

	p.mu.Lock()
	if p.paused {
		p.state = StatePaused
	} else {
		p.state = StateRunning
	}
	p.mu.Unlock()

	events := make(chan *models.Event)
	pumpCtx, stopPump := context.WithCancel(p.ctx)
	pumpDone := make(chan struct{})

	go p.pump(pumpCtx, events, pumpDone)
	go p.run(events, stopPump, pumpDone)

	p.logger.Info("processor started",
		zap.String("mode", string(p.stream.Delivery.Mode)),
		zap.Int("batch_size", p.stream.Delivery.EffectiveBatchSize()),
		zap.Int("batch_interval_seconds", p.stream.Delivery.BatchIntervalSeconds))
	return nil
}

// Pause stops dequeuing. Buffered events stay buffered.
func (p *Processor) Pause() {
	p.mu.Lock()
	p.paused = true
	if p.state == StateRunning {
		p.state = StatePaused
	}
	p.mu.Unlock()
	p.notify()
}

// Resume continues dequeuing after Pause.
func (p *Processor) Resume() {
	p.mu.Lock()
	p.paused = false
	if p.state == StatePaused {
		p.state = StateRunning
	}
	p.mu.Unlock()
	p.notify()
}

// Stop drains the processor: one final flush without retry, then
// disconnect. It waits for the drain to finish or ctx to expire, and is
// safe to call more than once.
func (p *Processor) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		// Interrupts retry backoff of an in-flight flush.
		p.cancel()
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the processor has stopped or failed.
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the message that moved the processor to StateError.
func (p *Processor) Err() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Processor) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Processor) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// pump moves events from the queue to out. An event it holds when
// cancelled goes back to the head of the queue.
func (p *Processor) pump(ctx context.Context, out chan<- *models.Event, done chan<- struct{}) {
	defer close(done)

	for {
		e, err := p.queue.Pop(ctx, p.stream.ID, p.popTimeout)
		if ctx.Err() != nil {
			if e != nil {
				p.requeue(e)
			}
			return
		}
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeData) {
				p.logger.Warn("dropping undecodable queued event", zap.Error(err))
				continue
			}
			p.logger.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.popTimeout):
			}
			continue
		}
		if e == nil {
			continue
		}

		select {
		case out <- e:
		case <-ctx.Done():
			p.requeue(e)
			return
		}
	}
}

func (p *Processor) requeue(e *models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	if err := p.queue.Requeue(ctx, p.stream.ID, e); err != nil {
		p.logger.Error("failed to requeue held event", zap.String("event_id", e.EventID), zap.Error(err))
	}
}

func (p *Processor) run(events <-chan *models.Event, stopPump context.CancelFunc, pumpDone <-chan struct{}) {
	defer close(p.done)
	metrics.ActiveProcessors.Inc()
	defer metrics.ActiveProcessors.Dec()

	batchSize := p.stream.Delivery.EffectiveBatchSize()
	interval := p.stream.Delivery.BatchInterval()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if p.isPaused() {
			select {
			case <-p.stopCh:
				p.drain(stopPump, pumpDone)
				return
			case <-p.wake:
				if !p.isPaused() {
					ticker.Reset(interval)
				}
			}
			continue
		}

		select {
		case <-p.stopCh:
			p.drain(stopPump, pumpDone)
			return

		case <-p.wake:
			// Re-evaluated at the top of the loop.

		case e := <-events:
			if !Matches(p.stream.Filters, e) {
				metrics.EventsFiltered.WithLabelValues(p.dest).Inc()
				continue
			}
			p.buffer = append(p.buffer, e)
			if len(p.buffer) >= batchSize {
				if !p.flushOrFail(stopPump, pumpDone) {
					return
				}
				ticker.Reset(interval)
			}

		case <-ticker.C:
			if len(p.buffer) > 0 {
				p.logger.Debug("batch interval reached", zap.Int("events", len(p.buffer)))
				if !p.flushOrFail(stopPump, pumpDone) {
					return
				}
			}
		}
	}
}

// flushOrFail flushes the buffer and reports whether the run loop should
// continue.
func (p *Processor) flushOrFail(stopPump context.CancelFunc, pumpDone <-chan struct{}) bool {
	err := p.flush(p.ctx)
	if err == nil {
		return true
	}
	if p.ctx.Err() != nil {
		// Stop interrupted the retries; the batch is still buffered.
		p.drain(stopPump, pumpDone)
		return false
	}
	p.fail(err, stopPump, pumpDone)
	return false
}

// flush sends the buffer under the stream's retry policy.
func (p *Processor) flush(ctx context.Context) error {
	batch := p.buffer
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "pipeline.flush",
		attribute.String("stream_id", p.stream.ID),
		attribute.String("destination", p.dest),
		attribute.Int("events", len(batch)))

	policy := base.FromDelivery(p.stream.Delivery)
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.Retries.WithLabelValues(p.dest).Inc()
		p.logger.Warn("flush failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Int("events", len(batch)),
			zap.Error(err))
	}

	var sent int
	err := policy.Do(ctx, func() error {
		n, err := p.connector.Send(ctx, batch)
		if err != nil {
			return err
		}
		sent = n
		return nil
	})
	elapsed := time.Since(start)
	metrics.FlushDuration.WithLabelValues(p.dest).Observe(elapsed.Seconds())
	span.End(err)
	if err != nil {
		return err
	}

	p.complete(batch, sent, elapsed, nil)
	return nil
}

// complete books a finished send of batch and empties the buffer.
func (p *Processor) complete(batch []*models.Event, sent int, elapsed time.Duration, sendErr error) {
	if sent < 0 {
		sent = 0
	}
	if sent > len(batch) {
		sent = len(batch)
	}
	d := store.Delivery{
		Sent:    sent,
		Failed:  len(batch) - sent,
		Bytes:   EncodedSize(batch[:sent]),
		Latency: elapsed,
		At:      time.Now().UTC(),
	}
	if sendErr != nil {
		d.Error = errors.Describe(sendErr)
	}
	p.record(d)
	metrics.ObserveFlush(p.dest, d.Sent, d.Failed, d.Bytes)

	p.logger.Debug("flush complete",
		zap.Int("sent", d.Sent),
		zap.Int("failed", d.Failed),
		zap.Duration("latency", elapsed))
	p.buffer = make([]*models.Event, 0, cap(p.buffer))
}

// fail counts the buffer as failed once, moves the stream to error and
// shuts the processor down.
func (p *Processor) fail(err error, stopPump context.CancelFunc, pumpDone <-chan struct{}) {
	msg := errors.Describe(err)
	failed := len(p.buffer)

	p.logger.Error("flush retries exhausted, stopping stream",
		zap.Int("events_failed", failed),
		zap.Int("max_retries", p.stream.Delivery.MaxRetries),
		zap.Error(err))

	p.record(store.Delivery{Failed: failed, Error: msg, At: time.Now().UTC()})
	metrics.ObserveFlush(p.dest, 0, failed, 0)
	metrics.StreamErrors.WithLabelValues(p.dest).Inc()
	p.buffer = nil

	p.mu.Lock()
	p.lastErr = msg
	p.mu.Unlock()

	if p.reporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
		if err := p.reporter.MarkError(ctx, p.stream.ID, msg); err != nil {
			p.logger.Error("failed to mark stream as errored", zap.Error(err))
		}
		cancel()
	}

	stopPump()
	<-pumpDone
	p.disconnect()
	p.setState(StateError)
}

// drain performs the single best-effort final flush and disconnects.
func (p *Processor) drain(stopPump context.CancelFunc, pumpDone <-chan struct{}) {
	p.setState(StateDraining)
	stopPump()
	<-pumpDone

	if len(p.buffer) > 0 {
		batch := p.buffer
		ctx, cancel := context.WithTimeout(logger.ContextWithStream(context.Background(), p.stream.ID, p.stream.TeamID), p.finalFlushTimeout)
		start := time.Now()
		n, err := p.connector.Send(ctx, batch)
		cancel()

		if err != nil {
			p.logger.Warn("final flush failed", zap.Int("events", len(batch)), zap.Error(err))
			n = 0
		} else {
			p.logger.Info("final flush complete", zap.Int("events", n))
		}
		p.complete(batch, n, time.Since(start), err)
	}

	p.disconnect()
	p.setState(StateStopped)
	p.logger.Info("processor stopped")
}

func (p *Processor) disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	if err := p.connector.Disconnect(ctx); err != nil {
		p.logger.Warn("disconnect failed", zap.Error(err))
	}
}

func (p *Processor) record(d store.Delivery) {
	if p.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	if err := p.reporter.RecordDelivery(ctx, p.stream.ID, d); err != nil {
		p.logger.Warn("failed to record stats", zap.Error(err))
	}
}

// EncodedSize is the JSON size of events, the byte count reported in
// stream stats.
func EncodedSize(events []*models.Event) int64 {
	if len(events) == 0 {
		return 0
	}
	data, err := json.Marshal(events)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
