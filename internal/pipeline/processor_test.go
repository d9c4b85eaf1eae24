package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/internal/store"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

type fakeConnector struct {
	mu           sync.Mutex
	connectErr   error
	failAttempts func(attempt int) error
	attempts     int
	batches      [][]*models.Event
	disconnected bool
}

func (c *fakeConnector) Type() models.DestinationType { return models.DestinationHTTP }

func (c *fakeConnector) Connect(context.Context) error { return c.connectErr }

func (c *fakeConnector) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *fakeConnector) Send(_ context.Context, events []*models.Event) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.failAttempts != nil {
		if err := c.failAttempts(c.attempts); err != nil {
			return 0, err
		}
	}
	batch := make([]*models.Event, len(events))
	copy(batch, events)
	c.batches = append(c.batches, batch)
	return len(events), nil
}

func (c *fakeConnector) TestConnection(context.Context) *models.TestConnectionResult {
	return &models.TestConnectionResult{Success: true}
}

func (c *fakeConnector) batchSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sizes := make([]int, len(c.batches))
	for i, b := range c.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func (c *fakeConnector) sent() []*models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.Event
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func (c *fakeConnector) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *fakeConnector) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

type fakeReporter struct {
	mu         sync.Mutex
	deliveries []store.Delivery
	errors     []string
}

func (r *fakeReporter) RecordDelivery(_ context.Context, _ string, d store.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *fakeReporter) MarkError(_ context.Context, _ string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
	return nil
}

func (r *fakeReporter) totals() (sent, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.deliveries {
		sent += d.Sent
		failed += d.Failed
	}
	return sent, failed
}

func testStream(delivery models.Delivery, filters models.Filters) *models.DataStream {
	return &models.DataStream{
		ID:          "stream-1",
		TeamID:      "team-1",
		Name:        "test",
		Destination: models.Destination{Type: models.DestinationHTTP},
		Filters:     filters,
		Delivery:    delivery,
		Status:      models.StreamStatusActive,
	}
}

func batchDelivery(size, intervalSeconds int) models.Delivery {
	return models.Delivery{
		Mode:                 models.DeliveryModeBatch,
		BatchSize:            size,
		BatchIntervalSeconds: intervalSeconds,
		MaxRetries:           0,
		RetryBackoffSeconds:  0,
	}
}

func pushEvents(t *testing.T, q store.Queue, countries ...string) {
	t.Helper()
	for i, c := range countries {
		e := &models.Event{
			EventID:   fmt.Sprintf("e-%d-%s", i, c),
			TeamID:    "team-1",
			LinkID:    "link-1",
			Country:   c,
			Timestamp: time.Now().UTC(),
		}
		require.NoError(t, q.Push(context.Background(), "stream-1", e))
	}
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func newTestProcessor(stream *models.DataStream, conn *fakeConnector, q store.Queue, rep *fakeReporter) *Processor {
	return NewProcessor(Config{
		Stream:            stream,
		Connector:         conn,
		Queue:             q,
		Reporter:          rep,
		PopTimeout:        50 * time.Millisecond,
		FinalFlushTimeout: time.Second,
		Logger:            zap.NewNop(),
	})
}

func stopProcessor(t *testing.T, p *Processor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}

func TestProcessorFlushesOnSizeThenInterval(t *testing.T) {
	q := store.NewMemoryQueue(100)
	conn := &fakeConnector{}
	rep := &fakeReporter{}
	pushEvents(t, q, repeat("US", 7)...)

	p := newTestProcessor(testStream(batchDelivery(3, 1), models.Filters{}), conn, q, rep)
	require.NoError(t, p.Start(context.Background()))
	defer stopProcessor(t, p)

	assert.Eventually(t, func() bool {
		return len(conn.batchSizes()) == 3
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []int{3, 3, 1}, conn.batchSizes())

	sent, failed := rep.totals()
	assert.Equal(t, 7, sent)
	assert.Zero(t, failed)
}

func TestProcessorAppliesFilters(t *testing.T) {
	q := store.NewMemoryQueue(100)
	conn := &fakeConnector{}
	rep := &fakeReporter{}
	pushEvents(t, q, "US", "FR", "CA", "DE")

	stream := testStream(batchDelivery(2, 60), models.Filters{Countries: []string{"US", "CA"}})
	p := newTestProcessor(stream, conn, q, rep)
	require.NoError(t, p.Start(context.Background()))
	defer stopProcessor(t, p)

	assert.Eventually(t, func() bool {
		return len(conn.sent()) == 2
	}, 2*time.Second, 20*time.Millisecond)

	sent := conn.sent()
	assert.Equal(t, "US", sent[0].Country)
	assert.Equal(t, "CA", sent[1].Country)
}

func TestProcessorRealtimeSendsEachEvent(t *testing.T) {
	q := store.NewMemoryQueue(100)
	conn := &fakeConnector{}
	pushEvents(t, q, "US", "US", "US")

	d := batchDelivery(100, 60)
	d.Mode = models.DeliveryModeRealtime
	p := newTestProcessor(testStream(d, models.Filters{}), conn, q, &fakeReporter{})
	require.NoError(t, p.Start(context.Background()))
	defer stopProcessor(t, p)

	assert.Eventually(t, func() bool {
		return len(conn.batchSizes()) == 3
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []int{1, 1, 1}, conn.batchSizes())
}

func TestProcessorRetryExhaustionMarksError(t *testing.T) {
	q := store.NewMemoryQueue(100)
	conn := &fakeConnector{failAttempts: func(int) error {
		return errors.New(errors.ErrorTypeConnection, "connection refused")
	}}
	rep := &fakeReporter{}
	pushEvents(t, q, "US", "US")

	d := batchDelivery(2, 60)
	d.MaxRetries = 2
	p := newTestProcessor(testStream(d, models.Filters{}), conn, q, rep)
	require.NoError(t, p.Start(context.Background()))

	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("processor did not stop after exhausting retries")
	}

	assert.Equal(t, 3, conn.attemptCount())
	assert.Equal(t, StateError, p.State())
	assert.Contains(t, p.Err(), "connection refused")
	assert.True(t, conn.isDisconnected())

	sent, failed := rep.totals()
	assert.Zero(t, sent)
	assert.Equal(t, 2, failed)
	require.Len(t, rep.errors, 1)
	assert.Contains(t, rep.errors[0], "connection refused")
}

func TestProcessorWithoutReporterStopsOnFailure(t *testing.T) {
	q := store.NewMemoryQueue(100)
	conn := &fakeConnector{failAttempts: func(int) error {
		return errors.New(errors.ErrorTypeRejected, "payload rejected")
	}}
	pushEvents(t, q, "US")

	p := NewProcessor(Config{
		Stream:     testStream(batchDelivery(1, 60), models.Filters{}),
		Connector:  conn,
		Queue:      q,
		PopTimeout: 50 * time.Millisecond,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, p.Start(context.Background()))

	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("processor did not stop")
	}
	assert.Equal(t, StateError, p.State())
	assert.Contains(t, p.Err(), "payload rejected")
}

func TestProcessorTerminalErrorSkipsRetries(t *testing.T) {
	q := store.NewMemoryQueue(100)
	conn := &fakeConnector{failAttempts: func(int) error {
		return errors.New(errors.ErrorTypeRejected, "payload rejected")
	}}
	rep := &fakeReporter{}
	pushEvents(t, q, "US")

	d := batchDelivery(1, 60)
	d.MaxRetries = 5
	p := newTestProcessor(testStream(d, models.Filters{}), conn, q, rep)
	require.NoError(t, p.Start(context.Background()))

	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("processor did not stop on a terminal error")
	}
	assert.Equal(t, 1, conn.attemptCount())
	assert.Equal(t, StateError, p.State())
}

func TestProcessorPauseKeepsBuffer(t *testing.T) {
	q := store.NewMemoryQueue(100)
	conn := &fakeConnector{}
	pushEvents(t, q, repeat("US", 3)...)

	p := newTestProcessor(testStream(batchDelivery(10, 60), models.Filters{}), conn, q, &fakeReporter{})
	require.NoError(t, p.Start(context.Background()))
	defer stopProcessor(t, p)

	assert.Eventually(t, func() bool {
		n, _ := q.Len(context.Background(), "stream-1")
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)

	p.Pause()
	assert.Equal(t, StatePaused, p.State())
	pushEvents(t, q, repeat("FR", 2)...)
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, conn.batchSizes())

	p.Resume()
	assert.Equal(t, StateRunning, p.State())
	pushEvents(t, q, repeat("CA", 5)...)

	assert.Eventually(t, func() bool {
		return len(conn.batchSizes()) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []int{10}, conn.batchSizes())
}

func TestProcessorStartsPaused(t *testing.T) {
	q := store.NewMemoryQueue(100)
	conn := &fakeConnector{}
	pushEvents(t, q, repeat("US", 3)...)

	p := NewProcessor(Config{
		Stream:     testStream(batchDelivery(1, 60), models.Filters{}),
		Connector:  conn,
		Queue:      q,
		Reporter:   &fakeReporter{},
		PopTimeout: 50 * time.Millisecond,
		Paused:     true,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, p.Start(context.Background()))
	defer stopProcessor(t, p)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, conn.batchSizes())
	assert.Equal(t, StatePaused, p.State())

	p.Resume()
	assert.Eventually(t, func() bool {
		return len(conn.sent()) == 3
	}, 2*time.Second, 20*time.Millisecond)
}

func TestProcessorStopDrainsOnce(t *testing.T) {
	q := store.NewMemoryQueue(100)
	conn := &fakeConnector{}
	rep := &fakeReporter{}
	pushEvents(t, q, repeat("US", 4)...)

	p := newTestProcessor(testStream(batchDelivery(10, 60), models.Filters{}), conn, q, rep)
	require.NoError(t, p.Start(context.Background()))

	assert.Eventually(t, func() bool {
		n, _ := q.Len(context.Background(), "stream-1")
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)

	stopProcessor(t, p)
	stopProcessor(t, p)

	assert.Equal(t, StateStopped, p.State())
	assert.True(t, conn.isDisconnected())
	require.Len(t, conn.batchSizes(), 1)

	left, err := q.Len(context.Background(), "stream-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), int64(len(conn.sent()))+left)
}

func TestProcessorStopInterruptsRetryWait(t *testing.T) {
	q := store.NewMemoryQueue(100)
	conn := &fakeConnector{failAttempts: func(attempt int) error {
		if attempt == 1 {
			return errors.New(errors.ErrorTypeTimeout, "timed out")
		}
		return nil
	}}
	rep := &fakeReporter{}
	pushEvents(t, q, "US")

	d := batchDelivery(1, 60)
	d.MaxRetries = 3
	d.RetryBackoffSeconds = 30
	p := newTestProcessor(testStream(d, models.Filters{}), conn, q, rep)
	require.NoError(t, p.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return conn.attemptCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	stopProcessor(t, p)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, 2, conn.attemptCount())
	assert.Equal(t, []int{1}, conn.batchSizes())
	assert.Equal(t, StateStopped, p.State())
	assert.Empty(t, rep.errors)
}

func TestProcessorConnectFailure(t *testing.T) {
	conn := &fakeConnector{connectErr: errors.New(errors.ErrorTypeConnection, "no route to host")}
	p := newTestProcessor(testStream(batchDelivery(1, 60), models.Filters{}), conn, store.NewMemoryQueue(10), &fakeReporter{})

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, StateError, p.State())

	select {
	case <-p.Done():
	default:
		t.Fatal("done should be closed after a failed start")
	}
	stopProcessor(t, p)
}

func TestProcessorBatchSizeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15
	properties := gopter.NewProperties(parameters)

	properties.Property("no flush exceeds batch_size and nothing is lost", prop.ForAll(
		func(batchSize, n int) bool {
			q := store.NewMemoryQueue(100)
			conn := &fakeConnector{}
			ctx := context.Background()
			for i := 0; i < n; i++ {
				if err := q.Push(ctx, "stream-1", &models.Event{EventID: fmt.Sprint(i)}); err != nil {
					return false
				}
			}

			p := newTestProcessor(testStream(batchDelivery(batchSize, 60), models.Filters{}), conn, q, &fakeReporter{})
			if err := p.Start(ctx); err != nil {
				return false
			}
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				if left, _ := q.Len(ctx, "stream-1"); left == 0 {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := p.Stop(stopCtx); err != nil {
				return false
			}

			for _, size := range conn.batchSizes() {
				if size > batchSize {
					return false
				}
			}
			left, _ := q.Len(ctx, "stream-1")
			return int64(len(conn.sent()))+left == int64(n)
		},
		gen.IntRange(1, 5),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
