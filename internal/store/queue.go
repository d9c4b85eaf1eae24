package store

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

// ErrQueueFull is returned by a bounded queue that cannot accept a push.
var ErrQueueFull error = errors.New(errors.ErrorTypeDelivery, "stream queue is full")

// Queue is a FIFO of events per stream. Events are shared between stream
// queues and must not be mutated after Push.
type Queue interface {
	// Push appends e to the tail of the stream's queue.
	Push(ctx context.Context, streamID string, e *models.Event) error
	// Pop removes the head of the queue, waiting up to timeout. It returns
	// nil, nil when the wait times out.
	Pop(ctx context.Context, streamID string, timeout time.Duration) (*models.Event, error)
	// Requeue puts e back at the head of the queue.
	Requeue(ctx context.Context, streamID string, e *models.Event) error
	// Len returns the number of queued events.
	Len(ctx context.Context, streamID string) (int64, error)
	// Purge drops every queued event.
	Purge(ctx context.Context, streamID string) error
}

// RedisQueue keeps each stream's queue in a Redis list.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a queue on client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Queue returns a RedisQueue sharing the store's client.
func (s *Store) Queue() *RedisQueue {
	return NewRedisQueue(s.client)
}

// Push implements Queue with RPUSH.
func (q *RedisQueue) Push(ctx context.Context, streamID string, e *models.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode event")
	}
	if err := q.client.RPush(ctx, queueKey(streamID), data).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to enqueue event")
	}
	return nil
}

// Pop implements Queue with BLPOP. Redis resolves the timeout in whole
// seconds, so anything below one second waits one second.
func (q *RedisQueue) Pop(ctx context.Context, streamID string, timeout time.Duration) (*models.Event, error) {
	if timeout < time.Second {
		timeout = time.Second
	}
	res, err := q.client.BLPop(ctx, timeout, queueKey(streamID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to dequeue event")
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return nil, errors.Newf(errors.ErrorTypeData, "unexpected BLPOP reply of %d elements", len(res))
	}
	return decodeEvent(res[1])
}

// Requeue implements Queue with LPUSH.
func (q *RedisQueue) Requeue(ctx context.Context, streamID string, e *models.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode event")
	}
	if err := q.client.LPush(ctx, queueKey(streamID), data).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to requeue event")
	}
	return nil
}

// Len implements Queue with LLEN.
func (q *RedisQueue) Len(ctx context.Context, streamID string) (int64, error) {
	n, err := q.client.LLen(ctx, queueKey(streamID)).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read queue length")
	}
	return n, nil
}

// Purge implements Queue by deleting the list.
func (q *RedisQueue) Purge(ctx context.Context, streamID string) error {
	if err := q.client.Del(ctx, queueKey(streamID)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to purge queue")
	}
	return nil
}

func decodeEvent(raw string) (*models.Event, error) {
	var e models.Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode queued event")
	}
	return &e, nil
}

// MemoryQueue is an in-process Queue for single-instance deployments and
// tests. Each stream queue holds at most capacity events; a non-positive
// capacity means unbounded.
type MemoryQueue struct {
	capacity int

	mu     sync.Mutex
	queues map[string]*memoryList
}

type memoryList struct {
	mu     sync.Mutex
	items  []*models.Event
	signal chan struct{}
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{capacity: capacity, queues: make(map[string]*memoryList)}
}

func (q *MemoryQueue) list(streamID string) *memoryList {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.queues[streamID]
	if !ok {
		l = &memoryList{signal: make(chan struct{}, 1)}
		q.queues[streamID] = l
	}
	return l
}

func (l *memoryList) wake() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Push implements Queue. It never blocks; a full queue returns
// ErrQueueFull.
func (q *MemoryQueue) Push(_ context.Context, streamID string, e *models.Event) error {
	l := q.list(streamID)
	l.mu.Lock()
	if q.capacity > 0 && len(l.items) >= q.capacity {
		l.mu.Unlock()
		return ErrQueueFull
	}
	l.items = append(l.items, e)
	l.mu.Unlock()
	l.wake()
	return nil
}

// Pop implements Queue.
func (q *MemoryQueue) Pop(ctx context.Context, streamID string, timeout time.Duration) (*models.Event, error) {
	l := q.list(streamID)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		l.mu.Lock()
		if len(l.items) > 0 {
			e := l.items[0]
			l.items[0] = nil
			l.items = l.items[1:]
			more := len(l.items) > 0
			l.mu.Unlock()
			if more {
				l.wake()
			}
			return e, nil
		}
		l.mu.Unlock()

		select {
		case <-l.signal:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Requeue implements Queue. The head slot is always accepted, even on a
// full queue.
func (q *MemoryQueue) Requeue(_ context.Context, streamID string, e *models.Event) error {
	l := q.list(streamID)
	l.mu.Lock()
	l.items = append([]*models.Event{e}, l.items...)
	l.mu.Unlock()
	l.wake()
	return nil
}

// Len implements Queue.
func (q *MemoryQueue) Len(_ context.Context, streamID string) (int64, error) {
	l := q.list(streamID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.items)), nil
}

// Purge implements Queue.
func (q *MemoryQueue) Purge(_ context.Context, streamID string) error {
	q.mu.Lock()
	delete(q.queues, streamID)
	q.mu.Unlock()
	return nil
}
