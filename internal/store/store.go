// Package store persists streams, delivery statistics and backfill jobs in
// Redis, and provides the per-stream inbound event queues.
//
// Key layout:
//
//	stream:{id}             hash, field "data" holds the stream as JSON
//	team:{team_id}:streams  set of the team's stream ids
//	streams:all             set of every stream id, read on boot
//	stream:{id}:events      list, the stream's inbound queue
//	stream:{id}:stats       hash of delivery counters
//	backfill:{job_id}       hash, field "data" holds the job as JSON
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/config"
	"github.com/ajitpratap0/datastream/pkg/errors"
)

const dataField = "data"

func streamKey(id string) string   { return "stream:" + id }
func teamKey(teamID string) string { return "team:" + teamID + ":streams" }
func queueKey(id string) string    { return "stream:" + id + ":events" }
func statsKey(id string) string    { return "stream:" + id + ":stats" }
func backfillKey(id string) string { return "backfill:" + id }

const allStreamsKey = "streams:all"

// Store is the Redis-backed registry, stats and job store.
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// New wraps an existing client.
func New(client *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger.With(zap.String("component", "store"))}
}

// Connect opens a client from cfg and verifies it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to connect to Redis at %s", cfg.Addr))
	}

	s := New(client, logger)
	s.logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return s, nil
}

// Client returns the underlying Redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

// Ping checks if Redis is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
