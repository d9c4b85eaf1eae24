package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/config"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, zap.NewNop()), mr
}

func testStream(id, team string, created time.Time) *models.DataStream {
	return &models.DataStream{
		ID:        id,
		TeamID:    team,
		Name:      "stream " + id,
		Status:    models.StreamStatusActive,
		Delivery:  models.DefaultDelivery(),
		CreatedAt: created,
		UpdatedAt: created,
		Destination: models.Destination{
			Type: models.DestinationHTTP,
			HTTP: &models.HTTPConfig{URL: "https://hooks.example.com"},
		},
	}
}

func TestConnect(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	addr := mr.Addr()
	s, err := Connect(context.Background(), config.RedisConfig{Addr: addr, PoolSize: 2}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))

	mr.Close()
	_, err = Connect(context.Background(), config.RedisConfig{Addr: addr}, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestSaveAndGetStream(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveStream(ctx, testStream("s-1", "team-1", created)))

	got, err := s.GetStream(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "team-1", got.TeamID)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, "https://hooks.example.com", got.Destination.HTTP.URL)

	assert.True(t, mr.Exists("stream:s-1"))
	members, err := mr.SMembers("team:team-1:streams")
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, members)
	members, err = mr.SMembers("streams:all")
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, members)

	_, err = s.GetStream(ctx, "missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestListTeamStreamsSkipsDeleted(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	second := testStream("b", "team-1", base.Add(time.Minute))
	first := testStream("a", "team-1", base)
	deleted := testStream("c", "team-1", base.Add(2*time.Minute))
	deleted.Status = models.StreamStatusDeleted
	other := testStream("d", "team-2", base)

	for _, st := range []*models.DataStream{second, first, deleted, other} {
		require.NoError(t, s.SaveStream(ctx, st))
	}

	streams, err := s.ListTeamStreams(ctx, "team-1")
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, "a", streams[0].ID)
	assert.Equal(t, "b", streams[1].ID)

	ids, err := s.TeamStreamIDs(ctx, "team-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)

	all, err := s.AllStreamIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestUpdateStreamRetriesOnConcurrentWrite(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveStream(ctx, testStream("s-1", "team-1", time.Now().UTC())))

	calls := 0
	saved, err := s.UpdateStream(ctx, "s-1", func(st *models.DataStream) bool {
		calls++
		if calls == 1 {
			paused := testStream("s-1", "team-1", time.Now().UTC())
			paused.Status = models.StreamStatusPaused
			require.NoError(t, s.SaveStream(ctx, paused))
		}
		if st.Status != models.StreamStatusActive {
			return false
		}
		st.SetStatus(models.StreamStatusError, "flush failed")
		return true
	})
	require.NoError(t, err)
	assert.False(t, saved)
	assert.Equal(t, 2, calls)

	got, err := s.GetStream(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusPaused, got.Status)
}

func TestUpdateStreamSavesAndReportsMissing(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveStream(ctx, testStream("s-1", "team-1", time.Now().UTC())))

	saved, err := s.UpdateStream(ctx, "s-1", func(st *models.DataStream) bool {
		st.Name = "renamed"
		return true
	})
	require.NoError(t, err)
	assert.True(t, saved)

	got, err := s.GetStream(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	_, err = s.UpdateStream(ctx, "missing", func(*models.DataStream) bool { return true })
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestStatsAccumulate(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordDelivery(ctx, "s-1", Delivery{Sent: 3, Bytes: 300, Latency: 20 * time.Millisecond, At: t0}))
	require.NoError(t, s.RecordDelivery(ctx, "s-1", Delivery{Sent: 1, Bytes: 100, Latency: 40 * time.Millisecond, At: t0.Add(time.Minute)}))
	require.NoError(t, s.RecordDelivery(ctx, "s-1", Delivery{Failed: 2, Error: "sink down", At: t0.Add(2 * time.Minute)}))

	now := t0.Add(time.Hour)
	stats, err := s.GetStats(ctx, "s-1", now)
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.EventsSent)
	assert.Equal(t, int64(2), stats.EventsFailed)
	assert.Equal(t, int64(400), stats.BytesSent)
	assert.InDelta(t, 30.0, stats.AvgLatencyMs, 0.001)
	require.NotNil(t, stats.LastEventAt)
	assert.Equal(t, t0.Add(time.Minute), *stats.LastEventAt)
	require.NotNil(t, stats.LastErrorAt)
	assert.Equal(t, t0.Add(2*time.Minute), *stats.LastErrorAt)
	assert.Equal(t, "sink down", stats.LastErrorMessage)
	assert.Equal(t, t0, stats.PeriodStart)
	assert.Equal(t, now, stats.PeriodEnd)
}

func TestStatsEmpty(t *testing.T) {
	s, _ := setupTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	stats, err := s.GetStats(context.Background(), "fresh", now)
	require.NoError(t, err)
	assert.Equal(t, "fresh", stats.StreamID)
	assert.Zero(t, stats.EventsSent)
	assert.Nil(t, stats.LastEventAt)
	assert.Equal(t, now, stats.PeriodStart)
}

func TestBackfillJobRoundTrip(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	job := &models.BackfillJob{
		ID:          "job-1",
		StreamID:    "s-1",
		Status:      models.BackfillProcessing,
		Progress:    40,
		TotalEvents: 10,
		StartDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveBackfillJob(ctx, job))

	got, err := s.GetBackfillJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.Status, got.Status)
	assert.Equal(t, 40.0, got.Progress)
	assert.Equal(t, job.StartDate, got.StartDate)

	_, err = s.GetBackfillJob(ctx, "nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}
