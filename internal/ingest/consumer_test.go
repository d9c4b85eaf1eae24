package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/config"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, e *models.Event) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	if e.TeamID == "" {
		return 0, errors.New(errors.ErrorTypeValidation, "event team_id is required")
	}
	p.events = append(p.events, e)
	return 1, nil
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "clicks" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func claimOf(values ...string) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(values))
	for i, v := range values {
		ch <- &sarama.ConsumerMessage{
			Topic:     "clicks",
			Offset:    int64(i),
			Value:     []byte(v),
			Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		}
	}
	close(ch)
	return &fakeClaim{messages: ch}
}

func TestConsumeClaimPublishesClicks(t *testing.T) {
	pub := &fakePublisher{}
	h := &handler{publisher: pub, logger: zap.NewNop()}
	session := &fakeSession{ctx: context.Background()}

	claim := claimOf(
		`{"event_id":"e-1","team_id":"team-1","link_id":"l-1","country":"US","timestamp":"2024-05-01T10:00:00Z"}`,
		`not json`,
		`{"id":"legacy-1","team_id":"team-1","device":"mobile","referer":"https://example.com"}`,
		`{"event_id":"e-3"}`,
	)

	require.NoError(t, h.ConsumeClaim(session, claim))

	require.Len(t, pub.events, 2)
	assert.Equal(t, "e-1", pub.events[0].EventID)
	assert.Equal(t, "US", pub.events[0].Country)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), pub.events[0].Timestamp)

	legacy := pub.events[1]
	assert.Equal(t, "legacy-1", legacy.EventID)
	assert.Equal(t, "mobile", legacy.DeviceType)
	assert.Equal(t, "https://example.com", legacy.Referrer)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), legacy.Timestamp)

	assert.Equal(t, []int64{0, 1, 2, 3}, session.marked)
}

func TestConsumeClaimStopsOnRoutingFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New(errors.ErrorTypeConnection, "redis down")}
	h := &handler{publisher: pub, logger: zap.NewNop()}
	session := &fakeSession{ctx: context.Background()}

	err := h.ConsumeClaim(session, claimOf(`{"event_id":"e-1","team_id":"team-1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Empty(t, session.marked)
}

func TestConsumeClaimReturnsWhenSessionEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handler{publisher: &fakePublisher{}, logger: zap.NewNop()}
	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(session, claim) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ConsumeClaim did not return after the session ended")
	}
}

func TestDecodeClickGeneratesMissingID(t *testing.T) {
	e, err := decodeClick(&sarama.ConsumerMessage{Value: []byte(`{"team_id":"t"}`), Timestamp: time.Now()})
	require.NoError(t, err)
	assert.NotEmpty(t, e.EventID)
}

func TestSaramaConfigOffsets(t *testing.T) {
	assert.Equal(t, sarama.OffsetOldest, saramaConfig(config.IngestConfig{InitialOffset: "oldest"}).Consumer.Offsets.Initial)
	assert.Equal(t, sarama.OffsetNewest, saramaConfig(config.IngestConfig{InitialOffset: "newest"}).Consumer.Offsets.Initial)
	assert.True(t, saramaConfig(config.IngestConfig{}).Consumer.Return.Errors)
}
