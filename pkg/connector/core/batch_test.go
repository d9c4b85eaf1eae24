package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/datastream/pkg/models"
)

type scriptedConnector struct {
	calls   []int
	results []error
	partial map[int]int
}

func (s *scriptedConnector) Type() models.DestinationType     { return models.DestinationHTTP }
func (s *scriptedConnector) Connect(context.Context) error    { return nil }
func (s *scriptedConnector) Disconnect(context.Context) error { return nil }
func (s *scriptedConnector) TestConnection(context.Context) *models.TestConnectionResult {
	return &models.TestConnectionResult{Success: true}
}

func (s *scriptedConnector) Send(_ context.Context, events []*models.Event) (int, error) {
	i := len(s.calls)
	s.calls = append(s.calls, len(events))
	if i < len(s.results) && s.results[i] != nil {
		return 0, s.results[i]
	}
	if n, ok := s.partial[i]; ok {
		return n, nil
	}
	return len(events), nil
}

func makeEvents(n int) []*models.Event {
	out := make([]*models.Event, n)
	for i := range out {
		out[i] = &models.Event{EventID: "e"}
	}
	return out
}

func TestSendBatchChunksAndAccumulates(t *testing.T) {
	c := &scriptedConnector{
		results: []error{nil, errors.New("boom"), nil},
		partial: map[int]int{2: 1},
	}

	res := SendBatch(context.Background(), c, makeEvents(7), 3)

	assert.Equal(t, []int{3, 3, 1}, c.calls)
	assert.Equal(t, BatchResult{Sent: 4, Failed: 3}, res)
	assert.Equal(t, 7, res.Sent+res.Failed)
}

func TestSendBatchEmpty(t *testing.T) {
	c := &scriptedConnector{}
	res := SendBatch(context.Background(), c, nil, 10)
	assert.Empty(t, c.calls)
	assert.Equal(t, BatchResult{}, res)
}

func TestChunks(t *testing.T) {
	tests := []struct{ n, size, want int }{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{2500, 0, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Chunks(tt.n, tt.size), "n=%d size=%d", tt.n, tt.size)
	}
}
