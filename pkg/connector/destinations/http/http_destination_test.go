package http

import (
	"context"
	"encoding/base64"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

func newTestDestination(t *testing.T, url string, mutate func(*models.HTTPConfig)) *Destination {
	t.Helper()
	cfg := &models.HTTPConfig{URL: url, Method: "POST", AuthType: models.HTTPAuthNone, TimeoutSeconds: 5, RetryCount: 2}
	if mutate != nil {
		mutate(cfg)
	}
	d, err := NewDestination(core.Config{
		StreamID:    "stream-1",
		Destination: models.Destination{Type: models.DestinationHTTP, HTTP: cfg},
	}, WithRetryInterval(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Disconnect(context.Background()) })
	return d
}

func testEvents(n int) []*models.Event {
	out := make([]*models.Event, n)
	for i := range out {
		out[i] = &models.Event{EventID: string(rune('a' + i)), TeamID: "team-1", Timestamp: time.Unix(1700000000, 0).UTC()}
	}
	return out
}

type receivedEnvelope struct {
	Events    []models.Event `json:"events"`
	Count     int            `json:"count"`
	Timestamp float64        `json:"timestamp"`
}

func TestSendPostsEnvelope(t *testing.T) {
	var got receivedEnvelope
	var headers nethttp.Header
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(nethttp.StatusAccepted)
	}))
	defer srv.Close()

	d := newTestDestination(t, srv.URL, func(c *models.HTTPConfig) {
		c.Headers = map[string]string{"X-Tenant": "team-1"}
	})

	n, err := d.Send(context.Background(), testEvents(3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, got.Count)
	assert.Len(t, got.Events, 3)
	assert.Equal(t, "a", got.Events[0].EventID)
	assert.Greater(t, got.Timestamp, float64(0))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "team-1", headers.Get("X-Tenant"))
}

func TestSendProjectsCustomSchema(t *testing.T) {
	var got struct {
		Events []map[string]interface{} `json:"events"`
		Count  int                      `json:"count"`
	}
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer srv.Close()

	d, err := NewDestination(core.Config{
		StreamID: "stream-1",
		Destination: models.Destination{Type: models.DestinationHTTP, HTTP: &models.HTTPConfig{
			URL: srv.URL, Method: "POST", AuthType: models.HTTPAuthNone, TimeoutSeconds: 5,
		}},
		Schema: models.SchemaConfig{
			Mode:   models.SchemaModeCustom,
			Fields: []models.SchemaField{{Name: "country", Type: models.FieldTypeString}},
		},
	})
	require.NoError(t, err)
	defer func() { _ = d.Disconnect(context.Background()) }()

	events := testEvents(2)
	events[0].Country = "US"
	events[1].Country = "DE"

	n, err := d.Send(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, []map[string]interface{}{{"country": "US"}, {"country": "DE"}}, got.Events)
}

func TestSendAuthHeaders(t *testing.T) {
	tests := []struct {
		name   string
		auth   string
		header string
		want   string
	}{
		{"basic", models.HTTPAuthBasic, "Authorization", "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass"))},
		{"bearer", models.HTTPAuthBearer, "Authorization", "Bearer user:pass"},
		{"api key", models.HTTPAuthAPIKey, "X-API-Key", "user:pass"},
		{"none", models.HTTPAuthNone, "Authorization", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
				seen = r.Header.Get(tt.header)
				w.WriteHeader(nethttp.StatusOK)
			}))
			defer srv.Close()

			d := newTestDestination(t, srv.URL, func(c *models.HTTPConfig) {
				c.AuthType = tt.auth
				c.AuthValue = "user:pass"
			})
			_, err := d.Send(context.Background(), testEvents(1))
			require.NoError(t, err)
			assert.Equal(t, tt.want, seen)
		})
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(nethttp.StatusBadGateway)
			return
		}
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer srv.Close()

	d := newTestDestination(t, srv.URL, nil)
	n, err := d.Send(context.Background(), testEvents(2))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	stats := d.client.GetStats()
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Zero(t, stats.FailedRequests)
	assert.Equal(t, float64(100), stats.SuccessRate)
}

func TestSendGivesUpAfterRetryCount(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(nethttp.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := newTestDestination(t, srv.URL, nil)
	n, err := d.Send(context.Background(), testEvents(2))
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendClientErrorIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		atomic.AddInt32(&calls, 1)
		nethttp.Error(w, "bad payload", nethttp.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d := newTestDestination(t, srv.URL, nil)
	_, err := d.Send(context.Background(), testEvents(1))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRejected))
	assert.True(t, errors.IsTerminal(err))
	assert.Contains(t, err.Error(), "bad payload")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTestConnection(t *testing.T) {
	var method string
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		method = r.Method
		if r.URL.Path == "/missing" {
			w.WriteHeader(nethttp.StatusNotFound)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	}))
	defer srv.Close()

	ok := newTestDestination(t, srv.URL, nil).TestConnection(context.Background())
	assert.True(t, ok.Success)
	assert.Equal(t, "Connection successful", ok.Message)
	assert.Equal(t, nethttp.MethodHead, method)
	assert.Equal(t, nethttp.StatusNoContent, ok.Details["status_code"])
	assert.Equal(t, int64(1), ok.Details["requests"])

	missing := newTestDestination(t, srv.URL+"/missing", nil).TestConnection(context.Background())
	assert.False(t, missing.Success)
	assert.Contains(t, missing.Message, "404")
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(core.Config{Destination: models.Destination{Type: models.DestinationHTTP}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
