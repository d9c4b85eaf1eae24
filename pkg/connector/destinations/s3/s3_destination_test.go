package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datastream/pkg/compression"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

type fakeS3 struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string][]byte
	types    map[string]string
	status   int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{bodies: map[string][]byte{}, types: map[string]string{}, status: http.StatusOK}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	if f.status != http.StatusOK {
		w.WriteHeader(f.status)
		return
	}
	if r.Method == http.MethodPut {
		body, _ := io.ReadAll(r.Body)
		f.bodies[r.URL.Path] = body
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
	}
	w.WriteHeader(http.StatusOK)
}

func newTestDestination(t *testing.T, endpoint string) *S3Destination {
	t.Helper()
	cfg := core.Config{
		StreamID: "stream-1",
		Destination: models.Destination{
			Type: models.DestinationS3,
			S3: &models.S3Config{
				Bucket:          "clicks",
				Prefix:          "exports",
				Region:          "us-east-1",
				AccessKeyID:     "AKIDEXAMPLE",
				SecretAccessKey: "secret",
				EndpointURL:     endpoint,
				FileFormat:      models.FormatNDJSON,
				Compression:     models.CompressionGzip,
			},
		},
		Partitioning: models.Partitioning{Enabled: true, Pattern: "dt={YYYY}-{MM}-{DD}"},
	}
	d, err := NewS3Destination(cfg)
	require.NoError(t, err)
	d.Serializer().WithClock(func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) })
	return d
}

func TestSendUploadsOneObject(t *testing.T) {
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d := newTestDestination(t, srv.URL)
	events := []*models.Event{
		{EventID: "e-1", TeamID: "t", Timestamp: time.Unix(1700000000, 0).UTC()},
		{EventID: "e-2", TeamID: "t", Timestamp: time.Unix(1700000001, 0).UTC()},
	}

	n, err := d.Send(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	path := "/clicks/exports/dt=2024-05-06/events_20240506070809000000.ndjson.gz"
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Contains(t, fake.bodies, path)
	assert.Equal(t, "application/gzip", fake.types[path])

	gz, err := compression.For(compression.Gzip)
	require.NoError(t, err)
	plain, err := gz.Decompress(fake.bodies[path])
	require.NoError(t, err)
	assert.Contains(t, string(plain), `"event_id":"e-1"`)
	assert.Contains(t, string(plain), `"event_id":"e-2"`)
}

func TestTestConnection(t *testing.T) {
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	res := newTestDestination(t, srv.URL).TestConnection(context.Background())
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, "clicks", res.Details["bucket"])

	fake.mu.Lock()
	assert.Contains(t, fake.requests, "HEAD /clicks")
	fake.status = http.StatusForbidden
	fake.mu.Unlock()

	res = newTestDestination(t, srv.URL).TestConnection(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Connection failed")
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(core.Config{Destination: models.Destination{
		Type: models.DestinationS3,
		S3:   &models.S3Config{Bucket: "b", FileFormat: "orc", Compression: models.CompressionNone},
	}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
}
