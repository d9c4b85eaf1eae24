package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/models"
)

type fakeGCS struct {
	mu      sync.Mutex
	uploads []string
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/storage/v1/b/clicks":
		_, _ = io.WriteString(w, `{"name":"clicks","location":"EU"}`)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/storage/v1/b/clicks/o"):
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploads = append(f.uploads, string(body))
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"name":"object","bucket":"clicks"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
	}
}

func newTestDestination(t *testing.T, srv *httptest.Server, bucket string) *GCSDestination {
	t.Helper()
	t.Setenv("STORAGE_EMULATOR_HOST", srv.URL)

	d, err := NewGCSDestination(core.Config{
		StreamID: "stream-1",
		Destination: models.Destination{
			Type: models.DestinationGCS,
			GCS: &models.GCSConfig{
				BucketName:  bucket,
				Prefix:      "raw",
				FileFormat:  models.FormatNDJSON,
				Compression: models.CompressionNone,
			},
		},
	})
	require.NoError(t, err)
	d.Serializer().WithClock(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) })
	t.Cleanup(func() { _ = d.Disconnect(context.Background()) })
	return d
}

func TestSendUploadsObject(t *testing.T) {
	fake := &fakeGCS{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d := newTestDestination(t, srv, "clicks")
	n, err := d.Send(context.Background(), []*models.Event{{EventID: "e-1", Timestamp: time.Unix(1700000000, 0).UTC()}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.uploads, 1)
	assert.Contains(t, fake.uploads[0], "raw/events_20240102030405000000.ndjson")
	assert.Contains(t, fake.uploads[0], `"event_id":"e-1"`)
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(&fakeGCS{})
	defer srv.Close()

	res := newTestDestination(t, srv, "clicks").TestConnection(context.Background())
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "EU", res.Details["location"])

	res = newTestDestination(t, srv, "missing").TestConnection(context.Background())
	assert.False(t, res.Success)
}
