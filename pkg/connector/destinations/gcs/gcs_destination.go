// Package gcs writes one object per flush to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/datastream/pkg/connector/base"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

func init() {
	_ = registry.RegisterDestination(models.DestinationGCS, New)
}

// GCSDestination uploads serialized batches as GCS objects.
type GCSDestination struct {
	*base.BaseConnector

	cfg        models.GCSConfig
	serializer *base.Serializer

	gcsClient    *storage.Client
	bucketHandle *storage.BucketHandle
}

// New creates a GCS destination.
func New(cfg core.Config) (core.Connector, error) {
	return NewGCSDestination(cfg)
}

// NewGCSDestination creates a GCS destination and resolves its serializer.
func NewGCSDestination(cfg core.Config) (*GCSDestination, error) {
	if cfg.Destination.GCS == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "GCS configuration is required")
	}
	gcsCfg := *cfg.Destination.GCS

	serializer, err := base.NewSerializer(cfg, gcsCfg.Prefix, nil)
	if err != nil {
		return nil, err
	}

	return &GCSDestination{
		BaseConnector: base.NewBaseConnector(cfg),
		cfg:           gcsCfg,
		serializer:    serializer,
	}, nil
}

// Serializer exposes the payload builder so tests can pin the clock.
func (d *GCSDestination) Serializer() *base.Serializer {
	return d.serializer
}

// Connect creates the storage client from inline JSON credentials, a
// credentials file or application default credentials, in that order.
func (d *GCSDestination) Connect(ctx context.Context) error {
	if d.IsConnected() {
		return nil
	}

	var opts []option.ClientOption
	switch {
	case d.cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(d.cfg.CredentialsJSON)))
	case d.cfg.CredentialsPath != "":
		opts = append(opts, option.WithCredentialsFile(d.cfg.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return base.ClassifyConnect(err, "failed to create GCS client")
	}

	d.gcsClient = client
	d.bucketHandle = client.Bucket(d.cfg.BucketName)
	d.SetConnected(true)
	d.Logger().Info("connected to GCS", zap.String("bucket", d.cfg.BucketName))
	return nil
}

// Disconnect closes the storage client.
func (d *GCSDestination) Disconnect(ctx context.Context) error {
	var err error
	if d.gcsClient != nil {
		err = d.gcsClient.Close()
		d.gcsClient = nil
		d.bucketHandle = nil
	}
	d.SetConnected(false)
	return err
}

// Send uploads events as a single object.
func (d *GCSDestination) Send(ctx context.Context, events []*models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if err := d.EnsureConnected(ctx, d.Connect); err != nil {
		return 0, err
	}

	payload, err := d.serializer.Build(events)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	err = d.upload(ctx, payload)
	d.RecordSend(start, err)
	if err != nil {
		return 0, base.Classify(err, "failed to upload to GCS")
	}

	d.Logger().Info("batch uploaded to GCS",
		zap.String("object", payload.Key),
		zap.Int("records", payload.Rows),
		zap.Int("bytes", len(payload.Body)))
	return len(events), nil
}

func (d *GCSDestination) upload(ctx context.Context, payload *base.Payload) error {
	writer := d.bucketHandle.Object(payload.Key).NewWriter(ctx)
	writer.ContentType = payload.ContentType
	writer.ChunkSize = 0
	writer.Metadata = map[string]string{"records": strconv.Itoa(payload.Rows)}

	if _, err := writer.Write(payload.Body); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// TestConnection reads the bucket attributes.
func (d *GCSDestination) TestConnection(ctx context.Context) *models.TestConnectionResult {
	return base.CheckConnection(ctx, d, func(ctx context.Context) (map[string]interface{}, error) {
		attrs, err := d.bucketHandle.Attrs(ctx)
		if err != nil {
			return nil, base.Classify(err, "bucket not accessible")
		}
		return map[string]interface{}{
			"bucket":   d.cfg.BucketName,
			"location": attrs.Location,
		}, nil
	})
}
