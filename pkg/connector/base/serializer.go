package base

import (
	"time"

	"github.com/ajitpratap0/datastream/pkg/compression"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/formats"
	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/partition"
	"github.com/ajitpratap0/datastream/pkg/schema"
)

// Payload is one object ready to upload.
type Payload struct {
	Key          string
	Body         []byte
	ContentType  string
	Rows         int
	CastFailures int
}

// Serializer turns a batch of events into an object: project, encode,
// compress, then name it under the partitioned prefix.
type Serializer struct {
	schema       models.SchemaConfig
	partitioning models.Partitioning
	prefix       string
	encoder      formats.Encoder
	compressor   compression.Compressor
	now          func() time.Time
}

// NewSerializer resolves the encoder and codec for an object-store
// destination. An unknown format yields an UnsupportedFormat error.
func NewSerializer(cfg core.Config, prefix string, registry *formats.Registry) (*Serializer, error) {
	format, codec, ok := cfg.Destination.ObjectStoreFormat()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "destination %q does not write files", cfg.Destination.Type)
	}
	if registry == nil {
		registry = formats.Default()
	}

	enc, err := registry.Lookup(format)
	if err != nil {
		return nil, err
	}
	if codec == "" {
		codec = models.CompressionNone
	}
	comp, err := compression.For(compression.Algorithm(codec))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "unsupported compression")
	}

	return &Serializer{
		schema:       cfg.Schema,
		partitioning: cfg.Partitioning,
		prefix:       prefix,
		encoder:      enc,
		compressor:   comp,
		now:          time.Now,
	}, nil
}

// WithClock replaces the flush clock. Used by tests to pin object keys.
func (s *Serializer) WithClock(now func() time.Time) *Serializer {
	s.now = now
	return s
}

// Build serializes events into a payload named for the current flush time.
func (s *Serializer) Build(events []*models.Event) (*Payload, error) {
	batch := schema.Project(events, s.schema)

	data, err := formats.EncodeWith(s.encoder, batch)
	if err != nil {
		return nil, err
	}
	body, err := s.compressor.Compress(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to compress payload")
	}

	contentType := s.encoder.ContentType()
	if ct := s.compressor.ContentType(); ct != "" {
		contentType = ct
	}

	return &Payload{
		Key:          partition.ObjectKey(s.prefix, s.partitioning, s.now(), s.Extension()),
		Body:         body,
		ContentType:  contentType,
		Rows:         batch.Len(),
		CastFailures: batch.CastFailures,
	}, nil
}

// Extension is the object suffix, e.g. "parquet.gz".
func (s *Serializer) Extension() string {
	return s.encoder.Extension() + s.compressor.Extension()
}

// Documents returns one JSON-ready value per event for message and webhook
// destinations. In auto mode the events pass through unchanged; in custom
// mode each is the projected, cast row. castFailures counts values written
// as null.
func Documents(events []*models.Event, cfg models.SchemaConfig) (docs []interface{}, castFailures int) {
	batch := schema.Project(events, cfg)
	docs = make([]interface{}, len(events))
	if batch.Auto {
		for i, e := range events {
			docs[i] = e
		}
		return docs, 0
	}
	for i, row := range batch.Rows {
		docs[i] = row
	}
	return docs, batch.CastFailures
}
