// Package formats serializes projected event batches into the file formats
// object-store destinations write.
//
// Encoders are looked up through a Registry. A format that is not
// registered is reported as an UnsupportedFormat error; callers never
// receive a different encoding than the one they asked for.
package formats

import (
	"bytes"
	"io"
	"sort"
	"sync"

	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/pool"
	"github.com/ajitpratap0/datastream/pkg/schema"
)

// Encoder writes a batch in one file format.
type Encoder interface {
	// Format returns the format this encoder produces.
	Format() models.FileFormat
	// Extension is the file suffix without the leading dot.
	Extension() string
	// ContentType is the MIME type of the encoded payload.
	ContentType() string
	// Encode writes b to w.
	Encode(w io.Writer, b *schema.Batch) error
}

// Registry maps formats to encoders.
type Registry struct {
	mu       sync.RWMutex
	encoders map[models.FileFormat]Encoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{encoders: make(map[models.FileFormat]Encoder)}
}

// Register adds or replaces the encoder for e.Format().
func (r *Registry) Register(e Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[e.Format()] = e
}

// Unregister removes the encoder for f.
func (r *Registry) Unregister(f models.FileFormat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.encoders, f)
}

// Lookup returns the encoder for f or an UnsupportedFormat error.
func (r *Registry) Lookup(f models.FileFormat) (Encoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.encoders[f]
	if !ok {
		return nil, errors.UnsupportedFormat(string(f))
	}
	return e, nil
}

// Supports reports whether f has a registered encoder.
func (r *Registry) Supports(f models.FileFormat) bool {
	_, err := r.Lookup(f)
	return err == nil
}

// Formats lists the registered formats in name order.
func (r *Registry) Formats() []models.FileFormat {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.FileFormat, 0, len(r.encoders))
	for f := range r.encoders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Encode serializes b as f and returns the bytes together with the encoder
// used.
func (r *Registry) Encode(f models.FileFormat, b *schema.Batch) ([]byte, Encoder, error) {
	e, err := r.Lookup(f)
	if err != nil {
		return nil, nil, err
	}
	data, err := EncodeWith(e, b)
	if err != nil {
		return nil, nil, err
	}
	return data, e, nil
}

// EncodeWith runs e over b in a pooled scratch buffer and returns a copy
// of the payload.
func EncodeWith(e Encoder, b *schema.Batch) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if err := e.Encode(buf, b); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode "+string(e.Format())+" payload")
	}
	return bytes.Clone(buf.Bytes()), nil
}

var defaultRegistry = NewRegistry()

func init() {
	defaultRegistry.Register(JSONEncoder{})
	defaultRegistry.Register(NDJSONEncoder{})
	defaultRegistry.Register(CSVEncoder{})
	defaultRegistry.Register(ParquetEncoder{})
	defaultRegistry.Register(AvroEncoder{})
}

// Default returns the process-wide registry with every built-in encoder.
func Default() *Registry {
	return defaultRegistry
}
