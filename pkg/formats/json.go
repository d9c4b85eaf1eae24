package formats

import (
	"bufio"
	"io"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/schema"
)

// JSONEncoder writes the batch as one JSON array.
type JSONEncoder struct{}

func (JSONEncoder) Format() models.FileFormat { return models.FormatJSON }
func (JSONEncoder) Extension() string         { return "json" }
func (JSONEncoder) ContentType() string       { return "application/json" }

func (JSONEncoder) Encode(w io.Writer, b *schema.Batch) error {
	return json.NewEncoder(w).Encode(rowsOf(b))
}

// NDJSONEncoder writes one JSON document per line.
type NDJSONEncoder struct{}

func (NDJSONEncoder) Format() models.FileFormat { return models.FormatNDJSON }
func (NDJSONEncoder) Extension() string         { return "ndjson" }
func (NDJSONEncoder) ContentType() string       { return "application/x-ndjson" }

func (NDJSONEncoder) Encode(w io.Writer, b *schema.Batch) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, row := range rowsOf(b) {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// rowsOf returns the events themselves in auto mode so field order follows
// the event type, and the projected rows otherwise.
func rowsOf(b *schema.Batch) []interface{} {
	if b.Auto && len(b.Events) == b.Len() {
		out := make([]interface{}, len(b.Events))
		for i, e := range b.Events {
			out[i] = e
		}
		return out
	}
	out := make([]interface{}, len(b.Rows))
	for i, r := range b.Rows {
		out[i] = r
	}
	return out
}
