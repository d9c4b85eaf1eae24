package formats

import (
	"encoding/csv"
	"io"

	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/schema"
)

// CSVEncoder writes a header row followed by one record per event. Nested
// values are written as JSON and nulls as empty cells.
type CSVEncoder struct{}

func (CSVEncoder) Format() models.FileFormat { return models.FormatCSV }
func (CSVEncoder) Extension() string         { return "csv" }
func (CSVEncoder) ContentType() string       { return "text/csv" }

func (CSVEncoder) Encode(w io.Writer, b *schema.Batch) error {
	cw := csv.NewWriter(w)
	names := b.FieldNames()
	if err := cw.Write(names); err != nil {
		return err
	}

	record := make([]string, len(names))
	for _, row := range b.Rows {
		for i, name := range names {
			record[i] = schema.String(row[name])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
