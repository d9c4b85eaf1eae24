package formats

import (
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/schema"
)

// ParquetEncoder writes the batch as a single-row-group Parquet file. Every
// column is nullable so that cast failures can be stored as nulls. Page
// compression is left off; the destination codec applies to the whole file.
type ParquetEncoder struct{}

func (ParquetEncoder) Format() models.FileFormat { return models.FormatParquet }
func (ParquetEncoder) Extension() string         { return "parquet" }
func (ParquetEncoder) ContentType() string       { return "application/vnd.apache.parquet" }

func (ParquetEncoder) Encode(w io.Writer, b *schema.Batch) error {
	arrowSchema := ArrowSchema(b.Fields)

	mem := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(mem, arrowSchema)
	defer builder.Release()

	for _, row := range b.Rows {
		for i, f := range b.Fields {
			appendArrowValue(builder.Field(i), f.Type, row[f.Name])
		}
	}

	record := builder.NewRecord()
	defer record.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Uncompressed),
		parquet.WithDictionaryDefault(true),
	)
	fw, err := pqarrow.NewFileWriter(arrowSchema, w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(mem)))
	if err != nil {
		return fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	if err := fw.Write(record); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return nil
}

// ArrowSchema maps schema fields onto nullable Arrow columns.
func ArrowSchema(fields []models.SchemaField) *arrow.Schema {
	out := make([]arrow.Field, len(fields))
	for i, f := range fields {
		out[i] = arrow.Field{Name: f.Name, Type: arrowType(f.Type), Nullable: true}
	}
	return arrow.NewSchema(out, nil)
}

func arrowType(t models.FieldType) arrow.DataType {
	switch t {
	case models.FieldTypeInt64:
		return arrow.PrimitiveTypes.Int64
	case models.FieldTypeFloat64:
		return arrow.PrimitiveTypes.Float64
	case models.FieldTypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case models.FieldTypeTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		// STRING and JSON
		return arrow.BinaryTypes.String
	}
}

func appendArrowValue(builder array.Builder, t models.FieldType, value interface{}) {
	if value == nil {
		builder.AppendNull()
		return
	}

	switch b := builder.(type) {
	case *array.Int64Builder:
		if v, ok := schema.Cast(value, t); ok && v != nil {
			b.Append(v.(int64))
			return
		}
	case *array.Float64Builder:
		if v, ok := schema.Cast(value, t); ok && v != nil {
			b.Append(v.(float64))
			return
		}
	case *array.BooleanBuilder:
		if v, ok := schema.Cast(value, t); ok && v != nil {
			b.Append(v.(bool))
			return
		}
	case *array.TimestampBuilder:
		if v, ok := schema.Cast(value, t); ok && v != nil {
			b.Append(arrow.Timestamp(v.(time.Time).UnixMicro()))
			return
		}
	case *array.StringBuilder:
		b.Append(schema.String(value))
		return
	}
	builder.AppendNull()
}
