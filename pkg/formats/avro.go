package formats

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/schema"
)

// AvroEncoder writes the batch as an Avro object container file. Each field
// is a union with null.
type AvroEncoder struct{}

func (AvroEncoder) Format() models.FileFormat { return models.FormatAvro }
func (AvroEncoder) Extension() string         { return "avro" }
func (AvroEncoder) ContentType() string       { return "application/avro" }

func (AvroEncoder) Encode(w io.Writer, b *schema.Batch) error {
	avroSchema, err := AvroSchema(b.Fields)
	if err != nil {
		return err
	}

	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Schema:          avroSchema,
		CompressionName: "null",
	})
	if err != nil {
		return fmt.Errorf("failed to create Avro writer: %w", err)
	}

	names := avroNames(b.Fields)
	natives := make([]interface{}, 0, b.Len())
	for _, row := range b.Rows {
		native := make(map[string]interface{}, len(b.Fields))
		for i, f := range b.Fields {
			native[names[i]] = avroValue(f.Type, row[f.Name])
		}
		natives = append(natives, native)
	}

	if len(natives) == 0 {
		return nil
	}
	if err := ocf.Append(natives); err != nil {
		return fmt.Errorf("failed to write Avro records: %w", err)
	}
	return nil
}

// AvroSchema returns the record schema JSON for fields.
func AvroSchema(fields []models.SchemaField) (string, error) {
	names := avroNames(fields)
	avroFields := make([]map[string]interface{}, len(fields))
	for i, f := range fields {
		avroFields[i] = map[string]interface{}{
			"name":    names[i],
			"type":    []interface{}{"null", avroType(f.Type)},
			"default": nil,
		}
	}

	out, err := json.Marshal(map[string]interface{}{
		"type":      "record",
		"name":      "ClickEvent",
		"namespace": "datastream",
		"fields":    avroFields,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func avroType(t models.FieldType) interface{} {
	switch t {
	case models.FieldTypeInt64:
		return "long"
	case models.FieldTypeFloat64:
		return "double"
	case models.FieldTypeBoolean:
		return "boolean"
	case models.FieldTypeTimestamp:
		return map[string]interface{}{"type": "long", "logicalType": "timestamp-micros"}
	default:
		return "string"
	}
}

// avroUnionName is the branch name goavro expects when wrapping a value.
func avroUnionName(t models.FieldType) string {
	switch t {
	case models.FieldTypeInt64:
		return "long"
	case models.FieldTypeFloat64:
		return "double"
	case models.FieldTypeBoolean:
		return "boolean"
	case models.FieldTypeTimestamp:
		return "long.timestamp-micros"
	default:
		return "string"
	}
}

func avroValue(t models.FieldType, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	if t == models.FieldTypeString || t == models.FieldTypeJSON {
		return goavro.Union("string", schema.String(value))
	}

	v, ok := schema.Cast(value, t)
	if !ok || v == nil {
		return nil
	}
	return goavro.Union(avroUnionName(t), v)
}

// avroNames rewrites field names into the [A-Za-z_][A-Za-z0-9_]* form
// Avro requires.
func avroNames(fields []models.SchemaField) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		var sb strings.Builder
		for j, r := range f.Name {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
				sb.WriteRune(r)
			case r >= '0' && r <= '9' && j > 0:
				sb.WriteRune(r)
			default:
				sb.WriteByte('_')
			}
		}
		out[i] = sb.String()
	}
	return out
}
