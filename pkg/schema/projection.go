// Package schema shapes events into rows before serialization. In auto mode
// every event keeps its full shape; in custom mode each event is projected
// onto the configured fields and every value is cast to the declared type.
package schema

import (
	"github.com/ajitpratap0/datastream/pkg/models"
)

// Batch is a list of events projected onto a fixed column layout.
type Batch struct {
	// Fields is the column layout, in output order.
	Fields []models.SchemaField
	// Rows holds one map per event keyed by field name. Every row has a key
	// for every field; missing or uncastable values are nil.
	Rows []map[string]interface{}
	// Events are the source events. Pass-through encoders read them
	// directly when Auto is set.
	Events []*models.Event
	// Auto is true when no projection was applied.
	Auto bool
	// CastFailures counts values that could not be converted and were
	// written as null.
	CastFailures int
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	return len(b.Rows)
}

// Project applies cfg to events. A nil or auto config keeps every
// well-known field plus metadata.
func Project(events []*models.Event, cfg models.SchemaConfig) *Batch {
	b := &Batch{
		Events: events,
		Rows:   make([]map[string]interface{}, 0, len(events)),
	}

	if cfg.Mode != models.SchemaModeCustom || len(cfg.Fields) == 0 {
		b.Auto = true
		b.Fields = models.EventFields
		for _, e := range events {
			row := make(map[string]interface{}, len(b.Fields))
			for _, f := range b.Fields {
				v, _ := e.Field(f.Name)
				row[f.Name] = v
			}
			b.Rows = append(b.Rows, row)
		}
		return b
	}

	b.Fields = cfg.Fields
	for _, e := range events {
		row := make(map[string]interface{}, len(cfg.Fields))
		for _, f := range cfg.Fields {
			v, ok := e.Field(f.Name)
			if !ok || v == nil {
				row[f.Name] = nil
				continue
			}
			cast, ok := Cast(v, f.Type)
			if !ok {
				b.CastFailures++
			}
			row[f.Name] = cast
		}
		b.Rows = append(b.Rows, row)
	}
	return b
}

// Column returns the values of one field across all rows.
func (b *Batch) Column(name string) []interface{} {
	out := make([]interface{}, len(b.Rows))
	for i, row := range b.Rows {
		out[i] = row[name]
	}
	return out
}

// FieldNames returns the column names in order.
func (b *Batch) FieldNames() []string {
	names := make([]string, len(b.Fields))
	for i, f := range b.Fields {
		names[i] = f.Name
	}
	return names
}
