package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datastream/pkg/models"
)

func sampleEvent() *models.Event {
	return &models.Event{
		EventID:   "e-1",
		TeamID:    "team-1",
		LinkID:    "link-1",
		Timestamp: time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC),
		Country:   "US",
		IsBot:     false,
		Metadata: map[string]interface{}{
			"revenue": "12.5",
			"clicks":  float64(3),
			"vip":     "true",
		},
	}
}

func TestProjectAutoKeepsEveryField(t *testing.T) {
	b := Project([]*models.Event{sampleEvent()}, models.SchemaConfig{Mode: models.SchemaModeAuto})

	require.Equal(t, 1, b.Len())
	assert.True(t, b.Auto)
	assert.Equal(t, models.EventFields, b.Fields)
	assert.Equal(t, "e-1", b.Rows[0]["event_id"])
	assert.Equal(t, "US", b.Rows[0]["country"])
	assert.Equal(t, sampleEvent().Metadata, b.Rows[0]["metadata"])
}

func TestProjectCustomCastsAndSelects(t *testing.T) {
	cfg := models.SchemaConfig{
		Mode: models.SchemaModeCustom,
		Fields: []models.SchemaField{
			{Name: "event_id", Type: models.FieldTypeString},
			{Name: "revenue", Type: models.FieldTypeFloat64},
			{Name: "clicks", Type: models.FieldTypeInt64},
			{Name: "vip", Type: models.FieldTypeBoolean},
			{Name: "timestamp", Type: models.FieldTypeTimestamp},
			{Name: "absent", Type: models.FieldTypeString},
		},
	}

	b := Project([]*models.Event{sampleEvent()}, cfg)

	require.Equal(t, 1, b.Len())
	assert.False(t, b.Auto)
	row := b.Rows[0]
	assert.Len(t, row, 6)
	assert.Equal(t, "e-1", row["event_id"])
	assert.Equal(t, 12.5, row["revenue"])
	assert.Equal(t, int64(3), row["clicks"])
	assert.Equal(t, true, row["vip"])
	assert.Equal(t, time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC), row["timestamp"])
	assert.Nil(t, row["absent"])
	assert.NotContains(t, row, "country")
	assert.Zero(t, b.CastFailures)
	assert.Equal(t, []string{"event_id", "revenue", "clicks", "vip", "timestamp", "absent"}, b.FieldNames())
}

func TestProjectCustomCountsCastFailures(t *testing.T) {
	e := sampleEvent()
	e.Metadata["clicks"] = "many"

	b := Project([]*models.Event{e}, models.SchemaConfig{
		Mode:   models.SchemaModeCustom,
		Fields: []models.SchemaField{{Name: "clicks", Type: models.FieldTypeInt64}},
	})

	assert.Nil(t, b.Rows[0]["clicks"])
	assert.Equal(t, 1, b.CastFailures)
}

func TestCast(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name  string
		in    interface{}
		typ   models.FieldType
		want  interface{}
		valid bool
	}{
		{"int from string", "42", models.FieldTypeInt64, int64(42), true},
		{"int from float string", "4.9", models.FieldTypeInt64, int64(4), true},
		{"int from garbage", "x", models.FieldTypeInt64, nil, false},
		{"float from int", 7, models.FieldTypeFloat64, float64(7), true},
		{"bool from string", "false", models.FieldTypeBoolean, false, true},
		{"bool from garbage", "maybe", models.FieldTypeBoolean, nil, false},
		{"string from time", ts, models.FieldTypeString, "2024-01-02T03:04:05Z", true},
		{"string from tags", []string{"a", "b"}, models.FieldTypeString, `["a","b"]`, true},
		{"timestamp from rfc3339", "2024-01-02T03:04:05Z", models.FieldTypeTimestamp, ts, true},
		{"timestamp from sql layout", "2024-01-02 03:04:05", models.FieldTypeTimestamp, ts, true},
		{"timestamp from unix", int64(1704164645), models.FieldTypeTimestamp, ts, true},
		{"nil stays nil", nil, models.FieldTypeString, nil, true},
		{"unknown type", "x", models.FieldType("DECIMAL"), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Cast(tt.in, tt.typ)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
