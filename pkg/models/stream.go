package models

import (
	"time"
)

// StreamStatus is the lifecycle state of a data stream.
type StreamStatus string

const (
	StreamStatusActive  StreamStatus = "active"
	StreamStatusPaused  StreamStatus = "paused"
	StreamStatusError   StreamStatus = "error"
	StreamStatusDeleted StreamStatus = "deleted"
)

// DeliveryMode selects between per-event and batched delivery.
type DeliveryMode string

const (
	DeliveryModeRealtime DeliveryMode = "realtime"
	DeliveryModeBatch    DeliveryMode = "batch"
)

// SchemaMode selects between pass-through and projected output.
type SchemaMode string

const (
	SchemaModeAuto   SchemaMode = "auto"
	SchemaModeCustom SchemaMode = "custom"
)

// FieldType is the declared type of a custom schema field.
type FieldType string

const (
	FieldTypeString    FieldType = "STRING"
	FieldTypeInt64     FieldType = "INT64"
	FieldTypeFloat64   FieldType = "FLOAT64"
	FieldTypeTimestamp FieldType = "TIMESTAMP"
	FieldTypeBoolean   FieldType = "BOOLEAN"
	// FieldTypeJSON holds nested values (tags, metadata); columnar formats
	// store it as a JSON string.
	FieldTypeJSON FieldType = "JSON"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeString, FieldTypeInt64, FieldTypeFloat64, FieldTypeTimestamp, FieldTypeBoolean, FieldTypeJSON:
		return true
	}
	return false
}

// FieldMode marks a schema field as nullable or required.
type FieldMode string

const (
	FieldModeNullable FieldMode = "NULLABLE"
	FieldModeRequired FieldMode = "REQUIRED"
)

// SchemaField is one named, typed output column.
type SchemaField struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Mode        FieldMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// Nullable reports whether the column may hold nulls.
func (f SchemaField) Nullable() bool {
	return f.Mode != FieldModeRequired
}

// SchemaConfig controls how events are shaped before serialization.
type SchemaConfig struct {
	Mode   SchemaMode    `json:"mode" yaml:"mode"`
	Fields []SchemaField `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Filters are per-stream allow-lists. An empty list matches everything.
type Filters struct {
	TeamIDs     []string `json:"team_ids,omitempty" yaml:"team_ids,omitempty"`
	LinkIDs     []string `json:"link_ids,omitempty" yaml:"link_ids,omitempty"`
	LinkTags    []string `json:"link_tags,omitempty" yaml:"link_tags,omitempty"`
	CampaignIDs []string `json:"campaign_ids,omitempty" yaml:"campaign_ids,omitempty"`
	Countries   []string `json:"countries,omitempty" yaml:"countries,omitempty"`
	Devices     []string `json:"devices,omitempty" yaml:"devices,omitempty"`
	ExcludeBots bool     `json:"exclude_bots" yaml:"exclude_bots"`
}

// DefaultPartitionPattern is the hive-style hourly layout.
const DefaultPartitionPattern = "year={YYYY}/month={MM}/day={DD}/hour={HH}"

// Partitioning controls object key layout for object-store destinations.
type Partitioning struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

// Delivery controls batching and retry behaviour.
type Delivery struct {
	Mode                 DeliveryMode `json:"mode" yaml:"mode"`
	BatchSize            int          `json:"batch_size" yaml:"batch_size"`
	BatchIntervalSeconds int          `json:"batch_interval_seconds" yaml:"batch_interval_seconds"`
	MaxRetries           int          `json:"max_retries" yaml:"max_retries"`
	RetryBackoffSeconds  int          `json:"retry_backoff_seconds" yaml:"retry_backoff_seconds"`
}

// BatchInterval returns the flush interval as a duration.
func (d Delivery) BatchInterval() time.Duration {
	return time.Duration(d.BatchIntervalSeconds) * time.Second
}

// RetryBackoff returns the base retry delay as a duration.
func (d Delivery) RetryBackoff() time.Duration {
	return time.Duration(d.RetryBackoffSeconds) * time.Second
}

// EffectiveBatchSize is 1 in realtime mode and BatchSize otherwise.
func (d Delivery) EffectiveBatchSize() int {
	if d.Mode == DeliveryModeRealtime || d.BatchSize < 1 {
		return 1
	}
	return d.BatchSize
}

// DataStream is a team's subscription to one destination.
type DataStream struct {
	ID           string       `json:"id"`
	TeamID       string       `json:"team_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Destination  Destination  `json:"destination"`
	Schema       SchemaConfig `json:"schema"`
	Filters      Filters      `json:"filters"`
	Partitioning Partitioning `json:"partitioning"`
	Delivery     Delivery     `json:"delivery"`
	Status       StreamStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	LastSyncAt   *time.Time   `json:"last_sync_at,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// StreamDefinition is the caller-supplied part of a stream, used on create.
type StreamDefinition struct {
	Name         string       `json:"name" yaml:"name"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Destination  Destination  `json:"destination" yaml:"destination"`
	Schema       SchemaConfig `json:"schema" yaml:"schema"`
	Filters      Filters      `json:"filters" yaml:"filters"`
	Partitioning Partitioning `json:"partitioning" yaml:"partitioning"`
	Delivery     Delivery     `json:"delivery" yaml:"delivery"`
}

// NewStreamDefinition returns a definition carrying the service defaults.
// Decode requests into it so absent fields keep their defaults.
func NewStreamDefinition() StreamDefinition {
	return StreamDefinition{
		Schema:       SchemaConfig{Mode: SchemaModeAuto},
		Filters:      Filters{ExcludeBots: true},
		Partitioning: Partitioning{Enabled: true, Pattern: DefaultPartitionPattern},
		Delivery:     DefaultDelivery(),
	}
}

// DefaultDelivery returns the batch settings applied to new streams.
func DefaultDelivery() Delivery {
	return Delivery{
		Mode:                 DeliveryModeBatch,
		BatchSize:            1000,
		BatchIntervalSeconds: 60,
		MaxRetries:           3,
		RetryBackoffSeconds:  30,
	}
}

// StreamUpdate is a partial update. Nil fields are left untouched.
type StreamUpdate struct {
	Name         *string       `json:"name,omitempty"`
	Description  *string       `json:"description,omitempty"`
	Destination  *Destination  `json:"destination,omitempty"`
	Schema       *SchemaConfig `json:"schema,omitempty"`
	Filters      *Filters      `json:"filters,omitempty"`
	Partitioning *Partitioning `json:"partitioning,omitempty"`
	Delivery     *Delivery     `json:"delivery,omitempty"`
}

// Apply copies every present field of u onto s.
func (u StreamUpdate) Apply(s *DataStream) {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.Description != nil {
		s.Description = *u.Description
	}
	if u.Destination != nil {
		s.Destination = *u.Destination
	}
	if u.Schema != nil {
		s.Schema = *u.Schema
	}
	if u.Filters != nil {
		s.Filters = *u.Filters
	}
	if u.Partitioning != nil {
		s.Partitioning = *u.Partitioning
	}
	if u.Delivery != nil {
		s.Delivery = *u.Delivery
	}
}

// Definition returns the caller-editable part of the stream.
func (s *DataStream) Definition() StreamDefinition {
	return StreamDefinition{
		Name:         s.Name,
		Description:  s.Description,
		Destination:  s.Destination,
		Schema:       s.Schema,
		Filters:      s.Filters,
		Partitioning: s.Partitioning,
		Delivery:     s.Delivery,
	}
}

// SetStatus moves the stream to status, keeping ErrorMessage non-empty
// exactly when the status is error.
func (s *DataStream) SetStatus(status StreamStatus, message string) {
	s.Status = status
	if status == StreamStatusError {
		if message == "" {
			message = "unknown error"
		}
		s.ErrorMessage = message
		return
	}
	s.ErrorMessage = ""
}
