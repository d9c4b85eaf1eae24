// Package models holds the data types shared by the datastream service:
// stream definitions, destination configurations, events, delivery
// statistics and backfill jobs.
package models

import (
	"time"
)

// Event is a single click or analytics event flowing through the pipeline.
// Well-known attributes are typed fields; anything else the producer sends
// lives in Metadata.
type Event struct {
	EventID     string    `json:"event_id"`
	TeamID      string    `json:"team_id"`
	LinkID      string    `json:"link_id"`
	ShortCode   string    `json:"short_code,omitempty"`
	CampaignID  string    `json:"campaign_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	IP          string    `json:"ip,omitempty"`
	Country     string    `json:"country,omitempty"`
	Region      string    `json:"region,omitempty"`
	City        string    `json:"city,omitempty"`
	DeviceType  string    `json:"device_type,omitempty"`
	Browser     string    `json:"browser,omitempty"`
	OS          string    `json:"os,omitempty"`
	Referrer    string    `json:"referrer,omitempty"`
	UTMSource   string    `json:"utm_source,omitempty"`
	UTMMedium   string    `json:"utm_medium,omitempty"`
	UTMCampaign string    `json:"utm_campaign,omitempty"`
	LinkTags    []string  `json:"link_tags,omitempty"`
	IsBot       bool      `json:"is_bot"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// EventFields is the column layout used when a stream runs with an auto
// schema. Order is the on-disk column order for CSV, Parquet and Avro.
var EventFields = []SchemaField{
	{Name: "event_id", Type: FieldTypeString, Mode: FieldModeRequired},
	{Name: "team_id", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "link_id", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "short_code", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "campaign_id", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "timestamp", Type: FieldTypeTimestamp, Mode: FieldModeRequired},
	{Name: "ip", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "country", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "region", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "city", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "device_type", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "browser", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "os", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "referrer", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "utm_source", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "utm_medium", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "utm_campaign", Type: FieldTypeString, Mode: FieldModeNullable},
	{Name: "link_tags", Type: FieldTypeJSON, Mode: FieldModeNullable},
	{Name: "is_bot", Type: FieldTypeBoolean, Mode: FieldModeNullable},
	{Name: "metadata", Type: FieldTypeJSON, Mode: FieldModeNullable},
}

// Field returns the value of a well-known field by its wire name, falling
// back to the metadata map. The boolean is false when the event carries no
// such field.
func (e *Event) Field(name string) (interface{}, bool) {
	switch name {
	case "event_id":
		return e.EventID, true
	case "team_id":
		return e.TeamID, true
	case "link_id":
		return e.LinkID, true
	case "short_code":
		return e.ShortCode, true
	case "campaign_id":
		return e.CampaignID, true
	case "timestamp":
		return e.Timestamp, true
	case "ip":
		return e.IP, true
	case "country":
		return e.Country, true
	case "region":
		return e.Region, true
	case "city":
		return e.City, true
	case "device_type":
		return e.DeviceType, true
	case "browser":
		return e.Browser, true
	case "os":
		return e.OS, true
	case "referrer":
		return e.Referrer, true
	case "utm_source":
		return e.UTMSource, true
	case "utm_medium":
		return e.UTMMedium, true
	case "utm_campaign":
		return e.UTMCampaign, true
	case "link_tags":
		if len(e.LinkTags) == 0 {
			return nil, true
		}
		return e.LinkTags, true
	case "is_bot":
		return e.IsBot, true
	case "metadata":
		if len(e.Metadata) == 0 {
			return nil, true
		}
		return e.Metadata, true
	}
	v, ok := e.Metadata[name]
	return v, ok
}

// HasTag reports whether the event carries any of tags.
func (e *Event) HasTag(tags []string) bool {
	for _, have := range e.LinkTags {
		for _, want := range tags {
			if have == want {
				return true
			}
		}
	}
	return false
}
