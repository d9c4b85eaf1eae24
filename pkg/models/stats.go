package models

import "time"

// StreamStats are the delivery counters of one stream.
type StreamStats struct {
	StreamID         string     `json:"stream_id"`
	EventsSent       int64      `json:"events_sent"`
	EventsFailed     int64      `json:"events_failed"`
	BytesSent        int64      `json:"bytes_sent"`
	LastEventAt      *time.Time `json:"last_event_at,omitempty"`
	LastErrorAt      *time.Time `json:"last_error_at,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
	AvgLatencyMs     float64    `json:"avg_latency_ms"`
	PeriodStart      time.Time  `json:"period_start"`
	PeriodEnd        time.Time  `json:"period_end"`
}

// TestConnectionResult is the outcome of probing a destination.
type TestConnectionResult struct {
	Success   bool                   `json:"success"`
	Message   string                 `json:"message"`
	LatencyMs float64                `json:"latency_ms"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ValidationResult lists every problem found in a destination config.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// BackfillStatus is the lifecycle state of a backfill job.
type BackfillStatus string

const (
	BackfillPending    BackfillStatus = "pending"
	BackfillProcessing BackfillStatus = "processing"
	BackfillCompleted  BackfillStatus = "completed"
	BackfillFailed     BackfillStatus = "failed"
)

// BackfillRequest asks for a historical range to be replayed. Non-empty
// filter lists replace the stream's lists for this job only.
type BackfillRequest struct {
	StartDate time.Time       `json:"start_date"`
	EndDate   time.Time       `json:"end_date"`
	Filters   *FilterOverride `json:"filters,omitempty"`
}

// FilterOverride replaces a stream's filters for one backfill. Empty lists
// and a nil ExcludeBots keep the stream's setting.
type FilterOverride struct {
	TeamIDs     []string `json:"team_ids,omitempty"`
	LinkIDs     []string `json:"link_ids,omitempty"`
	LinkTags    []string `json:"link_tags,omitempty"`
	CampaignIDs []string `json:"campaign_ids,omitempty"`
	Countries   []string `json:"countries,omitempty"`
	Devices     []string `json:"devices,omitempty"`
	ExcludeBots *bool    `json:"exclude_bots,omitempty"`
}

// BackfillJob tracks one historical replay.
type BackfillJob struct {
	ID              string         `json:"id"`
	StreamID        string         `json:"stream_id"`
	Status          BackfillStatus `json:"status"`
	Progress        float64        `json:"progress"`
	TotalEvents     int64          `json:"total_events"`
	ProcessedEvents int64          `json:"processed_events"`
	StartDate       time.Time      `json:"start_date"`
	EndDate         time.Time      `json:"end_date"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// Finished reports whether the job reached a terminal state.
func (j *BackfillJob) Finished() bool {
	return j.Status == BackfillCompleted || j.Status == BackfillFailed
}
