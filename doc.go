// Package datastream delivers click events to per-team data streams.
//
// A data stream binds a team to one destination: a warehouse (BigQuery,
// Snowflake, Redshift), an object store (S3, GCS, Azure Blob), a Kafka
// topic or an HTTP endpoint. Clicks arrive from the Kafka ingest topic, are
// routed onto the queue of every active stream of their team, and a
// per-stream processor filters, batches and delivers them.
//
// # Architecture
//
//   - internal/ingest: Kafka consumer group feeding the router
//   - internal/stream: stream registry, lifecycle and event routing
//   - internal/pipeline: per-stream batch processor and event filters
//   - internal/backfill: historical replay from ClickHouse
//   - internal/store: Redis persistence for streams, stats, jobs and queues
//   - pkg/connector: destination connectors behind one interface
//   - pkg/formats, pkg/compression, pkg/partition: object-store payloads
//
// # Delivery
//
// A batch is flushed when it reaches the stream's batch size or when the
// batch interval elapses, whichever comes first. Realtime streams flush
// every event. Failed flushes are retried with exponential backoff; a
// stream whose retries are exhausted moves to error status and keeps its
// queue until it is resumed.
//
// # Usage
//
//	datastream serve --config datastream.yaml
//	datastream validate stream.yaml
//	datastream test-connection stream.yaml
package datastream
