package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, QueueRedis, cfg.Queue.Backend)
	assert.Equal(t, time.Second, cfg.Queue.PopTimeout)
	assert.Equal(t, "clicks", cfg.ClickHouse.Table)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, models.DefaultDelivery(), cfg.Defaults.Delivery())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeFile(t, "datastream.yaml", `
service:
  environment: staging
redis:
  addr: redis.internal:6379
  db: 2
queue:
  backend: memory
  pop_timeout: 250ms
ingest:
  enabled: true
  brokers: ["k1:9092"]
defaults:
  batch_size: 500
`)
	t.Setenv("DATASTREAM_REDIS_ADDR", "redis.override:6380")
	t.Setenv("DATASTREAM_DEFAULTS_MAX_RETRIES", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Service.Environment)
	assert.Equal(t, "redis.override:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, QueueMemory, cfg.Queue.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.PopTimeout)
	assert.Equal(t, []string{"k1:9092"}, cfg.Ingest.Brokers)
	assert.Equal(t, "clicks", cfg.Ingest.Topic)
	assert.Equal(t, 500, cfg.Defaults.BatchSize)
	assert.Equal(t, 7, cfg.Defaults.MaxRetries)
	assert.Equal(t, 60, cfg.Defaults.BatchIntervalSeconds)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
queue:
  backend: kafka
ingest:
  enabled: true
defaults:
  batch_size: 0
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "queue.backend must be redis or memory")
	assert.Contains(t, err.Error(), "ingest.brokers is required")
	assert.Contains(t, err.Error(), "defaults.batch_size must be positive")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestParseStreamExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("CLICKS_SECRET", "s3cr3t")

	sf, err := ParseStream([]byte(`
team_id: team-1
name: clicks to s3
destination:
  type: s3
  s3:
    bucket: clicks
    access_key_id: AKIA
    secret_access_key: ${CLICKS_SECRET}
filters:
  countries: [US, CA]
`))
	require.NoError(t, err)

	assert.Equal(t, "team-1", sf.TeamID)
	assert.Equal(t, "clicks to s3", sf.Name)
	require.NotNil(t, sf.Destination.S3)
	assert.Equal(t, "s3cr3t", sf.Destination.S3.SecretAccessKey)
	assert.Equal(t, "us-east-1", sf.Destination.S3.Region)
	assert.Equal(t, models.FormatParquet, sf.Destination.S3.FileFormat)
	assert.Equal(t, []string{"US", "CA"}, sf.Filters.Countries)
	assert.True(t, sf.Filters.ExcludeBots)
	assert.Equal(t, models.DefaultDelivery(), sf.Delivery)
	assert.True(t, sf.Partitioning.Enabled)
	require.NoError(t, sf.Validate())
}

func TestStreamRoundTripThroughFile(t *testing.T) {
	sf := &StreamFile{TeamID: "team-9", StreamDefinition: models.NewStreamDefinition()}
	sf.Name = "hook"
	sf.Destination = models.Destination{Type: models.DestinationHTTP, HTTP: &models.HTTPConfig{URL: "https://hooks.example.com"}}

	path := filepath.Join(t.TempDir(), "stream.yaml")
	require.NoError(t, SaveStream(path, sf))

	loaded, err := LoadStream(path)
	require.NoError(t, err)
	assert.Equal(t, "team-9", loaded.TeamID)
	assert.Equal(t, "hook", loaded.Name)
	assert.Equal(t, "POST", loaded.Destination.HTTP.Method)
}

func TestLoadStreamWithConfiguredDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: hook
destination:
  type: http
  http:
    url: https://hooks.example.com
delivery:
  max_retries: 9
`), 0o600))

	defaults := DefaultsConfig{BatchSize: 250, BatchIntervalSeconds: 10, MaxRetries: 1, RetryBackoffSeconds: 5}
	sf, err := LoadStreamWithDefaults(path, defaults.Delivery())
	require.NoError(t, err)

	assert.Equal(t, 250, sf.Delivery.BatchSize)
	assert.Equal(t, 10, sf.Delivery.BatchIntervalSeconds)
	assert.Equal(t, 9, sf.Delivery.MaxRetries)
	assert.Equal(t, 5, sf.Delivery.RetryBackoffSeconds)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("A", "1")
	assert.Equal(t, "x=1 y= z", substituteEnvVars("x=${A} y=${MISSING_VAR_X} z"))
	assert.Equal(t, "open ${brace", substituteEnvVars("open ${brace"))
}
