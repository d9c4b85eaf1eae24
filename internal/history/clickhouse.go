// Package history reads archived click events for backfill.
package history

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/config"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

// Query selects a closed time range, optionally narrowed to teams and
// links.
type Query struct {
	Start   time.Time
	End     time.Time
	TeamIDs []string
	LinkIDs []string
}

// Source returns archived events in timestamp order.
type Source interface {
	QueryEvents(ctx context.Context, q Query) ([]*models.Event, error)
}

// columns is the archived click layout, in scan order.
var columns = []string{
	"event_id", "team_id", "link_id", "short_code", "campaign_id", "timestamp",
	"ip", "country", "region", "city", "device_type", "browser", "os", "referrer",
	"utm_source", "utm_medium", "utm_campaign", "link_tags", "is_bot", "metadata",
}

// querier is the part of driver.Conn the store reads through.
type querier interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Ping(ctx context.Context) error
	Close() error
}

// ClickHouseStore queries the click table.
type ClickHouseStore struct {
	conn   querier
	table  string
	logger *zap.Logger
}

// Connect opens and pings a ClickHouse connection.
func Connect(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	logger.Info("connecting to clickhouse",
		zap.String("addr", addr),
		zap.String("database", cfg.Database),
		zap.Bool("tls", cfg.UseTLS))

	var tlsConfig *tls.Config
	if cfg.UseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 300,
		},
		TLS:              tlsConfig,
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxLifetime:  cfg.ConnMaxLifetime,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open ClickHouse")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping ClickHouse")
	}

	return newStore(conn, cfg.Table, logger), nil
}

// NewClickHouseStore wraps an open connection.
func NewClickHouseStore(conn driver.Conn, table string, logger *zap.Logger) *ClickHouseStore {
	return newStore(conn, table, logger)
}

func newStore(conn querier, table string, logger *zap.Logger) *ClickHouseStore {
	if table == "" {
		table = "clicks"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickHouseStore{conn: conn, table: table, logger: logger.With(zap.String("component", "history"))}
}

// Ping checks if ClickHouse is reachable
func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the ClickHouse connection
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// BuildQuery renders the range query. Team and link lists become IN
// constraints; empty lists are omitted.
func BuildQuery(table string, q Query) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE timestamp >= ? AND timestamp <= ?", strings.Join(columns, ", "), table)
	args := []any{q.Start.UTC(), q.End.UTC()}

	if len(q.TeamIDs) > 0 {
		sb.WriteString(" AND team_id IN (?)")
		args = append(args, q.TeamIDs)
	}
	if len(q.LinkIDs) > 0 {
		sb.WriteString(" AND link_id IN (?)")
		args = append(args, q.LinkIDs)
	}
	sb.WriteString(" ORDER BY timestamp")
	return sb.String(), args
}

// QueryEvents runs the range query and materializes every row.
func (s *ClickHouseStore) QueryEvents(ctx context.Context, q Query) ([]*models.Event, error) {
	query, args := BuildQuery(s.table, q)
	start := time.Now()

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "historical query failed")
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warn("failed to close rows", zap.Error(err))
		}
	}()

	var events []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "historical query failed while reading rows")
	}

	s.logger.Debug("historical query complete",
		zap.Int("rows", len(events)),
		zap.Duration("duration", time.Since(start)))
	return events, nil
}

func scanEvent(rows driver.Rows) (*models.Event, error) {
	var (
		e        models.Event
		metadata string
	)
	err := rows.Scan(
		&e.EventID, &e.TeamID, &e.LinkID, &e.ShortCode, &e.CampaignID, &e.Timestamp,
		&e.IP, &e.Country, &e.Region, &e.City, &e.DeviceType, &e.Browser, &e.OS, &e.Referrer,
		&e.UTMSource, &e.UTMMedium, &e.UTMCampaign, &e.LinkTags, &e.IsBot, &metadata,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan historical row")
	}

	e.Timestamp = e.Timestamp.UTC()
	if len(e.LinkTags) == 0 {
		e.LinkTags = nil
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid metadata on event "+e.EventID)
		}
	}
	return &e, nil
}

// CreateTableStatement is the DDL of the click archive this package reads.
func CreateTableStatement(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    event_id String,
    team_id String,
    link_id String,
    short_code String,
    campaign_id String,
    timestamp DateTime64(3, 'UTC'),
    ip String,
    country LowCardinality(String),
    region String,
    city String,
    device_type LowCardinality(String),
    browser LowCardinality(String),
    os LowCardinality(String),
    referrer String,
    utm_source String,
    utm_medium String,
    utm_campaign String,
    link_tags Array(String),
    is_bot Bool,
    metadata String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (team_id, timestamp)`, table)
}
