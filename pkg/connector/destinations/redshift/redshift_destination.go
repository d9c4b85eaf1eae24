// Package redshift inserts event rows into Amazon Redshift over the
// Postgres wire protocol.
package redshift

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/connector/base"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/schema"
)

func init() {
	_ = registry.RegisterDestination(models.DestinationRedshift, New)
}

const maxParamsPerStatement = 30000

// RedshiftDestination writes rows as batched multi-row INSERTs.
type RedshiftDestination struct {
	*base.BaseConnector

	cfg     models.RedshiftConfig
	columns []models.SchemaField

	pool       *pgxpool.Pool
	tableReady bool
}

// New creates a Redshift destination.
func New(cfg core.Config) (core.Connector, error) {
	return NewRedshiftDestination(cfg)
}

// NewRedshiftDestination creates a Redshift destination.
func NewRedshiftDestination(cfg core.Config) (*RedshiftDestination, error) {
	if cfg.Destination.Redshift == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "Redshift configuration is required")
	}
	return &RedshiftDestination{
		BaseConnector: base.NewBaseConnector(cfg),
		cfg:           *cfg.Destination.Redshift,
		columns:       base.TableColumns(cfg),
	}, nil
}

// ConnString renders the postgres:// URL for c. ssl_mode defaults to
// require.
func ConnString(c models.RedshiftConfig) string {
	port := c.Port
	if port == 0 {
		port = 5439
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {sslMode}, "application_name": {"datastream"}}.Encode(),
	}
	return u.String()
}

// Connect opens the pool. Redshift lacks parts of the extended protocol
// pgx relies on, so queries use the simple protocol.
func (d *RedshiftDestination) Connect(ctx context.Context) error {
	if d.IsConnected() {
		return nil
	}

	poolCfg, err := pgxpool.ParseConfig(ConnString(d.cfg))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid Redshift connection settings")
	}
	poolCfg.MaxConns = 4
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	poolCfg.ConnConfig.ConnectTimeout = 15 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return base.ClassifyConnect(err, "failed to create Redshift pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return base.ClassifyConnect(err, "failed to connect to Redshift")
	}

	d.pool = pool
	d.tableReady = false
	d.SetConnected(true)
	d.Logger().Info("connected to Redshift",
		zap.String("host", d.cfg.Host),
		zap.String("database", d.cfg.Database),
		zap.String("table", d.cfg.TableName))
	return nil
}

// Disconnect closes the pool.
func (d *RedshiftDestination) Disconnect(ctx context.Context) error {
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
	d.SetConnected(false)
	return nil
}

// Send inserts events in one transaction.
func (d *RedshiftDestination) Send(ctx context.Context, events []*models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if err := d.EnsureConnected(ctx, d.Connect); err != nil {
		return 0, err
	}
	if err := d.ensureTable(ctx); err != nil {
		return 0, err
	}

	batch := schema.Project(events, models.SchemaConfig{Mode: models.SchemaModeCustom, Fields: d.columns})

	start := time.Now()
	err := d.insert(ctx, batch)
	d.RecordSend(start, err)
	if err != nil {
		return 0, base.Classify(err, "failed to insert rows into Redshift")
	}
	return len(events), nil
}

func (d *RedshiftDestination) insert(ctx context.Context, rows *schema.Batch) error {
	b, err := BuildBatch(d.tableName(), d.columns, rows.Rows)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
}

func (d *RedshiftDestination) tableName() string {
	return base.QualifiedName(d.cfg.SchemaName, d.cfg.TableName)
}

func (d *RedshiftDestination) ensureTable(ctx context.Context) error {
	if d.tableReady {
		return nil
	}
	if _, err := d.pool.Exec(ctx, CreateTableStatement(d.tableName(), d.columns)); err != nil {
		return base.Classify(err, "failed to create Redshift table")
	}
	d.tableReady = true
	return nil
}

// TestConnection reports the server version and whether the table exists.
func (d *RedshiftDestination) TestConnection(ctx context.Context) *models.TestConnectionResult {
	return base.CheckConnection(ctx, d, func(ctx context.Context) (map[string]interface{}, error) {
		var version string
		if err := d.pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
			return nil, base.Classify(err, "version query failed")
		}
		var n int64
		err := d.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
			d.cfg.SchemaName, d.cfg.TableName).Scan(&n)
		if err != nil {
			return nil, base.Classify(err, "table lookup failed")
		}
		return map[string]interface{}{
			"host":         d.cfg.Host,
			"database":     d.cfg.Database,
			"schema":       d.cfg.SchemaName,
			"table":        d.cfg.TableName,
			"table_exists": n > 0,
			"version":      version,
		}, nil
	})
}

func sqlType(t models.FieldType) string {
	switch t {
	case models.FieldTypeInt64:
		return "BIGINT"
	case models.FieldTypeFloat64:
		return "DOUBLE PRECISION"
	case models.FieldTypeBoolean:
		return "BOOLEAN"
	case models.FieldTypeTimestamp:
		return "TIMESTAMP"
	case models.FieldTypeJSON:
		return "SUPER"
	default:
		return "VARCHAR(65535)"
	}
}

// CreateTableStatement returns the CREATE TABLE IF NOT EXISTS statement
// for columns.
func CreateTableStatement(table string, columns []models.SchemaField) string {
	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		def := base.QuoteIdent(c.Name) + " " + sqlType(c.Type)
		if c.Mode == models.FieldModeRequired {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, `"_loaded_at" TIMESTAMP DEFAULT GETDATE()`)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", table, strings.Join(defs, ",\n  "))
}

// BuildBatch queues one multi-row INSERT per chunk of rows, keeping each
// statement under the bind parameter limit.
func BuildBatch(table string, columns []models.SchemaField, rows []map[string]interface{}) (*pgx.Batch, error) {
	b := &pgx.Batch{}
	if len(columns) == 0 {
		return b, nil
	}
	rowsPer := maxParamsPerStatement / len(columns)
	if rowsPer < 1 {
		rowsPer = 1
	}
	for lo := 0; lo < len(rows); lo += rowsPer {
		hi := lo + rowsPer
		if hi > len(rows) {
			hi = len(rows)
		}
		query, args, err := InsertStatement(table, columns, rows[lo:hi])
		if err != nil {
			return nil, err
		}
		b.Queue(query, args...)
	}
	return b, nil
}

// InsertStatement builds INSERT ... VALUES with numbered parameters.
// JSON columns are parsed server side into SUPER.
func InsertStatement(table string, columns []models.SchemaField, rows []map[string]interface{}) (string, []interface{}, error) {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = base.QuoteIdent(c.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(names, ", "))

	args := make([]interface{}, 0, len(rows)*len(columns))
	for r, row := range rows {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for i, c := range columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			v, err := bindValue(row[c.Name], c.Type)
			if err != nil {
				return "", nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode column "+c.Name)
			}
			args = append(args, v)
			ref := "$" + strconv.Itoa(len(args))
			if c.Type == models.FieldTypeJSON {
				ref = "JSON_PARSE(" + ref + ")"
			}
			sb.WriteString(ref)
		}
		sb.WriteByte(')')
	}
	return sb.String(), args, nil
}

func bindValue(v interface{}, t models.FieldType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case models.FieldTypeJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case models.FieldTypeTimestamp:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format("2006-01-02 15:04:05.000000"), nil
		}
		return schema.String(v), nil
	}
	return v, nil
}
