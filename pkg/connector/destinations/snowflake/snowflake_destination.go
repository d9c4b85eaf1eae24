// Package snowflake inserts event rows into a Snowflake table over
// database/sql, creating the table on first use.
package snowflake

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/connector/base"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/schema"
)

func init() {
	_ = registry.RegisterDestination(models.DestinationSnowflake, New)
}

const maxBindsPerStatement = 10000

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// SnowflakeDestination writes rows with multi-row INSERT ... SELECT
// statements.
type SnowflakeDestination struct {
	*base.BaseConnector

	cfg     models.SnowflakeConfig
	columns []models.SchemaField

	db         *sql.DB
	tableReady bool
}

// New creates a Snowflake destination.
func New(cfg core.Config) (core.Connector, error) {
	return NewSnowflakeDestination(cfg)
}

// NewSnowflakeDestination creates a Snowflake destination.
func NewSnowflakeDestination(cfg core.Config) (*SnowflakeDestination, error) {
	if cfg.Destination.Snowflake == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "Snowflake configuration is required")
	}
	return &SnowflakeDestination{
		BaseConnector: base.NewBaseConnector(cfg),
		cfg:           *cfg.Destination.Snowflake,
		columns:       base.TableColumns(cfg),
	}, nil
}

// DriverConfig builds the gosnowflake configuration. A private key switches
// authentication to key-pair JWT.
func DriverConfig(c models.SnowflakeConfig) (*gosnowflake.Config, error) {
	cfg := &gosnowflake.Config{
		Account:      c.Account,
		User:         c.User,
		Password:     c.Password,
		Database:     c.Database,
		Schema:       c.SchemaName,
		Warehouse:    c.Warehouse,
		Role:         c.Role,
		LoginTimeout: 30 * time.Second,
		Application:  "datastream",
	}
	if c.PrivateKey != "" {
		key, err := parsePrivateKey(c.PrivateKey)
		if err != nil {
			return nil, err
		}
		cfg.Authenticator = gosnowflake.AuthTypeJwt
		cfg.PrivateKey = key
		cfg.Password = ""
	}
	return cfg, nil
}

func parsePrivateKey(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "Snowflake private_key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid Snowflake private_key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New(errors.ErrorTypeConfig, "Snowflake private_key must be an RSA key")
	}
	return key, nil
}

// Connect opens the pool and pings the account.
func (d *SnowflakeDestination) Connect(ctx context.Context) error {
	if d.IsConnected() {
		return nil
	}

	driverCfg, err := DriverConfig(d.cfg)
	if err != nil {
		return err
	}

	db := sql.OpenDB(gosnowflake.NewConnector(gosnowflake.SnowflakeDriver{}, *driverCfg))
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return base.ClassifyConnect(err, "failed to connect to Snowflake")
	}

	d.db = db
	d.tableReady = false
	d.SetConnected(true)
	d.Logger().Info("connected to Snowflake",
		zap.String("account", d.cfg.Account),
		zap.String("database", d.cfg.Database),
		zap.String("table", d.cfg.TableName))
	return nil
}

// Disconnect closes the pool.
func (d *SnowflakeDestination) Disconnect(ctx context.Context) error {
	var err error
	if d.db != nil {
		err = d.db.Close()
		d.db = nil
	}
	d.SetConnected(false)
	return err
}

// Send inserts events inside one transaction.
func (d *SnowflakeDestination) Send(ctx context.Context, events []*models.Event) (int, error) {
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
		return 0, base.Classify(err, "failed to insert rows into Snowflake")
	}
	return len(events), nil
}

func (d *SnowflakeDestination) insert(ctx context.Context, batch *schema.Batch) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	rowsPer := RowsPerStatement(len(d.columns))
	for lo := 0; lo < len(batch.Rows); lo += rowsPer {
		hi := lo + rowsPer
		if hi > len(batch.Rows) {
			hi = len(batch.Rows)
		}
		query, args, err := InsertStatement(d.tableName(), d.columns, batch.Rows[lo:hi])
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (d *SnowflakeDestination) tableName() string {
	return Ident(d.cfg.Database) + "." + Ident(d.cfg.SchemaName) + "." + Ident(d.cfg.TableName)
}

func (d *SnowflakeDestination) ensureTable(ctx context.Context) error {
	if d.tableReady {
		return nil
	}
	if _, err := d.db.ExecContext(ctx, CreateTableStatement(d.tableName(), d.columns)); err != nil {
		return base.Classify(err, "failed to create Snowflake table")
	}
	d.tableReady = true
	return nil
}

func (d *SnowflakeDestination) tableExists(ctx context.Context) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`,
		strings.ToUpper(d.cfg.SchemaName), strings.ToUpper(d.cfg.TableName)).Scan(&n)
	return n > 0, err
}

// TestConnection reports the server version and whether the table exists.
func (d *SnowflakeDestination) TestConnection(ctx context.Context) *models.TestConnectionResult {
	return base.CheckConnection(ctx, d, func(ctx context.Context) (map[string]interface{}, error) {
		var version string
		if err := d.db.QueryRowContext(ctx, "SELECT CURRENT_VERSION()").Scan(&version); err != nil {
			return nil, base.Classify(err, "version query failed")
		}
		exists, err := d.tableExists(ctx)
		if err != nil {
			return nil, base.Classify(err, "table lookup failed")
		}
		return map[string]interface{}{
			"account":      d.cfg.Account,
			"database":     d.cfg.Database,
			"schema":       d.cfg.SchemaName,
			"table":        d.cfg.TableName,
			"table_exists": exists,
			"version":      version,
		}, nil
	})
}

// Ident renders a Snowflake identifier. Plain names stay unquoted so they
// resolve case-insensitively.
func Ident(name string) string {
	if plainIdent.MatchString(name) {
		return name
	}
	return base.QuoteIdent(name)
}

func sqlType(t models.FieldType) string {
	switch t {
	case models.FieldTypeInt64:
		return "NUMBER(38,0)"
	case models.FieldTypeFloat64:
		return "FLOAT"
	case models.FieldTypeBoolean:
		return "BOOLEAN"
	case models.FieldTypeTimestamp:
		return "TIMESTAMP_NTZ"
	case models.FieldTypeJSON:
		return "VARIANT"
	default:
		return "VARCHAR"
	}
}

// CreateTableStatement returns the CREATE TABLE IF NOT EXISTS statement
// for columns.
func CreateTableStatement(table string, columns []models.SchemaField) string {
	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		def := Ident(c.Name) + " " + sqlType(c.Type)
		if c.Mode == models.FieldModeRequired {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, "_loaded_at TIMESTAMP_NTZ DEFAULT CURRENT_TIMESTAMP()")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", table, strings.Join(defs, ",\n  "))
}

// RowsPerStatement bounds the bind count of one INSERT.
func RowsPerStatement(columns int) int {
	if columns <= 0 {
		return 1
	}
	n := maxBindsPerStatement / columns
	if n < 1 {
		return 1
	}
	return n
}

// InsertStatement builds a multi-row INSERT ... SELECT FROM VALUES with
// positional binds. JSON and timestamp columns travel as strings and are
// converted server side.
func InsertStatement(table string, columns []models.SchemaField, rows []map[string]interface{}) (string, []interface{}, error) {
	names := make([]string, len(columns))
	selects := make([]string, len(columns))
	for i, c := range columns {
		names[i] = Ident(c.Name)
		ref := fmt.Sprintf("column%d", i+1)
		switch c.Type {
		case models.FieldTypeJSON:
			selects[i] = "PARSE_JSON(" + ref + ")"
		case models.FieldTypeTimestamp:
			selects[i] = "TO_TIMESTAMP_NTZ(" + ref + ")"
		default:
			selects[i] = ref
		}
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	tuples := make([]string, len(rows))
	args := make([]interface{}, 0, len(rows)*len(columns))
	for r, row := range rows {
		tuples[r] = placeholder
		for _, c := range columns {
			v, err := bindValue(row[c.Name], c.Type)
			if err != nil {
				return "", nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode column "+c.Name)
			}
			args = append(args, v)
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM VALUES %s",
		table, strings.Join(names, ", "), strings.Join(selects, ", "), strings.Join(tuples, ", "))
	return query, args, nil
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
