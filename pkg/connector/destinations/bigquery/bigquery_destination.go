// Package bigquery streams event rows into a BigQuery table, creating the
// table on first use.
package bigquery

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/datastream/pkg/connector/base"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/schema"
)

func init() {
	_ = registry.RegisterDestination(models.DestinationBigQuery, New)
}

// BigQueryDestination inserts rows with the streaming Inserter.
type BigQueryDestination struct {
	*base.BaseConnector

	cfg        models.BigQueryConfig
	columns    []models.SchemaField
	clientOpts []option.ClientOption

	client   *bigquery.Client
	table    *bigquery.Table
	inserter *bigquery.Inserter

	tableReady bool
}

// Option customizes a BigQueryDestination.
type Option func(*BigQueryDestination)

// WithClientOptions appends Google API client options, e.g. an endpoint.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(d *BigQueryDestination) { d.clientOpts = append(d.clientOpts, opts...) }
}

// New creates a BigQuery destination.
func New(cfg core.Config) (core.Connector, error) {
	return NewBigQueryDestination(cfg)
}

// NewBigQueryDestination creates a BigQuery destination with options applied.
func NewBigQueryDestination(cfg core.Config, opts ...Option) (*BigQueryDestination, error) {
	if cfg.Destination.BigQuery == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "BigQuery configuration is required")
	}
	d := &BigQueryDestination{
		BaseConnector: base.NewBaseConnector(cfg),
		cfg:           *cfg.Destination.BigQuery,
		columns:       base.TableColumns(cfg),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Connect creates the client and table handle. The table is not touched
// until the first Send.
func (d *BigQueryDestination) Connect(ctx context.Context) error {
	if d.IsConnected() {
		return nil
	}

	opts := append([]option.ClientOption(nil), d.clientOpts...)
	switch {
	case d.cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(d.cfg.CredentialsJSON)))
	case d.cfg.CredentialsPath != "":
		opts = append(opts, option.WithCredentialsFile(d.cfg.CredentialsPath))
	}

	client, err := bigquery.NewClient(ctx, d.cfg.ProjectID, opts...)
	if err != nil {
		return base.ClassifyConnect(err, "failed to create BigQuery client")
	}
	if d.cfg.Location != "" {
		client.Location = d.cfg.Location
	}

	d.client = client
	d.table = client.Dataset(d.cfg.DatasetID).Table(d.cfg.TableID)
	d.inserter = d.table.Inserter()
	d.tableReady = false
	d.SetConnected(true)

	d.Logger().Info("connected to BigQuery",
		zap.String("project", d.cfg.ProjectID),
		zap.String("dataset", d.cfg.DatasetID),
		zap.String("table", d.cfg.TableID))
	return nil
}

// Disconnect closes the client.
func (d *BigQueryDestination) Disconnect(ctx context.Context) error {
	var err error
	if d.client != nil {
		err = d.client.Close()
		d.client = nil
		d.table = nil
		d.inserter = nil
	}
	d.SetConnected(false)
	return err
}

// Send inserts one row per event. Rows BigQuery rejects individually are
// subtracted from the returned count.
func (d *BigQueryDestination) Send(ctx context.Context, events []*models.Event) (int, error) {
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
	savers := make([]*rowSaver, len(batch.Rows))
	for i, row := range batch.Rows {
		savers[i] = &rowSaver{row: row, columns: d.columns, insertID: events[i].EventID}
	}

	start := time.Now()
	err := d.inserter.Put(ctx, savers)
	d.RecordSend(start, err)
	if err == nil {
		return len(events), nil
	}

	var multi bigquery.PutMultiError
	if stderrors.As(err, &multi) {
		failed := len(multi)
		d.Logger().Error("BigQuery rejected rows", zap.Int("failed", failed), zap.Error(err))
		if failed >= len(events) {
			return 0, errors.Wrap(err, errors.ErrorTypeRejected, "BigQuery rejected every row")
		}
		return len(events) - failed, nil
	}
	return 0, classify(err, "failed to insert rows")
}

func (d *BigQueryDestination) ensureTable(ctx context.Context) error {
	if d.tableReady {
		return nil
	}
	exists, err := d.tableExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		err = d.table.Create(ctx, &bigquery.TableMetadata{
			Schema: TableSchema(d.columns),
			TimePartitioning: &bigquery.TimePartitioning{
				Type:  bigquery.DayPartitioningType,
				Field: partitionField(d.columns),
			},
		})
		if err != nil && !isStatus(err, http.StatusConflict) {
			return classify(err, "failed to create table")
		}
		d.Logger().Info("created BigQuery table", zap.String("table", d.cfg.TableID))
	}
	d.tableReady = true
	return nil
}

func (d *BigQueryDestination) tableExists(ctx context.Context) (bool, error) {
	if _, err := d.table.Metadata(ctx); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return false, nil
		}
		return false, classify(err, "failed to read table metadata")
	}
	return true, nil
}

// TestConnection reads the table metadata and reports whether it exists.
func (d *BigQueryDestination) TestConnection(ctx context.Context) *models.TestConnectionResult {
	return base.CheckConnection(ctx, d, func(ctx context.Context) (map[string]interface{}, error) {
		exists, err := d.tableExists(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"project_id":   d.cfg.ProjectID,
			"dataset_id":   d.cfg.DatasetID,
			"table_id":     d.cfg.TableID,
			"table_exists": exists,
		}, nil
	})
}

// TableSchema maps the stream columns to a BigQuery schema.
func TableSchema(columns []models.SchemaField) bigquery.Schema {
	out := make(bigquery.Schema, 0, len(columns))
	for _, c := range columns {
		out = append(out, &bigquery.FieldSchema{
			Name:     c.Name,
			Type:     fieldType(c.Type),
			Required: c.Mode == models.FieldModeRequired,
		})
	}
	return out
}

func fieldType(t models.FieldType) bigquery.FieldType {
	switch t {
	case models.FieldTypeInt64:
		return bigquery.IntegerFieldType
	case models.FieldTypeFloat64:
		return bigquery.FloatFieldType
	case models.FieldTypeBoolean:
		return bigquery.BooleanFieldType
	case models.FieldTypeTimestamp:
		return bigquery.TimestampFieldType
	case models.FieldTypeJSON:
		return bigquery.JSONFieldType
	default:
		return bigquery.StringFieldType
	}
}

// partitionField picks the column used for DAY partitioning: "timestamp"
// when present, else the first TIMESTAMP column. Empty means ingestion time.
func partitionField(columns []models.SchemaField) string {
	first := ""
	for _, c := range columns {
		if c.Type != models.FieldTypeTimestamp {
			continue
		}
		if c.Name == "timestamp" {
			return c.Name
		}
		if first == "" {
			first = c.Name
		}
	}
	return first
}

type rowSaver struct {
	row      map[string]interface{}
	columns  []models.SchemaField
	insertID string
}

// Save implements bigquery.ValueSaver.
func (r *rowSaver) Save() (map[string]bigquery.Value, string, error) {
	out := make(map[string]bigquery.Value, len(r.columns))
	for _, c := range r.columns {
		v := r.row[c.Name]
		if v == nil {
			continue
		}
		if c.Type == models.FieldTypeJSON {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, "", err
			}
			v = string(b)
		}
		out[c.Name] = v
	}
	return out, r.insertID, nil
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return stderrors.As(err, &gerr) && gerr.Code == code
}

func classify(err error, message string) error {
	var gerr *googleapi.Error
	if stderrors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return errors.Wrap(err, errors.ErrorTypeDelivery, message)
		case gerr.Code >= 400:
			return errors.Wrap(err, errors.ErrorTypeRejected, message)
		}
	}
	return base.Classify(err, message)
}
