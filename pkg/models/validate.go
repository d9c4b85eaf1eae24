package models

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/datastream/pkg/errors"
)

var (
	validFormats = map[FileFormat]bool{
		FormatJSON: true, FormatNDJSON: true, FormatCSV: true, FormatParquet: true, FormatAvro: true,
	}
	validCompressions = map[CompressionType]bool{
		CompressionNone: true, CompressionGzip: true, CompressionLZ4: true, CompressionSnappy: true,
	}
	validHTTPMethods = map[string]bool{"GET": true, "POST": true, "PUT": true, "PATCH": true}
	validHTTPAuth    = map[string]bool{
		"": true, HTTPAuthNone: true, HTTPAuthBasic: true, HTTPAuthBearer: true, HTTPAuthAPIKey: true,
	}
)

// ValidateDestination checks that every field the destination type needs is
// present. It has no side effects and never contacts the destination.
func ValidateDestination(d Destination) ValidationResult {
	var errs []string
	required := func(value, label string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, label+" is required")
		}
	}
	files := func(name string, f FileFormat, c CompressionType) {
		if f != "" && !validFormats[f] {
			errs = append(errs, fmt.Sprintf("%s file_format %q is not supported", name, f))
		}
		if c != "" && !validCompressions[c] {
			errs = append(errs, fmt.Sprintf("%s compression %q is not supported", name, c))
		}
	}

	switch d.Type {
	case DestinationBigQuery:
		if c := d.BigQuery; c == nil {
			errs = append(errs, "BigQuery configuration is required")
		} else {
			required(c.ProjectID, "BigQuery project_id")
			required(c.DatasetID, "BigQuery dataset_id")
			required(c.TableID, "BigQuery table_id")
		}
	case DestinationRedshift:
		if c := d.Redshift; c == nil {
			errs = append(errs, "Redshift configuration is required")
		} else {
			required(c.Host, "Redshift host")
			required(c.Database, "Redshift database")
			required(c.TableName, "Redshift table_name")
			required(c.Username, "Redshift username")
			required(c.Password, "Redshift password")
		}
	case DestinationSnowflake:
		if c := d.Snowflake; c == nil {
			errs = append(errs, "Snowflake configuration is required")
		} else {
			required(c.Account, "Snowflake account")
			required(c.Warehouse, "Snowflake warehouse")
			required(c.Database, "Snowflake database")
			required(c.SchemaName, "Snowflake schema_name")
			required(c.TableName, "Snowflake table_name")
			required(c.User, "Snowflake user")
		}
	case DestinationS3:
		if c := d.S3; c == nil {
			errs = append(errs, "S3 configuration is required")
		} else {
			required(c.Bucket, "S3 bucket")
			files("S3", c.FileFormat, c.Compression)
		}
	case DestinationGCS:
		if c := d.GCS; c == nil {
			errs = append(errs, "GCS configuration is required")
		} else {
			required(c.BucketName, "GCS bucket_name")
			files("GCS", c.FileFormat, c.Compression)
		}
	case DestinationAzureBlob:
		if c := d.AzureBlob; c == nil {
			errs = append(errs, "Azure Blob configuration is required")
		} else {
			required(c.ContainerName, "Azure Blob container_name")
			if c.ConnectionString == "" && c.AccountName == "" {
				errs = append(errs, "Azure Blob connection_string or account_name is required")
			}
			files("Azure Blob", c.FileFormat, c.Compression)
		}
	case DestinationKafka:
		if c := d.Kafka; c == nil {
			errs = append(errs, "Kafka configuration is required")
		} else {
			required(c.BootstrapServers, "Kafka bootstrap_servers")
			required(c.Topic, "Kafka topic")
		}
	case DestinationHTTP:
		if c := d.HTTP; c == nil {
			errs = append(errs, "HTTP configuration is required")
		} else {
			required(c.URL, "HTTP url")
			if c.Method != "" && !validHTTPMethods[strings.ToUpper(c.Method)] {
				errs = append(errs, fmt.Sprintf("HTTP method %q is not supported", c.Method))
			}
			if !validHTTPAuth[c.AuthType] {
				errs = append(errs, fmt.Sprintf("HTTP auth_type %q is not supported", c.AuthType))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported destination type: %q", d.Type))
	}

	if errs == nil {
		return ValidationResult{Valid: true, Errors: []string{}}
	}
	return ValidationResult{Valid: false, Errors: errs}
}

// Validate checks the whole definition and returns a config error listing
// every problem, or nil.
func (def StreamDefinition) Validate() error {
	var errs []string
	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, "name is required")
	}
	if res := ValidateDestination(def.Destination); !res.Valid {
		errs = append(errs, res.Errors...)
	}
	errs = append(errs, validateDelivery(def.Delivery)...)
	errs = append(errs, validateSchema(def.Schema)...)

	if len(errs) == 0 {
		return nil
	}
	return errors.New(errors.ErrorTypeConfig, strings.Join(errs, "; ")).
		WithDetail("errors", errs)
}

func validateDelivery(d Delivery) []string {
	var errs []string
	if d.Mode != "" && d.Mode != DeliveryModeBatch && d.Mode != DeliveryModeRealtime {
		errs = append(errs, fmt.Sprintf("delivery mode %q is not supported", d.Mode))
	}
	if d.BatchSize < 1 {
		errs = append(errs, "delivery batch_size must be positive")
	}
	if d.BatchIntervalSeconds < 1 {
		errs = append(errs, "delivery batch_interval_seconds must be positive")
	}
	if d.MaxRetries < 0 {
		errs = append(errs, "delivery max_retries must not be negative")
	}
	if d.RetryBackoffSeconds < 0 {
		errs = append(errs, "delivery retry_backoff_seconds must not be negative")
	}
	return errs
}

func validateSchema(s SchemaConfig) []string {
	switch s.Mode {
	case "", SchemaModeAuto:
		return nil
	case SchemaModeCustom:
	default:
		return []string{fmt.Sprintf("schema mode %q is not supported", s.Mode)}
	}

	if len(s.Fields) == 0 {
		return []string{"custom schema requires at least one field"}
	}
	var errs []string
	for _, f := range s.Fields {
		if f.Name == "" {
			errs = append(errs, "schema field name is required")
		}
		if !f.Type.Valid() {
			errs = append(errs, fmt.Sprintf("schema field %q has unknown type %q", f.Name, f.Type))
		}
	}
	return errs
}
