package models

// DestinationType identifies a sink implementation.
type DestinationType string

const (
	DestinationBigQuery  DestinationType = "bigquery"
	DestinationRedshift  DestinationType = "redshift"
	DestinationSnowflake DestinationType = "snowflake"
	DestinationS3        DestinationType = "s3"
	DestinationGCS       DestinationType = "gcs"
	DestinationAzureBlob DestinationType = "azure_blob"
	DestinationKafka     DestinationType = "kafka"
	DestinationHTTP      DestinationType = "http"
)

// DestinationTypes lists every supported destination in display order.
var DestinationTypes = []DestinationType{
	DestinationBigQuery,
	DestinationRedshift,
	DestinationSnowflake,
	DestinationS3,
	DestinationGCS,
	DestinationAzureBlob,
	DestinationKafka,
	DestinationHTTP,
}

// FileFormat is the serialization used by object-store destinations.
type FileFormat string

const (
	FormatJSON    FileFormat = "json"
	FormatNDJSON  FileFormat = "ndjson"
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)

// CompressionType is the codec applied after serialization.
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionGzip   CompressionType = "gzip"
	CompressionLZ4    CompressionType = "lz4"
	CompressionSnappy CompressionType = "snappy"
)

// Destination is a tagged union: Type selects which variant is populated.
type Destination struct {
	Type      DestinationType  `json:"type" yaml:"type"`
	BigQuery  *BigQueryConfig  `json:"bigquery,omitempty" yaml:"bigquery,omitempty"`
	Redshift  *RedshiftConfig  `json:"redshift,omitempty" yaml:"redshift,omitempty"`
	Snowflake *SnowflakeConfig `json:"snowflake,omitempty" yaml:"snowflake,omitempty"`
	S3        *S3Config        `json:"s3,omitempty" yaml:"s3,omitempty"`
	GCS       *GCSConfig       `json:"gcs,omitempty" yaml:"gcs,omitempty"`
	AzureBlob *AzureBlobConfig `json:"azure_blob,omitempty" yaml:"azure_blob,omitempty"`
	Kafka     *KafkaConfig     `json:"kafka,omitempty" yaml:"kafka,omitempty"`
	HTTP      *HTTPConfig      `json:"http,omitempty" yaml:"http,omitempty"`
}

// BigQueryConfig targets one BigQuery table.
type BigQueryConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	DatasetID       string `json:"dataset_id" yaml:"dataset_id"`
	TableID         string `json:"table_id" yaml:"table_id"`
	Location        string `json:"location,omitempty" yaml:"location,omitempty"`
	CredentialsJSON string `json:"credentials_json,omitempty" yaml:"credentials_json,omitempty"`
	CredentialsPath string `json:"credentials_path,omitempty" yaml:"credentials_path,omitempty"`
}

// RedshiftConfig targets one Redshift table over the Postgres protocol.
type RedshiftConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Database   string `json:"database" yaml:"database"`
	SchemaName string `json:"schema_name" yaml:"schema_name"`
	TableName  string `json:"table_name" yaml:"table_name"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	IAMRole    string `json:"iam_role,omitempty" yaml:"iam_role,omitempty"`
	SSLMode    string `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
}

// SnowflakeConfig targets one Snowflake table.
type SnowflakeConfig struct {
	Account    string `json:"account" yaml:"account"`
	Warehouse  string `json:"warehouse" yaml:"warehouse"`
	Database   string `json:"database" yaml:"database"`
	SchemaName string `json:"schema_name" yaml:"schema_name"`
	TableName  string `json:"table_name" yaml:"table_name"`
	User       string `json:"user" yaml:"user"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	Role       string `json:"role,omitempty" yaml:"role,omitempty"`
}

// S3Config targets an S3 or S3-compatible bucket.
type S3Config struct {
	Bucket          string          `json:"bucket" yaml:"bucket"`
	Prefix          string          `json:"prefix" yaml:"prefix"`
	Region          string          `json:"region" yaml:"region"`
	AccessKeyID     string          `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string          `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	RoleARN         string          `json:"role_arn,omitempty" yaml:"role_arn,omitempty"`
	EndpointURL     string          `json:"endpoint_url,omitempty" yaml:"endpoint_url,omitempty"`
	FileFormat      FileFormat      `json:"file_format" yaml:"file_format"`
	Compression     CompressionType `json:"compression" yaml:"compression"`
}

// GCSConfig targets a Google Cloud Storage bucket.
type GCSConfig struct {
	BucketName      string          `json:"bucket_name" yaml:"bucket_name"`
	Prefix          string          `json:"prefix" yaml:"prefix"`
	ProjectID       string          `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	CredentialsJSON string          `json:"credentials_json,omitempty" yaml:"credentials_json,omitempty"`
	CredentialsPath string          `json:"credentials_path,omitempty" yaml:"credentials_path,omitempty"`
	FileFormat      FileFormat      `json:"file_format" yaml:"file_format"`
	Compression     CompressionType `json:"compression" yaml:"compression"`
}

// AzureBlobConfig targets an Azure Blob Storage container.
type AzureBlobConfig struct {
	AccountName      string          `json:"account_name" yaml:"account_name"`
	ContainerName    string          `json:"container_name" yaml:"container_name"`
	Prefix           string          `json:"prefix" yaml:"prefix"`
	AccountKey       string          `json:"account_key,omitempty" yaml:"account_key,omitempty"`
	SASToken         string          `json:"sas_token,omitempty" yaml:"sas_token,omitempty"`
	ConnectionString string          `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`
	FileFormat       FileFormat      `json:"file_format" yaml:"file_format"`
	Compression      CompressionType `json:"compression" yaml:"compression"`
}

// KafkaConfig targets one Kafka topic.
type KafkaConfig struct {
	BootstrapServers string `json:"bootstrap_servers" yaml:"bootstrap_servers"`
	Topic            string `json:"topic" yaml:"topic"`
	SecurityProtocol string `json:"security_protocol" yaml:"security_protocol"`
	SASLMechanism    string `json:"sasl_mechanism,omitempty" yaml:"sasl_mechanism,omitempty"`
	SASLUsername     string `json:"sasl_username,omitempty" yaml:"sasl_username,omitempty"`
	SASLPassword     string `json:"sasl_password,omitempty" yaml:"sasl_password,omitempty"`
}

// HTTP auth types.
const (
	HTTPAuthNone   = "none"
	HTTPAuthBasic  = "basic"
	HTTPAuthBearer = "bearer"
	HTTPAuthAPIKey = "api_key"
)

// HTTPConfig targets a webhook endpoint.
type HTTPConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Method         string            `json:"method" yaml:"method"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	AuthType       string            `json:"auth_type" yaml:"auth_type"`
	AuthValue      string            `json:"auth_value,omitempty" yaml:"auth_value,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
	RetryCount     int               `json:"retry_count" yaml:"retry_count"`
}

// ApplyDefaults fills zero-valued optional fields of the active variant
// with the service defaults.
func (d *Destination) ApplyDefaults() {
	switch {
	case d.Redshift != nil:
		if d.Redshift.Port == 0 {
			d.Redshift.Port = 5439
		}
		if d.Redshift.SchemaName == "" {
			d.Redshift.SchemaName = "public"
		}
	case d.Snowflake != nil:
		if d.Snowflake.SchemaName == "" {
			d.Snowflake.SchemaName = "PUBLIC"
		}
	case d.S3 != nil:
		if d.S3.Region == "" {
			d.S3.Region = "us-east-1"
		}
		d.S3.FileFormat, d.S3.Compression = fileDefaults(d.S3.FileFormat, d.S3.Compression)
	case d.GCS != nil:
		d.GCS.FileFormat, d.GCS.Compression = fileDefaults(d.GCS.FileFormat, d.GCS.Compression)
	case d.AzureBlob != nil:
		d.AzureBlob.FileFormat, d.AzureBlob.Compression = fileDefaults(d.AzureBlob.FileFormat, d.AzureBlob.Compression)
	case d.Kafka != nil:
		if d.Kafka.SecurityProtocol == "" {
			d.Kafka.SecurityProtocol = "PLAINTEXT"
		}
	case d.HTTP != nil:
		if d.HTTP.Method == "" {
			d.HTTP.Method = "POST"
		}
		if d.HTTP.AuthType == "" {
			d.HTTP.AuthType = HTTPAuthNone
		}
		if d.HTTP.TimeoutSeconds == 0 {
			d.HTTP.TimeoutSeconds = 30
		}
		if d.HTTP.RetryCount == 0 {
			d.HTTP.RetryCount = 3
		}
	}
}

func fileDefaults(f FileFormat, c CompressionType) (FileFormat, CompressionType) {
	if f == "" {
		f = FormatParquet
	}
	if c == "" {
		c = CompressionGzip
	}
	return f, c
}

// ObjectStoreFormat returns the file format and compression of an
// object-store destination. ok is false for row or message destinations.
func (d *Destination) ObjectStoreFormat() (FileFormat, CompressionType, bool) {
	switch {
	case d.Type == DestinationS3 && d.S3 != nil:
		return d.S3.FileFormat, d.S3.Compression, true
	case d.Type == DestinationGCS && d.GCS != nil:
		return d.GCS.FileFormat, d.GCS.Compression, true
	case d.Type == DestinationAzureBlob && d.AzureBlob != nil:
		return d.AzureBlob.FileFormat, d.AzureBlob.Compression, true
	}
	return "", "", false
}
