package models

// DestinationInfo describes the configuration surface of one destination.
type DestinationInfo struct {
	Type           DestinationType `json:"type"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	RequiredFields []string        `json:"required_fields"`
	OptionalFields []string        `json:"optional_fields"`
}

// SupportedDestinations returns the catalog of destinations and the fields
// each one accepts.
func SupportedDestinations() []DestinationInfo {
	fileFields := []string{"prefix", "file_format", "compression"}
	return []DestinationInfo{
		{
			Type:           DestinationBigQuery,
			Name:           "Google BigQuery",
			Description:    "Google Cloud data warehouse",
			RequiredFields: []string{"project_id", "dataset_id", "table_id"},
			OptionalFields: []string{"location", "credentials_json", "credentials_path"},
		},
		{
			Type:           DestinationRedshift,
			Name:           "Amazon Redshift",
			Description:    "Amazon Redshift data warehouse",
			RequiredFields: []string{"host", "database", "table_name", "username", "password"},
			OptionalFields: []string{"port", "schema_name", "iam_role", "ssl_mode"},
		},
		{
			Type:           DestinationSnowflake,
			Name:           "Snowflake",
			Description:    "Snowflake data warehouse",
			RequiredFields: []string{"account", "warehouse", "database", "schema_name", "table_name", "user"},
			OptionalFields: []string{"password", "private_key", "role"},
		},
		{
			Type:           DestinationS3,
			Name:           "Amazon S3",
			Description:    "Amazon S3 or S3-compatible storage such as MinIO",
			RequiredFields: []string{"bucket"},
			OptionalFields: append([]string{"region", "access_key_id", "secret_access_key", "role_arn", "endpoint_url"}, fileFields...),
		},
		{
			Type:           DestinationGCS,
			Name:           "Google Cloud Storage",
			Description:    "Google Cloud Storage bucket",
			RequiredFields: []string{"bucket_name"},
			OptionalFields: append([]string{"project_id", "credentials_json", "credentials_path"}, fileFields...),
		},
		{
			Type:           DestinationAzureBlob,
			Name:           "Azure Blob Storage",
			Description:    "Azure Blob Storage container",
			RequiredFields: []string{"container_name"},
			OptionalFields: append([]string{"account_name", "account_key", "sas_token", "connection_string"}, fileFields...),
		},
		{
			Type:           DestinationKafka,
			Name:           "Apache Kafka",
			Description:    "Apache Kafka topic, one message per event",
			RequiredFields: []string{"bootstrap_servers", "topic"},
			OptionalFields: []string{"security_protocol", "sasl_mechanism", "sasl_username", "sasl_password"},
		},
		{
			Type:           DestinationHTTP,
			Name:           "HTTP Webhook",
			Description:    "HTTP or HTTPS webhook endpoint",
			RequiredFields: []string{"url"},
			OptionalFields: []string{"method", "headers", "auth_type", "auth_value", "timeout_seconds", "retry_count"},
		},
	}
}
