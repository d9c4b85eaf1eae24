// Package destinations links every destination connector into the binary.
// Importing it registers all of them with the connector registry.
package destinations

import (
	_ "github.com/ajitpratap0/datastream/pkg/connector/destinations/azureblob"
	_ "github.com/ajitpratap0/datastream/pkg/connector/destinations/bigquery"
	_ "github.com/ajitpratap0/datastream/pkg/connector/destinations/gcs"
	_ "github.com/ajitpratap0/datastream/pkg/connector/destinations/http"
	_ "github.com/ajitpratap0/datastream/pkg/connector/destinations/kafka"
	_ "github.com/ajitpratap0/datastream/pkg/connector/destinations/redshift"
	_ "github.com/ajitpratap0/datastream/pkg/connector/destinations/s3"
	_ "github.com/ajitpratap0/datastream/pkg/connector/destinations/snowflake"
)
