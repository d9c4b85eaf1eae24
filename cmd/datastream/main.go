package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/datastream/internal/stream"
	"github.com/ajitpratap0/datastream/pkg/config"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/models"

	// Register every destination connector
	_ "github.com/ajitpratap0/datastream/pkg/connector/destinations"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "datastream",
		Short: "Datastream - click event delivery to warehouses, object stores and brokers",
		Long: `Datastream routes click events to per-team data streams and delivers them
in batches to BigQuery, Snowflake, Redshift, S3, GCS, Azure Blob, Kafka or HTTP.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the service configuration YAML file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Datastream v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(
		newServeCommand(&configPath),
		newDestinationsCommand(),
		newValidateCommand(&configPath),
		newTestConnectionCommand(&configPath),
		newInitCommand(),
		newSendCommand(&configPath),
		newStreamsCommand(&configPath),
		newBackfillCommand(&configPath),
	)
	return root
}

func newDestinationsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "destinations",
		Short: "List supported destinations and their configuration fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := models.SupportedDestinations()
			if asJSON {
				return printJSON(cmd, catalog)
			}

			out := cmd.OutOrStdout()
			for _, d := range catalog {
				marker := ""
				if !registry.HasDestination(d.Type) {
					marker = " (not linked)"
				}
				fmt.Fprintf(out, "%s - %s%s\n", d.Type, d.Name, marker)
				fmt.Fprintf(out, "  required: %s\n", strings.Join(d.RequiredFields, ", "))
				if len(d.OptionalFields) > 0 {
					fmt.Fprintf(out, "  optional: %s\n", strings.Join(d.OptionalFields, ", "))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")
	return cmd
}

func newValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <stream.yaml>",
		Short: "Validate a stream definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sf, err := loadStreamFile(*configPath, args[0])
			if err != nil {
				return err
			}

			res := models.ValidateDestination(sf.Destination)
			if err := sf.Validate(); err != nil && res.Valid {
				res.Valid = false
				res.Errors = append(res.Errors, err.Error())
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("%s: invalid stream definition", args[0])
			}
			return nil
		},
	}
}

func newTestConnectionCommand(configPath *string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "test-connection <stream.yaml>",
		Short: "Connect to the destination of a stream definition and report the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sf, err := loadStreamFile(*configPath, args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res := stream.TestDestination(ctx, registry.Create, "test-connection", sf.StreamDefinition)
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("connection test failed: %s", res.Message)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Connection test timeout")
	return cmd
}

func newInitCommand() *cobra.Command {
	var destType, teamID string
	cmd := &cobra.Command{
		Use:   "init <stream.yaml>",
		Short: "Write a stream definition template for a destination type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := templateDestination(models.DestinationType(destType))
			if err != nil {
				return err
			}

			sf := &config.StreamFile{TeamID: teamID, StreamDefinition: models.NewStreamDefinition()}
			sf.Name = "clicks to " + destType
			sf.Destination = dest
			if err := config.SaveStream(args[0], sf); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&destType, "type", "t", string(models.DestinationS3), "Destination type")
	cmd.Flags().StringVar(&teamID, "team", "", "Team id the stream belongs to")
	return cmd
}

// templateDestination returns a destination of type t with its required
// fields set to ${VAR} placeholders.
func templateDestination(t models.DestinationType) (models.Destination, error) {
	d := models.Destination{Type: t}
	switch t {
	case models.DestinationS3:
		d.S3 = &models.S3Config{Bucket: "${S3_BUCKET}", Region: "us-east-1"}
	case models.DestinationGCS:
		d.GCS = &models.GCSConfig{BucketName: "${GCS_BUCKET}"}
	case models.DestinationAzureBlob:
		d.AzureBlob = &models.AzureBlobConfig{ContainerName: "clicks", ConnectionString: "${AZURE_STORAGE_CONNECTION_STRING}"}
	case models.DestinationBigQuery:
		d.BigQuery = &models.BigQueryConfig{ProjectID: "${GCP_PROJECT}", DatasetID: "analytics", TableID: "clicks"}
	case models.DestinationSnowflake:
		d.Snowflake = &models.SnowflakeConfig{
			Account:    "${SNOWFLAKE_ACCOUNT}",
			Warehouse:  "COMPUTE_WH",
			Database:   "ANALYTICS",
			SchemaName: "PUBLIC",
			TableName:  "CLICKS",
			User:       "${SNOWFLAKE_USER}",
			Password:   "${SNOWFLAKE_PASSWORD}",
		}
	case models.DestinationRedshift:
		d.Redshift = &models.RedshiftConfig{
			Host:      "${REDSHIFT_HOST}",
			Database:  "analytics",
			TableName: "clicks",
			Username:  "${REDSHIFT_USER}",
			Password:  "${REDSHIFT_PASSWORD}",
		}
	case models.DestinationKafka:
		d.Kafka = &models.KafkaConfig{BootstrapServers: "${KAFKA_BROKERS}", Topic: "clicks"}
	case models.DestinationHTTP:
		d.HTTP = &models.HTTPConfig{URL: "${WEBHOOK_URL}"}
	default:
		types := make([]string, 0)
		for _, info := range models.SupportedDestinations() {
			types = append(types, string(info.Type))
		}
		sort.Strings(types)
		return d, fmt.Errorf("unknown destination type %q, expected one of %s", t, strings.Join(types, ", "))
	}
	d.ApplyDefaults()
	return d, nil
}

// loadStreamFile reads a stream definition with the delivery defaults of
// the service configuration.
func loadStreamFile(configPath, path string) (*config.StreamFile, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return config.LoadStreamWithDefaults(path, cfg.Defaults.Delivery())
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
