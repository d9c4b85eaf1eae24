// Package azureblob writes one blob per flush to an Azure Blob Storage
// container.
package azureblob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/connector/base"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

func init() {
	_ = registry.RegisterDestination(models.DestinationAzureBlob, New)
}

// AzureBlobDestination uploads serialized batches as block blobs.
type AzureBlobDestination struct {
	*base.BaseConnector

	cfg        models.AzureBlobConfig
	serializer *base.Serializer

	client *azblob.Client
}

// New creates an Azure Blob destination.
func New(cfg core.Config) (core.Connector, error) {
	return NewAzureBlobDestination(cfg)
}

// NewAzureBlobDestination creates an Azure Blob destination and resolves its
// serializer.
func NewAzureBlobDestination(cfg core.Config) (*AzureBlobDestination, error) {
	if cfg.Destination.AzureBlob == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "Azure Blob configuration is required")
	}
	azCfg := *cfg.Destination.AzureBlob

	serializer, err := base.NewSerializer(cfg, azCfg.Prefix, nil)
	if err != nil {
		return nil, err
	}

	return &AzureBlobDestination{
		BaseConnector: base.NewBaseConnector(cfg),
		cfg:           azCfg,
		serializer:    serializer,
	}, nil
}

// Serializer exposes the payload builder so tests can pin the clock.
func (d *AzureBlobDestination) Serializer() *base.Serializer {
	return d.serializer
}

// Connect builds the client from a connection string, a shared key or a
// SAS token, in that order.
func (d *AzureBlobDestination) Connect(ctx context.Context) error {
	if d.IsConnected() {
		return nil
	}

	client, err := d.newClient()
	if err != nil {
		return err
	}

	d.client = client
	d.SetConnected(true)
	d.Logger().Info("connected to Azure Blob", zap.String("container", d.cfg.ContainerName))
	return nil
}

func (d *AzureBlobDestination) newClient() (*azblob.Client, error) {
	if d.cfg.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(d.cfg.ConnectionString, nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid Azure connection string")
		}
		return client, nil
	}

	if d.cfg.AccountName == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "Azure Blob connection_string or account_name is required")
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", d.cfg.AccountName)

	switch {
	case d.cfg.AccountKey != "":
		cred, err := azblob.NewSharedKeyCredential(d.cfg.AccountName, d.cfg.AccountKey)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid Azure account key")
		}
		client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create Azure client")
		}
		return client, nil
	case d.cfg.SASToken != "":
		client, err := azblob.NewClientWithNoCredential(serviceURL+"?"+strings.TrimPrefix(d.cfg.SASToken, "?"), nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create Azure client")
		}
		return client, nil
	}
	return nil, errors.New(errors.ErrorTypeConfig, "Azure Blob account_key or sas_token is required with account_name")
}

// Disconnect drops the client.
func (d *AzureBlobDestination) Disconnect(ctx context.Context) error {
	d.client = nil
	d.SetConnected(false)
	return nil
}

// Send uploads events as a single block blob.
func (d *AzureBlobDestination) Send(ctx context.Context, events []*models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if err := d.EnsureConnected(ctx, d.Connect); err != nil {
		return 0, err
	}

	payload, err := d.serializer.Build(events)
	if err != nil {
		return 0, err
	}

	records := strconv.Itoa(payload.Rows)
	start := time.Now()
	_, err = d.client.UploadBuffer(ctx, d.cfg.ContainerName, payload.Key, payload.Body, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &payload.ContentType},
		Metadata:    map[string]*string{"records": &records},
	})
	d.RecordSend(start, err)
	if err != nil {
		return 0, base.Classify(err, "failed to upload to Azure Blob")
	}

	d.Logger().Info("batch uploaded to Azure Blob",
		zap.String("blob", payload.Key),
		zap.Int("records", payload.Rows),
		zap.Int("bytes", len(payload.Body)))
	return len(events), nil
}

// TestConnection reads the container properties.
func (d *AzureBlobDestination) TestConnection(ctx context.Context) *models.TestConnectionResult {
	return base.CheckConnection(ctx, d, func(ctx context.Context) (map[string]interface{}, error) {
		cc := d.client.ServiceClient().NewContainerClient(d.cfg.ContainerName)
		if _, err := cc.GetProperties(ctx, &container.GetPropertiesOptions{}); err != nil {
			return nil, base.Classify(err, "container not accessible")
		}
		return map[string]interface{}{"container": d.cfg.ContainerName}, nil
	})
}
