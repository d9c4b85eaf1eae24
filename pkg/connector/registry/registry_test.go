package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

type stubConnector struct{ cfg core.Config }

func (s *stubConnector) Type() models.DestinationType                       { return s.cfg.Destination.Type }
func (s *stubConnector) Connect(context.Context) error                      { return nil }
func (s *stubConnector) Disconnect(context.Context) error                   { return nil }
func (s *stubConnector) Send(context.Context, []*models.Event) (int, error) { return 0, nil }
func (s *stubConnector) TestConnection(context.Context) *models.TestConnectionResult {
	return &models.TestConnectionResult{Success: true}
}

func TestRegistryCreateAppliesDefaultsToCopy(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterDestination(models.DestinationS3, func(cfg core.Config) (core.Connector, error) {
		return &stubConnector{cfg: cfg}, nil
	}))

	dest := models.Destination{Type: models.DestinationS3, S3: &models.S3Config{Bucket: "b"}}
	c, err := r.Create(core.Config{Destination: dest})
	require.NoError(t, err)

	got := c.(*stubConnector).cfg.Destination.S3
	assert.Equal(t, "us-east-1", got.Region)
	assert.Equal(t, models.FormatParquet, got.FileFormat)
	assert.Empty(t, dest.S3.Region)
}

func TestRegistryRejectsDuplicatesAndUnknown(t *testing.T) {
	r := NewRegistry()
	factory := func(cfg core.Config) (core.Connector, error) { return &stubConnector{cfg: cfg}, nil }

	require.NoError(t, r.RegisterDestination(models.DestinationHTTP, factory))
	assert.Error(t, r.RegisterDestination(models.DestinationHTTP, factory))

	_, err := r.Create(core.Config{Destination: models.Destination{Type: "ftp"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	assert.Equal(t, []models.DestinationType{models.DestinationHTTP}, r.ListDestinations())
	assert.True(t, r.HasDestination(models.DestinationHTTP))
	assert.False(t, r.HasDestination(models.DestinationKafka))
}
