// Package registry maps destination types to connector factories.
// Destinations register themselves from init; import
// pkg/connector/destinations to load all of them.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/logger"
	"github.com/ajitpratap0/datastream/pkg/models"
)

// Registry manages connector registration and instantiation
type Registry struct {
	destinations map[models.DestinationType]core.Factory
	mu           sync.RWMutex
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		destinations: make(map[models.DestinationType]core.Factory),
	}
}

// RegisterDestination registers a destination connector factory
func (r *Registry) RegisterDestination(t models.DestinationType, factory core.Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.destinations[t]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s already registered", t))
	}

	r.destinations[t] = factory
	logger.Debug("destination connector registered", zap.String("type", string(t)))
	return nil
}

// Create builds a connector for cfg.Destination.Type. Defaults are applied
// to a copy of the destination before the factory sees it.
func (r *Registry) Create(cfg core.Config) (core.Connector, error) {
	r.mu.RLock()
	factory, exists := r.destinations[cfg.Destination.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported destination type: %q", cfg.Destination.Type))
	}

	cfg.Destination = cloneDestination(cfg.Destination)
	cfg.Destination.ApplyDefaults()

	c, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create destination connector %s", cfg.Destination.Type))
	}
	return c, nil
}

// ListDestinations returns the registered destination types in name order
func (r *Registry) ListDestinations() []models.DestinationType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.DestinationType, 0, len(r.destinations))
	for t := range r.destinations {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasDestination checks if a destination connector is registered
func (r *Registry) HasDestination(t models.DestinationType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.destinations[t]
	return exists
}

// RegisterDestination registers a destination connector in the global registry
func RegisterDestination(t models.DestinationType, factory core.Factory) error {
	return globalRegistry.RegisterDestination(t, factory)
}

// Create builds a connector from the global registry
func Create(cfg core.Config) (core.Connector, error) {
	return globalRegistry.Create(cfg)
}

// HasDestination checks if a destination is registered in the global registry
func HasDestination(t models.DestinationType) bool {
	return globalRegistry.HasDestination(t)
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}

// cloneDestination copies the populated variant so defaults never leak
// back into the stored stream.
func cloneDestination(d models.Destination) models.Destination {
	out := d
	switch {
	case d.BigQuery != nil:
		v := *d.BigQuery
		out.BigQuery = &v
	case d.Redshift != nil:
		v := *d.Redshift
		out.Redshift = &v
	case d.Snowflake != nil:
		v := *d.Snowflake
		out.Snowflake = &v
	case d.S3 != nil:
		v := *d.S3
		out.S3 = &v
	case d.GCS != nil:
		v := *d.GCS
		out.GCS = &v
	case d.AzureBlob != nil:
		v := *d.AzureBlob
		out.AzureBlob = &v
	case d.Kafka != nil:
		v := *d.Kafka
		out.Kafka = &v
	case d.HTTP != nil:
		v := *d.HTTP
		out.HTTP = &v
	}
	return out
}
