// Package core defines the contract every destination connector implements.
package core

import (
	"context"

	"github.com/ajitpratap0/datastream/pkg/models"
)

// Connector delivers event batches to one destination.
//
// A connector is owned by a single stream processor and is not required to
// be safe for concurrent Send calls.
type Connector interface {
	// Type returns the destination type this connector writes to.
	Type() models.DestinationType

	// Connect establishes the session with the destination.
	Connect(ctx context.Context) error

	// Disconnect releases the session. It is safe to call on a connector
	// that never connected.
	Disconnect(ctx context.Context) error

	// Send writes events and returns how many were accepted. A non-nil
	// error means the batch should be treated as not delivered.
	Send(ctx context.Context, events []*models.Event) (int, error)

	// TestConnection checks the destination. It never returns an error;
	// failures are reported in the result.
	TestConnection(ctx context.Context) *models.TestConnectionResult
}

// Config is what a factory needs to build a connector for a stream.
type Config struct {
	StreamID     string
	Destination  models.Destination
	Schema       models.SchemaConfig
	Partitioning models.Partitioning
}

// Factory builds a connector from a stream config.
type Factory func(cfg Config) (Connector, error)
