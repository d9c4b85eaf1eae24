// Package base provides the pieces every destination connector shares:
// connection state, the connection check, payload serialization for object
// stores, error classification and the retry policy.
//
// # Usage
//
// Connectors embed BaseConnector:
//
//	type Connector struct {
//	    *base.BaseConnector
//	    client *s3.Client
//	}
//
//	func New(cfg core.Config) (core.Connector, error) {
//	    return &Connector{BaseConnector: base.NewBaseConnector(cfg)}, nil
//	}
//
// TestConnection implementations delegate to CheckConnection so that every destination
// reports latency and always disconnects.
package base

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/logger"
	"github.com/ajitpratap0/datastream/pkg/metrics"
	"github.com/ajitpratap0/datastream/pkg/models"
)

// BaseConnector holds the state common to all destinations.
type BaseConnector struct {
	config core.Config
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
}

// NewBaseConnector creates a base connector for cfg.
func NewBaseConnector(cfg core.Config) *BaseConnector {
	return &BaseConnector{
		config: cfg,
		logger: logger.Get().With(
			zap.String("connector", string(cfg.Destination.Type)),
			zap.String("stream_id", cfg.StreamID),
		),
	}
}

// Type returns the destination type.
func (bc *BaseConnector) Type() models.DestinationType {
	return bc.config.Destination.Type
}

// Config returns the stream config the connector was built from.
func (bc *BaseConnector) Config() core.Config {
	return bc.config
}

// Logger returns the connector's logger.
func (bc *BaseConnector) Logger() *zap.Logger {
	return bc.logger
}

// IsConnected reports whether a session is open.
func (bc *BaseConnector) IsConnected() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.connected
}

// SetConnected records the session state.
func (bc *BaseConnector) SetConnected(connected bool) {
	bc.mu.Lock()
	bc.connected = connected
	bc.mu.Unlock()
}

// EnsureConnected calls connect if no session is open.
func (bc *BaseConnector) EnsureConnected(ctx context.Context, connect func(context.Context) error) error {
	if bc.IsConnected() {
		return nil
	}
	return connect(ctx)
}

// RecordSend reports one destination write to the metrics registry.
func (bc *BaseConnector) RecordSend(start time.Time, err error) {
	metrics.ObserveSend(string(bc.Type()), time.Since(start), err)
}

// CheckFunc inspects an open session and returns details for the result.
type CheckFunc func(ctx context.Context) (map[string]interface{}, error)

// CheckConnection connects c, runs check and disconnects, timing the whole exchange.
// Failures are reported in the result, never returned.
func CheckConnection(ctx context.Context, c core.Connector, check CheckFunc) *models.TestConnectionResult {
	start := time.Now()
	defer func() {
		if err := c.Disconnect(ctx); err != nil {
			logger.WithContext(ctx).Debug("disconnect after connection check failed",
				zap.String("destination", string(c.Type())), zap.Error(err))
		}
	}()

	details, err := connectAndCheck(ctx, c, check)
	latency := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		return &models.TestConnectionResult{
			Success:   false,
			Message:   "Connection failed: " + errors.Describe(err),
			LatencyMs: latency,
		}
	}
	return &models.TestConnectionResult{
		Success:   true,
		Message:   "Connection successful",
		LatencyMs: latency,
		Details:   details,
	}
}

func connectAndCheck(ctx context.Context, c core.Connector, check CheckFunc) (map[string]interface{}, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	if check == nil {
		return nil, nil
	}
	return check(ctx)
}
