// Package connector groups the destination connectors of datastream.
//
// # Layout
//
//   - core: the Connector interface, its Config and the chunked SendBatch
//     helper
//   - base: shared connector plumbing: connection state, retry policy,
//     error classification, payload serialization and table naming
//   - registry: maps destination types to factories; the processor and the
//     backfill engine build connectors through it
//   - destinations: one package per destination type; importing
//     destinations registers all of them
//
// # Writing a connector
//
// A connector embeds base.BaseConnector, implements Connect, Send,
// Disconnect and TestConnection, and registers a factory in its package
// init:
//
//	func init() {
//	    _ = registry.RegisterDestination(models.DestinationHTTP, New)
//	}
//
// Send returns the number of events accepted. Any error means the batch
// was not delivered and the processor may retry it, so Send must be safe
// to call again with the same events.
package connector
