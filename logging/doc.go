// Package logging provides a minimal logging interface and adapters for mailmesh.
//
// The Logger interface defines the structured logging methods (Debug, Info,
// Warn, Error taking key/value pairs) that the router, orchestrator and
// dispatcher use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - MeshLogger with contextual cloning and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	unit := agent.NewParallelUnit(defaults, func(o *agent.ParallelOptions) { o.Logger = logger })
package logging
