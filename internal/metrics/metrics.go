// Package metrics defines the write-only sink the manager reports into.
// All writes are fire-and-forget: a sink implementation must never block or
// fail a tool call.
package metrics

import (
	"toolgate/internal/api"
)

// Sink receives execution and connection records. Implementations must be
// safe for concurrent use.
type Sink interface {
	// RecordToolExecution records one wrapped tool invocation.
	RecordToolExecution(exec api.ToolExecution)
	// RecordConnectionAttempt records one initialization attempt outcome
	// for a managed server.
	RecordConnectionAttempt(serverKey string, success bool)
}

// Noop discards all records. It is the default sink when metrics are not
// configured.
type Noop struct{}

func (Noop) RecordToolExecution(api.ToolExecution) {}
func (Noop) RecordConnectionAttempt(string, bool)  {}

var _ Sink = Noop{}
