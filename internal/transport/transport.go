// SPDX-License-Identifier: MIT
//
// Package transport publishes locator results to external consumers. Every
// Transport can be handed to a tdoa.Runner as a sink.
package transport

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}
