// SPDX-License-Identifier: MIT
package transport

import (
	applog "locator/internal/log"
	"locator/internal/tdoa"
)

// LoggingTransport implements the Transport interface by logging every
// snapshot at debug level.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs one line per pair result. Other payloads are logged by type.
func (lt *LoggingTransport) Send(data any) error {
	if !applog.Enabled(applog.LevelDebug) {
		return nil
	}

	snap, ok := data.(*tdoa.Snapshot)
	if !ok {
		applog.Debugf("LOG_TRANSPORT: Received (%T)", data)
		return nil
	}
	for _, id := range tdoa.SortedPairIDs(snap.Results) {
		e := snap.Results[id]
		applog.Debugf("LOG_TRANSPORT: #%d %s delay=%d (%.3fms) confidence=%.2f peak=%.3f",
			snap.Seq, id, e.Result.DelaySamples, e.Result.DelaySeconds*1000,
			e.Result.Confidence, e.Result.PeakValue)
	}
	return nil // Logging transport never fails to "send"
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	applog.Debugf("LOG_TRANSPORT: Close called.")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
