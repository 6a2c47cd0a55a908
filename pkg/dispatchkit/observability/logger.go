// Package observability provides structured logging helpers, metrics
// and tracing for dispatchkit.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"fmt"
	"log/slog"
	"time"
)

// EnrichLogger adds event context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, evt.ID(), evt.Key().Name())
//	enriched.Info("handling") // includes event_id, event_key
func EnrichLogger(logger *slog.Logger, eventID, eventKey string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("event_key", eventKey),
	)
}

// LogPublishStart logs the start of a publish.
func LogPublishStart(logger *slog.Logger, listeners int) {
	if logger == nil {
		return
	}
	logger.Debug("publish starting",
		slog.Int("listeners", listeners),
	)
}

// LogPublishComplete logs a finished publish.
func LogPublishComplete(logger *slog.Logger, durationMs float64, results int, stopped string) {
	if logger == nil {
		return
	}
	logger.Debug("publish completed",
		slog.Float64("duration_ms", durationMs),
		slog.Int("results", results),
		slog.String("stopped", stopped),
	)
}

// LogPublishError logs a publish that ended with an error.
func LogPublishError(logger *slog.Logger, err error, durationMs float64, lastListener string) {
	if logger == nil {
		return
	}
	logger.Error("publish failed",
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_listener", lastListener),
	)
}

// LogListenerError logs an isolated listener failure.
func LogListenerError(logger *slog.Logger, listenerID, stage string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("listener failed",
		slog.String("listener_id", listenerID),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
}

// LogListenerSkipped logs a listener that did not run.
func LogListenerSkipped(logger *slog.Logger, listenerID, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("listener skipped",
		slog.String("listener_id", listenerID),
		slog.String("reason", reason),
	)
}

// LogCorrelation logs how a correlation wait ended.
func LogCorrelation(logger *slog.Logger, key any, outcome string, waited time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("correlation resolved",
		slog.String("key", fmt.Sprint(key)),
		slog.String("outcome", outcome),
		slog.Float64("waited_ms", float64(waited.Milliseconds())),
	)
}

// LogSinkError logs a failure to report to an error sink (non-fatal).
func LogSinkError(logger *slog.Logger, listenerID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("error sink failed",
		slog.String("listener_id", listenerID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
