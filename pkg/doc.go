// Package pkg provides shared utilities for the tildabridge firmware.
//
// This package contains common functionality used by the USB device stack,
// the USB classes and the bridge loop:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Optional size-rotated log files
//   - Sentinel errors, including the non-fatal [ErrWouldBlock]
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentBridge, "control lines changed", "dtr", true)
//
// # Errors
//
// Backpressure is reported with a sentinel so callers can retry on the
// next poll:
//
//	if errors.Is(err, pkg.ErrWouldBlock) {
//	    // try again next iteration
//	}
package pkg
