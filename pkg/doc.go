// Package pkg provides shared utilities for the usbserial firmware core.
//
// This package contains common functionality used by the UART driver, the
// control transfer engine and the CDC bridge, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for protocol and capacity violations
//   - The [RequestResult] verdict returned by control request handlers
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentUART, "line coding set", "baud", 115200)
//
// # Errors
//
// Errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrRegistryFull) {
//	    // No free control callback slot
//	}
package pkg
