// Package logging provides structured logging for Corelink Core.
//
// It wraps log/slog with level parsing, output format selection, and
// default service attributes. Components derive their own logger with
// With("component", name) so every line carries its origin.
package logging
