// Package sl carries small slog helpers shared across the service.
package sl

import "log/slog"

// Err renders an error as a structured log attribute.
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}
