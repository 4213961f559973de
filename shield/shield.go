// Package shield holds the HTTP middleware in front of the jsonwatch status
// API.
package shield

import (
	"log/slog"
	"net/http"
)

// Stack returns the standard middleware stack for the status API, outermost
// first.
func Stack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		RequestID(logger),
	}
}
