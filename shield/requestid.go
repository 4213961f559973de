package shield

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/jsonwatch/idgen"
	"github.com/hazyhaar/jsonwatch/kit"
)

// maxRequestIDLen bounds a client-supplied X-Request-ID.
const maxRequestIDLen = 128

// RequestID keeps a caller's X-Request-ID (or generates one), stores it with
// kit.WithRequestID, echoes it in the response and logs the request.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > maxRequestIDLen {
				id = idgen.New()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := kit.WithTransport(kit.WithRequestID(r.Context(), id), "http")

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.Debug("shield: request",
				"request_id", id, "method", r.Method, "path", r.URL.Path,
				"remote_addr", r.RemoteAddr, "duration", time.Since(start))
		})
	}
}
