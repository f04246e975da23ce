package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/taskctl/remotetask/internal/logger"
	"github.com/taskctl/remotetask/internal/metrics"
)

// RequestLogger returns a middleware that logs every admin HTTP request at
// debug level and records it on the HTTPRequestDuration/HTTPRequestsTotal
// metrics.
func RequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", duration).
				Str("remote_addr", r.RemoteAddr).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("admin request handled")

			metrics.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(status), duration.Seconds())
		})
	}
}
