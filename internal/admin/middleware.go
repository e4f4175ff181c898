package admin

import (
	"net/http"
	"time"

	"dynamic-datasource/internal/common/logging"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs each admin request with method, path, status and duration.
func LoggingMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	logger = logging.OrGlobal(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", wrapped.statusCode),
				logging.Duration("duration", time.Since(start)),
				logging.String("remote_addr", r.RemoteAddr),
			}
			if r.URL.RawQuery != "" {
				fields = append(fields, logging.String("query", r.URL.RawQuery))
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.Error("Admin request completed", nil, fields...)
			case wrapped.statusCode >= 400:
				logger.Warn("Admin request completed", fields...)
			default:
				logger.Debug("Admin request completed", fields...)
			}
		})
	}
}
