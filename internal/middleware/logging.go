package middleware

import (
	"net/http"
	"time"

	logpkg "github.com/mocko-designs/gateway/internal/logger"
	"go.uber.org/zap"
)

// Logging creates logging middleware
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			w, r, tracker := tracked(w, r)

			next.ServeHTTP(w, r)

			status := tracker.Status()
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.Int("status_code", status),
				zap.Int64("bytes", tracker.BytesWritten()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			}
			if id := w.Header().Get("X-Request-Id"); id != "" {
				fields = append(fields, zap.String("request_id", logpkg.SanitizeString(id, 64)))
			}

			if status >= http.StatusInternalServerError {
				logger.Warn("http_request", fields...)
				return
			}
			logger.Info("http_request", fields...)
		})
	}
}
