package middleware

import (
	"net/http"
	"strings"

	logpkg "github.com/mocko-designs/gateway/internal/logger"
	"github.com/mocko-designs/gateway/internal/request"
	"go.uber.org/zap"
)

// auditEvent names the audit entry for a response status, "" when the
// status is not security relevant
func auditEvent(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "security_event"
	case http.StatusTooManyRequests:
		return "rate_limit_violation"
	default:
		return ""
	}
}

// Audit records rejected and throttled requests after the handler finishes
func Audit(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w, r, tracker := tracked(w, r)
			next.ServeHTTP(w, r)

			event := auditEvent(tracker.Status())
			if event == "" {
				return
			}
			logger.Warn(event,
				zap.Int("status_code", tracker.Status()),
				zap.String("method", r.Method),
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.String("ip", logpkg.SanitizeString(request.ClientIP(r), logpkg.MaxGeneralStringLength)),
				zap.Bool("bearer_presented", strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ")),
				zap.String("user_agent", logpkg.SanitizeString(r.UserAgent(), logpkg.MaxGeneralStringLength)),
			)
		})
	}
}
