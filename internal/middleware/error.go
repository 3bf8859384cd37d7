package middleware

import (
	"net/http"

	logpkg "github.com/mocko-designs/gateway/internal/logger"
	"github.com/mocko-designs/gateway/internal/metrics"
	"github.com/mocko-designs/gateway/internal/response"
	"go.uber.org/zap"
)

// ErrorHandler is the outermost middleware. It installs the response tracker
// and turns panics into a 500 GATEWAY_ERROR unless a response was already started.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tracker, r := response.Track(w, r)

			defer func() {
				err := recover()
				if err == nil {
					return
				}
				// net/http aborts the connection quietly for this sentinel
				if err == http.ErrAbortHandler {
					panic(err)
				}

				metrics.PanicsRecoveredTotal.WithLabelValues("request").Inc()
				logger.Error("panic_recovered",
					zap.Any("error", err),
					zap.String("path", logpkg.SanitizePath(r.URL.Path)),
					zap.String("method", r.Method),
					zap.Bool("response_started", tracker.Written()),
				)
				response.WriteError(tracker, r, response.Problem{
					Status:  http.StatusInternalServerError,
					Message: "Internal gateway error",
					Code:    response.CodeGatewayError,
					Details: "The API Gateway encountered an unexpected error",
				})
			}()

			next.ServeHTTP(tracker, r)
		})
	}
}

// tracked returns the request's tracker, installing one around w when the
// middleware runs without ErrorHandler in front of it
func tracked(w http.ResponseWriter, r *http.Request) (http.ResponseWriter, *http.Request, *response.Tracker) {
	if t := response.FromContext(r.Context()); t != nil {
		return w, r, t
	}
	t, r := response.Track(w, r)
	return t, r, t
}
