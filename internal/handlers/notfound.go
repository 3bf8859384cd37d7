package handlers

import (
	"fmt"
	"net/http"

	logpkg "github.com/mocko-designs/gateway/internal/logger"
	"github.com/mocko-designs/gateway/internal/response"
	"go.uber.org/zap"
)

// NotFound answers requests that match no route. It runs without authentication.
func NotFound(logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("route_not_found",
			zap.String("method", r.Method),
			zap.String("path", logpkg.SanitizePath(r.URL.Path)),
		)
		response.WriteError(w, r, response.Problem{
			Status:  http.StatusNotFound,
			Message: "Route not found",
			Code:    response.CodeNotFound,
			Details: fmt.Sprintf("The requested route %s %s was not found", r.Method, r.URL.RequestURI()),
		})
	})
}
