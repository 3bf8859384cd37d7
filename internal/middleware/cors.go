package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

const defaultFrontendOrigin = "http://localhost:3000"

// CORS allows credentialed cross-origin requests from the configured frontend origins
func CORS(frontendURL string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   AllowedOrigins(frontendURL),
		AllowCredentials: true,
		MaxAge:           86400,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
		ExposedHeaders: []string{"X-Request-Id"},
	})
	return c.Handler
}

// AllowedOrigins parses a comma-separated origin list, dropping blanks and duplicates
func AllowedOrigins(frontendURL string) []string {
	var origins []string
	seen := make(map[string]bool)
	for _, origin := range strings.Split(frontendURL, ",") {
		trimmed := strings.TrimSuffix(strings.TrimSpace(origin), "/")
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		origins = append(origins, trimmed)
	}
	if len(origins) == 0 {
		return []string{defaultFrontendOrigin}
	}
	return origins
}
