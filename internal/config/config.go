package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mocko-designs/gateway/internal/validation"
)

const (
	// DefaultJWKSURL is Google's signing key endpoint for ID tokens
	DefaultJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	// DefaultMaxBodyBytes caps parsed request bodies (10MB)
	DefaultMaxBodyBytes int64 = 10 << 20
)

// DefaultTokenIssuers are the issuers Google uses for ID tokens
var DefaultTokenIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Config holds gateway configuration
type Config struct {
	GoogleClientID    string        `validate:"required"`
	JWKSURL           string        `validate:"required,http_url"`
	TokenIssuers      []string      `validate:"required,min=1,dive,required"`
	DesignURL         string        `validate:"omitempty,http_url"`
	UploadURL         string        `validate:"omitempty,http_url"`
	SubscriptionURL   string        `validate:"omitempty,http_url"`
	FrontendURL       string        `validate:"required,origin_list"`
	ServerPort        string        `validate:"required,numeric"`
	MaxBodyBytes      int64         `validate:"gt=0"`
	UpstreamTimeout   time.Duration `validate:"gt=0"`
	ShutdownTimeout   time.Duration `validate:"gt=0"`
	RateLimit         string        `validate:"rate_limit"`
	RedisURL          string
	EnableHSTS        bool
	ServerDebugMode   bool
	OTELEnabled       bool
	OTELEndpoint      string

	// TrustProxyHeaders keys rate limits on X-Forwarded-For. Enable only
	// behind a proxy that overwrites the header.
	TrustProxyHeaders bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		GoogleClientID:    getEnv("GOOGLE_CLIENT_ID", ""),
		JWKSURL:           getEnv("JWKS_URL", DefaultJWKSURL),
		TokenIssuers:      getEnvList("TOKEN_ISSUERS", DefaultTokenIssuers),
		DesignURL:         getEnv("DESIGN", ""),
		UploadURL:         getEnv("UPLOAD", ""),
		SubscriptionURL:   getEnv("SUBSCRIPTION", ""),
		FrontendURL:       getEnv("FRONTEND_URL", "http://localhost:3000"),
		ServerPort:        getEnv("PORT", "5000"),
		MaxBodyBytes:      getEnvInt64("MAX_BODY_BYTES", DefaultMaxBodyBytes),
		UpstreamTimeout:   getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		RateLimit:         getEnv("RATE_LIMIT", "100-S"),
		RedisURL:          getEnv("REDIS_URL", ""),
		EnableHSTS:        getEnvBool("ENABLE_HSTS", false),
		ServerDebugMode:   getEnvBool("SERVER_DEBUG_MODE", false),
		OTELEnabled:       getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),
	}

	if cfg.GoogleClientID == "" {
		return nil, fmt.Errorf("GOOGLE_CLIENT_ID is required")
	}

	if err := validation.Validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Upstreams returns the configured upstream base URLs keyed by upstream name
func (c *Config) Upstreams() map[string]string {
	return map[string]string{
		"design":       c.DesignURL,
		"upload":       c.UploadURL,
		"subscription": c.SubscriptionURL,
	}
}

// UpstreamsFromEnv reads only the upstream base URLs, for tools that do not
// need a complete gateway configuration
func UpstreamsFromEnv() map[string]string {
	cfg := Config{
		DesignURL:       getEnv("DESIGN", ""),
		UploadURL:       getEnv("UPLOAD", ""),
		SubscriptionURL: getEnv("SUBSCRIPTION", ""),
	}
	return cfg.Upstreams()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare integers are seconds
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// getEnvList parses a comma-separated variable, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
