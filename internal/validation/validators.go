package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ulule/limiter/v3"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	if err := Validate.RegisterValidation("http_url", validateHTTPURL); err != nil {
		panic(fmt.Sprintf("failed to register http_url validator: %v", err))
	}
	if err := Validate.RegisterValidation("rate_limit", validateRateLimit); err != nil {
		panic(fmt.Sprintf("failed to register rate_limit validator: %v", err))
	}
	if err := Validate.RegisterValidation("origin_list", validateOriginList); err != nil {
		panic(fmt.Sprintf("failed to register origin_list validator: %v", err))
	}
}

// validateHTTPURL accepts absolute http and https URLs with a host
func validateHTTPURL(fl validator.FieldLevel) bool {
	return ValidateHTTPURL(fl.Field().String()) == nil
}

// validateRateLimit accepts ulule formatted rates such as "100-S"; empty disables limiting
func validateRateLimit(fl validator.FieldLevel) bool {
	return ValidateRateLimit(fl.Field().String()) == nil
}

// validateOriginList accepts a comma-separated list of http(s) origins
func validateOriginList(fl validator.FieldLevel) bool {
	for _, origin := range strings.Split(fl.Field().String(), ",") {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if ValidateHTTPURL(origin) != nil {
			return false
		}
	}
	return true
}

// ValidateHTTPURL validates an upstream or JWKS URL
func ValidateHTTPURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", value, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", value)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", value)
	}
	return nil
}

// ValidateRateLimit validates a RATE_LIMIT value
func ValidateRateLimit(value string) error {
	if value == "" {
		return nil
	}
	if _, err := limiter.NewRateFromFormatted(value); err != nil {
		return fmt.Errorf("invalid rate limit %q (want e.g. 100-S, 1000-M): %w", value, err)
	}
	return nil
}
