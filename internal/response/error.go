package response

import (
	"encoding/json"
	"net/http"
	"time"
)

// Error codes shared by every error envelope the gateway emits
const (
	CodeNoToken             = "NO_TOKEN"
	CodeTokenExtremelyStale = "TOKEN_EXTREMELY_STALE"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeTokenTooEarly       = "TOKEN_TOO_EARLY"
	CodeInvalidAudience     = "INVALID_AUDIENCE"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeUpstreamError       = "UPSTREAM_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeGatewayError        = "GATEWAY_ERROR"
	CodeRateLimited         = "RATE_LIMITED"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeInvalidBody         = "INVALID_BODY"
)

// ErrorBody is the JSON envelope for every non-2xx gateway response
type ErrorBody struct {
	Error       string `json:"error"`
	Code        string `json:"code"`
	Details     string `json:"details,omitempty"`
	Timestamp   string `json:"timestamp"`
	ServiceName string `json:"serviceName,omitempty"`
}

// Problem describes an error response before it is written
type Problem struct {
	Status      int
	Message     string
	Code        string
	Details     string
	ServiceName string
}

// WriteError writes the error envelope unless a response was already started
// for the request. It reports whether it wrote anything.
func WriteError(w http.ResponseWriter, r *http.Request, p Problem) bool {
	if Written(r) {
		return false
	}

	body := ErrorBody{
		Error:       p.Message,
		Code:        p.Code,
		Details:     p.Details,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		ServiceName: p.ServiceName,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(body)
	return true
}
