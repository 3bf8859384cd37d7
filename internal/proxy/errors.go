package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/mocko-designs/gateway/internal/response"
)

// UpstreamKind classifies why forwarding failed
type UpstreamKind string

const (
	KindConnectionRefused UpstreamKind = "connection-refused"
	KindTimeout           UpstreamKind = "timeout"
	KindNotConfigured     UpstreamKind = "not-configured"
	KindOther             UpstreamKind = "other"
)

// UpstreamError is a forwarding failure. It never maps to 401.
type UpstreamError struct {
	Kind        UpstreamKind
	ServiceName string
	Err         error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.ServiceName, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ServiceName, e.Kind)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Status is 503 when the service is down or absent, 502 otherwise
func (e *UpstreamError) Status() int {
	switch e.Kind {
	case KindConnectionRefused, KindNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Problem converts the error into the response envelope
func (e *UpstreamError) Problem() response.Problem {
	if e.Status() == http.StatusServiceUnavailable {
		details := "The service is currently experiencing issues. Please try again in a moment."
		if e.Kind == KindNotConfigured {
			details = "The service is not configured on this gateway."
		}
		return response.Problem{
			Status:      http.StatusServiceUnavailable,
			Message:     e.ServiceName + " service temporarily unavailable",
			Code:        response.CodeServiceUnavailable,
			Details:     details,
			ServiceName: e.ServiceName,
		}
	}

	details := "The upstream service returned an invalid response."
	if e.Kind == KindTimeout {
		details = "The upstream service did not respond in time."
	}
	return response.Problem{
		Status:      http.StatusBadGateway,
		Message:     e.ServiceName + " upstream error",
		Code:        response.CodeUpstreamError,
		Details:     details,
		ServiceName: e.ServiceName,
	}
}

// classifyUpstream maps a transport error onto an UpstreamKind
func classifyUpstream(serviceName string, err error) *UpstreamError {
	kind := KindOther
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = KindConnectionRefused
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &UpstreamError{Kind: kind, ServiceName: serviceName, Err: err}
}
