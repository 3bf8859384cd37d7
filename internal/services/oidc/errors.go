package oidc

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mocko-designs/gateway/internal/response"
)

// Kind classifies why a token was rejected
type Kind string

const (
	KindNoToken             Kind = "NoToken"
	KindTokenExtremelyStale Kind = "TokenExtremelyStale"
	KindTokenExpired        Kind = "TokenExpired"
	KindTokenTooEarly       Kind = "TokenTooEarly"
	KindInvalidAudience     Kind = "InvalidAudience"
	KindInvalidToken        Kind = "InvalidToken"
)

// Code returns the wire-level error code for the kind
func (k Kind) Code() string {
	switch k {
	case KindNoToken:
		return response.CodeNoToken
	case KindTokenExtremelyStale:
		return response.CodeTokenExtremelyStale
	case KindTokenExpired:
		return response.CodeTokenExpired
	case KindTokenTooEarly:
		return response.CodeTokenTooEarly
	case KindInvalidAudience:
		return response.CodeInvalidAudience
	default:
		return response.CodeInvalidToken
	}
}

// Status is always 401; auth failures are never retried by the gateway
func (k Kind) Status() int {
	return http.StatusUnauthorized
}

// AuthError is a classified token rejection
type AuthError struct {
	Kind    Kind
	Message string
	Details string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Problem converts the error into the response envelope
func (e *AuthError) Problem() response.Problem {
	return response.Problem{
		Status:  e.Kind.Status(),
		Message: e.Message,
		Code:    e.Kind.Code(),
		Details: e.Details,
	}
}

func newAuthError(kind Kind, message, details string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Details: details, Err: err}
}

// NoTokenError is returned by callers that never reached the verifier
func NoTokenError() *AuthError {
	return newAuthError(KindNoToken, "No authentication token provided", "Authorization header must be 'Bearer <token>'", nil)
}

// AsAuthError extracts an AuthError from err. Unclassified errors become InvalidToken.
func AsAuthError(err error) *AuthError {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return newAuthError(KindInvalidToken, "Invalid authentication token", "", err)
}
