package request

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/mocko-designs/gateway/internal/models"
)

type contextKey string

const identityContextKey contextKey = "identity"

// IdentityContextKey exposes the identity key so tests can plant values of the wrong type
func IdentityContextKey() contextKey { return identityContextKey }

// ClientIP picks the address reported by proxy headers: the first
// X-Forwarded-For hop, then X-Real-IP, then the connection's host. The headers
// are client controlled unless a proxy in front of the gateway overwrites them.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return PeerIP(r)
}

// PeerIP returns the host of the connection's remote address, ignoring headers
func PeerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WithIdentity attaches the verified caller to ctx
func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the verified caller, nil for anonymous requests
func IdentityFromContext(r *http.Request) *models.Identity {
	identity, ok := r.Context().Value(identityContextKey).(*models.Identity)
	if !ok {
		return nil
	}
	return identity
}
