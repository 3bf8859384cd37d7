package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	logpkg "github.com/mocko-designs/gateway/internal/logger"
	"github.com/mocko-designs/gateway/internal/metrics"
	"github.com/mocko-designs/gateway/internal/models"
	"github.com/mocko-designs/gateway/internal/request"
	"github.com/mocko-designs/gateway/internal/response"
	"github.com/mocko-designs/gateway/internal/services/oidc"
	"go.uber.org/zap"
)

// Identity headers forwarded to upstream services
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// TokenVerifier verifies a bearer token at a given instant
type TokenVerifier interface {
	Verify(ctx context.Context, token string, now time.Time) (*models.Identity, error)
}

// Auth creates authentication middleware that verifies bearer identity tokens
func Auth(verifier TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return AuthWithClock(verifier, logger, time.Now)
}

// AuthWithClock is Auth with an injectable clock
func AuthWithClock(verifier TokenVerifier, logger *zap.Logger, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				rejectAuth(w, r, logger, oidc.NoTokenError(), "", now())
				return
			}

			at := now()
			identity, err := verifier.Verify(r.Context(), token, at)
			if err != nil {
				rejectAuth(w, r, logger, oidc.AsAuthError(err), token, at)
				return
			}

			metrics.AuthAttemptsTotal.WithLabelValues("success", "").Inc()
			logger.Info("auth_verification_succeeded",
				zap.String("path", logpkg.SanitizePath(r.URL.Path)),
				zap.String("sub", logpkg.SanitizeSubject(identity.Subject)),
				zap.Int64("now", at.Unix()),
				zap.Int64("exp", identity.ExpiresAt.Unix()),
				zap.Int64("iat", identity.IssuedAt.Unix()),
				zap.Int64("seconds_past_expiry", int64(at.Sub(identity.ExpiresAt).Seconds())),
				zap.Int64("skew_tolerance_seconds", int64(oidc.ClockSkewTolerance.Seconds())),
			)

			setIdentityHeaders(r.Header, identity)
			next.ServeHTTP(w, r.WithContext(request.WithIdentity(r.Context(), identity)))
		})
	}
}

// bearerToken returns the second space-separated field of the header.
// The scheme itself is not checked.
func bearerToken(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// setIdentityHeaders replaces any client supplied identity headers
func setIdentityHeaders(h http.Header, identity *models.Identity) {
	for key, value := range map[string]string{
		HeaderUserID:    identity.Subject,
		HeaderUserEmail: identity.Email,
		HeaderUserName:  identity.Name,
	} {
		h.Del(key)
		if value != "" {
			h.Set(key, value)
		}
	}
}

func rejectAuth(w http.ResponseWriter, r *http.Request, logger *zap.Logger, authErr *oidc.AuthError, token string, at time.Time) {
	metrics.AuthAttemptsTotal.WithLabelValues("failure", string(authErr.Kind)).Inc()

	fields := []zap.Field{
		zap.String("kind", string(authErr.Kind)),
		zap.String("path", logpkg.SanitizePath(r.URL.Path)),
		zap.String("ip", logpkg.SanitizeString(request.ClientIP(r), logpkg.MaxGeneralStringLength)),
		zap.Int64("now", at.Unix()),
		zap.Int64("skew_tolerance_seconds", int64(oidc.ClockSkewTolerance.Seconds())),
	}
	if token != "" {
		fields = append(fields, zap.String("token_fingerprint", logpkg.TokenFingerprint(token)))
		// Unverified claims are only used to explain the rejection
		if preview, err := oidc.PreviewClaims(token); err == nil {
			fields = append(fields, zap.String("sub", logpkg.SanitizeSubject(preview.Subject)))
			if preview.HasExpiry() {
				fields = append(fields,
					zap.Int64("exp", preview.ExpiresAt.Unix()),
					zap.Int64("seconds_past_expiry", int64(at.Sub(preview.ExpiresAt).Seconds())),
				)
			}
			if !preview.IssuedAt.IsZero() {
				fields = append(fields, zap.Int64("iat", preview.IssuedAt.Unix()))
			}
		}
	}
	if authErr.Err != nil {
		fields = append(fields, zap.String("error", logpkg.SanitizeError(authErr.Err)))
	}
	logger.Warn("auth_verification_failed", fields...)

	response.WriteError(w, r, authErr.Problem())
}
