package oidc

import (
	"context"
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/mocko-designs/gateway/internal/models"
)

const (
	// ClockSkewTolerance applies to exp and iat in both directions
	ClockSkewTolerance = 600 * time.Second
	// StaleTokenThreshold rejects tokens this far past expiry before any key lookup
	StaleTokenThreshold = 2 * time.Hour
)

// KeyProvider supplies the identity provider's signing keys
type KeyProvider interface {
	GetJWKS(ctx context.Context, jwksURL string) (jwk.Set, error)
	RefreshJWKS(ctx context.Context, jwksURL string) (jwk.Set, error)
}

// Verifier verifies bearer identity tokens
type Verifier struct {
	keys     KeyProvider
	jwksURL  string
	audience string
	issuers  []string
}

// NewVerifier creates a verifier for tokens issued to audience by one of issuers.
// An empty issuers list disables the issuer check.
func NewVerifier(keys KeyProvider, jwksURL, audience string, issuers []string) *Verifier {
	return &Verifier{
		keys:     keys,
		jwksURL:  jwksURL,
		audience: audience,
		issuers:  append([]string(nil), issuers...),
	}
}

// Verify checks token at instant now and returns the verified identity.
// Every failure is an *AuthError.
func (v *Verifier) Verify(ctx context.Context, token string, now time.Time) (*models.Identity, error) {
	if token == "" {
		return nil, NoTokenError()
	}

	// A payload that fails to decode here is left for the full verification to reject
	if preview, err := PreviewClaims(token); err == nil && preview.HasExpiry() {
		if now.Sub(preview.ExpiresAt) > StaleTokenThreshold {
			return nil, newAuthError(KindTokenExtremelyStale,
				"Token is extremely stale. Please login again.",
				"Token is more than 2 hours past expiry. Fresh authentication required.", nil)
		}
	}

	keys, err := v.signingKeys(ctx, token)
	if err != nil {
		return nil, newAuthError(KindInvalidToken, "Invalid Token!", "signing keys unavailable", err)
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKeySet(keys, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithAcceptableSkew(ClockSkewTolerance),
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithValidate(true),
		jwt.WithResetValidators(true),
		jwt.WithValidator(jwt.ValidatorFunc(expirationWithinSkew)),
		jwt.WithValidator(jwt.IsIssuedAtValid()),
		jwt.WithValidator(jwt.IsNbfValid()),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, classify(err)
	}

	if !v.issuerAllowed(parsed.Issuer()) {
		return nil, newAuthError(KindInvalidToken, "Invalid Token!", "Token was issued by an unexpected issuer.", nil)
	}

	exp := parsed.Expiration()
	if exp.IsZero() {
		return nil, newAuthError(KindInvalidToken, "Invalid Token!", "Token does not declare an expiry.", nil)
	}

	return identityFromToken(parsed), nil
}

// expirationWithinSkew accepts a token up to and including the skew past its
// expiry. jwx's own exp check rejects at exactly exp+skew.
func expirationWithinSkew(ctx context.Context, t jwt.Token) jwt.ValidationError {
	exp := t.Expiration()
	if exp.IsZero() {
		return nil
	}
	now := jwt.ValidationCtxClock(ctx).Now().Truncate(time.Second)
	if now.After(exp.Truncate(time.Second).Add(jwt.ValidationCtxSkew(ctx))) {
		return jwt.ErrTokenExpired()
	}
	return nil
}

// signingKeys returns the key set, refreshing it once when the token's kid is unknown
func (v *Verifier) signingKeys(ctx context.Context, token string) (jwk.Set, error) {
	keys, err := v.keys.GetJWKS(ctx, v.jwksURL)
	if err != nil {
		return nil, err
	}

	kid, err := KeyID(token)
	if err != nil || kid == "" {
		return keys, nil
	}
	if _, ok := keys.LookupKeyID(kid); ok {
		return keys, nil
	}

	refreshed, err := v.keys.RefreshJWKS(ctx, v.jwksURL)
	if err != nil {
		// Verification against the cached set will fail with a proper kind
		return keys, nil
	}
	return refreshed, nil
}

func (v *Verifier) issuerAllowed(iss string) bool {
	if len(v.issuers) == 0 {
		return true
	}
	for _, allowed := range v.issuers {
		if iss == allowed {
			return true
		}
	}
	return false
}

// classify maps jwx validation errors onto auth kinds
func classify(err error) *AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired()):
		return expiredError(err)
	case errors.Is(err, jwt.ErrInvalidIssuedAt()), errors.Is(err, jwt.ErrTokenNotYetValid()):
		return newAuthError(KindTokenTooEarly,
			"Token not yet valid! Please check your system time.",
			"There may be a clock synchronization issue. Please try again in a moment.", err)
	case errors.Is(err, jwt.ErrInvalidAudience()):
		return newAuthError(KindInvalidAudience,
			"Token audience mismatch!",
			"Token was issued for a different application.", err)
	default:
		return newAuthError(KindInvalidToken,
			"Invalid Token!",
			"The provided authentication token is not valid.", err)
	}
}

func expiredError(err error) *AuthError {
	return newAuthError(KindTokenExpired,
		"Token expired! Please login again.",
		"Your session has expired. Please refresh the page and sign in again.", err)
}

func identityFromToken(token jwt.Token) *models.Identity {
	identity := &models.Identity{
		Subject:   token.Subject(),
		ExpiresAt: token.Expiration(),
		IssuedAt:  token.IssuedAt(),
		Audience:  token.Audience(),
		Issuer:    token.Issuer(),
	}
	if email, ok := token.Get("email"); ok {
		if emailStr, ok := email.(string); ok {
			identity.Email = emailStr
		}
	}
	if name, ok := token.Get("name"); ok {
		if nameStr, ok := name.(string); ok {
			identity.Name = nameStr
		}
	}
	return identity
}
