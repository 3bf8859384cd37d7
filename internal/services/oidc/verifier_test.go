package oidc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/mocko-designs/gateway/internal/services/oidc/oidctest"
)

var testNow = time.Unix(1_700_000_000, 0)

// countingKeys is a KeyProvider that records how often keys were requested
type countingKeys struct {
	set       jwk.Set
	refreshed jwk.Set
	err       error
	gets      atomic.Int32
	refreshes atomic.Int32
}

func (k *countingKeys) GetJWKS(ctx context.Context, jwksURL string) (jwk.Set, error) {
	k.gets.Add(1)
	if k.err != nil {
		return nil, k.err
	}
	return k.set, nil
}

func (k *countingKeys) RefreshJWKS(ctx context.Context, jwksURL string) (jwk.Set, error) {
	k.refreshes.Add(1)
	if k.refreshed != nil {
		return k.refreshed, nil
	}
	return k.set, nil
}

func newTestVerifier(keys KeyProvider) *Verifier {
	return NewVerifier(keys, "https://keys.example/certs", oidctest.DefaultAudience, []string{"accounts.google.com", oidctest.DefaultIssuer})
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", want)
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected *AuthError, got %T: %v", err, err)
	}
	if authErr.Kind != want {
		t.Errorf("Expected kind %s, got %s (%v)", want, authErr.Kind, err)
	}
}

func TestVerify_ValidToken(t *testing.T) {
	t.Parallel()

	issuer := oidctest.NewIssuer(t, "key-1")
	keys := &countingKeys{set: issuer.KeySet()}
	v := newTestVerifier(keys)

	token := issuer.Sign(t, oidctest.Valid(testNow))
	identity, err := v.Verify(context.Background(), token, testNow)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if identity.Subject != "110169484474386276334" {
		t.Errorf("Expected subject '110169484474386276334', got '%s'", identity.Subject)
	}
	if identity.Email != "ada@example.com" {
		t.Errorf("Expected email 'ada@example.com', got '%s'", identity.Email)
	}
	if identity.Name != "Ada Lovelace" {
		t.Errorf("Expected name 'Ada Lovelace', got '%s'", identity.Name)
	}
	if !identity.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("Expected expiry %v, got %v", testNow.Add(time.Hour), identity.ExpiresAt)
	}
	if len(identity.Audience) != 1 || identity.Audience[0] != oidctest.DefaultAudience {
		t.Errorf("Unexpected audience %v", identity.Audience)
	}
	if keys.refreshes.Load() != 0 {
		t.Errorf("Expected no refresh for a known kid, got %d", keys.refreshes.Load())
	}
}

func TestVerify_TimeWindows(t *testing.T) {
	t.Parallel()

	issuer := oidctest.NewIssuer(t, "key-1")

	tests := []struct {
		name     string
		iat      time.Time
		exp      time.Time
		wantKind Kind
		wantOK   bool
	}{
		{
			name:   "expired within tolerance",
			iat:    testNow.Add(-time.Hour),
			exp:    testNow.Add(-300 * time.Second),
			wantOK: true,
		},
		{
			name:     "expired beyond tolerance",
			iat:      testNow.Add(-time.Hour),
			exp:      testNow.Add(-900 * time.Second),
			wantKind: KindTokenExpired,
		},
		{
			name:   "expired exactly at tolerance",
			iat:    testNow.Add(-time.Hour),
			exp:    testNow.Add(-ClockSkewTolerance),
			wantOK: true,
		},
		{
			name:     "expired one second past tolerance",
			iat:      testNow.Add(-time.Hour),
			exp:      testNow.Add(-ClockSkewTolerance - time.Second),
			wantKind: KindTokenExpired,
		},
		{
			name:   "issued exactly at tolerance",
			iat:    testNow.Add(ClockSkewTolerance),
			exp:    testNow.Add(time.Hour),
			wantOK: true,
		},
		{
			name:     "issued one second past tolerance",
			iat:      testNow.Add(ClockSkewTolerance + time.Second),
			exp:      testNow.Add(time.Hour),
			wantKind: KindTokenTooEarly,
		},
		{
			name:     "extremely stale",
			iat:      testNow.Add(-4 * time.Hour),
			exp:      testNow.Add(-3 * time.Hour),
			wantKind: KindTokenExtremelyStale,
		},
		{
			name:   "issued slightly in the future",
			iat:    testNow.Add(300 * time.Second),
			exp:    testNow.Add(time.Hour),
			wantOK: true,
		},
		{
			name:     "issued far in the future",
			iat:      testNow.Add(1200 * time.Second),
			exp:      testNow.Add(2 * time.Hour),
			wantKind: KindTokenTooEarly,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := newTestVerifier(&countingKeys{set: issuer.KeySet()})
			claims := oidctest.Valid(testNow)
			claims.IssuedAt = tt.iat
			claims.ExpiresAt = tt.exp

			_, err := v.Verify(context.Background(), issuer.Sign(t, claims), testNow)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("Expected token to verify, got %v", err)
				}
				return
			}
			requireKind(t, err, tt.wantKind)
		})
	}
}

func TestVerify_StaleTokenSkipsKeyLookup(t *testing.T) {
	t.Parallel()

	issuer := oidctest.NewIssuer(t, "key-1")
	keys := &countingKeys{set: issuer.KeySet()}
	v := newTestVerifier(keys)

	claims := oidctest.Valid(testNow)
	claims.ExpiresAt = testNow.Add(-StaleTokenThreshold - time.Second)

	_, err := v.Verify(context.Background(), issuer.Sign(t, claims), testNow)
	requireKind(t, err, KindTokenExtremelyStale)

	if keys.gets.Load() != 0 || keys.refreshes.Load() != 0 {
		t.Errorf("Expected no key lookups, got %d gets and %d refreshes", keys.gets.Load(), keys.refreshes.Load())
	}
}

func TestVerify_AudienceMismatch(t *testing.T) {
	t.Parallel()

	issuer := oidctest.NewIssuer(t, "key-1")
	v := newTestVerifier(&countingKeys{set: issuer.KeySet()})

	claims := oidctest.Valid(testNow)
	claims.Audience = "some-other-app.apps.googleusercontent.com"

	_, err := v.Verify(context.Background(), issuer.Sign(t, claims), testNow)
	requireKind(t, err, KindInvalidAudience)
}

func TestVerify_IssuerMismatch(t *testing.T) {
	t.Parallel()

	issuer := oidctest.NewIssuer(t, "key-1")
	v := newTestVerifier(&countingKeys{set: issuer.KeySet()})

	claims := oidctest.Valid(testNow)
	claims.Issuer = "https://evil.example"

	_, err := v.Verify(context.Background(), issuer.Sign(t, claims), testNow)
	requireKind(t, err, KindInvalidToken)
}

func TestVerify_MissingExpiry(t *testing.T) {
	t.Parallel()

	issuer := oidctest.NewIssuer(t, "key-1")
	v := newTestVerifier(&countingKeys{set: issuer.KeySet()})

	claims := oidctest.Valid(testNow)
	claims.ExpiresAt = time.Time{}

	_, err := v.Verify(context.Background(), issuer.Sign(t, claims), testNow)
	requireKind(t, err, KindInvalidToken)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	keys := &countingKeys{set: jwk.NewSet()}
	v := newTestVerifier(keys)

	for _, token := range []string{"not-a-jwt", "a.b.c", "eyJhbGciOiJSUzI1NiJ9.@@@.sig"} {
		_, err := v.Verify(context.Background(), token, testNow)
		requireKind(t, err, KindInvalidToken)
	}
}

func TestVerify_EmptyToken(t *testing.T) {
	t.Parallel()

	keys := &countingKeys{set: jwk.NewSet()}
	_, err := newTestVerifier(keys).Verify(context.Background(), "", testNow)
	requireKind(t, err, KindNoToken)
	if keys.gets.Load() != 0 {
		t.Error("Expected no key lookup for an empty token")
	}
}

func TestVerify_WrongSigningKey(t *testing.T) {
	t.Parallel()

	trusted := oidctest.NewIssuer(t, "key-1")
	other := oidctest.NewIssuer(t, "key-2")
	keys := &countingKeys{set: trusted.KeySet()}
	v := newTestVerifier(keys)

	_, err := v.Verify(context.Background(), other.Sign(t, oidctest.Valid(testNow)), testNow)
	requireKind(t, err, KindInvalidToken)

	if keys.refreshes.Load() != 1 {
		t.Errorf("Expected one refresh for an unknown kid, got %d", keys.refreshes.Load())
	}
}

func TestVerify_UnknownKidRefreshes(t *testing.T) {
	t.Parallel()

	old := oidctest.NewIssuer(t, "key-old")
	rotated := oidctest.NewIssuer(t, "key-new")
	keys := &countingKeys{set: old.KeySet(), refreshed: rotated.KeySet()}
	v := newTestVerifier(keys)

	if _, err := v.Verify(context.Background(), rotated.Sign(t, oidctest.Valid(testNow)), testNow); err != nil {
		t.Fatalf("Expected token signed with rotated key to verify, got %v", err)
	}
	if keys.refreshes.Load() != 1 {
		t.Errorf("Expected one refresh, got %d", keys.refreshes.Load())
	}
}

func TestVerify_KeysUnavailable(t *testing.T) {
	t.Parallel()

	issuer := oidctest.NewIssuer(t, "key-1")
	v := newTestVerifier(&countingKeys{err: errors.New("dial tcp: connection refused")})

	_, err := v.Verify(context.Background(), issuer.Sign(t, oidctest.Valid(testNow)), testNow)
	requireKind(t, err, KindInvalidToken)

	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Details != "signing keys unavailable" {
		t.Errorf("Expected details 'signing keys unavailable', got '%s'", authErr.Details)
	}
}

func TestKindCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		code string
	}{
		{KindNoToken, "NO_TOKEN"},
		{KindTokenExtremelyStale, "TOKEN_EXTREMELY_STALE"},
		{KindTokenExpired, "TOKEN_EXPIRED"},
		{KindTokenTooEarly, "TOKEN_TOO_EARLY"},
		{KindInvalidAudience, "INVALID_AUDIENCE"},
		{KindInvalidToken, "INVALID_TOKEN"},
	}

	for _, tt := range tests {
		if got := tt.kind.Code(); got != tt.code {
			t.Errorf("%s.Code() = %s, want %s", tt.kind, got, tt.code)
		}
		if got := tt.kind.Status(); got != 401 {
			t.Errorf("%s.Status() = %d, want 401", tt.kind, got)
		}
	}
}

func TestAsAuthError(t *testing.T) {
	t.Parallel()

	wrapped := AsAuthError(errors.New("boom"))
	if wrapped.Kind != KindInvalidToken {
		t.Errorf("Expected unclassified error to become InvalidToken, got %s", wrapped.Kind)
	}

	original := NoTokenError()
	if got := AsAuthError(original); got != original {
		t.Error("Expected AsAuthError to return the original AuthError")
	}
}
