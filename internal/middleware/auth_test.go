package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mocko-designs/gateway/internal/models"
	"github.com/mocko-designs/gateway/internal/request"
	"github.com/mocko-designs/gateway/internal/response"
	"github.com/mocko-designs/gateway/internal/services/oidc"
	"github.com/mocko-designs/gateway/internal/services/oidc/oidctest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testNow = time.Unix(1_700_000_000, 0)

func fixedClock() time.Time { return testNow }

// stubVerifier records calls and returns a canned result
type stubVerifier struct {
	identity *models.Identity
	err      error
	calls    atomic.Int32
	token    atomic.Value
}

func (s *stubVerifier) Verify(ctx context.Context, token string, now time.Time) (*models.Identity, error) {
	s.calls.Add(1)
	s.token.Store(token)
	return s.identity, s.err
}

// captureHandler records the request that reached it
type captureHandler struct {
	called  atomic.Bool
	headers http.Header
	ident   *models.Identity
}

func (c *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.called.Store(true)
	c.headers = r.Header.Clone()
	c.ident = request.IdentityFromContext(r)
	w.WriteHeader(http.StatusOK)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var body response.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v (body %q)", err, rec.Body.String())
	}
	return body
}

func TestAuth_NoToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "scheme only", header: "Bearer"},
		{name: "empty value", header: "Bearer "},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			verifier := &stubVerifier{}
			next := &captureHandler{}

			req := httptest.NewRequest("GET", "/v1/designs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			AuthWithClock(verifier, zap.NewNop(), fixedClock)(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", rec.Code)
			}
			if body := decodeError(t, rec); body.Code != response.CodeNoToken {
				t.Errorf("Expected code '%s', got '%s'", response.CodeNoToken, body.Code)
			}
			if verifier.calls.Load() != 0 {
				t.Errorf("Expected verifier not to be called, got %d calls", verifier.calls.Load())
			}
			if next.called.Load() {
				t.Error("Expected next handler not to be called")
			}
		})
	}
}

func TestAuth_FailureKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind oidc.Kind
		code string
	}{
		{oidc.KindTokenExtremelyStale, response.CodeTokenExtremelyStale},
		{oidc.KindTokenExpired, response.CodeTokenExpired},
		{oidc.KindTokenTooEarly, response.CodeTokenTooEarly},
		{oidc.KindInvalidAudience, response.CodeInvalidAudience},
		{oidc.KindInvalidToken, response.CodeInvalidToken},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()

			verifier := &stubVerifier{err: &oidc.AuthError{Kind: tt.kind, Message: "rejected", Details: "details"}}
			next := &captureHandler{}

			req := httptest.NewRequest("GET", "/v1/designs", nil)
			req.Header.Set("Authorization", "Bearer abc.def.ghi")
			rec := httptest.NewRecorder()
			AuthWithClock(verifier, zap.NewNop(), fixedClock)(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", rec.Code)
			}
			body := decodeError(t, rec)
			if body.Code != tt.code {
				t.Errorf("Expected code '%s', got '%s'", tt.code, body.Code)
			}
			if body.Details != "details" {
				t.Errorf("Expected details 'details', got '%s'", body.Details)
			}
			if next.called.Load() {
				t.Error("Expected next handler not to be called")
			}
		})
	}
}

func TestAuth_SchemeNotEnforced(t *testing.T) {
	t.Parallel()

	verifier := &stubVerifier{identity: &models.Identity{Subject: "sub-1"}}
	next := &captureHandler{}

	req := httptest.NewRequest("GET", "/v1/designs", nil)
	req.Header.Set("Authorization", "Token opaque-value")
	AuthWithClock(verifier, zap.NewNop(), fixedClock)(next).ServeHTTP(httptest.NewRecorder(), req)

	if got, _ := verifier.token.Load().(string); got != "opaque-value" {
		t.Errorf("Expected verifier to receive 'opaque-value', got '%s'", got)
	}
	if !next.called.Load() {
		t.Error("Expected next handler to be called")
	}
}

func TestAuth_ValidTokenSetsIdentityHeaders(t *testing.T) {
	t.Parallel()

	issuer := oidctest.NewIssuer(t, "key-1")
	verifier := oidc.NewVerifier(
		oidc.NewJWKSManager(),
		issuer.JWKSURL(t),
		oidctest.DefaultAudience,
		[]string{oidctest.DefaultIssuer},
	)
	next := &captureHandler{}
	core, logs := observer.New(zap.InfoLevel)

	token := issuer.Sign(t, oidctest.Valid(testNow))
	req := httptest.NewRequest("GET", "/v1/designs/abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-User-Id", "spoofed")
	req.Header.Set("X-User-Name", "spoofed")
	rec := httptest.NewRecorder()

	AuthWithClock(verifier, zap.New(core), fixedClock)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !next.called.Load() {
		t.Fatal("Expected next handler to be called")
	}
	if got := next.headers.Get("x-user-id"); got != "110169484474386276334" {
		t.Errorf("Expected x-user-id '110169484474386276334', got '%s'", got)
	}
	if got := next.headers.Get("x-user-email"); got != "ada@example.com" {
		t.Errorf("Expected x-user-email 'ada@example.com', got '%s'", got)
	}
	if got := next.headers.Get("x-user-name"); got != "Ada Lovelace" {
		t.Errorf("Expected x-user-name 'Ada Lovelace', got '%s'", got)
	}
	if vals := next.headers.Values("x-user-id"); len(vals) != 1 {
		t.Errorf("Expected a single x-user-id value, got %v", vals)
	}
	if next.ident == nil || next.ident.Subject != "110169484474386276334" {
		t.Errorf("Expected identity in context, got %+v", next.ident)
	}

	entries := logs.FilterMessage("auth_verification_succeeded").All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 success log, got %d", len(entries))
	}
	for key, value := range entries[0].ContextMap() {
		if s, ok := value.(string); ok && strings.Contains(s, token) {
			t.Errorf("Log field %s contains the raw token", key)
		}
	}
}

func TestAuth_ExpiryWindows(t *testing.T) {
	t.Parallel()

	issuer := oidctest.NewIssuer(t, "key-1")
	verifier := oidc.NewVerifier(
		oidc.NewJWKSManager(),
		issuer.JWKSURL(t),
		oidctest.DefaultAudience,
		nil,
	)

	tests := []struct {
		name       string
		exp        time.Time
		audience   string
		wantStatus int
		wantCode   string
	}{
		{name: "expired five minutes ago", exp: testNow.Add(-300 * time.Second), wantStatus: http.StatusOK},
		{name: "expired fifteen minutes ago", exp: testNow.Add(-900 * time.Second), wantStatus: http.StatusUnauthorized, wantCode: response.CodeTokenExpired},
		{name: "expired three hours ago", exp: testNow.Add(-3 * time.Hour), wantStatus: http.StatusUnauthorized, wantCode: response.CodeTokenExtremelyStale},
		{name: "audience mismatch", exp: testNow.Add(time.Hour), audience: "other-app", wantStatus: http.StatusUnauthorized, wantCode: response.CodeInvalidAudience},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims := oidctest.Valid(testNow)
			claims.IssuedAt = tt.exp.Add(-time.Hour)
			claims.ExpiresAt = tt.exp
			claims.Audience = tt.audience

			req := httptest.NewRequest("GET", "/v1/designs", nil)
			req.Header.Set("Authorization", "Bearer "+issuer.Sign(t, claims))
			rec := httptest.NewRecorder()
			AuthWithClock(verifier, zap.NewNop(), fixedClock)(&captureHandler{}).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantCode != "" {
				if body := decodeError(t, rec); body.Code != tt.wantCode {
					t.Errorf("Expected code '%s', got '%s'", tt.wantCode, body.Code)
				}
			}
		})
	}
}

func TestAuth_FailureLogOmitsToken(t *testing.T) {
	t.Parallel()

	issuer := oidctest.NewIssuer(t, "key-1")
	claims := oidctest.Valid(testNow)
	claims.ExpiresAt = testNow.Add(-3 * time.Hour)
	token := issuer.Sign(t, claims)

	core, logs := observer.New(zap.DebugLevel)
	verifier := &stubVerifier{err: &oidc.AuthError{Kind: oidc.KindTokenExtremelyStale, Message: "stale"}}

	req := httptest.NewRequest("GET", "/v1/designs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	AuthWithClock(verifier, zap.New(core), fixedClock)(&captureHandler{}).ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("auth_verification_failed").All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 failure log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["kind"] != string(oidc.KindTokenExtremelyStale) {
		t.Errorf("Expected kind TokenExtremelyStale, got %v", fields["kind"])
	}
	if fields["seconds_past_expiry"] != int64(3*60*60) {
		t.Errorf("Expected seconds_past_expiry 10800, got %v", fields["seconds_past_expiry"])
	}
	if fields["skew_tolerance_seconds"] != int64(600) {
		t.Errorf("Expected skew_tolerance_seconds 600, got %v", fields["skew_tolerance_seconds"])
	}
	for key, value := range fields {
		if s, ok := value.(string); ok && strings.Contains(s, token) {
			t.Errorf("Log field %s contains the raw token", key)
		}
	}
}
