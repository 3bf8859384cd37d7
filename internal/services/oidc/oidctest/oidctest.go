// Package oidctest issues signed identity tokens and serves their keys for tests.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	// DefaultIssuer matches Google's ID token issuer
	DefaultIssuer = "https://accounts.google.com"
	// DefaultAudience is the client id tokens are minted for
	DefaultAudience = "test-client.apps.googleusercontent.com"
)

var (
	keyOnce sync.Once
	rsaKey  *rsa.PrivateKey
	keyErr  error
)

func sharedRSAKey() (*rsa.PrivateKey, error) {
	keyOnce.Do(func() {
		rsaKey, keyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	return rsaKey, keyErr
}

// Claims describes a token to mint. Zero times are omitted from the token.
type Claims struct {
	Subject   string
	Email     string
	Name      string
	Audience  string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer signs tokens with a single RS256 key
type Issuer struct {
	private jwk.Key
	public  jwk.Set

	mu     sync.Mutex
	server *httptest.Server
	hits   int
}

// NewIssuer creates an issuer whose key carries kid
func NewIssuer(t testing.TB, kid string) *Issuer {
	t.Helper()

	raw, err := sharedRSAKey()
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	private, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("Failed to wrap RSA key: %v", err)
	}
	_ = private.Set(jwk.KeyIDKey, kid)
	_ = private.Set(jwk.AlgorithmKey, jwa.RS256)

	public, err := jwk.PublicKeyOf(private)
	if err != nil {
		t.Fatalf("Failed to derive public key: %v", err)
	}
	_ = public.Set(jwk.KeyUsageKey, "sig")

	set := jwk.NewSet()
	if err := set.AddKey(public); err != nil {
		t.Fatalf("Failed to build key set: %v", err)
	}

	return &Issuer{private: private, public: set}
}

// KeySet returns the public key set
func (i *Issuer) KeySet() jwk.Set {
	return i.public
}

// JWKSURL starts (once) an httptest server serving the public key set
func (i *Issuer) JWKSURL(t testing.TB) string {
	t.Helper()

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.server == nil {
		i.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			i.mu.Lock()
			i.hits++
			i.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(i.public)
		}))
		t.Cleanup(i.server.Close)
	}
	return i.server.URL + "/oauth2/v3/certs"
}

// Hits returns how many times the JWKS endpoint was fetched
func (i *Issuer) Hits() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.hits
}

// Sign mints a token. Empty Audience and Issuer fall back to the defaults.
func (i *Issuer) Sign(t testing.TB, c Claims) string {
	t.Helper()

	if c.Audience == "" {
		c.Audience = DefaultAudience
	}
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}

	tok := jwt.New()
	_ = tok.Set(jwt.SubjectKey, c.Subject)
	_ = tok.Set(jwt.AudienceKey, c.Audience)
	_ = tok.Set(jwt.IssuerKey, c.Issuer)
	if !c.IssuedAt.IsZero() {
		_ = tok.Set(jwt.IssuedAtKey, c.IssuedAt)
	}
	if !c.ExpiresAt.IsZero() {
		_ = tok.Set(jwt.ExpirationKey, c.ExpiresAt)
	}
	if c.Email != "" {
		_ = tok.Set("email", c.Email)
	}
	if c.Name != "" {
		_ = tok.Set("name", c.Name)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, i.private))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return string(signed)
}

// Valid returns claims for a token that verifies at now
func Valid(now time.Time) Claims {
	return Claims{
		Subject:   "110169484474386276334",
		Email:     "ada@example.com",
		Name:      "Ada Lovelace",
		IssuedAt:  now.Add(-10 * time.Second),
		ExpiresAt: now.Add(time.Hour),
	}
}
