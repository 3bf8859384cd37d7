package models

import "time"

// Identity is the result of a successful token verification.
// It lives in the request context only and is never cached across requests.
type Identity struct {
	Subject   string    `json:"sub"`   // Stable user id from the identity provider
	Email     string    `json:"email"` // User email
	Name      string    `json:"name"`  // Display name
	ExpiresAt time.Time `json:"exp"`
	IssuedAt  time.Time `json:"iat"`
	Audience  []string  `json:"aud"`
	Issuer    string    `json:"iss"`
}

// ClaimPreview is the token payload decoded without signature verification.
// It may only be used to reject a token, never to accept one.
type ClaimPreview struct {
	Subject   string    `json:"sub,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	Audience  []string  `json:"aud,omitempty"`
	Issuer    string    `json:"iss,omitempty"`
}

// HasExpiry reports whether the preview carried an exp claim
func (p *ClaimPreview) HasExpiry() bool {
	return p != nil && !p.ExpiresAt.IsZero()
}
