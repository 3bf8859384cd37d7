package oidc

import (
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/mocko-designs/gateway/internal/models"
)

// PreviewClaims decodes the token payload without checking its signature.
// The result may only ever be used to reject a token.
func PreviewClaims(token string) (*models.ClaimPreview, error) {
	parsed, err := jwt.ParseInsecure([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("failed to decode token payload: %w", err)
	}
	return &models.ClaimPreview{
		Subject:   parsed.Subject(),
		ExpiresAt: parsed.Expiration(),
		IssuedAt:  parsed.IssuedAt(),
		Audience:  parsed.Audience(),
		Issuer:    parsed.Issuer(),
	}, nil
}

// KeyID returns the kid from the token's protected header, or "" if absent
func KeyID(token string) (string, error) {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return "", fmt.Errorf("failed to parse token header: %w", err)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return "", fmt.Errorf("token has no signatures")
	}
	return sigs[0].ProtectedHeaders().KeyID(), nil
}
