package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Log field length caps
const (
	MaxPathLength          = 500
	MaxSubjectLength       = 256
	MaxErrorMessageLength  = 1000
	MaxGeneralStringLength = 2000
)

// SanitizeString makes client-controlled text safe to log: invalid UTF-8 and
// non-printable runes are dropped (so CR/LF cannot forge entries) and the
// result is cut to maxLength bytes on a rune boundary.
func SanitizeString(s string, maxLength int) string {
	if s == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = MaxGeneralStringLength
	}

	s = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || !(unicode.IsPrint(r) || r == '\t') {
			return -1
		}
		return r
	}, strings.ToValidUTF8(s, ""))

	if len(s) <= maxLength {
		return s
	}
	cut := maxLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// SanitizePath caps a request path for logging
func SanitizePath(path string) string {
	return SanitizeString(path, MaxPathLength)
}

// SanitizeSubject caps a token subject or email for logging
func SanitizeSubject(sub string) string {
	return SanitizeString(sub, MaxSubjectLength)
}

// SanitizeError renders err for logging, "" for nil
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error(), MaxErrorMessageLength)
}

// TokenFingerprint returns the first 12 hex characters of the token's SHA-256.
// It correlates log entries for one token without recording the token.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
