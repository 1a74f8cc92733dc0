package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FreshnessMargin is the lead time before expiry at which a credential
// is proactively refreshed.
const FreshnessMargin = 5 * time.Minute

// tokenExpiry extracts the expiry claim from a bearer token without
// verifying its signature; the client holds no verification key and the
// backend is the authority anyway. A token that cannot be parsed or
// carries no expiry returns the zero time.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// needsRefresh reports whether a credential expiring at expiresAt should
// be refreshed as of now. Unknown expiry counts as stale.
func needsRefresh(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return true
	}
	return expiresAt.Sub(now) < FreshnessMargin
}
