package httpx

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenSubject returns the "sub" claim of a JWT access token without
// verifying it. Anyone can mint a token with any subject, so the value is
// only fit for log correlation; never key limits or decisions on it. Opaque
// or malformed tokens yield "".
func AccessTokenSubject(token string) string {
	if token == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
