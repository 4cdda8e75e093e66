package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenExpired = errors.New("api token has expired")

type tokenClaims struct {
	Subject   string
	ExpiresAt time.Time
}

// parseTokenClaims reads the claims without verifying the signature. The
// server verifies; the client only needs the customer id and a fast failure
// on expired tokens.
func parseTokenClaims(token string, now time.Time) (tokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return tokenClaims{}, fmt.Errorf("invalid api token: %w", err)
	}

	var out tokenClaims
	sub, err := claims.GetSubject()
	if err != nil {
		return tokenClaims{}, fmt.Errorf("invalid api token subject: %w", err)
	}
	out.Subject = sub

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return tokenClaims{}, fmt.Errorf("invalid api token expiry: %w", err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
		if !now.Before(exp.Time) {
			return out, ErrTokenExpired
		}
	}
	return out, nil
}
