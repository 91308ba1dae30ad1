package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuerName      = "xprune"
	defaultTokenLifetime = 2 * time.Hour
)

// ErrInvalidSessionToken is returned for tokens that fail verification,
// including expired ones.
var ErrInvalidSessionToken = errors.New("invalid session token")

// TokenIssuer mints and verifies the signed tokens handed to the browser.
// The token carries only the session identifier; the bearer access token
// never leaves the intermediary.
type TokenIssuer struct {
	signingKey []byte
	lifetime   time.Duration
}

// NewTokenIssuer constructs a TokenIssuer with an HMAC signing key.
func NewTokenIssuer(signingKey []byte, lifetime time.Duration) (*TokenIssuer, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key is required")
	}
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	return &TokenIssuer{signingKey: signingKey, lifetime: lifetime}, nil
}

// Issue mints a signed token for the session identifier.
func (issuer *TokenIssuer) Issue(sessionID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuerName,
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(issuer.lifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, signErr := token.SignedString(issuer.signingKey)
	if signErr != nil {
		return "", fmt.Errorf("sign session token: %w", signErr)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the session identifier.
func (issuer *TokenIssuer) Verify(tokenString string) (string, error) {
	parsed, parseErr := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, isHMAC := token.Method.(*jwt.SigningMethodHMAC); !isHMAC {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return issuer.signingKey, nil
	}, jwt.WithIssuer(tokenIssuerName), jwt.WithExpirationRequired())
	if parseErr != nil || !parsed.Valid {
		return "", ErrInvalidSessionToken
	}

	claims, isRegistered := parsed.Claims.(*jwt.RegisteredClaims)
	if !isRegistered || claims.Subject == "" {
		return "", ErrInvalidSessionToken
	}
	return claims.Subject, nil
}
