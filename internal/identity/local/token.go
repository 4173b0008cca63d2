package local

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionLifetime is how long an issued session token stays valid.
// After expiry the background session check resolves to absent and the
// user must sign in again.
const sessionLifetime = 24 * time.Hour

const issuer = "trackauth"

// TokenService signs and verifies the opaque session tokens the
// provider hands out. HS256 — symmetric, same secret signs and
// verifies, which is all a single-service deployment needs.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("local: session secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate creates and signs a session token whose subject is the
// principal's internal ID.
func (s *TokenService) Generate(principalID string) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionLifetime)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("local: signing session token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a session token, returning the principal
// ID it encodes.
//
// Pinning the algorithm with jwt.WithValidMethods closes the classic
// algorithm-confusion hole where a token claiming "none" slips through.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("local: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("local: session token expired")
		}
		return "", fmt.Errorf("local: invalid session token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("local: invalid session token claims")
	}
	if c.Subject == "" {
		return "", fmt.Errorf("local: session token has no subject")
	}

	return c.Subject, nil
}
