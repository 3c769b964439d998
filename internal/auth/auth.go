// Package auth validates connection tokens. Token issuance lives in an
// external identity service; this package only verifies what it produced.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Identity is the validated result of a connection token
type Identity struct {
	ID          string
	DisplayName string
}

// Validator checks an opaque token and returns the identity it carries
type Validator interface {
	Validate(token string) (*Identity, error)
}

// Claims is the JWT claim set issued by the identity service
type Claims struct {
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// JWTValidator validates HMAC-signed tokens
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for tokens signed with the given secret
func NewJWTValidator(secret []byte) *JWTValidator {
	return &JWTValidator{secret: secret}
}

// Validate parses and verifies the token, returning the embedded identity
func (v *JWTValidator) Validate(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return v.secret, nil
		},
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{ID: claims.Subject, DisplayName: claims.DisplayName}, nil
}

// IssueToken signs a token for an identity. Used by tests and local
// development; production tokens come from the identity service.
func IssueToken(secret []byte, identity, displayName string, ttl time.Duration) (string, error) {
	claims := Claims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
