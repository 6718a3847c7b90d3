// Package auth validates upgrade tokens at the HTTP edge. The relay core
// itself is auth-agnostic; only the API surface consults this.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the subject the gateway minted the token for.
type Claims struct {
	UserUUID string `json:"user_uuid"`
	jwt.RegisteredClaims
}

// Validator checks HS256 tokens against a shared secret.
type Validator struct {
	secret []byte
}

// NewValidator builds a validator for the shared secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate parses tokenStr and returns its claims if valid.
func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
