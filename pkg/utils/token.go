package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrEmptySecret = errors.New("jwt secret is empty")

// GenerateToken signs a token carrying the user and role IDs. Tokens are
// normally issued by the identity service; this is used by tools and tests.
func GenerateToken(secret string, userID uint64, roleID uint, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	claims := jwt.MapClaims{
		"user_id": userID,
		"role_id": roleID,
		"exp":     time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken verifies the signature (HMAC only) and expiry.
func ValidateToken(secret, encodedToken string) (*jwt.Token, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	return jwt.Parse(encodedToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
}
