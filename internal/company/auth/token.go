package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL bounds how long an issued token stays valid.
const tokenTTL = 24 * time.Hour

// GenerateToken issues an HS256 token for userID, signed with secret. The
// subject claim carries the user id; expiry is tokenTTL from now.
func GenerateToken(userID, secret string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
