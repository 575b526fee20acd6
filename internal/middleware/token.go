package middleware

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/quartissimo/realtime/internal/models"
)

// SignToken issues an HS256 token for userID. Production tokens come from the
// platform's auth service; this is used by local tooling and tests.
func SignToken(secret string, userID uint, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &models.JwtCustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
