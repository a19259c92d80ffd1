package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the owner or walker calling the API. Tokens are issued
// by the account service; this package only mints them for tooling and tests.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func SignToken(secret, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id required")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
