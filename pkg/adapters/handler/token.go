package handler

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wadjakorntonsri/portfolio-analytics/pkg/core/domain"
)

// Claims is the payload of the "token" cookie shared with the main site.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for userID valid for expiry.
func GenerateToken(secret []byte, userID string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates tokenStr, accepting HS256 only. Every failure wraps
// domain.ErrAuthTokenInvalid.
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthTokenInvalid, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", domain.ErrAuthTokenInvalid)
	}
	return claims, nil
}
