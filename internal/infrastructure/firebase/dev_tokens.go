package firebase

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"rosterchat/internal/domain/service"
	"rosterchat/pkg/errors"
)

// DevClaims identify a user in locally issued development tokens.
type DevClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// DevTokenIssuer signs and verifies HS256 tokens so the server can run without
// a Firebase project.
type DevTokenIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewDevTokenIssuer(secret string, expiry time.Duration) *DevTokenIssuer {
	return &DevTokenIssuer{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

var _ service.TokenVerifier = (*DevTokenIssuer)(nil)

func (d *DevTokenIssuer) GenerateToken(ctx context.Context, uid string) (string, error) {
	if uid == "" {
		return "", errors.BadRequest("uid is required", nil)
	}

	now := d.now()
	claims := &DevClaims{
		UserID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(d.secret)
}

func (d *DevTokenIssuer) VerifyToken(ctx context.Context, tokenString string) (string, error) {
	claims := &DevClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return d.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.Unauthorized("Invalid or expired token", err)
	}
	if claims.UserID == "" {
		return "", errors.Unauthorized("Token has no user", nil)
	}

	return claims.UserID, nil
}
