package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/speakup/notification-engine/internal/domain"
)

// TokenManager validates viewer JWTs issued by the portal's auth service and
// extracts the viewer identity this engine keys its state on.
type TokenManager struct {
	secret []byte
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret)}
}

// Claims describes the viewer JWT payload.
type Claims struct {
	UID   string            `json:"uid,omitempty"`
	Email string            `json:"email,omitempty"`
	Role  domain.ViewerRole `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs a viewer token. Kept for local development and tests;
// production tokens come from the portal.
func (tm *TokenManager) GenerateToken(viewer domain.ViewerIdentity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UID:   viewer.UID,
		Email: viewer.Email,
		Role:  viewer.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   viewer.Key(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// ParseToken validates the token and returns the viewer identity.
func (tm *TokenManager) ParseToken(tokenStr string) (domain.ViewerIdentity, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return domain.ViewerIdentity{}, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.ViewerIdentity{}, errors.New("invalid token claims")
	}
	return domain.ViewerIdentity{UID: claims.UID, Email: claims.Email, Role: claims.Role}, nil
}
