package core

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/contental/keyserver/internal/model"
)

// sessionTTL is how long an owner session token stays valid.
const sessionTTL = 24 * time.Hour

// SessionClaims are the JWT claims carried by an owner session token.
type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// AuthService issues and validates owner session tokens (HS256 JWTs).
type AuthService struct {
	secret []byte
	issuer string
}

// NewAuthService creates a new AuthService.
func NewAuthService(secret, issuer string) *AuthService {
	return &AuthService{secret: []byte(secret), issuer: issuer}
}

// IssueToken creates a signed session token for the given owner.
func (s *AuthService) IssueToken(owner *model.Owner) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Username: owner.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a session token, returning its claims.
func (s *AuthService) ValidateToken(tokenStr string) (*SessionClaims, error) {
	var claims SessionClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	return &claims, nil
}
