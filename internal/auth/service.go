// Package auth issues and verifies the bearer tokens used by value-event
// producers and operators. Login is handled upstream.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleService = "service"
	RoleAdmin   = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

type Principal struct {
	Subject string
	Role    string
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type Service struct {
	secret []byte
}

func NewService(secret string) *Service {
	if secret == "" {
		secret = "bsk-dev-secret"
	}
	return &Service{secret: []byte(secret)}
}

// Issue signs a token for subject with the given role.
func (s *Service) Issue(subject, role string, ttl time.Duration) (string, error) {
	if role != RoleService && role != RoleAdmin {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

func (s *Service) Validate(token string) (Principal, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || c.Role == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Subject: c.Subject, Role: c.Role}, nil
}
