// Package services holds the operator authentication service.
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "karaoke-queue"

// ErrInvalidToken is returned for tokens that parse but carry unusable claims.
var ErrInvalidToken = errors.New("invalid token")

// Role represents an operator's permission level within an organization.
type Role string

const (
	RoleOwner    Role = "owner"    // Manages rules and settings, runs the queue
	RoleOperator Role = "operator" // Runs the queue during an event
	RoleViewer   Role = "viewer"   // Read-only dashboard access
)

// CanOperate reports whether the role may change queue state and rules.
func (r Role) CanOperate() bool {
	return r == RoleOwner || r == RoleOperator
}

// Claims represents the JWT payload for authenticated operators.
// The organization scopes every operator action.
type Claims struct {
	OrganizationID string `json:"org"`
	Role           Role   `json:"role"`
	Email          string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AuthService handles JWT token generation and validation for operators.
type AuthService struct {
	secret        []byte
	tokenDuration time.Duration
}

// NewAuthService creates an AuthService with the given signing secret and token duration.
func NewAuthService(secret string, tokenDuration time.Duration) *AuthService {
	return &AuthService{
		secret:        []byte(secret),
		tokenDuration: tokenDuration,
	}
}

// GenerateToken creates a signed JWT for an operator of orgID.
func (s *AuthService) GenerateToken(orgID, subject, email string, role Role) (string, error) {
	now := time.Now()
	claims := Claims{
		OrganizationID: orgID,
		Role:           role,
		Email:          email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken verifies the JWT signature and expiry, returning the claims if valid.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.OrganizationID == "" {
		return nil, fmt.Errorf("%w: missing organization", ErrInvalidToken)
	}
	return claims, nil
}
