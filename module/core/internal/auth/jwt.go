// Package auth resolves bearer tokens into principals.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nandanugg/nxt-bus/module/core/domain"
)

type Claims struct {
	Role domain.Role `json:"role"`
	Name string      `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify returns the principal for token. Any problem with the token is
// reported as domain.ErrAuthenticationFailed.
func (v *Verifier) Verify(token string) (*domain.Principal, error) {
	if token == "" || len(v.secret) == 0 {
		return nil, domain.ErrAuthenticationFailed
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", domain.ErrAuthenticationFailed)
	}
	switch claims.Role {
	case domain.RoleVehicle, domain.RolePassenger:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrAuthenticationFailed, claims.Role)
	}
	return &domain.Principal{ID: claims.Subject, Role: claims.Role, Name: claims.Name}, nil
}

// Issue signs a token for p that expires after ttl. Used by the simulator
// and tests; production tokens come from the account service.
func (v *Verifier) Issue(p domain.Principal, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Role: p.Role,
		Name: p.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
