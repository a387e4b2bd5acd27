package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptyToken   = errors.New("auth: empty token")
	ErrEmptySecret  = errors.New("auth: empty secret")
	ErrInvalidRole  = errors.New("auth: invalid role")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrWrongYard    = errors.New("auth: token issued for another yard")
)

// Claims is the token body issued to yard dashboard users.
type Claims struct {
	Role string `json:"role"`
	Yard string `json:"yard,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens and scopes them to one yard.
type Verifier struct {
	secret []byte
	yard   string
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier constructs a verifier. An empty yard accepts tokens for any yard.
func NewVerifier(secret []byte, yard string) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	return &Verifier{
		secret: secret,
		yard:   yard,
		leeway: 30 * time.Second,
		now:    time.Now,
	}, nil
}

// Verify parses token and returns the caller identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrEmptyToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, err
	}

	role, ok := ParseRole(claims.Role)
	if !ok {
		return Identity{}, ErrInvalidRole
	}
	if v.yard != "" && claims.Yard != v.yard && !role.CrossYard() {
		return Identity{}, ErrWrongYard
	}
	yard := claims.Yard
	if yard == "" {
		yard = v.yard
	}
	return Identity{Subject: claims.Subject, Role: role, Yard: yard}, nil
}
