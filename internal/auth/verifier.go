// Package auth verifies bearer tokens and yields the caller's role.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles understood by the HTTP layer.
const (
	RoleOperator = "operator"
	RoleDriver   = "driver"
)

var ErrInvalidToken = errors.New("invalid token")

type Principal struct {
	Role     string
	DriverID string
	Name     string
}

func (p Principal) IsOperator() bool { return p.Role == RoleOperator }
func (p Principal) IsDriver() bool   { return p.Role == RoleDriver }

// Claims is the HS256 payload. Drivers carry their id in sub.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier supports two modes: dev, where the token is "role" or
// "role:driverId", and hmac, where the token is an HS256 JWT.
type Verifier struct {
	Mode       string
	HMACSecret []byte
	Issuer     string
}

func NewVerifier(mode, secret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret), Issuer: "zonedispatch"}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	switch v.Mode {
	case "dev":
		role, driver, _ := strings.Cut(token, ":")
		role = strings.ToLower(strings.TrimSpace(role))
		if role != RoleOperator && role != RoleDriver {
			return Principal{}, fmt.Errorf("%w: expected operator or driver:<id>", ErrInvalidToken)
		}
		if role == RoleDriver && driver == "" {
			return Principal{}, fmt.Errorf("%w: driver token needs an id", ErrInvalidToken)
		}
		return Principal{Role: role, DriverID: driver}, nil
	case "hmac":
		return v.verifyHMAC(token)
	}
	return Principal{}, fmt.Errorf("%w: unsupported auth mode %q", ErrInvalidToken, v.Mode)
}

func (v *Verifier) verifyHMAC(token string) (Principal, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.HMACSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return Principal{}, ErrInvalidToken
	}
	p := Principal{Role: strings.ToLower(claims.Role), Name: claims.Name}
	if p.Role == RoleDriver {
		p.DriverID = claims.Subject
		if p.DriverID == "" {
			return Principal{}, fmt.Errorf("%w: driver token without sub", ErrInvalidToken)
		}
	}
	if p.Role != RoleOperator && p.Role != RoleDriver {
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return p, nil
}

// Sign issues an HS256 token. Used by tooling and tests; production tokens
// come from the identity provider.
func (v *Verifier) Sign(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: p.Role,
		Name: p.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.DriverID,
			Issuer:    v.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.HMACSecret)
}
