// Package auth issues and verifies the HS256 bearer tokens the API accepts.
// Tokens carry the user's privileges and graph authorizations.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"graphdesk/api/internal/rbac"
)

type Claims struct {
	Sub            string   `json:"sub"`
	Name           string   `json:"name"`
	Privileges     []string `json:"privileges"`
	Authorizations []string `json:"authorizations,omitempty"`
	JTI            string   `json:"jti"`
	Exp            int64    `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// User converts the claims into the user the engines act for. Unknown
// privilege names are dropped.
func (c Claims) User() rbac.User {
	return rbac.User{
		ID:             c.Sub,
		Name:           c.Name,
		Privileges:     rbac.NormalizePrivileges(c.Privileges),
		Authorizations: append([]string(nil), c.Authorizations...),
	}
}

// tokenClaims is the JWT body. Claim names match Claims.
type tokenClaims struct {
	Name           string   `json:"name"`
	Privileges     []string `json:"privileges"`
	Authorizations []string `json:"authorizations,omitempty"`
	jwt.RegisteredClaims
}

func IssueToken(secret []byte, claims Claims) (string, error) {
	body := tokenClaims{
		Name:           claims.Name,
		Privileges:     claims.Privileges,
		Authorizations: claims.Authorizations,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Sub,
			ID:        claims.JTI,
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.Exp, 0)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, body).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	return parseToken(secret, token, time.Now())
}

func parseToken(secret []byte, token string, now time.Time) (Claims, error) {
	var body tokenClaims
	_, err := jwt.ParseWithClaims(token, &body, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, ErrExpiredToken
	}
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if body.Subject == "" || body.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{
		Sub:            body.Subject,
		Name:           body.Name,
		Privileges:     body.Privileges,
		Authorizations: body.Authorizations,
		JTI:            body.ID,
		Exp:            body.ExpiresAt.Unix(),
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
