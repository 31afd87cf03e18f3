package hub

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated principal extracted from a bearer token.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

type claims struct {
	Username string `json:"name"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// MintToken signs a development token for a user. The production backend
// issues its own; the hub only needs to verify the shared secret.
func MintToken(secret []byte, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: id.Username,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(secret)
}

// ParseToken verifies a bearer token and returns the identity it carries.
func ParseToken(secret []byte, raw string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken.WithDetails(t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return Identity{}, ErrInvalidToken.WithDetails(err)
	}
	if !token.Valid || c.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: c.Subject, Username: c.Username, Role: c.Role}, nil
}

// bearerToken pulls the token out of an Authorization header or the
// access_token query parameter, the fallback browsers use for websockets.
func bearerToken(header, query string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return query
}
