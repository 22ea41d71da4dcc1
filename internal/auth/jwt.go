// Package auth verifies the bearer tokens presented at WebSocket handshake
// time. Token issuance lives with the identity service; the gateway only
// consumes already-signed tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Roshan282005/TELIQ/internal/model"
)

// Handshake rejection reasons surfaced to clients. These strings are part
// of the wire contract; clients match on them.
var (
	ErrNoToken      = errors.New("No token")
	ErrInvalidToken = errors.New("Invalid token")
	ErrAuth         = errors.New("Authentication error")
)

// Claims are the identity claims embedded in a TELIQ token.
type Claims struct {
	Name    string `json:"name,omitempty"`
	Contact string `json:"contact,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a raw token and returns the bound identity.
// Expired, malformed, or mis-signed tokens all map to ErrInvalidToken.
func (v *Verifier) Verify(raw string) (*model.Identity, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &model.Identity{
		ID:      claims.Subject,
		Name:    claims.Name,
		Contact: claims.Contact,
	}, nil
}

// FromRequest extracts the handshake token from the query parameter
// (the usual path for browser WebSocket clients) or the Authorization
// header, and verifies it.
func (v *Verifier) FromRequest(r *http.Request) (*model.Identity, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		header := r.Header.Get("Authorization")
		raw = strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			raw = "" // header present but not a bearer token
		}
	}
	if raw == "" {
		return nil, ErrNoToken
	}
	raw = strings.TrimPrefix(raw, "Bearer ")
	return v.Verify(raw)
}

// Signer mints tokens. The gateway itself never signs production tokens;
// this exists for tests and the development token endpoint.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl}
}

func (s *Signer) Sign(id model.Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name:    id.Name,
		Contact: id.Contact,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    "teliq-gateway",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
