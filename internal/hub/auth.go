package hub

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims carried on hub tokens.
type Claims struct {
	jwt.RegisteredClaims
	Documents []string `json:"docs,omitempty"`
}

// TokenService issues and validates HS256 tokens scoping access to
// flow documents. A nil service disables authentication.
type TokenService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

// NewTokenService creates a TokenService. An empty signing key returns
// nil, which callers treat as auth disabled.
func NewTokenService(signingKey []byte, issuer string, ttl time.Duration) *TokenService {
	if len(signingKey) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenService{signingKey: signingKey, issuer: issuer, ttl: ttl}
}

// Generate issues a token for the given subject, optionally restricted
// to specific documents.
func (ts *TokenService) Generate(subject string, documents ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
		},
		Documents: documents,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ts.signingKey)
}

// Validate parses and verifies a token.
func (ts *TokenService) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method", ErrUnauthorized)
		}
		return ts.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token. A nil
// receiver passes everything through.
func (ts *TokenService) Middleware(next http.Handler) http.Handler {
	if ts == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			WriteError(w, fmt.Errorf("%w: missing bearer token", ErrUnauthorized))
			return
		}
		if _, err := ts.Validate(raw); err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
