package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for malformed, tampered or expired download tokens.
var ErrInvalidToken = errors.New("storage: invalid or expired download token")

const tokenIssuer = "odyssey-pos"

type downloadClaims struct {
	jwtlib.RegisteredClaims
}

// TokenSigner issues HS256 download tokens for objects served by the application itself.
type TokenSigner struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

// NewTokenSigner constructs a TokenSigner. baseURL prefixes the resource path.
func NewTokenSigner(secret, baseURL string) (*TokenSigner, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("storage: signing secret must be at least 16 bytes")
	}
	return &TokenSigner{secret: []byte(secret), baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}, nil
}

// WithNow overrides the signer clock.
func (s *TokenSigner) WithNow(now func() time.Time) *TokenSigner {
	if now != nil {
		s.now = now
	}
	return s
}

// SignedURL returns {baseURL}{resource}?token=... bound to req.Key.
func (s *TokenSigner) SignedURL(ctx context.Context, req SignRequest) (string, error) {
	token, err := s.Token(req.Key, req.TTL)
	if err != nil {
		return "", err
	}
	return s.baseURL + req.Resource + "?token=" + url.QueryEscape(token), nil
}

// Token signs a token for key valid for ttl.
func (s *TokenSigner) Token(key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("storage: token ttl must be positive")
	}
	now := s.now().UTC()
	claims := downloadClaims{RegisteredClaims: jwtlib.RegisteredClaims{
		Subject:   key,
		Issuer:    tokenIssuer,
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	}}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks a token and that it was issued for key.
func (s *TokenSigner) Verify(token, key string) error {
	claims := &downloadClaims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	if claims.Subject != key {
		return ErrInvalidToken
	}
	return nil
}
