package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// ErrInvalidBearer is returned for missing, malformed or expired bearer tokens.
var ErrInvalidBearer = fmt.Errorf("%w: invalid or expired token", httpx.ErrUnauthorized)

const bearerIssuer = "odyssey-pos"

type scopeClaims struct {
	jwtlib.RegisteredClaims
	TenantID int64  `json:"tenant_id"`
	StoreID  *int64 `json:"store_id,omitempty"`
	Role     string `json:"role"`
}

// Authenticator resolves the caller scope from HS256 bearer tokens issued by the POS
// identity service.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: jwt secret must be at least 16 bytes")
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

// ParseToken validates tokenStr and returns the scope it carries.
func (a *Authenticator) ParseToken(tokenStr string) (shared.Scope, error) {
	claims := &scopeClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithExpirationRequired())
	if err != nil || !token.Valid {
		return shared.Scope{}, ErrInvalidBearer
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.TenantID <= 0 {
		return shared.Scope{}, ErrInvalidBearer
	}
	scope := shared.Scope{
		TenantID: claims.TenantID,
		StoreID:  claims.StoreID,
		Role:     shared.ParseRole(claims.Role),
		UserID:   sub,
	}
	if !scope.TenantWide() && scope.StoreID == nil {
		return shared.Scope{}, ErrInvalidBearer
	}
	return scope, nil
}

// Sign issues a token for scope valid for ttl. Used by the CLI and tests; production
// tokens come from the identity service.
func (a *Authenticator) Sign(scope shared.Scope, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := scopeClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   scope.UserID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			Issuer:    bearerIssuer,
		},
		TenantID: scope.TenantID,
		StoreID:  scope.StoreID,
		Role:     string(scope.Role),
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware attaches the bearer scope to the request context. Requests without an
// Authorization header pass through unscoped; a present but invalid token is rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			httpx.RespondError(w, ErrInvalidBearer)
			return
		}
		scope, err := a.ParseToken(strings.TrimSpace(raw))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithScope(r.Context(), scope)))
	})
}
