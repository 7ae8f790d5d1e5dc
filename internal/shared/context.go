package shared

import "context"

type scopeContextKey struct{}

// Scope is the caller identity resolved upstream by the tenant/store middleware.
type Scope struct {
	TenantID int64
	StoreID  *int64
	Role     Role
	UserID   string
}

// TenantWide reports whether the caller can see every store of the tenant.
func (s Scope) TenantWide() bool {
	return s.Role.TenantWide()
}

// ContextWithScope stores the resolved scope in context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the resolved scope from context.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	if !ok || scope.TenantID <= 0 {
		return Scope{}, false
	}
	return scope, true
}
