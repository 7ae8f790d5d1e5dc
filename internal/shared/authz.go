package shared

import "strings"

// Role is the caller's role inside a tenant.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleCashier Role = "cashier"
)

// ParseRole normalises a role token; unknown tokens are kept lowercase and treated as store-bound.
func ParseRole(raw string) Role {
	return Role(strings.ToLower(strings.TrimSpace(raw)))
}

// TenantWide reports whether the role sees every store of the tenant.
func (r Role) TenantWide() bool {
	return r == RoleOwner || r == RoleAdmin
}

// ResolveStore applies the role constraint to an explicitly requested store.
// Store-bound callers are forced to their assigned store; a mismatched explicit
// store is a ScopeViolation.
func ResolveStore(scope Scope, requested *int64) (*int64, error) {
	if scope.TenantWide() {
		return requested, nil
	}
	if scope.StoreID == nil {
		return nil, ScopeViolation{TenantID: scope.TenantID, Requested: deref(requested)}
	}
	assigned := *scope.StoreID
	if requested != nil && *requested != assigned {
		return nil, ScopeViolation{TenantID: scope.TenantID, Requested: *requested, Allowed: assigned}
	}
	return &assigned, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
