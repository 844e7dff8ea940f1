package domain

import (
	"fmt"
	"sort"
)

// The closed set of capability names. Free-form permission strings are not
// accepted anywhere: overrides are validated against this registry at the
// write boundary so a typo cannot create an unreachable grant.
const (
	PermReadContent        = "read_content"
	PermComment            = "comment"
	PermSubmitContent      = "submit_content"
	PermEditOwnContent     = "edit_own_content"
	PermEditAnyContent     = "edit_any_content"
	PermPublishContent     = "publish_content"
	PermPublishUnmoderated = "publish_unmoderated"
	PermModerateComments   = "moderate_comments"
	PermReviewFlags        = "review_flags"
	PermSuspendUsers       = "suspend_users"
	PermManageUsers        = "manage_users"
	PermManagePermissions  = "manage_permissions"
	PermImportData         = "import_data"
	PermManageRoles        = "manage_roles"
	PermManageSystem       = "manage_system"
)

var permissionRegistry = map[string]struct{}{
	PermReadContent:        {},
	PermComment:            {},
	PermSubmitContent:      {},
	PermEditOwnContent:     {},
	PermEditAnyContent:     {},
	PermPublishContent:     {},
	PermPublishUnmoderated: {},
	PermModerateComments:   {},
	PermReviewFlags:        {},
	PermSuspendUsers:       {},
	PermManageUsers:        {},
	PermManagePermissions:  {},
	PermImportData:         {},
	PermManageRoles:        {},
	PermManageSystem:       {},
}

// IsRegisteredPermission reports whether the name is a known capability.
func IsRegisteredPermission(name string) bool {
	_, ok := permissionRegistry[name]
	return ok
}

// ValidatePermissions rejects any name outside the registry.
func ValidatePermissions(names []string) error {
	for _, name := range names {
		if !IsRegisteredPermission(name) {
			return fmt.Errorf("unknown permission %q", name)
		}
	}
	return nil
}

// PermissionSet is the resolved effective capability set for one user:
// (role base ∪ extra) \ denied. Denial wins on conflict so an operator can
// neutralize a misbehaving elevated account without demoting its role.
type PermissionSet struct {
	allowed map[string]struct{}
}

// NewPermissionSet computes the effective set from a role and its overrides.
// Unknown override names are ignored here (fail closed on lookup); the write
// boundary is responsible for rejecting them.
func NewPermissionSet(role Role, extra, denied []string) PermissionSet {
	allowed := make(map[string]struct{})
	for _, p := range PermissionsForRole(role) {
		allowed[p] = struct{}{}
	}
	for _, p := range extra {
		if IsRegisteredPermission(p) {
			allowed[p] = struct{}{}
		}
	}
	for _, p := range denied {
		delete(allowed, p)
	}
	return PermissionSet{allowed: allowed}
}

// Has reports whether the named capability is in the effective set. Unknown
// names always resolve to false.
func (s PermissionSet) Has(permission string) bool {
	_, ok := s.allowed[permission]
	return ok
}

// List returns the effective set as a sorted slice, suitable for embedding
// as an access-token snapshot.
func (s PermissionSet) List() []string {
	perms := make([]string, 0, len(s.allowed))
	for p := range s.allowed {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}

// Len returns the size of the effective set.
func (s PermissionSet) Len() int {
	return len(s.allowed)
}
