package domain

// Role is one level in the fixed privilege hierarchy. Each level implies all
// permissions of lower levels plus an explicit incremental grant.
type Role string

const (
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleEditor      Role = "editor"
	RoleModerator   Role = "moderator"
	RoleAdmin       Role = "admin"
	RoleSuperadmin  Role = "superadmin"
)

// roleRanks defines the total order viewer < contributor < editor <
// moderator < admin < superadmin.
var roleRanks = map[Role]int{
	RoleViewer:      0,
	RoleContributor: 1,
	RoleEditor:      2,
	RoleModerator:   3,
	RoleAdmin:       4,
	RoleSuperadmin:  5,
}

// roleGrants is the incremental permission grant per level. Cumulative sets
// are derived by walking the hierarchy upward.
var roleGrants = map[Role][]string{
	RoleViewer:      {PermReadContent, PermComment},
	RoleContributor: {PermSubmitContent, PermEditOwnContent},
	RoleEditor:      {PermEditAnyContent, PermPublishContent, PermPublishUnmoderated},
	RoleModerator:   {PermModerateComments, PermReviewFlags, PermSuspendUsers},
	RoleAdmin:       {PermManageUsers, PermManagePermissions, PermImportData},
	RoleSuperadmin:  {PermManageRoles, PermManageSystem},
}

// orderedRoles lists the hierarchy from lowest to highest rank.
var orderedRoles = []Role{
	RoleViewer, RoleContributor, RoleEditor, RoleModerator, RoleAdmin, RoleSuperadmin,
}

// IsValidRole checks whether the given role string names a hierarchy level.
func IsValidRole(role Role) bool {
	_, ok := roleRanks[role]
	return ok
}

// Rank returns the role's position in the hierarchy, or -1 for unknown roles.
func (r Role) Rank() int {
	rank, ok := roleRanks[r]
	if !ok {
		return -1
	}
	return rank
}

// AtLeast reports whether r sits at or above the given floor. Unknown roles
// on either side fail closed.
func (r Role) AtLeast(floor Role) bool {
	rRank, ok := roleRanks[r]
	if !ok {
		return false
	}
	floorRank, ok := roleRanks[floor]
	if !ok {
		return false
	}
	return rRank >= floorRank
}

// PermissionsForRole returns the cumulative base set for the role: its own
// incremental grant plus everything implied by lower levels.
func PermissionsForRole(role Role) []string {
	rank, ok := roleRanks[role]
	if !ok {
		return nil
	}

	var perms []string
	for _, r := range orderedRoles {
		if roleRanks[r] > rank {
			break
		}
		perms = append(perms, roleGrants[r]...)
	}
	return perms
}
