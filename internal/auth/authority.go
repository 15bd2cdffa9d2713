package auth

// StaticRoleAuthority resolves role-implied permissions from a fixed
// configuration map.
type StaticRoleAuthority struct {
	grants map[string][]string
}

func NewStaticRoleAuthority(grants map[string][]string) *StaticRoleAuthority {
	if grants == nil {
		grants = make(map[string][]string)
	}
	return &StaticRoleAuthority{grants: grants}
}

// PermissionsFor returns the permissions implied by a role. Unknown roles
// imply no permissions.
func (a *StaticRoleAuthority) PermissionsFor(role string) []string {
	perms := a.grants[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
