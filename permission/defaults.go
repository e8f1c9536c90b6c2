package permission

// Built-in permission names.
const (
	PermPrincipalsRead  = "principals.read"
	PermPrincipalsWrite = "principals.write"
	PermRolesManage     = "roles.manage"
	PermReportsRead     = "reports.read"
	PermReportsWrite    = "reports.write"
)

// NewDefaultRoleManager builds a frozen RoleManager holding the built-in roles.
// Owner carries the root bit.
func NewDefaultRoleManager() (*RoleManager, error) {
	registry := NewRegistry(true)
	for _, p := range []string{PermPrincipalsRead, PermPrincipalsWrite, PermRolesManage, PermReportsRead, PermReportsWrite} {
		if _, err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	rm := NewRoleManager(registry)
	grants := []struct {
		role  Role
		perms []string
	}{
		{Owner, nil},
		{Admin, []string{PermPrincipalsRead, PermPrincipalsWrite, PermRolesManage, PermReportsRead, PermReportsWrite}},
		{Manager, []string{PermPrincipalsRead, PermReportsRead, PermReportsWrite}},
		{Analyst, []string{PermReportsRead}},
		{Member, nil},
	}
	for _, g := range grants {
		if err := rm.RegisterRole(g.role, g.perms); err != nil {
			return nil, err
		}
	}
	if err := rm.GrantRoot(Owner); err != nil {
		return nil, err
	}

	rm.Freeze()
	return rm, nil
}
