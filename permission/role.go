package permission

// Role is a role name from the closed set known to a [RoleManager]. Roles are
// compared by exact string value; unregistered names are rejected when a
// credential is issued or parsed.
type Role string

// Built-in roles. Deployments may register additional roles on their
// RoleManager before freezing it.
const (
	Owner   Role = "Owner"
	Admin   Role = "Admin"
	Manager Role = "Manager"
	Analyst Role = "Analyst"
	Member  Role = "Member"
)

// String returns the role name.
func (r Role) String() string {
	return string(r)
}

// BuiltinRoles lists the predefined roles in descending privilege order.
func BuiltinRoles() []Role {
	return []Role{Owner, Admin, Manager, Analyst, Member}
}

// RoleNames converts roles to their wire representation.
func RoleNames(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
