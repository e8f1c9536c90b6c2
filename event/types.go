package event

// Event types emitted by the identity core.
const (
	TypePrincipalCreated      = "principal.created"
	TypeRoleCreated           = "role.created"
	TypePrincipalRoleAssigned = "principal.role_assigned"
	TypePrincipalRoleRevoked  = "principal.role_revoked"
)

// PrincipalCreated is the payload of TypePrincipalCreated. It never carries
// credential material.
type PrincipalCreated struct {
	PrincipalID string `json:"principal_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// RoleCreated is the payload of TypeRoleCreated.
type RoleCreated struct {
	RoleID string `json:"role_id"`
	Name   string `json:"name"`
}

// PrincipalRoleAssigned is the payload of TypePrincipalRoleAssigned.
type PrincipalRoleAssigned struct {
	PrincipalID string `json:"principal_id"`
	RoleID      string `json:"role_id"`
	RoleName    string `json:"role_name"`
}

// PrincipalRoleRevoked is the payload of TypePrincipalRoleRevoked.
type PrincipalRoleRevoked struct {
	PrincipalID string `json:"principal_id"`
	RoleID      string `json:"role_id"`
	RoleName    string `json:"role_name"`
}
