package model

// Role is the caller's role inside a tenant.
type Role string

// Known roles.
const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super-admin"
	RoleJudge      Role = "judge"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSuperAdmin, RoleJudge:
		return true
	}
	return false
}

// Caller is the identity attached to every request by the auth collaborator.
type Caller struct {
	InstitutionID string `json:"institutionId"`
	ID            string `json:"id"`
	Role          Role   `json:"role"`
}

// IsStaff reports whether the caller may see every judge's marks.
func (c Caller) IsStaff() bool {
	return c.Role == RoleAdmin || c.Role == RoleSuperAdmin
}

// Staff returns a staff caller for tenant, used by internal re-aggregation.
func Staff(institutionID string) Caller {
	return Caller{InstitutionID: institutionID, ID: "system", Role: RoleAdmin}
}
