package models

// Role determines permission and service-access scope.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleEngineer Role = "engineer"
	RoleAdmin    Role = "admin"
)

// Valid reports whether the role is one of the declared roles.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleEngineer, RoleAdmin:
		return true
	default:
		return false
	}
}

// User is the caller identity for a single request. Never mutated after resolution.
type User struct {
	ID    string `json:"id" yaml:"id"`
	Email string `json:"email" yaml:"email"`
	Role  Role   `json:"role" yaml:"role"`
	Name  string `json:"name" yaml:"name"`
}

// Permission tokens checked against a role's allowed set.
const (
	PermReadMetrics      = "read:metrics"
	PermReadTraces       = "read:traces"
	PermReadAnomalies    = "read:anomalies"
	PermWriteAnnotations = "write:annotations"
	PermWriteConfig      = "write:config"
	PermManageUsers      = "manage:users"
)
