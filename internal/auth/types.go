package auth

import "errors"

// Role represents an authorisation tier for API clients.
type Role string

const (
	// RoleViewer can read the status document, devices and the
	// commissioning audit trail. Dashboards and monitoring use it.
	RoleViewer Role = "viewer"

	// RoleOperator can also commission, pair and open commissioning
	// windows. Installer apps use it.
	RoleOperator Role = "operator"

	// RoleAdmin can also trigger config restores and read metrics.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrNoSubject    = errors.New("token subject is required")
	ErrNoSecret     = errors.New("signing secret is required")
	ErrForbidden    = errors.New("insufficient permissions")
)
