package enums

import (
	"fmt"
	"strings"
)

// OperatorRole identifies which station a request came from. It is
// informational only and never authorizes anything.
type OperatorRole string

const (
	OperatorRoleRegistration OperatorRole = "registration"
	OperatorRoleStaging      OperatorRole = "staging"
	OperatorRolePickup       OperatorRole = "pickup"
	OperatorRoleDisplay      OperatorRole = "display"
)

var validOperatorRoles = []OperatorRole{
	OperatorRoleRegistration,
	OperatorRoleStaging,
	OperatorRolePickup,
	OperatorRoleDisplay,
}

// String implements fmt.Stringer.
func (o OperatorRole) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OperatorRole.
func (o OperatorRole) IsValid() bool {
	for _, candidate := range validOperatorRoles {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOperatorRole converts raw input into an OperatorRole.
func ParseOperatorRole(value string) (OperatorRole, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validOperatorRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operator role %q", value)
}
