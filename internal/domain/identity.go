package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is the authorization tier of an identity.
type Role string

// Roles. The set is closed: ParseRole rejects anything else.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole converts a raw string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// IsValid checks if the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// HasPermission reports whether r satisfies a check for required.
// Admins implicitly hold user-level access.
func (r Role) HasPermission(required Role) bool {
	switch required {
	case RoleUser:
		return r == RoleUser || r == RoleAdmin
	case RoleAdmin:
		return r == RoleAdmin
	}
	return false
}

// UnmarshalJSON rejects unknown roles so corrupt records never decode.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Identity is one account known to the credential store.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Secret      string `json:"-"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
}

// IsAdmin returns true if the identity has the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// NormalizeEmail returns the case-insensitive key for an email address.
// Only letter case is ignored: "straße" and "strasse" stay distinct.
// A Caser holds state, so each call gets its own.
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}

// SameEmail compares two addresses case-insensitively.
func SameEmail(a, b string) bool {
	return NormalizeEmail(a) == NormalizeEmail(b)
}
