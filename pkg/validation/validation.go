package validation

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var (
	// RoleRegex validates role names and aliases.
	RoleRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
)

// ValidateClientID checks that id is a connection identifier issued by the broker.
func ValidateClientID(id string) error {
	if id == "" {
		return fmt.Errorf("client ID is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("client ID is too long (max 64 characters)")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid client ID format")
	}
	return nil
}

// ValidateRoleName validates a configured role or alias.
func ValidateRoleName(role string) error {
	if role == "" {
		return fmt.Errorf("role is required")
	}
	if len(role) > 32 {
		return fmt.Errorf("role is too long (max 32 characters)")
	}
	if !RoleRegex.MatchString(role) {
		return fmt.Errorf("role %q contains invalid characters (lowercase letters, digits, _, - allowed)", role)
	}
	return nil
}

// ValidatePassword validates a dashboard login attempt.
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) > 128 {
		return fmt.Errorf("password is too long (max 128 characters)")
	}
	return nil
}
