package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.vchat/sessions, so the
// charset is restricted to what is safe on every filesystem.
var validName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName reports whether name is usable as a session name.
func ValidateName(name string) error {
	if validName.MatchString(name) {
		return nil
	}
	return fmt.Errorf("invalid session name %q: use lowercase letters, digits, '-' or '_' (max 64 chars)", name)
}
