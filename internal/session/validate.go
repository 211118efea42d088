package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidName is wrapped by every ValidateName error.
var ErrInvalidName = errors.New("invalid profile name")

const maxNameLen = 64

var nameChars = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateName checks that a profile name is safe to use as a directory name
// and as a command-line argument.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidName, name, maxNameLen)
	case !nameChars.MatchString(name):
		return fmt.Errorf("%w: %q may only use a-z, 0-9, '-' and '_'", ErrInvalidName, name)
	case strings.HasPrefix(name, "-"):
		return fmt.Errorf("%w: %q starts with '-'", ErrInvalidName, name)
	}
	return nil
}
