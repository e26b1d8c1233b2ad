package predicate

import (
	"fmt"
	"regexp"
)

// fieldRegex validates object field names referenced by predicates. Must
// start with a letter or underscore, followed by alphanumeric or underscore.
var fieldRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// maxFieldLen bounds field names accepted from policy data.
const maxFieldLen = 128

// ValidateField ensures an object field name is well formed. It rejects
// empty strings, names over 128 characters, and names that don't match the
// field pattern.
func ValidateField(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("field name cannot be empty")
	}
	if len(name) > maxFieldLen {
		return fmt.Errorf("field name too long (max %d chars): %q", maxFieldLen, name)
	}
	if !fieldRegex.MatchString(name) {
		return fmt.Errorf("invalid field name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	return nil
}
