package policy

import (
	"errors"
	"fmt"
)

// errUnauthorized is the only message a client ever sees for a denial. It
// does not distinguish route denials from object denials.
const errUnauthorized = "not authorized"

// UnauthorizedError is returned when an action is denied. The internal
// reason is available for logging but is never part of Error().
type UnauthorizedError struct {
	internal error

	subject    string
	action     string
	objectType string
}

// Forbidden builds an UnauthorizedError from a denied decision.
func Forbidden(d Decision, subject, action, objectType string) *UnauthorizedError {
	internal := errors.New(string(d.Reason))
	if d.Rule != nil {
		internal = fmt.Errorf("%s by %s", d.Reason, d.Rule.Source)
	}
	return &UnauthorizedError{
		internal:   internal,
		subject:    subject,
		action:     action,
		objectType: objectType,
	}
}

// Error implements the error interface.
func (e *UnauthorizedError) Error() string {
	return errUnauthorized
}

func (e *UnauthorizedError) Unwrap() error {
	return e.internal
}

// Internal returns the detailed denial reason for logs.
func (e *UnauthorizedError) Internal() string {
	return fmt.Sprintf("%s: (subject: %s), (action: %s), (object: %s): %v",
		errUnauthorized, e.subject, e.action, e.objectType, e.internal)
}

// IsUnauthorized reports whether err is or wraps an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}
