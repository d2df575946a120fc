package workitem

import (
	"errors"
	"strings"
)

// ErrGone is returned when an entity vanished or changed underneath a delete.
var ErrGone = errors.New("work item no longer exists")

// ValidationError carries user facing messages for a rejected change.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, " ")
}

func invalid(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}

// AsValidationError unwraps err into a *ValidationError if it carries one.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
