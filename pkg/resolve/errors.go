package resolve

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a resolution problem for propagation policy.
type ErrorClass string

const (
	// ErrorClassSelector indicates a selector that could not be evaluated
	// (unknown type, invalid regex). Fail-open: the overlay is skipped.
	ErrorClassSelector ErrorClass = "selector"

	// ErrorClassCondition indicates a condition that errored or timed out.
	// Fail-closed: the conditional section is skipped.
	ErrorClassCondition ErrorClass = "condition"

	// ErrorClassMergeConflict indicates a scalar/composite type mismatch
	// during merging, resolved by atomic replacement.
	ErrorClassMergeConflict ErrorClass = "merge_conflict"

	// ErrorClassValidation indicates a validation finding. Fatal only at
	// the strict level.
	ErrorClassValidation ErrorClass = "validation"
)

// Error is a classified resolution error with template context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Section is the entries-by-section name involved, if applicable.
	Section string `json:"section,omitempty"`

	// Entry is the entry key involved, if applicable.
	Entry string `json:"entry,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Section != "" && e.Entry != "":
		return fmt.Sprintf("[%s] %s (section=%s, entry=%s)%s", e.Class, e.Message, e.Section, e.Entry, e.unwrapSuffix())
	case e.Section != "":
		return fmt.Sprintf("[%s] %s (section=%s)%s", e.Class, e.Message, e.Section, e.unwrapSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithSection adds section context to an error.
func (e *Error) WithSection(section string) *Error {
	e.Section = section
	return e
}

// WithEntry adds entry context to an error.
func (e *Error) WithEntry(entry string) *Error {
	e.Entry = entry
	return e
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *Error {
	return &Error{Class: ErrorClassValidation, Message: message}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// Warning is a non-fatal finding collected during resolution.
type Warning struct {
	Class   ErrorClass `json:"class"`
	Section string     `json:"section,omitempty"`
	Entry   string     `json:"entry,omitempty"`
	Message string     `json:"message"`
}

// String formats the warning for display.
func (w Warning) String() string {
	switch {
	case w.Section != "" && w.Entry != "":
		return fmt.Sprintf("[%s] %s (section=%s, entry=%s)", w.Class, w.Message, w.Section, w.Entry)
	case w.Section != "":
		return fmt.Sprintf("[%s] %s (section=%s)", w.Class, w.Message, w.Section)
	default:
		return fmt.Sprintf("[%s] %s", w.Class, w.Message)
	}
}
