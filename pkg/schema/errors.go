package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation matches every *ValidationError through errors.Is.
var ErrValidation = errors.New("schema validation failed")

// Violation is one failed constraint.
type Violation struct {
	Field  string
	Reason string
}

// ValidationError reports a raw record that does not conform to its collection schema.
// Field and Reason describe the first violation; Violations lists all of them.
type ValidationError struct {
	Collection string
	DocumentID string
	Field      string
	Reason     string
	Violations []Violation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Collection)
	if e.DocumentID != "" {
		b.WriteString("/")
		b.WriteString(e.DocumentID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %q: %s", e.Field, e.Reason)
	} else {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if extra := len(e.Violations) - 1; extra > 0 {
		fmt.Fprintf(&b, " (and %d more)", extra)
	}
	return b.String()
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(collection, id string, violations []Violation) *ValidationError {
	err := &ValidationError{
		Collection: collection,
		DocumentID: id,
		Violations: violations,
	}
	if len(violations) > 0 {
		err.Field = violations[0].Field
		err.Reason = violations[0].Reason
	}
	return err
}
