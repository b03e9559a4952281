package registry

import (
	"errors"
	"strings"
)

var (
	// ErrConstruction matches every *ConstructionError through errors.Is.
	ErrConstruction = errors.New("registry construction failed")
	// ErrUnencodableInput reports an operation input with no JSON form, such
	// as a NaN inside a filter value.
	ErrUnencodableInput = errors.New("registry: input is not JSON-encodable")
)

// ConstructionError reports a malformed operation tree. It is returned by
// Build and Bind and must abort startup.
type ConstructionError struct {
	Path   []string
	Reason string
}

// Error implements the error interface.
func (e *ConstructionError) Error() string {
	if len(e.Path) == 0 {
		return "registry: " + e.Reason
	}
	return "registry: " + strings.Join(e.Path, "/") + ": " + e.Reason
}

// Is matches ErrConstruction.
func (e *ConstructionError) Is(target error) bool {
	return target == ErrConstruction
}

func constructionError(path []string, reason string) error {
	return &ConstructionError{Path: append([]string(nil), path...), Reason: reason}
}
