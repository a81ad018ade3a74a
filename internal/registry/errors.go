package registry

import (
	"errors"
	"fmt"

	"github.com/born-ml/unpickle/internal/object"
)

// Common errors.
var (
	ErrUnresolvedType  = errors.New("unresolved type")
	ErrInvalidStrategy = errors.New("invalid strategy")
	ErrInvalidPattern  = errors.New("invalid registration pattern")
)

// ResolutionError reports a type identity with no registration.
type ResolutionError struct {
	Identity object.TypeIdentity
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnresolvedType, e.Identity)
}

// Is reports whether target is ErrUnresolvedType.
func (e *ResolutionError) Is(target error) bool {
	return target == ErrUnresolvedType
}
