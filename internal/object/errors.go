package object

import (
	"errors"
	"fmt"
)

// Accessor errors.
var (
	ErrAttributeMissing      = errors.New("attribute missing")
	ErrAttributeNull         = errors.New("attribute is None")
	ErrAttributeTypeMismatch = errors.New("attribute type mismatch")
)

// AttributeError reports a failed typed attribute access.
type AttributeError struct {
	Kind   error  // One of the Err* sentinels above.
	Name   string // Fully qualified attribute name, e.g. "sklearn.tree._tree.Tree.nodes".
	Want   string // Requested Go type.
	Actual string // Python-ish name of the stored value's type.
	Err    error  // Cast failure detail, if any.
}

// Error implements the error interface.
func (e *AttributeError) Error() string {
	switch e.Kind {
	case ErrAttributeMissing:
		return fmt.Sprintf("%s: %s", e.Kind, e.Name)
	case ErrAttributeNull:
		return fmt.Sprintf("%s: %s (want %s)", e.Kind, e.Name, e.Want)
	}
	msg := fmt.Sprintf("%s: %s is %s, want %s", e.Kind, e.Name, e.Actual, e.Want)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the error's kind.
func (e *AttributeError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the cast failure detail.
func (e *AttributeError) Unwrap() error {
	return e.Err
}
