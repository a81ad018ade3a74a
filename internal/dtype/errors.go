package dtype

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	ErrInvalidDescr        = errors.New("invalid type descriptor")
	ErrUnresolvedStructure = errors.New("unresolved compound structure")
)

// InvalidError reports a kind and size combination that no numpy dtype has.
type InvalidError struct {
	Kind Kind
	Size int
}

// Error implements the error interface.
func (e *InvalidError) Error() string {
	return fmt.Sprintf("%s: kind %s (%q) with size %d", ErrInvalidDescr, e.Kind, rune(e.Kind), e.Size)
}

// Is reports whether target is ErrInvalidDescr.
func (e *InvalidError) Is(target error) bool {
	return target == ErrInvalidDescr
}

// StructureError reports a compound descriptor whose field order cannot be
// recovered from its field-name set.
type StructureError struct {
	Fields []string // Sorted field names.
}

// Error implements the error interface.
func (e *StructureError) Error() string {
	return fmt.Sprintf("%s: no registered ordering for fields {%s}", ErrUnresolvedStructure, strings.Join(e.Fields, ", "))
}

// Is reports whether target is ErrUnresolvedStructure.
func (e *StructureError) Is(target error) bool {
	return target == ErrUnresolvedStructure
}
