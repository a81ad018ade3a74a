package unpickle

import (
	"errors"
	"fmt"

	ogorek "github.com/kisielk/og-rek"

	"github.com/born-ml/unpickle/internal/object"
)

// ErrUnsupportedShape is returned when a registered type is reconstructed
// from arguments or state of a layout no shim understands.
var ErrUnsupportedShape = errors.New("unsupported shape")

// ShapeError reports an unsupported argument or state layout, keeping the
// raw value for diagnosis.
type ShapeError struct {
	Type   string // Dotted type name.
	Reason string
	Args   any // Raw argument tuple or state.
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s: %s (got %s)", ErrUnsupportedShape, e.Type, e.Reason, describe(e.Args))
}

// Is reports whether target is ErrUnsupportedShape.
func (e *ShapeError) Is(target error) bool {
	return target == ErrUnsupportedShape
}

func shapeErr(typ object.TypeIdentity, args any, format string, a ...any) error {
	return &ShapeError{Type: typ.String(), Reason: fmt.Sprintf(format, a...), Args: args}
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case ogorek.Tuple:
		return fmt.Sprintf("tuple of %d", len(x))
	}
	return fmt.Sprintf("%T", v)
}
