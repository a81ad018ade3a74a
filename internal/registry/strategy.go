package registry

import (
	"fmt"
	"slices"
	"strings"
)

// Kind selects how a resolved type is reconstructed.
type Kind int

// Reconstruction kinds.
const (
	Discard  Kind = iota + 1 // Yields the Ignored marker.
	Constant                 // A module-level singleton resolved at GLOBAL time.
	Type                     // A class used as a value, e.g. numpy.float64.
	Object                   // An attribute object.
	Array                    // numpy arrays, dtypes and scalars.
	Callable                 // Functions, partials and ufuncs.
	Enum                     // Enum classes.
	Builtin                  // Python builtins with native representations.
)

var kindNames = map[Kind]string{
	Discard:  "discard",
	Constant: "constant",
	Type:     "type",
	Object:   "object",
	Array:    "array",
	Callable: "callable",
	Enum:     "enum",
	Builtin:  "builtin",
}

// String returns the kind tag used in registration files.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Shapes refine a kind. Each one names a reconstruction routine.
const (
	ShapeDefault = ""

	// Array shapes.
	ShapeNDArray       = "ndarray"       // numpy.ndarray class
	ShapeReconstruct   = "reconstruct"   // numpy.core.multiarray._reconstruct
	ShapeDType         = "dtype"         // numpy.dtype
	ShapeScalar        = "scalar"        // numpy.core.multiarray.scalar
	ShapeFromBuffer    = "frombuffer"    // numpy.core.numeric._frombuffer
	ShapeMaReconstruct = "mareconstruct" // numpy.ma.core._mareconstruct
	ShapeMaskedArray   = "maskedarray"   // numpy.ma.core.MaskedArray class
	ShapeArrayWrapper  = "wrapper"       // joblib NumpyArrayWrapper

	// Object shapes.
	ShapeDataFrame    = "dataframe"
	ShapeSeries       = "series"
	ShapeBlockManager = "blockmanager"
	ShapeBlock        = "block"
	ShapeIndex        = "index"
	ShapeNewIndex     = "newindex"
	ShapeTree         = "tree"

	// Callable shapes. The default shape is a plain function reference.
	ShapePartial = "partial"
	ShapeUfunc   = "ufunc"

	// Builtin shapes.
	ShapeSet           = "set"
	ShapeFrozenSet     = "frozenset"
	ShapeList          = "list"
	ShapeTuple         = "tuple"
	ShapeDict          = "dict"
	ShapeBytes         = "bytes"
	ShapeByteArray     = "bytearray"
	ShapeSlice         = "slice"
	ShapeComplex       = "complex"
	ShapeGetattr       = "getattr"
	ShapeEncode        = "encode"
	ShapeReconstructor = "reconstructor"
	ShapeOrderedDict   = "ordereddict"
	ShapeDefaultDict   = "defaultdict"
	ShapeObject        = "object"

	// Constant shapes.
	ShapeEllipsis       = "ellipsis"
	ShapeNotImplemented = "notimplemented"
)

// shapes lists the valid shapes per kind.
var shapes = map[Kind][]string{
	Discard:  {ShapeDefault},
	Constant: {ShapeEllipsis, ShapeNotImplemented},
	Type:     {ShapeDefault},
	Object: {
		ShapeDefault, ShapeDataFrame, ShapeSeries, ShapeBlockManager,
		ShapeBlock, ShapeIndex, ShapeNewIndex, ShapeTree,
	},
	Array: {
		ShapeNDArray, ShapeReconstruct, ShapeDType, ShapeScalar, ShapeFromBuffer,
		ShapeMaReconstruct, ShapeMaskedArray, ShapeArrayWrapper,
	},
	Callable: {ShapeDefault, ShapePartial, ShapeUfunc},
	Enum:     {ShapeDefault},
	Builtin: {
		ShapeSet, ShapeFrozenSet, ShapeList, ShapeTuple, ShapeDict, ShapeBytes,
		ShapeByteArray, ShapeSlice, ShapeComplex, ShapeGetattr, ShapeEncode,
		ShapeReconstructor, ShapeOrderedDict, ShapeDefaultDict, ShapeObject,
	},
}

// Strategy is a registry entry: a kind and an optional shape.
type Strategy struct {
	Kind  Kind
	Shape string
}

// String returns the "kind[:shape]" tag.
func (s Strategy) String() string {
	if s.Shape == "" {
		return s.Kind.String()
	}
	return s.Kind.String() + ":" + s.Shape
}

// Validate checks the kind and shape against the closed tag table.
func (s Strategy) Validate() error {
	valid, ok := shapes[s.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidStrategy, int(s.Kind))
	}
	if !slices.Contains(valid, s.Shape) {
		return fmt.Errorf("%w: kind %s has no shape %q", ErrInvalidStrategy, s.Kind, s.Shape)
	}
	return nil
}

// ParseStrategy parses a "kind[:shape]" tag.
func ParseStrategy(tag string) (Strategy, error) {
	kindTag, shape, _ := strings.Cut(strings.TrimSpace(tag), ":")
	for k, name := range kindNames {
		if name == kindTag {
			s := Strategy{Kind: k, Shape: shape}
			if err := s.Validate(); err != nil {
				return Strategy{}, err
			}
			return s, nil
		}
	}
	return Strategy{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidStrategy, kindTag)
}
