// Package loader reconstructs Python object graphs pickled by numpy, pandas,
// scikit-learn and joblib, without a Python runtime.
//
// This package wraps internal implementations and exports a clean public API.
//
// Example usage:
//
//	import "github.com/born-ml/unpickle/loader"
//
//	v, err := loader.LoadFile(ctx, "forest.joblib", loader.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	est := v.(*loader.Object)
//	fmt.Println(est.Type()) // sklearn.ensemble._forest.RandomForestClassifier
//
//	n, err := loader.Get[int](est, "n_features_in_")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Types that are not in the default registry fail with ErrUnresolvedType.
// Register them in a registry of your own:
//
//	reg := loader.DefaultRegistry()
//	reg.RegisterPattern("mypkg.models.(Scaler|Encoder)", loader.Strategy{Kind: loader.KindObject})
//	v, err := loader.LoadFile(ctx, "pipeline.pkl", loader.Options{Registry: reg})
//
// Logging goes through the zerolog logger carried by ctx, if any.
package loader

import (
	"context"
	"io"

	"github.com/born-ml/unpickle/internal/container"
	"github.com/born-ml/unpickle/internal/dtype"
	"github.com/born-ml/unpickle/internal/loader"
	"github.com/born-ml/unpickle/internal/ndarray"
	"github.com/born-ml/unpickle/internal/object"
	"github.com/born-ml/unpickle/internal/parallel"
	"github.com/born-ml/unpickle/internal/pickle"
	"github.com/born-ml/unpickle/internal/registry"
	"github.com/born-ml/unpickle/internal/unpickle"
)

// Options configures a load.
type Options = unpickle.Options

// Reconstructed values. Python None, bool, int, float and str become nil,
// bool, int64 (or *big.Int), float64 and string.
type (
	// Object is an instance of a registered Python class.
	Object = object.Object
	// TypeIdentity is a class's module and name.
	TypeIdentity = object.TypeIdentity
	// Array is a numpy ndarray.
	Array = ndarray.Array
	// MaskedArray is a numpy.ma masked array.
	MaskedArray = ndarray.MaskedArray
	// Scalar is a numpy scalar.
	Scalar = ndarray.Scalar
	// Record is one element of a structured array.
	Record = ndarray.Record
	// Date is a calendar date from a datetime64 array with day or coarser units.
	Date = ndarray.Date
	// Descr is a numpy dtype.
	Descr = dtype.Descr
	// List is a Python list.
	List = pickle.List
	// Dict is an insertion-ordered Python dict.
	Dict = pickle.Dict
	// Set is a Python set or frozenset.
	Set = pickle.Set
	// ArrayLike is implemented by Array and MaskedArray.
	ArrayLike = object.ArrayLike
)

// Registries.
type (
	// Registry maps Python type names to reconstruction strategies.
	Registry = registry.Registry
	// Strategy is a registered reconstruction strategy.
	Strategy = registry.Strategy
	// Kind is the kind of a strategy.
	Kind = registry.Kind
	// Orderings recovers field order of record dtypes pickled without names.
	Orderings = dtype.Orderings
)

// Strategy kinds.
const (
	KindDiscard  = registry.Discard
	KindConstant = registry.Constant
	KindType     = registry.Type
	KindObject   = registry.Object
	KindArray    = registry.Array
	KindCallable = registry.Callable
	KindEnum     = registry.Enum
	KindBuiltin  = registry.Builtin
)

// Errors. All are usable with errors.Is.
var (
	ErrMalformedStream       = container.ErrMalformedStream
	ErrUnresolvedType        = registry.ErrUnresolvedType
	ErrUnresolvedStructure   = dtype.ErrUnresolvedStructure
	ErrAttributeMissing      = object.ErrAttributeMissing
	ErrAttributeNull         = object.ErrAttributeNull
	ErrAttributeTypeMismatch = object.ErrAttributeTypeMismatch
	ErrUnsupportedShape      = unpickle.ErrUnsupportedShape
	ErrPayloadTooLarge       = unpickle.ErrPayloadTooLarge
)

// Error types carrying context, for use with errors.As.
type (
	ResolutionError   = registry.ResolutionError
	StructureError    = dtype.StructureError
	AttributeError    = object.AttributeError
	ShapeError        = unpickle.ShapeError
	SizeMismatchError = container.SizeMismatchError
)

// Load reconstructs a pickle or joblib stream, detecting zlib and legacy
// zfile compression. If r is an io.Closer it is closed.
func Load(ctx context.Context, r io.Reader, opts Options) (any, error) {
	return unpickle.Load(ctx, r, opts)
}

// Unpickle reconstructs a plain pickle. The joblib wrappers are only
// recognized with opts.Joblib set.
func Unpickle(ctx context.Context, r io.Reader, opts Options) (any, error) {
	return unpickle.Unpickle(ctx, r, opts)
}

// LoadFile reconstructs the pickle or joblib file at path.
func LoadFile(ctx context.Context, path string, opts Options) (any, error) {
	return loader.LoadFile(ctx, path, opts)
}

// Result is the outcome of loading one file with LoadFiles.
type Result = loader.Result

// ParallelConfig bounds the concurrency of LoadFiles.
type ParallelConfig = parallel.Config

// DefaultParallelConfig uses one worker per CPU.
func DefaultParallelConfig() ParallelConfig {
	return parallel.DefaultConfig()
}

// LoadFiles loads paths concurrently. Each file loads in its own session.
func LoadFiles(ctx context.Context, paths []string, opts Options, cfg ParallelConfig) []Result {
	return loader.LoadFiles(ctx, paths, opts, cfg)
}

// DumpOptions controls Dump.
type DumpOptions = loader.DumpOptions

// Dump writes an indented outline of the graph rooted at v.
func Dump(w io.Writer, v any, opts DumpOptions) error {
	return loader.Dump(w, v, opts)
}

// DefaultRegistry returns a copy of the builtin registrations, safe to
// extend.
func DefaultRegistry() *Registry {
	return registry.Default()
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return registry.New()
}

// LoadRegistry reads INI registrations, one "dotted.Type = kind[:shape]"
// line per entry.
func LoadRegistry(ctx context.Context, r io.Reader) (*Registry, error) {
	return registry.Load(ctx, r)
}

// ParseStrategy parses a "kind[:shape]" tag.
func ParseStrategy(tag string) (Strategy, error) {
	return registry.ParseStrategy(tag)
}

// DefaultOrderings returns a copy of the builtin record field orderings.
func DefaultOrderings() *Orderings {
	return dtype.DefaultOrderings()
}

// Get returns the named attribute of o converted to T.
func Get[T any](o *Object, name string) (T, error) {
	return object.Get[T](o, name)
}

// GetOptional returns the named attribute of o converted to T, or def when
// it is absent or None.
func GetOptional[T any](o *Object, name string, def T) (T, error) {
	return object.GetOptional(o, name, def)
}

// GetArray returns the named attribute of o as an array.
func GetArray(o *Object, name string) (ArrayLike, error) {
	return object.GetArray(o, name)
}

// GetArrayOf returns the elements of an array attribute converted to T,
// reading field key of a record array when given.
func GetArrayOf[T any](o *Object, name string, key ...string) ([]T, error) {
	return object.GetArrayOf[T](o, name, key...)
}

// Cast converts a reconstructed value to T.
func Cast[T any](v any) (T, error) {
	return object.Cast[T](v)
}
