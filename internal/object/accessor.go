package object

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	ogorek "github.com/kisielk/og-rek"

	"github.com/born-ml/unpickle/internal/dtype"
	"github.com/born-ml/unpickle/internal/ndarray"
	"github.com/born-ml/unpickle/internal/pickle"
)

// ArrayLike is the array capability: a row-major element sequence and a
// shape. *ndarray.Array and *ndarray.MaskedArray implement it.
type ArrayLike interface {
	Content() ([]any, error)
	Shape() []int
}

// FieldArray is an array of records whose fields can be read as columns.
type FieldArray interface {
	ArrayLike
	FieldContent(name string) ([]any, error)
}

// Get returns the named attribute converted to T.
func Get[T any](o *Object, name string) (T, error) {
	var zero T
	v, ok := o.attrs.Get(name)
	if !ok {
		return zero, &AttributeError{Kind: ErrAttributeMissing, Name: o.FQN(name)}
	}
	return castAttr[T](o, name, v)
}

// GetOptional returns the named attribute converted to T, or def when the
// attribute is absent or None.
func GetOptional[T any](o *Object, name string, def T) (T, error) {
	v, ok := o.attrs.Get(name)
	if !ok || Unwrap(v) == nil {
		return def, nil
	}
	return castAttr[T](o, name, v)
}

func castAttr[T any](o *Object, name string, v any) (T, error) {
	var zero T
	t := reflect.TypeFor[T]()
	if Unwrap(v) == nil && !nullable(t) {
		return zero, &AttributeError{Kind: ErrAttributeNull, Name: o.FQN(name), Want: t.String()}
	}
	out, err := Cast[T](v)
	if err != nil {
		return zero, &AttributeError{
			Kind:   ErrAttributeTypeMismatch,
			Name:   o.FQN(name),
			Want:   t.String(),
			Actual: TypeName(v),
			Err:    err,
		}
	}
	return out, nil
}

// GetArray returns the named attribute as an array. Arrays are returned as
// is; a bare number becomes a one-element array and a tuple or list becomes
// a one-dimensional object array.
func GetArray(o *Object, name string) (ArrayLike, error) {
	v, ok := o.attrs.Get(name)
	if !ok {
		return nil, &AttributeError{Kind: ErrAttributeMissing, Name: o.FQN(name)}
	}
	if v == nil {
		return nil, &AttributeError{Kind: ErrAttributeNull, Name: o.FQN(name), Want: "array"}
	}
	arr, err := asArray(v)
	if err != nil {
		return nil, &AttributeError{
			Kind:   ErrAttributeTypeMismatch,
			Name:   o.FQN(name),
			Want:   "array",
			Actual: TypeName(v),
			Err:    err,
		}
	}
	return arr, nil
}

func asArray(v any) (ArrayLike, error) {
	if arr, ok := v.(ArrayLike); ok {
		return arr, nil
	}
	if s, ok := v.(*ndarray.Scalar); ok {
		return ndarray.FromValues(s.Descr, []any{s.Value}), nil
	}
	if d := numberDescr(v); d != nil {
		return ndarray.FromValues(d, []any{v}), nil
	}
	switch x := v.(type) {
	case ogorek.Tuple:
		return ndarray.FromValues(dtype.MustParse("|O"), x), nil
	case *pickle.List:
		return ndarray.FromValues(dtype.MustParse("|O"), x.Items), nil
	}
	return nil, fmt.Errorf("%s is not array-like", TypeName(v))
}

func numberDescr(v any) *dtype.Descr {
	switch v.(type) {
	case bool:
		return dtype.MustParse("|b1")
	case int64:
		return dtype.MustParse("<i8")
	case *big.Int:
		return dtype.MustParse("|O")
	case float64:
		return dtype.MustParse("<f8")
	case complex128:
		return dtype.MustParse("<c16")
	}
	return nil
}

// GetArrayOf returns the elements of the named array attribute converted to
// T. With a key, the array must hold records and the named field is read.
func GetArrayOf[T any](o *Object, name string, key ...string) ([]T, error) {
	arr, err := GetArray(o, name)
	if err != nil {
		return nil, err
	}

	fqn := o.FQN(name)
	var content []any
	if len(key) > 0 {
		fa, ok := arr.(FieldArray)
		if !ok {
			return nil, &AttributeError{
				Kind:   ErrAttributeTypeMismatch,
				Name:   fqn,
				Want:   "record array",
				Actual: TypeName(arr),
			}
		}
		fqn += "." + key[0]
		content, err = fa.FieldContent(key[0])
	} else {
		content, err = arr.Content()
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fqn, err)
	}

	out := make([]T, len(content))
	for i, v := range content {
		c, err := Cast[T](v)
		if err != nil {
			return nil, &AttributeError{
				Kind:   ErrAttributeTypeMismatch,
				Name:   fqn + "[" + strconv.Itoa(i) + "]",
				Want:   reflect.TypeFor[T]().String(),
				Actual: TypeName(v),
				Err:    err,
			}
		}
		out[i] = c
	}
	return out, nil
}
