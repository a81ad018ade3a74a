package object

import (
	"fmt"
	"math"
	"math/big"
	"reflect"

	ogorek "github.com/kisielk/og-rek"

	"github.com/born-ml/unpickle/internal/ndarray"
	"github.com/born-ml/unpickle/internal/pickle"
)

// Scalar is implemented by boxed scalar values such as numpy.float64.
type Scalar interface {
	ScalarValue() any
}

// Unwrap strips boxed scalar wrappers and zero-dimensional arrays down to
// the bare value.
func Unwrap(v any) any {
	for {
		switch x := v.(type) {
		case Scalar:
			v = x.ScalarValue()
		case *ndarray.Array:
			if len(x.Shape()) != 0 {
				return v
			}
			item, ok := x.Item()
			if !ok {
				return v
			}
			v = item
		default:
			return v
		}
	}
}

// Cast converts v to T. Boxed scalars are unwrapped first, then numbers,
// strings, sequences and dicts are converted recursively.
func Cast[T any](v any) (T, error) {
	var zero T
	t := reflect.TypeFor[T]()
	rv, err := castTo(v, t)
	if err != nil {
		return zero, err
	}
	out, _ := rv.Interface().(T) // nil interface values leave the zero T
	return out, nil
}

func castTo(v any, t reflect.Type) (reflect.Value, error) {
	v = Unwrap(v)
	if v == nil {
		if nullable(t) {
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("None is not %s", t)
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		if t.Kind() == reflect.Interface {
			out := reflect.New(t).Elem()
			out.Set(rv)
			return out, nil
		}
		return rv, nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := toInt64(v)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", i, t)
		}
		out.SetInt(i)
		return out, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := toUint64(v)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t).Elem()
		if out.OverflowUint(u) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", u, t)
		}
		out.SetUint(u)
		return out, nil

	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(v)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t).Elem()
		out.SetFloat(f)
		return out, nil

	case reflect.Complex64, reflect.Complex128:
		var c complex128
		switch x := v.(type) {
		case complex64:
			c = complex128(x)
		case complex128:
			c = x
		default:
			f, err := toFloat64(v)
			if err != nil {
				return reflect.Value{}, err
			}
			c = complex(f, 0)
		}
		out := reflect.New(t).Elem()
		out.SetComplex(c)
		return out, nil

	case reflect.String:
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case ogorek.Bytes:
			s = string(x)
		default:
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.New(t).Elem()
		out.SetString(s)
		return out, nil

	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.New(t).Elem()
		out.SetBool(b)
		return out, nil

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			switch x := v.(type) {
			case ogorek.Bytes:
				return reflect.ValueOf([]byte(x)).Convert(t), nil
			case string:
				return reflect.ValueOf([]byte(x)).Convert(t), nil
			}
		}
		items, ok, err := Sequence(v)
		if err != nil {
			return reflect.Value{}, err
		}
		if !ok {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			ev, err := castTo(item, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil

	case reflect.Map:
		d, ok := v.(*pickle.Dict)
		if !ok {
			return reflect.Value{}, mismatch(v, t)
		}
		out := reflect.MakeMapWithSize(t, d.Len())
		for _, e := range d.Entries() {
			kv, err := castTo(e.Key, t.Key())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %v: %w", e.Key, err)
			}
			vv, err := castTo(e.Value, t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %v: %w", e.Key, err)
			}
			out.SetMapIndex(kv, vv)
		}
		return out, nil
	}

	return reflect.Value{}, mismatch(v, t)
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map:
		return true
	}
	return false
}

// Sequence returns the elements of a sequence-like value: tuples, lists,
// sets and arrays.
func Sequence(v any) ([]any, bool, error) {
	switch x := v.(type) {
	case ogorek.Tuple:
		return x, true, nil
	case []any:
		return x, true, nil
	case *pickle.List:
		return x.Items, true, nil
	case *pickle.Set:
		return x.Items(), true, nil
	case ArrayLike:
		content, err := x.Content()
		if err != nil {
			return nil, true, err
		}
		return content, true, nil
	}
	return nil, false, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}
		return int64(x), nil
	case *big.Int:
		if !x.IsInt64() {
			return 0, fmt.Errorf("%s overflows int64", x)
		}
		return x.Int64(), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("%v is not integral", x)
		}
		if x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, fmt.Errorf("%v overflows int64", x)
		}
		return int64(x), nil
	}
	return 0, fmt.Errorf("%s is not an integer", TypeName(v))
}

func toUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case uint64:
		return x, nil
	case *big.Int:
		if !x.IsUint64() {
			return 0, fmt.Errorf("%s overflows uint64", x)
		}
		return x.Uint64(), nil
	case float64:
		if x >= 0 && x < math.MaxUint64 && x == math.Trunc(x) {
			return uint64(x), nil
		}
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("%d is negative", i)
	}
	return uint64(i), nil
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, nil
	case uint64:
		return float64(x), nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("%s is not a number", TypeName(v))
	}
	return float64(i), nil
}

func mismatch(v any, t reflect.Type) error {
	return fmt.Errorf("cannot convert %s to %s", TypeName(v), t)
}

// TypeName returns the Python type name of a reconstructed value.
func TypeName(v any) string {
	switch x := v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64, *big.Int:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case ogorek.Bytes:
		return "bytes"
	case []byte:
		return "bytearray"
	case ogorek.Tuple:
		return "tuple"
	case *pickle.List:
		return "list"
	case *pickle.Dict:
		return "dict"
	case *pickle.Set:
		if x.Frozen {
			return "frozenset"
		}
		return "set"
	case *Object:
		return x.typ.String()
	case *ndarray.MaskedArray:
		return "numpy.ma.MaskedArray"
	case *ndarray.Array:
		return "numpy.ndarray"
	case *ndarray.Scalar:
		return "numpy." + x.Descr.Kind.String()
	}
	return fmt.Sprintf("%T", v)
}
