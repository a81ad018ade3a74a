package unpickle

import (
	"strings"

	ogorek "github.com/kisielk/og-rek"

	"github.com/born-ml/unpickle/internal/object"
	"github.com/born-ml/unpickle/internal/pickle"
	"github.com/born-ml/unpickle/internal/registry"
)

func (s *Session) callBuiltin(id object.TypeIdentity, shape string, args ogorek.Tuple) (any, error) {
	switch shape {
	case registry.ShapeSet, registry.ShapeFrozenSet:
		items, err := iterable(id, args)
		if err != nil {
			return nil, err
		}
		return pickle.NewSet(shape == registry.ShapeFrozenSet, items...), nil

	case registry.ShapeList:
		items, err := iterable(id, args)
		if err != nil {
			return nil, err
		}
		return pickle.NewList(items...), nil

	case registry.ShapeTuple:
		items, err := iterable(id, args)
		if err != nil {
			return nil, err
		}
		return ogorek.Tuple(items), nil

	case registry.ShapeDict, registry.ShapeOrderedDict:
		return newDict(id, args)

	case registry.ShapeDefaultDict:
		// The default factory is not kept.
		return pickle.NewDict(), nil

	case registry.ShapeBytes:
		return newBytes(id, args)

	case registry.ShapeByteArray:
		if len(args) == 0 {
			return []byte{}, nil
		}
		b, err := newBytes(id, args)
		if err != nil {
			return nil, err
		}
		return []byte(b.(ogorek.Bytes)), nil

	case registry.ShapeSlice:
		var sl Slice
		switch len(args) {
		case 1:
			sl.Stop = args[0]
		case 2:
			sl.Start, sl.Stop = args[0], args[1]
		case 3:
			sl.Start, sl.Stop, sl.Step = args[0], args[1], args[2]
		default:
			return nil, shapeErr(id, args, "slice takes 1 to 3 arguments")
		}
		return &sl, nil

	case registry.ShapeComplex:
		if len(args) == 0 || len(args) > 2 {
			return nil, shapeErr(id, args, "complex takes 1 or 2 arguments")
		}
		re, err := object.Cast[float64](args[0])
		if err != nil {
			return nil, shapeErr(id, args, "real part: %v", err)
		}
		var im float64
		if len(args) == 2 {
			if im, err = object.Cast[float64](args[1]); err != nil {
				return nil, shapeErr(id, args, "imaginary part: %v", err)
			}
		}
		return complex(re, im), nil

	case registry.ShapeGetattr:
		if len(args) != 2 {
			return nil, shapeErr(id, args, "getattr takes (object, name)")
		}
		name, ok := asString(args[1])
		if !ok {
			return nil, shapeErr(id, args, "attribute name is %s", object.TypeName(args[1]))
		}
		return &getattrRef{target: args[0], name: name}, nil

	case registry.ShapeEncode:
		return encode(id, args)

	case registry.ShapeReconstructor:
		return s.reconstructor(id, args)
	}
	return nil, shapeErr(id, args, "%s cannot be called", shape)
}

// iterable returns the items of the single optional iterable argument of
// set(), list() and the like.
func iterable(id object.TypeIdentity, args ogorek.Tuple) ([]any, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		if d, ok := args[0].(*pickle.Dict); ok {
			return d.Keys(), nil
		}
		items, ok, err := object.Sequence(args[0])
		if err != nil {
			return nil, err
		}
		if ok {
			return items, nil
		}
	}
	return nil, shapeErr(id, args, "want a single iterable")
}

func newDict(id object.TypeIdentity, args ogorek.Tuple) (*pickle.Dict, error) {
	d := pickle.NewDict()
	if len(args) == 0 || args[0] == nil {
		return d, nil
	}
	if src, ok := args[0].(*pickle.Dict); ok {
		for _, e := range src.Entries() {
			d.Set(e.Key, e.Value)
		}
		return d, nil
	}
	items, ok, err := object.Sequence(args[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shapeErr(id, args, "want a mapping or a sequence of pairs")
	}
	for _, item := range items {
		pair, ok, _ := object.Sequence(item)
		if !ok || len(pair) != 2 {
			return nil, shapeErr(id, args, "item %v is not a pair", item)
		}
		d.Set(pair[0], pair[1])
	}
	return d, nil
}

// newBytes implements bytes() and the payload part of bytearray(): no
// argument, a bytes value, a list of ints or a (str, encoding) pair.
func newBytes(id object.TypeIdentity, args ogorek.Tuple) (any, error) {
	switch len(args) {
	case 0:
		return ogorek.Bytes(""), nil
	case 1:
		if b, ok := asBytes(args[0]); ok {
			return ogorek.Bytes(b), nil
		}
		ints, err := object.Cast[[]uint8](args[0])
		if err != nil {
			return nil, shapeErr(id, args, "%v", err)
		}
		return ogorek.Bytes(ints), nil
	case 2:
		return encode(id, args)
	}
	return nil, shapeErr(id, args, "too many arguments")
}

// encode implements _codecs.encode(str, encoding) as written by protocols
// 0 to 2 for bytes values.
func encode(id object.TypeIdentity, args ogorek.Tuple) (any, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, shapeErr(id, args, "want (str, encoding)")
	}
	text, ok := args[0].(string)
	if !ok {
		return nil, shapeErr(id, args, "value is %s, not str", object.TypeName(args[0]))
	}
	encoding := "utf-8"
	if len(args) == 2 {
		if encoding, ok = asString(args[1]); !ok {
			return nil, shapeErr(id, args, "encoding is %s", object.TypeName(args[1]))
		}
	}

	switch strings.ToLower(strings.ReplaceAll(encoding, "_", "-")) {
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		out := make([]byte, 0, len(text))
		for _, r := range text {
			if r > 0xff {
				return nil, shapeErr(id, args, "code point %U is not latin-1", r)
			}
			out = append(out, byte(r))
		}
		return ogorek.Bytes(out), nil
	case "utf-8", "utf8", "ascii":
		return ogorek.Bytes(text), nil
	}
	return nil, shapeErr(id, args, "unsupported encoding %q", encoding)
}

// reconstructor implements copyreg._reconstructor(cls, base, state), the
// protocol 0 and 1 form of object.__reduce_ex__.
func (s *Session) reconstructor(id object.TypeIdentity, args ogorek.Tuple) (any, error) {
	if len(args) != 3 {
		return nil, shapeErr(id, args, "want (cls, base, state)")
	}
	obj, err := s.NewObject(args[0], nil, nil)
	if err != nil {
		return nil, err
	}
	if args[2] == nil {
		return obj, nil
	}
	// A builtin base initialized from state, e.g. a dict subclass.
	switch o := obj.(type) {
	case *object.Object:
		switch st := args[2].(type) {
		case *pickle.Dict:
			for _, e := range st.Entries() {
				o.SetItem(e.Key, e.Value)
			}
			return o, nil
		case *pickle.List:
			o.Append(st.Items...)
			return o, nil
		}
	}
	return nil, shapeErr(id, args, "base state %s is not supported", object.TypeName(args[2]))
}

func (s *Session) callCallable(id object.TypeIdentity, shape string, args ogorek.Tuple) (any, error) {
	switch shape {
	case registry.ShapePartial:
		if len(args) == 0 {
			return nil, shapeErr(id, args, "partial needs a function")
		}
		return &Partial{Func: args[0], Args: append(ogorek.Tuple(nil), args[1:]...)}, nil

	case registry.ShapeUfunc:
		if len(args) != 2 {
			return nil, shapeErr(id, args, "want (module, name)")
		}
		module, ok1 := asString(args[0])
		name, ok2 := asString(args[1])
		if !ok1 || !ok2 {
			return nil, shapeErr(id, args, "module and name must be strings")
		}
		return &Function{Identity: object.Identity(module, name)}, nil
	}
	return nil, shapeErr(id, args, "%s cannot be called", shape)
}

// buildPartial applies functools.partial.__setstate__ with a
// (func, args, kwds, dict) tuple.
func buildPartial(p *Partial, state any) error {
	id := object.Identity("functools", "partial")
	st, ok := state.(ogorek.Tuple)
	if !ok || len(st) != 4 {
		return shapeErr(id, state, "state is not a 4-tuple")
	}
	p.Func = st[0]

	args, ok, err := object.Sequence(st[1])
	if err != nil {
		return err
	}
	if !ok && st[1] != nil {
		return shapeErr(id, state, "args are %s", object.TypeName(st[1]))
	}
	p.Args = ogorek.Tuple(args)

	for i, dst := range []**pickle.Dict{&p.Keywords, &p.Dict} {
		switch d := st[2+i].(type) {
		case nil:
			*dst = nil
		case *pickle.Dict:
			*dst = d
		default:
			return shapeErr(id, state, "expected dict, got %s", object.TypeName(d))
		}
	}
	return nil
}
