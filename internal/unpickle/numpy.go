package unpickle

import (
	"fmt"

	ogorek "github.com/kisielk/og-rek"

	"github.com/born-ml/unpickle/internal/dtype"
	"github.com/born-ml/unpickle/internal/ndarray"
	"github.com/born-ml/unpickle/internal/object"
	"github.com/born-ml/unpickle/internal/pickle"
	"github.com/born-ml/unpickle/internal/registry"
)

func (s *Session) callNumpy(id object.TypeIdentity, shape string, args ogorek.Tuple) (any, error) {
	switch shape {
	case registry.ShapeReconstruct:
		// _reconstruct(subtype, shape, typecode) allocates an empty array
		// that BUILD fills in.
		return new(ndarray.Array), nil

	case registry.ShapeMaReconstruct:
		return new(ndarray.MaskedArray), nil

	case registry.ShapeDType:
		return newDescr(id, args)

	case registry.ShapeScalar:
		return s.newScalar(id, args)

	case registry.ShapeFromBuffer:
		return s.fromBuffer(id, args)

	case registry.ShapeArrayWrapper:
		return &arrayWrapper{id: id}, nil
	}
	return nil, shapeErr(id, args, "%s cannot be called", shape)
}

// newDescr implements numpy.dtype(obj, align, copy). The descriptor is
// completed by BUILD.
func newDescr(id object.TypeIdentity, args ogorek.Tuple) (*dtype.Descr, error) {
	if len(args) == 0 {
		return nil, shapeErr(id, args, "missing type string")
	}
	str, ok := asString(args[0])
	if !ok {
		return nil, shapeErr(id, args, "type argument is %s, not a string", object.TypeName(args[0]))
	}
	d, err := dtype.Parse(str)
	if err != nil {
		return nil, fmt.Errorf("%s(%q): %w", id, str, err)
	}
	return d, nil
}

// buildDescr applies numpy.dtype.__setstate__. The state tuple has 9, 8,
// 7, 6 or 5 elements depending on the numpy version that wrote it.
func (s *Session) buildDescr(d *dtype.Descr, state any) error {
	id := object.Identity("numpy", "dtype")
	st, ok := state.(ogorek.Tuple)
	if !ok {
		return shapeErr(id, state, "state is not a tuple")
	}

	var (
		endian, subarray, names, fields, elsize, metadata any
	)
	switch len(st) {
	case 9:
		metadata = st[8]
		fallthrough
	case 8, 7:
		endian, subarray, names, fields, elsize = st[1], st[2], st[3], st[4], st[5]
	case 6:
		endian, subarray, fields, elsize = st[1], st[2], st[3], st[4]
	case 5:
		endian, subarray, fields, elsize = st[0], st[1], st[2], st[3]
	default:
		return shapeErr(id, state, "state tuple of length %d", len(st))
	}

	if subarray != nil {
		return shapeErr(id, state, "sub-array dtypes are not supported")
	}

	if e, ok := asString(endian); ok && len(e) == 1 {
		d.Order = dtype.ByteOrder(e[0])
	}

	size, err := object.Cast[int](elsize)
	if err != nil {
		return shapeErr(id, state, "element size: %v", err)
	}

	if fields != nil {
		return s.buildRecordDescr(d, id, state, names, fields, size)
	}

	switch d.Kind {
	case dtype.String, dtype.Unicode, dtype.Void:
		if size >= 0 {
			d.Size = size
		}
	case dtype.Datetime, dtype.Timedelta:
		if err := applyDatetimeMetadata(d, metadata); err != nil {
			return shapeErr(id, state, "datetime metadata: %v", err)
		}
	}
	return d.Validate()
}

func (s *Session) buildRecordDescr(d *dtype.Descr, id object.TypeIdentity, state, names, fields any, size int) error {
	fd, ok := fields.(*pickle.Dict)
	if !ok {
		return shapeErr(id, state, "fields are %s, not a dict", object.TypeName(fields))
	}

	// Versions 0 and 1 keep the names under the key -1.
	if names == nil {
		if n, ok := fd.Get(int64(-1)); ok {
			names = n
			fd.Delete(int64(-1))
		}
	}

	specs := make(map[string]dtype.FieldSpec, fd.Len())
	for _, e := range fd.Entries() {
		name, ok := asString(e.Key)
		if !ok {
			return shapeErr(id, state, "field key %v is not a string", e.Key)
		}
		spec, err := fieldSpec(e.Value)
		if err != nil {
			return shapeErr(id, state, "field %q: %v", name, err)
		}
		// Titles are stored as extra keys mapping to the titled field.
		if spec.Title != "" && spec.Title == name {
			continue
		}
		specs[name] = spec
	}

	var (
		rec *dtype.Descr
		err error
	)
	if names == nil {
		rec, err = dtype.ResolveCompound(specs, size, s.orderings)
	} else {
		var order []string
		order, err = object.Cast[[]string](names)
		if err != nil {
			return shapeErr(id, state, "names: %v", err)
		}
		rec, err = dtype.NewCompound(order, specs, size)
	}
	if err != nil {
		return err
	}
	*d = *rec
	return nil
}

func fieldSpec(v any) (dtype.FieldSpec, error) {
	t, ok := v.(ogorek.Tuple)
	if !ok || len(t) < 2 {
		return dtype.FieldSpec{}, fmt.Errorf("%s is not a (dtype, offset) tuple", object.TypeName(v))
	}
	d, ok := t[0].(*dtype.Descr)
	if !ok {
		return dtype.FieldSpec{}, fmt.Errorf("field type is %s", object.TypeName(t[0]))
	}
	offset, err := object.Cast[int](t[1])
	if err != nil {
		return dtype.FieldSpec{}, fmt.Errorf("offset: %w", err)
	}
	spec := dtype.FieldSpec{Descr: d, Offset: offset}
	if len(t) > 2 {
		spec.Title, _ = asString(t[2])
	}
	return spec, nil
}

// applyDatetimeMetadata reads the unit from ({...}, (unit, num, ...)).
func applyDatetimeMetadata(d *dtype.Descr, metadata any) error {
	md, ok := metadata.(ogorek.Tuple)
	if !ok || len(md) != 2 {
		return nil
	}
	info, ok := md[1].(ogorek.Tuple)
	if !ok || len(info) < 2 {
		return fmt.Errorf("unit info is %s", object.TypeName(md[1]))
	}
	unitStr, ok := asString(info[0])
	if !ok {
		return fmt.Errorf("unit is %s", object.TypeName(info[0]))
	}
	unit, err := dtype.ParseUnit(unitStr)
	if err != nil {
		return err
	}
	num, err := object.Cast[int](info[1])
	if err != nil {
		return err
	}
	d.Unit = unit
	d.Step = num
	return nil
}

// buildArray applies ndarray.__setstate__ with a
// ([version,] shape, dtype, is_fortran, rawdata) tuple.
func (s *Session) buildArray(a *ndarray.Array, state any) error {
	id := object.Identity("numpy", "ndarray")
	st, ok := state.(ogorek.Tuple)
	if !ok {
		return shapeErr(id, state, "state is not a tuple")
	}
	switch len(st) {
	case 5:
		st = st[1:]
	case 4:
	default:
		return shapeErr(id, state, "state tuple of length %d", len(st))
	}

	shape, descr, order, err := arrayHeader(id, st[0], st[1], st[2])
	if err != nil {
		return err
	}
	return s.fill(id, a, descr, shape, order, st[3])
}

func arrayHeader(id object.TypeIdentity, shape, descr, fortran any) ([]int, *dtype.Descr, ndarray.Order, error) {
	dims, err := object.Cast[[]int](shape)
	if err != nil {
		return nil, nil, 0, shapeErr(id, shape, "shape: %v", err)
	}
	d, ok := descr.(*dtype.Descr)
	if !ok {
		return nil, nil, 0, shapeErr(id, descr, "dtype is %s", object.TypeName(descr))
	}
	if _, err := ndarray.PayloadSize(dims, d); err != nil {
		return nil, nil, 0, shapeErr(id, shape, "shape: %v", err)
	}
	return dims, d, ndarray.OrderOf(truthy(fortran)), nil
}

// fill resets a from raw array data: a list for object arrays, bytes
// otherwise.
func (s *Session) fill(id object.TypeIdentity, a *ndarray.Array, descr *dtype.Descr, shape []int, order ndarray.Order, raw any) error {
	if l, ok := raw.(*pickle.List); ok {
		a.ResetObjects(descr, shape, order, l.Items)
		return nil
	}
	data, ok := asBytes(raw)
	if !ok {
		return shapeErr(id, raw, "array data is %s", object.TypeName(raw))
	}
	if descr.HasObject() {
		return shapeErr(id, raw, "object array data must be a list")
	}
	if err := s.checkPayload(id, len(data)); err != nil {
		return err
	}
	a.Reset(descr, shape, order, ndarray.BytesSource(data))
	return nil
}

// buildMasked applies MaskedArray.__setstate__ with a
// (version, shape, dtype, is_fortran, data, mask, fill_value) tuple.
func (s *Session) buildMasked(m *ndarray.MaskedArray, state any) error {
	id := object.Identity("numpy.ma.core", "MaskedArray")
	st, ok := state.(ogorek.Tuple)
	if !ok || len(st) != 7 {
		return shapeErr(id, state, "state is not a 7-tuple")
	}

	shape, descr, order, err := arrayHeader(id, st[1], st[2], st[3])
	if err != nil {
		return err
	}

	data := new(ndarray.Array)
	if err := s.fill(id, data, descr, shape, order, st[4]); err != nil {
		return err
	}
	mask := new(ndarray.Array)
	if err := s.fill(id, mask, dtype.MaskOf(descr), shape, order, st[5]); err != nil {
		return err
	}

	m.Data = data
	m.Mask = mask
	m.FillValue = st[6]
	return nil
}

// newScalar implements numpy.core.multiarray.scalar(dtype, data).
func (s *Session) newScalar(id object.TypeIdentity, args ogorek.Tuple) (any, error) {
	if len(args) != 2 {
		return nil, shapeErr(id, args, "want (dtype, data)")
	}
	descr, ok := args[0].(*dtype.Descr)
	if !ok {
		return nil, shapeErr(id, args, "dtype is %s", object.TypeName(args[0]))
	}
	if descr.HasObject() {
		return args[1], nil
	}
	data, ok := asBytes(args[1])
	if !ok {
		return nil, shapeErr(id, args, "data is %s", object.TypeName(args[1]))
	}
	return ndarray.NewScalar(descr, data)
}

// fromBuffer implements numpy.core.numeric._frombuffer(buf, dtype, shape,
// order), written for protocol 5 pickles.
func (s *Session) fromBuffer(id object.TypeIdentity, args ogorek.Tuple) (any, error) {
	if len(args) != 4 {
		return nil, shapeErr(id, args, "want (buffer, dtype, shape, order)")
	}
	order, _ := asString(args[3])
	shape, descr, layout, err := arrayHeader(id, args[2], args[1], order == "F")
	if err != nil {
		return nil, err
	}
	a := new(ndarray.Array)
	if err := s.fill(id, a, descr, shape, layout, args[0]); err != nil {
		return nil, err
	}
	return a, nil
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case ogorek.Bytes:
		return string(x), true
	}
	return "", false
}

func asBytes(v any) ([]byte, bool) {
	switch x := v.(type) {
	case ogorek.Bytes:
		return []byte(x), true
	case []byte:
		return x, true
	case string:
		// Python 2 str payloads hold raw bytes.
		return []byte(x), true
	}
	return nil, false
}

func truthy(v any) bool {
	switch x := object.Unwrap(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	}
	return true
}
