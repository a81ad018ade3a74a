package ndarray

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/born-ml/unpickle/internal/dtype"
)

// ErrObjectPayload is returned when object references are requested from a
// binary payload. Object arrays are materialized by the pickle stream, not
// decoded from bytes.
var ErrObjectPayload = errors.New("object elements have no binary encoding")

// ErrTooLarge is returned when the element count or byte size of a shape
// does not fit in an int.
var ErrTooLarge = errors.New("array is too large")

// Count returns the number of elements of an array with the given shape.
// A zero-dimensional shape holds one element.
func Count(shape []int) (int, error) {
	n := 1
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("negative dimension %d at axis %d", dim, i)
		}
		if dim > 0 && n > math.MaxInt/dim {
			return 0, fmt.Errorf("%w: shape %v", ErrTooLarge, shape)
		}
		n *= dim
	}
	return n, nil
}

// PayloadSize returns the number of bytes a payload of the given shape and
// element type occupies.
func PayloadSize(shape []int, d *dtype.Descr) (int, error) {
	n, err := Count(shape)
	if err != nil {
		return 0, err
	}
	if d.Size > 0 && n > math.MaxInt/d.Size {
		return 0, fmt.Errorf("%w: %d elements of %s", ErrTooLarge, n, d)
	}
	return n * d.Size, nil
}

// Decode reads ∏shape elements described by d from r in storage order and
// returns them in row-major logical order.
func Decode(r io.Reader, d *dtype.Descr, shape []int, order Order) ([]any, error) {
	count, err := Count(shape)
	if err != nil {
		return nil, err
	}

	pr := NewReader(r)
	values := make([]any, count)
	for i := range values {
		v, err := readElement(pr, d)
		if err != nil {
			return nil, fmt.Errorf("element %d of %d (%s): %w", i, count, d, err)
		}
		values[i] = v
	}

	if order == OrderFortran {
		values = fortranToC(values, shape)
	}
	return values, nil
}

// DecodeOne decodes a single element from its stored bytes.
func DecodeOne(data []byte, d *dtype.Descr) (any, error) {
	if len(data) < d.Size {
		return nil, fmt.Errorf("element of %s needs %d bytes, got %d", d, d.Size, len(data))
	}
	return readElement(NewReader(bytes.NewReader(data)), d)
}

func readElement(r *Reader, d *dtype.Descr) (any, error) {
	if d.IsCompound() {
		return readRecord(r, d)
	}

	order := d.Order.Binary()
	switch d.Kind {
	case dtype.Bool:
		b, err := r.ReadUint8()
		return b != 0, err

	case dtype.Int:
		return readInt(r, d)

	case dtype.Uint:
		return readUint(r, d)

	case dtype.Float:
		switch d.Size {
		case 2:
			return r.ReadFloat16(order)
		case 4:
			return r.ReadFloat32(order)
		case 8:
			return r.ReadFloat64(order)
		}

	case dtype.Complex:
		switch d.Size {
		case 8:
			re, err := r.ReadFloat32(order)
			if err != nil {
				return nil, err
			}
			im, err := r.ReadFloat32(order)
			return complex(re, im), err
		case 16:
			re, err := r.ReadFloat64(order)
			if err != nil {
				return nil, err
			}
			im, err := r.ReadFloat64(order)
			return complex(re, im), err
		}

	case dtype.Datetime:
		v, err := r.ReadInt64(order)
		if err != nil {
			return nil, err
		}
		return datetimeValue(v, d)

	case dtype.Timedelta:
		v, err := r.ReadInt64(order)
		if err != nil {
			return nil, err
		}
		return timedeltaValue(v, d)

	case dtype.String:
		b, err := r.ReadBytes(d.Size)
		if err != nil {
			return nil, err
		}
		return string(bytes.TrimRight(b, "\x00")), nil

	case dtype.Unicode:
		return readUnicode(r, d)

	case dtype.Void:
		return r.ReadBytes(d.Size)

	case dtype.Object:
		return nil, ErrObjectPayload
	}

	return nil, &dtype.InvalidError{Kind: d.Kind, Size: d.Size}
}

func readInt(r *Reader, d *dtype.Descr) (any, error) {
	order := d.Order.Binary()
	switch d.Size {
	case 1:
		return r.ReadInt8()
	case 2:
		return r.ReadInt16(order)
	case 4:
		return r.ReadInt32(order)
	case 8:
		return r.ReadInt64(order)
	}
	return nil, &dtype.InvalidError{Kind: d.Kind, Size: d.Size}
}

func readUint(r *Reader, d *dtype.Descr) (any, error) {
	order := d.Order.Binary()
	switch d.Size {
	case 1:
		return r.ReadUint8()
	case 2:
		return r.ReadUint16(order)
	case 4:
		return r.ReadUint32(order)
	case 8:
		return r.ReadUint64(order)
	}
	return nil, &dtype.InvalidError{Kind: d.Kind, Size: d.Size}
}

// readUnicode decodes fixed-width UCS-4 text, dropping trailing NULs.
func readUnicode(r *Reader, d *dtype.Descr) (any, error) {
	order := d.Order.Binary()
	n := d.Size / 4
	runes := make([]rune, 0, n)
	for i := 0; i < n; i++ {
		cp, err := r.ReadUint32(order)
		if err != nil {
			return nil, err
		}
		runes = append(runes, rune(cp)) //nolint:gosec // G115: code points fit in rune.
	}
	for len(runes) > 0 && runes[len(runes)-1] == 0 {
		runes = runes[:len(runes)-1]
	}
	for _, c := range runes {
		if !utf8.ValidRune(c) {
			return nil, fmt.Errorf("invalid code point U+%X", c)
		}
	}
	return string(runes), nil
}

// readRecord reads one record and decodes each field from its offset.
func readRecord(r *Reader, d *dtype.Descr) (any, error) {
	item, err := r.ReadBytes(d.Size)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		names:  d.FieldNames(),
		values: make([]any, len(d.Fields)),
	}
	for i, f := range d.Fields {
		end := f.Offset + f.Descr.Size
		if end > len(item) {
			return nil, fmt.Errorf("field %q ends at %d past record size %d", f.Name, end, len(item))
		}
		v, err := readElement(NewReader(bytes.NewReader(item[f.Offset:end])), f.Descr)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		rec.values[i] = v
	}
	return rec, nil
}
