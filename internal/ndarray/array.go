// Package ndarray decodes numpy array payloads into logical element
// sequences.
//
// An Array keeps its payload source and decodes it lazily on first access.
// The decoded content is cached until ClearContent or Release is called.
package ndarray

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/born-ml/unpickle/internal/dtype"
)

// ErrReleased is returned when content is requested from an array whose
// payload source has been released.
var ErrReleased = errors.New("array payload source released")

// Source supplies the stored bytes of an array payload.
type Source interface {
	Open() (io.Reader, error)
	Len() int
}

// BytesSource is an in-memory payload.
type BytesSource []byte

// Open returns a reader over the payload.
func (s BytesSource) Open() (io.Reader, error) {
	return bytes.NewReader(s), nil
}

// Len returns the payload size in bytes.
func (s BytesSource) Len() int {
	return len(s)
}

// Array is a decoded-on-demand n-dimensional array.
type Array struct {
	descr *dtype.Descr
	shape []int
	order Order

	source  Source // Binary payload, nil for object arrays.
	objects []any  // Object elements in row-major order.

	content  []any // Cached row-major content.
	released bool
}

// New creates an array backed by a binary payload.
func New(descr *dtype.Descr, shape []int, order Order, source Source) *Array {
	a := &Array{}
	a.Reset(descr, shape, order, source)
	return a
}

// NewObjects creates an object array from elements already materialized in
// row-major order. numpy pickles object arrays element by element in logical
// order whatever the memory layout, so order is kept only as metadata.
func NewObjects(descr *dtype.Descr, shape []int, order Order, objects []any) *Array {
	a := &Array{}
	a.ResetObjects(descr, shape, order, objects)
	return a
}

// FromValues creates a one-dimensional array over values that are already
// in logical order.
func FromValues(descr *dtype.Descr, values []any) *Array {
	return &Array{
		descr:   descr,
		shape:   []int{len(values)},
		order:   OrderC,
		objects: values,
		content: values,
	}
}

// Reset replaces the array definition with a binary payload, dropping any
// cached content.
func (a *Array) Reset(descr *dtype.Descr, shape []int, order Order, source Source) {
	a.descr = descr
	a.shape = append([]int(nil), shape...)
	a.order = order
	a.source = source
	a.objects = nil
	a.content = nil
	a.released = false
}

// ResetObjects replaces the array definition with materialized objects.
func (a *Array) ResetObjects(descr *dtype.Descr, shape []int, order Order, objects []any) {
	a.Reset(descr, shape, order, nil)
	a.objects = objects
}

// Descr returns the element type descriptor.
func (a *Array) Descr() *dtype.Descr {
	return a.descr
}

// Shape returns the dimension sizes.
func (a *Array) Shape() []int {
	return a.shape
}

// Order returns the storage layout of the payload.
func (a *Array) Order() Order {
	return a.order
}

// Size returns the number of elements.
func (a *Array) Size() int {
	n, err := Count(a.shape)
	if err != nil {
		return 0
	}
	return n
}

// Content returns the elements in row-major order, decoding the payload on
// first use.
func (a *Array) Content() ([]any, error) {
	if a.content != nil {
		return a.content, nil
	}
	if a.released {
		return nil, ErrReleased
	}
	if a.descr == nil {
		return nil, errors.New("array has no dtype")
	}
	if _, err := Count(a.shape); err != nil {
		return nil, err
	}

	var (
		content []any
		err     error
	)
	switch {
	case a.objects != nil:
		content, err = a.objectContent()
	case a.source != nil:
		content, err = a.decode()
	default:
		content = []any{}
		if n := a.Size(); n > 0 {
			err = fmt.Errorf("array of %d elements has no payload", n)
		}
	}
	if err != nil {
		return nil, err
	}

	a.content = content
	return content, nil
}

func (a *Array) objectContent() ([]any, error) {
	n := a.Size()
	if len(a.objects) != n {
		return nil, fmt.Errorf("object array of shape %v holds %d elements", a.shape, len(a.objects))
	}
	return append([]any(nil), a.objects...), nil
}

func (a *Array) decode() ([]any, error) {
	need, err := PayloadSize(a.shape, a.descr)
	if err != nil {
		return nil, err
	}
	if a.source.Len() < need {
		return nil, fmt.Errorf("payload of %d bytes is shorter than %d elements of %s", a.source.Len(), a.Size(), a.descr)
	}
	r, err := a.source.Open()
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	return Decode(r, a.descr, a.shape, a.order)
}

// Item returns the single element of a zero-dimensional or one-element
// array.
func (a *Array) Item() (any, bool) {
	if a.Size() != 1 {
		return nil, false
	}
	content, err := a.Content()
	if err != nil || len(content) != 1 {
		return nil, false
	}
	return content[0], true
}

// FieldContent returns one field of every record of a compound array.
func (a *Array) FieldContent(name string) ([]any, error) {
	if !a.descr.IsCompound() {
		return nil, fmt.Errorf("dtype %s has no fields", a.descr)
	}
	if _, ok := a.descr.Field(name); !ok {
		return nil, fmt.Errorf("dtype %s has no field %q", a.descr, name)
	}
	return fieldColumn(a, name)
}

type contenter interface {
	Content() ([]any, error)
}

func fieldColumn(a contenter, name string) ([]any, error) {
	content, err := a.Content()
	if err != nil {
		return nil, err
	}
	column := make([]any, len(content))
	for i, v := range content {
		switch rec := v.(type) {
		case *Record:
			column[i], _ = rec.Get(name)
		case nil:
			column[i] = nil
		default:
			return nil, fmt.Errorf("element %d is %T, not a record", i, v)
		}
	}
	return column, nil
}

// Nested returns the content reshaped into nested slices.
func (a *Array) Nested() (any, error) {
	content, err := a.Content()
	if err != nil {
		return nil, err
	}
	return Nest(content, a.shape), nil
}

// ClearContent drops the cached content. The next Content call decodes the
// payload again.
func (a *Array) ClearContent() {
	a.content = nil
}

// Release drops the cached content and the payload. Later Content calls
// fail with ErrReleased.
func (a *Array) Release() {
	a.content = nil
	a.source = nil
	a.objects = nil
	a.released = true
}

// String summarizes the array.
func (a *Array) String() string {
	return fmt.Sprintf("ndarray(shape=%v, dtype=%s, order=%s)", a.shape, a.descr, a.order)
}
