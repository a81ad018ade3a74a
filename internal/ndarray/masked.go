package ndarray

import (
	"fmt"
	"slices"

	"github.com/born-ml/unpickle/internal/dtype"
)

// MaskedArray pairs a data array with a same-shaped boolean mask. Masked
// positions read as nil.
type MaskedArray struct {
	Data      *Array
	Mask      *Array
	FillValue any
}

// NewMasked creates a masked array over a data payload and a mask payload
// sharing shape and layout. The mask descriptor is derived with
// dtype.MaskOf.
func NewMasked(descr *dtype.Descr, shape []int, order Order, data, mask Source, fill any) *MaskedArray {
	return &MaskedArray{
		Data:      New(descr, shape, order, data),
		Mask:      New(dtype.MaskOf(descr), shape, order, mask),
		FillValue: fill,
	}
}

// Descr returns the data descriptor.
func (m *MaskedArray) Descr() *dtype.Descr {
	return m.Data.Descr()
}

// Shape returns the dimension sizes.
func (m *MaskedArray) Shape() []int {
	return m.Data.Shape()
}

// Content returns the data elements with masked positions set to nil.
// For record arrays only the masked fields of a record are cleared.
func (m *MaskedArray) Content() ([]any, error) {
	data, err := m.Data.Content()
	if err != nil {
		return nil, fmt.Errorf("masked data: %w", err)
	}
	if m.Mask == nil {
		return data, nil
	}
	if !slices.Equal(m.Data.Shape(), m.Mask.Shape()) {
		return nil, fmt.Errorf("mask shape %v differs from data shape %v", m.Mask.Shape(), m.Data.Shape())
	}
	mask, err := m.Mask.Content()
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}

	out := make([]any, len(data))
	for i, v := range data {
		out[i] = applyMask(v, mask[i])
	}
	return out, nil
}

func applyMask(v, mask any) any {
	switch mk := mask.(type) {
	case bool:
		if mk {
			return nil
		}
		return v
	case *Record:
		rec, ok := v.(*Record)
		if !ok {
			return v
		}
		values := make([]any, len(rec.values))
		for j, fv := range rec.values {
			fm, _ := mk.Get(rec.names[j])
			values[j] = applyMask(fv, fm)
		}
		return &Record{names: rec.names, values: values}
	}
	return v
}

// MaskContent returns the mask elements.
func (m *MaskedArray) MaskContent() ([]any, error) {
	return m.Mask.Content()
}

// FieldContent returns one field of every record, masked positions nil.
func (m *MaskedArray) FieldContent(name string) ([]any, error) {
	if _, ok := m.Descr().Field(name); !ok {
		return nil, fmt.Errorf("dtype %s has no field %q", m.Descr(), name)
	}
	return fieldColumn(m, name)
}

// ClearContent drops cached content of both data and mask.
func (m *MaskedArray) ClearContent() {
	m.Data.ClearContent()
	if m.Mask != nil {
		m.Mask.ClearContent()
	}
}

// String summarizes the masked array.
func (m *MaskedArray) String() string {
	return fmt.Sprintf("masked_array(shape=%v, dtype=%s)", m.Shape(), m.Descr())
}
