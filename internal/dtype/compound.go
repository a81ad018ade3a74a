package dtype

import (
	"fmt"
	"sort"
)

// FieldSpec is the (descriptor, offset) pair stored for one field of a
// compound dtype.
type FieldSpec struct {
	Descr  *Descr
	Offset int
	Title  string
}

// NewCompound builds a record descriptor from an explicit field order.
// A non-positive itemSize is replaced by the end of the last field.
func NewCompound(names []string, fields map[string]FieldSpec, itemSize int) (*Descr, error) {
	if len(names) != len(fields) {
		return nil, fmt.Errorf("%w: %d names for %d fields", ErrInvalidDescr, len(names), len(fields))
	}

	d := &Descr{
		Order:  OrderNotApplicable,
		Kind:   Void,
		Fields: make([]Field, 0, len(names)),
	}

	end := 0
	for _, name := range names {
		spec, ok := fields[name]
		if !ok || spec.Descr == nil {
			return nil, fmt.Errorf("%w: field %q has no descriptor", ErrInvalidDescr, name)
		}
		d.Fields = append(d.Fields, Field{Name: name, Descr: spec.Descr, Offset: spec.Offset})
		if e := spec.Offset + spec.Descr.Size; e > end {
			end = e
		}
	}

	d.Size = itemSize
	if d.Size <= 0 {
		d.Size = end
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// ResolveCompound builds a record descriptor from a field mapping alone,
// recovering the field order from the registered orderings.
func ResolveCompound(fields map[string]FieldSpec, itemSize int, orderings *Orderings) (*Descr, error) {
	set := make([]string, 0, len(fields))
	for name := range fields {
		set = append(set, name)
	}
	sort.Strings(set)

	var names []string
	if orderings != nil {
		names, _ = orderings.Lookup(set)
	}
	if names == nil {
		return nil, &StructureError{Fields: set}
	}
	return NewCompound(names, fields, itemSize)
}

// MaskOf returns the descriptor of a masked array's mask for data described
// by d: the same record structure with every leaf replaced by a one-byte
// boolean.
//
// This approximates numpy.ma.make_mask_descr. It does not reproduce numpy's
// handling of sub-array fields.
func MaskOf(d *Descr) *Descr {
	if !d.IsCompound() {
		return &Descr{Order: OrderNotApplicable, Kind: Bool, Size: 1}
	}

	m := &Descr{
		Order:  OrderNotApplicable,
		Kind:   Void,
		Fields: make([]Field, len(d.Fields)),
	}
	offset := 0
	for i, f := range d.Fields {
		sub := MaskOf(f.Descr)
		m.Fields[i] = Field{Name: f.Name, Descr: sub, Offset: offset}
		offset += sub.Size
	}
	m.Size = offset
	return m
}
