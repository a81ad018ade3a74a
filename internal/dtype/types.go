// Package dtype parses numpy array-protocol type descriptors.
//
// A descriptor string has the form
//
//	[byte-order] kind [size] ["[" unit "]"]
//
// for example "<f8", "|b1", ">i4", "<M8[ns]" or "<U20". Compound (record)
// descriptors carry an ordered list of named fields, each with its own
// descriptor and byte offset inside the record.
package dtype

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// ByteOrder is the byte-order marker of a descriptor.
type ByteOrder byte

// Byte-order markers.
const (
	OrderNative        ByteOrder = '='
	OrderLittle        ByteOrder = '<'
	OrderBig           ByteOrder = '>'
	OrderNotApplicable ByteOrder = '|'
)

// Binary returns the encoding/binary order used to read multi-byte values.
// Native and not-applicable orders resolve to the host byte order.
func (o ByteOrder) Binary() binary.ByteOrder {
	switch o {
	case OrderLittle:
		return binary.LittleEndian
	case OrderBig:
		return binary.BigEndian
	default:
		return binary.NativeEndian
	}
}

// String returns the marker character.
func (o ByteOrder) String() string {
	if o == 0 {
		return string(OrderNative)
	}
	return string(rune(o))
}

// Kind is the semantic category of an element's binary encoding.
type Kind byte

// Element kinds, keyed by their descriptor letter.
const (
	Bool      Kind = 'b'
	Int       Kind = 'i'
	Uint      Kind = 'u'
	Float     Kind = 'f'
	Complex   Kind = 'c'
	Timedelta Kind = 'm'
	Datetime  Kind = 'M'
	Object    Kind = 'O'
	String    Kind = 'S'
	Unicode   Kind = 'U'
	Void      Kind = 'V'
)

var kindNames = map[Kind]string{
	Bool:      "bool",
	Int:       "int",
	Uint:      "uint",
	Float:     "float",
	Complex:   "complex",
	Timedelta: "timedelta64",
	Datetime:  "datetime64",
	Object:    "object",
	String:    "bytes",
	Unicode:   "str",
	Void:      "void",
}

// String returns the numpy name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%q)", rune(k))
}

// parseKind maps a descriptor letter to its Kind. 'a' is the legacy
// spelling of 'S'.
func parseKind(c byte) (Kind, bool) {
	if c == 'a' {
		return String, true
	}
	k := Kind(c)
	_, ok := kindNames[k]
	return k, ok
}

// Unit is a datetime64/timedelta64 resolution.
type Unit string

// Datetime units.
const (
	UnitNone    Unit = ""
	UnitYear    Unit = "Y"
	UnitMonth   Unit = "M"
	UnitWeek    Unit = "W"
	UnitDay     Unit = "D"
	UnitHour    Unit = "h"
	UnitMinute  Unit = "m"
	UnitSecond  Unit = "s"
	UnitMilli   Unit = "ms"
	UnitMicro   Unit = "us"
	UnitNano    Unit = "ns"
	UnitPico    Unit = "ps"
	UnitFemto   Unit = "fs"
	UnitAtto    Unit = "as"
	UnitGeneric Unit = "generic"
)

var units = map[Unit]bool{
	UnitYear: true, UnitMonth: true, UnitWeek: true, UnitDay: true,
	UnitHour: true, UnitMinute: true, UnitSecond: true,
	UnitMilli: true, UnitMicro: true, UnitNano: true,
	UnitPico: true, UnitFemto: true, UnitAtto: true,
	UnitGeneric: true,
}

// ParseUnit parses a unit name. The byte-string spelling produced by old
// numpy pickles ("b'ns'") is not accepted here; callers pass decoded text.
func ParseUnit(s string) (Unit, error) {
	u := Unit(s)
	if !units[u] {
		return UnitNone, fmt.Errorf("%w: unknown datetime unit %q", ErrInvalidDescr, s)
	}
	return u, nil
}

// IsDate reports whether values of this unit denote calendar dates rather
// than instants.
func (u Unit) IsDate() bool {
	switch u {
	case UnitYear, UnitMonth, UnitWeek, UnitDay:
		return true
	}
	return false
}

// Field is one named member of a compound descriptor.
type Field struct {
	Name   string
	Descr  *Descr
	Offset int
}

// Descr is a parsed type descriptor.
type Descr struct {
	Order ByteOrder
	Kind  Kind
	Size  int // Bytes per element. For Unicode this is 4 bytes per code point.

	Unit Unit // Datetime and Timedelta only.
	Step int  // Unit multiplier, e.g. 15 for "[15m]". Zero means 1.

	Fields []Field // Compound descriptors only.
}

// IsCompound reports whether d is a record descriptor.
func (d *Descr) IsCompound() bool {
	return len(d.Fields) > 0
}

// Field returns the named field of a compound descriptor.
func (d *Descr) Field(name string) (*Field, bool) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i], true
		}
	}
	return nil, false
}

// FieldNames returns the field names of a compound descriptor in order.
func (d *Descr) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// UnitStep returns the unit multiplier, defaulting to 1.
func (d *Descr) UnitStep() int64 {
	if d.Step <= 0 {
		return 1
	}
	return int64(d.Step)
}

// HasObject reports whether elements (or any field) hold object references.
func (d *Descr) HasObject() bool {
	if d.Kind == Object {
		return true
	}
	for _, f := range d.Fields {
		if f.Descr.HasObject() {
			return true
		}
	}
	return false
}

// String formats d the way numpy's dtype.str does. Compound descriptors are
// formatted as a field list, see Format.
func (d *Descr) String() string {
	if d.IsCompound() {
		return d.Format()
	}

	var sb strings.Builder
	sb.WriteString(d.Order.String())
	sb.WriteByte(byte(d.Kind))

	size := d.Size
	if d.Kind == Unicode {
		size /= 4
	}
	sb.WriteString(strconv.Itoa(size))

	if d.Unit != UnitNone {
		sb.WriteByte('[')
		if d.Step > 1 {
			sb.WriteString(strconv.Itoa(d.Step))
		}
		sb.WriteString(string(d.Unit))
		sb.WriteByte(']')
	}
	return sb.String()
}

// Format renders a compound descriptor as numpy's descr list, recursing into
// nested records.
func (d *Descr) Format() string {
	if !d.IsCompound() {
		return d.String()
	}
	parts := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		parts[i] = fmt.Sprintf("(%q, %s)", f.Name, quoteDescr(f.Descr))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func quoteDescr(d *Descr) string {
	if d.IsCompound() {
		return d.Format()
	}
	return strconv.Quote(d.String())
}

// Validate checks that the kind and size combination is one numpy produces.
func (d *Descr) Validate() error {
	if d.IsCompound() {
		for _, f := range d.Fields {
			if f.Offset < 0 || (d.Size > 0 && f.Offset+f.Descr.Size > d.Size) {
				return fmt.Errorf("%w: field %q at offset %d does not fit in %d bytes",
					ErrInvalidDescr, f.Name, f.Offset, d.Size)
			}
			if err := f.Descr.Validate(); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		return nil
	}

	valid := false
	switch d.Kind {
	case Bool:
		valid = d.Size == 1
	case Int, Uint:
		valid = d.Size == 1 || d.Size == 2 || d.Size == 4 || d.Size == 8
	case Float:
		valid = d.Size == 2 || d.Size == 4 || d.Size == 8
	case Complex:
		valid = d.Size == 8 || d.Size == 16
	case Datetime, Timedelta:
		valid = d.Size == 8
	case Object:
		valid = d.Size == 4 || d.Size == 8
	case String, Void:
		valid = d.Size >= 0
	case Unicode:
		valid = d.Size >= 0 && d.Size%4 == 0
	}
	if !valid {
		return &InvalidError{Kind: d.Kind, Size: d.Size}
	}
	return nil
}
