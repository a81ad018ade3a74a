package ndarray

import (
	"fmt"
	"strings"
)

// Record is one element of a compound (structured) array.
type Record struct {
	names  []string
	values []any
}

// NewRecord creates a record from parallel name and value slices.
func NewRecord(names []string, values []any) *Record {
	return &Record{names: names, values: values}
}

// Names returns the field names in declaration order.
func (r *Record) Names() []string {
	return r.names
}

// Values returns the field values in declaration order.
func (r *Record) Values() []any {
	return r.values
}

// Get returns the value of the named field.
func (r *Record) Get(name string) (any, bool) {
	for i, n := range r.names {
		if n == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.names)
}

// String formats r as a tuple.
func (r *Record) String() string {
	parts := make([]string, len(r.values))
	for i, v := range r.values {
		parts[i] = fmt.Sprint(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
