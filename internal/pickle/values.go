package pickle

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/elliotchance/orderedmap/v3"
	ogorek "github.com/kisielk/og-rek"
)

// Values produced by the machine:
//
//	None          nil
//	bool          bool
//	int           int64, or *big.Int when it does not fit
//	float         float64
//	str           string (protocol 0-2 byte strings are kept as raw bytes in a string)
//	bytes         ogorek.Bytes
//	bytearray     []byte
//	tuple         ogorek.Tuple
//	list          *List
//	dict          *Dict
//	set/frozenset *Set
//	persistent id ogorek.Ref
//
// Everything else comes from the Env.

// List is a mutable Python list. It is a pointer type so that memoized
// references observe later APPENDs.
type List struct {
	Items []any
}

// NewList returns a list holding items.
func NewList(items ...any) *List {
	return &List{Items: items}
}

// Len returns the number of items.
func (l *List) Len() int {
	return len(l.Items)
}

// String formats the list.
func (l *List) String() string {
	return "[" + joinValues(l.Items) + "]"
}

// Entry is one key/value pair of a Dict.
type Entry struct {
	Key   any
	Value any
}

// Dict is an insertion-ordered Python dict. Keys may be any pickle value,
// including tuples, which are compared by content.
type Dict struct {
	m *orderedmap.OrderedMap[any, Entry]
}

// NewDict returns an empty dict.
func NewDict() *Dict {
	return &Dict{m: orderedmap.NewOrderedMap[any, Entry]()}
}

// Set stores value under key, keeping the position and the original key of
// an equal existing key.
func (d *Dict) Set(key, value any) {
	h := hashKey(key)
	if e, ok := d.m.Get(h); ok {
		key = e.Key
	}
	d.m.Set(h, Entry{Key: key, Value: value})
}

// Get returns the value stored under key.
func (d *Dict) Get(key any) (any, bool) {
	e, ok := d.m.Get(hashKey(key))
	return e.Value, ok
}

// Delete removes key.
func (d *Dict) Delete(key any) bool {
	return d.m.Delete(hashKey(key))
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return d.m.Len()
}

// Entries returns the entries in insertion order.
func (d *Dict) Entries() []Entry {
	out := make([]Entry, 0, d.m.Len())
	for _, e := range d.m.AllFromFront() {
		out = append(out, e)
	}
	return out
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []any {
	out := make([]any, 0, d.m.Len())
	for _, e := range d.m.AllFromFront() {
		out = append(out, e.Key)
	}
	return out
}

// StringKeys reports whether every key is a string.
func (d *Dict) StringKeys() bool {
	for _, e := range d.m.AllFromFront() {
		if _, ok := e.Key.(string); !ok {
			return false
		}
	}
	return true
}

// String formats the dict.
func (d *Dict) String() string {
	parts := make([]string, 0, d.m.Len())
	for _, e := range d.m.AllFromFront() {
		parts = append(parts, fmt.Sprintf("%v: %v", e.Key, e.Value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Set is a Python set or frozenset.
type Set struct {
	Frozen bool
	d      *Dict
}

// NewSet returns an empty set.
func NewSet(frozen bool, items ...any) *Set {
	s := &Set{Frozen: frozen, d: NewDict()}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts item.
func (s *Set) Add(item any) {
	s.d.Set(item, nil)
}

// Contains reports whether item is in the set.
func (s *Set) Contains(item any) bool {
	_, ok := s.d.Get(item)
	return ok
}

// Items returns the members in insertion order.
func (s *Set) Items() []any {
	return s.d.Keys()
}

// Len returns the number of members.
func (s *Set) Len() int {
	return s.d.Len()
}

// String formats the set.
func (s *Set) String() string {
	if s.Frozen {
		return "frozenset({" + joinValues(s.Items()) + "})"
	}
	return "{" + joinValues(s.Items()) + "}"
}

// tupleKey is the comparable form of a tuple used as a dict key.
type tupleKey string

// bigKey is the comparable form of a *big.Int key.
type bigKey string

// hashKey maps a pickle value to a comparable map key. Scalars and pointers
// are their own keys; tuples and big integers are keyed by content. Numbers
// that compare equal in Python share a key, so True, 1 and 1.0 are one key.
func hashKey(k any) any {
	switch v := k.(type) {
	case nil, int64, string, ogorek.Bytes:
		return v
	case bool:
		if v {
			return int64(1)
		}
		return int64(0)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return v
		}
		if v >= math.MinInt64 && v < math.MaxInt64 {
			return int64(v)
		}
		i, _ := big.NewFloat(v).Int(nil)
		return bigKey(i.String())
	case *big.Int:
		if v.IsInt64() {
			return v.Int64()
		}
		return bigKey(v.String())
	case ogorek.Tuple:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprintf("%T:%v", hashKey(item), hashKey(item))
		}
		return tupleKey(strings.Join(parts, "\x00"))
	case []byte:
		return fmt.Sprintf("bytearray:%x", v)
	}
	if reflect.TypeOf(k).Comparable() {
		return k
	}
	return fmt.Sprintf("%T:%v", k, k)
}

func joinValues(items []any) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, ", ")
}
