// Package object provides the attribute object model of reconstructed
// Python instances.
//
// An Object carries an immutable TypeIdentity, the positional arguments it
// was constructed with, and an ordered attribute dictionary. State arrives
// from the pickle stream in one or more steps: Init replaces the attribute
// set, MergeState layers new keys onto the existing ones. Reserved dunder
// keys such as "__class__" are never stored.
//
// Typed access goes through the generic Get, GetOptional, GetArray and
// GetArrayOf functions, which report AttributeError values carrying the
// fully qualified attribute name.
package object

import (
	"fmt"
	"iter"
	"strings"

	"github.com/elliotchance/orderedmap/v3"
	ogorek "github.com/kisielk/og-rek"

	"github.com/born-ml/unpickle/internal/pickle"
)

// Object is a reconstructed Python instance.
type Object struct {
	typ   TypeIdentity
	args  ogorek.Tuple
	attrs *orderedmap.OrderedMap[string, any]

	items   []any        // list subclass contents (APPEND)
	mapping *pickle.Dict // dict subclass contents (SETITEM)
}

// New returns an empty object of type typ constructed with args.
func New(typ TypeIdentity, args ogorek.Tuple) *Object {
	return &Object{
		typ:   typ,
		args:  args,
		attrs: orderedmap.NewOrderedMap[string, any](),
	}
}

// Type returns the object's type identity.
func (o *Object) Type() TypeIdentity {
	return o.typ
}

// Args returns the constructor arguments.
func (o *Object) Args() ogorek.Tuple {
	return o.args
}

// Len returns the number of attributes.
func (o *Object) Len() int {
	return o.attrs.Len()
}

// Keys returns the attribute names in insertion order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, o.attrs.Len())
	for k := range o.attrs.AllFromFront() {
		keys = append(keys, k)
	}
	return keys
}

// All iterates over the attributes in insertion order.
func (o *Object) All() iter.Seq2[string, any] {
	return o.attrs.AllFromFront()
}

// Has reports whether the named attribute is present.
func (o *Object) Has(name string) bool {
	_, ok := o.attrs.Get(name)
	return ok
}

// Value returns the raw attribute value.
func (o *Object) Value(name string) (any, bool) {
	return o.attrs.Get(name)
}

// Set stores an attribute. Reserved names are ignored.
func (o *Object) Set(name string, v any) {
	if IsReserved(name) {
		return
	}
	o.attrs.Set(name, v)
}

// Delete removes an attribute.
func (o *Object) Delete(name string) bool {
	return o.attrs.Delete(name)
}

// Init replaces all attributes with state.
func (o *Object) Init(state *pickle.Dict) error {
	o.attrs = orderedmap.NewOrderedMap[string, any]()
	return o.MergeState(state)
}

// MergeState adds the entries of state to the attributes. Existing keys not
// present in state are kept; keys present in both take the new value.
func (o *Object) MergeState(state *pickle.Dict) error {
	if state == nil {
		return nil
	}
	for _, e := range state.Entries() {
		name, ok := e.Key.(string)
		if !ok {
			return fmt.Errorf("%s: state key %v (%T) is not a string", o.typ, e.Key, e.Key)
		}
		o.Set(name, e.Value)
	}
	return nil
}

// SetState applies a BUILD state the way object.__setstate__ does: a dict,
// or a (dict, slots) tuple where either part may be None.
func (o *Object) SetState(state any) error {
	switch s := state.(type) {
	case nil:
		return nil
	case *pickle.Dict:
		return o.MergeState(s)
	case ogorek.Tuple:
		if len(s) != 2 {
			return fmt.Errorf("%s: state tuple of length %d", o.typ, len(s))
		}
		for _, part := range s {
			if part == nil {
				continue
			}
			d, ok := part.(*pickle.Dict)
			if !ok {
				return fmt.Errorf("%s: state part is %T, not a dict", o.typ, part)
			}
			if err := o.MergeState(d); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%s: unsupported state %T", o.typ, state)
}

// Append adds list subclass items.
func (o *Object) Append(items ...any) {
	o.items = append(o.items, items...)
}

// Items returns list subclass items.
func (o *Object) Items() []any {
	return o.items
}

// SetItem stores a dict subclass entry.
func (o *Object) SetItem(key, value any) {
	if o.mapping == nil {
		o.mapping = pickle.NewDict()
	}
	o.mapping.Set(key, value)
}

// Mapping returns dict subclass entries, or nil.
func (o *Object) Mapping() *pickle.Dict {
	return o.mapping
}

// FQN returns the fully qualified name of an attribute.
func (o *Object) FQN(name string) string {
	return o.typ.String() + "." + name
}

// String formats the object as Type(attr=..., ...).
func (o *Object) String() string {
	var sb strings.Builder
	sb.WriteString(o.typ.String())
	sb.WriteByte('(')
	i := 0
	for k, v := range o.attrs.AllFromFront() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%s", k, summarize(v))
		i++
	}
	sb.WriteByte(')')
	return sb.String()
}

func summarize(v any) string {
	switch x := v.(type) {
	case *Object:
		return x.typ.String() + "(...)"
	case string:
		return fmt.Sprintf("%q", x)
	}
	s := fmt.Sprint(v)
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

// IsReserved reports whether name is a dunder key such as "__class__".
func IsReserved(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}
