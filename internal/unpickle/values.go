package unpickle

import (
	"fmt"

	ogorek "github.com/kisielk/og-rek"

	"github.com/born-ml/unpickle/internal/object"
	"github.com/born-ml/unpickle/internal/pickle"
)

// Discarded is the type of Ignored.
type Discarded struct{}

// String implements fmt.Stringer.
func (*Discarded) String() string {
	return "<ignored>"
}

// Ignored stands in for instances of discarded types. Calls, state and
// items applied to it are dropped.
var Ignored = &Discarded{}

// Singleton is a Python module-level constant.
type Singleton string

// Python singletons.
const (
	Ellipsis       Singleton = "Ellipsis"
	NotImplemented Singleton = "NotImplemented"
)

// Function is a reference to a module-level function or ufunc.
type Function struct {
	Identity object.TypeIdentity
}

// String implements fmt.Stringer.
func (f *Function) String() string {
	return "<function " + f.Identity.String() + ">"
}

// Partial is a functools.partial application.
type Partial struct {
	Func     any
	Args     ogorek.Tuple
	Keywords *pickle.Dict
	Dict     *pickle.Dict
}

// String implements fmt.Stringer.
func (p *Partial) String() string {
	return fmt.Sprintf("functools.partial(%v, %d args)", p.Func, len(p.Args))
}

// BoundMethod is the result of getattr on a value that is not an enum
// class.
type BoundMethod struct {
	Receiver any
	Name     string
}

// String implements fmt.Stringer.
func (b *BoundMethod) String() string {
	return fmt.Sprintf("<bound method %s of %v>", b.Name, b.Receiver)
}

// EnumMember is a member of an enum class, known by name (getattr form)
// or by value (call form).
type EnumMember struct {
	Type  object.TypeIdentity
	Name  string
	Value any
}

// String implements fmt.Stringer.
func (e *EnumMember) String() string {
	if e.Name != "" {
		return e.Type.String() + "." + e.Name
	}
	return fmt.Sprintf("%s(%v)", e.Type, e.Value)
}

// Slice is a Python slice object.
type Slice struct {
	Start, Stop, Step any
}

// String implements fmt.Stringer.
func (s *Slice) String() string {
	return fmt.Sprintf("slice(%v, %v, %v)", s.Start, s.Stop, s.Step)
}

// constantRef is pushed for constant globals and replaced by the GLOBAL
// hook.
type constantRef struct {
	id    object.TypeIdentity
	shape string
}

// getattrRef is the result of calling getattr and replaced by the REDUCE
// hook.
type getattrRef struct {
	target any
	name   string
}
