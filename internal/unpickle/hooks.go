package unpickle

import (
	"github.com/born-ml/unpickle/internal/object"
	"github.com/born-ml/unpickle/internal/pickle"
	"github.com/born-ml/unpickle/internal/registry"
)

// constantHook replaces constant placeholders pushed by GLOBAL and
// STACK_GLOBAL with their values.
func (s *Session) constantHook(op pickle.Opcode, m *pickle.Machine) error {
	if op != pickle.OpGlobal && op != pickle.OpStackGlobal {
		return nil
	}
	top, err := m.Top()
	if err != nil {
		return err
	}
	ref, ok := top.(*constantRef)
	if !ok {
		return nil
	}

	switch ref.shape {
	case registry.ShapeEllipsis:
		return m.Replace(Ellipsis)
	case registry.ShapeNotImplemented:
		return m.Replace(NotImplemented)
	}
	return shapeErr(ref.id, nil, "no value for constant shape %q", ref.shape)
}

// getattrHook resolves getattr results after REDUCE. Attributes of enum
// classes are members; anything else becomes a bound method.
func (s *Session) getattrHook(op pickle.Opcode, m *pickle.Machine) error {
	if op != pickle.OpReduce {
		return nil
	}
	top, err := m.Top()
	if err != nil {
		return err
	}
	ref, ok := top.(*getattrRef)
	if !ok {
		return nil
	}

	switch target := ref.target.(type) {
	case *Discarded:
		return m.Replace(Ignored)
	case object.TypeIdentity:
		st, err := s.resolver.Resolve(target)
		if err != nil {
			return err
		}
		if st.Kind == registry.Enum {
			return m.Replace(&EnumMember{Type: target, Name: ref.name})
		}
	}
	return m.Replace(&BoundMethod{Receiver: ref.target, Name: ref.name})
}
