package object

import (
	"fmt"
	"strings"
)

// TypeIdentity is the dotted name of a Python type, split into the module
// namespace and the local name.
type TypeIdentity struct {
	Namespace string
	Name      string
}

// Identity returns the identity of namespace.name.
func Identity(namespace, name string) TypeIdentity {
	return TypeIdentity{Namespace: namespace, Name: name}
}

// ParseIdentity splits a dotted name at its last dot.
func ParseIdentity(dotted string) (TypeIdentity, error) {
	i := strings.LastIndexByte(dotted, '.')
	if i <= 0 || i == len(dotted)-1 {
		return TypeIdentity{}, fmt.Errorf("type name %q is not of the form module.Name", dotted)
	}
	return TypeIdentity{Namespace: dotted[:i], Name: dotted[i+1:]}, nil
}

// String returns the dotted name.
func (t TypeIdentity) String() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// IsZero reports whether t is the zero identity.
func (t TypeIdentity) IsZero() bool {
	return t.Namespace == "" && t.Name == ""
}
