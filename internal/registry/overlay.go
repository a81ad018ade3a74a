package registry

import (
	"github.com/born-ml/unpickle/internal/object"
)

// Overlay layers session-local registrations over a shared registry.
// Local entries shadow the base and are discarded with the overlay.
type Overlay struct {
	base  Resolver
	local *Registry
}

// NewOverlay creates an empty overlay on base.
func NewOverlay(base Resolver) *Overlay {
	return &Overlay{base: base, local: New()}
}

// Register adds a local registration for every name pattern expands to.
func (o *Overlay) Register(pattern string, s Strategy) error {
	_, err := o.local.RegisterPattern(pattern, s)
	return err
}

// Resolve checks the local entries first, then the base.
func (o *Overlay) Resolve(id object.TypeIdentity) (Strategy, error) {
	if s, err := o.local.Resolve(id); err == nil {
		return s, nil
	}
	return o.base.Resolve(id)
}
