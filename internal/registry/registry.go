// Package registry maps Python type identities to reconstruction strategies.
//
// Registrations are declarative: the built-in table is an embedded INI file
// whose keys are dotted type names and whose values are "kind[:shape]"
// tags. A key may contain alternation groups, so
//
//	numpy.(core|_core).multiarray._reconstruct = array:reconstruct
//
// registers both module spellings. Type names that are not registered fail
// resolution; nothing falls back to a generic object.
package registry

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/go-ini/ini"
	"github.com/rs/zerolog"

	"github.com/born-ml/unpickle/internal/object"
)

//go:embed registrations.ini
var builtinRegistrations []byte

// Resolver looks up the strategy of a type identity.
type Resolver interface {
	Resolve(id object.TypeIdentity) (Strategy, error)
}

// Registry is a concurrency-safe table of strategies.
type Registry struct {
	mu      sync.RWMutex
	entries map[object.TypeIdentity]Strategy
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[object.TypeIdentity]Strategy)}
}

// Register binds id to s. It reports whether an earlier entry was replaced.
func (r *Registry) Register(id object.TypeIdentity, s Strategy) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.entries[id]
	r.entries[id] = s
	return replaced
}

// RegisterPattern expands pattern and binds every resulting name to s.
func (r *Registry) RegisterPattern(pattern string, s Strategy) ([]object.TypeIdentity, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	names, err := Expand(pattern)
	if err != nil {
		return nil, err
	}
	ids := make([]object.TypeIdentity, 0, len(names))
	for _, name := range names {
		id, err := object.ParseIdentity(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		r.Register(id, s)
	}
	return ids, nil
}

// Resolve returns the strategy registered for id.
func (r *Registry) Resolve(id object.TypeIdentity) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[id]
	if !ok {
		return Strategy{}, &ResolutionError{Identity: id}
	}
	return s, nil
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Identities returns the registered identities sorted by dotted name.
func (r *Registry) Identities() []object.TypeIdentity {
	r.mu.RLock()
	ids := make([]object.TypeIdentity, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Clone returns an independent copy of r.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := New()
	for id, s := range r.entries {
		c.entries[id] = s
	}
	return c
}

// Load reads registrations from an INI document. Section names only group
// entries. A name registered twice keeps the last value and is logged at
// warn level through the context logger.
func Load(ctx context.Context, data io.Reader) (*Registry, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters:  "=",
		IgnoreInlineComment: true,
		AllowShadows:        true,
	}, buf)
	if err != nil {
		return nil, fmt.Errorf("parse registrations: %w", err)
	}

	logger := zerolog.Ctx(ctx)
	r := New()
	for _, sec := range f.Sections() {
		for _, key := range sec.Keys() {
			values := key.ValueWithShadows()
			for _, value := range values {
				s, err := ParseStrategy(value)
				if err != nil {
					return nil, fmt.Errorf("[%s] %s: %w", sec.Name(), key.Name(), err)
				}
				names, err := Expand(key.Name())
				if err != nil {
					return nil, fmt.Errorf("[%s] %s: %w", sec.Name(), key.Name(), err)
				}
				for _, name := range names {
					id, err := object.ParseIdentity(name)
					if err != nil {
						return nil, fmt.Errorf("[%s] %w: %v", sec.Name(), ErrInvalidPattern, err)
					}
					if r.Register(id, s) {
						logger.Warn().
							Str("section", sec.Name()).
							Str("type", id.String()).
							Str("strategy", s.String()).
							Msg("duplicate registration, keeping the last one")
					}
				}
			}
		}
	}
	return r, nil
}

var (
	builtinOnce     sync.Once
	builtinRegistry *Registry
	builtinErr      error
)

// Default returns a fresh copy of the built-in registrations.
func Default() *Registry {
	builtinOnce.Do(func() {
		builtinRegistry, builtinErr = Load(context.Background(), bytes.NewReader(builtinRegistrations))
	})
	if builtinErr != nil {
		panic(fmt.Sprintf("registry: embedded registrations: %v", builtinErr))
	}
	return builtinRegistry.Clone()
}

// Expand expands the alternation groups of a registration pattern.
// "pkg.(Foo|Bar)Baz" yields "pkg.FooBaz" and "pkg.BarBaz". Groups do not
// nest; several groups multiply out in order.
func Expand(pattern string) ([]string, error) {
	open := strings.IndexByte(pattern, '(')
	if open < 0 {
		if strings.ContainsAny(pattern, ")|") {
			return nil, fmt.Errorf("%w: %q has unbalanced group", ErrInvalidPattern, pattern)
		}
		return []string{pattern}, nil
	}

	prefix := pattern[:open]
	if strings.ContainsAny(prefix, ")|") {
		return nil, fmt.Errorf("%w: %q has unbalanced group", ErrInvalidPattern, pattern)
	}
	end := strings.IndexByte(pattern[open:], ')')
	if end < 0 {
		return nil, fmt.Errorf("%w: %q has unterminated group", ErrInvalidPattern, pattern)
	}
	group := pattern[open+1 : open+end]
	if strings.IndexByte(group, '(') >= 0 {
		return nil, fmt.Errorf("%w: %q has nested groups", ErrInvalidPattern, pattern)
	}
	suffix := pattern[open+end+1:]

	var out []string
	for _, alt := range strings.Split(group, "|") {
		rest, err := Expand(prefix + alt + suffix)
		if err != nil {
			return nil, err
		}
		out = append(out, rest...)
	}
	return out, nil
}
