// Package unpickle reconstructs pickled Python object graphs: numpy arrays
// and dtypes, pandas frames, scikit-learn estimators and the builtins they
// are made of.
//
// A Session binds one pickle.Machine run to a registry overlay, so that
// registrations made for a single load (the joblib array wrappers) never
// leak into other loads. Sessions are not safe for concurrent use; separate
// sessions are independent.
package unpickle

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	ogorek "github.com/kisielk/og-rek"
	"github.com/rs/zerolog"

	"github.com/born-ml/unpickle/internal/container"
	"github.com/born-ml/unpickle/internal/dtype"
	"github.com/born-ml/unpickle/internal/ndarray"
	"github.com/born-ml/unpickle/internal/object"
	"github.com/born-ml/unpickle/internal/pickle"
	"github.com/born-ml/unpickle/internal/registry"
)

// ErrPayloadTooLarge is returned when an array payload exceeds
// Options.MaxArrayBytes.
var ErrPayloadTooLarge = errors.New("array payload too large")

// Options configures a session.
type Options struct {
	// Registry resolves type names. Nil means registry.Default().
	Registry *registry.Registry

	// Orderings recovers field order of record dtypes pickled without
	// names. Nil means dtype.DefaultOrderings().
	Orderings *dtype.Orderings

	// Joblib registers the joblib array wrapper types for the session and
	// reads their payloads from the stream.
	Joblib bool

	// MaxArrayBytes bounds a single array payload. Zero means no limit.
	MaxArrayBytes int64
}

// Session carries the per-load state of a reconstruction.
type Session struct {
	id        uuid.UUID
	resolver  *registry.Overlay
	orderings *dtype.Orderings
	maxBytes  int64
	joblib    bool
	logger    zerolog.Logger
}

// NewSession creates a session. The logger is taken from ctx.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	reg := opts.Registry
	if reg == nil {
		reg = registry.Default()
	}
	orderings := opts.Orderings
	if orderings == nil {
		orderings = dtype.DefaultOrderings()
	}

	id := uuid.New()
	s := &Session{
		id:        id,
		resolver:  registry.NewOverlay(reg),
		orderings: orderings,
		maxBytes:  opts.MaxArrayBytes,
		joblib:    opts.Joblib,
		logger:    zerolog.Ctx(ctx).With().Str("session", id.String()).Logger(),
	}
	if opts.Joblib {
		for _, pattern := range wrapperTypes {
			err := s.resolver.Register(pattern, registry.Strategy{Kind: registry.Array, Shape: registry.ShapeArrayWrapper})
			if err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// ID returns the session id used in log lines.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Unpickle runs one pickle from r to its STOP opcode.
func (s *Session) Unpickle(ctx context.Context, r io.Reader) (any, error) {
	hooks := []pickle.Hook{
		pickle.HookFunc(s.constantHook),
		pickle.HookFunc(s.getattrHook),
	}
	if s.joblib {
		hooks = append(hooks, &wrapperHook{s: s, ctx: ctx})
	}
	return pickle.NewMachine(r, s, hooks...).Load(ctx)
}

// Unpickle reconstructs a plain, uncompressed pickle.
func Unpickle(ctx context.Context, r io.Reader, opts Options) (any, error) {
	s, err := NewSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s.Unpickle(ctx, r)
}

// Load reconstructs a pickle or joblib file from r, which may be raw,
// zlib-compressed or in the legacy length-prefixed zlib container. The
// joblib wrappers are always enabled. If r is an io.Closer it is closed
// before Load returns.
func Load(ctx context.Context, r io.Reader, opts Options) (v any, err error) {
	if c, ok := r.(io.Closer); ok {
		defer func() {
			if cerr := c.Close(); cerr != nil && err == nil {
				v, err = nil, cerr
			}
		}()
	}

	opts.Joblib = true
	s, err := NewSession(ctx, opts)
	if err != nil {
		return nil, err
	}

	rc, format, err := container.Open(r)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("format", format.String()).Msg("session started")

	v, err = s.Unpickle(ctx, rc)
	if cerr := rc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("format", format.String()).Msg("session finished")
	return v, nil
}

// FindClass implements pickle.Env.
func (s *Session) FindClass(module, name string) (any, error) {
	id := object.Identity(module, name)
	st, err := s.resolver.Resolve(id)
	if err != nil {
		return nil, err
	}

	switch st.Kind {
	case registry.Discard:
		s.logger.Debug().Str("type", id.String()).Msg("discarding type")
		return Ignored, nil
	case registry.Constant:
		return &constantRef{id: id, shape: st.Shape}, nil
	case registry.Callable:
		if st.Shape == registry.ShapeDefault {
			return &Function{Identity: id}, nil
		}
	}
	return id, nil
}

// Call implements pickle.Env.
func (s *Session) Call(callable any, args ogorek.Tuple) (any, error) {
	switch c := callable.(type) {
	case *Discarded:
		return Ignored, nil
	case *Function:
		return nil, shapeErr(c.Identity, args, "function references cannot be called")
	case object.TypeIdentity:
		return s.call(c, args)
	}
	return nil, fmt.Errorf("%w: %s is not callable", ErrUnsupportedShape, object.TypeName(callable))
}

func (s *Session) call(id object.TypeIdentity, args ogorek.Tuple) (any, error) {
	st, err := s.resolver.Resolve(id)
	if err != nil {
		return nil, err
	}

	switch st.Kind {
	case registry.Array:
		return s.callNumpy(id, st.Shape, args)
	case registry.Object:
		return s.callObject(id, st.Shape, args)
	case registry.Builtin:
		return s.callBuiltin(id, st.Shape, args)
	case registry.Callable:
		return s.callCallable(id, st.Shape, args)
	case registry.Enum:
		if len(args) != 1 {
			return nil, shapeErr(id, args, "enum call takes one value")
		}
		return &EnumMember{Type: id, Value: args[0]}, nil
	}
	return nil, shapeErr(id, args, "%s types cannot be called", st.Kind)
}

// NewObject implements pickle.Env. Keyword arguments of attribute objects
// become attributes.
func (s *Session) NewObject(cls any, args ogorek.Tuple, kwargs *pickle.Dict) (any, error) {
	id, ok := cls.(object.TypeIdentity)
	if !ok {
		return s.Call(cls, args)
	}
	st, err := s.resolver.Resolve(id)
	if err != nil {
		return nil, err
	}

	switch st.Kind {
	case registry.Object:
		if st.Shape == registry.ShapeTree {
			return s.callObject(id, st.Shape, args)
		}
		o := object.New(id, args)
		if err := o.MergeState(kwargs); err != nil {
			return nil, err
		}
		return o, nil
	case registry.Builtin:
		// cls.__new__ of a builtin container ignores its arguments; the
		// contents follow as items or state.
		switch st.Shape {
		case registry.ShapeSet, registry.ShapeFrozenSet, registry.ShapeList,
			registry.ShapeDict, registry.ShapeOrderedDict, registry.ShapeDefaultDict:
			return s.callBuiltin(id, st.Shape, nil)
		}
	}
	return s.call(id, args)
}

// Build implements pickle.Env.
func (s *Session) Build(obj, state any) (any, error) {
	switch o := obj.(type) {
	case *Discarded:
		return Ignored, nil
	case *object.Object:
		return o, s.buildObject(o, state)
	case *ndarray.Array:
		return o, s.buildArray(o, state)
	case *ndarray.MaskedArray:
		return o, s.buildMasked(o, state)
	case *dtype.Descr:
		return o, s.buildDescr(o, state)
	case *Partial:
		return o, buildPartial(o, state)
	case *arrayWrapper:
		return o, o.build(state)
	case *EnumMember:
		return o, nil
	}

	if state == nil {
		return obj, nil
	}
	return nil, fmt.Errorf("%w: cannot apply %s state to %s",
		ErrUnsupportedShape, object.TypeName(state), object.TypeName(obj))
}

// PersistentLoad implements pickle.Env. Persistent ids are kept as
// references.
func (s *Session) PersistentLoad(pid any) (any, error) {
	return ogorek.Ref{Pid: pid}, nil
}

// Extend implements pickle.Env.
func (s *Session) Extend(obj any, items []any) error {
	switch o := obj.(type) {
	case *Discarded:
		return nil
	case *object.Object:
		o.Append(items...)
		return nil
	case *pickle.Set:
		for _, item := range items {
			o.Add(item)
		}
		return nil
	}
	return fmt.Errorf("%w: cannot append to %s", ErrUnsupportedShape, object.TypeName(obj))
}

// SetItems implements pickle.Env.
func (s *Session) SetItems(obj any, pairs []pickle.Entry) error {
	switch o := obj.(type) {
	case *Discarded:
		return nil
	case *object.Object:
		for _, p := range pairs {
			o.SetItem(p.Key, p.Value)
		}
		return nil
	}
	return fmt.Errorf("%w: cannot set items on %s", ErrUnsupportedShape, object.TypeName(obj))
}

func (s *Session) checkPayload(id object.TypeIdentity, n int) error {
	if s.maxBytes > 0 && int64(n) > s.maxBytes {
		return fmt.Errorf("%w: %s payload of %d bytes exceeds %d", ErrPayloadTooLarge, id, n, s.maxBytes)
	}
	return nil
}
