package unpickle

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/born-ml/unpickle/internal/dtype"
	"github.com/born-ml/unpickle/internal/ndarray"
	"github.com/born-ml/unpickle/internal/object"
	"github.com/born-ml/unpickle/internal/pickle"
)

// wrapperTypes are registered for joblib sessions only.
var wrapperTypes = []string{
	"(joblib|sklearn.externals.joblib).numpy_pickle.NumpyArrayWrapper",
}

// arrayWrapper is joblib's NumpyArrayWrapper: an array header whose payload
// follows the BUILD opcode in the stream.
type arrayWrapper struct {
	id        object.TypeIdentity
	shape     []int
	descr     *dtype.Descr
	order     ndarray.Order
	alignment bool
}

// build reads the wrapper attributes: subclass, shape, order, dtype,
// allow_mmap and, since joblib 1.2, numpy_array_alignment_bytes.
func (w *arrayWrapper) build(state any) error {
	d, ok := state.(*pickle.Dict)
	if !ok {
		return shapeErr(w.id, state, "wrapper state is not a dict")
	}
	attrs := object.New(w.id, nil)
	if err := attrs.Init(d); err != nil {
		return err
	}

	shape, err := object.Get[[]int](attrs, "shape")
	if err != nil {
		return err
	}
	descr, err := object.Get[*dtype.Descr](attrs, "dtype")
	if err != nil {
		return err
	}
	if descr == nil {
		return shapeErr(w.id, state, "wrapper has no dtype")
	}
	order, err := object.GetOptional(attrs, "order", "C")
	if err != nil {
		return err
	}

	w.shape = shape
	w.descr = descr
	w.order = ndarray.OrderOf(order == "F")
	w.alignment = attrs.Has("numpy_array_alignment_bytes")
	return nil
}

// wrapperHook replaces a wrapper with its array right after BUILD, reading
// the payload from the live stream.
type wrapperHook struct {
	s   *Session
	ctx context.Context
}

// AfterOpcode implements pickle.Hook.
func (h *wrapperHook) AfterOpcode(op pickle.Opcode, m *pickle.Machine) error {
	if op != pickle.OpBuild {
		return nil
	}
	top, err := m.Top()
	if err != nil {
		return err
	}
	w, ok := top.(*arrayWrapper)
	if !ok {
		return nil
	}
	if w.descr == nil {
		return shapeErr(w.id, nil, "wrapper was never built")
	}

	arr, err := h.read(w, m)
	if err != nil {
		return fmt.Errorf("%s payload: %w", w.id, err)
	}
	return m.Replace(arr)
}

func (h *wrapperHook) read(w *arrayWrapper, m *pickle.Machine) (any, error) {
	if w.descr.HasObject() {
		// Object payloads are a complete nested pickle on the same stream.
		return h.s.Unpickle(h.ctx, m.Stream())
	}

	stream := m.Stream()
	if w.alignment {
		pad, err := stream.ReadByte()
		if err != nil {
			return nil, eofError(err)
		}
		if pad > 0 {
			if _, err := stream.Discard(int(pad)); err != nil {
				return nil, eofError(err)
			}
		}
	}

	n, err := ndarray.PayloadSize(w.shape, w.descr)
	if err != nil {
		return nil, shapeErr(w.id, w.shape, "shape: %v", err)
	}
	if err := h.s.checkPayload(w.id, n); err != nil {
		return nil, err
	}
	data, err := readPayload(stream, n)
	if err != nil {
		return nil, err
	}

	h.s.logger.Debug().
		Int("bytes", n).
		Ints("shape", w.shape).
		Str("dtype", w.descr.String()).
		Msg("read wrapped array payload")

	return ndarray.New(w.descr, w.shape, w.order, ndarray.BytesSource(data)), nil
}

// payloadChunk bounds the buffer allocated before the payload bytes arrive.
const payloadChunk = 1 << 20

func readPayload(r io.Reader, n int) ([]byte, error) {
	if n <= payloadChunk {
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, eofError(err)
		}
		return data, nil
	}
	var buf bytes.Buffer
	buf.Grow(payloadChunk)
	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		return nil, eofError(err)
	}
	return buf.Bytes(), nil
}

func eofError(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
