package unpickle_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/unpickle/internal/pickle"
	"github.com/born-ml/unpickle/internal/pickletest"
	"github.com/born-ml/unpickle/internal/unpickle"
)

// descr writes numpy.dtype(typ) with a version 3 state, the way numpy
// pickles builtin dtypes.
func descr(b *pickletest.Builder, typ, endian string) {
	b.Call("numpy", "dtype", 3, func(b *pickletest.Builder) {
		b.Unicode(typ).Bool(false).Bool(true)
	})
	b.Mark().Int(3).Unicode(endian).None().None().None().Int(-1).Int(-1).Int(0).Tuple(8)
	b.Op(pickle.OpBuild)
}

// dims writes a shape tuple.
func dims(b *pickletest.Builder, shape ...int) {
	b.Mark()
	for _, d := range shape {
		b.Int(int64(d))
	}
	b.Op(pickle.OpTuple)
}

// reconstruct writes numpy.core.multiarray._reconstruct(ndarray, (0,), b'b').
func reconstruct(b *pickletest.Builder, module string) {
	b.Call(module, "_reconstruct", 3, func(b *pickletest.Builder) {
		b.Global("numpy", "ndarray")
		b.Int(0).Tuple(1)
		b.BinBytes([]byte("b"))
	})
}

// array writes a complete array pickle body with a binary payload.
func array(b *pickletest.Builder, typ, endian string, fortran bool, data []byte, shape ...int) {
	reconstruct(b, "numpy.core.multiarray")
	b.Mark().Int(1)
	dims(b, shape...)
	descr(b, typ, endian)
	b.Bool(fortran).BinBytes(data)
	b.Op(pickle.OpTuple, pickle.OpBuild)
}

// le encodes values little-endian.
func le(t *testing.T, values ...any) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	for _, v := range values {
		require.NoError(t, binary.Write(buf, binary.LittleEndian, v))
	}
	return buf.Bytes()
}

func load(t *testing.T, data []byte, opts unpickle.Options) (any, error) {
	t.Helper()
	return unpickle.Unpickle(context.Background(), bytes.NewReader(data), opts)
}

func mustLoad(t *testing.T, data []byte) any {
	t.Helper()
	v, err := load(t, data, unpickle.Options{})
	require.NoError(t, err)
	return v
}
