package loader_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unpickle/internal/pickle"
	"github.com/born-ml/unpickle/internal/pickletest"
	"github.com/born-ml/unpickle/loader"
)

// node mirrors the packed layout of sklearn's tree node records.
type node struct {
	LeftChild            int64
	RightChild           int64
	Feature              int64
	Threshold            float64
	Impurity             float64
	NNodeSamples         int64
	WeightedNNodeSamples float64
}

var nodeFields = []struct {
	name, typ string
}{
	{"left_child", "i8"},
	{"right_child", "i8"},
	{"feature", "i8"},
	{"threshold", "f8"},
	{"impurity", "f8"},
	{"n_node_samples", "i8"},
	{"weighted_n_node_samples", "f8"},
}

func dtypeOf(b *pickletest.Builder, typ, endian string) {
	b.Call("numpy", "dtype", 3, func(b *pickletest.Builder) {
		b.Unicode(typ).Bool(false).Bool(true)
	})
	b.Mark().Int(3).Unicode(endian).None().None().None().Int(-1).Int(-1).Int(0).Tuple(8)
	b.Op(pickle.OpBuild)
}

func nodeDtype(b *pickletest.Builder) {
	b.Call("numpy", "dtype", 3, func(b *pickletest.Builder) {
		b.Unicode("V56").Bool(false).Bool(true)
	})
	b.Mark().Int(3).Unicode("|").None()
	b.Mark()
	for _, f := range nodeFields {
		b.Unicode(f.name)
	}
	b.Op(pickle.OpTuple)
	b.Dict(func(b *pickletest.Builder) {
		for i, f := range nodeFields {
			b.Unicode(f.name)
			dtypeOf(b, f.typ, "<")
			b.Int(int64(8 * i)).Tuple(2)
		}
	})
	b.Int(56).Int(8).Int(16).Tuple(8)
	b.Op(pickle.OpBuild)
}

// wrapped writes a joblib NumpyArrayWrapper with its payload.
func wrapped(b *pickletest.Builder, dt func(*pickletest.Builder), payload []byte, shape ...int) {
	b.Global("joblib.numpy_pickle", "NumpyArrayWrapper").Tuple(0).Op(pickle.OpNewObj)
	b.Dict(func(b *pickletest.Builder) {
		b.Unicode("subclass").Global("numpy", "ndarray")
		b.Unicode("shape").Mark()
		for _, d := range shape {
			b.Int(int64(d))
		}
		b.Op(pickle.OpTuple)
		b.Unicode("order").Unicode("C")
		b.Unicode("dtype")
		dt(b)
		b.Unicode("allow_mmap").Bool(false)
		b.Unicode("numpy_array_alignment_bytes").Int(16)
	})
	b.Op(pickle.OpBuild)
	b.Raw([]byte{0})
	b.Raw(payload)
}

func packed(t *testing.T, v any) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, binary.Write(buf, binary.LittleEndian, v))
	return buf.Bytes()
}

func regressorDump(t *testing.T) []byte {
	t.Helper()
	nodes := []node{
		{1, 2, 0, 0.5, 0.4, 10, 10},
		{-1, -1, -2, -2, 0.1, 4, 4},
		{-1, -1, -2, -2, 0.2, 6, 6},
	}

	b := pickletest.New(4)
	b.Global("sklearn.tree._classes", "DecisionTreeRegressor").Tuple(0).Op(pickle.OpNewObj)
	b.Dict(func(b *pickletest.Builder) {
		b.Unicode("criterion").Unicode("squared_error")
		b.Unicode("max_depth").None()
		b.Unicode("n_features_in_").Int(3)
		b.Unicode("random_state")
		b.Call("numpy.random._pickle", "__randomstate_ctor", 1, func(b *pickletest.Builder) {
			b.Unicode("MT19937")
		})
		b.Unicode("tree_")
		b.Global("sklearn.tree._tree", "Tree")
		b.Int(3)
		wrapped(b, func(b *pickletest.Builder) { dtypeOf(b, "i8", "<") }, packed(t, []int64{1}), 1)
		b.Int(1).Tuple(3).Op(pickle.OpNewObj)
		b.Dict(func(b *pickletest.Builder) {
			b.Unicode("max_depth").Int(1)
			b.Unicode("node_count").Int(3)
			b.Unicode("nodes")
			wrapped(b, nodeDtype, packed(t, nodes), 3)
			b.Unicode("values")
			wrapped(b, func(b *pickletest.Builder) { dtypeOf(b, "f8", "<") }, packed(t, []float64{2.5, 1, 4}), 3, 1, 1)
		})
		b.Op(pickle.OpBuild)
	})
	b.Op(pickle.OpBuild)
	return b.Stop()
}

func compressed(t *testing.T, data []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zlib.NewWriter(buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestLoadRegressor(t *testing.T) {
	v, err := loader.Load(context.Background(), bytes.NewReader(compressed(t, regressorDump(t))), loader.Options{})
	require.NoError(t, err)

	est, ok := v.(*loader.Object)
	require.True(t, ok)
	assert.Equal(t, "sklearn.tree._classes.DecisionTreeRegressor", est.Type().String())

	depth, err := loader.GetOptional(est, "max_depth", -1)
	require.NoError(t, err)
	assert.Equal(t, -1, depth)

	_, err = loader.Get[int](est, "max_depth")
	assert.ErrorIs(t, err, loader.ErrAttributeNull)
	_, err = loader.Get[int](est, "min_samples_leaf")
	assert.ErrorIs(t, err, loader.ErrAttributeMissing)
	_, err = loader.Get[int](est, "criterion")
	assert.ErrorIs(t, err, loader.ErrAttributeTypeMismatch)

	tree, err := loader.Get[*loader.Object](est, "tree_")
	require.NoError(t, err)

	nFeatures, err := loader.Get[int](tree, "n_features")
	require.NoError(t, err)
	assert.Equal(t, 3, nFeatures)

	classes, err := loader.GetArrayOf[int](tree, "n_classes")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, classes)

	left, err := loader.GetArrayOf[int](tree, "nodes", "left_child")
	require.NoError(t, err)
	assert.Equal(t, []int{1, -1, -1}, left)

	thresholds, err := loader.GetArrayOf[float64](tree, "nodes", "threshold")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, -2, -2}, thresholds)

	values, err := loader.GetArray(tree, "values")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 1}, values.Shape())

	var dump strings.Builder
	require.NoError(t, loader.Dump(&dump, est, loader.DumpOptions{}))
	assert.Contains(t, dump.String(), "tree_: sklearn.tree._tree.Tree")
	assert.Contains(t, dump.String(), "random_state: <ignored>")
	assert.Contains(t, dump.String(), "values: ndarray <f8 shape=(3, 1, 1) order=C")
}

func TestCustomTypes(t *testing.T) {
	b := pickletest.New(2)
	b.Global("mypkg.models", "Scaler").Tuple(0).Op(pickle.OpNewObj)
	b.Dict(func(b *pickletest.Builder) { b.Unicode("scale").Float(2) })
	b.Op(pickle.OpBuild)
	data := b.Stop()

	_, err := loader.Unpickle(context.Background(), bytes.NewReader(data), loader.Options{})
	var rerr *loader.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "mypkg.models.Scaler", rerr.Identity.String())

	reg, err := loader.LoadRegistry(context.Background(), strings.NewReader("mypkg.models.(Scaler|Encoder) = object\n"))
	require.NoError(t, err)

	v, err := loader.Unpickle(context.Background(), bytes.NewReader(data), loader.Options{Registry: reg})
	require.NoError(t, err)
	scale, err := loader.Get[float64](v.(*loader.Object), "scale")
	require.NoError(t, err)
	assert.Equal(t, 2.0, scale)
}

func TestDefaultRegistryIsIsolated(t *testing.T) {
	reg := loader.DefaultRegistry()
	st, err := loader.ParseStrategy("discard")
	require.NoError(t, err)
	_, err = reg.RegisterPattern("mypkg.Thing", st)
	require.NoError(t, err)

	_, err = loader.DefaultRegistry().Resolve(loader.TypeIdentity{Namespace: "mypkg", Name: "Thing"})
	assert.True(t, errors.Is(err, loader.ErrUnresolvedType))
}

func TestMalformedStream(t *testing.T) {
	_, err := loader.Load(context.Background(), bytes.NewReader([]byte("ZF0xzz")), loader.Options{})
	assert.ErrorIs(t, err, loader.ErrMalformedStream)
}
