package pickle_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"testing"

	ogorek "github.com/kisielk/og-rek"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unpickle/internal/pickle"
	"github.com/born-ml/unpickle/internal/pickletest"
)

// instance is what testEnv creates for classes.
type instance struct {
	Class  ogorek.Class
	Args   ogorek.Tuple
	Kwargs *pickle.Dict
	State  any
	Items  []any
}

// testEnv resolves every global to an ogorek.Class and records calls.
type testEnv struct {
	calls int
}

func (e *testEnv) FindClass(module, name string) (any, error) {
	if module == "forbidden" {
		return nil, fmt.Errorf("unresolved %s.%s", module, name)
	}
	return ogorek.Class{Module: module, Name: name}, nil
}

func (e *testEnv) Call(callable any, args ogorek.Tuple) (any, error) {
	e.calls++
	cls, ok := callable.(ogorek.Class)
	if !ok {
		return nil, fmt.Errorf("not callable: %T", callable)
	}
	if cls == (ogorek.Class{Module: "_codecs", Name: "encode"}) {
		s, _ := args[0].(string)
		out := make([]byte, 0, len(s))
		for _, r := range s {
			out = append(out, byte(r))
		}
		return ogorek.Bytes(out), nil
	}
	return &instance{Class: cls, Args: args}, nil
}

func (e *testEnv) NewObject(cls any, args ogorek.Tuple, kwargs *pickle.Dict) (any, error) {
	c, ok := cls.(ogorek.Class)
	if !ok {
		return nil, fmt.Errorf("not a class: %T", cls)
	}
	return &instance{Class: c, Args: args, Kwargs: kwargs}, nil
}

func (e *testEnv) Build(obj, state any) (any, error) {
	inst, ok := obj.(*instance)
	if !ok {
		return nil, fmt.Errorf("cannot build %T", obj)
	}
	inst.State = state
	return inst, nil
}

func (e *testEnv) PersistentLoad(pid any) (any, error) {
	return ogorek.Ref{Pid: pid}, nil
}

func (e *testEnv) Extend(obj any, items []any) error {
	inst, ok := obj.(*instance)
	if !ok {
		return fmt.Errorf("cannot extend %T", obj)
	}
	inst.Items = append(inst.Items, items...)
	return nil
}

func (e *testEnv) SetItems(obj any, pairs []pickle.Entry) error {
	return fmt.Errorf("cannot set items on %T", obj)
}

func load(t *testing.T, data []byte, hooks ...pickle.Hook) (any, error) {
	t.Helper()
	return pickle.NewMachine(bytes.NewReader(data), &testEnv{}, hooks...).Load(context.Background())
}

func mustLoad(t *testing.T, data []byte) any {
	t.Helper()
	v, err := load(t, data)
	require.NoError(t, err)
	return v
}

// encode pickles v with og-rek at the given protocol.
func encode(t *testing.T, v any, proto int) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	enc := ogorek.NewEncoderWithConfig(buf, &ogorek.EncoderConfig{Protocol: proto})
	require.NoError(t, enc.Encode(v))
	return buf.Bytes()
}

func TestLoadScalarsAcrossProtocols(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	for proto := 0; proto <= 4; proto++ {
		t.Run(fmt.Sprintf("protocol %d", proto), func(t *testing.T) {
			assert.Nil(t, mustLoad(t, encode(t, nil, proto)))
			assert.Equal(t, true, mustLoad(t, encode(t, true, proto)))
			assert.Equal(t, false, mustLoad(t, encode(t, false, proto)))
			assert.Equal(t, int64(7), mustLoad(t, encode(t, int64(7), proto)))
			assert.Equal(t, int64(-70000), mustLoad(t, encode(t, int64(-70000), proto)))
			assert.Equal(t, int64(math.MaxInt64), mustLoad(t, encode(t, int64(math.MaxInt64), proto)))
			assert.Equal(t, 0, huge.Cmp(mustLoad(t, encode(t, huge, proto)).(*big.Int)))
			assert.Equal(t, 2.5, mustLoad(t, encode(t, 2.5, proto)))
			assert.Equal(t, "héllo\nworld", mustLoad(t, encode(t, "héllo\nworld", proto)))
		})
	}
}

func TestLoadContainers(t *testing.T) {
	v := ogorek.Tuple{int64(1), []any{"a", ogorek.Tuple{}}, map[any]any{"k": 2.0}}

	for proto := 1; proto <= 4; proto++ {
		t.Run(fmt.Sprintf("protocol %d", proto), func(t *testing.T) {
			got, ok := mustLoad(t, encode(t, v, proto)).(ogorek.Tuple)
			require.True(t, ok)
			require.Len(t, got, 3)

			assert.Equal(t, int64(1), got[0])

			list, ok := got[1].(*pickle.List)
			require.True(t, ok)
			assert.Equal(t, []any{"a", ogorek.Tuple{}}, list.Items)

			dict, ok := got[2].(*pickle.Dict)
			require.True(t, ok)
			val, ok := dict.Get("k")
			require.True(t, ok)
			assert.Equal(t, 2.0, val)
		})
	}
}

func TestLoadBytes(t *testing.T) {
	// Protocol 2 writes bytes as _codecs.encode(u'...', 'latin1').
	for _, proto := range []int{2, 3, 4} {
		got := mustLoad(t, encode(t, ogorek.Bytes("\x00\xff\x80"), proto))
		assert.Equal(t, ogorek.Bytes("\x00\xff\x80"), got, "protocol %d", proto)
	}
}

func TestLoadCall(t *testing.T) {
	call := ogorek.Call{
		Callable: ogorek.Class{Module: "numpy", Name: "dtype"},
		Args:     ogorek.Tuple{"f8", false, true},
	}
	got := mustLoad(t, encode(t, call, 2))

	inst, ok := got.(*instance)
	require.True(t, ok)
	assert.Equal(t, call.Callable, inst.Class)
	assert.Equal(t, call.Args, inst.Args)
}

func TestLoadMemoSharing(t *testing.T) {
	// [l, l] where l is one list appended to after being memoized.
	data := pickletest.New(2).
		Op(pickle.OpEmptyList).Put(0).
		Op(pickle.OpEmptyList).Put(1).Op(pickle.OpPop).
		Mark().Get(1).Get(1).Op(pickle.OpAppends).
		Get(1).Int(9).Op(pickle.OpAppend).Op(pickle.OpPop).
		Stop()

	got := mustLoad(t, data).(*pickle.List)
	require.Len(t, got.Items, 2)
	assert.Same(t, got.Items[0], got.Items[1])
	assert.Equal(t, []any{int64(9)}, got.Items[0].(*pickle.List).Items)
}

func TestLoadMemoize(t *testing.T) {
	data := pickletest.New(4).
		Unicode("x").Op(pickle.OpMemoize).
		Unicode("y").Op(pickle.OpMemoize).
		Op(pickle.OpPop, pickle.OpPop).
		Get(1).Get(0).Tuple(2).
		Stop()
	assert.Equal(t, ogorek.Tuple{"y", "x"}, mustLoad(t, data))
}

func TestLoadNewObjAndBuild(t *testing.T) {
	data := pickletest.New(4).
		StackGlobal("sklearn.tree._classes", "DecisionTreeClassifier").
		Tuple(0).Op(pickle.OpNewObj).
		Dict(func(b *pickletest.Builder) {
			b.Unicode("max_depth").Int(3)
			b.Unicode("criterion").Unicode("gini")
		}).
		Op(pickle.OpBuild).
		Stop()

	inst := mustLoad(t, data).(*instance)
	assert.Equal(t, "DecisionTreeClassifier", inst.Class.Name)

	state := inst.State.(*pickle.Dict)
	assert.Equal(t, []any{"max_depth", "criterion"}, state.Keys())
}

func TestLoadNewObjEx(t *testing.T) {
	data := pickletest.New(4).
		StackGlobal("mod", "Cls").
		Int(1).Tuple(1).
		Dict(func(b *pickletest.Builder) { b.Unicode("key").None() }).
		Op(pickle.OpNewObjEx).
		Stop()

	inst := mustLoad(t, data).(*instance)
	assert.Equal(t, ogorek.Tuple{int64(1)}, inst.Args)
	v, ok := inst.Kwargs.Get("key")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestLoadInstAndObj(t *testing.T) {
	inst := mustLoad(t, []byte("(I1\nimod\nCls\n.")).(*instance)
	assert.Equal(t, ogorek.Class{Module: "mod", Name: "Cls"}, inst.Class)
	assert.Equal(t, ogorek.Tuple{int64(1)}, inst.Args)

	data := pickletest.New(1).Mark().Global("mod", "Obj").Int(5).Op(pickle.OpObj).Stop()
	inst = mustLoad(t, data).(*instance)
	assert.Equal(t, "Obj", inst.Class.Name)
	assert.Equal(t, ogorek.Tuple{int64(5)}, inst.Args)
}

func TestLoadExtendDelegates(t *testing.T) {
	data := pickletest.New(2).
		Call("collections", "deque", 0, nil).
		Mark().Int(1).Int(2).Op(pickle.OpAppends).
		Stop()
	inst := mustLoad(t, data).(*instance)
	assert.Equal(t, []any{int64(1), int64(2)}, inst.Items)
}

func TestLoadSets(t *testing.T) {
	data := pickletest.New(4).
		Op(pickle.OpEmptySet).Mark().Int(1).Int(2).Int(1).Op(pickle.OpAddItems).
		Mark().Unicode("a").Op(pickle.OpFrozenSet).
		Tuple(2).Stop()

	got := mustLoad(t, data).(ogorek.Tuple)
	set := got[0].(*pickle.Set)
	assert.False(t, set.Frozen)
	assert.Equal(t, []any{int64(1), int64(2)}, set.Items())

	frozen := got[1].(*pickle.Set)
	assert.True(t, frozen.Frozen)
	assert.True(t, frozen.Contains("a"))
}

func TestLoadTupleKeys(t *testing.T) {
	data := pickletest.New(2).
		Dict(func(b *pickletest.Builder) {
			b.Int(1).Int(2).Tuple(2).Unicode("first")
			b.Int(1).Int(2).Tuple(2).Unicode("second")
		}).
		Stop()

	d := mustLoad(t, data).(*pickle.Dict)
	assert.Equal(t, 1, d.Len())
	v, ok := d.Get(ogorek.Tuple{int64(1), int64(2)})
	require.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestLoadProtocol0Text(t *testing.T) {
	tests := []struct {
		name string
		data string
		want any
	}{
		{"string escapes", "S'a\\nb\\x41\\'\\\\'\np0\n.", "a\nbA'\\"},
		{"double quoted", "S\"it's\"\n.", "it's"},
		{"octal escape", "S'\\101\\0'\n.", "A\x00"},
		{"raw unicode", "Vcaf\\u00e9 \xe9\n.", "café é"},
		{"astral", "V\\U0001f600\n.", "\U0001F600"},
		{"int true", "I01\n.", true},
		{"int false", "I00\n.", false},
		{"big int", "I99999999999999999999\n.", mustBig("99999999999999999999")},
		{"long", "L-5L\n.", int64(-5)},
		{"float", "F-1.5e3\n.", -1500.0},
		{"list", "(lp0\nI1\naI2\na.", nil},
		{"dict", "(dp0\nS'k'\np1\nI3\ns.", nil},
		{"crlf", "I42\r\n.", int64(42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustLoad(t, []byte(tt.data))
			switch tt.name {
			case "list":
				assert.Equal(t, []any{int64(1), int64(2)}, got.(*pickle.List).Items)
			case "dict":
				v, ok := got.(*pickle.Dict).Get("k")
				require.True(t, ok)
				assert.Equal(t, int64(3), v)
			default:
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func mustBig(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

func TestLoadLong1(t *testing.T) {
	tests := []struct {
		raw  []byte
		want any
	}{
		{[]byte{}, int64(0)},
		{[]byte{0xff}, int64(-1)},
		{[]byte{0x00, 0x80}, int64(-32768)},
		{[]byte{0xff, 0x00}, int64(255)},
		{[]byte{0, 0, 0, 0, 0, 0, 0, 0, 1}, mustBig("18446744073709551616")},
	}
	for _, tt := range tests {
		data := pickletest.New(2).Op(pickle.OpLong1).Raw([]byte{byte(len(tt.raw))}).Raw(tt.raw).Stop()
		assert.Equal(t, tt.want, mustLoad(t, data), "%x", tt.raw)
	}
}

func TestLoadPersistentID(t *testing.T) {
	got := mustLoad(t, []byte("Poid-1\n."))
	assert.Equal(t, ogorek.Ref{Pid: "oid-1"}, got)

	data := pickletest.New(2).Int(12).Op(pickle.OpBinPersID).Stop()
	assert.Equal(t, ogorek.Ref{Pid: int64(12)}, mustLoad(t, data))
}

func TestLoadFrameAndByteArray(t *testing.T) {
	data := pickletest.New(5).
		Op(pickle.OpFrame).Raw([]byte{11, 0, 0, 0, 0, 0, 0, 0}).
		Op(pickle.OpByteArray8).Raw([]byte{2, 0, 0, 0, 0, 0, 0, 0, 0xAB, 0xCD}).
		Stop()
	assert.Equal(t, []byte{0xAB, 0xCD}, mustLoad(t, data))
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, pickle.ErrNoStop},
		{"no stop", pickletest.New(2).Int(1).Data(), pickle.ErrNoStop},
		{"underflow", pickletest.New(2).Op(pickle.OpPop).Stop(), pickle.ErrStackUnderflow},
		{"no mark", pickletest.New(2).Op(pickle.OpTuple).Stop(), pickle.ErrMarkNotFound},
		{"memo", pickletest.New(2).Get(3).Stop(), pickle.ErrMemoMissing},
		{"protocol", []byte{0x80, 6, 'N', '.'}, pickle.ErrUnsupportedProtocol},
		{"ext", pickletest.New(2).Op(pickle.OpExt1).Raw([]byte{1}).Stop(), pickle.ErrExtensionCode},
		{"next buffer", pickletest.New(5).Op(pickle.OpNextBuffer).Stop(), pickle.ErrOutOfBand},
		{"unknown", []byte{0xff, '.'}, pickle.ErrUnknownOpcode},
		{"stop inside mark", pickletest.New(2).Mark().Stop(), pickle.ErrStackUnderflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadOpcodeErrorContext(t *testing.T) {
	_, err := load(t, pickletest.New(2).Global("forbidden", "Thing").Stop())
	require.Error(t, err)

	var opErr *pickle.OpcodeError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, pickle.OpGlobal, opErr.Op)
	assert.Equal(t, 1, opErr.Pos)
	assert.Contains(t, err.Error(), "forbidden.Thing")
}

func TestLoadTruncatedPayload(t *testing.T) {
	data := pickletest.New(3).Op(pickle.OpShortBinBytes).Raw([]byte{10, 1, 2}).Data()
	_, err := load(t, data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected EOF")
}

func TestLoadHugeDeclaredLength(t *testing.T) {
	tests := []struct {
		name string
		op   pickle.Opcode
		size []byte
	}{
		{"binbytes8", pickle.OpBinBytes8, binary.LittleEndian.AppendUint64(nil, 1<<60)},
		{"bytearray8", pickle.OpByteArray8, binary.LittleEndian.AppendUint64(nil, 1<<60)},
		{"binunicode8", pickle.OpBinUnicode8, binary.LittleEndian.AppendUint64(nil, 1<<60)},
		{"binbytes", pickle.OpBinBytes, binary.LittleEndian.AppendUint32(nil, math.MaxInt32)},
		{"long4", pickle.OpLong4, binary.LittleEndian.AppendUint32(nil, math.MaxInt32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := pickletest.New(4).Op(tt.op).Raw(tt.size).Raw([]byte{1, 2}).Data()
			_, err := load(t, data)
			require.ErrorIs(t, err, io.ErrUnexpectedEOF)

			var opErr *pickle.OpcodeError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, tt.op, opErr.Op)
		})
	}
}

func TestLoadLargePayload(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5A}, 3<<20+7)
	data := pickletest.New(4).
		Op(pickle.OpBinBytes8).Raw(binary.LittleEndian.AppendUint64(nil, uint64(len(payload)))).Raw(payload).
		Stop()
	got := mustLoad(t, data)
	assert.Equal(t, ogorek.Bytes(payload), got)
}

func TestHooksSeeEveryOpcode(t *testing.T) {
	var seen []pickle.Opcode
	hook := pickle.HookFunc(func(op pickle.Opcode, m *pickle.Machine) error {
		seen = append(seen, op)
		return nil
	})

	_, err := load(t, pickletest.New(2).Int(1).Int(2).Tuple(2).Stop(), hook)
	require.NoError(t, err)
	assert.Equal(t, []pickle.Opcode{pickle.OpProto, pickle.OpBinInt1, pickle.OpBinInt1, pickle.OpTuple2}, seen)
}

func TestHookReplaceRedirectsMemo(t *testing.T) {
	replacement := &instance{Class: ogorek.Class{Module: "x", Name: "Replaced"}}
	hook := pickle.HookFunc(func(op pickle.Opcode, m *pickle.Machine) error {
		if op != pickle.OpBuild {
			return nil
		}
		return m.Replace(replacement)
	})

	data := pickletest.New(2).
		Call("mod", "Cls", 0, nil).Put(0).
		None().Op(pickle.OpBuild).
		Get(0).Tuple(2).
		Stop()

	got, err := load(t, data, hook)
	require.NoError(t, err)
	tuple := got.(ogorek.Tuple)
	assert.Same(t, replacement, tuple[0])
	assert.Same(t, replacement, tuple[1])
}

func TestHookReplaceFollowsMemoKeys(t *testing.T) {
	var replaced []*instance
	hook := pickle.HookFunc(func(op pickle.Opcode, m *pickle.Machine) error {
		if op != pickle.OpBuild {
			return nil
		}
		r := &instance{Class: ogorek.Class{Module: "x", Name: fmt.Sprint("R", len(replaced))}}
		replaced = append(replaced, r)
		return m.Replace(r)
	})

	data := pickletest.New(2).
		Call("mod", "Cls", 0, nil).Put(0).Put(1).
		None().Put(1).Op(pickle.OpPop).
		None().Op(pickle.OpBuild).
		None().Op(pickle.OpBuild).
		Get(0).Get(1).Tuple(3).
		Stop()

	got, err := load(t, data, hook)
	require.NoError(t, err)
	require.Len(t, replaced, 2)
	tuple := got.(ogorek.Tuple)
	assert.Same(t, replaced[1], tuple[0])
	assert.Same(t, replaced[1], tuple[1])
	assert.Nil(t, tuple[2])
}

func TestHookReadsLiveStream(t *testing.T) {
	// The hook consumes a raw 3 byte payload that follows the BUILD opcode.
	var payload []byte
	hook := pickle.HookFunc(func(op pickle.Opcode, m *pickle.Machine) error {
		if op != pickle.OpBuild {
			return nil
		}
		payload = make([]byte, 3)
		_, err := io.ReadFull(m.Stream(), payload)
		return err
	})

	data := pickletest.New(2).
		Call("mod", "Wrapper", 0, nil).
		None().Op(pickle.OpBuild).
		Raw([]byte{7, 8, 9}).
		Stop()

	got, err := load(t, data, hook)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 8, 9}, payload)
	assert.Equal(t, "Wrapper", got.(*instance).Class.Name)
}

func TestLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pickle.NewMachine(bytes.NewReader([]byte("N.")), &testEnv{}).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMachineSharesBufferedReader(t *testing.T) {
	// Two pickles back to back are read by two machines over one reader.
	stream := append(pickletest.New(2).Int(1).Stop(), pickletest.New(2).Int(2).Stop()...)
	m := pickle.NewMachine(bytes.NewReader(stream), &testEnv{})

	first, err := m.Load(context.Background())
	require.NoError(t, err)
	second, err := pickle.NewMachine(m.Stream(), &testEnv{}).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}
