package ndarray

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unpickle/internal/dtype"
)

// countingSource counts how often the payload is opened.
type countingSource struct {
	data  []byte
	opens int
}

func (s *countingSource) Open() (io.Reader, error) {
	s.opens++
	return bytes.NewReader(s.data), nil
}

func (s *countingSource) Len() int { return len(s.data) }

func letters(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a' + byte(i)
	}
	return b
}

func TestFortranOrder(t *testing.T) {
	u1 := dtype.MustParse("|u1")

	t.Run("2x3", func(t *testing.T) {
		arr := New(u1, []int{2, 3}, OrderFortran, BytesSource(letters(6)))
		nested, err := arr.Nested()
		require.NoError(t, err)
		assert.Equal(t, []any{
			[]any{uint8('a'), uint8('c'), uint8('e')},
			[]any{uint8('b'), uint8('d'), uint8('f')},
		}, nested)
	})

	t.Run("3x2", func(t *testing.T) {
		arr := New(u1, []int{3, 2}, OrderFortran, BytesSource(letters(6)))
		nested, err := arr.Nested()
		require.NoError(t, err)
		assert.Equal(t, []any{
			[]any{uint8('a'), uint8('d')},
			[]any{uint8('b'), uint8('e')},
			[]any{uint8('c'), uint8('f')},
		}, nested)
	})

	t.Run("2x3x2", func(t *testing.T) {
		// Element (i, j, k) lives at storage index i + 2j + 6k.
		arr := New(u1, []int{2, 3, 2}, OrderFortran, BytesSource(letters(12)))
		content, err := arr.Content()
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			for j := 0; j < 3; j++ {
				for k := 0; k < 2; k++ {
					logical := i*6 + j*2 + k
					storage := i + 2*j + 6*k
					assert.Equal(t, uint8('a'+storage), content[logical], "(%d,%d,%d)", i, j, k)
				}
			}
		}
	})

	t.Run("1-d is unchanged", func(t *testing.T) {
		arr := New(u1, []int{4}, OrderFortran, BytesSource(letters(4)))
		content, err := arr.Content()
		require.NoError(t, err)
		assert.Equal(t, []any{uint8('a'), uint8('b'), uint8('c'), uint8('d')}, content)
	})
}

func TestNest(t *testing.T) {
	assert.Equal(t, 7, Nest([]any{7}, nil))
	assert.Nil(t, Nest(nil, nil))
	assert.Equal(t, []any{[]any{}, []any{}}, Nest([]any{}, []int{2, 0}))
}

func TestCount(t *testing.T) {
	n, err := Count(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = Count([]int{2, 0, 5})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = Count([]int{2, -1})
	assert.Error(t, err)
}

func TestCountOverflow(t *testing.T) {
	_, err := Count([]int{1 << 62, 4})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = PayloadSize([]int{1 << 61}, dtype.MustParse("<f8"))
	assert.ErrorIs(t, err, ErrTooLarge)

	n, err := PayloadSize([]int{3, 2}, dtype.MustParse("<i4"))
	require.NoError(t, err)
	assert.Equal(t, 24, n)
}

func TestContentShapeOverflow(t *testing.T) {
	arr := New(dtype.MustParse("<f8"), []int{1 << 62, 4}, OrderC, BytesSource(nil))
	_, err := arr.Content()
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestArrayLazyContent(t *testing.T) {
	payload := new(bytes.Buffer)
	_ = binary.Write(payload, binary.LittleEndian, []int32{1, 2, 3})
	src := &countingSource{data: payload.Bytes()}

	arr := New(dtype.MustParse("<i4"), []int{3}, OrderC, src)
	assert.Equal(t, 0, src.opens, "payload must not be decoded eagerly")

	first, err := arr.Content()
	require.NoError(t, err)
	second, err := arr.Content()
	require.NoError(t, err)
	assert.Equal(t, []any{int32(1), int32(2), int32(3)}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.opens)

	arr.ClearContent()
	_, err = arr.Content()
	require.NoError(t, err)
	assert.Equal(t, 2, src.opens)

	arr.Release()
	_, err = arr.Content()
	assert.ErrorIs(t, err, ErrReleased)
}

func TestArrayShortPayload(t *testing.T) {
	arr := New(dtype.MustParse("<i4"), []int{3}, OrderC, BytesSource(make([]byte, 8)))
	_, err := arr.Content()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shorter than 3 elements")
}

func TestArrayEmpty(t *testing.T) {
	arr := New(dtype.MustParse("<f8"), []int{0}, OrderC, nil)
	content, err := arr.Content()
	require.NoError(t, err)
	assert.Empty(t, content)

	arr = New(dtype.MustParse("<f8"), []int{2}, OrderC, nil)
	_, err = arr.Content()
	assert.Error(t, err)
}

func TestArrayItem(t *testing.T) {
	arr := New(dtype.MustParse("<f8"), nil, OrderC, BytesSource(encodeFloat(4.5)))
	v, ok := arr.Item()
	require.True(t, ok)
	assert.Equal(t, 4.5, v)

	arr = FromValues(dtype.MustParse("|O"), []any{1, 2})
	_, ok = arr.Item()
	assert.False(t, ok)
}

func encodeFloat(v float64) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func TestObjectArray(t *testing.T) {
	obj := dtype.MustParse("|O")
	// Object elements arrive in logical order for either layout.
	arr := NewObjects(obj, []int{2, 2}, OrderFortran, []any{"a", "b", "c", "d"})
	nested, err := arr.Nested()
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"a", "b"}, []any{"c", "d"}}, nested)

	arr = NewObjects(obj, []int{3}, OrderC, []any{"a"})
	_, err = arr.Content()
	assert.Error(t, err)
}

func TestArrayReset(t *testing.T) {
	arr := New(dtype.MustParse("|u1"), []int{1}, OrderC, BytesSource{9})
	_, err := arr.Content()
	require.NoError(t, err)

	arr.ResetObjects(dtype.MustParse("|O"), []int{2}, OrderC, []any{"x", nil})
	content, err := arr.Content()
	require.NoError(t, err)
	assert.Equal(t, []any{"x", nil}, content)
	assert.Equal(t, "ndarray(shape=[2], dtype=|O8, order=C)", arr.String())
}

func TestMaskedArray(t *testing.T) {
	data := new(bytes.Buffer)
	_ = binary.Write(data, binary.LittleEndian, []float64{1, 2, 3, 4})

	m := NewMasked(dtype.MustParse("<f8"), []int{2, 2}, OrderC,
		BytesSource(data.Bytes()), BytesSource{0, 1, 1, 0}, 1e20)

	content, err := m.Content()
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, nil, nil, 4.0}, content)

	mask, err := m.MaskContent()
	require.NoError(t, err)
	assert.Equal(t, []any{false, true, true, false}, mask)
	assert.Equal(t, 1e20, m.FillValue)
}

func TestMaskedArrayFortran(t *testing.T) {
	data := new(bytes.Buffer)
	_ = binary.Write(data, binary.LittleEndian, []int16{1, 2, 3, 4, 5, 6})

	// Storage order is column-major for both payloads; the mask hides the
	// logical element (0, 1).
	m := NewMasked(dtype.MustParse("<i2"), []int{2, 3}, OrderFortran,
		BytesSource(data.Bytes()), BytesSource{0, 0, 1, 0, 0, 0}, nil)

	content, err := m.Content()
	require.NoError(t, err)
	assert.Equal(t, []any{int16(1), nil, int16(5), int16(2), int16(4), int16(6)}, content)
}

func TestMaskedRecords(t *testing.T) {
	d, err := dtype.NewCompound([]string{"a", "b"}, map[string]dtype.FieldSpec{
		"a": {Descr: dtype.MustParse("|u1"), Offset: 0},
		"b": {Descr: dtype.MustParse("|i1"), Offset: 1},
	}, 2)
	require.NoError(t, err)

	m := NewMasked(d, []int{2}, OrderC, BytesSource{1, 0xFF, 2, 0xFE}, BytesSource{0, 1, 1, 0}, nil)

	bs, err := m.FieldContent("b")
	require.NoError(t, err)
	assert.Equal(t, []any{nil, int8(-2)}, bs)

	as, err := m.FieldContent("a")
	require.NoError(t, err)
	assert.Equal(t, []any{uint8(1), nil}, as)

	_, err = m.FieldContent("c")
	assert.Error(t, err)
}

func TestMaskedShapeMismatch(t *testing.T) {
	m := &MaskedArray{
		Data: New(dtype.MustParse("|u1"), []int{2}, OrderC, BytesSource{1, 2}),
		Mask: New(dtype.MustParse("|b1"), []int{3}, OrderC, BytesSource{0, 0, 0}),
	}
	_, err := m.Content()
	assert.Error(t, err)
}

func TestScalar(t *testing.T) {
	s, err := NewScalar(dtype.MustParse("<f8"), encodeFloat(0.25))
	require.NoError(t, err)
	assert.Equal(t, 0.25, s.ScalarValue())
	assert.Equal(t, "0.25", s.String())

	_, err = NewScalar(dtype.MustParse("<f8"), []byte{1})
	assert.Error(t, err)
}

func TestRecordString(t *testing.T) {
	r := NewRecord([]string{"x", "y"}, []any{1, "z"})
	assert.Equal(t, "(1, z)", r.String())
	assert.Equal(t, 2, r.Len())

	v, ok := r.Get("y")
	assert.True(t, ok)
	assert.Equal(t, "z", v)

	_, ok = r.Get("nope")
	assert.False(t, ok)
}

func TestDateString(t *testing.T) {
	d := Date{Year: 812, Month: 3, Day: 9}
	assert.Equal(t, "0812-03-09", d.String())
	assert.Equal(t, 812, d.Time().Year())
}
