package container

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zlib.NewWriter(buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// zfile builds a legacy joblib container with the given declared length.
func zfile(t *testing.T, data []byte, declared int, space bool) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "ZF%-19s", fmt.Sprintf("%#x", declared))
	if space {
		buf.WriteByte(' ')
	}
	buf.Write(deflate(t, data))
	return buf.Bytes()
}

func readAll(t *testing.T, input []byte) ([]byte, Format, error) {
	t.Helper()
	rc, format, err := Open(bytes.NewReader(input))
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data, format, rc.Close()
}

func TestOpenUncompressed(t *testing.T) {
	input := []byte("\x80\x02K\x01.")
	data, format, err := readAll(t, input)
	require.NoError(t, err)
	assert.Equal(t, Uncompressed, format)
	assert.Equal(t, input, data, "every byte must be left for the reader")
}

func TestOpenShortUncompressed(t *testing.T) {
	data, format, err := readAll(t, []byte("N."))
	require.NoError(t, err)
	assert.Equal(t, Uncompressed, format)
	assert.Equal(t, []byte("N."), data)
}

func TestOpenRawCompressed(t *testing.T) {
	payload := bytes.Repeat([]byte("pickle"), 100)
	data, format, err := readAll(t, deflate(t, payload))
	require.NoError(t, err)
	assert.Equal(t, RawCompressed, format)
	assert.Equal(t, payload, data)
}

func TestOpenLegacy(t *testing.T) {
	payload := []byte("\x80\x02]q\x00.")

	for _, space := range []bool{true, false} {
		t.Run(fmt.Sprintf("space=%v", space), func(t *testing.T) {
			data, format, err := readAll(t, zfile(t, payload, len(payload), space))
			require.NoError(t, err)
			assert.Equal(t, LegacyCompressed, format)
			assert.Equal(t, payload, data)
		})
	}
}

func TestOpenLegacyLengthMismatch(t *testing.T) {
	payload := []byte("0123456789")
	data, _, err := readAll(t, zfile(t, payload, len(payload)+1, true))

	assert.Equal(t, payload, data, "data is not truncated before close")
	require.ErrorIs(t, err, ErrMalformedStream)

	var mismatch *SizeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(11), mismatch.Expected)
	assert.Equal(t, int64(10), mismatch.Actual)
}

func TestOpenLegacyCloseDrains(t *testing.T) {
	payload := bytes.Repeat([]byte{7}, 4096)
	rc, _, err := Open(bytes.NewReader(zfile(t, payload, len(payload), true)))
	require.NoError(t, err)

	head := make([]byte, 10)
	_, err = io.ReadFull(rc, head)
	require.NoError(t, err)
	assert.NoError(t, rc.Close())
	assert.NoError(t, rc.Close())
}

func TestParseLegacyLength(t *testing.T) {
	tests := []struct {
		field   string
		want    int64
		wantErr bool
	}{
		{"0x10               ", 16, false},
		{"0xffL              ", 255, false},
		{"0x1ffffffffffffffff", 0, true},
		{"0x                 ", 0, true},
		{"12                 ", 0, true},
		{"0xzz               ", 0, true},
	}

	for _, tt := range tests {
		got, err := parseLegacyLength(tt.field)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrMalformedStream, tt.field)
			continue
		}
		require.NoError(t, err, tt.field)
		assert.Equal(t, tt.want, got, tt.field)
	}
}

func TestOpenLegacyTruncatedHeader(t *testing.T) {
	_, _, err := Open(bytes.NewReader([]byte("ZF0x12")))
	assert.ErrorIs(t, err, ErrMalformedStream)
}

func TestOpenCorruptZlib(t *testing.T) {
	_, _, err := Open(bytes.NewReader([]byte{0x78, 0x00, 0x00}))
	assert.ErrorIs(t, err, ErrMalformedStream)
}

func TestDetectDoesNotConsume(t *testing.T) {
	br := bufio.NewReader(bytes.NewReader([]byte("ZF0x1")))
	format, err := Detect(br)
	require.NoError(t, err)
	assert.Equal(t, LegacyCompressed, format)
	assert.Equal(t, 5, br.Buffered())
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "raw", Uncompressed.String())
	assert.Equal(t, "zlib", RawCompressed.String())
	assert.Equal(t, "zfile", LegacyCompressed.String())
}
