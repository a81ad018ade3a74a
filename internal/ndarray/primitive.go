package ndarray

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Reader reads fixed-width integers and floats from a stream in an
// explicitly given byte order.
type Reader struct {
	r   io.Reader
	buf [16]byte
	n   int64
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// BytesRead returns the number of bytes consumed so far.
func (r *Reader) BytesRead() int64 {
	return r.n
}

func (r *Reader) fill(n int) ([]byte, error) {
	b := r.buf[:n]
	read, err := io.ReadFull(r.r, b)
	r.n += int64(read)
	if err != nil {
		return nil, fmt.Errorf("read %d bytes: %w", n, err)
	}
	return b, nil
}

// ReadBytes reads exactly n bytes into a new slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read size %d", n)
	}
	b := make([]byte, n)
	read, err := io.ReadFull(r.r, b)
	r.n += int64(read)
	if err != nil {
		return nil, fmt.Errorf("read %d bytes: %w", n, err)
	}
	return b, nil
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.fill(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt8 reads one signed byte.
func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err //nolint:gosec // G115: two's complement reinterpretation.
}

// ReadUint16 reads a 2-byte unsigned integer.
func (r *Reader) ReadUint16(order binary.ByteOrder) (uint16, error) {
	b, err := r.fill(2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(b), nil
}

// ReadInt16 reads a 2-byte signed integer.
func (r *Reader) ReadInt16(order binary.ByteOrder) (int16, error) {
	v, err := r.ReadUint16(order)
	return int16(v), err //nolint:gosec // G115: two's complement reinterpretation.
}

// ReadUint32 reads a 4-byte unsigned integer.
func (r *Reader) ReadUint32(order binary.ByteOrder) (uint32, error) {
	b, err := r.fill(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

// ReadInt32 reads a 4-byte signed integer.
func (r *Reader) ReadInt32(order binary.ByteOrder) (int32, error) {
	v, err := r.ReadUint32(order)
	return int32(v), err //nolint:gosec // G115: two's complement reinterpretation.
}

// ReadUint64 reads an 8-byte unsigned integer.
func (r *Reader) ReadUint64(order binary.ByteOrder) (uint64, error) {
	b, err := r.fill(8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(b), nil
}

// ReadInt64 reads an 8-byte signed integer.
func (r *Reader) ReadInt64(order binary.ByteOrder) (int64, error) {
	v, err := r.ReadUint64(order)
	return int64(v), err //nolint:gosec // G115: two's complement reinterpretation.
}

// ReadFloat16 reads an IEEE 754 half-precision float, widened to float32.
func (r *Reader) ReadFloat16(order binary.ByteOrder) (float32, error) {
	v, err := r.ReadUint16(order)
	if err != nil {
		return 0, err
	}
	return float16ToFloat32(v), nil
}

// ReadFloat32 reads an IEEE 754 single-precision float.
func (r *Reader) ReadFloat32(order binary.ByteOrder) (float32, error) {
	v, err := r.ReadUint32(order)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadFloat64 reads an IEEE 754 double-precision float.
func (r *Reader) ReadFloat64(order binary.ByteOrder) (float64, error) {
	v, err := r.ReadUint64(order)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// float16ToFloat32 widens a half-precision bit pattern without rounding.
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := int32(h>>10) & 0x1F
	mant := uint32(h) & 0x3FF

	var bits uint32
	switch exp {
	case 0:
		if mant == 0 {
			bits = sign << 31
			break
		}
		// Subnormal: shift the mantissa up until the implicit bit appears.
		e := int32(1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3FF
		bits = sign<<31 | uint32(e+127-15)<<23 | mant<<13 //nolint:gosec // G115: exponent is positive.
	case 0x1F:
		bits = sign<<31 | 0x7F800000 | mant<<13
	default:
		bits = sign<<31 | uint32(exp+127-15)<<23 | mant<<13 //nolint:gosec // G115: exponent is positive.
	}
	return math.Float32frombits(bits)
}
