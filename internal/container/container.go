// Package container detects and unwraps the compressed envelopes a pickle
// stream may arrive in.
//
// Three layouts are recognized by their leading bytes:
//
//	0x78 ...            zlib stream (RawCompressed)
//	"ZF0x" + length ... legacy joblib zfile (LegacyCompressed)
//	anything else       plain pickle (Uncompressed)
//
// Detection only peeks, so an uncompressed stream is returned with every byte
// still unread.
package container

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// Format is the detected envelope of a stream.
type Format int

// Stream envelopes.
const (
	Uncompressed Format = iota
	RawCompressed
	LegacyCompressed
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case RawCompressed:
		return "zlib"
	case LegacyCompressed:
		return "zfile"
	default:
		return "raw"
	}
}

const (
	zlibMagic   = 0x78
	legacyMagic = "ZF0x"

	// legacyHeaderLen is the "ZF" prefix plus a 19 character length field:
	// "0x" and up to 17 hex digits, padded with spaces.
	legacyHeaderLen = 2 + 19
)

// Common errors.
var (
	ErrMalformedStream = errors.New("malformed stream")
)

// SizeMismatchError reports a legacy stream whose decompressed length differs
// from the length declared in its header.
type SizeMismatchError struct {
	Expected int64
	Actual   int64
}

// Error implements the error interface.
func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s: decompressed %d bytes, header declares %d", ErrMalformedStream, e.Actual, e.Expected)
}

// Is reports whether target is ErrMalformedStream.
func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrMalformedStream
}

// Detect classifies br by peeking at its first bytes. Nothing is consumed.
func Detect(br *bufio.Reader) (Format, error) {
	head, err := br.Peek(legacyHeaderLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return Uncompressed, fmt.Errorf("peek header: %w", err)
	}

	switch {
	case len(head) > 0 && head[0] == zlibMagic:
		return RawCompressed, nil
	case bytes.HasPrefix(head, []byte(legacyMagic)):
		return LegacyCompressed, nil
	default:
		return Uncompressed, nil
	}
}

// Open detects the envelope of r and returns a reader over the pickle bytes.
// Closing the returned reader does not close r. For legacy streams Close
// drains the remaining data and fails with ErrMalformedStream when the
// decompressed size differs from the declared one.
func Open(r io.Reader) (io.ReadCloser, Format, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	format, err := Detect(br)
	if err != nil {
		return nil, format, err
	}

	switch format {
	case RawCompressed:
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, format, fmt.Errorf("%w: zlib header: %w", ErrMalformedStream, err)
		}
		return zr, format, nil

	case LegacyCompressed:
		rc, err := openLegacy(br)
		return rc, format, err
	}

	return io.NopCloser(br), format, nil
}

func openLegacy(br *bufio.Reader) (io.ReadCloser, error) {
	header := make([]byte, legacyHeaderLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("%w: truncated zfile header: %w", ErrMalformedStream, err)
	}
	expected, err := parseLegacyLength(string(header[2:]))
	if err != nil {
		return nil, err
	}

	// A single space may separate the header from the data.
	b, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: zfile has no data: %w", ErrMalformedStream, err)
	}
	if b != ' ' {
		if err := br.UnreadByte(); err != nil {
			return nil, err
		}
	}

	zr, err := zlib.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: zlib header: %w", ErrMalformedStream, err)
	}
	return &checkedReader{r: zr, expected: expected}, nil
}

// parseLegacyLength parses the hex length field, e.g. "0x1a2b   " or the
// Python 2 long form "0x1a2bL".
func parseLegacyLength(field string) (int64, error) {
	s := strings.TrimRight(field, " ")
	s = strings.TrimSuffix(s, "L")
	if !strings.HasPrefix(s, "0x") || len(s) == 2 {
		return 0, fmt.Errorf("%w: zfile length field %q", ErrMalformedStream, field)
	}
	n, err := strconv.ParseInt(s[2:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: zfile length field %q: %w", ErrMalformedStream, field, err)
	}
	return n, nil
}

// checkedReader counts decompressed bytes and verifies the total on Close.
type checkedReader struct {
	r        io.ReadCloser
	expected int64
	n        int64
	closed   bool
}

func (c *checkedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Close drains the decompressor, closes it and checks the byte count.
func (c *checkedReader) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	drained, err := io.Copy(io.Discard, c.r)
	c.n += drained
	closeErr := c.r.Close()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedStream, err)
	}
	if closeErr != nil {
		return closeErr
	}
	if c.n != c.expected {
		return &SizeMismatchError{Expected: c.expected, Actual: c.n}
	}
	return nil
}
