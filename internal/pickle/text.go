package pickle

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"
)

// parseInt parses a protocol 0 INT line. "00" and "01" are the legacy
// spellings of False and True.
func parseInt(line string) (any, error) {
	switch line {
	case "00":
		return false, nil
	case "01":
		return true, nil
	}
	if v, err := strconv.ParseInt(line, 10, 64); err == nil {
		return v, nil
	}
	return parseBig(line)
}

// parseLong parses a protocol 0 LONG line such as "12345678901234567890L".
func parseLong(line string) (any, error) {
	return parseBig(strings.TrimSuffix(line, "L"))
}

func parseBig(s string) (any, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer literal %q", s)
	}
	return normalizeInt(n), nil
}

// normalizeInt returns n as int64 when it fits.
func normalizeInt(n *big.Int) any {
	if n.IsInt64() {
		return n.Int64()
	}
	return n
}

// decodeLong decodes a little-endian two's complement integer (LONG1/LONG4).
func decodeLong(b []byte) any {
	if len(b) == 0 {
		return int64(0)
	}
	be := make([]byte, len(b))
	for i, c := range b {
		be[len(b)-1-i] = c
	}
	n := new(big.Int).SetBytes(be)
	if b[len(b)-1]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(b))*8))
	}
	return normalizeInt(n)
}

// unquoteString decodes a protocol 0 STRING argument: a Python repr of a
// byte string in single or double quotes. The result keeps raw bytes.
func unquoteString(line string) (string, error) {
	if len(line) < 2 || line[0] != line[len(line)-1] || (line[0] != '\'' && line[0] != '"') {
		return "", fmt.Errorf("STRING argument %q is not quoted", line)
	}
	return unescapeBytes(line[1 : len(line)-1])
}

var errTruncatedEscape = errors.New("truncated escape sequence")

// unescapeBytes resolves Python string-escape sequences.
func unescapeBytes(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}

	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", errTruncatedEscape
		}
		switch c = s[i]; c {
		case '\\', '\'', '"':
			sb.WriteByte(c)
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'a':
			sb.WriteByte('\a')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case '\n':
			// line continuation
		case 'x':
			if i+2 >= len(s) {
				return "", errTruncatedEscape
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid \\x escape: %w", err)
			}
			sb.WriteByte(byte(v))
			i += 2
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(s[i:j], 8, 16)
			sb.WriteByte(byte(v))
			i = j - 1
		default:
			sb.WriteByte('\\')
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

// decodeRawUnicodeEscape decodes the raw-unicode-escape codec used by the
// protocol 0 UNICODE opcode: \uXXXX and \UXXXXXXXX escapes, every other byte
// is a Latin-1 code point.
func decodeRawUnicodeEscape(b []byte) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c == '\\' && i+1 < len(b) && (b[i+1] == 'u' || b[i+1] == 'U') {
			width := 4
			if b[i+1] == 'U' {
				width = 8
			}
			if i+2+width > len(b) {
				return "", errTruncatedEscape
			}
			v, err := strconv.ParseUint(string(b[i+2:i+2+width]), 16, 32)
			if err != nil {
				return "", fmt.Errorf("invalid \\%c escape: %w", b[i+1], err)
			}
			r := rune(v)
			if !utf8.ValidRune(r) {
				return "", fmt.Errorf("invalid code point U+%X", v)
			}
			sb.WriteRune(r)
			i += 1 + width
			continue
		}
		sb.WriteRune(rune(c))
	}
	return sb.String(), nil
}
