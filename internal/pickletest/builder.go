// Package pickletest builds pickle streams opcode by opcode for tests.
//
// Streams are assembled the way a pickler writes them, so tests can produce
// exactly the opcode sequences numpy, pandas and joblib emit, including raw
// array payloads placed directly after an opcode.
package pickletest

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/born-ml/unpickle/internal/pickle"
)

// Builder accumulates a pickle stream.
type Builder struct {
	buf bytes.Buffer
}

// New returns a builder that starts with a PROTO opcode. Protocols below 2
// have no PROTO opcode and start empty.
func New(proto int) *Builder {
	b := &Builder{}
	if proto >= 2 {
		b.buf.WriteByte(byte(pickle.OpProto))
		b.buf.WriteByte(byte(proto))
	}
	return b
}

// Op appends bare opcodes.
func (b *Builder) Op(ops ...pickle.Opcode) *Builder {
	for _, op := range ops {
		b.buf.WriteByte(byte(op))
	}
	return b
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(p []byte) *Builder {
	b.buf.Write(p)
	return b
}

// Mark appends MARK.
func (b *Builder) Mark() *Builder {
	return b.Op(pickle.OpMark)
}

// None appends NONE.
func (b *Builder) None() *Builder {
	return b.Op(pickle.OpNone)
}

// Bool appends NEWTRUE or NEWFALSE.
func (b *Builder) Bool(v bool) *Builder {
	if v {
		return b.Op(pickle.OpNewTrue)
	}
	return b.Op(pickle.OpNewFalse)
}

// Int appends the shortest binary integer opcode that holds v.
func (b *Builder) Int(v int64) *Builder {
	switch {
	case v >= 0 && v <= math.MaxUint8:
		b.Op(pickle.OpBinInt1)
		b.buf.WriteByte(byte(v))
	case v >= 0 && v <= math.MaxUint16:
		b.Op(pickle.OpBinInt2)
		_ = binary.Write(&b.buf, binary.LittleEndian, uint16(v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		b.Op(pickle.OpBinInt)
		_ = binary.Write(&b.buf, binary.LittleEndian, int32(v))
	default:
		b.Op(pickle.OpLong1)
		b.buf.WriteByte(8)
		_ = binary.Write(&b.buf, binary.LittleEndian, v)
	}
	return b
}

// Float appends BINFLOAT.
func (b *Builder) Float(v float64) *Builder {
	b.Op(pickle.OpBinFloat)
	_ = binary.Write(&b.buf, binary.BigEndian, math.Float64bits(v))
	return b
}

// Unicode appends SHORT_BINUNICODE or BINUNICODE.
func (b *Builder) Unicode(s string) *Builder {
	if len(s) < 256 {
		b.Op(pickle.OpShortBinUnicode)
		b.buf.WriteByte(byte(len(s)))
	} else {
		b.Op(pickle.OpBinUnicode)
		_ = binary.Write(&b.buf, binary.LittleEndian, uint32(len(s)))
	}
	b.buf.WriteString(s)
	return b
}

// BinString appends a protocol 2 byte string (SHORT_BINSTRING or BINSTRING),
// as Python 2 writes str objects.
func (b *Builder) BinString(s string) *Builder {
	if len(s) < 256 {
		b.Op(pickle.OpShortBinString)
		b.buf.WriteByte(byte(len(s)))
	} else {
		b.Op(pickle.OpBinString)
		_ = binary.Write(&b.buf, binary.LittleEndian, uint32(len(s)))
	}
	b.buf.WriteString(s)
	return b
}

// BinBytes appends SHORT_BINBYTES or BINBYTES.
func (b *Builder) BinBytes(p []byte) *Builder {
	if len(p) < 256 {
		b.Op(pickle.OpShortBinBytes)
		b.buf.WriteByte(byte(len(p)))
	} else {
		b.Op(pickle.OpBinBytes)
		_ = binary.Write(&b.buf, binary.LittleEndian, uint32(len(p)))
	}
	b.buf.Write(p)
	return b
}

// Global appends a text GLOBAL reference.
func (b *Builder) Global(module, name string) *Builder {
	b.Op(pickle.OpGlobal)
	b.buf.WriteString(module + "\n" + name + "\n")
	return b
}

// StackGlobal pushes module and name and appends STACK_GLOBAL.
func (b *Builder) StackGlobal(module, name string) *Builder {
	return b.Unicode(module).Unicode(name).Op(pickle.OpStackGlobal)
}

// Tuple appends the opcode that packs the top n items into a tuple. For
// n > 3 the caller must have pushed a MARK before the items.
func (b *Builder) Tuple(n int) *Builder {
	switch n {
	case 0:
		return b.Op(pickle.OpEmptyTuple)
	case 1:
		return b.Op(pickle.OpTuple1)
	case 2:
		return b.Op(pickle.OpTuple2)
	case 3:
		return b.Op(pickle.OpTuple3)
	}
	return b.Op(pickle.OpTuple)
}

// Put appends BINPUT.
func (b *Builder) Put(idx byte) *Builder {
	return b.Op(pickle.OpBinPut).Raw([]byte{idx})
}

// Get appends BINGET.
func (b *Builder) Get(idx byte) *Builder {
	return b.Op(pickle.OpBinGet).Raw([]byte{idx})
}

// Call appends GLOBAL module.name, the argument opcodes written by args, a
// tuple of n items and REDUCE.
func (b *Builder) Call(module, name string, n int, args func(*Builder)) *Builder {
	b.Global(module, name)
	if n > 3 {
		b.Mark()
	}
	if args != nil {
		args(b)
	}
	return b.Tuple(n).Op(pickle.OpReduce)
}

// Dict appends EMPTY_DICT followed by a SETITEMS over the pairs written by
// items. An items func that writes nothing leaves an empty dict.
func (b *Builder) Dict(items func(*Builder)) *Builder {
	b.Op(pickle.OpEmptyDict)
	if items == nil {
		return b
	}
	b.Mark()
	items(b)
	return b.Op(pickle.OpSetItems)
}

// Stop appends STOP and returns the stream.
func (b *Builder) Stop() []byte {
	b.Op(pickle.OpStop)
	return b.Data()
}

// Data returns the stream built so far.
func (b *Builder) Data() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}
