// Package pickle implements the Python pickle virtual machine.
//
// The Machine executes opcodes of protocols 0 through 5 and keeps the value
// stack, mark stack and memo. It knows nothing about the classes a stream
// references: every global lookup, call, object creation and state update
// is delegated to an Env. Hooks run after each opcode and may inspect or
// replace the top of the stack.
package pickle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	ogorek "github.com/kisielk/og-rek"
)

// Env resolves the classes and callables a pickle stream refers to.
type Env interface {
	// FindClass resolves a GLOBAL or STACK_GLOBAL reference.
	FindClass(module, name string) (any, error)
	// Call applies callable to args (REDUCE, INST, OBJ).
	Call(callable any, args ogorek.Tuple) (any, error)
	// NewObject creates an instance without calling its initializer
	// (NEWOBJ, NEWOBJ_EX). kwargs is nil for NEWOBJ.
	NewObject(cls any, args ogorek.Tuple, kwargs *Dict) (any, error)
	// Build applies state to obj (BUILD) and returns the resulting value,
	// usually obj itself.
	Build(obj, state any) (any, error)
	// PersistentLoad resolves a persistent id (PERSID, BINPERSID).
	PersistentLoad(pid any) (any, error)
	// Extend appends items to an object that is not a *List (APPEND, APPENDS).
	Extend(obj any, items []any) error
	// SetItems stores key/value pairs into an object that is not a *Dict
	// (SETITEM, SETITEMS).
	SetItems(obj any, pairs []Entry) error
}

// Hook observes the machine after each opcode.
type Hook interface {
	AfterOpcode(op Opcode, m *Machine) error
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(op Opcode, m *Machine) error

// AfterOpcode calls f.
func (f HookFunc) AfterOpcode(op Opcode, m *Machine) error {
	return f(op, m)
}

// Machine is a pickle virtual machine bound to one stream.
type Machine struct {
	r     *bufio.Reader
	env   Env
	hooks []Hook

	stack []any
	marks []int
	memo  map[int]any
	refs  map[any][]int // memo keys of each pointer value
	proto int
	ops   int

	buf [8]byte
}

// NewMachine returns a machine reading from r. A *bufio.Reader is used as
// is so that the caller and the hooks share one stream position.
func NewMachine(r io.Reader, env Env, hooks ...Hook) *Machine {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Machine{
		r:     br,
		env:   env,
		hooks: hooks,
		memo:  make(map[int]any),
		refs:  make(map[any][]int),
	}
}

// Stream returns the live reader positioned just after the last opcode.
// Hooks may consume bytes from it.
func (m *Machine) Stream() *bufio.Reader {
	return m.r
}

// Protocol returns the protocol announced by PROTO, or 0.
func (m *Machine) Protocol() int {
	return m.proto
}

// Load executes opcodes until STOP and returns the top of the stack.
func (m *Machine) Load(ctx context.Context) (any, error) {
	for {
		if m.ops&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		b, err := m.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, ErrNoStop
			}
			return nil, fmt.Errorf("read opcode: %w", err)
		}
		op := Opcode(b)
		pos := m.ops
		m.ops++

		if op == OpStop {
			v, err := m.Pop()
			if err != nil {
				return nil, &OpcodeError{Op: op, Pos: pos, Err: err}
			}
			return v, nil
		}

		if err := m.step(op); err != nil {
			return nil, &OpcodeError{Op: op, Pos: pos, Err: err}
		}
		for _, h := range m.hooks {
			if err := h.AfterOpcode(op, m); err != nil {
				return nil, &OpcodeError{Op: op, Pos: pos, Err: err}
			}
		}
	}
}

// Push pushes v onto the stack.
func (m *Machine) Push(v any) {
	m.stack = append(m.stack, v)
}

// Pop removes and returns the top of the stack.
func (m *Machine) Pop() (any, error) {
	if len(m.stack) == 0 || (len(m.marks) > 0 && len(m.stack) <= m.marks[len(m.marks)-1]) {
		return nil, ErrStackUnderflow
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// Top returns the top of the stack without removing it.
func (m *Machine) Top() (any, error) {
	if len(m.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	return m.stack[len(m.stack)-1], nil
}

// Replace swaps the top of the stack for v. Memo entries referring to the
// replaced pointer are redirected to v as well.
func (m *Machine) Replace(v any) error {
	if len(m.stack) == 0 {
		return ErrStackUnderflow
	}
	old := m.stack[len(m.stack)-1]
	m.stack[len(m.stack)-1] = v
	m.redirectMemo(old, v)
	return nil
}

func (m *Machine) redirectMemo(old, v any) {
	if !isPointer(old) {
		return
	}
	keys := m.refs[old]
	delete(m.refs, old)
	for _, k := range keys {
		// The key may have been overwritten by a later PUT.
		if m.memo[k] != old {
			continue
		}
		m.memo[k] = v
		if isPointer(v) {
			m.refs[v] = append(m.refs[v], k)
		}
	}
}

func isPointer(v any) bool {
	return v != nil && reflect.ValueOf(v).Kind() == reflect.Pointer
}

// popMark removes the items pushed since the last MARK.
func (m *Machine) popMark() ([]any, error) {
	if len(m.marks) == 0 {
		return nil, ErrMarkNotFound
	}
	k := m.marks[len(m.marks)-1]
	m.marks = m.marks[:len(m.marks)-1]
	items := append([]any(nil), m.stack[k:]...)
	m.stack = m.stack[:k]
	return items, nil
}

func (m *Machine) popN(n int) ([]any, error) {
	floor := 0
	if len(m.marks) > 0 {
		floor = m.marks[len(m.marks)-1]
	}
	if len(m.stack)-n < floor {
		return nil, ErrStackUnderflow
	}
	items := append([]any(nil), m.stack[len(m.stack)-n:]...)
	m.stack = m.stack[:len(m.stack)-n]
	return items, nil
}

func (m *Machine) step(op Opcode) error {
	switch op {
	case OpProto:
		v, err := m.r.ReadByte()
		if err != nil {
			return err
		}
		if v > HighestProtocol {
			return fmt.Errorf("%w: %d", ErrUnsupportedProtocol, v)
		}
		m.proto = int(v)
	case OpFrame:
		// Frames only group opcodes for buffered reads; the length is
		// advisory.
		_, err := m.readUint64()
		return err

	case OpMark:
		m.marks = append(m.marks, len(m.stack))
	case OpPop:
		if len(m.marks) > 0 && len(m.stack) == m.marks[len(m.marks)-1] {
			_, err := m.popMark()
			return err
		}
		_, err := m.Pop()
		return err
	case OpPopMark:
		_, err := m.popMark()
		return err
	case OpDup:
		v, err := m.Top()
		if err != nil {
			return err
		}
		m.Push(v)

	case OpNone:
		m.Push(nil)
	case OpNewTrue:
		m.Push(true)
	case OpNewFalse:
		m.Push(false)

	case OpInt:
		line, err := m.readLine()
		if err != nil {
			return err
		}
		v, err := parseInt(line)
		if err != nil {
			return err
		}
		m.Push(v)
	case OpBinInt:
		v, err := m.readUint32()
		if err != nil {
			return err
		}
		m.Push(int64(int32(v)))
	case OpBinInt1:
		v, err := m.r.ReadByte()
		if err != nil {
			return err
		}
		m.Push(int64(v))
	case OpBinInt2:
		v, err := m.readUint16()
		if err != nil {
			return err
		}
		m.Push(int64(v))
	case OpLong:
		line, err := m.readLine()
		if err != nil {
			return err
		}
		v, err := parseLong(line)
		if err != nil {
			return err
		}
		m.Push(v)
	case OpLong1:
		n, err := m.r.ReadByte()
		if err != nil {
			return err
		}
		b, err := m.readBytes(int(n))
		if err != nil {
			return err
		}
		m.Push(decodeLong(b))
	case OpLong4:
		n, err := m.readLength32()
		if err != nil {
			return err
		}
		b, err := m.readBytes(n)
		if err != nil {
			return err
		}
		m.Push(decodeLong(b))

	case OpFloat:
		line, err := m.readLine()
		if err != nil {
			return err
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return fmt.Errorf("invalid float literal %q: %w", line, err)
		}
		m.Push(v)
	case OpBinFloat:
		v, err := m.readUint64BE()
		if err != nil {
			return err
		}
		m.Push(math.Float64frombits(v))

	case OpString:
		line, err := m.readLine()
		if err != nil {
			return err
		}
		s, err := unquoteString(line)
		if err != nil {
			return err
		}
		m.Push(s)
	case OpBinString:
		return m.pushSized32(func(b []byte) any { return string(b) })
	case OpShortBinString:
		return m.pushSized8(func(b []byte) any { return string(b) })
	case OpUnicode:
		line, err := m.readLine()
		if err != nil {
			return err
		}
		s, err := decodeRawUnicodeEscape([]byte(line))
		if err != nil {
			return err
		}
		m.Push(s)
	case OpBinUnicode:
		n, err := m.readLength32()
		if err != nil {
			return err
		}
		return m.pushUnicode(n)
	case OpShortBinUnicode:
		n, err := m.r.ReadByte()
		if err != nil {
			return err
		}
		return m.pushUnicode(int(n))
	case OpBinUnicode8:
		n, err := m.readLength64()
		if err != nil {
			return err
		}
		return m.pushUnicode(n)
	case OpBinBytes:
		return m.pushSized32(func(b []byte) any { return ogorek.Bytes(b) })
	case OpShortBinBytes:
		return m.pushSized8(func(b []byte) any { return ogorek.Bytes(b) })
	case OpBinBytes8:
		n, err := m.readLength64()
		if err != nil {
			return err
		}
		b, err := m.readBytes(n)
		if err != nil {
			return err
		}
		m.Push(ogorek.Bytes(b))
	case OpByteArray8:
		n, err := m.readLength64()
		if err != nil {
			return err
		}
		b, err := m.readBytes(n)
		if err != nil {
			return err
		}
		m.Push(b)
	case OpNextBuffer:
		return ErrOutOfBand
	case OpReadOnlyBuffer:
		// Applies to the buffer pushed by NEXT_BUFFER; nothing to do for
		// in-band data.

	case OpEmptyTuple:
		m.Push(ogorek.Tuple{})
	case OpTuple:
		items, err := m.popMark()
		if err != nil {
			return err
		}
		m.Push(ogorek.Tuple(items))
	case OpTuple1, OpTuple2, OpTuple3:
		items, err := m.popN(int(op-OpTuple1) + 1)
		if err != nil {
			return err
		}
		m.Push(ogorek.Tuple(items))

	case OpEmptyList:
		m.Push(&List{})
	case OpList:
		items, err := m.popMark()
		if err != nil {
			return err
		}
		m.Push(&List{Items: items})
	case OpAppend:
		v, err := m.Pop()
		if err != nil {
			return err
		}
		return m.extend([]any{v})
	case OpAppends:
		items, err := m.popMark()
		if err != nil {
			return err
		}
		return m.extend(items)

	case OpEmptyDict:
		m.Push(NewDict())
	case OpDict:
		items, err := m.popMark()
		if err != nil {
			return err
		}
		pairs, err := toPairs(items)
		if err != nil {
			return err
		}
		d := NewDict()
		for _, p := range pairs {
			d.Set(p.Key, p.Value)
		}
		m.Push(d)
	case OpSetItem:
		items, err := m.popN(2)
		if err != nil {
			return err
		}
		return m.setItems([]Entry{{Key: items[0], Value: items[1]}})
	case OpSetItems:
		items, err := m.popMark()
		if err != nil {
			return err
		}
		pairs, err := toPairs(items)
		if err != nil {
			return err
		}
		return m.setItems(pairs)

	case OpEmptySet:
		m.Push(NewSet(false))
	case OpAddItems:
		items, err := m.popMark()
		if err != nil {
			return err
		}
		top, err := m.Top()
		if err != nil {
			return err
		}
		s, ok := top.(*Set)
		if !ok {
			return fmt.Errorf("ADDITEMS target is %T, not a set", top)
		}
		for _, item := range items {
			s.Add(item)
		}
	case OpFrozenSet:
		items, err := m.popMark()
		if err != nil {
			return err
		}
		m.Push(NewSet(true, items...))

	case OpGet:
		line, err := m.readLine()
		if err != nil {
			return err
		}
		idx, err := strconv.Atoi(line)
		if err != nil {
			return fmt.Errorf("invalid memo key %q: %w", line, err)
		}
		return m.get(idx)
	case OpBinGet:
		idx, err := m.r.ReadByte()
		if err != nil {
			return err
		}
		return m.get(int(idx))
	case OpLongBinGet:
		idx, err := m.readLength32()
		if err != nil {
			return err
		}
		return m.get(idx)
	case OpPut:
		line, err := m.readLine()
		if err != nil {
			return err
		}
		idx, err := strconv.Atoi(line)
		if err != nil {
			return fmt.Errorf("invalid memo key %q: %w", line, err)
		}
		return m.put(idx)
	case OpBinPut:
		idx, err := m.r.ReadByte()
		if err != nil {
			return err
		}
		return m.put(int(idx))
	case OpLongBinPut:
		idx, err := m.readLength32()
		if err != nil {
			return err
		}
		return m.put(idx)
	case OpMemoize:
		return m.put(len(m.memo))

	case OpGlobal:
		module, err := m.readLine()
		if err != nil {
			return err
		}
		name, err := m.readLine()
		if err != nil {
			return err
		}
		return m.global(module, name)
	case OpStackGlobal:
		items, err := m.popN(2)
		if err != nil {
			return err
		}
		module, ok1 := items[0].(string)
		name, ok2 := items[1].(string)
		if !ok1 || !ok2 {
			return fmt.Errorf("STACK_GLOBAL requires strings, got %T and %T", items[0], items[1])
		}
		return m.global(module, name)

	case OpReduce:
		items, err := m.popN(2)
		if err != nil {
			return err
		}
		args, ok := items[1].(ogorek.Tuple)
		if !ok {
			return fmt.Errorf("REDUCE arguments are %T, not a tuple", items[1])
		}
		v, err := m.env.Call(items[0], args)
		if err != nil {
			return err
		}
		m.Push(v)
	case OpInst:
		module, err := m.readLine()
		if err != nil {
			return err
		}
		name, err := m.readLine()
		if err != nil {
			return err
		}
		args, err := m.popMark()
		if err != nil {
			return err
		}
		cls, err := m.env.FindClass(module, name)
		if err != nil {
			return err
		}
		v, err := m.env.Call(cls, ogorek.Tuple(args))
		if err != nil {
			return err
		}
		m.Push(v)
	case OpObj:
		items, err := m.popMark()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrStackUnderflow
		}
		v, err := m.env.Call(items[0], ogorek.Tuple(items[1:]))
		if err != nil {
			return err
		}
		m.Push(v)
	case OpNewObj:
		items, err := m.popN(2)
		if err != nil {
			return err
		}
		args, ok := items[1].(ogorek.Tuple)
		if !ok {
			return fmt.Errorf("NEWOBJ arguments are %T, not a tuple", items[1])
		}
		v, err := m.env.NewObject(items[0], args, nil)
		if err != nil {
			return err
		}
		m.Push(v)
	case OpNewObjEx:
		items, err := m.popN(3)
		if err != nil {
			return err
		}
		args, ok := items[1].(ogorek.Tuple)
		if !ok {
			return fmt.Errorf("NEWOBJ_EX arguments are %T, not a tuple", items[1])
		}
		kwargs, ok := items[2].(*Dict)
		if !ok {
			return fmt.Errorf("NEWOBJ_EX keyword arguments are %T, not a dict", items[2])
		}
		v, err := m.env.NewObject(items[0], args, kwargs)
		if err != nil {
			return err
		}
		m.Push(v)
	case OpBuild:
		state, err := m.Pop()
		if err != nil {
			return err
		}
		obj, err := m.Top()
		if err != nil {
			return err
		}
		v, err := m.env.Build(obj, state)
		if err != nil {
			return err
		}
		return m.Replace(v)

	case OpPersID:
		line, err := m.readLine()
		if err != nil {
			return err
		}
		v, err := m.env.PersistentLoad(line)
		if err != nil {
			return err
		}
		m.Push(v)
	case OpBinPersID:
		pid, err := m.Pop()
		if err != nil {
			return err
		}
		v, err := m.env.PersistentLoad(pid)
		if err != nil {
			return err
		}
		m.Push(v)

	case OpExt1, OpExt2, OpExt4:
		return ErrExtensionCode

	default:
		return fmt.Errorf("%w %s", ErrUnknownOpcode, op)
	}
	return nil
}

func (m *Machine) global(module, name string) error {
	v, err := m.env.FindClass(module, name)
	if err != nil {
		return err
	}
	m.Push(v)
	return nil
}

func (m *Machine) get(idx int) error {
	v, ok := m.memo[idx]
	if !ok {
		return fmt.Errorf("%w: %d", ErrMemoMissing, idx)
	}
	m.Push(v)
	return nil
}

func (m *Machine) put(idx int) error {
	v, err := m.Top()
	if err != nil {
		return err
	}
	m.memo[idx] = v
	if isPointer(v) {
		m.refs[v] = append(m.refs[v], idx)
	}
	return nil
}

func (m *Machine) extend(items []any) error {
	top, err := m.Top()
	if err != nil {
		return err
	}
	if l, ok := top.(*List); ok {
		l.Items = append(l.Items, items...)
		return nil
	}
	return m.env.Extend(top, items)
}

func (m *Machine) setItems(pairs []Entry) error {
	top, err := m.Top()
	if err != nil {
		return err
	}
	if d, ok := top.(*Dict); ok {
		for _, p := range pairs {
			d.Set(p.Key, p.Value)
		}
		return nil
	}
	return m.env.SetItems(top, pairs)
}

func toPairs(items []any) ([]Entry, error) {
	if len(items)%2 != 0 {
		return nil, fmt.Errorf("odd number of items (%d) for dict", len(items))
	}
	pairs := make([]Entry, len(items)/2)
	for i := range pairs {
		pairs[i] = Entry{Key: items[2*i], Value: items[2*i+1]}
	}
	return pairs, nil
}

func (m *Machine) pushSized8(conv func([]byte) any) error {
	n, err := m.r.ReadByte()
	if err != nil {
		return err
	}
	b, err := m.readBytes(int(n))
	if err != nil {
		return err
	}
	m.Push(conv(b))
	return nil
}

func (m *Machine) pushSized32(conv func([]byte) any) error {
	n, err := m.readLength32()
	if err != nil {
		return err
	}
	b, err := m.readBytes(n)
	if err != nil {
		return err
	}
	m.Push(conv(b))
	return nil
}

func (m *Machine) pushUnicode(n int) error {
	b, err := m.readBytes(n)
	if err != nil {
		return err
	}
	if !utf8.Valid(b) {
		return fmt.Errorf("invalid UTF-8 in %d byte string", n)
	}
	m.Push(string(b))
	return nil
}

// readLine reads a newline-terminated argument without the newline (and a
// preceding carriage return, for pickles written on Windows in text mode).
func (m *Machine) readLine() (string, error) {
	line, err := m.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read line: %w", eofToUnexpected(err))
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// readChunk bounds the allocation made ahead of the data for a sized
// argument. Longer arguments grow with the bytes actually read.
const readChunk = 1 << 20

func (m *Machine) readBytes(n int) ([]byte, error) {
	if n <= readChunk {
		b := make([]byte, n)
		if _, err := io.ReadFull(m.r, b); err != nil {
			return nil, fmt.Errorf("read %d bytes: %w", n, eofToUnexpected(err))
		}
		return b, nil
	}
	var buf bytes.Buffer
	buf.Grow(readChunk)
	if _, err := io.CopyN(&buf, m.r, int64(n)); err != nil {
		return nil, fmt.Errorf("read %d bytes: %w", n, eofToUnexpected(err))
	}
	return buf.Bytes(), nil
}

func (m *Machine) readUint16() (uint16, error) {
	if _, err := io.ReadFull(m.r, m.buf[:2]); err != nil {
		return 0, eofToUnexpected(err)
	}
	return binary.LittleEndian.Uint16(m.buf[:2]), nil
}

func (m *Machine) readUint32() (uint32, error) {
	if _, err := io.ReadFull(m.r, m.buf[:4]); err != nil {
		return 0, eofToUnexpected(err)
	}
	return binary.LittleEndian.Uint32(m.buf[:4]), nil
}

func (m *Machine) readUint64() (uint64, error) {
	if _, err := io.ReadFull(m.r, m.buf[:8]); err != nil {
		return 0, eofToUnexpected(err)
	}
	return binary.LittleEndian.Uint64(m.buf[:8]), nil
}

// readUint64BE reads the big-endian payload of BINFLOAT.
func (m *Machine) readUint64BE() (uint64, error) {
	if _, err := io.ReadFull(m.r, m.buf[:8]); err != nil {
		return 0, eofToUnexpected(err)
	}
	return binary.BigEndian.Uint64(m.buf[:8]), nil
}

func (m *Machine) readLength32() (int, error) {
	v, err := m.readUint32()
	if err != nil {
		return 0, err
	}
	if int32(v) < 0 {
		return 0, fmt.Errorf("negative length %d", int32(v))
	}
	return int(v), nil
}

func (m *Machine) readLength64() (int, error) {
	v, err := m.readUint64()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt {
		return 0, fmt.Errorf("length %d too large", v)
	}
	return int(v), nil
}

func eofToUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
