package pickle

import "fmt"

// Opcode is a single pickle instruction byte.
type Opcode byte

// Protocol 0 and 1 opcodes.
const (
	OpMark           Opcode = '('
	OpStop           Opcode = '.'
	OpPop            Opcode = '0'
	OpPopMark        Opcode = '1'
	OpDup            Opcode = '2'
	OpFloat          Opcode = 'F'
	OpInt            Opcode = 'I'
	OpBinInt         Opcode = 'J'
	OpBinInt1        Opcode = 'K'
	OpLong           Opcode = 'L'
	OpBinInt2        Opcode = 'M'
	OpNone           Opcode = 'N'
	OpPersID         Opcode = 'P'
	OpBinPersID      Opcode = 'Q'
	OpReduce         Opcode = 'R'
	OpString         Opcode = 'S'
	OpBinString      Opcode = 'T'
	OpShortBinString Opcode = 'U'
	OpUnicode        Opcode = 'V'
	OpBinUnicode     Opcode = 'X'
	OpAppend         Opcode = 'a'
	OpBuild          Opcode = 'b'
	OpGlobal         Opcode = 'c'
	OpDict           Opcode = 'd'
	OpEmptyDict      Opcode = '}'
	OpAppends        Opcode = 'e'
	OpGet            Opcode = 'g'
	OpBinGet         Opcode = 'h'
	OpInst           Opcode = 'i'
	OpLongBinGet     Opcode = 'j'
	OpList           Opcode = 'l'
	OpEmptyList      Opcode = ']'
	OpObj            Opcode = 'o'
	OpPut            Opcode = 'p'
	OpBinPut         Opcode = 'q'
	OpLongBinPut     Opcode = 'r'
	OpSetItem        Opcode = 's'
	OpTuple          Opcode = 't'
	OpEmptyTuple     Opcode = ')'
	OpSetItems       Opcode = 'u'
	OpBinFloat       Opcode = 'G'
)

// Protocol 2 opcodes.
const (
	OpProto    Opcode = 0x80
	OpNewObj   Opcode = 0x81
	OpExt1     Opcode = 0x82
	OpExt2     Opcode = 0x83
	OpExt4     Opcode = 0x84
	OpTuple1   Opcode = 0x85
	OpTuple2   Opcode = 0x86
	OpTuple3   Opcode = 0x87
	OpNewTrue  Opcode = 0x88
	OpNewFalse Opcode = 0x89
	OpLong1    Opcode = 0x8a
	OpLong4    Opcode = 0x8b
)

// Protocol 3 opcodes.
const (
	OpBinBytes      Opcode = 'B'
	OpShortBinBytes Opcode = 'C'
)

// Protocol 4 opcodes.
const (
	OpShortBinUnicode Opcode = 0x8c
	OpBinUnicode8     Opcode = 0x8d
	OpBinBytes8       Opcode = 0x8e
	OpEmptySet        Opcode = 0x8f
	OpAddItems        Opcode = 0x90
	OpFrozenSet       Opcode = 0x91
	OpNewObjEx        Opcode = 0x92
	OpStackGlobal     Opcode = 0x93
	OpMemoize         Opcode = 0x94
	OpFrame           Opcode = 0x95
)

// Protocol 5 opcodes.
const (
	OpByteArray8     Opcode = 0x96
	OpNextBuffer     Opcode = 0x97
	OpReadOnlyBuffer Opcode = 0x98
)

// HighestProtocol is the newest protocol version the machine reads.
const HighestProtocol = 5

var opcodeNames = map[Opcode]string{
	OpMark: "MARK", OpStop: "STOP", OpPop: "POP", OpPopMark: "POP_MARK",
	OpDup: "DUP", OpFloat: "FLOAT", OpInt: "INT", OpBinInt: "BININT",
	OpBinInt1: "BININT1", OpLong: "LONG", OpBinInt2: "BININT2", OpNone: "NONE",
	OpPersID: "PERSID", OpBinPersID: "BINPERSID", OpReduce: "REDUCE",
	OpString: "STRING", OpBinString: "BINSTRING", OpShortBinString: "SHORT_BINSTRING",
	OpUnicode: "UNICODE", OpBinUnicode: "BINUNICODE", OpAppend: "APPEND",
	OpBuild: "BUILD", OpGlobal: "GLOBAL", OpDict: "DICT", OpEmptyDict: "EMPTY_DICT",
	OpAppends: "APPENDS", OpGet: "GET", OpBinGet: "BINGET", OpInst: "INST",
	OpLongBinGet: "LONG_BINGET", OpList: "LIST", OpEmptyList: "EMPTY_LIST",
	OpObj: "OBJ", OpPut: "PUT", OpBinPut: "BINPUT", OpLongBinPut: "LONG_BINPUT",
	OpSetItem: "SETITEM", OpTuple: "TUPLE", OpEmptyTuple: "EMPTY_TUPLE",
	OpSetItems: "SETITEMS", OpBinFloat: "BINFLOAT",

	OpProto: "PROTO", OpNewObj: "NEWOBJ", OpExt1: "EXT1", OpExt2: "EXT2",
	OpExt4: "EXT4", OpTuple1: "TUPLE1", OpTuple2: "TUPLE2", OpTuple3: "TUPLE3",
	OpNewTrue: "NEWTRUE", OpNewFalse: "NEWFALSE", OpLong1: "LONG1", OpLong4: "LONG4",

	OpBinBytes: "BINBYTES", OpShortBinBytes: "SHORT_BINBYTES",

	OpShortBinUnicode: "SHORT_BINUNICODE", OpBinUnicode8: "BINUNICODE8",
	OpBinBytes8: "BINBYTES8", OpEmptySet: "EMPTY_SET", OpAddItems: "ADDITEMS",
	OpFrozenSet: "FROZENSET", OpNewObjEx: "NEWOBJ_EX", OpStackGlobal: "STACK_GLOBAL",
	OpMemoize: "MEMOIZE", OpFrame: "FRAME",

	OpByteArray8: "BYTEARRAY8", OpNextBuffer: "NEXT_BUFFER", OpReadOnlyBuffer: "READONLY_BUFFER",
}

// String returns the pickletools name of the opcode.
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", byte(op))
}
