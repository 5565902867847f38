// Package vm implements the bytecode dispatch loop: a compact u8 opcode
// stream with inline little-endian operands, executed against a value
// stack and flat namespaces, with static-exception-table unwinding and
// cooperative suspension at external function calls.
package vm

// Op is one byte of the closed opcode enumeration. Operand widths are
// fixed per opcode; multi-byte operands are little-endian, and jump
// offsets are relative to the byte after the operand.
type Op byte

const (
	OpPop Op = iota
	OpDup
	OpRot2
	OpRot3

	OpLoadConst // u16 pool index
	OpLoadNone
	OpLoadTrue
	OpLoadFalse
	OpLoadSmallInt // i8

	OpLoadLocal0
	OpLoadLocal1
	OpLoadLocal2
	OpLoadLocal3
	OpLoadLocal   // u8
	OpLoadLocalW  // u16
	OpStoreLocal  // u8
	OpStoreLocalW // u16
	OpLoadGlobal  // u16
	OpStoreGlobal // u16
	OpLoadCell    // u16
	OpStoreCell   // u16
	OpDeleteLocal // u8

	OpBinaryAdd
	OpBinarySub
	OpBinaryMul
	OpBinaryDiv
	OpBinaryFloorDiv
	OpBinaryMod
	OpBinaryPow
	OpBinaryAnd
	OpBinaryOr
	OpBinaryXor
	OpBinaryLShift
	OpBinaryRShift
	OpBinaryMatMul

	OpCompareEq
	OpCompareNe
	OpCompareLt
	OpCompareLe
	OpCompareGt
	OpCompareGe
	OpCompareIs
	OpCompareIsNot
	OpCompareIn
	OpCompareNotIn
	OpCompareModEq // u16 pool index of k

	OpUnaryNot
	OpUnaryNeg
	OpUnaryPos
	OpUnaryInvert

	OpInplaceAdd
	OpInplaceSub
	OpInplaceMul
	OpInplaceDiv
	OpInplaceFloorDiv
	OpInplaceMod
	OpInplacePow
	OpInplaceAnd
	OpInplaceOr
	OpInplaceXor
	OpInplaceLShift
	OpInplaceRShift
	OpInplaceMatMul

	OpBuildList    // u16 count
	OpBuildTuple   // u16 count
	OpBuildDict    // u16 count (key/value pairs)
	OpBuildSet     // u16 count
	OpBuildFString // u16 count (string parts)
	OpFormatValue  // u8 flags, then u16 pool index when bit3 set
	OpListExtend
	OpListToTuple
	OpDictMerge // u16 count of dicts merged into the one below

	OpBinarySubscr
	OpStoreSubscr
	OpDeleteSubscr

	OpLoadAttr   // u16 intern id
	OpStoreAttr  // u16 intern id
	OpDeleteAttr // u16 intern id

	OpCallFunction   // u8 argc
	OpCallFunctionKW // u8 pos, u8 kw, kw x u16 intern ids
	OpCallMethod     // u16 intern id, u8 argc
	OpCallExternal   // u16 external function id, u8 argc
	OpCallFunctionEx // u8 flags (bit0: kwargs dict on stack)

	OpJump             // i16
	OpJumpIfTrue       // i16
	OpJumpIfFalse      // i16
	OpJumpIfTrueOrPop  // i16
	OpJumpIfFalseOrPop // i16

	OpGetIter
	OpForIter // i16 forward offset on exhaustion

	OpMakeFunction // u16 function index
	OpMakeClosure  // u16 function index, u8 n, n x u8 outer cell indices

	OpRaise
	OpRaiseFrom
	OpReraise
	OpClearException
	OpCheckExcMatch

	OpReturnValue

	OpUnpackSequence // u8 count
	OpUnpackEx       // u8 before, u8 after

	OpNop
)

var opNames = map[Op]string{
	OpPop: "POP", OpDup: "DUP", OpRot2: "ROT2", OpRot3: "ROT3",
	OpLoadConst: "LOAD_CONST", OpLoadNone: "LOAD_NONE", OpLoadTrue: "LOAD_TRUE",
	OpLoadFalse: "LOAD_FALSE", OpLoadSmallInt: "LOAD_SMALL_INT",
	OpLoadLocal0: "LOAD_LOCAL0", OpLoadLocal1: "LOAD_LOCAL1",
	OpLoadLocal2: "LOAD_LOCAL2", OpLoadLocal3: "LOAD_LOCAL3",
	OpLoadLocal: "LOAD_LOCAL", OpLoadLocalW: "LOAD_LOCAL_W",
	OpStoreLocal: "STORE_LOCAL", OpStoreLocalW: "STORE_LOCAL_W",
	OpLoadGlobal: "LOAD_GLOBAL", OpStoreGlobal: "STORE_GLOBAL",
	OpLoadCell: "LOAD_CELL", OpStoreCell: "STORE_CELL", OpDeleteLocal: "DELETE_LOCAL",
	OpBinaryAdd: "BINARY_ADD", OpBinarySub: "BINARY_SUB", OpBinaryMul: "BINARY_MUL",
	OpBinaryDiv: "BINARY_DIV", OpBinaryFloorDiv: "BINARY_FLOOR_DIV",
	OpBinaryMod: "BINARY_MOD", OpBinaryPow: "BINARY_POW",
	OpBinaryAnd: "BINARY_AND", OpBinaryOr: "BINARY_OR", OpBinaryXor: "BINARY_XOR",
	OpBinaryLShift: "BINARY_LSHIFT", OpBinaryRShift: "BINARY_RSHIFT",
	OpBinaryMatMul: "BINARY_MAT_MUL",
	OpCompareEq:    "COMPARE_EQ", OpCompareNe: "COMPARE_NE", OpCompareLt: "COMPARE_LT",
	OpCompareLe: "COMPARE_LE", OpCompareGt: "COMPARE_GT", OpCompareGe: "COMPARE_GE",
	OpCompareIs: "COMPARE_IS", OpCompareIsNot: "COMPARE_IS_NOT",
	OpCompareIn: "COMPARE_IN", OpCompareNotIn: "COMPARE_NOT_IN",
	OpCompareModEq: "COMPARE_MOD_EQ",
	OpUnaryNot:     "UNARY_NOT", OpUnaryNeg: "UNARY_NEG", OpUnaryPos: "UNARY_POS",
	OpUnaryInvert: "UNARY_INVERT",
	OpInplaceAdd:  "INPLACE_ADD", OpInplaceSub: "INPLACE_SUB",
	OpInplaceMul: "INPLACE_MUL", OpInplaceDiv: "INPLACE_DIV",
	OpInplaceFloorDiv: "INPLACE_FLOOR_DIV", OpInplaceMod: "INPLACE_MOD",
	OpInplacePow: "INPLACE_POW", OpInplaceAnd: "INPLACE_AND",
	OpInplaceOr: "INPLACE_OR", OpInplaceXor: "INPLACE_XOR",
	OpInplaceLShift: "INPLACE_LSHIFT", OpInplaceRShift: "INPLACE_RSHIFT",
	OpInplaceMatMul: "INPLACE_MAT_MUL",
	OpBuildList:     "BUILD_LIST", OpBuildTuple: "BUILD_TUPLE",
	OpBuildDict: "BUILD_DICT", OpBuildSet: "BUILD_SET",
	OpBuildFString: "BUILD_FSTRING", OpFormatValue: "FORMAT_VALUE",
	OpListExtend: "LIST_EXTEND", OpListToTuple: "LIST_TO_TUPLE",
	OpDictMerge:    "DICT_MERGE",
	OpBinarySubscr: "BINARY_SUBSCR", OpStoreSubscr: "STORE_SUBSCR",
	OpDeleteSubscr: "DELETE_SUBSCR",
	OpLoadAttr:     "LOAD_ATTR", OpStoreAttr: "STORE_ATTR", OpDeleteAttr: "DELETE_ATTR",
	OpCallFunction: "CALL_FUNCTION", OpCallFunctionKW: "CALL_FUNCTION_KW",
	OpCallMethod: "CALL_METHOD", OpCallExternal: "CALL_EXTERNAL",
	OpCallFunctionEx: "CALL_FUNCTION_EX",
	OpJump:           "JUMP", OpJumpIfTrue: "JUMP_IF_TRUE", OpJumpIfFalse: "JUMP_IF_FALSE",
	OpJumpIfTrueOrPop: "JUMP_IF_TRUE_OR_POP", OpJumpIfFalseOrPop: "JUMP_IF_FALSE_OR_POP",
	OpGetIter: "GET_ITER", OpForIter: "FOR_ITER",
	OpMakeFunction: "MAKE_FUNCTION", OpMakeClosure: "MAKE_CLOSURE",
	OpRaise: "RAISE", OpRaiseFrom: "RAISE_FROM", OpReraise: "RERAISE",
	OpClearException: "CLEAR_EXCEPTION", OpCheckExcMatch: "CHECK_EXC_MATCH",
	OpReturnValue:    "RETURN_VALUE",
	OpUnpackSequence: "UNPACK_SEQUENCE", OpUnpackEx: "UNPACK_EX",
	OpNop: "NOP",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "UNKNOWN"
}
