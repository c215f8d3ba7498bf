// Package bytecode defines the instruction set the policy compiler emits
// and the policy virtual machine executes.
//
// Architecture:
//
// The bytecode is a flat, linear stream of instructions executed by a
// stack-based interpreter:
//   1. Values are pushed onto and popped from an operand stack
//   2. Every opcode's effect is specified purely by stack delta
//   3. Locals live in per-call activation frames; globals in a shared map
//   4. Jump arguments are relative offsets from the jump's own index
//
// Instruction Format:
//
// Unlike a constant-pool design (operand = index into a side table), each
// instruction here carries its argument directly as a value.Value: most
// commonly Nil, an Integer immediate, or a String naming an identifier.
// This keeps the instruction stream self-contained.
//
// Example compilation:
//
//   Source:
//     x = 5
//     print x + 3
//
//   Bytecode:
//     PUSH 5
//     STORE "x"
//     PUSH_GLOBAL "x"
//     PUSH 3
//     BIN_ADD
//     PRINT
//     PUSH nil
//     RETURN
package bytecode

import (
	"fmt"

	"github.com/kristofer/policyvm/pkg/value"
)

// Opcode identifies a single bytecode operation.
type Opcode byte

// The complete opcode set recognized by the VM. No opcode may
// be added or removed from this set; SET_ATTR is included but unreachable
// from the current surface syntax (see pkg/vm's handling of it).
const (
	OpPush Opcode = iota
	OpPop
	OpStore
	OpPushGlobal
	OpStoreLocal
	OpPushLocal
	OpMakeList
	OpMakeDict
	OpIndex
	OpSetIndex
	OpGetAttr
	OpSetAttr
	OpCallFn
	OpReturn

	OpBinAdd
	OpBinSub
	OpBinMul
	OpBinDiv
	OpBinMod

	OpEq
	OpNeq
	OpGt
	OpLt
	OpGte
	OpLte

	OpBinIn
	OpNot

	OpJump
	OpJumpIfTrue
	OpJumpIfFalse

	OpIterInit
	OpIterNext

	OpPrint
)

// String returns a human-readable opcode mnemonic, used by the
// disassembler and by trace hooks.
func (op Opcode) String() string {
	switch op {
	case OpPush:
		return "PUSH"
	case OpPop:
		return "POP"
	case OpStore:
		return "STORE"
	case OpPushGlobal:
		return "PUSH_GLOBAL"
	case OpStoreLocal:
		return "STORE_LOCAL"
	case OpPushLocal:
		return "PUSH_LOCAL"
	case OpMakeList:
		return "MAKE_LIST"
	case OpMakeDict:
		return "MAKE_DICT"
	case OpIndex:
		return "INDEX"
	case OpSetIndex:
		return "SET_INDEX"
	case OpGetAttr:
		return "GETATTR"
	case OpSetAttr:
		return "SET_ATTR"
	case OpCallFn:
		return "CALL_FN"
	case OpReturn:
		return "RETURN"
	case OpBinAdd:
		return "BIN_ADD"
	case OpBinSub:
		return "BIN_SUB"
	case OpBinMul:
		return "BIN_MUL"
	case OpBinDiv:
		return "BIN_DIV"
	case OpBinMod:
		return "BIN_MOD"
	case OpEq:
		return "EQ"
	case OpNeq:
		return "NEQ"
	case OpGt:
		return "GT"
	case OpLt:
		return "LT"
	case OpGte:
		return "GTE"
	case OpLte:
		return "LTE"
	case OpBinIn:
		return "BIN_IN"
	case OpNot:
		return "NOT"
	case OpJump:
		return "JUMP"
	case OpJumpIfTrue:
		return "JUMP_IF_TRUE"
	case OpJumpIfFalse:
		return "JUMP_IF_FALSE"
	case OpIterInit:
		return "ITER_INIT"
	case OpIterNext:
		return "ITER_NEXT"
	case OpPrint:
		return "PRINT"
	default:
		return "UNKNOWN"
	}
}

// Instruction is a single (opcode, argument) pair. The argument is always
// a value.Value: Nil when unused, an Integer for MAKE_LIST/MAKE_DICT
// counts and jump offsets, a String naming an identifier, or (for PUSH
// ahead of a `def`/lambda literal) a *Function constant.
type Instruction struct {
	Op  Opcode
	Arg value.Value
}

// Code is a flat instruction stream: a compiled program or function body.
type Code []Instruction

// Len reports the number of instructions.
func (c Code) Len() int { return len(c) }

// Function holds a compiled body, its declared arity, and its ordered
// parameter names, built by pkg/compiler from a `def` or lambda literal.
// It implements value.Value so it can be pushed onto the operand stack
// and stored as a global or local like any other value.
//
// Function is declared here rather than in pkg/value because its payload
// (Code) itself holds value.Value arguments; declaring it in pkg/value
// would make pkg/value depend on pkg/bytecode while pkg/bytecode already
// depends on pkg/value for Instruction.Arg.
type Function struct {
	Code       Code
	Arity      int
	ParamNames []string
}

func (f *Function) Kind() value.Kind       { return value.KindFunction }
func (f *Function) Interface() interface{} { return f.Code }
func (f *Function) Truthy() bool           { return true }
func (f *Function) String() string         { return fmt.Sprintf("<function/%d>", f.Arity) }
