package bytecode

import (
	"fmt"
	"strings"

	"github.com/kristofer/policyvm/pkg/value"
)

// Disassemble renders a Code stream as human-readable text, one
// instruction per line, annotating relative jumps with their absolute
// target.
func Disassemble(code Code) string {
	var b strings.Builder
	for i, inst := range code {
		b.WriteString(fmt.Sprintf("%04d: %-14s", i, inst.Op.String()))
		if arg := argString(inst.Arg); arg != "" {
			b.WriteString(" " + arg)
		}
		if target := jumpTarget(i, inst, len(code)); target != "" {
			b.WriteString(target)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func argString(arg value.Value) string {
	switch v := arg.(type) {
	case nil:
		return ""
	case value.Nil:
		return ""
	case value.Integer:
		return fmt.Sprintf("%d", int64(v))
	case value.String:
		return fmt.Sprintf("%q", string(v))
	case value.Bool:
		return fmt.Sprintf("%t", bool(v))
	case *Function:
		return fmt.Sprintf("<function/%d>", v.Arity)
	default:
		return fmt.Sprintf("%v", arg)
	}
}

func jumpTarget(idx int, inst Instruction, codeLen int) string {
	off, ok := inst.Arg.(value.Integer)
	if !ok {
		return ""
	}
	switch inst.Op {
	case OpJump, OpJumpIfTrue, OpJumpIfFalse:
		target := idx + int(off)
		if target >= 0 && target <= codeLen {
			return fmt.Sprintf(" -> @%d", target)
		}
		return fmt.Sprintf(" -> @%d (out-of-range)", target)
	}
	return ""
}
