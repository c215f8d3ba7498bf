// Package vm - error handling with stack traces
package vm

import (
	"fmt"
	"strings"
)

// StackFrame captures one in-flight call for diagnostic purposes: which
// function was running and where, at the moment a fatal error fired.
type StackFrame struct {
	Name string // "<toplevel>" for the outermost frame, "<function>" inside any call
	PC   int    // instruction pointer within that frame's code
	Op   string // opcode mnemonic executing when the error occurred
}

// RuntimeError is a fatal runtime error (arity mismatch, unhandled
// opcode, calling a non-callable, executing SET_ATTR): the kinds the
// language design marks as terminating execution with a diagnostic
// rather than degrading to Nil/false.
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
}

// Error implements the error interface, rendering the message followed
// by the call stack at the point of failure, outermost frame first
// (StackTrace itself is ordered innermost first).
func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.StackTrace) > 0 {
		b.WriteString("\n\nstack trace:")
		for i := len(e.StackTrace) - 1; i >= 0; i-- {
			f := e.StackTrace[i]
			b.WriteString(fmt.Sprintf("\n  at %s [pc=%d op=%s]", f.Name, f.PC, f.Op))
		}
	}
	return b.String()
}

func newRuntimeError(message string, stack []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, StackTrace: stack}
}
