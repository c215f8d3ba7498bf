// Package vm implements the bytecode virtual machine: a stack-based
// interpreter with a value model, a call/return discipline built on
// activation frames, an iterator protocol, indexed and attribute
// access, and bound-method dispatch driven by a per-type method table.
//
// Virtual Machine Architecture:
//
//	source text -> lexer -> parser -> ast -> compiler -> bytecode -> VM -> result value
//
// The VM owns a single operand stack shared across nested calls (a
// CALL_FN into a Function pushes an activation frame but keeps using
// the same underlying stack slice), a LIFO stack of activation frames
// for locals, a globals map, and a method table keyed by value kind
// (plus a secondary table keyed by Foreign host-type name).
//
// Error Handling:
//
// Two error classes, matching the design's error-handling split:
//   - Fatal RuntimeErrors: arity mismatch, calling a non-callable,
//     executing SET_ATTR. These abort execution with a diagnostic and a
//     stack trace.
//   - Soft failures: attribute/index miss, failed host coercion,
//     membership tests over unsupported operands. These degrade to Nil
//     (lookups) or false (`in`) rather than aborting, so policy programs
//     stay robust against shape variation in their input data.
package vm

import (
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/kristofer/policyvm/pkg/bytecode"
	"github.com/kristofer/policyvm/pkg/value"
	"github.com/pkg/errors"
)

// TraceHook is invoked before every instruction dispatch with the
// program counter, the opcode and its argument, and a snapshot of the
// operand stack at that point.
type TraceHook func(pc int, op bytecode.Opcode, arg value.Value, stack []value.Value)

// frame is one activation record: a mapping from local name to value.
type frame map[string]value.Value

// VM is one interpreter instance. Globals, the method table, the
// operand stack, and the frame stack are all owned exclusively by it;
// multiple VMs may run concurrently in separate goroutines provided
// they don't share these.
type VM struct {
	stack   []value.Value
	frames  []frame
	globals map[string]value.Value

	methods        map[value.Kind]map[string]value.Value
	foreignMethods map[string]map[string]value.Value

	trace  TraceHook
	Stdout io.Writer
}

// New creates an interpreter instance with empty globals and an empty
// method table, ready for an embedder to register globals, natives, and
// methods before executing any code.
func New() *VM {
	return &VM{
		globals:        make(map[string]value.Value),
		methods:        make(map[value.Kind]map[string]value.Value),
		foreignMethods: make(map[string]map[string]value.Value),
		Stdout:         os.Stdout,
	}
}

// RegisterGlobal binds name to val in the globals map (embedding API).
func (vm *VM) RegisterGlobal(name string, val value.Value) {
	vm.globals[name] = val
}

// RegisterMethod installs a method under the given value kind's method
// table entry. fn is ordinarily a *value.NativeFunction or a
// *bytecode.Function (for DSL-authored methods).
func (vm *VM) RegisterMethod(kind value.Kind, name string, fn value.Value) {
	if vm.methods[kind] == nil {
		vm.methods[kind] = make(map[string]value.Value)
	}
	vm.methods[kind][name] = fn
}

// RegisterForeignMethod installs a method under a Foreign host type name.
func (vm *VM) RegisterForeignMethod(typeName, name string, fn value.Value) {
	if vm.foreignMethods[typeName] == nil {
		vm.foreignMethods[typeName] = make(map[string]value.Value)
	}
	vm.foreignMethods[typeName][name] = fn
}

// Global returns the current binding of a global name, for embedders
// that need to pull a value back out after running setup code (notably
// pkg/stdlib's DSL-authored method registration).
func (vm *VM) Global(name string) (value.Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// DeleteGlobal removes a global binding entirely.
func (vm *VM) DeleteGlobal(name string) {
	delete(vm.globals, name)
}

// SetTraceHook installs (or clears, with nil) the per-instruction trace
// callback.
func (vm *VM) SetTraceHook(hook TraceHook) {
	vm.trace = hook
}

// Execute runs a top-level instruction stream to completion and returns
// its result value. Falling off the end of code (no RETURN reached)
// yields Nil.
func (vm *VM) Execute(code bytecode.Code) (value.Value, error) {
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	return vm.run(code)
}

func (vm *VM) push(v value.Value) {
	vm.stack = append(vm.stack, v)
}

// pop returns Nil for an empty stack rather than failing: well-formed
// compiled code never underflows, and degrading gracefully here keeps a
// single malformed instruction from crashing the whole policy run.
func (vm *VM) pop() value.Value {
	if len(vm.stack) == 0 {
		return value.Nil{}
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) curFrame() frame {
	if len(vm.frames) == 0 {
		return nil
	}
	return vm.frames[len(vm.frames)-1]
}

// run executes one instruction stream (top-level code or a function
// body) against the VM's shared operand stack, starting a fresh pc at 0.
func (vm *VM) run(code bytecode.Code) (value.Value, error) {
	pc := 0
	for pc < len(code) {
		inst := code[pc]
		if vm.trace != nil {
			vm.trace(pc, inst.Op, inst.Arg, append([]value.Value(nil), vm.stack...))
		}

		next := pc + 1
		var err error

		switch inst.Op {
		case bytecode.OpPush:
			vm.push(inst.Arg)
		case bytecode.OpPop:
			vm.pop()
		case bytecode.OpStore:
			vm.globals[argString(inst.Arg)] = vm.pop()
		case bytecode.OpPushGlobal:
			name := argString(inst.Arg)
			if v, ok := vm.globals[name]; ok {
				vm.push(v)
			} else {
				vm.push(value.Nil{})
			}
		case bytecode.OpStoreLocal:
			f := vm.curFrame()
			if f != nil {
				f[argString(inst.Arg)] = vm.pop()
			} else {
				vm.pop()
			}
		case bytecode.OpPushLocal:
			f := vm.curFrame()
			if f != nil {
				if v, ok := f[argString(inst.Arg)]; ok {
					vm.push(v)
					break
				}
			}
			vm.push(value.Nil{})
		case bytecode.OpMakeList:
			vm.push(vm.makeList(int(mustInt(inst.Arg))))
		case bytecode.OpMakeDict:
			vm.push(vm.makeDict(int(mustInt(inst.Arg))))
		case bytecode.OpIndex:
			key := vm.pop()
			container := vm.pop()
			vm.push(vm.index(container, key))
		case bytecode.OpSetIndex:
			val := vm.pop()
			key := vm.pop()
			container := vm.pop()
			vm.setIndex(container, key, val)
		case bytecode.OpGetAttr:
			recv := vm.pop()
			vm.push(vm.getattr(recv, argString(inst.Arg)))
		case bytecode.OpSetAttr:
			return nil, vm.fatal(code, pc, "SET_ATTR is unreachable from surface syntax and unsupported at runtime")
		case bytecode.OpCallFn:
			n := int(mustInt(inst.Arg))
			args := make([]value.Value, n)
			for i := n - 1; i >= 0; i-- {
				args[i] = vm.pop()
			}
			callee := vm.pop()
			result, callErr := vm.callValue(callee, args)
			if callErr != nil {
				return nil, vm.wrapFatal(code, pc, callErr)
			}
			vm.push(result)
		case bytecode.OpReturn:
			return vm.pop(), nil
		case bytecode.OpBinAdd, bytecode.OpBinSub, bytecode.OpBinMul, bytecode.OpBinDiv, bytecode.OpBinMod:
			b := vm.pop()
			a := vm.pop()
			vm.push(vm.arith(inst.Op, a, b))
		case bytecode.OpEq:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case bytecode.OpNeq:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(!value.Equal(a, b)))
		case bytecode.OpGt, bytecode.OpLt, bytecode.OpGte, bytecode.OpLte:
			b := vm.pop()
			a := vm.pop()
			vm.push(vm.compare(inst.Op, a, b))
		case bytecode.OpBinIn:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(vm.memberOf(a, b)))
		case bytecode.OpNot:
			a := vm.pop()
			vm.push(value.Bool(!a.Truthy()))
		case bytecode.OpJump:
			next = pc + int(mustInt(inst.Arg))
		case bytecode.OpJumpIfTrue:
			if vm.pop().Truthy() {
				next = pc + int(mustInt(inst.Arg))
			}
		case bytecode.OpJumpIfFalse:
			if !vm.pop().Truthy() {
				next = pc + int(mustInt(inst.Arg))
			}
		case bytecode.OpIterInit:
			vm.push(vm.iterInit(vm.pop()))
		case bytecode.OpIterNext:
			vm.iterNext()
		case bytecode.OpPrint:
			fmt.Fprintln(vm.Stdout, vm.pop().String())
		default:
			return nil, vm.fatal(code, pc, fmt.Sprintf("unhandled opcode %s", inst.Op))
		}

		if err != nil {
			return nil, err
		}
		pc = next
	}
	return value.Nil{}, nil
}

func argString(v value.Value) string {
	if s, ok := v.(value.String); ok {
		return string(s)
	}
	return v.String()
}

func mustInt(v value.Value) int64 {
	if i, ok := v.(value.Integer); ok {
		return int64(i)
	}
	return 0
}

func (vm *VM) fatal(code bytecode.Code, pc int, message string) error {
	return newRuntimeError(message, []StackFrame{{Name: frameName(vm), PC: pc, Op: code[pc].Op.String()}})
}

func (vm *VM) wrapFatal(code bytecode.Code, pc int, err error) error {
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		rerr.StackTrace = append(rerr.StackTrace, StackFrame{Name: frameName(vm), PC: pc, Op: code[pc].Op.String()})
		return rerr
	}
	return newRuntimeError(err.Error(), []StackFrame{{Name: frameName(vm), PC: pc, Op: code[pc].Op.String()}})
}

func frameName(vm *VM) string {
	if len(vm.frames) == 0 {
		return "<toplevel>"
	}
	return "<function>"
}

func (vm *VM) makeList(n int) *value.List {
	vals := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		vals[i] = vm.pop()
	}
	return value.NewList(vals)
}

func (vm *VM) makeDict(n int) *value.Dict {
	type pair struct {
		key value.Value
		val value.Value
	}
	pairs := make([]pair, n)
	for i := n - 1; i >= 0; i-- {
		val := vm.pop()
		key := vm.pop()
		pairs[i] = pair{key, val}
	}
	d := value.NewDict()
	for _, p := range pairs {
		d.Set(argString(p.key), p.val)
	}
	return d
}

func (vm *VM) index(container, key value.Value) value.Value {
	switch c := container.(type) {
	case *value.List:
		i, ok := key.(value.Integer)
		if !ok || int(i) < 0 || int(i) >= len(c.Elements) {
			return value.Nil{}
		}
		return c.Elements[i]
	case *value.Dict:
		return c.Get(argString(key))
	case value.String:
		i, ok := key.(value.Integer)
		runes := []rune(string(c))
		if !ok || int(i) < 0 || int(i) >= len(runes) {
			return value.Nil{}
		}
		return value.String(string(runes[i]))
	default:
		return value.Nil{}
	}
}

func (vm *VM) setIndex(container, key, val value.Value) {
	switch c := container.(type) {
	case *value.List:
		i, ok := key.(value.Integer)
		if ok && int(i) >= 0 && int(i) < len(c.Elements) {
			c.Elements[i] = val
		}
	case *value.Dict:
		c.Set(argString(key), val)
	}
}

// getattr implements method-table-first attribute resolution: a method
// match produces a BoundMethod; otherwise a best-effort host attribute
// read on a Foreign payload is attempted; any miss yields Nil.
func (vm *VM) getattr(recv value.Value, name string) value.Value {
	if methods, ok := vm.methods[recv.Kind()]; ok {
		if fn, ok := methods[name]; ok {
			return &value.BoundMethod{Callable: fn, Receiver: recv}
		}
	}
	if f, ok := recv.(*value.Foreign); ok {
		if methods, ok := vm.foreignMethods[f.TypeName]; ok {
			if fn, ok := methods[name]; ok {
				return &value.BoundMethod{Callable: fn, Receiver: recv}
			}
		}
		if v, ok := hostAttr(f.Obj, name); ok {
			return v
		}
	}
	return value.Nil{}
}

// hostAttr reflects an exported field named (capitalized) name off a
// Foreign's host object, lifting it into the value universe.
func hostAttr(obj interface{}, name string) (value.Value, bool) {
	if obj == nil || name == "" {
		return nil, false
	}
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	field := rv.FieldByNameFunc(func(n string) bool {
		return len(n) > 0 && len(name) > 0 && (n == name || (toUpperFirst(n) == toUpperFirst(name)))
	})
	if !field.IsValid() || !field.CanInterface() {
		return nil, false
	}
	return value.Lift(field.Interface()), true
}

func toUpperFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// callValue implements the CALL_FN protocol for all three callable
// kinds: Function (push a frame, run the body), NativeFunction (invoke
// the host callable directly), and BoundMethod (prepend the receiver
// and recurse).
func (vm *VM) callValue(callee value.Value, args []value.Value) (value.Value, error) {
	switch c := callee.(type) {
	case *bytecode.Function:
		if c.Arity != len(args) {
			return nil, fmt.Errorf("arity mismatch: function wants %d args, got %d", c.Arity, len(args))
		}
		f := make(frame, len(c.ParamNames))
		for i, name := range c.ParamNames {
			f[name] = args[i]
		}
		vm.frames = append(vm.frames, f)
		result, err := vm.run(c.Code)
		vm.frames = vm.frames[:len(vm.frames)-1]
		return result, err
	case *value.NativeFunction:
		if c.Variadic {
			if len(args) < c.Arity {
				return nil, fmt.Errorf("arity mismatch: %s wants at least %d args, got %d", c.Name, c.Arity, len(args))
			}
		} else if c.Arity != len(args) {
			return nil, fmt.Errorf("arity mismatch: %s wants %d args, got %d", c.Name, c.Arity, len(args))
		}
		result, err := c.Fn(args)
		if err != nil {
			return nil, errors.Wrapf(err, "native function %s", c.Name)
		}
		return result, nil
	case *value.BoundMethod:
		full := make([]value.Value, 0, len(args)+1)
		full = append(full, c.Receiver)
		full = append(full, args...)
		return vm.callValue(c.Callable, full)
	default:
		return nil, fmt.Errorf("cannot call non-callable value of kind %s", callee.Kind())
	}
}

func (vm *VM) arith(op bytecode.Opcode, a, b value.Value) value.Value {
	if op == bytecode.OpBinAdd {
		if as, ok := a.(value.String); ok {
			if bs, ok := b.(value.String); ok {
				return value.String(string(as) + string(bs))
			}
		}
	}
	ai, aok := a.(value.Integer)
	bi, bok := b.(value.Integer)
	if !aok || !bok {
		return value.Nil{}
	}
	switch op {
	case bytecode.OpBinAdd:
		return ai + bi
	case bytecode.OpBinSub:
		return ai - bi
	case bytecode.OpBinMul:
		return ai * bi
	case bytecode.OpBinDiv:
		if bi == 0 {
			return value.Nil{}
		}
		return ai / bi // truncates toward zero, Go's native int64 division
	case bytecode.OpBinMod:
		if bi == 0 {
			return value.Nil{}
		}
		return ai % bi
	default:
		return value.Nil{}
	}
}

func (vm *VM) compare(op bytecode.Opcode, a, b value.Value) value.Value {
	var cmp int
	switch av := a.(type) {
	case value.Integer:
		bv, ok := toInt(b)
		if !ok {
			return value.Bool(false)
		}
		cmp = cmpInt(int64(av), bv)
	case value.String:
		bv, ok := b.(value.String)
		if !ok {
			return value.Bool(false)
		}
		cmp = cmpInt(int64(stringCompare(string(av), string(bv))), 0)
	case value.Bool:
		bv, ok := toInt(b)
		if !ok {
			return value.Bool(false)
		}
		cmp = cmpInt(boolToInt(bool(av)), bv)
	default:
		return value.Bool(false)
	}
	switch op {
	case bytecode.OpGt:
		return value.Bool(cmp > 0)
	case bytecode.OpLt:
		return value.Bool(cmp < 0)
	case bytecode.OpGte:
		return value.Bool(cmp >= 0)
	case bytecode.OpLte:
		return value.Bool(cmp <= 0)
	default:
		return value.Bool(false)
	}
}

func toInt(v value.Value) (int64, bool) {
	switch n := v.(type) {
	case value.Integer:
		return int64(n), true
	case value.Bool:
		return boolToInt(bool(n)), true
	default:
		return 0, false
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func stringCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// memberOf implements `lhs in rhs` over List, Dict, and String. Any
// other receiver is a soft failure: false, never fatal.
func (vm *VM) memberOf(lhs, rhs value.Value) bool {
	switch c := rhs.(type) {
	case *value.List:
		for _, el := range c.Elements {
			if value.Equal(lhs, el) {
				return true
			}
		}
		return false
	case *value.Dict:
		_, ok := c.Items.Get(argString(lhs))
		return ok
	case value.String:
		s, ok := lhs.(value.String)
		if !ok {
			return false
		}
		return containsSubstring(string(c), string(s))
	default:
		return false
	}
}

func containsSubstring(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
