package vm

import (
	"testing"

	"github.com/kristofer/policyvm/pkg/bytecode"
	"github.com/kristofer/policyvm/pkg/compiler"
	"github.com/kristofer/policyvm/pkg/parser"
	"github.com/kristofer/policyvm/pkg/value"
)

func mustCompile(t *testing.T, src string) bytecode.Code {
	t.Helper()
	p := parser.New(src)
	program, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error for %q: %v", src, err)
	}
	code, err := compiler.Compile(program)
	if err != nil {
		t.Fatalf("compile error for %q: %v", src, err)
	}
	return code
}

func TestExecuteSimpleArithmetic(t *testing.T) {
	machine := New()
	result, err := machine.Execute(mustCompile(t, `return 2 + 3 * 4`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != value.Integer(14) {
		t.Fatalf("want 14, got %v", result)
	}
}

func TestExecuteForLoopLeavesStackEmpty(t *testing.T) {
	machine := New()
	src := `
total = 0
for i in [1, 2, 3]:
    total = total + i
end
total = 0
for j in [4, 5]:
    total = total + j
end
`
	_, err := machine.Execute(mustCompile(t, src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(machine.stack) != 0 {
		t.Fatalf("want empty operand stack after two consecutive for-loops, got %d leftover values: %v", len(machine.stack), machine.stack)
	}
}

func TestExecuteForLoopOverDict(t *testing.T) {
	machine := New()
	src := `
keys = []
for k in {a: 1, b: 2}:
    keys.append(k)
end
return keys[0]
`
	code := mustCompile(t, src)
	machine.RegisterMethod(value.KindList, "append", &value.NativeFunction{
		Name: "append", Arity: 2, Fn: func(args []value.Value) (value.Value, error) {
			l := args[0].(*value.List)
			l.Elements = append(l.Elements, args[1])
			return l, nil
		},
	})
	result, err := machine.Execute(code)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != value.String("a") {
		t.Fatalf("want first dict key \"a\" in insertion order, got %v", result)
	}
}

func TestCallFnArityMismatchIsFatal(t *testing.T) {
	machine := New()
	src := `
def add(x, y) return x + y end
return add(1)
`
	_, err := machine.Execute(mustCompile(t, src))
	if err == nil {
		t.Fatal("want a fatal error for an arity mismatch")
	}
	if _, ok := err.(*RuntimeError); !ok {
		t.Fatalf("want *RuntimeError, got %T", err)
	}
}

func TestCallingNonCallableIsFatal(t *testing.T) {
	machine := New()
	_, err := machine.Execute(mustCompile(t, `x = 5
return x(1)`))
	if err == nil {
		t.Fatal("want a fatal error calling a non-callable")
	}
}

func TestIndexOutOfRangeSoftFailsToNil(t *testing.T) {
	machine := New()
	result, err := machine.Execute(mustCompile(t, `xs = [1,2]
return xs[99]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != value.KindNil {
		t.Fatalf("want Nil for an out-of-range index, got %v", result)
	}
}

func TestGetAttrMissSoftFailsToNil(t *testing.T) {
	machine := New()
	result, err := machine.Execute(mustCompile(t, `x = 5
return x.nonexistent`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != value.KindNil {
		t.Fatalf("want Nil for a missing attribute, got %v", result)
	}
}

func TestMethodTableDispatchProducesBoundMethod(t *testing.T) {
	machine := New()
	machine.RegisterMethod(value.KindInteger, "double", &value.NativeFunction{
		Name: "double", Arity: 1, Fn: func(args []value.Value) (value.Value, error) {
			n := args[0].(value.Integer)
			return n * 2, nil
		},
	})
	result, err := machine.Execute(mustCompile(t, `x = 5
return x.double()`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != value.Integer(10) {
		t.Fatalf("want 10, got %v", result)
	}
}

func TestArithTypeMismatchSoftFailsToNil(t *testing.T) {
	machine := New()
	result, err := machine.Execute(mustCompile(t, `return "x" - 1`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != value.KindNil {
		t.Fatalf("want Nil for a type-mismatched subtraction, got %v", result)
	}
}

func TestMembershipOverUnsupportedOperandIsFalse(t *testing.T) {
	machine := New()
	result, err := machine.Execute(mustCompile(t, `return 1 in 2`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != value.Bool(false) {
		t.Fatalf("want false for membership over an unsupported operand, got %v", result)
	}
}

func TestGlobalAndDeleteGlobalRoundTrip(t *testing.T) {
	machine := New()
	machine.RegisterGlobal("seeded", value.Integer(7))
	v, ok := machine.Global("seeded")
	if !ok || v != value.Integer(7) {
		t.Fatalf("want seeded global 7, got %v, %v", v, ok)
	}
	machine.DeleteGlobal("seeded")
	if _, ok := machine.Global("seeded"); ok {
		t.Fatal("want seeded global removed after DeleteGlobal")
	}
}
