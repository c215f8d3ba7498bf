package test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/policyvm/pkg/bytecode"
	"github.com/kristofer/policyvm/pkg/compiler"
	"github.com/kristofer/policyvm/pkg/parser"
	"github.com/kristofer/policyvm/pkg/serial"
	"github.com/kristofer/policyvm/pkg/stdlib"
	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

// compileSource runs the full lex/parse/compile pipeline, failing the
// test immediately on any error.
func compileSource(t *testing.T, src string) bytecode.Code {
	t.Helper()
	p := parser.New(src)
	program, err := p.Parse()
	require.NoError(t, err, "parse")
	code, err := compiler.Compile(program)
	require.NoError(t, err, "compile")
	return code
}

func newMachine(t *testing.T) *vm.VM {
	t.Helper()
	machine := vm.New()
	require.NoError(t, stdlib.Register(machine))
	return machine
}

func TestScenarioArithmeticPrecedence(t *testing.T) {
	code := compileSource(t, `return (1 + 2) * 3`)
	machine := newMachine(t)
	result, err := machine.Execute(code)
	require.NoError(t, err)
	assert.Equal(t, value.Integer(9), result)
}

func TestScenarioShortCircuitAndMembership(t *testing.T) {
	code := compileSource(t, `return 2 in [1,2,3] and (3 <= 3) and (4 > 1)`)
	machine := newMachine(t)
	result, err := machine.Execute(code)
	require.NoError(t, err)
	assert.Equal(t, value.Bool(true), result)
}

func TestScenarioBranchingGreeting(t *testing.T) {
	src := `
def greet(x)
    if x == "root":
        print "greetings, allmighty root"
    elif x == "admin":
        print "hi there, mr admin"
    else
        print "hello, humble user"
    end
end
greet("user")
greet("root")
greet("admin")
`
	code := compileSource(t, src)
	machine := newMachine(t)
	var out bytes.Buffer
	machine.Stdout = &out
	_, err := machine.Execute(code)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "hello, humble user", lines[0])
	assert.Equal(t, "greetings, allmighty root", lines[1])
	assert.Equal(t, "hi there, mr admin", lines[2])
}

func TestScenarioListIndexAssignment(t *testing.T) {
	code := compileSource(t, `xs = [0,1,2]
xs[1] := 99
return xs[1]`)
	machine := newMachine(t)
	result, err := machine.Execute(code)
	require.NoError(t, err)
	assert.Equal(t, value.Integer(99), result)
}

func TestScenarioNestedDictAssignment(t *testing.T) {
	code := compileSource(t, `u = {team: {lead: "bob"}}
u["team"]["lead"] := "alice"
return u["team"]["lead"]`)
	machine := newMachine(t)
	result, err := machine.Execute(code)
	require.NoError(t, err)
	assert.Equal(t, value.String("alice"), result)
}

func TestScenarioRangeLoopAndAppend(t *testing.T) {
	src := `
def add(x,y) return x+y end
xs = []
for i in range(3):
    xs.append(add(i,10))
end
return xs[1]
`
	code := compileSource(t, src)
	machine := newMachine(t)
	result, err := machine.Execute(code)
	require.NoError(t, err)
	assert.Equal(t, value.Integer(11), result)
}

func TestScenarioReturnedLambdaNoClosure(t *testing.T) {
	src := `
def mk() return (x,n) => x + n end
f = mk()
return f(41, 1)
`
	code := compileSource(t, src)
	machine := newMachine(t)
	result, err := machine.Execute(code)
	require.NoError(t, err)
	assert.Equal(t, value.Integer(42), result)
}

func TestScenarioSerializationRoundTrip(t *testing.T) {
	src := `
def add(x,y) return x+y end
xs = []
for i in range(3):
    xs.append(add(i,10))
end
return xs[1]
`
	code := compileSource(t, src)

	blob, err := serial.Serialize(code, nil)
	require.NoError(t, err)
	decoded, err := serial.Deserialize(blob)
	require.NoError(t, err)

	m1 := newMachine(t)
	want, err := m1.Execute(code)
	require.NoError(t, err)

	m2 := newMachine(t)
	got, err := m2.Execute(decoded)
	require.NoError(t, err)

	assert.True(t, value.Equal(want, got))
}

// TestBackToBackProgramsOnOneMachine runs several complete top-level
// programs in turn on the same VM and checks each one executes without
// error. The operand stack is unexported, so its emptiness is asserted
// by the whitebox TestExecuteForLoopLeavesStackEmpty in pkg/vm instead.
func TestBackToBackProgramsOnOneMachine(t *testing.T) {
	machine := newMachine(t)
	programs := []string{
		`1 + 1`,
		`x = 5`,
		`print "hi"`,
		`if true: 1 else 2 end`,
	}
	for _, src := range programs {
		code := compileSource(t, src)
		_, err := machine.Execute(code)
		require.NoError(t, err)
	}
}

func TestCrossKindEquality(t *testing.T) {
	assert.True(t, value.Equal(value.Integer(1), value.Bool(true)))
	assert.False(t, value.Equal(value.Integer(0), value.Bool(true)))
}

func TestIntegerDivisionTruncatesTowardZero(t *testing.T) {
	// -7 / 2 is -3 under truncation-toward-zero and -4 under floor
	// division; the VM is specified to truncate toward zero.
	code := compileSource(t, `return -7 / 2`)
	machine := newMachine(t)
	result, err := machine.Execute(code)
	require.NoError(t, err)
	assert.Equal(t, value.Integer(-3), result)
}
