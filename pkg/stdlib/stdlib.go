// Package stdlib registers the globals and per-kind methods an embedder
// wires into a fresh vm.VM before running policy programs: List/Dict/
// String methods, the range() iterable, and the host-backed native
// function groups (HTTP, crypto, compression, file I/O, JSON, regex,
// random, date/time) policy authors call out to.
//
// each/map/filter on List are not native Go closures: they are written
// in the policy language itself and compiled at registration time, then
// attached to the method table as ordinary bytecode.Function values,
// exactly like any other user-defined function the compiler produces.
package stdlib

import (
	"github.com/pkg/errors"

	"github.com/kristofer/policyvm/pkg/compiler"
	"github.com/kristofer/policyvm/pkg/parser"
	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

// Register installs the full standard library surface into machine.
func Register(machine *vm.VM) error {
	if err := registerDSLListMethods(machine); err != nil {
		return err
	}
	registerListMethods(machine)
	registerStringMethods(machine)
	registerDictMethods(machine)
	registerGlobals(machine)
	registerCryptoNatives(machine)
	registerCompressionNatives(machine)
	registerJSONNatives(machine)
	registerRegexNatives(machine)
	registerRandomNatives(machine)
	registerDateNatives(machine)
	registerHTTPNatives(machine)
	registerFileNatives(machine)
	return nil
}

func native(name string, arity int, fn value.NativeCallable) *value.NativeFunction {
	return &value.NativeFunction{Name: name, Arity: arity, Fn: fn}
}

func variadicNative(name string, minArity int, fn value.NativeCallable) *value.NativeFunction {
	return &value.NativeFunction{Name: name, Arity: minArity, Variadic: true, Fn: fn}
}

func wantString(args []value.Value, i int, who string) (string, error) {
	s, ok := args[i].(value.String)
	if !ok {
		return "", errors.Errorf("%s: argument %d must be a string, got %s", who, i, args[i].Kind())
	}
	return string(s), nil
}

func wantInteger(args []value.Value, i int, who string) (int64, error) {
	n, ok := args[i].(value.Integer)
	if !ok {
		return 0, errors.Errorf("%s: argument %d must be an integer, got %s", who, i, args[i].Kind())
	}
	return int64(n), nil
}

// registerGlobals installs range and len.
func registerGlobals(machine *vm.VM) {
	machine.RegisterGlobal("range", native("range", 1, func(args []value.Value) (value.Value, error) {
		n, err := wantInteger(args, 0, "range")
		if err != nil {
			return nil, err
		}
		return newRangeForeign(n), nil
	}))

	machine.RegisterGlobal("len", native("len", 1, func(args []value.Value) (value.Value, error) {
		switch v := args[0].(type) {
		case value.String:
			return value.Integer(len([]rune(string(v)))), nil
		case *value.List:
			return value.Integer(len(v.Elements)), nil
		case *value.Dict:
			return value.Integer(v.Items.Len()), nil
		default:
			return nil, errors.Errorf("len: unsupported argument kind %s", args[0].Kind())
		}
	}))
}

// registerListMethods installs the natively implemented List methods:
// the DSL-authored each/map/filter are registered separately.
func registerListMethods(machine *vm.VM) {
	machine.RegisterMethod(value.KindList, "append", native("append", 2, func(args []value.Value) (value.Value, error) {
		l, ok := args[0].(*value.List)
		if !ok {
			return nil, errors.New("append: receiver is not a list")
		}
		l.Elements = append(l.Elements, args[1])
		return l, nil
	}))

	machine.RegisterMethod(value.KindList, "pop", native("pop", 1, func(args []value.Value) (value.Value, error) {
		l, ok := args[0].(*value.List)
		if !ok || len(l.Elements) == 0 {
			return value.Nil{}, nil
		}
		last := l.Elements[len(l.Elements)-1]
		l.Elements = l.Elements[:len(l.Elements)-1]
		return last, nil
	}))
}

// registerDictMethods installs Dict.keys().
func registerDictMethods(machine *vm.VM) {
	machine.RegisterMethod(value.KindDict, "keys", native("keys", 1, func(args []value.Value) (value.Value, error) {
		d, ok := args[0].(*value.Dict)
		if !ok {
			return nil, errors.New("keys: receiver is not a dict")
		}
		keys := make([]value.Value, 0, d.Items.Len())
		for pair := d.Items.Oldest(); pair != nil; pair = pair.Next() {
			keys = append(keys, value.String(pair.Key))
		}
		return value.NewList(keys), nil
	}))
}

// registerStringMethods installs String.fmt(...) (variadic; each "%s"
// is replaced positionally, other verbs are left as-is) and String.join.
func registerStringMethods(machine *vm.VM) {
	machine.RegisterMethod(value.KindString, "fmt", variadicNative("fmt", 1, func(args []value.Value) (value.Value, error) {
		s, ok := args[0].(value.String)
		if !ok {
			return nil, errors.New("fmt: receiver is not a string")
		}
		return value.String(formatTemplate(string(s), args[1:])), nil
	}))

	machine.RegisterMethod(value.KindString, "join", native("join", 2, func(args []value.Value) (value.Value, error) {
		s, ok := args[0].(value.String)
		if !ok {
			return nil, errors.New("join: receiver is not a string")
		}
		l, ok := args[1].(*value.List)
		if !ok {
			return nil, errors.New("join: argument must be a list")
		}
		parts := make([]string, len(l.Elements))
		for i, el := range l.Elements {
			parts[i] = el.String()
		}
		return value.String(joinStrings(parts, string(s))), nil
	}))
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// formatTemplate substitutes each bare "%s" occurrence in template with
// the stringified form of the next positional argument, left to right.
// Extra arguments are ignored; a missing one leaves the verb untouched.
func formatTemplate(template string, args []value.Value) string {
	out := make([]byte, 0, len(template))
	argIdx := 0
	for i := 0; i < len(template); i++ {
		if template[i] == '%' && i+1 < len(template) && template[i+1] == 's' {
			if argIdx < len(args) {
				out = append(out, args[argIdx].String()...)
				argIdx++
				i++
				continue
			}
		}
		out = append(out, template[i])
	}
	return string(out)
}

// RegisterDSLMethod compiles src (a complete policy-language program
// that defines funcName), pulls the resulting Function out of globals,
// attaches it to kind's method table under attachAs, and removes the
// transient global so it doesn't leak into user-visible scope.
func RegisterDSLMethod(machine *vm.VM, src, funcName, attachAs string, kind value.Kind) error {
	p := parser.New(src)
	program, err := p.Parse()
	if err != nil {
		return errors.Wrapf(err, "stdlib: compiling DSL method %s", funcName)
	}
	code, err := compiler.Compile(program)
	if err != nil {
		return errors.Wrapf(err, "stdlib: compiling DSL method %s", funcName)
	}
	if _, err := machine.Execute(code); err != nil {
		return errors.Wrapf(err, "stdlib: installing DSL method %s", funcName)
	}
	fn, ok := machine.Global(funcName)
	if !ok {
		return errors.Errorf("stdlib: DSL function %s not found after compilation", funcName)
	}
	machine.RegisterMethod(kind, attachAs, fn)
	machine.DeleteGlobal(funcName)
	return nil
}

// RegisterDSLForeignMethod is RegisterDSLMethod's counterpart for
// Foreign-backed receivers (the range() value attaches each/filter this
// way, per the original stdlib's registration for its range type).
func RegisterDSLForeignMethod(machine *vm.VM, src, funcName, attachAs, typeName string) error {
	p := parser.New(src)
	program, err := p.Parse()
	if err != nil {
		return errors.Wrapf(err, "stdlib: compiling DSL method %s", funcName)
	}
	code, err := compiler.Compile(program)
	if err != nil {
		return errors.Wrapf(err, "stdlib: compiling DSL method %s", funcName)
	}
	if _, err := machine.Execute(code); err != nil {
		return errors.Wrapf(err, "stdlib: installing DSL method %s", funcName)
	}
	fn, ok := machine.Global(funcName)
	if !ok {
		return errors.Errorf("stdlib: DSL function %s not found after compilation", funcName)
	}
	machine.RegisterForeignMethod(typeName, attachAs, fn)
	machine.DeleteGlobal(funcName)
	return nil
}

const listEachSource = `
def __list_each(l, f)
    for x in l
        f(x)
    end
end
`

const listMapSource = `
def __list_map(l, f)
    ret = []
    for x in l
        z = f(x)
        ret.append(z)
    end
    return ret
end
`

const listFilterSource = `
def __list_filter(l, f)
    ret = []
    for x in l
        cond = f(x)
        if cond:
            ret.append(x)
        end
    end
    return ret
end
`

// registerDSLListMethods compiles and attaches each/map/filter to List,
// and each/filter (but not map) to the range() Foreign type, matching
// the original stdlib's asymmetric attachment.
func registerDSLListMethods(machine *vm.VM) error {
	if err := RegisterDSLMethod(machine, listEachSource, "__list_each", "each", value.KindList); err != nil {
		return err
	}
	if err := RegisterDSLMethod(machine, listMapSource, "__list_map", "map", value.KindList); err != nil {
		return err
	}
	if err := RegisterDSLMethod(machine, listFilterSource, "__list_filter", "filter", value.KindList); err != nil {
		return err
	}
	if err := RegisterDSLForeignMethod(machine, listEachSource, "__list_each", "each", rangeForeignTypeName()); err != nil {
		return err
	}
	if err := RegisterDSLForeignMethod(machine, listFilterSource, "__list_filter", "filter", rangeForeignTypeName()); err != nil {
		return err
	}
	return nil
}
