// Command policyvm compiles and runs policy-language programs: parse,
// compile to bytecode, execute, optionally persisting or loading the
// compiled form as a PPBC file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kristofer/policyvm/pkg/bytecode"
	"github.com/kristofer/policyvm/pkg/compiler"
	"github.com/kristofer/policyvm/pkg/parser"
	"github.com/kristofer/policyvm/pkg/serial"
	"github.com/kristofer/policyvm/pkg/stdlib"
	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

func main() {
	var (
		astOnly  bool
		bcOnly   bool
		trace    bool
		savePath string
		load     bool
	)
	flag.BoolVar(&astOnly, "a", false, "print the parsed tree and exit")
	flag.BoolVar(&astOnly, "ast", false, "print the parsed tree and exit")
	flag.BoolVar(&bcOnly, "b", false, "print disassembled bytecode and exit")
	flag.BoolVar(&bcOnly, "bytecode", false, "print disassembled bytecode and exit")
	flag.BoolVar(&trace, "trace", false, "install the default trace hook before running")
	flag.StringVar(&savePath, "save", "", "serialize compiled bytecode to this PPBC file before executing")
	flag.BoolVar(&load, "load", false, "treat the input file as a PPBC bytecode file")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: policyvm [flags] <file>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	filename := flag.Arg(0)

	var code bytecode.Code
	if load {
		blob, err := os.ReadFile(filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
			os.Exit(1)
		}
		code, err = serial.Deserialize(blob)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading bytecode: %v\n", err)
			os.Exit(1)
		}
	} else {
		src, err := os.ReadFile(filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
			os.Exit(1)
		}

		p := parser.New(string(src))
		program, err := p.Parse()
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
			os.Exit(1)
		}
		if astOnly {
			fmt.Println(dumpProgram(program))
			return
		}

		code, err = compiler.Compile(program)
		if err != nil {
			fmt.Fprintf(os.Stderr, "compile error: %v\n", err)
			os.Exit(1)
		}
	}

	if bcOnly {
		fmt.Print(bytecode.Disassemble(code))
		return
	}

	if savePath != "" {
		blob, err := serial.Serialize(code, map[string]interface{}{"source": filename})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error serializing bytecode: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(savePath, blob, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "error writing bytecode: %v\n", err)
			os.Exit(1)
		}
	}

	machine := vm.New()
	if err := stdlib.Register(machine); err != nil {
		fmt.Fprintf(os.Stderr, "error installing standard library: %v\n", err)
		os.Exit(2)
	}
	if trace {
		machine.SetTraceHook(defaultTracer)
	}

	result, err := machine.Execute(code)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runtime error: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("policy return: %s\n", result.String())
}

// defaultTracer prints one line per instruction dispatched: program
// counter, opcode, argument, and a snapshot of the operand stack.
func defaultTracer(pc int, op bytecode.Opcode, arg value.Value, stack []value.Value) {
	argStr := ""
	if arg != nil && arg.Kind() != value.KindNil {
		argStr = " " + arg.String()
	}
	fmt.Fprintf(os.Stderr, "[pc=%d] %s%s | stack=%s\n", pc, op, argStr, stackString(stack))
}

func stackString(stack []value.Value) string {
	out := "["
	for i, v := range stack {
		if i > 0 {
			out += ", "
		}
		out += v.String()
	}
	return out + "]"
}
