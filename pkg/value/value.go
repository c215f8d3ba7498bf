// Package value defines the tagged-value universe the policy virtual
// machine manipulates.
//
// A Value is one of ten variants: Nil, Bool, Integer, String, List, Dict,
// Function, NativeFunction, BoundMethod, and Foreign. Every stack slot,
// every local and global binding, and every instruction argument in
// pkg/bytecode holds a Value.
//
// Design:
//
// Rather than a single struct with a discriminant field and a handful of
// unused payload fields, each variant is its own Go type implementing the
// Value interface. This mirrors the tagged-variant hierarchy a tree-walk
// interpreter built around an abstract base class would use, generalized
// to Go: type switches over concrete Value implementations replace
// isinstance checks.
//
// List and Dict are reference types: two Values holding the same *List (or
// *Dict) observe each other's mutations, matching the "mutable, shared
// ownership" invariant of the value model.
package value

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind identifies which of the ten value-model variants a Value holds.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInteger
	KindString
	KindList
	KindDict
	KindFunction
	KindNativeFunction
	KindBoundMethod
	KindForeign
)

// String returns a human-readable name for a Kind, used in diagnostics
// and disassembly.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	case KindFunction:
		return "function"
	case KindNativeFunction:
		return "native_function"
	case KindBoundMethod:
		return "bound_method"
	case KindForeign:
		return "foreign"
	default:
		return "unknown"
	}
}

// Value is the universal type every VM stack slot, frame binding, global
// binding, and instruction argument holds.
type Value interface {
	// Kind reports which variant this Value is.
	Kind() Kind
	// Interface returns the underlying Go payload (for natives, printing,
	// and host interop). It is NOT a deep copy: mutating a returned List
	// or Dict mutates the Value itself.
	Interface() interface{}
	// Truthy is the total boolean projection used by conditional jumps.
	Truthy() bool
	// String renders the value the way PRINT and diagnostics do.
	String() string
}

// Nil is the absent/default value.
type Nil struct{}

func (Nil) Kind() Kind             { return KindNil }
func (Nil) Interface() interface{} { return nil }
func (Nil) Truthy() bool           { return false }
func (Nil) String() string         { return "nil" }

// Bool wraps a boolean.
type Bool bool

func (b Bool) Kind() Kind             { return KindBool }
func (b Bool) Interface() interface{} { return bool(b) }
func (b Bool) Truthy() bool           { return bool(b) }
func (b Bool) String() string         { return fmt.Sprintf("%t", bool(b)) }

// Integer wraps a signed 64-bit integer.
//
// Division truncates toward zero (Go's native integer division
// semantics), fixing the open question the language design leaves to implementers.
type Integer int64

func (i Integer) Kind() Kind             { return KindInteger }
func (i Integer) Interface() interface{} { return int64(i) }
func (i Integer) Truthy() bool           { return i != 0 }
func (i Integer) String() string         { return fmt.Sprintf("%d", int64(i)) }

// String wraps UTF-8 text.
type String string

func (s String) Kind() Kind             { return KindString }
func (s String) Interface() interface{} { return string(s) }
func (s String) Truthy() bool           { return len(s) > 0 }
func (s String) String() string         { return string(s) }

// List is an ordered, mutable sequence of Values. It is always handled
// through a pointer so that aliases observe shared mutation.
type List struct {
	Elements []Value
}

// NewList constructs a List from the given elements (copied by reference,
// not cloned).
func NewList(elems []Value) *List { return &List{Elements: elems} }

func (l *List) Kind() Kind { return KindList }
func (l *List) Interface() interface{} {
	return l.Elements
}
func (l *List) Truthy() bool { return len(l.Elements) > 0 }
func (l *List) String() string {
	out := "["
	for i, e := range l.Elements {
		if i > 0 {
			out += ", "
		}
		out += e.String()
	}
	return out + "]"
}

// Dict is an insertion-ordered, mutable mapping from string keys to
// Values. Backed by an ordered map rather than a plain Go map so that
// key order (and therefore Dict.keys(), iteration, and serialization
// ordering) is stable and matches insertion order, per the value model's
// invariant.
type Dict struct {
	Items *orderedmap.OrderedMap[string, Value]
}

// NewDict constructs an empty Dict.
func NewDict() *Dict {
	return &Dict{Items: orderedmap.New[string, Value]()}
}

func (d *Dict) Kind() Kind             { return KindDict }
func (d *Dict) Interface() interface{} { return d.Items }
func (d *Dict) Truthy() bool           { return d.Items.Len() > 0 }
func (d *Dict) String() string {
	out := "{"
	first := true
	for pair := d.Items.Oldest(); pair != nil; pair = pair.Next() {
		if !first {
			out += ", "
		}
		first = false
		out += pair.Key + ": " + pair.Value.String()
	}
	return out + "}"
}

// Get returns the value stored at key, or Nil if absent.
func (d *Dict) Get(key string) Value {
	if v, ok := d.Items.Get(key); ok {
		return v
	}
	return Nil{}
}

// Set stores val at key, preserving insertion order for new keys.
func (d *Dict) Set(key string, val Value) {
	d.Items.Set(key, val)
}

// Function is declared in pkg/bytecode, not here: its payload is a
// compiled instruction stream, and pkg/bytecode.Instruction carries a
// Value as its argument, so pkg/bytecode must import pkg/value. Defining
// Function there instead of here avoids the resulting import cycle while
// keeping it a Value (bytecode.Function implements this interface).

// NativeCallable is the signature every host-registered function or
// method must implement.
type NativeCallable func(args []Value) (Value, error)

// NativeFunction bridges a host Go callable into the value universe.
type NativeFunction struct {
	Name     string
	Arity    int
	Variadic bool
	Fn       NativeCallable
}

func (n *NativeFunction) Kind() Kind             { return KindNativeFunction }
func (n *NativeFunction) Interface() interface{} { return n.Fn }
func (n *NativeFunction) Truthy() bool           { return true }
func (n *NativeFunction) String() string         { return fmt.Sprintf("<native %s/%d>", n.Name, n.Arity) }

// BoundMethod is a transient pairing of a callable (Function or
// NativeFunction) with a receiver, produced by method-table resolution.
// It does not retain the receiver beyond the call that consumes it.
type BoundMethod struct {
	Callable Value
	Receiver Value
}

func (b *BoundMethod) Kind() Kind             { return KindBoundMethod }
func (b *BoundMethod) Interface() interface{} { return b.Callable }
func (b *BoundMethod) Truthy() bool           { return true }
func (b *BoundMethod) String() string         { return fmt.Sprintf("<bound method of %s>", b.Receiver.String()) }

// Foreign carries an opaque host object by reference. It participates in
// attribute access, iteration, and indexing by delegating to host
// semantics registered against TypeName in the VM's method table.
type Foreign struct {
	TypeName string
	Obj      interface{}
}

func (f *Foreign) Kind() Kind             { return KindForeign }
func (f *Foreign) Interface() interface{} { return f.Obj }
func (f *Foreign) Truthy() bool           { return f.Obj != nil }
func (f *Foreign) String() string         { return fmt.Sprintf("<foreign %s>", f.TypeName) }

// Lift maps a host primitive to the matching Value variant, and any other
// host object to a Foreign. This is the coercion helper the language's value
// model calls `lift`.
func Lift(host interface{}) Value {
	switch v := host.(type) {
	case nil:
		return Nil{}
	case Value:
		return v
	case bool:
		return Bool(v)
	case int:
		return Integer(int64(v))
	case int64:
		return Integer(v)
	case string:
		return String(v)
	case []Value:
		return NewList(v)
	default:
		return &Foreign{TypeName: fmt.Sprintf("%T", host), Obj: host}
	}
}

// Equal implements payload equality, including cross-kind numeric/bool
// comparison (Integer(1) == Bool(true)) rather than restricting equality
// to same-kind operands. See DESIGN.md for the rationale.
func Equal(a, b Value) bool {
	if a.Kind() == KindNil || b.Kind() == KindNil {
		return a.Kind() == b.Kind()
	}
	switch av := a.(type) {
	case Bool:
		switch bv := b.(type) {
		case Bool:
			return av == bv
		case Integer:
			return boolToInt(bool(av)) == int64(bv)
		}
		return false
	case Integer:
		switch bv := b.(type) {
		case Integer:
			return av == bv
		case Bool:
			return int64(av) == boolToInt(bool(bv))
		}
		return false
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case *List:
		bv, ok := b.(*List)
		if !ok || len(av.Elements) != len(bv.Elements) {
			return false
		}
		for i := range av.Elements {
			if !Equal(av.Elements[i], bv.Elements[i]) {
				return false
			}
		}
		return true
	case *Dict:
		bv, ok := b.(*Dict)
		if !ok || av.Items.Len() != bv.Items.Len() {
			return false
		}
		for pair := av.Items.Oldest(); pair != nil; pair = pair.Next() {
			other, ok := bv.Items.Get(pair.Key)
			if !ok || !Equal(pair.Value, other) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
