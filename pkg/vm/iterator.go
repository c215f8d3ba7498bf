package vm

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kristofer/policyvm/pkg/value"
)

// Iterator is the single-pass, stateful cursor protocol ITER_INIT and
// ITER_NEXT drive. Next reports the next element and whether one was
// available; once it returns false the iterator is exhausted and
// subsequent calls must keep returning false.
type Iterator interface {
	Next() (value.Value, bool)
}

// Iterable is implemented by a Foreign payload that wants to take part
// in `for x in ...` loops. Built-in List, Dict, and String values don't
// need it: the VM constructs their iterators directly.
type Iterable interface {
	NewIterator() Iterator
}

// listIterator walks a List's elements by index. Because List is a
// shared-ownership reference type, appends made to the underlying list
// during iteration are visible to an in-flight iterator.
type listIterator struct {
	list *value.List
	pos  int
}

func (it *listIterator) Next() (value.Value, bool) {
	if it.pos >= len(it.list.Elements) {
		return nil, false
	}
	v := it.list.Elements[it.pos]
	it.pos++
	return v, true
}

// dictIterator walks a Dict's keys in insertion order, yielding each key
// as a String value (mirroring the reference behavior of iterating a
// mapping by key).
type dictIterator struct {
	pair *orderedmap.Pair[string, value.Value]
}

func newDictIterator(d *value.Dict) *dictIterator {
	return &dictIterator{pair: d.Items.Oldest()}
}

func (it *dictIterator) Next() (value.Value, bool) {
	if it.pair == nil {
		return nil, false
	}
	k := it.pair.Key
	it.pair = it.pair.Next()
	return value.String(k), true
}

// stringIterator walks a string rune by rune, yielding each as a
// single-character String.
type stringIterator struct {
	runes []rune
	pos   int
}

func (it *stringIterator) Next() (value.Value, bool) {
	if it.pos >= len(it.runes) {
		return nil, false
	}
	r := it.runes[it.pos]
	it.pos++
	return value.String(string(r)), true
}

// emptyIterator never yields anything: the fallback for a Foreign value
// that does not implement Iterable.
type emptyIterator struct{}

func (emptyIterator) Next() (value.Value, bool) { return nil, false }

// iterInit builds an Iterator for v, wraps it as a Foreign so it can
// live on the operand stack, and returns that Foreign. An unsupported
// kind degrades to an always-exhausted iterator rather than failing.
func (vm *VM) iterInit(v value.Value) value.Value {
	var it Iterator
	switch c := v.(type) {
	case *value.List:
		it = &listIterator{list: c}
	case *value.Dict:
		it = newDictIterator(c)
	case value.String:
		it = &stringIterator{runes: []rune(string(c))}
	case *value.Foreign:
		if iterable, ok := c.Obj.(Iterable); ok {
			it = iterable.NewIterator()
		} else {
			it = emptyIterator{}
		}
	default:
		it = emptyIterator{}
	}
	return &value.Foreign{TypeName: "iterator", Obj: it}
}

// iterNext pops the iterator Foreign pushed by ITER_INIT, advances it,
// and pushes it back followed by either (item, true) or (Nil, false).
func (vm *VM) iterNext() {
	top := vm.pop()
	f, ok := top.(*value.Foreign)
	if !ok || f.TypeName != "iterator" {
		vm.push(top)
		vm.push(value.Nil{})
		vm.push(value.Bool(false))
		return
	}
	it, _ := f.Obj.(Iterator)
	if it == nil {
		vm.push(f)
		vm.push(value.Nil{})
		vm.push(value.Bool(false))
		return
	}
	item, ok := it.Next()
	vm.push(f)
	if !ok {
		vm.push(value.Nil{})
		vm.push(value.Bool(false))
		return
	}
	vm.push(item)
	vm.push(value.Bool(true))
}
