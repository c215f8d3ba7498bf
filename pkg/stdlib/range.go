package stdlib

import (
	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

// rangeValue is the Foreign payload backing range(n): an integer
// sequence [0, n) usable both in `for x in range(n)` and as the
// receiver of the DSL-authored each/filter methods.
type rangeValue struct {
	n int64
}

func (r *rangeValue) NewIterator() vm.Iterator {
	return &rangeIterator{n: r.n}
}

type rangeIterator struct {
	n   int64
	pos int64
}

func (it *rangeIterator) Next() (value.Value, bool) {
	if it.pos >= it.n {
		return nil, false
	}
	v := value.Integer(it.pos)
	it.pos++
	return v, true
}

func rangeForeignTypeName() string { return "range" }

func newRangeForeign(n int64) *value.Foreign {
	return &value.Foreign{TypeName: rangeForeignTypeName(), Obj: &rangeValue{n: n}}
}
