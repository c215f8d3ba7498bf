package stdlib

import (
	"crypto/rand"
	"math/big"
	"strconv"

	"github.com/pkg/errors"

	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

// registerRandomNatives installs random_int/random_float/random_bytes,
// sourced from crypto/rand the way the teacher's own host methods draw
// randomness for anything that leaves process memory.
func registerRandomNatives(machine *vm.VM) {
	machine.RegisterGlobal("random_int", native("random_int", 2, func(args []value.Value) (value.Value, error) {
		lo, err := wantInteger(args, 0, "random_int")
		if err != nil {
			return nil, err
		}
		hi, err := wantInteger(args, 1, "random_int")
		if err != nil {
			return nil, err
		}
		if hi < lo {
			return nil, errors.Errorf("random_int: max %d is less than min %d", hi, lo)
		}
		span := big.NewInt(hi - lo + 1)
		n, randErr := rand.Int(rand.Reader, span)
		if randErr != nil {
			return nil, errors.Wrap(randErr, "random_int")
		}
		return value.Integer(lo + n.Int64()), nil
	}))

	// random_float has no native fractional kind to land in (the value
	// model is Integer-only, no Float variant), so it reports its [0, 1)
	// draw as a decimal String, the same way timestamps stay Integer
	// Unix seconds rather than growing a dedicated Date kind.
	machine.RegisterGlobal("random_float", native("random_float", 0, func(args []value.Value) (value.Value, error) {
		var buf [8]byte
		if _, readErr := rand.Read(buf[:]); readErr != nil {
			return nil, errors.Wrap(readErr, "random_float")
		}
		n := uint64(buf[0])<<56 | uint64(buf[1])<<48 | uint64(buf[2])<<40 | uint64(buf[3])<<32 |
			uint64(buf[4])<<24 | uint64(buf[5])<<16 | uint64(buf[6])<<8 | uint64(buf[7])
		f := float64(n>>11) / float64(uint64(1)<<53)
		return value.String(strconv.FormatFloat(f, 'f', -1, 64)), nil
	}))

	machine.RegisterGlobal("random_bytes", native("random_bytes", 1, func(args []value.Value) (value.Value, error) {
		n, err := wantInteger(args, 0, "random_bytes")
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, errors.Errorf("random_bytes: negative length %d", n)
		}
		buf := make([]byte, n)
		if _, readErr := rand.Read(buf); readErr != nil {
			return nil, errors.Wrap(readErr, "random_bytes")
		}
		return value.String(buf), nil
	}))
}
