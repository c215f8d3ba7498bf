package stdlib

import (
	"time"

	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

// registerDateNatives installs date_now/date_format/date_parse. Policy
// programs see timestamps as Unix seconds (Integer) and layouts as Go
// reference-time strings, matching the teacher's convention of keeping
// host-originated values in whatever form the standard library already
// produces rather than inventing a parallel date type.
func registerDateNatives(machine *vm.VM) {
	machine.RegisterGlobal("date_now", native("date_now", 0, func(args []value.Value) (value.Value, error) {
		return value.Integer(time.Now().Unix()), nil
	}))

	machine.RegisterGlobal("date_format", native("date_format", 2, func(args []value.Value) (value.Value, error) {
		ts, err := wantInteger(args, 0, "date_format")
		if err != nil {
			return nil, err
		}
		layout, err := wantString(args, 1, "date_format")
		if err != nil {
			return nil, err
		}
		return value.String(time.Unix(ts, 0).UTC().Format(layout)), nil
	}))

	machine.RegisterGlobal("date_parse", native("date_parse", 2, func(args []value.Value) (value.Value, error) {
		s, err := wantString(args, 0, "date_parse")
		if err != nil {
			return nil, err
		}
		layout, err := wantString(args, 1, "date_parse")
		if err != nil {
			return nil, err
		}
		t, parseErr := time.Parse(layout, s)
		if parseErr != nil {
			return value.Nil{}, nil // soft failure: unparseable input degrades to Nil
		}
		return value.Integer(t.Unix()), nil
	}))

	registerTimeAccessor(machine, "time_year", func(t time.Time) int64 { return int64(t.Year()) })
	registerTimeAccessor(machine, "time_month", func(t time.Time) int64 { return int64(t.Month()) })
	registerTimeAccessor(machine, "time_day", func(t time.Time) int64 { return int64(t.Day()) })
	registerTimeAccessor(machine, "time_hour", func(t time.Time) int64 { return int64(t.Hour()) })
	registerTimeAccessor(machine, "time_minute", func(t time.Time) int64 { return int64(t.Minute()) })
	registerTimeAccessor(machine, "time_second", func(t time.Time) int64 { return int64(t.Second()) })
}

// registerTimeAccessor installs a single Unix-timestamp field accessor
// under name, one per teacher timeYear/timeMonth/.../timeSecond field.
func registerTimeAccessor(machine *vm.VM, name string, field func(time.Time) int64) {
	machine.RegisterGlobal(name, native(name, 1, func(args []value.Value) (value.Value, error) {
		ts, err := wantInteger(args, 0, name)
		if err != nil {
			return nil, err
		}
		return value.Integer(field(time.Unix(ts, 0).UTC())), nil
	}))
}
