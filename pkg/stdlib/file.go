package stdlib

import (
	"os"

	"github.com/pkg/errors"

	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

// registerFileNatives installs file_read/file_write/file_exists/
// file_delete over os, matching the teacher's own fileRead/fileWrite/
// fileExists/fileDelete one-to-one. I/O failures are fatal the same way
// the teacher's versions return an error rather than a sentinel, except
// file_exists, which reports absence as false rather than an error by
// design (stat-failure-means-absent is the teacher's own fileExists
// semantics, not a soft-failure convention this tree introduces).
func registerFileNatives(machine *vm.VM) {
	machine.RegisterGlobal("file_read", native("file_read", 1, func(args []value.Value) (value.Value, error) {
		path, err := wantString(args, 0, "file_read")
		if err != nil {
			return nil, err
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, errors.Wrap(readErr, "file_read")
		}
		return value.String(content), nil
	}))

	machine.RegisterGlobal("file_write", native("file_write", 2, func(args []value.Value) (value.Value, error) {
		path, err := wantString(args, 0, "file_write")
		if err != nil {
			return nil, err
		}
		content, err := wantString(args, 1, "file_write")
		if err != nil {
			return nil, err
		}
		if writeErr := os.WriteFile(path, []byte(content), 0644); writeErr != nil {
			return nil, errors.Wrap(writeErr, "file_write")
		}
		return value.Bool(true), nil
	}))

	machine.RegisterGlobal("file_exists", native("file_exists", 1, func(args []value.Value) (value.Value, error) {
		path, err := wantString(args, 0, "file_exists")
		if err != nil {
			return nil, err
		}
		_, statErr := os.Stat(path)
		return value.Bool(statErr == nil), nil
	}))

	machine.RegisterGlobal("file_delete", native("file_delete", 1, func(args []value.Value) (value.Value, error) {
		path, err := wantString(args, 0, "file_delete")
		if err != nil {
			return nil, err
		}
		if rmErr := os.Remove(path); rmErr != nil {
			return nil, errors.Wrap(rmErr, "file_delete")
		}
		return value.Bool(true), nil
	}))
}
