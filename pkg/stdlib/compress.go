package stdlib

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"

	"github.com/pkg/errors"

	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

// zipEntryName is the single-member name zip_compress writes its
// payload under, matching the teacher's own zipCompress, which always
// writes one entry called "data".
const zipEntryName = "data"

// registerCompressionNatives installs gzip_compress/gzip_decompress and
// zip_compress/zip_decompress.
func registerCompressionNatives(machine *vm.VM) {
	machine.RegisterGlobal("zip_compress", native("zip_compress", 1, func(args []value.Value) (value.Value, error) {
		s, err := wantString(args, 0, "zip_compress")
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		f, createErr := zw.Create(zipEntryName)
		if createErr != nil {
			return nil, errors.Wrap(createErr, "zip_compress")
		}
		if _, err := f.Write([]byte(s)); err != nil {
			return nil, errors.Wrap(err, "zip_compress")
		}
		if err := zw.Close(); err != nil {
			return nil, errors.Wrap(err, "zip_compress")
		}
		return value.String(buf.String()), nil
	}))

	machine.RegisterGlobal("zip_decompress", native("zip_decompress", 1, func(args []value.Value) (value.Value, error) {
		s, err := wantString(args, 0, "zip_decompress")
		if err != nil {
			return nil, err
		}
		zr, openErr := zip.NewReader(bytes.NewReader([]byte(s)), int64(len(s)))
		if openErr != nil || len(zr.File) == 0 {
			return value.Nil{}, nil // soft failure: malformed/empty archive degrades to Nil
		}
		f, openEntryErr := zr.File[0].Open()
		if openEntryErr != nil {
			return value.Nil{}, nil
		}
		defer f.Close()
		out, readErr := io.ReadAll(f)
		if readErr != nil {
			return value.Nil{}, nil
		}
		return value.String(out), nil
	}))

	machine.RegisterGlobal("gzip_compress", native("gzip_compress", 1, func(args []value.Value) (value.Value, error) {
		s, err := wantString(args, 0, "gzip_compress")
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write([]byte(s)); err != nil {
			return nil, errors.Wrap(err, "gzip_compress")
		}
		if err := zw.Close(); err != nil {
			return nil, errors.Wrap(err, "gzip_compress")
		}
		return value.String(buf.String()), nil
	}))

	machine.RegisterGlobal("gzip_decompress", native("gzip_decompress", 1, func(args []value.Value) (value.Value, error) {
		s, err := wantString(args, 0, "gzip_decompress")
		if err != nil {
			return nil, err
		}
		zr, openErr := gzip.NewReader(bytes.NewReader([]byte(s)))
		if openErr != nil {
			return value.Nil{}, nil
		}
		defer zr.Close()
		out, readErr := io.ReadAll(zr)
		if readErr != nil {
			return value.Nil{}, nil
		}
		return value.String(out), nil
	}))
}
