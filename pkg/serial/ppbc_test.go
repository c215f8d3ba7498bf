package serial

import (
	"bytes"
	"testing"

	"github.com/kristofer/policyvm/pkg/bytecode"
	"github.com/kristofer/policyvm/pkg/value"
)

func sampleCode() bytecode.Code {
	fn := &bytecode.Function{
		Arity:      2,
		ParamNames: []string{"x", "y"},
		Code: bytecode.Code{
			{Op: bytecode.OpPushLocal, Arg: value.String("x")},
			{Op: bytecode.OpPushLocal, Arg: value.String("y")},
			{Op: bytecode.OpBinAdd, Arg: nil},
			{Op: bytecode.OpReturn, Arg: nil},
		},
	}
	return bytecode.Code{
		{Op: bytecode.OpPush, Arg: fn},
		{Op: bytecode.OpStore, Arg: value.String("add")},
		{Op: bytecode.OpPush, Arg: value.Integer(-7)},
		{Op: bytecode.OpJump, Arg: value.Integer(-3)},
		{Op: bytecode.OpPush, Arg: value.Bool(true)},
		{Op: bytecode.OpPush, Arg: value.Nil{}},
		{Op: bytecode.OpReturn, Arg: nil},
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	code := sampleCode()
	blob, err := Serialize(code, map[string]interface{}{"source": "test.pol"})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	decoded, err := Deserialize(blob)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if len(decoded) != len(code) {
		t.Fatalf("want %d instructions, got %d", len(code), len(decoded))
	}
	for i := range code {
		if decoded[i].Op != code[i].Op {
			t.Fatalf("instruction %d: want op %s, got %s", i, code[i].Op, decoded[i].Op)
		}
	}
	fn, ok := decoded[0].Arg.(*bytecode.Function)
	if !ok {
		t.Fatalf("instruction 0 arg: want *Function, got %T", decoded[0].Arg)
	}
	if fn.Arity != 2 || len(fn.Code) != 4 {
		t.Fatalf("unexpected nested function shape: %+v", fn)
	}
}

func TestSerializeRoundTripsNegativeIntegers(t *testing.T) {
	code := sampleCode()
	blob, err := Serialize(code, nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	decoded, err := Deserialize(blob)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if decoded[2].Arg.(value.Integer) != value.Integer(-7) {
		t.Fatalf("want -7, got %v", decoded[2].Arg)
	}
	if decoded[3].Arg.(value.Integer) != value.Integer(-3) {
		t.Fatalf("want jump offset -3, got %v", decoded[3].Arg)
	}
}

func TestPeekMetadataDoesNotDecodeBody(t *testing.T) {
	blob, err := Serialize(sampleCode(), map[string]interface{}{"name": "policy-a"})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	meta, err := PeekMetadata(blob)
	if err != nil {
		t.Fatalf("peek metadata: %v", err)
	}
	if meta["name"] != "policy-a" {
		t.Fatalf("want metadata name policy-a, got %v", meta)
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	blob, err := Serialize(sampleCode(), nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	corrupt := append([]byte(nil), blob...)
	corrupt[0] = 'X'
	if _, err := Deserialize(corrupt); err == nil {
		t.Fatal("want an error for a corrupted magic header")
	}
}

func TestDeserializeRejectsBadCRC(t *testing.T) {
	blob, err := Serialize(sampleCode(), nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	corrupt := append([]byte(nil), blob...)
	corrupt[len(corrupt)-1] ^= 0xFF // flip a byte in the compressed body
	if _, err := Deserialize(corrupt); err == nil {
		t.Fatal("want an error for a CRC mismatch")
	}
}

func TestZigzagRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 7, -7, 1<<62 - 1, -(1 << 62)}
	for _, n := range cases {
		if got := unzigzag(zigzag(n)); got != n {
			t.Fatalf("zigzag round trip failed for %d: got %d", n, got)
		}
	}
}

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 40}
	for _, n := range cases {
		var buf bytes.Buffer
		writeVarint(&buf, n)
		got, _, err := readVarint(buf.Bytes(), 0)
		if err != nil {
			t.Fatalf("readVarint(%d): %v", n, err)
		}
		if got != n {
			t.Fatalf("varint round trip failed for %d: got %d", n, got)
		}
	}
}
