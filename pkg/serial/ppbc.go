// Package serial implements PPBC, the self-describing binary container
// the policy virtual machine uses to persist compiled bytecode to disk
// and load it back.
//
// Container Layout:
//
//	MAGIC "PPBC" (4 bytes)
//	VERSION       uint16 big-endian
//	FLAGS         uint16 big-endian (reserved, always 0 on encode)
//	META_LEN      uint32 big-endian
//	BODY_LEN      uint32 big-endian (length of the compressed body)
//	CRC32         uint32 big-endian (IEEE CRC-32 of the compressed body)
//	META          META_LEN bytes of JSON
//	BODY          BODY_LEN bytes, zlib-compressed instruction stream
//
// Instruction Stream:
//
// Each instruction is one opcode byte followed by exactly one tagged
// argument: a type tag byte (NIL/INT/BOOL/STR/FUNC) and the argument's
// encoding. Integers use zigzag + LEB128 varint so small magnitudes
// (including negative offsets, which JUMP uses constantly) stay compact.
// Strings are length-prefixed UTF-8. A Function argument nests its own
// complete instruction stream (no header) so compiled closures-over-code
// serialize recursively without a second container format.
package serial

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/kristofer/policyvm/pkg/bytecode"
	"github.com/kristofer/policyvm/pkg/value"
)

// Magic identifies a PPBC container; Version is the only container
// format this package can read or write.
var Magic = [4]byte{'P', 'P', 'B', 'C'}

const Version uint16 = 1

const (
	tagNil byte = iota
	tagInt
	tagBool
	tagStr
	tagFunc
)

var opcodeToByte = map[bytecode.Opcode]byte{
	bytecode.OpBinAdd: 0x01,
	bytecode.OpBinSub: 0x02,
	bytecode.OpBinMul: 0x03,
	bytecode.OpBinDiv: 0x04,
	bytecode.OpBinMod: 0x05,
	bytecode.OpBinIn:  0x06,

	bytecode.OpEq:  0x10,
	bytecode.OpNeq: 0x11,
	bytecode.OpGt:  0x12,
	bytecode.OpLt:  0x13,
	bytecode.OpGte: 0x14,
	bytecode.OpLte: 0x15,
	bytecode.OpNot: 0x16,

	bytecode.OpPush:       0x20,
	bytecode.OpPop:        0x21,
	bytecode.OpStore:      0x22,
	bytecode.OpPushGlobal: 0x23,
	bytecode.OpPushLocal:  0x24,
	bytecode.OpStoreLocal: 0x25,

	bytecode.OpCallFn: 0x30,
	bytecode.OpReturn: 0x31,

	bytecode.OpGetAttr:  0x40,
	bytecode.OpIndex:    0x42,
	bytecode.OpSetIndex: 0x43,
	bytecode.OpSetAttr:  0x44,
	bytecode.OpMakeList: 0x50,
	bytecode.OpMakeDict: 0x51,
	bytecode.OpIterInit: 0x60,
	bytecode.OpIterNext: 0x61,

	bytecode.OpJump:        0x70,
	bytecode.OpJumpIfTrue:  0x71,
	bytecode.OpJumpIfFalse: 0x72,

	bytecode.OpPrint: 0x80,
}

var byteToOpcode = func() map[byte]bytecode.Opcode {
	m := make(map[byte]bytecode.Opcode, len(opcodeToByte))
	for op, b := range opcodeToByte {
		m[b] = op
	}
	return m
}()

// Serialize encodes code and an optional metadata map (nil allowed) as
// a PPBC byte stream.
func Serialize(code bytecode.Code, meta map[string]interface{}) ([]byte, error) {
	body, err := encodeStream(code)
	if err != nil {
		return nil, err
	}

	metaBytes, err := json.Marshal(nonNilMeta(meta))
	if err != nil {
		return nil, fmt.Errorf("serial: encode metadata: %w", err)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("serial: compress body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("serial: compress body: %w", err)
	}
	compressedBody := compressed.Bytes()
	crc := crc32.ChecksumIEEE(compressedBody)

	var out bytes.Buffer
	out.Write(Magic[:])
	writeUint16(&out, Version)
	writeUint16(&out, 0) // flags, reserved
	writeUint32(&out, uint32(len(metaBytes)))
	writeUint32(&out, uint32(len(compressedBody)))
	writeUint32(&out, crc)
	out.Write(metaBytes)
	out.Write(compressedBody)
	return out.Bytes(), nil
}

func nonNilMeta(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return map[string]interface{}{}
	}
	return meta
}

// Deserialize decodes a PPBC byte stream back into an instruction
// stream, validating the magic, version, and body CRC along the way.
func Deserialize(blob []byte) (bytecode.Code, error) {
	body, _, err := unpack(blob)
	if err != nil {
		return nil, err
	}
	code, _, err := decodeStream(body, 0)
	if err != nil {
		return nil, err
	}
	return code, nil
}

// PeekMetadata returns a container's metadata without decoding its
// instruction stream, useful for quick inspection of a saved bytecode
// file. The body is still CRC-checked and decompressed.
func PeekMetadata(blob []byte) (map[string]interface{}, error) {
	_, meta, err := unpack(blob)
	return meta, err
}

func unpack(blob []byte) ([]byte, map[string]interface{}, error) {
	if len(blob) < 20 || !bytes.Equal(blob[:4], Magic[:]) {
		return nil, nil, fmt.Errorf("serial: bad magic")
	}
	ver := binary.BigEndian.Uint16(blob[4:6])
	if ver != Version {
		return nil, nil, fmt.Errorf("serial: unsupported bytecode version %d", ver)
	}
	i := 6
	_ = binary.BigEndian.Uint16(blob[i : i+2]) // flags, unused on read
	i += 2
	metaLen := int(binary.BigEndian.Uint32(blob[i : i+4]))
	i += 4
	bodyLen := int(binary.BigEndian.Uint32(blob[i : i+4]))
	i += 4
	crcExpect := binary.BigEndian.Uint32(blob[i : i+4])
	i += 4

	endMeta := i + metaLen
	endBody := endMeta + bodyLen
	if endMeta > len(blob) || endBody > len(blob) {
		return nil, nil, fmt.Errorf("serial: header lengths out of range")
	}

	var meta map[string]interface{}
	if metaLen > 0 {
		if err := json.Unmarshal(blob[i:endMeta], &meta); err != nil {
			return nil, nil, fmt.Errorf("serial: invalid metadata json: %w", err)
		}
	} else {
		meta = map[string]interface{}{}
	}

	compressedBody := blob[endMeta:endBody]
	if crc32.ChecksumIEEE(compressedBody) != crcExpect {
		return nil, nil, fmt.Errorf("serial: CRC mismatch")
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressedBody))
	if err != nil {
		return nil, nil, fmt.Errorf("serial: decompress body: %w", err)
	}
	defer zr.Close()
	body, err := io.ReadAll(zr)
	if err != nil {
		return nil, nil, fmt.Errorf("serial: decompress body: %w", err)
	}
	return body, meta, nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func encodeStream(code bytecode.Code) ([]byte, error) {
	var out bytes.Buffer
	for _, inst := range code {
		b, ok := opcodeToByte[inst.Op]
		if !ok {
			return nil, fmt.Errorf("serial: unknown opcode %s", inst.Op)
		}
		out.WriteByte(b)
		if err := encodeArg(&out, inst.Arg); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

func decodeStream(buf []byte, i0 int) (bytecode.Code, int, error) {
	i := i0
	var code bytecode.Code
	n := len(buf)
	for i < n {
		opByte := buf[i]
		i++
		op, ok := byteToOpcode[opByte]
		if !ok {
			return nil, 0, fmt.Errorf("serial: unknown opcode byte 0x%02x", opByte)
		}
		arg, next, err := decodeArg(buf, i)
		if err != nil {
			return nil, 0, err
		}
		i = next
		code = append(code, bytecode.Instruction{Op: op, Arg: arg})
	}
	return code, i, nil
}

func encodeArg(out *bytes.Buffer, arg value.Value) error {
	switch v := arg.(type) {
	case nil, value.Nil:
		out.WriteByte(tagNil)
	case value.Integer:
		out.WriteByte(tagInt)
		writeVarint(out, zigzag(int64(v)))
	case value.Bool:
		out.WriteByte(tagBool)
		if v {
			out.WriteByte(1)
		} else {
			out.WriteByte(0)
		}
	case value.String:
		out.WriteByte(tagStr)
		writeString(out, string(v))
	case *bytecode.Function:
		out.WriteByte(tagFunc)
		writeVarint(out, uint64(v.Arity))
		for _, name := range v.ParamNames {
			writeString(out, name)
		}
		nested, err := encodeStream(v.Code)
		if err != nil {
			return err
		}
		writeVarint(out, uint64(len(nested)))
		out.Write(nested)
	default:
		return fmt.Errorf("serial: cannot serialize argument of type %T", arg)
	}
	return nil
}

func decodeArg(buf []byte, i int) (value.Value, int, error) {
	if i >= len(buf) {
		return nil, 0, fmt.Errorf("serial: truncated argument")
	}
	tag := buf[i]
	i++
	switch tag {
	case tagNil:
		return value.Nil{}, i, nil
	case tagInt:
		u, next, err := readVarint(buf, i)
		if err != nil {
			return nil, 0, err
		}
		return value.Integer(unzigzag(u)), next, nil
	case tagBool:
		if i >= len(buf) {
			return nil, 0, fmt.Errorf("serial: truncated bool argument")
		}
		return value.Bool(buf[i] != 0), i + 1, nil
	case tagStr:
		s, next, err := readString(buf, i)
		if err != nil {
			return nil, 0, err
		}
		return value.String(s), next, nil
	case tagFunc:
		nParamsU, next, err := readVarint(buf, i)
		if err != nil {
			return nil, 0, err
		}
		i = next
		nParams := int(nParamsU)
		params := make([]string, nParams)
		for p := 0; p < nParams; p++ {
			s, next, err := readString(buf, i)
			if err != nil {
				return nil, 0, err
			}
			params[p] = s
			i = next
		}
		blobLen, next, err := readVarint(buf, i)
		if err != nil {
			return nil, 0, err
		}
		i = next
		end := i + int(blobLen)
		if end > len(buf) {
			return nil, 0, fmt.Errorf("serial: function blob length out of range")
		}
		nestedCode, _, err := decodeStream(buf[i:end], 0)
		if err != nil {
			return nil, 0, err
		}
		return &bytecode.Function{Code: nestedCode, Arity: nParams, ParamNames: params}, end, nil
	default:
		return nil, 0, fmt.Errorf("serial: unknown argument tag %d", tag)
	}
}

func writeString(out *bytes.Buffer, s string) {
	b := []byte(s)
	writeVarint(out, uint64(len(b)))
	out.Write(b)
}

func readString(buf []byte, i int) (string, int, error) {
	ln, next, err := readVarint(buf, i)
	if err != nil {
		return "", 0, err
	}
	i = next
	end := i + int(ln)
	if end > len(buf) {
		return "", 0, fmt.Errorf("serial: string length out of range")
	}
	return string(buf[i:end]), end, nil
}

// writeVarint encodes n as LEB128: 7 payload bits per byte, high bit
// set on every byte but the last.
func writeVarint(out *bytes.Buffer, n uint64) {
	for {
		b := byte(n & 0x7F)
		n >>= 7
		if n != 0 {
			out.WriteByte(b | 0x80)
		} else {
			out.WriteByte(b)
			return
		}
	}
}

func readVarint(buf []byte, i int) (uint64, int, error) {
	var out uint64
	var shift uint
	for {
		if i >= len(buf) {
			return 0, 0, fmt.Errorf("serial: truncated varint")
		}
		b := buf[i]
		i++
		out |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return out, i, nil
		}
		shift += 7
	}
}

func zigzag(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

func unzigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
