// Package serialize encodes and decodes message payloads. The encoding
// family is chosen per payload shape and recorded in the frame's command
// field; decoding dispatches on that command. Transit nodes in tree
// collectives re-emit payload bytes unchanged and never pass through here
// twice.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package serialize

import (
	"encoding/binary"
	"math"

	"github.com/gompi/gompi/cmn"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

// byte-string sidecar flags
const (
	flagBytes  = 0
	flagString = 1
)

// dense-array element types
const (
	elemI8 uint8 = iota + 1
	elemI16
	elemI32
	elemI64
	elemInt
	elemU16
	elemU32
	elemU64
	elemUint
	elemF32
	elemF64
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode picks the encoding family by payload shape. First match wins:
// byte string, dense numeric array, msgpack interface universe, JSON.
// Values round-trip within the family's universe (signed ints come back as
// int64, record types as generic maps).
func Encode(v any) (cmd uint16, payload []byte, err error) {
	switch x := v.(type) {
	case []byte:
		return cmn.CmdBytes, append([]byte{flagBytes}, x...), nil
	case string:
		return cmn.CmdBytes, append([]byte{flagString}, x...), nil
	}
	if payload, ok := encodeRaw(v); ok {
		return cmn.CmdRaw, payload, nil
	}
	if payload, err := msgp.AppendIntf(nil, v); err == nil {
		return cmn.CmdIntf, payload, nil
	}
	payload, err = json.Marshal(v)
	if err != nil {
		return 0, nil, cmn.NewErrSerialization(err)
	}
	return cmn.CmdJSON, payload, nil
}

// Decode dispatches on the frame command.
func Decode(cmd uint16, payload []byte) (any, error) {
	switch cmd {
	case cmn.CmdBytes:
		if len(payload) == 0 {
			return nil, cmn.NewErrSerialization(errors.New("short byte-string payload"))
		}
		body := payload[1:]
		if payload[0] == flagString {
			return string(body), nil
		}
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case cmn.CmdRaw:
		return decodeRaw(payload)
	case cmn.CmdIntf:
		v, rest, err := msgp.ReadIntfBytes(payload)
		if err != nil {
			return nil, cmn.NewErrSerialization(err)
		}
		if len(rest) != 0 {
			return nil, cmn.NewErrSerialization(errors.Errorf("%d trailing bytes", len(rest)))
		}
		return v, nil
	case cmn.CmdJSON:
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, cmn.NewErrSerialization(err)
		}
		return v, nil
	}
	return nil, cmn.NewErrSerialization(errors.Errorf("unknown command %d", cmd))
}

//
// dense numeric arrays: msgp sidecar (elemType, count) + raw LE bytes
//

func encodeRaw(v any) ([]byte, bool) {
	var (
		et    uint8
		n     int
		width int
	)
	switch x := v.(type) {
	case []int8:
		et, n, width = elemI8, len(x), 1
	case []int16:
		et, n, width = elemI16, len(x), 2
	case []int32:
		et, n, width = elemI32, len(x), 4
	case []int64:
		et, n, width = elemI64, len(x), 8
	case []int:
		et, n, width = elemInt, len(x), 8
	case []uint16:
		et, n, width = elemU16, len(x), 2
	case []uint32:
		et, n, width = elemU32, len(x), 4
	case []uint64:
		et, n, width = elemU64, len(x), 8
	case []uint:
		et, n, width = elemUint, len(x), 8
	case []float32:
		et, n, width = elemF32, len(x), 4
	case []float64:
		et, n, width = elemF64, len(x), 8
	default:
		return nil, false
	}
	buf := msgp.AppendUint8(nil, et)
	buf = msgp.AppendInt64(buf, int64(n))
	off := len(buf)
	buf = append(buf, make([]byte, n*width)...)
	b := buf[off:]
	switch x := v.(type) {
	case []int8:
		for i, e := range x {
			b[i] = byte(e)
		}
	case []int16:
		for i, e := range x {
			binary.LittleEndian.PutUint16(b[i*2:], uint16(e))
		}
	case []int32:
		for i, e := range x {
			binary.LittleEndian.PutUint32(b[i*4:], uint32(e))
		}
	case []int64:
		for i, e := range x {
			binary.LittleEndian.PutUint64(b[i*8:], uint64(e))
		}
	case []int:
		for i, e := range x {
			binary.LittleEndian.PutUint64(b[i*8:], uint64(e))
		}
	case []uint16:
		for i, e := range x {
			binary.LittleEndian.PutUint16(b[i*2:], e)
		}
	case []uint32:
		for i, e := range x {
			binary.LittleEndian.PutUint32(b[i*4:], e)
		}
	case []uint64:
		for i, e := range x {
			binary.LittleEndian.PutUint64(b[i*8:], e)
		}
	case []uint:
		for i, e := range x {
			binary.LittleEndian.PutUint64(b[i*8:], uint64(e))
		}
	case []float32:
		for i, e := range x {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(e))
		}
	case []float64:
		for i, e := range x {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(e))
		}
	}
	return buf, true
}

func decodeRaw(payload []byte) (any, error) {
	et, rest, err := msgp.ReadUint8Bytes(payload)
	if err != nil {
		return nil, cmn.NewErrSerialization(err)
	}
	n64, rest, err := msgp.ReadInt64Bytes(rest)
	if err != nil {
		return nil, cmn.NewErrSerialization(err)
	}
	n := int(n64)
	width := rawWidth(et)
	if width == 0 {
		return nil, cmn.NewErrSerialization(errors.Errorf("unknown element type %d", et))
	}
	if len(rest) != n*width {
		return nil, cmn.NewErrSerialization(
			errors.Errorf("raw array: want %d bytes, have %d", n*width, len(rest)))
	}
	switch et {
	case elemI8:
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(rest[i])
		}
		return out, nil
	case elemI16:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(rest[i*2:]))
		}
		return out, nil
	case elemI32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(rest[i*4:]))
		}
		return out, nil
	case elemI64:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(rest[i*8:]))
		}
		return out, nil
	case elemInt:
		out := make([]int, n)
		for i := range out {
			out[i] = int(binary.LittleEndian.Uint64(rest[i*8:]))
		}
		return out, nil
	case elemU16:
		out := make([]uint16, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(rest[i*2:])
		}
		return out, nil
	case elemU32:
		out := make([]uint32, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(rest[i*4:])
		}
		return out, nil
	case elemU64:
		out := make([]uint64, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint64(rest[i*8:])
		}
		return out, nil
	case elemUint:
		out := make([]uint, n)
		for i := range out {
			out[i] = uint(binary.LittleEndian.Uint64(rest[i*8:]))
		}
		return out, nil
	case elemF32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(rest[i*4:]))
		}
		return out, nil
	default:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(rest[i*8:]))
		}
		return out, nil
	}
}

func rawWidth(et uint8) int {
	switch et {
	case elemI8:
		return 1
	case elemI16, elemU16:
		return 2
	case elemI32, elemU32, elemF32:
		return 4
	case elemI64, elemInt, elemU64, elemUint, elemF64:
		return 8
	}
	return 0
}
