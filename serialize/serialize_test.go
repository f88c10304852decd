// Package serialize encodes and decodes message payloads.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package serialize_test

import (
	"reflect"
	"testing"

	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/serialize"
	"github.com/gompi/gompi/tools/tassert"
)

func roundTrip(t *testing.T, v any, wantCmd uint16) any {
	t.Helper()
	cmd, payload, err := serialize.Encode(v)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, cmd == wantCmd, "%T: command %d, want %d", v, cmd, wantCmd)
	out, err := serialize.Decode(cmd, payload)
	tassert.CheckFatal(t, err)
	return out
}

func TestByteStrings(t *testing.T) {
	out := roundTrip(t, "hello", cmn.CmdBytes)
	tassert.Errorf(t, out == "hello", "got %v", out)

	out = roundTrip(t, "", cmn.CmdBytes)
	tassert.Errorf(t, out == "", "empty string became %#v", out)

	out = roundTrip(t, []byte{0, 1, 2}, cmn.CmdBytes)
	tassert.Errorf(t, reflect.DeepEqual(out, []byte{0, 1, 2}), "got %v", out)

	out = roundTrip(t, []byte{}, cmn.CmdBytes)
	tassert.Errorf(t, reflect.DeepEqual(out, []byte{}), "empty bytes became %#v", out)
}

func TestDenseArrays(t *testing.T) {
	for _, v := range []any{
		[]int8{-1, 0, 1},
		[]int16{-300, 300},
		[]int32{1 << 20, -(1 << 20)},
		[]int64{1 << 40, -(1 << 40)},
		[]int{7, -7},
		[]uint16{65535},
		[]uint32{1 << 30},
		[]uint64{1 << 60},
		[]uint{42},
		[]float32{1.5, -2.5},
		[]float64{3.14159, -1e300},
	} {
		out := roundTrip(t, v, cmn.CmdRaw)
		tassert.Errorf(t, reflect.DeepEqual(out, v), "%T: %v != %v", v, out, v)
	}
	out := roundTrip(t, []float64{}, cmn.CmdRaw)
	tassert.Errorf(t, reflect.DeepEqual(out, []float64{}), "empty array became %#v", out)
}

func TestObjectGraphs(t *testing.T) {
	// the msgpack interface universe round-trips with ints widened to int64
	out := roundTrip(t, int64(-1), cmn.CmdIntf)
	tassert.Errorf(t, out == int64(-1), "got %v (%T)", out, out)

	out = roundTrip(t, nil, cmn.CmdIntf)
	tassert.Errorf(t, out == nil, "nil became %#v", out)

	out = roundTrip(t, true, cmn.CmdIntf)
	tassert.Errorf(t, out == true, "got %v", out)

	out = roundTrip(t, map[string]any{"a": int64(1), "b": "x"}, cmn.CmdIntf)
	tassert.Errorf(t, reflect.DeepEqual(out, map[string]any{"a": int64(1), "b": "x"}), "got %#v", out)

	out = roundTrip(t, []any{int64(1), "two", nil}, cmn.CmdIntf)
	tassert.Errorf(t, reflect.DeepEqual(out, []any{int64(1), "two", nil}), "got %#v", out)
}

func TestRecordFallback(t *testing.T) {
	type record struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	cmd, payload, err := serialize.Encode(record{Name: "x", N: 3})
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, cmd == cmn.CmdJSON, "record type encoded as command %d", cmd)
	out, err := serialize.Decode(cmd, payload)
	tassert.CheckFatal(t, err)
	m, ok := out.(map[string]any)
	tassert.Fatalf(t, ok, "decoded to %T", out)
	tassert.Errorf(t, m["name"] == "x" && m["n"] == float64(3), "got %#v", m)
}

func TestDecodeErrors(t *testing.T) {
	_, err := serialize.Decode(cmn.CmdIntf, []byte{0xc1}) // reserved msgpack byte
	tassert.Fatalf(t, cmn.IsErrSerialization(err), "got %v", err)

	_, err = serialize.Decode(cmn.CmdBytes, nil)
	tassert.Fatalf(t, cmn.IsErrSerialization(err), "got %v", err)

	_, err = serialize.Decode(99, []byte{1})
	tassert.Fatalf(t, cmn.IsErrSerialization(err), "got %v", err)

	// truncated dense array
	cmd, payload, err := serialize.Encode([]int64{1, 2, 3})
	tassert.CheckFatal(t, err)
	_, err = serialize.Decode(cmd, payload[:len(payload)-1])
	tassert.Fatalf(t, cmn.IsErrSerialization(err), "got %v", err)
}
