// Package collective implements the collective-operation controller and the
// algorithm family.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package collective

import (
	"reflect"
	"strconv"

	"github.com/gompi/gompi/cmn"
	"github.com/pkg/errors"
)

// Tree reduce/scan/scatter/gather move per-rank contributions around as
// rank-keyed maps. Keys go over the wire as decimal strings so the maps
// stay inside the serializer's object-graph universe.

func packPartial(values map[int]any) map[string]any {
	out := make(map[string]any, len(values))
	for rank, v := range values {
		out[strconv.Itoa(rank)] = v
	}
	return out
}

func unpackPartial(v any) (map[int]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, cmn.NewErrMPI("bad partial payload %T", v)
	}
	out := make(map[int]any, len(m))
	for key, val := range m {
		rank, err := strconv.Atoi(key)
		if err != nil {
			return nil, cmn.NewErrMPI("bad partial key %q", key)
		}
		out[rank] = val
	}
	return out, nil
}

// subset keeps the entries for the given ranks (missing ranks stay absent).
func subset(values map[int]any, ranks []int) map[int]any {
	out := make(map[int]any, len(ranks))
	for _, r := range ranks {
		if v, ok := values[r]; ok {
			out[r] = v
		}
	}
	return out
}

// toSlice views any slice or array value as []any.
func toSlice(v any) ([]any, error) {
	if s, ok := v.([]any); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, errors.Errorf("expected a sequence, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
