// Package collective implements the collective-operation controller and the
// algorithm family.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package collective

import (
	"github.com/pkg/errors"
)

// Op is an associative reduction operator. When Commutative is false the
// engine folds contributions strictly in ascending rank order.
type Op struct {
	Fn          func(a, b any) (any, error)
	Name        string
	Commutative bool
}

// Built-in operators over the numeric universe the serializer round-trips
// (signed ints arrive as int64; unsigned ints and float32 values can keep
// their own width, which coerce accepts as well). Min and Max additionally
// order strings.
var (
	OpSum = &Op{Name: "sum", Commutative: true, Fn: func(a, b any) (any, error) {
		return arith(a, b, func(x, y int64) int64 { return x + y }, func(x, y float64) float64 { return x + y })
	}}
	OpProd = &Op{Name: "prod", Commutative: true, Fn: func(a, b any) (any, error) {
		return arith(a, b, func(x, y int64) int64 { return x * y }, func(x, y float64) float64 { return x * y })
	}}
	OpMin = &Op{Name: "min", Commutative: true, Fn: func(a, b any) (any, error) {
		return order(a, b, true)
	}}
	OpMax = &Op{Name: "max", Commutative: true, Fn: func(a, b any) (any, error) {
		return order(a, b, false)
	}}
)

func arith(a, b any, fi func(x, y int64) int64, ff func(x, y float64) float64) (any, error) {
	ai, af, aIsInt, err := coerce(a)
	if err != nil {
		return nil, err
	}
	bi, bf, bIsInt, err := coerce(b)
	if err != nil {
		return nil, err
	}
	if aIsInt && bIsInt {
		return fi(ai, bi), nil
	}
	return ff(af, bf), nil
}

func order(a, b any, min bool) (any, error) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return nil, errors.Errorf("cannot order %T against %T", a, b)
		}
		if (as < bs) == min {
			return as, nil
		}
		return bs, nil
	}
	_, af, _, err := coerce(a)
	if err != nil {
		return nil, err
	}
	_, bf, _, err := coerce(b)
	if err != nil {
		return nil, err
	}
	if (af < bf) == min {
		return a, nil
	}
	return b, nil
}

func coerce(v any) (i int64, f float64, isInt bool, err error) {
	switch x := v.(type) {
	case int:
		return int64(x), float64(x), true, nil
	case int8:
		return int64(x), float64(x), true, nil
	case int16:
		return int64(x), float64(x), true, nil
	case int32:
		return int64(x), float64(x), true, nil
	case int64:
		return x, float64(x), true, nil
	case uint:
		return int64(x), float64(x), true, nil
	case uint8:
		return int64(x), float64(x), true, nil
	case uint16:
		return int64(x), float64(x), true, nil
	case uint32:
		return int64(x), float64(x), true, nil
	case uint64:
		return int64(x), float64(x), true, nil
	case float32:
		return 0, float64(x), false, nil
	case float64:
		return 0, x, false, nil
	}
	return 0, 0, false, errors.Errorf("non-numeric operand %T", v)
}
