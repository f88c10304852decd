//go:build debug

// Package debug provides debug utilities
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package debug

import (
	"fmt"
	"strings"
)

func ON() bool { return true }

func Func(f func()) { f() }

func Assert(cond bool, args ...any) {
	if !cond {
		if len(args) == 0 {
			panic("assertion failed")
		}
		panic("assertion failed: " + fmt.Sprint(args...))
	}
}

func AssertFunc(f func() bool, args ...any) { Assert(f(), args...) }

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		var sb strings.Builder
		sb.WriteString("assertion failed: ")
		fmt.Fprintf(&sb, format, args...)
		panic(sb.String())
	}
}
