// Package group implements ordered sets of global ranks with the usual
// set algebra and rank translation. Groups are pure data: they reference no
// connections and no engine state.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package group

import (
	"github.com/gompi/gompi/cmn"
)

// Comparison results.
type CmpResult int

const (
	Unequal CmpResult = iota
	Similar           // same members, different order
	Ident             // same members, same order
)

func (r CmpResult) String() string {
	switch r {
	case Ident:
		return "IDENT"
	case Similar:
		return "SIMILAR"
	default:
		return "UNEQUAL"
	}
}

// Group is an immutable ordered set of global ranks. The position of a rank
// within the group is its group-local rank.
type Group struct {
	ranks []int
	index map[int]int // global rank -> position
}

// New builds a group from the given global ranks, preserving order and
// dropping duplicates.
func New(ranks ...int) *Group {
	g := &Group{
		ranks: make([]int, 0, len(ranks)),
		index: make(map[int]int, len(ranks)),
	}
	for _, r := range ranks {
		if _, ok := g.index[r]; ok {
			continue
		}
		g.index[r] = len(g.ranks)
		g.ranks = append(g.ranks, r)
	}
	return g
}

// WorldGroup is the group 0..size-1.
func WorldGroup(size int) *Group {
	ranks := make([]int, size)
	for i := range ranks {
		ranks[i] = i
	}
	return New(ranks...)
}

func (g *Group) Size() int { return len(g.ranks) }

// Ranks returns a copy of the member list in group order.
func (g *Group) Ranks() []int {
	out := make([]int, len(g.ranks))
	copy(out, g.ranks)
	return out
}

// Member reports whether the global rank belongs to the group.
func (g *Group) Member(globalRank int) bool {
	_, ok := g.index[globalRank]
	return ok
}

// Rank translates a global rank to its position within the group, or
// cmn.Undefined when the rank is not a member.
func (g *Group) Rank(globalRank int) int {
	if pos, ok := g.index[globalRank]; ok {
		return pos
	}
	return cmn.Undefined
}

// At returns the global rank at the given position.
func (g *Group) At(pos int) (int, error) {
	if pos < 0 || pos >= len(g.ranks) {
		return 0, cmn.NewErrNoSuchRank(pos)
	}
	return g.ranks[pos], nil
}

// Union keeps the receiver's order and appends other's novel members.
func (g *Group) Union(other *Group) *Group {
	merged := make([]int, 0, len(g.ranks)+other.Size())
	merged = append(merged, g.ranks...)
	merged = append(merged, other.ranks...)
	return New(merged...)
}

// Intersection keeps the receiver's order.
func (g *Group) Intersection(other *Group) *Group {
	kept := make([]int, 0, len(g.ranks))
	for _, r := range g.ranks {
		if other.Member(r) {
			kept = append(kept, r)
		}
	}
	return New(kept...)
}

// Difference keeps the receiver's members that other lacks, in order.
func (g *Group) Difference(other *Group) *Group {
	kept := make([]int, 0, len(g.ranks))
	for _, r := range g.ranks {
		if !other.Member(r) {
			kept = append(kept, r)
		}
	}
	return New(kept...)
}

// Incl builds a new group from the members at the given positions, in the
// given order.
func (g *Group) Incl(positions ...int) (*Group, error) {
	picked := make([]int, 0, len(positions))
	for _, pos := range positions {
		r, err := g.At(pos)
		if err != nil {
			return nil, err
		}
		picked = append(picked, r)
	}
	return New(picked...), nil
}

// Excl builds a new group of all members except those at the given
// positions, preserving order.
func (g *Group) Excl(positions ...int) (*Group, error) {
	drop := make(map[int]bool, len(positions))
	for _, pos := range positions {
		if pos < 0 || pos >= len(g.ranks) {
			return nil, cmn.NewErrNoSuchRank(pos)
		}
		drop[pos] = true
	}
	kept := make([]int, 0, len(g.ranks))
	for pos, r := range g.ranks {
		if !drop[pos] {
			kept = append(kept, r)
		}
	}
	return New(kept...), nil
}

// RangeIncl expands (first, last, stride) triplets over positions and incls
// the result. Strides must be non-zero; every expanded position must fall
// inside the group.
func (g *Group) RangeIncl(triplets ...[3]int) (*Group, error) {
	positions, err := g.expand(triplets)
	if err != nil {
		return nil, err
	}
	return g.Incl(positions...)
}

// RangeExcl is the complement of RangeIncl.
func (g *Group) RangeExcl(triplets ...[3]int) (*Group, error) {
	positions, err := g.expand(triplets)
	if err != nil {
		return nil, err
	}
	return g.Excl(positions...)
}

func (g *Group) expand(triplets [][3]int) ([]int, error) {
	var positions []int
	for _, t := range triplets {
		first, last, stride := t[0], t[1], t[2]
		if stride == 0 {
			return nil, &cmn.ErrInvalidStride{}
		}
		if (stride > 0 && first > last) || (stride < 0 && first < last) {
			return nil, cmn.NewErrInvalidRange(first, last, stride)
		}
		if first < 0 || first >= len(g.ranks) || last < 0 || last >= len(g.ranks) {
			return nil, cmn.NewErrInvalidRange(first, last, stride)
		}
		if stride > 0 {
			for pos := first; pos <= last; pos += stride {
				positions = append(positions, pos)
			}
		} else {
			for pos := first; pos >= last; pos += stride {
				positions = append(positions, pos)
			}
		}
	}
	return positions, nil
}

// Compare returns Ident for identical member order, Similar for equal sets
// in different order, Unequal otherwise.
func (g *Group) Compare(other *Group) CmpResult {
	if len(g.ranks) != other.Size() {
		return Unequal
	}
	ident := true
	for pos, r := range g.ranks {
		opos, ok := other.index[r]
		if !ok {
			return Unequal
		}
		if opos != pos {
			ident = false
		}
	}
	if ident {
		return Ident
	}
	return Similar
}

// TranslateRanks maps group-local ranks of the receiver to group-local
// ranks in other. Members missing from other translate to cmn.Undefined;
// positions outside the receiver are an error.
func (g *Group) TranslateRanks(positions []int, other *Group) ([]int, error) {
	out := make([]int, len(positions))
	for i, pos := range positions {
		r, err := g.At(pos)
		if err != nil {
			return nil, err
		}
		out[i] = other.Rank(r)
	}
	return out, nil
}
