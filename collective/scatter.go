// Package collective implements the collective-operation controller and the
// algorithm family.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package collective

import (
	"github.com/gompi/gompi/cmn/debug"
	"github.com/gompi/gompi/serialize"
	"github.com/gompi/gompi/topology"
)

// treeScatter partitions the root's sequence into size equal chunks and
// routes each chunk down the tree: a child receives the chunks for its
// whole subtree and strips its own on the way. When the input length is
// not divisible by the communicator size the trailing remainder is
// dropped.
type treeScatter struct {
	input  any
	chunks map[int]any
	own    any
	reqBase
}

func newTreeScatter(c Comm, tag int32, class ClassID, topo *topology.Tree, args Args) algorithm {
	debug.Assert(topo != nil)
	return &treeScatter{
		reqBase: newBase(c, tag, class, topo),
		input:   args.Data,
	}
}

func (r *treeScatter) start() {
	if !r.topo.IsRoot() {
		return
	}
	seq, err := toSlice(r.input)
	if err != nil {
		r.fail(err)
		return
	}
	size := r.topo.Size()
	chunk := len(seq) / size // remainder silently dropped
	r.chunks = make(map[int]any, size)
	for rank := 0; rank < size; rank++ {
		r.chunks[rank] = seq[rank*chunk : (rank+1)*chunk]
	}
	r.forward()
}

// forward sends every child the chunks of its subtree, keeps the local
// chunk, and completes.
func (r *treeScatter) forward() {
	for _, child := range r.topo.Children() {
		r.sendValue(child, packPartial(subset(r.chunks, r.topo.Subtree(child))))
	}
	r.own = r.chunks[r.c.Rank()]
	r.done()
}

func (r *treeScatter) acceptMsg(sender int, cmd uint16, payload []byte) bool {
	if r.finished() || sender != r.topo.Parent() {
		return false
	}
	r.markDirty()
	v, err := serialize.Decode(cmd, payload)
	if err != nil {
		r.fail(err)
		return true
	}
	chunks, err := unpackPartial(v)
	if err != nil {
		r.fail(err)
		return true
	}
	r.chunks = chunks
	r.forward()
	return true
}

func (r *treeScatter) result() (any, error) { return r.own, r.err }
