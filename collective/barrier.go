// Package collective implements the collective-operation controller and the
// algorithm family.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package collective

import (
	"github.com/gompi/gompi/cmn/debug"
	"github.com/gompi/gompi/topology"
)

// treeBarrier runs two traversals: tokens flow up from the leaves, and once
// the root has heard from every child a release token flows back down. A
// rank leaves the barrier after forwarding the downward token.
type treeBarrier struct {
	missingChildren map[int]bool
	reqBase
	waitParent bool
}

func newTreeBarrier(c Comm, tag int32, class ClassID, topo *topology.Tree, args Args) algorithm {
	debug.Assert(topo != nil)
	r := &treeBarrier{
		reqBase:         newBase(c, tag, class, topo),
		missingChildren: make(map[int]bool, len(topo.Children())),
	}
	for _, child := range topo.Children() {
		r.missingChildren[child] = true
	}
	return r
}

func (r *treeBarrier) start() {
	if len(r.missingChildren) > 0 {
		return // interior: wait for the children first
	}
	if r.topo.IsRoot() {
		r.done() // single-rank communicator
		return
	}
	r.sendParent()
}

func (r *treeBarrier) sendParent() {
	r.sendValue(r.topo.Parent(), nil)
	r.waitParent = true
}

func (r *treeBarrier) sendChildren() {
	for _, child := range r.topo.Children() {
		r.sendValue(child, nil)
	}
	r.done()
}

func (r *treeBarrier) acceptMsg(sender int, _ uint16, _ []byte) bool {
	if r.finished() {
		return false
	}
	if r.waitParent {
		if sender != r.topo.Parent() {
			return false
		}
		r.sendChildren()
		return true
	}
	if !r.missingChildren[sender] {
		return false
	}
	r.markDirty()
	delete(r.missingChildren, sender)
	if len(r.missingChildren) > 0 {
		return true
	}
	if r.topo.IsRoot() {
		r.sendChildren()
	} else {
		r.sendParent()
	}
	return true
}

func (r *treeBarrier) result() (any, error) { return nil, r.err }
