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

// treeBcast is the generic tree broadcast: the root encodes once and sends
// to its children; every other rank waits for its parent's frame and
// forwards the bytes unchanged (transit; the payload is decoded exactly
// once, by result, on the ranks that need it).
type treeBcast struct {
	data any    // root's input
	raw  []byte // received encoding (non-root)
	reqBase
	cmd    uint16
	isRoot bool
}

func newTreeBcast(c Comm, tag int32, class ClassID, topo *topology.Tree, args Args) algorithm {
	debug.Assert(topo != nil)
	return &treeBcast{
		reqBase: newBase(c, tag, class, topo),
		data:    args.Data,
		isRoot:  topo.IsRoot(),
	}
}

func (r *treeBcast) start() {
	if !r.isRoot {
		return
	}
	cmd, payload, err := serialize.Encode(r.data)
	if err != nil {
		r.fail(err)
		return
	}
	for _, child := range r.topo.Children() {
		r.sendRaw(child, cmd, payload)
	}
	r.done()
}

func (r *treeBcast) acceptMsg(sender int, cmd uint16, payload []byte) bool {
	if r.finished() || sender != r.topo.Parent() {
		return false
	}
	r.markDirty()
	r.raw, r.cmd = payload, cmd
	for _, child := range r.topo.Children() {
		r.sendRaw(child, cmd, payload)
	}
	r.done()
	return true
}

func (r *treeBcast) result() (any, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.isRoot {
		return r.data, nil
	}
	return serialize.Decode(r.cmd, r.raw)
}
