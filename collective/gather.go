// Package collective implements the collective-operation controller and the
// algorithm family.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package collective

import (
	"math/bits"

	"github.com/gompi/gompi/cmn/debug"
	"github.com/gompi/gompi/serialize"
	"github.com/gompi/gompi/topology"
)

/////////////////
// tree gather //
/////////////////

// treeGather is the inverse of scatter: each child sends its subtree's
// contributions up as a rank-keyed map; the root assembles the ordered
// sequence.
type treeGather struct {
	values  map[int]any
	missing map[int]bool
	out     []any
	reqBase
}

func newTreeGather(c Comm, tag int32, class ClassID, topo *topology.Tree, args Args) algorithm {
	debug.Assert(topo != nil)
	r := &treeGather{
		reqBase: newBase(c, tag, class, topo),
		values:  map[int]any{c.Rank(): args.Data},
		missing: make(map[int]bool, len(topo.Children())),
	}
	for _, child := range topo.Children() {
		r.missing[child] = true
	}
	return r
}

func (r *treeGather) start() {
	if len(r.missing) > 0 {
		return
	}
	r.finishUp()
}

func (r *treeGather) finishUp() {
	if r.topo.IsRoot() {
		r.out = make([]any, r.topo.Size())
		for rank, v := range r.values {
			r.out[rank] = v
		}
		r.done()
		return
	}
	r.sendValue(r.topo.Parent(), packPartial(r.values))
	r.done()
}

func (r *treeGather) acceptMsg(sender int, cmd uint16, payload []byte) bool {
	if r.finished() || !r.missing[sender] {
		return false
	}
	r.markDirty()
	v, err := serialize.Decode(cmd, payload)
	if err != nil {
		r.fail(err)
		return true
	}
	part, err := unpackPartial(v)
	if err != nil {
		r.fail(err)
		return true
	}
	for rank, val := range part {
		r.values[rank] = val
	}
	delete(r.missing, sender)
	if len(r.missing) == 0 {
		r.finishUp()
	}
	return true
}

func (r *treeGather) result() (any, error) { return r.out, r.err }

///////////////////////////////
// dissemination allgather   //
///////////////////////////////

// disseminationAllgather runs ceil(log2(size)) rounds: in round k every
// rank sends its accumulated buffer to (rank + 2^k) mod size and merges
// the buffer arriving from (rank - 2^k) mod size. Frames from later
// rounds that arrive early are stashed until their round comes up.
type disseminationAllgather struct {
	values    map[int]any
	stash     map[int]stashed
	srcRound  map[int]int // expected sender -> round
	reqBase
	round  int
	rounds int
}

type stashed struct {
	payload []byte
	cmd     uint16
}

func newDisseminationAllgather(c Comm, tag int32, class ClassID, _ *topology.Tree, args Args) algorithm {
	size := c.Size()
	r := &disseminationAllgather{
		reqBase:  newBase(c, tag, class, nil),
		values:   map[int]any{c.Rank(): args.Data},
		stash:    make(map[int]stashed),
		srcRound: make(map[int]int),
		rounds:   bits.Len(uint(size - 1)),
	}
	for k := 0; k < r.rounds; k++ {
		src := ((c.Rank()-(1<<k))%size + size) % size
		r.srcRound[src] = k
	}
	return r
}

func (r *disseminationAllgather) start() {
	if r.rounds == 0 {
		r.done()
		return
	}
	r.sendRound()
}

func (r *disseminationAllgather) sendRound() {
	dst := (r.c.Rank() + (1 << r.round)) % r.c.Size()
	r.sendValue(dst, packPartial(r.values))
}

func (r *disseminationAllgather) acceptMsg(sender int, cmd uint16, payload []byte) bool {
	if r.finished() {
		return false
	}
	round, expected := r.srcRound[sender]
	if !expected || round < r.round {
		// round already served: the frame belongs to a later collective
		return false
	}
	if round > r.round {
		r.stash[sender] = stashed{payload: payload, cmd: cmd}
		return true
	}
	return r.advance(cmd, payload)
}

func (r *disseminationAllgather) advance(cmd uint16, payload []byte) bool {
	for {
		v, err := serialize.Decode(cmd, payload)
		if err != nil {
			r.fail(err)
			return true
		}
		part, err := unpackPartial(v)
		if err != nil {
			r.fail(err)
			return true
		}
		for rank, val := range part {
			if _, ok := r.values[rank]; !ok {
				r.values[rank] = val
			}
		}
		r.round++
		if r.round == r.rounds {
			debug.Assertf(len(r.values) == r.c.Size(), "(%d, %d)", len(r.values), r.c.Size())
			r.done()
			return true
		}
		r.sendRound()

		src := ((r.c.Rank()-(1<<r.round))%r.c.Size() + r.c.Size()) % r.c.Size()
		next, ok := r.stash[src]
		if !ok {
			return true
		}
		delete(r.stash, src)
		cmd, payload = next.cmd, next.payload
	}
}

func (r *disseminationAllgather) result() (any, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]any, r.c.Size())
	for rank, v := range r.values {
		out[rank] = v
	}
	return out, nil
}
