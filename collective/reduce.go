// Package collective implements the collective-operation controller and the
// algorithm family.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package collective

import (
	"sort"

	"github.com/gompi/gompi/cmn/debug"
	"github.com/gompi/gompi/serialize"
	"github.com/gompi/gompi/topology"
)

// The reduce family moves per-rank contributions up the tree as rank-keyed
// partial maps: an interior node merges each child's subtree into its own
// map and forwards the union. Folding happens once, at the root, strictly
// in ascending rank order, which keeps non-commutative operators honest.

type reduceUp struct {
	op      *Op
	values  map[int]any
	missing map[int]bool
	reqBase
}

func makeReduceUp(c Comm, tag int32, class ClassID, topo *topology.Tree, args Args) reduceUp {
	debug.Assert(topo != nil)
	up := reduceUp{
		reqBase: newBase(c, tag, class, topo),
		op:      args.Op,
		values:  map[int]any{c.Rank(): args.Data},
		missing: make(map[int]bool, len(topo.Children())),
	}
	for _, child := range topo.Children() {
		up.missing[child] = true
	}
	return up
}

func (r *reduceUp) sendUp() {
	r.sendValue(r.topo.Parent(), packPartial(r.values))
}

// absorb merges one child's subtree partial; reports completion of the up
// phase.
func (r *reduceUp) absorb(sender int, cmd uint16, payload []byte) (consumed, complete bool) {
	if !r.missing[sender] {
		return false, false
	}
	r.markDirty()
	v, err := serialize.Decode(cmd, payload)
	if err != nil {
		r.fail(err)
		return true, false
	}
	part, err := unpackPartial(v)
	if err != nil {
		r.fail(err)
		return true, false
	}
	for rank, val := range part {
		r.values[rank] = val
	}
	delete(r.missing, sender)
	return true, len(r.missing) == 0
}

// fold reduces the complete value map in ascending rank order.
func (r *reduceUp) fold() (any, error) {
	ranks := make([]int, 0, len(r.values))
	for rank := range r.values {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	acc := r.values[ranks[0]]
	for _, rank := range ranks[1:] {
		var err error
		if acc, err = r.op.Fn(acc, r.values[rank]); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// prefixes folds 0..r for every rank r, ascending.
func (r *reduceUp) prefixes() (map[int]any, error) {
	ranks := make([]int, 0, len(r.values))
	for rank := range r.values {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	out := make(map[int]any, len(ranks))
	acc := r.values[ranks[0]]
	out[ranks[0]] = acc
	for _, rank := range ranks[1:] {
		var err error
		if acc, err = r.op.Fn(acc, r.values[rank]); err != nil {
			return nil, err
		}
		out[rank] = acc
	}
	return out, nil
}

///////////////
// reduce    //
///////////////

type treeReduce struct {
	out any
	reduceUp
}

func newTreeReduce(c Comm, tag int32, class ClassID, topo *topology.Tree, args Args) algorithm {
	return &treeReduce{reduceUp: makeReduceUp(c, tag, class, topo, args)}
}

func (r *treeReduce) start() {
	if len(r.missing) > 0 {
		return
	}
	r.finishUp()
}

func (r *treeReduce) finishUp() {
	if r.topo.IsRoot() {
		out, err := r.fold()
		if err != nil {
			r.fail(err)
			return
		}
		r.out = out
		r.done()
		return
	}
	r.sendUp()
	r.done()
}

func (r *treeReduce) acceptMsg(sender int, cmd uint16, payload []byte) bool {
	if r.finished() {
		return false
	}
	consumed, complete := r.absorb(sender, cmd, payload)
	if complete {
		r.finishUp()
	}
	return consumed
}

func (r *treeReduce) result() (any, error) { return r.out, r.err }

///////////////
// allreduce //
///////////////

// treeAllreduce reduces up and broadcasts the folded result back down the
// same tree; interior nodes forward the root's encoding unchanged.
type treeAllreduce struct {
	out        any
	resRaw     []byte
	reduceUp
	resCmd     uint16
	waitParent bool
}

func newTreeAllreduce(c Comm, tag int32, class ClassID, topo *topology.Tree, args Args) algorithm {
	return &treeAllreduce{reduceUp: makeReduceUp(c, tag, class, topo, args)}
}

func (r *treeAllreduce) start() {
	if len(r.missing) > 0 {
		return
	}
	r.finishUp()
}

func (r *treeAllreduce) finishUp() {
	if r.topo.IsRoot() {
		out, err := r.fold()
		if err != nil {
			r.fail(err)
			return
		}
		r.out = out
		cmd, payload, err := serialize.Encode(out)
		if err != nil {
			r.fail(err)
			return
		}
		for _, child := range r.topo.Children() {
			r.sendRaw(child, cmd, payload)
		}
		r.done()
		return
	}
	r.sendUp()
	r.waitParent = true
}

func (r *treeAllreduce) acceptMsg(sender int, cmd uint16, payload []byte) bool {
	if r.finished() {
		return false
	}
	if r.waitParent {
		if sender != r.topo.Parent() {
			return false
		}
		r.resCmd, r.resRaw = cmd, payload
		for _, child := range r.topo.Children() {
			r.sendRaw(child, cmd, payload)
		}
		r.done()
		return true
	}
	consumed, complete := r.absorb(sender, cmd, payload)
	if complete {
		r.finishUp()
	}
	return consumed
}

func (r *treeAllreduce) result() (any, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.topo.IsRoot() {
		return r.out, nil
	}
	return serialize.Decode(r.resCmd, r.resRaw)
}

//////////
// scan //
//////////

// treeScan reduces up, then the root computes the prefix fold for every
// rank and scatters each subtree its slice of the prefix map.
type treeScan struct {
	out        any
	reduceUp
	waitParent bool
}

func newTreeScan(c Comm, tag int32, class ClassID, topo *topology.Tree, args Args) algorithm {
	return &treeScan{reduceUp: makeReduceUp(c, tag, class, topo, args)}
}

func (r *treeScan) start() {
	if len(r.missing) > 0 {
		return
	}
	r.finishUp()
}

func (r *treeScan) finishUp() {
	if r.topo.IsRoot() {
		pfx, err := r.prefixes()
		if err != nil {
			r.fail(err)
			return
		}
		r.out = pfx[r.c.Rank()]
		r.sendDown(pfx)
		r.done()
		return
	}
	r.sendUp()
	r.waitParent = true
}

func (r *treeScan) sendDown(pfx map[int]any) {
	for _, child := range r.topo.Children() {
		r.sendValue(child, packPartial(subset(pfx, r.topo.Subtree(child))))
	}
}

func (r *treeScan) acceptMsg(sender int, cmd uint16, payload []byte) bool {
	if r.finished() {
		return false
	}
	if r.waitParent {
		if sender != r.topo.Parent() {
			return false
		}
		v, err := serialize.Decode(cmd, payload)
		if err != nil {
			r.fail(err)
			return true
		}
		pfx, err := unpackPartial(v)
		if err != nil {
			r.fail(err)
			return true
		}
		r.out = pfx[r.c.Rank()]
		r.sendDown(pfx)
		r.done()
		return true
	}
	consumed, complete := r.absorb(sender, cmd, payload)
	if complete {
		r.finishUp()
	}
	return consumed
}

func (r *treeScan) result() (any, error) { return r.out, r.err }
