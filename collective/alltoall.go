// Package collective implements the collective-operation controller and the
// algorithm family.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package collective

import (
	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/serialize"
	"github.com/gompi/gompi/topology"
)

// naiveAlltoall posts one direct send per peer and collects one chunk from
// every peer; there is no tree and no staging.
type naiveAlltoall struct {
	input any
	got   map[int]any
	reqBase
}

func newNaiveAlltoall(c Comm, tag int32, class ClassID, _ *topology.Tree, args Args) algorithm {
	return &naiveAlltoall{
		reqBase: newBase(c, tag, class, nil),
		input:   args.Data,
		got:     make(map[int]any, c.Size()),
	}
}

func (r *naiveAlltoall) start() {
	seq, err := toSlice(r.input)
	if err != nil {
		r.fail(err)
		return
	}
	size := r.c.Size()
	if len(seq) != size {
		r.fail(cmn.NewErrMPI("alltoall: %d items for %d ranks", len(seq), size))
		return
	}
	r.got[r.c.Rank()] = seq[r.c.Rank()]
	for peer := 0; peer < size; peer++ {
		if peer == r.c.Rank() {
			continue
		}
		r.sendValue(peer, seq[peer])
	}
	if len(r.got) == size {
		r.done()
	}
}

func (r *naiveAlltoall) acceptMsg(sender int, cmd uint16, payload []byte) bool {
	if r.finished() {
		return false
	}
	if _, dup := r.got[sender]; dup {
		return false
	}
	r.markDirty()
	v, err := serialize.Decode(cmd, payload)
	if err != nil {
		r.fail(err)
		return true
	}
	r.got[sender] = v
	if len(r.got) == r.c.Size() {
		r.done()
	}
	return true
}

func (r *naiveAlltoall) result() (any, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]any, r.c.Size())
	for rank, v := range r.got {
		out[rank] = v
	}
	return out, nil
}
