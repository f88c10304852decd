// Package collective implements the collective-operation controller and the
// algorithm family.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package collective

import (
	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/topology"
)

type (
	buildFn func(c Comm, tag int32, class ClassID, topo *topology.Tree, args Args) algorithm

	classEntry struct {
		build      buildFn
		treePrefix string // "" accepts every size
		id         ClassID
		kind       topology.Kind
		hasTree    bool
	}

	tagEntry struct {
		prefix  string // settings override prefix, e.g. "BCAST"
		entries []classEntry
	}

	pendingFrame struct {
		payload []byte
		sender  int
		cmd     uint16
		class   ClassID
	}

	// Controller owns the per-tag registry of algorithm classes for one
	// communicator: it constructs accepted requests, routes inbound
	// collective frames to them, and drives dynamic overtaking. All methods
	// run on the engine's dispatcher goroutine.
	Controller struct {
		c        Comm
		active   map[int32][]*Handle
		deferred map[int32][]pendingFrame

		// OnOvertake is an optional hook (stats).
		OnOvertake func()
	}
)

// The tag <-> algorithm-class mapping. For each tag the first class whose
// accept bounds admit the communicator size wins.
var registry = map[int32]tagEntry{
	cmn.TagBcast: {prefix: "BCAST", entries: []classEntry{
		{id: ClassFlatBcast, kind: topology.Flat, hasTree: true, treePrefix: cmn.PrefixFlatTree, build: newTreeBcast},
		{id: ClassBinomialBcast, kind: topology.Binomial, hasTree: true, treePrefix: cmn.PrefixBinomialTree, build: newTreeBcast},
		{id: ClassStaticBcast, kind: topology.StaticFanout, hasTree: true, treePrefix: cmn.PrefixStaticFanout, build: newTreeBcast},
	}},
	cmn.TagBarrier: {prefix: "BARRIER", entries: []classEntry{
		{id: ClassFlatBarrier, kind: topology.Flat, hasTree: true, treePrefix: cmn.PrefixFlatTree, build: newTreeBarrier},
		{id: ClassBinomialBarrier, kind: topology.Binomial, hasTree: true, treePrefix: cmn.PrefixBinomialTree, build: newTreeBarrier},
		{id: ClassStaticBarrier, kind: topology.StaticFanout, hasTree: true, treePrefix: cmn.PrefixStaticFanout, build: newTreeBarrier},
	}},
	cmn.TagReduce: {prefix: "REDUCE", entries: []classEntry{
		{id: ClassFlatReduce, kind: topology.Flat, hasTree: true, treePrefix: cmn.PrefixFlatTree, build: newTreeReduce},
		{id: ClassBinomialReduce, kind: topology.Binomial, hasTree: true, treePrefix: cmn.PrefixBinomialTree, build: newTreeReduce},
		{id: ClassStaticReduce, kind: topology.StaticFanout, hasTree: true, treePrefix: cmn.PrefixStaticFanout, build: newTreeReduce},
	}},
	cmn.TagAllreduce: {prefix: "ALLREDUCE", entries: []classEntry{
		{id: ClassFlatAllreduce, kind: topology.Flat, hasTree: true, treePrefix: cmn.PrefixFlatTree, build: newTreeAllreduce},
		{id: ClassBinomialAllreduce, kind: topology.Binomial, hasTree: true, treePrefix: cmn.PrefixBinomialTree, build: newTreeAllreduce},
		{id: ClassStaticAllreduce, kind: topology.StaticFanout, hasTree: true, treePrefix: cmn.PrefixStaticFanout, build: newTreeAllreduce},
	}},
	cmn.TagScan: {prefix: "SCAN", entries: []classEntry{
		{id: ClassFlatScan, kind: topology.Flat, hasTree: true, treePrefix: cmn.PrefixFlatTree, build: newTreeScan},
		{id: ClassBinomialScan, kind: topology.Binomial, hasTree: true, treePrefix: cmn.PrefixBinomialTree, build: newTreeScan},
		{id: ClassStaticScan, kind: topology.StaticFanout, hasTree: true, treePrefix: cmn.PrefixStaticFanout, build: newTreeScan},
	}},
	cmn.TagScatter: {prefix: "SCATTER", entries: []classEntry{
		{id: ClassFlatScatter, kind: topology.Flat, hasTree: true, treePrefix: cmn.PrefixFlatTree, build: newTreeScatter},
		{id: ClassBinomialScatter, kind: topology.Binomial, hasTree: true, treePrefix: cmn.PrefixBinomialTree, build: newTreeScatter},
		{id: ClassStaticScatter, kind: topology.StaticFanout, hasTree: true, treePrefix: cmn.PrefixStaticFanout, build: newTreeScatter},
	}},
	cmn.TagGather: {prefix: "GATHER", entries: []classEntry{
		{id: ClassFlatGather, kind: topology.Flat, hasTree: true, treePrefix: cmn.PrefixFlatTree, build: newTreeGather},
		{id: ClassBinomialGather, kind: topology.Binomial, hasTree: true, treePrefix: cmn.PrefixBinomialTree, build: newTreeGather},
		{id: ClassStaticGather, kind: topology.StaticFanout, hasTree: true, treePrefix: cmn.PrefixStaticFanout, build: newTreeGather},
	}},
	cmn.TagAllgather: {prefix: "ALLGATHER", entries: []classEntry{
		{id: ClassDisseminationAllgather, build: newDisseminationAllgather},
	}},
	cmn.TagAlltoall: {prefix: "ALLTOALL", entries: []classEntry{
		{id: ClassNaiveAlltoall, build: newNaiveAlltoall},
	}},
}

func NewController(c Comm) *Controller {
	return &Controller{
		c:        c,
		active:   make(map[int32][]*Handle),
		deferred: make(map[int32][]pendingFrame),
	}
}

// Registered reports whether a tag belongs to the controller.
func (ct *Controller) Registered(tag int32) bool {
	_, ok := registry[tag]
	return ok
}

// Start runs acceptance for a tag: candidate classes are tried in order and
// the first whose bounds admit the communicator size is constructed and
// started. Frames that arrived ahead of the posting are replayed.
func (ct *Controller) Start(tag int32, args Args) (*Handle, error) {
	reg, ok := registry[tag]
	if !ok {
		return nil, cmn.NewErrMPI("no collective registered for tag %d", tag)
	}
	size := ct.c.Size()
	for _, e := range reg.entries {
		if e.treePrefix != "" {
			accMin, accMax := ct.c.Settings().AcceptRange(reg.prefix, e.treePrefix)
			if size < accMin || size > accMax {
				continue
			}
		}
		var topo *topology.Tree
		if e.hasTree {
			topo = ct.c.Tree(e.kind, args.Root)
		}
		alg := e.build(ct.c, tag, e.id, topo, args)
		h := &Handle{alg: alg, args: args, tag: tag}
		ct.active[tag] = append(ct.active[tag], h)
		alg.start()
		ct.replay(tag)
		ct.prune(tag)
		return h, nil
	}
	return nil, cmn.NewErrMPI("no algorithm class accepted tag %d (size %d)", tag, size)
}

// Deliver routes one inbound collective frame. A frame that no active
// request consumes is parked until the matching collective is posted.
func (ct *Controller) Deliver(sender int, tag int32, cmd uint16, collHdr, payload []byte) {
	ct.deliver(tag, pendingFrame{
		payload: payload,
		sender:  sender,
		cmd:     cmd,
		class:   DecodeCollHdr(collHdr),
	})
}

func (ct *Controller) deliver(tag int32, pf pendingFrame) {
	for _, h := range ct.active[tag] {
		alg := h.current()
		b := alg.base()
		if b.finished() {
			continue
		}
		// Dynamic overtaking: the sender advertised a different class and
		// this request has not exchanged a single message yet.
		if pf.class != ClassNone && pf.class != b.class && !b.dirty {
			if overtaker := ct.overtake(h, pf.class); overtaker != nil {
				alg = overtaker
				b = alg.base()
			}
		}
		if alg.acceptMsg(pf.sender, pf.cmd, pf.payload) {
			ct.prune(tag)
			return
		}
	}
	ct.deferred[tag] = append(ct.deferred[tag], pf)
}

// overtake rebuilds the request as the advertised class with the original
// arguments: the new request starts dirty (it can never be overtaken
// itself) and chains its completion to the original's event.
func (ct *Controller) overtake(h *Handle, class ClassID) algorithm {
	reg := registry[h.tag]
	for _, e := range reg.entries {
		if e.id != class {
			continue
		}
		var topo *topology.Tree
		if e.hasTree {
			topo = ct.c.Tree(e.kind, h.args.Root) // cache carries the topology over
		}
		alg := e.build(ct.c, h.tag, e.id, topo, h.args)
		b := alg.base()
		b.parentFin = h.alg.base().fin
		b.dirty = true
		h.inner = &Handle{alg: alg, args: h.args, tag: h.tag}
		if ct.OnOvertake != nil {
			ct.OnOvertake()
		}
		ct.c.Logp().WithField("tag", h.tag).Debugf("overtaking class %d -> %d", h.alg.base().class, class)
		alg.start()
		return alg
	}
	return nil
}

func (ct *Controller) replay(tag int32) {
	parked := ct.deferred[tag]
	if len(parked) == 0 {
		return
	}
	delete(ct.deferred, tag)
	for _, pf := range parked {
		ct.deliver(tag, pf)
	}
}

func (ct *Controller) prune(tag int32) {
	hs := ct.active[tag]
	kept := hs[:0]
	for _, h := range hs {
		if !h.alg.base().fin.IsSet() {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(ct.active, tag)
		return
	}
	ct.active[tag] = kept
}
