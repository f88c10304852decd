// Package mpi hosts the per-process communication engine.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package mpi

import (
	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/collective"
	"github.com/gompi/gompi/group"
	"github.com/gompi/gompi/serialize"
	"github.com/gompi/gompi/topology"
	"github.com/gompi/gompi/transport"
	"github.com/sirupsen/logrus"
)

// Wildcards re-exported for callers.
const (
	AnySource = cmn.AnySource
	AnyTag    = cmn.AnyTag
	Undefined = cmn.Undefined
)

// Reduction operators.
type Op = collective.Op

var (
	OpSum  = collective.OpSum
	OpProd = collective.OpProd
	OpMin  = collective.OpMin
	OpMax  = collective.OpMax
)

// Comm is a named, immutable group of ranks with a stable id. It references
// the engine and exposes the user-facing operations; rank and size are
// constant over its lifetime.
type Comm struct {
	eng      *MPI
	grp      *group.Group
	settings *cmn.Settings
	topo     *topology.Cache
	ctrl     *collective.Controller
	name     string
	id       uint32
	rank     int // local rank within the communicator
}

// interface guard
var _ collective.Comm = (*Comm)(nil)

func newComm(eng *MPI, id uint32, name string, grp *group.Group, settings *cmn.Settings) *Comm {
	c := &Comm{
		eng:      eng,
		grp:      grp,
		settings: settings,
		name:     name,
		id:       id,
		rank:     grp.Rank(eng.rank),
	}
	c.topo = topology.NewCache(grp.Size(), c.rank, settings.StaticFanout)
	c.ctrl = collective.NewController(c)
	c.ctrl.OnOvertake = eng.tr.Overtaken
	return c
}

func (c *Comm) Rank() int              { return c.rank }
func (c *Comm) Size() int              { return c.grp.Size() }
func (c *Comm) Name() string           { return c.name }
func (c *Comm) CommName() string       { return c.name }
func (c *Comm) ID() uint32             { return c.id }
func (c *Comm) Group() *group.Group    { return c.grp }
func (c *Comm) Settings() *cmn.Settings { return c.settings }
func (c *Comm) Logp() *logrus.Entry    { return c.eng.logp }
func (c *Comm) Wtime() float64         { return c.eng.Wtime() }

func (c *Comm) Tree(kind topology.Kind, root int) *topology.Tree { return c.topo.Get(kind, root) }

// route frames a message to the comm-local destination. A self-directed
// frame loops back through the dispatcher without touching the wire.
func (c *Comm) route(dst int, f *transport.Frame) error {
	global, err := c.grp.At(dst)
	if err != nil {
		return err
	}
	if global == c.eng.rank {
		c.eng.enqueueFrame(f)
		return nil
	}
	return c.eng.node.Send(global, f)
}

// SendValue encodes and frames a collective payload (collective.Comm).
func (c *Comm) SendValue(dst int, tag int32, class collective.ClassID, v any) error {
	cmd, payload, err := serialize.Encode(v)
	if err != nil {
		return err
	}
	return c.SendRaw(dst, tag, class, cmd, payload)
}

// SendRaw frames already-encoded bytes (transit forwarding).
func (c *Comm) SendRaw(dst int, tag int32, class collective.ClassID, cmd uint16, payload []byte) error {
	f := &transport.Frame{
		CollHdr: collective.EncodeCollHdr(class),
		Payload: payload,
		Hdr: transport.Header{
			Command:  cmd,
			Sender:   uint32(c.rank),
			Receiver: uint32(dst),
			CommID:   c.id,
			Tag:      tag,
		},
	}
	return c.route(dst, f)
}

///////////////////////////
// point-to-point surface //
///////////////////////////

func (c *Comm) checkSend(dest, tag int) error {
	if dest < 0 || dest >= c.Size() {
		return cmn.NewErrNoSuchRank(dest)
	}
	if tag < 0 {
		return cmn.NewErrMPI("tag %d: user tags are non-negative", tag)
	}
	return nil
}

func (c *Comm) checkRecv(source, tag int) error {
	if source != cmn.AnySource && (source < 0 || source >= c.Size()) {
		return cmn.NewErrNoSuchRank(source)
	}
	if tag != cmn.AnyTag && tag < 0 {
		return cmn.NewErrMPI("tag %d: user tags are non-negative", tag)
	}
	return nil
}

func (c *Comm) sendFrame(v any, dest, tag int, ack bool) error {
	cmd, payload, err := serialize.Encode(v)
	if err != nil {
		return err
	}
	f := &transport.Frame{
		Payload: payload,
		Hdr: transport.Header{
			Command:     cmd,
			Sender:      uint32(c.rank),
			Receiver:    uint32(dest),
			CommID:      c.id,
			Tag:         int32(tag),
			AckRequired: ack,
		},
	}
	return c.eng.escalate(c.route(dest, f))
}

// Send completes once the payload is handed to the transport.
func (c *Comm) Send(v any, dest, tag int) error {
	if err := c.checkSend(dest, tag); err != nil {
		return err
	}
	return c.sendFrame(v, dest, tag, false)
}

// Isend is the non-blocking variant; the returned request is already
// complete once the transport accepted the bytes.
func (c *Comm) Isend(v any, dest, tag int) (*Request, error) {
	if err := c.checkSend(dest, tag); err != nil {
		return nil, err
	}
	req := &Request{kind: KindSend, comm: c, peer: dest, tag: int32(tag), ev: cmn.NewEvent()}
	c.eng.table.insert(req)
	if err := c.sendFrame(v, dest, tag, false); err != nil {
		c.eng.table.remove(req.id)
		return nil, err
	}
	req.markReady(nil)
	return req, nil
}

// Ssend blocks until the receiver has matched the message (acknowledged).
func (c *Comm) Ssend(v any, dest, tag int) error {
	req, err := c.Issend(v, dest, tag)
	if err != nil {
		return err
	}
	_, err = req.Wait()
	return err
}

// Issend posts a synchronous send: the request completes on the receiver's
// acknowledgement.
func (c *Comm) Issend(v any, dest, tag int) (*Request, error) {
	if err := c.checkSend(dest, tag); err != nil {
		return nil, err
	}
	req := &Request{kind: KindSsend, comm: c, peer: dest, tag: int32(tag), ev: cmn.NewEvent()}
	c.eng.table.insert(req)
	// register the pending ack before any bytes move, so the ack cannot race
	c.eng.postWait(dispOp{kind: opSsend, req: req})
	if err := c.sendFrame(v, dest, tag, true); err != nil {
		c.eng.post(dispOp{kind: opCancel, req: req})
		c.eng.table.remove(req.id)
		return nil, err
	}
	return req, nil
}

// Irecv posts a receive; wildcards cmn.AnySource and cmn.AnyTag match any
// sender or tag.
func (c *Comm) Irecv(source, tag int) (*Request, error) {
	if err := c.checkRecv(source, tag); err != nil {
		return nil, err
	}
	req := &Request{kind: KindRecv, comm: c, peer: source, tag: int32(tag), ev: cmn.NewEvent()}
	c.eng.table.insert(req)
	c.eng.post(dispOp{kind: opRecv, req: req})
	return req, nil
}

// Recv blocks until a matching message is delivered.
func (c *Comm) Recv(source, tag int) (any, error) {
	req, err := c.Irecv(source, tag)
	if err != nil {
		return nil, err
	}
	return req.Wait()
}

// Sendrecv posts the receive before sending, which makes exchange cycles
// (rings) deadlock-free.
func (c *Comm) Sendrecv(v any, dest, sendTag, source, recvTag int) (any, error) {
	req, err := c.Irecv(source, recvTag)
	if err != nil {
		return nil, err
	}
	if err := c.Send(v, dest, sendTag); err != nil {
		return nil, err
	}
	return req.Wait()
}

/////////////////
// collectives //
/////////////////

// runColl posts acceptance + start onto the dispatcher, then waits.
func (c *Comm) runColl(tag int32, args collective.Args) (any, error) {
	rep := c.eng.postWait(dispOp{kind: opColl, start: func() collReply {
		h, err := c.ctrl.Start(tag, args)
		if err != nil {
			return collReply{err: err}
		}
		req := &Request{kind: KindColl, comm: c, tag: tag, coll: h, ev: cmn.NewEvent()}
		c.eng.table.insert(req)
		return collReply{req: req}
	}})
	if rep.err != nil {
		return nil, rep.err
	}
	return rep.req.Wait()
}

func (c *Comm) checkRoot(root int) error {
	if root < 0 || root >= c.Size() {
		return cmn.NewErrNoSuchRank(root)
	}
	return nil
}

// Barrier blocks until every rank of the communicator has entered it.
func (c *Comm) Barrier() error {
	_, err := c.runColl(cmn.TagBarrier, collective.Args{})
	return err
}

// Bcast returns root's value on every rank (v is ignored on non-roots).
func (c *Comm) Bcast(v any, root int) (any, error) {
	if err := c.checkRoot(root); err != nil {
		return nil, err
	}
	return c.runColl(cmn.TagBcast, collective.Args{Data: v, Root: root})
}

// Reduce folds every rank's contribution with op, ascending by rank; the
// result lands on root (nil elsewhere).
func (c *Comm) Reduce(v any, op *Op, root int) (any, error) {
	if err := c.checkRoot(root); err != nil {
		return nil, err
	}
	return c.runColl(cmn.TagReduce, collective.Args{Data: v, Op: op, Root: root})
}

// Allreduce is a reduce whose result lands on every rank.
func (c *Comm) Allreduce(v any, op *Op) (any, error) {
	return c.runColl(cmn.TagAllreduce, collective.Args{Data: v, Op: op})
}

// Scan returns, on rank r, the fold of the contributions of ranks 0..r.
func (c *Comm) Scan(v any, op *Op) (any, error) {
	return c.runColl(cmn.TagScan, collective.Args{Data: v, Op: op})
}

// Scatter splits root's sequence into size equal chunks and returns chunk
// r on rank r. A remainder that does not divide evenly is dropped.
func (c *Comm) Scatter(v any, root int) ([]any, error) {
	if err := c.checkRoot(root); err != nil {
		return nil, err
	}
	out, err := c.runColl(cmn.TagScatter, collective.Args{Data: v, Root: root})
	if err != nil || out == nil {
		return nil, err
	}
	return toAnySlice(out)
}

// Gather assembles every rank's contribution on root, ordered by rank
// (nil elsewhere).
func (c *Comm) Gather(v any, root int) ([]any, error) {
	if err := c.checkRoot(root); err != nil {
		return nil, err
	}
	out, err := c.runColl(cmn.TagGather, collective.Args{Data: v, Root: root})
	if err != nil || out == nil {
		return nil, err
	}
	return out.([]any), nil
}

// Allgather assembles every rank's contribution on every rank.
func (c *Comm) Allgather(v any) ([]any, error) {
	out, err := c.runColl(cmn.TagAllgather, collective.Args{Data: v})
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

// Alltoall sends item j of every rank's sequence to rank j and returns the
// collected items ordered by sender.
func (c *Comm) Alltoall(v any) ([]any, error) {
	out, err := c.runColl(cmn.TagAlltoall, collective.Args{Data: v})
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

func toAnySlice(v any) ([]any, error) {
	if s, ok := v.([]any); ok {
		return s, nil
	}
	return nil, cmn.NewErrMPI("unexpected chunk type %T", v)
}

////////////////////////////
// communicator creation  //
////////////////////////////

// CommCreate derives a communicator from a group of world ranks. It is
// collective over the world communicator and must be invoked in the same
// order by every world rank; non-members receive nil. Communicator ids are
// assigned deterministically from invocation order.
func (eng *MPI) CommCreate(grp *group.Group, name string) (*Comm, error) {
	for _, r := range grp.Ranks() {
		if r < 0 || r >= eng.size {
			return nil, cmn.NewErrNoSuchRank(r)
		}
	}
	id := eng.nextComm
	eng.nextComm++

	var c *Comm
	if grp.Member(eng.rank) {
		c = newComm(eng, id, name, grp, eng.world.settings)
		eng.postWait(dispOp{kind: opCommAdd, comm: c})
	}
	// the barrier guarantees every member registered the id before any
	// frame can target it
	if err := eng.world.Barrier(); err != nil {
		return nil, err
	}
	return c, nil
}
