// Package mpi hosts the per-process communication engine.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package mpi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/cmn/mono"
	"github.com/gompi/gompi/group"
	"github.com/gompi/gompi/stats"
	"github.com/gompi/gompi/transport"
	"github.com/sirupsen/logrus"
)

const (
	connectTimeout = 30 * time.Second
	dispatchBurst  = 1024 // frames/ops the dispatcher input can absorb
)

type opKind int

const (
	opFrame opKind = iota
	opRecv
	opSsend
	opColl
	opCancel
	opCommAdd
	opStop
)

type (
	collReply struct {
		req *Request
		err error
	}

	dispOp struct {
		frame *transport.Frame
		req   *Request
		comm  *Comm
		start func() collReply // runs on the dispatcher (collective posting)
		reply chan collReply
		kind  opKind
	}

	ackKey struct {
		commID uint32
		peer   int // comm-local rank of the acknowledging receiver
		tag    int32
	}

	// MPI is the per-process engine. One instance brackets the program:
	// Init establishes the mesh, Finalize tears it down.
	MPI struct {
		log      *logrus.Logger
		logp     *logrus.Entry
		logFile  *os.File
		node     *transport.Node
		tr       *stats.Tracker
		table    *reqTable
		match    *matcher
		world    *Comm
		comms    map[uint32]*Comm
		pendAcks map[ackKey][]*Request
		dispatch chan dispOp
		fatalFn  func(error)
		job      string
		rank     int
		size     int
		nextComm uint32
		started  int64
		finOnce  sync.Once
		wg       sync.WaitGroup
	}
)

// Init joins the cohort using the launcher's environment contract.
func Init() (*MPI, error) {
	li, err := cmn.LaunchFromEnv()
	if err != nil {
		return nil, err
	}
	return InitWith(li)
}

// InitWith joins the cohort described by li: binds the listener, connects
// the full mesh, and starts the dispatcher. On return every peer
// connection is established.
func InitWith(li *cmn.LaunchInfo) (*MPI, error) {
	if err := li.Validate(); err != nil {
		return nil, err
	}
	eng := &MPI{
		tr:       stats.New(li.Job, li.Rank),
		table:    newReqTable(),
		comms:    make(map[uint32]*Comm),
		pendAcks: make(map[ackKey][]*Request),
		dispatch: make(chan dispOp, dispatchBurst),
		job:      li.Job,
		rank:     li.Rank,
		size:     li.Size,
		nextComm: cmn.WorldID + 1,
		started:  mono.NanoTime(),
	}
	eng.fatalFn = func(err error) {
		eng.logp.Error(err)
		eng.log.Exit(1)
	}
	if err := eng.openLog(li); err != nil {
		return nil, err
	}

	node, err := transport.New(li, eng.tr, eng.logp)
	if err != nil {
		eng.closeLog()
		return nil, err
	}
	eng.node = node
	eng.match = &matcher{eng: eng}
	eng.world = newComm(eng, cmn.WorldID, "world", group.WorldGroup(li.Size), li.Settings)
	eng.comms[cmn.WorldID] = eng.world

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := node.ConnectAll(ctx); err != nil {
		eng.closeLog()
		return nil, err
	}
	eng.wg.Add(1)
	go eng.dispatchLoop()
	node.Start(eng.enqueueFrame, eng.fatal)
	eng.logp.Infof("up: %d peers connected", li.Size-1)
	return eng, nil
}

func (eng *MPI) openLog(li *cmn.LaunchInfo) error {
	settings := li.Settings
	if err := os.MkdirAll(settings.LogDir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(settings.LogDir, fmt.Sprintf("mpi.%s.rank%d.log", li.Job, li.Rank))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	eng.logFile = f
	eng.log = logrus.New()
	eng.log.SetOutput(f)
	eng.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(settings.LogLevel); err == nil {
		eng.log.SetLevel(lvl)
	}
	eng.logp = eng.log.WithField("rank", li.Rank)
	return nil
}

func (eng *MPI) closeLog() {
	if eng.logFile != nil {
		eng.logFile.Close()
	}
}

// World returns the world communicator.
func (eng *MPI) World() *Comm { return eng.world }

func (eng *MPI) Rank() int { return eng.rank }
func (eng *MPI) Size() int { return eng.size }

// Wtime returns elapsed wall-clock seconds since Init, measured on the
// monotonic clock.
func (eng *MPI) Wtime() float64 {
	return float64(mono.NanoTime()-eng.started) / float64(time.Second)
}

// Stats exposes the engine's metrics registry.
func (eng *MPI) Stats() *stats.Tracker { return eng.tr }

// SetFatalHandler overrides the default log-and-exit policy (tests).
func (eng *MPI) SetFatalHandler(f func(error)) { eng.fatalFn = f }

// fatal handles unrecoverable faults: transport loss and serialization
// failures take the whole process down.
func (eng *MPI) fatal(err error) {
	eng.fatalFn(err)
}

// escalate routes fatal error kinds through the fatal handler while
// returning caller errors untouched.
func (eng *MPI) escalate(err error) error {
	if err == nil {
		return nil
	}
	if cmn.IsErrSerialization(err) || cmn.IsErrTransport(err) {
		eng.fatal(err)
	}
	return err
}

func (eng *MPI) enqueueFrame(f *transport.Frame) {
	eng.dispatch <- dispOp{kind: opFrame, frame: f}
}

func (eng *MPI) post(op dispOp) { eng.dispatch <- op }

// postWait runs an op on the dispatcher and waits for its reply.
func (eng *MPI) postWait(op dispOp) collReply {
	op.reply = make(chan collReply, 1)
	eng.dispatch <- op
	return <-op.reply
}

// dispatchLoop is the single goroutine that owns the inbox, the posted
// queue, the pending-ack map, the communicator registry, and every
// collective controller. Inbound-frame handling is thereby serialized with
// request posting.
func (eng *MPI) dispatchLoop() {
	defer eng.wg.Done()
	for op := range eng.dispatch {
		switch op.kind {
		case opFrame:
			eng.handleFrame(op.frame)
		case opRecv:
			eng.match.postRecv(op.req)
		case opSsend:
			key := ackKey{commID: op.req.comm.id, peer: op.req.peer, tag: op.req.tag}
			eng.pendAcks[key] = append(eng.pendAcks[key], op.req)
			op.reply <- collReply{}
		case opColl:
			op.reply <- op.start()
		case opCancel:
			eng.cancel(op.req)
		case opCommAdd:
			eng.comms[op.comm.id] = op.comm
			op.reply <- collReply{}
		case opStop:
			op.reply <- collReply{}
			return
		}
	}
}

func (eng *MPI) handleFrame(f *transport.Frame) {
	comm, ok := eng.comms[f.Hdr.CommID]
	if !ok {
		// commCreate registers before the world barrier completes, so this
		// cannot happen within the protocol
		eng.fatal(cmn.NewErrMPI("frame for unknown communicator %d", f.Hdr.CommID))
		return
	}
	switch {
	case f.Hdr.Command == cmn.CmdAck:
		eng.handleAck(f)
	case cmn.TagIsCollective(f.Hdr.Tag) && comm.ctrl.Registered(f.Hdr.Tag):
		comm.ctrl.Deliver(int(f.Hdr.Sender), f.Hdr.Tag, f.Hdr.Command, f.CollHdr, f.Payload)
	default:
		eng.match.handleUserFrame(f)
	}
}

func (eng *MPI) handleAck(f *transport.Frame) {
	key := ackKey{commID: f.Hdr.CommID, peer: int(f.Hdr.Sender), tag: f.Hdr.Tag}
	pending := eng.pendAcks[key]
	if len(pending) == 0 {
		eng.logp.Warnf("stray ack from %d tag %d", f.Hdr.Sender, f.Hdr.Tag)
		return
	}
	req := pending[0]
	if len(pending) == 1 {
		delete(eng.pendAcks, key)
	} else {
		eng.pendAcks[key] = pending[1:]
	}
	req.markReady(nil)
}

// sendAck acknowledges a matched synchronous send.
func (eng *MPI) sendAck(c *Comm, sender int, tag int32) {
	f := &transport.Frame{Hdr: transport.Header{
		Command:  cmn.CmdAck,
		Sender:   uint32(c.Rank()),
		Receiver: uint32(sender),
		CommID:   c.id,
		Tag:      tag,
	}}
	if err := c.route(sender, f); err != nil {
		eng.fatal(err)
	}
}

func (eng *MPI) cancel(r *Request) {
	if !r.advance(StatusCancelled) {
		return // already terminal: cancellation is idempotent
	}
	// a cancelled receive stays in the posted queue: the matcher consumes
	// and discards its matching arrival
	if r.kind == KindSsend {
		key := ackKey{commID: r.comm.id, peer: r.peer, tag: r.tag}
		pending := eng.pendAcks[key]
		for i, q := range pending {
			if q == r {
				eng.pendAcks[key] = append(pending[:i], pending[i+1:]...)
				break
			}
		}
	}
	r.ev.Set()
}

// Finalize drains the cohort: a world barrier, then goodbye frames and
// socket teardown. Returns nil on a clean exit.
func (eng *MPI) Finalize() error {
	var err error
	eng.finOnce.Do(func() {
		err = eng.world.Barrier()
		eng.node.Shutdown()
		eng.postWait(dispOp{kind: opStop})
		eng.wg.Wait()
		eng.logp.Info("finalized")
		eng.closeLog()
	})
	return err
}
