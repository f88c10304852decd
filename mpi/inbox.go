// Package mpi hosts the per-process communication engine.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package mpi

import (
	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/serialize"
	"github.com/gompi/gompi/transport"
)

// inboxEntry is one received-but-unmatched user frame, kept in arrival
// order.
type inboxEntry struct {
	payload []byte
	sender  int // comm-local
	commID  uint32
	tag     int32
	cmd     uint16
	ack     bool
}

// The matcher state: the inbox and the posted-receive queue. Owned by the
// dispatcher goroutine exclusively; no locks.
type matcher struct {
	eng    *MPI
	inbox  []inboxEntry
	posted []*Request // posting order
}

func (m *matcher) matches(r *Request, sender int, tag int32, commID uint32) bool {
	if r.comm.id != commID {
		return false
	}
	if r.peer != cmn.AnySource && r.peer != sender {
		return false
	}
	return r.tag == cmn.AnyTag || r.tag == tag
}

// postRecv scans the inbox in arrival order; on a miss the request parks in
// the posted queue.
func (m *matcher) postRecv(r *Request) {
	if r.Status() == StatusCancelled {
		return
	}
	for i := range m.inbox {
		e := &m.inbox[i]
		if !m.matches(r, e.sender, e.tag, e.commID) {
			continue
		}
		entry := *e
		m.inbox = append(m.inbox[:i], m.inbox[i+1:]...)
		m.deliver(r, entry.sender, entry.tag, entry.cmd, entry.payload, entry.ack)
		return
	}
	m.posted = append(m.posted, r)
}

// handleUserFrame scans the posted queue in posting order; on a miss the
// frame parks in the inbox. A matching cancelled receive consumes and
// discards the frame.
func (m *matcher) handleUserFrame(f *transport.Frame) {
	sender := int(f.Hdr.Sender)
	for i, r := range m.posted {
		if !m.matches(r, sender, f.Hdr.Tag, f.Hdr.CommID) {
			continue
		}
		m.posted = append(m.posted[:i], m.posted[i+1:]...)
		if r.Status() == StatusCancelled {
			return // arrival discarded
		}
		m.eng.tr.Matched()
		m.deliver(r, sender, f.Hdr.Tag, f.Hdr.Command, f.Payload, f.Hdr.AckRequired)
		return
	}
	m.eng.tr.Unexpected()
	m.inbox = append(m.inbox, inboxEntry{
		payload: f.Payload,
		sender:  sender,
		commID:  f.Hdr.CommID,
		tag:     f.Hdr.Tag,
		cmd:     f.Hdr.Command,
		ack:     f.Hdr.AckRequired,
	})
}

func (m *matcher) deliver(r *Request, sender int, tag int32, cmd uint16, payload []byte, ack bool) {
	v, err := serialize.Decode(cmd, payload)
	if err != nil {
		m.eng.fatal(err) // decode failures are fatal on the receiving side
		return
	}
	r.markReady(v)
	if ack {
		// the ack echoes the sender's tag, not the (possibly wildcard)
		// receive spec
		m.eng.sendAck(r.comm, sender, tag)
	}
}

// dropPosted removes a cancelled request from the posted queue.
func (m *matcher) dropPosted(r *Request) {
	for i, q := range m.posted {
		if q == r {
			m.posted = append(m.posted[:i], m.posted[i+1:]...)
			return
		}
	}
}
