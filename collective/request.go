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

// algorithm is the capability set every class implements. All methods run
// on the engine's dispatcher goroutine; results are read by the waiting
// caller only after the completion event fires.
type algorithm interface {
	// start drives the first moves (root sends, leaves send up, ...).
	start()
	// acceptMsg consumes one inbound collective frame; reports whether the
	// frame belonged to this request.
	acceptMsg(sender int, cmd uint16, payload []byte) bool
	// result yields the operation's local outcome once finished.
	result() (any, error)

	base() *reqBase
}

// reqBase carries the state common to every collective request: identity,
// topology, the dirty flag, and the completion event. The dirty flag is set
// on the first send or consumed receive and never clears; a dirty request
// can no longer be overtaken.
type reqBase struct {
	c         Comm
	topo      *topology.Tree
	fin       *cmn.Event
	parentFin *cmn.Event // original request's event, when this is an overtaker
	err       error
	tag       int32
	class     ClassID
	dirty     bool
}

func newBase(c Comm, tag int32, class ClassID, topo *topology.Tree) reqBase {
	return reqBase{c: c, topo: topo, fin: cmn.NewEvent(), tag: tag, class: class}
}

func (b *reqBase) base() *reqBase { return b }
func (b *reqBase) finished() bool { return b.fin.IsSet() }
func (b *reqBase) markDirty()     { b.dirty = true }

// done marks the request complete; an overtaker also releases the waiter
// parked on the original request.
func (b *reqBase) done() {
	if b.parentFin != nil {
		b.parentFin.Set()
	}
	b.fin.Set()
}

func (b *reqBase) fail(err error) {
	b.err = err
	b.done()
}

func (b *reqBase) sendValue(dst int, v any) {
	b.markDirty()
	if err := b.c.SendValue(dst, b.tag, b.class, v); err != nil {
		b.fail(err)
	}
}

// sendRaw forwards payload bytes that arrived already encoded (transit).
func (b *reqBase) sendRaw(dst int, cmd uint16, payload []byte) {
	b.markDirty()
	if err := b.c.SendRaw(dst, b.tag, b.class, cmd, payload); err != nil {
		b.fail(err)
	}
}

// Handle is the user-facing indirection over a collective request: either
// the original algorithm or, after overtaking, a pointer to its
// replacement. Calls resolve the indirection each time, so waiters parked
// before an overtake observe the overtaker's outcome.
type Handle struct {
	alg   algorithm
	inner *Handle // overtaken-by; written on the dispatcher before fin fires
	args  Args
	tag   int32
}

// current resolves the overtaken-by chain (at most one level deep: an
// overtaker starts dirty and can never be overtaken itself).
func (h *Handle) current() algorithm {
	if h.inner != nil {
		return h.inner.alg
	}
	return h.alg
}

// Test reports whether Wait would return immediately.
func (h *Handle) Test() bool { return h.alg.base().fin.IsSet() }

// Done exposes the completion channel (select-friendly).
func (h *Handle) Done() <-chan struct{} { return h.alg.base().fin.C() }

// Wait blocks until the operation completes and returns its local result.
// The original request's event fires even when an overtaker finished the
// work.
func (h *Handle) Wait() (any, error) {
	h.alg.base().fin.Wait()
	return h.current().result()
}
