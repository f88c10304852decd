// Package mpi hosts the per-process communication engine: the request
// table, the point-to-point matcher with its inbox, the dispatcher that
// serializes inbound frames against request posting, and the user-facing
// communicator API.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package mpi

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/collective"
)

type (
	ReqKind int
	Status  int32
)

const (
	KindSend ReqKind = iota
	KindSsend
	KindRecv
	KindColl
)

// Request lifecycle: new -> ready -> finished, or new -> cancelled. The
// terminal states are immutable.
const (
	StatusNew Status = iota
	StatusReady
	StatusFinished
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusReady:
		return "ready"
	case StatusFinished:
		return "finished"
	default:
		return "cancelled"
	}
}

// Request is one posted operation. Point-to-point payload and status are
// written by the dispatcher and read by the caller after the completion
// event fires; collective requests delegate to their handle.
type Request struct {
	comm   *Comm
	value  any
	err    error
	ev     *cmn.Event
	coll   *collective.Handle
	id     uint64
	status atomic.Int32
	kind   ReqKind
	peer   int // comm-local, or cmn.AnySource
	tag    int32
}

func (r *Request) Kind() ReqKind  { return r.kind }
func (r *Request) ID() uint64     { return r.id }
func (r *Request) Status() Status { return Status(r.status.Load()) }

// advance moves the status machine; terminal states stick.
func (r *Request) advance(next Status) bool {
	for {
		cur := Status(r.status.Load())
		if cur == StatusFinished || cur == StatusCancelled {
			return false
		}
		if r.status.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

// markReady records the payload (the decoded value for receives, nil for
// sends) and fires the completion event.
func (r *Request) markReady(v any) {
	if r.advance(StatusReady) {
		r.value = v
		r.ev.Set()
	}
}

// Done returns the completion channel (select-friendly; used by WaitAny).
func (r *Request) Done() <-chan struct{} {
	if r.coll != nil {
		return r.coll.Done()
	}
	return r.ev.C()
}

// Test reports whether Wait would return without blocking.
func (r *Request) Test() bool {
	select {
	case <-r.Done():
		return true
	default:
		return r.Status() == StatusCancelled
	}
}

// Wait blocks until the request reaches a terminal state and returns the
// received value (receives) or nil (sends). Waiting on a cancelled request
// fails with ErrCancelled.
func (r *Request) Wait() (any, error) {
	if r.Status() == StatusCancelled {
		return nil, cmn.ErrCancelled
	}
	<-r.Done()
	if r.Status() == StatusCancelled {
		return nil, cmn.ErrCancelled
	}
	defer r.comm.eng.table.remove(r.id)
	if r.coll != nil {
		v, err := r.coll.Wait()
		r.advance(StatusFinished)
		return v, r.comm.eng.escalate(err)
	}
	r.advance(StatusFinished)
	return r.value, r.comm.eng.escalate(r.err)
}

// Cancel marks the request terminal. Cancellation is idempotent and local:
// a cancelled send may still transmit, and a cancelled receive's eventual
// matching arrival is discarded.
func (r *Request) Cancel() {
	r.comm.eng.post(dispOp{kind: opCancel, req: r})
}

//////////////////
// request table //
//////////////////

// reqTable tracks outstanding requests by monotonically increasing id.
type reqTable struct {
	m      map[uint64]*Request
	mu     sync.Mutex
	nextID atomic.Uint64
}

func newReqTable() *reqTable { return &reqTable{m: make(map[uint64]*Request)} }

func (t *reqTable) insert(r *Request) {
	r.id = t.nextID.Add(1)
	t.mu.Lock()
	t.m[r.id] = r
	t.mu.Unlock()
}

func (t *reqTable) remove(id uint64) {
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
}

func (t *reqTable) get(id uint64) *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m[id]
}

// snapshot returns the outstanding requests; their order is not defined.
func (t *reqTable) snapshot() []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Request, 0, len(t.m))
	for _, r := range t.m {
		out = append(out, r)
	}
	return out
}

//////////////////////
// wait/test groups //
//////////////////////

// WaitAny blocks until one of the requests completes and returns its index
// and value. Removing the completed request from the slice is the caller's
// business.
func WaitAny(reqs []*Request) (int, any, error) {
	if len(reqs) == 0 {
		return -1, nil, cmn.NewErrMPI("waitany on empty request list")
	}
	for i, r := range reqs {
		if r.Test() {
			v, err := r.Wait()
			return i, v, err
		}
	}
	cases := make([]reflect.SelectCase, len(reqs))
	for i, r := range reqs {
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(r.Done())}
	}
	i, _, _ := reflect.Select(cases)
	v, err := reqs[i].Wait()
	return i, v, err
}

// WaitAll waits for every request; values are returned in request order.
func WaitAll(reqs []*Request) ([]any, error) {
	out := make([]any, len(reqs))
	for i, r := range reqs {
		v, err := r.Wait()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// TestAny reports the index of a completed request, or -1.
func TestAny(reqs []*Request) int {
	for i, r := range reqs {
		if r.Test() {
			return i
		}
	}
	return -1
}

// TestAll reports whether every request has completed.
func TestAll(reqs []*Request) bool {
	for _, r := range reqs {
		if !r.Test() {
			return false
		}
	}
	return true
}
