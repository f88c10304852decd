// Package collective implements the collective-operation controller and the
// algorithm family.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package collective_test

import (
	"io"
	"reflect"
	"testing"

	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/collective"
	"github.com/gompi/gompi/serialize"
	"github.com/gompi/gompi/tools/tassert"
	"github.com/gompi/gompi/topology"
	"github.com/sirupsen/logrus"
)

// The harness wires size controllers together through an in-memory frame
// queue: sends append, pump drains in FIFO order. No sockets, single
// goroutine, deterministic.

type frame struct {
	collHdr []byte
	payload []byte
	src     int
	dst     int
	tag     int32
	cmd     uint16
}

type cluster struct {
	t         *testing.T
	comms     []*fakeComm
	ctrls     []*collective.Controller
	queue     []frame
	overtakes int
}

type fakeComm struct {
	cl   *cluster
	s    *cmn.Settings
	topo *topology.Cache
	logp *logrus.Entry
	rank int
}

var _ collective.Comm = (*fakeComm)(nil)

func (c *fakeComm) Rank() int               { return c.rank }
func (c *fakeComm) Size() int               { return len(c.cl.comms) }
func (c *fakeComm) CommName() string        { return "fake" }
func (c *fakeComm) Settings() *cmn.Settings { return c.s }
func (c *fakeComm) Logp() *logrus.Entry     { return c.logp }

func (c *fakeComm) Tree(kind topology.Kind, root int) *topology.Tree { return c.topo.Get(kind, root) }

func (c *fakeComm) SendValue(dst int, tag int32, class collective.ClassID, v any) error {
	cmd, payload, err := serialize.Encode(v)
	if err != nil {
		return err
	}
	return c.SendRaw(dst, tag, class, cmd, payload)
}

func (c *fakeComm) SendRaw(dst int, tag int32, class collective.ClassID, cmd uint16, payload []byte) error {
	c.cl.queue = append(c.cl.queue, frame{
		collHdr: collective.EncodeCollHdr(class),
		payload: payload,
		src:     c.rank,
		dst:     dst,
		tag:     tag,
		cmd:     cmd,
	})
	return nil
}

func newCluster(t *testing.T, size int, patch func(rank int, s *cmn.Settings)) *cluster {
	log := logrus.New()
	log.SetOutput(io.Discard)
	cl := &cluster{t: t}
	for rank := 0; rank < size; rank++ {
		s := cmn.DefaultSettings()
		if patch != nil {
			patch(rank, s)
		}
		c := &fakeComm{
			cl:   cl,
			s:    s,
			topo: topology.NewCache(size, rank, s.StaticFanout),
			logp: logrus.NewEntry(log),
			rank: rank,
		}
		cl.comms = append(cl.comms, c)
		ctrl := collective.NewController(c)
		ctrl.OnOvertake = func() { cl.overtakes++ }
		cl.ctrls = append(cl.ctrls, ctrl)
	}
	return cl
}

func (cl *cluster) pump() {
	for len(cl.queue) > 0 {
		f := cl.queue[0]
		cl.queue = cl.queue[1:]
		cl.ctrls[f.dst].Deliver(f.src, f.tag, f.cmd, f.collHdr, f.payload)
	}
}

// run posts the collective on every rank (pumping in between, so frames
// racing ahead of the posting exercise the deferred path) and returns the
// completed handles.
func (cl *cluster) run(tag int32, args func(rank int) collective.Args) []*collective.Handle {
	cl.t.Helper()
	handles := make([]*collective.Handle, len(cl.ctrls))
	for rank, ctrl := range cl.ctrls {
		h, err := ctrl.Start(tag, args(rank))
		tassert.CheckFatal(cl.t, err)
		handles[rank] = h
		cl.pump()
	}
	cl.pump()
	for rank, h := range handles {
		tassert.Fatalf(cl.t, h.Test(), "rank %d did not complete tag %d", rank, tag)
	}
	return handles
}

func (cl *cluster) results(handles []*collective.Handle) []any {
	cl.t.Helper()
	out := make([]any, len(handles))
	for rank, h := range handles {
		v, err := h.Wait()
		tassert.CheckFatal(cl.t, err)
		out[rank] = v
	}
	return out
}

func forceTree(prefix string) func(int, *cmn.Settings) {
	return func(_ int, s *cmn.Settings) {
		s.Overrides = map[string]int{
			cmn.PrefixFlatTree + "_MAX":     0,
			cmn.PrefixBinomialTree + "_MAX": 0,
			cmn.PrefixStaticFanout + "_MAX": 0,
			prefix + "_MAX":                 1 << 20,
		}
	}
}

func TestBcastEveryTree(t *testing.T) {
	for _, prefix := range []string{cmn.PrefixFlatTree, cmn.PrefixBinomialTree, cmn.PrefixStaticFanout} {
		for _, size := range []int{1, 2, 4, 7, 11} {
			cl := newCluster(t, size, forceTree(prefix))
			root := size / 2
			for _, v := range []any{"hello", nil, "", int64(-1)} {
				v := v
				handles := cl.run(cmn.TagBcast, func(rank int) collective.Args {
					if rank == root {
						return collective.Args{Data: v, Root: root}
					}
					return collective.Args{Root: root}
				})
				for rank, got := range cl.results(handles) {
					tassert.Errorf(t, reflect.DeepEqual(got, v),
						"%s size=%d rank=%d: got %#v, want %#v", prefix, size, rank, got, v)
				}
			}
		}
	}
}

func TestBcastTransitPayload(t *testing.T) {
	cl := newCluster(t, 8, forceTree(cmn.PrefixBinomialTree))
	payload := []float64{1, 2.5, -3}
	handles := cl.run(cmn.TagBcast, func(rank int) collective.Args {
		if rank == 0 {
			return collective.Args{Data: payload}
		}
		return collective.Args{}
	})
	for rank, got := range cl.results(handles) {
		tassert.Errorf(t, reflect.DeepEqual(got, payload), "rank %d: %#v", rank, got)
	}
}

func TestBarrierEveryTree(t *testing.T) {
	for _, prefix := range []string{cmn.PrefixFlatTree, cmn.PrefixBinomialTree, cmn.PrefixStaticFanout} {
		for _, size := range []int{1, 2, 3, 5, 8} {
			cl := newCluster(t, size, forceTree(prefix))
			handles := cl.run(cmn.TagBarrier, func(int) collective.Args { return collective.Args{} })
			cl.results(handles)
		}
	}
}

func TestReduceSum(t *testing.T) {
	const size, root = 6, 2
	cl := newCluster(t, size, nil)
	handles := cl.run(cmn.TagReduce, func(rank int) collective.Args {
		return collective.Args{Data: int64(rank + 1), Op: collective.OpSum, Root: root}
	})
	for rank, got := range cl.results(handles) {
		if rank == root {
			tassert.Errorf(t, got == int64(21), "root got %v", got)
		} else {
			tassert.Errorf(t, got == nil, "rank %d got %v", rank, got)
		}
	}
}

func TestReduceNonCommutativeOrder(t *testing.T) {
	concat := &collective.Op{Name: "concat", Fn: func(a, b any) (any, error) {
		return a.(string) + b.(string), nil
	}}
	for _, prefix := range []string{cmn.PrefixFlatTree, cmn.PrefixBinomialTree, cmn.PrefixStaticFanout} {
		cl := newCluster(t, 5, forceTree(prefix))
		handles := cl.run(cmn.TagReduce, func(rank int) collective.Args {
			return collective.Args{Data: string(rune('a' + rank)), Op: concat, Root: 0}
		})
		got := cl.results(handles)[0]
		tassert.Errorf(t, got == "abcde", "%s: fold order broken: %v", prefix, got)
	}
}

func TestAllreduce(t *testing.T) {
	const size = 7
	cl := newCluster(t, size, nil)
	handles := cl.run(cmn.TagAllreduce, func(rank int) collective.Args {
		return collective.Args{Data: int64(rank), Op: collective.OpMax}
	})
	for rank, got := range cl.results(handles) {
		tassert.Errorf(t, got == int64(size-1), "rank %d got %v", rank, got)
	}
}

func TestScanPrefixes(t *testing.T) {
	const size = 6
	cl := newCluster(t, size, nil)
	handles := cl.run(cmn.TagScan, func(rank int) collective.Args {
		return collective.Args{Data: int64(rank + 1), Op: collective.OpSum}
	})
	want := int64(0)
	for rank, got := range cl.results(handles) {
		want += int64(rank + 1)
		tassert.Errorf(t, got == want, "rank %d got %v, want %d", rank, got, want)
	}
}

func TestScatterGatherInverse(t *testing.T) {
	const size, root = 4, 1
	input := make([]any, 0, size*3)
	for i := 0; i < size*3; i++ {
		input = append(input, int64(i))
	}
	cl := newCluster(t, size, nil)
	scattered := cl.results(cl.run(cmn.TagScatter, func(rank int) collective.Args {
		if rank == root {
			return collective.Args{Data: input, Root: root}
		}
		return collective.Args{Root: root}
	}))
	for rank, chunk := range scattered {
		want := input[rank*3 : rank*3+3]
		tassert.Errorf(t, reflect.DeepEqual(chunk, want), "rank %d chunk %v", rank, chunk)
	}
	gathered := cl.results(cl.run(cmn.TagGather, func(rank int) collective.Args {
		return collective.Args{Data: scattered[rank], Root: root}
	}))
	flat := make([]any, 0, size*3)
	for _, chunk := range gathered[root].([]any) {
		flat = append(flat, chunk.([]any)...)
	}
	tassert.Errorf(t, reflect.DeepEqual(flat, input), "gather(scatter(xs)) != xs: %v", flat)
}

func TestScatterDropsRemainder(t *testing.T) {
	cl := newCluster(t, 3, nil)
	input := []any{int64(0), int64(1), int64(2), int64(3)} // 4 items, 3 ranks
	scattered := cl.results(cl.run(cmn.TagScatter, func(rank int) collective.Args {
		if rank == 0 {
			return collective.Args{Data: input, Root: 0}
		}
		return collective.Args{}
	}))
	for rank, chunk := range scattered {
		tassert.Errorf(t, reflect.DeepEqual(chunk, []any{int64(rank)}), "rank %d chunk %v", rank, chunk)
	}
}

func TestAllgatherDissemination(t *testing.T) {
	for _, size := range []int{1, 2, 3, 5, 8} {
		cl := newCluster(t, size, nil)
		handles := cl.run(cmn.TagAllgather, func(rank int) collective.Args {
			return collective.Args{Data: int64(rank * 10)}
		})
		want := make([]any, size)
		for rank := range want {
			want[rank] = int64(rank * 10)
		}
		for rank, got := range cl.results(handles) {
			tassert.Errorf(t, reflect.DeepEqual(got, want), "size=%d rank=%d got %v", size, rank, got)
		}
	}
}

func TestAlltoallNaive(t *testing.T) {
	const size = 4
	cl := newCluster(t, size, nil)
	handles := cl.run(cmn.TagAlltoall, func(rank int) collective.Args {
		items := make([]any, size)
		for dst := range items {
			items[dst] = int64(rank*100 + dst)
		}
		return collective.Args{Data: items}
	})
	for rank, got := range cl.results(handles) {
		want := make([]any, size)
		for src := range want {
			want[src] = int64(src*100 + rank)
		}
		tassert.Errorf(t, reflect.DeepEqual(got, want), "rank %d got %v", rank, got)
	}
}

func TestNoClassAccepts(t *testing.T) {
	cl := newCluster(t, 4, func(_ int, s *cmn.Settings) {
		s.Overrides = map[string]int{
			cmn.PrefixFlatTree + "_MAX":     0,
			cmn.PrefixBinomialTree + "_MAX": 0,
			cmn.PrefixStaticFanout + "_MAX": 0,
		}
	})
	_, err := cl.ctrls[0].Start(cmn.TagBcast, collective.Args{})
	tassert.Errorf(t, err != nil, "acceptance should have failed")
}

// The root prefers a binomial tree while every other rank speculatively
// accepts flat; the collective header on the first inbound frame makes the
// receivers overtake.
func TestBcastOvertaking(t *testing.T) {
	const size, root = 16, 3
	cl := newCluster(t, size, func(rank int, s *cmn.Settings) {
		if rank == root {
			s.Overrides = map[string]int{cmn.PrefixFlatTree + "_MAX": 0}
		} else {
			s.Overrides = map[string]int{cmn.PrefixFlatTree + "_MAX": 1 << 20}
		}
	})
	payload := "a large payload, binomial-worthy"
	handles := cl.run(cmn.TagBcast, func(rank int) collective.Args {
		if rank == root {
			return collective.Args{Data: payload, Root: root}
		}
		return collective.Args{Root: root}
	})
	for rank, got := range cl.results(handles) {
		tassert.Errorf(t, got == payload, "rank %d got %#v", rank, got)
	}
	tassert.Errorf(t, cl.overtakes == size-1, "%d overtakes, want %d", cl.overtakes, size-1)
}

// Once a request has exchanged a message it is dirty and the advertised
// class is ignored.
func TestDirtyForbidsOvertaking(t *testing.T) {
	cl := newCluster(t, 2, nil)
	// rank 1 enters and sends its token up: dirty from the very start
	h1, err := cl.ctrls[1].Start(cmn.TagBarrier, collective.Args{})
	tassert.CheckFatal(t, err)
	cl.queue = nil // drop the upward token; rank 0 plays no part here

	// hand-craft the downward token advertising a different class
	cmd, payload, err := serialize.Encode(nil)
	tassert.CheckFatal(t, err)
	cl.ctrls[1].Deliver(0, cmn.TagBarrier, cmd, collective.EncodeCollHdr(collective.ClassBinomialBarrier), payload)

	tassert.Fatalf(t, h1.Test(), "barrier did not complete")
	tassert.Errorf(t, cl.overtakes == 0, "dirty request was overtaken %d times", cl.overtakes)
}
