// Package transport maintains one duplex TCP stream per peer rank.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package transport_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/stats"
	"github.com/gompi/gompi/tools/tassert"
	"github.com/gompi/gompi/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func freePorts(t *testing.T, n int) []int {
	t.Helper()
	ports := make([]int, n)
	listeners := make([]net.Listener, n)
	for i := range ports {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		tassert.CheckFatal(t, err)
		listeners[i] = l
		ports[i] = l.Addr().(*net.TCPAddr).Port
	}
	for _, l := range listeners {
		l.Close()
	}
	return ports
}

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func launchMesh(t *testing.T, n int) []*transport.Node {
	t.Helper()
	ports := freePorts(t, n)
	peers := make([]cmn.Peer, n)
	for r := range peers {
		peers[r] = cmn.Peer{Rank: r, Host: "127.0.0.1", Port: ports[r]}
	}
	nodes := make([]*transport.Node, n)
	for r := range nodes {
		li := &cmn.LaunchInfo{
			Job:      "t",
			Peers:    peers,
			Rank:     r,
			Size:     n,
			Settings: cmn.DefaultSettings(),
		}
		node, err := transport.New(li, stats.New("t", r), testLog())
		tassert.CheckFatal(t, err)
		nodes[r] = node
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var g errgroup.Group
	for _, node := range nodes {
		node := node
		g.Go(func() error { return node.ConnectAll(ctx) })
	}
	tassert.CheckFatal(t, g.Wait())
	return nodes
}

func TestMeshExchange(t *testing.T) {
	const n = 3
	nodes := launchMesh(t, n)
	inbox := make([]chan *transport.Frame, n)
	for r, node := range nodes {
		r := r
		inbox[r] = make(chan *transport.Frame, 16)
		node.Start(
			func(f *transport.Frame) { inbox[r] <- f },
			func(err error) { t.Errorf("fatal: %v", err) },
		)
	}

	// every node frames one message to every peer
	for src, node := range nodes {
		for dst := 0; dst < n; dst++ {
			if dst == src {
				continue
			}
			f := &transport.Frame{
				Hdr: transport.Header{
					Command:  cmn.CmdBytes,
					Sender:   uint32(src),
					Receiver: uint32(dst),
					Tag:      7,
				},
				Payload: []byte{byte(src), byte(dst)},
			}
			tassert.CheckFatal(t, node.Send(dst, f))
		}
	}
	for dst := 0; dst < n; dst++ {
		seen := make(map[uint32]bool)
		for i := 0; i < n-1; i++ {
			select {
			case f := <-inbox[dst]:
				seen[f.Hdr.Sender] = true
				tassert.Errorf(t, bytes.Equal(f.Payload, []byte{byte(f.Hdr.Sender), byte(dst)}),
					"payload %v", f.Payload)
			case <-time.After(5 * time.Second):
				t.Fatalf("node %d: timed out waiting for frame %d", dst, i)
			}
		}
		tassert.Errorf(t, len(seen) == n-1, "node %d heard from %d peers", dst, len(seen))
	}
	for _, node := range nodes {
		node.Shutdown()
	}
}

func TestConnectAllIdempotent(t *testing.T) {
	nodes := launchMesh(t, 2)
	ctx := context.Background()
	tassert.CheckFatal(t, nodes[0].ConnectAll(ctx))
	tassert.CheckFatal(t, nodes[1].ConnectAll(ctx))
	for _, node := range nodes {
		node.Start(func(*transport.Frame) {}, func(error) {})
		node.Shutdown()
	}
}

func TestFIFOPerConnection(t *testing.T) {
	nodes := launchMesh(t, 2)
	got := make(chan int32, 128)
	nodes[1].Start(func(f *transport.Frame) { got <- f.Hdr.Tag }, func(err error) { t.Errorf("%v", err) })
	nodes[0].Start(func(*transport.Frame) {}, func(err error) { t.Errorf("%v", err) })

	const msgs = 100
	for i := 0; i < msgs; i++ {
		f := &transport.Frame{Hdr: transport.Header{Command: cmn.CmdBytes, Sender: 0, Receiver: 1, Tag: int32(i)}}
		tassert.CheckFatal(t, nodes[0].Send(1, f))
	}
	for i := 0; i < msgs; i++ {
		select {
		case tag := <-got:
			tassert.Fatalf(t, tag == int32(i), "frame %d arrived as %d", i, tag)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out")
		}
	}
	nodes[0].Shutdown()
	nodes[1].Shutdown()
}
