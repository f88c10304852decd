// Package transport maintains one duplex TCP stream per peer rank.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/cmn/debug"
	"github.com/gompi/gompi/stats"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	dialRetry   = 50 * time.Millisecond
	drainwindow = 5 * time.Second
)

type (
	// RecvFn consumes one inbound frame; it runs on the connection's read
	// loop goroutine and must hand off quickly.
	RecvFn func(*Frame)

	// FatalFn is invoked on connection loss or framing violations outside
	// of shutdown. Connection loss is not recoverable.
	FatalFn func(error)

	conn struct {
		nc      net.Conn
		wr      *bufio.Writer
		rd      *bufio.Reader
		wmu     sync.Mutex
		peer    int
		goodbye sync.Once
	}

	// Node is the local endpoint of the cohort mesh: a listener plus one
	// established connection per peer.
	Node struct {
		log       *logrus.Entry
		tr        *stats.Tracker
		listener  net.Listener
		recv      RecvFn
		fatal     FatalFn
		conns     []*conn // by peer rank; nil at own rank
		peers     []cmn.Peer
		rank      int
		sockBuf   int
		digest    uint64
		connected bool
		closing   chan struct{}
		closeOnce sync.Once
		wg        sync.WaitGroup
		mu        sync.Mutex
	}
)

// New binds the local listener. Connections are established by ConnectAll.
func New(li *cmn.LaunchInfo, tr *stats.Tracker, log *logrus.Entry) (*Node, error) {
	self := li.Peers[li.Rank]
	l, err := net.Listen("tcp", self.Addr())
	if err != nil {
		return nil, cmn.NewErrTransport(li.Rank, err)
	}
	n := &Node{
		log:      log,
		tr:       tr,
		listener: l,
		conns:    make([]*conn, li.Size),
		peers:    li.Peers,
		rank:     li.Rank,
		sockBuf:  li.Settings.SockBufSize,
		digest:   cohortDigest(li.Job, li.Size),
		closing:  make(chan struct{}),
	}
	return n, nil
}

// Port returns the bound listener port (the launcher may pass port 0).
func (n *Node) Port() int { return n.listener.Addr().(*net.TCPAddr).Port }

// cohortDigest guards against cross-job connections: both ends of every
// connection must have been launched with the same (job, size).
func cohortDigest(job string, size int) uint64 {
	h := xxhash.New64()
	h.WriteString(job)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(size))
	h.Write(b[:])
	return h.Sum64()
}

// ConnectAll establishes the full mesh: the higher rank of each pair dials,
// the lower accepts. A hello exchange carries the dialer's rank and the
// cohort digest both ways. Idempotent.
func (n *Node) ConnectAll(ctx context.Context) error {
	n.mu.Lock()
	if n.connected {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range n.peers {
		if p.Rank >= n.rank {
			continue
		}
		p := p
		g.Go(func() error { return n.dial(ctx, p) })
	}
	g.Go(func() error { return n.acceptAll(ctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	n.mu.Lock()
	n.connected = true
	n.mu.Unlock()
	return nil
}

func (n *Node) dial(ctx context.Context, p cmn.Peer) error {
	var d net.Dialer
	for {
		nc, err := d.DialContext(ctx, "tcp", p.Addr())
		if err == nil {
			return n.handshakeOut(nc, p.Rank)
		}
		select {
		case <-ctx.Done():
			return cmn.NewErrTransport(p.Rank, err)
		case <-time.After(dialRetry):
		}
	}
}

func (n *Node) handshakeOut(nc net.Conn, peer int) error {
	c := n.newConn(nc, peer)
	if err := c.sendHello(n.rank, n.digest); err != nil {
		nc.Close()
		return cmn.NewErrTransport(peer, err)
	}
	sender, digest, err := recvHello(c.rd)
	if err != nil || sender != peer || digest != n.digest {
		nc.Close()
		if err == nil {
			err = errors.Errorf("hello mismatch: sender %d, digest %x", sender, digest)
		}
		return cmn.NewErrTransport(peer, err)
	}
	return n.register(c)
}

func (n *Node) acceptAll(ctx context.Context) error {
	expected := len(n.peers) - 1 - n.rank // every higher rank dials us
	if expected == 0 {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		for i := 0; i < expected; i++ {
			nc, err := n.listener.Accept()
			if err != nil {
				done <- cmn.NewErrTransport(n.rank, err)
				return
			}
			if err := n.handshakeIn(nc); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return cmn.NewErrTransport(n.rank, ctx.Err())
	}
}

func (n *Node) handshakeIn(nc net.Conn) error {
	rd := bufio.NewReaderSize(nc, n.sockBuf)
	sender, digest, err := recvHello(rd)
	if err != nil {
		nc.Close()
		return cmn.NewErrTransport(n.rank, err)
	}
	if sender <= n.rank || sender >= len(n.peers) || digest != n.digest {
		nc.Close()
		return cmn.NewErrTransport(sender, errors.Errorf("bad hello (digest %x)", digest))
	}
	c := n.newConn(nc, sender)
	c.rd = rd
	if err := c.sendHello(n.rank, n.digest); err != nil {
		nc.Close()
		return cmn.NewErrTransport(sender, err)
	}
	return n.register(c)
}

func (n *Node) newConn(nc net.Conn, peer int) *conn {
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetReadBuffer(n.sockBuf)
		_ = tc.SetWriteBuffer(n.sockBuf)
	}
	return &conn{
		nc:   nc,
		wr:   bufio.NewWriterSize(nc, n.sockBuf),
		rd:   bufio.NewReaderSize(nc, n.sockBuf),
		peer: peer,
	}
}

func (n *Node) register(c *conn) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conns[c.peer] != nil {
		c.nc.Close()
		return cmn.NewErrTransport(c.peer, errors.New("duplicate connection"))
	}
	n.conns[c.peer] = c
	return nil
}

func (c *conn) sendHello(rank int, digest uint64) error {
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], digest)
	f := &Frame{
		Hdr:     Header{Command: cmn.CmdHello, Sender: uint32(rank)},
		Payload: payload[:],
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := writeFrame(c.wr, f); err != nil {
		return err
	}
	return c.wr.Flush()
}

func recvHello(rd *bufio.Reader) (sender int, digest uint64, _ error) {
	f, err := readFrame(rd)
	if err != nil {
		return 0, 0, err
	}
	if f.Hdr.Command != cmn.CmdHello || len(f.Payload) != 8 {
		return 0, 0, errors.Errorf("expected hello, got command %d", f.Hdr.Command)
	}
	return int(f.Hdr.Sender), binary.LittleEndian.Uint64(f.Payload), nil
}

// Start spawns one read loop per established connection.
func (n *Node) Start(recv RecvFn, fatal FatalFn) {
	n.recv, n.fatal = recv, fatal
	for _, c := range n.conns {
		if c == nil {
			continue
		}
		n.wg.Add(1)
		go n.recvLoop(c)
	}
}

func (n *Node) recvLoop(c *conn) {
	defer n.wg.Done()
	for {
		f, err := readFrame(c.rd)
		if err != nil {
			// EOF, a closed socket, or a drain-window timeout during
			// shutdown is a clean exit; anything else is fatal.
			if n.isClosing() {
				return
			}
			n.fatal(cmn.NewErrTransport(c.peer, err))
			return
		}
		if f.Hdr.Command == cmn.CmdShutdown {
			n.log.Debugf("peer %d: goodbye", c.peer)
			return
		}
		n.tr.FrameRx(c.peer, len(f.Payload))
		n.recv(f)
	}
}

// Send frames a message to the peer. Writes on one connection are
// serialized by the connection mutex; the call may block on TCP
// backpressure.
func (n *Node) Send(peer int, f *Frame) error {
	debug.Assertf(peer >= 0 && peer < len(n.conns) && peer != n.rank, "peer %d", peer)
	c := n.conns[peer]
	if c == nil {
		return cmn.NewErrTransport(peer, errors.New("not connected"))
	}
	c.wmu.Lock()
	err := writeFrame(c.wr, f)
	if err == nil {
		err = c.wr.Flush()
	}
	c.wmu.Unlock()
	if err != nil {
		return cmn.NewErrTransport(peer, err)
	}
	n.tr.FrameTx(peer, len(f.Payload))
	return nil
}

func (n *Node) isClosing() bool {
	select {
	case <-n.closing:
		return true
	default:
		return false
	}
}

// Shutdown sends a goodbye frame on every connection, waits for the peers'
// goodbyes (bounded by the drain window), and closes the sockets.
func (n *Node) Shutdown() {
	n.closeOnce.Do(func() {
		close(n.closing)
		for _, c := range n.conns {
			if c == nil {
				continue
			}
			c.goodbye.Do(func() {
				f := &Frame{Hdr: Header{Command: cmn.CmdShutdown, Sender: uint32(n.rank)}}
				c.wmu.Lock()
				if err := writeFrame(c.wr, f); err == nil {
					_ = c.wr.Flush()
				}
				c.wmu.Unlock()
			})
			_ = c.nc.SetReadDeadline(time.Now().Add(drainwindow))
		}
		n.wg.Wait()
		for _, c := range n.conns {
			if c != nil {
				c.nc.Close()
			}
		}
		n.listener.Close()
		n.log.Debug("transport down")
	})
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("node[rank=%d, peers=%d]", n.rank, len(n.peers))
}
