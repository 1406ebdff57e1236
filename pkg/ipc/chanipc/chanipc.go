/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package chanipc is the in-process ipc.Transport used by tests and by
// pkg/ccpsim: two Go channels standing in for a socket pair, with the
// same Blocking/Nonblocking receive semantics every other transport
// offers (original_source/src/ipc/chan.rs "Socket<Blocking|Nonblocking>").
package chanipc

import (
	"sync"
	"time"

	"github.com/ccp-project/goccp/pkg/ipc"
)

// Chan is one end of an in-process channel pair.
type Chan struct {
	mode Mode
	out  chan<- []byte
	in   <-chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Mode mirrors ipc.Mode; kept as a local alias so callers constructing
// a Chan directly don't need to import pkg/ipc for the constant too.
type Mode = ipc.Mode

const (
	Blocking    = ipc.Blocking
	Nonblocking = ipc.Nonblocking
)

// NewPair builds two connected Chan endpoints, each the mirror image of
// the other: a's sends arrive on b's Recv and vice versa
// (original_source/src/ipc/chan.rs's test harness wires two mpsc pairs
// the same way). Both ends share mode.
func NewPair(mode Mode) (a, b *Chan) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	a = &Chan{mode: mode, out: ab, in: ba, done: make(chan struct{})}
	b = &Chan{mode: mode, out: ba, in: ab, done: a.done}
	return a, b
}

// Name satisfies ipc.Transport.
func (c *Chan) Name() string { return "channel" }

// Send satisfies ipc.Transport. dest is ignored: an in-process pair has
// exactly one possible peer.
func (c *Chan) Send(b []byte, dest string) error {
	select {
	case <-c.done:
		return ipc.ErrTransportClosed
	default:
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case c.out <- cp:
		return nil
	case <-c.done:
		return ipc.ErrTransportClosed
	}
}

// Recv satisfies ipc.Transport. A Blocking Chan waits up to
// ipc.RecvTimeout before returning ipc.ErrWouldBlock
// (original_source/src/ipc/chan.rs: recv_timeout(Duration::from_secs(1)));
// a Nonblocking Chan never waits (try_recv()).
func (c *Chan) Recv(buf []byte) (int, string, error) {
	select {
	case <-c.done:
		return 0, "", ipc.ErrTransportClosed
	default:
	}
	switch c.mode {
	case Nonblocking:
		select {
		case msg, ok := <-c.in:
			if !ok {
				return 0, "", ipc.ErrTransportClosed
			}
			return copyInto(buf, msg), "", nil
		default:
			return 0, "", ipc.ErrWouldBlock
		}
	default:
		timer := time.NewTimer(ipc.RecvTimeout)
		defer timer.Stop()
		select {
		case msg, ok := <-c.in:
			if !ok {
				return 0, "", ipc.ErrTransportClosed
			}
			return copyInto(buf, msg), "", nil
		case <-timer.C:
			return 0, "", ipc.ErrWouldBlock
		case <-c.done:
			return 0, "", ipc.ErrTransportClosed
		}
	}
}

// Close marks both ends of the pair closed; any blocked or future Recv
// or Send on either end returns ipc.ErrTransportClosed.
func (c *Chan) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

func copyInto(dst, src []byte) int {
	n := copy(dst, src)
	return n
}

var _ ipc.Transport = (*Chan)(nil)
