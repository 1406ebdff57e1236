/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package ipc is the pluggable transport substrate connecting the
// control plane to one or many datapaths: a single Transport interface
// with interchangeable implementations (pkg/ipc/unixipc, netlinkipc,
// chardevipc, chanipc), and a Backend that turns a raw Transport into a
// stream of decoded pkg/ser frames plus a thread-safe Sender handle.
package ipc

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccp-project/goccp/pkg/ccplog"
	"github.com/ccp-project/goccp/pkg/metrics"
	"github.com/ccp-project/goccp/pkg/ser"
)

// Mode is the Blocking/Nonblocking behavior a Transport is constructed
// with (original_source/src/ipc/{unix,chan,kp}.rs express this as a
// PhantomData type parameter on Socket<T>; a plain constructor argument
// is Go's idiomatic equivalent).
type Mode uint8

const (
	Blocking Mode = iota
	Nonblocking
)

// RecvTimeout is the bounded timeout a Blocking transport's Recv uses
// before returning ErrWouldBlock, so the runtime can poll its shutdown
// flag (matching original_source/src/ipc/{unix,chan}.rs's one-second
// recv_timeout/set_read_timeout).
const RecvTimeout = time.Second

// ErrWouldBlock is returned by a Blocking transport's Recv when no frame
// arrived within RecvTimeout.
var ErrWouldBlock = errors.New("ipc: would block")

// ErrTransportClosed is returned once a transport has been permanently
// closed; the runtime treats it as a fatal, loop-ending condition.
var ErrTransportClosed = errors.New("ipc: transport closed")

// Transport is the substrate contract every IPC implementation
// satisfies: send, receive exactly one datagram-framed message, close,
// and a name used in logs. Dest is a transport-specific peer address (a
// socket path for unixipc; the empty string for netlinkipc and
// chardevipc, which have a single implicit peer).
type Transport interface {
	Send(b []byte, dest string) error
	Recv(buf []byte) (n int, src string, err error)
	Close() error
	Name() string
}

// Backend wraps a Transport plus a shared "keep listening" flag and
// receive buffer, decoding every inbound frame via pkg/ser before
// handing it to the runtime.
type Backend struct {
	transport  Transport
	continuing *atomic.Bool
	recvBuf    []byte
	sender     *Sender
	metrics    *metrics.Collector
	log        *logrus.Entry
}

// NewBackend builds a Backend over transport. continuing is a
// shareable flag the runtime clears to stop Next from blocking forever;
// recvBuf sizes the largest frame this Backend will accept. m is the
// counter set Next reports dropped frames against — the same Collector
// the runtime built over this Backend exposes to its registry, so a
// decode error at this layer and the installs/reports it otherwise
// counts show up together.
func NewBackend(transport Transport, continuing *atomic.Bool, recvBuf []byte, m *metrics.Collector) *Backend {
	b := &Backend{
		transport:  transport,
		continuing: continuing,
		recvBuf:    recvBuf,
		metrics:    m,
		log:        ccplog.For("ipc." + transport.Name()),
	}
	b.sender = &Sender{transport: transport}
	return b
}

// Sender returns the cheaply-cloneable send handle flow code uses to
// talk back to the datapath.
func (b *Backend) Sender() *Sender { return b.sender }

// Next reads and decodes the next frame, retrying transient
// ErrWouldBlock timeouts and polling the continuing flag between
// attempts, until a frame is decoded, the continuing flag is cleared,
// or the transport reports a permanent close. Its second return value
// is false exactly when the loop stopped without a frame.
func (b *Backend) Next() (ser.Frame, bool) {
	for b.continuing.Load() {
		n, src, err := b.transport.Recv(b.recvBuf)
		switch {
		case errors.Is(err, ErrWouldBlock):
			continue
		case errors.Is(err, ErrTransportClosed):
			return ser.Frame{}, false
		case err != nil:
			b.log.Warnf("recv error: %v", err)
			continue
		}

		frame, err := b.decode(b.recvBuf[:n])
		if err != nil {
			b.log.Warnf("dropping malformed frame from %s: %v", src, err)
			b.metrics.IncDecodeError()
			continue
		}
		if src != "" && (frame.Type == ser.MsgReady || frame.Type == ser.MsgCreate) {
			b.sender.setPeerAddr(src)
		}
		return frame, true
	}
	return ser.Frame{}, false
}

// decode sniffs a frame's type from its header before committing to a
// full decode. UpdateField and ChangeProg resolve register references
// against a Scope, but the control plane never legitimately receives
// either message type — a datapath sending one is a protocol violation
// regardless of whether its payload happens to be well-formed. Rather
// than require a Scope here just to fully decode a frame the runtime is
// going to reject outright, decode returns it with only Type populated,
// which is all Runtime.dispatch needs to hit its fatal case.
func (b *Backend) decode(buf []byte) (ser.Frame, error) {
	t, _, _, err := ser.DecodeHeader(buf)
	if err != nil {
		return ser.Frame{}, err
	}
	if t == ser.MsgUpdateField || t == ser.MsgChangeProg {
		return ser.Frame{Type: t}, nil
	}
	return ser.DecodeFrame(buf, nil)
}

// Close shuts down the underlying transport.
func (b *Backend) Close() error { return b.transport.Close() }

// Sender is the thread-safe send handle shared between the runtime and
// every flow's Datapath handle. It remembers the datapath's reply
// address learned from the most recent Ready or Create frame.
type Sender struct {
	mu        sync.Mutex
	transport Transport
	peerAddr  string
}

func (s *Sender) setPeerAddr(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerAddr = addr
}

// Send transmits a pre-encoded frame to the last-known peer address.
func (s *Sender) Send(frame []byte) error {
	s.mu.Lock()
	addr := s.peerAddr
	transport := s.transport
	s.mu.Unlock()
	return transport.Send(frame, addr)
}
