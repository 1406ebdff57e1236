/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package unixipc is the default ipc.Transport: a UNIX datagram socket
// bound under /tmp/ccp/ (original_source/src/ipc/unix.rs). Peer
// addresses are socket names under that same directory, not full paths.
package unixipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"

	"github.com/ccp-project/goccp/pkg/ccplog"
	"github.com/ccp-project/goccp/pkg/ipc"
)

// Dir is the directory every unixipc socket binds under
// (original_source/src/ipc/unix.rs: "/tmp/ccp/{bind_to}").
const Dir = "/tmp/ccp"

var log = ccplog.For("ipc.unix")

// Option tunes a Socket's kernel socket buffer sizes at construction.
type Option func(*options)

type options struct {
	sndbufBytes int
	rcvbufBytes int
}

// WithSendBuffer sets SO_SNDBUF on the bound socket. A failure to apply
// it is logged and otherwise ignored, matching
// original_source/src/ipc/unix.rs's "is_ok" trace-and-continue.
func WithSendBuffer(bytes int) Option {
	return func(o *options) { o.sndbufBytes = bytes }
}

// WithRecvBuffer sets SO_RCVBUF on the bound socket, best-effort.
func WithRecvBuffer(bytes int) Option {
	return func(o *options) { o.rcvbufBytes = bytes }
}

// Socket is a UNIX datagram ipc.Transport.
type Socket struct {
	conn *net.UnixConn
	mode ipc.Mode
}

// New binds a UNIX datagram socket at Dir/bindTo, creating Dir and
// unlinking any stale socket file left behind by a previous run first
// (original_source/src/ipc/unix.rs __new).
func New(bindTo string, mode ipc.Mode, opts ...Option) (*Socket, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(Dir, 0o755); err != nil {
		return nil, fmt.Errorf("unixipc: create %s: %w", Dir, err)
	}
	addr := filepath.Join(Dir, bindTo)
	if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("unixipc: unlink stale socket %s: %w", addr, err)
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: addr, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("unixipc: bind %s: %w", addr, err)
	}

	if o.sndbufBytes > 0 || o.rcvbufBytes > 0 {
		fd := netfd.GetFdFromConn(conn)
		if o.sndbufBytes > 0 {
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, o.sndbufBytes); err != nil {
				log.WithError(err).Warn("set SO_SNDBUF failed")
			}
		}
		if o.rcvbufBytes > 0 {
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, o.rcvbufBytes); err != nil {
				log.WithError(err).Warn("set SO_RCVBUF failed")
			}
		}
	}

	return &Socket{conn: conn, mode: mode}, nil
}

// Name satisfies ipc.Transport.
func (s *Socket) Name() string { return "unix" }

// Send writes to Dir/dest.
func (s *Socket) Send(b []byte, dest string) error {
	addr := &net.UnixAddr{Name: filepath.Join(Dir, dest), Net: "unixgram"}
	_, err := s.conn.WriteToUnix(b, addr)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ipc.ErrTransportClosed
		}
		return err
	}
	return nil
}

// Recv satisfies ipc.Transport: a Blocking Socket waits up to
// ipc.RecvTimeout, a Nonblocking Socket returns ipc.ErrWouldBlock
// immediately if nothing is ready (original_source/src/ipc/unix.rs's
// set_read_timeout(1s) vs set_nonblocking(true)).
func (s *Socket) Recv(buf []byte) (int, string, error) {
	deadline := time.Now()
	if s.mode == ipc.Blocking {
		deadline = deadline.Add(ipc.RecvTimeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, "", fmt.Errorf("unixipc: set read deadline: %w", err)
	}

	n, addr, err := s.conn.ReadFromUnix(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, "", ipc.ErrWouldBlock
		}
		if errors.Is(err, net.ErrClosed) {
			return 0, "", ipc.ErrTransportClosed
		}
		return 0, "", err
	}
	src := ""
	if addr != nil && addr.Name != "" {
		src = filepath.Base(addr.Name)
	}
	return n, src, nil
}

// Close shuts down the socket and removes its file from Dir.
func (s *Socket) Close() error {
	name := s.conn.LocalAddr().String()
	err := s.conn.Close()
	if name != "" {
		_ = os.Remove(name)
	}
	return err
}

var _ ipc.Transport = (*Socket)(nil)
