//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package netlinkipc is an ipc.Transport over a NETLINK_USERSOCK raw
// socket, bound to this process's pid with an optional multicast group
// join (original_source/src/ipc/netlink.rs). Linux-only; gated at
// construction by pkg/kernelcheck.NetlinkAvailable.
package netlinkipc

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ccp-project/goccp/pkg/ipc"
	"github.com/ccp-project/goccp/pkg/kernelcheck"
)

// Socket is a NETLINK_USERSOCK ipc.Transport.
type Socket struct {
	fd   int
	mode ipc.Mode
}

// New opens a NETLINK_USERSOCK socket bound to this process's pid. If
// group is non-zero the socket additionally joins that multicast group
// (original_source/src/ipc/netlink.rs Socket::new). New refuses to run
// on kernels pkg/kernelcheck flags as too old for netlink IPC.
func New(group uint32, mode ipc.Mode) (*Socket, error) {
	if ok, err := kernelcheck.NetlinkAvailable(); !ok {
		return nil, fmt.Errorf("netlinkipc: unavailable: %w", err)
	}

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_USERSOCK)
	if err != nil {
		return nil, fmt.Errorf("netlinkipc: socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: uint32(os.Getpid())}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("netlinkipc: bind: %w", err)
	}

	if group != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, int(group)); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("netlinkipc: join group %d: %w", group, err)
		}
	}

	if mode == ipc.Blocking {
		tv := unix.NsecToTimeval(ipc.RecvTimeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("netlinkipc: set recv timeout: %w", err)
		}
	} else if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("netlinkipc: set nonblocking: %w", err)
	}

	return &Socket{fd: fd, mode: mode}, nil
}

// Name satisfies ipc.Transport.
func (s *Socket) Name() string { return "netlink" }

// Send transmits to the kernel (pid 0); dest is ignored, as a netlink
// socket in this setup has a single implicit peer.
func (s *Socket) Send(b []byte, dest string) error {
	err := unix.Sendto(s.fd, b, 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: 0})
	if err != nil {
		return fmt.Errorf("netlinkipc: sendto: %w", err)
	}
	return nil
}

// Recv satisfies ipc.Transport, translating EAGAIN/EWOULDBLOCK and a
// timed-out blocking read into ipc.ErrWouldBlock.
func (s *Socket) Recv(buf []byte) (int, string, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, "", ipc.ErrWouldBlock
		}
		if errors.Is(err, unix.EBADF) {
			return 0, "", ipc.ErrTransportClosed
		}
		return 0, "", fmt.Errorf("netlinkipc: recvfrom: %w", err)
	}
	return n, "", nil
}

// Close shuts down and closes the socket.
func (s *Socket) Close() error {
	_ = unix.Shutdown(s.fd, unix.SHUT_RDWR)
	return unix.Close(s.fd)
}

var _ ipc.Transport = (*Socket)(nil)
