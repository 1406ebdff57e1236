//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package chardevipc is an ipc.Transport over the kernel-module
// character device /dev/ccpkp (original_source/src/ipc/kp.rs): a plain
// read/write file, with a 1-second poll(2) wait standing in for the
// other transports' receive timeout.
package chardevipc

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ccp-project/goccp/pkg/ipc"
)

// DevicePath is the character device every Socket opens.
const DevicePath = "/dev/ccpkp"

// Socket is a chardevipc ipc.Transport.
type Socket struct {
	f    *os.File
	mode ipc.Mode
}

// New opens DevicePath for read and write. A Nonblocking Socket opens
// with O_NONBLOCK (original_source/src/ipc/kp.rs Socket<Nonblocking>);
// a Blocking Socket instead bounds Recv with a 1-second poll(2) wait.
func New(mode ipc.Mode) (*Socket, error) {
	flags := os.O_RDWR
	if mode == ipc.Nonblocking {
		flags |= unix.O_NONBLOCK
	}
	f, err := os.OpenFile(DevicePath, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("chardevipc: open %s: %w", DevicePath, err)
	}
	return &Socket{f: f, mode: mode}, nil
}

// Name satisfies ipc.Transport.
func (s *Socket) Name() string { return "char" }

// Send writes buf to the device; dest is ignored, the device has a
// single implicit peer (the kernel module).
func (s *Socket) Send(b []byte, dest string) error {
	_, err := s.f.Write(b)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ipc.ErrTransportClosed
		}
		return fmt.Errorf("chardevipc: write: %w", err)
	}
	return nil
}

// Recv satisfies ipc.Transport. A Blocking Socket polls for up to
// ipc.RecvTimeout before returning ipc.ErrWouldBlock
// (original_source/src/ipc/kp.rs: poll(&mut [pollfd], 1000)); a
// Nonblocking Socket relies on the O_NONBLOCK read itself returning
// EAGAIN.
func (s *Socket) Recv(buf []byte) (int, string, error) {
	if s.mode == ipc.Blocking {
		fds := []unix.PollFd{{Fd: int32(s.f.Fd()), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(ipc.RecvTimeout.Milliseconds()))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				return 0, "", ipc.ErrWouldBlock
			}
			return 0, "", fmt.Errorf("chardevipc: poll: %w", err)
		}
		if n == 0 {
			return 0, "", ipc.ErrWouldBlock
		}
	}

	n, err := s.f.Read(buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, "", ipc.ErrWouldBlock
		}
		if errors.Is(err, os.ErrClosed) {
			return 0, "", ipc.ErrTransportClosed
		}
		return 0, "", fmt.Errorf("chardevipc: read: %w", err)
	}
	return n, "", nil
}

// Close closes the device file.
func (s *Socket) Close() error { return s.f.Close() }

var _ ipc.Transport = (*Socket)(nil)
