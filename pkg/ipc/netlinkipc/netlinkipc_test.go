//go:build linux

package netlinkipc

import (
	"testing"

	"github.com/ccp-project/goccp/pkg/ipc"
	"github.com/ccp-project/goccp/pkg/kernelcheck"
)

// TestNewAndClose only checks construction and teardown: NETLINK_USERSOCK
// requires privileges this test environment may not grant, so a
// permission error is tolerated rather than failed.
func TestNewAndClose(t *testing.T) {
	if ok, _ := kernelcheck.NetlinkAvailable(); !ok {
		t.Skip("netlink unavailable on this kernel")
	}

	s, err := New(0, ipc.Nonblocking)
	if err != nil {
		t.Skipf("netlink socket unavailable in this environment: %v", err)
	}
	defer s.Close()

	buf := make([]byte, 64)
	if _, _, err := s.Recv(buf); err != ipc.ErrWouldBlock {
		t.Errorf("got %v, want ErrWouldBlock on an empty nonblocking socket", err)
	}
}
