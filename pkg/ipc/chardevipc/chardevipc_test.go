//go:build linux

package chardevipc

import (
	"os"
	"testing"

	"github.com/ccp-project/goccp/pkg/ipc"
)

// TestNew skips unless the ccp kernel module's device node is present,
// since this transport only exists when that module is loaded.
func TestNew(t *testing.T) {
	if _, err := os.Stat(DevicePath); err != nil {
		t.Skipf("%s not present: %v", DevicePath, err)
	}

	s, err := New(ipc.Nonblocking)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
}
