package unixipc

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/ccp-project/goccp/pkg/ipc"
)

func TestRoundTrip(t *testing.T) {
	aName := fmt.Sprintf("test-a-%d", os.Getpid())
	bName := fmt.Sprintf("test-b-%d", os.Getpid())

	a, err := New(aName, ipc.Blocking)
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	defer a.Close()

	b, err := New(bName, ipc.Blocking)
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	defer b.Close()

	want := []byte("hello")
	if err := a.Send(want, bName); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 64)
	n, src, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != string(want) {
		t.Errorf("got %q, want %q", buf[:n], want)
	}
	if src != aName {
		t.Errorf("src = %q, want %q", src, aName)
	}
}

func TestRecvTimesOutWhenEmpty(t *testing.T) {
	name := fmt.Sprintf("test-empty-%d", os.Getpid())
	s, err := New(name, ipc.Nonblocking)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	buf := make([]byte, 64)
	_, _, err = s.Recv(buf)
	if !errors.Is(err, ipc.ErrWouldBlock) {
		t.Fatalf("got %v, want ErrWouldBlock", err)
	}
}
