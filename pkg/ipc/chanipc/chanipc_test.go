package chanipc

import (
	"errors"
	"testing"

	"github.com/ccp-project/goccp/pkg/ipc"
)

func TestRoundTrip(t *testing.T) {
	a, b := NewPair(Blocking)
	defer a.Close()
	defer b.Close()

	want := []byte{0, 9, 1, 8}
	if err := a.Send(want, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, 8)
	n, _, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != string(want) {
		t.Errorf("got %v, want %v", buf[:n], want)
	}
}

func TestNonblockingRecvWouldBlock(t *testing.T) {
	a, b := NewPair(Nonblocking)
	defer a.Close()
	defer b.Close()

	buf := make([]byte, 8)
	_, _, err := b.Recv(buf)
	if !errors.Is(err, ipc.ErrWouldBlock) {
		t.Fatalf("got %v, want ErrWouldBlock", err)
	}
}

func TestCloseUnblocksRecv(t *testing.T) {
	a, b := NewPair(Blocking)
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 8)
		_, _, err := b.Recv(buf)
		done <- err
	}()
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-done; !errors.Is(err, ipc.ErrTransportClosed) {
		t.Fatalf("got %v, want ErrTransportClosed", err)
	}
}
