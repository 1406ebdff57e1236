/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package ipc_test

import (
	"sync/atomic"
	"testing"

	"github.com/ccp-project/goccp/pkg/ipc"
	"github.com/ccp-project/goccp/pkg/ipc/chanipc"
	"github.com/ccp-project/goccp/pkg/metrics"
	"github.com/ccp-project/goccp/pkg/ser"
)

func newTestBackend(t *testing.T) (*ipc.Backend, *chanipc.Chan) {
	t.Helper()
	cp, datapath := chanipc.NewPair(ipc.Blocking)
	t.Cleanup(func() {
		cp.Close()
		datapath.Close()
	})

	continuing := &atomic.Bool{}
	continuing.Store(true)
	m := metrics.NewCollector("goccp_ipc_test", nil)
	return ipc.NewBackend(cp, continuing, make([]byte, 1<<16), m), datapath
}

// A datapath is never supposed to send UpdateField or ChangeProg to the
// control plane, so a real implementation can't supply the live Scope
// needed to fully decode one's payload. Next must still surface the
// frame with its Type populated, so the runtime's dispatch can reject
// it as the protocol violation it is rather than have it silently
// dropped as a malformed frame.
func TestNextSurfacesUpdateFieldWithoutScope(t *testing.T) {
	backend, datapath := newTestBackend(t)

	buf, err := ser.EncodeUpdateField(ser.UpdateFieldMsg{SockID: 1}, nil)
	if err != nil {
		t.Fatalf("EncodeUpdateField: %v", err)
	}
	if err := datapath.Send(buf, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}

	frame, ok := backend.Next()
	if !ok {
		t.Fatal("Next: got ok=false, want the frame surfaced to the caller")
	}
	if frame.Type != ser.MsgUpdateField {
		t.Fatalf("Next: frame.Type = %s, want %s", frame.Type, ser.MsgUpdateField)
	}
}

func TestNextSurfacesChangeProgWithoutScope(t *testing.T) {
	backend, datapath := newTestBackend(t)

	buf, err := ser.EncodeChangeProg(ser.ChangeProgMsg{SockID: 1, ProgramUID: 7}, nil)
	if err != nil {
		t.Fatalf("EncodeChangeProg: %v", err)
	}
	if err := datapath.Send(buf, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}

	frame, ok := backend.Next()
	if !ok {
		t.Fatal("Next: got ok=false, want the frame surfaced to the caller")
	}
	if frame.Type != ser.MsgChangeProg {
		t.Fatalf("Next: frame.Type = %s, want %s", frame.Type, ser.MsgChangeProg)
	}
}

// A genuinely malformed frame (too short to even hold a header) is the
// case Next should still drop and count, distinct from the
// UpdateField/ChangeProg case above.
func TestNextDropsShortFrame(t *testing.T) {
	backend, datapath := newTestBackend(t)

	if err := datapath.Send([]byte{1, 2, 3}, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := datapath.Send(mustEncodeReady(t), ""); err != nil {
		t.Fatalf("Send: %v", err)
	}

	frame, ok := backend.Next()
	if !ok {
		t.Fatal("Next: got ok=false, want the well-formed Ready frame after the short one was dropped")
	}
	if frame.Type != ser.MsgReady {
		t.Fatalf("Next: frame.Type = %s, want %s", frame.Type, ser.MsgReady)
	}
}

func mustEncodeReady(t *testing.T) []byte {
	t.Helper()
	return ser.EncodeReady(ser.ReadyMsg{ID: 1})
}
