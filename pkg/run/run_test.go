/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package run

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ccp-project/goccp/pkg/ir"
	"github.com/ccp-project/goccp/pkg/metrics"
	"github.com/ccp-project/goccp/pkg/ser"
)

type stubAlg struct{}

func (stubAlg) Name() string                       { return "stub" }
func (stubAlg) DatapathPrograms() map[string]string { return nil }
func (stubAlg) NewFlow(dp *Datapath, info DatapathInfo) Flow { return nil }

func TestReportGetFieldStaleProgramUID(t *testing.T) {
	scope := ir.NewScope()
	scope.NewReport("Report.foo", ir.KindNum, false, 0, false)
	scope.ProgramUID = 7

	r := Report{ProgramUID: 3, Fields: []uint64{42}}
	if _, err := r.GetField("Report.foo", scope); !errors.Is(err, ErrStaleReport) {
		t.Fatalf("GetField: got %v, want ErrStaleReport", err)
	}
}

func TestReportGetFieldNotAReportRegister(t *testing.T) {
	scope := ir.NewScope()
	scope.NewControl("rate_floor", ir.KindNum, 0, false)
	scope.ProgramUID = 1

	r := Report{ProgramUID: 1, Fields: nil}
	if _, err := r.GetField("rate_floor", scope); err == nil {
		t.Fatal("GetField: want error for a non-Report register")
	}
}

func TestReportGetFieldOK(t *testing.T) {
	scope := ir.NewScope()
	scope.NewReport("Report.foo", ir.KindNum, false, 0, false)
	scope.ProgramUID = 1

	r := Report{ProgramUID: 1, Fields: []uint64{99}}
	v, err := r.GetField("Report.foo", scope)
	if err != nil {
		t.Fatalf("GetField: %v", err)
	}
	if v != 99 {
		t.Fatalf("GetField = %d, want 99", v)
	}
}

func TestResolveWritableUpdatesRejectsReport(t *testing.T) {
	scope := ir.NewScope()
	scope.NewReport("Report.foo", ir.KindNum, false, 0, false)

	_, err := resolveWritableUpdates(scope, []FieldValue{{Name: "Report.foo", Value: 1}})
	if !errors.Is(err, ErrInvalidRegister) {
		t.Fatalf("resolveWritableUpdates: got %v, want ErrInvalidRegister", err)
	}
}

func TestResolveWritableUpdatesRejectsPrimitive(t *testing.T) {
	scope := ir.NewScope()
	_, err := resolveWritableUpdates(scope, []FieldValue{{Name: "Flow.rtt_sample_us", Value: 1}})
	if !errors.Is(err, ErrInvalidRegister) {
		t.Fatalf("resolveWritableUpdates: got %v, want ErrInvalidRegister", err)
	}
}

func TestResolveWritableUpdatesAcceptsControlAndImplicit(t *testing.T) {
	scope := ir.NewScope()
	scope.NewControl("rate_floor", ir.KindNum, 0, false)

	updates, err := resolveWritableUpdates(scope, []FieldValue{
		{Name: "rate_floor", Value: 5},
		{Name: "Cwnd", Value: 42},
	})
	if err != nil {
		t.Fatalf("resolveWritableUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("len(updates) = %d, want 2", len(updates))
	}
}

func TestResolveWritableUpdatesEmpty(t *testing.T) {
	scope := ir.NewScope()
	updates, err := resolveWritableUpdates(scope, nil)
	if err != nil || updates != nil {
		t.Fatalf("resolveWritableUpdates(nil) = %v, %v; want nil, nil", updates, err)
	}
}

// A datapath is never supposed to send Install, UpdateField, or
// ChangeProg to the control plane; dispatch must treat receiving any
// of the three as fatal rather than silently ignore it.
func TestDispatchRejectsInboundDatapathOnlyFramesAsProtocolViolation(t *testing.T) {
	rt := New(nil, &atomic.Bool{}, metrics.NewCollector("goccp_test_dispatch", nil), stubAlg{})

	for _, typ := range []ser.MsgType{ser.MsgInstall, ser.MsgUpdateField, ser.MsgChangeProg} {
		err := rt.dispatch(ser.Frame{Type: typ})
		if !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("dispatch(%s): got %v, want ErrProtocolViolation", typ, err)
		}
	}
}
