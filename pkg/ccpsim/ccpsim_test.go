/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package ccpsim

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ccp-project/goccp/pkg/ipc"
	"github.com/ccp-project/goccp/pkg/ir"
	"github.com/ccp-project/goccp/pkg/metrics"
	"github.com/ccp-project/goccp/pkg/run"
)

// testAlg is the minimal CongAlg every scenario below builds: one
// named datapath program, and a newFlow hook the test supplies to wire
// up whatever the scenario needs from the runtime side.
type testAlg struct {
	programs map[string]string
	newFlow  func(dp *run.Datapath, info run.DatapathInfo) run.Flow
}

func (a *testAlg) Name() string                       { return "test" }
func (a *testAlg) DatapathPrograms() map[string]string { return a.programs }
func (a *testAlg) NewFlow(dp *run.Datapath, info run.DatapathInfo) run.Flow {
	return a.newFlow(dp, info)
}

// testFlow relays every report to a channel the test reads from.
type testFlow struct {
	reports chan run.Report
}

func (f *testFlow) OnReport(sockID uint32, r run.Report) { f.reports <- r }
func (f *testFlow) Close()                               {}

// harness wires a Sim to a live run.Runtime over an in-process chanipc
// pair and starts the runtime on its own goroutine, draining the
// global Install frames every scenario's single program produces on
// Ready.
type harness struct {
	sim        *Sim
	continuing *atomic.Bool
	handle     *run.RuntimeHandle
}

func newHarness(t *testing.T, alg run.CongAlg) *harness {
	t.Helper()
	sim, transport, err := NewSim(alg.DatapathPrograms())
	if err != nil {
		t.Fatalf("NewSim: %v", err)
	}

	continuing := &atomic.Bool{}
	continuing.Store(true)
	m := metrics.NewCollector("goccp", nil)
	backend := ipc.NewBackend(transport, continuing, make([]byte, 1<<16), m)
	rt := run.New(backend, continuing, m, alg)
	handle := rt.Spawn()

	if err := sim.SendReady(); err != nil {
		t.Fatalf("SendReady: %v", err)
	}
	if err := sim.DrainInstalls(len(alg.DatapathPrograms())); err != nil {
		t.Fatalf("DrainInstalls: %v", err)
	}

	return &harness{sim: sim, continuing: continuing, handle: handle}
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.handle.Kill()
	h.sim.Close()
	done := make(chan struct{})
	go func() {
		h.handle.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("runtime did not shut down")
	}
}

func awaitReport(t *testing.T, reports chan run.Report, timeout time.Duration) run.Report {
	t.Helper()
	select {
	case r := <-reports:
		return r
	case <-time.After(timeout):
		t.Fatalf("no report arrived within %s", timeout)
		return run.Report{}
	}
}

func expectNoReport(t *testing.T, reports chan run.Report, within time.Duration) {
	t.Helper()
	select {
	case r := <-reports:
		t.Fatalf("unexpected report: %+v", r)
	case <-time.After(within):
	}
}

// TestS1MinimalReport covers a single volatile Report register, bound
// then reported on the first tick.
func TestS1MinimalReport(t *testing.T) {
	const src = `
(def (Report (volatile foo 0)))
(when true (:= Report.foo 4) (report))
`
	reports := make(chan run.Report, 4)
	var scope *ir.Scope
	alg := &testAlg{
		programs: map[string]string{"default": src},
		newFlow: func(dp *run.Datapath, info run.DatapathInfo) run.Flow {
			s, err := dp.SetProgram("default", nil)
			if err != nil {
				t.Fatalf("SetProgram: %v", err)
			}
			scope = s
			return &testFlow{reports: reports}
		},
	}

	h := newHarness(t, alg)
	defer h.stop(t)

	if err := h.sim.CreateFlow(1, 15000, 1500, 0, 1, 0, 2, "test"); err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	if err := h.sim.AwaitFlow(1); err != nil {
		t.Fatalf("AwaitFlow: %v", err)
	}
	if err := h.sim.Tick(1, nil, 1); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	r := awaitReport(t, reports, time.Second)
	v, err := r.GetField("Report.foo", scope)
	if err != nil {
		t.Fatalf("GetField: %v", err)
	}
	if v != 4 {
		t.Fatalf("Report.foo = %d, want 4", v)
	}
}

// TestS2Timing covers no report before 3 simulated seconds elapse,
// exactly one after, via a one-shot latch register plus an
// always-true fallthrough event. The program declares a Report register
// because a Measure with no fields is the datapath's close signal.
func TestS2Timing(t *testing.T) {
	const src = `
(def (Report (acked 0)) (Control.state 0))
(when (&& (> Micros 3000000) (== Control.state 0))
  (:= Control.state 1)
  (report))
(when true (fallthrough))
`
	reports := make(chan run.Report, 4)
	alg := &testAlg{
		programs: map[string]string{"default": src},
		newFlow: func(dp *run.Datapath, info run.DatapathInfo) run.Flow {
			if _, err := dp.SetProgram("default", nil); err != nil {
				t.Fatalf("SetProgram: %v", err)
			}
			return &testFlow{reports: reports}
		},
	}

	h := newHarness(t, alg)
	defer h.stop(t)

	if err := h.sim.CreateFlow(1, 15000, 1500, 0, 1, 0, 2, "test"); err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	if err := h.sim.AwaitFlow(1); err != nil {
		t.Fatalf("AwaitFlow: %v", err)
	}

	for us := uint64(0); us < 3_000_000; us += 500_000 {
		if err := h.sim.Tick(1, nil, us); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	expectNoReport(t, reports, 200*time.Millisecond)

	if err := h.sim.Tick(1, nil, 3_000_001); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	awaitReport(t, reports, time.Second)

	// No further reports once Control.state has latched.
	if err := h.sim.Tick(1, nil, 4_000_000); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	expectNoReport(t, reports, 200*time.Millisecond)
}

// TestS3PresetVariables covers preset bindings applied atomically with
// set_program being visible to the program's first evaluation.
func TestS3PresetVariables(t *testing.T) {
	const src = `
(def (Report (testFoo 0)) (foo 0))
(when true (:= Report.testFoo foo) (report))
`
	reports := make(chan run.Report, 4)
	var scope *ir.Scope
	alg := &testAlg{
		programs: map[string]string{"default": src},
		newFlow: func(dp *run.Datapath, info run.DatapathInfo) run.Flow {
			s, err := dp.SetProgram("default", []run.FieldValue{{Name: "foo", Value: 52}})
			if err != nil {
				t.Fatalf("SetProgram: %v", err)
			}
			scope = s
			return &testFlow{reports: reports}
		},
	}

	h := newHarness(t, alg)
	defer h.stop(t)

	if err := h.sim.CreateFlow(1, 15000, 1500, 0, 1, 0, 2, "test"); err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	if err := h.sim.AwaitFlow(1); err != nil {
		t.Fatalf("AwaitFlow: %v", err)
	}
	if err := h.sim.Tick(1, nil, 1); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	r := awaitReport(t, reports, time.Second)
	v, err := r.GetField("Report.testFoo", scope)
	if err != nil {
		t.Fatalf("GetField: %v", err)
	}
	if v != 52 {
		t.Fatalf("Report.testFoo = %d, want 52", v)
	}
}

// TestS4UpdateField covers update_field mutating Cwnd and Rate, with
// the installed program reporting once Cwnd reaches the value it's
// waiting for.
func TestS4UpdateField(t *testing.T) {
	const src = `
(def (Report (cwnd 0) (rate 0)))
(when (== Cwnd 42) (:= Report.cwnd Cwnd) (:= Report.rate Rate) (report))
`
	reports := make(chan run.Report, 4)
	var dp *run.Datapath
	var scope *ir.Scope
	alg := &testAlg{
		programs: map[string]string{"default": src},
		newFlow: func(d *run.Datapath, info run.DatapathInfo) run.Flow {
			s, err := d.SetProgram("default", nil)
			if err != nil {
				t.Fatalf("SetProgram: %v", err)
			}
			dp, scope = d, s
			return &testFlow{reports: reports}
		},
	}

	h := newHarness(t, alg)
	defer h.stop(t)

	if err := h.sim.CreateFlow(1, 15000, 1500, 0, 1, 0, 2, "test"); err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	if err := h.sim.AwaitFlow(1); err != nil {
		t.Fatalf("AwaitFlow: %v", err)
	}
	expectNoReport(t, reports, 100*time.Millisecond)

	if err := dp.UpdateField(scope, []run.FieldValue{{Name: "Cwnd", Value: 42}, {Name: "Rate", Value: 10}}); err != nil {
		t.Fatalf("UpdateField: %v", err)
	}
	if _, err := h.sim.Pump(); err != nil {
		t.Fatalf("Pump (UpdateField): %v", err)
	}
	if err := h.sim.Tick(1, nil, 1); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	r := awaitReport(t, reports, time.Second)
	for _, f := range []struct {
		name string
		want uint64
	}{{"Report.cwnd", 42}, {"Report.rate", 10}} {
		v, err := r.GetField(f.name, scope)
		if err != nil {
			t.Fatalf("GetField(%s): %v", f.name, err)
		}
		if v != f.want {
			t.Fatalf("%s = %d, want %d", f.name, v, f.want)
		}
	}
}

// TestS5VolatileReset covers a volatile Report register resetting to
// its declared initial value after each report, while a non-volatile
// one does not.
func TestS5VolatileReset(t *testing.T) {
	const src = `
(def (Report (volatile foo 0) (bar 0)))
(when true
  (:= Report.foo (+ Report.foo 1))
  (:= Report.bar (+ Report.bar 1))
  (fallthrough))
(when (== Report.foo 10) (report))
`
	reports := make(chan run.Report, 4)
	var scope *ir.Scope
	alg := &testAlg{
		programs: map[string]string{"default": src},
		newFlow: func(dp *run.Datapath, info run.DatapathInfo) run.Flow {
			s, err := dp.SetProgram("default", nil)
			if err != nil {
				t.Fatalf("SetProgram: %v", err)
			}
			scope = s
			return &testFlow{reports: reports}
		},
	}

	h := newHarness(t, alg)
	defer h.stop(t)

	if err := h.sim.CreateFlow(1, 15000, 1500, 0, 1, 0, 2, "test"); err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}
	if err := h.sim.AwaitFlow(1); err != nil {
		t.Fatalf("AwaitFlow: %v", err)
	}

	for i := uint64(1); i <= 10; i++ {
		if err := h.sim.Tick(1, nil, i); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	r1 := awaitReport(t, reports, time.Second)
	foo1, _ := r1.GetField("Report.foo", scope)
	bar1, _ := r1.GetField("Report.bar", scope)
	if foo1 != 10 || bar1 != 10 {
		t.Fatalf("first report foo=%d bar=%d, want 10,10", foo1, bar1)
	}

	for i := uint64(11); i <= 20; i++ {
		if err := h.sim.Tick(1, nil, i); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	r2 := awaitReport(t, reports, time.Second)
	foo2, _ := r2.GetField("Report.foo", scope)
	bar2, _ := r2.GetField("Report.bar", scope)
	if foo2 != 10 || bar2 != 20 {
		t.Fatalf("second report foo=%d bar=%d, want 10,20", foo2, bar2)
	}
}

// TestS6TwoFlowsDistinctControl covers two simultaneous flows with
// distinct Control state set at install time, each reporting its own
// value with no cross-contamination.
func TestS6TwoFlowsDistinctControl(t *testing.T) {
	const src = `
(def (Report (number 0)) (Control.number 0))
(when true (:= Report.number Control.number) (report))
`
	reports := make(chan run.Report, 4)
	alg := &testAlg{
		programs: map[string]string{"default": src},
		newFlow: func(dp *run.Datapath, info run.DatapathInfo) run.Flow {
			sid := info.SockID
			if _, err := dp.SetProgram("default", []run.FieldValue{{Name: "Control.number", Value: uint64(sid) * 10}}); err != nil {
				t.Fatalf("SetProgram: %v", err)
			}
			return &testFlow{reports: reports}
		},
	}

	h := newHarness(t, alg)
	defer h.stop(t)

	if err := h.sim.CreateFlow(1, 15000, 1500, 0, 1, 0, 2, "test"); err != nil {
		t.Fatalf("CreateFlow(1): %v", err)
	}
	if err := h.sim.AwaitFlow(1); err != nil {
		t.Fatalf("AwaitFlow(1): %v", err)
	}
	if err := h.sim.CreateFlow(2, 15000, 1500, 0, 3, 0, 4, "test"); err != nil {
		t.Fatalf("CreateFlow(2): %v", err)
	}
	if err := h.sim.AwaitFlow(2); err != nil {
		t.Fatalf("AwaitFlow(2): %v", err)
	}

	if err := h.sim.Tick(1, nil, 1); err != nil {
		t.Fatalf("Tick(1): %v", err)
	}
	if err := h.sim.Tick(2, nil, 1); err != nil {
		t.Fatalf("Tick(2): %v", err)
	}

	seen := map[uint64]bool{}
	for i := 0; i < 2; i++ {
		r := awaitReport(t, reports, time.Second)
		seen[r.Fields[0]] = true
	}
	if !seen[10] || !seen[20] {
		t.Fatalf("expected reports carrying 10 and 20, got %v", seen)
	}
}
