/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package run

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ccp-project/goccp/pkg/ccplog"
	"github.com/ccp-project/goccp/pkg/idgen"
	"github.com/ccp-project/goccp/pkg/ipc"
	"github.com/ccp-project/goccp/pkg/ir"
	"github.com/ccp-project/goccp/pkg/lang"
	"github.com/ccp-project/goccp/pkg/metrics"
	"github.com/ccp-project/goccp/pkg/ser"
)

// installSockID is the conventional placeholder socket id global
// program installs are framed under, before any real flow exists
// (original_source/src/run.rs: send_and_install(0, &backend, bin, &sc)).
const installSockID uint32 = 0

type compiledProgram struct {
	name  string
	bin   *ir.Bin
	scope *ir.Scope
}

type flowEntry struct {
	flow Flow
}

// Runtime is the main event loop: it owns the flow table, decodes
// incoming frames via a Backend, and dispatches them to per-flow
// algorithm code.
type Runtime struct {
	backend    *ipc.Backend
	continuing *atomic.Bool

	defaultAlg CongAlg
	algsByName map[string]CongAlg

	compiled []*compiledProgram
	programs map[string]*ir.Scope // name -> currently installed Scope, shared with every Datapath handle

	flows map[uint32]*flowEntry

	metrics *metrics.Collector
	log     *logrus.Entry
}

// New builds a Runtime over backend. defaultAlg is used whenever a
// Create frame's requested algorithm name doesn't match one of
// additional. continuing is the shared shutdown flag also passed to
// the Backend. m is the counter set this Runtime reports dispatch
// activity against — the caller builds it once and passes the same
// instance to ipc.NewBackend, so a decode error dropped at the
// transport layer and the installs/reports the runtime counts land on
// one Collector.
func New(backend *ipc.Backend, continuing *atomic.Bool, m *metrics.Collector, defaultAlg CongAlg, additional ...CongAlg) *Runtime {
	algs := make(map[string]CongAlg, len(additional))
	for _, a := range additional {
		algs[a.Name()] = a
	}
	return &Runtime{
		backend:    backend,
		continuing: continuing,
		defaultAlg: defaultAlg,
		algsByName: algs,
		programs:   make(map[string]*ir.Scope),
		flows:      make(map[uint32]*flowEntry),
		metrics:    m,
		log:        ccplog.For("run"),
	}
}

// Metrics returns the runtime's prometheus.Collector, for the caller to
// register with whatever registry the binary uses.
func (rt *Runtime) Metrics() *metrics.Collector { return rt.metrics }

func (rt *Runtime) pick(name string) CongAlg {
	if name != "" {
		if a, ok := rt.algsByName[name]; ok {
			return a
		}
	}
	return rt.defaultAlg
}

// Run compiles every algorithm's declared programs once, then blocks
// processing frames until the transport closes or continuing is
// cleared. It returns nil on an orderly (continuing cleared) shutdown
// and a non-nil error on compile failure, a protocol violation, or an
// abnormal transport close.
func (rt *Runtime) Run() error {
	if err := rt.compileAll(); err != nil {
		return err
	}

	for {
		frame, ok := rt.backend.Next()
		if !ok {
			if rt.continuing.Load() {
				return fmt.Errorf("run: ipc channel closed")
			}
			rt.closeAllFlows()
			return nil
		}
		if err := rt.dispatch(frame); err != nil {
			rt.closeAllFlows()
			return err
		}
	}
}

// compileAll compiles every declared program for the default and every
// additional algorithm exactly once, at startup. A compile failure is
// fatal: it is returned to the caller rather than skipped.
func (rt *Runtime) compileAll() error {
	algs := make([]CongAlg, 0, len(rt.algsByName)+1)
	algs = append(algs, rt.defaultAlg)
	for _, a := range rt.algsByName {
		algs = append(algs, a)
	}
	for _, alg := range algs {
		for name, src := range alg.DatapathPrograms() {
			bin, scope, err := lang.Compile([]byte(src))
			if err != nil {
				return fmt.Errorf("run: program %q failed to compile: %w", name, err)
			}
			rt.compiled = append(rt.compiled, &compiledProgram{name: name, bin: bin, scope: scope})
		}
	}
	return nil
}

// installAll (re-)installs every compiled program, assigning each a
// fresh program_uid, on receipt of Ready.
func (rt *Runtime) installAll() error {
	sender := rt.backend.Sender()
	for _, cp := range rt.compiled {
		cp.scope.ProgramUID = idgen.NextProgramUID()
		instrs, err := ir.EncodeBin(cp.bin, cp.scope)
		if err != nil {
			return fmt.Errorf("run: encode program %q: %w", cp.name, err)
		}
		msg := ser.InstallMsg{SockID: installSockID, Events: cp.bin.Events, Instrs: instrs}
		if err := sender.Send(ser.EncodeInstall(msg)); err != nil {
			return fmt.Errorf("run: install program %q: %w", cp.name, err)
		}
		rt.metrics.IncFrameSent(installSockID)
		rt.metrics.IncInstall()
		rt.programs[cp.name] = cp.scope
	}
	return nil
}

func (rt *Runtime) dispatch(frame ser.Frame) error {
	switch frame.Type {
	case ser.MsgReady:
		rt.log.WithField("id", frame.Ready.ID).Debug("datapath ready")
		return rt.installAll()

	case ser.MsgCreate:
		rt.handleCreate(frame.Create)
		return nil

	case ser.MsgMeasure:
		rt.handleMeasure(frame.Measure)
		return nil

	case ser.MsgOther:
		rt.handleOther(frame.Other)
		return nil

	case ser.MsgInstall, ser.MsgUpdateField, ser.MsgChangeProg:
		return fmt.Errorf("%w: %s", ErrProtocolViolation, frame.Type)

	default:
		return nil
	}
}

func (rt *Runtime) handleCreate(c *ser.CreateMsg) {
	if _, exists := rt.flows[c.SockID]; exists {
		rt.log.WithField("sock_id", c.SockID).Debug("re-creating already created flow")
		delete(rt.flows, c.SockID)
		rt.metrics.RemoveFlow(c.SockID)
	}

	rt.log.WithField("sock_id", c.SockID).
		WithField("init_cwnd", c.InitCwnd).
		WithField("mss", c.MSS).
		Debug("creating new flow")

	alg := rt.pick(c.CongAlg)
	dp := &Datapath{sockID: c.SockID, sender: rt.backend.Sender(), programs: rt.programs, metrics: rt.metrics}
	info := DatapathInfo{
		SockID: c.SockID, InitCwnd: c.InitCwnd, MSS: c.MSS,
		SrcIP: c.SrcIP, SrcPort: c.SrcPort, DstIP: c.DstIP, DstPort: c.DstPort,
	}
	rt.flows[c.SockID] = &flowEntry{flow: alg.NewFlow(dp, info)}
}

func (rt *Runtime) handleMeasure(m *ser.MeasureMsg) {
	fe, ok := rt.flows[m.SockID]
	if !ok {
		rt.log.WithField("sock_id", m.SockID).Debug("measurement for unknown flow")
		return
	}
	if len(m.Fields) == 0 {
		fe.flow.Close()
		delete(rt.flows, m.SockID)
		rt.metrics.RemoveFlow(m.SockID)
		return
	}
	rt.metrics.IncReport(m.SockID)
	fe.flow.OnReport(m.SockID, Report{ProgramUID: m.ProgramUID, Fields: m.Fields, metrics: rt.metrics})
}

func (rt *Runtime) handleOther(o *ser.OtherMsg) {
	fe, ok := rt.flows[o.SockID]
	if !ok {
		return
	}
	if peeker, ok := fe.flow.(OtherMessagePeeker); ok {
		peeker.OnOtherMessage(o.SockID, o.Payload)
	}
}

func (rt *Runtime) closeAllFlows() {
	for sockID, fe := range rt.flows {
		fe.flow.Close()
		delete(rt.flows, sockID)
		rt.metrics.RemoveFlow(sockID)
	}
}

// RuntimeHandle lets an external caller stop a Runtime spawned on its
// own goroutine and wait for it to exit.
type RuntimeHandle struct {
	continuing *atomic.Bool
	done       chan error
}

// Kill instructs the runtime's loop to exit after its current frame.
func (h *RuntimeHandle) Kill() { h.continuing.Store(false) }

// Wait blocks until the runtime's goroutine returns, yielding the same
// error Run would have returned.
func (h *RuntimeHandle) Wait() error { return <-h.done }

// Spawn runs rt.Run on its own goroutine and returns a handle to
// control it, mirroring original_source/src/run.rs's CCPHandle.
func (rt *Runtime) Spawn() *RuntimeHandle {
	h := &RuntimeHandle{continuing: rt.continuing, done: make(chan error, 1)}
	go func() {
		h.done <- rt.Run()
	}()
	return h
}
