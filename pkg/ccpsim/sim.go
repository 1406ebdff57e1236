/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package ccpsim is an in-process fake datapath: it drives one end of a
// pkg/ipc/chanipc pair, answers Ready/Install/ChangeProg/UpdateField
// frames the way a real datapath would, and lets a test advance a
// virtual clock and ACK-context to produce Measure frames. It exists
// purely to make a handful of install/report/update scenarios runnable
// as ordinary Go tests; it is not a model of any real datapath
// interpreter, which stays out of scope.
package ccpsim

import (
	"errors"
	"fmt"

	"github.com/ccp-project/goccp/pkg/ipc"
	"github.com/ccp-project/goccp/pkg/ipc/chanipc"
	"github.com/ccp-project/goccp/pkg/ir"
	"github.com/ccp-project/goccp/pkg/lang"
	"github.com/ccp-project/goccp/pkg/ser"
)

type compiledProgram struct {
	name  string
	bin   *ir.Bin
	scope *ir.Scope
}

// Sim is the fake datapath side of a running control plane.
type Sim struct {
	transport *chanipc.Chan
	recvBuf   []byte

	byContent map[string]*compiledProgram
	flows     map[uint32]*flowVM
}

// NewSim compiles programs (the same name -> DSL source mapping a
// CongAlg's DatapathPrograms returns) and wires up an in-process
// chanipc pair. It returns the Sim and the Transport the control
// plane's Backend should be built over.
func NewSim(programs map[string]string) (*Sim, ipc.Transport, error) {
	cpSide, simSide := chanipc.NewPair(ipc.Blocking)
	s := &Sim{
		transport: simSide,
		recvBuf:   make([]byte, 1<<16),
		byContent: make(map[string]*compiledProgram, len(programs)),
		flows:     make(map[uint32]*flowVM),
	}
	for name, src := range programs {
		bin, scope, err := lang.Compile([]byte(src))
		if err != nil {
			return nil, nil, fmt.Errorf("ccpsim: compile %q: %w", name, err)
		}
		instrs, err := ir.EncodeBin(bin, scope)
		if err != nil {
			return nil, nil, fmt.Errorf("ccpsim: encode %q: %w", name, err)
		}
		s.byContent[string(instrs)] = &compiledProgram{name: name, bin: bin, scope: scope}
	}
	return s, cpSide, nil
}

// SendReady announces the fake datapath is alive, prompting the
// runtime to (re-)install every declared program.
func (s *Sim) SendReady() error {
	return s.transport.Send(ser.EncodeReady(ser.ReadyMsg{ID: 1}), "")
}

// CreateFlow announces a new flow to the runtime.
func (s *Sim) CreateFlow(sockID, initCwnd, mss, srcIP, srcPort, dstIP, dstPort uint32, congAlg string) error {
	msg := ser.CreateMsg{
		SockID: sockID, InitCwnd: initCwnd, MSS: mss,
		SrcIP: srcIP, SrcPort: srcPort, DstIP: dstIP, DstPort: dstPort,
		CongAlg: congAlg,
	}
	return s.transport.Send(ser.EncodeCreate(msg), "")
}

// currentProgram returns the sole compiled program, when exactly one
// was registered. Scoping ChangeProg/UpdateField decode to the
// single-program case covers every scenario this simulator drives; a
// real datapath can disambiguate multiple live programs by program_uid
// alone, but nothing on this wire format lets this simulator do the
// same without that side information (documented in DESIGN.md).
func (s *Sim) currentProgram() (*compiledProgram, bool) {
	if len(s.byContent) != 1 {
		return nil, false
	}
	for _, cp := range s.byContent {
		return cp, true
	}
	return nil, false
}

func (s *Sim) decodeScope() *ir.Scope {
	if cp, ok := s.currentProgram(); ok {
		return cp.scope
	}
	return nil
}

// recvFrame reads and decodes one frame, retrying transient
// ipc.ErrWouldBlock timeouts a bounded number of times so a test that
// never gets the frame it's waiting for fails instead of hanging.
func (s *Sim) recvFrame() (ser.Frame, error) {
	for i := 0; i < 5; i++ {
		n, _, err := s.transport.Recv(s.recvBuf)
		switch {
		case errors.Is(err, ipc.ErrWouldBlock):
			continue
		case err != nil:
			return ser.Frame{}, fmt.Errorf("ccpsim: recv: %w", err)
		}
		return ser.DecodeFrame(s.recvBuf[:n], s.decodeScope())
	}
	return ser.Frame{}, fmt.Errorf("ccpsim: no frame arrived")
}

// DrainInstalls reads frames until it has seen exactly want
// globally-installed (install-on-Ready) programs, confirming each
// one's encoded bytes match a program this Sim compiled itself.
func (s *Sim) DrainInstalls(want int) error {
	seen := 0
	for seen < want {
		frame, err := s.recvFrame()
		if err != nil {
			return err
		}
		if frame.Type != ser.MsgInstall {
			return fmt.Errorf("ccpsim: expected Install, got %s", frame.Type)
		}
		if _, ok := s.byContent[string(frame.Install.Instrs)]; !ok {
			return fmt.Errorf("ccpsim: Install frame doesn't match any compiled program")
		}
		seen++
	}
	return nil
}

// Pump processes exactly one inbound frame: a ChangeProg arms a flow's
// register file, applying its preset bindings atomically with the
// switch, an UpdateField mutates one, and anything else is ignored.
func (s *Sim) Pump() (ser.Frame, error) {
	frame, err := s.recvFrame()
	if err != nil {
		return frame, err
	}
	switch frame.Type {
	case ser.MsgChangeProg:
		cp, ok := s.currentProgram()
		if !ok {
			return frame, fmt.Errorf("ccpsim: ChangeProg with no resolvable program")
		}
		vm := newFlowVM(cp.bin, cp.scope)
		vm.scope.ProgramUID = frame.ChangeProg.ProgramUID
		vm.ApplyUpdates(toUpdates(frame.ChangeProg.Updates))
		s.flows[frame.ChangeProg.SockID] = vm
	case ser.MsgUpdateField:
		vm, ok := s.flows[frame.UpdateField.SockID]
		if !ok {
			return frame, fmt.Errorf("ccpsim: UpdateField for unknown flow %d", frame.UpdateField.SockID)
		}
		vm.ApplyUpdates(toUpdates(frame.UpdateField.Updates))
	}
	return frame, nil
}

func toUpdates(fus []ser.FieldUpdate) []regUpdate {
	out := make([]regUpdate, len(fus))
	for i, u := range fus {
		out[i] = regUpdate{Reg: u.Reg, Value: u.Value}
	}
	return out
}

// AwaitFlow pumps frames until sockID has a program bound (i.e. its
// ChangeProg has arrived), or gives up after a bounded number of
// frames.
func (s *Sim) AwaitFlow(sockID uint32) error {
	for i := 0; i < 10; i++ {
		if _, ok := s.flows[sockID]; ok {
			return nil
		}
		if _, err := s.Pump(); err != nil {
			return err
		}
	}
	return fmt.Errorf("ccpsim: flow %d never armed", sockID)
}

// Tick sets the given primitive registers and the Micros clock on
// sockID's flow, evaluates one datapath tick, and sends a Measure
// frame if the program asked to report.
func (s *Sim) Tick(sockID uint32, prims map[string]uint64, micros uint64) error {
	vm, ok := s.flows[sockID]
	if !ok {
		return fmt.Errorf("ccpsim: tick on unknown flow %d", sockID)
	}
	for name, v := range prims {
		if !vm.SetPrimitive(name, v) {
			return fmt.Errorf("ccpsim: %q is not a primitive register", name)
		}
	}
	vm.SetMicros(micros)

	report, reported := vm.Tick()
	if !reported {
		return nil
	}
	buf, err := ser.EncodeMeasure(ser.MeasureMsg{SockID: sockID, ProgramUID: vm.scope.ProgramUID, Fields: report})
	if err != nil {
		return fmt.Errorf("ccpsim: encode measure: %w", err)
	}
	return s.transport.Send(buf, "")
}

// CloseFlow sends a zero-field Measure, the datapath-initiated close
// signal on this wire format.
func (s *Sim) CloseFlow(sockID uint32) error {
	delete(s.flows, sockID)
	buf, err := ser.EncodeMeasure(ser.MeasureMsg{SockID: sockID})
	if err != nil {
		return err
	}
	return s.transport.Send(buf, "")
}

// Close tears down the simulated transport.
func (s *Sim) Close() error { return s.transport.Close() }
