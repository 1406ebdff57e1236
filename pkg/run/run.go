/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package run is the runtime: it owns the flow table, decodes incoming
// datapath messages via pkg/ser, dispatches them to per-flow algorithm
// code, and gives algorithms the Datapath handle through which they
// install programs and mutate control state.
//
// Grounded on original_source/src/run.rs's run_inner dispatch loop,
// generalized from its compile-time AlgList/Pick sealed-trait machinery
// (needed in Rust for static dispatch without boxing) to a plain Go
// map[string]CongAlg: Go interfaces already give us the dynamic dispatch
// that machinery exists to fake.
package run

import (
	"errors"
	"fmt"

	"github.com/ccp-project/goccp/pkg/ir"
	"github.com/ccp-project/goccp/pkg/metrics"
)

// Errors returned by Datapath operations and Report.GetField.
var (
	// ErrStaleReport is returned by Report.GetField when the report's
	// program_uid does not match the scope's.
	ErrStaleReport = errors.New("run: report program_uid does not match scope")
	// ErrInvalidRegister is returned when a name does not resolve to a
	// register valid for the requested operation (not a Report register
	// for GetField; not Control/Implicit for a field update).
	ErrInvalidRegister = errors.New("run: invalid register for this operation")
	// ErrUnknownProgram is returned by Datapath.SetProgram for a name
	// the algorithm never declared in DatapathPrograms.
	ErrUnknownProgram = errors.New("run: no such datapath program")
	// ErrProtocolViolation is returned by the dispatch loop — and
	// terminates it — on receipt of Install, UpdateField, or ChangeProg,
	// which only the control plane may send; a datapath sending one back
	// is a fatal protocol error, not a malformed frame to drop and log.
	ErrProtocolViolation = errors.New("run: received a datapath-only message type")
)

// DatapathInfo is the fixed, immutable information accompanying a new
// flow's Create message, passed to CongAlg.NewFlow alongside the
// Datapath handle.
type DatapathInfo struct {
	SockID   uint32
	InitCwnd uint32
	MSS      uint32
	SrcIP    uint32
	SrcPort  uint32
	DstIP    uint32
	DstPort  uint32
}

// FieldValue is one (name, value) pair passed to Datapath.UpdateField,
// Datapath.SetProgram, and Datapath.Install, resolved against a Scope
// before being sent.
type FieldValue struct {
	Name  string
	Value uint64
}

// Report is a decoded Measure frame, handed to Flow.OnReport. Its
// fields are only meaningful relative to the Scope the algorithm
// currently holds for this flow's program.
type Report struct {
	ProgramUID uint32
	Fields     []uint64

	metrics *metrics.Collector
}

// GetField resolves name against scope to a Report register and
// returns its value. It fails with ErrStaleReport if scope's
// program_uid does not match the report's — a stale report from a
// since-replaced program, left for the algorithm to reject by calling
// this — and with ErrInvalidRegister if name is not a Report register
// in scope.
func (r Report) GetField(name string, scope *ir.Scope) (uint64, error) {
	if scope == nil {
		return 0, fmt.Errorf("%w: nil scope", ErrInvalidRegister)
	}
	if scope.ProgramUID != r.ProgramUID {
		if r.metrics != nil {
			r.metrics.IncStaleReport()
		}
		return 0, ErrStaleReport
	}
	reg, ok := scope.Lookup(name)
	if !ok || reg.Class != ir.ClassReport {
		return 0, fmt.Errorf("%w: %q is not a report register", ErrInvalidRegister, name)
	}
	if int(reg.Index) >= len(r.Fields) {
		return 0, fmt.Errorf("run: report carries %d fields, register %q is index %d", len(r.Fields), name, reg.Index)
	}
	return r.Fields[reg.Index], nil
}

// CongAlg is the algorithm trait surface the runtime requires.
type CongAlg interface {
	// Name returns a short identifier; Create frames select an
	// algorithm by matching this against the name the datapath
	// includes, falling back to the runtime's default algorithm.
	Name() string
	// DatapathPrograms returns a static mapping from program name to
	// DSL source. Every returned program is compiled once at startup
	// and (re-)installed whenever the datapath announces Ready.
	DatapathPrograms() map[string]string
	// NewFlow constructs this algorithm's per-flow state for a newly
	// created flow.
	NewFlow(dp *Datapath, info DatapathInfo) Flow
}

// Flow is per-socket algorithm state.
type Flow interface {
	OnReport(sockID uint32, report Report)
	Close()
}

// OtherMessagePeeker is an optional interface a Flow may implement to
// observe Other-type frames addressed to its socket id; the runtime
// type-asserts for it and costs nothing for flows that don't implement
// it.
type OtherMessagePeeker interface {
	OnOtherMessage(sockID uint32, payload []byte)
}
