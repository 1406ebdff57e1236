/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package ccpsim

import (
	"github.com/ccp-project/goccp/pkg/ir"
)

// ewmaBase is the fixed-point scale the original ewma instruction's
// factor operand is expressed in (original_source/src/lang/datapath.rs:
// "(ewma a b) ret * a/10 + b * (10-a)/10").
const ewmaBase = 10

// flowVM is one flow's register file for a single installed program: a
// fake datapath's per-socket storage, sized from the Scope's register
// counts and executed against the Bin the control plane installed.
//
// This is deliberately not a byte-for-byte reimplementation of a real
// datapath interpreter — that stays out of scope — it exists only to
// make a handful of install/report/update scenarios runnable as
// ordinary Go tests.
type flowVM struct {
	bin   *ir.Bin
	scope *ir.Scope

	prims     []uint64
	implicit  []uint64
	control   []uint64
	local     []uint64
	report    []uint64
	tmp       []uint64
}

func newFlowVM(bin *ir.Bin, scope *ir.Scope) *flowVM {
	f := &flowVM{
		bin:      bin,
		scope:    scope,
		prims:    make([]uint64, ir.NumPrimitiveRegs()),
		implicit: make([]uint64, ir.NumImplicitRegs()),
		control:  make([]uint64, scope.NumControlRegs()),
		local:    make([]uint64, scope.NumLocalRegs()),
		report:   make([]uint64, scope.NumReportRegs()),
	}
	// Bin.Instrs begins with the def prefix (control then report), which
	// initializes every persistent register from its declared value.
	for _, instr := range f.bin.Instrs {
		if instr.Op != ir.OpDef {
			break
		}
		f.exec(instr)
	}
	return f
}

// SetPrimitive sets one Primitive register's value by its DSL name
// (e.g. "Ack.bytes_acked"), as a simulated datapath tick's ACK context.
func (f *flowVM) SetPrimitive(name string, v uint64) bool {
	reg, ok := f.scope.Lookup(name)
	if !ok || reg.Class != ir.ClassPrimitive {
		return false
	}
	f.prims[reg.Index] = v
	return true
}

// SetMicros sets the Micros implicit register, standing in for the
// simulated datapath clock; a program can reset Micros itself to
// restart an interval.
func (f *flowVM) SetMicros(v uint64) { f.implicit[micronsIdx] = v }

// ApplyUpdates overwrites the named registers (already resolved to Reg
// values by the caller) with the given values, used for both preset
// bindings at install time and UpdateField/ChangeProg frames.
func (f *flowVM) ApplyUpdates(updates []regUpdate) {
	for _, u := range updates {
		f.set(u.Reg, u.Value)
	}
}

func (f *flowVM) get(r ir.Reg) uint64 {
	switch r.Class {
	case ir.ClassImm:
		if r.Kind == ir.KindBool {
			if r.ImmBool {
				return 1
			}
			return 0
		}
		return r.Imm
	case ir.ClassPrimitive:
		return f.prims[r.Index]
	case ir.ClassImplicit:
		return f.implicit[r.Index]
	case ir.ClassControl:
		return f.control[r.Index]
	case ir.ClassLocal:
		return f.local[r.Index]
	case ir.ClassReport:
		return f.report[r.Index]
	case ir.ClassTmp:
		f.growTmp(r.Index)
		return f.tmp[r.Index]
	default:
		return 0
	}
}

func (f *flowVM) set(r ir.Reg, v uint64) {
	switch r.Class {
	case ir.ClassImplicit:
		f.implicit[r.Index] = v
	case ir.ClassControl:
		f.control[r.Index] = v
	case ir.ClassLocal:
		f.local[r.Index] = v
	case ir.ClassReport:
		f.report[r.Index] = v
	case ir.ClassTmp:
		f.growTmp(r.Index)
		f.tmp[r.Index] = v
	}
}

func (f *flowVM) setBool(r ir.Reg, v bool) {
	if v {
		f.set(r, 1)
	} else {
		f.set(r, 0)
	}
}

func (f *flowVM) growTmp(idx uint32) {
	for uint32(len(f.tmp)) <= idx {
		f.tmp = append(f.tmp, 0)
	}
}

// exec evaluates one instruction against the flow's register file.
func (f *flowVM) exec(instr ir.Instr) {
	switch instr.Op {
	case ir.OpDef, ir.OpBind:
		f.set(instr.Result, f.get(instr.Right))
	case ir.OpAdd:
		f.set(instr.Result, f.get(instr.Left)+f.get(instr.Right))
	case ir.OpSub:
		l, r := f.get(instr.Left), f.get(instr.Right)
		if r > l {
			f.set(instr.Result, 0)
		} else {
			f.set(instr.Result, l-r)
		}
	case ir.OpMul:
		f.set(instr.Result, f.get(instr.Left)*f.get(instr.Right))
	case ir.OpDiv:
		r := f.get(instr.Right)
		if r == 0 {
			f.set(instr.Result, 0)
		} else {
			f.set(instr.Result, f.get(instr.Left)/r)
		}
	case ir.OpMin:
		l, r := f.get(instr.Left), f.get(instr.Right)
		if l < r {
			f.set(instr.Result, l)
		} else {
			f.set(instr.Result, r)
		}
	case ir.OpMax, ir.OpMaxWrap:
		// wrapped_max exists for sequence-number-style counters that can
		// wrap; this simulator never exercises a wraparound case, so it
		// is treated identically to max.
		l, r := f.get(instr.Left), f.get(instr.Right)
		if l > r {
			f.set(instr.Result, l)
		} else {
			f.set(instr.Result, r)
		}
	case ir.OpEquiv:
		f.setBool(instr.Result, f.get(instr.Left) == f.get(instr.Right))
	case ir.OpGt:
		f.setBool(instr.Result, f.get(instr.Left) > f.get(instr.Right))
	case ir.OpLt:
		f.setBool(instr.Result, f.get(instr.Left) < f.get(instr.Right))
	case ir.OpIf:
		if f.get(instr.Left) != 0 {
			f.set(instr.Result, f.get(instr.Right))
		}
	case ir.OpNotIf:
		if f.get(instr.Left) == 0 {
			f.set(instr.Result, f.get(instr.Right))
		}
	case ir.OpEwma:
		old := f.get(instr.Result)
		factor := f.get(instr.Left)
		sample := f.get(instr.Right)
		f.set(instr.Result, (old*factor+sample*(ewmaBase-factor))/ewmaBase)
	}
}

// regUpdate is a resolved (register, value) pair, the VM-side analogue
// of ser.FieldUpdate once decoded against a live Scope.
type regUpdate struct {
	Reg   ir.Reg
	Value uint64
}

// indices into the fixed Implicit register block (pkg/ir's
// implicitDefs order: __eventFlag, __shouldContinue, __shouldReport,
// Micros, Cwnd, Rate).
const (
	eventFlagIdx      = 0
	shouldContinueIdx = 1
	shouldReportIdx   = 2
	micronsIdx        = 3
	cwndIdx           = 4
	rateIdx           = 5
)

// Tick runs every event in source order against the current primitive
// and Micros values, matching a real datapath interpreter's per-ACK
// behavior: events are evaluated in source order at each tick, and the
// first one whose flag is true and whose body doesn't (fallthrough)
// stops the rest from running. It returns the Report register values
// if the program asked to report, resetting volatile registers
// afterward. A zero-field Measure is the close signal on the wire; a
// program with no Report registers that reports produces exactly that,
// so the runtime reads its report as a close.
func (f *flowVM) Tick() (report []uint64, reported bool) {
	for _, ev := range f.bin.Events {
		f.implicit[shouldContinueIdx] = 0
		f.execSpan(ev.FlagIdx, ev.NumFlagInstr)
		if f.implicit[eventFlagIdx] == 0 {
			continue
		}
		f.execSpan(ev.BodyIdx, ev.NumBodyInstr)
		if f.implicit[shouldReportIdx] != 0 {
			report = append([]uint64(nil), f.report...)
			reported = true
			f.implicit[shouldReportIdx] = 0
			f.resetVolatile()
		}
		if f.implicit[shouldContinueIdx] == 0 {
			break
		}
	}
	return report, reported
}

func (f *flowVM) execSpan(idx, n uint32) {
	for i := idx; i < idx+n; i++ {
		f.exec(f.bin.Instrs[i])
	}
}

// resetVolatile replays each volatile Report register's own def
// instruction; defs are always the instruction vector's prefix, one per
// declared Control then Report register, in declaration order.
func (f *flowVM) resetVolatile() {
	defs := f.scope.DefInstrs()
	controlCount := int(f.scope.NumControlRegs())
	for i, d := range defs {
		if i < controlCount {
			continue
		}
		if !d.Result.Volatile {
			continue
		}
		f.exec(d)
	}
}

// Cwnd and Rate report the two control actions' current simulated
// values, as a test convenience for asserting on what the installed
// program told the datapath to do.
func (f *flowVM) Cwnd() uint64 { return f.implicit[cwndIdx] }
func (f *flowVM) Rate() uint64 { return f.implicit[rateIdx] }
