package ir

// regDef entries (primitiveDefs, implicitDefs) describe the fixed, datapath-agreed
// registers every Scope starts with. Order and Kind are part of the
// wire contract and must match the datapath interpreter being
// targeted.
type regDef struct {
	name string
	kind Kind
}

var primitiveDefs = []regDef{
	{"Ack.bytes_acked", KindNum},
	{"Ack.lost_pkts_sample", KindNum},
	{"Ack.ecn_bytes", KindNum},
	{"Ack.now", KindNum},
	{"Ack.packets_acked", KindNum},
	{"Ack.packets_misordered", KindNum},
	{"Flow.bytes_in_flight", KindNum},
	{"Flow.bytes_pending", KindNum},
	{"Flow.packets_in_flight", KindNum},
	{"Flow.rate_incoming", KindNum},
	{"Flow.rate_outgoing", KindNum},
	{"Flow.rtt_sample_us", KindNum},
	{"Flow.was_timeout", KindBool},
}

var implicitDefs = []regDef{
	{"__eventFlag", KindBool},
	{"__shouldContinue", KindBool},
	{"__shouldReport", KindBool},
	{"Micros", KindNum},
	{"Cwnd", KindNum},
	{"Rate", KindNum},
}

// RegInit records a persistent register's declared initial
// value, used to emit Def instructions and (for Report) to reset
// volatile registers after each report.
type RegInit struct {
	Reg     Reg
	NumInit uint64
	BoolInit bool
}

// Scope is the symbol table produced by compiling a program: it maps
// names to registers, tracks per-class allocation counters, and — once
// a program is installed — carries the program_uid the runtime assigned
// it.
type Scope struct {
	named map[string]Reg
	order []string // insertion order of named entries, for deterministic Def emission

	numControl uint32
	numLocal   uint32
	numReport  uint32
	numTmp     uint32

	controlInits []RegInit
	reportInits  []RegInit

	// ProgramUID is assigned by the runtime when this Scope's program is
	// installed, and frozen for the program's lifetime from then on.
	ProgramUID uint32
}

// NumPrimitiveRegs returns the fixed number of datapath-supplied
// Primitive registers every Scope starts with.
func NumPrimitiveRegs() uint32 { return uint32(len(primitiveDefs)) }

// NumImplicitRegs returns the fixed number of Implicit registers every
// Scope starts with.
func NumImplicitRegs() uint32 { return uint32(len(implicitDefs)) }

// NewScope builds a fresh Scope pre-populated with the fixed Primitive
// and Implicit registers.
func NewScope() *Scope {
	s := &Scope{named: make(map[string]Reg)}
	for i, d := range primitiveDefs {
		s.define(d.name, Reg{Class: ClassPrimitive, Index: uint32(i), Kind: d.kind, Name: d.name})
	}
	for i, d := range implicitDefs {
		s.define(d.name, Reg{Class: ClassImplicit, Index: uint32(i), Kind: d.kind, Name: d.name})
	}
	return s
}

func (s *Scope) define(name string, r Reg) {
	if _, ok := s.named[name]; !ok {
		s.order = append(s.order, name)
	}
	s.named[name] = r
}

// Lookup resolves name against the scope, returning ok=false if unseen.
func (s *Scope) Lookup(name string) (Reg, bool) {
	r, ok := s.named[name]
	return r, ok
}

// NewTmp allocates a fresh Tmp register of the given kind. Tmp indices
// are per-expression scratch; callers must ClearTmps between event-body
// expressions.
func (s *Scope) NewTmp(kind Kind) Reg {
	r := Reg{Class: ClassTmp, Index: s.numTmp, Kind: kind}
	s.numTmp++
	return r
}

// ClearTmps resets the Tmp counter; Tmp lifetimes never cross
// event-body-expression boundaries.
func (s *Scope) ClearTmps() { s.numTmp = 0 }

// NewLocal allocates and names a new per-invocation scratch register.
func (s *Scope) NewLocal(name string, kind Kind) Reg {
	r := Reg{Class: ClassLocal, Index: s.numLocal, Kind: kind, Name: name}
	s.numLocal++
	s.define(name, r)
	return r
}

// NewControl allocates and names a new persistent, non-reported register
// with the given initial value.
func (s *Scope) NewControl(name string, kind Kind, numInit uint64, boolInit bool) Reg {
	r := Reg{Class: ClassControl, Index: s.numControl, Kind: kind, Name: name}
	s.numControl++
	s.define(name, r)
	s.controlInits = append(s.controlInits, RegInit{Reg: r, NumInit: numInit, BoolInit: boolInit})
	return r
}

// NewReport allocates and names a new persistent, per-flow-reportable
// register ("Report.<name>" from the DSL's (Report ...) block).
func (s *Scope) NewReport(name string, kind Kind, volatile bool, numInit uint64, boolInit bool) Reg {
	r := Reg{Class: ClassReport, Index: s.numReport, Kind: kind, Name: name, Volatile: volatile}
	s.numReport++
	s.define(name, r)
	s.reportInits = append(s.reportInits, RegInit{Reg: r, NumInit: numInit, BoolInit: boolInit})
	return r
}

// UpdateKind upgrades a previously-unknown-typed register's Kind once
// it's known, used by bind when binding into a not-yet-typed name.
func (s *Scope) UpdateKind(name string, kind Kind) (Reg, bool) {
	r, ok := s.named[name]
	if !ok {
		return Reg{}, false
	}
	r.Kind = kind
	s.named[name] = r
	for i := range s.controlInits {
		if s.controlInits[i].Reg.Name == name {
			s.controlInits[i].Reg.Kind = kind
		}
	}
	for i := range s.reportInits {
		if s.reportInits[i].Reg.Name == name {
			s.reportInits[i].Reg.Kind = kind
		}
	}
	return r, true
}

// NumControlRegs returns how many Control registers were declared.
func (s *Scope) NumControlRegs() uint32 { return s.numControl }

// ControlRegs returns the Control registers in declaration order.
func (s *Scope) ControlRegs() []Reg {
	out := make([]Reg, len(s.controlInits))
	for i, ri := range s.controlInits {
		out[i] = ri.Reg
	}
	return out
}

// NumLocalRegs returns how many per-invocation Local registers the
// compiled program allocates.
func (s *Scope) NumLocalRegs() uint32 { return s.numLocal }

// NumReportRegs returns how many Report registers were declared, in
// declaration order — the order Measure frames carry their u64 values
// in.
func (s *Scope) NumReportRegs() uint32 { return s.numReport }

// ReportRegs returns the Report registers in declaration order.
func (s *Scope) ReportRegs() []Reg {
	out := make([]Reg, len(s.reportInits))
	for i, ri := range s.reportInits {
		out[i] = ri.Reg
	}
	return out
}

// DefInstrs emits the `def` instructions that initialize every declared
// Control and Report register, Control first then Report, matching
// declaration order — these form the prefix of a compiled Bin's
// instruction vector.
func (s *Scope) DefInstrs() []Instr {
	var out []Instr
	for _, ri := range s.controlInits {
		out = append(out, defInstr(ri))
	}
	for _, ri := range s.reportInits {
		out = append(out, defInstr(ri))
	}
	return out
}

func defInstr(ri RegInit) Instr {
	var right Reg
	if ri.Reg.Kind == KindBool {
		right = ImmBoolReg(ri.BoolInit)
	} else {
		right = ImmNum(ri.NumInit)
	}
	return Instr{Op: OpDef, Result: ri.Reg, Left: ri.Reg, Right: right}
}
