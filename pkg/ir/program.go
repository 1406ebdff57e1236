package ir

// Instr is a single 4-tuple (op, result, left, right) bytecode
// instruction.
type Instr struct {
	Op     Op
	Result Reg
	Left   Reg
	Right  Reg
}

// Event is a compiled (when ...) clause: a flag expression and a body,
// both spans of instructions in the owning Bin's flat instruction
// vector.
type Event struct {
	FlagIdx      uint32
	NumFlagInstr uint32
	BodyIdx      uint32
	NumBodyInstr uint32
}

// Bin is a compiled datapath program: an ordered list of Events plus the
// flat instruction vector they index into. Instrs[0:defCount] holds the
// def instructions that initialize every declared Control and Report
// register: all Control registers first, then all Report registers,
// each group in declaration order.
type Bin struct {
	Events []Event
	Instrs []Instr
}
