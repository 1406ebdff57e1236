package ir

// Op is an instruction opcode. The numeric values are part of the wire
// contract with the datapath interpreter and must not be renumbered.
type Op uint8

const (
	OpAdd     Op = 0
	OpBind    Op = 1
	OpDiv     Op = 2
	OpEquiv   Op = 3
	OpEwma    Op = 4
	OpGt      Op = 5
	OpIf      Op = 6
	OpLt      Op = 8
	OpMax     Op = 9
	OpMin     Op = 10
	OpMul     Op = 11
	OpNotIf   Op = 12
	OpSub     Op = 13
	OpDef     Op = 14
	OpMaxWrap Op = 15
)

var opNames = map[Op]string{
	OpAdd: "add", OpBind: "bind", OpDiv: "div", OpEquiv: "eq", OpEwma: "ewma",
	OpGt: "gt", OpIf: "if", OpLt: "lt", OpMax: "max", OpMin: "min", OpMul: "mul",
	OpNotIf: "!if", OpSub: "sub", OpDef: "def", OpMaxWrap: "wrapped_max",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return "op?"
}

// Arithmetic reports whether o is one of + - * / min max wrapped_max.
func (o Op) Arithmetic() bool {
	switch o {
	case OpAdd, OpSub, OpMul, OpDiv, OpMin, OpMax, OpMaxWrap:
		return true
	default:
		return false
	}
}

// Comparison reports whether o is one of == < >.
func (o Op) Comparison() bool {
	switch o {
	case OpEquiv, OpLt, OpGt:
		return true
	default:
		return false
	}
}
