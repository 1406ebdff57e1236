// Package ir holds the register-machine data model shared by the DSL
// compiler (pkg/lang) and the wire codec (pkg/ser): register classes,
// instructions, events, compiled programs (Bin), and the Scope symbol
// table that maps names to registers.
package ir

import "fmt"

// Kind is a register's value type. Unknown types are inferred from usage,
// mirroring the original compiler's Type::Name(_) placeholder.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNum
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNum:
		return "num"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Class is the logical register class named throughout the spec: which
// storage a register lives in and who may write it.
type Class uint8

const (
	// ClassNone is the placeholder destination of if/!if/ewma before the
	// enclosing bind rewrites it to a real register.
	ClassNone Class = iota
	ClassImm
	ClassPrimitive
	ClassImplicit
	ClassReport
	ClassControl
	ClassLocal
	ClassTmp
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassImm:
		return "imm"
	case ClassPrimitive:
		return "primitive"
	case ClassImplicit:
		return "implicit"
	case ClassReport:
		return "report"
	case ClassControl:
		return "control"
	case ClassLocal:
		return "local"
	case ClassTmp:
		return "tmp"
	default:
		return "?"
	}
}

// Writable reports whether instructions may target this class as a
// destination register on the wire. Every arithmetic and comparison
// instruction writes its result to a fresh Tmp register, so Tmp is writable here; the compiler separately forbids
// naming a Tmp as the destination of if/!if/ewma (pkg/lang), since those
// opcodes emit a placeholder result that only a bind can fill in.
func (c Class) Writable() bool {
	switch c {
	case ClassImplicit, ClassReport, ClassControl, ClassLocal, ClassTmp:
		return true
	default:
		return false
	}
}

// wireClass is the 2-bit tag actually carried on the wire. Only four
// values exist: the persistent, writable logical classes (Implicit,
// Report, Control, Local) share a single flat "perm" index space here;
// see DESIGN.md "Open Question decisions" #1.
type wireClass uint8

const (
	wireImm wireClass = iota
	wirePrimitive
	wireTmp
	wirePerm
)

func (c Class) wire() wireClass {
	switch c {
	case ClassImm:
		return wireImm
	case ClassPrimitive:
		return wirePrimitive
	case ClassTmp:
		return wireTmp
	default:
		return wirePerm
	}
}

// ImmInfinity is the value +infinity desugars to: the maximum u64, which
// also serializes to the reserved 30-bit all-ones wildcard.
const ImmInfinity uint64 = ^uint64(0)

// Reg is a single register reference: its logical class, its index
// within that class's counter (meaningless for Imm), its value kind, and
// for Imm registers the literal payload.
type Reg struct {
	Class   Class
	Index   uint32
	Kind    Kind
	Imm     uint64 // valid only when Class == ClassImm
	ImmBool bool   // valid only when Class == ClassImm && Kind == KindBool
	// Volatile marks a Report register that resets to its declared
	// initial value on every report; meaningless for other classes.
	Volatile bool
	// Name is the source identifier this register was bound to, kept
	// for error messages, report-field lookup, and def-instruction
	// ordering. Primitive/Implicit/Imm registers carry their canonical
	// or empty name.
	Name string
}

// ImmNum builds an immediate numeric register.
func ImmNum(v uint64) Reg { return Reg{Class: ClassImm, Kind: KindNum, Imm: v} }

// ImmBoolReg builds an immediate boolean register.
func ImmBoolReg(v bool) Reg { return Reg{Class: ClassImm, Kind: KindBool, ImmBool: v} }

func (r Reg) String() string {
	if r.Class == ClassImm {
		if r.Kind == KindBool {
			return fmt.Sprintf("imm(%v)", r.ImmBool)
		}
		return fmt.Sprintf("imm(%d)", r.Imm)
	}
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s[%d]", r.Class, r.Index)
}

// IsNone reports whether r is the unset placeholder destination used for
// if/!if/ewma before the enclosing bind fills it in.
func (r Reg) IsNone() bool { return r.Class == ClassNone }

// None is the placeholder destination register used by if/!if/ewma
// before the enclosing bind rewrites it.
var None = Reg{Class: ClassNone}
