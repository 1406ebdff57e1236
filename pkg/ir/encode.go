package ir

import (
	"encoding/binary"
	"fmt"
)

// InstrSize is the fixed wire size of one instruction.
const InstrSize = 10

const (
	maxDestIndex    = 1<<6 - 1  // 6-bit index in the destination byte
	maxOperandIndex = 1<<30 - 1 // 30-bit index/immediate in an operand word
)

// permBase computes the flat wire-level index offsets for the four
// logical classes folded into the single wirePerm class (Open Question
// decision #1 in DESIGN.md): Implicit first (fixed width), then
// Control, then Local, then Report.
type permBase struct {
	implicit, control, local, report uint32
}

func (s *Scope) permBase() permBase {
	b := permBase{implicit: 0}
	b.control = b.implicit + uint32(len(implicitDefs))
	b.local = b.control + s.numControl
	b.report = b.local + s.numLocal
	return b
}

func (s *Scope) permIndex(r Reg) (uint32, error) {
	b := s.permBase()
	switch r.Class {
	case ClassImplicit:
		return b.implicit + r.Index, nil
	case ClassControl:
		return b.control + r.Index, nil
	case ClassLocal:
		return b.local + r.Index, nil
	case ClassReport:
		return b.report + r.Index, nil
	default:
		return 0, fmt.Errorf("ir: %s is not a perm-class register", r.Class)
	}
}

// regFromPermIndex inverts permIndex, used by DecodeBin.
func (s *Scope) regFromPermIndex(idx uint32, kind Kind) Reg {
	b := s.permBase()
	switch {
	case idx < b.control:
		d := implicitDefs[idx-b.implicit]
		return Reg{Class: ClassImplicit, Index: idx - b.implicit, Kind: d.kind, Name: d.name}
	case idx < b.local:
		return Reg{Class: ClassControl, Index: idx - b.control, Kind: kind}
	case idx < b.report:
		return Reg{Class: ClassLocal, Index: idx - b.local, Kind: kind}
	default:
		return Reg{Class: ClassReport, Index: idx - b.report, Kind: kind}
	}
}

// encodeDestByte packs a destination register into the 1-byte form: a
// 2-bit class tag in the top bits, a 6-bit index in the bottom.
func encodeDestByte(r Reg, s *Scope) (byte, error) {
	if !r.Class.Writable() {
		return 0, fmt.Errorf("ir: %s is not a writable destination", r.Class)
	}
	var tag byte
	var idx uint32
	switch r.Class {
	case ClassPrimitive:
		tag, idx = 1, r.Index
	case ClassTmp:
		tag, idx = 2, r.Index
	default:
		var err error
		tag = 3
		idx, err = s.permIndex(r)
		if err != nil {
			return 0, err
		}
	}
	if idx > maxDestIndex {
		return 0, fmt.Errorf("ir: destination register index %d exceeds 6 bits", idx)
	}
	return tag<<6 | byte(idx), nil
}

func decodeDestByte(b byte, s *Scope, kind Kind) Reg {
	tag := b >> 6
	idx := uint32(b & 0x3f)
	switch tag {
	case 1:
		d := primitiveDefs[idx]
		return Reg{Class: ClassPrimitive, Index: idx, Kind: d.kind, Name: d.name}
	case 2:
		return Reg{Class: ClassTmp, Index: idx, Kind: kind}
	default:
		return s.regFromPermIndex(idx, kind)
	}
}

// encodeOperandWord packs a left/right operand into its 4-byte form: a
// 2-bit class tag in the top bits, a 30-bit index or immediate payload
// in the bottom.
func encodeOperandWord(r Reg, s *Scope) (uint32, error) {
	switch r.Class {
	case ClassImm:
		if r.Kind == KindBool {
			if r.ImmBool {
				return 1, nil
			}
			return 0, nil
		}
		if r.Imm != ImmInfinity && r.Imm > maxOperandIndex {
			return 0, fmt.Errorf("ir: immediate %d exceeds 30 bits", r.Imm)
		}
		return uint32(r.Imm) & maxOperandIndex, nil
	case ClassPrimitive:
		if r.Index > maxOperandIndex {
			return 0, fmt.Errorf("ir: primitive register index %d exceeds 30 bits", r.Index)
		}
		return 1<<30 | r.Index, nil
	case ClassTmp:
		if r.Index > maxOperandIndex {
			return 0, fmt.Errorf("ir: tmp register index %d exceeds 30 bits", r.Index)
		}
		return 2<<30 | r.Index, nil
	default:
		idx, err := s.permIndex(r)
		if err != nil {
			return 0, err
		}
		if idx > maxOperandIndex {
			return 0, fmt.Errorf("ir: perm register index %d exceeds 30 bits", idx)
		}
		return 3<<30 | idx, nil
	}
}

func decodeOperandWord(w uint32, s *Scope, kind Kind) Reg {
	tag := w >> 30
	payload := w & maxOperandIndex
	switch tag {
	case 0:
		if kind == KindBool {
			return ImmBoolReg(payload != 0)
		}
		return ImmNum(uint64(payload))
	case 1:
		d := primitiveDefs[payload]
		return Reg{Class: ClassPrimitive, Index: payload, Kind: d.kind, Name: d.name}
	case 2:
		return Reg{Class: ClassTmp, Index: payload, Kind: kind}
	default:
		return s.regFromPermIndex(payload, kind)
	}
}

// RegRefSize is the wire size of a standalone register reference, as
// used by UpdateField/ChangeProg frames: the same 4-byte class-tagged
// operand word used inside instructions, plus one reserved alignment
// byte (DESIGN.md Open Question decision #2).
const RegRefSize = 5

// EncodeRegRef packs a register reference into its 5-byte wire form for
// UpdateField/ChangeProg frames. Only the four writable logical
// classes (Implicit, Control, Local, Report) are meaningful destinations
// here; Primitive and Tmp are rejected by the caller before reaching
// this encoding.
func EncodeRegRef(r Reg, s *Scope) ([RegRefSize]byte, error) {
	var out [RegRefSize]byte
	w, err := encodeOperandWord(r, s)
	if err != nil {
		return out, err
	}
	binary.LittleEndian.PutUint32(out[0:4], w)
	return out, nil
}

// DecodeRegRef unpacks a 5-byte register reference. kind is the
// expected value kind, since the wire form carries only class and index.
func DecodeRegRef(b []byte, s *Scope, kind Kind) (Reg, error) {
	if len(b) < RegRefSize {
		return Reg{}, fmt.Errorf("ir: register reference needs %d bytes, got %d", RegRefSize, len(b))
	}
	w := binary.LittleEndian.Uint32(b[0:4])
	if w>>30 == 1 && w&maxOperandIndex >= NumPrimitiveRegs() {
		return Reg{}, fmt.Errorf("ir: primitive register index %d out of range", w&maxOperandIndex)
	}
	return decodeOperandWord(w, s, kind), nil
}

// EncodeInstr packs a single instruction into its 10-byte wire form.
func EncodeInstr(i Instr, s *Scope) ([InstrSize]byte, error) {
	var out [InstrSize]byte
	out[0] = byte(i.Op)

	dest, err := encodeDestByte(i.Result, s)
	if err != nil {
		return out, fmt.Errorf("ir: encode %s result: %w", i.Op, err)
	}
	out[1] = dest

	left, err := encodeOperandWord(i.Left, s)
	if err != nil {
		return out, fmt.Errorf("ir: encode %s left: %w", i.Op, err)
	}
	binary.LittleEndian.PutUint32(out[2:6], left)

	right, err := encodeOperandWord(i.Right, s)
	if err != nil {
		return out, fmt.Errorf("ir: encode %s right: %w", i.Op, err)
	}
	binary.LittleEndian.PutUint32(out[6:10], right)

	return out, nil
}

// DecodeInstr unpacks a single 10-byte instruction. The result/operand
// Kind is inferred as best-effort (Bool only for the boolean-producing
// opcodes and comparison results); callers that need exact Kind
// information should prefer compiling from source via pkg/lang.
func DecodeInstr(b []byte, s *Scope) (Instr, error) {
	if len(b) < InstrSize {
		return Instr{}, fmt.Errorf("ir: instruction needs %d bytes, got %d", InstrSize, len(b))
	}
	op := Op(b[0])
	kind := KindNum
	if op.Comparison() {
		kind = KindBool
	}
	left := binary.LittleEndian.Uint32(b[2:6])
	right := binary.LittleEndian.Uint32(b[6:10])
	return Instr{
		Op:     op,
		Result: decodeDestByte(b[1], s, kind),
		Left:   decodeOperandWord(left, s, kind),
		Right:  decodeOperandWord(right, s, kind),
	}, nil
}

// EncodeBin serializes a compiled program's flat instruction vector.
// Event table offsets are carried separately by pkg/ser's Install frame,
// not embedded in this byte stream.
func EncodeBin(b *Bin, s *Scope) ([]byte, error) {
	out := make([]byte, 0, len(b.Instrs)*InstrSize)
	for idx, instr := range b.Instrs {
		enc, err := EncodeInstr(instr, s)
		if err != nil {
			return nil, fmt.Errorf("ir: instruction %d: %w", idx, err)
		}
		out = append(out, enc[:]...)
	}
	return out, nil
}

// DecodeBin parses a flat instruction vector previously produced by
// EncodeBin, given the Scope it was compiled against and the Event
// table (carried out-of-band by the Install frame).
func DecodeBin(data []byte, events []Event, s *Scope) (*Bin, error) {
	if len(data)%InstrSize != 0 {
		return nil, fmt.Errorf("ir: instruction vector length %d is not a multiple of %d", len(data), InstrSize)
	}
	n := len(data) / InstrSize
	instrs := make([]Instr, n)
	for i := 0; i < n; i++ {
		instr, err := DecodeInstr(data[i*InstrSize:(i+1)*InstrSize], s)
		if err != nil {
			return nil, fmt.Errorf("ir: instruction %d: %w", i, err)
		}
		instrs[i] = instr
	}
	for _, ev := range events {
		if uint64(ev.FlagIdx)+uint64(ev.NumFlagInstr) > uint64(n) || uint64(ev.BodyIdx)+uint64(ev.NumBodyInstr) > uint64(n) {
			return nil, fmt.Errorf("ir: event table offset out of range (have %d instructions)", n)
		}
	}
	return &Bin{Events: events, Instrs: instrs}, nil
}
