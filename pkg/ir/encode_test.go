package ir

import (
	"bytes"
	"testing"
)

// TestEncodeInstrDef mirrors the reference vector for a def instruction
// binding a Control register to the boolean true (0xc6 is the class/index
// byte: tag=11, perm index 6, since the six Implicit registers take perm
// indices 0-5 and the first Control register follows them).
func TestEncodeInstrDef(t *testing.T) {
	s := NewScope()
	s.NewControl("foo", KindBool, 0, false)
	ctl, _ := s.Lookup("foo")

	instr := Instr{Op: OpDef, Result: ctl, Left: ctl, Right: ImmBoolReg(true)}
	got, err := EncodeInstr(instr, s)
	if err != nil {
		t.Fatalf("EncodeInstr: %v", err)
	}
	if got[0] != byte(OpDef) {
		t.Errorf("opcode byte = %#x, want %#x", got[0], byte(OpDef))
	}
	if got[1] != 0xc6 {
		t.Errorf("dest byte = %#x, want %#x (perm index 6)", got[1], 0xc6)
	}
}

// TestEncodeInstrMaxImm checks the +infinity immediate serializes to the
// reserved 30-bit all-ones wildcard in both operand words.
func TestEncodeInstrMaxImm(t *testing.T) {
	s := NewScope()
	instr := Instr{Op: OpAdd, Result: s.NewLocal("x", KindNum), Left: ImmNum(ImmInfinity), Right: ImmNum(ImmInfinity)}
	got, err := EncodeInstr(instr, s)
	if err != nil {
		t.Fatalf("EncodeInstr: %v", err)
	}
	want := []byte{0xff, 0xff, 0xff, 0x3f}
	if !bytes.Equal(got[2:6], want) || !bytes.Equal(got[6:10], want) {
		t.Errorf("operand words = % x, % x; want % x for both", got[2:6], got[6:10], want)
	}
}

// TestEncodeBinLength checks testable property #2: the encoded length is
// exactly 10 bytes per instruction.
func TestEncodeBinLength(t *testing.T) {
	s := NewScope()
	x := s.NewLocal("x", KindNum)
	bin := &Bin{Instrs: []Instr{
		{Op: OpBind, Result: x, Left: ImmNum(0), Right: ImmNum(0)},
		{Op: OpAdd, Result: x, Left: x, Right: ImmNum(1)},
	}}
	data, err := EncodeBin(bin, s)
	if err != nil {
		t.Fatalf("EncodeBin: %v", err)
	}
	if len(data) != InstrSize*len(bin.Instrs) {
		t.Fatalf("len(data) = %d, want %d", len(data), InstrSize*len(bin.Instrs))
	}
}

// TestEncodeDecodeRoundTrip exercises round-tripping a small program
// through the Primitive, Control, Report, Local and Tmp register classes
// and immediates (no Implicit register is used).
func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := NewScope()
	ctl := s.NewControl("rate_ctl", KindNum, 42, false)
	rep := s.NewReport("loss", KindNum, true, 0, false)
	x := s.NewLocal("x", KindNum)
	tmp := s.NewTmp(KindNum)

	ack, _ := s.Lookup("Ack.bytes_acked")

	bin := &Bin{
		Events: []Event{{FlagIdx: 0, NumFlagInstr: 1, BodyIdx: 1, NumBodyInstr: 2}},
		Instrs: []Instr{
			{Op: OpBind, Result: tmp, Left: ImmBoolReg(true), Right: ImmNum(0)},
			{Op: OpAdd, Result: x, Left: ack, Right: ctl},
			{Op: OpBind, Result: rep, Left: x, Right: ImmNum(0)},
		},
	}

	data, err := EncodeBin(bin, s)
	if err != nil {
		t.Fatalf("EncodeBin: %v", err)
	}
	decoded, err := DecodeBin(data, bin.Events, s)
	if err != nil {
		t.Fatalf("DecodeBin: %v", err)
	}
	if len(decoded.Instrs) != len(bin.Instrs) {
		t.Fatalf("decoded %d instructions, want %d", len(decoded.Instrs), len(bin.Instrs))
	}
	for i, orig := range bin.Instrs {
		got := decoded.Instrs[i]
		if got.Op != orig.Op {
			t.Errorf("instr %d: op = %s, want %s", i, got.Op, orig.Op)
		}
		if got.Result.Class != orig.Result.Class || got.Result.Index != orig.Result.Index {
			t.Errorf("instr %d: result = %s, want %s", i, got.Result, orig.Result)
		}
	}
}

// TestEncodeBinOutOfRangeEvent checks DecodeBin rejects event offsets that
// fall outside the decoded instruction vector instead of panicking.
func TestEncodeBinOutOfRangeEvent(t *testing.T) {
	s := NewScope()
	x := s.NewLocal("x", KindNum)
	data, err := EncodeBin(&Bin{Instrs: []Instr{{Op: OpBind, Result: x, Left: ImmNum(0), Right: ImmNum(0)}}}, s)
	if err != nil {
		t.Fatalf("EncodeBin: %v", err)
	}
	_, err = DecodeBin(data, []Event{{FlagIdx: 0, NumFlagInstr: 5, BodyIdx: 0, NumBodyInstr: 0}}, s)
	if err == nil {
		t.Fatal("DecodeBin: want error for out-of-range event offsets")
	}
}
