package lang

import (
	"fmt"
	"strings"

	"github.com/ccp-project/goccp/pkg/ir"
)

var astToArith = map[astOp]ir.Op{
	astAdd: ir.OpAdd, astDiv: ir.OpDiv, astMax: ir.OpMax,
	astMaxWrap: ir.OpMaxWrap, astMin: ir.OpMin, astMul: ir.OpMul, astSub: ir.OpSub,
}

var astToComparison = map[astOp]ir.Op{
	astEquiv: ir.OpEquiv, astGt: ir.OpGt, astLt: ir.OpLt,
}

var astToConditional = map[astOp]ir.Op{
	astIf: ir.OpIf, astNotIf: ir.OpNotIf, astEwma: ir.OpEwma,
}

// Compile turns DSL source into a compiled Bin and the Scope it was
// compiled against.
func Compile(src []byte) (*ir.Bin, *ir.Scope, error) {
	prog, err := Parse(src)
	if err != nil {
		return nil, nil, err
	}

	scope := ir.NewScope()
	if err := declareRegs(prog.Decls, scope); err != nil {
		return nil, nil, err
	}

	eventFlag, _ := scope.Lookup("__eventFlag")

	var events []ir.Event
	var instrs []ir.Instr
	curIdx := uint32(0) // def instrs are prepended after the loop; offsets below are event-relative and shifted at the end

	for _, ev := range prog.Events {
		scope.ClearTmps()
		flagInstrs, flagReg, err := compileExpr(ev.Flag, scope)
		if err != nil {
			return nil, nil, fmt.Errorf("lang: compiling when-flag: %w", err)
		}
		switch {
		case flagReg.Class == ir.ClassTmp && flagReg.Kind == ir.KindBool:
			if len(flagInstrs) == 0 {
				return nil, nil, fmt.Errorf("lang: when-flag produced no instructions")
			}
			flagInstrs[len(flagInstrs)-1].Result = eventFlag
		case flagReg.Class == ir.ClassImm && flagReg.Kind == ir.KindBool:
			flagInstrs = append(flagInstrs, ir.Instr{Op: ir.OpBind, Result: eventFlag, Left: eventFlag, Right: flagReg})
		default:
			return nil, nil, fmt.Errorf("lang: when-flag must evaluate to bool, got %s", flagReg.Kind)
		}
		numFlag := uint32(len(flagInstrs))

		var bodyInstrs []ir.Instr
		for _, b := range ev.Body {
			scope.ClearTmps()
			bi, _, err := compileExpr(b, scope)
			if err != nil {
				return nil, nil, fmt.Errorf("lang: compiling event body: %w", err)
			}
			bodyInstrs = append(bodyInstrs, bi...)
		}

		events = append(events, ir.Event{
			FlagIdx:      curIdx,
			NumFlagInstr: numFlag,
			BodyIdx:      curIdx + numFlag,
			NumBodyInstr: uint32(len(bodyInstrs)),
		})
		curIdx += numFlag + uint32(len(bodyInstrs))
		instrs = append(instrs, flagInstrs...)
		instrs = append(instrs, bodyInstrs...)
	}

	defInstrs := scope.DefInstrs()
	shift := uint32(len(defInstrs))
	for i := range events {
		events[i].FlagIdx += shift
		events[i].BodyIdx += shift
	}

	bin := &ir.Bin{
		Events: events,
		Instrs: append(defInstrs, instrs...),
	}
	return bin, scope, nil
}

func declareRegs(decls []Decl, scope *ir.Scope) error {
	for _, d := range decls {
		kind := ir.KindNum
		if d.IsBool {
			kind = ir.KindBool
		}
		if strings.HasPrefix(d.Name, "Report.") {
			scope.NewReport(d.Name, kind, d.Volatile, d.NumInit, d.BoolInit)
			continue
		}
		scope.NewControl(d.Name, kind, d.NumInit, d.BoolInit)
	}
	return nil
}

// compileExpr walks a single Expr, emitting the instructions needed to
// evaluate it and returning the register holding its result. Performs a
// depth-first, left-first traversal.
func compileExpr(e *Expr, scope *ir.Scope) ([]ir.Instr, ir.Reg, error) {
	switch e.Kind {
	case exprNum:
		return nil, ir.ImmNum(e.Num), nil
	case exprBool:
		return nil, ir.ImmBoolReg(e.Bool), nil
	case exprName:
		if r, ok := scope.Lookup(e.Name); ok {
			return nil, r, nil
		}
		return nil, scope.NewLocal(e.Name, ir.KindUnknown), nil
	case exprFallthrough, exprReport:
		return nil, ir.Reg{}, fmt.Errorf("lang: internal error: command %v was not desugared", e.Kind)
	case exprSexp:
		return compileSexp(e, scope)
	default:
		return nil, ir.Reg{}, fmt.Errorf("lang: internal error: unknown expression kind %v", e.Kind)
	}
}

func compileSexp(e *Expr, scope *ir.Scope) ([]ir.Instr, ir.Reg, error) {
	leftInstrs, left, err := compileExpr(e.Left, scope)
	if err != nil {
		return nil, ir.Reg{}, err
	}
	rightInstrs, right, err := compileExpr(e.Right, scope)
	if err != nil {
		return nil, ir.Reg{}, err
	}
	instrs := append(leftInstrs, rightInstrs...)

	switch e.Op {
	case astAdd, astDiv, astMax, astMaxWrap, astMin, astMul, astSub:
		if left.Kind != ir.KindNum || right.Kind != ir.KindNum {
			return nil, ir.Reg{}, fmt.Errorf("lang: %s expected two numeric operands, got %s and %s", e.Op, left.Kind, right.Kind)
		}
		res := scope.NewTmp(ir.KindNum)
		instrs = append(instrs, ir.Instr{Op: astToArith[e.Op], Result: res, Left: left, Right: right})
		return instrs, res, nil

	case astAnd, astOr:
		if left.Kind != ir.KindBool || right.Kind != ir.KindBool {
			return nil, ir.Reg{}, fmt.Errorf("lang: %s expected two boolean operands, got %s and %s", e.Op, left.Kind, right.Kind)
		}
		op := ir.OpMul
		if e.Op == astOr {
			op = ir.OpAdd
		}
		res := scope.NewTmp(ir.KindBool)
		instrs = append(instrs, ir.Instr{Op: op, Result: res, Left: left, Right: right})
		return instrs, res, nil

	case astEquiv, astGt, astLt:
		if left.Kind != ir.KindNum || right.Kind != ir.KindNum {
			return nil, ir.Reg{}, fmt.Errorf("lang: %s expected two numeric operands, got %s and %s", e.Op, left.Kind, right.Kind)
		}
		res := scope.NewTmp(ir.KindBool)
		instrs = append(instrs, ir.Instr{Op: astToComparison[e.Op], Result: res, Left: left, Right: right})
		return instrs, res, nil

	case astBind:
		return compileBind(instrs, left, right, scope)

	case astIf, astNotIf, astEwma:
		instrs = append(instrs, ir.Instr{Op: astToConditional[e.Op], Result: ir.None, Left: left, Right: right})
		return instrs, ir.None, nil

	default:
		return nil, ir.Reg{}, fmt.Errorf("lang: internal error: unhandled operator %s", e.Op)
	}
}

func compileBind(instrs []ir.Instr, left, right ir.Reg, scope *ir.Scope) ([]ir.Instr, ir.Reg, error) {
	if left.Kind == ir.KindUnknown && left.Name != "" {
		if updated, ok := scope.UpdateKind(left.Name, right.Kind); ok {
			left = updated
		}
	}
	if !left.Class.Writable() {
		return nil, ir.Reg{}, fmt.Errorf("lang: expected mutable register in bind, found %s", left)
	}

	if right.IsNone() {
		if left.Class == ir.ClassTmp {
			return nil, ir.Reg{}, fmt.Errorf("lang: cannot bind a conditional or ewma to a temp register: %s", left)
		}
		if len(instrs) == 0 {
			return nil, ir.Reg{}, fmt.Errorf("lang: internal error: empty instruction list before bind")
		}
		instrs[len(instrs)-1].Result = left
		return instrs, left, nil
	}

	instrs = append(instrs, ir.Instr{Op: ir.OpBind, Result: left, Left: left, Right: right})
	return instrs, left, nil
}
