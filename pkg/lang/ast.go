package lang

// astOp is a parsed operator token, before lowering to ir.Op. And/Or are
// kept distinct here because they require a boolean-operand type check
// that compile.go performs before lowering them to Mul/Add, the same
// substitution original_source/src/lang/datapath.rs's compile_bin_op
// makes (Op::And -> Op::Mul, Op::Or -> Op::Add) since the interpreter
// represents booleans as 0/1.
type astOp uint8

const (
	astAdd astOp = iota
	astAnd
	astBind
	astDiv
	astEquiv
	astEwma
	astGt
	astIf
	astLt
	astMax
	astMaxWrap
	astMin
	astMul
	astNotIf
	astOr
	astSub
)

var astOpSpellings = map[string]astOp{
	"+": astAdd, "add": astAdd,
	"&&": astAnd, "and": astAnd,
	":=": astBind, "bind": astBind,
	"/": astDiv, "div": astDiv,
	"==": astEquiv, "eq": astEquiv,
	"ewma": astEwma,
	">":    astGt, "gt": astGt,
	"if": astIf,
	"<":  astLt, "lt": astLt,
	"max":         astMax,
	"wrapped_max": astMaxWrap,
	"min":         astMin,
	"*":           astMul, "mul": astMul,
	"!if": astNotIf,
	"||":  astOr, "or": astOr,
	"-": astSub, "sub": astSub,
}

var astOpNames = func() map[astOp]string {
	out := make(map[astOp]string, len(astOpSpellings))
	for text, op := range astOpSpellings {
		if _, ok := out[op]; !ok {
			out[op] = text
		}
	}
	return out
}()

func (o astOp) String() string { return astOpNames[o] }

// exprKind tags which field of Expr is meaningful.
type exprKind uint8

const (
	exprNum exprKind = iota
	exprBool
	exprName
	exprSexp
	exprFallthrough
	exprReport
)

func (k exprKind) String() string {
	switch k {
	case exprNum:
		return "num"
	case exprBool:
		return "bool"
	case exprName:
		return "name"
	case exprSexp:
		return "sexp"
	case exprFallthrough:
		return "fallthrough"
	case exprReport:
		return "report"
	default:
		return "?"
	}
}

// Expr is a single parsed s-expression node: an atom, a two-argument
// operator application, or a sugar command.
type Expr struct {
	Kind exprKind

	Num  uint64
	Bool bool
	Name string

	Op          astOp
	Left, Right *Expr
}

func atomNum(n uint64) *Expr   { return &Expr{Kind: exprNum, Num: n} }
func atomBool(b bool) *Expr    { return &Expr{Kind: exprBool, Bool: b} }
func atomName(n string) *Expr  { return &Expr{Kind: exprName, Name: n} }
func sexp(o astOp, l, r *Expr) *Expr {
	return &Expr{Kind: exprSexp, Op: o, Left: l, Right: r}
}

// desugar rewrites (report) and (fallthrough) commands into their bind
// equivalents: the only way user source can write to the two internal
// control registers.
func (e *Expr) desugar() {
	switch e.Kind {
	case exprReport:
		e.Kind = exprSexp
		e.Op = astBind
		e.Left = atomName("__shouldReport")
		e.Right = atomBool(true)
	case exprFallthrough:
		e.Kind = exprSexp
		e.Op = astBind
		e.Left = atomName("__shouldContinue")
		e.Right = atomBool(true)
	case exprSexp:
		e.Left.desugar()
		e.Right.desugar()
	}
}

// Decl is one declaration from a (def ...) block: a name, its initial
// value, whether it is volatile, and whether it belongs to the nested
// Report block.
type Decl struct {
	Name     string
	Volatile bool
	Report   bool
	NumInit  uint64
	BoolInit bool
	IsBool   bool
}

// Event is a parsed (when <flag> <body>...) clause.
type Event struct {
	Flag *Expr
	Body []*Expr
}

// Program is the full parsed source: its declarations and its events,
// in source order.
type Program struct {
	Decls  []Decl
	Events []Event
}
