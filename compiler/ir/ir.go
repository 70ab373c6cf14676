// Package ir implements the SSA program model: modules, functions,
// basic blocks, and typed values addressed by stable integer ids.
//
// All values live in a per-module arena (Exprs with a parallel EType
// array); instructions reference operands by id, blocks reference each
// other by BlockID, so the arena owns every node and there are no
// pointer cycles.
package ir

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/slate/compiler/tp"
)

type (
	Value    int
	BlockID  int
	FuncID   int
	GlobalID int

	Kind    int
	Linkage int
	Cond    string

	Module struct {
		Name  string
		Types *tp.Table

		Funcs   []*Func
		Globals []*Global

		Exprs []any
		EType []tp.ID

		strs  map[string]Value
		strtp tp.ID
	}

	Func struct {
		Name    string
		Sig     tp.ID
		Linkage Linkage

		In []Value

		// no blocks means an external declaration
		Blocks []*Block
	}

	Block struct {
		Name string

		Code []Value

		// Term is the only terminator of the block, Nil until set.
		Term Value

		Preds []BlockID
	}

	Global struct {
		Name    string
		Type    tp.ID
		Linkage Linkage

		Init Value // Nil means zero initialized
	}
)

// value payloads
type (
	Imm  int64
	FImm float64
	Str  string

	Param struct {
		Name string
		Idx  int
	}

	GlobalRef GlobalID

	Add struct{ L, R Value }
	Sub struct{ L, R Value }
	Mul struct{ L, R Value }
	Div struct{ L, R Value }
	Mod struct{ L, R Value }

	And struct{ L, R Value }
	Or  struct{ L, R Value }
	Xor struct{ L, R Value }
	Shl struct{ L, R Value }
	Shr struct{ L, R Value }

	Cmp struct {
		Cond Cond
		L, R Value
	}

	Alloca struct {
		Elem tp.ID
	}

	Load struct {
		Ptr Value
	}

	Store struct {
		Ptr Value
		Val Value
	}

	Call struct {
		Func FuncID
		Args []Value
	}

	Phi []PhiArm

	PhiArm struct {
		B BlockID
		X Value
	}

	B struct {
		To BlockID
	}

	BCond struct {
		Cond Value
		Then BlockID
		Else BlockID
	}

	Ret struct {
		X Value // Nil for void
	}

	Switch struct {
		X       Value
		Cases   []Case
		Default BlockID
	}

	Case struct {
		Val int64
		To  BlockID
	}
)

const (
	Nil     Value   = -1
	NoBlock BlockID = -1
)

const (
	KindConst Kind = iota
	KindParam
	KindGlobal
	KindInstr
)

const (
	External Linkage = iota
	Internal
	Weak
	Common
)

var (
	ErrInvalidArg  = errors.New("invalid argument")
	ErrInvalidType = errors.New("invalid type")
	ErrInvalidOp   = errors.New("invalid operation")
)

func NewModule(name string, types *tp.Table) *Module {
	m := &Module{
		Name:  name,
		Types: types,
		strs:  map[string]Value{},
	}

	m.strtp = types.Ptr(types.Int(8, true))

	return m
}

func (m *Module) alloc(x any, t tp.ID) Value {
	id := Value(len(m.Exprs))

	m.Exprs = append(m.Exprs, x)
	m.EType = append(m.EType, t)

	return id
}

func (m *Module) TypeOf(v Value) tp.ID {
	return m.EType[v]
}

func (m *Module) ValueKind(v Value) Kind {
	switch m.Exprs[v].(type) {
	case Imm, FImm, Str:
		return KindConst
	case Param:
		return KindParam
	case GlobalRef:
		return KindGlobal
	default:
		return KindInstr
	}
}

func (m *Module) valid(v Value) bool {
	return v >= 0 && int(v) < len(m.Exprs)
}

// IntConst creates a new integer constant of the given type.
// Numeric constants are not interned: every call makes a new value.
func (m *Module) IntConst(t tp.ID, val int64) (Value, error) {
	if m.Types.Kind(t) != tp.Int {
		return Nil, errors.Wrap(ErrInvalidType, "int const of %v", m.Types.String(t))
	}

	return m.alloc(Imm(val), t), nil
}

func (m *Module) FloatConst(t tp.ID, val float64) (Value, error) {
	if m.Types.Kind(t) != tp.Float {
		return Nil, errors.Wrap(ErrInvalidType, "float const of %v", m.Types.String(t))
	}

	return m.alloc(FImm(val), t), nil
}

// StringConst pools string constants by content: the same content
// always yields the same value id. The value type is *i8.
func (m *Module) StringConst(s string) Value {
	if id, ok := m.strs[s]; ok {
		return id
	}

	id := m.alloc(Str(s), m.strtp)
	m.strs[s] = id

	return id
}

// NewFunc creates a function with the given signature and allocates
// its parameter values. A function left without blocks is emitted as
// an external declaration.
func (m *Module) NewFunc(name string, sig tp.ID, linkage Linkage) (*Func, FuncID, error) {
	if m.Types.Kind(sig) != tp.Func {
		return nil, -1, errors.Wrap(ErrInvalidType, "func signature: %v", m.Types.String(sig))
	}

	f := &Func{
		Name:    name,
		Sig:     sig,
		Linkage: linkage,
	}

	for i, t := range m.Types.Of(sig).In {
		f.In = append(f.In, m.alloc(Param{Idx: i}, t))
	}

	id := FuncID(len(m.Funcs))
	m.Funcs = append(m.Funcs, f)

	return f, id, nil
}

func (m *Module) AddGlobal(name string, t tp.ID, init Value, linkage Linkage) (GlobalID, error) {
	switch m.Types.Kind(t) {
	case tp.Void, tp.Func:
		return -1, errors.Wrap(ErrInvalidType, "global %v of %v", name, m.Types.String(t))
	}

	if init != Nil {
		if !m.valid(init) {
			return -1, errors.Wrap(ErrInvalidArg, "global %v init", name)
		}
		if m.ValueKind(init) != KindConst {
			return -1, errors.Wrap(ErrInvalidArg, "global %v init is not a constant", name)
		}
	}

	id := GlobalID(len(m.Globals))
	m.Globals = append(m.Globals, &Global{Name: name, Type: t, Linkage: linkage, Init: init})

	return id, nil
}

// GlobalAddr creates a value holding the address of a module global.
func (m *Module) GlobalAddr(g GlobalID) (Value, error) {
	if g < 0 || int(g) >= len(m.Globals) {
		return Nil, errors.Wrap(ErrInvalidArg, "global %d", int(g))
	}

	return m.alloc(GlobalRef(g), m.Types.Ptr(m.Globals[g].Type)), nil
}

func (f *Func) AddBlock(name string) BlockID {
	id := BlockID(len(f.Blocks))

	if name == "" {
		name = "b" + itoa(int(id))
	}

	f.Blocks = append(f.Blocks, &Block{Name: name, Term: Nil})

	return id
}

func (f *Func) Block(id BlockID) *Block {
	return f.Blocks[id]
}

func (f *Func) IsDecl() bool {
	return len(f.Blocks) == 0
}

func (b *Block) Terminated() bool {
	return b.Term != Nil
}

func (b *Block) addPred(p BlockID) {
	for _, q := range b.Preds {
		if q == p {
			return
		}
	}

	b.Preds = append(b.Preds, p)
}

func (p PhiArm) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 2)
	b = e.AppendKeyInt64(b, "b", int64(p.B))
	b = e.AppendKeyInt64(b, "id", int64(p.X))

	return b
}

func itoa(x int) string {
	if x == 0 {
		return "0"
	}

	var buf [8]byte
	i := len(buf)

	for x > 0 {
		i--
		buf[i] = byte('0' + x%10)
		x /= 10
	}

	return string(buf[i:])
}
