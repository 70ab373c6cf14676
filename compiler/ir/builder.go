package ir

import (
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/slate/compiler/tp"
)

// Builder appends instructions to a single mutable insertion point.
// Every build call validates its operands, allocates the result value
// in the module arena, and appends it to the current block. Building
// into a block that already has a terminator is an error.
type Builder struct {
	m *Module
	f *Func
	b BlockID
}

func NewBuilder(m *Module) *Builder {
	return &Builder{m: m, b: NoBlock}
}

func (x *Builder) Module() *Module { return x.m }

func (x *Builder) SetBlock(f *Func, b BlockID) error {
	if f == nil || b < 0 || int(b) >= len(f.Blocks) {
		return errors.Wrap(ErrInvalidArg, "set block %d", int(b))
	}

	x.f, x.b = f, b

	tlog.V("build").Printw("insertion point", "func", f.Name, "block", f.Blocks[b].Name, "from", loc.Callers(1, 2))

	return nil
}

func (x *Builder) Func() *Func { return x.f }

func (x *Builder) CurBlock() BlockID { return x.b }

func (x *Builder) cur() (*Block, error) {
	if x.f == nil || x.b == NoBlock {
		return nil, errors.Wrap(ErrInvalidOp, "no insertion point")
	}

	b := x.f.Blocks[x.b]

	if b.Terminated() {
		return nil, errors.Wrap(ErrInvalidOp, "block %v already terminated", b.Name)
	}

	return b, nil
}

func (x *Builder) emit(p any, t tp.ID) (Value, error) {
	b, err := x.cur()
	if err != nil {
		return Nil, err
	}

	id := x.m.alloc(p, t)
	b.Code = append(b.Code, id)

	tlog.V("build,emit").Printw("emit", "id", id, "typ", tlog.NextAsType, p, "x", p)

	return id, nil
}

func (x *Builder) operand(v Value) error {
	if !x.m.valid(v) {
		return errors.Wrap(ErrInvalidArg, "operand %d", int(v))
	}

	return nil
}

func (x *Builder) arith(op string, l, r Value) (tp.ID, error) {
	if err := x.operand(l); err != nil {
		return tp.Nil, errors.Wrap(err, op)
	}
	if err := x.operand(r); err != nil {
		return tp.Nil, errors.Wrap(err, op)
	}

	lt, rt := x.m.TypeOf(l), x.m.TypeOf(r)

	if !x.m.Types.Equal(lt, rt) {
		return tp.Nil, errors.Wrap(ErrInvalidType, "%v: %v and %v", op, x.m.Types.String(lt), x.m.Types.String(rt))
	}

	switch x.m.Types.Kind(lt) {
	case tp.Int, tp.Float:
	default:
		return tp.Nil, errors.Wrap(ErrInvalidType, "%v of %v", op, x.m.Types.String(lt))
	}

	return lt, nil
}

func (x *Builder) intop(op string, l, r Value) (tp.ID, error) {
	t, err := x.arith(op, l, r)
	if err != nil {
		return tp.Nil, err
	}

	if x.m.Types.Kind(t) != tp.Int {
		return tp.Nil, errors.Wrap(ErrInvalidType, "%v of %v", op, x.m.Types.String(t))
	}

	return t, nil
}

func (x *Builder) Add(l, r Value) (Value, error) {
	t, err := x.arith("add", l, r)
	if err != nil {
		return Nil, err
	}

	return x.emit(Add{L: l, R: r}, t)
}

func (x *Builder) Sub(l, r Value) (Value, error) {
	t, err := x.arith("sub", l, r)
	if err != nil {
		return Nil, err
	}

	return x.emit(Sub{L: l, R: r}, t)
}

func (x *Builder) Mul(l, r Value) (Value, error) {
	t, err := x.arith("mul", l, r)
	if err != nil {
		return Nil, err
	}

	return x.emit(Mul{L: l, R: r}, t)
}

func (x *Builder) Div(l, r Value) (Value, error) {
	t, err := x.arith("div", l, r)
	if err != nil {
		return Nil, err
	}

	return x.emit(Div{L: l, R: r}, t)
}

func (x *Builder) Mod(l, r Value) (Value, error) {
	t, err := x.intop("mod", l, r)
	if err != nil {
		return Nil, err
	}

	return x.emit(Mod{L: l, R: r}, t)
}

func (x *Builder) And(l, r Value) (Value, error) {
	t, err := x.intop("and", l, r)
	if err != nil {
		return Nil, err
	}

	return x.emit(And{L: l, R: r}, t)
}

func (x *Builder) Or(l, r Value) (Value, error) {
	t, err := x.intop("or", l, r)
	if err != nil {
		return Nil, err
	}

	return x.emit(Or{L: l, R: r}, t)
}

func (x *Builder) Xor(l, r Value) (Value, error) {
	t, err := x.intop("xor", l, r)
	if err != nil {
		return Nil, err
	}

	return x.emit(Xor{L: l, R: r}, t)
}

func (x *Builder) Shl(l, r Value) (Value, error) {
	t, err := x.intop("shl", l, r)
	if err != nil {
		return Nil, err
	}

	return x.emit(Shl{L: l, R: r}, t)
}

func (x *Builder) Shr(l, r Value) (Value, error) {
	t, err := x.intop("shr", l, r)
	if err != nil {
		return Nil, err
	}

	return x.emit(Shr{L: l, R: r}, t)
}

func (x *Builder) Cmp(cond Cond, l, r Value) (Value, error) {
	switch cond {
	case "<", ">", "<=", ">=", "==", "!=":
	default:
		return Nil, errors.Wrap(ErrInvalidArg, "cond %q", string(cond))
	}

	if err := x.operand(l); err != nil {
		return Nil, errors.Wrap(err, "cmp")
	}
	if err := x.operand(r); err != nil {
		return Nil, errors.Wrap(err, "cmp")
	}

	lt := x.m.TypeOf(l)

	if !x.m.Types.Equal(lt, x.m.TypeOf(r)) {
		return Nil, errors.Wrap(ErrInvalidType, "cmp: %v and %v", x.m.Types.String(lt), x.m.Types.String(x.m.TypeOf(r)))
	}

	switch x.m.Types.Kind(lt) {
	case tp.Int, tp.Float, tp.Ptr:
	default:
		return Nil, errors.Wrap(ErrInvalidType, "cmp of %v", x.m.Types.String(lt))
	}

	return x.emit(Cmp{Cond: cond, L: l, R: r}, x.m.Types.Int(8, false))
}

// Alloca reserves stack storage for one elem and produces its address.
func (x *Builder) Alloca(elem tp.ID) (Value, error) {
	switch x.m.Types.Kind(elem) {
	case tp.Void, tp.Func:
		return Nil, errors.Wrap(ErrInvalidType, "alloca of %v", x.m.Types.String(elem))
	}

	return x.emit(Alloca{Elem: elem}, x.m.Types.Ptr(elem))
}

func (x *Builder) Load(ptr Value) (Value, error) {
	if err := x.operand(ptr); err != nil {
		return Nil, errors.Wrap(err, "load")
	}

	pt := x.m.TypeOf(ptr)

	if x.m.Types.Kind(pt) != tp.Ptr {
		return Nil, errors.Wrap(ErrInvalidType, "load via %v", x.m.Types.String(pt))
	}

	elem := x.m.Types.Elem(pt)

	switch x.m.Types.Kind(elem) {
	case tp.Int, tp.Float, tp.Ptr:
	default:
		return Nil, errors.Wrap(ErrInvalidType, "load of %v", x.m.Types.String(elem))
	}

	return x.emit(Load{Ptr: ptr}, elem)
}

func (x *Builder) Store(ptr, val Value) error {
	if err := x.operand(ptr); err != nil {
		return errors.Wrap(err, "store")
	}
	if err := x.operand(val); err != nil {
		return errors.Wrap(err, "store")
	}

	pt := x.m.TypeOf(ptr)

	if x.m.Types.Kind(pt) != tp.Ptr {
		return errors.Wrap(ErrInvalidType, "store via %v", x.m.Types.String(pt))
	}

	elem := x.m.Types.Elem(pt)

	switch x.m.Types.Kind(elem) {
	case tp.Int, tp.Float, tp.Ptr:
	default:
		return errors.Wrap(ErrInvalidType, "store of %v", x.m.Types.String(elem))
	}

	if !x.m.Types.Equal(elem, x.m.TypeOf(val)) {
		return errors.Wrap(ErrInvalidType, "store %v via %v", x.m.Types.String(x.m.TypeOf(val)), x.m.Types.String(pt))
	}

	_, err := x.emit(Store{Ptr: ptr, Val: val}, x.m.Types.Void())

	return err
}

// Call checks the arguments against the callee signature. A variadic
// signature accepts extra arguments past the fixed ones.
func (x *Builder) Call(f FuncID, args ...Value) (Value, error) {
	if f < 0 || int(f) >= len(x.m.Funcs) {
		return Nil, errors.Wrap(ErrInvalidArg, "func %d", int(f))
	}

	callee := x.m.Funcs[f]
	sig := x.m.Types.Of(callee.Sig)

	if len(args) < len(sig.In) || len(args) > len(sig.In) && !sig.Variadic {
		return Nil, errors.Wrap(ErrInvalidArg, "call %v: %d args, want %d", callee.Name, len(args), len(sig.In))
	}

	for i, a := range args {
		if err := x.operand(a); err != nil {
			return Nil, errors.Wrap(err, "call %v arg %d", callee.Name, i)
		}

		if i < len(sig.In) && !x.m.Types.Equal(x.m.TypeOf(a), sig.In[i]) {
			return Nil, errors.Wrap(ErrInvalidType, "call %v arg %d: %v, want %v",
				callee.Name, i, x.m.Types.String(x.m.TypeOf(a)), x.m.Types.String(sig.In[i]))
		}
	}

	out := sig.Out
	if out == tp.Nil {
		out = x.m.Types.Void()
	}

	return x.emit(Call{Func: f, Args: append([]Value{}, args...)}, out)
}

// Phi starts an empty phi. Phis may only appear at the start of a
// block, before any other instruction. Arms are added with AddIncoming.
func (x *Builder) Phi(t tp.ID) (Value, error) {
	b, err := x.cur()
	if err != nil {
		return Nil, err
	}

	for _, id := range b.Code {
		if _, ok := x.m.Exprs[id].(Phi); !ok {
			return Nil, errors.Wrap(ErrInvalidOp, "phi after non-phi in %v", b.Name)
		}
	}

	return x.emit(Phi{}, t)
}

// AddIncoming records that the phi takes the value x when control
// arrives from pred. Pred is a block of the current function.
func (x *Builder) AddIncoming(phi Value, pred BlockID, v Value) error {
	if err := x.operand(phi); err != nil {
		return errors.Wrap(err, "phi")
	}
	if err := x.operand(v); err != nil {
		return errors.Wrap(err, "incoming")
	}

	p, ok := x.m.Exprs[phi].(Phi)
	if !ok {
		return errors.Wrap(ErrInvalidArg, "value %d is not a phi", int(phi))
	}

	if x.f == nil || pred < 0 || int(pred) >= len(x.f.Blocks) {
		return errors.Wrap(ErrInvalidArg, "pred %d", int(pred))
	}

	if !x.m.Types.Equal(x.m.TypeOf(phi), x.m.TypeOf(v)) {
		return errors.Wrap(ErrInvalidType, "phi %v, incoming %v",
			x.m.Types.String(x.m.TypeOf(phi)), x.m.Types.String(x.m.TypeOf(v)))
	}

	x.m.Exprs[phi] = append(p, PhiArm{B: pred, X: v})

	tlog.V("build,phi").Printw("phi incoming", "phi", phi, "arm", PhiArm{B: pred, X: v}, "from", loc.Callers(1, 2))

	return nil
}

func (x *Builder) target(b BlockID) error {
	if b < 0 || int(b) >= len(x.f.Blocks) {
		return errors.Wrap(ErrInvalidArg, "target block %d", int(b))
	}

	return nil
}

func (x *Builder) terminate(p any) (Value, error) {
	b, err := x.cur()
	if err != nil {
		return Nil, err
	}

	id := x.m.alloc(p, x.m.Types.Void())
	b.Term = id

	tlog.V("build,term").Printw("terminate", "block", b.Name, "typ", tlog.NextAsType, p, "x", p)

	return id, nil
}

func (x *Builder) Br(to BlockID) (Value, error) {
	if _, err := x.cur(); err != nil {
		return Nil, err
	}
	if err := x.target(to); err != nil {
		return Nil, err
	}

	id, err := x.terminate(B{To: to})
	if err != nil {
		return Nil, err
	}

	x.f.Blocks[to].addPred(x.b)

	return id, nil
}

func (x *Builder) CondBr(cond Value, then, els BlockID) (Value, error) {
	if _, err := x.cur(); err != nil {
		return Nil, err
	}
	if err := x.operand(cond); err != nil {
		return Nil, errors.Wrap(err, "cond")
	}
	if x.m.Types.Kind(x.m.TypeOf(cond)) != tp.Int {
		return Nil, errors.Wrap(ErrInvalidType, "cond of %v", x.m.Types.String(x.m.TypeOf(cond)))
	}
	if err := x.target(then); err != nil {
		return Nil, err
	}
	if err := x.target(els); err != nil {
		return Nil, err
	}

	id, err := x.terminate(BCond{Cond: cond, Then: then, Else: els})
	if err != nil {
		return Nil, err
	}

	x.f.Blocks[then].addPred(x.b)
	x.f.Blocks[els].addPred(x.b)

	return id, nil
}

func (x *Builder) Ret(v Value) (Value, error) {
	if _, err := x.cur(); err != nil {
		return Nil, err
	}

	out := x.m.Types.Of(x.f.Sig).Out
	void := out == tp.Nil || x.m.Types.Kind(out) == tp.Void

	if void && v != Nil {
		return Nil, errors.Wrap(ErrInvalidType, "ret value from void %v", x.f.Name)
	}

	if !void {
		if err := x.operand(v); err != nil {
			return Nil, errors.Wrap(err, "ret")
		}
		if !x.m.Types.Equal(x.m.TypeOf(v), out) {
			return Nil, errors.Wrap(ErrInvalidType, "ret %v from %v", x.m.Types.String(x.m.TypeOf(v)), x.f.Name)
		}
	}

	return x.terminate(Ret{X: v})
}

func (x *Builder) RetVoid() (Value, error) {
	return x.Ret(Nil)
}

func (x *Builder) Switch(v Value, def BlockID, cases ...Case) (Value, error) {
	if _, err := x.cur(); err != nil {
		return Nil, err
	}
	if err := x.operand(v); err != nil {
		return Nil, errors.Wrap(err, "switch")
	}
	if x.m.Types.Kind(x.m.TypeOf(v)) != tp.Int {
		return Nil, errors.Wrap(ErrInvalidType, "switch of %v", x.m.Types.String(x.m.TypeOf(v)))
	}
	if err := x.target(def); err != nil {
		return Nil, err
	}

	for _, c := range cases {
		if err := x.target(c.To); err != nil {
			return Nil, err
		}
	}

	id, err := x.terminate(Switch{X: v, Cases: append([]Case{}, cases...), Default: def})
	if err != nil {
		return Nil, err
	}

	x.f.Blocks[def].addPred(x.b)

	for _, c := range cases {
		x.f.Blocks[c.To].addPred(x.b)
	}

	return id, nil
}
