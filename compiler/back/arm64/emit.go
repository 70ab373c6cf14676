package arm64

import (
	"context"
	"fmt"
	"math"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slate/compiler/asm"
	"github.com/slowlang/slate/compiler/back"
	"github.com/slowlang/slate/compiler/ir"
	"github.com/slowlang/slate/compiler/set"
	"github.com/slowlang/slate/compiler/tp"
)

type (
	funContext struct {
		*ir.Module

		fn *ir.Func
		fr frame
	}

	// fix is a synthetic block carrying the phi copies of one edge.
	// It sits right after its source block and jumps to the real
	// target.
	fix struct {
		label    string
		from, to ir.BlockID
	}

	move struct {
		dst, src ir.Value
	}
)

// Expression scratch: x9/x10 operands, x11 for division helpers,
// x9..x16 stage call arguments, x17 computes addresses the immediate
// forms cannot reach. Floats use d16..d23, the caller saved upper
// half of the fp file. Frame slots are addressed as [x29, #-off],
// ldur/stur cover offsets up to 256, larger ones go through x17.
const ldurRange = 256

func (c *Compiler) codegenModule(ctx context.Context, b []byte, m *ir.Module) (_ []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "codegen module", "module", m.Name, "abi", c.abi)
	defer tr.Finish("err", &err)

	b = fmt.Appendf(b, "// module %s\n\n\t%s\n", m.Name, c.syn.Text)

	for _, f := range m.Funcs {
		if f.IsDecl() {
			continue
		}

		b = append(b, '\n')

		b, err = c.codegenFunc(ctx, b, m, f)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}
	}

	b, err = c.appendData(b, m)
	if err != nil {
		return nil, errors.Wrap(err, "data")
	}

	return b, nil
}

func (c *Compiler) codegenFunc(ctx context.Context, b []byte, m *ir.Module, f *ir.Func) (_ []byte, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "codegen func", "func", f.Name)
	defer tr.Finish("err", &err)

	if f.IsDecl() {
		return b, nil
	}

	fc := &funContext{Module: m, fn: f, fr: c.buildFrame(m, f)}

	tr.V("frame").Printw("frame", "size", fc.fr.size, "locals", fc.fr.locals, "spill", fc.fr.spill, "out", fc.fr.outgoing, "leaf", fc.fr.leaf)

	b = c.appendFuncHeader(b, f)
	b = c.appendPrologue(b, fc)

	for bid, blk := range f.Blocks {
		if deadBlock(ir.BlockID(bid), blk) {
			continue
		}

		b, err = c.codegenBlock(b, fc, ir.BlockID(bid), blk)
		if err != nil {
			return nil, errors.Wrap(err, "block %v", blk.Name)
		}
	}

	b = c.appendFuncFooter(b, f)

	return b, nil
}

func deadBlock(bid ir.BlockID, blk *ir.Block) bool {
	return bid != 0 && len(blk.Preds) == 0 && len(blk.Code) == 0 && blk.Term == ir.Nil
}

func (c *Compiler) appendFuncHeader(b []byte, f *ir.Func) []byte {
	sym := string(c.syn.AppendSym(nil, f.Name))

	b = append(b, "\t.p2align\t2\n"...)

	switch f.Linkage {
	case ir.Internal:
	case ir.Weak:
		b = fmt.Appendf(b, "\t.globl\t%s\n", sym)

		if c.syn.EmitSize {
			b = fmt.Appendf(b, "\t.weak\t%s\n", sym)
		} else {
			b = fmt.Appendf(b, "\t.weak_definition\t%s\n", sym)
		}
	default:
		b = fmt.Appendf(b, "\t.globl\t%s\n", sym)
	}

	if c.syn.EmitType {
		b = fmt.Appendf(b, "\t.type\t%s, %%function\n", sym)
	}

	return fmt.Appendf(b, "%s:\n", sym)
}

func (c *Compiler) appendFuncFooter(b []byte, f *ir.Func) []byte {
	if !c.syn.EmitSize {
		return b
	}

	sym := string(c.syn.AppendSym(nil, f.Name))

	return fmt.Appendf(b, "\t.size\t%s, .-%s\n", sym, sym)
}

func (c *Compiler) appendPrologue(b []byte, fc *funContext) []byte {
	if c.pauth() && !fc.fr.leaf {
		b = append(b, "\tpaciasp\n"...)
	}

	b = append(b, "\tstp\tx29, x30, [sp, #-16]!\n\tmov\tx29, sp\n"...)

	if fc.fr.size > 0 {
		if fc.fr.size < 1<<12 {
			b = fmt.Appendf(b, "\tsub\tsp, sp, #%d\n", fc.fr.size)
		} else {
			b = appendLoadImm(b, "x17", uint64(fc.fr.size))
			b = append(b, "\tsub\tsp, sp, x17\n"...)
		}
	}

	sig := fc.Types.Of(fc.fn.Sig)

	for i, l := range c.paramRegs(fc.Module, fc.fn) {
		t := sig.In[i]

		switch {
		case l.reg < 0:
			b = fmt.Appendf(b, "\tldr\tx9, [x29, #%d]\n", 16+l.off)
			b = c.appendNormalize(b, fc, t, 9)
			b = c.appendSlotStore(b, fc, l.x, "x9")
		case l.fl:
			b = c.appendSlotStore(b, fc, l.x, fpr(fc.bits(t), l.reg))
		default:
			b = c.appendNormalize(b, fc, t, l.reg)
			b = c.appendSlotStore(b, fc, l.x, gpr(l.reg))
		}
	}

	return b
}

func (c *Compiler) appendEpilogue(b []byte, fc *funContext) []byte {
	if fc.fr.size > 0 {
		b = append(b, "\tmov\tsp, x29\n"...)
	}

	b = append(b, "\tldp\tx29, x30, [sp], #16\n"...)

	if c.pauth() && !fc.fr.leaf {
		b = append(b, "\tautiasp\n"...)
	}

	return append(b, "\tret\n"...)
}

func (c *Compiler) codegenBlock(b []byte, fc *funContext, bid ir.BlockID, blk *ir.Block) (_ []byte, err error) {
	b = fmt.Appendf(b, "%s:\n", c.blockLabel(fc.fn, blk.Name))

	for _, id := range blk.Code {
		b, err = c.codegenExpr(b, fc, id)
		if err != nil {
			return nil, errors.Wrap(err, "%%%d", int(id))
		}
	}

	return c.codegenTerm(b, fc, bid, blk)
}

func (c *Compiler) codegenExpr(b []byte, fc *funContext, id ir.Value) ([]byte, error) {
	switch x := fc.Exprs[id].(type) {
	case ir.Alloca, ir.Phi:
		// both are pure locations, the value arrives from elsewhere
		return b, nil
	case ir.Add:
		return c.appendBinop(b, fc, id, "add", "fadd", x.L, x.R), nil
	case ir.Sub:
		return c.appendBinop(b, fc, id, "sub", "fsub", x.L, x.R), nil
	case ir.Mul:
		return c.appendBinop(b, fc, id, "mul", "fmul", x.L, x.R), nil
	case ir.Div:
		return c.appendBinop(b, fc, id, divOp(fc, id), "fdiv", x.L, x.R), nil
	case ir.Mod:
		return c.appendMod(b, fc, id, x), nil
	case ir.And:
		return c.appendBinop(b, fc, id, "and", "", x.L, x.R), nil
	case ir.Or:
		return c.appendBinop(b, fc, id, "orr", "", x.L, x.R), nil
	case ir.Xor:
		return c.appendBinop(b, fc, id, "eor", "", x.L, x.R), nil
	case ir.Shl:
		return c.appendBinop(b, fc, id, "lsl", "", x.L, x.R), nil
	case ir.Shr:
		op := "lsr"
		if fc.Types.Of(fc.TypeOf(id)).Signed {
			op = "asr"
		}

		return c.appendBinop(b, fc, id, op, "", x.L, x.R), nil
	case ir.Cmp:
		return c.appendCmp(b, fc, id, x)
	case ir.Load:
		return c.appendLoad(b, fc, id, x), nil
	case ir.Store:
		return c.appendStore(b, fc, x), nil
	case ir.Call:
		return c.appendCall(b, fc, id, x), nil
	default:
		panic(x)
	}
}

// appendBinop computes iop (or fop for floats) into the left operand
// register and spills the result to the instruction slot.
func (c *Compiler) appendBinop(b []byte, fc *funContext, id ir.Value, iop, fop string, l, r ir.Value) []byte {
	t := fc.TypeOf(id)

	b, lr := c.appendOperand(b, fc, l, 9, 16)
	b, rr := c.appendOperand(b, fc, r, 10, 17)

	op := iop
	if fc.Types.Kind(t) == tp.Float {
		op = fop
	}

	b = fmt.Appendf(b, "\t%s\t%s, %s, %s\n", op, lr, lr, rr)
	b = c.appendNormalize(b, fc, t, 9)

	return c.appendSlotStore(b, fc, id, lr)
}

func divOp(fc *funContext, id ir.Value) string {
	if fc.Types.Of(fc.TypeOf(id)).Signed {
		return "sdiv"
	}

	return "udiv"
}

func (c *Compiler) appendMod(b []byte, fc *funContext, id ir.Value, x ir.Mod) []byte {
	b, lr := c.appendOperand(b, fc, x.L, 9, 16)
	b, rr := c.appendOperand(b, fc, x.R, 10, 17)

	b = fmt.Appendf(b, "\t%s\tx11, %s, %s\n", divOp(fc, id), lr, rr)
	b = fmt.Appendf(b, "\tmsub\t%s, x11, %s, %s\n", lr, rr, lr)
	b = c.appendNormalize(b, fc, fc.TypeOf(id), 9)

	return c.appendSlotStore(b, fc, id, lr)
}

func (c *Compiler) appendCmp(b []byte, fc *funContext, id ir.Value, x ir.Cmp) (_ []byte, err error) {
	t := fc.Types.Of(fc.TypeOf(x.L))

	b, lr := c.appendOperand(b, fc, x.L, 9, 16)
	b, rr := c.appendOperand(b, fc, x.R, 10, 17)

	var cc string

	if t.Kind == tp.Float {
		cc, err = floatCond(x.Cond)
		if err != nil {
			return nil, err
		}

		b = fmt.Appendf(b, "\tfcmp\t%s, %s\n", lr, rr)
	} else {
		cc, err = intCond(x.Cond, t.Signed)
		if err != nil {
			return nil, err
		}

		b = fmt.Appendf(b, "\tcmp\t%s, %s\n", lr, rr)
	}

	b = fmt.Appendf(b, "\tcset\tx9, %s\n", cc)

	return c.appendSlotStore(b, fc, id, "x9"), nil
}

func intCond(cond ir.Cond, signed bool) (string, error) {
	if signed {
		switch cond {
		case "<":
			return "lt", nil
		case ">":
			return "gt", nil
		case "<=":
			return "le", nil
		case ">=":
			return "ge", nil
		}
	}

	switch cond {
	case "==":
		return "eq", nil
	case "!=":
		return "ne", nil
	case "<":
		return "lo", nil
	case ">":
		return "hi", nil
	case "<=":
		return "ls", nil
	case ">=":
		return "hs", nil
	}

	return "", errors.Wrap(back.ErrCodegen, "cond %q", cond)
}

// floatCond picks the forms that stay false on unordered inputs,
// except the not-equal.
func floatCond(cond ir.Cond) (string, error) {
	switch cond {
	case "==":
		return "eq", nil
	case "!=":
		return "ne", nil
	case "<":
		return "mi", nil
	case ">":
		return "gt", nil
	case "<=":
		return "ls", nil
	case ">=":
		return "ge", nil
	}

	return "", errors.Wrap(back.ErrCodegen, "cond %q", cond)
}

func (c *Compiler) appendLoad(b []byte, fc *funContext, id ir.Value, x ir.Load) []byte {
	b, pr := c.appendOperand(b, fc, x.Ptr, 10, 17)

	op, reg := memOp(fc, fc.TypeOf(id), true)

	b = fmt.Appendf(b, "\t%s\t%s, [%s]\n", op, reg, pr)

	return c.appendSlotStore(b, fc, id, valueReg(fc, id, 9, 16))
}

func (c *Compiler) appendStore(b []byte, fc *funContext, x ir.Store) []byte {
	b, _ = c.appendOperand(b, fc, x.Val, 9, 16)

	var pr string
	b, pr = c.appendOperand(b, fc, x.Ptr, 10, 17)

	op, reg := memOp(fc, fc.TypeOf(x.Val), false)

	return fmt.Appendf(b, "\t%s\t%s, [%s]\n", op, reg, pr)
}

// memOp picks the memory access form for a scalar type. Loads widen
// to the full register, following the signedness, so every value
// held in a slot or register is normalized to 64 bits.
func memOp(fc *funContext, t tp.ID, load bool) (op, reg string) {
	ty := fc.Types.Of(t)

	switch ty.Kind {
	case tp.Float:
		op = "str"
		if load {
			op = "ldr"
		}

		return op, fpr(ty.Bits, 16)
	case tp.Ptr:
		if load {
			return "ldr", "x9"
		}

		return "str", "x9"
	case tp.Int:
	default:
		panic(ty.Kind)
	}

	if load {
		switch {
		case ty.Bits == 8 && ty.Signed:
			return "ldrsb", "x9"
		case ty.Bits == 8:
			return "ldrb", "w9"
		case ty.Bits == 16 && ty.Signed:
			return "ldrsh", "x9"
		case ty.Bits == 16:
			return "ldrh", "w9"
		case ty.Bits == 32 && ty.Signed:
			return "ldrsw", "x9"
		case ty.Bits == 32:
			return "ldr", "w9"
		default:
			return "ldr", "x9"
		}
	}

	switch ty.Bits {
	case 8:
		return "strb", "w9"
	case 16:
		return "strh", "w9"
	case 32:
		return "str", "w9"
	default:
		return "str", "x9"
	}
}

// appendCall stages the arguments in scratch registers first and only
// then fills the argument registers, so that an argument register is
// never clobbered while its old value is still wanted. Stack passed
// arguments go straight to the outgoing area before staging starts.
func (c *Compiler) appendCall(b []byte, fc *funContext, id ir.Value, x ir.Call) []byte {
	plan := c.argPlan(fc.Module, x)

	for _, l := range plan {
		if l.reg >= 0 {
			continue
		}

		var vr string
		b, vr = c.appendOperand(b, fc, l.x, 9, 16)
		b = fmt.Appendf(b, "\tstr\t%s, [sp, #%d]\n", vr, l.off)
	}

	for _, l := range plan {
		if l.reg < 0 {
			continue
		}

		b, _ = c.appendOperand(b, fc, l.x, 9+l.reg, 16+l.reg)
	}

	for _, l := range plan {
		if l.reg < 0 {
			continue
		}

		if l.fl {
			bits := fc.bits(fc.TypeOf(l.x))
			b = fmt.Appendf(b, "\tfmov\t%s, %s\n", fpr(bits, l.reg), fpr(bits, 16+l.reg))
		} else {
			b = fmt.Appendf(b, "\tmov\t%s, %s\n", gpr(l.reg), gpr(9+l.reg))
		}
	}

	b = fmt.Appendf(b, "\tbl\t%s\n", c.syn.AppendSym(nil, fc.Funcs[x.Func].Name))

	t := fc.TypeOf(id)
	if fc.Types.Kind(t) == tp.Void {
		return b
	}

	return c.appendSlotStore(b, fc, id, valueReg(fc, id, 0, 0))
}

func (c *Compiler) codegenTerm(b []byte, fc *funContext, bid ir.BlockID, blk *ir.Block) (_ []byte, err error) {
	var fixes []fix

	switch x := fc.Exprs[blk.Term].(type) {
	case ir.Ret:
		if x.X != ir.Nil {
			b, _ = c.appendOperand(b, fc, x.X, 0, 0)
		}

		b = c.appendEpilogue(b, fc)
	case ir.B:
		b = c.appendEdgeCopies(b, fc, bid, x.To)
		b = fmt.Appendf(b, "\tb\t%s\n", c.blockLabel(fc.fn, fc.fn.Block(x.To).Name))
	case ir.BCond:
		var cr string
		b, cr = c.appendOperand(b, fc, x.Cond, 9, 16)

		b = fmt.Appendf(b, "\tcbnz\t%s, %s\n", cr, c.edgeTarget(fc, bid, x.Then, &fixes))
		b = fmt.Appendf(b, "\tb\t%s\n", c.edgeTarget(fc, bid, x.Else, &fixes))
	case ir.Switch:
		b, err = c.appendSwitch(b, fc, bid, x, &fixes)
		if err != nil {
			return nil, err
		}
	default:
		panic(x)
	}

	for _, fx := range fixes {
		b = fmt.Appendf(b, "%s:\n", fx.label)
		b = c.appendEdgeCopies(b, fc, fx.from, fx.to)
		b = fmt.Appendf(b, "\tb\t%s\n", c.blockLabel(fc.fn, fc.fn.Block(fx.to).Name))
	}

	return b, nil
}

func (c *Compiler) appendSwitch(b []byte, fc *funContext, bid ir.BlockID, x ir.Switch, fixes *[]fix) (_ []byte, err error) {
	ty := fc.Types.Of(fc.TypeOf(x.X))

	var vr string
	b, vr = c.appendOperand(b, fc, x.X, 9, 16)

	h := heap.Heap[ir.Case]{Less: caseLess}

	for _, cs := range x.Cases {
		h.Push(ir.Case{Val: int64(normImm(ty, cs.Val)), To: cs.To})
	}

	first := true
	var last int64

	for h.Len() != 0 {
		cs := h.Pop()

		if !first && cs.Val == last {
			return nil, errors.Wrap(back.ErrCodegen, "duplicate switch case %v", cs.Val)
		}

		first, last = false, cs.Val

		if cs.Val >= 0 && cs.Val < 1<<12 {
			b = fmt.Appendf(b, "\tcmp\t%s, #%d\n", vr, cs.Val)
		} else {
			b = appendLoadImm(b, "x10", uint64(cs.Val))
			b = fmt.Appendf(b, "\tcmp\t%s, x10\n", vr)
		}

		b = fmt.Appendf(b, "\tb.eq\t%s\n", c.edgeTarget(fc, bid, cs.To, fixes))
	}

	b = fmt.Appendf(b, "\tb\t%s\n", c.edgeTarget(fc, bid, x.Default, fixes))

	return b, nil
}

func caseLess(d []ir.Case, i, j int) bool { return d[i].Val < d[j].Val }

// edgeTarget returns the label a branch on the from-to edge should
// take: the block itself when the target starts with no phis fed by
// this edge, or a fix block with the copies queued for emission after
// the terminator.
func (c *Compiler) edgeTarget(fc *funContext, from, to ir.BlockID, fixes *[]fix) string {
	if len(c.phiMoves(fc, from, to)) == 0 {
		return c.blockLabel(fc.fn, fc.fn.Block(to).Name)
	}

	lab := c.fixLabel(fc.fn, fc.fn.Block(to).Name, fc.fn.Block(from).Name)

	for _, fx := range *fixes {
		if fx.label == lab {
			return lab
		}
	}

	*fixes = append(*fixes, fix{label: lab, from: from, to: to})

	return lab
}

func (c *Compiler) phiMoves(fc *funContext, from, to ir.BlockID) []move {
	var moves []move

	for _, id := range fc.fn.Block(to).Code {
		phi, ok := fc.Exprs[id].(ir.Phi)
		if !ok {
			continue
		}

		for _, arm := range phi {
			if arm.B != from || arm.X == id {
				continue
			}

			moves = append(moves, move{dst: id, src: arm.X})
		}
	}

	return moves
}

// appendEdgeCopies materializes every phi incoming value of the edge
// into the phi's own slot. When one phi's source is another phi of
// the same batch the copies pass through the staging slots, reads and
// writes never overlap there.
func (c *Compiler) appendEdgeCopies(b []byte, fc *funContext, from, to ir.BlockID) []byte {
	moves := c.phiMoves(fc, from, to)
	if len(moves) == 0 {
		return b
	}

	dst := set.MakeBits(ir.Value(0))

	for _, mv := range moves {
		dst.Set(mv.dst)
	}

	hazard := false

	for _, mv := range moves {
		if dst.IsSet(mv.src) {
			hazard = true
			break
		}
	}

	if !hazard {
		for _, mv := range moves {
			var vr string
			b, vr = c.appendOperand(b, fc, mv.src, 9, 16)
			b = c.appendSlotStore(b, fc, mv.dst, vr)
		}

		return b
	}

	for i, mv := range moves {
		var vr string
		b, vr = c.appendOperand(b, fc, mv.src, 9, 16)
		b = c.appendOffStore(b, fc.fr.stage[i], vr)
	}

	for i, mv := range moves {
		vr := valueReg(fc, mv.src, 9, 16)
		b = c.appendOffLoad(b, fc.fr.stage[i], vr)
		b = c.appendSlotStore(b, fc, mv.dst, vr)
	}

	return b
}

// appendData emits the globals and the pooled string literals.
func (c *Compiler) appendData(b []byte, m *ir.Module) (_ []byte, err error) {
	if len(m.Globals) != 0 {
		b = fmt.Appendf(b, "\n\t%s\n", c.syn.Data)
	}

	for _, g := range m.Globals {
		b, err = c.appendGlobal(b, m, g)
		if err != nil {
			return nil, errors.Wrap(err, "global %v", g.Name)
		}
	}

	if len(c.strorder) != 0 {
		b = fmt.Appendf(b, "\n\t%s\n", c.syn.CString)
	}

	for i, v := range c.strorder {
		b = fmt.Appendf(b, "%s:\n\t.asciz\t\"", c.strLabel(i))
		b = asm.AppendEscaped(b, string(m.Exprs[v].(ir.Str)))
		b = append(b, "\"\n"...)
	}

	return b, nil
}

func (c *Compiler) appendGlobal(b []byte, m *ir.Module, g *ir.Global) ([]byte, error) {
	sym := string(c.syn.AppendSym(nil, g.Name))
	size := m.Types.SizeOf(g.Type)

	if g.Linkage == ir.Common && g.Init == ir.Nil {
		return fmt.Appendf(b, "\t.comm\t%s, %d, %d\n", sym, size, m.Types.AlignOf(g.Type)), nil
	}

	switch g.Linkage {
	case ir.Internal:
	case ir.Weak:
		b = fmt.Appendf(b, "\t.globl\t%s\n", sym)

		if c.syn.EmitSize {
			b = fmt.Appendf(b, "\t.weak\t%s\n", sym)
		} else {
			b = fmt.Appendf(b, "\t.weak_definition\t%s\n", sym)
		}
	default:
		b = fmt.Appendf(b, "\t.globl\t%s\n", sym)
	}

	b = fmt.Appendf(b, "\t.p2align\t3\n%s:\n", sym)

	if g.Init == ir.Nil {
		return fmt.Appendf(b, "\t.space\t%d\n", size), nil
	}

	switch init := m.Exprs[g.Init].(type) {
	case ir.Imm:
		v := normImm(m.Types.Of(g.Type), int64(init))

		switch size {
		case 1:
			b = fmt.Appendf(b, "\t.byte\t%d\n", v&0xff)
		case 2:
			b = fmt.Appendf(b, "\t.short\t%d\n", v&0xffff)
		case 4:
			b = fmt.Appendf(b, "\t.long\t%d\n", v&0xffffffff)
		default:
			b = fmt.Appendf(b, "\t%s\t%d\n", c.syn.Word8, int64(init))
		}
	case ir.FImm:
		if m.Types.Of(g.Type).Bits == 32 {
			b = fmt.Appendf(b, "\t.long\t0x%08x\n", math.Float32bits(float32(init)))
		} else {
			b = fmt.Appendf(b, "\t%s\t0x%016x\n", c.syn.Word8, math.Float64bits(float64(init)))
		}
	case ir.Str:
		b = fmt.Appendf(b, "\t%s\t%s\n", c.syn.Word8, c.strLabel(c.strs[g.Init]))
	default:
		return nil, errors.Wrap(back.ErrCodegen, "global %v: unsupported init", g.Name)
	}

	return b, nil
}

// appendOperand materializes a value into a scratch register, xr for
// ints and pointers, the fr-th fp register for floats, and returns
// the register name. Constants are rematerialized at every use,
// everything else comes from its frame slot.
func (c *Compiler) appendOperand(b []byte, fc *funContext, v ir.Value, xr, fr int) ([]byte, string) {
	t := fc.TypeOf(v)

	switch x := fc.Exprs[v].(type) {
	case ir.Imm:
		reg := gpr(xr)
		return appendLoadImm(b, reg, normImm(fc.Types.Of(t), int64(x))), reg
	case ir.FImm:
		bits := fc.bits(t)
		reg := fpr(bits, fr)

		var pat uint64
		if bits == 32 {
			pat = uint64(math.Float32bits(float32(x)))
		} else {
			pat = uint64(math.Float64bits(float64(x)))
		}

		b = appendLoadImm(b, "x17", pat)

		if bits == 32 {
			b = fmt.Appendf(b, "\tfmov\t%s, w17\n", reg)
		} else {
			b = fmt.Appendf(b, "\tfmov\t%s, x17\n", reg)
		}

		return b, reg
	case ir.Str:
		return c.appendAddr(b, c.strLabel(c.strs[v]), gpr(xr)), gpr(xr)
	case ir.GlobalRef:
		sym := string(c.syn.AppendSym(nil, fc.Globals[x].Name))
		return c.appendAddr(b, sym, gpr(xr)), gpr(xr)
	case ir.Alloca:
		reg := gpr(xr)
		off := fc.fr.off(v)

		if off < 1<<12 {
			return fmt.Appendf(b, "\tsub\t%s, x29, #%d\n", reg, off), reg
		}

		b = appendLoadImm(b, "x17", uint64(off))

		return fmt.Appendf(b, "\tsub\t%s, x29, x17\n", reg), reg
	default:
		reg := valueReg(fc, v, xr, fr)
		return c.appendSlotLoad(b, fc, v, reg), reg
	}
}

// appendAddr computes the address of a symbol or local label.
func (c *Compiler) appendAddr(b []byte, sym, reg string) []byte {
	if c.syn.PageReloc {
		b = fmt.Appendf(b, "\tadrp\t%s, %s@PAGE\n", reg, sym)
		return fmt.Appendf(b, "\tadd\t%s, %s, %s@PAGEOFF\n", reg, reg, sym)
	}

	b = fmt.Appendf(b, "\tadrp\t%s, %s\n", reg, sym)

	return fmt.Appendf(b, "\tadd\t%s, %s, :lo12:%s\n", reg, reg, sym)
}

func (c *Compiler) appendSlotLoad(b []byte, fc *funContext, v ir.Value, reg string) []byte {
	return c.appendOffLoad(b, fc.fr.off(v), reg)
}

func (c *Compiler) appendSlotStore(b []byte, fc *funContext, v ir.Value, reg string) []byte {
	return c.appendOffStore(b, fc.fr.off(v), reg)
}

func (c *Compiler) appendOffLoad(b []byte, off int, reg string) []byte {
	if off <= ldurRange {
		return fmt.Appendf(b, "\tldur\t%s, [x29, #-%d]\n", reg, off)
	}

	b = appendLoadImm(b, "x17", uint64(-int64(off)))

	return fmt.Appendf(b, "\tldr\t%s, [x29, x17]\n", reg)
}

func (c *Compiler) appendOffStore(b []byte, off int, reg string) []byte {
	if off <= ldurRange {
		return fmt.Appendf(b, "\tstur\t%s, [x29, #-%d]\n", reg, off)
	}

	b = appendLoadImm(b, "x17", uint64(-int64(off)))

	return fmt.Appendf(b, "\tstr\t%s, [x29, x17]\n", reg)
}

// appendNormalize resizes the register to the value type: narrow ints
// are kept sign or zero extended to the full register, so compares,
// division and shifts work on the plain 64-bit forms.
func (c *Compiler) appendNormalize(b []byte, fc *funContext, t tp.ID, reg int) []byte {
	ty := fc.Types.Of(t)

	if ty.Kind != tp.Int || ty.Bits == 64 {
		return b
	}

	if ty.Signed {
		op := map[int]string{8: "sxtb", 16: "sxth", 32: "sxtw"}[ty.Bits]
		return fmt.Appendf(b, "\t%s\tx%d, w%d\n", op, reg, reg)
	}

	switch ty.Bits {
	case 8:
		return fmt.Appendf(b, "\tand\tx%d, x%d, #0xff\n", reg, reg)
	case 16:
		return fmt.Appendf(b, "\tand\tx%d, x%d, #0xffff\n", reg, reg)
	default:
		return fmt.Appendf(b, "\tmov\tw%d, w%d\n", reg, reg)
	}
}

// appendLoadImm materializes an arbitrary 64-bit pattern with a
// movz/movk chain, skipping zero halfwords past the first.
func appendLoadImm(b []byte, reg string, v uint64) []byte {
	b = fmt.Appendf(b, "\tmovz\t%s, #%d, lsl #0\n", reg, v&0xffff)

	for sh := 16; sh < 64; sh += 16 {
		if h := v >> sh & 0xffff; h != 0 {
			b = fmt.Appendf(b, "\tmovk\t%s, #%d, lsl #%d\n", reg, h, sh)
		}
	}

	return b
}

func (c *Compiler) blockLabel(f *ir.Func, name string) string {
	return c.syn.LabelPrefix + f.Name + "." + name
}

func (c *Compiler) fixLabel(f *ir.Func, to, from string) string {
	return c.blockLabel(f, to) + ".fix." + from
}

func (c *Compiler) strLabel(i int) string {
	return fmt.Sprintf("%sstr.%d", c.syn.LabelPrefix, i)
}

func gpr(r int) string { return fmt.Sprintf("x%d", r) }

func fpr(bits, r int) string {
	if bits == 32 {
		return fmt.Sprintf("s%d", r)
	}

	return fmt.Sprintf("d%d", r)
}

// valueReg names the scratch register matching the value class: xr
// for ints and pointers, fr for floats sized by the type.
func valueReg(fc *funContext, v ir.Value, xr, fr int) string {
	t := fc.TypeOf(v)

	if fc.Types.Kind(t) == tp.Float {
		return fpr(fc.bits(t), fr)
	}

	return gpr(xr)
}

func (fc *funContext) bits(t tp.ID) int {
	return fc.Types.Of(t).Bits
}

func (fr *frame) off(v ir.Value) int {
	off, ok := fr.slot[v]
	if !ok {
		panic(v)
	}

	return off
}

func normImm(ty tp.Type, v int64) uint64 {
	if ty.Kind != tp.Int || ty.Bits == 64 {
		return uint64(v)
	}

	sh := 64 - ty.Bits

	if ty.Signed {
		return uint64(v << sh >> sh)
	}

	return uint64(v) &^ (^uint64(0) << ty.Bits)
}
