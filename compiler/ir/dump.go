package ir

import (
	"io"
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
)

// Dump appends a human-readable dump of the module. The exact text is
// for people, not for parsing back.
func Dump(b []byte, m *Module) []byte {
	b = hfmt.Appendf(b, "module %v\n", m.Name)

	for _, g := range m.Globals {
		b = hfmt.Appendf(b, "\nglobal %v: %v", g.Name, m.Types.String(g.Type))

		if g.Init != Nil {
			b = append(b, " = "...)
			b = m.appendRef(b, g.Init)
		}

		b = append(b, '\n')
	}

	for _, f := range m.Funcs {
		b = append(b, '\n')
		b = DumpFunc(b, m, f)
	}

	return b
}

func DumpFunc(b []byte, m *Module, f *Func) []byte {
	b = hfmt.Appendf(b, "func %v: %v", f.Name, m.Types.String(f.Sig))

	if f.IsDecl() {
		return append(b, " decl\n"...)
	}

	b = append(b, " {\n"...)

	for _, blk := range f.Blocks {
		b = m.dumpBlock(b, f, blk)
	}

	return append(b, "}\n"...)
}

func (m *Module) dumpBlock(b []byte, f *Func, blk *Block) []byte {
	b = hfmt.Appendf(b, "%v:", blk.Name)

	if len(blk.Preds) != 0 {
		b = append(b, "\t\t; preds"...)

		for _, p := range blk.Preds {
			b = hfmt.Appendf(b, " %v", f.Blocks[p].Name)
		}
	}

	b = append(b, '\n')

	for _, id := range blk.Code {
		b = append(b, '\t')
		b = m.appendExpr(b, f, id)
		b = append(b, '\n')
	}

	if blk.Term != Nil {
		b = append(b, '\t')
		b = m.appendExpr(b, f, blk.Term)
		b = append(b, '\n')
	}

	return b
}

func (m *Module) appendExpr(b []byte, f *Func, id Value) []byte {
	bname := func(bid BlockID) string {
		return f.Blocks[bid].Name
	}

	switch x := m.Exprs[id].(type) {
	case Add:
		b = m.appendBin(b, id, "add", x.L, x.R)
	case Sub:
		b = m.appendBin(b, id, "sub", x.L, x.R)
	case Mul:
		b = m.appendBin(b, id, "mul", x.L, x.R)
	case Div:
		b = m.appendBin(b, id, "div", x.L, x.R)
	case Mod:
		b = m.appendBin(b, id, "mod", x.L, x.R)
	case And:
		b = m.appendBin(b, id, "and", x.L, x.R)
	case Or:
		b = m.appendBin(b, id, "or", x.L, x.R)
	case Xor:
		b = m.appendBin(b, id, "xor", x.L, x.R)
	case Shl:
		b = m.appendBin(b, id, "shl", x.L, x.R)
	case Shr:
		b = m.appendBin(b, id, "shr", x.L, x.R)
	case Cmp:
		b = hfmt.Appendf(b, "%%%d = cmp %v ", id, string(x.Cond))
		b = m.appendRef(b, x.L)
		b = append(b, ", "...)
		b = m.appendRef(b, x.R)
	case Alloca:
		b = hfmt.Appendf(b, "%%%d = alloca %v", id, m.Types.String(x.Elem))
	case Load:
		b = hfmt.Appendf(b, "%%%d = load ", id)
		b = m.appendRef(b, x.Ptr)
		b = hfmt.Appendf(b, " : %v", m.Types.String(m.EType[id]))
	case Store:
		b = append(b, "store "...)
		b = m.appendRef(b, x.Val)
		b = append(b, ", "...)
		b = m.appendRef(b, x.Ptr)
	case Call:
		b = hfmt.Appendf(b, "%%%d = call %v(", id, m.Funcs[x.Func].Name)

		for i, a := range x.Args {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = m.appendRef(b, a)
		}

		b = append(b, ')')
	case Phi:
		b = hfmt.Appendf(b, "%%%d = phi", id)

		for _, arm := range x {
			b = hfmt.Appendf(b, " [%v: ", bname(arm.B))
			b = m.appendRef(b, arm.X)
			b = append(b, ']')
		}

		b = hfmt.Appendf(b, " : %v", m.Types.String(m.EType[id]))
	case B:
		b = hfmt.Appendf(b, "b -> %v", bname(x.To))
	case BCond:
		b = append(b, "bcond "...)
		b = m.appendRef(b, x.Cond)
		b = hfmt.Appendf(b, " -> %v, %v", bname(x.Then), bname(x.Else))
	case Ret:
		b = append(b, "ret"...)

		if x.X != Nil {
			b = append(b, ' ')
			b = m.appendRef(b, x.X)
		}
	case Switch:
		b = append(b, "switch "...)
		b = m.appendRef(b, x.X)

		for _, c := range x.Cases {
			b = hfmt.Appendf(b, " [%d -> %v]", c.Val, bname(c.To))
		}

		b = hfmt.Appendf(b, " default %v", bname(x.Default))
	default:
		panic(x)
	}

	return b
}

func (m *Module) appendBin(b []byte, id Value, op string, l, r Value) []byte {
	b = hfmt.Appendf(b, "%%%d = %v ", id, op)
	b = m.appendRef(b, l)
	b = append(b, ", "...)
	b = m.appendRef(b, r)
	b = hfmt.Appendf(b, " : %v", m.Types.String(m.EType[id]))

	return b
}

// appendRef prints constants and parameters inline, everything else as
// its value id.
func (m *Module) appendRef(b []byte, v Value) []byte {
	switch x := m.Exprs[v].(type) {
	case Imm:
		return hfmt.Appendf(b, "%d", int64(x))
	case FImm:
		return hfmt.Appendf(b, "%g", float64(x))
	case Str:
		return strconv.AppendQuote(b, string(x))
	case Param:
		if x.Name != "" {
			return hfmt.Appendf(b, "%%%v", x.Name)
		}

		return hfmt.Appendf(b, "%%p%d", x.Idx)
	case GlobalRef:
		return hfmt.Appendf(b, "@%v", m.Globals[x].Name)
	default:
		return hfmt.Appendf(b, "%%%d", v)
	}
}

func (m *Module) String() string {
	return string(Dump(nil, m))
}

// WriteTo dumps the module to w.
func (m *Module) WriteTo(w io.Writer) (int64, error) {
	b := Dump(nil, m)

	n, err := w.Write(b)

	return int64(n), err
}
