// Package opt implements machine independent rewrites over the ir arena.
//
// Passes work on a function in place. They may drop and rewrite
// non-terminator instructions but never change block terminators kind,
// branch targets, or the predecessor lists.
package opt

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/slate/compiler/ir"
)

type (
	cseKey struct {
		op   string
		l, r ir.Value
	}
)

// CSE runs common subexpression elimination on every defined function
// in the module.
func CSE(ctx context.Context, m *ir.Module) (changed bool) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "cse", "module", m.Name)
	defer tr.Finish("changed", &changed)

	for _, f := range m.Funcs {
		if f.IsDecl() {
			continue
		}

		if cseFunc(tr, m, f) {
			changed = true
		}
	}

	return changed
}

// CSEFunc runs common subexpression elimination on a single function.
//
// Two instructions in the same block are the same when the opcode and
// operands match. Add, mul, and, or, xor and the symmetric comparisons
// compare operand sets, not operand order. The later twin is dropped
// from the block and every later use, phi arms and terminator operands
// included, is rewritten to the surviving result.
func CSEFunc(ctx context.Context, m *ir.Module, f *ir.Func) (changed bool) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "cse func", "func", f.Name)
	defer tr.Finish("changed", &changed)

	return cseFunc(tr, m, f)
}

func cseFunc(tr tlog.Span, m *ir.Module, f *ir.Func) bool {
	repl := map[ir.Value]ir.Value{}

	for _, b := range f.Blocks {
		seen := map[cseKey]ir.Value{}
		w := 0

		for _, id := range b.Code {
			m.Exprs[id] = rewriteExpr(m.Exprs[id], repl)

			k, pure := exprKey(m, id)
			if pure {
				if prev, ok := seen[k]; ok {
					repl[id] = prev

					tr.V("cse").Printw("dup expr", "func", f.Name, "block", b.Name, "id", id, "prev", prev)

					continue
				}

				seen[k] = id
			}

			b.Code[w] = id
			w++
		}

		b.Code = b.Code[:w]
	}

	if len(repl) == 0 {
		return false
	}

	// Block order is creation order, not dominance order, so a kept
	// use may sit in a block swept before its twin was found. Sweep
	// again with the full map, terminators included.
	for _, b := range f.Blocks {
		for _, id := range b.Code {
			m.Exprs[id] = rewriteExpr(m.Exprs[id], repl)
		}

		if b.Term != ir.Nil {
			m.Exprs[b.Term] = rewriteExpr(m.Exprs[b.Term], repl)
		}
	}

	return true
}

// exprKey returns the matching key for pure instructions. Memory and
// call instructions are not pure, each alloca is a distinct object,
// and phis depend on control flow, so none of them get a key.
func exprKey(m *ir.Module, id ir.Value) (cseKey, bool) {
	switch e := m.Exprs[id].(type) {
	case ir.Add:
		return commKey("add", e.L, e.R), true
	case ir.Sub:
		return cseKey{op: "sub", l: e.L, r: e.R}, true
	case ir.Mul:
		return commKey("mul", e.L, e.R), true
	case ir.Div:
		return cseKey{op: "div", l: e.L, r: e.R}, true
	case ir.Mod:
		return cseKey{op: "mod", l: e.L, r: e.R}, true
	case ir.And:
		return commKey("and", e.L, e.R), true
	case ir.Or:
		return commKey("or", e.L, e.R), true
	case ir.Xor:
		return commKey("xor", e.L, e.R), true
	case ir.Shl:
		return cseKey{op: "shl", l: e.L, r: e.R}, true
	case ir.Shr:
		return cseKey{op: "shr", l: e.L, r: e.R}, true
	case ir.Cmp:
		op := "cmp" + string(e.Cond)

		switch e.Cond {
		case "==", "!=":
			return commKey(op, e.L, e.R), true
		}

		return cseKey{op: op, l: e.L, r: e.R}, true
	default:
		return cseKey{}, false
	}
}

func commKey(op string, l, r ir.Value) cseKey {
	if r < l {
		l, r = r, l
	}

	return cseKey{op: op, l: l, r: r}
}

func rewriteExpr(x any, repl map[ir.Value]ir.Value) any {
	if len(repl) == 0 {
		return x
	}

	r := func(v ir.Value) ir.Value {
		if n, ok := repl[v]; ok {
			return n
		}

		return v
	}

	switch e := x.(type) {
	case ir.Imm, ir.FImm, ir.Str, ir.Param, ir.GlobalRef, ir.Alloca, ir.B:
		return x
	case ir.Add:
		return ir.Add{L: r(e.L), R: r(e.R)}
	case ir.Sub:
		return ir.Sub{L: r(e.L), R: r(e.R)}
	case ir.Mul:
		return ir.Mul{L: r(e.L), R: r(e.R)}
	case ir.Div:
		return ir.Div{L: r(e.L), R: r(e.R)}
	case ir.Mod:
		return ir.Mod{L: r(e.L), R: r(e.R)}
	case ir.And:
		return ir.And{L: r(e.L), R: r(e.R)}
	case ir.Or:
		return ir.Or{L: r(e.L), R: r(e.R)}
	case ir.Xor:
		return ir.Xor{L: r(e.L), R: r(e.R)}
	case ir.Shl:
		return ir.Shl{L: r(e.L), R: r(e.R)}
	case ir.Shr:
		return ir.Shr{L: r(e.L), R: r(e.R)}
	case ir.Cmp:
		return ir.Cmp{Cond: e.Cond, L: r(e.L), R: r(e.R)}
	case ir.Load:
		return ir.Load{Ptr: r(e.Ptr)}
	case ir.Store:
		return ir.Store{Ptr: r(e.Ptr), Val: r(e.Val)}
	case ir.Call:
		args := make([]ir.Value, len(e.Args))

		for i, a := range e.Args {
			args[i] = r(a)
		}

		return ir.Call{Func: e.Func, Args: args}
	case ir.Phi:
		arms := make(ir.Phi, len(e))

		for i, a := range e {
			arms[i] = ir.PhiArm{B: a.B, X: r(a.X)}
		}

		return arms
	case ir.BCond:
		return ir.BCond{Cond: r(e.Cond), Then: e.Then, Else: e.Else}
	case ir.Ret:
		if e.X == ir.Nil {
			return x
		}

		return ir.Ret{X: r(e.X)}
	case ir.Switch:
		return ir.Switch{X: r(e.X), Cases: e.Cases, Default: e.Default}
	default:
		panic(x)
	}
}
