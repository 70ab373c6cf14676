package arm64

import (
	"github.com/slowlang/slate/compiler/ir"
	"github.com/slowlang/slate/compiler/target"
	"github.com/slowlang/slate/compiler/tp"
)

type (
	// frame is the per function value location table. Every alloca and
	// every instruction result lives in a slot below the frame
	// pointer, addressed as [x29, #-off]. The table is rebuilt from
	// scratch for every function and never survives a Reset.
	frame struct {
		slot map[ir.Value]int

		locals   int
		spill    int
		stage    []int // phi copy staging, after the spill slots
		outgoing int   // [sp, #0..outgoing) for stack passed args

		size int // the sub sp amount

		leaf bool
	}

	argLoc struct {
		x  ir.Value
		fl bool

		reg int // arg register ordinal, -1 for stack
		off int // outgoing stack offset when reg < 0
	}
)

const regArgs = 8 // x0..x7, d0..d7

// buildFrame lays the frame out in fixed order below the saved
// x29/x30 pair: locals, then the reserved parameter slots, then the
// generic spill area with the phi staging tail, then the outgoing
// argument area at the stack pointer. The total is rounded up to 16
// unconditionally, the call sequence needs sp aligned even when the
// frame itself is empty.
func (c *Compiler) buildFrame(m *ir.Module, f *ir.Func) frame {
	fr := frame{
		slot: map[ir.Value]int{},
		leaf: true,
	}

	cur := 0

	add := func(v ir.Value, size int) {
		cur += alignUp(size, 8)
		fr.slot[v] = cur
	}

	for _, blk := range f.Blocks {
		for _, id := range blk.Code {
			a, ok := m.Exprs[id].(ir.Alloca)
			if !ok {
				continue
			}

			size := m.Types.SizeOf(a.Elem)
			if size == 0 {
				size = 8
			}

			add(id, size)
		}
	}

	fr.locals = cur

	for _, p := range f.In {
		add(p, 8)
	}

	maxphi := 0

	for _, blk := range f.Blocks {
		nphi := 0

		for _, id := range blk.Code {
			switch m.Exprs[id].(type) {
			case ir.Alloca:
				continue
			case ir.Phi:
				nphi++
			case ir.Call:
				fr.leaf = false
			}

			if m.Types.Kind(m.TypeOf(id)) == tp.Void {
				continue
			}

			add(id, 8)
		}

		if nphi > maxphi {
			maxphi = nphi
		}
	}

	fr.spill = cur - fr.locals

	for i := 0; i < maxphi; i++ {
		cur += 8
		fr.stage = append(fr.stage, cur)
	}

	for _, blk := range f.Blocks {
		for _, id := range blk.Code {
			call, ok := m.Exprs[id].(ir.Call)
			if !ok {
				continue
			}

			n := stackBytes(c.argPlan(m, call))
			if n > fr.outgoing {
				fr.outgoing = n
			}
		}
	}

	fr.size = alignUp(cur+fr.outgoing, 16)

	return fr
}

// argPlan assigns every argument of a call its location. Integer and
// pointer args take x0..x7, float args take d0..d7, the two counters
// run independently. Everything beyond the eighth register goes to
// the outgoing stack area. On darwin the variadic portion goes to the
// stack unconditionally, register pressure does not matter.
func (c *Compiler) argPlan(m *ir.Module, call ir.Call) []argLoc {
	sig := m.Types.Of(m.Funcs[call.Func].Sig)
	fixed := len(sig.In)

	plan := make([]argLoc, len(call.Args))
	ngrn, nsrn, stack := 0, 0, 0

	for i, a := range call.Args {
		fl := m.Types.Kind(m.TypeOf(a)) == tp.Float
		va := sig.Variadic && i >= fixed

		l := argLoc{x: a, fl: fl, reg: -1}

		switch {
		case c.abi == target.Darwin && va:
			l.off, stack = stack, stack+8
		case fl && nsrn < regArgs:
			l.reg, nsrn = nsrn, nsrn+1
		case !fl && ngrn < regArgs:
			l.reg, ngrn = ngrn, ngrn+1
		default:
			l.off, stack = stack, stack+8
		}

		plan[i] = l
	}

	return plan
}

func stackBytes(plan []argLoc) (n int) {
	for _, l := range plan {
		if l.reg < 0 {
			n += 8
		}
	}

	return n
}

// paramRegs mirrors argPlan for the callee side: the register each
// fixed parameter arrives in, or the incoming stack ordinal for
// parameters beyond the eighth.
func (c *Compiler) paramRegs(m *ir.Module, f *ir.Func) []argLoc {
	sig := m.Types.Of(f.Sig)

	plan := make([]argLoc, len(f.In))
	ngrn, nsrn, stack := 0, 0, 0

	for i, p := range f.In {
		fl := m.Types.Kind(sig.In[i]) == tp.Float

		l := argLoc{x: p, fl: fl, reg: -1}

		switch {
		case fl && nsrn < regArgs:
			l.reg, nsrn = nsrn, nsrn+1
		case !fl && ngrn < regArgs:
			l.reg, ngrn = ngrn, ngrn+1
		default:
			l.off, stack = stack, stack+8
		}

		plan[i] = l
	}

	return plan
}

func alignUp(x, a int) int {
	return (x + a - 1) &^ (a - 1)
}
