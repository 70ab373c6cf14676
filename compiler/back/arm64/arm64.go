// Package arm64 implements the aarch64 backend. It serves the two
// abi flavors of the same register machine: the elf one passing every
// argument in registers up to the eighth, and the darwin one pushing
// the variadic portion of a call onto the stack and prefixing every
// symbol with an underscore.
//
// Values do not live in registers across instructions. The frame
// pre-pass assigns every alloca and every instruction result a slot
// below the frame pointer, instructions load their operands into
// scratch registers and spill the result back. Slot copies emitted on
// branch edges stand in for the phi semantics.
package arm64

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slate/compiler/asm"
	"github.com/slowlang/slate/compiler/back"
	"github.com/slowlang/slate/compiler/cpu"
	"github.com/slowlang/slate/compiler/ir"
	"github.com/slowlang/slate/compiler/set"
	"github.com/slowlang/slate/compiler/target"
	"github.com/slowlang/slate/compiler/tp"
)

type (
	Compiler struct {
		abi  target.ABI
		feat *set.Bitmap
		syn  *asm.Syntax

		inited bool

		// string literal pool, filled by PrepareIR
		strs     map[ir.Value]int
		strorder []ir.Value
	}
)

func init() {
	back.Register(target.ARM64, func() back.Backend { return New() })
}

func New() *Compiler {
	return &Compiler{}
}

// Init binds the backend to an abi and a feature bitset. The bitset
// pointer is shared with the caller, flipping features later affects
// the very next codegen run.
func (c *Compiler) Init(abi target.ABI, features *set.Bitmap) error {
	switch abi {
	case target.ELF, target.Darwin:
	default:
		return errors.Wrap(ir.ErrInvalidArg, "abi %v", abi)
	}

	if features == nil {
		return errors.Wrap(ir.ErrInvalidArg, "nil feature set")
	}

	c.abi = abi
	c.feat = features
	c.syn = asm.Dialect(abi)

	c.strs = map[ir.Value]int{}
	c.strorder = nil

	c.inited = true

	return nil
}

func (c *Compiler) Cleanup() {
	c.strs, c.strorder = nil, nil
	c.feat = nil
	c.syn = nil
	c.inited = false
}

func (c *Compiler) Reset() {
	clear(c.strs)
	c.strorder = c.strorder[:0]
}

func (c *Compiler) ArchInfo() *target.Info {
	info, err := target.Get(target.ARM64)
	if err != nil {
		panic(err)
	}

	return info
}

// PrepareIR indexes the string literal pool and checks the module is
// in a shape the emitter can take: every live block terminated, no
// float operations with the fp feature masked off.
func (c *Compiler) PrepareIR(ctx context.Context, m *ir.Module) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "prepare ir", "module", m.Name)
	defer tr.Finish("err", &err)

	if !c.inited {
		return errors.Wrap(back.ErrCodegen, "backend is not initialized")
	}

	for id, x := range m.Exprs {
		if _, ok := x.(ir.Str); !ok {
			continue
		}

		v := ir.Value(id)

		if _, ok := c.strs[v]; ok {
			continue
		}

		c.strs[v] = len(c.strorder)
		c.strorder = append(c.strorder, v)
	}

	for _, f := range m.Funcs {
		for bid, blk := range f.Blocks {
			if deadBlock(ir.BlockID(bid), blk) {
				continue
			}

			if blk.Term == ir.Nil {
				return errors.Wrap(back.ErrCodegen, "func %v: block %v is not terminated", f.Name, blk.Name)
			}

			for _, id := range blk.Code {
				phi, ok := m.Exprs[id].(ir.Phi)
				if !ok {
					continue
				}

				err = phiCovers(f, blk, phi)
				if err != nil {
					return errors.Wrap(err, "func %v: block %v: phi %d", f.Name, blk.Name, int(id))
				}
			}
		}
	}

	if !c.feat.IsSet(int(cpu.FeatFP)) && usesFloat(m) {
		return errors.Wrap(back.ErrCodegen, "module needs fp, the feature is disabled")
	}

	tr.V("strings").Printw("string pool", "strings", len(c.strorder))

	return nil
}

// phiCovers checks the arms are a bijection onto the block preds.
// Codegen copies values on edges, a missing arm would leave the slot
// with whatever the last edge stored.
func phiCovers(f *ir.Func, blk *ir.Block, phi ir.Phi) error {
	if len(phi) != len(blk.Preds) {
		return errors.Wrap(back.ErrCodegen, "%d arms for %d preds", len(phi), len(blk.Preds))
	}

	for _, p := range blk.Preds {
		n := 0

		for _, arm := range phi {
			if arm.B == p {
				n++
			}
		}

		if n != 1 {
			return errors.Wrap(back.ErrCodegen, "pred %v covered by %d arms", f.Blocks[p].Name, n)
		}
	}

	return nil
}

func usesFloat(m *ir.Module) bool {
	for _, t := range m.EType {
		if t != tp.Nil && m.Types.Kind(t) == tp.Float {
			return true
		}
	}

	return false
}

func (c *Compiler) pauth() bool {
	return c.feat.IsSet(int(cpu.FeatPAuth))
}

func (c *Compiler) CodegenModule(ctx context.Context, b []byte, m *ir.Module) ([]byte, error) {
	if !c.inited {
		return nil, errors.Wrap(back.ErrCodegen, "backend is not initialized")
	}

	return c.codegenModule(ctx, b, m)
}

func (c *Compiler) CodegenFunc(ctx context.Context, b []byte, m *ir.Module, f *ir.Func) ([]byte, error) {
	if !c.inited {
		return nil, errors.Wrap(back.ErrCodegen, "backend is not initialized")
	}

	return c.codegenFunc(ctx, b, m, f)
}
