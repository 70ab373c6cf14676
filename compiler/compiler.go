package compiler

import (
	"context"
	"io"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slate/compiler/back"
	_ "github.com/slowlang/slate/compiler/back/arm64"
	"github.com/slowlang/slate/compiler/cpu"
	"github.com/slowlang/slate/compiler/ir"
	"github.com/slowlang/slate/compiler/opt"
	"github.com/slowlang/slate/compiler/set"
	"github.com/slowlang/slate/compiler/target"
	"github.com/slowlang/slate/compiler/tp"
)

type (
	// Context is one compilation session bound to one target. It owns
	// the type table, the backend instance and the current feature
	// set. A Context and everything it owns is single threaded, there
	// is no locking anywhere below.
	Context struct {
		Arch target.Arch
		ABI  target.ABI
		Info *target.Info

		Types *tp.Table

		// OptLevel above zero enables the machine independent passes.
		OptLevel int

		model cpu.Model
		feats set.Bitmap

		b back.Backend

		lastErr string
	}
)

// New creates a session for the architecture and abi pair. The cpu
// model starts at the first model of the architecture, SetCPU moves it.
func New(arch target.Arch, abi target.ABI) (*Context, error) {
	info, err := target.Get(arch)
	if err != nil {
		return nil, errors.Wrap(err, "arch info")
	}

	bk, err := back.New(arch)
	if err != nil {
		return nil, err
	}

	c := &Context{
		Arch:  arch,
		ABI:   abi,
		Info:  info,
		Types: tp.New(info.PtrSize),
		model: -1,
		b:     bk,
	}

	if models := cpu.Models(arch); len(models) != 0 {
		c.model = models[0]

		c.feats, err = cpu.Default(c.model)
		if err != nil {
			return nil, errors.Wrap(err, "cpu defaults")
		}
	} else {
		c.feats = set.MakeBitmap(64)
	}

	err = bk.Init(abi, &c.feats)
	if err != nil {
		return nil, errors.Wrap(err, "init backend")
	}

	return c, nil
}

func (c *Context) Close() error {
	c.b.Cleanup()

	return nil
}

// SetCPU selects the model and resets the features to its defaults.
// Individual features can be flipped afterwards, the very next codegen
// run sees the result.
func (c *Context) SetCPU(m cpu.Model) error {
	arch := cpu.ModelArch(m)
	if arch < 0 {
		return c.fail(errors.Wrap(cpu.ErrUnknownModel, "%d", int(m)))
	}

	if arch != c.Arch {
		return c.fail(errors.Wrap(ir.ErrInvalidArg, "model %v is for %v", m, arch))
	}

	feats, err := cpu.Default(m)
	if err != nil {
		return c.fail(err)
	}

	c.model = m
	c.feats = feats // the backend shares &c.feats, the assignment lands there

	return nil
}

func (c *Context) CPU() cpu.Model { return c.model }

func (c *Context) EnableFeature(f cpu.Feature) error {
	if f < 0 {
		return c.fail(errors.Wrap(ir.ErrInvalidArg, "feature %d", int(f)))
	}

	c.feats.Set(int(f))

	return nil
}

func (c *Context) DisableFeature(f cpu.Feature) error {
	if f < 0 {
		return c.fail(errors.Wrap(ir.ErrInvalidArg, "feature %d", int(f)))
	}

	c.feats.Clear(int(f))

	return nil
}

func (c *Context) FeatureEnabled(f cpu.Feature) bool {
	return c.feats.IsSet(int(f))
}

// LastError returns the message of the last failed operation on this
// context, kept for diagnostic display.
func (c *Context) LastError() string { return c.lastErr }

func (c *Context) fail(err error) error {
	if err != nil {
		c.lastErr = err.Error()
	}

	return err
}

func (c *Context) NewModule(name string) *ir.Module {
	return ir.NewModule(name, c.Types)
}

func (c *Context) NewBuilder(m *ir.Module) *ir.Builder {
	return ir.NewBuilder(m)
}

// CodegenModule lowers the module to assembly text appended to b.
// Passes run first when enabled, then the backend state is reset and
// the module is prepared and emitted.
func (c *Context) CodegenModule(ctx context.Context, b []byte, m *ir.Module) (_ []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "codegen", "module", m.Name, "arch", c.Arch, "abi", c.ABI, "opt", c.OptLevel)
	defer tr.Finish("err", &err)

	if c.OptLevel > 0 {
		opt.CSE(ctx, m)
	}

	c.b.Reset()

	err = c.b.PrepareIR(ctx, m)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "prepare ir"))
	}

	b, err = c.b.CodegenModule(ctx, b, m)
	if err != nil {
		return nil, c.fail(err)
	}

	return b, nil
}

// CodegenFunc emits a single function. The whole module is still
// prepared: the function may reference globals and the string pool.
func (c *Context) CodegenFunc(ctx context.Context, b []byte, m *ir.Module, f *ir.Func) (_ []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "codegen func", "module", m.Name, "func", f.Name)
	defer tr.Finish("err", &err)

	if c.OptLevel > 0 {
		opt.CSEFunc(ctx, m, f)
	}

	c.b.Reset()

	err = c.b.PrepareIR(ctx, m)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "prepare ir"))
	}

	b, err = c.b.CodegenFunc(ctx, b, m, f)
	if err != nil {
		return nil, c.fail(err)
	}

	return b, nil
}

// WriteModule generates the module and writes it out, telling writer
// failures apart from codegen ones.
func (c *Context) WriteModule(ctx context.Context, w io.Writer, m *ir.Module) (int, error) {
	obj, err := c.CodegenModule(ctx, nil, m)
	if err != nil {
		return 0, err
	}

	n, err := w.Write(obj)
	if err != nil {
		return n, c.fail(errors.Wrap(err, "write module"))
	}

	return n, nil
}
