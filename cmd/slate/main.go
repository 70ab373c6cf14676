package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/slate/compiler"
	"github.com/slowlang/slate/compiler/back"
	"github.com/slowlang/slate/compiler/cpu"
	"github.com/slowlang/slate/compiler/ir"
	"github.com/slowlang/slate/compiler/target"
	"github.com/slowlang/slate/compiler/tp"
)

func main() {
	demoCmd := &cli.Command{
		Name:        "demo",
		Description: "emit assembly for a builtin sample module; args: [arch [abi [cpu [O<level>]]]]",
		Action:      demoAct,
		Args:        cli.Args{},
	}

	dumpCmd := &cli.Command{
		Name:        "dump",
		Description: "print the builtin sample module ir",
		Action:      dumpAct,
		Args:        cli.Args{},
	}

	targetsCmd := &cli.Command{
		Name:        "targets",
		Description: "list known architectures, abis and cpu models",
		Action:      targetsAct,
	}

	app := &cli.Command{
		Name:        "slate",
		Description: "slate is a compiler back end toolkit",
		Commands: []*cli.Command{
			demoCmd,
			dumpCmd,
			targetsCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func demoAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cc, err := session(c.Args)
	if err != nil {
		return err
	}

	defer cc.Close()

	m, err := sample(cc)
	if err != nil {
		return errors.Wrap(err, "build sample")
	}

	_, err = cc.WriteModule(ctx, os.Stdout, m)
	if err != nil {
		return errors.Wrap(err, "codegen %v", m.Name)
	}

	return nil
}

func dumpAct(c *cli.Command) (err error) {
	cc, err := session(c.Args)
	if err != nil {
		return err
	}

	defer cc.Close()

	m, err := sample(cc)
	if err != nil {
		return errors.Wrap(err, "build sample")
	}

	fmt.Printf("%s", ir.Dump(nil, m))

	return nil
}

func targetsAct(c *cli.Command) (err error) {
	for _, inf := range target.Infos() {
		ready := ""

		if _, err := back.New(inf.Arch); err != nil {
			ready = "  (no backend)"
		}

		fmt.Printf("%s: ptr %d bytes, addr bus %d bits, word %d bytes, gprs %d, fprs %d, fp %v%s\n",
			inf.Name, inf.PtrSize, inf.AddrBus, inf.WordSize, inf.GPRs, inf.FPRs, inf.FPFormat, ready)
		fmt.Printf("    big endian %v, stack grows up %v, cond codes %v, delay slots %v\n",
			inf.BigEndian, inf.StackGrowsUp, inf.CondCodes, inf.DelaySlots)

		models := cpu.Models(inf.Arch)
		if len(models) == 0 {
			continue
		}

		names := make([]string, len(models))

		for i, m := range models {
			names[i] = m.String()
		}

		fmt.Printf("    cpus: %s\n", strings.Join(names, ", "))
	}

	return nil
}

// session makes a compiler context from positional args:
// arch, abi, cpu model, opt level, each optional, in that order.
func session(args []string) (cc *compiler.Context, err error) {
	arch, abi := target.ARM64, target.ELF

	if len(args) > 0 {
		arch, err = target.ParseArch(args[0])
		if err != nil {
			return nil, err
		}
	}

	if len(args) > 1 {
		abi, err = target.ParseABI(args[1])
		if err != nil {
			return nil, err
		}
	}

	cc, err = compiler.New(arch, abi)
	if err != nil {
		return nil, errors.Wrap(err, "session")
	}

	defer func() {
		if err != nil {
			cc.Close()
			cc = nil
		}
	}()

	if len(args) > 2 {
		m, err := cpu.ParseModel(args[2])
		if err != nil {
			return cc, err
		}

		err = cc.SetCPU(m)
		if err != nil {
			return cc, err
		}
	}

	if len(args) > 3 {
		a := args[3]
		if !strings.HasPrefix(a, "O") {
			return cc, errors.New("opt level expected: O0, O1..; got %v", a)
		}

		cc.OptLevel, err = strconv.Atoi(a[1:])
		if err != nil {
			return cc, errors.Wrap(err, "opt level")
		}
	}

	return cc, nil
}

// sample builds the module the demo and dump commands work on:
// recursive factorial, max merging the result through a phi, and a
// main printing both through printf.
func sample(cc *compiler.Context) (*ir.Module, error) {
	m := cc.NewModule("demo")
	tt := m.Types

	i64 := tt.Int(64, true)
	i32 := tt.Int(32, true)
	strp := tt.Ptr(tt.Int(8, true))

	x := cc.NewBuilder(m)

	_, printf, err := m.NewFunc("printf", tt.Func([]tp.ID{strp}, i32, true), ir.External)
	if err != nil {
		return nil, errors.Wrap(err, "declare printf")
	}

	fact, factID, err := m.NewFunc("fact", tt.Func([]tp.ID{i64}, i64, false), ir.External)
	if err != nil {
		return nil, errors.Wrap(err, "declare fact")
	}

	err = buildFact(m, x, fact, factID, i64)
	if err != nil {
		return nil, errors.Wrap(err, "fact")
	}

	maxID, err := buildMax(m, x, i64)
	if err != nil {
		return nil, errors.Wrap(err, "max")
	}

	err = buildMain(m, x, printf, factID, maxID, i64, i32)
	if err != nil {
		return nil, errors.Wrap(err, "main")
	}

	return m, nil
}

func buildFact(m *ir.Module, x *ir.Builder, f *ir.Func, self ir.FuncID, i64 tp.ID) error {
	entry := f.AddBlock("entry")
	base := f.AddBlock("base")
	rec := f.AddBlock("rec")

	err := x.SetBlock(f, entry)
	if err != nil {
		return err
	}

	one, err := m.IntConst(i64, 1)
	if err != nil {
		return err
	}

	stop, err := x.Cmp("<=", f.In[0], one)
	if err != nil {
		return err
	}

	_, err = x.CondBr(stop, base, rec)
	if err != nil {
		return err
	}

	err = x.SetBlock(f, base)
	if err != nil {
		return err
	}

	_, err = x.Ret(one)
	if err != nil {
		return err
	}

	err = x.SetBlock(f, rec)
	if err != nil {
		return err
	}

	next, err := x.Sub(f.In[0], one)
	if err != nil {
		return err
	}

	sub, err := x.Call(self, next)
	if err != nil {
		return err
	}

	res, err := x.Mul(f.In[0], sub)
	if err != nil {
		return err
	}

	_, err = x.Ret(res)

	return err
}

// buildMax makes max(a, b) with a branch merged back through a phi.
func buildMax(m *ir.Module, x *ir.Builder, i64 tp.ID) (ir.FuncID, error) {
	f, id, err := m.NewFunc("max", m.Types.Func([]tp.ID{i64, i64}, i64, false), ir.External)
	if err != nil {
		return -1, err
	}

	entry := f.AddBlock("entry")
	agtb := f.AddBlock("agtb")
	blea := f.AddBlock("blea")
	merge := f.AddBlock("merge")

	err = x.SetBlock(f, entry)
	if err != nil {
		return -1, err
	}

	gt, err := x.Cmp(">", f.In[0], f.In[1])
	if err != nil {
		return -1, err
	}

	_, err = x.CondBr(gt, agtb, blea)
	if err != nil {
		return -1, err
	}

	for _, from := range []ir.BlockID{agtb, blea} {
		err = x.SetBlock(f, from)
		if err != nil {
			return -1, err
		}

		_, err = x.Br(merge)
		if err != nil {
			return -1, err
		}
	}

	err = x.SetBlock(f, merge)
	if err != nil {
		return -1, err
	}

	phi, err := x.Phi(i64)
	if err != nil {
		return -1, err
	}

	err = x.AddIncoming(phi, agtb, f.In[0])
	if err != nil {
		return -1, err
	}

	err = x.AddIncoming(phi, blea, f.In[1])
	if err != nil {
		return -1, err
	}

	_, err = x.Ret(phi)

	return id, err
}

func buildMain(m *ir.Module, x *ir.Builder, printf, fact, max ir.FuncID, i64, i32 tp.ID) error {
	f, _, err := m.NewFunc("main", m.Types.Func(nil, i32, false), ir.External)
	if err != nil {
		return err
	}

	err = x.SetBlock(f, f.AddBlock("entry"))
	if err != nil {
		return err
	}

	ten, err := m.IntConst(i64, 10)
	if err != nil {
		return err
	}

	res, err := x.Call(fact, ten)
	if err != nil {
		return err
	}

	_, err = x.Call(printf, m.StringConst("fact(%d) = %d\n"), ten, res)
	if err != nil {
		return err
	}

	three, err := m.IntConst(i64, 3)
	if err != nil {
		return err
	}

	four, err := m.IntConst(i64, 4)
	if err != nil {
		return err
	}

	mx, err := x.Call(max, three, four)
	if err != nil {
		return err
	}

	_, err = x.Call(printf, m.StringConst("max(%d, %d) = %d\n"), three, four, mx)
	if err != nil {
		return err
	}

	zero, err := m.IntConst(i32, 0)
	if err != nil {
		return err
	}

	_, err = x.Ret(zero)

	return err
}
