package opt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/slate/compiler/ir"
	"github.com/slowlang/slate/compiler/tp"
)

func build2(t *testing.T) (*ir.Module, *ir.Func, *ir.Builder, tp.ID) {
	t.Helper()

	tt := tp.New(8)
	m := ir.NewModule("test", tt)

	i64 := tt.Int(64, true)
	sig := tt.Func([]tp.ID{i64, i64}, i64, false)

	f, _, err := m.NewFunc("f", sig, ir.External)
	require.NoError(t, err)

	x := ir.NewBuilder(m)
	require.NoError(t, x.SetBlock(f, f.AddBlock("entry")))

	return m, f, x, i64
}

func TestCSECommutative(t *testing.T) {
	m, f, x, _ := build2(t)

	a, err := x.Add(f.In[0], f.In[1])
	require.NoError(t, err)

	b, err := x.Add(f.In[1], f.In[0])
	require.NoError(t, err)

	r, err := x.Add(a, b)
	require.NoError(t, err)

	_, err = x.Ret(r)
	require.NoError(t, err)

	changed := CSEFunc(context.Background(), m, f)
	assert.True(t, changed)

	blk := f.Blocks[0]
	require.Len(t, blk.Code, 2, "one add for a, one for r")

	assert.Equal(t, ir.Add{L: a, R: a}, m.Exprs[r])
	assert.Equal(t, ir.Ret{X: r}, m.Exprs[blk.Term])

	t.Logf("after:\n%s", ir.Dump(nil, m))
}

func TestCSEIdempotent(t *testing.T) {
	m, f, x, _ := build2(t)

	a, err := x.Add(f.In[0], f.In[1])
	require.NoError(t, err)

	b, err := x.Add(f.In[1], f.In[0])
	require.NoError(t, err)

	r, err := x.Mul(a, b)
	require.NoError(t, err)

	_, err = x.Ret(r)
	require.NoError(t, err)

	require.True(t, CSEFunc(context.Background(), m, f))

	first := ir.Dump(nil, m)

	assert.False(t, CSEFunc(context.Background(), m, f))
	assert.Equal(t, string(first), string(ir.Dump(nil, m)))
}

func TestCSENonCommutative(t *testing.T) {
	m, f, x, _ := build2(t)

	a, err := x.Sub(f.In[0], f.In[1])
	require.NoError(t, err)

	_, err = x.Sub(f.In[1], f.In[0])
	require.NoError(t, err)

	a2, err := x.Sub(f.In[0], f.In[1])
	require.NoError(t, err)

	r, err := x.Add(a, a2)
	require.NoError(t, err)

	_, err = x.Ret(r)
	require.NoError(t, err)

	require.True(t, CSEFunc(context.Background(), m, f))

	blk := f.Blocks[0]
	assert.Len(t, blk.Code, 3, "swapped sub stays, exact twin goes")
	assert.Equal(t, ir.Add{L: a, R: a}, m.Exprs[r])
}

func TestCSETerminatorOperand(t *testing.T) {
	m, f, x, _ := build2(t)

	then := f.AddBlock("then")
	els := f.AddBlock("else")

	c1, err := x.Cmp("==", f.In[0], f.In[1])
	require.NoError(t, err)

	c2, err := x.Cmp("==", f.In[1], f.In[0])
	require.NoError(t, err)

	_, err = x.CondBr(c2, then, els)
	require.NoError(t, err)

	require.NoError(t, x.SetBlock(f, then))
	_, err = x.Ret(f.In[0])
	require.NoError(t, err)

	require.NoError(t, x.SetBlock(f, els))
	_, err = x.Ret(f.In[1])
	require.NoError(t, err)

	require.True(t, CSEFunc(context.Background(), m, f))

	entry := f.Blocks[0]
	require.Len(t, entry.Code, 1)

	term := m.Exprs[entry.Term].(ir.BCond)
	assert.Equal(t, c1, term.Cond, "terminator operand rewritten")
	assert.Equal(t, then, term.Then, "targets untouched")
	assert.Equal(t, els, term.Else)

	assert.Empty(t, entry.Preds)
	assert.Equal(t, []ir.BlockID{0}, f.Block(then).Preds, "preds untouched")
}

func TestCSEOrderedComparisonsKeepOrder(t *testing.T) {
	m, f, x, _ := build2(t)

	a, err := x.Cmp("<", f.In[0], f.In[1])
	require.NoError(t, err)

	_, err = x.Cmp("<", f.In[1], f.In[0])
	require.NoError(t, err)

	a2, err := x.Cmp("<", f.In[0], f.In[1])
	require.NoError(t, err)

	r, err := x.And(a, a2)
	require.NoError(t, err)

	_, err = x.Ret(r)
	require.NoError(t, err)

	require.True(t, CSEFunc(context.Background(), m, f))

	assert.Len(t, f.Blocks[0].Code, 3)
	assert.Equal(t, ir.And{L: a, R: a}, m.Exprs[r])
}

func TestCSEBlockLocal(t *testing.T) {
	m, f, x, _ := build2(t)

	next := f.AddBlock("next")

	a, err := x.Add(f.In[0], f.In[1])
	require.NoError(t, err)

	_, err = x.Br(next)
	require.NoError(t, err)

	require.NoError(t, x.SetBlock(f, next))

	b, err := x.Add(f.In[0], f.In[1])
	require.NoError(t, err)

	_, err = x.Ret(b)
	require.NoError(t, err)

	assert.False(t, CSEFunc(context.Background(), m, f), "twins in different blocks stay")
	assert.NotEqual(t, a, b)
	assert.Len(t, f.Block(next).Code, 1)
}

func TestCSEMemoryAndCallsStay(t *testing.T) {
	m, f, x, i64 := build2(t)

	_, gid, err := m.NewFunc("g", m.Types.Func([]tp.ID{i64}, i64, false), ir.External)
	require.NoError(t, err)

	p, err := x.Alloca(i64)
	require.NoError(t, err)

	p2, err := x.Alloca(i64)
	require.NoError(t, err)

	require.NoError(t, x.Store(p, f.In[0]))

	l1, err := x.Load(p)
	require.NoError(t, err)

	l2, err := x.Load(p)
	require.NoError(t, err)

	c1, err := x.Call(gid, f.In[0])
	require.NoError(t, err)

	c2, err := x.Call(gid, f.In[0])
	require.NoError(t, err)

	s, err := x.Add(l1, l2)
	require.NoError(t, err)

	s2, err := x.Add(c1, c2)
	require.NoError(t, err)

	r, err := x.Add(s, s2)
	require.NoError(t, err)

	_, err = x.Ret(r)
	require.NoError(t, err)

	n := len(f.Blocks[0].Code)

	assert.False(t, CSEFunc(context.Background(), m, f))
	assert.Len(t, f.Blocks[0].Code, n)
	assert.NotEqual(t, p, p2)
}

func TestCSEPhiArmRewritten(t *testing.T) {
	m, f, x, i64 := build2(t)

	left := f.AddBlock("left")
	right := f.AddBlock("right")
	merge := f.AddBlock("merge")

	c, err := x.Cmp("<", f.In[0], f.In[1])
	require.NoError(t, err)

	_, err = x.CondBr(c, left, right)
	require.NoError(t, err)

	require.NoError(t, x.SetBlock(f, left))

	a, err := x.Add(f.In[0], f.In[1])
	require.NoError(t, err)

	dup, err := x.Add(f.In[1], f.In[0])
	require.NoError(t, err)

	_, err = x.Br(merge)
	require.NoError(t, err)

	require.NoError(t, x.SetBlock(f, right))

	d, err := x.Sub(f.In[0], f.In[1])
	require.NoError(t, err)

	_, err = x.Br(merge)
	require.NoError(t, err)

	require.NoError(t, x.SetBlock(f, merge))

	phi, err := x.Phi(i64)
	require.NoError(t, err)

	require.NoError(t, x.AddIncoming(phi, left, dup))
	require.NoError(t, x.AddIncoming(phi, right, d))

	_, err = x.Ret(phi)
	require.NoError(t, err)

	require.True(t, CSEFunc(context.Background(), m, f))

	arms := m.Exprs[phi].(ir.Phi)
	assert.Equal(t, a, arms[0].X, "phi arm rewritten to survivor")
	assert.Equal(t, left, arms[0].B)
	assert.Equal(t, d, arms[1].X)
}
