package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexopt/internal/dex"
	"dexopt/internal/ir"
)

func buildGraph(t *testing.T, regs int, items ...*ir.Item) *Graph {
	t.Helper()
	code := ir.NewCode(regs, ir.NewList(items...))
	g := Build(code, "LTest;.m:()V", true)
	require.Empty(t, g.Check())
	return g
}

func mustMethod(t *testing.T, reg *dex.Registry, s string) *dex.MethodRef {
	t.Helper()
	m, err := reg.ParseMethod(s)
	require.NoError(t, err)
	return m
}

func constInsn(dest ir.Reg, lit int64) *ir.Instruction {
	return ir.NewInstruction(ir.OpConst).SetDest(dest).SetLiteral(lit)
}

func allOps(g *Graph) []ir.Op {
	var ops []ir.Op
	for it := g.InstructionIterator(); !it.IsEnd(); it.Next() {
		ops = append(ops, it.Insn().Op())
	}
	return ops
}

func TestBuildLinear(t *testing.T) {
	g := buildGraph(t, 1,
		ir.InsnItem(constInsn(0, 1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)

	assert.Equal(t, 1, g.NumBlocks())
	assert.Equal(t, 2, g.InstructionCount())
	require.Len(t, g.Entry().Succs(), 1)
	assert.Equal(t, EdgeGhost, g.Entry().Succs()[0].Kind())
	assert.Same(t, g.Exit(), g.Entry().Succs()[0].Tgt())
}

func TestGotoBecomesEdge(t *testing.T) {
	g := buildGraph(t, 1,
		ir.InsnItem(constInsn(0, 0)),
		ir.BranchItem(ir.NewInstruction(ir.OpGoto), ir.Target{LabelID: 1}),
		ir.InsnItem(constInsn(0, 1)),
		ir.LabelItem(1),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)

	assert.NotContains(t, allOps(g), ir.OpGoto)
	tgt := g.Entry().GotoTarget()
	require.NotNil(t, tgt)
	assert.Equal(t, ir.OpReturn, tgt.FirstInsn().Op())
}

func TestDiamond(t *testing.T) {
	g := buildGraph(t, 1,
		ir.InsnItem(ir.NewInstruction(ir.OpLoadParam).SetDest(0)),
		ir.BranchItem(ir.NewInstruction(ir.OpIfEqz).SetSrcs(0), ir.Target{LabelID: 1}),
		ir.InsnItem(constInsn(0, 1)),
		ir.BranchItem(ir.NewInstruction(ir.OpGoto), ir.Target{LabelID: 2}),
		ir.LabelItem(1),
		ir.InsnItem(constInsn(0, 2)),
		ir.LabelItem(2),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)

	assert.Equal(t, 4, g.NumBlocks())
	entry := g.Entry()
	assert.Len(t, entry.GetSuccEdgesOfType(EdgeBranch), 1)
	assert.Len(t, entry.GetSuccEdgesOfType(EdgeGoto), 1)

	join := entry.GetSuccEdgeOfType(EdgeBranch).Tgt().GotoTarget()
	require.NotNil(t, join)
	assert.Len(t, join.Preds(), 2)
	assert.Len(t, g.Exit().Preds(), 1)
}

func TestTryCatch(t *testing.T) {
	reg := dex.NewRegistry()
	callee := mustMethod(t, reg, "LFoo;.bar:()V")
	throwable := reg.MakeType("Ljava/lang/Throwable;")

	g := buildGraph(t, 1,
		ir.TryStartItem(
			ir.CatchEntry{Type: throwable, LabelID: 9},
			ir.CatchEntry{Type: nil, LabelID: 10},
		),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(callee)),
		ir.TryEndItem(),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
		ir.LabelItem(9),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveException).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
		ir.LabelItem(10),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)

	invokeBlock := g.Entry()
	require.NotNil(t, invokeBlock.LastInsn())
	assert.Equal(t, ir.OpInvokeStatic, invokeBlock.LastInsn().Op())

	throws := invokeBlock.GetOutgoingThrowsInOrder()
	require.Len(t, throws, 2)
	assert.Same(t, throwable, throws[0].CatchType())
	assert.Nil(t, throws[1].CatchType())
	assert.Equal(t, ir.OpMoveException, throws[0].Tgt().FirstInsn().Op())
}

func TestLinearizeRoundTrip(t *testing.T) {
	items := []*ir.Item{
		ir.InsnItem(ir.NewInstruction(ir.OpLoadParam).SetDest(0)),
		ir.BranchItem(ir.NewInstruction(ir.OpIfEqz).SetSrcs(0), ir.Target{LabelID: 1}),
		ir.InsnItem(constInsn(0, 1)),
		ir.BranchItem(ir.NewInstruction(ir.OpGoto), ir.Target{LabelID: 2}),
		ir.LabelItem(1),
		ir.InsnItem(constInsn(0, 2)),
		ir.LabelItem(2),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	}
	g := buildGraph(t, 1, items...)
	want := g.InstructionCount()

	list := g.Linearize()
	g2 := Build(ir.NewCode(1, list), "LTest;.m:()V", true)
	require.Empty(t, g2.Check())
	assert.Equal(t, want, g2.InstructionCount())
	assert.Equal(t, g.NumBlocks(), g2.NumBlocks())
}

func TestLinearizeTryRoundTrip(t *testing.T) {
	reg := dex.NewRegistry()
	callee := mustMethod(t, reg, "LFoo;.bar:()V")

	g := buildGraph(t, 1,
		ir.TryStartItem(ir.CatchEntry{Type: nil, LabelID: 9}),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(callee)),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(callee)),
		ir.TryEndItem(),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
		ir.LabelItem(9),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveException).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	// Each may-throw instruction ends its own block inside the try.
	assert.Equal(t, 1, g.Entry().InstructionCount())

	list := g.Linearize()
	g2 := Build(ir.NewCode(1, list), "LTest;.m:()V", true)
	require.Empty(t, g2.Check())
	assert.Equal(t, g.InstructionCount(), g2.InstructionCount())

	var throwBlocks int
	for _, b := range g2.BlocksInOrder() {
		if len(b.GetOutgoingThrowsInOrder()) > 0 {
			throwBlocks++
		}
	}
	assert.Equal(t, 2, throwBlocks)
}

func TestSplitAndMerge(t *testing.T) {
	g := buildGraph(t, 1,
		ir.InsnItem(constInsn(0, 1)),
		ir.InsnItem(constInsn(0, 2)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)
	b := g.Entry()
	nb := g.SplitBlock(b.Begin())

	assert.Equal(t, 1, b.InstructionCount())
	assert.Equal(t, 2, nb.InstructionCount())
	assert.Same(t, nb, b.GotoTarget())
	require.Empty(t, g.Check())

	require.True(t, g.CanMergeBlocks(b, nb))
	g.MergeBlocks(b, nb)
	assert.Equal(t, 3, b.InstructionCount())
	assert.Equal(t, 1, g.NumBlocks())
	require.Empty(t, g.Check())
}

func TestInsertInTryRegionSplits(t *testing.T) {
	reg := dex.NewRegistry()
	callee := mustMethod(t, reg, "LFoo;.bar:()V")
	obj := reg.MakeType("Ljava/lang/Object;")

	g := buildGraph(t, 1,
		ir.TryStartItem(ir.CatchEntry{Type: nil, LabelID: 9}),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(callee)),
		ir.TryEndItem(),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
		ir.LabelItem(9),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveException).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)

	invokeBlock := g.Entry()
	it := invokeBlock.Begin()
	newInst := ir.NewInstruction(ir.OpNewInstance).SetDest(0).SetTypeRef(obj)

	invalidated := g.InsertBefore(it, newInst)
	assert.True(t, invalidated)
	require.Empty(t, g.Check())

	// The inserted may-throw instruction must carry the same catch coverage.
	assert.Equal(t, ir.OpNewInstance, invokeBlock.LastInsn().Op())
	assert.Len(t, invokeBlock.GetOutgoingThrowsInOrder(), 1)
}

func TestInsertPlain(t *testing.T) {
	g := buildGraph(t, 2,
		ir.InsnItem(constInsn(0, 1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)
	b := g.Entry()
	it := b.Begin()

	assert.False(t, g.InsertBefore(it, constInsn(1, 10)))
	it = b.IterAt(b.FirstInsn())
	assert.False(t, g.InsertAfter(it, constInsn(1, 11)))

	ops := allOps(g)
	assert.Equal(t, []ir.Op{ir.OpConst, ir.OpConst, ir.OpConst, ir.OpReturn}, ops)
	assert.EqualValues(t, 10, b.FirstInsn().Literal())
}

func TestRemoveBranchCollapses(t *testing.T) {
	g := buildGraph(t, 1,
		ir.InsnItem(ir.NewInstruction(ir.OpLoadParam).SetDest(0)),
		ir.BranchItem(ir.NewInstruction(ir.OpIfEqz).SetSrcs(0), ir.Target{LabelID: 1}),
		ir.InsnItem(constInsn(0, 1)),
		ir.BranchItem(ir.NewInstruction(ir.OpGoto), ir.Target{LabelID: 2}),
		ir.LabelItem(1),
		ir.InsnItem(constInsn(0, 2)),
		ir.LabelItem(2),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)
	entry := g.Entry()
	branchIt := entry.LastIt()
	require.Equal(t, ir.OpIfEqz, branchIt.Insn().Op())

	invalidated := g.RemoveInsn(branchIt)
	assert.True(t, invalidated)
	assert.Empty(t, entry.GetSuccEdgesOfType(EdgeBranch))
	require.NotNil(t, entry.GotoTarget())
	require.Empty(t, g.Check())

	removed := g.RemoveUnreachableBlocks()
	assert.Equal(t, 1, removed)
	require.Empty(t, g.Check())
}

func TestRemoveProducerRemovesMoveResult(t *testing.T) {
	reg := dex.NewRegistry()
	callee := mustMethod(t, reg, "LFoo;.bar:()I")

	g := buildGraph(t, 1,
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(callee)),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveResult).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	b := g.Entry()
	invalidated := g.RemoveInsn(b.Begin())
	assert.True(t, invalidated)
	assert.Equal(t, []ir.Op{ir.OpReturnVoid}, allOps(g))
	require.Empty(t, g.Check())
}

func TestMoveResultAcrossBlocks(t *testing.T) {
	reg := dex.NewRegistry()
	callee := mustMethod(t, reg, "LFoo;.bar:()I")

	// Inside a try the invoke ends its block; the move-result opens the next.
	g := buildGraph(t, 1,
		ir.TryStartItem(ir.CatchEntry{Type: nil, LabelID: 9}),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(callee)),
		ir.TryEndItem(),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveResult).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
		ir.LabelItem(9),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveException).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	invokeIt := g.Entry().Begin()
	mr := g.MoveResultOf(invokeIt)
	require.False(t, mr.IsEnd())
	assert.Equal(t, ir.OpMoveResult, mr.Insn().Op())
	assert.NotSame(t, invokeIt.Block(), mr.Block())

	prim := g.PrimaryInstructionOfMoveResult(mr)
	require.False(t, prim.IsEnd())
	assert.Same(t, invokeIt.Insn(), prim.Insn())
}

func TestMutationInsertOrdering(t *testing.T) {
	g := buildGraph(t, 3,
		ir.InsnItem(constInsn(0, 1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)
	anchor := g.Entry().FirstInsn()

	m := NewMutation(g)
	m.At(anchor).
		InsertBefore(constInsn(1, 100)).
		InsertAfter(constInsn(2, 200))
	m.Flush()

	require.Empty(t, g.Check())
	insns := g.Entry().Items()
	require.Len(t, insns, 4)
	assert.EqualValues(t, 100, insns[0].Insn.Literal())
	assert.Same(t, anchor, insns[1].Insn)
	assert.EqualValues(t, 200, insns[2].Insn.Literal())
}

func TestMutationReplaceProducerDropsMoveResultChange(t *testing.T) {
	reg := dex.NewRegistry()
	callee := mustMethod(t, reg, "LFoo;.bar:()I")

	g := buildGraph(t, 1,
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(callee)),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveResult).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)
	invoke := g.Entry().FirstInsn()
	mr := g.Entry().Begin().Next().Insn()

	m := NewMutation(g)
	m.At(invoke).Replace(constInsn(0, 42))
	m.At(mr).Replace(constInsn(0, 7)) // defunct once the producer goes away
	m.Flush()

	assert.Equal(t, 1, m.Warnings)
	assert.Equal(t, []ir.Op{ir.OpConst, ir.OpReturn}, allOps(g))
	assert.EqualValues(t, 42, g.Entry().FirstInsn().Literal())
	require.Empty(t, g.Check())
}

func TestMutationReplaceKeepsLiveMoveResult(t *testing.T) {
	reg := dex.NewRegistry()
	oldM := mustMethod(t, reg, "LFoo;.bar:()I")
	newM := mustMethod(t, reg, "LBar;.baz:()I")

	g := buildGraph(t, 1,
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(oldM)),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveResult).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)
	invoke := g.Entry().FirstInsn()

	m := NewMutation(g)
	m.At(invoke).Replace(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(newM))
	m.Flush()

	assert.Equal(t, []ir.Op{ir.OpInvokeStatic, ir.OpMoveResult, ir.OpReturn}, allOps(g))
	assert.Same(t, newM, g.Entry().FirstInsn().MethodRef())
	require.Empty(t, g.Check())
}

func TestMutationDeleteWithAfter(t *testing.T) {
	g := buildGraph(t, 2,
		ir.InsnItem(constInsn(0, 1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)
	anchor := g.Entry().FirstInsn()

	m := NewMutation(g)
	m.At(anchor).Replace().InsertAfter(constInsn(0, 9))
	m.Flush()

	assert.Equal(t, []ir.Op{ir.OpConst, ir.OpReturn}, allOps(g))
	assert.EqualValues(t, 9, g.Entry().FirstInsn().Literal())
	require.Empty(t, g.Check())
}

func TestMutationIllegalCombinations(t *testing.T) {
	g := buildGraph(t, 1,
		ir.InsnItem(constInsn(0, 1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)
	ret := g.Entry().LastInsn()

	m := NewMutation(g)
	m.At(ret).InsertAfter(constInsn(0, 2))
	assert.Panics(t, func() { m.Flush() })

	m2 := NewMutation(g)
	m2.At(g.Entry().FirstInsn()).
		Replace(constInsn(0, 3)).
		InsertBeforeVar(ir.InsnItem(constInsn(0, 4)))
	assert.Panics(t, func() { m2.Flush() })
}

func TestMutationClear(t *testing.T) {
	g := buildGraph(t, 1,
		ir.InsnItem(constInsn(0, 1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)
	m := NewMutation(g)
	m.At(g.Entry().FirstInsn()).Replace(constInsn(0, 5))
	m.Clear()
	m.Flush()
	assert.EqualValues(t, 1, g.Entry().FirstInsn().Literal())
}

func TestInlineCFG(t *testing.T) {
	reg := dex.NewRegistry()
	callee := mustMethod(t, reg, "LFoo;.id:(I)I")

	caller := buildGraph(t, 2,
		ir.InsnItem(ir.NewInstruction(ir.OpLoadParam).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetSrcs(0).SetMethodRef(callee)),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveResult).SetDest(1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(1)),
	)
	calleeG := buildGraph(t, 1,
		ir.InsnItem(ir.NewInstruction(ir.OpLoadParam).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)

	var invokeIt InsnIt
	found := false
	for it := caller.InstructionIterator(); !it.IsEnd(); it.Next() {
		if it.Insn().Op() == ir.OpInvokeStatic {
			invokeIt = it.It()
			found = true
		}
	}
	require.True(t, found)

	InlineCFG(caller, invokeIt, calleeG)
	require.Empty(t, caller.Check())

	ops := allOps(caller)
	assert.NotContains(t, ops, ir.OpInvokeStatic)
	assert.NotContains(t, ops, ir.OpMoveResult)
	assert.Equal(t, 3, caller.RegisterCount())

	// The callee is untouched.
	assert.Equal(t, 2, calleeG.InstructionCount())

	// Param and return both became moves; behavior is v1 = v0.
	var moves int
	for _, op := range ops {
		if op == ir.OpMove {
			moves++
		}
	}
	assert.Equal(t, 2, moves)

	list := caller.Linearize()
	g2 := Build(ir.NewCode(caller.RegisterCount(), list), "LTest;.m:()V", true)
	require.Empty(t, g2.Check())
}

func TestInlineIntoTryRegion(t *testing.T) {
	reg := dex.NewRegistry()
	callee := mustMethod(t, reg, "LFoo;.bar:()V")
	inner := mustMethod(t, reg, "LBar;.baz:()V")

	caller := buildGraph(t, 1,
		ir.TryStartItem(ir.CatchEntry{Type: nil, LabelID: 9}),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(callee)),
		ir.TryEndItem(),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
		ir.LabelItem(9),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveException).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	calleeG := buildGraph(t, 0,
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(inner)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)

	invokeIt := caller.Entry().Begin()
	require.Equal(t, ir.OpInvokeStatic, invokeIt.Insn().Op())

	InlineCFG(caller, invokeIt, calleeG)
	require.Empty(t, caller.Check())

	// The inlined invoke inherits the caller's catch coverage.
	var covered bool
	for _, b := range caller.BlocksInOrder() {
		if last := b.LastInsn(); last != nil && last.Op() == ir.OpInvokeStatic {
			assert.Same(t, inner, last.MethodRef())
			covered = len(b.GetOutgoingThrowsInOrder()) > 0
		}
	}
	assert.True(t, covered)
}

func TestInlineCalleeHandlersKeepPriority(t *testing.T) {
	reg := dex.NewRegistry()
	callee := mustMethod(t, reg, "LFoo;.bar:()V")
	inner := mustMethod(t, reg, "LBar;.baz:()V")
	ioe := reg.MakeType("Ljava/io/IOException;")

	caller := buildGraph(t, 1,
		ir.TryStartItem(ir.CatchEntry{Type: nil, LabelID: 9}),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(callee)),
		ir.TryEndItem(),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
		ir.LabelItem(9),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveException).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	calleeG := buildGraph(t, 1,
		ir.TryStartItem(ir.CatchEntry{Type: ioe, LabelID: 3}),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(inner)),
		ir.TryEndItem(),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
		ir.LabelItem(3),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveException).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)

	invokeIt := caller.Entry().Begin()
	require.Equal(t, ir.OpInvokeStatic, invokeIt.Insn().Op())

	InlineCFG(caller, invokeIt, calleeG)
	require.Empty(t, caller.Check())

	var chain []*Edge
	for _, b := range caller.BlocksInOrder() {
		if last := b.LastInsn(); last != nil && last.Op() == ir.OpInvokeStatic {
			require.Same(t, inner, last.MethodRef())
			chain = b.GetOutgoingThrowsInOrder()
		}
	}
	// Callee's typed handler first, caller's catch-all appended behind it.
	require.Len(t, chain, 2)
	assert.Same(t, ioe, chain[0].CatchType())
	assert.Nil(t, chain[1].CatchType())
}

func TestInlineCalleeCatchAllStopsCoverage(t *testing.T) {
	reg := dex.NewRegistry()
	callee := mustMethod(t, reg, "LFoo;.bar:()V")
	inner := mustMethod(t, reg, "LBar;.baz:()V")

	caller := buildGraph(t, 1,
		ir.TryStartItem(ir.CatchEntry{Type: nil, LabelID: 9}),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(callee)),
		ir.TryEndItem(),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
		ir.LabelItem(9),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveException).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	calleeG := buildGraph(t, 1,
		ir.TryStartItem(ir.CatchEntry{Type: nil, LabelID: 3}),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(inner)),
		ir.TryEndItem(),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
		ir.LabelItem(3),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveException).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)

	invokeIt := caller.Entry().Begin()
	require.Equal(t, ir.OpInvokeStatic, invokeIt.Insn().Op())

	InlineCFG(caller, invokeIt, calleeG)
	require.Empty(t, caller.Check())

	// The callee's catch-all ends the chain; the caller's handler must not
	// be appended behind it.
	var chain []*Edge
	for _, b := range caller.BlocksInOrder() {
		if last := b.LastInsn(); last != nil && last.Op() == ir.OpInvokeStatic {
			require.Same(t, inner, last.MethodRef())
			chain = b.GetOutgoingThrowsInOrder()
		}
	}
	require.Len(t, chain, 1)
	assert.Nil(t, chain[0].CatchType())
}

func TestClearCFGRoundTrip(t *testing.T) {
	code := ir.NewCode(1, ir.NewList(
		ir.InsnItem(constInsn(0, 1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	))
	g := Build(code, "LTest;.m:()V", true)
	require.True(t, code.HasCFG())

	g.SetRegisterCount(4)
	g.ClearCFG()

	assert.False(t, code.HasCFG())
	assert.Equal(t, 4, code.RegisterCount())
	assert.Equal(t, 2, code.InstructionCount())
}

func TestImmutableGraphRejectsEdits(t *testing.T) {
	code := ir.NewCode(1, ir.NewList(
		ir.InsnItem(constInsn(0, 1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	))
	g := Build(code, "LTest;.m:()V", false)
	assert.Panics(t, func() { g.RemoveInsn(g.Entry().Begin()) })
}

func TestCheckFlagsStoredGoto(t *testing.T) {
	g := buildGraph(t, 1,
		ir.InsnItem(constInsn(0, 1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)
	// Corrupt the block on purpose.
	g.Entry().items = append([]*ir.Item{ir.InsnItem(ir.NewInstruction(ir.OpGoto))}, g.Entry().items...)
	assert.NotEmpty(t, g.Check())
}

func TestPrinterOutput(t *testing.T) {
	g := buildGraph(t, 1,
		ir.InsnItem(constInsn(0, 1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturn).SetSrcs(0)),
	)
	out := g.String()
	assert.Contains(t, out, "B0")
	assert.Contains(t, out, "const")
	assert.Contains(t, out, "ghost exit")
}
