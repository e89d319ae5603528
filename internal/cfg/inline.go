package cfg

import (
	"fmt"

	"dexopt/internal/ir"
)

// InlineCFG splices a copy of callee into g at the invoke addressed by it.
// The callee graph is left untouched; its blocks and instructions are cloned
// with registers remapped above the caller's register file. The invoke and
// its move-result disappear, load-params become moves from the argument
// registers, and returns become moves into the result register followed by
// a jump to the code after the call site.
func InlineCFG(g *Graph, it InsnIt, callee *Graph) {
	g.mustEdit()
	invoke := it.Insn()
	if !ir.IsInvoke(invoke.Op()) {
		panic(fmt.Sprintf("cfg: inline anchor %s is not an invoke in %s", invoke, g.method))
	}

	// Make the invoke the last instruction of its block so the continuation
	// is a clean goto successor.
	if it.b.LastInsn() != invoke {
		g.SplitBlock(it)
		it = it.b.IterAt(invoke)
	}
	pred := it.b

	after := pred.GotoTarget()
	if after == nil {
		after = g.allocBlock()
		g.AddEdge(after, g.exit, EdgeGhost)
	}

	// The result register, if the caller consumes one.
	var resultReg ir.Reg
	haveResult := false
	if mr := g.MoveResultOf(it); !mr.IsEnd() {
		resultReg = mr.Insn().Dest()
		haveResult = true
		mrBlock := mr.b
		mrBlock.items = append(mrBlock.items[:mr.idx], mrBlock.items[mr.idx+1:]...)
	}

	// Caller-side catch coverage to spread over the callee copy.
	callerChain := append([]*Edge(nil), pred.GetOutgoingThrowsInOrder()...)
	callerPos := nearestPosition(pred, it.idx)

	args := append([]ir.Reg(nil), invoke.Srcs()...)

	// Detach the invoke and its outgoing edges.
	pred.items = append(pred.items[:it.idx], pred.items[it.idx+1:]...)
	g.DeleteSuccEdgeIf(pred, func(*Edge) bool { return true })

	entry, copied := g.copyCalleeInto(callee, after, args, resultReg, haveResult, callerPos)
	g.AddEdge(pred, entry, EdgeGoto)

	if len(callerChain) > 0 {
		g.spreadCatchCoverage(copied, callerChain)
	}

	if g.CanMergeBlocks(pred, entry) {
		g.MergeBlocks(pred, entry)
	}
	if sp := after.SinglePred(); sp != nil && g.CanMergeBlocks(sp, after) {
		g.MergeBlocks(sp, after)
	}
}

// copyCalleeInto clones callee's blocks into g, remapping registers above the
// caller's file, rewriting load-params into moves from args and returns into
// moves to resultReg plus a goto to after. Returns the cloned entry block and
// all cloned blocks.
func (g *Graph) copyCalleeInto(callee *Graph, after *Block, args []ir.Reg, resultReg ir.Reg, haveResult bool, callerPos *ir.Position) (*Block, []*Block) {
	regBase := ir.Reg(g.regCount)
	g.regCount += callee.regCount

	blockMap := make(map[*Block]*Block)
	src := callee.BlocksInOrder()
	for _, cb := range src {
		blockMap[cb] = g.allocBlock()
	}

	paramIdx := 0
	for _, cb := range src {
		nb := blockMap[cb]
		for _, item := range cb.items {
			clone := item.Clone()
			if clone.Kind == ir.ItemPosition {
				// Chain the copied position to the call site.
				p := *clone.Pos
				p.Parent = callerPos
				clone.Pos = &p
			}
			if clone.Kind != ir.ItemInsn {
				nb.items = append(nb.items, clone)
				continue
			}
			in := clone.Insn
			remapRegs(in, regBase)
			op := in.Op()
			switch {
			case ir.IsLoadParam(op):
				if paramIdx >= len(args) {
					panic(fmt.Sprintf("cfg: callee %s takes more params than invoke passes", callee.method))
				}
				mv := ir.NewInstruction(ir.LoadParamToMove(op))
				mv.SetDest(in.Dest())
				mv.SetSrcs(args[paramIdx])
				paramIdx++
				nb.items = append(nb.items, ir.InsnItem(mv))
			case ir.IsReturn(op):
				if op != ir.OpReturnVoid && haveResult {
					mv := ir.NewInstruction(ir.ReturnToMove(op))
					mv.SetDest(resultReg)
					mv.SetSrcs(in.Src(0))
					nb.items = append(nb.items, ir.InsnItem(mv))
				}
				// The jump to the continuation replaces the return.
			default:
				nb.items = append(nb.items, clone)
			}
		}
	}

	// Clone edges; the callee's ghost edges to its exit become gotos to the
	// continuation.
	for _, cb := range src {
		nb := blockMap[cb]
		for _, e := range cb.succs {
			if e.tgt == callee.exit {
				g.AddEdge(nb, after, EdgeGoto)
				continue
			}
			tgt := blockMap[e.tgt]
			switch e.kind {
			case EdgeThrow:
				g.AddThrowEdge(nb, tgt, e.catchType, e.index)
			case EdgeBranch:
				if e.caseKey != nil {
					g.AddBranchEdge(nb, tgt, *e.caseKey)
				} else {
					g.AddEdge(nb, tgt, EdgeBranch)
				}
			default:
				g.AddEdge(nb, tgt, e.kind)
			}
		}
	}

	out := make([]*Block, 0, len(src))
	for _, cb := range src {
		out = append(out, blockMap[cb])
	}
	return blockMap[callee.entry], out
}

// spreadCatchCoverage extends the caller's catch chain over every cloned
// block that can throw, splitting blocks first so each may-throw instruction
// sits last in its block. The callee's own handlers keep priority; the
// caller's chain is appended behind them, except behind a catch-all, which
// already terminates the chain.
func (g *Graph) spreadCatchCoverage(blocks []*Block, chain []*Edge) {
	work := append([]*Block(nil), blocks...)
	for len(work) > 0 {
		b := work[0]
		work = work[1:]
		for it := b.Begin(); !it.IsEnd(); it = it.Next() {
			if ir.CanThrow(it.Insn().Op()) && it.Insn() != b.LastInsn() {
				work = append(work, g.SplitBlock(it))
				break
			}
		}
		if last := b.LastIt(); !last.IsEnd() && ir.CanThrow(last.Insn().Op()) {
			existing := b.GetOutgoingThrowsInOrder()
			if n := len(existing); n > 0 && existing[n-1].catchType == nil {
				// A catch-all already ends this chain; nothing appended
				// behind it could ever fire.
				continue
			}
			for i, e := range chain {
				g.AddThrowEdge(b, e.tgt, e.catchType, len(existing)+i)
			}
		}
	}
}

func remapRegs(in *ir.Instruction, base ir.Reg) {
	if in.HasDest() {
		in.SetDest(in.Dest() + base)
	}
	for i := 0; i < in.SrcsSize(); i++ {
		in.SetSrc(i, in.Src(i)+base)
	}
}

func nearestPosition(b *Block, idx int) *ir.Position {
	for i := idx - 1; i >= 0; i-- {
		if b.items[i].Kind == ir.ItemPosition {
			return b.items[i].Pos
		}
	}
	return nil
}
