package cfg

import (
	"fmt"

	"dexopt/internal/ir"
)

// SplitBlock makes the instruction at it the last of its block and moves
// everything after it into a fresh successor, which also takes over the
// outgoing edges. Predecessor and catch coverage are preserved: if the
// instruction at it can throw, the original block keeps a copy of the throw
// chain. Iterators into the original block past it are invalidated.
func (g *Graph) SplitBlock(it InsnIt) *Block {
	g.mustEdit()
	b := it.b
	nb := g.allocBlock()

	nb.items = append(nb.items, b.items[it.idx+1:]...)
	b.items = b.items[:it.idx+1]

	// The new block inherits every outgoing edge.
	for _, e := range append([]*Edge(nil), b.succs...) {
		e.src = nb
	}
	nb.succs = b.succs
	b.succs = nil

	// Keep throw coverage on the anchor if it can still throw.
	if ir.CanThrow(it.Insn().Op()) {
		for _, e := range nb.GetOutgoingThrowsInOrder() {
			g.AddThrowEdge(b, e.tgt, e.catchType, e.index)
		}
	}
	g.AddEdge(b, nb, EdgeGoto)
	return nb
}

// CanMergeBlocks reports whether MergeBlocks(pred, succ) is legal: pred's
// only outgoing edge is a GOTO to succ, succ has exactly one predecessor,
// and merging does not bury a throwing instruction mid-block.
func (g *Graph) CanMergeBlocks(pred, succ *Block) bool {
	if len(pred.succs) != 1 || pred.succs[0].kind != EdgeGoto || pred.succs[0].tgt != succ {
		return false
	}
	if len(succ.preds) != 1 || succ == g.exit || pred == succ {
		return false
	}
	// A trailing may-throw instruction in pred carries throw edges; pulling
	// succ's instructions behind it would detach them from their handler
	// coverage. pred with a single goto has no throw edges, but check anyway.
	if len(pred.GetOutgoingThrowsInOrder()) > 0 {
		return false
	}
	return true
}

// MergeBlocks splices succ onto the end of pred and destroys succ.
// Iterators into succ are invalidated.
func (g *Graph) MergeBlocks(pred, succ *Block) {
	g.mustEdit()
	if !g.CanMergeBlocks(pred, succ) {
		panic(fmt.Sprintf("cfg: illegal merge of B%d into B%d in %s", succ.id, pred.id, g.method))
	}
	g.DeleteEdge(pred.succs[0])
	pred.items = append(pred.items, succ.items...)
	for _, e := range append([]*Edge(nil), succ.succs...) {
		e.src = pred
	}
	pred.succs = append(pred.succs, succ.succs...)
	succ.succs = nil
	delete(g.blocks, succ.id)
	if succ == g.entry {
		g.entry = pred
	}
}

// InsertBefore inserts instructions before the one at it. Reports whether
// iterators were invalidated, which happens when an inserted instruction can
// throw inside a try region and forces a split.
func (g *Graph) InsertBefore(it InsnIt, insns ...*ir.Instruction) bool {
	g.mustEdit()
	return g.insertItems(it, it.idx, wrapInsns(insns))
}

// InsertAfter inserts instructions after the one at it. Inserting after a
// terminal instruction is a programming error. Invalidates like
// InsertBefore.
func (g *Graph) InsertAfter(it InsnIt, insns ...*ir.Instruction) bool {
	g.mustEdit()
	if ir.IsTerminal(it.Insn().Op()) {
		panic(fmt.Sprintf("cfg: insert after terminal %s in %s", it.Insn(), g.method))
	}
	return g.insertItems(it, it.idx+1, wrapInsns(insns))
}

// InsertMarkersBefore inserts position or source-block items before it.
// Marker insertion never invalidates iterators.
func (g *Graph) InsertMarkersBefore(it InsnIt, items ...*ir.Item) {
	g.mustEdit()
	g.spliceItems(it.b, it.idx, items)
}

// InsertMarkersAfter inserts position or source-block items after it.
func (g *Graph) InsertMarkersAfter(it InsnIt, items ...*ir.Item) {
	g.mustEdit()
	g.spliceItems(it.b, it.idx+1, items)
}

// InsertVariantBefore inserts a mixed instruction/marker sequence before it.
func (g *Graph) InsertVariantBefore(it InsnIt, items ...*ir.Item) bool {
	g.mustEdit()
	return g.insertItems(it, it.idx, items)
}

// InsertVariantAfter inserts a mixed sequence after it.
func (g *Graph) InsertVariantAfter(it InsnIt, items ...*ir.Item) bool {
	g.mustEdit()
	if ir.IsTerminal(it.Insn().Op()) {
		panic(fmt.Sprintf("cfg: insert after terminal %s in %s", it.Insn(), g.method))
	}
	return g.insertItems(it, it.idx+1, items)
}

// insertItems splices items into it.b at position pos. If an inserted
// instruction can throw while the block has throw edges, the block is split
// around it so the throwing op stays terminal; that path reports
// invalidation.
func (g *Graph) insertItems(it InsnIt, pos int, items []*ir.Item) bool {
	b := it.b
	inTry := len(b.GetOutgoingThrowsInOrder()) > 0
	mayThrowInserted := false
	for _, item := range items {
		if item.Kind == ir.ItemInsn && ir.CanThrow(item.Insn.Op()) {
			mayThrowInserted = true
		}
	}
	if !inTry || !mayThrowInserted {
		g.spliceItems(b, pos, items)
		return false
	}

	// Split after each throwing insert so every may-throw op ends a block
	// carrying the try coverage; SplitBlock leaves the chain on both halves.
	cur := b
	insertAt := pos
	for _, item := range items {
		g.spliceItems(cur, insertAt, []*ir.Item{item})
		if item.Kind == ir.ItemInsn && ir.CanThrow(item.Insn.Op()) {
			cur = g.SplitBlock(InsnIt{b: cur, idx: insertAt})
			insertAt = 0
		} else {
			insertAt++
		}
	}
	return true
}

func (g *Graph) spliceItems(b *Block, pos int, items []*ir.Item) {
	b.items = append(b.items, make([]*ir.Item, len(items))...)
	copy(b.items[pos+len(items):], b.items[pos:len(b.items)-len(items)])
	copy(b.items[pos:], items)
}

// ReplaceInsns replaces the instruction at it with a sequence. The anchor's
// move-result, if any and if the replacement produces no value, must be
// handled by the caller (the mutation session does this). Reports
// invalidation.
func (g *Graph) ReplaceInsns(it InsnIt, insns ...*ir.Instruction) bool {
	g.mustEdit()
	invalidated := g.RemoveInsn(it)
	if len(insns) == 0 {
		return invalidated
	}
	// After removal the slot at it.idx is the next item; insert there.
	if it.idx <= len(it.b.items) {
		if g.insertItems(InsnIt{b: it.b, idx: it.idx}, it.idx, wrapInsns(insns)) {
			invalidated = true
		}
	}
	return invalidated
}

// RemoveInsn deletes the instruction at it. Removing a value producer also
// removes its move-result; removing the last instruction of a block with
// throw edges prunes them. Both paths report invalidation; plain removals do
// not.
func (g *Graph) RemoveInsn(it InsnIt) bool {
	g.mustEdit()
	b := it.b
	in := it.Insn()
	op := in.Op()
	invalidated := false

	if ir.IsTerminal(op) {
		invalidated = true
		switch {
		case ir.IsConditionalBranch(op), ir.IsSwitch(op):
			// The branch collapses onto its fallthrough.
			g.DeleteSuccEdgeIf(b, func(e *Edge) bool { return e.kind == EdgeBranch })
		case ir.IsReturn(op) || op == ir.OpThrow:
			panic(fmt.Sprintf("cfg: cannot remove %s in %s; rewrite the block instead", in, g.method))
		}
	}

	// A producer's move-result follows it immediately, possibly as the first
	// instruction of the goto successor.
	if ir.HasMoveResultAny(op) {
		if mr := g.MoveResultOf(it); !mr.IsEnd() {
			mrBlock := mr.b
			mrBlock.items = append(mrBlock.items[:mr.idx], mrBlock.items[mr.idx+1:]...)
			invalidated = true
		}
	}

	wasLast := it.Insn() == b.LastInsn()
	b.items = append(b.items[:it.idx], b.items[it.idx+1:]...)

	if wasLast && len(b.GetOutgoingThrowsInOrder()) > 0 {
		// The block no longer ends in a may-throw instruction.
		g.DeleteSuccEdgeIf(b, func(e *Edge) bool { return e.kind == EdgeThrow })
		invalidated = true
	}
	return invalidated
}

func wrapInsns(insns []*ir.Instruction) []*ir.Item {
	items := make([]*ir.Item, len(insns))
	for i, in := range insns {
		items[i] = ir.InsnItem(in)
	}
	return items
}

// MoveResultOf returns an iterator at the move-result(-pseudo) consuming the
// producer at it, or an End iterator if there is none.
func (g *Graph) MoveResultOf(it InsnIt) InsnIt {
	if !ir.HasMoveResultAny(it.Insn().Op()) {
		return it.b.End()
	}
	next := it.Next()
	if next.IsEnd() {
		if t := it.b.GotoTarget(); t != nil {
			next = t.Begin()
		}
	}
	if !next.IsEnd() && ir.IsMoveResultAny(next.Insn().Op()) {
		return next
	}
	return it.b.End()
}

// PrimaryInstructionOfMoveResult returns an iterator at the producer paired
// with the move-result at it. The producer is the previous instruction, or
// the last instruction of the goto predecessor when the move-result opens
// its block.
func (g *Graph) PrimaryInstructionOfMoveResult(it InsnIt) InsnIt {
	if prev := it.Prev(); !prev.IsEnd() {
		return prev
	}
	preds := it.b.GetPredEdgesOfType(EdgeGoto)
	if len(preds) == 1 {
		pb := preds[0].src
		if last := pb.LastIt(); !last.IsEnd() {
			return last
		}
	}
	return it.b.End()
}

// RemoveUnreachableBlocks deletes blocks with no path from the entry and
// returns how many were removed.
func (g *Graph) RemoveUnreachableBlocks() int {
	reach := make(map[*Block]bool)
	stack := []*Block{g.entry}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reach[b] {
			continue
		}
		reach[b] = true
		for _, e := range b.succs {
			stack = append(stack, e.tgt)
		}
	}
	removed := 0
	for id, b := range g.blocks {
		if b == g.exit || reach[b] {
			continue
		}
		g.DeleteSuccEdgeIf(b, func(*Edge) bool { return true })
		for _, e := range append([]*Edge(nil), b.preds...) {
			g.DeleteEdge(e)
		}
		delete(g.blocks, id)
		removed++
	}
	return removed
}

func (g *Graph) mustEdit() {
	if !g.editable {
		panic(fmt.Sprintf("cfg: mutation on immutable CFG of %s", g.method))
	}
}
