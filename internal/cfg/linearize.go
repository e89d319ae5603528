package cfg

import (
	"dexopt/internal/ir"
)

// Linearize flattens the graph back into an item list. Block order is chosen
// so goto successors follow their predecessor where possible, making most
// gotos implicit; the result is equivalent to the original list modulo block
// reordering and redundant gotos.
func (g *Graph) Linearize() *ir.List {
	order := g.layoutOrder()

	pos := make(map[*Block]int, len(order))
	for i, b := range order {
		pos[b] = i
	}

	// A block needs a label if any branch or throw edge targets it, or a
	// goto targets it from a block it does not follow in layout.
	needLabel := make(map[*Block]bool)
	for _, b := range order {
		for _, e := range b.succs {
			switch e.kind {
			case EdgeBranch, EdgeThrow:
				needLabel[e.tgt] = true
			case EdgeGoto:
				if pos[e.tgt] != pos[b]+1 {
					needLabel[e.tgt] = true
				}
			}
		}
	}

	list := ir.NewList()
	var openChain []*Edge

	chainOf := func(b *Block) []*Edge { return b.GetOutgoingThrowsInOrder() }
	closeTry := func() {
		if openChain != nil {
			list.Append(ir.TryEndItem())
			openChain = nil
		}
	}

	for i, b := range order {
		if len(b.items) == 0 && !needLabel[b] && len(b.preds) == 0 && b != g.entry {
			continue
		}
		chain := chainOf(b)
		if !sameThrowChain(chain, openChain) {
			closeTry()
		}
		if needLabel[b] {
			// Labels sit outside the try region they start.
			if openChain != nil && len(chain) == 0 {
				closeTry()
			}
			list.Append(ir.LabelItem(int(b.id)))
		}
		if len(chain) > 0 && openChain == nil {
			catches := make([]ir.CatchEntry, len(chain))
			for ci, e := range chain {
				catches[ci] = ir.CatchEntry{Type: e.catchType, LabelID: int(e.tgt.id)}
			}
			list.Append(ir.TryStartItem(catches...))
			openChain = chain
		}

		last := b.LastInsn()
		for _, item := range b.items {
			if item.Kind == ir.ItemInsn && item.Insn == last && ir.IsTerminal(last.Op()) {
				list.Append(g.terminatorItem(b, item))
			} else {
				list.Append(item)
			}
		}

		// Make the goto explicit when the target is not the next block.
		if e := b.GetSuccEdgeOfType(EdgeGoto); e != nil {
			if i+1 >= len(order) || order[i+1] != e.tgt {
				closeTry()
				list.Append(ir.BranchItem(ir.NewInstruction(ir.OpGoto), ir.Target{LabelID: int(e.tgt.id)}))
			}
		}
	}
	closeTry()
	return list
}

// terminatorItem renders a terminal instruction with its branch targets
// resolved from the current edges.
func (g *Graph) terminatorItem(b *Block, item *ir.Item) *ir.Item {
	op := item.Insn.Op()
	switch {
	case ir.IsConditionalBranch(op):
		var targets []ir.Target
		for _, e := range b.GetSuccEdgesOfType(EdgeBranch) {
			targets = append(targets, ir.Target{LabelID: int(e.tgt.id)})
		}
		return ir.BranchItem(item.Insn, targets...)
	case ir.IsSwitch(op):
		var targets []ir.Target
		for _, e := range b.GetSuccEdgesOfType(EdgeBranch) {
			targets = append(targets, ir.Target{LabelID: int(e.tgt.id), CaseKey: e.caseKey})
		}
		return ir.BranchItem(item.Insn, targets...)
	default:
		return item
	}
}

// layoutOrder returns blocks with goto chains contiguous: a worklist of
// chain heads, each chain following goto edges through unvisited blocks.
func (g *Graph) layoutOrder() []*Block {
	var order []*Block
	visited := make(map[*Block]bool)
	queue := []*Block{g.entry}

	enqueue := func(b *Block) {
		if b != nil && !visited[b] && b != g.exit {
			queue = append(queue, b)
		}
	}

	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for b != nil && !visited[b] && b != g.exit {
			visited[b] = true
			order = append(order, b)
			for _, e := range b.succs {
				if e.kind == EdgeBranch || e.kind == EdgeThrow {
					enqueue(e.tgt)
				}
			}
			next := b.GotoTarget()
			if next != nil && visited[next] {
				next = nil
			}
			b = next
		}
	}

	// Unreachable blocks still linearize, after everything else.
	for _, b := range g.BlocksInOrder() {
		if !visited[b] {
			order = append(order, b)
			visited[b] = true
		}
	}
	return order
}
