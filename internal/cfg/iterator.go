package cfg

import "dexopt/internal/ir"

// InsnIt is a forward instruction iterator within one block. It addresses
// instructions by position, not by raw pointer, so it stays meaningful until
// an edit that the invalidation contract declares invalidating.
type InsnIt struct {
	b   *Block
	idx int
}

// End returns the past-the-end iterator for b.
func (b *Block) End() InsnIt {
	return InsnIt{b: b, idx: len(b.items)}
}

// Begin returns an iterator at the first instruction of b (or End for an
// instruction-free block).
func (b *Block) Begin() InsnIt {
	it := InsnIt{b: b, idx: -1}
	return it.Next()
}

// LastIt returns an iterator at the last instruction of b, or End.
func (b *Block) LastIt() InsnIt {
	for i := len(b.items) - 1; i >= 0; i-- {
		if b.items[i].Kind == ir.ItemInsn {
			return InsnIt{b: b, idx: i}
		}
	}
	return b.End()
}

// IterAt returns an iterator positioned at the given instruction, or End if
// the instruction is not in b.
func (b *Block) IterAt(insn *ir.Instruction) InsnIt {
	for i, it := range b.items {
		if it.Kind == ir.ItemInsn && it.Insn == insn {
			return InsnIt{b: b, idx: i}
		}
	}
	return b.End()
}

// Block returns the iterator's block.
func (it InsnIt) Block() *Block { return it.b }

// IsEnd reports whether the iterator is past the last instruction.
func (it InsnIt) IsEnd() bool { return it.idx >= len(it.b.items) }

// Item returns the addressed item.
func (it InsnIt) Item() *ir.Item {
	return it.b.items[it.idx]
}

// Insn returns the addressed instruction.
func (it InsnIt) Insn() *ir.Instruction {
	return it.b.items[it.idx].Insn
}

// Next advances to the next instruction item, skipping markers.
func (it InsnIt) Next() InsnIt {
	for i := it.idx + 1; i < len(it.b.items); i++ {
		if it.b.items[i].Kind == ir.ItemInsn {
			return InsnIt{b: it.b, idx: i}
		}
	}
	return it.b.End()
}

// Prev steps back to the previous instruction item, or End if none.
func (it InsnIt) Prev() InsnIt {
	for i := it.idx - 1; i >= 0; i-- {
		if it.b.items[i].Kind == ir.ItemInsn {
			return InsnIt{b: it.b, idx: i}
		}
	}
	return it.b.End()
}

// CFGIt walks every instruction of the graph in block-id order. It is the
// lifted form of InsnIt; ToCFGInstructionIterator lifts an inner iterator.
type CFGIt struct {
	g     *Graph
	order []*Block
	oi    int
	inner InsnIt
}

// InstructionIterator returns a CFG-level iterator at the first instruction.
func (g *Graph) InstructionIterator() *CFGIt {
	it := &CFGIt{g: g, order: g.BlocksInOrder(), oi: -1}
	it.advanceBlock()
	return it
}

// ToCFGInstructionIterator lifts a block-level iterator to the CFG level.
func (g *Graph) ToCFGInstructionIterator(inner InsnIt) *CFGIt {
	order := g.BlocksInOrder()
	oi := 0
	for i, b := range order {
		if b == inner.b {
			oi = i
			break
		}
	}
	return &CFGIt{g: g, order: order, oi: oi, inner: inner}
}

// IsEnd reports whether the iterator ran off the last block.
func (it *CFGIt) IsEnd() bool { return it.oi >= len(it.order) }

// It returns the current block-level iterator.
func (it *CFGIt) It() InsnIt { return it.inner }

// Insn returns the current instruction.
func (it *CFGIt) Insn() *ir.Instruction { return it.inner.Insn() }

// Block returns the current block.
func (it *CFGIt) Block() *Block { return it.inner.b }

// Next advances to the next instruction, crossing block boundaries.
func (it *CFGIt) Next() {
	it.inner = it.inner.Next()
	if it.inner.IsEnd() {
		it.advanceBlock()
	}
}

func (it *CFGIt) advanceBlock() {
	for it.oi++; it.oi < len(it.order); it.oi++ {
		b := it.order[it.oi]
		if first := b.Begin(); !first.IsEnd() {
			it.inner = first
			return
		}
	}
}
