// Package cfg implements the mutable control-flow graph of a method body and
// the deferred-mutation engine passes use to edit it safely.
package cfg

import (
	"dexopt/internal/dex"
	"dexopt/internal/ir"
)

// BlockID identifies a block within its graph. IDs increase monotonically
// and are never reused.
type BlockID int

// EdgeKind is the type tag of a CFG edge.
type EdgeKind int

const (
	// EdgeGoto is the unconditional fallthrough successor.
	EdgeGoto EdgeKind = iota
	// EdgeBranch is a conditional or switch-case successor.
	EdgeBranch
	// EdgeThrow connects a may-throw instruction to a catch handler.
	EdgeThrow
	// EdgeGhost is a virtual edge to the synthetic exit block.
	EdgeGhost
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeGoto:
		return "goto"
	case EdgeBranch:
		return "branch"
	case EdgeThrow:
		return "throw"
	case EdgeGhost:
		return "ghost"
	}
	return "edge(?)"
}

// Edge is a directed edge between two blocks. Throw edges additionally carry
// the catch type (nil for catch-all) and an index ordering the handlers.
type Edge struct {
	src, tgt  *Block
	kind      EdgeKind
	caseKey   *int64
	catchType *dex.Type
	index     int
}

// Src returns the source block.
func (e *Edge) Src() *Block { return e.src }

// Tgt returns the target block.
func (e *Edge) Tgt() *Block { return e.tgt }

// Kind returns the edge type.
func (e *Edge) Kind() EdgeKind { return e.kind }

// CaseKey returns the switch case key, or nil for non-case branch edges.
func (e *Edge) CaseKey() *int64 { return e.caseKey }

// CatchType returns the handled exception type; nil means catch-all.
func (e *Edge) CatchType() *dex.Type { return e.catchType }

// Index returns the throw-edge handler index.
func (e *Edge) Index() int { return e.index }

// Block is a basic block. The graph exclusively owns its blocks; the back
// reference to the graph exists for queries only.
type Block struct {
	id    BlockID
	g     *Graph
	items []*ir.Item
	preds []*Edge
	succs []*Edge
}

// ID returns the block id.
func (b *Block) ID() BlockID { return b.id }

// Graph returns the owning graph.
func (b *Block) Graph() *Graph { return b.g }

// Items returns the block's item sequence (instructions plus position and
// source-block markers). Callers must not mutate it directly.
func (b *Block) Items() []*ir.Item { return b.items }

// Preds returns the incoming edges.
func (b *Block) Preds() []*Edge { return b.preds }

// Succs returns the outgoing edges.
func (b *Block) Succs() []*Edge { return b.succs }

// FirstInsn returns the first instruction, or nil for an empty block.
func (b *Block) FirstInsn() *ir.Instruction {
	for _, it := range b.items {
		if it.Kind == ir.ItemInsn {
			return it.Insn
		}
	}
	return nil
}

// LastInsn returns the last instruction, or nil for an empty block.
func (b *Block) LastInsn() *ir.Instruction {
	for i := len(b.items) - 1; i >= 0; i-- {
		if b.items[i].Kind == ir.ItemInsn {
			return b.items[i].Insn
		}
	}
	return nil
}

// InstructionCount returns the number of instruction items.
func (b *Block) InstructionCount() int {
	n := 0
	for _, it := range b.items {
		if it.Kind == ir.ItemInsn {
			n++
		}
	}
	return n
}

// GetSuccEdgeOfType returns the first outgoing edge of the given kind, or
// nil.
func (b *Block) GetSuccEdgeOfType(kind EdgeKind) *Edge {
	for _, e := range b.succs {
		if e.kind == kind {
			return e
		}
	}
	return nil
}

// GetSuccEdgesOfType returns all outgoing edges of the given kind.
func (b *Block) GetSuccEdgesOfType(kind EdgeKind) []*Edge {
	var out []*Edge
	for _, e := range b.succs {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// GetPredEdgesOfType returns all incoming edges of the given kind.
func (b *Block) GetPredEdgesOfType(kind EdgeKind) []*Edge {
	var out []*Edge
	for _, e := range b.preds {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// GetOutgoingThrowsInOrder returns the throw edges sorted by index, catch-all
// last. The builder and editors maintain the order, so this is a filter.
func (b *Block) GetOutgoingThrowsInOrder() []*Edge {
	return b.GetSuccEdgesOfType(EdgeThrow)
}

// GotoTarget returns the GOTO successor block, or nil.
func (b *Block) GotoTarget() *Block {
	if e := b.GetSuccEdgeOfType(EdgeGoto); e != nil {
		return e.tgt
	}
	return nil
}

// SinglePred returns the unique predecessor block, or nil if there are zero
// or several.
func (b *Block) SinglePred() *Block {
	if len(b.preds) != 1 {
		return nil
	}
	return b.preds[0].src
}

// sameThrowChain reports whether two throw chains are identical, the
// observable form of "same try region".
func sameThrowChain(a, b []*Edge) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].catchType != b[i].catchType || a[i].tgt != b[i].tgt {
			return false
		}
	}
	return true
}
