package cfg

import (
	"fmt"
	"sort"

	"dexopt/internal/dex"
	"dexopt/internal/ir"
)

// Graph is the control-flow graph of one method body. Building a graph moves
// the method's code out of flat-list form; ClearCFG linearizes it back.
type Graph struct {
	method   string
	code     *ir.Code
	blocks   map[BlockID]*Block
	entry    *Block
	exit     *Block
	nextID   BlockID
	regCount int
	editable bool
}

// Build constructs the CFG for code and attaches it. The method name is kept
// for diagnostics only.
func Build(code *ir.Code, method string, editable bool) *Graph {
	list := code.List()
	g := &Graph{
		method:   method,
		code:     code,
		blocks:   make(map[BlockID]*Block),
		regCount: code.RegisterCount(),
		editable: editable,
	}
	g.build(list)
	code.AttachCFG(g)
	return g
}

// Method returns the diagnostic method name.
func (g *Graph) Method() string { return g.method }

// Entry returns the entry block.
func (g *Graph) Entry() *Block { return g.entry }

// Exit returns the synthetic exit block (ghost edges only).
func (g *Graph) Exit() *Block { return g.exit }

// Editable reports whether mutating operations are permitted.
func (g *Graph) Editable() bool { return g.editable }

// RegisterCount returns the register file size.
func (g *Graph) RegisterCount() int { return g.regCount }

// SetRegisterCount grows or shrinks the register file.
func (g *Graph) SetRegisterCount(n int) { g.regCount = n }

// Block returns the block with the given id, or nil.
func (g *Graph) Block(id BlockID) *Block { return g.blocks[id] }

// MaxBlockID returns the largest id handed out so far.
func (g *Graph) MaxBlockID() BlockID { return g.nextID - 1 }

// BlocksInOrder returns all real blocks sorted by id; the synthetic exit
// block is excluded.
func (g *Graph) BlocksInOrder() []*Block {
	out := make([]*Block, 0, len(g.blocks))
	for _, b := range g.blocks {
		if b != g.exit {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// InstructionCount returns the number of instructions across all blocks.
func (g *Graph) InstructionCount() int {
	n := 0
	for _, b := range g.blocks {
		n += b.InstructionCount()
	}
	return n
}

// NumBlocks returns the number of real blocks.
func (g *Graph) NumBlocks() int {
	n := len(g.blocks)
	if g.exit != nil {
		n--
	}
	return n
}

func (g *Graph) allocBlock() *Block {
	b := &Block{id: g.nextID, g: g}
	g.nextID++
	g.blocks[b.id] = b
	return b
}

// AddEdge creates a GOTO or BRANCH edge.
func (g *Graph) AddEdge(src, tgt *Block, kind EdgeKind) *Edge {
	e := &Edge{src: src, tgt: tgt, kind: kind}
	src.succs = append(src.succs, e)
	tgt.preds = append(tgt.preds, e)
	return e
}

// AddBranchEdge creates a BRANCH edge with a switch case key.
func (g *Graph) AddBranchEdge(src, tgt *Block, caseKey int64) *Edge {
	e := g.AddEdge(src, tgt, EdgeBranch)
	k := caseKey
	e.caseKey = &k
	return e
}

// AddThrowEdge creates a THROW edge with the given catch type and index,
// keeping the source's throw list ordered by index with catch-all last.
func (g *Graph) AddThrowEdge(src, tgt *Block, catchType *dex.Type, index int) *Edge {
	e := &Edge{src: src, tgt: tgt, kind: EdgeThrow, catchType: catchType, index: index}
	pos := len(src.succs)
	for i, se := range src.succs {
		if se.kind == EdgeThrow && se.index > index {
			pos = i
			break
		}
	}
	src.succs = append(src.succs, nil)
	copy(src.succs[pos+1:], src.succs[pos:])
	src.succs[pos] = e
	tgt.preds = append(tgt.preds, e)
	return e
}

// DeleteEdge removes e from both endpoints.
func (g *Graph) DeleteEdge(e *Edge) {
	e.src.succs = dropEdge(e.src.succs, e)
	e.tgt.preds = dropEdge(e.tgt.preds, e)
}

// DeleteSuccEdgeIf removes every outgoing edge of b matching pred.
func (g *Graph) DeleteSuccEdgeIf(b *Block, pred func(*Edge) bool) {
	for _, e := range append([]*Edge(nil), b.succs...) {
		if pred(e) {
			g.DeleteEdge(e)
		}
	}
}

// RedirectEdge points e at a new target.
func (g *Graph) RedirectEdge(e *Edge, tgt *Block) {
	e.tgt.preds = dropEdge(e.tgt.preds, e)
	e.tgt = tgt
	tgt.preds = append(tgt.preds, e)
}

func dropEdge(list []*Edge, e *Edge) []*Edge {
	for i, x := range list {
		if x == e {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// pendingTerm records how a block ended during construction, before labels
// can be resolved to blocks.
type pendingTerm struct {
	block       *Block
	fallthrough_ bool // needs GOTO to the next block in layout
	gotoLabel   *int  // explicit goto target
	targets     []ir.Target
	catches     []ir.CatchEntry // throw edges to attach
	toExit      bool
}

func (g *Graph) build(list *ir.List) {
	items := list.Items()

	labelBlock := make(map[int]*Block)
	var layout []*Block
	var pends []*pendingTerm

	var catchStack [][]ir.CatchEntry
	activeCatches := func() []ir.CatchEntry {
		if len(catchStack) == 0 {
			return nil
		}
		return catchStack[len(catchStack)-1]
	}

	cur := g.allocBlock()
	layout = append(layout, cur)
	curClosed := false

	// startNew opens a fresh block; if the previous one never terminated it
	// falls through.
	startNew := func() {
		if !curClosed && (len(cur.items) > 0 || len(layout) == 1) {
			pends = append(pends, &pendingTerm{block: cur, fallthrough_: true})
		}
		cur = g.allocBlock()
		layout = append(layout, cur)
		curClosed = false
	}
	// ensureOpen reuses the current block if it is still empty and open.
	ensureOpen := func() *Block {
		if curClosed {
			cur = g.allocBlock()
			layout = append(layout, cur)
			curClosed = false
		}
		return cur
	}

	for _, item := range items {
		switch item.Kind {
		case ir.ItemLabel:
			if len(cur.items) > 0 || curClosed {
				startNew()
			}
			labelBlock[item.LabelID] = cur

		case ir.ItemTryStart:
			if len(cur.items) > 0 || curClosed {
				startNew()
			}
			catchStack = append(catchStack, item.Catches)

		case ir.ItemTryEnd:
			if len(catchStack) == 0 {
				panic(fmt.Sprintf("cfg: unmatched try-end in %s", g.method))
			}
			catchStack = catchStack[:len(catchStack)-1]
			if len(cur.items) > 0 {
				startNew()
			}

		case ir.ItemPosition, ir.ItemSourceBlock:
			ensureOpen().items = append(cur.items, item)

		case ir.ItemInsn:
			in := item.Insn
			op := in.Op()
			if op == ir.OpGoto {
				// Gotos live as edges, not instructions.
				b := ensureOpen()
				if len(item.Targets) != 1 {
					panic(fmt.Sprintf("cfg: goto without target in %s", g.method))
				}
				lbl := item.Targets[0].LabelID
				pends = append(pends, &pendingTerm{block: b, gotoLabel: &lbl})
				curClosed = true
				continue
			}

			b := ensureOpen()
			b.items = append(b.items, item)

			switch {
			case ir.IsConditionalBranch(op), ir.IsSwitch(op):
				pends = append(pends, &pendingTerm{
					block:        b,
					targets:      append([]ir.Target(nil), item.Targets...),
					fallthrough_: true,
				})
				curClosed = true
			case ir.IsReturn(op):
				pends = append(pends, &pendingTerm{block: b, toExit: true})
				curClosed = true
			case op == ir.OpThrow:
				pends = append(pends, &pendingTerm{
					block:   b,
					catches: append([]ir.CatchEntry(nil), activeCatches()...),
					toExit:  true,
				})
				curClosed = true
			case ir.MayThrow(op) && len(activeCatches()) > 0:
				// Inside a try region every may-throw instruction ends its
				// block so the throw edges hang off the right instruction.
				pends = append(pends, &pendingTerm{
					block:        b,
					catches:      append([]ir.CatchEntry(nil), activeCatches()...),
					fallthrough_: true,
				})
				curClosed = true
			}
		}
	}
	if !curClosed && len(cur.items) > 0 {
		pends = append(pends, &pendingTerm{block: cur, toExit: true})
	} else if !curClosed && len(cur.items) == 0 && len(layout) > 1 {
		// Trailing empty block from a final label; leave it terminal.
		pends = append(pends, &pendingTerm{block: cur, toExit: true})
	}

	g.entry = layout[0]
	g.exit = g.allocBlock()

	nextInLayout := func(b *Block) *Block {
		for i, lb := range layout {
			if lb == b && i+1 < len(layout) {
				return layout[i+1]
			}
		}
		return nil
	}

	resolve := func(lbl int) *Block {
		tb := labelBlock[lbl]
		if tb == nil {
			panic(fmt.Sprintf("cfg: undefined label L%d in %s", lbl, g.method))
		}
		return tb
	}

	for _, p := range pends {
		for _, t := range p.targets {
			if t.CaseKey != nil {
				g.AddBranchEdge(p.block, resolve(t.LabelID), *t.CaseKey)
			} else {
				g.AddEdge(p.block, resolve(t.LabelID), EdgeBranch)
			}
		}
		for i, c := range p.catches {
			g.AddThrowEdge(p.block, resolve(c.LabelID), c.Type, i)
		}
		switch {
		case p.gotoLabel != nil:
			g.AddEdge(p.block, resolve(*p.gotoLabel), EdgeGoto)
		case p.fallthrough_:
			if nb := nextInLayout(p.block); nb != nil {
				g.AddEdge(p.block, nb, EdgeGoto)
			} else {
				g.AddEdge(p.block, g.exit, EdgeGhost)
			}
		case p.toExit:
			// A throw that reached a handler has throw edges instead.
			if len(p.block.GetSuccEdgesOfType(EdgeThrow)) == 0 {
				g.AddEdge(p.block, g.exit, EdgeGhost)
			}
		}
	}

	// Drop unreferenced empty blocks the builder may have opened.
	for _, b := range layout {
		if len(b.items) == 0 && len(b.preds) == 0 && b != g.entry {
			g.DeleteSuccEdgeIf(b, func(*Edge) bool { return true })
			delete(g.blocks, b.id)
		}
	}
}

// ClearCFG linearizes the graph back into the code object's flat list and
// detaches it. The graph must not be used afterwards.
func (g *Graph) ClearCFG() {
	list := g.Linearize()
	g.code.SetRegisterCount(g.regCount)
	g.code.DetachCFG(list)
	g.code = nil
}
