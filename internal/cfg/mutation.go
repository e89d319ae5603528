package cfg

import (
	"fmt"
	"sort"

	"dexopt/internal/ir"
)

// ChangeSet is the staged edit for one anchor instruction. All staged
// sequences apply relative to the anchor when the owning Mutation flushes.
type ChangeSet struct {
	anchor *ir.Instruction

	posBefore, posAfter []*ir.Position
	sbBefore, sbAfter   []*ir.SourceBlock

	insertBefore, insertAfter []*ir.Instruction
	varBefore, varAfter       []*ir.Item

	replace    []*ir.Instruction
	hasReplace bool
}

// InsertPosBefore stages a source position before the anchor.
func (c *ChangeSet) InsertPosBefore(p *ir.Position) *ChangeSet {
	c.posBefore = append(c.posBefore, p)
	return c
}

// InsertPosAfter stages a source position after the anchor.
func (c *ChangeSet) InsertPosAfter(p *ir.Position) *ChangeSet {
	c.posAfter = append(c.posAfter, p)
	return c
}

// InsertSBBefore stages a source-block marker before the anchor.
func (c *ChangeSet) InsertSBBefore(sb *ir.SourceBlock) *ChangeSet {
	c.sbBefore = append(c.sbBefore, sb)
	return c
}

// InsertSBAfter stages a source-block marker after the anchor.
func (c *ChangeSet) InsertSBAfter(sb *ir.SourceBlock) *ChangeSet {
	c.sbAfter = append(c.sbAfter, sb)
	return c
}

// InsertBefore stages instructions before the anchor.
func (c *ChangeSet) InsertBefore(insns ...*ir.Instruction) *ChangeSet {
	c.insertBefore = append(c.insertBefore, insns...)
	return c
}

// InsertAfter stages instructions after the anchor.
func (c *ChangeSet) InsertAfter(insns ...*ir.Instruction) *ChangeSet {
	c.insertAfter = append(c.insertAfter, insns...)
	return c
}

// InsertBeforeVar stages a mixed instruction/marker sequence before the
// anchor, for when the relative order of markers and instructions matters.
func (c *ChangeSet) InsertBeforeVar(items ...*ir.Item) *ChangeSet {
	c.varBefore = append(c.varBefore, items...)
	return c
}

// InsertAfterVar stages a mixed sequence after the anchor.
func (c *ChangeSet) InsertAfterVar(items ...*ir.Item) *ChangeSet {
	c.varAfter = append(c.varAfter, items...)
	return c
}

// Replace stages a replacement sequence for the anchor itself. An empty
// replacement deletes the anchor.
func (c *ChangeSet) Replace(insns ...*ir.Instruction) *ChangeSet {
	c.replace = insns
	c.hasReplace = true
	return c
}

func (c *ChangeSet) empty() bool {
	return len(c.posBefore) == 0 && len(c.posAfter) == 0 &&
		len(c.sbBefore) == 0 && len(c.sbAfter) == 0 &&
		len(c.insertBefore) == 0 && len(c.insertAfter) == 0 &&
		len(c.varBefore) == 0 && len(c.varAfter) == 0 && !c.hasReplace
}

// check panics on an ill-formed change set. The rules: a Replace and a var
// sequence both claim the anchor's slot with no defined interleaving; plain
// InsertAfter on a terminal anchor would put code behind a terminator unless
// the Replace removes it; and two var families on one change have no defined
// order either.
func (c *ChangeSet) check() {
	if c.hasReplace && (len(c.varBefore) > 0 || len(c.varAfter) > 0) {
		panic(fmt.Sprintf("cfg: change on %s combines replace and var sequences", c.anchor))
	}
	if len(c.varBefore) > 0 && len(c.varAfter) > 0 {
		panic(fmt.Sprintf("cfg: change on %s uses both var families", c.anchor))
	}
	if (len(c.insertAfter) > 0 || len(c.varAfter) > 0) &&
		ir.IsTerminal(c.anchor.Op()) && !c.hasReplace {
		panic(fmt.Sprintf("cfg: insert after terminal %s without replace", c.anchor))
	}
}

// mayThrowAnything reports whether any staged instruction can throw or ends
// control flow, which forces the slow path inside try regions.
func (c *ChangeSet) mayThrowAnything() (canThrow, terminal bool) {
	scan := func(in *ir.Instruction) {
		if ir.CanThrow(in.Op()) {
			canThrow = true
		}
		if ir.IsTerminal(in.Op()) {
			terminal = true
		}
	}
	for _, in := range c.insertBefore {
		scan(in)
	}
	for _, in := range c.insertAfter {
		scan(in)
	}
	for _, in := range c.replace {
		scan(in)
	}
	for _, item := range c.varBefore {
		if item.Kind == ir.ItemInsn {
			scan(item.Insn)
		}
	}
	for _, item := range c.varAfter {
		if item.Kind == ir.ItemInsn {
			scan(item.Insn)
		}
	}
	return
}

// Mutation collects intended edits over a method while iterators are live
// and applies them in one deterministic flush. The observable effect equals
// applying every change independently on the pre-state, provided the change
// sets pass their legality checks.
type Mutation struct {
	g        *Graph
	changes  map[*ir.Instruction]*ChangeSet
	Warnings int
}

// NewMutation creates an empty mutation session for g.
func NewMutation(g *Graph) *Mutation {
	return &Mutation{g: g, changes: make(map[*ir.Instruction]*ChangeSet)}
}

// At returns the change set anchored at the given instruction, creating it
// on first use.
func (m *Mutation) At(anchor *ir.Instruction) *ChangeSet {
	if c, ok := m.changes[anchor]; ok {
		return c
	}
	c := &ChangeSet{anchor: anchor}
	m.changes[anchor] = c
	return c
}

// Clear disposes all staged changes without applying them.
func (m *Mutation) Clear() {
	m.changes = make(map[*ir.Instruction]*ChangeSet)
}

// Flush applies the staged changes in three phases: reduction, ordered
// apply (fast path per block, slow path where edits invalidate), and a
// spill pass over blocks the apply phase created. Changes whose anchor was
// destroyed by an earlier change are silently dropped. Flushing an empty
// session is a no-op, and a second flush of the same session does nothing.
func (m *Mutation) Flush() {
	if len(m.changes) == 0 {
		return
	}
	for _, c := range m.changes {
		c.check()
	}

	index := m.indexAnchors()

	// Phase 1: reduction. A move-result whose producer is being replaced
	// has no defunct register slot to edit; drop its change.
	for anchor, c := range m.changes {
		if !ir.IsMoveResultAny(anchor.Op()) {
			continue
		}
		it, ok := index[anchor]
		if !ok {
			continue
		}
		primary := m.g.PrimaryInstructionOfMoveResult(it)
		if primary.IsEnd() {
			continue
		}
		if pc, ok := m.changes[primary.Insn()]; ok && pc.hasReplace {
			if c.hasReplace && len(c.replace) > 0 {
				m.Warnings++
			}
			delete(m.changes, anchor)
		}
	}

	// Classify blocks. A block goes slow-path when any of its changes could
	// invalidate mid-walk: move-result anchors that are not block-first,
	// staged terminators, or may-throw code in a block with throw edges.
	type blockChanges struct {
		b       *Block
		anchors []*ir.Instruction
		slow    bool
	}
	byBlock := make(map[*Block]*blockChanges)
	for anchor, c := range m.changes {
		it, ok := index[anchor]
		if !ok {
			continue
		}
		b := it.b
		bc := byBlock[b]
		if bc == nil {
			bc = &blockChanges{b: b}
			byBlock[b] = bc
		}
		bc.anchors = append(bc.anchors, anchor)

		if ir.IsMoveResultAny(anchor.Op()) && b.FirstInsn() != anchor {
			bc.slow = true
		}
		canThrow, terminal := c.mayThrowAnything()
		if terminal || (canThrow && len(b.GetOutgoingThrowsInOrder()) > 0) {
			bc.slow = true
		}
		if c.hasReplace && ir.HasMoveResultAny(anchor.Op()) {
			// Replacing a producer may delete its move-result in the next
			// block; rescan rather than trust positions.
			bc.slow = true
		}
	}

	// Phase 2: ordered apply, deterministic by block id.
	blocks := make([]*blockChanges, 0, len(byBlock))
	for _, bc := range byBlock {
		blocks = append(blocks, bc)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].b.id < blocks[j].b.id })

	firstNewID := m.g.nextID

	for _, bc := range blocks {
		if bc.slow {
			m.slowApply(bc.b)
			continue
		}
		// Fast path: anchors in current block order, applied one pass.
		sort.Slice(bc.anchors, func(i, j int) bool {
			return bc.b.IterAt(bc.anchors[i]).idx < bc.b.IterAt(bc.anchors[j]).idx
		})
		for _, anchor := range bc.anchors {
			c, ok := m.changes[anchor]
			if !ok {
				continue
			}
			it := bc.b.IterAt(anchor)
			if it.IsEnd() {
				continue // destroyed by a prior change
			}
			if m.applyChange(it, c) && len(bc.anchors) > 1 {
				panic(fmt.Sprintf("cfg: fast-path invalidation with %d changes in B%d of %s",
					len(bc.anchors), bc.b.id, m.g.method))
			}
			delete(m.changes, anchor)
		}
	}

	// Phase 3: spill. Applying can create new blocks that received items
	// whose changes are still pending; slow-process them as they appear.
	for id := firstNewID; id <= m.g.MaxBlockID(); id++ {
		if len(m.changes) == 0 {
			break
		}
		if b := m.g.Block(id); b != nil {
			m.slowApply(b)
		}
	}

	// Anything left anchors an instruction that no longer exists.
	m.changes = make(map[*ir.Instruction]*ChangeSet)
}

// slowApply rescans b from the top on every match until no pending change
// anchors inside it.
func (m *Mutation) slowApply(b *Block) {
	for {
		applied := false
		for it := b.Begin(); !it.IsEnd(); it = it.Next() {
			if c, ok := m.changes[it.Insn()]; ok {
				delete(m.changes, it.Insn())
				m.applyChange(it, c)
				applied = true
				break
			}
		}
		if !applied || len(m.changes) == 0 {
			return
		}
	}
}

// applyChange applies one change set at the located anchor. Reports whether
// any underlying edit invalidated iterators.
func (m *Mutation) applyChange(it InsnIt, c *ChangeSet) bool {
	g := m.g
	invalidated := false
	anchor := it.Insn()

	// Befores.
	var beforeItems []*ir.Item
	for _, p := range c.posBefore {
		beforeItems = append(beforeItems, ir.PositionItem(p))
	}
	for _, sb := range c.sbBefore {
		beforeItems = append(beforeItems, ir.SourceBlockItem(sb))
	}
	if len(beforeItems) > 0 {
		g.InsertMarkersBefore(it, beforeItems...)
		it = it.b.IterAt(anchor)
	}
	if len(c.varBefore) > 0 {
		if g.insertItems(it, it.idx, cloneItemsShallow(c.varBefore)) {
			invalidated = true
		}
		it = m.relocate(anchor)
	}
	if len(c.insertBefore) > 0 {
		if g.InsertBefore(it, c.insertBefore...) {
			invalidated = true
		}
		it = m.relocate(anchor)
	}

	// Afters, placed directly behind the anchor so a following replacement
	// lands in front of them.
	var afterItems []*ir.Item
	for _, p := range c.posAfter {
		afterItems = append(afterItems, ir.PositionItem(p))
	}
	for _, sb := range c.sbAfter {
		afterItems = append(afterItems, ir.SourceBlockItem(sb))
	}
	if len(afterItems) > 0 {
		g.InsertMarkersAfter(it, afterItems...)
		it = it.b.IterAt(anchor)
	}
	if len(c.varAfter) > 0 {
		if g.InsertVariantAfter(it, cloneItemsShallow(c.varAfter)...) {
			invalidated = true
		}
		it = m.relocate(anchor)
	}
	if len(c.insertAfter) > 0 && !c.hasReplace {
		if g.InsertAfter(it, c.insertAfter...) {
			invalidated = true
		}
		it = m.relocate(anchor)
	}

	if c.hasReplace {
		slotBlock, slotIdx := it.b, it.idx
		if m.applyReplace(it, c) {
			invalidated = true
		}
		if len(c.insertAfter) > 0 {
			// The after-sequence goes where the anchor used to end.
			if len(c.replace) > 0 {
				last := c.replace[len(c.replace)-1]
				if rit := m.relocate(last); !rit.IsEnd() && !ir.IsTerminal(last.Op()) {
					if g.InsertAfter(rit, c.insertAfter...) {
						invalidated = true
					}
				}
			} else if slotIdx <= len(slotBlock.items) {
				// Empty replacement deleted the anchor; fill its slot.
				if g.insertItems(InsnIt{b: slotBlock, idx: slotIdx}, slotIdx, wrapInsns(c.insertAfter)) {
					invalidated = true
				}
			}
		}
	}
	return invalidated
}

// applyReplace swaps the anchor for its replacement sequence, preserving the
// anchor's move-result exactly when the new trailing instruction still
// produces a value.
func (m *Mutation) applyReplace(it InsnIt, c *ChangeSet) bool {
	g := m.g
	b := it.b
	anchor := it.Insn()

	producesValue := len(c.replace) > 0 && ir.HasMoveResultAny(c.replace[len(c.replace)-1].Op())
	hadMoveResult := ir.HasMoveResultAny(anchor.Op()) && !g.MoveResultOf(it).IsEnd()

	if hadMoveResult && producesValue {
		// Keep the move-result: detach the anchor without the paired
		// removal, then splice the replacement into its slot.
		idx := it.idx
		b.items = append(b.items[:idx], b.items[idx+1:]...)
		return g.insertItems(InsnIt{b: b, idx: idx}, idx, wrapInsns(c.replace))
	}
	return g.ReplaceInsns(it, c.replace...)
}

// relocate finds an instruction anywhere in the graph after edits may have
// moved it across blocks.
func (m *Mutation) relocate(in *ir.Instruction) InsnIt {
	for _, b := range m.g.BlocksInOrder() {
		if it := b.IterAt(in); !it.IsEnd() {
			return it
		}
	}
	// Destroyed; return an End iterator on the entry block.
	return m.g.entry.End()
}

func (m *Mutation) indexAnchors() map[*ir.Instruction]InsnIt {
	index := make(map[*ir.Instruction]InsnIt, len(m.changes))
	for _, b := range m.g.BlocksInOrder() {
		for it := b.Begin(); !it.IsEnd(); it = it.Next() {
			if _, ok := m.changes[it.Insn()]; ok {
				index[it.Insn()] = it
			}
		}
	}
	return index
}

func cloneItemsShallow(items []*ir.Item) []*ir.Item {
	out := make([]*ir.Item, len(items))
	copy(out, items)
	return out
}
