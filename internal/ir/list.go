package ir

import (
	"fmt"
	"strings"

	"dexopt/internal/dex"
)

// ItemKind discriminates the entries of the flat method-item list.
type ItemKind int

const (
	ItemInsn ItemKind = iota
	ItemLabel
	ItemTryStart
	ItemTryEnd
	ItemPosition
	ItemSourceBlock
)

// Position is a source position entry. Parent chains positions across
// inlining: an inlined position's parent is the call site.
type Position struct {
	Method string
	Line   int
	Parent *Position
}

// SourceBlock is an instrumentation marker identifying the originating
// source-level block.
type SourceBlock struct {
	ID int
}

// CatchEntry is one handler of a try region. A nil Type is the catch-all.
type CatchEntry struct {
	Type    *dex.Type
	LabelID int
}

// Target is one branch target of an instruction item. CaseKey is set for
// switch case edges and nil for goto/if targets.
type Target struct {
	LabelID int
	CaseKey *int64
}

// Item is one entry of the flat list: an instruction (with branch targets
// when it branches), a label, a try-region marker, a source position or a
// source-block marker.
type Item struct {
	Kind    ItemKind
	Insn    *Instruction
	Targets []Target
	LabelID int
	Catches []CatchEntry
	Pos     *Position
	SrcBlk  *SourceBlock
}

// InsnItem wraps an instruction as a list item.
func InsnItem(in *Instruction) *Item { return &Item{Kind: ItemInsn, Insn: in} }

// BranchItem wraps a branching instruction with its targets.
func BranchItem(in *Instruction, targets ...Target) *Item {
	return &Item{Kind: ItemInsn, Insn: in, Targets: targets}
}

// LabelItem creates a label marker.
func LabelItem(id int) *Item { return &Item{Kind: ItemLabel, LabelID: id} }

// TryStartItem opens a try region with the given handlers.
func TryStartItem(catches ...CatchEntry) *Item {
	return &Item{Kind: ItemTryStart, Catches: catches}
}

// TryEndItem closes the innermost open try region.
func TryEndItem() *Item { return &Item{Kind: ItemTryEnd} }

// PositionItem creates a source-position entry.
func PositionItem(pos *Position) *Item { return &Item{Kind: ItemPosition, Pos: pos} }

// SourceBlockItem creates a source-block marker.
func SourceBlockItem(sb *SourceBlock) *Item { return &Item{Kind: ItemSourceBlock, SrcBlk: sb} }

// Clone deep-copies the item, including its instruction.
func (it *Item) Clone() *Item {
	cp := *it
	if it.Insn != nil {
		cp.Insn = it.Insn.Clone()
	}
	cp.Targets = append([]Target(nil), it.Targets...)
	cp.Catches = append([]CatchEntry(nil), it.Catches...)
	return &cp
}

func (it *Item) String() string {
	switch it.Kind {
	case ItemInsn:
		if len(it.Targets) == 0 {
			return it.Insn.String()
		}
		var b strings.Builder
		b.WriteString(it.Insn.String())
		for _, t := range it.Targets {
			if t.CaseKey != nil {
				fmt.Fprintf(&b, " [%d]:L%d", *t.CaseKey, t.LabelID)
			} else {
				fmt.Fprintf(&b, " :L%d", t.LabelID)
			}
		}
		return b.String()
	case ItemLabel:
		return fmt.Sprintf(":L%d", it.LabelID)
	case ItemTryStart:
		var b strings.Builder
		b.WriteString("try-start")
		for _, c := range it.Catches {
			if c.Type == nil {
				fmt.Fprintf(&b, " catch-all:L%d", c.LabelID)
			} else {
				fmt.Fprintf(&b, " catch %s:L%d", c.Type, c.LabelID)
			}
		}
		return b.String()
	case ItemTryEnd:
		return "try-end"
	case ItemPosition:
		return fmt.Sprintf(".pos %s:%d", it.Pos.Method, it.Pos.Line)
	case ItemSourceBlock:
		return fmt.Sprintf(".src-block %d", it.SrcBlk.ID)
	}
	return "item(?)"
}

// List is the flat form of a method body: a sequence of items.
type List struct {
	items []*Item
}

// NewList creates a list from items.
func NewList(items ...*Item) *List {
	return &List{items: items}
}

// Items returns the underlying slice. Callers must not reorder it while a
// CFG is built from the same code object.
func (l *List) Items() []*Item { return l.items }

// Append adds items at the end.
func (l *List) Append(items ...*Item) { l.items = append(l.items, items...) }

// InstructionCount returns the number of instruction items.
func (l *List) InstructionCount() int {
	n := 0
	for _, it := range l.items {
		if it.Kind == ItemInsn {
			n++
		}
	}
	return n
}

// Instructions returns the instructions in list order.
func (l *List) Instructions() []*Instruction {
	var out []*Instruction
	for _, it := range l.items {
		if it.Kind == ItemInsn {
			out = append(out, it.Insn)
		}
	}
	return out
}

func (l *List) String() string {
	var b strings.Builder
	for _, it := range l.items {
		b.WriteString(it.String())
		b.WriteByte('\n')
	}
	return b.String()
}
