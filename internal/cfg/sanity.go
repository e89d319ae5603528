package cfg

import (
	"fmt"

	"dexopt/internal/ir"
)

// Check validates the structural invariants of the graph and returns every
// violation found. A healthy graph returns nil. Passes run this after
// editing when built with consistency checking enabled.
func (g *Graph) Check() []error {
	var errs []error
	report := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("cfg %s: "+format, append([]any{g.method}, args...)...))
	}

	for id, b := range g.blocks {
		if b.id != id {
			report("B%d registered under id %d", b.id, id)
		}

		// Edge endpoint symmetry.
		for _, e := range b.succs {
			if e.src != b {
				report("B%d succ edge claims src B%d", b.id, e.src.id)
			}
			if !containsEdge(e.tgt.preds, e) {
				report("B%d->B%d edge missing from target preds", b.id, e.tgt.id)
			}
			if g.blocks[e.tgt.id] != e.tgt {
				report("B%d->B%d edge targets unregistered block", b.id, e.tgt.id)
			}
		}
		for _, e := range b.preds {
			if e.tgt != b {
				report("B%d pred edge claims tgt B%d", b.id, e.tgt.id)
			}
			if !containsEdge(e.src.succs, e) {
				report("B%d<-B%d edge missing from source succs", b.id, e.src.id)
			}
		}

		if b == g.exit {
			if len(b.succs) != 0 || len(b.items) != 0 {
				report("exit block B%d has succs or items", b.id)
			}
			for _, e := range b.preds {
				if e.kind != EdgeGhost {
					report("exit block B%d has non-ghost pred from B%d", b.id, e.src.id)
				}
			}
			continue
		}

		g.checkBlockBody(b, report)
		g.checkBlockEdges(b, report)
	}
	return errs
}

func (g *Graph) checkBlockBody(b *Block, report func(string, ...any)) {
	last := b.LastInsn()
	for it := b.Begin(); !it.IsEnd(); it = it.Next() {
		op := it.Insn().Op()
		if ir.IsGoto(op) {
			report("B%d stores a goto instruction", b.id)
		}
		if ir.IsTerminal(op) && it.Insn() != last {
			report("B%d has terminal %s before the end", b.id, it.Insn())
		}
		// A value producer's move-result must be adjacent.
		if ir.IsMoveResultAny(op) {
			if prim := g.PrimaryInstructionOfMoveResult(it); prim.IsEnd() {
				report("B%d move-result %s has no producer", b.id, it.Insn())
			} else if !ir.HasMoveResultAny(prim.Insn().Op()) {
				report("B%d move-result %s follows non-producer %s", b.id, it.Insn(), prim.Insn())
			}
		}
	}
}

func (g *Graph) checkBlockEdges(b *Block, report func(string, ...any)) {
	throws := b.GetOutgoingThrowsInOrder()
	last := b.LastInsn()

	if len(throws) > 0 {
		if last == nil || !ir.CanThrow(last.Op()) {
			report("B%d has throw edges but does not end in a may-throw instruction", b.id)
		}
		seenCatchAll := false
		for i, e := range throws {
			if e.index != i {
				report("B%d throw edge %d carries index %d", b.id, i, e.index)
			}
			if seenCatchAll {
				report("B%d has a handler after its catch-all", b.id)
			}
			if e.catchType == nil {
				seenCatchAll = true
			}
		}
	}

	gotos := b.GetSuccEdgesOfType(EdgeGoto)
	branches := b.GetSuccEdgesOfType(EdgeBranch)
	if len(gotos) > 1 {
		report("B%d has %d goto successors", b.id, len(gotos))
	}

	switch {
	case last == nil:
	case ir.IsConditionalBranch(last.Op()):
		if len(branches) != 1 {
			report("B%d ends in %s with %d branch edges", b.id, last, len(branches))
		}
		if len(gotos) != 1 {
			report("B%d ends in %s without a fallthrough goto", b.id, last)
		}
	case ir.IsSwitch(last.Op()):
		if len(gotos) != 1 {
			report("B%d ends in %s without a fallthrough goto", b.id, last)
		}
		for _, e := range branches {
			if e.caseKey == nil {
				report("B%d switch edge to B%d lacks a case key", b.id, e.tgt.id)
			}
		}
	case ir.IsReturn(last.Op()):
		if len(gotos) != 0 || len(branches) != 0 {
			report("B%d ends in %s but has control successors", b.id, last)
		}
	case last.Op() == ir.OpThrow:
		if len(gotos) != 0 || len(branches) != 0 {
			report("B%d ends in %s but has control successors", b.id, last)
		}
	default:
		if len(branches) != 0 {
			report("B%d ends in non-branching %s but has branch edges", b.id, last)
		}
	}
}

func containsEdge(list []*Edge, e *Edge) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}
