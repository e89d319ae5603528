package typeanalysis

import (
	"dexopt/internal/cfg"
	"dexopt/internal/dex"
	"dexopt/internal/domain"
	"dexopt/internal/ir"
)

// NullCheckStats reports what RemoveRedundantNullChecks did to one method.
type NullCheckStats struct {
	NumNullChecksRemoved int
}

// RemoveRedundantNullChecks deletes if-eqz/if-nez branches whose register
// has a definite nullness. Methods where the nullness results do not apply
// are left untouched. The graph must be editable.
func RemoveRedundantNullChecks(gta *GlobalTypeAnalyzer, m *dex.MethodRef, g *cfg.Graph) NullCheckStats {
	var stats NullCheckStats
	if !gta.CanUseNullnessResults(m) {
		return stats
	}

	la := AnalyzeMethod(gta.context(m), g)

	// alwaysTaken maps each decidable branch to whether it jumps.
	alwaysTaken := make(map[*ir.Instruction]bool)
	la.ForEach(func(b *cfg.Block, in *ir.Instruction, env domain.TypeEnvironment) {
		var taken bool
		switch in.Op() {
		case ir.OpIfEqz:
			taken = false
		case ir.OpIfNez:
			taken = true
		default:
			return
		}
		switch env.Get(in.Src(0)).Nullness() {
		case domain.NotNull:
			alwaysTaken[in] = taken
		case domain.IsNull:
			alwaysTaken[in] = !taken
		}
	})

	for in, taken := range alwaysTaken {
		it, ok := findInsn(g, in)
		if !ok {
			continue
		}
		if taken {
			// The fallthrough is dead; the branch target becomes the goto.
			b := it.Block()
			branch := b.GetSuccEdgeOfType(cfg.EdgeBranch)
			gotoEdge := b.GetSuccEdgeOfType(cfg.EdgeGoto)
			if branch == nil || gotoEdge == nil {
				continue
			}
			g.RedirectEdge(gotoEdge, branch.Tgt())
		}
		g.RemoveInsn(it)
		stats.NumNullChecksRemoved++
	}
	if stats.NumNullChecksRemoved > 0 {
		g.RemoveUnreachableBlocks()
	}
	return stats
}

func findInsn(g *cfg.Graph, in *ir.Instruction) (cfg.InsnIt, bool) {
	for it := g.InstructionIterator(); !it.IsEnd(); it.Next() {
		if it.Insn() == in {
			return it.It(), true
		}
	}
	return cfg.InsnIt{}, false
}
