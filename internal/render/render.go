// Package render exports control-flow and call graphs into the lattice
// exchange structures for visualization.
package render

import (
	"github.com/zboralski/lattice"

	"dexopt/internal/cfg"
	"dexopt/internal/dex"
	"dexopt/internal/hierarchy"
	"dexopt/internal/ir"
	"dexopt/internal/walk"
)

// MethodCFG maps one built CFG to a lattice.FuncCFG. Block instruction
// ranges use a running instruction index over the graph's block order, and
// every invoke becomes a call site labeled with its target triple.
func MethodCFG(name string, g *cfg.Graph) *lattice.FuncCFG {
	lcfg := &lattice.FuncCFG{Name: name}
	offset := 0
	for _, b := range g.BlocksInOrder() {
		start := offset
		lb := &lattice.BasicBlock{
			ID:    int(b.ID()),
			Start: start,
		}
		for _, item := range b.Items() {
			if item.Kind != ir.ItemInsn {
				continue
			}
			if ir.IsInvoke(item.Insn.Op()) {
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: offset,
					Callee: item.Insn.MethodRef().String(),
				})
			}
			offset++
		}
		lb.End = offset
		for _, e := range b.Succs() {
			if e.Tgt() == g.Exit() {
				lb.Term = true
				continue
			}
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: int(e.Tgt().ID()),
				Cond:    e.Kind().String(),
			})
		}
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}

// ScopeCFGs builds a transient CFG for every method body in the scope and
// collects them into one lattice.CFGGraph. Bodies already carrying a CFG are
// exported as-is and left attached.
func ScopeCFGs(scope []*dex.Class) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	walk.MethodsWithCode(scope, func(m *dex.MethodRef) {
		code := m.Code().(*ir.Code)
		transient := !code.HasCFG()
		var g *cfg.Graph
		if transient {
			g = cfg.Build(code, m.String(), false)
		} else {
			g = code.CFG().(*cfg.Graph)
		}
		cg.Funcs = append(cg.Funcs, MethodCFG(m.String(), g))
		if transient {
			g.ClearCFG()
		}
	})
	return cg
}

// CallGraph flattens a method call graph into a lattice.Graph of caller to
// callee name pairs. The synthetic entry and exit nodes are dropped.
func CallGraph(cg *hierarchy.CallGraph) *lattice.Graph {
	g := &lattice.Graph{}
	for _, node := range cg.Nodes() {
		if node.Method() == nil {
			continue
		}
		g.Nodes = append(g.Nodes, node.Method().String())
		for _, callee := range node.Callees() {
			if callee.Method() == nil {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: node.Method().String(),
				Callee: callee.Method().String(),
			})
		}
	}
	g.Dedup()
	return g
}
