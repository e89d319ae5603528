package hierarchy

import (
	"sort"

	"dexopt/internal/cfg"
	"dexopt/internal/dex"
	"dexopt/internal/ir"
)

// CallNode is a call graph node. The synthetic entry and exit carry a nil
// method.
type CallNode struct {
	method  *dex.MethodRef
	callees []*CallNode
	callers []*CallNode
}

// Method returns the node's method, nil for entry and exit.
func (n *CallNode) Method() *dex.MethodRef { return n.method }

// Callees returns the nodes n calls.
func (n *CallNode) Callees() []*CallNode { return n.callees }

// Callers returns the nodes calling n.
func (n *CallNode) Callers() []*CallNode { return n.callers }

// CallGraph is the single-callee call graph: an invoke contributes an edge
// only when it resolves to exactly one concrete target. Methods without
// callers hang off the synthetic entry, methods without callees feed the
// synthetic exit.
type CallGraph struct {
	nodes map[*dex.MethodRef]*CallNode
	entry *CallNode
	exit  *CallNode
}

// BuildCallGraph resolves every invoke in the scope against the override
// graph.
func BuildCallGraph(reg *dex.Registry, scope []*dex.Class, og *OverrideGraph) *CallGraph {
	cg := &CallGraph{
		nodes: make(map[*dex.MethodRef]*CallNode),
		entry: &CallNode{},
		exit:  &CallNode{},
	}
	for _, c := range scope {
		for _, m := range c.AllMethods() {
			if m.Code() != nil {
				cg.nodes[m] = &CallNode{method: m}
			}
		}
	}

	for _, c := range scope {
		for _, m := range c.AllMethods() {
			src := cg.nodes[m]
			if src == nil {
				continue
			}
			eachInvoke(m, func(ref *dex.MethodRef, op ir.Op) {
				tgt := resolveSingleCallee(reg, og, ref, op)
				if tgt == nil {
					return
				}
				if dst := cg.nodes[tgt]; dst != nil {
					link(src, dst)
				}
			})
		}
	}

	for _, n := range cg.nodes {
		if len(n.callers) == 0 {
			link(cg.entry, n)
		}
		if len(n.callees) == 0 {
			link(n, cg.exit)
		}
	}
	return cg
}

// Entry returns the synthetic entry node.
func (cg *CallGraph) Entry() *CallNode { return cg.entry }

// Exit returns the synthetic exit node.
func (cg *CallGraph) Exit() *CallNode { return cg.exit }

// Node returns the node of m, or nil when m has no body in scope.
func (cg *CallGraph) Node(m *dex.MethodRef) *CallNode { return cg.nodes[m] }

// Nodes returns every method node ordered by method ID.
func (cg *CallGraph) Nodes() []*CallNode {
	out := make([]*CallNode, 0, len(cg.nodes))
	for _, n := range cg.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].method.ID() < out[j].method.ID() })
	return out
}

// ReachableFrom returns the set of methods reachable from the seeds,
// including the seeds themselves.
func (cg *CallGraph) ReachableFrom(seeds []*dex.MethodRef) map[*dex.MethodRef]bool {
	out := make(map[*dex.MethodRef]bool)
	var stack []*CallNode
	for _, m := range seeds {
		if n := cg.nodes[m]; n != nil && !out[m] {
			out[m] = true
			stack = append(stack, n)
		}
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, callee := range n.callees {
			if callee.method == nil || out[callee.method] {
				continue
			}
			out[callee.method] = true
			stack = append(stack, callee)
		}
	}
	return out
}

func link(src, dst *CallNode) {
	for _, c := range src.callees {
		if c == dst {
			return
		}
	}
	src.callees = append(src.callees, dst)
	dst.callers = append(dst.callers, src)
}

// resolveSingleCallee maps an invoke to its unique concrete target, or nil
// when resolution fails or dispatch is ambiguous.
func resolveSingleCallee(reg *dex.Registry, og *OverrideGraph, ref *dex.MethodRef, op ir.Op) *dex.MethodRef {
	def := resolveDef(reg, ref)
	if def == nil || def.IsNative() {
		return nil
	}
	switch op {
	case ir.OpInvokeStatic, ir.OpInvokeDirect, ir.OpInvokeSuper:
		return def
	}
	// Virtual dispatch: the resolved definition plus everything overriding
	// it. A single concrete candidate makes the edge.
	candidates := make([]*dex.MethodRef, 0, 2)
	if def.Code() != nil && !def.Def().Access.IsAbstract() {
		candidates = append(candidates, def)
	}
	for _, o := range og.OverridingMethods(def, true) {
		if o.Code() != nil && !o.Def().Access.IsAbstract() {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) != 1 {
		return nil
	}
	return candidates[0]
}

// resolveDef walks the owner's super chain to the nearest definition of ref.
func resolveDef(reg *dex.Registry, ref *dex.MethodRef) *dex.MethodRef {
	if ref.IsDef() {
		return ref
	}
	for t := ref.Owner(); t != nil; {
		cls := reg.ClassOf(t)
		if cls == nil || cls.IsExternal() {
			return nil
		}
		if m := cls.FindMethod(ref.Name(), ref.Proto()); m != nil && m.IsDef() {
			return m
		}
		t = cls.Super()
	}
	return nil
}

// eachInvoke visits every invoke instruction in m's body with its method
// payload, whether the body is in list or CFG form.
func eachInvoke(m *dex.MethodRef, fn func(ref *dex.MethodRef, op ir.Op)) {
	code, ok := m.Code().(*ir.Code)
	if !ok || code == nil {
		return
	}
	visit := func(in *ir.Instruction) {
		if ir.IsInvoke(in.Op()) {
			fn(in.MethodRef(), in.Op())
		}
	}
	if code.HasCFG() {
		if g, ok := code.CFG().(*cfg.Graph); ok {
			for _, b := range g.BlocksInOrder() {
				for _, item := range b.Items() {
					if item.Kind == ir.ItemInsn {
						visit(item.Insn)
					}
				}
			}
		}
		return
	}
	for _, in := range code.List().Instructions() {
		visit(in)
	}
}
