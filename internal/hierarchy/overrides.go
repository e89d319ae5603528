package hierarchy

import (
	"sort"

	"dexopt/internal/dex"
)

// OverrideGraph records, for every virtual method, its direct overrides and
// direct overriddens.
type OverrideGraph struct {
	overriding map[*dex.MethodRef][]*dex.MethodRef // m -> methods overriding m
	overridden map[*dex.MethodRef][]*dex.MethodRef // m -> methods m overrides
}

// BuildOverrideGraph matches virtual methods by (name, proto) along the
// subclass and interface-implementation edges.
func BuildOverrideGraph(reg *dex.Registry, scope []*dex.Class, ch *ClassHierarchy) *OverrideGraph {
	og := &OverrideGraph{
		overriding: make(map[*dex.MethodRef][]*dex.MethodRef),
		overridden: make(map[*dex.MethodRef][]*dex.MethodRef),
	}

	link := func(parent, child *dex.MethodRef) {
		og.overriding[parent] = append(og.overriding[parent], child)
		og.overridden[child] = append(og.overridden[child], parent)
	}

	for _, c := range scope {
		for _, m := range c.VirtualMethods() {
			// The nearest declaration up the super chain.
			for cur := c.Super(); cur != nil; {
				cls := reg.ClassOf(cur)
				if cls == nil || cls.IsExternal() {
					break
				}
				if parent := cls.FindVirtualMethod(m.Name(), m.Proto()); parent != nil {
					link(parent, m)
					break
				}
				cur = cls.Super()
			}
			// Interface methods the declaration implements.
			for _, iface := range ch.Interfaces(c.Type()) {
				icls := reg.ClassOf(iface)
				if icls == nil || icls.IsExternal() {
					continue
				}
				if decl := icls.FindVirtualMethod(m.Name(), m.Proto()); decl != nil {
					link(decl, m)
				}
			}
		}
	}
	for _, edges := range og.overriding {
		sortMethods(edges)
	}
	for _, edges := range og.overridden {
		sortMethods(edges)
	}
	return og
}

// OverridingMethods returns the methods overriding m, direct or transitive.
func (og *OverrideGraph) OverridingMethods(m *dex.MethodRef, transitive bool) []*dex.MethodRef {
	return og.closure(og.overriding, m, transitive)
}

// OverriddenMethods returns the methods m overrides, direct or transitive.
func (og *OverrideGraph) OverriddenMethods(m *dex.MethodRef, transitive bool) []*dex.MethodRef {
	return og.closure(og.overridden, m, transitive)
}

// IsTrueVirtual reports whether m participates in dynamic dispatch: it has
// at least one override or overrides something itself.
func (og *OverrideGraph) IsTrueVirtual(m *dex.MethodRef) bool {
	return len(og.overriding[m]) > 0 || len(og.overridden[m]) > 0
}

func (og *OverrideGraph) closure(edges map[*dex.MethodRef][]*dex.MethodRef, m *dex.MethodRef, transitive bool) []*dex.MethodRef {
	if !transitive {
		return edges[m]
	}
	seen := make(map[*dex.MethodRef]bool)
	var out []*dex.MethodRef
	stack := append([]*dex.MethodRef(nil), edges[m]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		stack = append(stack, edges[cur]...)
	}
	sortMethods(out)
	return out
}

func sortMethods(ms []*dex.MethodRef) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID() < ms[j].ID() })
}
