// Package hierarchy derives the structural views the analyses and rewriters
// need from a class scope: the subclass forest, the flattened interface
// implementor map, the method override graph and a single-callee call graph.
// All views are built once per pass and are read-only afterwards.
package hierarchy

import (
	"sort"

	"dexopt/internal/dex"
)

// ClassHierarchy maps every type to its sorted set of direct children.
// Chains stop at unknown (external) types.
type ClassHierarchy struct {
	reg      *dex.Registry
	children map[*dex.Type][]*dex.Type
}

// BuildClassHierarchy walks the scope and records each class under its
// declared super.
func BuildClassHierarchy(reg *dex.Registry, scope []*dex.Class) *ClassHierarchy {
	h := &ClassHierarchy{reg: reg, children: make(map[*dex.Type][]*dex.Type)}
	for _, c := range scope {
		if super := c.Super(); super != nil {
			h.children[super] = append(h.children[super], c.Type())
		}
	}
	for _, kids := range h.children {
		sort.Slice(kids, func(i, j int) bool { return kids[i].ID() < kids[j].ID() })
	}
	return h
}

// Children returns the direct subclasses of t.
func (h *ClassHierarchy) Children(t *dex.Type) []*dex.Type {
	return h.children[t]
}

// AllChildren appends every transitive subclass of t to out and returns the
// extended slice.
func (h *ClassHierarchy) AllChildren(t *dex.Type, out []*dex.Type) []*dex.Type {
	for _, c := range h.children[t] {
		out = append(out, c)
		out = h.AllChildren(c, out)
	}
	return out
}

// IsSubclass reports whether child is parent or below it. The walk stops at
// the first unknown class.
func (h *ClassHierarchy) IsSubclass(parent, child *dex.Type) bool {
	for t := child; t != nil; {
		if t == parent {
			return true
		}
		cls := h.reg.ClassOf(t)
		if cls == nil || cls.IsExternal() {
			return false
		}
		t = cls.Super()
	}
	return false
}

// Parent returns the declared super of a class type; ok is false when the
// class is unknown and the chain must stop. Satisfies domain.TypeOracle.
func (h *ClassHierarchy) Parent(t *dex.Type) (*dex.Type, bool) {
	cls := h.reg.ClassOf(t)
	if cls == nil || cls.IsExternal() {
		return nil, false
	}
	return cls.Super(), true
}

// IsKnown reports whether t resolves to a class in scope.
func (h *ClassHierarchy) IsKnown(t *dex.Type) bool {
	cls := h.reg.ClassOf(t)
	return cls != nil && !cls.IsExternal()
}

// Interfaces returns the flattened set of interfaces t implements, walking
// the super chain and super-interfaces up to the first unknown class.
func (h *ClassHierarchy) Interfaces(t *dex.Type) []*dex.Type {
	seen := make(map[*dex.Type]bool)
	var out []*dex.Type
	var addIface func(i *dex.Type)
	addIface = func(i *dex.Type) {
		if seen[i] {
			return
		}
		seen[i] = true
		out = append(out, i)
		if cls := h.reg.ClassOf(i); cls != nil && !cls.IsExternal() {
			for _, super := range cls.Interfaces() {
				addIface(super)
			}
		}
	}
	for cur := t; cur != nil; {
		cls := h.reg.ClassOf(cur)
		if cls == nil || cls.IsExternal() {
			break
		}
		for _, i := range cls.Interfaces() {
			addIface(i)
		}
		cur = cls.Super()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// HasHierarchyInScope reports whether every class on t's super chain up to
// java.lang.Object is known.
func (h *ClassHierarchy) HasHierarchyInScope(t *dex.Type) bool {
	object := h.reg.GetType("Ljava/lang/Object;")
	for cur := t; cur != nil && cur != object; {
		cls := h.reg.ClassOf(cur)
		if cls == nil || cls.IsExternal() {
			return false
		}
		cur = cls.Super()
	}
	return true
}

// InterfaceMap maps each interface to the set of classes that transitively
// implement it: a class implements its direct interfaces plus every
// super-interface of those, up to the first unknown interface.
type InterfaceMap struct {
	implementors map[*dex.Type][]*dex.Class
}

// BuildInterfaceMap flattens the implements relation over the scope.
func BuildInterfaceMap(reg *dex.Registry, scope []*dex.Class) *InterfaceMap {
	m := &InterfaceMap{implementors: make(map[*dex.Type][]*dex.Class)}
	for _, c := range scope {
		if c.IsInterface() {
			continue
		}
		seen := make(map[*dex.Type]bool)
		var visit func(i *dex.Type)
		visit = func(i *dex.Type) {
			if seen[i] {
				return
			}
			seen[i] = true
			m.implementors[i] = append(m.implementors[i], c)
			icls := reg.ClassOf(i)
			if icls == nil || icls.IsExternal() {
				return
			}
			for _, super := range icls.Interfaces() {
				visit(super)
			}
		}
		for _, i := range c.Interfaces() {
			visit(i)
		}
	}
	for _, impls := range m.implementors {
		sort.Slice(impls, func(i, j int) bool {
			return impls[i].Type().ID() < impls[j].Type().ID()
		})
	}
	return m
}

// Implementors returns the classes transitively implementing iface.
func (m *InterfaceMap) Implementors(iface *dex.Type) []*dex.Class {
	return m.implementors[iface]
}
