package passes

import (
	"sort"
	"strings"

	"dexopt/internal/config"
	"dexopt/internal/dex"
	"dexopt/internal/hierarchy"
	"dexopt/internal/ir"
	"dexopt/internal/walk"
)

// escapeReason is the bitset of conditions disqualifying an interface from
// the single-implementation rewrite.
type escapeReason uint32

const (
	escClinit escapeReason = 1 << iota
	escHasSFields
	escHasArrayType
	escNativeMethod
	escUnknownMref
	escHasFieldRef
	escFiltered
	escImplParentEscaped
	escDoNotStrip
	escCrossStores
	escSigCollision
	escFieldCollision
	escNextPass
)

// MaxOuterPasses caps the discover/optimize loop.
const MaxOuterPasses = 8

// candidate is one single-implementation interface and every use of it the
// rewrite must touch.
type candidate struct {
	iface *dex.Class
	impl  *dex.Class

	escape escapeReason

	// fieldDefs are field definitions declared with the interface type.
	fieldDefs []*dex.FieldRef
	// methodDefs are method definitions with the interface in their proto.
	methodDefs []*dex.MethodRef
	// typeRefs are instructions carrying the interface as a type payload.
	typeRefs []*ir.Instruction
	// fieldRefInsns are field accesses whose field type is the interface.
	fieldRefInsns []*ir.Instruction
	// callSites are invoke-interface items dispatching on the interface.
	callSites []*ir.Item
	// methodRefInsns are invokes whose target proto mentions the interface.
	methodRefInsns []*ir.Instruction
}

func (c *candidate) escaped() bool { return c.escape != 0 }

// analysis is one round of candidate discovery over the scope.
type analysis struct {
	reg        *dex.Registry
	scope      []*dex.Class
	ch         *hierarchy.ClassHierarchy
	candidates map[*dex.Type]*candidate
}

// discover finds every interface with exactly one implementing class and
// collects its uses.
func discover(reg *dex.Registry, scope []*dex.Class) *analysis {
	a := &analysis{
		reg:        reg,
		scope:      scope,
		ch:         hierarchy.BuildClassHierarchy(reg, scope),
		candidates: make(map[*dex.Type]*candidate),
	}
	im := hierarchy.BuildInterfaceMap(reg, scope)
	for _, c := range scope {
		if !c.IsInterface() {
			continue
		}
		impls := im.Implementors(c.Type())
		if len(impls) != 1 {
			continue
		}
		a.candidates[c.Type()] = &candidate{iface: c, impl: impls[0]}
	}
	a.collect()
	return a
}

// isCandidate returns the live candidate for t.
func (a *analysis) isCandidate(t *dex.Type) *candidate {
	cand, ok := a.candidates[t]
	if !ok || cand.escaped() {
		return nil
	}
	return cand
}

// escapeCand sets reason on the candidate and propagates to every
// super-interface candidate: removing a sub-interface of an escaped
// interface would break its polymorphism.
func (a *analysis) escapeCand(cand *candidate, reason escapeReason) {
	if cand.escape&reason == reason {
		return
	}
	cand.escape |= reason
	for _, sup := range cand.iface.Interfaces() {
		if parent, ok := a.candidates[sup]; ok {
			a.escapeCand(parent, escImplParentEscaped)
		}
	}
}

// collect walks the whole scope once and files every use of a candidate.
func (a *analysis) collect() {
	for _, cand := range a.candidates {
		if cand.iface.Clinit() != nil || cand.impl.Clinit() != nil {
			a.escapeCand(cand, escClinit)
		}
		if len(cand.iface.StaticFields()) > 0 {
			a.escapeCand(cand, escHasSFields)
		}
		if ifaceStore, implStore := cand.iface.Store(), cand.impl.Store(); ifaceStore != implStore {
			a.escapeCand(cand, escCrossStores)
		}
	}

	walk.Fields(a.scope, func(f *dex.FieldRef) {
		if cand := a.candidateOfType(f.Type()); cand != nil {
			if f.Type().IsArray() {
				a.escapeCand(cand, escHasArrayType)
				return
			}
			cand.fieldDefs = append(cand.fieldDefs, f)
			if f.Owner() == cand.iface.Type() {
				a.escapeCand(cand, escHasSFields)
			}
		}
	})

	walk.Methods(a.scope, func(m *dex.MethodRef) {
		mentions := a.protoCandidates(m.Proto())
		for _, cand := range mentions {
			cand.methodDefs = append(cand.methodDefs, m)
			if m.IsNative() {
				a.escapeCand(cand, escNativeMethod)
			}
		}
		a.collectBody(m)
	})
}

func (a *analysis) collectBody(m *dex.MethodRef) {
	code, ok := m.Code().(*ir.Code)
	if !ok || code == nil {
		return
	}
	for _, item := range code.List().Items() {
		if item.Kind != ir.ItemInsn {
			continue
		}
		in := item.Insn
		switch {
		case in.HasType():
			if cand := a.candidateOfType(in.TypeRef()); cand != nil {
				if in.TypeRef().IsArray() {
					a.escapeCand(cand, escHasArrayType)
				} else {
					cand.typeRefs = append(cand.typeRefs, in)
				}
			}
		case in.HasField():
			f := in.FieldRef()
			if cand := a.isCandidate(f.Owner()); cand != nil {
				a.escapeCand(cand, escHasFieldRef)
			}
			if cand := a.candidateOfType(f.Type()); cand != nil && !f.Type().IsArray() {
				cand.fieldRefInsns = append(cand.fieldRefInsns, in)
			}
		case in.Op() == ir.OpInvokeInterface:
			ref := in.MethodRef()
			if cand := a.isCandidate(ref.Owner()); cand != nil {
				if cand.iface.FindVirtualMethod(ref.Name(), ref.Proto()) == nil {
					a.escapeCand(cand, escUnknownMref)
				} else {
					cand.callSites = append(cand.callSites, item)
				}
			}
			a.noteMethodRefInsn(in)
		case ir.IsInvoke(in.Op()):
			a.noteMethodRefInsn(in)
		}
	}
}

func (a *analysis) noteMethodRefInsn(in *ir.Instruction) {
	for _, cand := range a.protoCandidates(in.MethodRef().Proto()) {
		cand.methodRefInsns = append(cand.methodRefInsns, in)
	}
}

// candidateOfType resolves t, unwrapping one level of array, to a live
// candidate. Deeper array nesting disqualifies via the caller's IsArray
// checks.
func (a *analysis) candidateOfType(t *dex.Type) *candidate {
	if t == nil {
		return nil
	}
	if t.IsArray() {
		elem := a.reg.ElementType(t)
		if cand := a.isCandidate(elem); cand != nil {
			return cand
		}
		return nil
	}
	return a.isCandidate(t)
}

func (a *analysis) protoCandidates(p *dex.Proto) []*candidate {
	var out []*candidate
	seen := map[*candidate]bool{}
	note := func(t *dex.Type) {
		if cand := a.candidateOfType(t); cand != nil && !seen[cand] {
			if t.IsArray() {
				a.escapeCand(cand, escHasArrayType)
				return
			}
			seen[cand] = true
			out = append(out, cand)
		}
	}
	note(p.Rtype())
	for _, t := range p.Args() {
		note(t)
	}
	return out
}

// applyFilters runs the configured and structural filters over the
// candidates, flipping escape bits.
func (a *analysis) applyFilters(bag *config.Bag) {
	allow := bag.GetStringList("allowlist")
	deny := bag.GetStringList("denylist")
	pkgAllow := bag.GetStringList("package_allowlist")
	pkgDeny := bag.GetStringList("package_denylist")
	annoDeny := bag.GetStringList("denylist_annos")
	doNotStrip := bag.GetStringList("do_not_strip")

	for _, cand := range a.candidates {
		if cand.escaped() {
			continue
		}
		desc := cand.iface.Type().Descriptor()
		if !listedOK(desc, allow, deny, pkgAllow, pkgDeny) {
			a.escapeCand(cand, escFiltered)
			continue
		}
		if hasAnyAnnotation(cand.iface, annoDeny) || contains(doNotStrip, desc) {
			a.escapeCand(cand, escDoNotStrip)
			continue
		}
		if !a.ch.HasHierarchyInScope(cand.impl.Type()) {
			a.escapeCand(cand, escFiltered)
		}
	}
}

func listedOK(desc string, allow, deny, pkgAllow, pkgDeny []string) bool {
	if len(allow) > 0 && !contains(allow, desc) {
		return false
	}
	if contains(deny, desc) {
		return false
	}
	if len(pkgAllow) > 0 && !hasAnyPrefix(desc, pkgAllow) {
		return false
	}
	if hasAnyPrefix(desc, pkgDeny) {
		return false
	}
	return true
}

func hasAnyAnnotation(c *dex.Class, descs []string) bool {
	for _, d := range descs {
		if c.Annotations().Has(d) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ordered returns the live candidates in processing order: ascending vtable
// size, ties broken by type name.
func (a *analysis) ordered() []*candidate {
	var out []*candidate
	for _, cand := range a.candidates {
		if !cand.escaped() {
			out = append(out, cand)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := len(out[i].iface.VirtualMethods()), len(out[j].iface.VirtualMethods())
		if vi != vj {
			return vi < vj
		}
		return out[i].iface.Type().Descriptor() < out[j].iface.Type().Descriptor()
	})
	return out
}
