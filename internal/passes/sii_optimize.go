package passes

import (
	"strings"

	"dexopt/internal/config"
	"dexopt/internal/dex"
	"dexopt/internal/ir"
	"dexopt/internal/walk"
)

// SingleImplStats summarizes one RunSingleImpl invocation.
type SingleImplStats struct {
	OptimizedInterfaces int
	EscapedInterfaces   int
	RenamedMethods      int
	OuterPasses         int
}

// RunSingleImpl removes every interface with exactly one implementing class,
// redirecting all uses to the implementor. Discovery and rewrite repeat until
// a round optimizes nothing, since removing one interface can make another a
// candidate (its sub-interface is gone) or unblock a deferral.
func RunSingleImpl(reg *dex.Registry, scope []*dex.Class, bag *config.Bag) ([]*dex.Class, SingleImplStats) {
	var stats SingleImplStats
	renameOK := bag.GetBool("rename_on_collision", true)

	for pass := 0; pass < MaxOuterPasses; pass++ {
		stats.OuterPasses = pass + 1
		a := discover(reg, scope)
		a.applyFilters(bag)

		optimized := 0
		for _, cand := range a.ordered() {
			// A candidate processed earlier this round may have deferred
			// or escaped this one.
			if cand.escaped() {
				continue
			}
			a.deferOverlapping(cand)
			a.checkCollisions(cand, renameOK)
			if cand.escaped() {
				continue
			}
			a.optimizeCandidate(cand, renameOK, &stats)
			scope = removeClass(scope, cand.iface)
			optimized++
		}
		stats.OptimizedInterfaces += optimized
		if optimized == 0 {
			break
		}
	}

	// Whatever is still a candidate after the last round counts as escaped.
	final := discover(reg, scope)
	final.applyFilters(bag)
	for _, cand := range final.candidates {
		if cand.escaped() {
			stats.EscapedInterfaces++
		}
	}
	return scope, stats
}

// deferOverlapping pushes to the next outer round any other candidate that
// appears in the signature of a method this candidate is about to rewrite.
// Rewriting both in the same round would race on the shared defs.
func (a *analysis) deferOverlapping(cand *candidate) {
	iface := cand.iface.Type()
	note := func(t *dex.Type) {
		if t == iface {
			return
		}
		if other := a.candidateOfType(t); other != nil && other != cand {
			other.escape |= escNextPass
		}
	}
	methods := append([]*dex.MethodRef{}, cand.methodDefs...)
	methods = append(methods, cand.iface.VirtualMethods()...)
	for _, m := range methods {
		note(m.Proto().Rtype())
		for _, t := range m.Proto().Args() {
			note(t)
		}
	}
}

// checkCollisions escapes the candidate when the rewrite would collide with
// an existing binding and renaming is not allowed.
func (a *analysis) checkCollisions(cand *candidate, renameOK bool) {
	iface, impl := cand.iface.Type(), cand.impl.Type()

	for _, f := range cand.fieldDefs {
		owner := a.reg.ClassOf(f.Owner())
		if owner != nil && owner.FindField(f.Name(), impl) != nil {
			a.escapeCand(cand, escFieldCollision)
			return
		}
	}
	if renameOK {
		return
	}
	for _, m := range cand.methodDefs {
		if m.Owner() == iface {
			continue
		}
		owner := a.reg.ClassOf(m.Owner())
		newProto := a.substProto(m.Proto(), iface, impl)
		if owner != nil && owner.FindMethod(m.Name(), newProto) != nil {
			a.escapeCand(cand, escSigCollision)
			return
		}
	}
	for _, im := range cand.iface.VirtualMethods() {
		newProto := a.substProto(im.Proto(), iface, impl)
		if a.findOnHierarchy(cand.impl, im.Name(), newProto) == nil && cand.impl.FindMethod(im.Name(), newProto) != nil {
			a.escapeCand(cand, escSigCollision)
			return
		}
	}
}

// optimizeCandidate rewrites every recorded use of the interface to the
// implementor and deletes the interface class.
func (a *analysis) optimizeCandidate(cand *candidate, renameOK bool, stats *SingleImplStats) {
	iface, impl := cand.iface.Type(), cand.impl.Type()

	// Resolve dispatch targets by identity before any proto is rewritten:
	// after retyping, an unrelated method of the implementor could alias the
	// implementation's new signature.
	ifaceMethods := append([]*dex.MethodRef{}, cand.iface.VirtualMethods()...)
	implTargets := make(map[*dex.MethodRef]*dex.MethodRef, len(ifaceMethods))
	for _, im := range ifaceMethods {
		implTargets[im] = a.findOnHierarchy(cand.impl, im.Name(), im.Proto())
	}
	siteInsns := make(map[*ir.Instruction]bool, len(cand.callSites))
	for _, item := range cand.callSites {
		siteInsns[item.Insn] = true
	}

	for _, in := range cand.typeRefs {
		if in.TypeRef() == iface {
			in.SetTypeRef(impl)
		}
	}

	for _, f := range cand.fieldDefs {
		if f.Type() == iface {
			a.reg.ChangeField(f, dex.FieldSpec{Type: impl}, renameOK, true)
		}
	}
	for _, in := range cand.fieldRefInsns {
		f := in.FieldRef()
		if !f.IsDef() && f.Type() == iface {
			in.SetFieldRef(a.reg.MakeField(f.Owner(), f.Name(), impl))
		}
	}

	for _, m := range cand.methodDefs {
		if m.Owner() == iface {
			continue
		}
		before := m.Name()
		a.reg.ChangeMethod(m, dex.MethodSpec{Proto: a.substProto(m.Proto(), iface, impl)}, renameOK, true)
		if m.Name() != before {
			stats.RenamedMethods++
		}
	}
	for _, in := range cand.methodRefInsns {
		ref := in.MethodRef()
		if ref.IsDef() || siteInsns[in] || !a.mentions(ref, iface) {
			continue
		}
		owner := ref.Owner()
		if owner == iface {
			owner = impl
		}
		in.SetMethodRef(a.reg.MakeMethod(owner, ref.Name(), a.substProto(ref.Proto(), iface, impl)))
	}

	for _, item := range cand.callSites {
		ref := item.Insn.MethodRef()
		im := findInList(ifaceMethods, ref.Name(), ref.Proto())
		if im == nil {
			// Another candidate rewrote this proto in place first; the name
			// still identifies the method when it is not overloaded.
			im = findSoleByName(ifaceMethods, ref.Name())
		}
		if im == nil {
			continue
		}
		target := implTargets[im]
		if target == nil {
			target = a.moveToImpl(cand, im, a.substProto(im.Proto(), iface, impl), renameOK)
			implTargets[im] = target
		}
		virtual := ir.NewInstruction(ir.OpInvokeVirtual)
		virtual.SetMethodRef(target)
		virtual.SetSrcs(item.Insn.Srcs()...)
		item.Insn = virtual
	}

	a.fixAnnotations(iface, impl)

	cand.impl.SetInterfaces(spliceInterfaces(cand.impl.Interfaces(), iface, cand.iface.Interfaces()))
	a.reg.UnregisterClass(iface)
}

// moveToImpl relocates an interface method body (a default method) onto the
// implementor so the virtual dispatch has a target.
func (a *analysis) moveToImpl(cand *candidate, m *dex.MethodRef, newProto *dex.Proto, renameOK bool) *dex.MethodRef {
	cand.iface.RemoveMethod(m)
	a.reg.ChangeMethod(m, dex.MethodSpec{Owner: cand.impl.Type(), Proto: newProto}, renameOK, true)
	cand.impl.AddMethod(m)
	return m
}

func findInList(methods []*dex.MethodRef, name *dex.String, proto *dex.Proto) *dex.MethodRef {
	for _, m := range methods {
		if m.Name() == name && m.Proto() == proto {
			return m
		}
	}
	return nil
}

func findSoleByName(methods []*dex.MethodRef, name *dex.String) *dex.MethodRef {
	var found *dex.MethodRef
	for _, m := range methods {
		if m.Name() == name {
			if found != nil {
				return nil
			}
			found = m
		}
	}
	return found
}

// findOnHierarchy looks the method up on the class and its in-scope supers.
func (a *analysis) findOnHierarchy(c *dex.Class, name *dex.String, proto *dex.Proto) *dex.MethodRef {
	for c != nil {
		if m := c.FindVirtualMethod(name, proto); m != nil {
			return m
		}
		c = a.reg.ClassOf(c.Super())
	}
	return nil
}

func (a *analysis) mentions(m *dex.MethodRef, iface *dex.Type) bool {
	if m.Owner() == iface {
		return true
	}
	if m.Proto().Rtype() == iface {
		return true
	}
	for _, t := range m.Proto().Args() {
		if t == iface {
			return true
		}
	}
	return false
}

func (a *analysis) substProto(p *dex.Proto, from, to *dex.Type) *dex.Proto {
	subst := func(t *dex.Type) *dex.Type {
		if t == from {
			return to
		}
		return t
	}
	args := make([]*dex.Type, len(p.Args()))
	for i, t := range p.Args() {
		args[i] = subst(t)
	}
	return a.reg.MakeProto(subst(p.Rtype()), args...)
}

// fixAnnotations rewrites annotation payloads that still reference the
// removed interface: encoded types and dangling method or field references,
// plus the chopped generic-signature strings.
func (a *analysis) fixAnnotations(iface, impl *dex.Type) {
	walk.Annotations(a.scope, func(an *dex.Annotation) {
		for i := range an.Elements {
			an.Elements[i].Value = a.fixEncoded(an.Elements[i].Value, iface, impl)
		}
	})
}

func (a *analysis) fixEncoded(v dex.EncodedValue, iface, impl *dex.Type) dex.EncodedValue {
	switch v := v.(type) {
	case dex.EncodedType:
		if v.Value == iface {
			return dex.EncodedType{Value: impl}
		}
	case dex.EncodedMethod:
		if !v.Value.IsDef() && a.mentions(v.Value, iface) {
			owner := v.Value.Owner()
			if owner == iface {
				owner = impl
			}
			ref := a.reg.MakeMethod(owner, v.Value.Name(), a.substProto(v.Value.Proto(), iface, impl))
			return dex.EncodedMethod{Value: ref}
		}
	case dex.EncodedField:
		f := v.Value
		if !f.IsDef() && (f.Owner() == iface || f.Type() == iface) {
			owner, typ := f.Owner(), f.Type()
			if owner == iface {
				owner = impl
			}
			if typ == iface {
				typ = impl
			}
			return dex.EncodedField{Value: a.reg.MakeField(owner, f.Name(), typ)}
		}
	case dex.EncodedString:
		if s := substSignaturePiece(v.Value.Str(), iface, impl); s != v.Value.Str() {
			return dex.EncodedString{Value: a.reg.MakeString(s)}
		}
	case *dex.EncodedArray:
		for i := range v.Values {
			v.Values[i] = a.fixEncoded(v.Values[i], iface, impl)
		}
	case *dex.EncodedAnnotation:
		for i := range v.Value.Elements {
			v.Value.Elements[i].Value = a.fixEncoded(v.Value.Elements[i].Value, iface, impl)
		}
	}
	return v
}

// substSignaturePiece rewrites one chopped signature string. Signature pieces
// split type names at arbitrary points, so the interface name can appear
// closed by ';', opened by '<' for type arguments, or bare at the end of a
// piece.
func substSignaturePiece(s string, iface, impl *dex.Type) string {
	from := strings.TrimSuffix(iface.Descriptor(), ";")
	to := strings.TrimSuffix(impl.Descriptor(), ";")
	s = strings.ReplaceAll(s, from+";", to+";")
	s = strings.ReplaceAll(s, from+"<", to+"<")
	if strings.HasSuffix(s, from) {
		s = s[:len(s)-len(from)] + to
	}
	return s
}

func removeClass(scope []*dex.Class, c *dex.Class) []*dex.Class {
	for i, s := range scope {
		if s == c {
			return append(scope[:i:i], scope[i+1:]...)
		}
	}
	return scope
}

// spliceInterfaces replaces the removed interface in a class's interface
// list with the removed interface's own super-interfaces.
func spliceInterfaces(ifaces []*dex.Type, removed *dex.Type, supers []*dex.Type) []*dex.Type {
	var out []*dex.Type
	seen := map[*dex.Type]bool{}
	add := func(t *dex.Type) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range ifaces {
		if t == removed {
			for _, s := range supers {
				add(s)
			}
			continue
		}
		add(t)
	}
	return out
}

// SingleImplPass is the pass-harness wrapper around RunSingleImpl.
type SingleImplPass struct{}

func (p *SingleImplPass) Name() string { return "SingleImplPass" }

func (p *SingleImplPass) Description() string {
	return "replace single-implementation interfaces with their implementor"
}

// EditableCFG is false: every rewrite here edits instruction payloads or
// swaps list items in place, which the flat form supports directly.
func (p *SingleImplPass) EditableCFG() bool { return false }

func (p *SingleImplPass) Run(ctx *Context) {
	newScope, stats := RunSingleImpl(ctx.Registry, ctx.Scope, ctx.Config)
	ctx.ShrinkScope(newScope)
	ctx.SetMetric("optimized_interfaces", int64(stats.OptimizedInterfaces))
	ctx.SetMetric("escaped_interfaces", int64(stats.EscapedInterfaces))
	ctx.SetMetric("renamed_methods", int64(stats.RenamedMethods))
	ctx.SetMetric("outer_passes", int64(stats.OuterPasses))
}
