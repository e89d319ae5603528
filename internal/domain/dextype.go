package domain

import (
	"sort"
	"strings"

	"dexopt/internal/dex"
)

// TypeOracle answers the hierarchy questions the type lattices need. The
// hierarchy package provides the production implementation; tests stub it.
type TypeOracle interface {
	// Parent returns the declared super of a class type. ok is false when
	// the class is unknown (external or missing) and the chain must stop.
	Parent(t *dex.Type) (parent *dex.Type, ok bool)
	// Interfaces returns the flattened set of interfaces t implements.
	Interfaces(t *dex.Type) []*dex.Type
	// IsSubclass reports whether child is parent or below it.
	IsSubclass(parent, child *dex.Type) bool
	// IsKnown reports whether t resolves to a class in scope.
	IsKnown(t *dex.Type) bool
}

// SingletonType is a flat lattice over class types: top means unknown, a
// concrete type means "the runtime type is this or a subtype", none means
// null or uninitialized, bottom means unreachable.
type SingletonType struct {
	kind singletonKind
	typ  *dex.Type
}

type singletonKind uint8

const (
	singletonBottom singletonKind = iota
	singletonNone
	singletonValue
	singletonTop
)

// SingletonBottom is the unreachable value.
func SingletonBottom() SingletonType { return SingletonType{kind: singletonBottom} }

// SingletonNone is the null/uninitialized value.
func SingletonNone() SingletonType { return SingletonType{kind: singletonNone} }

// SingletonTop is the unknown value.
func SingletonTop() SingletonType { return SingletonType{kind: singletonTop} }

// SingletonOf wraps a concrete type.
func SingletonOf(t *dex.Type) SingletonType {
	return SingletonType{kind: singletonValue, typ: t}
}

// Type returns the concrete type when the value carries one.
func (s SingletonType) Type() (*dex.Type, bool) {
	return s.typ, s.kind == singletonValue
}

// IsNone reports the null/uninitialized value.
func (s SingletonType) IsNone() bool { return s.kind == singletonNone }

// IsBottom reports unreachability.
func (s SingletonType) IsBottom() bool { return s.kind == singletonBottom }

// IsTop reports the unknown value.
func (s SingletonType) IsTop() bool { return s.kind == singletonTop }

// Equals reports value equality.
func (s SingletonType) Equals(other SingletonType) bool {
	return s.kind == other.kind && s.typ == other.typ
}

// Join computes the least upper bound of two singleton values. Two distinct
// concrete types merge to the nearer one's supertype when the subtype
// relation holds and no implemented-interface identity is lost; otherwise a
// single step up each super chain may find a common base; otherwise top.
func (s SingletonType) Join(o TypeOracle, other SingletonType) SingletonType {
	switch {
	case s.Equals(other):
		return s
	case s.kind == singletonBottom:
		return other
	case other.kind == singletonBottom:
		return s
	case s.kind == singletonNone: // null fits any reference type
		return other
	case other.kind == singletonNone:
		return s
	case s.kind == singletonTop || other.kind == singletonTop:
		return SingletonTop()
	}

	a, b := s.typ, other.typ
	if !o.IsKnown(a) || !o.IsKnown(b) {
		return SingletonTop()
	}
	if o.IsSubclass(a, b) && interfacesMergeable(o, b, a) {
		return SingletonOf(a)
	}
	if o.IsSubclass(b, a) && interfacesMergeable(o, a, b) {
		return SingletonOf(b)
	}

	// One step up each chain; deeper walks are deliberately not attempted.
	pa, aok := o.Parent(a)
	pb, bok := o.Parent(b)
	if aok && bok && pa != nil && pa == pb &&
		interfacesMergeable(o, a, pa) && interfacesMergeable(o, b, pa) {
		return SingletonOf(pa)
	}
	return SingletonTop()
}

// interfacesMergeable reports whether sub's flattened interface set is a
// subset of super's, so widening sub to super keeps interface identity.
func interfacesMergeable(o TypeOracle, sub, super *dex.Type) bool {
	superIfs := o.Interfaces(super)
	set := make(map[*dex.Type]struct{}, len(superIfs))
	for _, i := range superIfs {
		set[i] = struct{}{}
	}
	for _, i := range o.Interfaces(sub) {
		if _, ok := set[i]; !ok {
			return false
		}
	}
	return true
}

// Leq reports s ⊑ other.
func (s SingletonType) Leq(o TypeOracle, other SingletonType) bool {
	return s.Join(o, other).Equals(other)
}

func (s SingletonType) String() string {
	switch s.kind {
	case singletonBottom:
		return "⊥"
	case singletonNone:
		return "none"
	case singletonValue:
		return s.typ.String()
	}
	return "⊤"
}

// MaxSetSize bounds the small-set factor.
const MaxSetSize = 4

// SmallSetType is a bounded set of concrete runtime types. Joins union the
// sets; a union past MaxSetSize goes to top and the caller falls back to the
// singleton factor.
type SmallSetType struct {
	kind  flatKind
	types []*dex.Type // sorted by id, len <= MaxSetSize
}

// SmallSetBottom is the unreachable value.
func SmallSetBottom() SmallSetType { return SmallSetType{kind: flatBottom} }

// SmallSetTop is the saturated value.
func SmallSetTop() SmallSetType { return SmallSetType{kind: flatTop} }

// SmallSetOf builds a set from types; more than MaxSetSize distinct types
// saturate to top.
func SmallSetOf(types ...*dex.Type) SmallSetType {
	seen := make(map[*dex.Type]struct{}, len(types))
	var out []*dex.Type
	for _, t := range types {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	if len(out) > MaxSetSize {
		return SmallSetTop()
	}
	sortTypes(out)
	return SmallSetType{kind: flatValue, types: out}
}

// Types returns the member types when the value is a proper set.
func (s SmallSetType) Types() ([]*dex.Type, bool) {
	return s.types, s.kind == flatValue
}

// IsBottom reports unreachability.
func (s SmallSetType) IsBottom() bool { return s.kind == flatBottom }

// IsTop reports saturation.
func (s SmallSetType) IsTop() bool { return s.kind == flatTop }

// Join unions the two sets, saturating past MaxSetSize.
func (s SmallSetType) Join(other SmallSetType) SmallSetType {
	if s.kind == flatBottom {
		return other
	}
	if other.kind == flatBottom {
		return s
	}
	if s.kind == flatTop || other.kind == flatTop {
		return SmallSetTop()
	}
	return SmallSetOf(append(append([]*dex.Type(nil), s.types...), other.types...)...)
}

// Leq reports s ⊑ other.
func (s SmallSetType) Leq(other SmallSetType) bool {
	return s.Join(other).Equals(other)
}

// Equals reports value equality.
func (s SmallSetType) Equals(other SmallSetType) bool {
	if s.kind != other.kind || len(s.types) != len(other.types) {
		return false
	}
	for i := range s.types {
		if s.types[i] != other.types[i] {
			return false
		}
	}
	return true
}

func (s SmallSetType) String() string {
	switch s.kind {
	case flatBottom:
		return "⊥"
	case flatTop:
		return "⊤"
	}
	names := make([]string, len(s.types))
	for i, t := range s.types {
		names[i] = t.String()
	}
	return "{" + strings.Join(names, ", ") + "}"
}

func sortTypes(ts []*dex.Type) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID() < ts[j].ID() })
}

// TypeAnnotation is a flat lattice over typedef annotation types.
type TypeAnnotation struct {
	kind flatKind
	typ  *dex.Type
}

// AnnoBottom is the unreachable value.
func AnnoBottom() TypeAnnotation { return TypeAnnotation{kind: flatBottom} }

// AnnoTop is the unknown value.
func AnnoTop() TypeAnnotation { return TypeAnnotation{kind: flatTop} }

// AnnoOf wraps a typedef annotation type.
func AnnoOf(t *dex.Type) TypeAnnotation { return TypeAnnotation{kind: flatValue, typ: t} }

// Type returns the annotation type when known.
func (a TypeAnnotation) Type() (*dex.Type, bool) { return a.typ, a.kind == flatValue }

// IsBottom reports unreachability.
func (a TypeAnnotation) IsBottom() bool { return a.kind == flatBottom }

// IsTop reports the unknown value.
func (a TypeAnnotation) IsTop() bool { return a.kind == flatTop }

// Join returns the least upper bound of the flat lattice.
func (a TypeAnnotation) Join(other TypeAnnotation) TypeAnnotation {
	if a.kind == flatBottom {
		return other
	}
	if other.kind == flatBottom {
		return a
	}
	if a.kind == flatValue && other.kind == flatValue && a.typ == other.typ {
		return a
	}
	return AnnoTop()
}

// Equals reports value equality.
func (a TypeAnnotation) Equals(other TypeAnnotation) bool {
	return a.kind == other.kind && a.typ == other.typ
}
