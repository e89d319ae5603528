package domain

import (
	"fmt"

	"dexopt/internal/dex"
)

// TypeDomain is the reduced product the type analysis computes per value:
// a constant-or-array nullness factor, the singleton type factor, the
// bounded set factor and the typedef annotation factor. Operations apply
// pointwise; one bottom factor normalizes the whole product to bottom.
// ReduceProduct is currently the identity apart from that normalization.
type TypeDomain struct {
	isArray bool
	cn      ConstNullness
	an      ArrayNullness
	single  SingletonType
	set     SmallSetType
	anno    TypeAnnotation
}

// Top is the unknown value.
func Top() TypeDomain {
	return TypeDomain{
		cn:     ConstNullnessTop(),
		single: SingletonTop(),
		set:    SmallSetTop(),
		anno:   AnnoTop(),
	}
}

// Bottom is the unreachable value.
func Bottom() TypeDomain {
	return TypeDomain{
		cn:     ConstNullnessBottom(),
		an:     ArrayNullnessBottom(),
		single: SingletonBottom(),
		set:    SmallSetBottom(),
		anno:   AnnoBottom(),
	}
}

// Null is the abstract null reference.
func Null() TypeDomain {
	d := Top()
	d.cn = ForConst(0)
	d.single = SingletonNone()
	return d
}

// ConstDomain is the value of a known scalar literal.
func ConstDomain(v int64) TypeDomain {
	d := Top()
	d.cn = ForConst(v)
	if v == 0 {
		d.single = SingletonNone()
	}
	return d
}

// TypeOf is a value of exactly t (or a subtype) with the given nullness.
func TypeOf(t *dex.Type, n Nullness) TypeDomain {
	d := Top()
	d.cn = ForNullness(n)
	d.single = SingletonOf(t)
	d.set = SmallSetOf(t)
	return d
}

// ArrayOf is a freshly created array of type t. A negative length means
// unknown.
func ArrayOf(t *dex.Type, length int64) TypeDomain {
	d := TypeOf(t, NotNull)
	d.isArray = true
	d.an = NewArray(length)
	return d
}

// WithNullness overrides the nullness factor.
func (d TypeDomain) WithNullness(n Nullness) TypeDomain {
	if d.isArray {
		d.an.null = n
	} else {
		if d.cn.kind == flatBottom {
			d.cn.kind = flatTop
		}
		d.cn.null = n
	}
	return d.reduce()
}

// WithAnnotation overrides the typedef annotation factor.
func (d TypeDomain) WithAnnotation(a TypeAnnotation) TypeDomain {
	d.anno = a
	return d.reduce()
}

// Nullness returns the nullness of the value.
func (d TypeDomain) Nullness() Nullness {
	if d.isArray {
		return d.an.Nullness()
	}
	return d.cn.Nullness()
}

// Constant returns the scalar literal when known.
func (d TypeDomain) Constant() (int64, bool) {
	if d.isArray {
		return 0, false
	}
	return d.cn.Constant()
}

// Array returns the array factor when the value tracks one.
func (d TypeDomain) Array() (ArrayNullness, bool) {
	return d.an, d.isArray
}

// SetArray replaces the array factor.
func (d TypeDomain) SetArray(a ArrayNullness) TypeDomain {
	if d.isArray {
		d.an = a
	}
	return d.reduce()
}

// SingleType returns the singleton factor's concrete type when known.
func (d TypeDomain) SingleType() (*dex.Type, bool) { return d.single.Type() }

// Singleton returns the singleton factor.
func (d TypeDomain) Singleton() SingletonType { return d.single }

// SmallSet returns the set factor.
func (d TypeDomain) SmallSet() SmallSetType { return d.set }

// Annotation returns the typedef annotation factor.
func (d TypeDomain) Annotation() TypeAnnotation { return d.anno }

// IsBottom reports unreachability.
func (d TypeDomain) IsBottom() bool { return d.single.IsBottom() }

// IsTop reports whether nothing is known.
func (d TypeDomain) IsTop() bool {
	return !d.isArray && d.cn.IsTop() && d.single.IsTop() && d.set.IsTop() && d.anno.IsTop()
}

// IsNull reports a definitely-null value.
func (d TypeDomain) IsNull() bool { return d.Nullness() == IsNull }

// IsNotNull reports a definitely-non-null value.
func (d TypeDomain) IsNotNull() bool { return d.Nullness() == NotNull }

// Join computes the pointwise least upper bound, then normalizes.
func (d TypeDomain) Join(o TypeOracle, other TypeDomain) TypeDomain {
	if d.IsBottom() {
		return other
	}
	if other.IsBottom() {
		return d
	}
	out := TypeDomain{
		single: d.single.Join(o, other.single),
		set:    d.set.Join(other.set),
		anno:   d.anno.Join(other.anno),
	}
	switch {
	case d.isArray && other.isArray:
		out.isArray = true
		out.an = d.an.Join(other.an)
		out.cn = ConstNullnessTop()
	case d.isArray != other.isArray:
		// Mixed scalar/array collapses to a plain nullness.
		out.cn = ForNullness(d.Nullness().Join(other.Nullness()))
	default:
		out.cn = d.cn.Join(other.cn)
	}
	return out.reduce()
}

// Widen is Join; the set factor's cap already enforces termination and the
// remaining factors have finite height.
func (d TypeDomain) Widen(o TypeOracle, other TypeDomain) TypeDomain {
	return d.Join(o, other)
}

// Leq reports d ⊑ other.
func (d TypeDomain) Leq(o TypeOracle, other TypeDomain) bool {
	return d.Join(o, other).Equals(other)
}

// Equals reports value equality across all factors.
func (d TypeDomain) Equals(other TypeDomain) bool {
	if d.isArray != other.isArray {
		return false
	}
	if d.isArray && !d.an.Equals(other.an) {
		return false
	}
	if !d.isArray && !d.cn.Equals(other.cn) {
		return false
	}
	return d.single.Equals(other.single) && d.set.Equals(other.set) && d.anno.Equals(other.anno)
}

// reduce normalizes the product: any bottom factor makes the whole value
// bottom. Stronger reduction between the singleton and set factors is an
// open question upstream; this stays the identity.
func (d TypeDomain) reduce() TypeDomain {
	nullBottom := d.cn.IsBottom()
	if d.isArray {
		nullBottom = d.an.IsBottom()
	}
	if nullBottom || d.single.IsBottom() || d.set.IsBottom() || d.anno.IsBottom() {
		return Bottom()
	}
	return d
}

func (d TypeDomain) String() string {
	if d.IsBottom() {
		return "⊥"
	}
	if d.IsTop() {
		return "⊤"
	}
	nul := d.cn.String()
	if d.isArray {
		nul = "array " + d.an.Nullness().String()
	}
	return fmt.Sprintf("(%s, %s, %s)", nul, d.single, d.set)
}
