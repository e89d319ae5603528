package domain

import "strconv"

// Nullness is the four-point lattice BOTTOM < {NULL, NOT_NULL} < NULLABLE.
// The encoding makes join a bitwise or and meet a bitwise and.
type Nullness uint8

const (
	NullnessBottom Nullness = 0
	IsNull         Nullness = 1
	NotNull        Nullness = 2
	Nullable       Nullness = 3
)

// Join returns the least upper bound.
func (n Nullness) Join(other Nullness) Nullness { return n | other }

// Meet returns the greatest lower bound.
func (n Nullness) Meet(other Nullness) Nullness { return n & other }

// Leq reports n ⊑ other.
func (n Nullness) Leq(other Nullness) bool { return n|other == other }

// IsTop reports whether n is NULLABLE.
func (n Nullness) IsTop() bool { return n == Nullable }

// IsBottom reports whether n is unreachable.
func (n Nullness) IsBottom() bool { return n == NullnessBottom }

func (n Nullness) String() string {
	switch n {
	case NullnessBottom:
		return "BOTTOM"
	case IsNull:
		return "NULL"
	case NotNull:
		return "NOT_NULL"
	}
	return "NULLABLE"
}

// flatKind tags the three layers of a flat lattice.
type flatKind uint8

const (
	flatBottom flatKind = iota
	flatValue
	flatTop
)

// ConstNullness couples a flat constant lattice with a nullness. A known
// constant of zero is the null reference for object registers, which is why
// the two travel together.
type ConstNullness struct {
	kind flatKind
	val  int64
	null Nullness
}

// ConstNullnessTop is the unknown value.
func ConstNullnessTop() ConstNullness {
	return ConstNullness{kind: flatTop, null: Nullable}
}

// ConstNullnessBottom is the unreachable value.
func ConstNullnessBottom() ConstNullness {
	return ConstNullness{kind: flatBottom, null: NullnessBottom}
}

// ForConst returns the abstract value of a known literal.
func ForConst(v int64) ConstNullness {
	n := NotNull
	if v == 0 {
		n = IsNull
	}
	return ConstNullness{kind: flatValue, val: v, null: n}
}

// ForNullness returns an unknown constant with the given nullness.
func ForNullness(n Nullness) ConstNullness {
	if n == NullnessBottom {
		return ConstNullnessBottom()
	}
	return ConstNullness{kind: flatTop, null: n}
}

// Constant returns the literal when the value is a known constant.
func (c ConstNullness) Constant() (int64, bool) {
	return c.val, c.kind == flatValue
}

// Nullness returns the nullness factor.
func (c ConstNullness) Nullness() Nullness { return c.null }

// IsBottom reports unreachability. A bottom nullness factor sinks the whole
// value regardless of the constant factor.
func (c ConstNullness) IsBottom() bool {
	return c.kind == flatBottom || c.null == NullnessBottom
}

// IsTop reports whether nothing is known.
func (c ConstNullness) IsTop() bool { return c.kind == flatTop && c.null == Nullable }

// Join returns the least upper bound, pointwise over the two factors.
func (c ConstNullness) Join(other ConstNullness) ConstNullness {
	if c.IsBottom() {
		return other
	}
	if other.IsBottom() {
		return c
	}
	out := ConstNullness{null: c.null.Join(other.null)}
	if c.kind == flatValue && other.kind == flatValue && c.val == other.val {
		out.kind, out.val = flatValue, c.val
	} else {
		out.kind = flatTop
	}
	return out
}

// Meet returns the greatest lower bound.
func (c ConstNullness) Meet(other ConstNullness) ConstNullness {
	if c.IsBottom() || other.IsBottom() {
		return ConstNullnessBottom()
	}
	null := c.null.Meet(other.null)
	if null == NullnessBottom {
		return ConstNullnessBottom()
	}
	out := ConstNullness{null: null}
	switch {
	case c.kind == flatTop:
		out.kind, out.val = other.kind, other.val
	case other.kind == flatTop:
		out.kind, out.val = c.kind, c.val
	case c.val == other.val:
		out.kind, out.val = flatValue, c.val
	default:
		return ConstNullnessBottom()
	}
	return out
}

// Leq reports c ⊑ other.
func (c ConstNullness) Leq(other ConstNullness) bool {
	return c.Join(other).Equals(other)
}

// Equals reports value equality.
func (c ConstNullness) Equals(other ConstNullness) bool {
	if c.kind != other.kind || c.null != other.null {
		return false
	}
	return c.kind != flatValue || c.val == other.val
}

func (c ConstNullness) String() string {
	switch c.kind {
	case flatBottom:
		return "⊥"
	case flatValue:
		return "const " + strconv.FormatInt(c.val, 10) + " " + c.null.String()
	}
	return c.null.String()
}

// ArrayNullness tracks an array register: the nullness of the array
// reference itself, its length when statically known, and a per-index
// nullness map with top semantics for absent indices.
type ArrayNullness struct {
	bottom bool
	null   Nullness
	length *int64
	elems  PatriciaMap[Nullness]
}

// ArrayNullnessBottom is the unreachable array value.
func ArrayNullnessBottom() ArrayNullness {
	return ArrayNullness{bottom: true}
}

// NewArray returns the abstract value of a fresh array. A negative length
// means unknown.
func NewArray(length int64) ArrayNullness {
	a := ArrayNullness{null: NotNull}
	if length >= 0 {
		a.length = &length
	}
	return a
}

// Nullness returns the nullness of the array reference.
func (a ArrayNullness) Nullness() Nullness {
	if a.bottom {
		return NullnessBottom
	}
	return a.null
}

// Length returns the static length when known.
func (a ArrayNullness) Length() (int64, bool) {
	if a.bottom || a.length == nil {
		return 0, false
	}
	return *a.length, true
}

// Element returns the nullness of the element at index; absent entries are
// top.
func (a ArrayNullness) Element(index int64) Nullness {
	if a.bottom {
		return NullnessBottom
	}
	if index < 0 || index > 0xFFFFFFFF {
		return Nullable
	}
	if n, ok := a.elems.Get(uint32(index)); ok {
		return n
	}
	return Nullable
}

// SetElement returns the value with the element at index bound to n.
func (a ArrayNullness) SetElement(index int64, n Nullness) ArrayNullness {
	if a.bottom || index < 0 || index > 0xFFFFFFFF {
		return a
	}
	a.elems = a.elems.Insert(uint32(index), n)
	return a
}

// ResetElements returns the value with every per-index fact dropped. Callers
// use it after the array escapes to a callee.
func (a ArrayNullness) ResetElements() ArrayNullness {
	a.elems = PatriciaMap[Nullness]{}
	return a
}

// IsBottom reports unreachability.
func (a ArrayNullness) IsBottom() bool { return a.bottom }

// IsTop reports whether nothing is known.
func (a ArrayNullness) IsTop() bool {
	return !a.bottom && a.null == Nullable && a.length == nil && a.elems.IsEmpty()
}

// Join returns the least upper bound. Absent indices are top, so the result
// keeps only indices present on both sides.
func (a ArrayNullness) Join(other ArrayNullness) ArrayNullness {
	if a.bottom {
		return other
	}
	if other.bottom {
		return a
	}
	out := ArrayNullness{null: a.null.Join(other.null)}
	if a.length != nil && other.length != nil && *a.length == *other.length {
		out.length = a.length
	}
	out.elems = a.elems.IntersectKeys(other.elems, Nullness.Join)
	return out
}

// Leq reports a ⊑ other.
func (a ArrayNullness) Leq(other ArrayNullness) bool {
	return a.Join(other).Equals(other)
}

// Equals reports value equality.
func (a ArrayNullness) Equals(other ArrayNullness) bool {
	if a.bottom != other.bottom {
		return false
	}
	if a.bottom {
		return true
	}
	if a.null != other.null {
		return false
	}
	if (a.length == nil) != (other.length == nil) {
		return false
	}
	if a.length != nil && *a.length != *other.length {
		return false
	}
	return a.elems.Equals(other.elems, func(x, y Nullness) bool { return x == y })
}
