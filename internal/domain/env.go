package domain

import (
	"dexopt/internal/dex"
	"dexopt/internal/ir"
)

// TypeEnvironment is the abstract state at a program point: a register
// environment, a field environment (for the fields the enclosing ctor or
// clinit may publish) and the set of registers known to hold the this
// pointer. Absent bindings are top. The environment is a persistent value;
// Set returns a new environment.
type TypeEnvironment struct {
	bottom bool
	regs   PatriciaMap[TypeDomain]
	fields PatriciaMap[TypeDomain]
	isThis PatriciaMap[bool]
}

// TopEnv is the environment with no facts.
func TopEnv() TypeEnvironment { return TypeEnvironment{} }

// BottomEnv is the unreachable environment.
func BottomEnv() TypeEnvironment { return TypeEnvironment{bottom: true} }

// IsBottom reports unreachability.
func (e TypeEnvironment) IsBottom() bool { return e.bottom }

// Get returns the abstract value of a register.
func (e TypeEnvironment) Get(r ir.Reg) TypeDomain {
	if e.bottom {
		return Bottom()
	}
	if d, ok := e.regs.Get(uint32(r)); ok {
		return d
	}
	return Top()
}

// Set binds a register.
func (e TypeEnvironment) Set(r ir.Reg, d TypeDomain) TypeEnvironment {
	if e.bottom {
		return e
	}
	e.regs = e.regs.Insert(uint32(r), d)
	e.isThis = e.isThis.Remove(uint32(r))
	return e
}

// GetField returns the abstract value of a field.
func (e TypeEnvironment) GetField(f *dex.FieldRef) TypeDomain {
	if e.bottom {
		return Bottom()
	}
	if d, ok := e.fields.Get(f.ID()); ok {
		return d
	}
	return Top()
}

// SetField binds a field.
func (e TypeEnvironment) SetField(f *dex.FieldRef, d TypeDomain) TypeEnvironment {
	if e.bottom {
		return e
	}
	e.fields = e.fields.Insert(f.ID(), d)
	return e
}

// IsThis reports whether a register is known to hold the this pointer.
func (e TypeEnvironment) IsThis(r ir.Reg) bool {
	if e.bottom {
		return false
	}
	v, _ := e.isThis.Get(uint32(r))
	return v
}

// SetThis marks a register as holding the this pointer.
func (e TypeEnvironment) SetThis(r ir.Reg) TypeEnvironment {
	if e.bottom {
		return e
	}
	e.isThis = e.isThis.Insert(uint32(r), true)
	return e
}

// Join computes the pointwise least upper bound. Bindings absent on either
// side are top and drop out; the this-ptr facts survive only where both
// sides agree.
func (e TypeEnvironment) Join(o TypeOracle, other TypeEnvironment) TypeEnvironment {
	if e.bottom {
		return other
	}
	if other.bottom {
		return e
	}
	join := func(a, b TypeDomain) TypeDomain { return a.Join(o, b) }
	return TypeEnvironment{
		regs:   e.regs.IntersectKeys(other.regs, join),
		fields: e.fields.IntersectKeys(other.fields, join),
		isThis: e.isThis.IntersectKeys(other.isThis, func(a, b bool) bool { return a && b }),
	}
}

// Widen joins; every factor has bounded height.
func (e TypeEnvironment) Widen(o TypeOracle, other TypeEnvironment) TypeEnvironment {
	return e.Join(o, other)
}

// Equals reports pointwise equality.
func (e TypeEnvironment) Equals(other TypeEnvironment) bool {
	if e.bottom != other.bottom {
		return false
	}
	if e.bottom {
		return true
	}
	return e.regs.Equals(other.regs, TypeDomain.Equals) &&
		e.fields.Equals(other.fields, TypeDomain.Equals) &&
		e.isThis.Equals(other.isThis, func(a, b bool) bool { return a == b })
}

// Leq reports e ⊑ other.
func (e TypeEnvironment) Leq(o TypeOracle, other TypeEnvironment) bool {
	return e.Join(o, other).Equals(other)
}

// ForEachField visits every field binding.
func (e TypeEnvironment) ForEachField(fn func(uint32, TypeDomain)) {
	if e.bottom {
		return
	}
	e.fields.ForEach(fn)
}
