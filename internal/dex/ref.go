package dex

import "fmt"

// Code is the body attached to a concrete method. It is declared as an
// interface so the symbol table stays independent of the IR package; the IR
// package's Code type implements it.
type Code interface {
	RegisterCount() int
	InstructionCount() int
}

// FieldRef is an interned field reference: (owning type, name, field type).
// It becomes a definition once MakeConcrete attaches access flags.
// Equality is pointer equality.
type FieldRef struct {
	owner *Type
	name  *String
	typ   *Type
	id    uint32
	def   *FieldDef
}

// FieldDef holds the definition-only parts of a field.
type FieldDef struct {
	Access      AccessFlags
	Annotations *AnnotationSet
	StaticValue EncodedValue
	DeobfName   string
}

// Owner returns the declaring type.
func (f *FieldRef) Owner() *Type { return f.owner }

// Name returns the field name.
func (f *FieldRef) Name() *String { return f.name }

// Type returns the declared field type.
func (f *FieldRef) Type() *Type { return f.typ }

// ID returns the registry-assigned dense id for this field.
func (f *FieldRef) ID() uint32 { return f.id }

// IsDef reports whether the reference has been elevated to a definition.
func (f *FieldRef) IsDef() bool { return f.def != nil }

// Def returns the definition, or nil for a pure reference.
func (f *FieldRef) Def() *FieldDef { return f.def }

// MakeConcrete elevates the reference to a definition. It fails if a
// definition already exists for this triple.
func (f *FieldRef) MakeConcrete(access AccessFlags) error {
	if f.def != nil {
		return fmt.Errorf("field %s already concrete", f)
	}
	f.def = &FieldDef{Access: access}
	return nil
}

// IsStatic reports whether the field definition carries the static bit.
func (f *FieldRef) IsStatic() bool {
	return f.def != nil && f.def.Access.IsStatic()
}

func (f *FieldRef) String() string {
	return f.owner.Descriptor() + "." + f.name.Str() + ":" + f.typ.Descriptor()
}

// MethodRef is an interned method reference: (owning type, name, proto).
// It becomes a definition once MakeConcrete attaches access flags and,
// unless abstract or native, a body. Equality is pointer equality.
type MethodRef struct {
	owner *Type
	name  *String
	proto *Proto
	id    uint32
	def   *MethodDef
}

// MethodDef holds the definition-only parts of a method.
type MethodDef struct {
	Access      AccessFlags
	Virtual     bool
	Code        Code
	Annotations *AnnotationSet
	DeobfName   string
}

// Owner returns the declaring type.
func (m *MethodRef) Owner() *Type { return m.owner }

// Name returns the method name.
func (m *MethodRef) Name() *String { return m.name }

// Proto returns the prototype.
func (m *MethodRef) Proto() *Proto { return m.proto }

// ID returns the registry-assigned dense id for this method.
func (m *MethodRef) ID() uint32 { return m.id }

// IsDef reports whether the reference has been elevated to a definition.
func (m *MethodRef) IsDef() bool { return m.def != nil }

// Def returns the definition, or nil for a pure reference.
func (m *MethodRef) Def() *MethodDef { return m.def }

// MakeConcrete elevates the reference to a definition. It fails if a
// definition already exists for this triple.
func (m *MethodRef) MakeConcrete(access AccessFlags, code Code, virtual bool) error {
	if m.def != nil {
		return fmt.Errorf("method %s already concrete", m)
	}
	m.def = &MethodDef{Access: access, Virtual: virtual, Code: code}
	return nil
}

// Code returns the method body, or nil for refs and bodyless defs.
func (m *MethodRef) Code() Code {
	if m.def == nil {
		return nil
	}
	return m.def.Code
}

// SetCode replaces the method body. The method must be a definition.
func (m *MethodRef) SetCode(c Code) {
	if m.def == nil {
		panic(fmt.Sprintf("SetCode on non-def method %s", m))
	}
	m.def.Code = c
}

// IsStatic reports whether the method definition carries the static bit.
func (m *MethodRef) IsStatic() bool {
	return m.def != nil && m.def.Access.IsStatic()
}

// IsVirtual reports whether the definition sits in the virtual method table.
func (m *MethodRef) IsVirtual() bool {
	return m.def != nil && m.def.Virtual
}

// IsNative reports whether the method definition carries the native bit.
func (m *MethodRef) IsNative() bool {
	return m.def != nil && m.def.Access.IsNative()
}

// IsInit reports whether the method is an instance constructor.
func (m *MethodRef) IsInit() bool { return m.name.Str() == "<init>" }

// IsClinit reports whether the method is a static initializer.
func (m *MethodRef) IsClinit() bool { return m.name.Str() == "<clinit>" }

func (m *MethodRef) String() string {
	return m.owner.Descriptor() + "." + m.name.Str() + ":" + m.proto.Descriptor()
}
