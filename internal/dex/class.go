package dex

// Class owns its members: direct and virtual methods, instance and static
// fields, the interface list, super type, access flags, annotations and the
// optional source-file string. Moving a member between classes is an explicit
// RemoveMethod/AddMethod (or field) pair.
type Class struct {
	typ        *Type
	super      *Type
	access     AccessFlags
	interfaces []*Type

	directMethods  []*MethodRef
	virtualMethods []*MethodRef
	instanceFields []*FieldRef
	staticFields   []*FieldRef

	annotations *AnnotationSet
	sourceFile  *String

	external bool
	store    string
}

// NewClass creates a class with the given type, super and access flags.
func NewClass(typ, super *Type, access AccessFlags) *Class {
	return &Class{typ: typ, super: super, access: access}
}

// NewExternalClass creates a placeholder for a class defined outside the
// current scope. External classes carry no members.
func NewExternalClass(typ, super *Type) *Class {
	return &Class{typ: typ, super: super, external: true}
}

// Type returns the class's own type.
func (c *Class) Type() *Type { return c.typ }

// Super returns the declared super type, nil for java.lang.Object.
func (c *Class) Super() *Type { return c.super }

// SetSuper replaces the declared super type.
func (c *Class) SetSuper(t *Type) { c.super = t }

// Access returns the access flags.
func (c *Class) Access() AccessFlags { return c.access }

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.access.IsInterface() }

// IsExternal reports whether the class is defined outside the scope.
func (c *Class) IsExternal() bool { return c.external }

// Store returns the name of the store the class belongs to.
func (c *Class) Store() string { return c.store }

// Interfaces returns the implemented interface list.
func (c *Class) Interfaces() []*Type { return c.interfaces }

// SetInterfaces replaces the implemented interface list.
func (c *Class) SetInterfaces(ifaces []*Type) { c.interfaces = ifaces }

// Annotations returns the class annotation set, possibly nil.
func (c *Class) Annotations() *AnnotationSet { return c.annotations }

// SetAnnotations replaces the class annotation set.
func (c *Class) SetAnnotations(s *AnnotationSet) { c.annotations = s }

// SourceFile returns the source-file string, possibly nil.
func (c *Class) SourceFile() *String { return c.sourceFile }

// SetSourceFile sets the source-file string.
func (c *Class) SetSourceFile(s *String) { c.sourceFile = s }

// DirectMethods returns the direct (static, private, constructor) methods.
func (c *Class) DirectMethods() []*MethodRef { return c.directMethods }

// VirtualMethods returns the virtual methods.
func (c *Class) VirtualMethods() []*MethodRef { return c.virtualMethods }

// AllMethods returns direct then virtual methods in declaration order.
func (c *Class) AllMethods() []*MethodRef {
	out := make([]*MethodRef, 0, len(c.directMethods)+len(c.virtualMethods))
	out = append(out, c.directMethods...)
	return append(out, c.virtualMethods...)
}

// InstanceFields returns the instance fields.
func (c *Class) InstanceFields() []*FieldRef { return c.instanceFields }

// StaticFields returns the static fields.
func (c *Class) StaticFields() []*FieldRef { return c.staticFields }

// AllFields returns instance then static fields in declaration order.
func (c *Class) AllFields() []*FieldRef {
	out := make([]*FieldRef, 0, len(c.instanceFields)+len(c.staticFields))
	out = append(out, c.instanceFields...)
	return append(out, c.staticFields...)
}

// AddMethod appends a concrete method to the right member table.
func (c *Class) AddMethod(m *MethodRef) {
	if m.IsVirtual() {
		c.virtualMethods = append(c.virtualMethods, m)
	} else {
		c.directMethods = append(c.directMethods, m)
	}
}

// RemoveMethod detaches a method from the class. Returns false if the method
// was not a member.
func (c *Class) RemoveMethod(m *MethodRef) bool {
	if removeRef(&c.directMethods, m) {
		return true
	}
	return removeRef(&c.virtualMethods, m)
}

// AddField appends a concrete field to the right member table.
func (c *Class) AddField(f *FieldRef) {
	if f.IsStatic() {
		c.staticFields = append(c.staticFields, f)
	} else {
		c.instanceFields = append(c.instanceFields, f)
	}
}

// RemoveField detaches a field from the class. Returns false if the field
// was not a member.
func (c *Class) RemoveField(f *FieldRef) bool {
	if removeField(&c.instanceFields, f) {
		return true
	}
	return removeField(&c.staticFields, f)
}

// FindMethod returns the member method with the given name and proto, or nil.
func (c *Class) FindMethod(name *String, proto *Proto) *MethodRef {
	for _, m := range c.directMethods {
		if m.name == name && m.proto == proto {
			return m
		}
	}
	for _, m := range c.virtualMethods {
		if m.name == name && m.proto == proto {
			return m
		}
	}
	return nil
}

// FindVirtualMethod returns the virtual member with the given name and
// proto, or nil.
func (c *Class) FindVirtualMethod(name *String, proto *Proto) *MethodRef {
	for _, m := range c.virtualMethods {
		if m.name == name && m.proto == proto {
			return m
		}
	}
	return nil
}

// FindField returns the member field with the given name and type, or nil.
func (c *Class) FindField(name *String, typ *Type) *FieldRef {
	for _, f := range c.instanceFields {
		if f.name == name && f.typ == typ {
			return f
		}
	}
	for _, f := range c.staticFields {
		if f.name == name && f.typ == typ {
			return f
		}
	}
	return nil
}

// Clinit returns the static initializer, or nil.
func (c *Class) Clinit() *MethodRef {
	for _, m := range c.directMethods {
		if m.IsClinit() {
			return m
		}
	}
	return nil
}

// Ctors returns the instance constructors.
func (c *Class) Ctors() []*MethodRef {
	var out []*MethodRef
	for _, m := range c.directMethods {
		if m.IsInit() {
			out = append(out, m)
		}
	}
	return out
}

func (c *Class) String() string {
	return c.typ.Descriptor()
}

func removeRef(list *[]*MethodRef, m *MethodRef) bool {
	for i, e := range *list {
		if e == m {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

func removeField(list *[]*FieldRef, f *FieldRef) bool {
	for i, e := range *list {
		if e == f {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}
