package dex

// Type is an interned dex type descriptor such as "Lcom/x/Y;", "[I" or "V".
// Two types with the same descriptor are always the same handle, so equality
// is pointer equality.
type Type struct {
	desc string
	id   uint32
}

// Descriptor returns the raw dex descriptor string.
func (t *Type) Descriptor() string {
	return t.desc
}

// ID returns the registry-assigned dense id for this type.
func (t *Type) ID() uint32 {
	return t.id
}

// IsArray reports whether the type is an array type ("[...").
func (t *Type) IsArray() bool {
	return len(t.desc) > 0 && t.desc[0] == '['
}

// IsObject reports whether the type is a reference type (class or array).
func (t *Type) IsObject() bool {
	return len(t.desc) > 0 && (t.desc[0] == 'L' || t.desc[0] == '[')
}

// IsClass reports whether the type is a non-array reference type.
func (t *Type) IsClass() bool {
	return len(t.desc) > 0 && t.desc[0] == 'L'
}

// IsPrimitive reports whether the type is a primitive scalar type.
func (t *Type) IsPrimitive() bool {
	return !t.IsObject() && t.desc != "V"
}

// IsVoid reports whether the type is "V".
func (t *Type) IsVoid() bool {
	return t.desc == "V"
}

// IsWide reports whether the type occupies a register pair (long or double).
func (t *Type) IsWide() bool {
	return t.desc == "J" || t.desc == "D"
}

// ArrayDepth returns the number of leading '[' in the descriptor.
func (t *Type) ArrayDepth() int {
	n := 0
	for n < len(t.desc) && t.desc[n] == '[' {
		n++
	}
	return n
}

func (t *Type) String() string {
	return t.desc
}

// shortyChar maps a type to its shorty character: 'L' for references,
// the primitive descriptor character otherwise.
func shortyChar(t *Type) byte {
	if t.IsObject() {
		return 'L'
	}
	return t.desc[0]
}
