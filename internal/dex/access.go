package dex

// AccessFlags is the dex access-flag bitset for classes, fields and methods.
type AccessFlags uint32

const (
	AccPublic      AccessFlags = 0x1
	AccPrivate     AccessFlags = 0x2
	AccProtected   AccessFlags = 0x4
	AccStatic      AccessFlags = 0x8
	AccFinal       AccessFlags = 0x10
	AccSynchronized AccessFlags = 0x20
	AccVolatile    AccessFlags = 0x40
	AccBridge      AccessFlags = 0x40
	AccTransient   AccessFlags = 0x80
	AccVarargs     AccessFlags = 0x80
	AccNative      AccessFlags = 0x100
	AccInterface   AccessFlags = 0x200
	AccAbstract    AccessFlags = 0x400
	AccStrict      AccessFlags = 0x800
	AccSynthetic   AccessFlags = 0x1000
	AccAnnotation  AccessFlags = 0x2000
	AccEnum        AccessFlags = 0x4000
	AccConstructor AccessFlags = 0x10000
)

// IsStatic reports whether the static bit is set.
func (a AccessFlags) IsStatic() bool { return a&AccStatic != 0 }

// IsNative reports whether the native bit is set.
func (a AccessFlags) IsNative() bool { return a&AccNative != 0 }

// IsAbstract reports whether the abstract bit is set.
func (a AccessFlags) IsAbstract() bool { return a&AccAbstract != 0 }

// IsInterface reports whether the interface bit is set.
func (a AccessFlags) IsInterface() bool { return a&AccInterface != 0 }

// IsFinal reports whether the final bit is set.
func (a AccessFlags) IsFinal() bool { return a&AccFinal != 0 }

// IsPublic reports whether the public bit is set.
func (a AccessFlags) IsPublic() bool { return a&AccPublic != 0 }

// IsConstructor reports whether the constructor bit is set.
func (a AccessFlags) IsConstructor() bool { return a&AccConstructor != 0 }
