package ir

import (
	"fmt"
	"strings"

	"dexopt/internal/dex"
)

// Reg is a virtual register number.
type Reg uint32

// Instruction is a single IR instruction: an opcode, up to five source
// registers, an optional destination and at most one typed payload. Accessing
// a payload the opcode does not carry is a programming error and panics.
type Instruction struct {
	op   Op
	srcs []Reg
	dest Reg

	lit    int64
	str    *dex.String
	typ    *dex.Type
	field  *dex.FieldRef
	method *dex.MethodRef
	data   []int64
}

// NewInstruction creates an instruction with the given opcode.
func NewInstruction(op Op) *Instruction {
	return &Instruction{op: op}
}

// Op returns the opcode.
func (in *Instruction) Op() Op { return in.op }

// Srcs returns the source registers. Callers must not mutate the slice.
func (in *Instruction) Srcs() []Reg { return in.srcs }

// SrcsSize returns the number of source registers.
func (in *Instruction) SrcsSize() int { return len(in.srcs) }

// Src returns the i-th source register.
func (in *Instruction) Src(i int) Reg {
	if i < 0 || i >= len(in.srcs) {
		panic(fmt.Sprintf("ir: src %d out of range on %s", i, in))
	}
	return in.srcs[i]
}

// SetSrc replaces the i-th source register.
func (in *Instruction) SetSrc(i int, r Reg) *Instruction {
	if i < 0 || i >= len(in.srcs) {
		panic(fmt.Sprintf("ir: src %d out of range on %s", i, in))
	}
	in.srcs[i] = r
	return in
}

// SetSrcs replaces the entire source list. For fixed-arity opcodes the
// length must match the opcode's arity.
func (in *Instruction) SetSrcs(rs ...Reg) *Instruction {
	if n := info(in.op).srcs; n >= 0 && n != len(rs) {
		panic(fmt.Sprintf("ir: %s takes %d srcs, got %d", in.op, n, len(rs)))
	}
	if len(rs) > 5 {
		panic(fmt.Sprintf("ir: %s given %d srcs, max 5", in.op, len(rs)))
	}
	in.srcs = append(in.srcs[:0], rs...)
	return in
}

// HasDest reports whether the opcode writes a destination register.
func (in *Instruction) HasDest() bool { return info(in.op).hasDest }

// DestsSize returns 1 for dest-carrying opcodes and 0 otherwise.
func (in *Instruction) DestsSize() int {
	if in.HasDest() {
		return 1
	}
	return 0
}

// Dest returns the destination register.
func (in *Instruction) Dest() Reg {
	if !in.HasDest() {
		panic("ir: Dest on " + in.op.String())
	}
	return in.dest
}

// SetDest sets the destination register.
func (in *Instruction) SetDest(r Reg) *Instruction {
	if !in.HasDest() {
		panic("ir: SetDest on " + in.op.String())
	}
	in.dest = r
	return in
}

// DestIsWide reports whether the destination is a register pair.
func (in *Instruction) DestIsWide() bool { return info(in.op).destWide }

// DestIsObject reports whether the destination holds a reference.
func (in *Instruction) DestIsObject() bool { return info(in.op).destObj }

// HasLiteral reports whether the opcode carries a literal payload.
func (in *Instruction) HasLiteral() bool { return info(in.op).payload == PayloadLiteral }

// Literal returns the literal payload.
func (in *Instruction) Literal() int64 {
	in.wantPayload(PayloadLiteral)
	return in.lit
}

// SetLiteral sets the literal payload.
func (in *Instruction) SetLiteral(v int64) *Instruction {
	in.wantPayload(PayloadLiteral)
	in.lit = v
	return in
}

// HasString reports whether the opcode carries a string payload.
func (in *Instruction) HasString() bool { return info(in.op).payload == PayloadString }

// StringRef returns the string payload.
func (in *Instruction) StringRef() *dex.String {
	in.wantPayload(PayloadString)
	return in.str
}

// SetStringRef sets the string payload.
func (in *Instruction) SetStringRef(s *dex.String) *Instruction {
	in.wantPayload(PayloadString)
	in.str = s
	return in
}

// HasType reports whether the opcode carries a type payload.
func (in *Instruction) HasType() bool { return info(in.op).payload == PayloadType }

// TypeRef returns the type payload.
func (in *Instruction) TypeRef() *dex.Type {
	in.wantPayload(PayloadType)
	return in.typ
}

// SetTypeRef sets the type payload.
func (in *Instruction) SetTypeRef(t *dex.Type) *Instruction {
	in.wantPayload(PayloadType)
	in.typ = t
	return in
}

// HasField reports whether the opcode carries a field payload.
func (in *Instruction) HasField() bool { return info(in.op).payload == PayloadField }

// FieldRef returns the field payload.
func (in *Instruction) FieldRef() *dex.FieldRef {
	in.wantPayload(PayloadField)
	return in.field
}

// SetFieldRef sets the field payload.
func (in *Instruction) SetFieldRef(f *dex.FieldRef) *Instruction {
	in.wantPayload(PayloadField)
	in.field = f
	return in
}

// HasMethod reports whether the opcode carries a method payload.
func (in *Instruction) HasMethod() bool { return info(in.op).payload == PayloadMethod }

// MethodRef returns the method payload.
func (in *Instruction) MethodRef() *dex.MethodRef {
	in.wantPayload(PayloadMethod)
	return in.method
}

// SetMethodRef sets the method payload.
func (in *Instruction) SetMethodRef(m *dex.MethodRef) *Instruction {
	in.wantPayload(PayloadMethod)
	in.method = m
	return in
}

// HasData reports whether the opcode carries a fill-array-data payload.
func (in *Instruction) HasData() bool { return info(in.op).payload == PayloadData }

// Data returns the fill-array-data payload.
func (in *Instruction) Data() []int64 {
	in.wantPayload(PayloadData)
	return in.data
}

// SetData sets the fill-array-data payload.
func (in *Instruction) SetData(d []int64) *Instruction {
	in.wantPayload(PayloadData)
	in.data = d
	return in
}

// Clone returns a deep copy. Every instruction belongs to exactly one code
// object, so moving one between methods requires a clone.
func (in *Instruction) Clone() *Instruction {
	cp := *in
	cp.srcs = append([]Reg(nil), in.srcs...)
	cp.data = append([]int64(nil), in.data...)
	return &cp
}

func (in *Instruction) wantPayload(k PayloadKind) {
	if info(in.op).payload != k {
		panic(fmt.Sprintf("ir: %s carries no %s payload", in.op, payloadName(k)))
	}
}

func payloadName(k PayloadKind) string {
	switch k {
	case PayloadLiteral:
		return "literal"
	case PayloadString:
		return "string"
	case PayloadType:
		return "type"
	case PayloadField:
		return "field"
	case PayloadMethod:
		return "method"
	case PayloadData:
		return "data"
	}
	return "none"
}

func (in *Instruction) String() string {
	var b strings.Builder
	b.WriteString(in.op.String())
	if in.HasDest() {
		fmt.Fprintf(&b, " v%d", in.dest)
	}
	for _, s := range in.srcs {
		fmt.Fprintf(&b, " v%d", s)
	}
	switch info(in.op).payload {
	case PayloadLiteral:
		fmt.Fprintf(&b, " #%d", in.lit)
	case PayloadString:
		fmt.Fprintf(&b, " %q", in.str.Str())
	case PayloadType:
		fmt.Fprintf(&b, " %s", in.typ)
	case PayloadField:
		fmt.Fprintf(&b, " %s", in.field)
	case PayloadMethod:
		fmt.Fprintf(&b, " %s", in.method)
	case PayloadData:
		fmt.Fprintf(&b, " data[%d]", len(in.data))
	}
	return b.String()
}
