package dex

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Registry is the process-wide symbol table. It interns strings, types,
// protos, field references and method references, and indexes classes by
// type. Lookups take a read lock per table; creation takes the write lock,
// so concurrent readers never block each other and at most one writer
// creates any given triple.
//
// All handles returned by the registry are canonical: two references with
// equal keys are the same pointer.
type Registry struct {
	stringMu sync.RWMutex
	strings  map[string]*String

	typeMu sync.RWMutex
	types  map[string]*Type

	protoMu sync.RWMutex
	protos  map[string]*Proto

	fieldMu sync.RWMutex
	fields  map[fieldKey]*FieldRef

	methodMu sync.RWMutex
	methods  map[methodKey]*MethodRef

	classMu sync.RWMutex
	classes map[*Type]*Class
}

type fieldKey struct {
	owner *Type
	name  *String
	typ   *Type
}

type methodKey struct {
	owner *Type
	name  *String
	proto *Proto
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		strings: make(map[string]*String),
		types:   make(map[string]*Type),
		protos:  make(map[string]*Proto),
		fields:  make(map[fieldKey]*FieldRef),
		methods: make(map[methodKey]*MethodRef),
		classes: make(map[*Type]*Class),
	}
}

// GetString returns the interned string, or nil if it was never created.
func (r *Registry) GetString(s string) *String {
	r.stringMu.RLock()
	defer r.stringMu.RUnlock()
	return r.strings[s]
}

// MakeString interns s, creating it on first use.
func (r *Registry) MakeString(s string) *String {
	if h := r.GetString(s); h != nil {
		return h
	}
	r.stringMu.Lock()
	defer r.stringMu.Unlock()
	if h := r.strings[s]; h != nil {
		return h
	}
	h := &String{str: s, encoded: encodeMUTF8(s), id: uint32(len(r.strings))}
	r.strings[s] = h
	return h
}

// GetType returns the interned type, or nil if it was never created.
func (r *Registry) GetType(desc string) *Type {
	r.typeMu.RLock()
	defer r.typeMu.RUnlock()
	return r.types[desc]
}

// MakeType interns the descriptor, creating the type on first use.
func (r *Registry) MakeType(desc string) *Type {
	if t := r.GetType(desc); t != nil {
		return t
	}
	r.typeMu.Lock()
	defer r.typeMu.Unlock()
	if t := r.types[desc]; t != nil {
		return t
	}
	t := &Type{desc: desc, id: uint32(len(r.types))}
	r.types[desc] = t
	return t
}

// ElementType returns the element type of an array type, or nil for
// non-arrays.
func (r *Registry) ElementType(t *Type) *Type {
	if !t.IsArray() {
		return nil
	}
	return r.MakeType(t.Descriptor()[1:])
}

// ArrayOf returns the array type with element t.
func (r *Registry) ArrayOf(t *Type) *Type {
	return r.MakeType("[" + t.Descriptor())
}

// GetProto returns the interned proto, or nil if it was never created.
func (r *Registry) GetProto(rtype *Type, args []*Type) *Proto {
	key := protoKeyOf(rtype, args)
	r.protoMu.RLock()
	defer r.protoMu.RUnlock()
	return r.protos[key]
}

// MakeProto interns the (rtype, args) pair, creating it on first use.
func (r *Registry) MakeProto(rtype *Type, args ...*Type) *Proto {
	key := protoKeyOf(rtype, args)
	r.protoMu.RLock()
	p := r.protos[key]
	r.protoMu.RUnlock()
	if p != nil {
		return p
	}
	r.protoMu.Lock()
	defer r.protoMu.Unlock()
	if p := r.protos[key]; p != nil {
		return p
	}
	cp := make([]*Type, len(args))
	copy(cp, args)
	p = &Proto{rtype: rtype, args: cp, shorty: shortyOf(rtype, cp), id: uint32(len(r.protos))}
	r.protos[key] = p
	return p
}

func protoKeyOf(rtype *Type, args []*Type) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, a := range args {
		b.WriteString(a.Descriptor())
	}
	b.WriteByte(')')
	b.WriteString(rtype.Descriptor())
	return b.String()
}

// GetField returns the interned field ref, or nil if it was never created.
func (r *Registry) GetField(owner *Type, name *String, typ *Type) *FieldRef {
	r.fieldMu.RLock()
	defer r.fieldMu.RUnlock()
	return r.fields[fieldKey{owner, name, typ}]
}

// MakeField interns the (owner, name, type) triple, creating the reference
// on first use.
func (r *Registry) MakeField(owner *Type, name *String, typ *Type) *FieldRef {
	key := fieldKey{owner, name, typ}
	r.fieldMu.RLock()
	f := r.fields[key]
	r.fieldMu.RUnlock()
	if f != nil {
		return f
	}
	r.fieldMu.Lock()
	defer r.fieldMu.Unlock()
	if f := r.fields[key]; f != nil {
		return f
	}
	f = &FieldRef{owner: owner, name: name, typ: typ, id: uint32(len(r.fields))}
	r.fields[key] = f
	return f
}

// GetMethod returns the interned method ref, or nil if it was never created.
func (r *Registry) GetMethod(owner *Type, name *String, proto *Proto) *MethodRef {
	r.methodMu.RLock()
	defer r.methodMu.RUnlock()
	return r.methods[methodKey{owner, name, proto}]
}

// MakeMethod interns the (owner, name, proto) triple, creating the reference
// on first use.
func (r *Registry) MakeMethod(owner *Type, name *String, proto *Proto) *MethodRef {
	key := methodKey{owner, name, proto}
	r.methodMu.RLock()
	m := r.methods[key]
	r.methodMu.RUnlock()
	if m != nil {
		return m
	}
	r.methodMu.Lock()
	defer r.methodMu.Unlock()
	if m := r.methods[key]; m != nil {
		return m
	}
	m = &MethodRef{owner: owner, name: name, proto: proto, id: uint32(len(r.methods))}
	r.methods[key] = m
	return m
}

// FieldSpec is a partial field triple for ChangeField; nil fields keep the
// current value.
type FieldSpec struct {
	Owner *Type
	Name  *String
	Type  *Type
}

// MethodSpec is a partial method triple for ChangeMethod; nil fields keep
// the current value.
type MethodSpec struct {
	Owner *Type
	Name  *String
	Proto *Proto
}

// ChangeField atomically rebinds f to a new triple. If the new triple is
// already bound and renameOnCollision is set, a deterministic "$r<n>" suffix
// is appended to the name. With updateDeobf the definition records the old
// printable name.
func (r *Registry) ChangeField(f *FieldRef, spec FieldSpec, renameOnCollision, updateDeobf bool) error {
	oldStr := f.String()
	owner, name, typ := f.owner, f.name, f.typ
	if spec.Owner != nil {
		owner = spec.Owner
	}
	if spec.Name != nil {
		name = spec.Name
	}
	if spec.Type != nil {
		typ = spec.Type
	}

	r.fieldMu.Lock()
	defer r.fieldMu.Unlock()
	delete(r.fields, fieldKey{f.owner, f.name, f.typ})
	if other := r.fields[fieldKey{owner, name, typ}]; other != nil && other != f {
		if !renameOnCollision {
			r.fields[fieldKey{f.owner, f.name, f.typ}] = f
			return fmt.Errorf("field %s.%s:%s already bound", owner, name, typ)
		}
		name = r.freshName(name.Str(), func(n *String) bool {
			return r.fields[fieldKey{owner, n, typ}] == nil
		})
	}
	f.owner, f.name, f.typ = owner, name, typ
	r.fields[fieldKey{owner, name, typ}] = f
	if updateDeobf && f.def != nil {
		f.def.DeobfName = oldStr
	}
	return nil
}

// ChangeMethod atomically rebinds m to a new triple, with the same collision
// behavior as ChangeField.
func (r *Registry) ChangeMethod(m *MethodRef, spec MethodSpec, renameOnCollision, updateDeobf bool) error {
	oldStr := m.String()
	owner, name, proto := m.owner, m.name, m.proto
	if spec.Owner != nil {
		owner = spec.Owner
	}
	if spec.Name != nil {
		name = spec.Name
	}
	if spec.Proto != nil {
		proto = spec.Proto
	}

	r.methodMu.Lock()
	defer r.methodMu.Unlock()
	delete(r.methods, methodKey{m.owner, m.name, m.proto})
	if other := r.methods[methodKey{owner, name, proto}]; other != nil && other != m {
		if !renameOnCollision {
			r.methods[methodKey{m.owner, m.name, m.proto}] = m
			return fmt.Errorf("method %s.%s:%s already bound", owner, name, proto)
		}
		name = r.freshName(name.Str(), func(n *String) bool {
			return r.methods[methodKey{owner, n, proto}] == nil
		})
	}
	m.owner, m.name, m.proto = owner, name, proto
	r.methods[methodKey{owner, name, proto}] = m
	if updateDeobf && m.def != nil {
		m.def.DeobfName = oldStr
	}
	return nil
}

// freshName finds the smallest n such that base+"$r<n>" passes free. The
// suffix scheme is shared with the interface rewriter so renames stay
// deterministic across runs.
func (r *Registry) freshName(base string, free func(*String) bool) *String {
	for n := 0; ; n++ {
		s := r.MakeString(base + "$r" + strconv.Itoa(n))
		if free(s) {
			return s
		}
	}
}

// RegisterClass indexes a class by its type. The previous binding, if any,
// is replaced.
func (r *Registry) RegisterClass(c *Class) {
	r.classMu.Lock()
	defer r.classMu.Unlock()
	r.classes[c.typ] = c
}

// UnregisterClass drops the class bound to t.
func (r *Registry) UnregisterClass(t *Type) {
	r.classMu.Lock()
	defer r.classMu.Unlock()
	delete(r.classes, t)
}

// ClassOf returns the class defining t, or nil if t is external.
func (r *Registry) ClassOf(t *Type) *Class {
	if t == nil {
		return nil
	}
	r.classMu.RLock()
	defer r.classMu.RUnlock()
	return r.classes[t]
}

// ParseProto interns a proto from its "(args)rtype" descriptor.
func (r *Registry) ParseProto(desc string) (*Proto, error) {
	if len(desc) == 0 || desc[0] != '(' {
		return nil, fmt.Errorf("bad proto descriptor %q", desc)
	}
	close := strings.IndexByte(desc, ')')
	if close < 0 {
		return nil, fmt.Errorf("bad proto descriptor %q", desc)
	}
	args, err := splitTypeList(desc[1:close])
	if err != nil {
		return nil, fmt.Errorf("bad proto descriptor %q: %w", desc, err)
	}
	handles := make([]*Type, len(args))
	for i, a := range args {
		handles[i] = r.MakeType(a)
	}
	return r.MakeProto(r.MakeType(desc[close+1:]), handles...), nil
}

// ParseField interns a field ref from "Lowner;.name:type".
func (r *Registry) ParseField(s string) (*FieldRef, error) {
	dot := strings.Index(s, ";.")
	colon := strings.LastIndexByte(s, ':')
	if dot < 0 || colon < dot {
		return nil, fmt.Errorf("bad field descriptor %q", s)
	}
	owner := r.MakeType(s[:dot+1])
	name := r.MakeString(s[dot+2 : colon])
	typ := r.MakeType(s[colon+1:])
	return r.MakeField(owner, name, typ), nil
}

// ParseMethod interns a method ref from "Lowner;.name:(args)rtype".
func (r *Registry) ParseMethod(s string) (*MethodRef, error) {
	dot := strings.Index(s, ";.")
	colon := strings.IndexByte(s, ':')
	if dot < 0 || colon < dot {
		return nil, fmt.Errorf("bad method descriptor %q", s)
	}
	proto, err := r.ParseProto(s[colon+1:])
	if err != nil {
		return nil, err
	}
	owner := r.MakeType(s[:dot+1])
	name := r.MakeString(s[dot+2 : colon])
	return r.MakeMethod(owner, name, proto), nil
}

// splitTypeList tokenizes a concatenated type-descriptor list.
func splitTypeList(s string) ([]string, error) {
	var out []string
	for i := 0; i < len(s); {
		start := i
		for i < len(s) && s[i] == '[' {
			i++
		}
		if i >= len(s) {
			return nil, fmt.Errorf("dangling array marker")
		}
		if s[i] == 'L' {
			end := strings.IndexByte(s[i:], ';')
			if end < 0 {
				return nil, fmt.Errorf("unterminated class descriptor")
			}
			i += end + 1
		} else {
			i++
		}
		out = append(out, s[start:i])
	}
	return out, nil
}
