package dex

// Proto is an interned method prototype: a return type plus an argument list,
// with the shorty string cached. Equality is pointer equality.
type Proto struct {
	rtype  *Type
	args   []*Type
	shorty string
	id     uint32
}

// Rtype returns the return type.
func (p *Proto) Rtype() *Type {
	return p.rtype
}

// Args returns the argument types. Callers must not mutate the slice.
func (p *Proto) Args() []*Type {
	return p.args
}

// Shorty returns the cached shorty string: return type first, then one
// character per argument, references collapsed to 'L'.
func (p *Proto) Shorty() string {
	return p.shorty
}

// ID returns the registry-assigned dense id for this proto.
func (p *Proto) ID() uint32 {
	return p.id
}

// Descriptor renders the proto as "(args)rtype".
func (p *Proto) Descriptor() string {
	out := "("
	for _, a := range p.args {
		out += a.Descriptor()
	}
	return out + ")" + p.rtype.Descriptor()
}

func (p *Proto) String() string {
	return p.Descriptor()
}

func shortyOf(rtype *Type, args []*Type) string {
	b := make([]byte, 0, len(args)+1)
	b = append(b, shortyChar(rtype))
	for _, a := range args {
		b = append(b, shortyChar(a))
	}
	return string(b)
}
