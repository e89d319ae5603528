package dex

// Well-known annotation type descriptors the optimizer rewrites.
const (
	DescEnclosingMethod = "Ldalvik/annotation/EnclosingMethod;"
	DescEnclosingClass  = "Ldalvik/annotation/EnclosingClass;"
	DescSignature       = "Ldalvik/annotation/Signature;"
)

// EncodedValue is a value inside an annotation or a static field initializer.
type EncodedValue interface {
	isEncodedValue()
}

// EncodedInt is an integral encoded value (covers byte through long).
type EncodedInt struct {
	Value int64
}

// EncodedString is a string-valued encoded value.
type EncodedString struct {
	Value *String
}

// EncodedType is a type-valued encoded value.
type EncodedType struct {
	Value *Type
}

// EncodedField is a field-reference encoded value.
type EncodedField struct {
	Value *FieldRef
}

// EncodedMethod is a method-reference encoded value.
type EncodedMethod struct {
	Value *MethodRef
}

// EncodedNull is the null reference encoded value.
type EncodedNull struct{}

// EncodedArray is an array of encoded values.
type EncodedArray struct {
	Values []EncodedValue
}

// EncodedAnnotation is a nested annotation encoded value.
type EncodedAnnotation struct {
	Value *Annotation
}

func (EncodedInt) isEncodedValue()        {}
func (EncodedString) isEncodedValue()     {}
func (EncodedType) isEncodedValue()       {}
func (EncodedField) isEncodedValue()      {}
func (EncodedMethod) isEncodedValue()     {}
func (EncodedNull) isEncodedValue()       {}
func (*EncodedArray) isEncodedValue()     {}
func (*EncodedAnnotation) isEncodedValue() {}

// AnnotationElement is one named element of an annotation.
type AnnotationElement struct {
	Name  *String
	Value EncodedValue
}

// Annotation is a single annotation instance.
type Annotation struct {
	Type     *Type
	Elements []AnnotationElement
}

// Element returns the value bound to name, or nil.
func (a *Annotation) Element(name string) EncodedValue {
	for i := range a.Elements {
		if a.Elements[i].Name.Str() == name {
			return a.Elements[i].Value
		}
	}
	return nil
}

// SetElement binds name to value, replacing an existing binding.
func (a *Annotation) SetElement(name *String, v EncodedValue) {
	for i := range a.Elements {
		if a.Elements[i].Name == name {
			a.Elements[i].Value = v
			return
		}
	}
	a.Elements = append(a.Elements, AnnotationElement{Name: name, Value: v})
}

// AnnotationSet is the ordered set of annotations on a class or member.
type AnnotationSet struct {
	Annotations []*Annotation
}

// Get returns the annotation of the given type descriptor, or nil.
func (s *AnnotationSet) Get(desc string) *Annotation {
	if s == nil {
		return nil
	}
	for _, a := range s.Annotations {
		if a.Type.Descriptor() == desc {
			return a
		}
	}
	return nil
}

// Has reports whether an annotation of the given type descriptor is present.
func (s *AnnotationSet) Has(desc string) bool {
	return s.Get(desc) != nil
}
