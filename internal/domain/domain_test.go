package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexopt/internal/dex"
)

// stubOracle is a hand-wired hierarchy for lattice tests.
type stubOracle struct {
	parents map[*dex.Type]*dex.Type
	ifaces  map[*dex.Type][]*dex.Type
	known   map[*dex.Type]bool
}

func (s *stubOracle) Parent(t *dex.Type) (*dex.Type, bool) {
	if !s.known[t] {
		return nil, false
	}
	return s.parents[t], true
}

func (s *stubOracle) Interfaces(t *dex.Type) []*dex.Type { return s.ifaces[t] }

func (s *stubOracle) IsKnown(t *dex.Type) bool { return s.known[t] }

func (s *stubOracle) IsSubclass(parent, child *dex.Type) bool {
	for c := child; c != nil; {
		if c == parent {
			return true
		}
		if !s.known[c] {
			return false
		}
		c = s.parents[c]
	}
	return false
}

type fixture struct {
	reg    *dex.Registry
	oracle *stubOracle
	object *dex.Type
	base   *dex.Type
	subA   *dex.Type
	subB   *dex.Type
	iface  *dex.Type
	extern *dex.Type
}

func newFixture() *fixture {
	reg := dex.NewRegistry()
	f := &fixture{
		reg:    reg,
		object: reg.MakeType("Ljava/lang/Object;"),
		base:   reg.MakeType("Lcom/x/Base;"),
		subA:   reg.MakeType("Lcom/x/SubA;"),
		subB:   reg.MakeType("Lcom/x/SubB;"),
		iface:  reg.MakeType("Lcom/x/I;"),
		extern: reg.MakeType("Lcom/external/Gone;"),
	}
	f.oracle = &stubOracle{
		parents: map[*dex.Type]*dex.Type{
			f.base: f.object,
			f.subA: f.base,
			f.subB: f.base,
		},
		ifaces: map[*dex.Type][]*dex.Type{},
		known: map[*dex.Type]bool{
			f.object: true, f.base: true, f.subA: true, f.subB: true,
		},
	}
	return f
}

func TestNullnessLattice(t *testing.T) {
	all := []Nullness{NullnessBottom, IsNull, NotNull, Nullable}
	for _, a := range all {
		for _, b := range all {
			j := a.Join(b)
			assert.True(t, a.Leq(j), "%s ⊑ %s⊔%s", a, a, b)
			assert.True(t, b.Leq(j), "%s ⊑ %s⊔%s", b, a, b)
			assert.Equal(t, j, b.Join(a), "join commutes")
		}
	}
	assert.Equal(t, Nullable, IsNull.Join(NotNull))
	assert.Equal(t, NullnessBottom, IsNull.Meet(NotNull))
	assert.Equal(t, "NOT_NULL", NotNull.String())
}

func TestConstNullness(t *testing.T) {
	five := ForConst(5)
	v, ok := five.Constant()
	require.True(t, ok)
	assert.EqualValues(t, 5, v)
	assert.Equal(t, NotNull, five.Nullness())

	zero := ForConst(0)
	assert.Equal(t, IsNull, zero.Nullness())

	same := five.Join(ForConst(5))
	v, ok = same.Constant()
	require.True(t, ok)
	assert.EqualValues(t, 5, v)

	diff := five.Join(ForConst(6))
	_, ok = diff.Constant()
	assert.False(t, ok)
	assert.Equal(t, NotNull, diff.Nullness())

	mixed := five.Join(zero)
	assert.Equal(t, Nullable, mixed.Nullness())

	assert.True(t, ConstNullnessBottom().Join(five).Equals(five))
	assert.True(t, five.Leq(ConstNullnessTop()))
}

func TestSingletonJoin(t *testing.T) {
	f := newFixture()
	o := f.oracle

	a := SingletonOf(f.subA)
	b := SingletonOf(f.subB)
	base := SingletonOf(f.base)

	assert.True(t, a.Join(o, a).Equals(a), "equal values join to themselves")
	assert.True(t, SingletonNone().Join(o, a).Equals(a), "none absorbs into the type")
	assert.True(t, a.Join(o, SingletonBottom()).Equals(a))
	assert.True(t, a.Join(o, SingletonOf(f.extern)).IsTop(), "unknown class forces top")

	assert.True(t, a.Join(o, base).Equals(base), "subtype widens to the supertype")
	assert.True(t, base.Join(o, a).Equals(base))

	// Siblings share Base one step up.
	assert.True(t, a.Join(o, b).Equals(base))

	// A sibling pair without a one-step common base goes to top.
	far := SingletonOf(f.object)
	deep := a.Join(o, far)
	assert.True(t, deep.Equals(far), "Object is a supertype of SubA")

	// Interface identity loss blocks the supertype step.
	o.ifaces[f.subA] = []*dex.Type{f.iface}
	assert.True(t, a.Join(o, base).IsTop(), "widening would lose the interface")
}

func TestSingletonOneStepOnly(t *testing.T) {
	f := newFixture()
	// grandchild of Base: common base with SubB is two steps away for it.
	leaf := f.reg.MakeType("Lcom/x/Leaf;")
	f.oracle.parents[leaf] = f.subA
	f.oracle.known[leaf] = true

	j := SingletonOf(leaf).Join(f.oracle, SingletonOf(f.subB))
	assert.True(t, j.IsTop(), "the common-base walk is a single step")
}

func TestSmallSetBoundary(t *testing.T) {
	f := newFixture()
	t1, t2, t3, t4 := f.base, f.subA, f.subB, f.iface
	t5 := f.object

	s := SmallSetOf(t1, t2, t3, t4)
	got, ok := s.Types()
	require.True(t, ok)
	assert.Len(t, got, 4)

	assert.True(t, s.Join(SmallSetOf(t2)).Equals(s), "re-adding a member is a no-op")
	assert.True(t, s.Join(SmallSetOf(t5)).IsTop(), "a fifth distinct type saturates")
	assert.True(t, SmallSetBottom().Join(s).Equals(s))
}

func TestSmallSetSaturationCollapsesToSingletonJoin(t *testing.T) {
	f := newFixture()
	o := f.oracle
	types := make([]*dex.Type, 5)
	for i := range types {
		types[i] = f.reg.MakeType("Lcom/x/T" + string(rune('0'+i)) + ";")
		o.parents[types[i]] = f.object
		o.known[types[i]] = true
	}

	acc := TypeOf(types[0], NotNull)
	for _, ty := range types[1:4] {
		acc = acc.Join(o, TypeOf(ty, NotNull))
	}
	set, ok := acc.SmallSet().Types()
	require.True(t, ok)
	assert.Len(t, set, 4)

	acc = acc.Join(o, TypeOf(types[4], NotNull))
	assert.True(t, acc.SmallSet().IsTop(), "set factor saturates on the fifth type")
	single, ok := acc.SingleType()
	require.True(t, ok)
	assert.Same(t, f.object, single, "singleton factor falls back to the common base")
}

func TestArrayNullness(t *testing.T) {
	a := NewArray(3)
	n, ok := a.Length()
	require.True(t, ok)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, NotNull, a.Nullness())
	assert.Equal(t, Nullable, a.Element(0), "untouched index is top")

	a = a.SetElement(0, NotNull).SetElement(1, IsNull)
	assert.Equal(t, NotNull, a.Element(0))
	assert.Equal(t, IsNull, a.Element(1))

	b := NewArray(3).SetElement(0, NotNull).SetElement(2, NotNull)
	j := a.Join(b)
	assert.Equal(t, NotNull, j.Element(0))
	assert.Equal(t, Nullable, j.Element(1), "index known on one side only is top")
	assert.Equal(t, Nullable, j.Element(2))

	short := NewArray(2)
	jl := a.Join(short)
	_, ok = jl.Length()
	assert.False(t, ok, "disagreeing lengths are unknown")

	reset := a.ResetElements()
	assert.Equal(t, Nullable, reset.Element(0))
	nl, ok := reset.Length()
	require.True(t, ok)
	assert.EqualValues(t, 3, nl)
}

func TestTypeDomainLattice(t *testing.T) {
	f := newFixture()
	o := f.oracle

	samples := []TypeDomain{
		Top(),
		Bottom(),
		Null(),
		ConstDomain(7),
		TypeOf(f.base, NotNull),
		TypeOf(f.subA, Nullable),
		ArrayOf(f.reg.MakeType("[I"), 4),
	}
	for _, a := range samples {
		for _, b := range samples {
			j := a.Join(o, b)
			assert.True(t, a.Leq(o, j), "%s ⊑ %s⊔%s", a, a, b)
			assert.True(t, b.Leq(o, j), "%s ⊑ %s⊔%s", b, a, b)
		}
	}
}

func TestTypeDomainBottomNormalization(t *testing.T) {
	f := newFixture()

	d := TypeOf(f.base, NotNull).WithNullness(NullnessBottom)
	assert.True(t, d.IsBottom(), "one bottom factor sinks the whole product")
	assert.True(t, d.Singleton().IsBottom())
	assert.True(t, d.SmallSet().IsBottom())

	assert.True(t, Bottom().Join(f.oracle, Top()).IsTop())
}

func TestTypeDomainMixedScalarArray(t *testing.T) {
	f := newFixture()
	arr := ArrayOf(f.reg.MakeType("[Ljava/lang/String;"), 2)
	j := arr.Join(f.oracle, Null())
	_, isArr := j.Array()
	assert.False(t, isArr)
	assert.Equal(t, Nullable, j.Nullness())
}

func TestTypeEnvironment(t *testing.T) {
	f := newFixture()
	o := f.oracle

	e := TopEnv().Set(0, TypeOf(f.base, NotNull)).Set(1, ConstDomain(3)).SetThis(0)
	assert.True(t, e.IsThis(0))
	assert.False(t, e.IsThis(1))

	ty, ok := e.Get(0).SingleType()
	require.True(t, ok)
	assert.Same(t, f.base, ty)
	assert.True(t, e.Get(5).IsTop(), "unbound register is top")

	// Overwriting a register clears its this-ness.
	e2 := e.Set(0, ConstDomain(0))
	assert.False(t, e2.IsThis(0))
	assert.True(t, e.IsThis(0), "environments are persistent")

	other := TopEnv().Set(0, TypeOf(f.subA, NotNull)).Set(2, ConstDomain(9)).SetThis(0)
	j := e.Join(o, other)
	ty, ok = j.Get(0).SingleType()
	require.True(t, ok)
	assert.Same(t, f.base, ty, "register values join pointwise")
	assert.True(t, j.Get(1).IsTop(), "one-sided binding drops to top")
	assert.True(t, j.Get(2).IsTop())
	assert.True(t, j.IsThis(0), "this-ness survives when both sides agree")

	assert.True(t, BottomEnv().Join(o, e).Equals(e))
	assert.True(t, e.Leq(o, TopEnv()))
}

func TestTypeEnvironmentFields(t *testing.T) {
	f := newFixture()
	fld, err := f.reg.ParseField("Lcom/x/Base;.name:Ljava/lang/String;")
	require.NoError(t, err)

	e := TopEnv().SetField(fld, TypeOf(f.reg.MakeType("Ljava/lang/String;"), NotNull))
	assert.True(t, e.GetField(fld).IsNotNull())

	count := 0
	e.ForEachField(func(id uint32, d TypeDomain) {
		count++
		assert.Equal(t, fld.ID(), id)
		assert.True(t, d.IsNotNull())
	})
	assert.Equal(t, 1, count)
}
