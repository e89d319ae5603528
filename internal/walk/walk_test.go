package walk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexopt/internal/cfg"
	"dexopt/internal/dex"
	"dexopt/internal/ir"
)

func testScope(t *testing.T) (*dex.Registry, []*dex.Class) {
	t.Helper()
	reg := dex.NewRegistry()
	object := dex.NewClass(reg.MakeType("Ljava/lang/Object;"), nil, dex.AccPublic)
	reg.RegisterClass(object)

	var scope []*dex.Class
	for _, desc := range []string{"LA;", "LB;", "LC;"} {
		c := dex.NewClass(reg.MakeType(desc), object.Type(), dex.AccPublic)
		reg.RegisterClass(c)
		scope = append(scope, c)
	}
	return reg, scope
}

func addMethod(t *testing.T, reg *dex.Registry, c *dex.Class, name string, lits ...int64) *dex.MethodRef {
	t.Helper()
	m := reg.MakeMethod(c.Type(), reg.MakeString(name), reg.MakeProto(reg.MakeType("V")))
	items := make([]*ir.Item, 0, len(lits)+1)
	for _, lit := range lits {
		items = append(items, ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(0).SetLiteral(lit)))
	}
	items = append(items, ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)))
	require.NoError(t, m.MakeConcrete(dex.AccPublic|dex.AccStatic, ir.NewCode(1, ir.NewList(items...)), false))
	c.AddMethod(m)
	return m
}

func addField(t *testing.T, reg *dex.Registry, c *dex.Class, name string) *dex.FieldRef {
	t.Helper()
	f := reg.MakeField(c.Type(), reg.MakeString(name), reg.MakeType("I"))
	require.NoError(t, f.MakeConcrete(dex.AccPublic))
	c.AddField(f)
	return f
}

func TestMethodsVisitsEveryDef(t *testing.T) {
	reg, scope := testScope(t)
	m1 := addMethod(t, reg, scope[0], "a")
	m2 := addMethod(t, reg, scope[1], "b")
	m3 := addMethod(t, reg, scope[1], "c")

	var got []*dex.MethodRef
	Methods(scope, func(m *dex.MethodRef) { got = append(got, m) })
	assert.Equal(t, []*dex.MethodRef{m1, m2, m3}, got)
}

func TestFieldsVisitsEveryDef(t *testing.T) {
	reg, scope := testScope(t)
	f1 := addField(t, reg, scope[0], "x")
	f2 := addField(t, reg, scope[2], "y")

	var got []*dex.FieldRef
	Fields(scope, func(f *dex.FieldRef) { got = append(got, f) })
	assert.Equal(t, []*dex.FieldRef{f1, f2}, got)
}

func TestOpcodesWithPredicate(t *testing.T) {
	reg, scope := testScope(t)
	addMethod(t, reg, scope[0], "skipped", 1)
	keep := addMethod(t, reg, scope[1], "kept", 2, 3)

	var lits []int64
	Opcodes(scope,
		func(m *dex.MethodRef) bool { return m == keep },
		func(m *dex.MethodRef, in *ir.Instruction) {
			if in.Op() == ir.OpConst {
				lits = append(lits, in.Literal())
			}
		})
	assert.Equal(t, []int64{2, 3}, lits)
}

func TestEachInstructionCFGForm(t *testing.T) {
	reg, scope := testScope(t)
	m := addMethod(t, reg, scope[0], "m", 7)
	code := m.Code().(*ir.Code)
	cfg.Build(code, m.String(), false)
	require.True(t, code.HasCFG())

	var ops []ir.Op
	EachInstruction(m, func(in *ir.Instruction) { ops = append(ops, in.Op()) })
	assert.Contains(t, ops, ir.OpConst)
	assert.Contains(t, ops, ir.OpReturnVoid)
}

func TestAnnotationsAllSources(t *testing.T) {
	reg, scope := testScope(t)
	m := addMethod(t, reg, scope[0], "m")
	f := addField(t, reg, scope[0], "x")

	classAnno := &dex.Annotation{Type: reg.MakeType("LAnnoC;")}
	fieldAnno := &dex.Annotation{Type: reg.MakeType("LAnnoF;")}
	methodAnno := &dex.Annotation{Type: reg.MakeType("LAnnoM;")}
	scope[0].SetAnnotations(&dex.AnnotationSet{Annotations: []*dex.Annotation{classAnno}})
	f.Def().Annotations = &dex.AnnotationSet{Annotations: []*dex.Annotation{fieldAnno}}
	m.Def().Annotations = &dex.AnnotationSet{Annotations: []*dex.Annotation{methodAnno}}

	var got []*dex.Annotation
	Annotations(scope, func(a *dex.Annotation) { got = append(got, a) })
	assert.Equal(t, []*dex.Annotation{classAnno, fieldAnno, methodAnno}, got)
}

func TestParallelClassesEachOnce(t *testing.T) {
	_, scope := testScope(t)

	var mu sync.Mutex
	counts := make(map[*dex.Class]int)
	ParallelClasses(scope, 2, func(c *dex.Class) {
		mu.Lock()
		counts[c]++
		mu.Unlock()
	})

	require.Len(t, counts, len(scope))
	for _, n := range counts {
		assert.Equal(t, 1, n)
	}
}

func TestParallelMethodsCoversAll(t *testing.T) {
	reg, scope := testScope(t)
	want := map[*dex.MethodRef]bool{
		addMethod(t, reg, scope[0], "a"): true,
		addMethod(t, reg, scope[1], "b"): true,
		addMethod(t, reg, scope[2], "c"): true,
	}

	var mu sync.Mutex
	got := make(map[*dex.MethodRef]bool)
	ParallelMethods(scope, 3, func(m *dex.MethodRef) {
		mu.Lock()
		got[m] = true
		mu.Unlock()
	})
	assert.Equal(t, want, got)
}
