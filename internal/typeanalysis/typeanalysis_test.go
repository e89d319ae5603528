package typeanalysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexopt/internal/cfg"
	"dexopt/internal/dex"
	"dexopt/internal/domain"
	"dexopt/internal/hierarchy"
	"dexopt/internal/ir"
)

type world struct {
	reg    *dex.Registry
	object *dex.Class
	scope  []*dex.Class
}

func newWorld(t *testing.T) *world {
	t.Helper()
	reg := dex.NewRegistry()
	object := dex.NewClass(reg.MakeType("Ljava/lang/Object;"), nil, dex.AccPublic)
	reg.RegisterClass(object)
	return &world{reg: reg, object: object, scope: []*dex.Class{object}}
}

func (w *world) class(desc string) *dex.Class {
	c := dex.NewClass(w.reg.MakeType(desc), w.object.Type(), dex.AccPublic)
	w.reg.RegisterClass(c)
	w.scope = append(w.scope, c)
	return c
}

func (w *world) method(t *testing.T, c *dex.Class, name, protoDesc string, access dex.AccessFlags, virtual bool, items ...*ir.Item) *dex.MethodRef {
	t.Helper()
	proto, err := w.reg.ParseProto(protoDesc)
	require.NoError(t, err)
	m := w.reg.MakeMethod(c.Type(), w.reg.MakeString(name), proto)
	require.NoError(t, m.MakeConcrete(access, ir.NewCode(8, ir.NewList(items...)), virtual))
	c.AddMethod(m)
	return m
}

func (w *world) field(t *testing.T, c *dex.Class, name, typeDesc string, access dex.AccessFlags) *dex.FieldRef {
	t.Helper()
	f := w.reg.MakeField(c.Type(), w.reg.MakeString(name), w.reg.MakeType(typeDesc))
	require.NoError(t, f.MakeConcrete(access))
	c.AddField(f)
	return f
}

// localRun analyzes a standalone static body with no whole-program context.
func localRun(t *testing.T, w *world, items ...*ir.Item) (*LocalTypeAnalyzer, *dex.MethodRef) {
	t.Helper()
	c := w.class("LLocal;")
	m := w.method(t, c, "run", "()V", dex.AccPublic|dex.AccStatic, false, items...)
	g := cfg.Build(m.Code().(*ir.Code), m.String(), false)
	ch := hierarchy.BuildClassHierarchy(w.reg, w.scope)
	la := AnalyzeMethod(&Context{Registry: w.reg, Oracle: ch, Method: m}, g)
	require.True(t, la.Converged())
	return la, m
}

// envAt returns the environment just before the first instruction with the
// given opcode.
func envAt(t *testing.T, la *LocalTypeAnalyzer, op ir.Op) domain.TypeEnvironment {
	t.Helper()
	var out domain.TypeEnvironment
	found := false
	la.ForEach(func(b *cfg.Block, in *ir.Instruction, env domain.TypeEnvironment) {
		if !found && in.Op() == op {
			out, found = env, true
		}
	})
	require.True(t, found, "no %s in method", op)
	return out
}

func TestConstNullnessTransfer(t *testing.T) {
	w := newWorld(t)
	la, _ := localRun(t, w,
		ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(0).SetLiteral(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(1).SetLiteral(5)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	env := envAt(t, la, ir.OpReturnVoid)
	assert.True(t, env.Get(0).IsNull())
	assert.True(t, env.Get(1).IsNotNull())
	v, ok := env.Get(1).Constant()
	require.True(t, ok)
	assert.Equal(t, int64(5), v)
}

func TestConstStringAndClass(t *testing.T) {
	w := newWorld(t)
	la, _ := localRun(t, w,
		ir.InsnItem(ir.NewInstruction(ir.OpConstString).SetDest(0).SetStringRef(w.reg.MakeString("x"))),
		ir.InsnItem(ir.NewInstruction(ir.OpConstClass).SetDest(1).SetTypeRef(w.reg.MakeType("LLocal;"))),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	env := envAt(t, la, ir.OpReturnVoid)
	st, ok := env.Get(0).SingleType()
	require.True(t, ok)
	assert.Equal(t, "Ljava/lang/String;", st.Descriptor())
	assert.True(t, env.Get(0).IsNotNull())

	ct, ok := env.Get(1).SingleType()
	require.True(t, ok)
	assert.Equal(t, "Ljava/lang/Class;", ct.Descriptor())
}

func TestThisParamIsNotNull(t *testing.T) {
	w := newWorld(t)
	c := w.class("LC;")
	m := w.method(t, c, "m", "(Ljava/lang/String;)V", dex.AccPublic, true,
		ir.InsnItem(ir.NewInstruction(ir.OpLoadParamObject).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpLoadParamObject).SetDest(1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	g := cfg.Build(m.Code().(*ir.Code), m.String(), false)
	ch := hierarchy.BuildClassHierarchy(w.reg, w.scope)
	la := AnalyzeMethod(&Context{Registry: w.reg, Oracle: ch, Method: m}, g)

	env := envAt(t, la, ir.OpReturnVoid)
	assert.True(t, env.Get(0).IsNotNull())
	assert.True(t, env.IsThis(0))
	st, ok := env.Get(0).SingleType()
	require.True(t, ok)
	assert.Same(t, c.Type(), st)

	assert.Equal(t, domain.Nullable, env.Get(1).Nullness())
	assert.False(t, env.IsThis(1))
}

func TestArrayTracking(t *testing.T) {
	w := newWorld(t)
	arrT := w.reg.MakeType("[Ljava/lang/String;")
	la, _ := localRun(t, w,
		ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(0).SetLiteral(2)),
		ir.InsnItem(ir.NewInstruction(ir.OpNewArray).SetDest(1).SetSrcs(0).SetTypeRef(arrT)),
		ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(2).SetLiteral(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpConstString).SetDest(3).SetStringRef(w.reg.MakeString("x"))),
		ir.InsnItem(ir.NewInstruction(ir.OpAputObject).SetSrcs(3, 1, 2)),
		ir.InsnItem(ir.NewInstruction(ir.OpAgetObject).SetDest(4).SetSrcs(1, 2)),
		ir.InsnItem(ir.NewInstruction(ir.OpArrayLength).SetDest(5).SetSrcs(1)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	env := envAt(t, la, ir.OpArrayLength)
	// The element written at the known index reads back NOT_NULL String.
	et, ok := env.Get(4).SingleType()
	require.True(t, ok)
	assert.Equal(t, "Ljava/lang/String;", et.Descriptor())
	assert.True(t, env.Get(4).IsNotNull())

	env = envAt(t, la, ir.OpReturnVoid)
	length, ok := env.Get(5).Constant()
	require.True(t, ok)
	assert.Equal(t, int64(2), length)
}

func TestCheckCastKeepsNullness(t *testing.T) {
	w := newWorld(t)
	target := w.reg.MakeType("LTarget;")
	la, _ := localRun(t, w,
		ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(0).SetLiteral(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpCheckCast).SetDest(1).SetSrcs(0).SetTypeRef(target)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	env := envAt(t, la, ir.OpReturnVoid)
	assert.Equal(t, domain.IsNull, env.Get(1).Nullness())
	st, ok := env.Get(1).SingleType()
	require.True(t, ok)
	assert.Same(t, target, st)
}

func TestBinopFolding(t *testing.T) {
	w := newWorld(t)
	la, _ := localRun(t, w,
		ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(0).SetLiteral(6)),
		ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(1).SetLiteral(7)),
		ir.InsnItem(ir.NewInstruction(ir.OpMulInt).SetDest(2).SetSrcs(0, 1)),
		ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(3).SetLiteral(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpDivInt).SetDest(4).SetSrcs(0, 3)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	env := envAt(t, la, ir.OpReturnVoid)
	v, ok := env.Get(2).Constant()
	require.True(t, ok)
	assert.Equal(t, int64(42), v)

	_, ok = env.Get(4).Constant()
	assert.False(t, ok, "division by a zero constant does not fold")
}

func TestInvokeResetsArrayElements(t *testing.T) {
	w := newWorld(t)
	c := w.class("LH;")
	callee := w.method(t, c, "use", "([Ljava/lang/String;)V", dex.AccPublic|dex.AccStatic, false,
		ir.InsnItem(ir.NewInstruction(ir.OpLoadParamObject).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	arrT := w.reg.MakeType("[Ljava/lang/String;")
	la, _ := localRun(t, w,
		ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(0).SetLiteral(1)),
		ir.InsnItem(ir.NewInstruction(ir.OpNewArray).SetDest(1).SetSrcs(0).SetTypeRef(arrT)),
		ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(2).SetLiteral(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpConstString).SetDest(3).SetStringRef(w.reg.MakeString("x"))),
		ir.InsnItem(ir.NewInstruction(ir.OpAputObject).SetSrcs(3, 1, 2)),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetSrcs(1).SetMethodRef(callee)),
		ir.InsnItem(ir.NewInstruction(ir.OpAgetObject).SetDest(4).SetSrcs(1, 2)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	env := envAt(t, la, ir.OpReturnVoid)
	// The callee may have overwritten index 0.
	assert.Equal(t, domain.Nullable, env.Get(4).Nullness())
}

// scenarioWorld is a class whose ctor writes a string field and then calls a
// virtual method, making that method init-reachable.
func scenarioWorld(t *testing.T) (*world, *dex.Class, *dex.FieldRef, *dex.MethodRef, *dex.MethodRef) {
	w := newWorld(t)
	c := w.class("LC;")
	f := w.field(t, c, "f", "Ljava/lang/String;", dex.AccPublic)

	nullCheckBody := func() []*ir.Item {
		return []*ir.Item{
			ir.InsnItem(ir.NewInstruction(ir.OpLoadParamObject).SetDest(0)),
			ir.InsnItem(ir.NewInstruction(ir.OpIgetObject).SetSrcs(0).SetFieldRef(f)),
			ir.InsnItem(ir.NewInstruction(ir.OpMoveResultPseudoObject).SetDest(1)),
			ir.BranchItem(ir.NewInstruction(ir.OpIfEqz).SetSrcs(1), ir.Target{LabelID: 1}),
			ir.InsnItem(ir.NewInstruction(ir.OpConst).SetDest(2).SetLiteral(1)),
			ir.LabelItem(1),
			ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
		}
	}
	g := w.method(t, c, "g", "()V", dex.AccPublic, true, nullCheckBody()...)
	h := w.method(t, c, "h", "()V", dex.AccPublic, true, nullCheckBody()...)

	w.method(t, c, "<init>", "()V", dex.AccPublic|dex.AccConstructor, false,
		ir.InsnItem(ir.NewInstruction(ir.OpLoadParamObject).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpConstString).SetDest(1).SetStringRef(w.reg.MakeString("x"))),
		ir.InsnItem(ir.NewInstruction(ir.OpIputObject).SetSrcs(1, 0).SetFieldRef(f)),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeVirtual).SetSrcs(0).SetMethodRef(g)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	return w, c, f, g, h
}

func TestGlobalFieldSummary(t *testing.T) {
	w, c, f, _, _ := scenarioWorld(t)
	unwritten := w.field(t, c, "never", "Ljava/lang/String;", dex.AccPublic)

	ga := &GlobalTypeAnalysis{Registry: w.reg}
	gta := ga.Analyze(w.scope)

	d, ok := gta.GetWholeProgramState().GetFieldType(f)
	require.True(t, ok)
	assert.True(t, d.IsNotNull())
	st, ok := d.SingleType()
	require.True(t, ok)
	assert.Equal(t, "Ljava/lang/String;", st.Descriptor())

	d, ok = gta.GetWholeProgramState().GetFieldType(unwritten)
	require.True(t, ok)
	assert.True(t, d.IsNull(), "a field nothing writes keeps its default null")
}

func TestNullnessGatedByInitReachability(t *testing.T) {
	w, _, _, g, h := scenarioWorld(t)

	ga := &GlobalTypeAnalysis{Registry: w.reg}
	gta := ga.Analyze(w.scope)

	assert.True(t, gta.IsAnyInitReachable(g))
	assert.False(t, gta.CanUseNullnessResults(g))
	assert.False(t, gta.IsAnyInitReachable(h))
	assert.True(t, gta.CanUseNullnessResults(h))

	// The check in the init-reachable method stays.
	gg := cfg.Build(g.Code().(*ir.Code), g.String(), true)
	stats := RemoveRedundantNullChecks(gta, g, gg)
	assert.Equal(t, 0, stats.NumNullChecksRemoved)
	gg.ClearCFG()

	// The same check elsewhere is proven dead and removed.
	hg := cfg.Build(h.Code().(*ir.Code), h.String(), true)
	stats = RemoveRedundantNullChecks(gta, h, hg)
	assert.Equal(t, 1, stats.NumNullChecksRemoved)
	require.Empty(t, hg.Check())
	for it := hg.InstructionIterator(); !it.IsEnd(); it.Next() {
		assert.NotEqual(t, ir.OpIfEqz, it.Insn().Op())
	}
	hg.ClearCFG()
}

func TestArgumentPartitionSeedsCallee(t *testing.T) {
	w := newWorld(t)
	c := w.class("LP;")
	callee := w.method(t, c, "s", "(Ljava/lang/String;)V", dex.AccPublic|dex.AccStatic, false,
		ir.InsnItem(ir.NewInstruction(ir.OpLoadParamObject).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)
	w.method(t, c, "main", "()V", dex.AccPublic|dex.AccStatic, false,
		ir.InsnItem(ir.NewInstruction(ir.OpConstString).SetDest(0).SetStringRef(w.reg.MakeString("x"))),
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetSrcs(0).SetMethodRef(callee)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)

	ga := &GlobalTypeAnalysis{Registry: w.reg}
	gta := ga.Analyze(w.scope)

	la := gta.GetLocalAnalysis(callee)
	require.NotNil(t, la)
	env := envAt(t, la, ir.OpReturnVoid)
	assert.True(t, env.Get(0).IsNotNull(),
		"the only call site passes a non-null string")
}

func TestReturnSummaryFeedsCallers(t *testing.T) {
	w := newWorld(t)
	c := w.class("LR;")
	maker := w.method(t, c, "make", "()Ljava/lang/String;", dex.AccPublic|dex.AccStatic, false,
		ir.InsnItem(ir.NewInstruction(ir.OpConstString).SetDest(0).SetStringRef(w.reg.MakeString("x"))),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnObject).SetSrcs(0)),
	)
	user := w.method(t, c, "use", "()V", dex.AccPublic|dex.AccStatic, false,
		ir.InsnItem(ir.NewInstruction(ir.OpInvokeStatic).SetMethodRef(maker)),
		ir.InsnItem(ir.NewInstruction(ir.OpMoveResultObject).SetDest(0)),
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	)

	ga := &GlobalTypeAnalysis{Registry: w.reg}
	gta := ga.Analyze(w.scope)

	d, ok := gta.GetWholeProgramState().GetReturnType(maker)
	require.True(t, ok)
	assert.True(t, d.IsNotNull())

	la := gta.GetLocalAnalysis(user)
	env := envAt(t, la, ir.OpReturnVoid)
	assert.True(t, env.Get(0).IsNotNull(),
		"the callee's summarized return reaches the move-result")
}
