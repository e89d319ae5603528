package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zboralski/lattice"

	"dexopt/internal/asm"
	"dexopt/internal/cfg"
	"dexopt/internal/dex"
	"dexopt/internal/hierarchy"
	"dexopt/internal/ir"
)

func TestMethodCFGExport(t *testing.T) {
	reg := dex.NewRegistry()
	code, err := asm.Assemble(reg, `
		(const v0 0)
		(if-eqz v0 :done)
		(invoke-static "La/C;.work:()V")
		(:done)
		(return-void)
	`)
	require.NoError(t, err)
	g := cfg.Build(code, "La/C;.f:()V", false)

	lcfg := MethodCFG("La/C;.f:()V", g)
	assert.Equal(t, "La/C;.f:()V", lcfg.Name)
	require.NotEmpty(t, lcfg.Blocks)

	var conds []string
	var callees []string
	terms := 0
	for _, b := range lcfg.Blocks {
		for _, s := range b.Succs {
			conds = append(conds, s.Cond)
		}
		for _, c := range b.Calls {
			callees = append(callees, c.Callee)
		}
		if b.Term {
			terms++
		}
	}
	assert.Contains(t, conds, "branch")
	assert.Contains(t, conds, "goto")
	assert.Contains(t, callees, "La/C;.work:()V")
	assert.Equal(t, 1, terms)
}

func TestScopeCFGsLeavesListForm(t *testing.T) {
	reg := dex.NewRegistry()
	object := dex.NewClass(reg.MakeType("Ljava/lang/Object;"), nil, dex.AccPublic)
	reg.RegisterClass(object)
	c := dex.NewClass(reg.MakeType("La/C;"), object.Type(), dex.AccPublic)
	reg.RegisterClass(c)

	code, err := asm.Assemble(reg, `(return-void)`)
	require.NoError(t, err)
	proto, err := reg.ParseProto("()V")
	require.NoError(t, err)
	m := reg.MakeMethod(c.Type(), reg.MakeString("f"), proto)
	require.NoError(t, m.MakeConcrete(dex.AccPublic|dex.AccStatic, code, false))
	c.AddMethod(m)

	cg := ScopeCFGs([]*dex.Class{object, c})
	require.Len(t, cg.Funcs, 1)
	assert.Equal(t, "La/C;.f:()V", cg.Funcs[0].Name)
	assert.False(t, code.HasCFG())
}

func TestCallGraphExport(t *testing.T) {
	reg := dex.NewRegistry()
	object := dex.NewClass(reg.MakeType("Ljava/lang/Object;"), nil, dex.AccPublic)
	reg.RegisterClass(object)
	c := dex.NewClass(reg.MakeType("La/C;"), object.Type(), dex.AccPublic)
	reg.RegisterClass(c)
	scope := []*dex.Class{object, c}

	proto, err := reg.ParseProto("()V")
	require.NoError(t, err)
	callee := reg.MakeMethod(c.Type(), reg.MakeString("g"), proto)
	require.NoError(t, callee.MakeConcrete(dex.AccPublic|dex.AccStatic,
		ir.NewCode(1, ir.NewList(ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)))), false))
	c.AddMethod(callee)

	callerCode, err := asm.Assemble(reg, `
		(invoke-static "La/C;.g:()V")
		(return-void)
	`)
	require.NoError(t, err)
	caller := reg.MakeMethod(c.Type(), reg.MakeString("f"), proto)
	require.NoError(t, caller.MakeConcrete(dex.AccPublic|dex.AccStatic, callerCode, false))
	c.AddMethod(caller)

	ch := hierarchy.BuildClassHierarchy(reg, scope)
	og := hierarchy.BuildOverrideGraph(reg, scope, ch)
	cg := hierarchy.BuildCallGraph(reg, scope, og)

	g := CallGraph(cg)
	assert.Contains(t, g.Nodes, "La/C;.f:()V")
	assert.Contains(t, g.Nodes, "La/C;.g:()V")
	assert.Contains(t, g.Edges, lattice.Edge{Caller: "La/C;.f:()V", Callee: "La/C;.g:()V"})
}
