package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexopt/internal/cfg"
	"dexopt/internal/ir"
)

func TestAbortPanicsWithContext(t *testing.T) {
	in := ir.NewInstruction(ir.OpReturnVoid)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*AbortError)
		require.True(t, ok)
		assert.Equal(t, "La/C;.f:()V", err.Method)
		assert.Same(t, in, err.Insn)
		assert.Contains(t, err.Error(), "invariant violation")
		assert.Contains(t, err.Error(), "bad register v5")
		assert.Contains(t, err.Error(), "La/C;.f:()V")
	}()
	Abort("La/C;.f:()V", nil, in, "bad register v%d", 5)
}

func TestCheckGraphPassesCleanGraph(t *testing.T) {
	code := ir.NewCode(1, ir.NewList(
		ir.InsnItem(ir.NewInstruction(ir.OpReturnVoid)),
	))
	g := cfg.Build(code, "La/C;.f:()V", false)
	assert.NotPanics(t, func() { CheckGraph("La/C;.f:()V", g) })
}
