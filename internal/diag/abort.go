// Package diag formats the optimizer's fatal invariant reports: when a pass
// corrupts a CFG or stages an illegal edit, the process aborts with the
// method, the offending instruction and a pretty-printed CFG snapshot.
package diag

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"dexopt/internal/cfg"
	"dexopt/internal/ir"
)

// AbortError carries the context of a broken cross-component invariant. It
// is delivered by panic; the harness recovers it at the pass boundary only
// to re-format, never to continue.
type AbortError struct {
	Method  string
	Insn    *ir.Instruction
	Message string
	Graph   *cfg.Graph
}

var (
	headerColor = color.New(color.FgRed, color.Bold)
	methodColor = color.New(color.FgCyan)
	insnColor   = color.New(color.FgYellow)
)

func (e *AbortError) Error() string {
	var b strings.Builder
	headerColor.Fprint(&b, "invariant violation")
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Method != "" {
		b.WriteString("\n  in ")
		methodColor.Fprint(&b, e.Method)
	}
	if e.Insn != nil {
		b.WriteString("\n  at ")
		insnColor.Fprint(&b, e.Insn.String())
	}
	if e.Graph != nil {
		b.WriteString("\n")
		e.Graph.Dump(&b, color.NoColor == false)
	}
	return b.String()
}

// Abort panics with a formatted AbortError.
func Abort(method string, g *cfg.Graph, in *ir.Instruction, format string, args ...any) {
	panic(&AbortError{
		Method:  method,
		Insn:    in,
		Message: fmt.Sprintf(format, args...),
		Graph:   g,
	})
}

// CheckGraph aborts when the graph fails its structural checks.
func CheckGraph(method string, g *cfg.Graph) {
	errs := g.Check()
	if len(errs) == 0 {
		return
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	Abort(method, g, nil, "cfg checks failed:\n    %s", strings.Join(msgs, "\n    "))
}
