package cfg

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	blockColor = color.New(color.FgCyan, color.Bold)
	edgeColor  = color.New(color.FgYellow)
	insnColor  = color.New(color.FgWhite)
)

// String renders the graph for diagnostics, one block per section with its
// instructions and outgoing edges.
func (g *Graph) String() string {
	var b strings.Builder
	g.dump(&b, false)
	return b.String()
}

// Dump writes the rendering to w, colorized when colorize is set.
func (g *Graph) Dump(w io.Writer, colorize bool) {
	g.dump(w, colorize)
}

func (g *Graph) dump(w io.Writer, colorize bool) {
	paint := func(c *color.Color, format string, args ...any) string {
		if colorize {
			return c.Sprintf(format, args...)
		}
		return fmt.Sprintf(format, args...)
	}

	fmt.Fprintf(w, "CFG for %s (%d registers, %d blocks)\n", g.method, g.regCount, g.NumBlocks())
	for _, b := range g.BlocksInOrder() {
		header := fmt.Sprintf("B%d", b.id)
		if b == g.entry {
			header += " (entry)"
		}
		fmt.Fprintln(w, paint(blockColor, "%s:", header))
		for _, item := range b.items {
			fmt.Fprintf(w, "  %s\n", paint(insnColor, "%s", item))
		}
		for _, e := range b.succs {
			fmt.Fprintf(w, "  %s\n", paint(edgeColor, "-> %s", describeEdge(g, e)))
		}
	}
}

func describeEdge(g *Graph, e *Edge) string {
	tgt := fmt.Sprintf("B%d", e.tgt.id)
	if e.tgt == g.exit {
		tgt = "exit"
	}
	switch e.kind {
	case EdgeGoto:
		return "goto " + tgt
	case EdgeBranch:
		if e.caseKey != nil {
			return fmt.Sprintf("case %d: %s", *e.caseKey, tgt)
		}
		return "branch " + tgt
	case EdgeThrow:
		if e.catchType == nil {
			return fmt.Sprintf("throw[%d] catch-all %s", e.index, tgt)
		}
		return fmt.Sprintf("throw[%d] catch %s %s", e.index, e.catchType, tgt)
	case EdgeGhost:
		return "ghost " + tgt
	}
	return "? " + tgt
}
