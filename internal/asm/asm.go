// Package asm parses the compact s-expression assembly used by tests and
// fixtures into IR method bodies, e.g.:
//
//	(regs 2)
//	(const v0 7)
//	(:loop)
//	(if-eqz v0 :done)
//	(invoke-static "La/B;.dec:(I)I" v0)
//	(move-result v0)
//	(goto :loop)
//	(:done)
//	(return-void)
package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"

	"dexopt/internal/dex"
	"dexopt/internal/ir"
)

var parser = participle.MustBuild[Program](
	participle.Lexer(asmLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.Unquote("String"),
	participle.UseLookahead(3),
)

// Parse parses assembly source into its syntax tree.
func Parse(src string) (*Program, error) {
	return parser.ParseString("", src)
}

// Assemble parses the source and lowers it into an IR body, interning all
// symbolic references through the registry.
func Assemble(reg *dex.Registry, src string) (*ir.Code, error) {
	prog, err := Parse(src)
	if err != nil {
		return nil, err
	}
	a := &assembler{reg: reg, labels: map[string]int{}}
	items := make([]*ir.Item, 0, len(prog.Items))
	for _, node := range prog.Items {
		item, err := a.item(node)
		if err != nil {
			return nil, err
		}
		if item != nil {
			items = append(items, item)
		}
	}
	regCount := a.maxReg + 1
	if prog.Regs != nil {
		regCount = prog.Regs.Count
	}
	return ir.NewCode(regCount, ir.NewList(items...)), nil
}

type assembler struct {
	reg    *dex.Registry
	labels map[string]int
	maxReg int
}

func (a *assembler) labelID(name string) int {
	if id, ok := a.labels[name]; ok {
		return id
	}
	id := len(a.labels)
	a.labels[name] = id
	return id
}

func (a *assembler) item(node *ItemNode) (*ir.Item, error) {
	switch {
	case node.Label != nil:
		return ir.LabelItem(a.labelID(node.Label.Name)), nil
	case node.Try != nil:
		catches := make([]ir.CatchEntry, len(node.Try.Catches))
		for i, c := range node.Try.Catches {
			entry := ir.CatchEntry{LabelID: a.labelID(c.Label)}
			if !c.All {
				entry.Type = a.reg.MakeType(c.Type)
			}
			catches[i] = entry
		}
		return ir.TryStartItem(catches...), nil
	case node.TryEnd != nil:
		return ir.TryEndItem(), nil
	case node.Insn != nil:
		return a.insn(node.Insn)
	}
	return nil, nil
}

func (a *assembler) insn(node *InsnNode) (*ir.Item, error) {
	op, ok := ir.OpByName(node.Op)
	if !ok {
		return nil, fmt.Errorf("asm: unknown opcode %q", node.Op)
	}
	in := ir.NewInstruction(op)

	var srcs []ir.Reg
	var targets []ir.Target
	destSet := false
	for _, arg := range node.Args {
		switch {
		case arg.Reg != nil:
			r, err := a.parseReg(*arg.Reg)
			if err != nil {
				return nil, err
			}
			if in.HasDest() && !destSet {
				in.SetDest(r)
				destSet = true
			} else {
				srcs = append(srcs, r)
			}
		case arg.Int != nil:
			if !in.HasLiteral() {
				return nil, fmt.Errorf("asm: %s takes no literal", node.Op)
			}
			in.SetLiteral(*arg.Int)
		case arg.Str != nil:
			if err := a.setStringPayload(in, node.Op, *arg.Str); err != nil {
				return nil, err
			}
		case arg.Label != nil:
			targets = append(targets, ir.Target{LabelID: a.labelID(*arg.Label)})
		case arg.Case != nil:
			key := arg.Case.Key
			targets = append(targets, ir.Target{LabelID: a.labelID(arg.Case.Label), CaseKey: &key})
		}
	}
	if len(srcs) > 0 {
		in.SetSrcs(srcs...)
	}
	if len(targets) > 0 {
		return ir.BranchItem(in, targets...), nil
	}
	return ir.InsnItem(in), nil
}

// setStringPayload interprets a quoted operand against the opcode's payload
// kind: plain string, type descriptor, field triple or method triple.
func (a *assembler) setStringPayload(in *ir.Instruction, opName, s string) error {
	switch {
	case in.HasString():
		in.SetStringRef(a.reg.MakeString(s))
	case in.HasType():
		in.SetTypeRef(a.reg.MakeType(s))
	case in.HasField():
		f, err := a.reg.ParseField(s)
		if err != nil {
			return fmt.Errorf("asm: %s: %w", opName, err)
		}
		in.SetFieldRef(f)
	case in.HasMethod():
		m, err := a.reg.ParseMethod(s)
		if err != nil {
			return fmt.Errorf("asm: %s: %w", opName, err)
		}
		in.SetMethodRef(m)
	default:
		return fmt.Errorf("asm: %s takes no string operand", opName)
	}
	return nil
}

func (a *assembler) parseReg(tok string) (ir.Reg, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(tok, "v"))
	if err != nil {
		return 0, fmt.Errorf("asm: bad register %q", tok)
	}
	if n > a.maxReg {
		a.maxReg = n
	}
	return ir.Reg(n), nil
}
