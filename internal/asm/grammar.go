package asm

// Program is one method body in compact assembly: an optional register
// directive followed by items.
type Program struct {
	Regs  *RegsNode   `@@?`
	Items []*ItemNode `@@*`
}

type RegsNode struct {
	Count int `"(" "regs" @Int ")"`
}

type ItemNode struct {
	Comment string      `  @Comment`
	Label   *LabelNode  `| @@`
	Try     *TryNode    `| @@`
	TryEnd  *TryEndNode `| @@`
	Insn    *InsnNode   `| @@`
}

type LabelNode struct {
	Name string `"(" @Label ")"`
}

type TryNode struct {
	Catches []*CatchNode `"(" "try-start" @@+ ")"`
}

type CatchNode struct {
	Type  string `"(" ( "catch" @String`
	All   bool   `      | @"catch-all" )`
	Label string `@Label ")"`
}

type TryEndNode struct {
	Marker string `"(" @"try-end" ")"`
}

// InsnNode is one instruction: the opcode followed by its operands. When the
// opcode writes a direct destination, the first register operand is the
// destination and the rest are sources.
type InsnNode struct {
	Op   string     `"(" @Ident`
	Args []*ArgNode `@@* ")"`
}

type ArgNode struct {
	Reg   *string   `  @Reg`
	Int   *int64    `| @Int`
	Str   *string   `| @String`
	Label *string   `| @Label`
	Case  *CaseNode `| @@`
}

// CaseNode is one switch case edge: "[key :label]".
type CaseNode struct {
	Key   int64  `"[" @Int`
	Label string `@Label "]"`
}
