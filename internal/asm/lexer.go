package asm

import (
	"github.com/alecthomas/participle/v2/lexer"
)

var asmLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		// Comments run to end of line
		{"Comment", `;[^\n]*`, nil},

		// Quoted dex descriptors and string payloads
		{"String", `"(\\.|[^"\\])*"`, nil},

		// Branch target labels
		{"Label", `:[A-Za-z_][A-Za-z0-9_]*`, nil},

		// Registers (must come before Ident)
		{"Reg", `v[0-9]+`, nil},

		// Integer literals
		{"Int", `-?(0x[0-9a-fA-F]+|[0-9]+)`, nil},

		// Opcode names and directives
		{"Ident", `[A-Za-z][A-Za-z0-9/-]*`, nil},

		// Punctuation
		{"Punctuation", `[()\[\]]`, nil},

		// Whitespace
		{"Whitespace", `[ \t\r\n]+`, nil},
	},
})
