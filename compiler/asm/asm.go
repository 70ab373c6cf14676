// Package asm carries the assembler text dialects. The instruction
// mnemonics are the backend's business, the dialect covers what
// differs between the ELF flavored and the Mach-O flavored assemblers
// consuming the same instructions: section directives, symbol and
// label decoration, and the elf-only symbol metadata.
package asm

import (
	"github.com/slowlang/slate/compiler/target"
)

type (
	// Syntax is one assembler dialect. Get one from Dialect, the
	// returned pointer is valid forever.
	Syntax struct {
		Name string

		SymPrefix   string // on every global and external symbol
		LabelPrefix string // on compiler private labels

		Text    string // section directives
		Data    string
		RODATA  string
		CString string

		Word8 string // 8-byte data directive

		EmitType bool // .type sym, %function before a function
		EmitSize bool // .size sym, .-sym after one

		PageReloc bool // sym@PAGE/@PAGEOFF instead of sym/:lo12:sym
	}
)

var dialects = [...]Syntax{
	target.ELF: {
		Name: "elf",

		LabelPrefix: ".L",

		Text:    ".text",
		Data:    ".data",
		RODATA:  ".section .rodata",
		CString: ".section .rodata.str1.1,\"aMS\",@progbits,1",

		Word8: ".xword",

		EmitType: true,
		EmitSize: true,
	},
	target.Darwin: {
		Name: "macho",

		SymPrefix:   "_",
		LabelPrefix: "L",

		Text:    ".text",
		Data:    ".section __DATA,__data",
		RODATA:  ".section __TEXT,__const",
		CString: ".section __TEXT,__cstring,cstring_literals",

		Word8: ".quad",

		PageReloc: true,
	},
}

// Dialect returns the syntax an abi expects its assembly in.
func Dialect(abi target.ABI) *Syntax {
	return &dialects[abi]
}

// AppendSym appends the decorated symbol name.
func (s *Syntax) AppendSym(b []byte, name string) []byte {
	b = append(b, s.SymPrefix...)
	b = append(b, name...)

	return b
}

// AppendEscaped appends raw bytes the way they go inside .asciz
// quotes. Named C escapes for the usual control characters, \xHH for
// everything else outside printable ascii.
func AppendEscaped(b []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]

		switch c {
		case '\n':
			b = append(b, `\n`...)
		case '\r':
			b = append(b, `\r`...)
		case '\t':
			b = append(b, `\t`...)
		case '\\':
			b = append(b, `\\`...)
		case '"':
			b = append(b, `\"`...)
		default:
			if c < 0x20 || c >= 0x7f {
				b = append(b, '\\', 'x', hexDigit(c>>4), hexDigit(c&0xf))
				break
			}

			b = append(b, c)
		}
	}

	return b
}

func hexDigit(x byte) byte {
	if x < 10 {
		return '0' + x
	}

	return 'a' + x - 10
}
