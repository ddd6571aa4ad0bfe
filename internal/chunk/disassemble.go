package chunk

import (
	"fmt"
	"io"

	"loxy-vm/internal/value"
)

// Disassemble writes a listing of the chunk to w. Constant operands are
// rendered through format so callers holding the heap can resolve object
// addresses to their contents.
func (c *Chunk) Disassemble(w io.Writer, name string, format func(value.Value) string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := range c.Code {
		c.disassembleInstruction(w, offset, format)
	}
}

func (c *Chunk) disassembleInstruction(w io.Writer, offset int, format func(value.Value) string) {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Fprintf(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", c.Lines[offset])
	}

	ins := c.Code[offset]
	switch ins.Op {
	case OP_CONSTANT, OP_DEFINE_GLOBAL, OP_GET_GLOBAL, OP_SET_GLOBAL,
		OP_CLASS, OP_METHOD, OP_GET_PROPERTY, OP_SET_PROPERTY:
		fmt.Fprintf(w, "%-18s %4d '%s'\n", ins.Op, ins.A, format(c.Constants[ins.A]))
	case OP_GET_LOCAL, OP_SET_LOCAL, OP_GET_UPVALUE, OP_SET_UPVALUE,
		OP_JUMP, OP_JUMP_IF_FALSE, OP_LOOP, OP_CALL:
		fmt.Fprintf(w, "%-18s %4d\n", ins.Op, ins.A)
	case OP_CLOSURE:
		fmt.Fprintf(w, "%-18s %4d %d '%s'\n", ins.Op, ins.A, ins.B, format(c.Constants[ins.A]))
	case OP_UPVALUE:
		kind := "upvalue"
		if ins.A == 1 {
			kind = "local"
		}
		fmt.Fprintf(w, "%-18s %s %d\n", ins.Op, kind, ins.B)
	case OP_INVOKE:
		fmt.Fprintf(w, "%-18s %4d (%d args) '%s'\n", ins.Op, ins.A, ins.B, format(c.Constants[ins.A]))
	default:
		fmt.Fprintf(w, "%s\n", ins.Op)
	}
}
