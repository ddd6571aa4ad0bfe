package heap

import (
	"fmt"
	"io"

	"loxy-vm/internal/value"
)

// DisassembleFunction lists the function at addr and, recursively, every
// function stored in its constants pool.
func (h *Heap) DisassembleFunction(w io.Writer, addr uint64) {
	obj, ok := h.Get(addr)
	if !ok {
		fmt.Fprintf(w, "== <dangling %d> ==\n", addr)
		return
	}
	fn, ok := obj.(*ObjFunction)
	if !ok {
		fmt.Fprintf(w, "== <not a function: %d> ==\n", addr)
		return
	}

	name := fn.Name
	if name == "" {
		name = "<script>"
	}
	fn.Chunk.Disassemble(w, name, h.FormatValue)

	for _, c := range fn.Chunk.Constants {
		if c.Type != value.VAL_OBJ {
			continue
		}
		if _, isFn := h.mustGet(c.Addr).(*ObjFunction); isFn {
			fmt.Fprintln(w)
			h.DisassembleFunction(w, c.Addr)
		}
	}
}

func (h *Heap) mustGet(addr uint64) Object {
	obj, _ := h.Get(addr)
	return obj
}
