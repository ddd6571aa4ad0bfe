package heap

import (
	"loxy-vm/internal/value"
)

// Collect runs a full mark-sweep pass. Roots are every object-typed value the
// caller can still reach directly: the value stack, the globals map, the
// closure of every live call frame, and (from the VM) every upvalue on its
// open-upvalue list. An open upvalue's referenced slot is covered by the
// stack roots, so an open upvalue contributes no edges of its own.
//
// Collect must only be called between instructions. It returns the number of
// objects freed and resets the allocation counter.
func (h *Heap) Collect(valueRoots []value.Value, addrRoots []uint64) int {
	marks := make(map[uint64]struct{}, h.objects.Count())
	var work []uint64

	markAddr := func(addr uint64) {
		if _, seen := marks[addr]; !seen {
			marks[addr] = struct{}{}
			work = append(work, addr)
		}
	}
	markValue := func(v value.Value) {
		if v.Type == value.VAL_OBJ {
			markAddr(v.Addr)
		}
	}

	for _, v := range valueRoots {
		markValue(v)
	}
	for _, addr := range addrRoots {
		markAddr(addr)
	}

	for len(work) > 0 {
		addr := work[len(work)-1]
		work = work[:len(work)-1]

		obj, ok := h.objects.Get(addr)
		if !ok {
			continue
		}
		switch o := obj.(type) {
		case *ObjClosure:
			markAddr(o.FunctionAddr)
			for _, up := range o.Upvalues {
				markAddr(up)
			}
		case *ObjFunction:
			for _, c := range o.Chunk.Constants {
				markValue(c)
			}
		case *ObjInstance:
			markAddr(o.ClassAddr)
			for _, f := range o.Fields {
				markValue(f)
			}
		case *ObjClass:
			for _, m := range o.Methods {
				markAddr(m)
			}
		case *ObjBoundMethod:
			markValue(o.Receiver)
			markAddr(o.ClosureAddr)
		case *ObjUpvalue:
			if !o.IsOpen {
				markValue(o.Closed)
			}
		}
	}

	var dead []uint64
	h.objects.Iter(func(addr uint64, _ Object) bool {
		if _, live := marks[addr]; !live {
			dead = append(dead, addr)
		}
		return false
	})
	for _, addr := range dead {
		h.objects.Delete(addr)
	}

	h.allocs = 0
	return len(dead)
}
