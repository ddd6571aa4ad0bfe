package heap

import (
	"fmt"

	"github.com/dolthub/swiss"

	"loxy-vm/internal/value"
)

// Heap is the shared address space for compiler and VM. It is a sparse map
// keyed by opaque 64-bit addresses; addresses are handed out from a counter
// and never recycled while the process lives, so a stale address can only
// miss, never alias.
type Heap struct {
	objects  *swiss.Map[uint64, Object]
	nextAddr uint64
	allocs   int // allocations since the last collection
}

func New() *Heap {
	return &Heap{
		objects:  swiss.NewMap[uint64, Object](256),
		nextAddr: 1,
	}
}

// Allocate places obj on the heap and returns its address. Every allocation
// counts one unit toward the GC trigger regardless of size.
func (h *Heap) Allocate(obj Object) uint64 {
	addr := h.nextAddr
	if addr == 0 {
		panic("heap address space exhausted")
	}
	h.nextAddr++
	h.objects.Put(addr, obj)
	h.allocs++
	return addr
}

func (h *Heap) Get(addr uint64) (Object, bool) {
	return h.objects.Get(addr)
}

// Count returns the number of live objects.
func (h *Heap) Count() int {
	return h.objects.Count()
}

// Allocations returns the allocation count since the last collection.
func (h *Heap) Allocations() int {
	return h.allocs
}

func (h *Heap) AllocString(text string) uint64 {
	return h.Allocate(&ObjString{Text: text})
}

func (h *Heap) AllocFunction(fn *ObjFunction) uint64 {
	return h.Allocate(fn)
}

func (h *Heap) AllocClosure(functionAddr uint64, upvalues []uint64) uint64 {
	return h.Allocate(&ObjClosure{FunctionAddr: functionAddr, Upvalues: upvalues})
}

func (h *Heap) AllocOpenUpvalue(frameIndex, slot int) uint64 {
	return h.Allocate(&ObjUpvalue{IsOpen: true, FrameIndex: frameIndex, Slot: slot})
}

func (h *Heap) AllocNative(name string, arity int, fn NativeFn) uint64 {
	return h.Allocate(&ObjNative{Name: name, Arity: arity, Fn: fn})
}

func (h *Heap) AllocClass(name string) uint64 {
	return h.Allocate(&ObjClass{Name: name, Methods: make(map[string]uint64)})
}

func (h *Heap) AllocInstance(classAddr uint64) uint64 {
	return h.Allocate(&ObjInstance{ClassAddr: classAddr, Fields: make(map[string]value.Value)})
}

func (h *Heap) AllocBoundMethod(receiver value.Value, closureAddr uint64) uint64 {
	return h.Allocate(&ObjBoundMethod{Receiver: receiver, ClosureAddr: closureAddr})
}

// StringAt returns the text of the string object at addr; ok is false when
// addr does not hold a string.
func (h *Heap) StringAt(addr uint64) (string, bool) {
	if obj, ok := h.objects.Get(addr); ok {
		if s, ok := obj.(*ObjString); ok {
			return s.Text, true
		}
	}
	return "", false
}

// FormatValue renders a value for print and the disassembler, resolving
// object addresses through the heap.
func (h *Heap) FormatValue(v value.Value) string {
	if v.Type != value.VAL_OBJ {
		return v.String()
	}
	obj, ok := h.objects.Get(v.Addr)
	if !ok {
		return fmt.Sprintf("<dangling %d>", v.Addr)
	}
	switch o := obj.(type) {
	case *ObjString:
		return o.Text
	case *ObjFunction:
		if o.Name == "" {
			return "<script>"
		}
		return fmt.Sprintf("<fn %s>", o.Name)
	case *ObjClosure:
		if fn, ok := h.objects.Get(o.FunctionAddr); ok {
			if f, ok := fn.(*ObjFunction); ok {
				if f.Name == "" {
					return "<script>"
				}
				return fmt.Sprintf("<fn %s>", f.Name)
			}
		}
		return "<fn ?>"
	case *ObjUpvalue:
		return "upvalue"
	case *ObjNative:
		return fmt.Sprintf("<native fn %s>", o.Name)
	case *ObjClass:
		return o.Name
	case *ObjInstance:
		if cls, ok := h.objects.Get(o.ClassAddr); ok {
			if c, ok := cls.(*ObjClass); ok {
				return fmt.Sprintf("%s instance", c.Name)
			}
		}
		return "instance"
	case *ObjBoundMethod:
		if cl, ok := h.objects.Get(o.ClosureAddr); ok {
			if c, ok := cl.(*ObjClosure); ok {
				return h.FormatValue(value.NewObject(c.FunctionAddr))
			}
		}
		return "<fn ?>"
	default:
		return fmt.Sprintf("<obj %d>", v.Addr)
	}
}

// SizeEstimate returns a rough live-byte figure for diagnostics. Strings
// count their text, everything else a flat per-object cost.
func (h *Heap) SizeEstimate() uint64 {
	var total uint64
	h.objects.Iter(func(_ uint64, obj Object) bool {
		total += 64
		if s, ok := obj.(*ObjString); ok {
			total += uint64(len(s.Text))
		}
		return false
	})
	return total
}
