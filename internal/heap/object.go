package heap

import (
	"loxy-vm/internal/chunk"
	"loxy-vm/internal/value"
)

// Object is one heap-resident variant. Objects reference each other by heap
// address, never by Go pointer, so the collector can treat addresses as the
// only edges.
type Object interface {
	objKind() string
}

type ObjString struct {
	Text string
}

type ObjFunction struct {
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        *chunk.Chunk
}

type ObjClosure struct {
	FunctionAddr uint64
	Upvalues     []uint64 // addresses of ObjUpvalue, fixed once created
}

// ObjUpvalue is either open (pointing at a live stack slot of a frame) or
// closed (owning the value). The address stays stable across the transition.
type ObjUpvalue struct {
	IsOpen     bool
	FrameIndex int // valid while IsOpen
	Slot       int // frame-relative stack slot, valid while IsOpen
	Closed     value.Value
}

// NativeFn is the implementation of a native function. It may allocate
// result objects on the heap.
type NativeFn func(h *Heap, args []value.Value) (value.Value, error)

type ObjNative struct {
	Name  string
	Arity int // -1 accepts any count
	Fn    NativeFn
}

type ObjClass struct {
	Name    string
	Methods map[string]uint64 // name -> closure address
}

type ObjInstance struct {
	ClassAddr uint64
	Fields    map[string]value.Value
}

type ObjBoundMethod struct {
	Receiver    value.Value
	ClosureAddr uint64
}

func (*ObjString) objKind() string      { return "string" }
func (*ObjFunction) objKind() string    { return "function" }
func (*ObjClosure) objKind() string     { return "closure" }
func (*ObjUpvalue) objKind() string     { return "upvalue" }
func (*ObjNative) objKind() string      { return "native" }
func (*ObjClass) objKind() string       { return "class" }
func (*ObjInstance) objKind() string    { return "instance" }
func (*ObjBoundMethod) objKind() string { return "bound method" }
