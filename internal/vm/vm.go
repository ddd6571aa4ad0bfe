package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"loxy-vm/internal/chunk"
	"loxy-vm/internal/heap"
	"loxy-vm/internal/stdlib"
	"loxy-vm/internal/value"
)

// FramesMax caps the call depth; exceeding it is a runtime error, not a Go
// stack problem, since frames live on the VM's own stack.
const FramesMax = 256

// CallFrame is the activation record of one in-progress call. StackPointer
// is the absolute stack index of the frame's slot 0 (the receiver slot); the
// callee value itself sits one below it and is dropped at teardown.
type CallFrame struct {
	ClosureAddr  uint64
	IP           int
	StackPointer int

	closure *heap.ObjClosure
	fn      *heap.ObjFunction
}

// openUpvalue tracks a still-open upvalue so later captures of the same slot
// reuse it. Entries are removed when the upvalue closes.
type openUpvalue struct {
	frameIndex int
	slot       int // frame-relative
	addr       uint64
}

type VM struct {
	heap         *heap.Heap
	stack        []value.Value
	globals      map[string]value.Value
	frames       []*CallFrame
	openUpvalues []openUpvalue
	cfg          Config

	Stdout io.Writer
	Stderr io.Writer
}

func New(h *heap.Heap, cfg Config) *VM {
	vm := &VM{
		heap:    h,
		globals: make(map[string]value.Value),
		cfg:     cfg,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
	stdlib.Register(vm.DefineNative)
	return vm
}

// DefineNative allocates a native function object and binds it as a global.
// Arity -1 accepts any argument count.
func (vm *VM) DefineNative(name string, arity int, fn heap.NativeFn) {
	addr := vm.heap.AllocNative(name, arity, fn)
	vm.globals[name] = value.NewObject(addr)
}

// Heap exposes the shared heap, mainly for the driver's disassembly path.
func (vm *VM) Heap() *heap.Heap {
	return vm.heap
}

// Interpret wraps the compiled script function in a closure, pushes the
// initial frame and runs to completion. Globals survive across calls so a
// REPL can keep one VM.
func (vm *VM) Interpret(fnAddr uint64) error {
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	vm.openUpvalues = vm.openUpvalues[:0]

	closureAddr := vm.heap.AllocClosure(fnAddr, nil)
	closure, err := vm.closureAt(closureAddr, 0)
	if err != nil {
		return err
	}
	fn, err := vm.functionAt(closure.FunctionAddr, 0)
	if err != nil {
		return err
	}

	vm.push(value.NewObject(closureAddr))
	vm.frames = append(vm.frames, &CallFrame{
		ClosureAddr:  closureAddr,
		StackPointer: 0,
		closure:      closure,
		fn:           fn,
	})
	return vm.run()
}

// --- stack primitives ---

func (vm *VM) push(v value.Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() value.Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[len(vm.stack)-1-distance]
}

// --- heap access with sanity checks ---

func (vm *VM) objectAt(addr uint64, line int) (heap.Object, error) {
	obj, ok := vm.heap.Get(addr)
	if !ok {
		return nil, vm.memoryError(line, "Invalid heap address %d.", addr)
	}
	return obj, nil
}

func (vm *VM) closureAt(addr uint64, line int) (*heap.ObjClosure, error) {
	obj, err := vm.objectAt(addr, line)
	if err != nil {
		return nil, err
	}
	closure, ok := obj.(*heap.ObjClosure)
	if !ok {
		return nil, vm.memoryError(line, "Expected closure at heap address %d.", addr)
	}
	return closure, nil
}

func (vm *VM) functionAt(addr uint64, line int) (*heap.ObjFunction, error) {
	obj, err := vm.objectAt(addr, line)
	if err != nil {
		return nil, err
	}
	fn, ok := obj.(*heap.ObjFunction)
	if !ok {
		return nil, vm.memoryError(line, "Expected function at heap address %d.", addr)
	}
	return fn, nil
}

func (vm *VM) upvalueAt(addr uint64, line int) (*heap.ObjUpvalue, error) {
	obj, err := vm.objectAt(addr, line)
	if err != nil {
		return nil, err
	}
	up, ok := obj.(*heap.ObjUpvalue)
	if !ok {
		return nil, vm.memoryError(line, "Expected upvalue at heap address %d.", addr)
	}
	return up, nil
}

// constantName resolves a name-constant operand to its string text.
func (vm *VM) constantName(c *chunk.Chunk, idx, line int) (string, error) {
	v := c.Constants[idx]
	if v.Type == value.VAL_OBJ {
		if text, ok := vm.heap.StringAt(v.Addr); ok {
			return text, nil
		}
	}
	return "", vm.memoryError(line, "Constant %d is not a name.", idx)
}

// stringText returns the text behind v when it references a string object.
func (vm *VM) stringText(v value.Value) (string, bool) {
	if v.Type != value.VAL_OBJ {
		return "", false
	}
	return vm.heap.StringAt(v.Addr)
}

func (vm *VM) valuesEqual(a, b value.Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case value.VAL_NUMBER:
		return a.AsNumber == b.AsNumber
	case value.VAL_BOOL:
		return a.AsBool == b.AsBool
	case value.VAL_NIL:
		return true
	case value.VAL_OBJ:
		// Strings compare by content, everything else by identity.
		if as, ok := vm.heap.StringAt(a.Addr); ok {
			if bs, ok := vm.heap.StringAt(b.Addr); ok {
				return as == bs
			}
			return false
		}
		return a.Addr == b.Addr
	default:
		return false
	}
}

// --- garbage collection ---

// maybeCollect runs the collector at an instruction boundary when the
// allocation budget is spent (or always, under stress).
func (vm *VM) maybeCollect() {
	if vm.cfg.GCStress || vm.heap.Allocations() > vm.cfg.GCThreshold {
		vm.collectGarbage()
	}
}

func (vm *VM) collectGarbage() {
	roots := make([]value.Value, 0, len(vm.stack)+len(vm.globals))
	roots = append(roots, vm.stack...)
	for _, v := range vm.globals {
		roots = append(roots, v)
	}

	addrs := make([]uint64, 0, len(vm.frames)+len(vm.openUpvalues))
	for _, f := range vm.frames {
		addrs = append(addrs, f.ClosureAddr)
	}
	// Open upvalues stay live while listed so a later capture of the same
	// slot can reuse them even if no closure currently holds them.
	for _, u := range vm.openUpvalues {
		addrs = append(addrs, u.addr)
	}

	freed := vm.heap.Collect(roots, addrs)
	if vm.cfg.GCLog {
		fmt.Fprintf(vm.Stderr, "gc: freed %s objects, %s live, ~%s\n",
			humanize.Comma(int64(freed)),
			humanize.Comma(int64(vm.heap.Count())),
			humanize.Bytes(vm.heap.SizeEstimate()))
	}
}

// --- upvalue machinery ---

// captureUpvalue returns the open upvalue for (frameIndex, slot), creating
// and recording one on first capture.
func (vm *VM) captureUpvalue(frameIndex, slot int) uint64 {
	for _, u := range vm.openUpvalues {
		if u.frameIndex == frameIndex && u.slot == slot {
			return u.addr
		}
	}
	addr := vm.heap.AllocOpenUpvalue(frameIndex, slot)
	vm.openUpvalues = append(vm.openUpvalues, openUpvalue{frameIndex: frameIndex, slot: slot, addr: addr})
	return addr
}

// closeUpvalueEntry boxes the current stack value into the upvalue object
// and drops it from the open list.
func (vm *VM) closeUpvalueEntry(i, line int) error {
	entry := vm.openUpvalues[i]
	up, err := vm.upvalueAt(entry.addr, line)
	if err != nil {
		return err
	}
	frame := vm.frames[entry.frameIndex]
	up.Closed = vm.stack[frame.StackPointer+entry.slot]
	up.IsOpen = false
	vm.openUpvalues = append(vm.openUpvalues[:i], vm.openUpvalues[i+1:]...)
	return nil
}

// closeFrameUpvalues closes every open upvalue belonging to frameIndex;
// called before a frame is torn down.
func (vm *VM) closeFrameUpvalues(frameIndex, line int) error {
	for i := len(vm.openUpvalues) - 1; i >= 0; i-- {
		if vm.openUpvalues[i].frameIndex == frameIndex {
			if err := vm.closeUpvalueEntry(i, line); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- calls ---

func (vm *VM) callClosure(addr uint64, argc, line int) error {
	closure, err := vm.closureAt(addr, line)
	if err != nil {
		return err
	}
	fn, err := vm.functionAt(closure.FunctionAddr, line)
	if err != nil {
		return err
	}
	if argc != fn.Arity {
		return vm.functionError(line, "Expected %d arguments but got %d.", fn.Arity, argc)
	}
	if len(vm.frames) >= FramesMax {
		return vm.functionError(line, "Stack overflow.")
	}
	vm.frames = append(vm.frames, &CallFrame{
		ClosureAddr:  addr,
		StackPointer: len(vm.stack) - argc - 1,
		closure:      closure,
		fn:           fn,
	})
	return nil
}

// callValue dispatches a call on callee with argc arguments already on the
// stack above the receiver slot.
func (vm *VM) callValue(callee value.Value, argc, line int) error {
	if callee.Type != value.VAL_OBJ {
		return vm.functionError(line, "Can only call functions and classes.")
	}
	obj, err := vm.objectAt(callee.Addr, line)
	if err != nil {
		return err
	}

	switch o := obj.(type) {
	case *heap.ObjClosure:
		return vm.callClosure(callee.Addr, argc, line)

	case *heap.ObjNative:
		if o.Arity >= 0 && o.Arity != argc {
			return vm.functionError(line, "Expected %d arguments but got %d.", o.Arity, argc)
		}
		args := vm.stack[len(vm.stack)-argc:]
		result, err := o.Fn(vm.heap, args)
		if err != nil {
			return vm.functionError(line, "%s", err.Error())
		}
		// Drop args, receiver slot and callee.
		vm.stack = vm.stack[:len(vm.stack)-argc-2]
		vm.push(result)
		return nil

	case *heap.ObjClass:
		instAddr := vm.heap.AllocInstance(callee.Addr)
		instVal := value.NewObject(instAddr)
		recvIdx := len(vm.stack) - argc - 1
		if initAddr, ok := o.Methods["init"]; ok {
			// The initializer runs as a method on the new instance and
			// returns it from its frame.
			vm.stack[recvIdx] = instVal
			return vm.callClosure(initAddr, argc, line)
		}
		if argc != 0 {
			return vm.functionError(line, "Expected 0 arguments but got %d.", argc)
		}
		vm.stack = vm.stack[:recvIdx-1]
		vm.push(instVal)
		return nil

	case *heap.ObjBoundMethod:
		vm.stack[len(vm.stack)-argc-1] = o.Receiver
		return vm.callClosure(o.ClosureAddr, argc, line)

	default:
		return vm.functionError(line, "Can only call functions and classes.")
	}
}

// insertCallee grows the stack by one, shifting everything from index at
// upward, and writes callee at the gap. OP_INVOKE uses it to reshape the
// fused layout into the one OP_CALL produces.
func (vm *VM) insertCallee(at int, callee value.Value) {
	vm.stack = append(vm.stack, value.Value{})
	copy(vm.stack[at+1:], vm.stack[at:len(vm.stack)-1])
	vm.stack[at] = callee
}

// returnFromFrame tears the current frame down. The second return value is
// true when the torn-down frame was the script frame and execution is done.
func (vm *VM) returnFromFrame(result value.Value, line int) (bool, error) {
	frameIndex := len(vm.frames) - 1
	if err := vm.closeFrameUpvalues(frameIndex, line); err != nil {
		return false, err
	}
	if frameIndex == 0 {
		vm.frames = vm.frames[:0]
		vm.stack = vm.stack[:0]
		return true, nil
	}
	frame := vm.frames[frameIndex]
	// Drop locals, the receiver slot and the callee beneath it.
	vm.stack = vm.stack[:frame.StackPointer-1]
	vm.frames = vm.frames[:frameIndex]
	vm.push(result)
	return false, nil
}

// --- dispatch ---

func (vm *VM) run() error {
	for {
		// The collector may run between any two instructions, never inside
		// one.
		vm.maybeCollect()

		frame := vm.frames[len(vm.frames)-1]
		code := frame.fn.Chunk

		if frame.IP >= len(code.Code) {
			// Implicit return at end of code.
			done, err := vm.returnFromFrame(value.NewNil(), 0)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			continue
		}

		ins := code.Code[frame.IP]
		line := code.Lines[frame.IP]
		frame.IP++

		switch ins.Op {
		case chunk.OP_CONSTANT:
			vm.push(code.Constants[ins.A])

		case chunk.OP_NIL:
			vm.push(value.NewNil())
		case chunk.OP_TRUE:
			vm.push(value.NewBool(true))
		case chunk.OP_FALSE:
			vm.push(value.NewBool(false))

		case chunk.OP_POP:
			vm.pop()

		case chunk.OP_PRINT:
			fmt.Fprintln(vm.Stdout, vm.heap.FormatValue(vm.pop()))

		case chunk.OP_THIS_PLACEHOLDER:
			vm.push(value.NewNil())

		case chunk.OP_NEGATE:
			v := vm.pop()
			if !v.IsNumber() {
				return vm.typeError(line, "Operand must be a number.")
			}
			vm.push(value.NewNumber(-v.AsNumber))

		case chunk.OP_NOT:
			vm.push(value.NewBool(vm.pop().IsFalsey()))

		case chunk.OP_ADD:
			b := vm.pop()
			a := vm.pop()
			if as, ok := vm.stringText(a); ok {
				if bs, ok := vm.stringText(b); ok {
					addr := vm.heap.AllocString(as + bs)
					vm.push(value.NewObject(addr))
					break
				}
			}
			if a.IsNumber() && b.IsNumber() {
				vm.push(value.NewNumber(a.AsNumber + b.AsNumber))
				break
			}
			return vm.typeError(line, "Operands must be two numbers or two strings.")

		case chunk.OP_SUBTRACT, chunk.OP_MULTIPLY, chunk.OP_DIVIDE,
			chunk.OP_GREATER, chunk.OP_LESS:
			b := vm.pop()
			a := vm.pop()
			if !a.IsNumber() || !b.IsNumber() {
				return vm.typeError(line, "Operands must be numbers.")
			}
			switch ins.Op {
			case chunk.OP_SUBTRACT:
				vm.push(value.NewNumber(a.AsNumber - b.AsNumber))
			case chunk.OP_MULTIPLY:
				vm.push(value.NewNumber(a.AsNumber * b.AsNumber))
			case chunk.OP_DIVIDE:
				vm.push(value.NewNumber(a.AsNumber / b.AsNumber))
			case chunk.OP_GREATER:
				vm.push(value.NewBool(a.AsNumber > b.AsNumber))
			case chunk.OP_LESS:
				vm.push(value.NewBool(a.AsNumber < b.AsNumber))
			}

		case chunk.OP_EQUAL:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.NewBool(vm.valuesEqual(a, b)))

		case chunk.OP_DEFINE_GLOBAL:
			name, err := vm.constantName(code, ins.A, line)
			if err != nil {
				return err
			}
			vm.globals[name] = vm.pop()

		case chunk.OP_GET_GLOBAL:
			name, err := vm.constantName(code, ins.A, line)
			if err != nil {
				return err
			}
			v, ok := vm.globals[name]
			if !ok {
				return vm.nameError(line, "Undefined variable '%s'.", name)
			}
			vm.push(v)

		case chunk.OP_SET_GLOBAL:
			name, err := vm.constantName(code, ins.A, line)
			if err != nil {
				return err
			}
			if _, ok := vm.globals[name]; !ok {
				return vm.nameError(line, "Undefined variable '%s'.", name)
			}
			// Assignment is an expression; the value stays on the stack.
			vm.globals[name] = vm.peek(0)

		case chunk.OP_GET_LOCAL:
			vm.push(vm.stack[frame.StackPointer+ins.A])

		case chunk.OP_SET_LOCAL:
			vm.stack[frame.StackPointer+ins.A] = vm.peek(0)

		case chunk.OP_GET_UPVALUE:
			up, err := vm.upvalueAt(frame.closure.Upvalues[ins.A], line)
			if err != nil {
				return err
			}
			if up.IsOpen {
				owner := vm.frames[up.FrameIndex]
				vm.push(vm.stack[owner.StackPointer+up.Slot])
			} else {
				vm.push(up.Closed)
			}

		case chunk.OP_SET_UPVALUE:
			up, err := vm.upvalueAt(frame.closure.Upvalues[ins.A], line)
			if err != nil {
				return err
			}
			if up.IsOpen {
				owner := vm.frames[up.FrameIndex]
				vm.stack[owner.StackPointer+up.Slot] = vm.peek(0)
			} else {
				up.Closed = vm.peek(0)
			}

		case chunk.OP_JUMP:
			frame.IP += ins.A

		case chunk.OP_JUMP_IF_FALSE:
			if vm.peek(0).IsFalsey() {
				frame.IP += ins.A
			}

		case chunk.OP_LOOP:
			frame.IP -= ins.A

		case chunk.OP_CALL:
			argc := ins.A
			callee := vm.peek(argc + 1)
			if err := vm.callValue(callee, argc, line); err != nil {
				return err
			}

		case chunk.OP_CLOSURE:
			fnConst := code.Constants[ins.A]
			if fnConst.Type != value.VAL_OBJ {
				return vm.memoryError(line, "Constant %d is not a function.", ins.A)
			}
			upvalues := make([]uint64, 0, ins.B)
			for i := 0; i < ins.B; i++ {
				pseudo := code.Code[frame.IP]
				frame.IP++
				if pseudo.Op != chunk.OP_UPVALUE {
					return vm.memoryError(line, "Malformed closure instruction.")
				}
				if pseudo.A == 1 {
					upvalues = append(upvalues, vm.captureUpvalue(len(vm.frames)-1, pseudo.B))
				} else {
					upvalues = append(upvalues, frame.closure.Upvalues[pseudo.B])
				}
			}
			addr := vm.heap.AllocClosure(fnConst.Addr, upvalues)
			vm.push(value.NewObject(addr))

		case chunk.OP_UPVALUE:
			// Only reachable when not consumed by OP_CLOSURE.
			return vm.memoryError(line, "Malformed closure instruction.")

		case chunk.OP_CLOSE_UPVALUE:
			frameIndex := len(vm.frames) - 1
			slot := len(vm.stack) - 1 - frame.StackPointer
			for i := range vm.openUpvalues {
				if vm.openUpvalues[i].frameIndex == frameIndex && vm.openUpvalues[i].slot == slot {
					if err := vm.closeUpvalueEntry(i, line); err != nil {
						return err
					}
					break
				}
			}
			vm.pop()

		case chunk.OP_RETURN:
			result := vm.pop()
			done, err := vm.returnFromFrame(result, line)
			if err != nil {
				return err
			}
			if done {
				return nil
			}

		case chunk.OP_CLASS:
			name, err := vm.constantName(code, ins.A, line)
			if err != nil {
				return err
			}
			vm.push(value.NewObject(vm.heap.AllocClass(name)))

		case chunk.OP_INHERIT:
			superVal := vm.peek(1)
			subVal := vm.peek(0)
			superObj, err := vm.objectAt(superVal.Addr, line)
			if superVal.Type != value.VAL_OBJ || err != nil {
				return vm.typeError(line, "Superclass must be a class.")
			}
			superClass, ok := superObj.(*heap.ObjClass)
			if !ok {
				return vm.typeError(line, "Superclass must be a class.")
			}
			subObj, err := vm.objectAt(subVal.Addr, line)
			if err != nil {
				return err
			}
			subClass, ok := subObj.(*heap.ObjClass)
			if !ok {
				return vm.memoryError(line, "Expected class at heap address %d.", subVal.Addr)
			}
			for name, method := range superClass.Methods {
				subClass.Methods[name] = method
			}
			vm.pop()
			vm.pop()

		case chunk.OP_METHOD:
			name, err := vm.constantName(code, ins.A, line)
			if err != nil {
				return err
			}
			closureVal := vm.peek(0)
			classVal := vm.peek(1)
			classObj, err := vm.objectAt(classVal.Addr, line)
			if err != nil {
				return err
			}
			class, ok := classObj.(*heap.ObjClass)
			if !ok {
				return vm.memoryError(line, "Expected class at heap address %d.", classVal.Addr)
			}
			class.Methods[name] = closureVal.Addr
			vm.pop()

		case chunk.OP_GET_PROPERTY:
			name, err := vm.constantName(code, ins.A, line)
			if err != nil {
				return err
			}
			recv := vm.peek(0)
			inst, class, err := vm.instanceAt(recv, line)
			if err != nil {
				return err
			}
			if field, ok := inst.Fields[name]; ok {
				vm.pop()
				vm.push(field)
				break
			}
			if methodAddr, ok := class.Methods[name]; ok {
				bound := vm.heap.AllocBoundMethod(recv, methodAddr)
				vm.pop()
				vm.push(value.NewObject(bound))
				break
			}
			return vm.nameError(line, "Undefined property '%s'.", name)

		case chunk.OP_SET_PROPERTY:
			name, err := vm.constantName(code, ins.A, line)
			if err != nil {
				return err
			}
			recv := vm.peek(1)
			inst, _, err := vm.instanceAt(recv, line)
			if err != nil {
				return err
			}
			val := vm.peek(0)
			inst.Fields[name] = val
			vm.pop()
			vm.pop()
			vm.push(val)

		case chunk.OP_INVOKE:
			name, err := vm.constantName(code, ins.A, line)
			if err != nil {
				return err
			}
			argc := ins.B
			recvIdx := len(vm.stack) - argc - 1
			recv := vm.stack[recvIdx]
			inst, class, err := vm.instanceAt(recv, line)
			if err != nil {
				return err
			}
			if field, ok := inst.Fields[name]; ok {
				vm.insertCallee(recvIdx, field)
				if err := vm.callValue(field, argc, line); err != nil {
					return err
				}
				break
			}
			if methodAddr, ok := class.Methods[name]; ok {
				vm.insertCallee(recvIdx, value.NewObject(methodAddr))
				if err := vm.callClosure(methodAddr, argc, line); err != nil {
					return err
				}
				break
			}
			return vm.nameError(line, "Undefined property '%s'.", name)

		default:
			return vm.memoryError(line, "Unknown opcode %d.", ins.Op)
		}
	}
}

// instanceAt resolves a receiver value to its instance object and class.
func (vm *VM) instanceAt(recv value.Value, line int) (*heap.ObjInstance, *heap.ObjClass, error) {
	if recv.Type != value.VAL_OBJ {
		return nil, nil, vm.typeError(line, "Only instances have properties.")
	}
	obj, err := vm.objectAt(recv.Addr, line)
	if err != nil {
		return nil, nil, err
	}
	inst, ok := obj.(*heap.ObjInstance)
	if !ok {
		return nil, nil, vm.typeError(line, "Only instances have properties.")
	}
	classObj, err := vm.objectAt(inst.ClassAddr, line)
	if err != nil {
		return nil, nil, err
	}
	class, ok := classObj.(*heap.ObjClass)
	if !ok {
		return nil, nil, vm.memoryError(line, "Expected class at heap address %d.", inst.ClassAddr)
	}
	return inst, class, nil
}
