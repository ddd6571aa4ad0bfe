// Package stdlib implements the native functions every VM starts with.
package stdlib

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"loxy-vm/internal/heap"
	"loxy-vm/internal/value"
)

// Register binds the native suite through define, which is expected to be
// the VM's DefineNative.
func Register(define func(name string, arity int, fn heap.NativeFn)) {
	define("clock", 0, clock)
	define("sleep", 1, sleep)
	define("uuid", 0, uuidNative)

	registerSQLite(define)
}

func clock(h *heap.Heap, args []value.Value) (value.Value, error) {
	return value.NewNumber(float64(time.Now().UnixNano()) / 1e9), nil
}

func sleep(h *heap.Heap, args []value.Value) (value.Value, error) {
	if !args[0].IsNumber() {
		return value.Value{}, fmt.Errorf("sleep expects a number of milliseconds")
	}
	time.Sleep(time.Duration(args[0].AsNumber * float64(time.Millisecond)))
	return value.NewNil(), nil
}

func uuidNative(h *heap.Heap, args []value.Value) (value.Value, error) {
	return value.NewObject(h.AllocString(uuid.NewString())), nil
}

// argString resolves a string argument through the heap.
func argString(h *heap.Heap, v value.Value) (string, bool) {
	if v.Type != value.VAL_OBJ {
		return "", false
	}
	return h.StringAt(v.Addr)
}
