package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loxy-vm/internal/chunk"
	"loxy-vm/internal/value"
)

func has(h *Heap, addr uint64) bool {
	_, ok := h.Get(addr)
	return ok
}

func TestCollectFreesUnreachable(t *testing.T) {
	h := New()
	live := h.AllocString("live")
	dead := h.AllocString("dead")

	freed := h.Collect([]value.Value{value.NewObject(live)}, nil)

	assert.Equal(t, 1, freed)
	assert.True(t, has(h, live))
	assert.False(t, has(h, dead))
	assert.Equal(t, 0, h.Allocations(), "collection resets the counter")
}

func TestCollectWalksClosures(t *testing.T) {
	h := New()

	// A closure reaches its function, the function its constants, and the
	// closure its upvalues.
	c := chunk.New()
	strAddr := h.AllocString("constant")
	c.AddConstant(value.NewObject(strAddr))
	fnAddr := h.AllocFunction(&ObjFunction{Name: "f", Chunk: c})

	upAddr := h.AllocOpenUpvalue(0, 1)
	closAddr := h.AllocClosure(fnAddr, []uint64{upAddr})

	unrelated := h.AllocString("garbage")

	freed := h.Collect(nil, []uint64{closAddr})

	assert.Equal(t, 1, freed)
	assert.True(t, has(h, closAddr))
	assert.True(t, has(h, fnAddr))
	assert.True(t, has(h, strAddr))
	assert.True(t, has(h, upAddr))
	assert.False(t, has(h, unrelated))
}

func TestCollectWalksClassesAndInstances(t *testing.T) {
	h := New()

	fnAddr := h.AllocFunction(&ObjFunction{Name: "m", Chunk: chunk.New()})
	methodAddr := h.AllocClosure(fnAddr, nil)
	classAddr := h.AllocClass("Box")
	classObj, _ := h.Get(classAddr)
	classObj.(*ObjClass).Methods["m"] = methodAddr

	instAddr := h.AllocInstance(classAddr)
	fieldStr := h.AllocString("field value")
	instObj, _ := h.Get(instAddr)
	instObj.(*ObjInstance).Fields["v"] = value.NewObject(fieldStr)

	boundAddr := h.AllocBoundMethod(value.NewObject(instAddr), methodAddr)

	freed := h.Collect([]value.Value{value.NewObject(boundAddr)}, nil)

	assert.Equal(t, 0, freed)
	for _, addr := range []uint64{fnAddr, methodAddr, classAddr, instAddr, fieldStr, boundAddr} {
		assert.True(t, has(h, addr))
	}
}

func TestCollectClosedUpvalueKeepsValue(t *testing.T) {
	h := New()

	boxed := h.AllocString("boxed")
	upAddr := h.Allocate(&ObjUpvalue{Closed: value.NewObject(boxed)})

	freed := h.Collect(nil, []uint64{upAddr})
	assert.Equal(t, 0, freed)
	assert.True(t, has(h, boxed))
}

func TestCollectOpenUpvalueHasNoEdges(t *testing.T) {
	h := New()

	// An open upvalue's referent lives on the stack; the stack roots cover
	// it, so collecting with only the upvalue as root frees the string.
	s := h.AllocString("on the stack")
	upAddr := h.AllocOpenUpvalue(0, 2)

	freed := h.Collect(nil, []uint64{upAddr})
	assert.Equal(t, 1, freed)
	assert.False(t, has(h, s))
	assert.True(t, has(h, upAddr))
}

func TestCollectEverything(t *testing.T) {
	h := New()
	for i := 0; i < 100; i++ {
		h.AllocString("x")
	}
	require.Equal(t, 100, h.Count())

	freed := h.Collect(nil, nil)
	assert.Equal(t, 100, freed)
	assert.Equal(t, 0, h.Count())
}
