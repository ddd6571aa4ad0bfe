package stdlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loxy-vm/internal/heap"
	"loxy-vm/internal/value"
)

type native struct {
	arity int
	fn    heap.NativeFn
}

func registered(t *testing.T) map[string]native {
	t.Helper()
	natives := make(map[string]native)
	Register(func(name string, arity int, fn heap.NativeFn) {
		natives[name] = native{arity: arity, fn: fn}
	})
	return natives
}

func TestRegisterBindsSuite(t *testing.T) {
	natives := registered(t)
	for _, name := range []string{
		"clock", "sleep", "uuid",
		"sqlite_open", "sqlite_exec", "sqlite_query", "sqlite_close",
	} {
		_, ok := natives[name]
		assert.True(t, ok, "missing native %s", name)
	}
	assert.Equal(t, 0, natives["clock"].arity)
	assert.Equal(t, 2, natives["sqlite_exec"].arity)
}

func TestClock(t *testing.T) {
	natives := registered(t)
	h := heap.New()

	v, err := natives["clock"].fn(h, nil)
	require.NoError(t, err)
	require.True(t, v.IsNumber())
	assert.Greater(t, v.AsNumber, 0.0)
}

func TestUUID(t *testing.T) {
	natives := registered(t)
	h := heap.New()

	v, err := natives["uuid"].fn(h, nil)
	require.NoError(t, err)
	text, ok := h.StringAt(v.Addr)
	require.True(t, ok)
	assert.Len(t, text, 36)

	w, err := natives["uuid"].fn(h, nil)
	require.NoError(t, err)
	other, _ := h.StringAt(w.Addr)
	assert.NotEqual(t, text, other)
}

func TestSleepRejectsNonNumber(t *testing.T) {
	natives := registered(t)
	h := heap.New()

	_, err := natives["sleep"].fn(h, []value.Value{value.NewNil()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "milliseconds")
}

func TestSQLiteRoundTrip(t *testing.T) {
	natives := registered(t)
	h := heap.New()

	strArg := func(s string) value.Value {
		return value.NewObject(h.AllocString(s))
	}

	handle, err := natives["sqlite_open"].fn(h, []value.Value{strArg(":memory:")})
	require.NoError(t, err)
	require.True(t, handle.IsNumber())

	_, err = natives["sqlite_exec"].fn(h, []value.Value{
		handle, strArg("CREATE TABLE t (id INTEGER, name TEXT)"),
	})
	require.NoError(t, err)

	affected, err := natives["sqlite_exec"].fn(h, []value.Value{
		handle, strArg("INSERT INTO t VALUES (1, 'foo'), (2, 'bar')"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, affected.AsNumber)

	rows, err := natives["sqlite_query"].fn(h, []value.Value{
		handle, strArg("SELECT id, name FROM t ORDER BY id"),
	})
	require.NoError(t, err)
	text, ok := h.StringAt(rows.Addr)
	require.True(t, ok)
	assert.Equal(t, "1|foo\n2|bar", text)

	_, err = natives["sqlite_close"].fn(h, []value.Value{handle})
	require.NoError(t, err)

	// The handle is gone after close.
	_, err = natives["sqlite_exec"].fn(h, []value.Value{handle, strArg("SELECT 1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown database handle")
}

func TestSQLiteBadArguments(t *testing.T) {
	natives := registered(t)
	h := heap.New()

	_, err := natives["sqlite_open"].fn(h, []value.Value{value.NewNumber(1)})
	require.Error(t, err)

	_, err = natives["sqlite_exec"].fn(h, []value.Value{value.NewNumber(99), value.NewNil()})
	require.Error(t, err)
}
