package chunk

import (
	"bytes"
	"testing"

	"github.com/kylelemons/godebug/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loxy-vm/internal/value"
)

func TestWriteKeepsLinesParallel(t *testing.T) {
	c := New()
	c.Write(Instruction{Op: OP_NIL}, 1)
	c.Write(Instruction{Op: OP_TRUE}, 1)
	c.Write(Instruction{Op: OP_POP}, 2)

	require.Len(t, c.Code, 3)
	require.Len(t, c.Lines, 3)
	assert.Equal(t, []int{1, 1, 2}, c.Lines)
}

func TestAddConstant(t *testing.T) {
	c := New()
	assert.Equal(t, 0, c.AddConstant(value.NewNumber(1)))
	assert.Equal(t, 1, c.AddConstant(value.NewNumber(2)))
}

func TestPatchJump(t *testing.T) {
	c := New()
	jump := c.Write(Instruction{Op: OP_JUMP_IF_FALSE}, 1)
	c.Write(Instruction{Op: OP_POP}, 1)
	c.Write(Instruction{Op: OP_NIL}, 1)
	c.PatchJump(jump)

	// ip is already past the jump when the offset applies, so landing on
	// index 3 takes an offset of 2.
	assert.Equal(t, 2, c.Code[jump].A)
}

func TestDisassemble(t *testing.T) {
	c := New()
	idx := c.AddConstant(value.NewNumber(7))
	c.Write(Instruction{Op: OP_CONSTANT, A: idx}, 1)
	c.Write(Instruction{Op: OP_PRINT}, 1)
	c.Write(Instruction{Op: OP_JUMP, A: 3}, 2)
	c.Write(Instruction{Op: OP_GET_LOCAL, A: 1}, 2)
	c.Write(Instruction{Op: OP_RETURN}, 3)

	var buf bytes.Buffer
	c.Disassemble(&buf, "test", value.Value.String)

	want := "== test ==\n" +
		"0000    1 OP_CONSTANT           0 '7'\n" +
		"0001    | OP_PRINT\n" +
		"0002    2 OP_JUMP               3\n" +
		"0003    | OP_GET_LOCAL          1\n" +
		"0004    3 OP_RETURN\n"

	if d := diff.Diff(want, buf.String()); d != "" {
		t.Fatalf("disassembly mismatch:\n%s", d)
	}
}
