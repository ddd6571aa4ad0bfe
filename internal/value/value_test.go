package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFalsey(t *testing.T) {
	assert.True(t, NewNil().IsFalsey())
	assert.True(t, NewBool(false).IsFalsey())

	assert.False(t, NewBool(true).IsFalsey())
	assert.False(t, NewNumber(0).IsFalsey(), "zero is truthy")
	assert.False(t, NewNumber(-1).IsFalsey())
	assert.False(t, NewObject(7).IsFalsey())
}

func TestString(t *testing.T) {
	assert.Equal(t, "7", NewNumber(7).String())
	assert.Equal(t, "2.5", NewNumber(2.5).String())
	assert.Equal(t, "-3", NewNumber(-3).String())
	assert.Equal(t, "true", NewBool(true).String())
	assert.Equal(t, "false", NewBool(false).String())
	assert.Equal(t, "nil", NewNil().String())
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(0))
	assert.Equal(t, "42", FormatNumber(42))
	assert.Equal(t, "0.1", FormatNumber(0.1))
	assert.Equal(t, "1e+21", FormatNumber(1e21))
}
