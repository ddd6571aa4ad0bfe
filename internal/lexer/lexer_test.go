package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loxy-vm/internal/token"
)

func TestTokenize(t *testing.T) {
	input := `var answer = 41.5;
// comment line
fun add(a, b) { return a + b; }
print add(answer, 0.5) >= 42 != false;
"hello" and nil or this . super class
`

	tokens, err := New(input).Tokenize()
	require.NoError(t, err)

	expected := []struct {
		typ     token.TokenType
		literal string
		line    int
	}{
		{token.VAR, "var", 1},
		{token.IDENTIFIER, "answer", 1},
		{token.EQUAL, "", 1},
		{token.NUMBER, "41.5", 1},
		{token.SEMICOLON, "", 1},
		{token.FUN, "fun", 3},
		{token.IDENTIFIER, "add", 3},
		{token.LEFT_PAREN, "", 3},
		{token.IDENTIFIER, "a", 3},
		{token.COMMA, "", 3},
		{token.IDENTIFIER, "b", 3},
		{token.RIGHT_PAREN, "", 3},
		{token.LEFT_BRACE, "", 3},
		{token.RETURN, "return", 3},
		{token.IDENTIFIER, "a", 3},
		{token.PLUS, "", 3},
		{token.IDENTIFIER, "b", 3},
		{token.SEMICOLON, "", 3},
		{token.RIGHT_BRACE, "", 3},
		{token.PRINT, "print", 4},
		{token.IDENTIFIER, "add", 4},
		{token.LEFT_PAREN, "", 4},
		{token.IDENTIFIER, "answer", 4},
		{token.COMMA, "", 4},
		{token.NUMBER, "0.5", 4},
		{token.RIGHT_PAREN, "", 4},
		{token.GREATER_EQUAL, "", 4},
		{token.NUMBER, "42", 4},
		{token.BANG_EQUAL, "", 4},
		{token.FALSE, "false", 4},
		{token.SEMICOLON, "", 4},
		{token.STRING, "hello", 5},
		{token.AND, "and", 5},
		{token.NIL, "nil", 5},
		{token.OR, "or", 5},
		{token.THIS, "this", 5},
		{token.DOT, "", 5},
		{token.SUPER, "super", 5},
		{token.CLASS, "class", 5},
		{token.EOF, "", 6},
	}

	require.Len(t, tokens, len(expected))
	for i, want := range expected {
		assert.Equal(t, want.typ, tokens[i].Type, "token %d", i)
		if want.literal != "" {
			assert.Equal(t, want.literal, tokens[i].Literal, "token %d literal", i)
		}
		assert.Equal(t, want.line, tokens[i].Line, "token %d line", i)
	}
}

func TestTokenizeOperators(t *testing.T) {
	tokens, err := New("! != = == > >= < <= + - * / ( ) { } , . ;").Tokenize()
	require.NoError(t, err)

	want := []token.TokenType{
		token.BANG, token.BANG_EQUAL, token.EQUAL, token.EQUAL_EQUAL,
		token.GREATER, token.GREATER_EQUAL, token.LESS, token.LESS_EQUAL,
		token.PLUS, token.MINUS, token.STAR, token.SLASH,
		token.LEFT_PAREN, token.RIGHT_PAREN, token.LEFT_BRACE, token.RIGHT_BRACE,
		token.COMMA, token.DOT, token.SEMICOLON, token.EOF,
	}
	require.Len(t, tokens, len(want))
	for i, typ := range want {
		assert.Equal(t, typ, tokens[i].Type, "token %d", i)
	}
}

func TestUnterminatedString(t *testing.T) {
	_, err := New("\"abc").Tokenize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unterminated string")
}

func TestUnexpectedCharacter(t *testing.T) {
	_, err := New("var x = @;").Tokenize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unexpected character")
}

func TestMultilineStringTracksLines(t *testing.T) {
	tokens, err := New("\"a\nb\"\nvar").Tokenize()
	require.NoError(t, err)
	require.Equal(t, token.STRING, tokens[0].Type)
	assert.Equal(t, "a\nb", tokens[0].Literal)
	assert.Equal(t, 1, tokens[0].Line)
	assert.Equal(t, 3, tokens[1].Line)
}
