package token

// Display returns a human readable rendering of a token for error messages.
func (t Token) Display() string {
	switch t.Type {
	case EOF:
		return "end of file"
	case STRING:
		return "\"" + t.Literal + "\""
	default:
		return "'" + t.Lexeme + "'"
	}
}
