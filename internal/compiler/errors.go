package compiler

import "fmt"

// SyntaxError is the only error kind the compiler produces. Compilation
// keeps going after one is recorded (see synchronize), so a failed compile
// can carry several.
type SyntaxError struct {
	Line    int
	Message string
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("%d: %s", e.Line, e.Message)
}
