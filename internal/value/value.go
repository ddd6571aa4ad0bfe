package value

import (
	"fmt"
	"math"
	"strconv"
)

type ValueType int

const (
	VAL_NUMBER ValueType = iota
	VAL_BOOL
	VAL_NIL
	VAL_OBJ // heap address, see internal/heap
)

// Value is the small copyable representation flowing through the stack and
// globals. Numbers and booleans are stored inline; everything else lives on
// the heap and is referenced by address.
type Value struct {
	Type     ValueType
	AsNumber float64
	AsBool   bool
	Addr     uint64
}

func NewNumber(n float64) Value {
	return Value{Type: VAL_NUMBER, AsNumber: n}
}

func NewBool(b bool) Value {
	return Value{Type: VAL_BOOL, AsBool: b}
}

func NewNil() Value {
	return Value{Type: VAL_NIL}
}

func NewObject(addr uint64) Value {
	return Value{Type: VAL_OBJ, Addr: addr}
}

func (v Value) IsNumber() bool { return v.Type == VAL_NUMBER }
func (v Value) IsObj() bool    { return v.Type == VAL_OBJ }

// IsFalsey reports Lox truthiness: nil and false are falsey, everything
// else (including 0 and "") is truthy.
func (v Value) IsFalsey() bool {
	return v.Type == VAL_NIL || (v.Type == VAL_BOOL && !v.AsBool)
}

// String renders primitives. Object values print their raw address; callers
// that can reach the heap should format through it instead.
func (v Value) String() string {
	switch v.Type {
	case VAL_NUMBER:
		return FormatNumber(v.AsNumber)
	case VAL_BOOL:
		return strconv.FormatBool(v.AsBool)
	case VAL_NIL:
		return "nil"
	case VAL_OBJ:
		return fmt.Sprintf("<obj %d>", v.Addr)
	default:
		return "unknown"
	}
}

// FormatNumber prints integral values below 1e15 in magnitude as plain
// integers; every other value uses the shortest 'g' form (e.g. 1e+21).
func FormatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
