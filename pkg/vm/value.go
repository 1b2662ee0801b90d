package vm

import (
	"fmt"
	"strconv"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
)

// Value is a runtime stack slot or variable. It is a separate type from the
// compiler's static bytecode.Kind; only the field matching Kind is meaningful.
type Value struct {
	Kind bytecode.Kind
	I    int32
	F    float32
	S    string
}

// Int returns an Int value.
func Int(v int32) Value {
	return Value{Kind: bytecode.Int, I: v}
}

// Float returns a Float value.
func Float(v float32) Value {
	return Value{Kind: bytecode.Float, F: v}
}

// String returns a String value.
func String(v string) Value {
	return Value{Kind: bytecode.String, S: v}
}

// Void is the result of a host function with no return value.
var Void = Value{}

// Bool returns Int 1 for true and Int 0 for false.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// Truthy reports whether the value is a non-zero number or a non-empty string.
func (v Value) Truthy() bool {
	switch v.Kind {
	case bytecode.Int:
		return v.I != 0
	case bytecode.Float:
		return v.F != 0
	case bytecode.String:
		return v.S != ""
	}
	return false
}

// String renders the value for logs and host printing.
func (v Value) String() string {
	switch v.Kind {
	case bytecode.Int:
		return strconv.FormatInt(int64(v.I), 10)
	case bytecode.Float:
		return strconv.FormatFloat(float64(v.F), 'g', -1, 32)
	case bytecode.String:
		return v.S
	}
	return "void"
}

// GoString renders the value with its kind, e.g. int(3) or string("a").
func (v Value) GoString() string {
	if v.Kind == bytecode.String {
		return fmt.Sprintf("string(%q)", v.S)
	}
	return fmt.Sprintf("%s(%s)", v.Kind, v.String())
}

// zero returns the zero value of kind k.
func zero(k bytecode.Kind) Value {
	return Value{Kind: k}
}
