package builder

import (
	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/opcode"
)

// Operator is a binary or unary expression operator.
type Operator int

const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
	OpAnd
	OpOr
	OpNeg
	OpNot
)

var operatorNames = map[Operator]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpGt: ">", OpLe: "<=", OpGe: ">=",
	OpAnd: "&&", OpOr: "||", OpNeg: "-", OpNot: "!",
}

// String returns the source spelling of the operator.
func (o Operator) String() string {
	return operatorNames[o]
}

// numericOps maps an operator to its int and float opcodes.
var numericOps = map[Operator][2]opcode.Op{
	OpAdd: {opcode.AddI, opcode.AddF},
	OpSub: {opcode.SubtractI, opcode.SubtractF},
	OpMul: {opcode.MultiplyI, opcode.MultiplyF},
	OpDiv: {opcode.DivideI, opcode.DivideF},
	OpEq:  {opcode.IsEqualI, opcode.IsEqualF},
	OpNe:  {opcode.NotEqualI, opcode.NotEqualF},
	OpLt:  {opcode.IsLessI, opcode.IsLessF},
	OpGt:  {opcode.IsGreaterI, opcode.IsGreaterF},
	OpLe:  {opcode.IsLessEqualI, opcode.IsLessEqualF},
	OpGe:  {opcode.IsGreaterEqualI, opcode.IsGreaterEqualF},
}

// Binary emits the operator for two operands already on the stack (left below
// right) and returns the static kind of the result.
func (b *Builder) Binary(op Operator, left, right bytecode.Kind) bytecode.Kind {
	if left == bytecode.Void || right == bytecode.Void {
		b.errorf("void function result used as an operand of %s", op)
		return bytecode.Int
	}

	switch op {
	case OpEq, OpNe:
		if left == bytecode.String && right == bytecode.String {
			if op == OpEq {
				b.emit(opcode.IsEqualS)
			} else {
				b.emit(opcode.NotEqualS)
			}
			return bytecode.Int
		}
		fallthrough
	case OpAdd, OpSub, OpMul, OpDiv, OpLt, OpGt, OpLe, OpGe:
		if left == bytecode.String || right == bytecode.String {
			b.errorf("operator %s cannot be applied to %s and %s", op, left, right)
			return bytecode.Int
		}
		ops := numericOps[op]
		result := bytecode.Int
		switch {
		case left == bytecode.Int && right == bytecode.Int:
			b.emit(ops[0])
		case left == bytecode.Float && right == bytecode.Float:
			b.emit(ops[1])
			result = bytecode.Float
		case left == bytecode.Int:
			b.emitOperand(opcode.IToF, 1)
			b.emit(ops[1])
			result = bytecode.Float
		default:
			b.emitOperand(opcode.IToF, 0)
			b.emit(ops[1])
			result = bytecode.Float
		}
		if isComparison(op) {
			return bytecode.Int
		}
		return result
	case OpMod, OpAnd, OpOr:
		if left == bytecode.String || right == bytecode.String {
			b.errorf("operator %s cannot be applied to %s and %s", op, left, right)
			return bytecode.Int
		}
		b.truncate(op, left, 1)
		b.truncate(op, right, 0)
		switch op {
		case OpMod:
			b.emit(opcode.Modulo)
		case OpAnd:
			b.emit(opcode.And)
		default:
			b.emit(opcode.Or)
		}
		return bytecode.Int
	}
	b.errorf("operator %s is not binary", op)
	return bytecode.Int
}

// Unary emits a unary operator for the operand on top of the stack.
func (b *Builder) Unary(op Operator, operand bytecode.Kind) bytecode.Kind {
	switch operand {
	case bytecode.Void:
		b.errorf("void function result used as an operand of %s", op)
		return bytecode.Int
	case bytecode.String:
		b.errorf("operator %s cannot be applied to string", op)
		return bytecode.Int
	}

	switch op {
	case OpNeg:
		if operand == bytecode.Float {
			b.emit(opcode.NegateF)
			return bytecode.Float
		}
		b.emit(opcode.NegateI)
		return bytecode.Int
	case OpNot:
		b.truncate(op, operand, 0)
		b.emit(opcode.Not)
		return bytecode.Int
	}
	b.errorf("operator %s is not unary", op)
	return bytecode.Int
}

// truncate converts a float operand at depth to int for an int-only operator.
func (b *Builder) truncate(op Operator, k bytecode.Kind, depth uint32) {
	if k == bytecode.Float {
		b.warnf("precision loss: float operand of %s truncated to int", op)
		b.emitOperand(opcode.FToI, depth)
	}
}

func isComparison(op Operator) bool {
	switch op {
	case OpEq, OpNe, OpLt, OpGt, OpLe, OpGe:
		return true
	}
	return false
}

// callOps selects the call opcode by the import's return kind.
var callOps = map[bytecode.Kind]opcode.Op{
	bytecode.Void:   opcode.CallSysFunctionV,
	bytecode.Int:    opcode.CallSysFunctionI,
	bytecode.Float:  opcode.CallSysFunctionF,
	bytecode.String: opcode.CallSysFunctionS,
}

// Call emits a host function call whose arguments (of kinds args) have already
// been pushed in order. The returned kind is Void for void functions, which still
// leave a placeholder Int on the stack.
func (b *Builder) Call(name string, args []bytecode.Kind) bytecode.Kind {
	var imp bytecode.Import
	ok := false
	if b.sigs != nil {
		imp, ok = b.sigs.Lookup(name)
	}
	if !ok {
		b.report(SeverityError, CategoryHost, "unknown function %q", name)
		return bytecode.Int
	}

	if len(args) != len(imp.Params) {
		b.errorf("function %s expects %d argument(s), got %d", imp.Name, len(imp.Params), len(args))
		return imp.Return
	}

	for i, arg := range args {
		param := imp.Params[i]
		depth := uint32(len(args) - 1 - i)
		switch {
		case arg == param:
		case arg == bytecode.Void:
			b.errorf("function %s argument %d: void function result used as a value", imp.Name, i+1)
		case arg == bytecode.Float && param == bytecode.Int:
			b.warnf("function %s argument %d: precision loss converting float to int", imp.Name, i+1)
			b.emitOperand(opcode.FToI, depth)
		case arg == bytecode.Int && param == bytecode.Float:
			b.emitOperand(opcode.IToF, depth)
		default:
			b.errorf("function %s argument %d: cannot convert %s to %s", imp.Name, i+1, arg, param)
		}
	}

	b.emitOperand(opcode.PushI, uint32(len(args)))
	b.emitOperand(callOps[imp.Return], uint32(b.importIndex(imp)))
	return imp.Return
}

// importIndex returns the table index of imp, adding it on first use.
func (b *Builder) importIndex(imp bytecode.Import) int {
	key := bytecode.FoldName(imp.Name)
	if idx, ok := b.impIndex[key]; ok {
		return idx
	}
	idx := len(b.imports)
	b.imports = append(b.imports, imp)
	b.impIndex[key] = idx
	return idx
}
