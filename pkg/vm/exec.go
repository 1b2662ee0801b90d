package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/opcode"
)

// Run executes instructions until the thread finishes, errors, or suspends at
// the end of a wait region. It returns the resulting state. Calling Run on a
// Waiting thread whose waits are still pending returns Waiting without
// executing anything.
func (t *Thread) Run() State {
	switch {
	case t.state.Done():
		return t.state
	case t.state == Waiting:
		if t.pending > 0 {
			return Waiting
		}
		t.state = Running
	}

	executed := 0
	for t.state == Running {
		if t.pc < 0 || t.pc >= len(t.script.Code) {
			t.finish()
			break
		}
		if t.instructionLimit > 0 && executed >= t.instructionLimit {
			err := NewRuntimeError(ErrorInstructionCap, fmt.Sprintf("more than %d instructions without waiting", t.instructionLimit))
			err.PC = t.pc
			t.fail(err)
			break
		}
		ins, err := opcode.Decode(t.script.Code, t.pc)
		if err != nil {
			rerr := NewRuntimeError(ErrorBadOpcode, err.Error())
			rerr.PC = t.pc
			t.fail(rerr)
			break
		}
		executed++
		if rerr := t.step(ins); rerr != nil {
			rerr.PC = ins.Offset
			t.fail(rerr)
		}
	}
	return t.state
}

func (t *Thread) finish() {
	t.state = Finished
	t.log.Debug("thread finished", "pc", t.pc)
}

// step executes one instruction and advances pc.
func (t *Thread) step(ins opcode.Instruction) *RuntimeError {
	next := ins.Next()
	switch ins.Op {
	case opcode.SitnSpin, opcode.Yield:

	case opcode.CallSysFunctionV, opcode.CallSysFunctionI, opcode.CallSysFunctionF, opcode.CallSysFunctionS:
		// The native may stop this thread; pc must already point past the call.
		t.pc = next
		return t.call(ins)

	case opcode.Branch, opcode.BranchGoto:
		target, rerr := t.target(ins.Operand)
		if rerr != nil {
			return rerr
		}
		next = target

	case opcode.BranchIfZero:
		v, ok := t.pop()
		if !ok {
			return NewRuntimeError(ErrorStackUnderflow, "branch condition missing")
		}
		if v.Kind != bytecode.Int {
			return mismatch(ins.Op, bytecode.Int, v)
		}
		if v.I == 0 {
			target, rerr := t.target(ins.Operand)
			if rerr != nil {
				return rerr
			}
			next = target
		}

	case opcode.BeginWait:
		t.waitDepth++

	case opcode.EndWait:
		if t.waitDepth > 0 {
			t.waitDepth--
		}
		t.pc = next
		if t.pending > 0 {
			t.state = Waiting
			t.log.Debug("thread waiting", "pc", t.pc, "pending", t.pending)
		}
		return nil

	case opcode.ReturnV:
		t.pc = next
		t.finish()
		return nil

	case opcode.StoreI, opcode.StoreF, opcode.StoreS:
		idx, rerr := t.variable(ins)
		if rerr != nil {
			return rerr
		}
		v, ok := t.pop()
		if !ok {
			return NewRuntimeError(ErrorStackUnderflow, fmt.Sprintf("nothing to store in %s", t.script.Variables[idx].Name))
		}
		want := storeKind(ins.Op)
		if v.Kind != want || t.script.Variables[idx].Kind != want {
			return mismatch(ins.Op, want, v)
		}
		t.vars[idx] = v

	case opcode.LoadI, opcode.LoadF, opcode.LoadS:
		idx, rerr := t.variable(ins)
		if rerr != nil {
			return rerr
		}
		if want := loadKind(ins.Op); t.script.Variables[idx].Kind != want {
			return mismatch(ins.Op, want, t.vars[idx])
		}
		if rerr := t.push(t.vars[idx]); rerr != nil {
			return rerr
		}

	case opcode.PushI:
		if rerr := t.push(Int(int32(ins.Operand))); rerr != nil {
			return rerr
		}
	case opcode.PushF:
		if rerr := t.push(Float(math.Float32frombits(ins.Operand))); rerr != nil {
			return rerr
		}
	case opcode.PushS:
		str, ok := t.script.String(ins.Operand)
		if !ok {
			return NewRuntimeError(ErrorBadOperand, fmt.Sprintf("no string at pool offset %d", ins.Operand))
		}
		if rerr := t.push(String(str)); rerr != nil {
			return rerr
		}

	case opcode.GetString:
		top, ok := t.peek(0)
		if !ok {
			return NewRuntimeError(ErrorStackUnderflow, "GetString on empty stack")
		}
		if top.Kind != bytecode.Int {
			return mismatch(ins.Op, bytecode.Int, *top)
		}
		str, ok := t.script.String(uint32(top.I))
		if !ok {
			return NewRuntimeError(ErrorBadOperand, fmt.Sprintf("no string at pool offset %d", top.I))
		}
		*top = String(str)

	case opcode.Pop:
		if _, ok := t.pop(); !ok {
			t.warn(ErrorStackUnderflow, ins.Offset, "Pop on empty stack")
		}

	case opcode.IToF, opcode.FToI:
		if rerr := t.convert(ins); rerr != nil {
			return rerr
		}

	case opcode.DebugBreakpoint:
		fn, _ := t.script.FunctionAt(ins.Offset)
		t.log.Info("breakpoint", "function", fn.Name, "pc", ins.Offset, "stack", len(t.stack))

	default:
		if rerr := t.operate(ins); rerr != nil {
			return rerr
		}
	}
	if t.state == Running {
		t.pc = next
	}
	return nil
}

// operate executes arithmetic, comparison and logic opcodes.
func (t *Thread) operate(ins opcode.Instruction) *RuntimeError {
	switch ins.Op {
	case opcode.NegateI, opcode.NegateF, opcode.Not:
		top, ok := t.peek(0)
		if !ok {
			t.warn(ErrorStackUnderflow, ins.Offset, "%s on empty stack", ins.Op)
			return nil
		}
		switch {
		case ins.Op == opcode.NegateI && top.Kind == bytecode.Int:
			top.I = -top.I
		case ins.Op == opcode.NegateF && top.Kind == bytecode.Float:
			top.F = -top.F
		case ins.Op == opcode.Not && top.Kind == bytecode.Int:
			*top = Bool(top.I == 0)
		default:
			return mismatch(ins.Op, unaryKind(ins.Op), *top)
		}
		return nil
	}

	kind, ok := binaryKind(ins.Op)
	if !ok {
		return NewRuntimeError(ErrorBadOpcode, fmt.Sprintf("unhandled opcode %s", ins.Op))
	}
	if len(t.stack) < 2 {
		t.warn(ErrorStackUnderflow, ins.Offset, "%s needs 2 operands, have %d", ins.Op, len(t.stack))
		return nil
	}
	a, b := t.stack[len(t.stack)-2], t.stack[len(t.stack)-1]
	if a.Kind != kind {
		return mismatch(ins.Op, kind, a)
	}
	if b.Kind != kind {
		return mismatch(ins.Op, kind, b)
	}
	t.stack = t.stack[:len(t.stack)-2]

	var r Value
	switch kind {
	case bytecode.Int:
		r = t.intOp(ins, a.I, b.I)
	case bytecode.Float:
		r = t.floatOp(ins, a.F, b.F)
	case bytecode.String:
		eq := strings.EqualFold(a.S, b.S)
		r = Bool(eq == (ins.Op == opcode.IsEqualS))
	}
	t.stack = append(t.stack, r)
	return nil
}

func (t *Thread) intOp(ins opcode.Instruction, a, b int32) Value {
	switch ins.Op {
	case opcode.AddI:
		return Int(a + b)
	case opcode.SubtractI:
		return Int(a - b)
	case opcode.MultiplyI:
		return Int(a * b)
	case opcode.DivideI, opcode.Modulo:
		if b == 0 {
			t.warn(ErrorDivisionByZero, ins.Offset, "%s by zero", ins.Op)
			return Int(0)
		}
		if ins.Op == opcode.Modulo {
			return Int(a % b)
		}
		return Int(a / b)
	case opcode.IsEqualI:
		return Bool(a == b)
	case opcode.NotEqualI:
		return Bool(a != b)
	case opcode.IsGreaterI:
		return Bool(a > b)
	case opcode.IsLessI:
		return Bool(a < b)
	case opcode.IsGreaterEqualI:
		return Bool(a >= b)
	case opcode.IsLessEqualI:
		return Bool(a <= b)
	case opcode.And:
		return Bool(a != 0 && b != 0)
	case opcode.Or:
		return Bool(a != 0 || b != 0)
	}
	return Int(0)
}

func (t *Thread) floatOp(ins opcode.Instruction, a, b float32) Value {
	switch ins.Op {
	case opcode.AddF:
		return Float(a + b)
	case opcode.SubtractF:
		return Float(a - b)
	case opcode.MultiplyF:
		return Float(a * b)
	case opcode.DivideF:
		if b == 0 {
			t.warn(ErrorDivisionByZero, ins.Offset, "%s by zero", ins.Op)
			return Float(0)
		}
		return Float(a / b)
	case opcode.IsEqualF:
		return Bool(a == b)
	case opcode.NotEqualF:
		return Bool(a != b)
	case opcode.IsGreaterF:
		return Bool(a > b)
	case opcode.IsLessF:
		return Bool(a < b)
	case opcode.IsGreaterEqualF:
		return Bool(a >= b)
	case opcode.IsLessEqualF:
		return Bool(a <= b)
	}
	return Float(0)
}

// binaryKind returns the operand kind a binary opcode expects.
func binaryKind(op opcode.Op) (bytecode.Kind, bool) {
	switch op {
	case opcode.AddI, opcode.SubtractI, opcode.MultiplyI, opcode.DivideI, opcode.Modulo,
		opcode.IsEqualI, opcode.NotEqualI, opcode.IsGreaterI, opcode.IsLessI,
		opcode.IsGreaterEqualI, opcode.IsLessEqualI, opcode.And, opcode.Or:
		return bytecode.Int, true
	case opcode.AddF, opcode.SubtractF, opcode.MultiplyF, opcode.DivideF,
		opcode.IsEqualF, opcode.NotEqualF, opcode.IsGreaterF, opcode.IsLessF,
		opcode.IsGreaterEqualF, opcode.IsLessEqualF:
		return bytecode.Float, true
	case opcode.IsEqualS, opcode.NotEqualS:
		return bytecode.String, true
	}
	return bytecode.Void, false
}

func unaryKind(op opcode.Op) bytecode.Kind {
	if op == opcode.NegateF {
		return bytecode.Float
	}
	return bytecode.Int
}

func storeKind(op opcode.Op) bytecode.Kind {
	return bytecode.Kind(op-opcode.StoreI) + bytecode.Int
}

func loadKind(op opcode.Op) bytecode.Kind {
	return bytecode.Kind(op-opcode.LoadI) + bytecode.Int
}

// convert applies IToF or FToI to the slot at the operand's depth.
func (t *Thread) convert(ins opcode.Instruction) *RuntimeError {
	slot, ok := t.peek(int(ins.Operand))
	if !ok {
		return NewRuntimeError(ErrorBadOperand, fmt.Sprintf("%s depth %d beyond stack size %d", ins.Op, ins.Operand, len(t.stack)))
	}
	switch {
	case ins.Op == opcode.IToF && slot.Kind == bytecode.Int:
		*slot = Float(float32(slot.I))
	case ins.Op == opcode.FToI && slot.Kind == bytecode.Float:
		*slot = Int(int32(slot.F))
	case ins.Op == opcode.IToF:
		return mismatch(ins.Op, bytecode.Int, *slot)
	default:
		return mismatch(ins.Op, bytecode.Float, *slot)
	}
	return nil
}

// call pops argc and the arguments, dispatches the import and pushes its result.
func (t *Thread) call(ins opcode.Instruction) *RuntimeError {
	idx := int(ins.Operand)
	if idx >= len(t.natives) || t.natives[idx] == nil {
		return NewRuntimeError(ErrorDispatch, fmt.Sprintf("import %d is not bound", idx))
	}
	fn := t.natives[idx]

	want := bytecode.Kind(ins.Op-opcode.CallSysFunctionV) + bytecode.Void
	if fn.Return != want {
		return NewRuntimeError(ErrorDispatch, fmt.Sprintf("%s used with %s", fn.Signature(), ins.Op))
	}

	argc, ok := t.pop()
	if !ok {
		return NewRuntimeError(ErrorStackUnderflow, fmt.Sprintf("call to %s without argument count", fn.Name))
	}
	if argc.Kind != bytecode.Int {
		return mismatch(ins.Op, bytecode.Int, argc)
	}
	if int(argc.I) != len(fn.Params) {
		return NewRuntimeError(ErrorDispatch, fmt.Sprintf("%s called with %d argument(s)", fn.Signature(), argc.I))
	}
	n := int(argc.I)
	if len(t.stack) < n {
		return NewRuntimeError(ErrorStackUnderflow, fmt.Sprintf("%s needs %d argument(s), stack has %d", fn.Name, n, len(t.stack)))
	}
	args := make([]Value, n)
	copy(args, t.stack[len(t.stack)-n:])
	t.stack = t.stack[:len(t.stack)-n]
	for i, a := range args {
		if a.Kind != fn.Params[i] {
			return NewRuntimeError(ErrorTypeMismatch, fmt.Sprintf("%s argument %d is %s", fn.Signature(), i+1, a.Kind))
		}
	}

	result, err := fn.Fn(&Call{Args: args, thread: t, name: fn.Name})
	if err != nil {
		return NewRuntimeError(ErrorDispatch, fmt.Sprintf("%s: %v", fn.Name, err))
	}
	if t.state.Done() {
		// Stopped from inside the native.
		return nil
	}
	switch {
	case want == bytecode.Void:
		result = Int(0)
	case result.Kind == bytecode.Void:
		result = zero(want)
	case result.Kind != want:
		return NewRuntimeError(ErrorTypeMismatch, fmt.Sprintf("%s returned %s", fn.Signature(), result.Kind))
	}
	return t.push(result)
}

// target validates an absolute branch target.
func (t *Thread) target(offset uint32) (int, *RuntimeError) {
	if int(offset) >= len(t.script.Code) {
		return 0, NewRuntimeError(ErrorBadBranch, fmt.Sprintf("branch target %04X outside code (len %04X)", offset, len(t.script.Code)))
	}
	return int(offset), nil
}

func (t *Thread) variable(ins opcode.Instruction) (int, *RuntimeError) {
	idx := int(ins.Operand)
	if idx >= len(t.vars) {
		return 0, NewRuntimeError(ErrorBadOperand, fmt.Sprintf("variable index %d out of range", idx))
	}
	return idx, nil
}

func (t *Thread) push(v Value) *RuntimeError {
	if len(t.stack) >= t.maxStack {
		return NewRuntimeError(ErrorStackOverflow, fmt.Sprintf("stack exceeds %d entries", t.maxStack))
	}
	t.stack = append(t.stack, v)
	return nil
}

func (t *Thread) pop() (Value, bool) {
	if len(t.stack) == 0 {
		return Value{}, false
	}
	v := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	return v, true
}

// peek returns a pointer to the slot depth entries below the top.
func (t *Thread) peek(depth int) (*Value, bool) {
	i := len(t.stack) - 1 - depth
	if depth < 0 || i < 0 {
		return nil, false
	}
	return &t.stack[i], true
}

func mismatch(op opcode.Op, want bytecode.Kind, got Value) *RuntimeError {
	return NewRuntimeError(ErrorTypeMismatch, fmt.Sprintf("%s expects %s, got %#v", op, want, got))
}
