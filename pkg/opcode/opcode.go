// Package opcode defines the instruction set for the Sheep virtual machine.
// This package is the foundation that both the compiler and VM depend on.
// The compiler emits these instructions into a byte buffer and the VM decodes them.
//
// Every instruction is a single opcode byte optionally followed by a 4-byte
// little-endian operand. Operand meaning depends on the opcode (import index,
// variable index, absolute code offset, literal, string pool offset or stack depth).
package opcode

import "fmt"

// Op is a single Sheep instruction opcode.
type Op byte

// Sheep instruction set.
const (
	// SitnSpin is a no-op marker. It also terminates every function body.
	SitnSpin Op = 0x00
	// Yield is a no-op marker kept for compatibility with persisted assets.
	Yield Op = 0x01

	// CallSysFunctionV calls a void host function and pushes a placeholder Int 0.
	// Operand: import table index.
	CallSysFunctionV Op = 0x02
	// CallSysFunctionI calls an int-returning host function.
	CallSysFunctionI Op = 0x03
	// CallSysFunctionF calls a float-returning host function.
	CallSysFunctionF Op = 0x04
	// CallSysFunctionS calls a string-returning host function.
	CallSysFunctionS Op = 0x05

	// Branch jumps unconditionally. Emitted at the end of if/else arms.
	// Operand: absolute code offset.
	Branch Op = 0x06
	// BranchGoto jumps unconditionally. Emitted for goto statements.
	BranchGoto Op = 0x07
	// BranchIfZero pops the top value and jumps when it is zero.
	BranchIfZero Op = 0x08

	// BeginWait opens a wait region.
	BeginWait Op = 0x09
	// EndWait closes a wait region, suspending while region waits are pending.
	EndWait Op = 0x0A
	// ReturnV ends the current function.
	ReturnV Op = 0x0B

	// StoreI pops into an int variable. Operand: variable index.
	StoreI Op = 0x0C
	StoreF Op = 0x0D
	StoreS Op = 0x0E

	// LoadI pushes an int variable. Operand: variable index.
	LoadI Op = 0x0F
	LoadF Op = 0x10
	LoadS Op = 0x11

	// PushI pushes an int32 literal.
	PushI Op = 0x12
	// PushF pushes a float32 literal stored as IEEE-754 bits.
	PushF Op = 0x13
	// PushS pushes a string from the pool. Operand: pool offset.
	PushS Op = 0x14
	// GetString converts an int pool offset on top of the stack into a string.
	GetString Op = 0x15
	// Pop discards the top value.
	Pop Op = 0x16

	AddI      Op = 0x17
	AddF      Op = 0x18
	SubtractI Op = 0x19
	SubtractF Op = 0x1A
	MultiplyI Op = 0x1B
	MultiplyF Op = 0x1C
	DivideI   Op = 0x1D
	DivideF   Op = 0x1E
	Modulo    Op = 0x1F
	NegateI   Op = 0x20
	NegateF   Op = 0x21

	IsEqualI        Op = 0x22
	IsEqualF        Op = 0x23
	NotEqualI       Op = 0x24
	NotEqualF       Op = 0x25
	IsGreaterI      Op = 0x26
	IsGreaterF      Op = 0x27
	IsLessI         Op = 0x28
	IsLessF         Op = 0x29
	IsGreaterEqualI Op = 0x2A
	IsGreaterEqualF Op = 0x2B
	IsLessEqualI    Op = 0x2C
	IsLessEqualF    Op = 0x2D
	IsEqualS        Op = 0x2E
	NotEqualS       Op = 0x2F

	// IToF converts the int at the given distance from the top of the stack to float.
	// Operand: stack depth (0 = top).
	IToF Op = 0x30
	// FToI truncates the float at the given distance from the top of the stack to int.
	FToI Op = 0x31

	And Op = 0x32
	Or  Op = 0x33
	Not Op = 0x34

	// DebugBreakpoint logs the thread position and continues.
	DebugBreakpoint Op = 0x35
)

// OperandSize is the width in bytes of every instruction operand.
const OperandSize = 4

// info describes the static shape of an instruction.
type info struct {
	name       string
	hasOperand bool
}

var table = map[Op]info{
	SitnSpin:         {"SitnSpin", false},
	Yield:            {"Yield", false},
	CallSysFunctionV: {"CallSysFunctionV", true},
	CallSysFunctionI: {"CallSysFunctionI", true},
	CallSysFunctionF: {"CallSysFunctionF", true},
	CallSysFunctionS: {"CallSysFunctionS", true},
	Branch:           {"Branch", true},
	BranchGoto:       {"BranchGoto", true},
	BranchIfZero:     {"BranchIfZero", true},
	BeginWait:        {"BeginWait", false},
	EndWait:          {"EndWait", false},
	ReturnV:          {"ReturnV", false},
	StoreI:           {"StoreI", true},
	StoreF:           {"StoreF", true},
	StoreS:           {"StoreS", true},
	LoadI:            {"LoadI", true},
	LoadF:            {"LoadF", true},
	LoadS:            {"LoadS", true},
	PushI:            {"PushI", true},
	PushF:            {"PushF", true},
	PushS:            {"PushS", true},
	GetString:        {"GetString", false},
	Pop:              {"Pop", false},
	AddI:             {"AddI", false},
	AddF:             {"AddF", false},
	SubtractI:        {"SubtractI", false},
	SubtractF:        {"SubtractF", false},
	MultiplyI:        {"MultiplyI", false},
	MultiplyF:        {"MultiplyF", false},
	DivideI:          {"DivideI", false},
	DivideF:          {"DivideF", false},
	Modulo:           {"Modulo", false},
	NegateI:          {"NegateI", false},
	NegateF:          {"NegateF", false},
	IsEqualI:         {"IsEqualI", false},
	IsEqualF:         {"IsEqualF", false},
	NotEqualI:        {"NotEqualI", false},
	NotEqualF:        {"NotEqualF", false},
	IsGreaterI:       {"IsGreaterI", false},
	IsGreaterF:       {"IsGreaterF", false},
	IsLessI:          {"IsLessI", false},
	IsLessF:          {"IsLessF", false},
	IsGreaterEqualI:  {"IsGreaterEqualI", false},
	IsGreaterEqualF:  {"IsGreaterEqualF", false},
	IsLessEqualI:     {"IsLessEqualI", false},
	IsLessEqualF:     {"IsLessEqualF", false},
	IsEqualS:         {"IsEqualS", false},
	NotEqualS:        {"NotEqualS", false},
	IToF:             {"IToF", true},
	FToI:             {"FToI", true},
	And:              {"And", false},
	Or:               {"Or", false},
	Not:              {"Not", false},
	DebugBreakpoint:  {"DebugBreakpoint", false},
}

// Valid reports whether op is part of the instruction set.
func (op Op) Valid() bool {
	_, ok := table[op]
	return ok
}

// String returns the mnemonic of op.
func (op Op) String() string {
	if i, ok := table[op]; ok {
		return i.name
	}
	return fmt.Sprintf("Op(0x%02X)", byte(op))
}

// HasOperand reports whether op is followed by a 4-byte operand.
func (op Op) HasOperand() bool {
	return table[op].hasOperand
}

// Size returns the encoded size of an instruction with opcode op.
func (op Op) Size() int {
	if op.HasOperand() {
		return 1 + OperandSize
	}
	return 1
}

// IsBranch reports whether op takes an absolute code offset operand.
func (op Op) IsBranch() bool {
	return op == Branch || op == BranchGoto || op == BranchIfZero
}

// IsCall reports whether op is one of the host call variants.
func (op Op) IsCall() bool {
	return op >= CallSysFunctionV && op <= CallSysFunctionS
}

// Instruction is a decoded instruction at a code offset.
type Instruction struct {
	Offset  int
	Op      Op
	Operand uint32
}

// Next returns the offset of the instruction that follows.
func (i Instruction) Next() int {
	return i.Offset + i.Op.Size()
}

// Decode reads the instruction starting at offset pc.
func Decode(code []byte, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, fmt.Errorf("offset %d outside code (len %d)", pc, len(code))
	}
	op := Op(code[pc])
	if !op.Valid() {
		return Instruction{}, fmt.Errorf("invalid opcode 0x%02X at offset %d", byte(op), pc)
	}
	ins := Instruction{Offset: pc, Op: op}
	if op.HasOperand() {
		if pc+1+OperandSize > len(code) {
			return Instruction{}, fmt.Errorf("truncated operand for %s at offset %d", op, pc)
		}
		ins.Operand = uint32(code[pc+1]) | uint32(code[pc+2])<<8 | uint32(code[pc+3])<<16 | uint32(code[pc+4])<<24
	}
	return ins, nil
}
