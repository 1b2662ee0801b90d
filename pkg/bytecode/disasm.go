package bytecode

import (
	"fmt"
	"math"
	"strings"

	"github.com/kromenak/gengine-sub002/pkg/opcode"
)

// Disassemble renders a human-readable listing of the script tables and bytecode.
func Disassemble(s *Script) string {
	var b strings.Builder

	fmt.Fprintf(&b, "script: %s\n", s.Name)

	b.WriteString("imports:\n")
	for i, imp := range s.Imports {
		fmt.Fprintf(&b, "  %d: %s\n", i, imp.Signature())
	}

	b.WriteString("strings:\n")
	for _, e := range s.Strings.Entries() {
		fmt.Fprintf(&b, "  %d: %q\n", e.Offset, e.Value)
	}

	b.WriteString("variables:\n")
	for i, v := range s.Variables {
		fmt.Fprintf(&b, "  %d: %s %s = %s\n", i, v.Kind, v.Name, s.formatDefault(v))
	}

	b.WriteString("functions:\n")
	for i, f := range s.Functions {
		fmt.Fprintf(&b, "  %d: %s @ %04X\n", i, f.Name, f.Offset)
	}

	b.WriteString("code:\n")
	funcs := s.sortedFunctions()
	next := 0
	for pc := 0; pc < len(s.Code); {
		for next < len(funcs) && int(funcs[next].Offset) <= pc {
			fmt.Fprintf(&b, "%s:\n", funcs[next].Name)
			next++
		}
		ins, err := opcode.Decode(s.Code, pc)
		if err != nil {
			fmt.Fprintf(&b, "  %04X  ?? %v\n", pc, err)
			break
		}
		fmt.Fprintf(&b, "  %04X  %s\n", pc, s.formatInstruction(ins))
		pc = ins.Next()
	}
	return b.String()
}

func (s *Script) formatDefault(v Variable) string {
	switch v.Kind {
	case Int:
		return fmt.Sprintf("%d", v.Int)
	case Float:
		return fmt.Sprintf("%g", v.Float)
	case String:
		str, _ := s.String(v.String)
		return fmt.Sprintf("%q", str)
	}
	return "void"
}

func (s *Script) formatInstruction(ins opcode.Instruction) string {
	op := ins.Op
	if !op.HasOperand() {
		return op.String()
	}
	switch {
	case op == opcode.PushI:
		return fmt.Sprintf("%s %d", op, int32(ins.Operand))
	case op == opcode.PushF:
		return fmt.Sprintf("%s %g", op, math.Float32frombits(ins.Operand))
	case op == opcode.PushS:
		str, _ := s.String(ins.Operand)
		return fmt.Sprintf("%s %d ; %q", op, ins.Operand, str)
	case op.IsCall():
		if int(ins.Operand) < len(s.Imports) {
			return fmt.Sprintf("%s %d ; %s", op, ins.Operand, s.Imports[ins.Operand].Signature())
		}
	case op.IsBranch():
		return fmt.Sprintf("%s %04X", op, ins.Operand)
	case op >= opcode.StoreI && op <= opcode.LoadS:
		if int(ins.Operand) < len(s.Variables) {
			return fmt.Sprintf("%s %d ; %s", op, ins.Operand, s.Variables[ins.Operand].Name)
		}
	}
	return fmt.Sprintf("%s %d", op, ins.Operand)
}
