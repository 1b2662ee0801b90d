package builder

import (
	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/opcode"
)

// ifRecord is an open if/else-if/else chain.
type ifRecord struct {
	cond  int   // operand of the pending conditional branch, -1 when none
	exits []int // operands of end-of-arm branches, patched when the chain closes
}

// BeginIf opens an if chain. The first condition follows.
func (b *Builder) BeginIf() {
	b.ifs = append(b.ifs, &ifRecord{cond: -1})
}

// Condition emits the conditional branch for the arm whose condition value (of
// kind k) is on top of the stack.
func (b *Builder) Condition(k bytecode.Kind) {
	rec := b.currentIf()
	if rec == nil {
		return
	}
	switch k {
	case bytecode.Float:
		b.emitOperand(opcode.FToI, 0)
	case bytecode.String, bytecode.Void:
		b.errorf("condition must be numeric, got %s", k)
	}
	rec.cond = b.emitBranch(opcode.BranchIfZero)
}

// Else closes the current arm: it emits the jump to the end of the chain and
// points the pending conditional branch at the next arm. An else-if follows it
// with another Condition.
func (b *Builder) Else() {
	rec := b.currentIf()
	if rec == nil {
		return
	}
	rec.exits = append(rec.exits, b.emitBranch(opcode.Branch))
	if rec.cond >= 0 {
		b.patch(rec.cond, len(b.code))
		rec.cond = -1
	}
}

// EndIf closes the chain and patches all of its branches to the current offset.
func (b *Builder) EndIf() {
	rec := b.currentIf()
	if rec == nil {
		return
	}
	end := len(b.code)
	if rec.cond >= 0 {
		b.patch(rec.cond, end)
	}
	for _, exit := range rec.exits {
		b.patch(exit, end)
	}
	b.ifs = b.ifs[:len(b.ifs)-1]
}

func (b *Builder) currentIf() *ifRecord {
	if len(b.ifs) == 0 {
		b.errorf("else or condition without if")
		return nil
	}
	return b.ifs[len(b.ifs)-1]
}

// Goto emits a jump to a label in the current function. Forward references are
// patched when the label is declared.
func (b *Builder) Goto(label string) {
	if b.fn == nil {
		b.errorf("goto %q outside a function", label)
		return
	}
	key := bytecode.FoldName(label)
	if off, ok := b.fn.labels[key]; ok {
		b.emitOperand(opcode.BranchGoto, uint32(off))
		return
	}
	operand := b.emitBranch(opcode.BranchGoto)
	b.fn.gotos[key] = append(b.fn.gotos[key], gotoRef{
		operand: operand,
		label:   label,
		line:    b.line,
		column:  b.column,
	})
}

// Label declares a label at the current offset and resolves pending gotos to it.
func (b *Builder) Label(label string) {
	if b.fn == nil {
		b.errorf("label %q outside a function", label)
		return
	}
	key := bytecode.FoldName(label)
	if _, ok := b.fn.labels[key]; ok {
		b.errorf("label %q already declared in function %q", label, b.fn.name)
		return
	}
	here := len(b.code)
	b.fn.labels[key] = here
	for _, ref := range b.fn.gotos[key] {
		b.patch(ref.operand, here)
	}
	delete(b.fn.gotos, key)
	b.target = here
}

// BeginWait opens a wait region.
func (b *Builder) BeginWait() {
	b.waits++
	b.emit(opcode.BeginWait)
}

// EndWait closes the innermost wait region.
func (b *Builder) EndWait() {
	if b.waits == 0 {
		b.errorf("end of wait without a matching begin")
		return
	}
	b.waits--
	b.emit(opcode.EndWait)
}
