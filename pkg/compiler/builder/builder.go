// Package builder implements the Sheep Script Builder.
//
// The parser drives a Builder directly as it recognises each construct; there is no
// intermediate syntax tree. The Builder owns the compile-time symbol tables (globals,
// string pool, functions, host imports) and the bytecode buffer, performs all
// control-flow patch-up and emits the numeric coercions implied by the static types
// of expression operands.
package builder

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/opcode"
)

// placeholder is written into branch operands until they are patched.
const placeholder uint32 = 0xFFFFFFFF

// Signatures resolves host function names to their import descriptors.
// vm.Registry satisfies it.
type Signatures interface {
	Lookup(name string) (bytecode.Import, bool)
}

// DuplicatePolicy controls how a re-declared global variable is handled.
type DuplicatePolicy int

const (
	// DuplicateError reports a re-declared global as an error.
	DuplicateError DuplicatePolicy = iota
	// DuplicateIgnore keeps the first declaration and reports a warning.
	DuplicateIgnore
)

// ParseDuplicatePolicy parses the configuration spelling of a policy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch bytecode.FoldName(s) {
	case "", "error":
		return DuplicateError, nil
	case "ignore":
		return DuplicateIgnore, nil
	}
	return DuplicateError, fmt.Errorf("unknown duplicate globals policy %q", s)
}

// Option configures a Builder.
type Option func(*Builder)

// WithDuplicateGlobals sets the re-declaration policy for globals.
func WithDuplicateGlobals(p DuplicatePolicy) Option {
	return func(b *Builder) {
		b.duplicates = p
	}
}

// Constant is a literal default value for a global declaration.
type Constant struct {
	Kind   bytecode.Kind
	Int    int32
	Float  float32
	String string
}

// Builder accumulates one script.
type Builder struct {
	name       string
	sigs       Signatures
	duplicates DuplicatePolicy

	strings   *bytecode.StringPool
	variables []bytecode.Variable
	varIndex  map[string]int
	functions []bytecode.Function
	funcIndex map[string]int
	imports   []bytecode.Import
	impIndex  map[string]int
	code      []byte

	// pending holds operand offsets still carrying the placeholder.
	pending map[int]struct{}

	fn     *function
	ifs    []*ifRecord
	waits  int
	lastOp int // offset of the most recent instruction, -1 when none in this function
	target int // most recent offset some branch or label resolved to
	line   int
	column int
	diags  Diagnostics
}

// function tracks per-function state between BeginFunction and EndFunction.
type function struct {
	name   string
	labels map[string]int
	gotos  map[string][]gotoRef
}

type gotoRef struct {
	operand int
	label   string
	line    int
	column  int
}

// New creates a Builder for the script called name. sigs may be nil when the
// script calls no host functions.
func New(name string, sigs Signatures, opts ...Option) *Builder {
	b := &Builder{
		name:      name,
		sigs:      sigs,
		strings:   bytecode.NewStringPool(),
		varIndex:  make(map[string]int),
		funcIndex: make(map[string]int),
		impIndex:  make(map[string]int),
		pending:   make(map[int]struct{}),
		lastOp:    -1,
		target:    -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetPosition sets the source location attached to subsequent diagnostics.
func (b *Builder) SetPosition(line, column int) {
	b.line = line
	b.column = column
}

// Diagnostics returns every error and warning recorded so far.
func (b *Builder) Diagnostics() Diagnostics {
	return b.diags
}

// Errorf records a semantic error at the current position. The parser uses it
// for problems it detects itself, such as a wait in evaluate mode.
func (b *Builder) Errorf(format string, args ...any) {
	b.errorf(format, args...)
}

func (b *Builder) errorf(format string, args ...any) {
	b.report(SeverityError, CategorySemantic, format, args...)
}

func (b *Builder) warnf(format string, args ...any) {
	b.report(SeverityWarning, CategorySemantic, format, args...)
}

func (b *Builder) report(sev Severity, cat Category, format string, args ...any) {
	fn := ""
	if b.fn != nil {
		fn = b.fn.name
	}
	b.diags = append(b.diags, Diagnostic{
		Severity: sev,
		Category: cat,
		Function: fn,
		Line:     b.line,
		Column:   b.column,
		Message:  fmt.Sprintf(format, args...),
	})
}

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// DeclareVariable declares a global and returns its index. def may be nil, in
// which case the variable starts at the zero value of its kind.
func (b *Builder) DeclareVariable(name string, kind bytecode.Kind, def *Constant) int {
	key := bytecode.FoldName(name)
	if idx, ok := b.varIndex[key]; ok {
		if b.duplicates == DuplicateIgnore {
			b.warnf("variable %q already declared; keeping the first declaration", name)
			return idx
		}
		b.errorf("variable %q already declared", name)
		return idx
	}

	v := bytecode.Variable{Name: name, Kind: kind}
	switch {
	case kind == bytecode.Void:
		b.errorf("variable %q cannot be void", name)
	case def != nil:
		b.applyDefault(&v, def)
	case kind == bytecode.String:
		v.String = b.strings.Intern("")
	}

	idx := len(b.variables)
	b.variables = append(b.variables, v)
	b.varIndex[key] = idx
	return idx
}

func (b *Builder) applyDefault(v *bytecode.Variable, def *Constant) {
	switch {
	case v.Kind == def.Kind:
		v.Int, v.Float = def.Int, def.Float
		if v.Kind == bytecode.String {
			v.String = b.strings.Intern(def.String)
		}
	case v.Kind == bytecode.Int && def.Kind == bytecode.Float:
		b.warnf("precision loss: float initializer of %q truncated to int", v.Name)
		v.Int = int32(def.Float)
	case v.Kind == bytecode.Float && def.Kind == bytecode.Int:
		v.Float = float32(def.Int)
	default:
		b.errorf("cannot initialize %s variable %q with %s", v.Kind, v.Name, def.Kind)
	}
}

// BeginFunction starts a function body at the current code offset.
func (b *Builder) BeginFunction(name string) {
	if b.fn != nil {
		b.errorf("function %q started inside %q", name, b.fn.name)
		b.EndFunction()
	}
	b.fn = &function{
		name:   name,
		labels: make(map[string]int),
		gotos:  make(map[string][]gotoRef),
	}
	key := bytecode.FoldName(name)
	if _, ok := b.funcIndex[key]; ok {
		b.errorf("function %q already defined", name)
	} else {
		b.funcIndex[key] = len(b.functions)
		b.functions = append(b.functions, bytecode.Function{Name: name, Offset: uint32(len(b.code))})
	}
	b.ifs = b.ifs[:0]
	b.waits = 0
	b.lastOp = -1
}

// EndFunction resolves the function's gotos, synthesizes a return when the body
// does not already end in one, and appends the fixed trailer.
func (b *Builder) EndFunction() {
	if b.fn == nil {
		return
	}
	for _, refs := range b.fn.gotos {
		for _, ref := range refs {
			b.diags = append(b.diags, Diagnostic{
				Severity: SeverityError,
				Category: CategorySemantic,
				Function: b.fn.name,
				Line:     ref.line,
				Column:   ref.column,
				Message:  fmt.Sprintf("undefined label %q in function %q", ref.label, b.fn.name),
			})
			delete(b.pending, ref.operand)
		}
	}
	if len(b.ifs) > 0 {
		b.errorf("unterminated if in function %q", b.fn.name)
		b.ifs = b.ifs[:0]
	}
	if b.waits > 0 {
		b.errorf("unterminated wait in function %q", b.fn.name)
		b.waits = 0
	}

	if !b.endsInReturn() {
		b.emit(opcode.ReturnV)
	}
	b.emit(opcode.SitnSpin)
	b.fn = nil
}

// endsInReturn reports whether the last instruction is ReturnV and no branch
// or label lands after it.
func (b *Builder) endsInReturn() bool {
	if b.lastOp < 0 || opcode.Op(b.code[b.lastOp]) != opcode.ReturnV {
		return false
	}
	return b.target != len(b.code)
}

// Build finalizes the script. It fails when any error diagnostic was recorded
// or a branch placeholder was left unpatched.
func (b *Builder) Build() (*bytecode.Script, error) {
	if b.fn != nil {
		b.errorf("function %q not closed", b.fn.name)
		b.EndFunction()
	}
	if len(b.pending) > 0 && !b.diags.HasErrors() {
		for off := range b.pending {
			b.report(SeverityError, CategoryInternal, "unpatched branch operand at offset %04X", off)
		}
	}
	if b.diags.HasErrors() {
		errs := b.diags.Errors()
		return nil, fmt.Errorf("script %q: %d error(s), first: %w", b.name, len(errs), errs[0])
	}

	code := make([]byte, len(b.code))
	copy(code, b.code)
	return bytecode.New(b.name, b.imports, b.strings, b.variables, b.functions, code), nil
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

// Offset returns the current code length.
func (b *Builder) Offset() int {
	return len(b.code)
}

func (b *Builder) emit(op opcode.Op) int {
	at := len(b.code)
	b.code = append(b.code, byte(op))
	b.lastOp = at
	return at
}

func (b *Builder) emitOperand(op opcode.Op, operand uint32) int {
	at := b.emit(op)
	b.code = binary.LittleEndian.AppendUint32(b.code, operand)
	return at
}

// emitBranch writes a branch with a placeholder target and returns the operand offset.
func (b *Builder) emitBranch(op opcode.Op) int {
	at := b.emitOperand(op, placeholder)
	b.pending[at+1] = struct{}{}
	return at + 1
}

// patch resolves a placeholder operand to target.
func (b *Builder) patch(operand, target int) {
	binary.LittleEndian.PutUint32(b.code[operand:], uint32(target))
	delete(b.pending, operand)
	b.target = target
}

// PushInt emits an int literal.
func (b *Builder) PushInt(v int32) bytecode.Kind {
	b.emitOperand(opcode.PushI, uint32(v))
	return bytecode.Int
}

// PushFloat emits a float literal.
func (b *Builder) PushFloat(v float32) bytecode.Kind {
	b.emitOperand(opcode.PushF, math.Float32bits(v))
	return bytecode.Float
}

// PushString interns s and emits a push of its pool offset.
func (b *Builder) PushString(s string) bytecode.Kind {
	b.emitOperand(opcode.PushS, b.strings.Intern(s))
	return bytecode.String
}

// Load emits a load of the named global.
func (b *Builder) Load(name string) bytecode.Kind {
	idx, ok := b.varIndex[bytecode.FoldName(name)]
	if !ok {
		b.errorf("unknown identifier %q", name)
		return bytecode.Int
	}
	v := b.variables[idx]
	switch v.Kind {
	case bytecode.Float:
		b.emitOperand(opcode.LoadF, uint32(idx))
	case bytecode.String:
		b.emitOperand(opcode.LoadS, uint32(idx))
	default:
		b.emitOperand(opcode.LoadI, uint32(idx))
	}
	return v.Kind
}

// Store pops the value on top of the stack into the named global, converting
// between int and float as needed.
func (b *Builder) Store(name string, value bytecode.Kind) {
	idx, ok := b.varIndex[bytecode.FoldName(name)]
	if !ok {
		b.errorf("unknown identifier %q", name)
		return
	}
	v := b.variables[idx]
	if value == bytecode.Void {
		b.errorf("void function result assigned to %q", name)
		return
	}

	switch v.Kind {
	case bytecode.Int:
		switch value {
		case bytecode.Float:
			b.warnf("precision loss: float assigned to int variable %q", name)
			b.emitOperand(opcode.FToI, 0)
		case bytecode.String:
			b.errorf("cannot assign string to int variable %q", name)
			return
		}
		b.emitOperand(opcode.StoreI, uint32(idx))
	case bytecode.Float:
		switch value {
		case bytecode.Int:
			b.emitOperand(opcode.IToF, 0)
		case bytecode.String:
			b.errorf("cannot assign string to float variable %q", name)
			return
		}
		b.emitOperand(opcode.StoreF, uint32(idx))
	case bytecode.String:
		if value != bytecode.String {
			b.errorf("cannot assign %s to string variable %q", value, name)
			return
		}
		b.emitOperand(opcode.StoreS, uint32(idx))
	}
}

// ExprStatement discards the value of an expression evaluated for its effect.
func (b *Builder) ExprStatement(bytecode.Kind) {
	b.emit(opcode.Pop)
}

// Return emits a function return.
func (b *Builder) Return() {
	b.emit(opcode.ReturnV)
}

// Breakpoint emits a debugger breakpoint.
func (b *Builder) Breakpoint() {
	b.emit(opcode.DebugBreakpoint)
}

// SitnSpin emits a no-op marker.
func (b *Builder) SitnSpin() {
	b.emit(opcode.SitnSpin)
}

// EvaluateResult checks the kind of an evaluate-mode expression, which is left on
// the stack as the result.
func (b *Builder) EvaluateResult(kind bytecode.Kind) {
	if kind != bytecode.Int {
		b.errorf("evaluate expression must be int, got %s", kind)
	}
}
