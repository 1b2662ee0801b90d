// Package vm implements the Sheep virtual machine.
//
// Each execution of a compiled script is a Thread: a resumable state object
// holding a program counter, a private stack and a private copy of the script's
// globals. Threads never run on their own goroutine; a scheduler calls Run,
// which executes instructions until the thread finishes, fails, or suspends at
// the end of a wait region with host work still pending.
package vm

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/logger"
)

// DefaultMaxStack is the stack depth limit used when none is configured.
const DefaultMaxStack = 1024

// State is the lifecycle state of a thread.
type State int

const (
	Running State = iota
	Waiting
	Finished
	Stopped
	Errored
)

var stateNames = [...]string{"running", "waiting", "finished", "stopped", "errored"}

// String returns the lower-case state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Done reports whether the thread can no longer run.
func (s State) Done() bool {
	return s == Finished || s == Stopped || s == Errored
}

// ThreadID identifies a thread within its scheduler.
type ThreadID uint64

// Option is a functional option for configuring a Thread.
type Option func(*Thread)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *Thread) {
		t.log = log
	}
}

// WithTag sets the owner tag used to stop groups of threads.
func WithTag(tag string) Option {
	return func(t *Thread) {
		t.tag = tag
	}
}

// WithMaxStack sets the stack depth limit.
func WithMaxStack(n int) Option {
	return func(t *Thread) {
		if n > 0 {
			t.maxStack = n
		}
	}
}

// WithInstructionLimit caps the instructions one Run call may execute; zero
// means no cap. It guards the frame loop against scripts that loop without
// waiting.
func WithInstructionLimit(n int) Option {
	return func(t *Thread) {
		t.instructionLimit = n
	}
}

// Thread is one execution of a compiled script.
type Thread struct {
	id      ThreadID
	trace   uuid.UUID
	tag     string
	script  *bytecode.Script
	natives []*HostFunc
	entry   string

	pc    int
	stack []Value
	vars  []Value
	state State
	err   error

	// waitDepth counts open wait regions; pending counts host completions the
	// current region still waits for.
	waitDepth int
	pending   int
	// epoch invalidates completion funcs handed out before a stop.
	epoch uint64

	maxStack         int
	instructionLimit int
	log              *slog.Logger
}

// NewThread prepares a thread that starts at the entry function (the first
// function when entry is empty). natives must come from Registry.Resolve for the
// same script.
func NewThread(id ThreadID, s *bytecode.Script, natives []*HostFunc, entry string, opts ...Option) (*Thread, error) {
	if len(natives) != len(s.Imports) {
		return nil, fmt.Errorf("script %q: %d natives for %d imports", s.Name, len(natives), len(s.Imports))
	}
	offset, err := s.EntryOffset(entry)
	if err != nil {
		return nil, err
	}

	trace, err := uuid.NewV7()
	if err != nil {
		trace = uuid.New()
	}

	t := &Thread{
		id:       id,
		trace:    trace,
		script:   s,
		natives:  natives,
		entry:    entry,
		pc:       int(offset),
		stack:    make([]Value, 0, 16),
		vars:     make([]Value, len(s.Variables)),
		state:    Running,
		maxStack: DefaultMaxStack,
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if f, ok := s.FunctionAt(t.pc); ok {
		t.entry = f.Name
	}

	for i, v := range s.Variables {
		switch v.Kind {
		case bytecode.Int:
			t.vars[i] = Int(v.Int)
		case bytecode.Float:
			t.vars[i] = Float(v.Float)
		case bytecode.String:
			str, _ := s.String(v.String)
			t.vars[i] = String(str)
		}
	}

	t.log = t.log.With("thread", uint64(id), "trace", trace.String(), "script", s.Name)
	t.log.Debug("thread created", "entry", t.entry, "tag", t.tag, "pc", t.pc)
	return t, nil
}

// ID returns the thread's identifier.
func (t *Thread) ID() ThreadID { return t.id }

// Trace returns the thread's log correlation token.
func (t *Thread) Trace() uuid.UUID { return t.trace }

// Tag returns the owner tag.
func (t *Thread) Tag() string { return t.tag }

// Script returns the script the thread executes.
func (t *Thread) Script() *bytecode.Script { return t.script }

// Entry returns the name of the function the thread started in.
func (t *Thread) Entry() string { return t.entry }

// State returns the current lifecycle state.
func (t *Thread) State() State { return t.state }

// PC returns the program counter.
func (t *Thread) PC() int { return t.pc }

// Err returns the runtime error that ended the thread, if any.
func (t *Thread) Err() error { return t.err }

// Pending returns the number of host completions the thread waits for.
func (t *Thread) Pending() int { return t.pending }

// Result returns the value on top of the stack once the thread has finished.
// Evaluate mode reads its boolean this way.
func (t *Thread) Result() (Value, bool) {
	if t.state != Finished || len(t.stack) == 0 {
		return Value{}, false
	}
	return t.stack[len(t.stack)-1], true
}

// Variable returns the thread's current value of a global.
func (t *Thread) Variable(name string) (Value, bool) {
	i, ok := t.script.VariableIndex(name)
	if !ok || i >= len(t.vars) {
		return Value{}, false
	}
	return t.vars[i], true
}

// SetVariable overwrites a global in this thread only. The value must have the
// variable's kind.
func (t *Thread) SetVariable(name string, v Value) error {
	i, ok := t.script.VariableIndex(name)
	if !ok || i >= len(t.vars) {
		return fmt.Errorf("script %q has no variable %q", t.script.Name, name)
	}
	if want := t.script.Variables[i].Kind; want != v.Kind {
		return fmt.Errorf("variable %q is %s, not %s", name, want, v.Kind)
	}
	t.vars[i] = v
	return nil
}

// Stop ends the thread immediately, even mid-wait. Its stack and variables are
// released and completions handed out earlier become no-ops.
func (t *Thread) Stop() {
	if t.state.Done() {
		return
	}
	t.state = Stopped
	t.epoch++
	t.pending = 0
	t.stack = nil
	t.vars = nil
	t.log.Debug("thread stopped", "pc", t.pc)
}

// fail ends the thread with a runtime error.
func (t *Thread) fail(err *RuntimeError) {
	err.Script = t.script.Name
	if f, ok := t.script.FunctionAt(err.PC); ok && err.PC >= 0 {
		err.Function = f.Name
		err.PC -= int(f.Offset)
	}
	t.err = err
	t.state = Errored
	t.epoch++
	t.pending = 0
	t.log.Error("thread error", "type", string(err.Type), "error", err.Error())
}

// warn logs a tolerated runtime problem.
func (t *Thread) warn(errType ErrorType, pc int, format string, args ...any) {
	err := NewRuntimeError(errType, fmt.Sprintf(format, args...))
	err.PC = pc
	err.Script = t.script.Name
	t.log.Warn("runtime warning", "type", string(errType), "error", err.Error())
}

// Call is the context handed to a native host function.
type Call struct {
	// Args holds the arguments in declaration order.
	Args []Value

	thread *Thread
	name   string
}

// Thread returns the calling thread.
func (c *Call) Thread() *Thread { return c.thread }

// Name returns the name of the host function being called.
func (c *Call) Name() string { return c.name }

// Int returns argument i as an int.
func (c *Call) Int(i int) int32 { return c.Args[i].I }

// Float returns argument i as a float.
func (c *Call) Float(i int) float32 { return c.Args[i].F }

// String returns argument i as a string.
func (c *Call) String(i int) string { return c.Args[i].S }

// Async marks the call as completing later. Inside a wait region the thread
// will suspend at the region's end until the returned func has been called;
// outside one the call is fire-and-forget. The func may be called more than
// once and after the thread has stopped; only the first call while the thread
// is alive counts. It must be called on the scheduler's goroutine.
func (c *Call) Async() func() {
	t := c.thread
	if t.waitDepth == 0 {
		return func() {}
	}
	t.pending++
	epoch := t.epoch
	done := false
	return func() {
		if done || t.epoch != epoch || t.state.Done() {
			return
		}
		done = true
		t.pending--
		if t.pending == 0 && t.state == Waiting {
			t.state = Running
			t.log.Debug("thread resumed", "pc", t.pc)
		}
	}
}
