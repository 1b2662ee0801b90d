// Package engine multiplexes Sheep script threads under a frame loop.
//
// A Manager owns the host function registry, compiles or loads scripts against
// it, and runs any number of threads cooperatively: Execute starts a thread and
// runs it until its first suspension, and each Update resumes every runnable
// thread once, in creation order. Threads are tagged by their owner so whole
// groups can be stopped at once.
//
// A Manager is not safe for concurrent use. Host completions must be delivered
// on the goroutine that calls Update.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/compiler"
	"github.com/kromenak/gengine-sub002/pkg/compiler/builder"
	"github.com/kromenak/gengine-sub002/pkg/logger"
	"github.com/kromenak/gengine-sub002/pkg/vm"
)

// ErrSuspended is returned by Evaluate when the script tries to wait.
var ErrSuspended = errors.New("evaluation suspended")

// FinishFunc is called once when a thread finishes or fails. It is not called
// for threads that are stopped.
type FinishFunc func(id vm.ThreadID, state vm.State, err error)

// Cache stores compiled scripts keyed by name and source text. Only scripts
// that compiled without diagnostics are saved, so a hit is valid under any
// compiler options.
type Cache interface {
	Lookup(name, source string) (*bytecode.Script, error)
	Save(name, source string, s *bytecode.Script) error
}

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithCache enables the compiled-script cache.
func WithCache(c Cache) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithDuplicateGlobals sets how repeated global declarations are treated.
func WithDuplicateGlobals(p builder.DuplicatePolicy) Option {
	return func(m *Manager) {
		m.duplicates = p
	}
}

// WithWarningsAsErrors makes compile warnings fail compilation.
func WithWarningsAsErrors(enabled bool) Option {
	return func(m *Manager) {
		m.warningsAsErrors = enabled
	}
}

// WithMaxStack sets the stack depth limit of every thread.
func WithMaxStack(n int) Option {
	return func(m *Manager) {
		m.maxStack = n
	}
}

// WithInstructionLimit caps the instructions a thread may run per resume.
func WithInstructionLimit(n int) Option {
	return func(m *Manager) {
		m.instructionLimit = n
	}
}

// Manager is the execution manager.
type Manager struct {
	registry *vm.Registry
	cache    Cache
	log      *slog.Logger

	duplicates       builder.DuplicatePolicy
	warningsAsErrors bool
	maxStack         int
	instructionLimit int

	// threads holds live threads in creation order.
	threads []*entry
	byID    map[vm.ThreadID]*entry
	nextID  vm.ThreadID
	frame   uint64
}

type entry struct {
	thread     *vm.Thread
	onFinished FinishFunc
}

// NewManager creates a manager bound to registry. Every host function a script
// calls must be registered before the script is compiled.
func NewManager(registry *vm.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		log:      logger.GetLogger(),
		byID:     make(map[vm.ThreadID]*entry),
		maxStack: vm.DefaultMaxStack,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the host function registry.
func (m *Manager) Registry() *vm.Registry {
	return m.registry
}

// Frame returns the number of completed Update calls.
func (m *Manager) Frame() uint64 {
	return m.frame
}

func (m *Manager) compilerOptions() compiler.Options {
	return compiler.Options{
		Hosts:            m.registry,
		DuplicateGlobals: m.duplicates,
		WarningsAsErrors: m.warningsAsErrors,
		Logger:           m.log,
	}
}

// Compile compiles Sheep source. With a cache configured, unchanged sources
// that previously compiled cleanly are loaded from it instead.
func (m *Manager) Compile(name, source string) (*bytecode.Script, error) {
	if m.cache != nil {
		s, err := m.cache.Lookup(name, source)
		switch {
		case err != nil:
			m.log.Warn("script cache lookup failed", "script", name, "error", err)
		case s != nil:
			if _, err := m.registry.Resolve(s); err == nil {
				m.log.Debug("script cache hit", "script", name)
				return s, nil
			}
			m.log.Debug("cached script no longer matches host functions", "script", name)
		}
	}

	res, err := compiler.Compile(name, source, m.compilerOptions())
	if err != nil {
		return nil, err
	}
	if m.cache != nil && len(res.Warnings) == 0 {
		if err := m.cache.Save(name, source, res.Script); err != nil {
			m.log.Warn("script cache save failed", "script", name, "error", err)
		}
	}
	return res.Script, nil
}

// CompileEvaluate compiles a single condition expression for Evaluate.
func (m *Manager) CompileEvaluate(source string) (*bytecode.Script, error) {
	res, err := compiler.CompileEvaluate(source, m.compilerOptions())
	if err != nil {
		return nil, err
	}
	return res.Script, nil
}

// Load decodes a binary asset and checks its imports against the registry.
func (m *Manager) Load(name string, data []byte) (*bytecode.Script, error) {
	s, err := bytecode.Unmarshal(name, data)
	if err != nil {
		return nil, err
	}
	if _, err := m.registry.Resolve(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) newThread(s *bytecode.Script, entryName, tag string) (*vm.Thread, error) {
	natives, err := m.registry.Resolve(s)
	if err != nil {
		return nil, err
	}
	m.nextID++
	return vm.NewThread(m.nextID, s, natives, entryName,
		vm.WithLogger(m.log),
		vm.WithTag(tag),
		vm.WithMaxStack(m.maxStack),
		vm.WithInstructionLimit(m.instructionLimit),
	)
}

// Execute starts a thread at the named entry function (the first function when
// empty) and runs it until it suspends or ends. onFinished may be nil. If the
// thread ends right away, onFinished is called before Execute returns.
func (m *Manager) Execute(s *bytecode.Script, entryName, tag string, onFinished FinishFunc) (vm.ThreadID, error) {
	t, err := m.newThread(s, entryName, tag)
	if err != nil {
		return 0, fmt.Errorf("execute %s: %w", s.Name, err)
	}
	e := &entry{thread: t, onFinished: onFinished}
	m.threads = append(m.threads, e)
	m.byID[t.ID()] = e

	t.Run()
	m.reap()
	return t.ID(), nil
}

// Evaluate runs a script synchronously and reports whether it left a non-zero
// int on the stack. n and v are bound to the globals n$ and v$ when the script
// declares them.
func (m *Manager) Evaluate(s *bytecode.Script, n, v int32) (bool, error) {
	t, err := m.newThread(s, "", "")
	if err != nil {
		return false, fmt.Errorf("evaluate %s: %w", s.Name, err)
	}
	for name, val := range map[string]int32{"n$": n, "v$": v} {
		if _, ok := s.VariableIndex(name); ok {
			if err := t.SetVariable(name, vm.Int(val)); err != nil {
				return false, err
			}
		}
	}

	switch t.Run() {
	case vm.Finished:
	case vm.Errored:
		return false, t.Err()
	default:
		t.Stop()
		return false, fmt.Errorf("evaluate %s: %w", s.Name, ErrSuspended)
	}

	result, ok := t.Result()
	if !ok || result.Kind != bytecode.Int {
		return false, fmt.Errorf("evaluate %s: result is %#v, not int", s.Name, result)
	}
	return result.I != 0, nil
}

// Update runs one frame: every live thread that is not waiting resumes once,
// in creation order. Threads started during the frame already ran in Execute
// and are not resumed again.
func (m *Manager) Update() {
	m.frame++
	for _, e := range slices.Clone(m.threads) {
		if e.thread.State().Done() {
			continue
		}
		e.thread.Run()
	}
	m.reap()
}

// reap removes ended threads and fires their callbacks.
func (m *Manager) reap() {
	var ended []*entry
	live := m.threads[:0]
	for _, e := range m.threads {
		if e.thread.State().Done() {
			ended = append(ended, e)
			delete(m.byID, e.thread.ID())
			continue
		}
		live = append(live, e)
	}
	clear(m.threads[len(live):])
	m.threads = live

	for _, e := range ended {
		t := e.thread
		if t.State() == vm.Errored {
			m.log.Warn("thread ended with error", "thread", uint64(t.ID()), "script", t.Script().Name, "error", t.Err())
		}
		if e.onFinished != nil && t.State() != vm.Stopped {
			e.onFinished(t.ID(), t.State(), t.Err())
		}
	}
}

// StopThread stops one thread. Its callback is not called.
func (m *Manager) StopThread(id vm.ThreadID) bool {
	e, ok := m.byID[id]
	if !ok {
		return false
	}
	e.thread.Stop()
	m.reap()
	return true
}

// StopThreadsByTag stops every thread carrying tag and returns how many were
// stopped.
func (m *Manager) StopThreadsByTag(tag string) int {
	n := 0
	for _, e := range m.threads {
		if e.thread.Tag() == tag && !e.thread.State().Done() {
			e.thread.Stop()
			n++
		}
	}
	if n > 0 {
		m.log.Debug("stopped threads", "tag", tag, "count", n)
		m.reap()
	}
	return n
}

// IsThreadRunning reports whether the thread is still live, waiting or not.
func (m *Manager) IsThreadRunning(id vm.ThreadID) bool {
	e, ok := m.byID[id]
	return ok && !e.thread.State().Done()
}

// IsAnyThreadRunning reports whether any thread is live.
func (m *Manager) IsAnyThreadRunning() bool {
	for _, e := range m.threads {
		if !e.thread.State().Done() {
			return true
		}
	}
	return false
}

// Threads returns a snapshot of the live threads in creation order.
func (m *Manager) Threads() []*vm.Thread {
	out := make([]*vm.Thread, 0, len(m.threads))
	for _, e := range m.threads {
		out = append(out, e.thread)
	}
	return out
}
