// Package hostlib provides the built-in host functions scripts can call when
// no engine subsystem supplies its own.
package hostlib

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/logger"
	"github.com/kromenak/gengine-sub002/pkg/vm"
)

var (
	intParam    = []bytecode.Kind{bytecode.Int}
	floatParam  = []bytecode.Kind{bytecode.Float}
	stringParam = []bytecode.Kind{bytecode.String}
)

// Option is a functional option for configuring a Library.
type Option func(*Library)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Library) {
		l.log = log
	}
}

// WithSeed makes Rand deterministic.
func WithSeed(seed uint64) Option {
	return func(l *Library) {
		l.random = rand.New(rand.NewPCG(seed, seed))
	}
}

// Library holds the state behind the built-in functions: the output for the
// print functions, the random source and the frame clock used by Delay.
type Library struct {
	out    io.Writer
	random *rand.Rand
	log    *slog.Logger

	frame  int32
	delays []delay
}

type delay struct {
	until int32
	done  func()
}

// New creates a library that prints to out.
func New(out io.Writer, opts ...Option) *Library {
	now := uint64(time.Now().UnixNano())
	l := &Library{
		out:    out,
		random: rand.New(rand.NewPCG(now, now)),
		log:    logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register adds the built-in functions to r.
func (l *Library) Register(r *vm.Registry) error {
	funcs := []struct {
		name   string
		ret    bytecode.Kind
		params []bytecode.Kind
		fn     vm.NativeFunc
	}{
		{"PrintString", bytecode.Void, stringParam, l.print},
		{"PrintInt", bytecode.Void, intParam, l.print},
		{"PrintFloat", bytecode.Void, floatParam, l.print},
		{"IntToString", bytecode.String, intParam, intToString},
		{"StringConcat", bytecode.String, []bytecode.Kind{bytecode.String, bytecode.String}, stringConcat},
		{"StringLength", bytecode.Int, stringParam, stringLength},
		{"Rand", bytecode.Int, []bytecode.Kind{bytecode.Int, bytecode.Int}, l.rand},
		{"GetFrameCount", bytecode.Int, nil, l.frameCount},
		{"Delay", bytecode.Void, intParam, l.delay},
	}
	for _, f := range funcs {
		if err := r.Register(f.name, f.ret, f.params, f.fn); err != nil {
			return err
		}
	}
	return nil
}

// Tick advances the frame clock and completes the delays that are due. Call it
// once per frame on the goroutine that updates the engine.
func (l *Library) Tick() {
	l.frame++
	due := l.delays[:0]
	var fire []func()
	for _, d := range l.delays {
		if d.until <= l.frame {
			fire = append(fire, d.done)
			continue
		}
		due = append(due, d)
	}
	clear(l.delays[len(due):])
	l.delays = due
	for _, done := range fire {
		done()
	}
}

// Frame returns the number of ticks so far.
func (l *Library) Frame() int32 {
	return l.frame
}

// Pending returns the number of delays not yet completed.
func (l *Library) Pending() int {
	return len(l.delays)
}

func (l *Library) print(c *vm.Call) (vm.Value, error) {
	if _, err := fmt.Fprintln(l.out, c.Args[0].String()); err != nil {
		return vm.Void, err
	}
	return vm.Void, nil
}

func intToString(c *vm.Call) (vm.Value, error) {
	return vm.String(strconv.FormatInt(int64(c.Int(0)), 10)), nil
}

func stringConcat(c *vm.Call) (vm.Value, error) {
	return vm.String(c.String(0) + c.String(1)), nil
}

func stringLength(c *vm.Call) (vm.Value, error) {
	return vm.Int(int32(len(c.String(0)))), nil
}

// rand returns an int in [lo, hi].
func (l *Library) rand(c *vm.Call) (vm.Value, error) {
	lo, hi := c.Int(0), c.Int(1)
	if hi < lo {
		lo, hi = hi, lo
	}
	return vm.Int(lo + int32(l.random.Int64N(int64(hi)-int64(lo)+1))), nil
}

func (l *Library) frameCount(c *vm.Call) (vm.Value, error) {
	return vm.Int(l.frame), nil
}

// delay completes after the given number of frames.
func (l *Library) delay(c *vm.Call) (vm.Value, error) {
	done := c.Async()
	frames := c.Int(0)
	if frames <= 0 {
		done()
		return vm.Void, nil
	}
	l.delays = append(l.delays, delay{until: l.frame + frames, done: done})
	return vm.Void, nil
}

// RegisterStubs registers every declared signature the registry lacks with a
// native that only logs the call. Tools use it to compile and dry-run scripts
// written against engine functions that are not linked in.
func RegisterStubs(r *vm.Registry, decls []bytecode.Import, log *slog.Logger) error {
	if log == nil {
		log = logger.GetLogger()
	}
	return r.Bind(decls, func(c *vm.Call) (vm.Value, error) {
		log.Debug("stub host call", "function", c.Name(), "args", fmt.Sprint(c.Args))
		return vm.Void, nil
	})
}
