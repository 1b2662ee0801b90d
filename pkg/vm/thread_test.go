package vm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/compiler"
	"github.com/kromenak/gengine-sub002/pkg/opcode"
)

// host records what scripts did through the registry.
type host struct {
	reg     *Registry
	printed []string
	pending []func()
}

func newHost(t *testing.T) *host {
	t.Helper()
	h := &host{reg: NewRegistry()}
	h.reg.MustRegister("PrintString", bytecode.Void, []bytecode.Kind{bytecode.String}, func(c *Call) (Value, error) {
		h.printed = append(h.printed, c.String(0))
		return Void, nil
	})
	h.reg.MustRegister("PrintInt", bytecode.Void, []bytecode.Kind{bytecode.Int}, func(c *Call) (Value, error) {
		h.printed = append(h.printed, fmt.Sprint(c.Int(0)))
		return Void, nil
	})
	h.reg.MustRegister("Hold", bytecode.Void, nil, func(c *Call) (Value, error) {
		h.pending = append(h.pending, c.Async())
		return Void, nil
	})
	h.reg.MustRegister("Twice", bytecode.Int, []bytecode.Kind{bytecode.Int}, func(c *Call) (Value, error) {
		return Int(c.Int(0) * 2), nil
	})
	h.reg.MustRegister("Nothing", bytecode.Float, nil, func(c *Call) (Value, error) {
		return Void, nil
	})
	h.reg.MustRegister("Broken", bytecode.Void, nil, func(c *Call) (Value, error) {
		return Void, errors.New("device unplugged")
	})
	return h
}

func (h *host) compile(t *testing.T, src string) *bytecode.Script {
	t.Helper()
	res, err := compiler.Compile("test", src, compiler.Options{Hosts: h.reg})
	require.NoError(t, err)
	return res.Script
}

func (h *host) thread(t *testing.T, s *bytecode.Script, entry string, opts ...Option) *Thread {
	t.Helper()
	natives, err := h.reg.Resolve(s)
	require.NoError(t, err)
	th, err := NewThread(1, s, natives, entry, opts...)
	require.NoError(t, err)
	return th
}

func (h *host) run(t *testing.T, src string) *Thread {
	t.Helper()
	th := h.thread(t, h.compile(t, src), "")
	th.Run()
	return th
}

func TestArithmeticAndVariables(t *testing.T) {
	h := newHost(t)
	th := h.run(t, `
symbols { int i = 7; float f = 3; int m; string s = "a"; }
code {
	Main$() {
		i = i * 2 + Twice(3) - 1;
		f = f / 2;
		m = 17 % 5;
		i = i + f;
		s = "b";
	}
}`)
	require.Equal(t, Finished, th.State())
	require.NoError(t, th.Err())

	i, _ := th.Variable("i")
	assert.Equal(t, Int(20), i, "7*2+6-1 = 19, plus 1.5 truncated")
	f, _ := th.Variable("F")
	assert.Equal(t, Float(1.5), f)
	m, _ := th.Variable("m")
	assert.Equal(t, Int(2), m)
	s, _ := th.Variable("s")
	assert.Equal(t, String("b"), s)
}

func TestGlobalsArePerThread(t *testing.T) {
	h := newHost(t)
	s := h.compile(t, `symbols { int n = 1; } code { Main$() { n = n + 1; } }`)

	a := h.thread(t, s, "")
	b := h.thread(t, s, "")
	a.Run()
	b.Run()

	va, _ := a.Variable("n")
	vb, _ := b.Variable("n")
	assert.Equal(t, Int(2), va)
	assert.Equal(t, Int(2), vb)
	assert.Equal(t, int32(1), s.Variables[0].Int, "the script's default is untouched")
}

func TestIfElseChainRunsOneArm(t *testing.T) {
	h := newHost(t)
	s := h.compile(t, `
symbols { int a; int b; }
code {
	Main$() {
		if (a && b) { PrintString("both"); }
		else if (a) { PrintString("a"); }
		else if (b) { PrintString("b"); }
		else { PrintString("none"); }
	}
}`)

	want := map[[2]int32]string{{1, 1}: "both", {1, 0}: "a", {0, 1}: "b", {0, 0}: "none"}
	for in, arm := range want {
		t.Run(arm, func(t *testing.T) {
			h.printed = nil
			th := h.thread(t, s, "")
			require.NoError(t, th.SetVariable("a", Int(in[0])))
			require.NoError(t, th.SetVariable("b", Int(in[1])))
			require.Equal(t, Finished, th.Run())
			assert.Equal(t, []string{arm}, h.printed)
		})
	}
}

func TestGotoLoop(t *testing.T) {
	h := newHost(t)
	th := h.run(t, `
symbols { int n; }
code {
	Main$() {
	top:
		n = n + 1;
		if (n < 5) { goto top; }
		PrintInt(n);
	}
}`)
	assert.Equal(t, Finished, th.State())
	assert.Equal(t, []string{"5"}, h.printed)
}

func TestEntryPoints(t *testing.T) {
	h := newHost(t)
	s := h.compile(t, `code { A$() { PrintString("a"); } B$() { PrintString("b"); } }`)

	th := h.thread(t, s, "b$")
	assert.Equal(t, "B$", th.Entry())
	th.Run()
	assert.Equal(t, []string{"b"}, h.printed, "running one function does not fall into the next")

	natives, err := h.reg.Resolve(s)
	require.NoError(t, err)
	_, err = NewThread(2, s, natives, "Missing$")
	assert.Error(t, err)
}

func TestWaitSuspendsUntilCompletion(t *testing.T) {
	h := newHost(t)
	th := h.thread(t, h.compile(t, `
code {
	Main$() {
		PrintString("before");
		wait { Hold(); Hold(); }
		PrintString("after");
	}
}`), "")

	require.Equal(t, Waiting, th.Run())
	assert.Equal(t, []string{"before"}, h.printed)
	assert.Equal(t, 2, th.Pending())

	assert.Equal(t, Waiting, th.Run(), "running a waiting thread does nothing")
	h.pending[0]()
	h.pending[0]()
	assert.Equal(t, Waiting, th.State(), "a completion counts once")

	h.pending[1]()
	assert.Equal(t, Running, th.State())
	require.Equal(t, Finished, th.Run())
	assert.Equal(t, []string{"before", "after"}, h.printed)
}

func TestAsyncOutsideWaitIsFireAndForget(t *testing.T) {
	h := newHost(t)
	th := h.run(t, `code { Main$() { Hold(); PrintString("done"); } }`)

	assert.Equal(t, Finished, th.State())
	assert.Equal(t, 0, th.Pending())
	require.Len(t, h.pending, 1)
	h.pending[0]()
	assert.Equal(t, Finished, th.State())
}

func TestStopMidWait(t *testing.T) {
	h := newHost(t)
	th := h.thread(t, h.compile(t, `code { Main$() { wait Hold(); PrintString("after"); } }`), "")

	require.Equal(t, Waiting, th.Run())
	th.Stop()
	assert.Equal(t, Stopped, th.State())

	h.pending[0]()
	assert.Equal(t, Stopped, th.State(), "late completions are ignored")
	assert.Equal(t, Stopped, th.Run())
	assert.Empty(t, h.printed)
}

func TestStringComparisonIgnoresCase(t *testing.T) {
	h := newHost(t)
	h.run(t, `
symbols { string s = "Gabe"; }
code {
	Main$() {
		if (s == "GABE") { PrintString("eq"); }
		if (s != "grace") { PrintString("ne"); }
	}
}`)
	assert.Equal(t, []string{"eq", "ne"}, h.printed)
}

func TestDivisionByZeroContinues(t *testing.T) {
	h := newHost(t)
	th := h.run(t, `
symbols { int i = 4; int z; float f = 1; }
code { Main$() { i = i / z; f = f / 0.0; PrintInt(i); } }`)
	assert.Equal(t, Finished, th.State())
	assert.Equal(t, []string{"0"}, h.printed)
}

func TestVoidResultBecomesZero(t *testing.T) {
	h := newHost(t)
	th := h.run(t, `symbols { float f = 9; } code { Main$() { f = Nothing(); } }`)
	require.Equal(t, Finished, th.State())
	f, _ := th.Variable("f")
	assert.Equal(t, Float(0), f)
}

func TestHostErrorEndsThread(t *testing.T) {
	h := newHost(t)
	th := h.run(t, `code { Main$() { Broken(); PrintString("unreachable"); } }`)

	assert.Equal(t, Errored, th.State())
	var rerr *RuntimeError
	require.True(t, errors.As(th.Err(), &rerr))
	assert.Equal(t, ErrorDispatch, rerr.Type)
	assert.Equal(t, "Main$", rerr.Function)
	assert.Contains(t, rerr.Error(), "device unplugged")
	assert.Empty(t, h.printed)
}

func TestEvaluateResult(t *testing.T) {
	h := newHost(t)
	res, err := compiler.CompileEvaluate("n$ + 1 == v$", compiler.Options{Hosts: h.reg})
	require.NoError(t, err)

	th := h.thread(t, res.Script, compiler.EvaluateFunction)
	require.NoError(t, th.SetVariable("n$", Int(2)))
	require.NoError(t, th.SetVariable("v$", Int(3)))
	require.Equal(t, Finished, th.Run())

	v, ok := th.Result()
	require.True(t, ok)
	assert.True(t, v.Truthy())

	assert.Error(t, th.SetVariable("n$", String("x")), "kind must match")
	assert.Error(t, th.SetVariable("missing", Int(1)))
}

func TestInstructionLimit(t *testing.T) {
	h := newHost(t)
	s := h.compile(t, `code { Main$() { spin: goto spin; } }`)
	th := h.thread(t, s, "", WithInstructionLimit(1000))

	require.Equal(t, Errored, th.Run())
	var rerr *RuntimeError
	require.True(t, errors.As(th.Err(), &rerr))
	assert.Equal(t, ErrorInstructionCap, rerr.Type)
}

// handScript wraps raw code in a script with one function and the given imports.
func handScript(code []byte, imports ...bytecode.Import) *bytecode.Script {
	pool := bytecode.NewStringPool()
	pool.Intern("x")
	return bytecode.New("hand", imports, pool, nil, []bytecode.Function{{Name: "F$", Offset: 0}}, code)
}

func op(o opcode.Op, operand ...uint32) []byte {
	b := []byte{byte(o)}
	if len(operand) > 0 {
		v := operand[0]
		b = append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return b
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestRuntimeFaults(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want ErrorType
	}{
		{"type mismatch", concat(op(opcode.PushS, 0), op(opcode.PushI, 1), op(opcode.AddI)), ErrorTypeMismatch},
		{"bad branch", concat(op(opcode.Branch, 0x1000)), ErrorBadBranch},
		{"bad opcode", []byte{0xEE}, ErrorBadOpcode},
		{"truncated operand", []byte{byte(opcode.PushI), 1}, ErrorBadOpcode},
		{"bad string offset", concat(op(opcode.PushS, 99)), ErrorBadOperand},
		{"unbound import", concat(op(opcode.PushI, 0), op(opcode.CallSysFunctionV, 3)), ErrorDispatch},
		{"condition not int", concat(op(opcode.PushF, 0), op(opcode.BranchIfZero, 0)), ErrorTypeMismatch},
		{"conversion depth", concat(op(opcode.PushI, 1), op(opcode.IToF, 4)), ErrorBadOperand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th, err := NewThread(1, handScript(append(tt.code, byte(opcode.ReturnV))), nil, "")
			require.NoError(t, err)
			require.Equal(t, Errored, th.Run())

			var rerr *RuntimeError
			require.True(t, errors.As(th.Err(), &rerr))
			assert.Equal(t, tt.want, rerr.Type)
			assert.True(t, rerr.IsFatal())
		})
	}
}

func TestUnderflowIsTolerated(t *testing.T) {
	code := concat(op(opcode.PushI, 1), op(opcode.AddI), op(opcode.Pop), op(opcode.Pop), op(opcode.NegateI), op(opcode.ReturnV))
	th, err := NewThread(1, handScript(code), nil, "")
	require.NoError(t, err)
	assert.Equal(t, Finished, th.Run())
}

func TestStackOverflow(t *testing.T) {
	code := concat(op(opcode.PushI, 1), op(opcode.Branch, 0))
	th, err := NewThread(1, handScript(code), nil, "", WithMaxStack(8))
	require.NoError(t, err)
	require.Equal(t, Errored, th.Run())

	var rerr *RuntimeError
	require.True(t, errors.As(th.Err(), &rerr))
	assert.Equal(t, ErrorStackOverflow, rerr.Type)
}

func TestRunOffTheEndFinishes(t *testing.T) {
	th, err := NewThread(1, handScript(op(opcode.PushI, 5)), nil, "")
	require.NoError(t, err)
	assert.Equal(t, Finished, th.Run())
	v, ok := th.Result()
	require.True(t, ok)
	assert.Equal(t, Int(5), v)
}

func TestNativeCountMustMatchImports(t *testing.T) {
	s := handScript(op(opcode.ReturnV), bytecode.Import{Name: "X"})
	_, err := NewThread(1, s, nil, "")
	assert.Error(t, err)
}
