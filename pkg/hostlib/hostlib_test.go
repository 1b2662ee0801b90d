package hostlib

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/engine"
	"github.com/kromenak/gengine-sub002/pkg/vm"
)

func setup(t *testing.T) (*Library, *engine.Manager, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	lib := New(&out, WithSeed(7))
	reg := vm.NewRegistry()
	require.NoError(t, lib.Register(reg))
	return lib, engine.NewManager(reg), &out
}

func TestStringAndNumberHelpers(t *testing.T) {
	_, m, out := setup(t)
	s, err := m.Compile("helpers", `
symbols { string s; float f = 2.5; }
code {
	Main$() {
		s = StringConcat("count: ", IntToString(42));
		PrintString(s);
		PrintInt(StringLength(s));
		PrintFloat(f);
	}
}`)
	require.NoError(t, err)
	_, err = m.Execute(s, "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, "count: 42\n9\n2.5\n", out.String())
}

func TestRandStaysInRange(t *testing.T) {
	_, m, out := setup(t)
	s, err := m.Compile("rand", `
symbols { int i; }
code {
	Main$() {
	again:
		PrintInt(Rand(5, 3));
		i = i + 1;
		if (i < 50) { goto again; }
	}
}`)
	require.NoError(t, err)
	_, err = m.Execute(s, "", "", nil)
	require.NoError(t, err)

	lines := strings.Fields(out.String())
	require.Len(t, lines, 50)
	for _, l := range lines {
		assert.Contains(t, []string{"3", "4", "5"}, l)
	}
}

func TestDelayCompletesAfterFrames(t *testing.T) {
	lib, m, out := setup(t)
	s, err := m.Compile("delay", `
code {
	Main$() {
		PrintInt(GetFrameCount());
		wait Delay(3);
		PrintInt(GetFrameCount());
		wait Delay(0);
		PrintString("done");
	}
}`)
	require.NoError(t, err)

	finished := false
	_, err = m.Execute(s, "", "", func(vm.ThreadID, vm.State, error) { finished = true })
	require.NoError(t, err)
	assert.Equal(t, 1, lib.Pending())

	for i := 0; i < 2; i++ {
		lib.Tick()
		m.Update()
	}
	assert.Equal(t, "0\n", out.String())
	assert.False(t, finished)

	lib.Tick()
	m.Update()
	assert.Equal(t, "0\n3\ndone\n", out.String())
	assert.True(t, finished)
	assert.Equal(t, 0, lib.Pending())
	assert.Equal(t, int32(3), lib.Frame())
}

func TestRegisterStubs(t *testing.T) {
	reg := vm.NewRegistry()
	require.NoError(t, New(&bytes.Buffer{}).Register(reg))

	err := RegisterStubs(reg, []bytecode.Import{
		{Name: "SetLocation", Return: bytecode.Void, Params: []bytecode.Kind{bytecode.String}},
		{Name: "PrintString", Return: bytecode.Void, Params: []bytecode.Kind{bytecode.String}},
	}, nil)
	require.NoError(t, err)

	m := engine.NewManager(reg)
	s, err := m.Compile("stubs", `code { Main$() { SetLocation("R25"); } }`)
	require.NoError(t, err)
	_, err = m.Execute(s, "", "", nil)
	require.NoError(t, err)

	err = RegisterStubs(reg, []bytecode.Import{{Name: "Rand", Return: bytecode.Void}}, nil)
	assert.Error(t, err, "conflicting signatures are rejected")
}
