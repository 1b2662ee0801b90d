package compiler

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/compiler/builder"
	"github.com/kromenak/gengine-sub002/pkg/opcode"
)

type signatures map[string]bytecode.Import

func (s signatures) Lookup(name string) (bytecode.Import, bool) {
	imp, ok := s[bytecode.FoldName(name)]
	return imp, ok
}

var hosts = signatures{
	"printstring": {Name: "PrintString", Return: bytecode.Void, Params: []bytecode.Kind{bytecode.String}},
	"delay":       {Name: "Delay", Return: bytecode.Void, Params: []bytecode.Kind{bytecode.Int}},
	"setname":     {Name: "SetName", Return: bytecode.Void, Params: []bytecode.Kind{bytecode.Int, bytecode.String}},
}

const goldenSource = `symbols
{
	int count = 2;
	float speed = 0.5;
	string who = "Gabe";
}

code
{
	Main$()
	{
		if (count > 1)
		{
			PrintString(who);
		}
		else
		{
			speed = speed * count;
		}
		wait Delay(3);
	}
}
`

func TestCompileDisassemblyGolden(t *testing.T) {
	res, err := Compile("golden", goldenSource, Options{Hosts: hosts})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "disasm_main", []byte(bytecode.Disassemble(res.Script)))
}

func TestCompileRoundTrip(t *testing.T) {
	res, err := Compile("roundtrip", `code { Main$() { 1; 2.5; "three"; return; } }`, Options{})
	require.NoError(t, err)

	data, err := bytecode.Marshal(res.Script)
	require.NoError(t, err)

	back, err := bytecode.Unmarshal("roundtrip", data)
	require.NoError(t, err)
	assert.Equal(t, res.Script.Code, back.Code)

	again, err := bytecode.Marshal(back)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, again))
}

func TestHostCallDiagnostics(t *testing.T) {
	t.Run("arity", func(t *testing.T) {
		_, err := Compile("t", `code { Main$() { SetName(1); } }`, Options{Hosts: hosts})
		require.Error(t, err)
		var list ErrorList
		require.True(t, errors.As(err, &list))
		require.Len(t, list, 1)
		assert.Contains(t, list[0].Message, "expects 2 argument(s)")
		assert.Equal(t, "semantic", list[0].Phase)
		assert.Equal(t, "Code", list[0].Section)
	})

	t.Run("string into int", func(t *testing.T) {
		_, err := Compile("t", `code { Main$() { SetName("a", "b"); } }`, Options{Hosts: hosts})
		require.Error(t, err)
		var ce *CompileError
		require.True(t, errors.As(err, &ce))
		assert.Contains(t, ce.Message, "argument 1")
	})

	t.Run("float into int warns", func(t *testing.T) {
		res, err := Compile("t", `code { Main$() { SetName(1.5, "b"); } }`, Options{Hosts: hosts})
		require.NoError(t, err)
		require.Len(t, res.Warnings, 1)
		assert.True(t, res.Warnings[0].IsWarning())
		assert.Contains(t, res.Warnings[0].Message, "precision loss")
	})

	t.Run("warnings as errors", func(t *testing.T) {
		_, err := Compile("t", `code { Main$() { SetName(1.5, "b"); } }`, Options{Hosts: hosts, WarningsAsErrors: true})
		require.Error(t, err)
	})

	t.Run("unregistered", func(t *testing.T) {
		_, err := Compile("t", `code { Main$() { Nope(); } }`, Options{Hosts: hosts})
		var ce *CompileError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "host", ce.Phase)
	})
}

func TestCompileErrorLocation(t *testing.T) {
	source := "symbols {\n\tint a;\n}\ncode {\n\tMain$() {\n\t\ta = 1 +;\n\t}\n}\n"
	_, err := Compile("broken", source, Options{})
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "parser", ce.Phase)
	assert.Equal(t, "broken", ce.Script)
	assert.Equal(t, "Code", ce.Section)
	assert.Equal(t, 6, ce.Line)
	assert.Equal(t, 10, ce.Column)
	assert.Contains(t, ce.Context, "> 6 |")
	assert.Contains(t, ce.Error(), "broken: parser error at line 6, column 10 in Code section")
}

func TestSemanticErrorsAreCollected(t *testing.T) {
	_, err := Compile("t", `symbols { int a; int A; } code { Main$() { b = 1; c = 2; } }`, Options{})
	require.Error(t, err)

	var list ErrorList
	require.True(t, errors.As(err, &list))
	require.Len(t, list, 3)
	assert.Equal(t, "Symbols", list[0].Section)
	assert.Equal(t, "Code", list[1].Section)

	_, err = Compile("t", `symbols { int a; int A; } code { }`, Options{DuplicateGlobals: builder.DuplicateIgnore})
	assert.NoError(t, err)
}

func TestCompileEvaluate(t *testing.T) {
	res, err := CompileEvaluate("1 == 1", Options{Hosts: hosts})
	require.NoError(t, err)
	assert.Equal(t, EvaluateScriptName, res.Script.Name)
	_, ok := res.Script.Function(EvaluateFunction)
	assert.True(t, ok)

	last, err := opcode.Decode(res.Script.Code, len(res.Script.Code)-2)
	require.NoError(t, err)
	assert.Equal(t, opcode.ReturnV, last.Op)

	_, err = CompileEvaluate("wait Foo()", Options{Hosts: hosts})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait is not allowed in evaluate mode")
}

func TestCompileFile(t *testing.T) {
	dir := t.TempDir()

	src := filepath.Join(dir, "Source.SHP")
	require.NoError(t, os.WriteFile(src, []byte(goldenSource), 0644))
	res, err := CompileFile(src, Options{Hosts: hosts})
	require.NoError(t, err)
	assert.Equal(t, "Source", res.Script.Name)

	data, err := bytecode.Marshal(res.Script)
	require.NoError(t, err)
	bin := filepath.Join(dir, "compiled.shp")
	require.NoError(t, os.WriteFile(bin, data, 0644))

	loaded, err := CompileFile(bin, Options{})
	require.NoError(t, err)
	assert.Equal(t, res.Script.Code, loaded.Script.Code)

	_, err = CompileFile(filepath.Join(dir, "missing.shp"), Options{})
	assert.Error(t, err)
}

func TestGenerateErrorContext(t *testing.T) {
	source := "line1\nline2\nline3\nline4\nline5\nline6"

	got := GenerateErrorContext(source, 4, 3)
	want := "  2 | line2\n  3 | line3\n> 4 | line4\n    |   ^\n  5 | line5\n  6 | line6\n"
	assert.Equal(t, want, got)

	assert.Equal(t, "> 1 | line1\n    | ^\n  2 | line2\n  3 | line3\n", GenerateErrorContext(source, 1, 1))
	assert.Empty(t, GenerateErrorContext(source, 10, 1))
	assert.Empty(t, GenerateErrorContext("", 1, 1))
}

func TestCodeSectionSemanticErrors(t *testing.T) {
	_, err := Compile("dup", "code { A$() { } A$() { } }", Options{})
	require.Error(t, err)

	var list ErrorList
	require.True(t, errors.As(err, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Code", list[0].Section)
	assert.Equal(t, 1, list[0].Line)
	assert.Equal(t, 17, list[0].Column)
	assert.Contains(t, list[0].Error(), "in Code section")
}

func TestCompileMinInt(t *testing.T) {
	res, err := Compile("min", "symbols { int m = -2147483648; } code { Main$() { m = -2147483648 + 0; } }", Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(-2147483648), res.Script.Variables[0].Int)
}
