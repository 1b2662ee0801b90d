package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kromenak/gengine-sub002/pkg/opcode"
)

// sampleScript builds a small script by hand:
//
//	symbols { int count = 7; float speed = 1.5; string who = "Gabe"; }
//	code { Main$() { PrintString("hello"); } }
func sampleScript() *Script {
	pool := NewStringPool()
	gabe := pool.Intern("Gabe")
	hello := pool.Intern("hello")

	code := []byte{
		byte(opcode.PushS), byte(hello), 0, 0, 0,
		byte(opcode.PushI), 1, 0, 0, 0,
		byte(opcode.CallSysFunctionV), 0, 0, 0, 0,
		byte(opcode.Pop),
		byte(opcode.ReturnV),
		byte(opcode.SitnSpin),
	}
	return New("sample",
		[]Import{{Name: "PrintString", Return: Void, Params: []Kind{String}}},
		pool,
		[]Variable{
			{Name: "count", Kind: Int, Int: 7},
			{Name: "speed", Kind: Float, Float: 1.5},
			{Name: "who", Kind: String, String: gabe},
		},
		[]Function{{Name: "Main$", Offset: 0}},
		code,
	)
}

func TestStringPoolOffsets(t *testing.T) {
	pool := NewStringPool()

	assert.Equal(t, uint32(0), pool.Intern("abc"))
	assert.Equal(t, uint32(4), pool.Intern("de"))
	assert.Equal(t, uint32(0), pool.Intern("abc"), "duplicates are interned once")
	assert.Equal(t, uint32(7), pool.Intern(""))
	assert.Equal(t, uint32(8), pool.Intern("x"))
	assert.Equal(t, uint32(10), pool.Size())
	assert.Equal(t, 4, pool.Len())

	s, ok := pool.Lookup(4)
	require.True(t, ok)
	assert.Equal(t, "de", s)

	_, ok = pool.Lookup(5)
	assert.False(t, ok, "offsets inside an entry do not resolve")
}

func TestScriptLookups(t *testing.T) {
	s := sampleScript()

	f, ok := s.Function("MAIN$")
	require.True(t, ok, "function lookup is case-insensitive")
	assert.Equal(t, uint32(0), f.Offset)

	off, err := s.EntryOffset("")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), off)

	_, err = s.EntryOffset("Missing$")
	assert.Error(t, err)

	idx, ok := s.VariableIndex("SPEED")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestMarshalRoundTrip(t *testing.T) {
	s := sampleScript()

	data, err := Marshal(s)
	require.NoError(t, err)
	require.True(t, IsAsset(data))

	back, err := Unmarshal("sample", data)
	require.NoError(t, err)

	assert.Equal(t, s.Code, back.Code)
	assert.Equal(t, s.Imports, back.Imports)
	assert.Equal(t, s.Variables, back.Variables)
	assert.Equal(t, s.Functions, back.Functions)
	assert.Equal(t, s.Strings.Entries(), back.Strings.Entries())

	again, err := Marshal(back)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, again), "re-serialization must be byte-identical")
}

func TestMarshalHeaderLayout(t *testing.T) {
	data, err := Marshal(sampleScript())
	require.NoError(t, err)

	assert.Equal(t, Magic, string(data[:8]))
	assert.Equal(t, FormatVersion, binary.LittleEndian.Uint32(data[8:]))
	headerSize := binary.LittleEndian.Uint32(data[12:])
	contentSize := binary.LittleEndian.Uint32(data[16:])
	sectionCount := binary.LittleEndian.Uint32(data[20:])

	assert.Equal(t, uint32(5), sectionCount)
	assert.Equal(t, uint32(fileHeaderSize+4*5), headerSize)
	assert.Equal(t, len(data), int(headerSize+contentSize))

	// The first section starts right after the header and is labelled SysImports.
	first := binary.LittleEndian.Uint32(data[24:])
	assert.Equal(t, uint32(0), first)
	assert.Equal(t, "SysImports\x00\x00", string(data[headerSize:headerSize+12]))
}

func TestUnmarshalErrors(t *testing.T) {
	good, err := Marshal(sampleScript())
	require.NoError(t, err)

	t.Run("short header", func(t *testing.T) {
		_, err := Unmarshal("x", good[:10])
		assert.True(t, errors.Is(err, ErrCorruptHeader))
	})

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		copy(bad, "NotSheep")
		_, err := Unmarshal("x", bad)
		assert.True(t, errors.Is(err, ErrInvalidMagic))
	})

	t.Run("bad version", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		binary.LittleEndian.PutUint32(bad[8:], 99)
		_, err := Unmarshal("x", bad)
		assert.True(t, errors.Is(err, ErrVersionMismatch))
	})

	t.Run("truncated content", func(t *testing.T) {
		_, err := Unmarshal("x", good[:len(good)-3])
		assert.True(t, errors.Is(err, ErrCorruptHeader))
	})

	t.Run("section offset out of range", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		binary.LittleEndian.PutUint32(bad[24:], 0xFFFFFF)
		_, err := Unmarshal("x", bad)
		assert.True(t, errors.Is(err, ErrCorruptHeader))
	})
}

func TestUnmarshalSkipsUnknownSections(t *testing.T) {
	s := sampleScript()
	data, err := Marshal(s)
	require.NoError(t, err)

	// Rename the Variables section label; the reader must ignore it.
	idx := bytes.Index(data, []byte("Variables\x00"))
	require.Greater(t, idx, 0)
	copy(data[idx:], "Unknownxx")

	back, err := Unmarshal("sample", data)
	require.NoError(t, err)
	assert.Empty(t, back.Variables)
	assert.Equal(t, s.Code, back.Code)
}

func TestKindParsing(t *testing.T) {
	tests := map[string]Kind{"int": Int, "FLOAT": Float, "String": String, "void": Void, "": Void}
	for in, want := range tests {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseKind("bool")
	assert.Error(t, err)
}

// TestPropertyRoundTrip checks that arbitrary pools, variables and code survive
// serialization byte-for-byte.
func TestPropertyRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Marshal(Unmarshal(Marshal(s))) == Marshal(s)", prop.ForAll(
		func(strs []string, ints []int32, code []byte) bool {
			pool := NewStringPool()
			for _, str := range strs {
				pool.Intern(str)
			}
			vars := make([]Variable, len(ints))
			for i, v := range ints {
				vars[i] = Variable{Name: "v" + string(rune('a'+i%26)), Kind: Int, Int: v}
			}
			code = append(code, byte(opcode.ReturnV))
			s := New("prop", nil, pool, vars, []Function{{Name: "F$", Offset: 0}}, code)

			data, err := Marshal(s)
			if err != nil {
				return false
			}
			back, err := Unmarshal("prop", data)
			if err != nil {
				return false
			}
			again, err := Marshal(back)
			if err != nil {
				return false
			}
			return bytes.Equal(data, again) && bytes.Equal(code, back.Code)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int32()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
