// Package bytecode holds the compiled form of a Sheep script: the string constant pool,
// variable descriptors, function table, host import table and the bytecode blob.
//
// A Script is produced either by the compiler or by reading a persisted binary asset.
// It is immutable once built and may be executed by many VM threads at the same time.
package bytecode

import (
	"fmt"
	"sort"

	"golang.org/x/text/cases"
)

// Kind is the type tag shared by the compiler (as a static type) and the asset format.
type Kind uint8

const (
	Void Kind = iota
	Int
	Float
	String
)

// String returns the source-level spelling of the kind.
func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Numeric reports whether k is Int or Float.
func (k Kind) Numeric() bool {
	return k == Int || k == Float
}

// ParseKind parses a kind name as written in scripts and host manifests.
func ParseKind(s string) (Kind, error) {
	switch FoldName(s) {
	case "void", "":
		return Void, nil
	case "int":
		return Int, nil
	case "float":
		return Float, nil
	case "string":
		return String, nil
	}
	return Void, fmt.Errorf("unknown kind %q", s)
}

// FoldName returns the case-folded key used for every case-insensitive name lookup
// (functions, variables, labels and host functions).
func FoldName(name string) string {
	return cases.Fold().String(name)
}

// Import describes a host function referenced by the script.
type Import struct {
	Name   string
	Return Kind
	Params []Kind
}

// Signature renders the import as "ret Name(p1, p2)".
func (i Import) Signature() string {
	s := i.Return.String() + " " + i.Name + "("
	for n, p := range i.Params {
		if n > 0 {
			s += ", "
		}
		s += p.String()
	}
	return s + ")"
}

// Variable is a global variable descriptor with its default value.
// Only the field matching Kind is meaningful; String holds a pool offset.
type Variable struct {
	Name   string
	Kind   Kind
	Int    int32
	Float  float32
	String uint32
}

// Function is an entry point into the bytecode.
type Function struct {
	Name   string
	Offset uint32
}

// Script is a compiled Sheep script.
// All fields must be treated as read-only after construction.
type Script struct {
	Name      string
	Imports   []Import
	Strings   *StringPool
	Variables []Variable
	Functions []Function
	Code      []byte

	functionIndex map[string]int
	variableIndex map[string]int
}

// New assembles a Script and builds its name indexes.
func New(name string, imports []Import, strings *StringPool, variables []Variable, functions []Function, code []byte) *Script {
	if strings == nil {
		strings = NewStringPool()
	}
	s := &Script{
		Name:          name,
		Imports:       imports,
		Strings:       strings,
		Variables:     variables,
		Functions:     functions,
		Code:          code,
		functionIndex: make(map[string]int, len(functions)),
		variableIndex: make(map[string]int, len(variables)),
	}
	for i, f := range functions {
		key := FoldName(f.Name)
		if _, ok := s.functionIndex[key]; !ok {
			s.functionIndex[key] = i
		}
	}
	for i, v := range variables {
		key := FoldName(v.Name)
		if _, ok := s.variableIndex[key]; !ok {
			s.variableIndex[key] = i
		}
	}
	return s
}

// Function looks up an entry point by case-insensitive name.
func (s *Script) Function(name string) (Function, bool) {
	i, ok := s.functionIndex[FoldName(name)]
	if !ok {
		return Function{}, false
	}
	return s.Functions[i], true
}

// EntryOffset resolves the bytecode offset execution should start at.
// An empty name selects the first function in the table.
func (s *Script) EntryOffset(name string) (uint32, error) {
	if name == "" {
		if len(s.Functions) == 0 {
			return 0, fmt.Errorf("script %q has no functions", s.Name)
		}
		return s.Functions[0].Offset, nil
	}
	f, ok := s.Function(name)
	if !ok {
		return 0, fmt.Errorf("script %q has no function %q", s.Name, name)
	}
	return f.Offset, nil
}

// FunctionAt returns the function whose body contains offset, if any.
func (s *Script) FunctionAt(offset int) (Function, bool) {
	var best Function
	found := false
	for _, f := range s.Functions {
		if int(f.Offset) <= offset && (!found || f.Offset >= best.Offset) {
			best = f
			found = true
		}
	}
	return best, found
}

// VariableIndex looks up a global variable by case-insensitive name.
func (s *Script) VariableIndex(name string) (int, bool) {
	i, ok := s.variableIndex[FoldName(name)]
	return i, ok
}

// String returns the pooled string at offset.
func (s *Script) String(offset uint32) (string, bool) {
	return s.Strings.Lookup(offset)
}

// sortedFunctions returns the functions ordered by code offset.
func (s *Script) sortedFunctions() []Function {
	out := make([]Function, len(s.Functions))
	copy(out, s.Functions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// PoolEntry is a string stored in the pool at Offset.
type PoolEntry struct {
	Offset uint32
	Value  string
}

// StringPool interns string constants. Each entry's offset is the cumulative byte
// length of all earlier entries, counting one NUL terminator per entry.
type StringPool struct {
	entries  []PoolEntry
	byValue  map[string]uint32
	byOffset map[uint32]int
	size     uint32
}

// NewStringPool creates an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{
		byValue:  make(map[string]uint32),
		byOffset: make(map[uint32]int),
	}
}

// Intern returns the offset of s, adding it when not already present.
func (p *StringPool) Intern(s string) uint32 {
	if off, ok := p.byValue[s]; ok {
		return off
	}
	return p.append(s)
}

// append adds s without deduplication and returns its offset.
func (p *StringPool) append(s string) uint32 {
	off := p.size
	p.byOffset[off] = len(p.entries)
	if _, ok := p.byValue[s]; !ok {
		p.byValue[s] = off
	}
	p.entries = append(p.entries, PoolEntry{Offset: off, Value: s})
	p.size += uint32(len(s)) + 1
	return off
}

// Lookup returns the string stored at offset.
func (p *StringPool) Lookup(offset uint32) (string, bool) {
	i, ok := p.byOffset[offset]
	if !ok {
		return "", false
	}
	return p.entries[i].Value, true
}

// Entries returns the pool contents in offset order.
func (p *StringPool) Entries() []PoolEntry {
	out := make([]PoolEntry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Len returns the number of entries.
func (p *StringPool) Len() int {
	return len(p.entries)
}

// Size returns the encoded byte size of the pool.
func (p *StringPool) Size() uint32 {
	return p.size
}
