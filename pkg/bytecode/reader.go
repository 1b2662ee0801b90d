package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Asset Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic    = errors.New("invalid magic: expected " + Magic)
	ErrVersionMismatch = errors.New("asset version mismatch")
	ErrCorruptHeader   = errors.New("corrupt asset header")
	ErrCorruptSection  = errors.New("corrupt asset section")
	ErrUnexpectedEOF   = errors.New("unexpected end of asset data")
)

// IsAsset reports whether data starts with the compiled asset magic.
func IsAsset(data []byte) bool {
	return len(data) >= len(Magic) && string(data[:len(Magic)]) == Magic
}

// ReadFrom reads a complete binary asset from r.
func ReadFrom(name string, r io.Reader) (*Script, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", name, err)
	}
	return Unmarshal(name, data)
}

// Unmarshal decodes a persisted binary asset into a Script.
// Sections may appear in any order; unknown sections are skipped.
func Unmarshal(name string, data []byte) (*Script, error) {
	r := &reader{data: data}
	s, err := r.read()
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", name, err)
	}
	return New(name, s.imports, s.strings, s.variables, s.functions, s.code), nil
}

// ---------------------------------------------------------------------------
// reader
// ---------------------------------------------------------------------------

type reader struct {
	data []byte

	imports   []Import
	strings   *StringPool
	variables []Variable
	functions []Function
	code      []byte
}

// section is a parsed section header with its entries sliced out.
type section struct {
	label   string
	entries [][]byte
}

func (r *reader) read() (*reader, error) {
	if len(r.data) < fileHeaderSize {
		return nil, ErrCorruptHeader
	}
	if !IsAsset(r.data) {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, string(r.data[:len(Magic)]))
	}

	version := readUint32(r.data[8:])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: expected 0x%08X, got 0x%08X", ErrVersionMismatch, FormatVersion, version)
	}
	headerSize := int(readUint32(r.data[12:]))
	contentSize := int(readUint32(r.data[16:]))
	sectionCount := int(readUint32(r.data[20:]))

	if sectionCount < 0 || headerSize != fileHeaderSize+4*sectionCount {
		return nil, fmt.Errorf("%w: header size %d does not fit %d sections", ErrCorruptHeader, headerSize, sectionCount)
	}
	if headerSize > len(r.data) || contentSize < 0 || headerSize+contentSize != len(r.data) {
		return nil, fmt.Errorf("%w: header %d + content %d != file size %d", ErrCorruptHeader, headerSize, contentSize, len(r.data))
	}

	content := r.data[headerSize:]
	offsets := make([]int, sectionCount)
	for i := range offsets {
		offsets[i] = int(readUint32(r.data[fileHeaderSize+4*i:]))
		if offsets[i] > contentSize {
			return nil, fmt.Errorf("%w: section %d offset %d beyond content", ErrCorruptHeader, i, offsets[i])
		}
	}

	// A section ends where the next one (by offset) begins.
	ends := sectionEnds(offsets, contentSize)

	r.strings = NewStringPool()
	for i, off := range offsets {
		sec, err := parseSection(content[off:ends[i]])
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		if err := r.apply(sec); err != nil {
			return nil, fmt.Errorf("section %s: %w", sec.label, err)
		}
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func sectionEnds(offsets []int, contentSize int) []int {
	sorted := make([]int, len(offsets))
	copy(sorted, offsets)
	sort.Ints(sorted)

	ends := make([]int, len(offsets))
	for i, off := range offsets {
		ends[i] = contentSize
		j := sort.SearchInts(sorted, off+1)
		if j < len(sorted) {
			ends[i] = sorted[j]
		}
	}
	return ends
}

func parseSection(b []byte) (*section, error) {
	if len(b) < sectionFixedSize {
		return nil, fmt.Errorf("%w: section header truncated", ErrUnexpectedEOF)
	}
	sec := &section{label: strings.TrimRight(string(b[:sectionLabelSize]), "\x00")}
	count := int(readUint32(b[sectionLabelSize:]))
	dataOffset := int(readUint32(b[sectionLabelSize+4:]))

	if count < 0 || sectionFixedSize+4*count > len(b) || dataOffset < sectionFixedSize+4*count || dataOffset > len(b) {
		return nil, fmt.Errorf("%w: %s count %d data offset %d", ErrCorruptSection, sec.label, count, dataOffset)
	}

	data := b[dataOffset:]
	entryOffsets := make([]int, count)
	for i := range entryOffsets {
		entryOffsets[i] = int(readUint32(b[sectionFixedSize+4*i:]))
	}
	for i, off := range entryOffsets {
		end := len(data)
		if i+1 < count {
			end = entryOffsets[i+1]
		}
		if off > end || end > len(data) {
			return nil, fmt.Errorf("%w: %s entry %d out of bounds", ErrCorruptSection, sec.label, i)
		}
		sec.entries = append(sec.entries, data[off:end])
	}
	return sec, nil
}

func (r *reader) apply(sec *section) error {
	switch sec.label {
	case SectionSysImports:
		for i, e := range sec.entries {
			imp, err := decodeImport(e)
			if err != nil {
				return fmt.Errorf("import %d: %w", i, err)
			}
			r.imports = append(r.imports, imp)
		}
	case SectionStringConsts:
		for i, e := range sec.entries {
			if len(e) == 0 || e[len(e)-1] != 0 {
				return fmt.Errorf("%w: string %d not NUL-terminated", ErrCorruptSection, i)
			}
			r.strings.append(string(e[:len(e)-1]))
		}
	case SectionVariables:
		for i, e := range sec.entries {
			v, err := decodeVariable(e)
			if err != nil {
				return fmt.Errorf("variable %d: %w", i, err)
			}
			r.variables = append(r.variables, v)
		}
	case SectionFunctions:
		for i, e := range sec.entries {
			f, err := decodeFunction(e)
			if err != nil {
				return fmt.Errorf("function %d: %w", i, err)
			}
			r.functions = append(r.functions, f)
		}
	case SectionCode:
		for _, e := range sec.entries {
			r.code = append(r.code, e...)
		}
	}
	return nil
}

// validate checks cross-section references once every section is loaded.
func (r *reader) validate() error {
	for _, v := range r.variables {
		if v.Kind == String {
			if _, ok := r.strings.Lookup(v.String); !ok {
				return fmt.Errorf("%w: variable %q references missing string offset %d", ErrCorruptSection, v.Name, v.String)
			}
		}
	}
	for _, f := range r.functions {
		if int(f.Offset) >= len(r.code) {
			return fmt.Errorf("%w: function %q offset %d beyond code (len %d)", ErrCorruptSection, f.Name, f.Offset, len(r.code))
		}
	}
	return nil
}

func decodeImport(b []byte) (Import, error) {
	name, rest, err := readName(b)
	if err != nil {
		return Import{}, err
	}
	if len(rest) < 2 {
		return Import{}, ErrUnexpectedEOF
	}
	imp := Import{Name: name, Return: Kind(rest[0])}
	argc := int(rest[1])
	if len(rest) < 2+argc {
		return Import{}, ErrUnexpectedEOF
	}
	if imp.Return > String {
		return Import{}, fmt.Errorf("%w: bad return kind %d", ErrCorruptSection, rest[0])
	}
	imp.Params = make([]Kind, argc)
	for i := 0; i < argc; i++ {
		k := Kind(rest[2+i])
		if k == Void || k > String {
			return Import{}, fmt.Errorf("%w: bad parameter kind %d", ErrCorruptSection, rest[2+i])
		}
		imp.Params[i] = k
	}
	return imp, nil
}

func decodeVariable(b []byte) (Variable, error) {
	name, rest, err := readName(b)
	if err != nil {
		return Variable{}, err
	}
	if len(rest) < 8 {
		return Variable{}, ErrUnexpectedEOF
	}
	v := Variable{Name: name, Kind: Kind(readUint32(rest))}
	bits := readUint32(rest[4:])
	switch v.Kind {
	case Int:
		v.Int = int32(bits)
	case Float:
		v.Float = math.Float32frombits(bits)
	case String:
		v.String = bits
	default:
		return Variable{}, fmt.Errorf("%w: bad variable kind %d", ErrCorruptSection, v.Kind)
	}
	return v, nil
}

func decodeFunction(b []byte) (Function, error) {
	name, rest, err := readName(b)
	if err != nil {
		return Function{}, err
	}
	if len(rest) < 4 {
		return Function{}, ErrUnexpectedEOF
	}
	return Function{Name: name, Offset: readUint32(rest)}, nil
}

// readName reads a u16 length-prefixed, NUL-terminated name.
func readName(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, ErrUnexpectedEOF
	}
	n := int(binary.LittleEndian.Uint16(b))
	if n == 0 || len(b) < 2+n {
		return "", nil, ErrUnexpectedEOF
	}
	raw := b[2 : 2+n]
	if raw[n-1] != 0 {
		return "", nil, fmt.Errorf("%w: name not NUL-terminated", ErrCorruptSection)
	}
	return string(raw[:n-1]), b[2+n:], nil
}

func readUint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
