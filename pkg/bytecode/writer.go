package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Asset Format Constants
// ---------------------------------------------------------------------------

// Magic identifies a compiled Sheep asset.
const Magic = "GK3Sheep"

// FormatVersion is the asset format version written by Marshal.
const FormatVersion uint32 = 0x00010000

// fileHeaderSize is the fixed part of the header:
// magic(8) + version(4) + headerSize(4) + contentSize(4) + sectionCount(4).
const fileHeaderSize = 24

// sectionLabelSize is the width of the NUL-padded section label.
const sectionLabelSize = 12

// sectionFixedSize is label(12) + count(4) + dataOffset(4).
const sectionFixedSize = sectionLabelSize + 8

// Section labels in the order Marshal writes them.
const (
	SectionSysImports   = "SysImports"
	SectionStringConsts = "StringConsts"
	SectionVariables    = "Variables"
	SectionFunctions    = "Functions"
	SectionCode         = "Code"
)

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

// Marshal encodes the script into the persisted binary asset layout.
// The output is deterministic: Marshal(Unmarshal(Marshal(s))) equals Marshal(s).
func Marshal(s *Script) ([]byte, error) {
	imports, err := encodeImports(s.Imports)
	if err != nil {
		return nil, err
	}
	strs, err := encodeStrings(s.Strings)
	if err != nil {
		return nil, err
	}
	vars, err := encodeVariables(s.Variables)
	if err != nil {
		return nil, err
	}
	funcs, err := encodeFunctions(s.Functions)
	if err != nil {
		return nil, err
	}

	sections := [][]byte{
		encodeSection(SectionSysImports, imports),
		encodeSection(SectionStringConsts, strs),
		encodeSection(SectionVariables, vars),
		encodeSection(SectionFunctions, funcs),
		encodeSection(SectionCode, [][]byte{s.Code}),
	}

	headerSize := fileHeaderSize + 4*len(sections)
	contentSize := 0
	for _, sec := range sections {
		contentSize += len(sec)
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+contentSize))
	buf.WriteString(Magic)
	writeUint32(buf, FormatVersion)
	writeUint32(buf, uint32(headerSize))
	writeUint32(buf, uint32(contentSize))
	writeUint32(buf, uint32(len(sections)))

	offset := 0
	for _, sec := range sections {
		writeUint32(buf, uint32(offset))
		offset += len(sec)
	}
	for _, sec := range sections {
		buf.Write(sec)
	}
	return buf.Bytes(), nil
}

// WriteTo writes the binary asset form of s to w.
func (s *Script) WriteTo(w io.Writer) (int64, error) {
	data, err := Marshal(s)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// encodeSection lays out label, count, data offset, entry offset table and entries.
func encodeSection(label string, entries [][]byte) []byte {
	var buf bytes.Buffer

	var lbl [sectionLabelSize]byte
	copy(lbl[:], label)
	buf.Write(lbl[:])

	dataOffset := sectionFixedSize + 4*len(entries)
	writeUint32(&buf, uint32(len(entries)))
	writeUint32(&buf, uint32(dataOffset))

	offset := 0
	for _, e := range entries {
		writeUint32(&buf, uint32(offset))
		offset += len(e)
	}
	for _, e := range entries {
		buf.Write(e)
	}
	return buf.Bytes()
}

func encodeImports(imports []Import) ([][]byte, error) {
	entries := make([][]byte, 0, len(imports))
	for _, imp := range imports {
		if len(imp.Params) > 0xFF {
			return nil, fmt.Errorf("import %q: too many parameters (%d)", imp.Name, len(imp.Params))
		}
		var buf bytes.Buffer
		if err := writeName(&buf, imp.Name); err != nil {
			return nil, fmt.Errorf("import: %w", err)
		}
		buf.WriteByte(byte(imp.Return))
		buf.WriteByte(byte(len(imp.Params)))
		for _, p := range imp.Params {
			buf.WriteByte(byte(p))
		}
		entries = append(entries, buf.Bytes())
	}
	return entries, nil
}

func encodeStrings(pool *StringPool) ([][]byte, error) {
	if pool == nil {
		return nil, nil
	}
	entries := make([][]byte, 0, pool.Len())
	for _, e := range pool.Entries() {
		if strings.IndexByte(e.Value, 0) >= 0 {
			return nil, fmt.Errorf("string constant at offset %d contains a NUL byte", e.Offset)
		}
		b := make([]byte, 0, len(e.Value)+1)
		b = append(b, e.Value...)
		b = append(b, 0)
		entries = append(entries, b)
	}
	return entries, nil
}

func encodeVariables(vars []Variable) ([][]byte, error) {
	entries := make([][]byte, 0, len(vars))
	for _, v := range vars {
		var buf bytes.Buffer
		if err := writeName(&buf, v.Name); err != nil {
			return nil, fmt.Errorf("variable: %w", err)
		}
		writeUint32(&buf, uint32(v.Kind))
		writeUint32(&buf, variableBits(v))
		entries = append(entries, buf.Bytes())
	}
	return entries, nil
}

func encodeFunctions(funcs []Function) ([][]byte, error) {
	entries := make([][]byte, 0, len(funcs))
	for _, f := range funcs {
		var buf bytes.Buffer
		if err := writeName(&buf, f.Name); err != nil {
			return nil, fmt.Errorf("function: %w", err)
		}
		writeUint32(&buf, f.Offset)
		entries = append(entries, buf.Bytes())
	}
	return entries, nil
}

// variableBits returns the 4-byte payload of a variable default.
func variableBits(v Variable) uint32 {
	switch v.Kind {
	case Int:
		return uint32(v.Int)
	case Float:
		return math.Float32bits(v.Float)
	case String:
		return v.String
	}
	return 0
}

// writeName writes a u16 length (including terminator), the name and a NUL.
func writeName(buf *bytes.Buffer, name string) error {
	if len(name)+1 > 0xFFFF {
		return fmt.Errorf("name too long (%d bytes)", len(name))
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("name %q contains a NUL byte", name)
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(name)+1))
	buf.Write(b[:])
	buf.WriteString(name)
	buf.WriteByte(0)
	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
