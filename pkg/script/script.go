// Package script loads Sheep script files from disk or any fs.FS.
//
// A .shp file is either Sheep source text or a compiled binary asset; the two are
// told apart by the asset magic. Source text that is not valid UTF-8 is decoded
// as Windows-1252, the encoding the original game data uses.
package script

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
)

// Extension is the file extension of Sheep scripts, source or compiled.
const Extension = ".shp"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Script is one loaded script file.
type Script struct {
	// Name is the file name without directory or extension.
	Name string
	// Path is the location the file was read from.
	Path string
	// Data is the raw file content.
	Data []byte
	// Content is the decoded source text; empty for compiled assets.
	Content string
	// Compiled reports whether Data is a binary asset.
	Compiled bool
}

// Loader reads scripts from a directory.
type Loader struct {
	fsys fs.FS
	dir  string
}

// NewLoader creates a Loader rooted at dir on the local file system.
func NewLoader(dir string) *Loader {
	return &Loader{fsys: os.DirFS(dir), dir: dir}
}

// NewLoaderFS creates a Loader reading from fsys, e.g. an embed.FS.
func NewLoaderFS(fsys fs.FS) *Loader {
	return &Loader{fsys: fsys, dir: "."}
}

// LoadAll loads every .shp file below the root, matching the extension
// case-insensitively.
func (l *Loader) LoadAll() ([]*Script, error) {
	files, err := l.findScriptFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to find script files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no script files found in %s", l.dir)
	}

	scripts := make([]*Script, 0, len(files))
	for _, p := range files {
		s, err := l.load(p)
		if err != nil {
			return nil, fmt.Errorf("failed to load script %s: %w", p, err)
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Load loads a script by name. The name is matched case-insensitively and the
// extension may be omitted.
func (l *Loader) Load(name string) (*Script, error) {
	if !strings.EqualFold(path.Ext(name), Extension) {
		name += Extension
	}
	p, err := findFileCaseInsensitive(l.fsys, path.Dir(name), path.Base(name))
	if err != nil {
		return nil, err
	}
	return l.load(p)
}

func (l *Loader) findScriptFiles() ([]string, error) {
	var files []string
	err := fs.WalkDir(l.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(path.Ext(p), Extension) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (l *Loader) load(p string) (*Script, error) {
	data, err := fs.ReadFile(l.fsys, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(filepath.Join(l.dir, filepath.FromSlash(p)), data)
}

// LoadFile reads a single script from the local file system.
func LoadFile(filename string) (*Script, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(filename, data)
}

// Parse classifies raw file data and decodes source text.
func Parse(filename string, data []byte) (*Script, error) {
	base := filepath.Base(filename)
	s := &Script{
		Name: strings.TrimSuffix(base, filepath.Ext(base)),
		Path: filename,
		Data: data,
	}
	if bytecode.IsAsset(data) {
		s.Compiled = true
		return s, nil
	}

	content, err := DecodeSource(data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert encoding: %w", err)
	}
	s.Content = content
	return s, nil
}

// DecodeSource returns data as UTF-8 text. A UTF-8 byte order mark is dropped;
// data that is not valid UTF-8 is decoded as Windows-1252.
func DecodeSource(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	return convertWindows1252ToUTF8(data)
}

func convertWindows1252ToUTF8(data []byte) (string, error) {
	decoder := charmap.Windows1252.NewDecoder()
	reader := transform.NewReader(bytes.NewReader(data), decoder)

	utf8Data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to decode Windows-1252: %w", err)
	}
	return string(utf8Data), nil
}

// findFileCaseInsensitive searches dir in fsys for filename ignoring case.
func findFileCaseInsensitive(fsys fs.FS, dir, filename string) (string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(entry.Name(), filename) {
			return path.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("file not found: %s (searched in %s): %w", filename, dir, fs.ErrNotExist)
}
