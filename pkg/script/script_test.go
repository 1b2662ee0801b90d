package script

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
)

func TestFindScriptFiles_CaseInsensitive(t *testing.T) {
	tmpDir := t.TempDir()

	testFiles := []string{
		"test.shp",
		"script.SHP",
		"helper.Shp",
		"other.txt",
	}
	for _, filename := range testFiles {
		filePath := filepath.Join(tmpDir, filename)
		if err := os.WriteFile(filePath, []byte("code { }"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
	}

	loader := NewLoader(tmpDir)
	scriptFiles, err := loader.findScriptFiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scriptFiles) != 3 {
		t.Errorf("expected 3 script files, got %d", len(scriptFiles))
	}
	for _, file := range scriptFiles {
		if filepath.Base(file) == "other.txt" {
			t.Error("other.txt should not be detected as a script file")
		}
	}
}

func TestLoadAll(t *testing.T) {
	fsys := fstest.MapFS{
		"a.shp":        {Data: []byte("code { A$() { } }")},
		"sub/B.SHP":    {Data: []byte("code { B$() { } }")},
		"readme.txt":   {Data: []byte("ignored")},
		"compiled.shp": {Data: append([]byte(bytecode.Magic), make([]byte, 16)...)},
	}

	scripts, err := NewLoaderFS(fsys).LoadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scripts) != 3 {
		t.Fatalf("expected 3 scripts, got %d", len(scripts))
	}

	byName := map[string]*Script{}
	for _, s := range scripts {
		byName[s.Name] = s
	}
	if s := byName["B"]; s == nil || s.Content != "code { B$() { } }" {
		t.Errorf("B not loaded correctly: %+v", s)
	}
	if s := byName["compiled"]; s == nil || !s.Compiled || s.Content != "" {
		t.Errorf("compiled asset not detected: %+v", s)
	}
}

func TestLoadAll_NoScripts(t *testing.T) {
	_, err := NewLoaderFS(fstest.MapFS{"x.txt": {}}).LoadAll()
	if err == nil {
		t.Fatal("expected error for directory without scripts")
	}
}

func TestLoad_CaseInsensitive(t *testing.T) {
	fsys := fstest.MapFS{
		"Scripts/GAB_101.SHP": {Data: []byte("code { }")},
	}
	loader := NewLoaderFS(fsys)

	s, err := loader.Load("Scripts/gab_101")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name != "GAB_101" {
		t.Errorf("expected name GAB_101, got %q", s.Name)
	}

	_, err = loader.Load("Scripts/missing.shp")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestDecodeSource(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"ascii", []byte("int a;"), "int a;"},
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, "int a;"...), "int a;"},
		{"utf8", []byte("\"café\""), "\"café\""},
		{"windows-1252", []byte{'"', 'c', 'a', 'f', 0xE9, '"'}, "\"café\""},
		{"windows-1252 quotes", []byte{0x93, 'h', 'i', 0x94}, "“hi”"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSource(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Test.shp")
	if err := os.WriteFile(path, []byte{'/', '/', 0xE9}, 0644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name != "Test" || s.Compiled || s.Content != "//é" {
		t.Errorf("unexpected script: %+v", s)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "none.shp")); err == nil {
		t.Error("expected error for missing file")
	}
}
