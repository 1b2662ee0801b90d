// Package config loads runtime settings from TOML and host function
// manifests from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/compiler/builder"
)

// Duration is a time.Duration written as a string such as "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds the runtime settings.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Compiler CompilerConfig `toml:"compiler"`
	Runtime  RuntimeConfig  `toml:"runtime"`
	Cache    CacheConfig    `toml:"cache"`
	Hosts    HostsConfig    `toml:"hosts"`
}

type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

type CompilerConfig struct {
	DuplicateGlobals string `toml:"duplicate_globals"` // error or ignore
	WarningsAsErrors bool   `toml:"warnings_as_errors"`
}

type RuntimeConfig struct {
	FrameRate        int      `toml:"frame_rate"`
	Timeout          Duration `toml:"timeout"` // zero waits forever
	MaxStack         int      `toml:"max_stack"`
	InstructionLimit int      `toml:"instruction_limit"`
}

type CacheConfig struct {
	Path string `toml:"path"` // sqlite file; empty disables the cache
}

type HostsConfig struct {
	Manifest string `toml:"manifest"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Log:      LogConfig{Level: "info"},
		Compiler: CompilerConfig{DuplicateGlobals: "error"},
		Runtime:  RuntimeConfig{FrameRate: 60, MaxStack: 1024},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults, without environment overrides.
func Parse(text string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(text, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies SHEEP_LOG_LEVEL and SHEEP_TIMEOUT.
func (c *Config) applyEnv() error {
	if level := os.Getenv("SHEEP_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
	if timeout := os.Getenv("SHEEP_TIMEOUT"); timeout != "" {
		if err := c.Runtime.Timeout.UnmarshalText([]byte(timeout)); err != nil {
			return fmt.Errorf("invalid SHEEP_TIMEOUT %q: %w", timeout, err)
		}
	}
	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if _, err := c.DuplicatePolicy(); err != nil {
		return err
	}
	if c.Runtime.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive, got %d", c.Runtime.FrameRate)
	}
	if c.Runtime.Timeout.Duration < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", c.Runtime.Timeout.Duration)
	}
	if c.Runtime.MaxStack < 0 || c.Runtime.InstructionLimit < 0 {
		return fmt.Errorf("max_stack and instruction_limit must be non-negative")
	}
	return nil
}

// DuplicatePolicy returns the compiler's duplicate global policy.
func (c *Config) DuplicatePolicy() (builder.DuplicatePolicy, error) {
	return builder.ParseDuplicatePolicy(c.Compiler.DuplicateGlobals)
}

// FrameInterval returns the time between frames.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.Runtime.FrameRate)
}

// HostDecl is one entry of a host function manifest.
type HostDecl struct {
	Name    string   `yaml:"name"`
	Returns string   `yaml:"returns"`
	Params  []string `yaml:"params"`
}

// Manifest lists host function signatures.
type Manifest struct {
	Functions []HostDecl `yaml:"functions"`
}

// LoadManifest reads a YAML host function manifest.
func LoadManifest(path string) ([]bytecode.Import, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	imports, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return imports, nil
}

// ParseManifest decodes manifest YAML into import descriptors.
func ParseManifest(data []byte) ([]bytecode.Import, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	imports := make([]bytecode.Import, 0, len(m.Functions))
	for i, f := range m.Functions {
		if f.Name == "" {
			return nil, fmt.Errorf("function %d has no name", i+1)
		}
		ret, err := bytecode.ParseKind(f.Returns)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", f.Name, err)
		}
		imp := bytecode.Import{Name: f.Name, Return: ret, Params: make([]bytecode.Kind, len(f.Params))}
		for j, p := range f.Params {
			k, err := bytecode.ParseKind(p)
			if err != nil || k == bytecode.Void {
				return nil, fmt.Errorf("function %s: invalid parameter %d type %q", f.Name, j+1, p)
			}
			imp.Params[j] = k
		}
		imports = append(imports, imp)
	}
	return imports, nil
}
