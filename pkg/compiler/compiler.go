// Package compiler provides the compilation pipeline for Sheep scripts.
//
// Source text flows through the lexer into the parser, which drives the
// Script Builder directly; the builder's tables and bytecode become a
// bytecode.Script. This package provides a unified API:
//   - Compile: compiles a script with symbols and code sections
//   - CompileEvaluate: compiles a single boolean expression for evaluate mode
//   - CompileFile: loads a .shp file (source or compiled asset) and compiles it
package compiler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/compiler/builder"
	"github.com/kromenak/gengine-sub002/pkg/compiler/lexer"
	"github.com/kromenak/gengine-sub002/pkg/compiler/parser"
	"github.com/kromenak/gengine-sub002/pkg/logger"
	"github.com/kromenak/gengine-sub002/pkg/script"
)

// EvaluateFunction is the name of the function CompileEvaluate generates.
const EvaluateFunction = "Evaluate$"

// EvaluateScriptName is the script name used for evaluate-mode compiles.
const EvaluateScriptName = "__Evaluate__"

// Options configures a compile.
type Options struct {
	// Hosts resolves host function signatures. Usually a *vm.Registry.
	Hosts builder.Signatures

	// DuplicateGlobals selects how re-declared globals are handled.
	DuplicateGlobals builder.DuplicatePolicy

	// WarningsAsErrors fails the compile on any warning.
	WarningsAsErrors bool

	// Logger receives warnings. Defaults to logger.GetLogger().
	Logger *slog.Logger
}

// Result is a successful compile.
type Result struct {
	Script   *bytecode.Script
	Warnings []*CompileError
}

// Compile compiles Sheep source text into a script named name.
// On failure the error is an ErrorList holding every error found; lexical and
// syntax errors stop compilation at the first one.
func Compile(name, source string, opts Options) (*Result, error) {
	return compile(name, source, opts, (*parser.Parser).ParseScript)
}

// CompileEvaluate compiles an evaluate-mode expression. The expression must
// be an int, may use the int globals n$ and v$, and may not wait.
func CompileEvaluate(source string, opts Options) (*Result, error) {
	return compile(EvaluateScriptName, source, opts, func(p *parser.Parser) error {
		return p.ParseEvaluate(EvaluateFunction)
	})
}

// CompileFile loads a .shp file. Source files are compiled; compiled assets are
// decoded directly without running the front end.
func CompileFile(path string, opts Options) (*Result, error) {
	s, err := script.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if s.Compiled {
		compiled, err := bytecode.Unmarshal(s.Name, s.Data)
		if err != nil {
			return nil, err
		}
		return &Result{Script: compiled}, nil
	}
	return Compile(s.Name, s.Content, opts)
}

func compile(name, source string, opts Options, parse func(*parser.Parser) error) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	b := builder.New(name, opts.Hosts, builder.WithDuplicateGlobals(opts.DuplicateGlobals))
	if err := parse(parser.New(lexer.New(source), b)); err != nil {
		var perr *parser.Error
		if errors.As(err, &perr) {
			return nil, ErrorList{&CompileError{
				Phase:    perr.Phase,
				Severity: builder.SeverityError,
				Script:   name,
				Section:  string(perr.Section),
				Message:  perr.Message,
				Line:     perr.Line,
				Column:   perr.Column,
				Context:  GenerateErrorContext(source, perr.Line, perr.Column),
			}}
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	compiled, buildErr := b.Build()

	var errs ErrorList
	var warnings []*CompileError
	for _, d := range b.Diagnostics() {
		ce := fromDiagnostic(name, source, d)
		if ce.IsWarning() {
			log.Warn("compile warning", "script", name, "line", d.Line, "column", d.Column, "message", d.Message)
			if !opts.WarningsAsErrors {
				warnings = append(warnings, ce)
				continue
			}
			ce.Severity = builder.SeverityError
		}
		errs = append(errs, ce)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if buildErr != nil {
		return nil, buildErr
	}

	log.Debug("compiled script", "script", name,
		"functions", len(compiled.Functions), "variables", len(compiled.Variables),
		"imports", len(compiled.Imports), "code_bytes", len(compiled.Code))
	return &Result{Script: compiled, Warnings: warnings}, nil
}

func fromDiagnostic(name, source string, d builder.Diagnostic) *CompileError {
	section := string(parser.SectionSymbols)
	if d.Function != "" {
		section = string(parser.SectionCode)
	}
	return &CompileError{
		Phase:    string(d.Category),
		Severity: d.Severity,
		Script:   name,
		Section:  section,
		Message:  d.Message,
		Line:     d.Line,
		Column:   d.Column,
		Context:  GenerateErrorContext(source, d.Line, d.Column),
	}
}
