package compiler

import (
	"fmt"
	"strings"

	"github.com/kromenak/gengine-sub002/pkg/compiler/builder"
)

// CompileError is a structured compile diagnostic with location information.
// Warnings use the same type with Severity set to builder.SeverityWarning.
type CompileError struct {
	// Phase indicates which part of the compiler raised the diagnostic:
	// "lexer", "parser", "semantic", "host" or "internal".
	Phase string

	Severity builder.Severity

	// Script is the name the script was compiled under.
	Script string

	// Section is "Symbols" or "Code"; empty when outside both.
	Section string

	// Message is the human-readable error description.
	Message string

	// Line is the 1-indexed line number where the error occurred.
	Line int

	// Column is the 1-indexed column number where the error occurred.
	Column int

	// Context contains the source code around the error location, with a
	// pointer (^) under the error column.
	Context string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	var b strings.Builder
	if e.Script != "" {
		b.WriteString(e.Script)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s %s at line %d, column %d", e.Phase, e.Severity, e.Line, e.Column)
	if e.Section != "" {
		fmt.Fprintf(&b, " in %s section", e.Section)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Context != "" {
		b.WriteString("\n")
		b.WriteString(e.Context)
	}
	return b.String()
}

// IsWarning reports whether the diagnostic is only a warning.
func (e *CompileError) IsWarning() bool {
	return e.Severity == builder.SeverityWarning
}

// ErrorList is the set of errors returned by a failed compile.
type ErrorList []*CompileError

// Error joins the messages of all entries.
func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d errors:\n%s", len(l), strings.Join(msgs, "\n"))
}

// Unwrap exposes the entries to errors.Is and errors.As.
func (l ErrorList) Unwrap() []error {
	errs := make([]error, len(l))
	for i, e := range l {
		errs[i] = e
	}
	return errs
}

// GenerateErrorContext generates source code context around an error location.
// It includes 2 lines before and 2 lines after the error line, with line numbers
// and a pointer (^) indicating the error column.
//
// Example output:
//
//	  2 | int x = 5;
//	  3 | int y = 10;
//	> 4 | int z = ;
//	    |         ^
//	  5 | int w = 20;
//	  6 | int v = 30;
func GenerateErrorContext(source string, line, column int) string {
	if source == "" || line <= 0 {
		return ""
	}

	lines := strings.Split(source, "\n")
	if line > len(lines) {
		return ""
	}

	start := max(line-3, 0)
	end := min(line+2, len(lines))
	lineNumWidth := len(fmt.Sprintf("%d", end))

	var buf strings.Builder
	for i := start; i < end; i++ {
		lineNum := i + 1
		content := strings.TrimRight(lines[i], "\r")

		if lineNum != line {
			fmt.Fprintf(&buf, "  %*d | %s\n", lineNumWidth, lineNum, content)
			continue
		}
		fmt.Fprintf(&buf, "> %*d | %s\n", lineNumWidth, lineNum, content)
		fmt.Fprintf(&buf, "  %*s | %s^\n", lineNumWidth, "", strings.Repeat(" ", max(column-1, 0)))
	}
	return buf.String()
}
