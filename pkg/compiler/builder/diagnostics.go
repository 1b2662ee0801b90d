package builder

import "fmt"

// Severity classifies a diagnostic.
type Severity int

const (
	// SeverityWarning never fails a compile.
	SeverityWarning Severity = iota
	// SeverityError fails the compile once parsing finishes.
	SeverityError
)

// String returns the lower-case severity name.
func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Category names the class of problem a diagnostic reports.
type Category string

const (
	// CategorySemantic covers unknown identifiers, duplicate labels, bad operands and
	// call arity/type problems.
	CategorySemantic Category = "semantic"
	// CategoryHost is an unregistered host function referenced by the script.
	CategoryHost Category = "host"
	// CategoryInternal signals a builder invariant violation (unpatched branch).
	CategoryInternal Category = "internal"
)

// Diagnostic is a single error or warning raised while building.
type Diagnostic struct {
	Severity Severity
	Category Category
	// Function is the function being built, empty in the symbols section.
	Function string
	Line     int
	Column   int
	Message  string
}

// Error implements the error interface.
func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s %s at line %d, column %d: %s", d.Category, d.Severity, d.Line, d.Column, d.Message)
}

// Diagnostics is the ordered list of problems found during a build.
type Diagnostics []Diagnostic

// HasErrors reports whether any entry has error severity.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the error-severity entries.
func (ds Diagnostics) Errors() Diagnostics {
	return ds.filter(SeverityError)
}

// Warnings returns the warning-severity entries.
func (ds Diagnostics) Warnings() Diagnostics {
	return ds.filter(SeverityWarning)
}

func (ds Diagnostics) filter(s Severity) Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Severity == s {
			out = append(out, d)
		}
	}
	return out
}
