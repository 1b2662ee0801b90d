package vm

import (
	"fmt"
)

// ErrorType represents the type of runtime error.
type ErrorType string

const (
	// Fatal errors - the offending thread stops
	ErrorTypeMismatch   ErrorType = "TYPE_MISMATCH"
	ErrorDispatch       ErrorType = "DISPATCH"
	ErrorBadOpcode      ErrorType = "BAD_OPCODE"
	ErrorBadBranch      ErrorType = "BAD_BRANCH"
	ErrorBadOperand     ErrorType = "BAD_OPERAND"
	ErrorStackOverflow  ErrorType = "STACK_OVERFLOW"
	ErrorInstructionCap ErrorType = "INSTRUCTION_LIMIT"

	// Non-fatal errors - logged, execution continues
	ErrorStackUnderflow ErrorType = "STACK_UNDERFLOW"
	ErrorDivisionByZero ErrorType = "DIVISION_BY_ZERO"
)

// RuntimeError represents an error raised while a thread executes.
type RuntimeError struct {
	Type     ErrorType
	Message  string
	Script   string
	Function string
	PC       int // offset of the failing instruction, -1 when unknown
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.PC >= 0 && e.Function != "":
		return fmt.Sprintf("[%s] %s at %s:%s+%04X", e.Type, e.Message, e.Script, e.Function, e.PC)
	case e.PC >= 0:
		return fmt.Sprintf("[%s] %s at %s:%04X", e.Type, e.Message, e.Script, e.PC)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// IsFatal returns true if the error ends the thread.
func (e *RuntimeError) IsFatal() bool {
	switch e.Type {
	case ErrorStackUnderflow, ErrorDivisionByZero:
		return false
	default:
		return true
	}
}

// NewRuntimeError creates a new RuntimeError without location.
func NewRuntimeError(errType ErrorType, message string) *RuntimeError {
	return &RuntimeError{
		Type:    errType,
		Message: message,
		PC:      -1,
	}
}

// HostResolutionError reports host functions a script imports that the
// registry cannot satisfy.
type HostResolutionError struct {
	Script  string
	Missing []string
	// Mismatched lists imports whose registered signature differs.
	Mismatched []string
}

// Error implements the error interface.
func (e *HostResolutionError) Error() string {
	msg := fmt.Sprintf("script %q: unresolved host functions", e.Script)
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf("; not registered: %v", e.Missing)
	}
	if len(e.Mismatched) > 0 {
		msg += fmt.Sprintf("; signature mismatch: %v", e.Mismatched)
	}
	return msg
}
