package sandbox

import (
	"errors"
	"fmt"
)

// ViolationKind names the category of construct the analyzer rejected
type ViolationKind string

// Violation kinds reported by Analyze
const (
	ViolationImport    ViolationKind = "import-blocked"
	ViolationAttribute ViolationKind = "attribute-blocked"
	ViolationName      ViolationKind = "name-blocked"
	ViolationCall      ViolationKind = "call-blocked"
)

// Pipeline stages returned by Stage
const (
	StageSyntax    = "syntax"
	StageSafety    = "safety"
	StageExecution = "execution"
)

// SyntaxError reports SourceText that does not parse. Nothing was executed.
type SyntaxError struct {
	Msg  string
	Line int
	Col  int
	// Token is the word found at the failure position, if any.
	Token string
	// Text is the rest of the source line from the failure position.
	Text string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax-error: %d:%d: %s", e.Line, e.Col, e.Msg)
}

// SafetyViolation reports SourceText that parsed but contains a denied
// construct. Nothing was executed.
//
// The checks are syntactic: a banned builtin reached through an alias or an
// attribute of an injected object is not detected here. The closed builtin
// table is what keeps such paths harmless.
type SafetyViolation struct {
	Kind   ViolationKind
	Detail string
	Line   int
	Col    int
}

func (e *SafetyViolation) Error() string {
	return fmt.Sprintf("%s: %d:%d: %s", e.Kind, e.Line, e.Col, e.Detail)
}

// ExecutionError reports an uncaught error raised while running vetted code.
// Output produced before the failure is discarded.
type ExecutionError struct {
	Message   string
	Backtrace string
	cause     error
}

func (e *ExecutionError) Error() string {
	return "execution error: " + e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.cause
}

// Stage reports which pipeline stage produced err: StageSyntax, StageSafety,
// StageExecution, or "" for nil and unrelated errors.
func Stage(err error) string {
	var synErr *SyntaxError
	var violation *SafetyViolation
	var execErr *ExecutionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &synErr):
		return StageSyntax
	case errors.As(err, &violation):
		return StageSafety
	case errors.As(err, &execErr):
		return StageExecution
	default:
		return ""
	}
}
