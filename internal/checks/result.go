package checks

import (
	"github.com/circuitsmith/circuitsmith/internal/correction"
)

// ParseResult holds the interpreted output of one tool run.
//
// Crashed means the tool died before reporting anything (a traceback, a
// killed process); in that case ErrorCount and WarningCount are nil, since
// "no count reported" is a different fact than "zero reported", and the
// orchestrator routes crashes to the runtime-correction path rather than
// the domain-rule path.
type ParseResult struct {
	Crashed      bool               `json:"crashed"`
	ErrorCount   *int               `json:"error_count,omitempty"`
	WarningCount *int               `json:"warning_count,omitempty"`
	Summary      string             `json:"summary"`
	Issues       []correction.Issue `json:"issues,omitempty"`
}

// Clean reports whether the tool ran and found nothing.
func (p ParseResult) Clean() bool {
	if p.Crashed {
		return false
	}
	return count(p.ErrorCount) == 0 && count(p.WarningCount) == 0
}

func count(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

// ExecutionResult is the typed outcome of one command run inside a
// container session, raw output plus its interpretation.
type ExecutionResult struct {
	Succeeded bool        `json:"succeeded"`
	ExitCode  int         `json:"exit_code"`
	Stdout    string      `json:"stdout,omitempty"`
	Stderr    string      `json:"stderr,omitempty"`
	Parse     ParseResult `json:"parse"`
}

// Parser converts raw command output into a ParseResult.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) ParseResult
}

// ParserFor returns the parser registered under name, falling back to the
// generic parser for unknown names.
func ParserFor(name string) Parser {
	switch name {
	case "erc":
		return &ERCParser{}
	case "python":
		return &PythonParser{}
	case "static":
		return &StaticParser{}
	}
	return &GenericParser{}
}

func intPtr(n int) *int {
	return &n
}
