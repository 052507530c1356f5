package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/circuitsmith/circuitsmith/internal/correction"
)

// StaticParser parses py_compile output for syntax-level validation of a
// generated script.
type StaticParser struct{}

// py_compile reports: File "gen.py", line 12 ... SyntaxError: invalid syntax
var (
	staticFileRe  = regexp.MustCompile(`File "(.+)", line (\d+)`)
	staticErrorRe = regexp.MustCompile(`(?m)^\s*(\w*Error):\s*(.*)$`)
)

func (p *StaticParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	if exitCode == 0 {
		return ParseResult{
			ErrorCount:   intPtr(0),
			WarningCount: intPtr(0),
			Summary:      "no syntax errors",
		}
	}

	combined := stdout + "\n" + stderr
	var issues []correction.Issue

	for _, m := range staticErrorRe.FindAllStringSubmatch(combined, -1) {
		issue := correction.Issue{
			Severity: "error",
			Code:     m[1],
			Message:  strings.TrimSpace(m[1] + ": " + m[2]),
		}
		if fm := staticFileRe.FindStringSubmatch(combined); fm != nil {
			issue.File = fm[1]
			issue.Line, _ = strconv.Atoi(fm[2])
		}
		issues = append(issues, issue)
	}

	if len(issues) == 0 {
		// Non-zero exit with no parseable error text: the compiler itself
		// failed rather than the script.
		return ParseResult{
			Crashed: true,
			Summary: fmt.Sprintf("validator exited %d without a report", exitCode),
		}
	}

	return ParseResult{
		ErrorCount:   intPtr(len(issues)),
		WarningCount: intPtr(0),
		Summary:      fmt.Sprintf("%d syntax errors", len(issues)),
		Issues:       issues,
	}
}
