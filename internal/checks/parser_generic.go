package checks

import (
	"fmt"
	"strings"

	"github.com/circuitsmith/circuitsmith/internal/correction"
)

// GenericParser is the fallback when no tool-specific parser applies: count
// lines carrying an ERROR/WARNING marker and trust the exit code for the
// verdict.
type GenericParser struct{}

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	combined := stdout + "\n" + stderr
	var issues []correction.Issue

	for _, line := range strings.Split(combined, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.Contains(upper, "ERROR"):
			issues = append(issues, correction.Issue{Severity: "error", Message: trimmed})
		case strings.Contains(upper, "WARNING"):
			issues = append(issues, correction.Issue{Severity: "warning", Message: trimmed})
		}
	}

	errs, warns := correction.Count(issues)
	if exitCode != 0 && errs == 0 {
		// Failed without a single marker line. Treat as a crash, not a
		// zero-error report.
		return ParseResult{
			Crashed: true,
			Summary: fmt.Sprintf("exit code %d with no parseable output", exitCode),
		}
	}

	summary := fmt.Sprintf("%d errors, %d warnings", errs, warns)
	if errs == 0 && warns == 0 {
		summary = fmt.Sprintf("passed (exit code %d)", exitCode)
	}

	return ParseResult{
		ErrorCount:   intPtr(errs),
		WarningCount: intPtr(warns),
		Summary:      summary,
		Issues:       issues,
	}
}
