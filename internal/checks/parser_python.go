package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/circuitsmith/circuitsmith/internal/correction"
)

// PythonParser interprets the runtime execution of a generated script. Its
// main job is telling "script ran" apart from "script crashed with a
// traceback"; the two route to different correction paths.
type PythonParser struct{}

var (
	tracebackStartRe = regexp.MustCompile(`(?m)^Traceback \(most recent call last\):`)
	tracebackFrameRe = regexp.MustCompile(`(?m)^\s+File "(.+)", line (\d+)`)
	// Final exception line: "KeyError: 'R1'" or "skidl.ValueError: ..."
	exceptionRe = regexp.MustCompile(`(?m)^([\w.]+(?:Error|Exception|Warning|Interrupt|Exit))(?::\s*(.*))?$`)
)

func (p *PythonParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	combined := stdout + "\n" + stderr

	if tracebackStartRe.MatchString(combined) || exitCode != 0 {
		issue := correction.Issue{Severity: "error", Message: "script exited non-zero"}
		if m := exceptionRe.FindAllStringSubmatch(combined, -1); len(m) > 0 {
			last := m[len(m)-1]
			issue.Code = last[1]
			issue.Message = strings.TrimSpace(last[1] + ": " + last[2])
		}
		// Innermost frame names the failing line of the generated script.
		if frames := tracebackFrameRe.FindAllStringSubmatch(combined, -1); len(frames) > 0 {
			last := frames[len(frames)-1]
			issue.File = last[1]
			issue.Line, _ = strconv.Atoi(last[2])
		}
		return ParseResult{
			Crashed: true,
			Summary: issue.Message,
			Issues:  []correction.Issue{issue},
		}
	}

	return ParseResult{
		ErrorCount:   intPtr(0),
		WarningCount: intPtr(0),
		Summary:      "script ran to completion",
	}
}

// looksCrashed reports whether tool output indicates the process died
// before producing a report.
func looksCrashed(combined string, exitCode int) bool {
	if tracebackStartRe.MatchString(combined) {
		return true
	}
	// A non-zero exit with no recognizable report content at all.
	return exitCode != 0 && !strings.Contains(combined, "ERC")
}

func crashSummary(combined string, exitCode int) string {
	if m := exceptionRe.FindAllStringSubmatch(combined, -1); len(m) > 0 {
		last := m[len(m)-1]
		return strings.TrimSpace(last[1] + ": " + last[2])
	}
	return fmt.Sprintf("tool crashed before reporting (exit code %d)", exitCode)
}
