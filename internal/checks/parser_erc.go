package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/circuitsmith/circuitsmith/internal/correction"
)

// ERCParser parses electrical-rule-check output. ERC tools report their
// verdict as human-readable summary text rather than a meaningful exit
// code, so the counts are extracted from the text itself.
type ERCParser struct{}

// Summary lines: "2 errors found during ERC." / "1 warning found during ERC."
var (
	ercErrorSummaryRe = regexp.MustCompile(`(?m)^(\d+)\s+errors?\s+found during ERC`)
	ercWarnSummaryRe  = regexp.MustCompile(`(?m)^(\d+)\s+warnings?\s+found during ERC`)

	// Finding lines: "ERC ERROR: Insufficient drive current on net VCC."
	ercFindingRe = regexp.MustCompile(`(?m)^ERC (ERROR|WARNING):\s*(.+)$`)
)

func (p *ERCParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	combined := stdout + "\n" + stderr

	if looksCrashed(combined, exitCode) {
		return ParseResult{
			Crashed: true,
			Summary: crashSummary(combined, exitCode),
		}
	}

	var issues []correction.Issue
	for _, m := range ercFindingRe.FindAllStringSubmatch(combined, -1) {
		issues = append(issues, correction.Issue{
			Severity: strings.ToLower(m[1]),
			Message:  strings.TrimSpace(m[2]),
		})
	}

	errs, warns := -1, -1
	if m := ercErrorSummaryRe.FindStringSubmatch(combined); m != nil {
		errs, _ = strconv.Atoi(m[1])
	}
	if m := ercWarnSummaryRe.FindStringSubmatch(combined); m != nil {
		warns, _ = strconv.Atoi(m[1])
	}

	// Fallback when no summary line matched: count the marker lines we saw.
	if errs < 0 || warns < 0 {
		fe, fw := correction.Count(issues)
		if errs < 0 {
			errs = fe
		}
		if warns < 0 {
			warns = fw
		}
	}

	summary := fmt.Sprintf("%d errors, %d warnings", errs, warns)
	if errs == 0 && warns == 0 {
		summary = "ERC clean"
	}

	return ParseResult{
		ErrorCount:   intPtr(errs),
		WarningCount: intPtr(warns),
		Summary:      summary,
		Issues:       issues,
	}
}
