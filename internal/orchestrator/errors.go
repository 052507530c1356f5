package orchestrator

import (
	"fmt"

	"github.com/circuitsmith/circuitsmith/internal/correction"
	"github.com/circuitsmith/circuitsmith/internal/pipeline"
)

// ValidationError reports static-check failures that survived the
// correction loop.
type ValidationError struct {
	Issues []correction.Issue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("static validation failed with %d issues", len(e.Issues))
}

// RuntimeExecutionError reports that the generated script crashed when
// executed. Distinct from ValidationError because the root causes, and
// hence the repair strategy, differ.
type RuntimeExecutionError struct {
	Issues []correction.Issue
}

func (e *RuntimeExecutionError) Error() string {
	return fmt.Sprintf("script execution failed with %d issues", len(e.Issues))
}

// DomainRuleError reports rule-checker findings that were neither fixed
// nor explicitly approved.
type DomainRuleError struct {
	Errors   int
	Warnings int
	Issues   []correction.Issue
}

func (e *DomainRuleError) Error() string {
	return fmt.Sprintf("rule check failed: %d errors, %d warnings", e.Errors, e.Warnings)
}

// Loop-exit reasons recorded on a PipelineError.
const (
	ReasonMaxAttempts  = "max_attempts"
	ReasonStagnation   = "stagnation"
	ReasonSafetyCap    = "safety_cap"
	ReasonCollaborator = "collaborator"
	ReasonCancelled    = "cancelled"
)

// PipelineError is the umbrella fatal error surfaced to the caller. It
// carries the phase and final issue set so a failure is diagnosable, and
// flags warnings that were present but never approved, since "broken" and
// "technically passing but flagged" are different outcomes.
type PipelineError struct {
	RunID              string
	Stage              pipeline.Stage
	Phase              correction.Phase
	Reason             string
	Issues             []correction.Issue
	WarningsUnapproved bool
	Err                error
}

func (e *PipelineError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("pipeline failed at stage %s (phase %s, %s): %v", e.Stage, e.Phase, e.Reason, e.Err)
	}
	return fmt.Sprintf("pipeline failed at stage %s (%s): %v", e.Stage, e.Reason, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
