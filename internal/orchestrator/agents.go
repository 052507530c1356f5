package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/circuitsmith/circuitsmith/internal/correction"
	"github.com/circuitsmith/circuitsmith/internal/pipeline"
	"github.com/circuitsmith/circuitsmith/internal/prompt"
)

// PlanResult is the structured output of the plan stage.
type PlanResult struct {
	Summary      string   `json:"summary"`
	Steps        []string `json:"steps"`
	Requirements []string `json:"requirements,omitempty"`
}

// PartRef names a candidate part found during discovery.
type PartRef struct {
	Library string `json:"library"`
	Name    string `json:"name"`
	Notes   string `json:"notes,omitempty"`
}

// DiscoveryResult is the structured output of the discover stage.
type DiscoveryResult struct {
	Libraries []string  `json:"libraries"`
	Parts     []PartRef `json:"parts"`
}

// Component is one selected component with its assigned reference.
type Component struct {
	Ref     string `json:"ref"`
	Library string `json:"library"`
	Part    string `json:"part"`
	Value   string `json:"value,omitempty"`
}

// SelectionResult is the structured output of the select stage.
type SelectionResult struct {
	Components []Component `json:"components"`
	Rationale  string      `json:"rationale,omitempty"`
}

// DesignDoc is the structured output of the document stage.
type DesignDoc struct {
	Markdown string `json:"markdown"`
}

// GeneratedScript is the structured output of the generate stage.
type GeneratedScript struct {
	Script string `json:"script"`
	Notes  string `json:"notes,omitempty"`
}

// CorrectionResult is the structured output of any correction stage. A
// corrector either returns a revised script or, in the domain-rule phase,
// may instead approve the remaining warnings with a rationale.
type CorrectionResult struct {
	Script      string   `json:"script"`
	Corrections []string `json:"corrections,omitempty"`
	Approved    bool     `json:"approved,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
}

func (o *Orchestrator) plan(ctx context.Context, run *pipeline.Run) (*PlanResult, error) {
	instructions, err := prompt.Build(prompt.Plan, nil)
	if err != nil {
		return nil, err
	}
	var out PlanResult
	input := map[string]any{"request": run.Request}
	if err := o.agents.Execute(ctx, instructions, input, &out); err != nil {
		return nil, err
	}
	if out.Summary == "" {
		return nil, fmt.Errorf("plan stage returned an empty summary")
	}
	o.savePayload(run.ID, pipeline.StagePlan, 1, "plan.json", out)
	return &out, nil
}

func (o *Orchestrator) discover(ctx context.Context, run *pipeline.Run, plan *PlanResult) (*DiscoveryResult, error) {
	instructions, err := prompt.Build(prompt.Discover, nil)
	if err != nil {
		return nil, err
	}
	var out DiscoveryResult
	input := map[string]any{"request": run.Request, "plan": plan}
	if err := o.agents.Execute(ctx, instructions, input, &out); err != nil {
		return nil, err
	}
	o.savePayload(run.ID, pipeline.StageDiscover, 1, "discovery.json", out)
	return &out, nil
}

func (o *Orchestrator) selectComponents(ctx context.Context, run *pipeline.Run, plan *PlanResult, disc *DiscoveryResult) (*SelectionResult, error) {
	instructions, err := prompt.Build(prompt.Select, nil)
	if err != nil {
		return nil, err
	}
	var out SelectionResult
	input := map[string]any{"plan": plan, "discovery": disc}
	if err := o.agents.Execute(ctx, instructions, input, &out); err != nil {
		return nil, err
	}
	if len(out.Components) == 0 {
		return nil, fmt.Errorf("select stage returned no components")
	}
	o.savePayload(run.ID, pipeline.StageSelect, 1, "selection.json", out)
	return &out, nil
}

func (o *Orchestrator) document(ctx context.Context, run *pipeline.Run, plan *PlanResult, sel *SelectionResult) (*DesignDoc, error) {
	instructions, err := prompt.Build(prompt.Document, nil)
	if err != nil {
		return nil, err
	}
	var out DesignDoc
	input := map[string]any{"plan": plan, "selection": sel}
	if err := o.agents.Execute(ctx, instructions, input, &out); err != nil {
		return nil, err
	}
	o.savePayload(run.ID, pipeline.StageDocument, 1, "design.json", out)
	return &out, nil
}

func (o *Orchestrator) generate(ctx context.Context, run *pipeline.Run, doc *DesignDoc, sel *SelectionResult) (*GeneratedScript, error) {
	instructions, err := prompt.Build(prompt.Generate, prompt.Vars{
		"output_dir": o.cfg.Container.OutputDir,
	})
	if err != nil {
		return nil, err
	}
	var out GeneratedScript
	input := map[string]any{
		"design":    doc,
		"selection": sel,
	}
	if err := o.agents.Execute(ctx, instructions, input, &out); err != nil {
		return nil, err
	}
	if out.Script == "" {
		return nil, fmt.Errorf("generate stage returned an empty script")
	}
	o.savePayload(run.ID, pipeline.StageGenerate, 1, "script.json", out)
	return &out, nil
}

// correct invokes the corrector for one phase. The correction stage is
// supplied by the caller because phase and stage can diverge: a crashed
// rule check runs the runtime corrector from within the domain loop.
func (o *Orchestrator) correct(ctx context.Context, run *pipeline.Run, phase correction.Phase, stage pipeline.Stage, attempt int, issues []correction.Issue) (*CorrectionResult, error) {
	var name string
	switch phase {
	case correction.PhaseStatic:
		name = prompt.CorrectStatic
	case correction.PhaseRuntime:
		name = prompt.CorrectRuntime
	case correction.PhaseDomain:
		name = prompt.CorrectDomain
	default:
		return nil, fmt.Errorf("unknown correction phase %q", phase)
	}
	instructions, err := prompt.Build(name, nil)
	if err != nil {
		return nil, err
	}

	var out CorrectionResult
	input := map[string]any{
		"script": run.Script,
		"issues": issues,
	}
	if err := o.agents.Execute(ctx, instructions, input, &out); err != nil {
		return nil, err
	}
	if out.Approved && phase != correction.PhaseDomain {
		return nil, fmt.Errorf("approval is only valid for the domain-rule phase")
	}
	if out.Approved && out.Rationale == "" {
		return nil, fmt.Errorf("approval without rationale")
	}
	if !out.Approved && out.Script == "" {
		return nil, fmt.Errorf("correction returned neither a script nor an approval")
	}
	o.savePayload(run.ID, stage, attempt, "correction.json", out)
	return &out, nil
}

// savePayload persists a structured agent payload for audit. Best effort;
// a failed save never fails the stage.
func (o *Orchestrator) savePayload(runID string, stage pipeline.Stage, attempt int, name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	_ = o.store.SaveStagePayload(runID, stage, attempt, name, data)
}
