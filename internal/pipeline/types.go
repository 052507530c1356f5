package pipeline

import "time"

// Stage identifies one step of the generation pipeline. Stages are ordered;
// the three check/correct pairs form bounded cycles driven by the orchestrator.
type Stage string

const (
	StagePlan               Stage = "plan"
	StageDiscover           Stage = "discover"
	StageSelect             Stage = "select"
	StageDocument           Stage = "document"
	StageGenerate           Stage = "generate"
	StageValidateStatic     Stage = "validate-static"
	StageCorrectStatic      Stage = "correct-static"
	StageCheckRuntime       Stage = "check-runtime"
	StageCorrectRuntime     Stage = "correct-runtime"
	StageCheckDomainRules   Stage = "check-domain-rules"
	StageCorrectDomainRules Stage = "correct-domain-rules"
	StageFinalize           Stage = "finalize"
)

// stageOrder is the canonical forward sequence. Correction stages are not
// part of the forward path; the orchestrator enters them from their
// corresponding check stage and returns to it.
var stageOrder = []Stage{
	StagePlan,
	StageDiscover,
	StageSelect,
	StageDocument,
	StageGenerate,
	StageValidateStatic,
	StageCheckRuntime,
	StageCheckDomainRules,
	StageFinalize,
}

// Next returns the stage after s on the forward path, or "" if s is the
// last forward stage or not on the forward path at all.
func (s Stage) Next() Stage {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1]
		}
	}
	return ""
}

// CorrectionFor returns the correction stage paired with a check stage,
// or "" if the stage has no correction cycle.
func (s Stage) CorrectionFor() Stage {
	switch s {
	case StageValidateStatic:
		return StageCorrectStatic
	case StageCheckRuntime:
		return StageCorrectRuntime
	case StageCheckDomainRules:
		return StageCorrectDomainRules
	}
	return ""
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StagePlan, StageDiscover, StageSelect, StageDocument, StageGenerate,
		StageValidateStatic, StageCorrectStatic,
		StageCheckRuntime, StageCorrectRuntime,
		StageCheckDomainRules, StageCorrectDomainRules,
		StageFinalize:
		return true
	}
	return false
}

// Status is the lifecycle status of a run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusAborted    Status = "aborted"
)

// Run is the top-level persisted state for a single generation run.
// It is owned exclusively by the orchestrator driving it.
type Run struct {
	ID           string              `json:"id"`
	Title        string              `json:"title"`
	Request      string              `json:"request"`
	CurrentStage Stage               `json:"current_stage"`
	Status       Status              `json:"status"`
	Script       string              `json:"script,omitempty"`
	DesignDoc    string              `json:"design_doc,omitempty"`
	StageHistory []StageHistoryEntry `json:"stage_history"`
	Approval     *Approval           `json:"approval,omitempty"`
	CreatedAt    string              `json:"created_at"`
	UpdatedAt    string              `json:"updated_at"`
}

// StageHistoryEntry records the outcome of one completed stage.
type StageHistoryEntry struct {
	Stage    Stage  `json:"stage"`
	Outcome  string `json:"outcome"` // "success", "fail", "skipped"
	Duration string `json:"duration"`
	Attempts int    `json:"attempts,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Approval records an explicit accept-with-caveats decision for remaining
// domain-rule warnings. The rationale is surfaced to the caller, never
// silently dropped.
type Approval struct {
	Phase      string    `json:"phase"`
	Rationale  string    `json:"rationale"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ArtifactFile is one entry of the final output manifest: a file that was
// created or changed by this run, identified by content hash.
type ArtifactFile struct {
	Path string `json:"path"` // relative to the output directory
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// Manifest is the final artifact report for a run.
type Manifest struct {
	RunID     string         `json:"run_id"`
	Files     []ArtifactFile `json:"files"`
	Approval  *Approval      `json:"approval,omitempty"`
	Generated string         `json:"generated"`
}
