package correction

import (
	"time"
)

// Phase is one of the three bounded correction categories.
type Phase string

const (
	PhaseStatic  Phase = "static"
	PhaseRuntime Phase = "runtime"
	PhaseDomain  Phase = "domain"
)

// DefaultMaxAttempts bounds each correction phase.
const DefaultMaxAttempts = 3

// Attempt is one immutable entry of the correction ledger.
type Attempt struct {
	Phase       Phase     `json:"phase"`
	Number      int       `json:"number"`
	Issues      []Issue   `json:"issues"`
	Fingerprint string    `json:"fingerprint"`
	Corrections []string  `json:"corrections,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Approval marks remaining warnings in a phase as explicitly accepted.
type Approval struct {
	Rationale  string    `json:"rationale"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Context tracks correction attempts per phase for one run and decides
// whether another attempt is warranted. The ledger is append-only: attempts
// are never edited or removed, so the full history stays auditable and the
// stagnation check compares true history rather than a summary.
//
// A Context is owned by a single run and is not safe for concurrent use.
type Context struct {
	maxAttempts int
	attempts    map[Phase][]Attempt
	approvals   map[Phase]*Approval
}

// NewContext creates a Context with the given per-phase attempt bound.
// Values <= 0 fall back to DefaultMaxAttempts.
func NewContext(maxAttempts int) *Context {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Context{
		maxAttempts: maxAttempts,
		attempts:    make(map[Phase][]Attempt),
		approvals:   make(map[Phase]*Approval),
	}
}

// MaxAttempts returns the per-phase attempt bound.
func (c *Context) MaxAttempts() int {
	return c.maxAttempts
}

// RecordAttempt appends an attempt for a phase. Issues are normalized
// before storage so the ledger holds the same representation the
// stagnation check compares.
func (c *Context) RecordAttempt(phase Phase, issues []Issue, corrections []string) {
	norm := Normalize(issues)
	c.attempts[phase] = append(c.attempts[phase], Attempt{
		Phase:       phase,
		Number:      len(c.attempts[phase]) + 1,
		Issues:      norm,
		Fingerprint: Fingerprint(norm),
		Corrections: corrections,
		RecordedAt:  time.Now().UTC(),
	})
}

// AttemptCount returns the number of recorded attempts for a phase.
func (c *Context) AttemptCount(phase Phase) int {
	return len(c.attempts[phase])
}

// Attempts returns a copy of the ledger for a phase.
func (c *Context) Attempts(phase Phase) []Attempt {
	src := c.attempts[phase]
	out := make([]Attempt, len(src))
	copy(out, src)
	return out
}

// Latest returns the most recent attempt for a phase, or nil if none.
func (c *Context) Latest(phase Phase) *Attempt {
	src := c.attempts[phase]
	if len(src) == 0 {
		return nil
	}
	a := src[len(src)-1]
	return &a
}

// ShouldContinue reports whether another correction attempt is warranted
// for a phase. It returns false once the attempt count reaches the bound,
// or when the latest issue set is structurally identical to the one before
// it: stagnation, no point retrying an unchanged failure.
func (c *Context) ShouldContinue(phase Phase) bool {
	attempts := c.attempts[phase]
	if len(attempts) >= c.maxAttempts {
		return false
	}
	if len(attempts) >= 2 {
		last := attempts[len(attempts)-1]
		prev := attempts[len(attempts)-2]
		if last.Fingerprint == prev.Fingerprint {
			return false
		}
	}
	return true
}

// HasNoIssues reports whether the latest attempt for a phase recorded zero
// errors and zero warnings. False if no attempt has been recorded.
func (c *Context) HasNoIssues(phase Phase) bool {
	last := c.Latest(phase)
	if last == nil {
		return false
	}
	return len(last.Issues) == 0
}

// Approve marks the remaining warnings of a phase as explicitly accepted.
// This is a deliberate override, distinct from an absence of problems, and
// the rationale is kept for the caller.
func (c *Context) Approve(phase Phase, rationale string) {
	c.approvals[phase] = &Approval{
		Rationale:  rationale,
		RecordedAt: time.Now().UTC(),
	}
}

// ApprovedWithCaveats reports whether the phase was explicitly approved
// despite remaining warnings.
func (c *Context) ApprovedWithCaveats(phase Phase) bool {
	return c.approvals[phase] != nil
}

// ApprovalFor returns the recorded approval for a phase, or nil.
func (c *Context) ApprovalFor(phase Phase) *Approval {
	return c.approvals[phase]
}
